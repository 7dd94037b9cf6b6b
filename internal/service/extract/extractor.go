package extract

import (
	"context"
	"sync/atomic"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/zhouzirui/genchat/backend/internal/logging"
	"github.com/zhouzirui/genchat/backend/internal/model/chat"
)

// DefaultRetryLimit is the total number of model calls per extraction.
const DefaultRetryLimit = 2

// Predictor runs a single non-streaming completion.
type Predictor interface {
	Predict(ctx context.Context, messages []chat.Message) (string, error)
}

// Extractor turns free text into a flat string map of a caller-chosen shape,
// feeding the model its own malformed output plus a correction until the
// result validates or the attempt budget runs out.
type Extractor struct {
	predictor  Predictor
	retryLimit int
	logger     *zap.Logger

	loading atomic.Bool
	failed  atomic.Bool
}

// Option configures an Extractor.
type Option func(*Extractor)

// WithRetryLimit sets the total number of model calls. Values below 1 are
// ignored.
func WithRetryLimit(n int) Option {
	return func(e *Extractor) {
		if n >= 1 {
			e.retryLimit = n
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(e *Extractor) { e.logger = logging.OrNop(l).Named("extract") }
}

func NewExtractor(predictor Predictor, opts ...Option) *Extractor {
	e := &Extractor{
		predictor:  predictor,
		retryLimit: DefaultRetryLimit,
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Loading reports whether an extraction is in progress.
func (e *Extractor) Loading() bool { return e.loading.Load() }

// IsError reports whether the last extraction failed.
func (e *Extractor) IsError() bool { return e.failed.Load() }

// Extract asks the model to express text as a JSON object matching format.
// On failure the result is nil and IsError reports true until the next call.
func (e *Extractor) Extract(ctx context.Context, text, contextText string, format Format) (map[string]string, error) {
	if err := format.Validate(); err != nil {
		e.failed.Store(true)
		return nil, err
	}

	e.loading.Store(true)
	defer e.loading.Store(false)
	e.failed.Store(false)

	messages := []chat.Message{
		{Role: chat.RoleSystem, Content: systemPrompt(contextText, format)},
		{Role: chat.RoleUser, Content: text},
	}

	for attempt := 1; ; attempt++ {
		raw, err := e.predictor.Predict(ctx, messages)
		if err != nil {
			e.failed.Store(true)
			e.logger.Warn("predict failed", zap.Int("attempt", attempt), zap.Error(err))
			return nil, errors.Wrap(err, "predict")
		}

		result, err := parse(raw, format)
		if err == nil {
			e.logger.Debug("extraction succeeded", zap.Int("attempt", attempt))
			return result, nil
		}

		var formatErr *FormatError
		if !errors.As(err, &formatErr) || raw == "" {
			e.failed.Store(true)
			e.logger.Warn("extraction failed", zap.Int("attempt", attempt), zap.Error(err))
			return nil, err
		}
		if attempt >= e.retryLimit {
			e.failed.Store(true)
			e.logger.Warn("extraction gave up", zap.Int("attempts", attempt), zap.Error(err))
			return nil, errors.Wrapf(err, "no valid output after %d attempts", attempt)
		}

		e.logger.Info("retrying with correction", zap.Int("attempt", attempt), zap.String("reason", formatErr.Reason))
		messages = append(messages,
			chat.Message{Role: chat.RoleAssistant, Content: raw},
			chat.Message{Role: chat.RoleUser, Content: formatErr.Message},
		)
	}
}
