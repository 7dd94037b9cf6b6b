package transport

import (
	"context"
	"errors"
	"fmt"

	"github.com/cloudwego/eino/schema"
	"go.uber.org/zap"

	"github.com/zhouzirui/genchat/backend/internal/logging"
	"github.com/zhouzirui/genchat/backend/internal/model/chat"
)

// ErrModelUnavailable is returned for generation calls when no model is
// configured.
var ErrModelUnavailable = errors.New("text generation unavailable")

// Model is the text-generation side of the transport.
type Model interface {
	Predict(ctx context.Context, messages []chat.Message) (string, error)
	PredictStream(ctx context.Context, messages []chat.Message) (*schema.StreamReader[string], error)
	PredictTitle(ctx context.Context, messages []chat.Message) (string, error)
}

// Backend is the persistence side of the transport.
type Backend interface {
	CreateConversation(ctx context.Context) (chat.Conversation, error)
	RecordMessages(ctx context.Context, conversationID string, messages []chat.Message) ([]chat.Message, error)
	FindConversation(ctx context.Context, conversationID string) (chat.Conversation, error)
	ListMessages(ctx context.Context, conversationID string) ([]chat.Message, error)
	UpdateFeedback(ctx context.Context, conversationID string, feedback chat.Feedback) (chat.Message, error)
	UpdateTitle(ctx context.Context, conversationID, title string) (chat.Conversation, error)
	DeleteConversation(ctx context.Context, conversationID string) error
}

// Adapter joins a Model and a Backend into the single transport the chat
// engine and the extractor talk to.
type Adapter struct {
	model   Model
	backend Backend
	logger  *zap.Logger
}

// New creates an Adapter. model may be nil, in which case generation calls
// fail with ErrModelUnavailable while persistence keeps working.
func New(model Model, backend Backend, logger *zap.Logger) *Adapter {
	return &Adapter{
		model:   model,
		backend: backend,
		logger:  logging.OrNop(logger).Named("transport"),
	}
}

// ModelAvailable reports whether generation calls can succeed.
func (a *Adapter) ModelAvailable() bool {
	return a.model != nil
}

// Available reports whether v can generate text. Non-nil values that do not
// report availability are assumed to be able to.
func Available(v any) bool {
	if v == nil {
		return false
	}
	a, ok := v.(interface{ ModelAvailable() bool })
	return !ok || a.ModelAvailable()
}

func (a *Adapter) CreateConversation(ctx context.Context) (chat.Conversation, error) {
	return a.backend.CreateConversation(ctx)
}

func (a *Adapter) RecordMessages(ctx context.Context, conversationID string, messages []chat.Message) ([]chat.Message, error) {
	recorded, err := a.backend.RecordMessages(ctx, conversationID, messages)
	if err != nil {
		return nil, err
	}
	if len(recorded) != len(messages) {
		return nil, fmt.Errorf("backend recorded %d of %d messages", len(recorded), len(messages))
	}
	a.logger.Debug("recorded messages", zap.String("conversation", conversationID), zap.Int("count", len(recorded)))
	return recorded, nil
}

func (a *Adapter) StreamReply(ctx context.Context, messages []chat.Message) (*schema.StreamReader[string], error) {
	if a.model == nil {
		return nil, ErrModelUnavailable
	}
	return a.model.PredictStream(ctx, messages)
}

// Predict runs a single-shot completion.
func (a *Adapter) Predict(ctx context.Context, messages []chat.Message) (string, error) {
	if a.model == nil {
		return "", ErrModelUnavailable
	}
	return a.model.Predict(ctx, messages)
}

// InferTitle generates a title for the conversation and stores it on the
// backend.
func (a *Adapter) InferTitle(ctx context.Context, conversation chat.Conversation, messages []chat.Message) (string, error) {
	if a.model == nil {
		return "", ErrModelUnavailable
	}

	title, err := a.model.PredictTitle(ctx, messages)
	if err != nil {
		return "", err
	}

	updated, err := a.backend.UpdateTitle(ctx, conversation.ID, title)
	if err != nil {
		return "", err
	}
	return updated.Title, nil
}

func (a *Adapter) UpdateFeedback(ctx context.Context, conversationID string, feedback chat.Feedback) (chat.Message, error) {
	return a.backend.UpdateFeedback(ctx, conversationID, feedback)
}

func (a *Adapter) ListMessages(ctx context.Context, conversationID string) ([]chat.Message, error) {
	return a.backend.ListMessages(ctx, conversationID)
}

func (a *Adapter) FindConversation(ctx context.Context, conversationID string) (chat.Conversation, error) {
	return a.backend.FindConversation(ctx, conversationID)
}

func (a *Adapter) DeleteConversation(ctx context.Context, conversationID string) error {
	return a.backend.DeleteConversation(ctx, conversationID)
}
