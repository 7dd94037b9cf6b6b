package rag

import (
	"context"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/zhouzirui/genchat/backend/internal/logging"
	"github.com/zhouzirui/genchat/backend/internal/model/chat"
	chatService "github.com/zhouzirui/genchat/backend/internal/service/chat"
)

// DefaultLimit is the number of documents placed in the system context.
const DefaultLimit = 5

// RetrievingNotice is shown as the assistant message while documents are
// being looked up.
const RetrievingNotice = "[Retrieving reference documents...]"

// Predictor runs a single non-streaming completion.
type Predictor interface {
	Predict(ctx context.Context, messages []chat.Message) (string, error)
}

// Service answers a view's questions from retrieved documents. Every turn
// first derives a search query from the user's questions so far, then swaps
// the session's system context for the retrieved references.
type Service struct {
	predictor Predictor
	retriever Retriever
	limit     int
	logger    *zap.Logger
}

type Option func(*Service)

// WithLimit caps the number of retrieved documents. Values below 1 are
// ignored.
func WithLimit(n int) Option {
	return func(s *Service) {
		if n >= 1 {
			s.limit = n
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(s *Service) { s.logger = logging.OrNop(l).Named("rag") }
}

func NewService(predictor Predictor, retriever Retriever, opts ...Option) *Service {
	s := &Service{
		predictor: predictor,
		retriever: retriever,
		limit:     DefaultLimit,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Query asks the model for a search query covering the last entry of
// queries. It returns "" when the model finds nothing to search for.
func (s *Service) Query(ctx context.Context, queries []string) (string, error) {
	raw, err := s.predictor.Predict(ctx, []chat.Message{{Role: chat.RoleUser, Content: QueryPrompt(queries)}})
	if err != nil {
		return "", errors.Wrap(err, "generate query")
	}
	query := strings.TrimSpace(raw)
	if query == NoQuery {
		return "", nil
	}
	return query, nil
}

// Ask runs a retrieval-backed turn for text on handle. The question and a
// retrieval notice are shown while the documents are looked up, then removed
// again before the turn is submitted.
func (s *Service) Ask(ctx context.Context, handle *chatService.Chat, text string, opts ...chatService.TurnOption) error {
	queries := userQueries(handle.Messages())
	queries = append(queries, text)

	handle.SetLoading(true)
	if err := handle.PushMessage(chat.RoleUser, text); err != nil {
		handle.SetLoading(false)
		return err
	}
	if err := handle.PushMessage(chat.RoleAssistant, RetrievingNotice); err != nil {
		handle.PopMessage()
		handle.SetLoading(false)
		return err
	}

	docs, err := s.retrieve(ctx, queries)
	handle.PopMessage()
	handle.PopMessage()
	if err != nil {
		handle.SetLoading(false)
		s.logger.Warn("retrieval failed", zap.String("key", handle.Key()), zap.Error(err))
		return err
	}

	s.logger.Debug("references retrieved", zap.String("key", handle.Key()), zap.Int("documents", len(docs)))
	handle.UpdateSystemContext(SystemContext(docs))
	return handle.SubmitTurn(ctx, text, opts...)
}

func (s *Service) retrieve(ctx context.Context, queries []string) ([]Document, error) {
	query, err := s.Query(ctx, queries)
	if err != nil {
		return nil, err
	}
	if query == "" {
		return nil, nil
	}
	docs, err := s.retriever.Retrieve(ctx, query, s.limit)
	if err != nil {
		return nil, errors.Wrap(err, "retrieve documents")
	}
	return docs, nil
}

func userQueries(messages []chat.Message) []string {
	var queries []string
	for _, m := range messages {
		if m.Role == chat.RoleUser {
			queries = append(queries, m.Content)
		}
	}
	return queries
}
