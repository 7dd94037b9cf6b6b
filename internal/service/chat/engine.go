package chat

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/cloudwego/eino/schema"
	"go.uber.org/zap"

	"github.com/zhouzirui/genchat/backend/internal/logging"
	"github.com/zhouzirui/genchat/backend/internal/model/chat"
	"github.com/zhouzirui/genchat/backend/internal/service/session"
)

const defaultTitleTimeout = 30 * time.Second

// Transport is everything the engine needs from the model provider and the
// persistence backend.
type Transport interface {
	CreateConversation(ctx context.Context) (chat.Conversation, error)
	RecordMessages(ctx context.Context, conversationID string, messages []chat.Message) ([]chat.Message, error)
	StreamReply(ctx context.Context, messages []chat.Message) (*schema.StreamReader[string], error)
	InferTitle(ctx context.Context, conversation chat.Conversation, messages []chat.Message) (string, error)
	UpdateFeedback(ctx context.Context, conversationID string, feedback chat.Feedback) (chat.Message, error)
	ListMessages(ctx context.Context, conversationID string) ([]chat.Message, error)
	FindConversation(ctx context.Context, conversationID string) (chat.Conversation, error)
	DeleteConversation(ctx context.Context, conversationID string) error
}

// errSessionReplaced marks a turn whose session was re-initialised while the
// turn was in flight.
var errSessionReplaced = errors.New("session re-initialised during turn")

// Engine drives conversational turns: it streams the assistant reply into the
// session store and reconciles the turn with the persistence backend.
type Engine struct {
	store        *session.Store
	transport    Transport
	logger       *zap.Logger
	titleTimeout time.Duration

	tasks   sync.WaitGroup
	titleMu sync.Mutex
	titling map[string]bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) { e.logger = logging.OrNop(l).Named("chat") }
}

// WithTitleTimeout bounds background title inference.
func WithTitleTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.titleTimeout = d
		}
	}
}

// NewEngine creates an engine writing into store.
func NewEngine(store *session.Store, transport Transport, opts ...Option) *Engine {
	e := &Engine{
		store:        store,
		transport:    transport,
		logger:       zap.NewNop(),
		titleTimeout: defaultTitleTimeout,
		titling:      make(map[string]bool),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Store exposes the underlying session store.
func (e *Engine) Store() *session.Store {
	return e.store
}

// TurnOption configures a single SubmitTurn call.
type TurnOption func(*turnOptions)

type turnOptions struct {
	onStart func(session.Turn)
}

// OnTurnStart registers fn to be called once the user message and the reply
// placeholder are in the session, before the reply is streamed.
func OnTurnStart(fn func(session.Turn)) TurnOption {
	return func(o *turnOptions) { o.onStart = fn }
}

// SubmitTurn appends a user turn with text, streams the assistant reply and
// records both. The busy flag is set for the streaming phase and always
// cleared before returning. Callers must not submit while the session is
// busy.
func (e *Engine) SubmitTurn(ctx context.Context, key, text string, opts ...TurnOption) error {
	var o turnOptions
	for _, opt := range opts {
		opt(&o)
	}

	e.store.SetBusy(key, true)

	turn, err := e.store.AppendTurn(key, text)
	if err != nil {
		e.store.SetBusy(key, false)
		return err
	}
	if o.onStart != nil {
		o.onStart(turn)
	}
	generation := turn.Generation

	err = e.streamReply(ctx, key, generation)
	e.store.SetBusy(key, false)
	if err != nil {
		e.logger.Warn("turn abandoned while streaming", zap.String("key", key), zap.Error(err))
		return err
	}

	if err := e.persist(ctx, key, generation); err != nil {
		if errors.Is(err, errSessionReplaced) {
			e.logger.Info("session re-initialised mid-turn, skipping persistence", zap.String("key", key))
			return nil
		}
		e.logger.Warn("turn abandoned while persisting", zap.String("key", key), zap.Error(err))
		return err
	}
	return nil
}

func (e *Engine) streamReply(ctx context.Context, key string, generation uint64) error {
	messages, ok := e.store.Messages(key)
	if !ok || len(messages) == 0 {
		return nil
	}

	// The trailing placeholder is the turn being generated.
	stream, err := e.transport.StreamReply(ctx, chat.Prompt(messages[:len(messages)-1]))
	if err != nil {
		return transportError("stream reply", err)
	}
	defer stream.Close()

	dropped := 0
	for {
		fragment, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return transportError("stream reply", err)
		}
		if fragment == "" {
			continue
		}
		if !e.store.AppendFragment(key, generation, fragment) {
			dropped++
		}
	}

	if dropped > 0 {
		e.logger.Debug("dropped fragments for replaced session", zap.String("key", key), zap.Int("dropped", dropped))
	}
	return nil
}

func (e *Engine) persist(ctx context.Context, key string, generation uint64) error {
	if current, ok := e.store.Generation(key); !ok || current != generation {
		return errSessionReplaced
	}

	conv, err := e.ensureConversation(ctx, key, generation)
	if err != nil {
		return err
	}

	if conv.Title == "" {
		e.inferTitle(ctx, key, conv)
	}

	pending, ok := e.store.AssignIdentities(key, generation)
	if !ok {
		return errSessionReplaced
	}
	if len(pending) == 0 {
		return nil
	}

	recorded, err := e.transport.RecordMessages(ctx, conv.ID, pending)
	if err != nil {
		return transportError("record messages", err)
	}

	if unmatched := e.store.ReplaceByIdentity(key, recorded); unmatched > 0 {
		e.logger.Debug("recorded messages without local match", zap.String("key", key), zap.Int("unmatched", unmatched))
	}
	return nil
}

func (e *Engine) ensureConversation(ctx context.Context, key string, generation uint64) (chat.Conversation, error) {
	if conv, ok := e.store.Conversation(key); ok {
		return conv, nil
	}

	conv, err := e.transport.CreateConversation(ctx)
	if err != nil {
		return chat.Conversation{}, transportError("create conversation", err)
	}
	if !e.store.AttachConversation(key, generation, conv) {
		// Nothing refers to the new conversation any more.
		if err := e.transport.DeleteConversation(ctx, conv.ID); err != nil {
			e.logger.Warn("failed to delete orphaned conversation", zap.String("conversation", conv.ID), zap.Error(err))
		} else {
			e.logger.Debug("deleted orphaned conversation", zap.String("key", key), zap.String("conversation", conv.ID))
		}
		return chat.Conversation{}, errSessionReplaced
	}

	e.logger.Info("conversation created", zap.String("key", key), zap.String("conversation", conv.ID))
	return conv, nil
}

// inferTitle runs title inference in the background. The result is only
// written if the session still refers to conv when it arrives.
func (e *Engine) inferTitle(ctx context.Context, key string, conv chat.Conversation) {
	messages, ok := e.store.Messages(key)
	if !ok {
		return
	}

	e.titleMu.Lock()
	if e.titling[conv.ID] {
		e.titleMu.Unlock()
		return
	}
	e.titling[conv.ID] = true
	e.titleMu.Unlock()

	detached := context.WithoutCancel(ctx)
	e.tasks.Add(1)
	go func() {
		defer e.tasks.Done()
		defer func() {
			e.titleMu.Lock()
			delete(e.titling, conv.ID)
			e.titleMu.Unlock()
		}()

		titleCtx, cancel := context.WithTimeout(detached, e.titleTimeout)
		defer cancel()

		title, err := e.transport.InferTitle(titleCtx, conv, chat.Prompt(messages))
		if err != nil {
			e.logger.Warn("title inference failed", zap.String("conversation", conv.ID), zap.Error(err))
			return
		}
		if !e.store.SetTitle(key, conv.ID, title) {
			e.logger.Debug("discarding title for replaced session", zap.String("key", key), zap.String("conversation", conv.ID))
			return
		}
		e.logger.Info("conversation titled", zap.String("conversation", conv.ID), zap.String("title", title))
	}()
}

// SendFeedback attaches feedback to the message created at createdAt. It does
// nothing when the session has no conversation yet.
func (e *Engine) SendFeedback(ctx context.Context, key string, createdAt time.Time, feedback string) error {
	conv, ok := e.store.Conversation(key)
	if !ok {
		return nil
	}

	msg, err := e.transport.UpdateFeedback(ctx, conv.ID, chat.Feedback{CreatedAt: createdAt, Feedback: feedback})
	if err != nil {
		return transportError("update feedback", err)
	}
	e.store.ReplaceByIdentity(key, []chat.Message{msg})
	return nil
}

// Load hydrates the session from a persisted conversation, replacing whatever
// the key held before.
func (e *Engine) Load(ctx context.Context, key, conversationID string) error {
	conv, err := e.transport.FindConversation(ctx, conversationID)
	if err != nil {
		return transportError("find conversation", err)
	}
	messages, err := e.transport.ListMessages(ctx, conversationID)
	if err != nil {
		return transportError("list messages", err)
	}

	e.store.InitFromRecorded(key, messages, conv)
	return nil
}

// Wait blocks until background title inference has finished.
func (e *Engine) Wait() {
	e.tasks.Wait()
}
