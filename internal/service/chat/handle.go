package chat

import (
	"context"
	"time"

	"github.com/zhouzirui/genchat/backend/internal/model/chat"
	"github.com/zhouzirui/genchat/backend/internal/service/session"
)

// Chat binds the engine to one session key, giving views a narrow API.
type Chat struct {
	key    string
	engine *Engine
}

// Chat returns the handle for key.
func (e *Engine) Chat(key string) *Chat {
	return &Chat{key: key, engine: e}
}

func (c *Chat) Key() string { return c.key }

// Init creates the session with systemContext unless it already exists.
func (c *Chat) Init(systemContext string) {
	c.engine.store.Init(c.key, systemContext)
}

// Load hydrates the session from a persisted conversation.
func (c *Chat) Load(ctx context.Context, conversationID string) error {
	return c.engine.Load(ctx, c.key, conversationID)
}

// Clear starts the session over with systemContext.
func (c *Chat) Clear(systemContext string) {
	c.engine.store.Reset(c.key, systemContext)
}

func (c *Chat) UpdateSystemContext(systemContext string) {
	c.engine.store.UpdateSystemText(c.key, systemContext)
}

// PushMessage appends a message directly, bypassing the turn protocol.
func (c *Chat) PushMessage(role chat.Role, content string) error {
	return c.engine.store.Append(c.key, role, content)
}

// PopMessage removes and returns the last message.
func (c *Chat) PopMessage() (chat.Message, bool) {
	return c.engine.store.RemoveLast(c.key)
}

func (c *Chat) SetLoading(loading bool) {
	c.engine.store.SetBusy(c.key, loading)
}

func (c *Chat) SubmitTurn(ctx context.Context, text string, opts ...TurnOption) error {
	return c.engine.SubmitTurn(ctx, c.key, text, opts...)
}

func (c *Chat) SendFeedback(ctx context.Context, createdAt time.Time, feedback string) error {
	return c.engine.SendFeedback(ctx, c.key, createdAt, feedback)
}

// Messages returns the visible messages, without the system message.
func (c *Chat) Messages() []chat.Message {
	return c.engine.store.View(c.key).Messages
}

// Transcript returns the model-facing history, system message included.
func (c *Chat) Transcript() []chat.Message {
	messages, _ := c.engine.store.Messages(c.key)
	return chat.Prompt(messages)
}

func (c *Chat) IsEmpty() bool {
	return c.engine.store.View(c.key).IsEmpty
}

func (c *Chat) Loading() bool {
	return c.engine.store.Busy(c.key)
}

func (c *Chat) View() session.View {
	return c.engine.store.View(c.key)
}

// Subscribe streams view updates for the session; see session.Store.Subscribe.
func (c *Chat) Subscribe() (<-chan session.View, func()) {
	return c.engine.store.Subscribe(c.key)
}
