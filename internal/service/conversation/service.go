package conversation

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/zhouzirui/genchat/backend/internal/model/chat"
)

var (
	ErrConversationNotFound = errors.New("conversation not found")
	ErrMessageNotFound      = errors.New("message not found")
)

// Service is the authoritative record of conversations and their messages.
// It stands in for the remote persistence backend and keeps everything in
// memory.
type Service struct {
	mu            sync.RWMutex
	conversations map[string]chat.Conversation
	messages      map[string][]chat.Message
	lastStamp     time.Time
	now           func() time.Time
}

// NewService bootstraps an empty in-memory backend.
func NewService() *Service {
	return &Service{
		conversations: make(map[string]chat.Conversation),
		messages:      make(map[string][]chat.Message),
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// CreateConversation provisions a conversation with an empty title.
func (s *Service) CreateConversation(_ context.Context) (chat.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv := chat.Conversation{
		ID:        uuid.NewString(),
		CreatedAt: s.stampLocked(),
	}
	s.conversations[conv.ID] = conv
	s.messages[conv.ID] = make([]chat.Message, 0, 16)
	return conv, nil
}

// RecordMessages stores messages under the conversation and returns the
// stored records in input order. Client-assigned IDs are kept; re-recording
// an existing ID overwrites the stored record in place.
func (s *Service) RecordMessages(_ context.Context, conversationID string, messages []chat.Message) ([]chat.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.conversations[conversationID]; !ok {
		return nil, errors.Wrapf(ErrConversationNotFound, "record messages into %s", conversationID)
	}

	stored := s.messages[conversationID]
	recorded := make([]chat.Message, 0, len(messages))
	for _, m := range messages {
		if m.ID == "" {
			m.ID = uuid.NewString()
		}
		m.ConversationID = conversationID

		if idx := indexOf(stored, m.ID); idx >= 0 {
			m.CreatedAt = stored[idx].CreatedAt
			stored[idx] = m
		} else {
			m.CreatedAt = s.stampLocked()
			stored = append(stored, m)
		}
		recorded = append(recorded, m)
	}
	s.messages[conversationID] = stored
	return recorded, nil
}

// FindConversation retrieves a conversation by identifier.
func (s *Service) FindConversation(_ context.Context, conversationID string) (chat.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	conv, ok := s.conversations[conversationID]
	if !ok {
		return chat.Conversation{}, errors.Wrapf(ErrConversationNotFound, "find %s", conversationID)
	}
	return conv, nil
}

// ListConversations returns every conversation, newest first.
func (s *Service) ListConversations(_ context.Context) ([]chat.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]chat.Conversation, 0, len(s.conversations))
	for _, conv := range s.conversations {
		out = append(out, conv)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// ListMessages returns stored messages for the conversation in order.
func (s *Service) ListMessages(_ context.Context, conversationID string) ([]chat.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	messages, ok := s.messages[conversationID]
	if !ok {
		return nil, errors.Wrapf(ErrConversationNotFound, "list messages of %s", conversationID)
	}

	copied := make([]chat.Message, len(messages))
	copy(copied, messages)
	return copied, nil
}

// UpdateTitle renames a conversation.
func (s *Service) UpdateTitle(_ context.Context, conversationID, title string) (chat.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[conversationID]
	if !ok {
		return chat.Conversation{}, errors.Wrapf(ErrConversationNotFound, "update title of %s", conversationID)
	}
	conv.Title = title
	s.conversations[conversationID] = conv
	return conv, nil
}

// UpdateFeedback attaches feedback to the message created at fb.CreatedAt.
func (s *Service) UpdateFeedback(_ context.Context, conversationID string, fb chat.Feedback) (chat.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	messages, ok := s.messages[conversationID]
	if !ok {
		return chat.Message{}, errors.Wrapf(ErrConversationNotFound, "update feedback in %s", conversationID)
	}
	for i := range messages {
		if messages[i].CreatedAt.Equal(fb.CreatedAt) {
			messages[i].Feedback = fb.Feedback
			return messages[i], nil
		}
	}
	return chat.Message{}, errors.Wrapf(ErrMessageNotFound, "no message created at %s", fb.CreatedAt.Format(time.RFC3339Nano))
}

// DeleteConversation removes a conversation and its messages.
func (s *Service) DeleteConversation(_ context.Context, conversationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.conversations[conversationID]; !ok {
		return errors.Wrapf(ErrConversationNotFound, "delete %s", conversationID)
	}
	delete(s.conversations, conversationID)
	delete(s.messages, conversationID)
	return nil
}

// stampLocked returns a strictly increasing timestamp; message creation times
// double as feedback addresses, so they must not collide.
func (s *Service) stampLocked() time.Time {
	now := s.now()
	if !now.After(s.lastStamp) {
		now = s.lastStamp.Add(time.Microsecond)
	}
	s.lastStamp = now
	return now
}

func indexOf(messages []chat.Message, id string) int {
	for i := range messages {
		if messages[i].ID == id {
			return i
		}
	}
	return -1
}
