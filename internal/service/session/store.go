package session

import (
	"errors"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/zhouzirui/genchat/backend/internal/logging"
	"github.com/zhouzirui/genchat/backend/internal/model/chat"
)

var ErrSessionNotFound = errors.New("session not found")

// View is the read-only projection handed to UI consumers: the system message
// is filtered out.
type View struct {
	Key          string             `json:"key"`
	Conversation *chat.Conversation `json:"conversation,omitempty"`
	Messages     []chat.Message     `json:"messages"`
	IsEmpty      bool               `json:"isEmpty"`
	Loading      bool               `json:"loading"`
}

type state struct {
	conversation *chat.Conversation
	messages     []chat.Message
	// index maps recorded message IDs to their position in messages.
	index map[string]int
	// generation changes every time the key is (re)initialised, so writers
	// holding an older value can tell their target is gone.
	generation uint64
}

// Store is the process-wide registry of chat sessions keyed by view. Every
// mutation runs under the write lock and readers receive copies, so a
// partially applied change is never observable.
type Store struct {
	mu          sync.RWMutex
	sessions    map[string]*state
	busy        map[string]bool
	generation  uint64
	subscribers map[string]map[uint64]chan View
	nextSubID   uint64
	newID       func() string
	logger      *zap.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger used for diagnostics.
func WithLogger(l *zap.Logger) Option {
	return func(s *Store) { s.logger = logging.OrNop(l) }
}

// WithIDGenerator overrides the client-side message ID generator.
func WithIDGenerator(fn func() string) Option {
	return func(s *Store) {
		if fn != nil {
			s.newID = fn
		}
	}
}

// NewStore creates an empty registry.
func NewStore(opts ...Option) *Store {
	s := &Store{
		sessions:    make(map[string]*state),
		busy:        make(map[string]bool),
		subscribers: make(map[string]map[uint64]chan View),
		newID:       uuid.NewString,
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Init creates the session with a single system message. It is a no-op when
// the key already exists.
func (s *Store) Init(key, systemText string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[key]; ok {
		return
	}
	s.sessions[key] = s.freshLocked(systemText)
	s.publishLocked(key)
}

// InitFromRecorded replaces the session with an authoritative history.
func (s *Store) InitFromRecorded(key string, messages []chat.Message, conversation chat.Conversation) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.generation++
	st := &state{
		conversation: &conversation,
		messages:     append(make([]chat.Message, 0, len(messages)+2), messages...),
		index:        make(map[string]int, len(messages)),
		generation:   s.generation,
	}
	for i, m := range st.messages {
		if m.Recorded() {
			st.index[m.ID] = i
		}
	}
	s.sessions[key] = st
	s.publishLocked(key)
}

// Reset unconditionally replaces the session with a fresh system message and
// drops its conversation identity.
func (s *Store) Reset(key, systemText string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sessions[key] = s.freshLocked(systemText)
	s.publishLocked(key)
}

// UpdateSystemText rewrites the system message of the session, if any.
func (s *Store) UpdateSystemText(key, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.sessions[key]
	if !ok {
		return
	}
	for i := range st.messages {
		if st.messages[i].Role == chat.RoleSystem {
			st.messages[i].Content = text
			s.publishLocked(key)
			return
		}
	}
}

// Append pushes an unrecorded message to the tail.
func (s *Store) Append(key string, role chat.Role, content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.sessions[key]
	if !ok {
		return ErrSessionNotFound
	}
	st.messages = append(st.messages, chat.Message{Role: role, Content: content})
	s.publishLocked(key)
	return nil
}

// RemoveLast pops the tail message. The boolean is false when there is
// nothing to pop.
func (s *Store) RemoveLast(key string) (chat.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.sessions[key]
	if !ok || len(st.messages) == 0 {
		return chat.Message{}, false
	}
	last := st.messages[len(st.messages)-1]
	st.messages = st.messages[:len(st.messages)-1]
	if last.Recorded() && st.index[last.ID] == len(st.messages) {
		delete(st.index, last.ID)
	}
	s.publishLocked(key)
	return last, true
}

// SetBusy toggles the advisory busy flag. It may be set before the session
// itself exists.
func (s *Store) SetBusy(key string, busy bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if busy {
		s.busy[key] = true
	} else {
		delete(s.busy, key)
	}
	s.publishLocked(key)
}

// Busy reports the busy flag of the session.
func (s *Store) Busy(key string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.busy[key]
}

// ReplaceByIdentity overwrites every local message sharing an ID with one of
// recorded, keeping its position. Inputs without a local match are ignored;
// the number of such inputs is returned.
func (s *Store) ReplaceByIdentity(key string, recorded []chat.Message) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.sessions[key]
	if !ok {
		return len(recorded)
	}

	unmatched := 0
	for _, m := range recorded {
		if !m.Recorded() {
			unmatched++
			continue
		}
		idx, ok := st.index[m.ID]
		if !ok || idx >= len(st.messages) || st.messages[idx].ID != m.ID {
			unmatched++
			continue
		}
		st.messages[idx] = m
	}
	if unmatched < len(recorded) {
		s.publishLocked(key)
	}
	return unmatched
}

// Turn identifies a user turn appended by AppendTurn.
type Turn struct {
	Generation uint64
	// Reply is the position of the assistant placeholder in View.Messages.
	Reply int
}

// AppendTurn pushes the user message and the empty assistant placeholder in
// one step. The returned Turn carries the session generation and where the
// reply sits in the view at the moment of the append.
func (s *Store) AppendTurn(key, userText string) (Turn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.sessions[key]
	if !ok {
		return Turn{}, ErrSessionNotFound
	}
	st.messages = append(st.messages,
		chat.Message{Role: chat.RoleUser, Content: userText},
		chat.Message{Role: chat.RoleAssistant},
	)
	reply := -1
	for _, m := range st.messages {
		if m.Role != chat.RoleSystem {
			reply++
		}
	}
	s.publishLocked(key)
	return Turn{Generation: st.generation, Reply: reply}, nil
}

// AppendFragment concatenates fragment onto the trailing unrecorded assistant
// message. It returns false, dropping the fragment, when the session has been
// re-initialised since generation or no such tail exists.
func (s *Store) AppendFragment(key string, generation uint64, fragment string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.sessions[key]
	if !ok || st.generation != generation || len(st.messages) == 0 {
		return false
	}
	tail := &st.messages[len(st.messages)-1]
	if tail.Role != chat.RoleAssistant || tail.Recorded() {
		s.logger.Warn("dropping fragment: tail is not a pending assistant message",
			zap.String("key", key), zap.String("role", string(tail.Role)))
		return false
	}
	tail.Content += fragment
	s.publishLocked(key)
	return true
}

// Generation returns the current generation of the session.
func (s *Store) Generation(key string) (uint64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.sessions[key]
	if !ok {
		return 0, false
	}
	return st.generation, true
}

// Conversation returns a copy of the conversation attached to the session.
func (s *Store) Conversation(key string) (chat.Conversation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.sessions[key]
	if !ok || st.conversation == nil {
		return chat.Conversation{}, false
	}
	return *st.conversation, true
}

// AttachConversation binds a newly created conversation to the session as
// long as it is still at generation.
func (s *Store) AttachConversation(key string, generation uint64, conversation chat.Conversation) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.sessions[key]
	if !ok || st.generation != generation {
		return false
	}
	st.conversation = &conversation
	s.publishLocked(key)
	return true
}

// SetTitle updates the conversation title only if the session still refers to
// conversationID.
func (s *Store) SetTitle(key, conversationID, title string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.sessions[key]
	if !ok || st.conversation == nil || st.conversation.ID != conversationID {
		return false
	}
	st.conversation.Title = title
	s.publishLocked(key)
	return true
}

// AssignIdentities gives every unrecorded message a fresh client-side ID and
// returns copies of them in session order, ready to be recorded.
func (s *Store) AssignIdentities(key string, generation uint64) ([]chat.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.sessions[key]
	if !ok || st.generation != generation {
		return nil, false
	}

	var conversationID string
	if st.conversation != nil {
		conversationID = st.conversation.ID
	}

	var pending []chat.Message
	for i := range st.messages {
		m := &st.messages[i]
		if m.Recorded() {
			continue
		}
		m.ID = s.newID()
		m.ConversationID = conversationID
		st.index[m.ID] = i
		pending = append(pending, *m)
	}
	if len(pending) > 0 {
		s.publishLocked(key)
	}
	return pending, true
}

// Messages returns a copy of every message, including the system message.
func (s *Store) Messages(key string) ([]chat.Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.sessions[key]
	if !ok {
		return nil, false
	}
	return append([]chat.Message(nil), st.messages...), true
}

// Exists reports whether key has been initialised.
func (s *Store) Exists(key string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.sessions[key]
	return ok
}

// View returns the derived projection of the session.
func (s *Store) View(key string) View {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.viewLocked(key)
}

// Subscribe returns a channel that receives the latest View after every
// mutation of key. Slow readers only ever see the most recent snapshot.
// The returned function unsubscribes and closes the channel.
func (s *Store) Subscribe(key string) (<-chan View, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextSubID++
	id := s.nextSubID
	ch := make(chan View, 1)
	if s.subscribers[key] == nil {
		s.subscribers[key] = make(map[uint64]chan View)
	}
	s.subscribers[key][id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			delete(s.subscribers[key], id)
			if len(s.subscribers[key]) == 0 {
				delete(s.subscribers, key)
			}
			close(ch)
		})
	}
}

func (s *Store) freshLocked(systemText string) *state {
	s.generation++
	return &state{
		messages:   []chat.Message{{Role: chat.RoleSystem, Content: systemText}},
		index:      make(map[string]int),
		generation: s.generation,
	}
}

func (s *Store) viewLocked(key string) View {
	view := View{Key: key, Messages: []chat.Message{}, Loading: s.busy[key]}
	st, ok := s.sessions[key]
	if ok {
		if st.conversation != nil {
			conv := *st.conversation
			view.Conversation = &conv
		}
		for _, m := range st.messages {
			if m.Role != chat.RoleSystem {
				view.Messages = append(view.Messages, m)
			}
		}
	}
	view.IsEmpty = len(view.Messages) == 0
	return view
}

func (s *Store) publishLocked(key string) {
	subs := s.subscribers[key]
	if len(subs) == 0 {
		return
	}
	view := s.viewLocked(key)
	for _, ch := range subs {
		// Only this method sends, and it runs under the write lock, so after
		// draining the buffer the send cannot block.
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- view:
		default:
		}
	}
}
