package chat

import "time"

// Role identifies the speaker of a message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleSystem, RoleUser, RoleAssistant:
		return true
	default:
		return false
	}
}

// Message is a single turn in a conversation. A message without an ID is
// unrecorded: it only exists client-side and may still be mutated in place.
type Message struct {
	ID             string    `json:"id,omitempty"`
	ConversationID string    `json:"conversationId,omitempty"`
	Role           Role      `json:"role"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"createdAt,omitempty"`
	Feedback       string    `json:"feedback,omitempty"`
}

// Recorded reports whether the message carries an identifier.
func (m Message) Recorded() bool {
	return m.ID != ""
}

// Prompt strips everything but role and content, which is all the model sees.
func Prompt(messages []Message) []Message {
	out := make([]Message, len(messages))
	for i, m := range messages {
		out[i] = Message{Role: m.Role, Content: m.Content}
	}
	return out
}

// Feedback is a user rating attached to an assistant message, addressed by
// the message's creation time within its conversation.
type Feedback struct {
	CreatedAt time.Time `json:"createdAt"`
	Feedback  string    `json:"feedback"`
}
