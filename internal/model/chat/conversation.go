package chat

import "time"

// Conversation is the persisted identity of a chat. Title starts empty and is
// filled in later by title inference.
type Conversation struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"createdAt"`
}
