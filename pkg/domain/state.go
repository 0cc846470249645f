package domain

import "time"

// ChatState represents where a chat is in the flow.
// It is owned by persistence and re-read on every turn.
type ChatState struct {
	ChatID        int64 `json:"chat_id"`
	CurrentNodeID int   `json:"current_node_id"`

	// Iteration counts attempts at the current node since the last advance.
	Iteration int `json:"iteration"`

	// Terminated marks a chat that reached the end of the flow.
	Terminated bool `json:"terminated"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewChatState creates a clean state at the start node.
func NewChatState(chatID int64, now time.Time) *ChatState {
	return &ChatState{
		ChatID:        chatID,
		CurrentNodeID: StartNodeID,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// Advance moves the chat to a new node and resets the attempt counter.
func (s *ChatState) Advance(next int, now time.Time) {
	s.CurrentNodeID = next
	s.Iteration = 0
	s.UpdatedAt = now
}

// Retry records one more failed attempt at the current node.
func (s *ChatState) Retry(now time.Time) {
	s.Iteration++
	s.UpdatedAt = now
}

// Terminate marks the chat as finished.
func (s *ChatState) Terminate(now time.Time) {
	s.Terminated = true
	s.UpdatedAt = now
}

// Context is an optional per-chat key-value document.
// Version 0 means the document has not been created yet.
type Context struct {
	ChatID  int64          `json:"chat_id"`
	Value   map[string]any `json:"value"`
	Version int            `json:"version"`
}

// NewContext returns an empty, not yet persisted context.
func NewContext(chatID int64) *Context {
	return &Context{ChatID: chatID, Value: make(map[string]any)}
}

// Clone returns a copy whose Value map can be mutated independently.
func (c *Context) Clone() *Context {
	if c == nil {
		return nil
	}
	out := &Context{ChatID: c.ChatID, Version: c.Version, Value: make(map[string]any, len(c.Value))}
	for k, v := range c.Value {
		out.Value[k] = v
	}
	return out
}
