package domain

import (
	"errors"
	"fmt"
)

// ErrChatNotFound is returned when no ChatState exists for a chat.
var ErrChatNotFound = errors.New("chat not found")

// ErrNotFound is returned when a context or KV entry does not exist.
var ErrNotFound = errors.New("not found")

// ContextConflictError is returned when a context write supplies a stale version.
type ContextConflictError struct {
	ChatID   int64
	Expected int
	Actual   int
}

func (e *ContextConflictError) Error() string {
	return fmt.Sprintf("context conflict for chat %d: expected version %d, found %d", e.ChatID, e.Expected, e.Actual)
}
