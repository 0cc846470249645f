package ports

import (
	"context"
	"io"
)

// StorageBackend makes attachment bytes durable.
// Save is the only path by which bytes become durable; callers remove their
// transient copy only after Save succeeds.
type StorageBackend interface {
	Save(ctx context.Context, chatID int64, nodeID int, fileName, mime string, r io.Reader) (string, error)
	Delete(ctx context.Context, url string) error
}

// Moderator vets free text before a behavior validates it.
type Moderator interface {
	Check(ctx context.Context, text string) (bool, error)
}
