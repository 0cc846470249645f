package ports

import (
	"context"

	"github.com/aretw0/blueflow/pkg/domain"
)

// PersistenceBackend owns every per-chat record.
type PersistenceBackend interface {
	// LoadChatState returns domain.ErrChatNotFound if the chat never started.
	LoadChatState(ctx context.Context, chatID int64) (*domain.ChatState, error)
	SaveChatState(ctx context.Context, state *domain.ChatState) error

	// AppendMessage adds to the audit log. Entries are never updated.
	AppendMessage(ctx context.Context, msg *domain.Message) error

	// SaveKVEntry upserts by (ChatID, NodeID, Key, Iteration).
	SaveKVEntry(ctx context.Context, entry *domain.KVEntry) error
	// LoadKVEntry returns domain.ErrNotFound if no entry matches.
	LoadKVEntry(ctx context.Context, chatID int64, nodeID int, key string, iteration int) (*domain.KVEntry, error)

	// LoadContext returns domain.ErrNotFound before the first write.
	LoadContext(ctx context.Context, chatID int64) (*domain.Context, error)
	// SaveContext writes c if the stored version equals expectedVersion
	// (0 = create) and sets c.Version to expectedVersion+1.
	// A mismatch returns *domain.ContextConflictError.
	SaveContext(ctx context.Context, c *domain.Context, expectedVersion int) error

	SaveAttachment(ctx context.Context, a *domain.Attachment) error
}
