package ports

import (
	"context"
	"log/slog"

	"github.com/aretw0/blueflow/pkg/domain"
)

// Env is everything a behavior may touch while handling one node for one chat.
type Env struct {
	ChatID    int64
	Node      domain.Node
	Iteration int

	Bot       Messenger
	Store     PersistenceBackend
	Storage   StorageBackend
	Moderator Moderator // nil when moderation is disabled

	// Context is a read-only snapshot; nil when context is disabled.
	Context *domain.Context

	Logger *slog.Logger
}

// Behavior is the executable logic bound to a node type name.
type Behavior interface {
	// Enter sends the prompt for the node. It must not change ChatState.
	Enter(ctx context.Context, env *Env) error

	// Handle judges one inbound update against the node.
	// Validation failures are a Retry verdict, not an error; an error means the
	// turn could not be evaluated at all.
	Handle(ctx context.Context, env *Env, upd domain.Update) (domain.Verdict, error)
}

// NodeValidator is implemented by behaviors that require type-specific keys.
type NodeValidator interface {
	ValidateNode(node domain.Node) error
}
