package flow

import (
	"log/slog"
	"time"

	"github.com/aretw0/blueflow/pkg/domain"
	"github.com/aretw0/blueflow/pkg/ports"
)

const (
	// DefaultDedupTTL is how long an update id is remembered.
	DefaultDedupTTL = 10 * time.Minute
	// DefaultWorkers bounds the chats processed concurrently per poll batch.
	DefaultWorkers = 32
)

// Option configures a Flow.
type Option func(*Flow)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(f *Flow) { f.logger = logger }
}

// WithContext enables the per-chat context document. Saved values are merged
// into it and node texts are interpolated from it.
func WithContext(enabled bool) Option {
	return func(f *Flow) { f.contextEnabled = enabled }
}

// WithModerator vets free-text answers before behaviors validate them.
func WithModerator(m ports.Moderator) Option {
	return func(f *Flow) { f.moderator = m }
}

// WithLocker coordinates chats across replicas.
func WithLocker(l ports.DistributedLocker) Option {
	return func(f *Flow) { f.locker = l }
}

// WithLifecycleHooks registers observability hooks.
func WithLifecycleHooks(hooks domain.LifecycleHooks) Option {
	return func(f *Flow) { f.hooks = hooks }
}

// WithDedupTTL sets how long update ids are remembered. Zero disables dedup.
func WithDedupTTL(ttl time.Duration) Option {
	return func(f *Flow) { f.dedupTTL = ttl }
}

// WithWorkers bounds concurrent chats per poll batch.
func WithWorkers(n int) Option {
	return func(f *Flow) {
		if n > 0 {
			f.workers = n
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(f *Flow) { f.now = now }
}
