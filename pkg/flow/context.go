package flow

import (
	"context"
	"errors"
	"fmt"

	"github.com/aretw0/blueflow/pkg/domain"
)

// loadContext returns the chat's context document, a fresh one if it was
// never written, or nil when context is disabled.
func (f *Flow) loadContext(ctx context.Context, chatID int64) (*domain.Context, error) {
	if !f.contextEnabled {
		return nil, nil
	}
	c, err := f.store.LoadContext(ctx, chatID)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.NewContext(chatID), nil
	}
	if err != nil {
		return nil, fmt.Errorf("load context: %w", err)
	}
	return c, nil
}

// mergeContext writes saved into the context document with a version check.
// On conflict the latest document is re-read and the write retried once; a
// second conflict is logged and the turn goes on.
func (f *Flow) mergeContext(ctx context.Context, base *domain.Context, chatID int64, saved *domain.SavedValue) {
	if !f.contextEnabled || saved == nil {
		return
	}
	if base == nil {
		base = domain.NewContext(chatID)
	}

	for attempt := 0; attempt < 2; attempt++ {
		next := base.Clone()
		next.Value[saved.Key] = saved.Value
		err := f.store.SaveContext(ctx, next, base.Version)
		if err == nil {
			return
		}

		var conflict *domain.ContextConflictError
		if !errors.As(err, &conflict) {
			f.logger.Error("failed to save context", "chat_id", chatID, "err", err)
			return
		}
		if attempt == 1 {
			f.logger.Warn("context changed concurrently, giving up on merge",
				"chat_id", chatID, "key", saved.Key, "expected", conflict.Expected, "actual", conflict.Actual)
			return
		}

		latest, err := f.loadContext(ctx, chatID)
		if err != nil {
			f.logger.Error("failed to reload context after conflict", "chat_id", chatID, "err", err)
			return
		}
		base = latest
	}
}
