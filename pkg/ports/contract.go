package ports

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aretw0/blueflow/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RunPersistenceContract runs a suite of tests to verify that a PersistenceBackend
// implementation adheres to the defined interface contract.
func RunPersistenceContract(t *testing.T, store PersistenceBackend) {
	ctx := context.Background()
	chatID := time.Now().UnixNano() % 1_000_000_000
	now := time.Now().UTC().Truncate(time.Second)

	t.Run("ChatState Save and Load", func(t *testing.T) {
		state := domain.NewChatState(chatID, now)
		require.NoError(t, store.SaveChatState(ctx, state))

		state.Advance(3, now.Add(time.Second))
		state.Retry(now.Add(2 * time.Second))
		require.NoError(t, store.SaveChatState(ctx, state), "Save should upsert")

		loaded, err := store.LoadChatState(ctx, chatID)
		require.NoError(t, err)
		assert.Equal(t, chatID, loaded.ChatID)
		assert.Equal(t, 3, loaded.CurrentNodeID)
		assert.Equal(t, 1, loaded.Iteration)
		assert.False(t, loaded.Terminated)
	})

	t.Run("ChatState Terminal Marker", func(t *testing.T) {
		id := chatID + 1
		state := domain.NewChatState(id, now)
		state.Terminate(now)
		require.NoError(t, store.SaveChatState(ctx, state))

		loaded, err := store.LoadChatState(ctx, id)
		require.NoError(t, err)
		assert.True(t, loaded.Terminated)
	})

	t.Run("ChatState Not Found", func(t *testing.T) {
		_, err := store.LoadChatState(ctx, -chatID)
		assert.ErrorIs(t, err, domain.ErrChatNotFound)
	})

	t.Run("KV Round Trip", func(t *testing.T) {
		entry := &domain.KVEntry{
			ChatID: chatID, NodeID: 4, Key: "bio", Value: "first", Iteration: 1, AttemptNo: 2, CreatedAt: now,
		}
		require.NoError(t, store.SaveKVEntry(ctx, entry))

		// Same key tuple overwrites.
		entry.Value = "second"
		require.NoError(t, store.SaveKVEntry(ctx, entry))

		loaded, err := store.LoadKVEntry(ctx, chatID, 4, "bio", 1)
		require.NoError(t, err)
		assert.Equal(t, "second", loaded.Value)
		assert.Equal(t, 2, loaded.AttemptNo)

		_, err = store.LoadKVEntry(ctx, chatID, 4, "bio", 0)
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("Context Optimistic Versioning", func(t *testing.T) {
		_, err := store.LoadContext(ctx, chatID)
		assert.ErrorIs(t, err, domain.ErrNotFound)

		c := domain.NewContext(chatID)
		c.Value["name"] = "Ada"
		require.NoError(t, store.SaveContext(ctx, c, 0))
		assert.Equal(t, 1, c.Version)

		loaded, err := store.LoadContext(ctx, chatID)
		require.NoError(t, err)
		assert.Equal(t, 1, loaded.Version)
		assert.Equal(t, "Ada", loaded.Value["name"])

		loaded.Value["name"] = "Grace"
		require.NoError(t, store.SaveContext(ctx, loaded, 1))
		assert.Equal(t, 2, loaded.Version)

		// A writer holding version 1 is now stale.
		stale := domain.NewContext(chatID)
		stale.Value["name"] = "Linus"
		err = store.SaveContext(ctx, stale, 1)
		var conflict *domain.ContextConflictError
		require.True(t, errors.As(err, &conflict), "expected ContextConflictError, got %v", err)

		// Creating over an existing document is also a conflict.
		err = store.SaveContext(ctx, domain.NewContext(chatID), 0)
		assert.True(t, errors.As(err, &conflict))

		final, err := store.LoadContext(ctx, chatID)
		require.NoError(t, err)
		assert.Equal(t, "Grace", final.Value["name"])
	})

	t.Run("Append Message and Attachment", func(t *testing.T) {
		require.NoError(t, store.AppendMessage(ctx, &domain.Message{
			ChatID: chatID, PlatformMessageID: 10, Direction: domain.DirectionIn, Body: "hi", CreatedAt: now,
		}))
		require.NoError(t, store.AppendMessage(ctx, &domain.Message{
			ChatID: chatID, PlatformMessageID: 11, Direction: domain.DirectionOut, Body: "hello", CreatedAt: now,
		}))
		require.NoError(t, store.SaveAttachment(ctx, &domain.Attachment{
			ChatID: chatID, NodeID: 2, PlatformFileID: "f1", StorageURL: "file:///tmp/x",
			MimeType: "audio/ogg", SizeBytes: 42, CreatedAt: now,
		}))
	})
}
