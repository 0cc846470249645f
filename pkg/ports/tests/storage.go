package tests

import (
	"bytes"
	"context"
	"testing"

	"github.com/aretw0/blueflow/pkg/ports"
)

// StorageContractTest is a reusable test suite that verifies if an adapter complies with ports.StorageBackend.
// read must return the bytes stored behind a URL returned by Save.
func StorageContractTest(t *testing.T, storage ports.StorageBackend, read func(url string) ([]byte, error)) {
	t.Helper()
	ctx := context.Background()
	payload := []byte("OggS fake voice payload")

	var url string

	// 1. Save
	t.Run("Save", func(t *testing.T) {
		var err error
		url, err = storage.Save(ctx, 42, 3, "voice.ogg", "audio/ogg", bytes.NewReader(payload))
		if err != nil {
			t.Fatalf("unexpected error saving: %v", err)
		}
		if url == "" {
			t.Fatal("expected a storage url, got empty string")
		}
		got, err := read(url)
		if err != nil {
			t.Fatalf("reading back %s: %v", url, err)
		}
		if !bytes.Equal(got, payload) {
			t.Errorf("content mismatch. got %q, want %q", got, payload)
		}
	})

	// 2. Distinct URLs for the same name
	t.Run("Save_Unique", func(t *testing.T) {
		other, err := storage.Save(ctx, 42, 3, "voice.ogg", "audio/ogg", bytes.NewReader(payload))
		if err != nil {
			t.Fatalf("unexpected error saving: %v", err)
		}
		if other == url {
			t.Errorf("expected distinct urls, both were %s", url)
		}
		_ = storage.Delete(ctx, other)
	})

	// 3. Delete
	t.Run("Delete", func(t *testing.T) {
		if err := storage.Delete(ctx, url); err != nil {
			t.Fatalf("unexpected error deleting: %v", err)
		}
		if _, err := read(url); err == nil {
			t.Error("expected read after delete to fail")
		}
	})
}
