package file

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// Storage implements ports.StorageBackend on the local filesystem.
// Objects live under BasePath/<chat_id>/<node_id>/ and are addressed by
// file:// URLs.
type Storage struct {
	BasePath string
}

// New creates a Storage rooted at basePath.
// If basePath is empty, it defaults to ".blueflow/uploads".
func New(basePath string) (*Storage, error) {
	if basePath == "" {
		basePath = filepath.Join(".blueflow", "uploads")
	}
	abs, err := filepath.Abs(basePath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve storage path: %w", err)
	}
	return &Storage{BasePath: abs}, nil
}

// Save writes r to a uniquely named file atomically and returns its URL.
func (s *Storage) Save(ctx context.Context, chatID int64, nodeID int, fileName, mime string, r io.Reader) (string, error) {
	dir := filepath.Join(s.BasePath, strconv.FormatInt(chatID, 10), strconv.Itoa(nodeID))
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to ensure upload directory: %w", err)
	}
	destPath := filepath.Join(dir, uuid.NewString()+"-"+sanitize(fileName))

	// Same directory as the destination so the rename stays on one filesystem.
	tmpFile, err := os.CreateTemp(dir, "tmp-*")
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()
	defer func() {
		_ = tmpFile.Close()
		_ = os.Remove(tmpPath)
	}()

	if _, err := io.Copy(tmpFile, readerWithContext(ctx, r)); err != nil {
		return "", fmt.Errorf("failed to write upload: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		return "", fmt.Errorf("failed to fsync upload: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return "", fmt.Errorf("failed to close upload: %w", err)
	}
	if err := os.Rename(tmpPath, destPath); err != nil {
		return "", fmt.Errorf("failed to move upload into place: %w", err)
	}

	return (&url.URL{Scheme: "file", Path: filepath.ToSlash(destPath)}).String(), nil
}

// Delete removes the object behind a URL returned by Save.
// Deleting a missing object is not an error.
func (s *Storage) Delete(ctx context.Context, rawURL string) error {
	path, err := s.Path(rawURL)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete upload: %w", err)
	}
	return nil
}

// Path resolves a URL returned by Save to a local path inside BasePath.
func (s *Storage) Path(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("invalid storage url %q: %w", rawURL, err)
	}
	if u.Scheme != "file" {
		return "", fmt.Errorf("unsupported storage url scheme %q", u.Scheme)
	}
	path := filepath.FromSlash(u.Path)
	rel, err := filepath.Rel(s.BasePath, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("storage url %q is outside %s", rawURL, s.BasePath)
	}
	return path, nil
}

func sanitize(name string) string {
	name = filepath.Base(name)
	if name == "." || name == string(filepath.Separator) || name == "" {
		return "upload"
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			return r
		}
		return '_'
	}, name)
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

func readerWithContext(ctx context.Context, r io.Reader) io.Reader {
	return ctxReader{ctx: ctx, r: r}
}
