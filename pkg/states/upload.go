package states

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"time"

	"github.com/aretw0/blueflow/pkg/domain"
	"github.com/aretw0/blueflow/pkg/ports"
)

// errUploadTooLarge is returned by storeUpload when the file exceeds the
// node's byte limit, whether declared by the platform or seen while
// downloading.
var errUploadTooLarge = errors.New("upload exceeds size limit")

// limitWriter fails once more than limit bytes were written.
type limitWriter struct {
	w       io.Writer
	limit   int64
	written int64
}

func (l *limitWriter) Write(p []byte) (int, error) {
	if l.written+int64(len(p)) > l.limit {
		return 0, errUploadTooLarge
	}
	n, err := l.w.Write(p)
	l.written += int64(n)
	return n, err
}

// storeUpload moves one platform file of at most limit bytes into durable
// storage and records it. The temporary copy is removed only once the
// attachment row exists; if the row cannot be written the stored object is
// deleted again.
func storeUpload(ctx context.Context, env *ports.Env, fileID, fileName, mimeType string, limit int64) (*domain.Attachment, error) {
	file, err := env.Bot.GetFile(ctx, fileID)
	if err != nil {
		return nil, fmt.Errorf("get file: %w", err)
	}
	if file.FileSize > limit {
		return nil, errUploadTooLarge
	}

	tmp, err := os.CreateTemp("", "blueflow-upload-*")
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
	}()

	sink := &limitWriter{w: tmp, limit: limit}
	size, err := env.Bot.DownloadFile(ctx, file.FilePath, sink)
	if errors.Is(err, errUploadTooLarge) || size > limit {
		return nil, errUploadTooLarge
	}
	if err != nil {
		return nil, fmt.Errorf("download file: %w", err)
	}
	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("rewind temp file: %w", err)
	}

	url, err := env.Storage.Save(ctx, env.ChatID, env.Node.ID, fileName, mimeType, tmp)
	if err != nil {
		return nil, fmt.Errorf("store file: %w", err)
	}

	att := &domain.Attachment{
		ChatID:         env.ChatID,
		NodeID:         env.Node.ID,
		PlatformFileID: fileID,
		StorageURL:     url,
		MimeType:       mimeType,
		SizeBytes:      size,
		CreatedAt:      time.Now().UTC(),
	}
	if err := env.Store.SaveAttachment(ctx, att); err != nil {
		if derr := env.Storage.Delete(context.WithoutCancel(ctx), url); derr != nil {
			env.Logger.Warn("failed to delete orphaned upload", "url", url, "err", derr)
		}
		return nil, fmt.Errorf("record attachment: %w", err)
	}
	return att, nil
}

// uploadFailed logs the pipeline error and asks the user to send again.
func uploadFailed(env *ports.Env, op string, err error) domain.Verdict {
	env.Logger.Error("upload failed",
		"chat_id", env.ChatID,
		"node_id", env.Node.ID,
		"operation", op,
		"err", err,
	)
	return retry(env.Node, msgUploadFailed)
}

// fileNameFor builds a storage file name from a platform id and mime type.
func fileNameFor(prefix, uniqueID, mimeType string) string {
	ext := ""
	if exts, err := mime.ExtensionsByType(mimeType); err == nil && len(exts) > 0 {
		ext = exts[0]
	}
	return prefix + "-" + uniqueID + ext
}
