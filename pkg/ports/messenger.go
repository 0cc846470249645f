package ports

import (
	"context"
	"io"

	"github.com/aretw0/blueflow/pkg/domain"
)

// Messenger is the subset of the platform client that behaviors use.
type Messenger interface {
	SendText(ctx context.Context, msg domain.OutboundMessage) (domain.SentMessage, error)
	SendVoice(ctx context.Context, chatID int64, fileName string, r io.Reader) (domain.SentMessage, error)
	SendDocument(ctx context.Context, chatID int64, fileName string, r io.Reader) (domain.SentMessage, error)
	AnswerCallback(ctx context.Context, callbackID, text string) error
	GetFile(ctx context.Context, fileID string) (domain.File, error)
	DownloadFile(ctx context.Context, filePath string, sink io.Writer) (int64, error)
}

// Poller is a Messenger that can also long-poll for updates.
type Poller interface {
	Messenger
	GetUpdates(ctx context.Context, offset int64, timeoutSeconds int) ([]domain.Update, error)
}
