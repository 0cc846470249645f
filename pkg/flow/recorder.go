package flow

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/aretw0/blueflow/pkg/domain"
	"github.com/aretw0/blueflow/pkg/ports"
)

// recorder is the Messenger behaviors see. Every successful send is appended
// to the message log, tagged with the chat's node and iteration at that time.
type recorder struct {
	ports.Messenger
	store  ports.PersistenceBackend
	logger *slog.Logger
	state  *domain.ChatState
	now    func() time.Time
}

func newRecorder(bot ports.Messenger, store ports.PersistenceBackend, logger *slog.Logger, state *domain.ChatState, now func() time.Time) *recorder {
	return &recorder{Messenger: bot, store: store, logger: logger, state: state, now: now}
}

func (r *recorder) SendText(ctx context.Context, msg domain.OutboundMessage) (domain.SentMessage, error) {
	sent, err := r.Messenger.SendText(ctx, msg)
	if err == nil {
		r.log(ctx, sent.MessageID, msg.Text)
	}
	return sent, err
}

func (r *recorder) SendVoice(ctx context.Context, chatID int64, fileName string, rd io.Reader) (domain.SentMessage, error) {
	sent, err := r.Messenger.SendVoice(ctx, chatID, fileName, rd)
	if err == nil {
		r.log(ctx, sent.MessageID, "[voice:"+fileName+"]")
	}
	return sent, err
}

func (r *recorder) SendDocument(ctx context.Context, chatID int64, fileName string, rd io.Reader) (domain.SentMessage, error) {
	sent, err := r.Messenger.SendDocument(ctx, chatID, fileName, rd)
	if err == nil {
		r.log(ctx, sent.MessageID, "[document:"+fileName+"]")
	}
	return sent, err
}

func (r *recorder) logInbound(ctx context.Context, upd domain.Update) {
	r.append(ctx, &domain.Message{
		ChatID:            r.state.ChatID,
		PlatformMessageID: upd.MessageID,
		Direction:         domain.DirectionIn,
		Body:              upd.Body(),
		NodeID:            r.state.CurrentNodeID,
		Iteration:         r.state.Iteration,
		CreatedAt:         r.now(),
	})
}

func (r *recorder) log(ctx context.Context, messageID int64, body string) {
	r.append(context.WithoutCancel(ctx), &domain.Message{
		ChatID:            r.state.ChatID,
		PlatformMessageID: messageID,
		Direction:         domain.DirectionOut,
		Body:              body,
		NodeID:            r.state.CurrentNodeID,
		Iteration:         r.state.Iteration,
		CreatedAt:         r.now(),
	})
}

func (r *recorder) append(ctx context.Context, msg *domain.Message) {
	if err := r.store.AppendMessage(ctx, msg); err != nil {
		r.logger.Warn("failed to log message", "chat_id", msg.ChatID, "direction", msg.Direction, "err", err)
	}
}
