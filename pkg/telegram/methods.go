package telegram

import (
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"

	"github.com/aretw0/blueflow/pkg/domain"
)

// SendText sends a text message. Choices become one inline button per row,
// each carrying the choice as callback data.
func (c *Client) SendText(ctx context.Context, msg domain.OutboundMessage) (domain.SentMessage, error) {
	params := map[string]any{
		"chat_id": msg.ChatID,
		"text":    msg.Text,
	}
	if msg.ParseMode != domain.ParseModeNone {
		params["parse_mode"] = string(msg.ParseMode)
	}
	if len(msg.Choices) > 0 {
		kb := inlineKeyboard{InlineKeyboard: make([][]inlineButton, 0, len(msg.Choices))}
		for _, choice := range msg.Choices {
			kb.InlineKeyboard = append(kb.InlineKeyboard, []inlineButton{{Text: choice, CallbackData: choice}})
		}
		params["reply_markup"] = kb
	}
	var out apiMessage
	if err := c.call(ctx, "sendMessage", params, &out); err != nil {
		return domain.SentMessage{}, err
	}
	return domain.SentMessage{MessageID: out.MessageID, ChatID: out.Chat.ID}, nil
}

// SendVoice uploads a voice note. See upload for retry rules.
func (c *Client) SendVoice(ctx context.Context, chatID int64, fileName string, r io.Reader) (domain.SentMessage, error) {
	return c.sendFile(ctx, "sendVoice", "voice", chatID, fileName, r)
}

// SendDocument uploads a file. See upload for retry rules.
func (c *Client) SendDocument(ctx context.Context, chatID int64, fileName string, r io.Reader) (domain.SentMessage, error) {
	return c.sendFile(ctx, "sendDocument", "document", chatID, fileName, r)
}

func (c *Client) sendFile(ctx context.Context, method, field string, chatID int64, fileName string, r io.Reader) (domain.SentMessage, error) {
	var out apiMessage
	fields := map[string]string{"chat_id": strconv.FormatInt(chatID, 10)}
	if err := c.upload(ctx, method, fields, field, fileName, r, &out); err != nil {
		return domain.SentMessage{}, err
	}
	return domain.SentMessage{MessageID: out.MessageID, ChatID: out.Chat.ID}, nil
}

// AnswerCallback acknowledges a button press.
func (c *Client) AnswerCallback(ctx context.Context, callbackID, text string) error {
	params := map[string]any{"callback_query_id": callbackID}
	if text != "" {
		params["text"] = text
	}
	return c.call(ctx, "answerCallbackQuery", params, nil)
}

// GetFile resolves a file id to a downloadable path.
func (c *Client) GetFile(ctx context.Context, fileID string) (domain.File, error) {
	var out apiFile
	if err := c.call(ctx, "getFile", map[string]any{"file_id": fileID}, &out); err != nil {
		return domain.File{}, err
	}
	if out.FilePath == "" {
		return domain.File{}, &MalformedResponseError{Method: "getFile", Err: fmt.Errorf("file %s has no file_path", fileID)}
	}
	return domain.File{FileID: out.FileID, FileUniqueID: out.FileUniqueID, FilePath: out.FilePath, FileSize: out.FileSize}, nil
}

// GetUpdates long-polls for updates with id >= offset. Update kinds the bot
// does not handle are returned with only UpdateID set, so the caller can
// still move the offset past them.
func (c *Client) GetUpdates(ctx context.Context, offset int64, timeoutSeconds int) ([]domain.Update, error) {
	params := map[string]any{
		"offset":          offset,
		"timeout":         timeoutSeconds,
		"allowed_updates": []string{"message", "callback_query"},
	}
	var raw []apiUpdate
	if err := c.call(ctx, "getUpdates", params, &raw); err != nil {
		return nil, err
	}
	out := make([]domain.Update, 0, len(raw))
	for _, r := range raw {
		upd, ok := normalize(r)
		if !ok {
			upd = domain.Update{UpdateID: r.UpdateID}
		}
		out = append(out, upd)
	}
	return out, nil
}

// upload streams a multipart request through a pipe so the file is never
// held in memory. It is retried only when r is an io.ReadSeeker, which is
// rewound to its starting offset before each new attempt.
func (c *Client) upload(ctx context.Context, method string, fields map[string]string, fileField, fileName string, r io.Reader, out any) error {
	seeker, canRewind := r.(io.ReadSeeker)
	var origin int64
	if canRewind {
		pos, err := seeker.Seek(0, io.SeekCurrent)
		if err != nil {
			canRewind = false
		} else {
			origin = pos
		}
	}

	attempts := 0
	op := func() error {
		if attempts > 0 {
			if _, err := seeker.Seek(origin, io.SeekStart); err != nil {
				return fmt.Errorf("telegram %s: rewind upload: %w", method, err)
			}
		}
		attempts++

		// The writer goroutine must be gone before the next rewind.
		var (
			pr   *io.PipeReader
			done chan struct{}
		)
		err := c.attempt(ctx, method, func() (*http.Request, error) {
			var pw *io.PipeWriter
			pr, pw = io.Pipe()
			mw := multipart.NewWriter(pw)
			req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(method), pr)
			if err != nil {
				return nil, err
			}
			req.Header.Set("Content-Type", mw.FormDataContentType())
			done = make(chan struct{})
			go func() {
				defer close(done)
				pw.CloseWithError(writeMultipart(mw, fields, fileField, fileName, r))
			}()
			return req, nil
		}, out)
		if pr != nil {
			_ = pr.Close()
		}
		if done != nil {
			<-done
		}
		return err
	}

	if !canRewind {
		return op()
	}
	return c.retry(ctx, method, op)
}

func writeMultipart(mw *multipart.Writer, fields map[string]string, fileField, fileName string, r io.Reader) error {
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			return err
		}
	}
	part, err := mw.CreateFormFile(fileField, fileName)
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, r); err != nil {
		return err
	}
	return mw.Close()
}
