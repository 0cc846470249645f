package telegram

import (
	"encoding/json"

	"github.com/aretw0/blueflow/pkg/domain"
)

// Wire types, limited to the fields the bot reads.

type apiUser struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
}

type apiChat struct {
	ID int64 `json:"id"`
}

type apiVoice struct {
	FileID       string `json:"file_id"`
	FileUniqueID string `json:"file_unique_id"`
	Duration     int    `json:"duration"`
	MimeType     string `json:"mime_type"`
	FileSize     int64  `json:"file_size"`
}

type apiDocument struct {
	FileID       string `json:"file_id"`
	FileUniqueID string `json:"file_unique_id"`
	FileName     string `json:"file_name"`
	MimeType     string `json:"mime_type"`
	FileSize     int64  `json:"file_size"`
}

type apiMessage struct {
	MessageID int64        `json:"message_id"`
	From      *apiUser     `json:"from"`
	Chat      apiChat      `json:"chat"`
	Text      string       `json:"text"`
	Caption   string       `json:"caption"`
	Voice     *apiVoice    `json:"voice"`
	Document  *apiDocument `json:"document"`
}

type apiCallbackQuery struct {
	ID      string      `json:"id"`
	From    apiUser     `json:"from"`
	Message *apiMessage `json:"message"`
	Data    string      `json:"data"`
}

type apiUpdate struct {
	UpdateID      int64             `json:"update_id"`
	Message       *apiMessage       `json:"message"`
	CallbackQuery *apiCallbackQuery `json:"callback_query"`
}

type apiFile struct {
	FileID       string `json:"file_id"`
	FileUniqueID string `json:"file_unique_id"`
	FileSize     int64  `json:"file_size"`
	FilePath     string `json:"file_path"`
}

type inlineButton struct {
	Text         string `json:"text"`
	CallbackData string `json:"callback_data"`
}

type inlineKeyboard struct {
	InlineKeyboard [][]inlineButton `json:"inline_keyboard"`
}

// ParseUpdate decodes one webhook payload. Unsupported update kinds return
// ErrUnsupportedUpdate together with the update id.
func ParseUpdate(data []byte) (domain.Update, error) {
	var raw apiUpdate
	if err := json.Unmarshal(data, &raw); err != nil {
		return domain.Update{}, &MalformedResponseError{Method: "webhook", Err: err}
	}
	upd, ok := normalize(raw)
	if !ok {
		return domain.Update{UpdateID: raw.UpdateID}, ErrUnsupportedUpdate
	}
	return upd, nil
}

// normalize maps a wire update onto domain.Update. It reports false for
// update kinds without a message or callback.
func normalize(raw apiUpdate) (domain.Update, bool) {
	upd := domain.Update{UpdateID: raw.UpdateID}
	switch {
	case raw.Message != nil:
		m := raw.Message
		upd.ChatID = m.Chat.ID
		upd.MessageID = m.MessageID
		if m.From != nil {
			upd.Username = m.From.Username
		}
		upd.Text = m.Text
		if upd.Text == "" {
			upd.Text = m.Caption
		}
		if m.Voice != nil {
			upd.Voice = &domain.VoiceAttachment{
				FileID:       m.Voice.FileID,
				FileUniqueID: m.Voice.FileUniqueID,
				Duration:     m.Voice.Duration,
				MimeType:     m.Voice.MimeType,
				FileSize:     m.Voice.FileSize,
			}
		}
		if m.Document != nil {
			upd.Document = &domain.DocumentAttachment{
				FileID:       m.Document.FileID,
				FileUniqueID: m.Document.FileUniqueID,
				FileName:     m.Document.FileName,
				MimeType:     m.Document.MimeType,
				FileSize:     m.Document.FileSize,
			}
		}
	case raw.CallbackQuery != nil:
		cq := raw.CallbackQuery
		upd.ChatID = cq.From.ID
		if cq.Message != nil {
			upd.ChatID = cq.Message.Chat.ID
			upd.MessageID = cq.Message.MessageID
		}
		upd.Username = cq.From.Username
		upd.Callback = &domain.Callback{ID: cq.ID, Data: cq.Data}
	default:
		return upd, false
	}
	return upd, upd.ChatID != 0
}
