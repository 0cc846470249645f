package domain

// Update is the platform-neutral form of one inbound event.
type Update struct {
	UpdateID  int64
	ChatID    int64
	MessageID int64
	Username  string
	Text      string

	Voice    *VoiceAttachment
	Document *DocumentAttachment
	Callback *Callback
}

// VoiceAttachment describes a voice note the user sent.
type VoiceAttachment struct {
	FileID       string
	FileUniqueID string
	Duration     int // seconds
	MimeType     string
	FileSize     int64
}

// DocumentAttachment describes a file the user sent.
type DocumentAttachment struct {
	FileID       string
	FileUniqueID string
	FileName     string
	MimeType     string
	FileSize     int64
}

// Callback is a button press.
type Callback struct {
	ID   string
	Data string
}

// Input returns the textual payload of the update: callback data wins over text.
func (u Update) Input() string {
	if u.Callback != nil {
		return u.Callback.Data
	}
	return u.Text
}

// Body summarises the update for the message log.
func (u Update) Body() string {
	switch {
	case u.Callback != nil:
		return u.Callback.Data
	case u.Voice != nil:
		return "[voice:" + u.Voice.FileID + "]"
	case u.Document != nil:
		return "[document:" + u.Document.FileID + "]"
	default:
		return u.Text
	}
}

// ParseMode selects how the platform renders outbound text.
type ParseMode string

const (
	ParseModeNone ParseMode = ""
	ParseModeHTML ParseMode = "HTML"
)

// OutboundMessage is a text message to send, optionally with choice buttons.
type OutboundMessage struct {
	ChatID    int64
	Text      string
	ParseMode ParseMode
	Choices   []string
}

// SentMessage is what the platform acknowledged.
type SentMessage struct {
	MessageID int64
	ChatID    int64
}

// File is platform metadata about a stored upload.
type File struct {
	FileID       string
	FileUniqueID string
	FilePath     string
	FileSize     int64
}
