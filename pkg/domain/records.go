package domain

import "time"

// KVEntry is one value a behavior saved: the flow's durable answer log.
// Entries are keyed by (ChatID, NodeID, Key, Iteration).
type KVEntry struct {
	ChatID    int64     `json:"chat_id"`
	NodeID    int       `json:"node_id"`
	Key       string    `json:"key"`
	Value     string    `json:"value"`
	Iteration int       `json:"iteration"`
	AttemptNo int       `json:"attempt_no"`
	CreatedAt time.Time `json:"created_at"`
}

// Attachment is an upload that was durably stored.
type Attachment struct {
	ChatID         int64     `json:"chat_id"`
	NodeID         int       `json:"node_id"`
	PlatformFileID string    `json:"platform_file_id"`
	StorageURL     string    `json:"storage_url"`
	MimeType       string    `json:"mime_type"`
	SizeBytes      int64     `json:"size_bytes"`
	CreatedAt      time.Time `json:"created_at"`
}

// Direction tells inbound from outbound messages in the log.
type Direction string

const (
	DirectionIn  Direction = "in"
	DirectionOut Direction = "out"
)

// Message is an entry of the append-only message log.
type Message struct {
	ChatID            int64     `json:"chat_id"`
	PlatformMessageID int64     `json:"platform_message_id"`
	Direction         Direction `json:"direction"`
	Body              string    `json:"body"`
	NodeID            int       `json:"node_id"`
	Iteration         int       `json:"iteration"`
	CreatedAt         time.Time `json:"created_at"`
}
