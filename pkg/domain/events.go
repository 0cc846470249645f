package domain

import (
	"context"
	"time"
)

// NodeEvent is emitted when a chat enters a node.
type NodeEvent struct {
	Timestamp time.Time `json:"timestamp"`
	ChatID    int64     `json:"chat_id"`
	NodeID    int       `json:"node_id"`
	NodeType  string    `json:"node_type"`
}

// VerdictEvent is emitted after a behavior handled an update.
type VerdictEvent struct {
	Timestamp time.Time   `json:"timestamp"`
	ChatID    int64       `json:"chat_id"`
	NodeID    int         `json:"node_id"`
	NodeType  string      `json:"node_type"`
	Kind      VerdictKind `json:"kind"`
	Iteration int         `json:"iteration"`
}

// LifecycleHooks defines callbacks for engine observability.
type LifecycleHooks struct {
	OnNodeEnter func(context.Context, *NodeEvent)
	OnVerdict   func(context.Context, *VerdictEvent)
}
