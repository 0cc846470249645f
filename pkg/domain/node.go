package domain

import "sort"

// StartNodeID is the node every new chat enters.
const StartNodeID = 0

// Node represents one step of the conversation.
// The generic fields are decoded eagerly; type-specific keys stay in Raw and are
// decoded by the behavior that owns the node type.
type Node struct {
	ID   int    `json:"-"`
	Type string `json:"type"`
	Text string `json:"node_text"`

	// Next is the single successor, if any.
	Next *int `json:"next,omitempty"`

	// NextForChoice maps a choice key to its successor.
	NextForChoice map[string]int `json:"next_for_choice,omitempty"`

	// Raw holds the full node document as it was declared.
	Raw map[string]any `json:"-"`
}

// IsTerminal reports whether the node has no outgoing transition.
func (n Node) IsTerminal() bool {
	return n.Next == nil && len(n.NextForChoice) == 0
}

// Targets returns every node id this node can transition to.
func (n Node) Targets() []int {
	var out []int
	if n.Next != nil {
		out = append(out, *n.Next)
	}
	for _, to := range n.NextForChoice {
		out = append(out, to)
	}
	return out
}

// String returns a type-specific string field from Raw, or "" if absent.
func (n Node) String(key string) string {
	if s, ok := n.Raw[key].(string); ok {
		return s
	}
	return ""
}

// FlowGraph is the immutable node-id to node mapping that defines a conversation.
type FlowGraph struct {
	Nodes map[int]Node
}

// NewFlowGraph builds a graph from nodes, keyed by their ID.
func NewFlowGraph(nodes ...Node) FlowGraph {
	g := FlowGraph{Nodes: make(map[int]Node, len(nodes))}
	for _, n := range nodes {
		g.Nodes[n.ID] = n
	}
	return g
}

// Node looks up a node by id.
func (g FlowGraph) Node(id int) (Node, bool) {
	n, ok := g.Nodes[id]
	return n, ok
}

// IDs returns the node ids in ascending order.
func (g FlowGraph) IDs() []int {
	ids := make([]int, 0, len(g.Nodes))
	for id := range g.Nodes {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}
