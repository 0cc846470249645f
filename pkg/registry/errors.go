package registry

import (
	"fmt"
	"strings"
)

// DuplicateAliasError is returned when a type name is registered twice.
type DuplicateAliasError struct {
	Type string
}

func (e *DuplicateAliasError) Error() string {
	return fmt.Sprintf("type alias %q already registered", e.Type)
}

// UnknownStateTypeError is returned when a type name is not bound.
// NodeID is -1 when the lookup was not made on behalf of a node.
type UnknownStateTypeError struct {
	NodeID int
	Type   string
}

func (e *UnknownStateTypeError) Error() string {
	if e.NodeID < 0 {
		return fmt.Sprintf("unknown state type %q", e.Type)
	}
	return fmt.Sprintf("node %d: unknown state type %q", e.NodeID, e.Type)
}

// FlowValidationError is returned when nodes fail the structural schema.
type FlowValidationError struct {
	NodeIDs  []int
	Problems []string
}

func (e *FlowValidationError) Error() string {
	return fmt.Sprintf("flow failed schema validation (nodes %v): %s", e.NodeIDs, strings.Join(e.Problems, "; "))
}

// DanglingReferenceError is returned when a transition targets a missing node.
// Choice is empty for a plain "next" reference.
type DanglingReferenceError struct {
	From   int
	To     int
	Choice string
}

func (e *DanglingReferenceError) Error() string {
	if e.Choice != "" {
		return fmt.Sprintf("node %d choice %q references unknown node %d", e.From, e.Choice, e.To)
	}
	return fmt.Sprintf("node %d references unknown next node %d", e.From, e.To)
}

// NodeSchemaError is returned when a node misses keys its type requires.
type NodeSchemaError struct {
	NodeID int
	Type   string
	Err    error
}

func (e *NodeSchemaError) Error() string {
	return fmt.Sprintf("%s node %d: %v", e.Type, e.NodeID, e.Err)
}

func (e *NodeSchemaError) Unwrap() error {
	return e.Err
}
