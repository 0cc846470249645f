package registry

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/aretw0/blueflow/pkg/domain"
	"github.com/aretw0/blueflow/pkg/ports"
	"github.com/xeipuuv/gojsonschema"
)

//go:embed flow.schema.json
var flowSchemaJSON []byte

var (
	flowSchemaOnce sync.Once
	flowSchema     *gojsonschema.Schema
	flowSchemaErr  error
)

func compiledFlowSchema() (*gojsonschema.Schema, error) {
	flowSchemaOnce.Do(func() {
		flowSchema, flowSchemaErr = gojsonschema.NewSchema(gojsonschema.NewBytesLoader(flowSchemaJSON))
	})
	return flowSchema, flowSchemaErr
}

// FlowSchema returns the JSON Schema used for the structural check.
func FlowSchema() []byte {
	return flowSchemaJSON
}

// Validate proves a flow graph is well-formed. The checks run in order and
// validation stops at the first failing category; every violation of that
// category is reported, joined with errors.Join:
//
//  1. structural schema            -> *FlowValidationError
//  2. node types are registered    -> *UnknownStateTypeError
//  3. transitions target real ids  -> *DanglingReferenceError
//  4. per-type required keys       -> *NodeSchemaError
func (r *Registry) Validate(ctx context.Context, graph domain.FlowGraph) error {
	if err := checkStructure(graph); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := r.checkTypes(graph); err != nil {
		return err
	}
	if err := checkReferences(graph); err != nil {
		return err
	}
	return r.checkNodeSchemas(graph)
}

func checkStructure(graph domain.FlowGraph) error {
	schema, err := compiledFlowSchema()
	if err != nil {
		return fmt.Errorf("load flow schema: %w", err)
	}

	doc := make(map[string]map[string]any, len(graph.Nodes))
	for id, node := range graph.Nodes {
		doc[strconv.Itoa(id)] = nodeDocument(node)
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return &FlowValidationError{Problems: []string{fmt.Sprintf("flow is not serialisable: %v", err)}}
	}

	result, err := schema.Validate(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return fmt.Errorf("flow schema validation: %w", err)
	}

	offending := make(map[int]bool)
	var problems []string
	for _, desc := range result.Errors() {
		problems = append(problems, fmt.Sprintf("%s: %s", desc.Field(), desc.Description()))
		if id, ok := nodeIDFromField(desc.Field()); ok {
			offending[id] = true
		}
	}
	if len(graph.Nodes) > 0 {
		if _, ok := graph.Nodes[domain.StartNodeID]; !ok {
			problems = append(problems, fmt.Sprintf("start node %d is missing", domain.StartNodeID))
		}
	}
	for id := range graph.Nodes {
		if id < 0 {
			offending[id] = true
			problems = append(problems, fmt.Sprintf("node id %d is negative", id))
		}
	}

	if len(problems) == 0 {
		return nil
	}
	ids := make([]int, 0, len(offending))
	for id := range offending {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return &FlowValidationError{NodeIDs: ids, Problems: problems}
}

// nodeDocument returns the declared document, or rebuilds one from the
// generic fields for nodes constructed in code.
func nodeDocument(node domain.Node) map[string]any {
	if node.Raw != nil {
		return node.Raw
	}
	doc := map[string]any{
		"type":      node.Type,
		"node_text": node.Text,
	}
	if node.Next != nil {
		doc["next"] = *node.Next
	}
	if node.NextForChoice != nil {
		doc["next_for_choice"] = node.NextForChoice
	}
	return doc
}

// nodeIDFromField extracts "3" from gojsonschema field paths like "3.next".
func nodeIDFromField(field string) (int, bool) {
	head, _, _ := strings.Cut(field, ".")
	id, err := strconv.Atoi(head)
	if err != nil {
		return 0, false
	}
	return id, true
}

func (r *Registry) checkTypes(graph domain.FlowGraph) error {
	var errs []error
	for _, id := range graph.IDs() {
		node := graph.Nodes[id]
		if _, err := r.Resolve(node.Type); err != nil {
			errs = append(errs, &UnknownStateTypeError{NodeID: id, Type: node.Type})
		}
	}
	return errors.Join(errs...)
}

func checkReferences(graph domain.FlowGraph) error {
	var errs []error
	for _, id := range graph.IDs() {
		node := graph.Nodes[id]
		if node.Next != nil {
			if _, ok := graph.Nodes[*node.Next]; !ok {
				errs = append(errs, &DanglingReferenceError{From: id, To: *node.Next})
			}
		}

		choices := make([]string, 0, len(node.NextForChoice))
		for choice := range node.NextForChoice {
			choices = append(choices, choice)
		}
		sort.Strings(choices)
		for _, choice := range choices {
			to := node.NextForChoice[choice]
			if _, ok := graph.Nodes[to]; !ok {
				errs = append(errs, &DanglingReferenceError{From: id, To: to, Choice: choice})
			}
		}
	}
	return errors.Join(errs...)
}

func (r *Registry) checkNodeSchemas(graph domain.FlowGraph) error {
	var errs []error
	for _, id := range graph.IDs() {
		node := graph.Nodes[id]
		behavior, err := r.Resolve(node.Type)
		if err != nil {
			errs = append(errs, &UnknownStateTypeError{NodeID: id, Type: node.Type})
			continue
		}
		v, ok := behavior.(ports.NodeValidator)
		if !ok {
			continue
		}
		if err := v.ValidateNode(node); err != nil {
			errs = append(errs, &NodeSchemaError{NodeID: id, Type: node.Type, Err: err})
		}
	}
	return errors.Join(errs...)
}
