// Package flowdef loads flow graph documents from JSON or YAML.
//
// Loading is lenient: a node missing "type" or carrying a malformed "next" still
// loads, so the registry's structural check can report every problem at once.
// Only documents that cannot be read as an id-keyed object fail here.
package flowdef

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/aretw0/blueflow/pkg/domain"
	"github.com/aretw0/blueflow/pkg/registry"
	"github.com/aretw0/blueflow/pkg/schema"
	"gopkg.in/yaml.v3"
)

// Load reads a flow file, choosing the decoder by extension (.yaml/.yml or JSON).
func Load(path string) (domain.FlowGraph, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return domain.FlowGraph{}, fmt.Errorf("read flow %s: %w", path, err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return ParseYAML(data)
	default:
		return ParseJSON(data)
	}
}

// ParseJSON decodes a JSON flow document.
func ParseJSON(data []byte) (domain.FlowGraph, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var doc map[string]any
	if err := dec.Decode(&doc); err != nil {
		return domain.FlowGraph{}, &registry.FlowValidationError{
			Problems: []string{fmt.Sprintf("flow is not a JSON object: %v", err)},
		}
	}
	return build(doc)
}

// ParseYAML decodes a YAML flow document. Integer keys are accepted.
func ParseYAML(data []byte) (domain.FlowGraph, error) {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return domain.FlowGraph{}, &registry.FlowValidationError{
			Problems: []string{fmt.Sprintf("flow is not valid YAML: %v", err)},
		}
	}
	obj, ok := normalize(doc).(map[string]any)
	if !ok {
		return domain.FlowGraph{}, &registry.FlowValidationError{
			Problems: []string{"flow is not a YAML mapping"},
		}
	}
	return build(obj)
}

// normalize turns yaml's map[any]any into JSON-shaped map[string]any.
func normalize(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, val := range t {
			t[k] = normalize(val)
		}
		return t
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[fmt.Sprint(k)] = normalize(val)
		}
		return out
	case []any:
		for i, val := range t {
			t[i] = normalize(val)
		}
		return t
	default:
		return v
	}
}

func build(doc map[string]any) (domain.FlowGraph, error) {
	graph := domain.FlowGraph{Nodes: make(map[int]domain.Node, len(doc))}

	var problems []string
	for key, value := range doc {
		id, err := strconv.Atoi(key)
		if err != nil || id < 0 {
			problems = append(problems, fmt.Sprintf("node id %q is not a non-negative integer", key))
			continue
		}
		raw, ok := value.(map[string]any)
		if !ok {
			problems = append(problems, fmt.Sprintf("node %d is not an object", id))
			continue
		}
		graph.Nodes[id] = NodeFromRaw(id, raw)
	}

	if len(problems) > 0 {
		return domain.FlowGraph{}, &registry.FlowValidationError{Problems: problems}
	}
	return graph, nil
}

// NodeFromRaw extracts the generic node fields from a raw document.
func NodeFromRaw(id int, raw map[string]any) domain.Node {
	node := domain.Node{ID: id, Raw: raw}
	node.Type, _ = raw["type"].(string)
	node.Text, _ = raw["node_text"].(string)

	if v, ok := raw["next"]; ok {
		if n, err := schema.AsInt(v); err == nil {
			next := int(n)
			node.Next = &next
		}
	}
	if m, ok := raw["next_for_choice"].(map[string]any); ok {
		node.NextForChoice = make(map[string]int, len(m))
		for choice, v := range m {
			if n, err := schema.AsInt(v); err == nil {
				node.NextForChoice[choice] = int(n)
			}
		}
	}
	return node
}
