// Package tools implements the tool-dispatch contract (§4.2): a registry of
// named tools with JSON-schema-shaped inputs, a sandboxed filesystem root,
// and the ask_user prompt round trip.
package tools

import (
	"context"
	"fmt"
	"sync"

	"github.com/antigravity-dev/cortex/internal/llm"
)

// Tool is one callable exposed to an agent loop.
type Tool interface {
	Name() string
	Description() string
	InputSchema() Schema
	Execute(ctx context.Context, workingDir string, input map[string]any) (string, error)
}

// Schema is a minimal, hand-rolled JSON-Schema-shaped description of a
// tool's input: object type, named properties with a primitive type each,
// and a required list. It is deliberately narrower than the full JSON
// Schema spec — tool inputs in this system are always flat objects.
type Schema struct {
	Properties map[string]PropertySchema
	Required   []string
}

// PropertySchema describes one input field.
type PropertySchema struct {
	Type        string // "string", "number", "boolean", "array", "object"
	Description string
}

// Validate checks input against schema, returning every violation found
// (missing required fields, wrong types) rather than stopping at the
// first one, so a model correcting its call sees the whole picture at
// once.
func (s Schema) Validate(input map[string]any) error {
	var problems []string

	for _, field := range s.Required {
		if _, ok := input[field]; !ok {
			problems = append(problems, fmt.Sprintf("missing required field %q", field))
		}
	}
	for field, value := range input {
		prop, ok := s.Properties[field]
		if !ok {
			continue // unknown fields are tolerated, not rejected
		}
		if !typeMatches(prop.Type, value) {
			problems = append(problems, fmt.Sprintf("field %q: expected %s, got %T", field, prop.Type, value))
		}
	}

	if len(problems) == 0 {
		return nil
	}
	err := fmt.Errorf("invalid tool input: %d problem(s)", len(problems))
	for _, p := range problems {
		err = fmt.Errorf("%w; %s", err, p)
	}
	return err
}

func typeMatches(schemaType string, value any) bool {
	switch schemaType {
	case "", "any":
		return true
	case "string":
		_, ok := value.(string)
		return ok
	case "number":
		switch value.(type) {
		case float64, int, int64:
			return true
		}
		return false
	case "boolean":
		_, ok := value.(bool)
		return ok
	case "array":
		_, ok := value.([]any)
		return ok
	case "object":
		_, ok := value.(map[string]any)
		return ok
	default:
		return true
	}
}

// Registry is an indexed store of tools: a map from name to Tool guarded
// by a mutex, following the teacher's "factories are registries" pattern
// (§9 design note).
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry builds a registry seeded with tools.
func NewRegistry(initial ...Tool) *Registry {
	r := &Registry{tools: make(map[string]Tool)}
	for _, t := range initial {
		r.Register(t)
	}
	return r
}

// Register adds or replaces a tool by name.
func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Name()] = t
}

// Get resolves a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// ToolSpecs converts tools to the provider-facing []llm.ToolSpec shape
// (§6.4), so every agent-loop caller builds its spec list the same way.
func ToolSpecs(ts []Tool) []llm.ToolSpec {
	out := make([]llm.ToolSpec, 0, len(ts))
	for _, t := range ts {
		out = append(out, llm.ToolSpec{
			Name:        t.Name(),
			Description: t.Description(),
			InputSchema: schemaToJSON(t.InputSchema()),
		})
	}
	return out
}

func schemaToJSON(s Schema) map[string]any {
	properties := make(map[string]any, len(s.Properties))
	for name, prop := range s.Properties {
		entry := map[string]any{"type": prop.Type}
		if prop.Description != "" {
			entry["description"] = prop.Description
		}
		properties[name] = entry
	}
	return map[string]any{
		"type":       "object",
		"properties": properties,
		"required":   s.Required,
	}
}

// All returns every registered tool, for building a provider tool-spec list.
func (r *Registry) All() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Tool, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t)
	}
	return out
}

// Dispatcher resolves and executes a tool call, validating its input
// against the tool's schema first.
type Dispatcher struct {
	registry *Registry
}

// NewDispatcher wraps a registry.
func NewDispatcher(registry *Registry) *Dispatcher {
	return &Dispatcher{registry: registry}
}

// ErrUnknownTool is returned when a call names a tool the registry does
// not have.
type ErrUnknownTool struct{ Name string }

func (e *ErrUnknownTool) Error() string { return fmt.Sprintf("unknown tool %q", e.Name) }

// Dispatch resolves name, validates input, and executes it. The returned
// string is always meant to be injected back into the conversation as a
// tool result — callers never propagate err into the conversation
// themselves; see ToolError handling in internal/agentloop.
func (d *Dispatcher) Dispatch(ctx context.Context, workingDir, name string, input map[string]any) (string, error) {
	tool, ok := d.registry.Get(name)
	if !ok {
		return "", &ErrUnknownTool{Name: name}
	}
	if err := tool.InputSchema().Validate(input); err != nil {
		return "", err
	}
	return tool.Execute(ctx, workingDir, input)
}
