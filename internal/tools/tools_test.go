package tools

import (
	"context"
	"testing"
)

type echoTool struct{}

func (echoTool) Name() string        { return "echo" }
func (echoTool) Description() string { return "echoes its message field" }
func (echoTool) InputSchema() Schema {
	return Schema{
		Properties: map[string]PropertySchema{"message": {Type: "string"}},
		Required:   []string{"message"},
	}
}
func (echoTool) Execute(ctx context.Context, workingDir string, input map[string]any) (string, error) {
	return input["message"].(string), nil
}

func TestSchemaValidateMissingRequired(t *testing.T) {
	s := Schema{Required: []string{"path"}}
	if err := s.Validate(map[string]any{}); err == nil {
		t.Fatal("expected error for missing required field")
	}
}

func TestSchemaValidateWrongType(t *testing.T) {
	s := Schema{Properties: map[string]PropertySchema{"count": {Type: "number"}}}
	if err := s.Validate(map[string]any{"count": "not-a-number"}); err == nil {
		t.Fatal("expected error for wrong type")
	}
}

func TestSchemaValidateTolerantOfUnknownFields(t *testing.T) {
	s := Schema{}
	if err := s.Validate(map[string]any{"extra": 1}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestRegistryRegisterAndGet(t *testing.T) {
	r := NewRegistry(echoTool{})
	tool, ok := r.Get("echo")
	if !ok || tool.Name() != "echo" {
		t.Fatal("expected to resolve registered tool")
	}
	if _, ok := r.Get("missing"); ok {
		t.Fatal("expected missing tool to not resolve")
	}
}

func TestDispatcherDispatchSuccess(t *testing.T) {
	d := NewDispatcher(NewRegistry(echoTool{}))
	out, err := d.Dispatch(context.Background(), "/tmp", "echo", map[string]any{"message": "hi"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "hi" {
		t.Fatalf("out = %q, want hi", out)
	}
}

func TestDispatcherUnknownTool(t *testing.T) {
	d := NewDispatcher(NewRegistry())
	_, err := d.Dispatch(context.Background(), "/tmp", "nope", nil)
	var unknown *ErrUnknownTool
	if err == nil {
		t.Fatal("expected error")
	}
	if e, ok := err.(*ErrUnknownTool); !ok || e.Name != "nope" {
		t.Fatalf("expected ErrUnknownTool, got %v (%T)", err, err)
	}
	_ = unknown
}

func TestDispatcherInvalidInput(t *testing.T) {
	d := NewDispatcher(NewRegistry(echoTool{}))
	_, err := d.Dispatch(context.Background(), "/tmp", "echo", map[string]any{})
	if err == nil {
		t.Fatal("expected validation error for missing message field")
	}
}
