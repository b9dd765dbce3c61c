package dragon

import (
	"context"
	"testing"

	"github.com/antigravity-dev/cortex/internal/layout"
	"github.com/antigravity-dev/cortex/internal/llm"
	"github.com/antigravity-dev/cortex/internal/projects"
	"github.com/antigravity-dev/cortex/internal/specversion"
)

type scriptedGateway struct {
	responses []llm.Response
	i         int
}

func (g *scriptedGateway) SendMessage(ctx context.Context, messages []llm.Message, toolSpecs []llm.ToolSpec, systemPrompt string) llm.Response {
	if g.i >= len(g.responses) {
		return llm.Response{StopReason: llm.StopEndTurn, Content: []llm.ContentBlock{{Text: "done"}}}
	}
	r := g.responses[g.i]
	g.i++
	return r
}

func newTestSession(t *testing.T, gw llm.Gateway, events *[]Event) *Session {
	t.Helper()
	root := layout.NewRoot(t.TempDir())
	repo, err := projects.Load(root, testIDSource())
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	deps := Deps{
		Repo:  repo,
		Specs: specversion.New(repo),
		Root:  root,
		Sink:  SinkFunc(func(e Event) { *events = append(*events, e) }),
	}
	return New("session-1", gw, deps, t.TempDir())
}

func TestHandleEmitsAssistantTextOnEndTurn(t *testing.T) {
	var events []Event
	gw := &scriptedGateway{responses: []llm.Response{
		{StopReason: llm.StopEndTurn, Content: []llm.ContentBlock{{Text: "hello there"}}},
	}}
	s := newTestSession(t, gw, &events)

	result := s.Handle(context.Background(), "hi")
	if result.Failed() {
		t.Fatalf("expected success, got %+v", result)
	}

	found := false
	for _, e := range events {
		if e.Type == EventAssistantText && e.Text == "hello there" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected an assistant_text event, got %+v", events)
	}
}

func TestHandleEmitsToolCallAndToolResultEvents(t *testing.T) {
	var events []Event
	gw := &scriptedGateway{responses: []llm.Response{
		{StopReason: llm.StopToolUse, Content: []llm.ContentBlock{{ToolUse: &llm.ToolUse{
			ToolUseID: "1", Name: "list_projects", Input: map[string]any{},
		}}}},
		{StopReason: llm.StopEndTurn, Content: []llm.ContentBlock{{Text: "no projects yet"}}},
	}}
	s := newTestSession(t, gw, &events)

	s.Handle(context.Background(), "what projects exist?")

	var sawCall, sawResult bool
	for _, e := range events {
		if e.Type == EventToolCall && e.Tool == "list_projects" {
			sawCall = true
		}
		if e.Type == EventToolResult && e.Tool == "list_projects" {
			sawResult = true
		}
	}
	if !sawCall {
		t.Fatalf("expected a tool_call event, got %+v", events)
	}
	if !sawResult {
		t.Fatalf("expected a tool_result event, got %+v", events)
	}
}

func TestHandleEmitsErrorEventOnFailure(t *testing.T) {
	var events []Event
	gw := &scriptedGateway{responses: []llm.Response{
		{StopReason: llm.StopError, Content: []llm.ContentBlock{{Text: "provider unavailable"}}},
	}}
	s := newTestSession(t, gw, &events)

	result := s.Handle(context.Background(), "hi")
	if !result.Failed() {
		t.Fatal("expected failure outcome")
	}

	found := false
	for _, e := range events {
		if e.Type == EventError {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected an error event, got %+v", events)
	}
}

func TestNewPrompterEmitsPromptEvent(t *testing.T) {
	var events []Event
	prompter := NewPrompter("session-1", SinkFunc(func(e Event) { events = append(events, e) }))
	prompter.PostPrompt("prompt-1", "continue?")

	if len(events) != 1 || events[0].Type != EventPrompt || events[0].PromptID != "prompt-1" || events[0].Question != "continue?" {
		t.Fatalf("unexpected events: %+v", events)
	}
}
