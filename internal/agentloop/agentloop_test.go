package agentloop

import (
	"context"
	"errors"
	"testing"

	"github.com/antigravity-dev/cortex/internal/llm"
)

type stubGateway struct {
	responses []llm.Response
	calls     int
}

func (g *stubGateway) SendMessage(ctx context.Context, messages []llm.Message, toolSpecs []llm.ToolSpec, systemPrompt string) llm.Response {
	i := g.calls
	g.calls++
	if i < len(g.responses) {
		return g.responses[i]
	}
	return llm.Response{StopReason: llm.StopEndTurn}
}

type stubTools struct {
	dispatched []string
}

func (t *stubTools) Dispatch(ctx context.Context, workingDir, name string, input map[string]any) (string, error) {
	t.dispatched = append(t.dispatched, name)
	if name == "fail_me" {
		return "", errors.New("boom")
	}
	return "ok:" + name, nil
}

func TestLoopEndsOnFirstEndTurn(t *testing.T) {
	gw := &stubGateway{responses: []llm.Response{{StopReason: llm.StopEndTurn, Content: []llm.ContentBlock{{Text: "done"}}}}}
	loop := New(gw, &stubTools{}, nil, "", "/tmp", 0)

	result := loop.Run(context.Background(), "start")
	if result.Outcome != OutcomeSuccess || result.Text != "done" {
		t.Fatalf("unexpected result: %+v", result)
	}
	if result.Failed() {
		t.Fatal("success should not be Failed()")
	}
}

func TestLoopExecutesToolsThenContinues(t *testing.T) {
	gw := &stubGateway{responses: []llm.Response{
		{StopReason: llm.StopToolUse, Content: []llm.ContentBlock{{ToolUse: &llm.ToolUse{ToolUseID: "1", Name: "read_file", Input: map[string]any{}}}}},
		{StopReason: llm.StopEndTurn, Content: []llm.ContentBlock{{Text: "finished"}}},
	}}
	tex := &stubTools{}
	loop := New(gw, tex, nil, "", "/tmp", 0)

	result := loop.Run(context.Background(), "start")
	if result.Outcome != OutcomeSuccess {
		t.Fatalf("unexpected outcome: %v", result.Outcome)
	}
	if len(tex.dispatched) != 1 || tex.dispatched[0] != "read_file" {
		t.Fatalf("expected read_file dispatched once, got %v", tex.dispatched)
	}
	if result.Iterations != 2 {
		t.Fatalf("expected 2 iterations, got %d", result.Iterations)
	}
}

func TestLoopErrorStopsImmediately(t *testing.T) {
	gw := &stubGateway{responses: []llm.Response{{StopReason: llm.StopError, Content: []llm.ContentBlock{{Text: "provider failed"}}}}}
	loop := New(gw, &stubTools{}, nil, "", "/tmp", 0)

	result := loop.Run(context.Background(), "start")
	if result.Outcome != OutcomeError || !result.Failed() {
		t.Fatalf("expected Error outcome, got %+v", result)
	}
}

func TestLoopMaxIterationsIsDistinctFromSuccess(t *testing.T) {
	gw := &stubGateway{} // every call within the bound asks for another tool round
	gw.responses = []llm.Response{
		{StopReason: llm.StopToolUse, Content: []llm.ContentBlock{{ToolUse: &llm.ToolUse{ToolUseID: "1", Name: "noop"}}}},
		{StopReason: llm.StopToolUse, Content: []llm.ContentBlock{{ToolUse: &llm.ToolUse{ToolUseID: "2", Name: "noop"}}}},
	}
	loop := New(gw, &stubTools{}, nil, "", "/tmp", 2)

	result := loop.Run(context.Background(), "start")
	if result.Outcome != OutcomeMaxIterations || !result.Failed() {
		t.Fatalf("expected MaxIterations outcome, got %+v", result)
	}
	if result.Iterations != 2 {
		t.Fatalf("expected exactly MaxIterations iterations, got %d", result.Iterations)
	}
}

func TestLoopToolErrorIsFedBackNotFatal(t *testing.T) {
	gw := &stubGateway{responses: []llm.Response{
		{StopReason: llm.StopToolUse, Content: []llm.ContentBlock{{ToolUse: &llm.ToolUse{ToolUseID: "1", Name: "fail_me"}}}},
		{StopReason: llm.StopEndTurn, Content: []llm.ContentBlock{{Text: "recovered"}}},
	}}
	loop := New(gw, &stubTools{}, nil, "", "/tmp", 0)

	result := loop.Run(context.Background(), "start")
	if result.Outcome != OutcomeSuccess {
		t.Fatalf("expected loop to recover from a tool error, got %+v", result)
	}
}
