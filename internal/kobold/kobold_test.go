package kobold

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/antigravity-dev/cortex/internal/agentloop"
	"github.com/antigravity-dev/cortex/internal/layout"
	"github.com/antigravity-dev/cortex/internal/llm"
	"github.com/antigravity-dev/cortex/internal/planningctx"
	"github.com/antigravity-dev/cortex/internal/plans"
	"github.com/antigravity-dev/cortex/internal/tools"
)

type stubGateway struct{ resp llm.Response }

func (g stubGateway) SendMessage(ctx context.Context, messages []llm.Message, toolSpecs []llm.ToolSpec, systemPrompt string) llm.Response {
	return g.resp
}

func seqIDs() func() string {
	n := 0
	return func() string { n++; return "plan-x" }
}

func TestAssignTaskOnlyFromUnassigned(t *testing.T) {
	k := New("k1", "backend")
	if err := k.AssignTask("t1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := k.AssignTask("t2"); err == nil {
		t.Fatal("expected rejection of second AssignTask")
	}
}

func TestStartWorkRejectedFromUnassigned(t *testing.T) {
	k := New("k1", "backend")
	rc := RunContext{}
	if err := k.StartWork(context.Background(), rc); err == nil {
		t.Fatal("expected rejection of StartWork from Unassigned")
	}
}

func TestStartWorkHappyPath(t *testing.T) {
	k := New("k1", "backend")
	k.AssignTask("t1")

	root := layout.NewRoot(t.TempDir())
	planStore := plans.NewStore(root, time.Millisecond)
	defer planStore.Close()
	pctx := planningctx.New(root, 0, 0)
	pctx.RegisterAgent("app", "k1", "t1", "backend")

	gw := stubGateway{resp: llm.Response{StopReason: llm.StopEndTurn, Content: []llm.ContentBlock{{Text: "done"}}}}
	loop := agentloop.New(gw, tools.NewDispatcher(tools.NewRegistry()), nil, "", "/tmp", 0)

	rc := RunContext{
		ProjectID:         "app",
		TaskID:            "t1",
		AgentType:         "backend",
		ActiveSpecVersion: "v1",
		Loop:              loop,
		Plans:             planStore,
		PlanningContext:   pctx,
		NewPlanID:         seqIDs(),
		DefaultSteps:      []plans.Step{{Index: 0, Title: "step", Status: plans.StepPending}},
	}

	if err := k.StartWork(context.Background(), rc); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !k.IsComplete() {
		t.Fatal("expected Kobold to be Done")
	}
	if !k.IsSuccess() {
		t.Fatalf("expected success, got error: %q", k.ErrorMessage())
	}
}

func TestStartWorkRecordsCompletedStepsAndFilesModified(t *testing.T) {
	k := New("k1", "backend")
	k.AssignTask("t1")

	root := layout.NewRoot(t.TempDir())
	planStore := plans.NewStore(root, time.Millisecond)
	defer planStore.Close()
	pctx := planningctx.New(root, 0, 0)
	pctx.RegisterAgent("app", "k1", "t1", "backend")

	steps := []plans.Step{
		{Index: 0, Title: "a", Status: plans.StepCompleted, FilesToModify: []string{"src/a.go"}},
		{Index: 1, Title: "b", Status: plans.StepPending, FilesToModify: []string{"src/b.go"}},
	}
	planStore.LoadOrCreate("app", "t1", "backend", "v1", seqIDs(), steps)

	gw := stubGateway{resp: llm.Response{StopReason: llm.StopEndTurn, Content: []llm.ContentBlock{{Text: "done"}}}}
	loop := agentloop.New(gw, tools.NewDispatcher(tools.NewRegistry()), nil, "", "/tmp", 0)

	rc := RunContext{
		ProjectID: "app", TaskID: "t1", AgentType: "backend", ActiveSpecVersion: "v1",
		Loop: loop, Plans: planStore, PlanningContext: pctx, NewPlanID: seqIDs(),
	}
	if err := k.StartWork(context.Background(), rc); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	insights := pctx.GetSimilarTaskInsights("app", "backend", 1)
	if len(insights) != 1 {
		t.Fatalf("expected 1 recorded insight, got %d", len(insights))
	}
	got := insights[0]
	if got.Steps != 2 {
		t.Errorf("Steps = %d, want 2", got.Steps)
	}
	if got.CompletedSteps != 1 {
		t.Errorf("CompletedSteps = %d, want 1", got.CompletedSteps)
	}
	if len(got.FilesModified) != 2 {
		t.Errorf("FilesModified = %v, want both step files", got.FilesModified)
	}
}

func TestStartWorkCapturesAgentLoopError(t *testing.T) {
	k := New("k1", "backend")
	k.AssignTask("t1")

	root := layout.NewRoot(t.TempDir())
	planStore := plans.NewStore(root, time.Millisecond)
	defer planStore.Close()
	pctx := planningctx.New(root, 0, 0)

	gw := stubGateway{resp: llm.Response{StopReason: llm.StopError, Content: []llm.ContentBlock{{Text: "provider failed"}}}}
	loop := agentloop.New(gw, tools.NewDispatcher(tools.NewRegistry()), nil, "", "/tmp", 0)

	rc := RunContext{
		ProjectID: "app", TaskID: "t1", AgentType: "backend", ActiveSpecVersion: "v1",
		Loop: loop, Plans: planStore, PlanningContext: pctx, NewPlanID: seqIDs(),
	}
	if err := k.StartWork(context.Background(), rc); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if k.IsSuccess() {
		t.Fatal("expected failure captured")
	}
	if k.ErrorMessage() != "provider failed" {
		t.Fatalf("errorMessage = %q", k.ErrorMessage())
	}
}

func TestIsCompleteFalseBeforeStartWork(t *testing.T) {
	k := New("k1", "backend")
	if k.IsComplete() {
		t.Fatal("expected not complete before StartWork")
	}
}

func TestScanForErrorMarkersMatchesResolvedMarkerList(t *testing.T) {
	tests := []struct {
		text       string
		wantMarker string
		wantFound  bool
	}{
		{"Error: could not reach registry", "Error:", true},
		{"Failed to apply patch", "Failed to", true},
		{"panic: runtime error: index out of range", "panic:", true},
		{"fatal: not a git repository", "fatal:", true},
		{"Traceback (most recent call last):\n  File ...", "Traceback (most recent call last)", true},
		{"all steps completed successfully", "", false},
		{"I encountered an error but recovered", "", false},
	}
	for _, tt := range tests {
		marker, found := scanForErrorMarkers(tt.text)
		if found != tt.wantFound || marker != tt.wantMarker {
			t.Errorf("scanForErrorMarkers(%q) = (%q, %v), want (%q, %v)", tt.text, marker, found, tt.wantMarker, tt.wantFound)
		}
	}
}

func TestScanForErrorMarkersOnlyScansTrailingWindow(t *testing.T) {
	padding := strings.Repeat("a", 600)
	leading := "fatal: " + padding
	if _, found := scanForErrorMarkers(leading); found {
		t.Fatal("expected marker outside trailing 512 chars to be ignored")
	}

	trailing := padding + "fatal: not a git repository"
	marker, found := scanForErrorMarkers(trailing)
	if !found || marker != "fatal:" {
		t.Fatalf("expected marker within trailing window to be found, got (%q, %v)", marker, found)
	}
}

func TestFinalTurnHasToolCallsIgnoresNonAssistantMessages(t *testing.T) {
	transcript := []llm.Message{
		llm.TextMessage(llm.RoleUser, "go"),
		{Role: llm.RoleAssistant, Content: []llm.ContentBlock{{ToolUse: &llm.ToolUse{Name: "run_shell"}}}},
		{Role: llm.RoleUser, Content: []llm.ContentBlock{{Text: "tool result"}}},
	}
	if !finalTurnHasToolCalls(transcript) {
		t.Fatal("expected true: the trailing user message is skipped and the last assistant turn made a tool call")
	}

	transcript = append(transcript, llm.Message{Role: llm.RoleAssistant, Content: []llm.ContentBlock{{Text: "Error: done"}}})
	if finalTurnHasToolCalls(transcript) {
		t.Fatal("expected false: final assistant turn made no tool calls")
	}
}

func TestStartWorkHeuristicMarkerDetected(t *testing.T) {
	k := New("k1", "backend")
	k.AssignTask("t1")

	root := layout.NewRoot(t.TempDir())
	planStore := plans.NewStore(root, time.Millisecond)
	defer planStore.Close()
	pctx := planningctx.New(root, 0, 0)

	gw := stubGateway{resp: llm.Response{StopReason: llm.StopEndTurn, Content: []llm.ContentBlock{{Text: "Traceback (most recent call last):\n  File \"build.py\", line 1"}}}}
	loop := agentloop.New(gw, tools.NewDispatcher(tools.NewRegistry()), nil, "", "/tmp", 0)

	rc := RunContext{
		ProjectID: "app", TaskID: "t1", AgentType: "backend", ActiveSpecVersion: "v1",
		Loop: loop, Plans: planStore, PlanningContext: pctx, NewPlanID: seqIDs(),
	}
	if err := k.StartWork(context.Background(), rc); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if k.IsSuccess() {
		t.Fatal("expected heuristic marker to mark the run as failed")
	}
	if !strings.Contains(k.ErrorMessage(), "Traceback (most recent call last)") {
		t.Fatalf("errorMessage = %q, expected it to name the matched marker", k.ErrorMessage())
	}
}
