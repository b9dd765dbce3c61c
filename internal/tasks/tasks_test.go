package tasks

import (
	"strings"
	"testing"
)

const sampleFile = `# Backend tasks

Some notes above the table.

| id | description | status | assignee |
|---|---|---|---|
| a1b2c3d4 | [priority:Critical] wire up auth | Working | kob-123 |
| e5f6g7h8 | add login form | unassigned | unassigned |
`

func TestParseExtractsPreambleAndRows(t *testing.T) {
	f, err := Parse(sampleFile)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(f.Preamble, "Some notes above the table.") {
		t.Fatalf("expected preamble preserved, got %q", f.Preamble)
	}
	if len(f.Tasks) != 2 {
		t.Fatalf("expected 2 tasks, got %d", len(f.Tasks))
	}
	if f.Tasks[0].ID != "a1b2c3d4" || f.Tasks[0].Status != StatusWorking {
		t.Fatalf("unexpected first task: %+v", f.Tasks[0])
	}
	if f.Tasks[0].Priority != PriorityCritical {
		t.Fatalf("expected priority extracted from inline tag, got %q", f.Tasks[0].Priority)
	}
	if f.Tasks[1].Status != StatusUnassigned || f.Tasks[1].Assignee != "unassigned" {
		t.Fatalf("unexpected second task: %+v", f.Tasks[1])
	}
}

func TestParseIsCaseInsensitiveOnStatus(t *testing.T) {
	content := "| id | description | status | assignee |\n|---|---|---|---|\n| x1 | do thing | wORKing | k1 |\n"
	f, err := Parse(content)
	if err != nil {
		t.Fatal(err)
	}
	if f.Tasks[0].Status != StatusWorking {
		t.Fatalf("expected case-insensitive status match, got %q", f.Tasks[0].Status)
	}
}

func TestParseToleratesColumnReorder(t *testing.T) {
	content := "| status | assignee | id | description |\n|---|---|---|---|\n| Done | k1 | x1 | finished task |\n"
	f, err := Parse(content)
	if err != nil {
		t.Fatal(err)
	}
	if f.Tasks[0].ID != "x1" || f.Tasks[0].Status != StatusDone {
		t.Fatalf("unexpected task after reorder: %+v", f.Tasks[0])
	}
}

func TestParseToleratesBlankLinesBetweenRows(t *testing.T) {
	content := "| id | description | status | assignee |\n|---|---|---|---|\n| x1 | a | Done | k1 |\n\n\n| x2 | b | Done | k2 |\n"
	f, err := Parse(content)
	if err != nil {
		t.Fatal(err)
	}
	if len(f.Tasks) != 2 {
		t.Fatalf("expected 2 tasks despite blank lines, got %d", len(f.Tasks))
	}
}

func TestParseRejectsMismatchedHeader(t *testing.T) {
	content := "| name | notes |\n|---|---|\n| x | y |\n"
	if _, err := Parse(content); err == nil {
		t.Fatal("expected header mismatch error")
	}
}

func TestRenderPreservesPreambleAndWritesCanonicalHeader(t *testing.T) {
	f, err := Parse(sampleFile)
	if err != nil {
		t.Fatal(err)
	}
	out := f.Render()
	if !strings.Contains(out, "Some notes above the table.") {
		t.Fatal("expected preamble preserved in render")
	}
	if !strings.Contains(out, "| id | description | status | assignee |") {
		t.Fatal("expected canonical header in render")
	}
}

func TestRoundTripPreservesTaskCount(t *testing.T) {
	f, err := Parse(sampleFile)
	if err != nil {
		t.Fatal(err)
	}
	rendered := f.Render()
	reparsed, err := Parse(rendered)
	if err != nil {
		t.Fatalf("re-parse failed: %v", err)
	}
	if len(reparsed.Tasks) != len(f.Tasks) {
		t.Fatalf("task count changed across round trip: %d != %d", len(reparsed.Tasks), len(f.Tasks))
	}
}

func TestIDFromDescriptionTag(t *testing.T) {
	id, ok := IDFromDescription("do the thing [id:abc123] [priority:High]")
	if !ok || id != "abc123" {
		t.Fatalf("got %q, %v", id, ok)
	}
}

func TestNewEmptyFileRenders(t *testing.T) {
	f := New("# Area tasks")
	f.Tasks = append(f.Tasks, Task{ID: "t1", Description: "first task", Status: StatusUnassigned, Assignee: UnassignedAssignee})
	out := f.Render()
	if !strings.Contains(out, "t1") {
		t.Fatal("expected task row in render")
	}
}
