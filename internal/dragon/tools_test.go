package dragon

import (
	"context"
	"testing"

	"github.com/antigravity-dev/cortex/internal/layout"
	"github.com/antigravity-dev/cortex/internal/projects"
	"github.com/antigravity-dev/cortex/internal/specversion"
)

func testIDSource() func() string {
	n := 0
	return func() string {
		n++
		ids := []string{"id-1", "id-2", "id-3", "id-4"}
		return ids[(n-1)%len(ids)]
	}
}

func newTestDeps(t *testing.T) (Deps, *projects.Repository) {
	t.Helper()
	root := layout.NewRoot(t.TempDir())
	repo, err := projects.Load(root, testIDSource())
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	return Deps{Repo: repo, Specs: specversion.New(repo), Root: root}, repo
}

func TestWriteSpecificationCreatesNewPrototypeProject(t *testing.T) {
	deps, repo := newTestDeps(t)
	tool := writeSpecificationTool{deps}

	out, err := tool.Execute(context.Background(), "", map[string]any{
		"filename": "Todo App",
		"content":  "# Todo\n\n- add\n- list\n",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out == "" {
		t.Fatal("expected non-empty confirmation")
	}

	p, err := repo.GetByName("todo-app")
	if err != nil {
		t.Fatalf("expected project registered: %v", err)
	}
	if p.Status != projects.StatusPrototype {
		t.Fatalf("status = %s, want Prototype", p.Status)
	}
	if len(p.SpecVersions) != 1 {
		t.Fatalf("expected one spec version recorded, got %d", len(p.SpecVersions))
	}
}

func TestWriteSpecificationOverwritesExistingProject(t *testing.T) {
	deps, repo := newTestDeps(t)
	tool := writeSpecificationTool{deps}

	if _, err := tool.Execute(context.Background(), "", map[string]any{"filename": "todo-app", "content": "v1"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := tool.Execute(context.Background(), "", map[string]any{"filename": "todo-app", "content": "v2"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	p, err := repo.GetByName("todo-app")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(p.SpecVersions) != 2 {
		t.Fatalf("expected two spec versions after a content change, got %d", len(p.SpecVersions))
	}
}

func TestApproveSpecificationRequiresExactYes(t *testing.T) {
	deps, repo := newTestDeps(t)
	if _, err := repo.Create("todo-app", projects.StatusPrototype); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	tool := approveSpecificationTool{deps}

	if _, err := tool.Execute(context.Background(), "", map[string]any{"projectName": "todo-app", "confirmation": "sure"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	p, _ := repo.GetByName("todo-app")
	if p.Status != projects.StatusPrototype {
		t.Fatalf("expected status unchanged on non-yes confirmation, got %s", p.Status)
	}

	if _, err := tool.Execute(context.Background(), "", map[string]any{"projectName": "todo-app", "confirmation": "yes"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	p, _ = repo.GetByName("todo-app")
	if p.Status != projects.StatusNew {
		t.Fatalf("expected status New after yes confirmation, got %s", p.Status)
	}
}

func TestAddExistingProjectScansDirectoryAndSetsAllowedPath(t *testing.T) {
	deps, repo := newTestDeps(t)
	scanDir := t.TempDir()
	tool := addExistingProjectTool{deps}

	out, err := tool.Execute(context.Background(), "", map[string]any{"path": scanDir, "projectName": "legacy"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out == "" {
		t.Fatal("expected non-empty confirmation")
	}

	p, err := repo.GetByName("legacy")
	if err != nil {
		t.Fatalf("expected project registered: %v", err)
	}
	if p.Status != projects.StatusPrototype {
		t.Fatalf("status = %s, want Prototype", p.Status)
	}
	if len(p.AllowedPaths) != 1 || p.AllowedPaths[0] != scanDir {
		t.Fatalf("expected allowed path set to scanned dir, got %v", p.AllowedPaths)
	}
}

func TestListProjectsEnumeratesAll(t *testing.T) {
	deps, repo := newTestDeps(t)
	if _, err := repo.Create("one", projects.StatusPrototype); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := repo.Create("two", projects.StatusNew); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	tool := listProjectsTool{deps}

	out, err := tool.Execute(context.Background(), "", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !contains(out, "one") || !contains(out, "two") {
		t.Fatalf("expected both projects listed, got %q", out)
	}
}

func TestRetryVerificationMovesBackToAwaitingVerification(t *testing.T) {
	deps, repo := newTestDeps(t)
	p, err := repo.Create("todo-app", projects.StatusPrototype)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, st := range []projects.Status{projects.StatusNew, projects.StatusWyrmAssigned, projects.StatusAnalyzed, projects.StatusInProgress} {
		if err := repo.SetStatus(p.ID, st); err != nil {
			t.Fatalf("unexpected error advancing to %s: %v", st, err)
		}
	}

	tool := retryVerificationTool{deps}
	if _, err := tool.Execute(context.Background(), "", map[string]any{"projectName": "todo-app"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, _ := repo.GetByName("todo-app")
	if got.Status != projects.StatusAwaitingVerification {
		t.Fatalf("status = %s, want AwaitingVerification", got.Status)
	}
	if got.Verification.Status != projects.VerificationNotStarted {
		t.Fatalf("expected verification reset to NotStarted, got %s", got.Verification.Status)
	}
}

func TestSkipVerificationAdvancesToCompleted(t *testing.T) {
	deps, repo := newTestDeps(t)
	p, err := repo.Create("todo-app", projects.StatusPrototype)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, st := range []projects.Status{projects.StatusNew, projects.StatusWyrmAssigned, projects.StatusAnalyzed, projects.StatusInProgress, projects.StatusAwaitingVerification} {
		if err := repo.SetStatus(p.ID, st); err != nil {
			t.Fatalf("unexpected error advancing to %s: %v", st, err)
		}
	}

	tool := skipVerificationTool{deps}
	if _, err := tool.Execute(context.Background(), "", map[string]any{"projectName": "todo-app"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, _ := repo.GetByName("todo-app")
	if got.Status != projects.StatusCompleted {
		t.Fatalf("status = %s, want Completed", got.Status)
	}
	if got.Verification.Status != projects.VerificationSkipped {
		t.Fatalf("expected verification Skipped, got %s", got.Verification.Status)
	}
}

func TestViewSpecificationHistoryReportsVersions(t *testing.T) {
	deps, repo := newTestDeps(t)
	writeTool := writeSpecificationTool{deps}
	if _, err := writeTool.Execute(context.Background(), "", map[string]any{"filename": "todo-app", "content": "v1"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	historyTool := viewSpecificationHistoryTool{deps}
	out, err := historyTool.Execute(context.Background(), "", map[string]any{"projectName": "todo-app"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !contains(out, "(active)") {
		t.Fatalf("expected active version marker in output, got %q", out)
	}
	_ = repo
}

func contains(s, sub string) bool {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return true
		}
	}
	return false
}
