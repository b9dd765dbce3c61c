package verifier

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/antigravity-dev/cortex/internal/projects"
)

func TestDetermineStepsPrefersExplicit(t *testing.T) {
	explicit := []Step{{Name: "custom", Command: "true"}}
	got := DetermineSteps(t.TempDir(), explicit)
	if len(got) != 1 || got[0].Name != "custom" {
		t.Fatalf("expected explicit steps to win, got %+v", got)
	}
}

func TestDetermineStepsAutoDetectsGoModule(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "go.mod"), []byte("module x\n"), 0o644); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	steps := DetermineSteps(dir, nil)
	if len(steps) == 0 {
		t.Fatal("expected auto-detected Go steps")
	}
}

func TestRunStepPassesOnExitZero(t *testing.T) {
	check := RunStep(context.Background(), t.TempDir(), Step{Name: "ok", Command: "true", SuccessCriterion: "exit_code_0"}, time.Second)
	if !check.Passed {
		t.Fatalf("expected pass, got %+v", check)
	}
}

func TestRunStepFailsOnNonZeroExit(t *testing.T) {
	check := RunStep(context.Background(), t.TempDir(), Step{Name: "bad", Command: "false", SuccessCriterion: "exit_code_0"}, time.Second)
	if check.Passed {
		t.Fatal("expected failure on nonzero exit")
	}
}

func TestRunStepTimesOutAndMarksFailedWithMarker(t *testing.T) {
	check := RunStep(context.Background(), t.TempDir(), Step{Name: "slow", Command: "sleep 5"}, 10*time.Millisecond)
	if check.Passed {
		t.Fatal("expected timeout to fail the check")
	}
	if !contains(check.Output, "timeout") {
		t.Fatalf("expected explicit timeout marker in output, got %q", check.Output)
	}
}

func TestRunStepRecordsExitCodeDurationAndExecutedAt(t *testing.T) {
	before := time.Now()
	check := RunStep(context.Background(), t.TempDir(), Step{Name: "bad", Type: projects.CheckBuild, Command: "false", SuccessCriterion: "exit_code_0"}, time.Second)
	if check.ExitCode != 1 {
		t.Errorf("ExitCode = %d, want 1", check.ExitCode)
	}
	if check.Type != projects.CheckBuild {
		t.Errorf("Type = %q, want %q", check.Type, projects.CheckBuild)
	}
	if check.ExecutedAt.Before(before) {
		t.Errorf("ExecutedAt = %v, expected it to be at or after %v", check.ExecutedAt, before)
	}
	if check.DurationSeconds < 0 {
		t.Errorf("DurationSeconds = %v, expected non-negative", check.DurationSeconds)
	}
}

func TestRunStepContainsCriterion(t *testing.T) {
	check := RunStep(context.Background(), t.TempDir(), Step{Name: "echo", Command: "echo hello world", SuccessCriterion: "contains:hello"}, time.Second)
	if !check.Passed {
		t.Fatalf("expected contains criterion to pass, got %+v", check)
	}
}

func TestRunStepNotContainsCriterion(t *testing.T) {
	check := RunStep(context.Background(), t.TempDir(), Step{Name: "echo", Command: "echo hello world", SuccessCriterion: "not_contains:goodbye"}, time.Second)
	if !check.Passed {
		t.Fatalf("expected not_contains criterion to pass, got %+v", check)
	}
}

func contains(s, sub string) bool {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return true
		}
	}
	return false
}

func TestEvaluateRequiresAllChecksWhenConfigured(t *testing.T) {
	checks := []projects.VerificationCheck{
		{Priority: projects.PriorityCritical, Passed: true},
		{Priority: projects.PriorityLow, Passed: false},
	}
	if Evaluate(Config{RequireAllChecksPassing: true}, checks) {
		t.Fatal("expected failure when RequireAllChecksPassing and one check failed")
	}
}

func TestEvaluateTolerantOfNonCriticalFailures(t *testing.T) {
	checks := []projects.VerificationCheck{
		{Priority: projects.PriorityCritical, Passed: true},
		{Priority: projects.PriorityLow, Passed: false},
	}
	if !Evaluate(Config{RequireAllChecksPassing: false}, checks) {
		t.Fatal("expected success: no Critical failure")
	}
}

func TestEvaluateFailsOnCriticalFailureEvenWhenNotRequiringAll(t *testing.T) {
	checks := []projects.VerificationCheck{
		{Priority: projects.PriorityCritical, Passed: false},
	}
	if Evaluate(Config{RequireAllChecksPassing: false}, checks) {
		t.Fatal("expected Critical failure to fail overall")
	}
}

func TestBuildFixTasksFileOnlyIncludesFailedChecks(t *testing.T) {
	checks := []projects.VerificationCheck{
		{Name: "test", Command: "npm test", Priority: projects.PriorityHigh, Passed: false, Output: "FAIL src/list.test.ts"},
		{Name: "build", Command: "npm run build", Priority: projects.PriorityCritical, Passed: true},
	}
	f := BuildFixTasksFile(checks)
	if len(f.Tasks) != 1 {
		t.Fatalf("expected exactly 1 fix task, got %d", len(f.Tasks))
	}
	if !contains(f.Tasks[0].Description, "npm test") || !contains(f.Tasks[0].Description, "FAIL src/list.test.ts") {
		t.Fatalf("expected fix task description to mention command and failure output, got %q", f.Tasks[0].Description)
	}
}

func TestRunHappyPathTransitionsToCompleted(t *testing.T) {
	var transitions []projects.Status
	var verification projects.VerificationState

	rc := RunContext{
		Workspace: t.TempDir(),
		Config:    Config{RequireAllChecksPassing: true},
		ExplicitSteps: []Step{{Name: "ok", Command: "true", SuccessCriterion: "exit_code_0", Priority: projects.PriorityCritical}},
		Now:       func() time.Time { return time.Unix(0, 0) },
		SetVerification: func(v projects.VerificationState) error { verification = v; return nil },
		TransitionTo:    func(s projects.Status) error { transitions = append(transitions, s); return nil },
	}

	state, err := Run(context.Background(), rc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if state.Status != projects.VerificationPassed {
		t.Fatalf("expected VerificationPassed, got %s", state.Status)
	}
	if len(transitions) != 2 || transitions[0] != projects.StatusVerified || transitions[1] != projects.StatusCompleted {
		t.Fatalf("expected [Verified, Completed], got %v", transitions)
	}
	if len(verification.Checks) != 1 || !verification.Checks[0].Passed {
		t.Fatalf("unexpected verification state: %+v", verification)
	}
}

func TestRunFailurePathCreatesFixTasksAndReturnsToInProgress(t *testing.T) {
	var transitions []projects.Status
	var fixTasksContent string
	var registeredPath string

	rc := RunContext{
		Workspace: t.TempDir(),
		Config:    Config{RequireAllChecksPassing: true, AutoCreateFixTasks: true},
		ExplicitSteps: []Step{{Name: "test", Command: "false", SuccessCriterion: "exit_code_0", Priority: projects.PriorityHigh}},
		Now:       func() time.Time { return time.Unix(0, 0) },
		SetVerification: func(v projects.VerificationState) error { return nil },
		PersistFixTasks: func(content string) (string, error) { fixTasksContent = content; return "verification-fixes-tasks.md", nil },
		RegisterFixTasks: func(path string) error { registeredPath = path; return nil },
		TransitionTo:     func(s projects.Status) error { transitions = append(transitions, s); return nil },
	}

	state, err := Run(context.Background(), rc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if state.Status != projects.VerificationFailed {
		t.Fatalf("expected VerificationFailed, got %s", state.Status)
	}
	if len(transitions) != 1 || transitions[0] != projects.StatusInProgress {
		t.Fatalf("expected [InProgress], got %v", transitions)
	}
	if fixTasksContent == "" || registeredPath == "" {
		t.Fatal("expected fix tasks file to be persisted and registered")
	}
}

func TestRunSkipsImportedProjectsWhenConfigured(t *testing.T) {
	var transitions []projects.Status
	rc := RunContext{
		Workspace: t.TempDir(),
		Config:    Config{SkipForImportedProjects: true},
		Imported:  true,
		Now:       func() time.Time { return time.Unix(0, 0) },
		TransitionTo: func(s projects.Status) error { transitions = append(transitions, s); return nil },
	}
	state, err := Run(context.Background(), rc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if state.Status != projects.VerificationSkipped {
		t.Fatalf("expected VerificationSkipped, got %s", state.Status)
	}
	if len(transitions) != 2 {
		t.Fatalf("expected project to still progress to Completed, got %v", transitions)
	}
}
