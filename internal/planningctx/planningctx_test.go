package planningctx

import (
	"os"
	"testing"
	"time"

	"github.com/antigravity-dev/cortex/internal/layout"
)

func TestRegisterAndUnregisterAgent(t *testing.T) {
	c := New(layout.NewRoot(t.TempDir()), 0, 0)
	c.RegisterAgent("app", "agent-1", "task-1", "backend")
	c.SetFilesToModify("app", "agent-1", []string{"src/api/users.ts"})

	if !c.IsFileInUse("app", "src/api/users.ts") {
		t.Fatal("expected file to be reported in use")
	}

	c.UnregisterAgent("app", "agent-1", PlanningInsight{AgentType: "backend", Success: true})
	if c.IsFileInUse("app", "src/api/users.ts") {
		t.Fatal("expected file to be free after unregister")
	}
}

func TestFileConflictAdvisoryAcrossTwoAgents(t *testing.T) {
	c := New(layout.NewRoot(t.TempDir()), 0, 0)
	c.RegisterAgent("app", "A", "t1", "backend")
	c.SetFilesToModify("app", "A", []string{"src/api/users.ts"})
	c.RegisterAgent("app", "B", "t2", "backend")
	c.SetFilesToModify("app", "B", []string{"src/api/users.ts"})

	if !c.IsFileInUse("app", "src/api/users.ts") {
		t.Fatal("expected in-use while either agent holds it")
	}
	c.UnregisterAgent("app", "A", PlanningInsight{AgentType: "backend"})
	if !c.IsFileInUse("app", "src/api/users.ts") {
		t.Fatal("expected still in-use via B after A unregisters")
	}
	c.UnregisterAgent("app", "B", PlanningInsight{AgentType: "backend"})
	if c.IsFileInUse("app", "src/api/users.ts") {
		t.Fatal("expected free after both unregister")
	}
}

func TestInsightCapEvictsOldest(t *testing.T) {
	c := New(layout.NewRoot(t.TempDir()), 0, 2)
	c.RegisterAgent("app", "A", "t1", "backend")
	c.UnregisterAgent("app", "A", PlanningInsight{AgentType: "backend", TaskID: "t1"})
	c.RegisterAgent("app", "A", "t2", "backend")
	c.UnregisterAgent("app", "A", PlanningInsight{AgentType: "backend", TaskID: "t2"})
	c.RegisterAgent("app", "A", "t3", "backend")
	c.UnregisterAgent("app", "A", PlanningInsight{AgentType: "backend", TaskID: "t3"})

	insights := c.GetSimilarTaskInsights("app", "backend", 10)
	if len(insights) != 2 {
		t.Fatalf("expected cap of 2, got %d", len(insights))
	}
	if insights[0].TaskID != "t3" {
		t.Fatalf("expected most recent first, got %q", insights[0].TaskID)
	}
}

func TestGetSimilarTaskInsightsFiltersByAgentType(t *testing.T) {
	c := New(layout.NewRoot(t.TempDir()), 0, 0)
	c.RegisterAgent("app", "A", "t1", "backend")
	c.UnregisterAgent("app", "A", PlanningInsight{AgentType: "backend"})
	c.RegisterAgent("app", "B", "t2", "frontend")
	c.UnregisterAgent("app", "B", PlanningInsight{AgentType: "frontend"})

	insights := c.GetSimilarTaskInsights("app", "backend", 10)
	if len(insights) != 1 {
		t.Fatalf("expected 1 backend insight, got %d", len(insights))
	}
}

func TestGetCrossProjectInsightsExcludesGivenProject(t *testing.T) {
	c := New(layout.NewRoot(t.TempDir()), 0, 0)
	c.RegisterAgent("app1", "A", "t1", "backend")
	c.UnregisterAgent("app1", "A", PlanningInsight{AgentType: "backend"})
	c.RegisterAgent("app2", "B", "t2", "backend")
	c.UnregisterAgent("app2", "B", PlanningInsight{AgentType: "backend"})

	insights := c.GetCrossProjectInsights("app1", "backend", 10)
	if len(insights) != 1 {
		t.Fatalf("expected only app2's insight, got %d", len(insights))
	}
}

func TestGetProjectStatisticsAggregates(t *testing.T) {
	c := New(layout.NewRoot(t.TempDir()), 0, 0)
	c.RegisterAgent("app", "A", "t1", "backend")
	c.UnregisterAgent("app", "A", PlanningInsight{AgentType: "backend", Success: true, Duration: 10 * time.Second, Steps: 4, Iterations: 6})
	c.RegisterAgent("app", "B", "t2", "backend")
	c.UnregisterAgent("app", "B", PlanningInsight{AgentType: "backend", Success: false, Duration: 20 * time.Second, Steps: 2, Iterations: 4})

	stats := c.GetProjectStatistics("app")
	if stats.TotalRuns != 2 {
		t.Fatalf("TotalRuns = %d", stats.TotalRuns)
	}
	if stats.SuccessRate != 0.5 {
		t.Fatalf("SuccessRate = %v", stats.SuccessRate)
	}
	if stats.AverageDuration != 15*time.Second {
		t.Fatalf("AverageDuration = %v", stats.AverageDuration)
	}
}

func TestLRUEvictionPersistsToDisk(t *testing.T) {
	root := layout.NewRoot(t.TempDir())
	c := New(root, 1, 0) // cap of 1 forces eviction on the 2nd project touched

	c.RegisterAgent("app1", "A", "t1", "backend")
	c.RegisterAgent("app2", "B", "t2", "backend") // evicts app1, flushing it first

	if _, err := os.Stat(root.Project("app1").PlanningContextJSON()); err != nil {
		t.Fatalf("expected evicted context persisted to disk: %v", err)
	}

	reloaded := New(root, 1, 0)
	if !reloaded.IsFileInUse("app1", "nonexistent.go") {
		// just confirm loading doesn't error; file-in-use is false either way
	}
	stats := reloaded.GetProjectStatistics("app1")
	if stats.TotalRuns != 0 {
		t.Fatalf("unexpected stats after reload: %+v", stats)
	}
}

func TestPersistAllContexts(t *testing.T) {
	root := layout.NewRoot(t.TempDir())
	c := New(root, 0, 0)
	c.RegisterAgent("app", "A", "t1", "backend")
	if err := c.PersistAllContexts(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
