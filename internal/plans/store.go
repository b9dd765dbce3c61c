package plans

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/antigravity-dev/cortex/internal/atomicfile"
	"github.com/antigravity-dev/cortex/internal/debounce"
	"github.com/antigravity-dev/cortex/internal/layout"
)

// indexEntry is one row of plan-index.json: a durable map from
// (projectId, taskId) to the plan's on-disk basename.
type indexEntry struct {
	TaskID   string `json:"taskId"`
	Basename string `json:"basename"`
}

// Store is the durable, in-memory-indexed plan store (§3, §4.4, §4.9
// ownership graph: "the plan store owns plans keyed by project+task").
// Each project gets its own debounced writer so a burst of
// update_plan_step calls across many tasks in one project coalesces
// into a single flush per project (§4.5's debounce pattern, reused here
// per the spec's own cross-reference at §5: "one debounced-writer task
// per ... plan store").
type Store struct {
	mu      sync.Mutex
	root    layout.Root
	plans   map[string]*Plan // key: projectID + "/" + taskID
	dirty   map[string]bool  // projectIDs with unsaved changes
	writers map[string]*debounce.Writer
	window  time.Duration
	now     func() time.Time
}

func key(projectID, taskID string) string { return projectID + "/" + taskID }

// Note: projectID here is the project's sanitized name, the same
// identifier layout.Root.Project resolves directory paths from — callers
// pass Project.Name, not Project.ID, when wiring this store.

// NewStore builds an empty Store rooted at root.
func NewStore(root layout.Root, window time.Duration) *Store {
	return &Store{
		root:    root,
		plans:   make(map[string]*Plan),
		dirty:   make(map[string]bool),
		writers: make(map[string]*debounce.Writer),
		window:  window,
		now:     time.Now,
	}
}

// Get returns a project+task's in-memory plan, loading it from disk on
// first access if present.
func (s *Store) Get(projectID, taskID string) (*Plan, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getLocked(projectID, taskID)
}

func (s *Store) getLocked(projectID, taskID string) (*Plan, bool) {
	k := key(projectID, taskID)
	if p, ok := s.plans[k]; ok {
		return p, true
	}
	p, err := s.loadFromDisk(projectID, taskID)
	if err != nil || p == nil {
		return nil, false
	}
	s.plans[k] = p
	return p, true
}

func (s *Store) planPath(projectID, taskID string) string {
	return filepath.Join(s.root.Project(projectID).KoboldPlansDir(), taskID+"-plan.json")
}

func (s *Store) loadFromDisk(projectID, taskID string) (*Plan, error) {
	data, err := os.ReadFile(s.planPath(projectID, taskID))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var p Plan
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse plan %s/%s: %w", projectID, taskID, err)
	}
	return &p, nil
}

// LoadOrCreate resolves a project/task's plan (§4.4 step 2). If a
// persisted plan exists but its specVersionId differs from
// activeSpecVersionID, it is invalidated (a fresh plan is created in its
// place and a drift entry is appended to the new plan's log, mirroring
// §8 scenario 4's required log line).
func (s *Store) LoadOrCreate(projectID, taskID, agentType, activeSpecVersionID string, newPlanID func() string, steps []Step) (plan *Plan, recreated bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.getLocked(projectID, taskID); ok {
		if existing.SpecVersionID == activeSpecVersionID {
			return existing, false
		}
		driftLog := fmt.Sprintf("spec version changed %s→%s, regenerating", existing.SpecVersionID, activeSpecVersionID)
		fresh := s.newPlan(projectID, taskID, agentType, activeSpecVersionID, newPlanID(), steps)
		fresh.Log = append(fresh.Log, driftLog)
		s.plans[key(projectID, taskID)] = fresh
		s.markDirtyLocked(projectID)
		return fresh, true
	}

	fresh := s.newPlan(projectID, taskID, agentType, activeSpecVersionID, newPlanID(), steps)
	s.plans[key(projectID, taskID)] = fresh
	s.markDirtyLocked(projectID)
	return fresh, false
}

func (s *Store) newPlan(projectID, taskID, agentType, specVersionID, planID string, steps []Step) *Plan {
	now := s.now()
	return &Plan{
		PlanID:           planID,
		ProjectID:        projectID,
		TaskID:           taskID,
		AgentType:        agentType,
		Status:           StatusPlanning,
		CurrentStepIndex: 0,
		Steps:            steps,
		SpecVersionID:    specVersionID,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

// UpdateStep applies a step transition under the store's lock and
// enqueues a debounced save — the update_plan_step tool's effect (§4.4
// step 4).
func (s *Store) UpdateStep(projectID, taskID string, index int, status StepStatus, output string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.getLocked(projectID, taskID)
	if !ok {
		return fmt.Errorf("no plan for %s/%s", projectID, taskID)
	}
	p.AdvanceStep(index, status, output, s.now())
	s.markDirtyLocked(projectID)
	return nil
}

// Finalize sets a plan's terminal status on Kobold loop return (§4.4
// step 6): Completed iff every step is terminal, else left InProgress.
func (s *Store) Finalize(projectID, taskID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.getLocked(projectID, taskID)
	if !ok {
		return fmt.Errorf("no plan for %s/%s", projectID, taskID)
	}
	if p.AllStepsTerminal() {
		p.Status = StatusCompleted
	} else {
		p.Status = StatusInProgress
	}
	p.UpdatedAt = s.now()
	s.markDirtyLocked(projectID)
	return nil
}

// markDirtyLocked flags projectID and ensures its debounced writer
// exists. Caller must hold s.mu.
func (s *Store) markDirtyLocked(projectID string) {
	s.dirty[projectID] = true
	if _, ok := s.writers[projectID]; !ok {
		pid := projectID
		s.writers[pid] = debounce.New(s.window, func() { s.flushProject(pid) })
	}
	s.writers[projectID].Enqueue()
}

// flushProject persists every in-memory plan for projectID plus its
// plan-index.json. Called from the debounce writer goroutine — it
// re-acquires the lock rather than assuming it's held.
func (s *Store) flushProject(projectID string) {
	s.mu.Lock()
	var toWrite []*Plan
	for k, p := range s.plans {
		if p.ProjectID == projectID {
			clone := *p
			toWrite = append(toWrite, &clone)
			_ = k
		}
	}
	delete(s.dirty, projectID)
	s.mu.Unlock()

	var index []indexEntry
	for _, p := range toWrite {
		data, err := json.MarshalIndent(p, "", "  ")
		if err != nil {
			continue // write failure: leave in-memory tracker unchanged, retry on next dirty mark
		}
		basename := p.TaskID + "-plan.json"
		path := filepath.Join(s.root.Project(projectID).KoboldPlansDir(), basename)
		if err := atomicfile.Write(path, data, 0o644); err != nil {
			continue
		}
		_ = atomicfile.Write(
			filepath.Join(s.root.Project(projectID).KoboldPlansDir(), p.TaskID+"-plan.md"),
			[]byte(renderMarkdown(p)), 0o644,
		)
		index = append(index, indexEntry{TaskID: p.TaskID, Basename: basename})
	}

	if idxData, err := json.MarshalIndent(index, "", "  "); err == nil {
		_ = atomicfile.Write(s.root.Project(projectID).PlanIndexJSON(), idxData, 0o644)
	}
}

// Close flushes and stops every project's debounced writer (§4.5: "on
// shutdown the pending write is flushed").
func (s *Store) Close() {
	s.mu.Lock()
	writers := make([]*debounce.Writer, 0, len(s.writers))
	for _, w := range s.writers {
		writers = append(writers, w)
	}
	s.mu.Unlock()
	for _, w := range writers {
		w.Close()
	}
}

func renderMarkdown(p *Plan) string {
	out := fmt.Sprintf("# Plan %s (task %s)\n\nStatus: %s\n\n", p.PlanID, p.TaskID, p.Status)
	for _, step := range p.Steps {
		out += fmt.Sprintf("- [%s] (%d) %s — %s\n", step.Status, step.Index, step.Title, step.Description)
	}
	return out
}
