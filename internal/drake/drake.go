// Package drake implements the Drake supervisor (§3 "Drake", §4.5):
// each Drake owns one task file, summons/unsummons Kobolds through a
// factory (indirection so a Drake holds only task->koboldId mappings),
// mirrors Kobold status into the task tracker, detects stuck workers,
// and debounces task-file writes.
package drake

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/antigravity-dev/cortex/internal/debounce"
	"github.com/antigravity-dev/cortex/internal/kobold"
	"github.com/antigravity-dev/cortex/internal/planningctx"
	"github.com/antigravity-dev/cortex/internal/tasks"
)

// DefaultStuckTimeout is the §4.5 default ("timeout (default 30 min)").
const DefaultStuckTimeout = 30 * time.Minute

const stuckMessage = "timeout after 30 minutes"

// KoboldFactory tracks live Kobold instances, mirroring the §9 "factories
// that track live instances become indexed stores" design note. Drakes
// never hold a *kobold.Kobold directly — only the id, looked up through
// the factory on demand.
type KoboldFactory struct {
	mu   sync.Mutex
	byID map[string]*kobold.Kobold
}

// NewKoboldFactory builds an empty factory.
func NewKoboldFactory() *KoboldFactory {
	return &KoboldFactory{byID: make(map[string]*kobold.Kobold)}
}

// Summon creates and registers a new Kobold.
func (f *KoboldFactory) Summon(id, agentType string) *kobold.Kobold {
	f.mu.Lock()
	defer f.mu.Unlock()
	k := kobold.New(id, agentType)
	f.byID[id] = k
	return k
}

// Get resolves a live Kobold by id.
func (f *KoboldFactory) Get(id string) (*kobold.Kobold, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	k, ok := f.byID[id]
	return k, ok
}

// Unsummon removes a Kobold from the factory (§4.5 UnsummonCompletedKobolds,
// HandleStuckKobolds).
func (f *KoboldFactory) Unsummon(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.byID, id)
}

// mapping is one Drake's task->kobold binding.
type mapping struct {
	taskID    string
	koboldID  string
	agentType string
}

// Drake owns one task file and the Kobolds working its rows.
type Drake struct {
	mu sync.Mutex

	Name         string
	ProjectID    string
	TaskFilePath string

	factory  *KoboldFactory
	planning *planningctx.Context
	logger   *slog.Logger

	file     *tasks.File
	mappings map[string]mapping // taskID -> mapping

	writer *debounce.Writer
	load   func() (string, error)
	save   func(content string) error
}

// Config bundles a Drake's dependencies and file-IO callbacks — kept as
// plain funcs so the tests don't need a real filesystem.
type Config struct {
	Name         string
	ProjectID    string
	TaskFilePath string
	Factory      *KoboldFactory
	Planning     *planningctx.Context
	Logger       *slog.Logger
	Load         func() (string, error)
	Save         func(content string) error
	DebounceWindow time.Duration
}

// New loads a Drake's task file. A parse failure aborts construction
// (§4.5: "parse failures on the task file cause Drake startup to abort
// for that file, never silently overwrite user edits").
func New(cfg Config) (*Drake, error) {
	content, err := cfg.Load()
	if err != nil {
		return nil, fmt.Errorf("load task file %s: %w", cfg.TaskFilePath, err)
	}
	file, err := tasks.Parse(content)
	if err != nil {
		return nil, fmt.Errorf("parse task file %s: %w", cfg.TaskFilePath, err)
	}

	d := &Drake{
		Name:         cfg.Name,
		ProjectID:    cfg.ProjectID,
		TaskFilePath: cfg.TaskFilePath,
		factory:      cfg.Factory,
		planning:     cfg.Planning,
		logger:       cfg.Logger,
		file:         file,
		mappings:     make(map[string]mapping),
		load:         cfg.Load,
		save:         cfg.Save,
	}
	d.writer = debounce.New(cfg.DebounceWindow, d.flush)
	return d, nil
}

// SummonKobold creates a Kobold through the factory, assigns the task,
// records the mapping, registers the agent in the shared planning
// context, and enqueues an updated task row (§4.5).
func (d *Drake) SummonKobold(koboldID, taskID, agentType string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	k := d.factory.Summon(koboldID, agentType)
	if err := k.AssignTask(taskID); err != nil {
		d.factory.Unsummon(koboldID)
		return err
	}
	d.mappings[taskID] = mapping{taskID: taskID, koboldID: koboldID, agentType: agentType}
	d.planning.RegisterAgent(d.ProjectID, koboldID, taskID, agentType)
	d.setTaskRowLocked(taskID, tasks.StatusWorking, koboldID)
	d.writer.Enqueue()
	return nil
}

// StartKoboldWork runs a Kobold's StartWork to completion (via the
// caller-supplied run function, since the actual agent loop wiring lives
// in internal/kobold and varies per call site), then syncs its terminal
// status into the task row and unregisters it from shared context.
func (d *Drake) StartKoboldWork(ctx context.Context, koboldID string, run func(ctx context.Context, k *kobold.Kobold) error) error {
	k, ok := d.factory.Get(koboldID)
	if !ok {
		return fmt.Errorf("no summoned kobold %s", koboldID)
	}
	if err := run(ctx, k); err != nil {
		return err
	}
	d.SyncTaskFromKobold(koboldID)
	return nil
}

// SyncTaskFromKobold mirrors a terminal Kobold's status into its task
// row (§4.5).
func (d *Drake) SyncTaskFromKobold(koboldID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	m, taskID, ok := d.findMappingLocked(koboldID)
	if !ok {
		return
	}
	k, ok := d.factory.Get(koboldID)
	if !ok {
		return
	}
	if !k.IsComplete() {
		return
	}
	status := tasks.StatusDone
	if k.HasError() {
		status = tasks.StatusFailed
	}
	d.setTaskRowLocked(taskID, status, koboldID)
	_ = m
	d.writer.Enqueue()
}

// MonitorTasks mirrors current status for every mapped (task, kobold)
// pair. Idempotent (§4.5).
func (d *Drake) MonitorTasks() {
	d.mu.Lock()
	ids := make([]string, 0, len(d.mappings))
	for _, m := range d.mappings {
		ids = append(ids, m.koboldID)
	}
	d.mu.Unlock()
	for _, id := range ids {
		d.SyncTaskFromKobold(id)
	}
}

// HandleStuckKobolds flags any Kobold Working longer than timeout: its
// task row is marked Failed with a timeout message, and it is
// unsummoned. The Kobold itself is not forced to a new state (§4.5).
func (d *Drake) HandleStuckKobolds(timeout time.Duration) int {
	if timeout <= 0 {
		timeout = DefaultStuckTimeout
	}
	d.mu.Lock()
	type stuckEntry struct {
		taskID, koboldID string
	}
	var stuck []stuckEntry
	now := time.Now()
	for taskID, m := range d.mappings {
		k, ok := d.factory.Get(m.koboldID)
		if !ok || k.Status() != kobold.StatusWorking {
			continue
		}
		if startedAt := k.StartedAt(); !startedAt.IsZero() && now.Sub(startedAt) > timeout {
			stuck = append(stuck, stuckEntry{taskID: taskID, koboldID: m.koboldID})
		}
	}
	for _, s := range stuck {
		d.markStuckLocked(s.taskID, s.koboldID)
		delete(d.mappings, s.taskID)
	}
	d.mu.Unlock()

	for _, s := range stuck {
		d.factory.Unsummon(s.koboldID)
		if d.logger != nil {
			d.logger.Warn("unsummoned stuck kobold", "kobold", s.koboldID, "task", s.taskID, "timeout", timeout)
		}
	}
	if len(stuck) > 0 {
		d.writer.Enqueue()
	}
	return len(stuck)
}

// UnsummonCompletedKobolds removes Done kobolds from the factory and the
// mapping (§4.5).
func (d *Drake) UnsummonCompletedKobolds() int {
	d.mu.Lock()
	var done []string
	for taskID, m := range d.mappings {
		if k, ok := d.factory.Get(m.koboldID); ok && k.IsComplete() {
			done = append(done, taskID)
		}
	}
	koboldIDs := make([]string, 0, len(done))
	for _, taskID := range done {
		koboldIDs = append(koboldIDs, d.mappings[taskID].koboldID)
		delete(d.mappings, taskID)
	}
	d.mu.Unlock()

	for _, id := range koboldIDs {
		d.factory.Unsummon(id)
	}
	return len(done)
}

// UpdateTasksFile serializes the tracker to the task file immediately,
// bypassing the debounce window (used on shutdown flush).
func (d *Drake) UpdateTasksFile() error {
	return d.flushErr()
}

// Close stops the debounced writer, flushing any pending write (§4.5:
// "on shutdown the pending write is flushed").
func (d *Drake) Close() {
	d.writer.Close()
}

// UnassignedTasks returns a snapshot of the task rows this Drake's file
// currently carries with no Kobold mapped yet, for the DrakeExecution
// periodic worker to pick up (§4.6).
func (d *Drake) UnassignedTasks() []tasks.Task {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]tasks.Task, 0)
	for _, t := range d.file.Tasks {
		if t.Status == tasks.StatusUnassigned {
			if _, mapped := d.mappings[t.ID]; !mapped {
				out = append(out, t)
			}
		}
	}
	return out
}

// markStuckLocked marks a task row Failed and appends the timeout
// message to its description, unless already present.
func (d *Drake) markStuckLocked(taskID, koboldID string) {
	for i := range d.file.Tasks {
		if d.file.Tasks[i].ID == taskID {
			d.file.Tasks[i].Status = tasks.StatusFailed
			d.file.Tasks[i].Assignee = koboldID
			if !strings.Contains(d.file.Tasks[i].Description, stuckMessage) {
				d.file.Tasks[i].Description = strings.TrimSpace(d.file.Tasks[i].Description) + " (" + stuckMessage + ")"
			}
			return
		}
	}
}

func (d *Drake) setTaskRowLocked(taskID string, status tasks.Status, koboldID string) {
	for i := range d.file.Tasks {
		if d.file.Tasks[i].ID == taskID {
			d.file.Tasks[i].Status = status
			d.file.Tasks[i].Assignee = koboldID
			return
		}
	}
}

func (d *Drake) findMappingLocked(koboldID string) (mapping, string, bool) {
	for taskID, m := range d.mappings {
		if m.koboldID == koboldID {
			return m, taskID, true
		}
	}
	return mapping{}, "", false
}

func (d *Drake) flush() {
	_ = d.flushErr()
}

// flushErr performs one atomic write. Write failures log and leave the
// in-memory tracker unchanged so a retry is possible (§4.5).
func (d *Drake) flushErr() error {
	d.mu.Lock()
	content := d.file.Render()
	d.mu.Unlock()

	if err := d.save(content); err != nil {
		if d.logger != nil {
			d.logger.Error("failed to write task file", "path", d.TaskFilePath, "error", err)
		}
		return err
	}
	return nil
}
