// Package planningctx implements the shared planning context (§3, §4.9):
// a per-project active-agent registry, file-in-use advisory, an
// insight history ring buffer, and cross-project insight aggregation,
// all guarded by read-many/write-few locks, with an LRU-capped cache of
// project contexts that persists to disk on eviction and shutdown.
package planningctx

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/antigravity-dev/cortex/internal/atomicfile"
	"github.com/antigravity-dev/cortex/internal/layout"
)

// DefaultInsightCap is the §4.9 default ("capped at 100 per project,
// oldest removed").
const DefaultInsightCap = 100

// DefaultCacheCap is the §4.9 LRU default ("at most 50 project contexts
// cached").
const DefaultCacheCap = 50

// ActiveAgent is one entry in a project's active-agent registry (§4.9).
type ActiveAgent struct {
	AgentID        string    `json:"agentId"`
	TaskID         string    `json:"taskId"`
	AgentType      string    `json:"agentType"`
	LastActivityAt time.Time `json:"lastActivityAt"`
	FilesToModify  []string  `json:"filesToModify,omitempty"`
}

// PlanningInsight is an append-only record of one agent's run, used to
// prime future planners (§4.9 GetSimilarTaskInsights, §3).
type PlanningInsight struct {
	AgentID        string        `json:"agentId"`
	AgentType      string        `json:"agentType"`
	TaskID         string        `json:"taskId"`
	Success        bool          `json:"success"`
	ErrorMessage   string        `json:"errorMessage,omitempty"`
	Duration       time.Duration `json:"duration"`
	Steps          int           `json:"steps"`
	CompletedSteps int           `json:"completedSteps"`
	Iterations     int           `json:"iterations"`
	FilesModified  []string      `json:"filesModified,omitempty"`
	FilesCreated   []string      `json:"filesCreated,omitempty"`
	RecordedAt     time.Time     `json:"recordedAt"`
}

// Statistics aggregates a project's insight history (§4.9
// GetProjectStatistics).
type Statistics struct {
	TotalRuns      int
	SuccessRate    float64
	AverageDuration time.Duration
	AverageSteps    float64
	AverageIterations float64
}

// projectContext is one project's persisted planning state.
type projectContext struct {
	mu            sync.RWMutex
	ProjectID     string                  `json:"projectId"`
	ActiveAgents  map[string]*ActiveAgent `json:"activeAgents"`
	Insights      []PlanningInsight       `json:"insights"`
	InsightCap    int                     `json:"-"`
}

func newProjectContext(projectID string, insightCap int) *projectContext {
	return &projectContext{
		ProjectID:    projectID,
		ActiveAgents: make(map[string]*ActiveAgent),
		InsightCap:   insightCap,
	}
}

// snapshot is the JSON-serializable shape of projectContext (the mutex
// itself is never marshaled).
type snapshot struct {
	ProjectID    string                  `json:"projectId"`
	ActiveAgents map[string]*ActiveAgent `json:"activeAgents"`
	Insights     []PlanningInsight       `json:"insights"`
}

func (c *projectContext) toSnapshot() snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return snapshot{ProjectID: c.ProjectID, ActiveAgents: c.ActiveAgents, Insights: c.Insights}
}

// Context is the per-project-cache facade the rest of the system uses.
// It wraps an LRU of projectContext values, loading from disk on miss
// and evicting (with a flush) when the cap is exceeded.
type Context struct {
	mu       sync.Mutex
	root     layout.Root
	cap      int
	order    []string // most-recently-used at the back
	byID     map[string]*projectContext
	insightCap int
	now      func() time.Time
}

// New builds a Context rooted at root with the given cache and insight
// caps (zero means use the spec defaults).
func New(root layout.Root, cacheCap, insightCap int) *Context {
	if cacheCap <= 0 {
		cacheCap = DefaultCacheCap
	}
	if insightCap <= 0 {
		insightCap = DefaultInsightCap
	}
	return &Context{
		root:       root,
		cap:        cacheCap,
		byID:       make(map[string]*projectContext),
		insightCap: insightCap,
		now:        time.Now,
	}
}

func (c *Context) touch(projectID string) {
	for i, id := range c.order {
		if id == projectID {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	c.order = append(c.order, projectID)
}

// get resolves a project's context, loading from disk on a cache miss
// and evicting the least-recently-used entry (flushing it first) if the
// cache is over capacity afterward.
func (c *Context) get(projectID string) *projectContext {
	c.mu.Lock()
	defer c.mu.Unlock()

	if pc, ok := c.byID[projectID]; ok {
		c.touch(projectID)
		return pc
	}

	pc := c.loadOrNew(projectID)
	c.byID[projectID] = pc
	c.touch(projectID)

	for len(c.order) > c.cap {
		evictID := c.order[0]
		c.order = c.order[1:]
		if evicted, ok := c.byID[evictID]; ok {
			c.persist(evicted)
			delete(c.byID, evictID)
		}
	}
	return pc
}

func (c *Context) loadOrNew(projectID string) *projectContext {
	path := c.root.Project(projectID).PlanningContextJSON()
	data, err := os.ReadFile(path)
	if err != nil {
		return newProjectContext(projectID, c.insightCap)
	}
	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return newProjectContext(projectID, c.insightCap)
	}
	pc := newProjectContext(projectID, c.insightCap)
	if snap.ActiveAgents != nil {
		pc.ActiveAgents = snap.ActiveAgents
	}
	pc.Insights = snap.Insights
	return pc
}

func (c *Context) persist(pc *projectContext) {
	data, err := json.MarshalIndent(pc.toSnapshot(), "", "  ")
	if err != nil {
		return
	}
	_ = atomicfile.Write(c.root.Project(pc.ProjectID).PlanningContextJSON(), data, 0o644)
}

// RegisterAgent inserts into activeAgents and updates lastActivityAt (§4.9).
func (c *Context) RegisterAgent(projectID, agentID, taskID, agentType string) {
	pc := c.get(projectID)
	pc.mu.Lock()
	defer pc.mu.Unlock()
	pc.ActiveAgents[agentID] = &ActiveAgent{
		AgentID:        agentID,
		TaskID:         taskID,
		AgentType:      agentType,
		LastActivityAt: c.now(),
	}
}

// SetFilesToModify updates the advisory file-conflict hint for an
// already-registered agent (populated by the planner agent; §4.9
// IsFileInUse note: "absent hints are treated as empty").
func (c *Context) SetFilesToModify(projectID, agentID string, files []string) {
	pc := c.get(projectID)
	pc.mu.Lock()
	defer pc.mu.Unlock()
	if a, ok := pc.ActiveAgents[agentID]; ok {
		a.FilesToModify = files
		a.LastActivityAt = c.now()
	}
}

// UnregisterAgent removes an agent from activeAgents and appends a
// PlanningInsight (capped, oldest removed first) (§4.9).
func (c *Context) UnregisterAgent(projectID, agentID string, insight PlanningInsight) {
	pc := c.get(projectID)
	pc.mu.Lock()
	defer pc.mu.Unlock()
	delete(pc.ActiveAgents, agentID)
	insight.RecordedAt = c.now()
	pc.Insights = append(pc.Insights, insight)
	if len(pc.Insights) > pc.InsightCap {
		pc.Insights = pc.Insights[len(pc.Insights)-pc.InsightCap:]
	}
}

// IsFileInUse reports whether any active agent's file-to-modify hint
// names path (§4.9).
func (c *Context) IsFileInUse(projectID, path string) bool {
	pc := c.get(projectID)
	pc.mu.RLock()
	defer pc.mu.RUnlock()
	for _, a := range pc.ActiveAgents {
		for _, f := range a.FilesToModify {
			if f == path {
				return true
			}
		}
	}
	return false
}

// GetSimilarTaskInsights returns the most recent max insights matching
// agentType, most recent first (§4.9).
func (c *Context) GetSimilarTaskInsights(projectID, agentType string, max int) []PlanningInsight {
	pc := c.get(projectID)
	pc.mu.RLock()
	defer pc.mu.RUnlock()
	return mostRecentMatching(pc.Insights, agentType, max)
}

// GetCrossProjectInsights returns the most recent max insights matching
// agentType across every cached project other than excludeProjectID
// (§4.9).
func (c *Context) GetCrossProjectInsights(excludeProjectID, agentType string, max int) []PlanningInsight {
	c.mu.Lock()
	var all []PlanningInsight
	for id, pc := range c.byID {
		if id == excludeProjectID {
			continue
		}
		pc.mu.RLock()
		all = append(all, pc.Insights...)
		pc.mu.RUnlock()
	}
	c.mu.Unlock()
	return mostRecentMatching(all, agentType, max)
}

func mostRecentMatching(insights []PlanningInsight, agentType string, max int) []PlanningInsight {
	var matching []PlanningInsight
	for _, ins := range insights {
		if ins.AgentType == agentType {
			matching = append(matching, ins)
		}
	}
	// insights are append-ordered oldest-first; reverse for most-recent-first
	for i, j := 0, len(matching)-1; i < j; i, j = i+1, j-1 {
		matching[i], matching[j] = matching[j], matching[i]
	}
	if max > 0 && len(matching) > max {
		matching = matching[:max]
	}
	return matching
}

// GetProjectStatistics aggregates a project's insight history (§4.9).
func (c *Context) GetProjectStatistics(projectID string) Statistics {
	pc := c.get(projectID)
	pc.mu.RLock()
	defer pc.mu.RUnlock()

	if len(pc.Insights) == 0 {
		return Statistics{}
	}
	var successes int
	var totalDuration time.Duration
	var totalSteps, totalIterations int
	for _, ins := range pc.Insights {
		if ins.Success {
			successes++
		}
		totalDuration += ins.Duration
		totalSteps += ins.Steps
		totalIterations += ins.Iterations
	}
	n := float64(len(pc.Insights))
	return Statistics{
		TotalRuns:         len(pc.Insights),
		SuccessRate:       float64(successes) / n,
		AverageDuration:   totalDuration / time.Duration(len(pc.Insights)),
		AverageSteps:      float64(totalSteps) / n,
		AverageIterations: float64(totalIterations) / n,
	}
}

// PersistAllContexts writes every cached project's context to disk,
// called on shutdown (§4.9).
func (c *Context) PersistAllContexts() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var firstErr error
	for _, pc := range c.byID {
		data, err := json.MarshalIndent(pc.toSnapshot(), "", "  ")
		if err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("marshal context for %s: %w", pc.ProjectID, err)
			}
			continue
		}
		if err := atomicfile.Write(c.root.Project(pc.ProjectID).PlanningContextJSON(), data, 0o644); err != nil {
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
