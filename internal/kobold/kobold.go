// Package kobold implements the Kobold worker (§3 "Kobold", §4.4): a
// single-task agent that owns its own state machine exclusively and
// runs an agent loop to completion, reporting status, duration, and
// errors back to its supervising Drake.
package kobold

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/antigravity-dev/cortex/internal/agentloop"
	"github.com/antigravity-dev/cortex/internal/llm"
	"github.com/antigravity-dev/cortex/internal/planningctx"
	"github.com/antigravity-dev/cortex/internal/plans"
)

// Status is a Kobold's lifecycle state (§3). Only the Kobold's own code
// transitions it — supervisors observe only.
type Status string

const (
	StatusUnassigned Status = "Unassigned"
	StatusAssigned   Status = "Assigned"
	StatusWorking    Status = "Working"
	StatusDone       Status = "Done"
)

// ErrInvalidState is returned when an operation is attempted from a
// state that does not permit it (§4.4: "concurrent StartWork calls on
// the same Kobold are rejected (InvalidState)").
type ErrInvalidState struct {
	Op, Have, Want string
}

func (e *ErrInvalidState) Error() string {
	return fmt.Sprintf("kobold: cannot %s from state %s (want %s)", e.Op, e.Have, e.Want)
}

// RunContext is everything StartWork needs to build the agent's opening
// context and run the loop (§4.4 step 3): the opening prompt, the agent
// loop itself, and the plan store / planning context it reports into.
type RunContext struct {
	ProjectID        string
	TaskID           string
	AgentType        string
	ActiveSpecVersion string
	OpeningPrompt    func(remainingSteps []plans.Step, insights []planningctx.PlanningInsight, filesInUse bool) string
	Loop             *agentloop.Loop
	Plans            *plans.Store
	PlanningContext  *planningctx.Context
	NewPlanID        func() string
	DefaultSteps     []plans.Step
	SimilarInsightsK int
}

// Kobold owns its state machine exclusively (§4.4).
type Kobold struct {
	mu sync.Mutex

	id          string
	agentType   string
	taskID      string
	status      Status
	errorMessage string

	createdAt   time.Time
	assignedAt  *time.Time
	startedAt   *time.Time
	completedAt *time.Time
}

// New creates a Kobold in Unassigned state.
func New(id, agentType string) *Kobold {
	return &Kobold{id: id, agentType: agentType, status: StatusUnassigned, createdAt: time.Now()}
}

// ID returns the Kobold's identifier.
func (k *Kobold) ID() string { return k.id }

// Status returns the current lifecycle state.
func (k *Kobold) Status() Status {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.status
}

// StartedAt returns when the Kobold began Working, for stuck detection
// (§4.5 HandleStuckKobolds). Returns zero value if not yet started.
func (k *Kobold) StartedAt() time.Time {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.startedAt == nil {
		return time.Time{}
	}
	return *k.startedAt
}

// IsComplete, IsSuccess, and HasError are the derived read-only
// predicates named in §3.
func (k *Kobold) IsComplete() bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.status == StatusDone
}

func (k *Kobold) IsSuccess() bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.status == StatusDone && k.errorMessage == ""
}

func (k *Kobold) HasError() bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.errorMessage != ""
}

func (k *Kobold) ErrorMessage() string {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.errorMessage
}

// AssignTask transitions Unassigned -> Assigned. Valid only from
// Unassigned (§4.4).
func (k *Kobold) AssignTask(taskID string) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.status != StatusUnassigned {
		return &ErrInvalidState{Op: "AssignTask", Have: string(k.status), Want: string(StatusAssigned)}
	}
	k.taskID = taskID
	k.status = StatusAssigned
	now := time.Now()
	k.assignedAt = &now
	return nil
}

// beginWork transitions Assigned -> Working, recording startedAt, or
// rejects a concurrent/repeat call with ErrInvalidState. Holds mu for
// the duration of the check-and-set so two concurrent StartWork calls
// cannot both win.
func (k *Kobold) beginWork() error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.status != StatusAssigned {
		return &ErrInvalidState{Op: "StartWork", Have: string(k.status), Want: string(StatusWorking)}
	}
	k.status = StatusWorking
	now := time.Now()
	k.startedAt = &now
	return nil
}

func (k *Kobold) finish(errMsg string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.status = StatusDone
	k.errorMessage = errMsg
	now := time.Now()
	k.completedAt = &now
}

// errorMarkers is the fallback heuristic scan (§4.4 step 5c) used only
// when the agent loop itself didn't report Error/NotConfigured and no
// Go exception occurred — it is deliberately the last resort, per
// §4.11's failure-detection contract. The marker list is fixed by
// §9's resolved open question 3.
var errorMarkers = []string{"Error:", "Failed to", "panic:", "fatal:", "Traceback (most recent call last)"}

// errorMarkerScanWindow is the §4.11 "only the concluding 512 characters
// of the final message" bound.
const errorMarkerScanWindow = 512

func scanForErrorMarkers(text string) (string, bool) {
	if len(text) > errorMarkerScanWindow {
		text = text[len(text)-errorMarkerScanWindow:]
	}
	for _, marker := range errorMarkers {
		if strings.Contains(text, marker) {
			return marker, true
		}
	}
	return "", false
}

// finalTurnHasToolCalls reports whether the last assistant message in a
// completed loop run's transcript made any tool calls. §4.11 restricts
// the heuristic scan to text-only final turns — a turn that called a
// tool is judged by the loop's own outcome, not by scraping its text.
func finalTurnHasToolCalls(transcript []llm.Message) bool {
	for i := len(transcript) - 1; i >= 0; i-- {
		if transcript[i].Role != llm.RoleAssistant {
			continue
		}
		for _, block := range transcript[i].Content {
			if block.ToolUse != nil {
				return true
			}
		}
		return false
	}
	return false
}

func containsFold(haystack, needle string) bool {
	hl, nl := []rune(haystack), []rune(needle)
	if len(nl) == 0 || len(nl) > len(hl) {
		return false
	}
	lower := func(r rune) rune {
		if r >= 'A' && r <= 'Z' {
			return r + ('a' - 'A')
		}
		return r
	}
	for i := 0; i+len(nl) <= len(hl); i++ {
		match := true
		for j := range nl {
			if lower(hl[i+j]) != lower(nl[j]) {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}

// StartWork runs the full §4.4 sequence: transition to Working, load or
// create the plan (invalidating on spec-version drift), build the
// opening context, run the agent loop, capture error state, and finalize
// the plan's status. Valid only from Assigned.
func (k *Kobold) StartWork(ctx context.Context, rc RunContext) error {
	if err := k.beginWork(); err != nil {
		return err
	}

	plan, _ := rc.Plans.LoadOrCreate(rc.ProjectID, rc.TaskID, rc.AgentType, rc.ActiveSpecVersion, rc.NewPlanID, rc.DefaultSteps)

	filesInUse := false
	for _, step := range plan.RemainingSteps() {
		for _, f := range step.FilesToModify {
			if rc.PlanningContext.IsFileInUse(rc.ProjectID, f) {
				filesInUse = true
			}
		}
	}
	insights := rc.PlanningContext.GetSimilarTaskInsights(rc.ProjectID, rc.AgentType, rc.SimilarInsightsK)

	opening := ""
	if rc.OpeningPrompt != nil {
		opening = rc.OpeningPrompt(plan.RemainingSteps(), insights, filesInUse)
	}

	start := time.Now()
	result := rc.Loop.Run(ctx, opening)

	errMsg := ""
	switch {
	case result.Failed():
		errMsg = result.Text
	case !finalTurnHasToolCalls(result.Transcript):
		if marker, found := scanForErrorMarkers(result.Text); found {
			errMsg = fmt.Sprintf("heuristic error marker detected: %q", marker)
		}
	}

	k.finish(errMsg)
	_ = rc.Plans.Finalize(rc.ProjectID, rc.TaskID)

	completedSteps, filesModified := summarizePlanSteps(plan.Steps)

	rc.PlanningContext.UnregisterAgent(rc.ProjectID, k.id, planningctx.PlanningInsight{
		AgentID:        k.id,
		AgentType:      rc.AgentType,
		TaskID:         rc.TaskID,
		Success:        errMsg == "",
		ErrorMessage:   errMsg,
		Duration:       time.Since(start),
		Steps:          len(plan.Steps),
		CompletedSteps: completedSteps,
		Iterations:     result.Iterations,
		FilesModified:  filesModified,
	})

	return nil
}

// summarizePlanSteps counts steps that reached StepCompleted and collects
// the (deduplicated) FilesToModify hints across every step, for the
// PlanningInsight this Kobold's run reports (§3, §4.9).
func summarizePlanSteps(steps []plans.Step) (completed int, filesModified []string) {
	seen := make(map[string]bool)
	for _, s := range steps {
		if s.Status == plans.StepCompleted {
			completed++
		}
		for _, f := range s.FilesToModify {
			if !seen[f] {
				seen[f] = true
				filesModified = append(filesModified, f)
			}
		}
	}
	return completed, filesModified
}
