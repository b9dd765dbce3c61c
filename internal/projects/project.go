// Package projects is the durable project repository (§3 "Project", §4
// intro): identity, status, paths, verification state, provider
// overrides, and specification-version history, persisted as
// projects.json.
package projects

import "time"

// Status is a project's lifecycle state (§3). Transitions are monotonic
// except for two permitted back-edges, enforced by Repository.SetStatus.
type Status string

const (
	StatusPrototype            Status = "Prototype"
	StatusNew                  Status = "New"
	StatusWyrmAssigned         Status = "WyrmAssigned"
	StatusAnalyzed             Status = "Analyzed"
	StatusInProgress           Status = "InProgress"
	StatusAwaitingVerification Status = "AwaitingVerification"
	StatusVerified             Status = "Verified"
	StatusCompleted            Status = "Completed"
	StatusFailed               Status = "Failed"
)

// statusRank gives each forward status a monotonic position. Failed can
// be reached from anywhere (a side channel, not part of the rank chain).
var statusRank = map[Status]int{
	StatusPrototype:            0,
	StatusNew:                  1,
	StatusWyrmAssigned:         2,
	StatusAnalyzed:             3,
	StatusInProgress:           4,
	StatusAwaitingVerification: 5,
	StatusVerified:             6,
	StatusCompleted:            7,
}

// VerificationStatus is the project's verification sub-state (§3, §4.8).
type VerificationStatus string

const (
	VerificationNotStarted VerificationStatus = "NotStarted"
	VerificationInProgress VerificationStatus = "InProgress"
	VerificationPassed     VerificationStatus = "Passed"
	VerificationFailed     VerificationStatus = "Failed"
	VerificationSkipped    VerificationStatus = "Skipped"
)

// CheckPriority mirrors task priority for verification checks (§4.8 step 6).
type CheckPriority string

const (
	PriorityCritical CheckPriority = "Critical"
	PriorityHigh     CheckPriority = "High"
	PriorityMedium   CheckPriority = "Medium"
	PriorityLow      CheckPriority = "Low"
)

// CheckType classifies a verification step (§3: "build|test|lint|doc").
type CheckType string

const (
	CheckBuild CheckType = "build"
	CheckTest  CheckType = "test"
	CheckLint  CheckType = "lint"
	CheckDoc   CheckType = "doc"
)

// VerificationCheck records the outcome of one verification step (§4.8, §3).
type VerificationCheck struct {
	Name            string        `json:"name"`
	Type            CheckType     `json:"type,omitempty"`
	Command         string        `json:"command"`
	Priority        CheckPriority `json:"priority"`
	Passed          bool          `json:"passed"`
	Failed          bool          `json:"failed"`
	Output          string        `json:"output"`
	ExitCode        int           `json:"exitCode"`
	DurationSeconds float64       `json:"durationSeconds"`
	ExecutedAt      time.Time     `json:"executedAt"`
}

// VerificationState is the project's embedded verification record (§3).
type VerificationState struct {
	Status      VerificationStatus  `json:"status"`
	StartedAt   *time.Time          `json:"startedAt,omitempty"`
	CompletedAt *time.Time          `json:"completedAt,omitempty"`
	Report      string              `json:"report,omitempty"`
	Checks      []VerificationCheck `json:"checks"`
}

// Paths is the set of file/directory paths a project carries (§3, §6.2).
type Paths struct {
	Workspace            string   `json:"workspace"`
	Specification        string   `json:"specification"`
	WyrmRecommendation    string   `json:"wyrmRecommendation"`
	AnalysisMD            string   `json:"analysisMd"`
	AnalysisJSON          string   `json:"analysisJson"`
	TaskFiles             []string `json:"taskFiles"`
	KoboldPlansDir        string   `json:"koboldPlansDir"`
	PlanningContextJSON   string   `json:"planningContextJson"`
}

// SpecVersion is one recorded revision of a project's specification text
// (§3, identified by a content hash — see internal/specversion).
type SpecVersion struct {
	ID        string    `json:"id"`
	Hash      string    `json:"hash"`
	CreatedAt time.Time `json:"createdAt"`
	Summary   string    `json:"summary,omitempty"`
}

// Project is the full persisted record for one project (§3).
type Project struct {
	ID             string            `json:"id"`
	Name           string            `json:"name"`
	Status         Status            `json:"status"`
	Paths          Paths             `json:"paths"`
	AllowedPaths   []string          `json:"allowedPaths"`
	Verification   VerificationState `json:"verification"`
	ProviderByType map[string]string `json:"providerByType,omitempty"`
	SpecVersions   []SpecVersion     `json:"specVersions"`
	ActiveSpecID   string            `json:"activeSpecId,omitempty"`
	CreatedAt      time.Time         `json:"createdAt"`
	UpdatedAt      time.Time         `json:"updatedAt"`
}

// ActiveSpecVersion returns the currently-active spec version record, if any.
func (p *Project) ActiveSpecVersion() (SpecVersion, bool) {
	for _, v := range p.SpecVersions {
		if v.ID == p.ActiveSpecID {
			return v, true
		}
	}
	return SpecVersion{}, false
}

// CanTransition reports whether moving from 'from' to 'to' is permitted
// under the monotonic-with-two-back-edges rule (§3 invariant).
func CanTransition(from, to Status) bool {
	if to == StatusFailed {
		return true // Failed is reachable from anywhere
	}
	if from == StatusAwaitingVerification && to == StatusInProgress {
		return true // permitted back-edge: failed verification
	}
	if from == StatusCompleted && to == StatusInProgress {
		return false // explicitly forbidden back-edge
	}
	fromRank, fromOK := statusRank[from]
	toRank, toOK := statusRank[to]
	if !fromOK || !toOK {
		return false
	}
	return toRank >= fromRank
}
