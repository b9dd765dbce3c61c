package projects

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/antigravity-dev/cortex/internal/atomicfile"
	"github.com/antigravity-dev/cortex/internal/layout"
)

// ErrNotFound is returned when a lookup by id or name fails.
type ErrNotFound struct{ Key string }

func (e *ErrNotFound) Error() string { return fmt.Sprintf("project not found: %s", e.Key) }

// ErrDuplicateName is returned when registering a project whose sanitized
// name already exists (§3: "a project's sanitized name is unique").
type ErrDuplicateName struct{ Name string }

func (e *ErrDuplicateName) Error() string { return fmt.Sprintf("project name already exists: %s", e.Name) }

// ErrInvalidTransition is returned by SetStatus for a non-monotonic move.
type ErrInvalidTransition struct{ From, To Status }

func (e *ErrInvalidTransition) Error() string {
	return fmt.Sprintf("invalid status transition: %s -> %s", e.From, e.To)
}

// Repository is the durable, in-memory-indexed registry of projects,
// persisted as projects.json (§3, §6.2). It is never destroyed by the
// core — deletion is an explicit user action this package does not
// expose.
type Repository struct {
	mu       sync.RWMutex
	root     layout.Root
	byID     map[string]*Project
	nextSeq  int
	now      func() time.Time
	idSource func() string
}

// Load reads projects.json under root (an empty registry if the file
// does not yet exist) and returns a ready Repository.
func Load(root layout.Root, idSource func() string) (*Repository, error) {
	r := &Repository{
		root:     root,
		byID:     make(map[string]*Project),
		now:      time.Now,
		idSource: idSource,
	}

	data, err := os.ReadFile(root.ProjectsJSON())
	if os.IsNotExist(err) {
		return r, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load projects.json: %w", err)
	}

	var list []*Project
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("parse projects.json: %w", err)
	}
	for _, p := range list {
		r.byID[p.ID] = p
	}
	return r, nil
}

// saveLocked persists the full registry atomically. Caller must hold mu.
func (r *Repository) saveLocked() error {
	list := make([]*Project, 0, len(r.byID))
	for _, p := range r.byID {
		list = append(list, p)
	}
	data, err := json.MarshalIndent(list, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal projects.json: %w", err)
	}
	return atomicfile.Write(r.root.ProjectsJSON(), data, 0o644)
}

// Create registers a new project with the given sanitized name and
// initial status (Prototype or New, per §4.10's Dragon tools). Paths are
// derived from layout.Root so every caller gets the same on-disk shape.
func (r *Repository) Create(name string, status Status) (*Project, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, p := range r.byID {
		if p.Name == name {
			return nil, &ErrDuplicateName{Name: name}
		}
	}

	proj := r.root.Project(name)
	now := r.now()
	p := &Project{
		ID:     r.idSource(),
		Name:   name,
		Status: status,
		Paths: Paths{
			Workspace:           proj.Workspace(),
			Specification:       proj.SpecificationMD(),
			WyrmRecommendation:  proj.WyrmRecommendationJSON(),
			AnalysisMD:          proj.AnalysisMD(),
			AnalysisJSON:        proj.AnalysisJSON(),
			KoboldPlansDir:      proj.KoboldPlansDir(),
			PlanningContextJSON: proj.PlanningContextJSON(),
		},
		Verification: VerificationState{Status: VerificationNotStarted},
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	r.byID[p.ID] = p
	if err := r.saveLocked(); err != nil {
		delete(r.byID, p.ID)
		return nil, err
	}
	clone := *p
	return &clone, nil
}

// Get returns a copy of the project with the given id.
func (r *Repository) Get(id string) (*Project, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.byID[id]
	if !ok {
		return nil, &ErrNotFound{Key: id}
	}
	clone := *p
	return &clone, nil
}

// GetByName resolves a project by its sanitized name.
func (r *Repository) GetByName(name string) (*Project, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range r.byID {
		if p.Name == name {
			clone := *p
			return &clone, nil
		}
	}
	return nil, &ErrNotFound{Key: name}
}

// List returns a snapshot of every project, optionally filtered by status.
func (r *Repository) List(status Status) []*Project {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Project, 0, len(r.byID))
	for _, p := range r.byID {
		if status != "" && p.Status != status {
			continue
		}
		clone := *p
		out = append(out, &clone)
	}
	return out
}

// SetStatus enforces the monotonic-with-two-back-edges rule (§3) and
// persists the change.
func (r *Repository) SetStatus(id string, to Status) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.byID[id]
	if !ok {
		return &ErrNotFound{Key: id}
	}
	if !CanTransition(p.Status, to) {
		return &ErrInvalidTransition{From: p.Status, To: to}
	}
	p.Status = to
	p.UpdatedAt = r.now()
	return r.saveLocked()
}

// AddTaskFile registers a newly materialized task-file path on a project
// (§4.7: Wyvern "registers each path in the project's Paths.TaskFiles").
func (r *Repository) AddTaskFile(id, path string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.byID[id]
	if !ok {
		return &ErrNotFound{Key: id}
	}
	for _, existing := range p.Paths.TaskFiles {
		if existing == path {
			return nil
		}
	}
	p.Paths.TaskFiles = append(p.Paths.TaskFiles, path)
	p.UpdatedAt = r.now()
	return r.saveLocked()
}

// AddSpecVersion appends a new specification-version record and makes it
// the active version.
func (r *Repository) AddSpecVersion(id string, v SpecVersion) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.byID[id]
	if !ok {
		return &ErrNotFound{Key: id}
	}
	p.SpecVersions = append(p.SpecVersions, v)
	p.ActiveSpecID = v.ID
	p.UpdatedAt = r.now()
	return r.saveLocked()
}

// SetVerification replaces a project's verification state.
func (r *Repository) SetVerification(id string, v VerificationState) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.byID[id]
	if !ok {
		return &ErrNotFound{Key: id}
	}
	p.Verification = v
	p.UpdatedAt = r.now()
	return r.saveLocked()
}

// SetAllowedPaths replaces a project's allow-listed external paths (§3,
// §4.2 sandbox containment).
func (r *Repository) SetAllowedPaths(id string, paths []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.byID[id]
	if !ok {
		return &ErrNotFound{Key: id}
	}
	p.AllowedPaths = paths
	p.UpdatedAt = r.now()
	return r.saveLocked()
}

// SetProviderOverride sets a per-agent-type provider override.
func (r *Repository) SetProviderOverride(id, agentType, providerName string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.byID[id]
	if !ok {
		return &ErrNotFound{Key: id}
	}
	if p.ProviderByType == nil {
		p.ProviderByType = make(map[string]string)
	}
	p.ProviderByType[agentType] = providerName
	p.UpdatedAt = r.now()
	return r.saveLocked()
}
