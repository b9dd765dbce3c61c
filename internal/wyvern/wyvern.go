// Package wyvern implements the Wyvern analyzer (§4.7): an agent loop
// that reads a project's specification and Wyrm recommendation and
// emits a structured analysis (areas -> tasks -> dependencies), then
// materializes one markdown task file per area. Dependency levels are
// computed by repeated relaxation over internal/wyvern/graph, which
// rejects cycle-forming edges at insert time.
package wyvern

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/antigravity-dev/cortex/internal/agentloop"
	"github.com/antigravity-dev/cortex/internal/layout"
	"github.com/antigravity-dev/cortex/internal/tasks"
	"github.com/antigravity-dev/cortex/internal/wyvern/graph"
)

// DocumentationArea is the area every analysis is guaranteed to carry,
// for the mandatory README task (§4.7).
const DocumentationArea = "Documentation"

// readmeTaskTitle names the mandatory task injected into the
// Documentation area.
const readmeTaskTitle = "Write project README"

// RawTask is the shape the model is asked to emit per task. DependsOn
// indexes other tasks within the SAME area by position in that area's
// Tasks slice (§4.7 gives no cross-area dependency semantics, so levels
// are computed per area).
type RawTask struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Priority    string   `json:"priority"`
	DependsOn   []int    `json:"dependsOn"`
	FilesToModify []string `json:"filesToModify,omitempty"`
}

// RawArea is one area's raw tasks as emitted by the model.
type RawArea struct {
	Name  string    `json:"name"`
	Tasks []RawTask `json:"tasks"`
}

// Structure is the §3 "Wyvern analysis" structure sub-object.
type Structure struct {
	ExistingFiles          []string          `json:"existingFiles"`
	NamingConventions      map[string]string `json:"namingConventions"`
	DirectoryPurposes      map[string]string `json:"directoryPurposes"`
	FileLocationGuidelines map[string]string `json:"fileLocationGuidelines"`
	ArchitectureNotes      string            `json:"architectureNotes"`
}

// RawAnalysis is the top-level JSON shape the model is asked to emit.
type RawAnalysis struct {
	Areas               []RawArea `json:"areas"`
	EstimatedComplexity string    `json:"estimatedComplexity"`
	Structure           Structure `json:"structure"`
}

// Task is one materialized task within an analysis: a RawTask enriched
// with its derived stable id and computed dependency level.
type Task struct {
	ID            string         `json:"id"`
	Title         string         `json:"title"`
	Description   string         `json:"description"`
	Priority      tasks.Priority `json:"priority"`
	Level         int            `json:"level"`
	DependsOn     []string       `json:"dependsOn"` // dependency task ids, same area
	FilesToModify []string       `json:"filesToModify,omitempty"`
}

// Area is one area's ordered tasks, grouped by dependency level (§3:
// "level N depends only on levels < N").
type Area struct {
	Name  string `json:"name"`
	Tasks []Task `json:"tasks"`
}

// Analysis is the full Wyvern analysis (§3 "Wyvern analysis").
type Analysis struct {
	ProjectID           string    `json:"projectId"`
	Areas               []Area    `json:"areas"`
	TotalTasks          int       `json:"totalTasks"`
	EstimatedComplexity string    `json:"estimatedComplexity"`
	AnalyzedAt          time.Time `json:"analyzedAt"`
	SpecVersionID       string    `json:"specVersionId"`
	Structure           Structure `json:"structure"`
}

// TaskID derives a short stable slug from a hash of {area, index,
// title} (§4.7).
func TaskID(area string, index int, title string) string {
	h := sha256.Sum256([]byte(fmt.Sprintf("%s|%d|%s", area, index, title)))
	return hex.EncodeToString(h[:])[:10]
}

func normalizePriority(raw string) tasks.Priority {
	switch tasks.Priority(raw) {
	case tasks.PriorityCritical, tasks.PriorityHigh, tasks.PriorityMedium, tasks.PriorityLow:
		return tasks.Priority(raw)
	default:
		return tasks.PriorityMedium
	}
}

// BuildAnalysis converts a RawAnalysis into a materialized Analysis:
// deriving task ids, computing per-area dependency levels via
// internal/wyvern/graph (cycle detection aborts with an explicit
// error), always injecting the mandatory README task into the
// Documentation area at level 0 with Critical priority, and then ordering
// each area's tasks by level (stable, so equal levels keep model order).
func BuildAnalysis(ctx context.Context, projectID, specVersionID string, raw RawAnalysis, now time.Time) (Analysis, error) {
	areas := make([]Area, 0, len(raw.Areas)+1)
	total := 0

	for _, ra := range raw.Areas {
		area, err := buildArea(ctx, ra)
		if err != nil {
			return Analysis{}, fmt.Errorf("area %q: %w", ra.Name, err)
		}
		areas = append(areas, area)
		total += len(area.Tasks)
	}

	areas, total = injectReadmeTask(areas, total)
	for i := range areas {
		areaTasks := areas[i].Tasks
		sort.SliceStable(areaTasks, func(a, b int) bool { return areaTasks[a].Level < areaTasks[b].Level })
	}

	return Analysis{
		ProjectID:           projectID,
		Areas:               areas,
		TotalTasks:          total,
		EstimatedComplexity: raw.EstimatedComplexity,
		AnalyzedAt:          now,
		SpecVersionID:       specVersionID,
		Structure:           raw.Structure,
	}, nil
}

func buildArea(ctx context.Context, ra RawArea) (Area, error) {
	dag, err := graph.Open(ctx)
	if err != nil {
		return Area{}, err
	}
	defer dag.Close()

	ids := make([]string, len(ra.Tasks))
	for i, t := range ra.Tasks {
		ids[i] = TaskID(ra.Name, i, t.Title)
		if err := dag.AddNode(ctx, ids[i]); err != nil {
			return Area{}, err
		}
	}
	for i, t := range ra.Tasks {
		for _, dep := range t.DependsOn {
			if dep < 0 || dep >= len(ids) || dep == i {
				continue
			}
			if err := dag.AddEdge(ctx, ids[i], ids[dep]); err != nil {
				return Area{}, err
			}
		}
	}

	levels, err := dag.Levels(ctx)
	if err != nil {
		return Area{}, err
	}

	out := Area{Name: ra.Name}
	for i, t := range ra.Tasks {
		dependsOn := make([]string, 0, len(t.DependsOn))
		for _, dep := range t.DependsOn {
			if dep < 0 || dep >= len(ids) || dep == i {
				continue
			}
			dependsOn = append(dependsOn, ids[dep])
		}
		out.Tasks = append(out.Tasks, Task{
			ID:            ids[i],
			Title:         t.Title,
			Description:   t.Description,
			Priority:      normalizePriority(t.Priority),
			Level:         levels[ids[i]],
			DependsOn:     dependsOn,
			FilesToModify: t.FilesToModify,
		})
	}
	return out, nil
}

// injectReadmeTask ensures the Documentation area exists and carries the
// mandatory README task at level 0, Critical priority (§4.7).
func injectReadmeTask(areas []Area, total int) ([]Area, int) {
	readme := Task{
		ID:       TaskID(DocumentationArea, -1, readmeTaskTitle),
		Title:    readmeTaskTitle,
		Description: "Write the project README describing setup, usage, and architecture.",
		Priority: tasks.PriorityCritical,
		Level:    0,
	}

	for i := range areas {
		if areas[i].Name == DocumentationArea {
			for _, t := range areas[i].Tasks {
				if t.Title == readmeTaskTitle {
					return areas, total
				}
			}
			areas[i].Tasks = append(areas[i].Tasks, readme)
			return areas, total + 1
		}
	}

	areas = append(areas, Area{Name: DocumentationArea, Tasks: []Task{readme}})
	return areas, total + 1
}

// TaskFileContent renders one area's tasks as a markdown task file in
// level order (§4.7, §6.1).
func TaskFileContent(area Area) string {
	f := tasks.New(fmt.Sprintf("# %s tasks\n", area.Name))
	ordered := make([]Task, len(area.Tasks))
	copy(ordered, area.Tasks)
	for i := 0; i < len(ordered); i++ {
		for j := i + 1; j < len(ordered); j++ {
			if ordered[j].Level < ordered[i].Level {
				ordered[i], ordered[j] = ordered[j], ordered[i]
			}
		}
	}
	for _, t := range ordered {
		f.Tasks = append(f.Tasks, tasks.Task{
			ID:          t.ID,
			Description: t.Description,
			Status:      tasks.StatusUnassigned,
			Assignee:    tasks.UnassignedAssignee,
			Priority:    t.Priority,
		})
	}
	return f.Render()
}

// TaskFileBasename returns the {area}-tasks.md basename under a
// project's tasks/ directory.
func TaskFileBasename(area string) string {
	return layout.SanitizeSlug(area) + "-tasks.md"
}

// RunContext bundles Wyvern's agent loop and the persistence callbacks
// Run invokes only after a valid, cycle-free analysis is built.
type RunContext struct {
	Loop          *agentloop.Loop
	OpeningPrompt func(specification, wyrmRecommendation string) string
	Specification string
	WyrmRecommendation string
	ProjectID     string
	SpecVersionID string
	Now           func() time.Time

	PersistAnalysisJSON func(raw []byte) error
	PersistAnalysisMD   func(md string) error
	PersistTaskFile     func(area, content string) (path string, err error)
	RegisterTaskFile    func(path string) error
}

// Run executes Wyvern's agent loop, builds the analysis, renders
// analysis.md/analysis.json, and materializes one task file per area.
func Run(ctx context.Context, rc RunContext) (Analysis, error) {
	opening := rc.Specification
	if rc.OpeningPrompt != nil {
		opening = rc.OpeningPrompt(rc.Specification, rc.WyrmRecommendation)
	}

	result := rc.Loop.Run(ctx, opening)
	if result.Failed() {
		return Analysis{}, fmt.Errorf("wyvern agent loop failed: %s", result.Text)
	}

	var raw RawAnalysis
	if err := json.Unmarshal([]byte(result.Text), &raw); err != nil {
		return Analysis{}, fmt.Errorf("parsing wyvern analysis: %w", err)
	}

	now := time.Now
	if rc.Now != nil {
		now = rc.Now
	}
	analysis, err := BuildAnalysis(ctx, rc.ProjectID, rc.SpecVersionID, raw, now())
	if err != nil {
		return Analysis{}, err
	}

	if rc.PersistAnalysisJSON != nil {
		encoded, err := json.MarshalIndent(analysis, "", "  ")
		if err != nil {
			return Analysis{}, fmt.Errorf("encoding analysis.json: %w", err)
		}
		if err := rc.PersistAnalysisJSON(encoded); err != nil {
			return Analysis{}, fmt.Errorf("persisting analysis.json: %w", err)
		}
	}
	if rc.PersistAnalysisMD != nil {
		if err := rc.PersistAnalysisMD(RenderAnalysisMD(analysis)); err != nil {
			return Analysis{}, fmt.Errorf("persisting analysis.md: %w", err)
		}
	}
	if rc.PersistTaskFile != nil {
		for _, area := range analysis.Areas {
			content := TaskFileContent(area)
			path, err := rc.PersistTaskFile(area.Name, content)
			if err != nil {
				return Analysis{}, fmt.Errorf("persisting task file for area %q: %w", area.Name, err)
			}
			if rc.RegisterTaskFile != nil {
				if err := rc.RegisterTaskFile(path); err != nil {
					return Analysis{}, fmt.Errorf("registering task file for area %q: %w", area.Name, err)
				}
			}
		}
	}

	return analysis, nil
}

// RenderAnalysisMD renders a human-readable summary of an analysis
// (§4.7 "writes both a human-readable analysis.md").
func RenderAnalysisMD(a Analysis) string {
	out := fmt.Sprintf("# Analysis\n\nTotal tasks: %d\nEstimated complexity: %s\n\n", a.TotalTasks, a.EstimatedComplexity)
	for _, area := range a.Areas {
		out += fmt.Sprintf("## %s\n\n", area.Name)
		for _, t := range area.Tasks {
			out += fmt.Sprintf("- [L%d] %s (%s): %s\n", t.Level, t.Title, t.Priority, t.Description)
		}
		out += "\n"
	}
	if a.Structure.ArchitectureNotes != "" {
		out += fmt.Sprintf("## Architecture notes\n\n%s\n", a.Structure.ArchitectureNotes)
	}
	return out
}
