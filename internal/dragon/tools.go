package dragon

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/antigravity-dev/cortex/internal/atomicfile"
	"github.com/antigravity-dev/cortex/internal/layout"
	"github.com/antigravity-dev/cortex/internal/projects"
	"github.com/antigravity-dev/cortex/internal/specversion"
	"github.com/antigravity-dev/cortex/internal/tools"
)

// Repository is the subset of *projects.Repository the Dragon tool set
// needs, narrowed for testability the way internal/specversion does.
type Repository interface {
	Create(name string, status projects.Status) (*projects.Project, error)
	Get(id string) (*projects.Project, error)
	GetByName(name string) (*projects.Project, error)
	List(status projects.Status) []*projects.Project
	SetStatus(id string, to projects.Status) error
	SetAllowedPaths(id string, paths []string) error
	SetVerification(id string, v projects.VerificationState) error
}

// SpecTracker is the subset of *specversion.Tracker the tool set needs.
type SpecTracker interface {
	RecordIfChanged(projectID string, content []byte) (version projects.SpecVersion, changed bool, err error)
}

// Deps bundles everything the Dragon tool set reads and writes through.
// All mutation goes through Repository and the filesystem under Root —
// Dragon tools never touch in-flight plans directly (§4.10).
type Deps struct {
	Repo    Repository
	Specs   SpecTracker
	Root    layout.Root
	Sink    Sink
	Session string
}

// FeaturesFile is the persisted shape of specification.features.json
// (§6.2, §6.3: "{features[], versions[]}").
type FeaturesFile struct {
	Features []string `json:"features"`
	Versions []string `json:"versions"`
}

// BuildToolSet returns every Dragon tool (§4.10), registry-ready.
func BuildToolSet(deps Deps) []tools.Tool {
	return []tools.Tool{
		writeSpecificationTool{deps},
		addExistingProjectTool{deps},
		approveSpecificationTool{deps},
		manageSpecificationTool{deps},
		manageFeaturesTool{deps},
		listProjectsTool{deps},
		retryVerificationTool{deps},
		viewVerificationReportTool{deps},
		skipVerificationTool{deps},
		viewSpecificationHistoryTool{deps},
	}
}

func sink(d Deps) Sink {
	if d.Sink != nil {
		return d.Sink
	}
	return discardSink{}
}

func stringInput(input map[string]any, key string) string {
	v, _ := input[key].(string)
	return v
}

// writeSpecificationTool implements write_specification(filename, content).
type writeSpecificationTool struct{ deps Deps }

func (writeSpecificationTool) Name() string { return "write_specification" }
func (writeSpecificationTool) Description() string {
	return "Creates or overwrites a project's specification file. Registers the project as Prototype if it does not yet exist."
}
func (writeSpecificationTool) InputSchema() tools.Schema {
	return tools.Schema{
		Properties: map[string]tools.PropertySchema{
			"filename": {Type: "string", Description: "project name / sanitized identity"},
			"content":  {Type: "string", Description: "specification markdown"},
		},
		Required: []string{"filename", "content"},
	}
}
func (t writeSpecificationTool) Execute(ctx context.Context, workingDir string, input map[string]any) (string, error) {
	name := layout.SanitizeSlug(stringInput(input, "filename"))
	content := stringInput(input, "content")
	if name == "" {
		return "", fmt.Errorf("filename sanitizes to an empty project name")
	}

	p, err := t.deps.Repo.GetByName(name)
	if err != nil {
		p, err = t.deps.Repo.Create(name, projects.StatusPrototype)
		if err != nil {
			return "", fmt.Errorf("registering project: %w", err)
		}
	}

	specPath := t.deps.Root.Project(name).SpecificationMD()
	if err := atomicfile.Write(specPath, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("writing specification: %w", err)
	}
	if _, _, err := t.deps.Specs.RecordIfChanged(p.ID, []byte(content)); err != nil {
		return "", fmt.Errorf("recording spec version: %w", err)
	}

	sink(t.deps).Emit(Event{Type: EventSpecificationCreated, SessionID: t.deps.Session, ProjectName: name, Path: specPath})
	return fmt.Sprintf("specification written for project %q at %s", name, specPath), nil
}

// addExistingProjectTool implements add_existing_project(path, projectName?).
type addExistingProjectTool struct{ deps Deps }

func (addExistingProjectTool) Name() string { return "add_existing_project" }
func (addExistingProjectTool) Description() string {
	return "Scans an existing directory, synthesizes an initial specification from its contents, and registers it as a Prototype project."
}
func (addExistingProjectTool) InputSchema() tools.Schema {
	return tools.Schema{
		Properties: map[string]tools.PropertySchema{
			"path":        {Type: "string"},
			"projectName": {Type: "string"},
		},
		Required: []string{"path"},
	}
}
func (t addExistingProjectTool) Execute(ctx context.Context, workingDir string, input map[string]any) (string, error) {
	path := stringInput(input, "path")
	name := layout.SanitizeSlug(stringInput(input, "projectName"))
	if name == "" {
		name = layout.SanitizeSlug(filepath.Base(strings.TrimRight(path, "/")))
	}
	if name == "" {
		return "", fmt.Errorf("could not derive a project name from %q", path)
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return "", fmt.Errorf("scanning %s: %w", path, err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)

	var spec strings.Builder
	fmt.Fprintf(&spec, "# %s\n\nImported project at `%s`.\n\n## Existing files\n\n", name, path)
	for _, n := range names {
		fmt.Fprintf(&spec, "- %s\n", n)
	}

	p, err := t.deps.Repo.Create(name, projects.StatusPrototype)
	if err != nil {
		return "", fmt.Errorf("registering project: %w", err)
	}
	specPath := t.deps.Root.Project(name).SpecificationMD()
	if err := atomicfile.Write(specPath, []byte(spec.String()), 0o644); err != nil {
		return "", fmt.Errorf("writing synthesized specification: %w", err)
	}
	if _, _, err := t.deps.Specs.RecordIfChanged(p.ID, []byte(spec.String())); err != nil {
		return "", fmt.Errorf("recording spec version: %w", err)
	}
	if err := t.deps.Repo.SetAllowedPaths(p.ID, []string{path}); err != nil {
		return "", fmt.Errorf("recording allowed external path: %w", err)
	}

	sink(t.deps).Emit(Event{Type: EventSpecificationCreated, SessionID: t.deps.Session, ProjectName: name, Path: specPath})
	return fmt.Sprintf("registered existing project %q from %s (%d entries scanned)", name, path, len(names)), nil
}

// approveSpecificationTool implements approve_specification(projectName, confirmation).
type approveSpecificationTool struct{ deps Deps }

func (approveSpecificationTool) Name() string { return "approve_specification" }
func (approveSpecificationTool) Description() string {
	return `Moves a project from Prototype to New when confirmation is exactly "yes".`
}
func (approveSpecificationTool) InputSchema() tools.Schema {
	return tools.Schema{
		Properties: map[string]tools.PropertySchema{
			"projectName":  {Type: "string"},
			"confirmation": {Type: "string"},
		},
		Required: []string{"projectName", "confirmation"},
	}
}
func (t approveSpecificationTool) Execute(ctx context.Context, workingDir string, input map[string]any) (string, error) {
	name := layout.SanitizeSlug(stringInput(input, "projectName"))
	p, err := t.deps.Repo.GetByName(name)
	if err != nil {
		return "", err
	}
	if stringInput(input, "confirmation") != "yes" {
		return fmt.Sprintf("approval declined for %q; project remains %s", name, p.Status), nil
	}
	if err := t.deps.Repo.SetStatus(p.ID, projects.StatusNew); err != nil {
		return "", err
	}
	return fmt.Sprintf("project %q approved: Prototype -> New", name), nil
}

// manageSpecificationTool implements manage_specification(projectName, content).
type manageSpecificationTool struct{ deps Deps }

func (manageSpecificationTool) Name() string { return "manage_specification" }
func (manageSpecificationTool) Description() string {
	return "Overwrites an existing project's specification content and records a new spec version if it changed."
}
func (manageSpecificationTool) InputSchema() tools.Schema {
	return tools.Schema{
		Properties: map[string]tools.PropertySchema{
			"projectName": {Type: "string"},
			"content":     {Type: "string"},
		},
		Required: []string{"projectName", "content"},
	}
}
func (t manageSpecificationTool) Execute(ctx context.Context, workingDir string, input map[string]any) (string, error) {
	name := layout.SanitizeSlug(stringInput(input, "projectName"))
	p, err := t.deps.Repo.GetByName(name)
	if err != nil {
		return "", err
	}
	content := stringInput(input, "content")
	specPath := t.deps.Root.Project(name).SpecificationMD()
	if err := atomicfile.Write(specPath, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("writing specification: %w", err)
	}
	v, changed, err := t.deps.Specs.RecordIfChanged(p.ID, []byte(content))
	if err != nil {
		return "", fmt.Errorf("recording spec version: %w", err)
	}
	if !changed {
		return fmt.Sprintf("specification for %q unchanged (still version %s)", name, v.ID), nil
	}
	return fmt.Sprintf("specification for %q updated to version %s", name, v.ID), nil
}

// manageFeaturesTool implements manage_features(projectName, features).
type manageFeaturesTool struct{ deps Deps }

func (manageFeaturesTool) Name() string { return "manage_features" }
func (manageFeaturesTool) Description() string {
	return "Replaces a project's tracked feature list, appending the change to its feature-version history."
}
func (manageFeaturesTool) InputSchema() tools.Schema {
	return tools.Schema{
		Properties: map[string]tools.PropertySchema{
			"projectName": {Type: "string"},
			"features":    {Type: "array", Description: "full replacement feature list"},
		},
		Required: []string{"projectName", "features"},
	}
}
func (t manageFeaturesTool) Execute(ctx context.Context, workingDir string, input map[string]any) (string, error) {
	name := layout.SanitizeSlug(stringInput(input, "projectName"))
	if _, err := t.deps.Repo.GetByName(name); err != nil {
		return "", err
	}

	raw, _ := input["features"].([]any)
	features := make([]string, 0, len(raw))
	for _, f := range raw {
		if s, ok := f.(string); ok {
			features = append(features, s)
		}
	}

	featuresPath := t.deps.Root.Project(name).SpecificationFeaturesJSON()
	existing := FeaturesFile{}
	if data, err := os.ReadFile(featuresPath); err == nil {
		_ = json.Unmarshal(data, &existing)
	}
	existing.Versions = append(existing.Versions, strings.Join(existing.Features, ","))
	existing.Features = features

	data, err := json.MarshalIndent(existing, "", "  ")
	if err != nil {
		return "", err
	}
	if err := atomicfile.Write(featuresPath, data, 0o644); err != nil {
		return "", fmt.Errorf("writing feature list: %w", err)
	}
	return fmt.Sprintf("feature list for %q updated (%d features)", name, len(features)), nil
}

// listProjectsTool implements list_projects.
type listProjectsTool struct{ deps Deps }

func (listProjectsTool) Name() string        { return "list_projects" }
func (listProjectsTool) Description() string { return "Enumerates every known project and its status." }
func (listProjectsTool) InputSchema() tools.Schema { return tools.Schema{} }
func (t listProjectsTool) Execute(ctx context.Context, workingDir string, input map[string]any) (string, error) {
	list := t.deps.Repo.List("")
	if len(list) == 0 {
		return "no projects registered", nil
	}
	var b strings.Builder
	for _, p := range list {
		fmt.Fprintf(&b, "- %s (%s): %s\n", p.Name, p.ID, p.Status)
	}
	return b.String(), nil
}

// retryVerificationTool implements retry_verification(projectName).
type retryVerificationTool struct{ deps Deps }

func (retryVerificationTool) Name() string { return "retry_verification" }
func (retryVerificationTool) Description() string {
	return "Re-queues a project for verification by moving it back to AwaitingVerification."
}
func (retryVerificationTool) InputSchema() tools.Schema {
	return tools.Schema{
		Properties: map[string]tools.PropertySchema{"projectName": {Type: "string"}},
		Required:   []string{"projectName"},
	}
}
func (t retryVerificationTool) Execute(ctx context.Context, workingDir string, input map[string]any) (string, error) {
	name := layout.SanitizeSlug(stringInput(input, "projectName"))
	p, err := t.deps.Repo.GetByName(name)
	if err != nil {
		return "", err
	}
	if err := t.deps.Repo.SetStatus(p.ID, projects.StatusAwaitingVerification); err != nil {
		return "", err
	}
	if err := t.deps.Repo.SetVerification(p.ID, projects.VerificationState{Status: projects.VerificationNotStarted}); err != nil {
		return "", err
	}
	return fmt.Sprintf("project %q re-queued for verification", name), nil
}

// viewVerificationReportTool implements view_verification_report(projectName).
type viewVerificationReportTool struct{ deps Deps }

func (viewVerificationReportTool) Name() string { return "view_verification_report" }
func (viewVerificationReportTool) Description() string {
	return "Returns a project's most recent verification report."
}
func (viewVerificationReportTool) InputSchema() tools.Schema {
	return tools.Schema{
		Properties: map[string]tools.PropertySchema{"projectName": {Type: "string"}},
		Required:   []string{"projectName"},
	}
}
func (t viewVerificationReportTool) Execute(ctx context.Context, workingDir string, input map[string]any) (string, error) {
	name := layout.SanitizeSlug(stringInput(input, "projectName"))
	p, err := t.deps.Repo.GetByName(name)
	if err != nil {
		return "", err
	}
	if p.Verification.Report == "" {
		return fmt.Sprintf("project %q has no verification report yet (status: %s)", name, p.Verification.Status), nil
	}
	return p.Verification.Report, nil
}

// skipVerificationTool implements skip_verification(projectName).
type skipVerificationTool struct{ deps Deps }

func (skipVerificationTool) Name() string { return "skip_verification" }
func (skipVerificationTool) Description() string {
	return "Marks a project's verification as Skipped and advances it straight to Completed."
}
func (skipVerificationTool) InputSchema() tools.Schema {
	return tools.Schema{
		Properties: map[string]tools.PropertySchema{"projectName": {Type: "string"}},
		Required:   []string{"projectName"},
	}
}
func (t skipVerificationTool) Execute(ctx context.Context, workingDir string, input map[string]any) (string, error) {
	name := layout.SanitizeSlug(stringInput(input, "projectName"))
	p, err := t.deps.Repo.GetByName(name)
	if err != nil {
		return "", err
	}
	if err := t.deps.Repo.SetVerification(p.ID, projects.VerificationState{Status: projects.VerificationSkipped}); err != nil {
		return "", err
	}
	if err := t.deps.Repo.SetStatus(p.ID, projects.StatusVerified); err != nil {
		return "", err
	}
	if err := t.deps.Repo.SetStatus(p.ID, projects.StatusCompleted); err != nil {
		return "", err
	}
	return fmt.Sprintf("verification for %q skipped; project marked Completed", name), nil
}

// viewSpecificationHistoryTool implements view_specification_history(projectName).
type viewSpecificationHistoryTool struct{ deps Deps }

func (viewSpecificationHistoryTool) Name() string { return "view_specification_history" }
func (viewSpecificationHistoryTool) Description() string {
	return "Read-only listing of a project's specification version history."
}
func (viewSpecificationHistoryTool) InputSchema() tools.Schema {
	return tools.Schema{
		Properties: map[string]tools.PropertySchema{"projectName": {Type: "string"}},
		Required:   []string{"projectName"},
	}
}
func (t viewSpecificationHistoryTool) Execute(ctx context.Context, workingDir string, input map[string]any) (string, error) {
	name := layout.SanitizeSlug(stringInput(input, "projectName"))
	p, err := t.deps.Repo.GetByName(name)
	if err != nil {
		return "", err
	}
	if len(p.SpecVersions) == 0 {
		return fmt.Sprintf("project %q has no recorded specification versions", name), nil
	}
	var b strings.Builder
	for _, v := range p.SpecVersions {
		active := ""
		if v.ID == p.ActiveSpecID {
			active = " (active)"
		}
		fmt.Fprintf(&b, "- %s: %s at %s%s\n", v.ID, v.Hash, v.CreatedAt.Format("2006-01-02T15:04:05Z07:00"), active)
	}
	return b.String(), nil
}
