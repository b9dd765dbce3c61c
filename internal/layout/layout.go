// Package layout centralizes the on-disk path conventions described in
// spec §6.2, so every other package resolves a project's files the same
// way instead of hand-building paths.
package layout

import (
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

// Root is the on-disk layout rooted at one {ProjectsPath} directory.
type Root struct {
	path string
}

// NewRoot wraps a configured projects path.
func NewRoot(projectsPath string) Root {
	return Root{path: projectsPath}
}

// Path returns the projects-root directory itself.
func (r Root) Path() string { return r.path }

// ProjectsJSON is the project registry file.
func (r Root) ProjectsJSON() string {
	return filepath.Join(r.path, "projects.json")
}

// Project returns the path helper scoped to one sanitized project name.
func (r Root) Project(sanitizedName string) Project {
	return Project{root: r.path, name: sanitizedName}
}

// Project is the per-project subtree under {ProjectsPath}/{sanitized-name}/.
type Project struct {
	root string
	name string
}

func (p Project) Dir() string { return filepath.Join(p.root, p.name) }

func (p Project) SpecificationMD() string {
	return filepath.Join(p.Dir(), "specification.md")
}

func (p Project) SpecificationFeaturesJSON() string {
	return filepath.Join(p.Dir(), "specification.features.json")
}

func (p Project) WyrmRecommendationJSON() string {
	return filepath.Join(p.Dir(), "wyrm-recommendation.json")
}

func (p Project) AnalysisMD() string {
	return filepath.Join(p.Dir(), "analysis.md")
}

func (p Project) AnalysisJSON() string {
	return filepath.Join(p.Dir(), "analysis.json")
}

func (p Project) TasksDir() string {
	return filepath.Join(p.Dir(), "tasks")
}

func (p Project) TaskFile(areaSlug string) string {
	return filepath.Join(p.TasksDir(), areaSlug+"-tasks.md")
}

func (p Project) VerificationFixesTaskFile() string {
	return filepath.Join(p.TasksDir(), "verification-fixes-tasks.md")
}

func (p Project) KoboldPlansDir() string {
	return filepath.Join(p.Dir(), "kobold-plans")
}

func (p Project) PlanIndexJSON() string {
	return filepath.Join(p.KoboldPlansDir(), "plan-index.json")
}

// PlanFileBase returns the {area}-{index}-{slug}-{hash} basename shared by
// a plan's JSON and markdown mirror.
func (p Project) PlanFileBase(area string, index int, slug, hash string) string {
	return filepath.Join(p.KoboldPlansDir(), planBaseName(area, index, slug, hash))
}

func planBaseName(area string, index int, slug, hash string) string {
	return SanitizeSlug(area) + "-" + strconv.Itoa(index) + "-" + slug + "-" + hash
}

func (p Project) PlanJSON(area string, index int, slug, hash string) string {
	return p.PlanFileBase(area, index, slug, hash) + "-plan.json"
}

func (p Project) PlanMD(area string, index int, slug, hash string) string {
	return p.PlanFileBase(area, index, slug, hash) + "-plan.md"
}

func (p Project) Workspace() string {
	return filepath.Join(p.Dir(), "workspace")
}

func (p Project) PlanningContextJSON() string {
	return filepath.Join(p.Dir(), "planning-context.json")
}

var nonSlugChars = regexp.MustCompile(`[^a-z0-9-]+`)

// SanitizeSlug lowercases s and replaces anything that isn't [a-z0-9-]
// with "-", collapsing repeats, for use in a filename or project's
// sanitized-name identity.
func SanitizeSlug(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = nonSlugChars.ReplaceAllString(s, "-")
	for strings.Contains(s, "--") {
		s = strings.ReplaceAll(s, "--", "-")
	}
	return strings.Trim(s, "-")
}
