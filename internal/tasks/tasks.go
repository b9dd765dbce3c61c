// Package tasks implements the markdown task-file round trip (§6.1):
// parsing a pipe-delimited table tolerant of whitespace and column
// disorder, and writing back only the table region while preserving any
// content the file had above its header.
package tasks

import (
	"fmt"
	"regexp"
	"strings"
)

// Status is a task row's lifecycle state (§3 Task record).
type Status string

const (
	StatusUnassigned     Status = "Unassigned"
	StatusNotInitialized Status = "NotInitialized"
	StatusWorking        Status = "Working"
	StatusDone           Status = "Done"
	StatusFailed         Status = "Failed"
)

// canonicalStatus maps a case-insensitive status token to its canonical
// capitalization (§6.1: "case-insensitive on read; canonical
// capitalization on write").
var canonicalStatus = map[string]Status{
	"unassigned":     StatusUnassigned,
	"notinitialized": StatusNotInitialized,
	"working":        StatusWorking,
	"done":           StatusDone,
	"failed":         StatusFailed,
}

// Priority is a task's priority, usually embedded as an inline tag in
// the description column (§6.1, §3).
type Priority string

const (
	PriorityCritical Priority = "Critical"
	PriorityHigh     Priority = "High"
	PriorityMedium   Priority = "Medium"
	PriorityLow      Priority = "Low"
)

// UnassignedAssignee is the sentinel assignee value for a task with no
// Kobold bound yet (§6.1).
const UnassignedAssignee = "unassigned"

// Task is one row of a task file (§3 "Task record").
type Task struct {
	ID             string
	Description    string
	Status         Status
	Assignee       string
	Priority       Priority
	AssignedAgentType string
	SpecVersionID  string
}

var (
	idTagRE       = regexp.MustCompile(`\[id:([^\]]+)\]`)
	priorityTagRE = regexp.MustCompile(`\[priority:([^\]]+)\]`)
)

// IDFromDescription extracts an inline [id:<slug>] tag, if present.
func IDFromDescription(description string) (string, bool) {
	m := idTagRE.FindStringSubmatch(description)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// PriorityFromDescription extracts an inline [priority:...] tag, if present.
func PriorityFromDescription(description string) (Priority, bool) {
	m := priorityTagRE.FindStringSubmatch(description)
	if m == nil {
		return "", false
	}
	return Priority(m[1]), true
}

// requiredColumns is the canonical header, lowercased, in order.
var requiredColumns = []string{"id", "description", "status", "assignee"}

// ErrHeaderMismatch is returned when a file's header doesn't match the
// expected column set — the parser refuses to overwrite unrecognized
// content (§6.1).
type ErrHeaderMismatch struct{ Found string }

func (e *ErrHeaderMismatch) Error() string {
	return fmt.Sprintf("task file header does not match expected columns %v: found %q", requiredColumns, e.Found)
}

// File is a parsed task file: the verbatim content above the header
// (preserved on write) and the parsed rows.
type File struct {
	Preamble string
	Columns  []string // as found in the source file, for column-order tolerance
	Tasks    []Task
}

// Parse reads a task file's content, tolerating leading/trailing
// whitespace, blank lines between rows, and header column reordering, but
// rejecting a header that doesn't name the required columns (§6.1).
func Parse(content string) (*File, error) {
	lines := strings.Split(content, "\n")

	headerIdx := -1
	var columns []string
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if !strings.HasPrefix(trimmed, "|") {
			continue
		}
		cols := splitRow(trimmed)
		if isHeaderRow(cols) {
			headerIdx = i
			columns = cols
			break
		}
	}
	if headerIdx == -1 {
		return nil, &ErrHeaderMismatch{Found: "(no pipe-delimited header found)"}
	}

	colIndex := make(map[string]int, len(columns))
	for i, c := range columns {
		colIndex[strings.ToLower(strings.TrimSpace(c))] = i
	}
	for _, required := range requiredColumns {
		if _, ok := colIndex[required]; !ok {
			return nil, &ErrHeaderMismatch{Found: strings.Join(columns, "|")}
		}
	}

	preamble := strings.Join(lines[:headerIdx], "\n")

	f := &File{Preamble: preamble, Columns: columns}

	// Skip the header row and an optional markdown separator row
	// ("|---|---|...") immediately after it.
	rowStart := headerIdx + 1
	if rowStart < len(lines) && isSeparatorRow(lines[rowStart]) {
		rowStart++
	}

	for _, line := range lines[rowStart:] {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		if !strings.HasPrefix(trimmed, "|") {
			continue
		}
		cols := splitRow(trimmed)
		if len(cols) < len(requiredColumns) {
			continue
		}
		t := rowToTask(cols, colIndex)
		f.Tasks = append(f.Tasks, t)
	}

	return f, nil
}

func isHeaderRow(cols []string) bool {
	if len(cols) < len(requiredColumns) {
		return false
	}
	seen := make(map[string]bool, len(cols))
	for _, c := range cols {
		seen[strings.ToLower(strings.TrimSpace(c))] = true
	}
	for _, required := range requiredColumns {
		if !seen[required] {
			return false
		}
	}
	return true
}

func isSeparatorRow(line string) bool {
	trimmed := strings.TrimSpace(line)
	if !strings.HasPrefix(trimmed, "|") {
		return false
	}
	body := strings.Trim(trimmed, "|")
	for _, c := range strings.Split(body, "|") {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		if strings.Trim(c, "-: ") != "" {
			return false
		}
	}
	return true
}

// splitRow splits a pipe-delimited row into trimmed cells, dropping the
// leading/trailing empty cells produced by a row starting and ending
// with "|".
func splitRow(line string) []string {
	trimmed := strings.Trim(strings.TrimSpace(line), "|")
	parts := strings.Split(trimmed, "|")
	cells := make([]string, len(parts))
	for i, p := range parts {
		cells[i] = strings.TrimSpace(p)
	}
	return cells
}

func rowToTask(cols []string, colIndex map[string]int) Task {
	get := func(name string) string {
		i, ok := colIndex[name]
		if !ok || i >= len(cols) {
			return ""
		}
		return cols[i]
	}

	description := get("description")
	t := Task{
		ID:          get("id"),
		Description: description,
		Status:      normalizeStatus(get("status")),
		Assignee:    get("assignee"),
	}
	if id, ok := IDFromDescription(description); ok && t.ID == "" {
		t.ID = id
	}
	if pr, ok := PriorityFromDescription(description); ok {
		t.Priority = pr
	}
	if t.Assignee == "" {
		t.Assignee = UnassignedAssignee
	}
	return t
}

func normalizeStatus(raw string) Status {
	if s, ok := canonicalStatus[strings.ToLower(strings.TrimSpace(raw))]; ok {
		return s
	}
	return StatusUnassigned
}

// Render serializes a File back to markdown text: preamble verbatim,
// followed by the canonical header, a separator row, and one row per
// task in canonical column order (§6.1 writer rules). Line breaks and
// pipes inside a description are written as spaces and slashes so each
// task stays on one row.
func (f *File) Render() string {
	cell := strings.NewReplacer("\r\n", " ", "\n", " ", "|", "/")
	var b strings.Builder
	if strings.TrimSpace(f.Preamble) != "" {
		b.WriteString(f.Preamble)
		if !strings.HasSuffix(f.Preamble, "\n") {
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}

	b.WriteString("| id | description | status | assignee |\n")
	b.WriteString("|---|---|---|---|\n")
	for _, t := range f.Tasks {
		assignee := t.Assignee
		if assignee == "" {
			assignee = UnassignedAssignee
		}
		fmt.Fprintf(&b, "| %s | %s | %s | %s |\n", t.ID, cell.Replace(t.Description), t.Status, assignee)
	}
	return b.String()
}

// New builds an empty File with the given preamble, ready for tasks to
// be appended before a first Render.
func New(preamble string) *File {
	return &File{Preamble: preamble, Columns: requiredColumns}
}
