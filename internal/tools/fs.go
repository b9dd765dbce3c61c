package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// Sandbox canonicalizes and checks a path against a workspace root plus an
// explicit allow-list of external paths, per §4.2: "Filesystem tools must
// reject paths that, after canonicalization, are not contained in the
// project's workspace or its explicitly-allowed external path set."
type Sandbox struct {
	Workspace     string
	AllowedPaths  []string
}

// Resolve canonicalizes candidate (relative to Workspace if not absolute)
// and verifies containment, returning the absolute path on success.
func (s Sandbox) Resolve(candidate string) (string, error) {
	abs := candidate
	if !filepath.IsAbs(abs) {
		abs = filepath.Join(s.Workspace, candidate)
	}
	abs = filepath.Clean(abs)

	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		abs = resolved
	}

	if within(s.Workspace, abs) {
		return abs, nil
	}
	for _, allowed := range s.AllowedPaths {
		if within(allowed, abs) {
			return abs, nil
		}
	}
	return "", fmt.Errorf("path %q escapes workspace and allowed paths", candidate)
}

func within(root, path string) bool {
	rootAbs, err1 := filepath.Abs(filepath.Clean(root))
	pathAbs, err2 := filepath.Abs(path)
	if err1 != nil || err2 != nil {
		return false
	}
	rel, err := filepath.Rel(rootAbs, pathAbs)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !(len(rel) >= 3 && rel[:3] == ".."+string(filepath.Separator)))
}

// ReadFileTool reads a file within the sandbox.
type ReadFileTool struct{ Sandbox Sandbox }

func (ReadFileTool) Name() string        { return "read_file" }
func (ReadFileTool) Description() string { return "Reads a UTF-8 text file within the project workspace." }
func (ReadFileTool) InputSchema() Schema {
	return Schema{
		Properties: map[string]PropertySchema{"path": {Type: "string", Description: "path relative to the workspace root"}},
		Required:   []string{"path"},
	}
}
func (t ReadFileTool) Execute(ctx context.Context, workingDir string, input map[string]any) (string, error) {
	path, err := t.Sandbox.Resolve(input["path"].(string))
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read_file: %w", err)
	}
	return string(data), nil
}

// WriteFileTool writes a file within the sandbox, creating parent
// directories as needed.
type WriteFileTool struct{ Sandbox Sandbox }

func (WriteFileTool) Name() string        { return "write_file" }
func (WriteFileTool) Description() string { return "Writes (overwriting) a UTF-8 text file within the project workspace." }
func (WriteFileTool) InputSchema() Schema {
	return Schema{
		Properties: map[string]PropertySchema{
			"path":    {Type: "string"},
			"content": {Type: "string"},
		},
		Required: []string{"path", "content"},
	}
}
func (t WriteFileTool) Execute(ctx context.Context, workingDir string, input map[string]any) (string, error) {
	path, err := t.Sandbox.Resolve(input["path"].(string))
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("write_file: %w", err)
	}
	if err := os.WriteFile(path, []byte(input["content"].(string)), 0o644); err != nil {
		return "", fmt.Errorf("write_file: %w", err)
	}
	return fmt.Sprintf("wrote %d bytes to %s", len(input["content"].(string)), input["path"]), nil
}

// ListDirTool lists one directory's entries within the sandbox.
type ListDirTool struct{ Sandbox Sandbox }

func (ListDirTool) Name() string        { return "list_dir" }
func (ListDirTool) Description() string { return "Lists entries of a directory within the project workspace." }
func (ListDirTool) InputSchema() Schema {
	return Schema{
		Properties: map[string]PropertySchema{"path": {Type: "string"}},
		Required:   []string{"path"},
	}
}
func (t ListDirTool) Execute(ctx context.Context, workingDir string, input map[string]any) (string, error) {
	path, err := t.Sandbox.Resolve(input["path"].(string))
	if err != nil {
		return "", err
	}
	entries, err := os.ReadDir(path)
	if err != nil {
		return "", fmt.Errorf("list_dir: %w", err)
	}
	out := ""
	for _, e := range entries {
		suffix := ""
		if e.IsDir() {
			suffix = "/"
		}
		out += e.Name() + suffix + "\n"
	}
	return out, nil
}
