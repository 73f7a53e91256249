package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
)

// ErrPathEscapesWorkspace is returned for paths outside the workspace root.
var ErrPathEscapesWorkspace = errors.New("path escapes workspace")

// Executor runs the built-in tools against a sandboxed workspace directory.
type Executor struct {
	root   string
	logger *zap.Logger
}

// NewExecutor creates an executor rooted at workDir, creating it if needed.
func NewExecutor(workDir string, logger *zap.Logger) (*Executor, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	abs, err := filepath.Abs(workDir)
	if err != nil {
		return nil, fmt.Errorf("resolve workspace: %w", err)
	}
	if err := os.MkdirAll(abs, 0755); err != nil {
		return nil, fmt.Errorf("create workspace: %w", err)
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		abs = resolved
	}
	return &Executor{root: abs, logger: logger}, nil
}

// Root returns the absolute workspace root.
func (e *Executor) Root() string {
	return e.root
}

// resolvePath maps a user path to an absolute path inside the workspace.
func (e *Executor) resolvePath(path string) (string, error) {
	if path == "" {
		path = "."
	}
	var full string
	if filepath.IsAbs(path) {
		full = filepath.Clean(path)
	} else {
		full = filepath.Join(e.root, path)
	}

	if !e.within(full) {
		return "", fmt.Errorf("%w: %s", ErrPathEscapesWorkspace, path)
	}

	// A symlink inside the workspace must not point outside it.
	if resolved, err := filepath.EvalSymlinks(full); err == nil && !e.within(resolved) {
		return "", fmt.Errorf("%w: %s", ErrPathEscapesWorkspace, path)
	}
	return full, nil
}

func (e *Executor) within(full string) bool {
	rel, err := filepath.Rel(e.root, full)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}

func (e *Executor) rel(full string) string {
	rel, err := filepath.Rel(e.root, full)
	if err != nil {
		return full
	}
	return rel
}

func decode(args json.RawMessage, v any) error {
	if len(args) == 0 {
		return nil
	}
	if err := json.Unmarshal(args, v); err != nil {
		return fmt.Errorf("Invalid parameters: %v", err)
	}
	return nil
}

func (e *Executor) createFile(_ context.Context, args json.RawMessage) Result {
	var params struct {
		Path      string `json:"path"`
		Content   string `json:"content"`
		Overwrite bool   `json:"overwrite"`
	}
	if err := decode(args, &params); err != nil {
		return Fail("%v", err)
	}

	path, err := e.resolvePath(params.Path)
	if err != nil {
		return Fail("%v", err)
	}

	if _, err := os.Stat(path); err == nil && !params.Overwrite {
		return FailWith(map[string]any{"path": e.rel(path)}, "File already exists: %s", params.Path)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return Fail("Failed to create directory: %v", err)
	}
	if err := os.WriteFile(path, []byte(params.Content), 0644); err != nil {
		return Fail("Failed to write file: %v", err)
	}

	e.logger.Debug("file created", zap.String("path", e.rel(path)), zap.Int("size", len(params.Content)))
	return OK(map[string]any{"path": e.rel(path), "size": len(params.Content)})
}

func (e *Executor) readFile(_ context.Context, args json.RawMessage) Result {
	var params struct {
		Path   string `json:"path"`
		Offset int    `json:"offset"`
		Limit  int    `json:"limit"`
	}
	if err := decode(args, &params); err != nil {
		return Fail("%v", err)
	}

	path, err := e.resolvePath(params.Path)
	if err != nil {
		return Fail("%v", err)
	}
	content, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Fail("File not found: %s", params.Path)
		}
		return Fail("Failed to read file: %v", err)
	}

	text := string(content)
	lines := strings.Split(text, "\n")
	totalLines := len(lines)
	if strings.HasSuffix(text, "\n") {
		totalLines--
	}

	if params.Offset > 0 || params.Limit > 0 {
		start := 0
		if params.Offset > 0 {
			start = params.Offset - 1
			if start >= len(lines) {
				return Fail("Offset beyond end of file")
			}
		}
		end := len(lines)
		if params.Limit > 0 {
			end = min(start+params.Limit, len(lines))
		}
		text = strings.Join(lines[start:end], "\n")
	}

	return OK(map[string]any{
		"path":    e.rel(path),
		"content": text,
		"size":    len(content),
		"lines":   totalLines,
	})
}

func (e *Executor) updateFile(_ context.Context, args json.RawMessage) Result {
	var params struct {
		Path    string `json:"path"`
		Content string `json:"content"`
		Mode    string `json:"mode"`
	}
	if err := decode(args, &params); err != nil {
		return Fail("%v", err)
	}
	if params.Mode == "" {
		params.Mode = "replace"
	}

	path, err := e.resolvePath(params.Path)
	if err != nil {
		return Fail("%v", err)
	}
	existing, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Fail("File not found: %s", params.Path)
		}
		return Fail("Failed to read file: %v", err)
	}

	var updated string
	switch params.Mode {
	case "replace":
		updated = params.Content
	case "append":
		updated = string(existing) + params.Content
	case "prepend":
		updated = params.Content + string(existing)
	default:
		return Fail("Invalid mode: %s", params.Mode)
	}

	if err := os.WriteFile(path, []byte(updated), 0644); err != nil {
		return Fail("Failed to write file: %v", err)
	}
	return OK(map[string]any{"path": e.rel(path), "mode": params.Mode})
}

func (e *Executor) deleteFile(_ context.Context, args json.RawMessage) Result {
	var params struct {
		Path string `json:"path"`
	}
	if err := decode(args, &params); err != nil {
		return Fail("%v", err)
	}

	path, err := e.resolvePath(params.Path)
	if err != nil {
		return Fail("%v", err)
	}
	if path == e.root {
		return Fail("Refusing to delete the workspace root")
	}
	info, err := os.Stat(path)
	if err != nil {
		return Fail("File not found: %s", params.Path)
	}
	if info.IsDir() {
		return Fail("Not a file: %s", params.Path)
	}
	if err := os.Remove(path); err != nil {
		return Fail("Failed to delete file: %v", err)
	}
	return OK(map[string]any{"path": e.rel(path)})
}

func (e *Executor) createDirectory(_ context.Context, args json.RawMessage) Result {
	var params struct {
		Path string `json:"path"`
	}
	if err := decode(args, &params); err != nil {
		return Fail("%v", err)
	}

	path, err := e.resolvePath(params.Path)
	if err != nil {
		return Fail("%v", err)
	}
	if err := os.MkdirAll(path, 0755); err != nil {
		return Fail("Failed to create directory: %v", err)
	}
	return OK(map[string]any{"path": e.rel(path)})
}

type dirItem struct {
	Path string `json:"path"`
	Name string `json:"name"`
	Type string `json:"type"`
	Size *int64 `json:"size,omitempty"`
}

func (e *Executor) listDirectory(_ context.Context, args json.RawMessage) Result {
	var params struct {
		Path          string `json:"path"`
		Recursive     bool   `json:"recursive"`
		IncludeHidden bool   `json:"include_hidden"`
	}
	if err := decode(args, &params); err != nil {
		return Fail("%v", err)
	}

	path, err := e.resolvePath(params.Path)
	if err != nil {
		return Fail("%v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		return Fail("Directory not found: %s", params.Path)
	}
	if !info.IsDir() {
		return Fail("Not a directory: %s", params.Path)
	}

	var items []dirItem
	walkErr := filepath.WalkDir(path, func(p string, d os.DirEntry, err error) error {
		if err != nil || p == path {
			return nil
		}
		hidden := strings.HasPrefix(d.Name(), ".")
		if hidden && !params.IncludeHidden {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		items = append(items, e.item(p, d))
		if d.IsDir() && !params.Recursive {
			return filepath.SkipDir
		}
		return nil
	})
	if walkErr != nil {
		return Fail("Failed to read directory: %v", walkErr)
	}

	return OK(map[string]any{"path": e.rel(path), "items": items, "count": len(items)})
}

func (e *Executor) item(p string, d os.DirEntry) dirItem {
	it := dirItem{Path: e.rel(p), Name: d.Name(), Type: "file"}
	if d.IsDir() {
		it.Type = "directory"
		return it
	}
	if info, err := d.Info(); err == nil {
		size := info.Size()
		it.Size = &size
	}
	return it
}

func (e *Executor) createProjectStructure(ctx context.Context, args json.RawMessage) Result {
	var params struct {
		ProjectName string `json:"project_name"`
		Structure   struct {
			Directories []string          `json:"directories"`
			Files       map[string]string `json:"files"`
		} `json:"structure"`
	}
	if err := decode(args, &params); err != nil {
		return Fail("%v", err)
	}
	if _, err := e.resolvePath(params.ProjectName); err != nil {
		return Fail("%v", err)
	}

	type created struct {
		Type string `json:"type"`
		Path string `json:"path"`
	}
	var items []created
	var failures []string

	for _, dir := range params.Structure.Directories {
		p := filepath.Join(params.ProjectName, dir)
		raw, _ := json.Marshal(map[string]string{"path": p})
		if res := e.createDirectory(ctx, raw); res.Success {
			items = append(items, created{Type: "directory", Path: p})
		} else {
			failures = append(failures, res.Error)
		}
	}
	for _, name := range sortedKeys(params.Structure.Files) {
		p := filepath.Join(params.ProjectName, name)
		raw, _ := json.Marshal(map[string]string{"path": p, "content": params.Structure.Files[name]})
		if res := e.createFile(ctx, raw); res.Success {
			items = append(items, created{Type: "file", Path: p})
		} else {
			failures = append(failures, res.Error)
		}
	}

	fields := map[string]any{"project_name": params.ProjectName, "created_items": items}
	if len(failures) > 0 {
		fields["failures"] = failures
	}
	return OK(fields)
}

type treeNode struct {
	Name     string     `json:"name"`
	Path     string     `json:"path"`
	Type     string     `json:"type"`
	Size     *int64     `json:"size,omitempty"`
	Children []treeNode `json:"children,omitempty"`
}

func (e *Executor) getProjectTree(_ context.Context, args json.RawMessage) Result {
	var params struct {
		Path     string `json:"path"`
		MaxDepth int    `json:"max_depth"`
	}
	if err := decode(args, &params); err != nil {
		return Fail("%v", err)
	}
	if params.MaxDepth <= 0 {
		params.MaxDepth = 5
	}

	path, err := e.resolvePath(params.Path)
	if err != nil {
		return Fail("%v", err)
	}
	if _, err := os.Stat(path); err != nil {
		return Fail("Directory not found: %s", params.Path)
	}
	return OK(map[string]any{"path": e.rel(path), "tree": e.buildTree(path, 0, params.MaxDepth)})
}

func (e *Executor) buildTree(dir string, depth, maxDepth int) []treeNode {
	if depth >= maxDepth {
		return nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var nodes []treeNode
	for _, entry := range entries {
		if strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		p := filepath.Join(dir, entry.Name())
		it := e.item(p, entry)
		node := treeNode{Name: it.Name, Path: it.Path, Type: it.Type, Size: it.Size}
		if entry.IsDir() {
			node.Children = e.buildTree(p, depth+1, maxDepth)
		}
		nodes = append(nodes, node)
	}
	return nodes
}

func (e *Executor) getFileInfo(_ context.Context, args json.RawMessage) Result {
	var params struct {
		Path string `json:"path"`
	}
	if err := decode(args, &params); err != nil {
		return Fail("%v", err)
	}

	path, err := e.resolvePath(params.Path)
	if err != nil {
		return Fail("%v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		return Fail("File not found: %s", params.Path)
	}

	fields := map[string]any{
		"path":         e.rel(path),
		"name":         info.Name(),
		"size":         info.Size(),
		"modified":     info.ModTime().Format(time.RFC3339),
		"is_file":      info.Mode().IsRegular(),
		"is_directory": info.IsDir(),
	}
	if info.Mode().IsRegular() {
		if content, err := os.ReadFile(path); err == nil {
			fields["lines"] = strings.Count(string(content), "\n")
		}
		fields["extension"] = filepath.Ext(path)
	}
	return OK(fields)
}
