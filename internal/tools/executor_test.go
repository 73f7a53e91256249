package tools

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func newTestRegistry(t *testing.T) (*Registry, string) {
	t.Helper()
	dir := t.TempDir()
	reg, err := NewBuiltinRegistry(dir, nil)
	if err != nil {
		t.Fatalf("NewBuiltinRegistry failed: %v", err)
	}
	exec, _ := NewExecutor(dir, nil)
	return reg, exec.Root()
}

func run(t *testing.T, reg *Registry, name string, args any) Result {
	t.Helper()
	raw, err := json.Marshal(args)
	if err != nil {
		t.Fatalf("marshal args: %v", err)
	}
	return reg.Execute(context.Background(), name, raw)
}

func TestCreateFile(t *testing.T) {
	reg, root := newTestRegistry(t)

	res := run(t, reg, "create_file", map[string]any{"path": "src/main.go", "content": "package main\n"})
	if !res.Success {
		t.Fatalf("create_file failed: %s", res.Error)
	}
	if res.Fields["path"] != filepath.Join("src", "main.go") {
		t.Errorf("expected relative path, got %v", res.Fields["path"])
	}

	data, err := os.ReadFile(filepath.Join(root, "src", "main.go"))
	if err != nil {
		t.Fatalf("file not written: %v", err)
	}
	if string(data) != "package main\n" {
		t.Errorf("unexpected content %q", data)
	}

	res = run(t, reg, "create_file", map[string]any{"path": "src/main.go", "content": "again"})
	if res.Success || !strings.Contains(res.Error, "already exists") {
		t.Errorf("expected already-exists failure, got %+v", res)
	}

	res = run(t, reg, "create_file", map[string]any{"path": "src/main.go", "content": "again", "overwrite": true})
	if !res.Success {
		t.Errorf("expected overwrite to succeed, got %s", res.Error)
	}
}

func TestCreateFile_SandboxEscape(t *testing.T) {
	reg, root := newTestRegistry(t)

	for _, path := range []string{"../outside.txt", "a/../../outside.txt", "/etc/rfd-outside.txt"} {
		res := run(t, reg, "create_file", map[string]any{"path": path, "content": "x"})
		if res.Success {
			t.Errorf("expected %q to be rejected", path)
			continue
		}
		if !strings.Contains(res.Error, "path escapes workspace") {
			t.Errorf("expected sandbox error for %q, got %q", path, res.Error)
		}
	}

	if _, err := os.Stat(filepath.Join(filepath.Dir(root), "outside.txt")); err == nil {
		t.Error("file was written outside the workspace")
	}
}

func TestCreateFile_AbsolutePathInsideWorkspace(t *testing.T) {
	reg, root := newTestRegistry(t)

	res := run(t, reg, "create_file", map[string]any{"path": filepath.Join(root, "abs.txt"), "content": "ok"})
	if !res.Success {
		t.Fatalf("expected absolute path inside workspace to be allowed: %s", res.Error)
	}
}

func TestReadFile(t *testing.T) {
	reg, root := newTestRegistry(t)
	if err := os.WriteFile(filepath.Join(root, "notes.txt"), []byte("line1\nline2\nline3\n"), 0644); err != nil {
		t.Fatal(err)
	}

	res := run(t, reg, "read_file", map[string]any{"path": "notes.txt"})
	if !res.Success {
		t.Fatalf("read_file failed: %s", res.Error)
	}
	if res.Fields["lines"] != 3 {
		t.Errorf("expected 3 lines, got %v", res.Fields["lines"])
	}

	res = run(t, reg, "read_file", map[string]any{"path": "notes.txt", "offset": 2, "limit": 1})
	if res.Fields["content"] != "line2" {
		t.Errorf("expected line2, got %q", res.Fields["content"])
	}

	res = run(t, reg, "read_file", map[string]any{"path": "missing.txt"})
	if res.Success || !strings.Contains(res.Error, "File not found") {
		t.Errorf("expected not-found failure, got %+v", res)
	}
}

func TestUpdateFile(t *testing.T) {
	reg, root := newTestRegistry(t)
	path := filepath.Join(root, "log.txt")
	if err := os.WriteFile(path, []byte("middle"), 0644); err != nil {
		t.Fatal(err)
	}

	if res := run(t, reg, "update_file", map[string]any{"path": "log.txt", "content": "-end", "mode": "append"}); !res.Success {
		t.Fatalf("append failed: %s", res.Error)
	}
	if res := run(t, reg, "update_file", map[string]any{"path": "log.txt", "content": "start-", "mode": "prepend"}); !res.Success {
		t.Fatalf("prepend failed: %s", res.Error)
	}

	data, _ := os.ReadFile(path)
	if string(data) != "start-middle-end" {
		t.Errorf("unexpected content %q", data)
	}

	res := run(t, reg, "update_file", map[string]any{"path": "log.txt", "content": "x", "mode": "insert"})
	if res.Success {
		t.Error("expected invalid mode to be rejected")
	}

	if res := run(t, reg, "update_file", map[string]any{"path": "log.txt", "content": "fresh"}); !res.Success {
		t.Fatalf("replace failed: %s", res.Error)
	}
	data, _ = os.ReadFile(path)
	if string(data) != "fresh" {
		t.Errorf("expected replace by default, got %q", data)
	}
}

func TestDeleteFile(t *testing.T) {
	reg, root := newTestRegistry(t)
	path := filepath.Join(root, "gone.txt")
	if err := os.WriteFile(path, []byte("bye"), 0644); err != nil {
		t.Fatal(err)
	}

	if res := run(t, reg, "delete_file", map[string]any{"path": "gone.txt"}); !res.Success {
		t.Fatalf("delete_file failed: %s", res.Error)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("expected file to be deleted")
	}

	if res := run(t, reg, "delete_file", map[string]any{"path": "gone.txt"}); res.Success {
		t.Error("expected second delete to fail")
	}
	if res := run(t, reg, "delete_file", map[string]any{"path": "."}); res.Success {
		t.Error("expected deleting the workspace root to fail")
	}
}

func TestListDirectory(t *testing.T) {
	reg, root := newTestRegistry(t)
	os.MkdirAll(filepath.Join(root, "pkg", "inner"), 0755)
	os.WriteFile(filepath.Join(root, "a.txt"), []byte("a"), 0644)
	os.WriteFile(filepath.Join(root, ".hidden"), []byte("h"), 0644)
	os.WriteFile(filepath.Join(root, "pkg", "inner", "b.txt"), []byte("b"), 0644)

	res := run(t, reg, "list_directory", map[string]any{})
	if !res.Success {
		t.Fatalf("list_directory failed: %s", res.Error)
	}
	if res.Fields["count"] != 2 {
		t.Errorf("expected 2 top-level visible items, got %v", res.Fields["count"])
	}

	res = run(t, reg, "list_directory", map[string]any{"recursive": true, "include_hidden": true})
	if res.Fields["count"] != 5 {
		t.Errorf("expected 5 items recursively, got %v", res.Fields["count"])
	}

	res = run(t, reg, "list_directory", map[string]any{"path": "a.txt"})
	if res.Success {
		t.Error("expected listing a file to fail")
	}
}

func TestCreateProjectStructureAndTree(t *testing.T) {
	reg, root := newTestRegistry(t)

	res := run(t, reg, "create_project_structure", map[string]any{
		"project_name": "app",
		"structure": map[string]any{
			"directories": []string{"cmd", "internal/core"},
			"files": map[string]string{
				"go.mod":          "module app\n",
				"cmd/main.go":     "package main\n",
				"internal/doc.go": "package internal\n",
			},
		},
	})
	if !res.Success {
		t.Fatalf("create_project_structure failed: %s", res.Error)
	}
	if _, err := os.Stat(filepath.Join(root, "app", "internal", "core")); err != nil {
		t.Errorf("expected directory to exist: %v", err)
	}
	if _, err := os.Stat(filepath.Join(root, "app", "cmd", "main.go")); err != nil {
		t.Errorf("expected file to exist: %v", err)
	}

	tree := run(t, reg, "get_project_tree", map[string]any{"path": "app", "max_depth": 1})
	if !tree.Success {
		t.Fatalf("get_project_tree failed: %s", tree.Error)
	}
	nodes, ok := tree.Fields["tree"].([]treeNode)
	if !ok {
		t.Fatalf("expected tree nodes, got %T", tree.Fields["tree"])
	}
	if len(nodes) != 3 {
		t.Errorf("expected 3 top-level nodes, got %d", len(nodes))
	}
	for _, n := range nodes {
		if len(n.Children) != 0 {
			t.Errorf("expected max_depth 1 to omit children of %s", n.Name)
		}
	}
}

func TestGetFileInfo(t *testing.T) {
	reg, root := newTestRegistry(t)
	os.WriteFile(filepath.Join(root, "info.md"), []byte("one\ntwo\n"), 0644)

	res := run(t, reg, "get_file_info", map[string]any{"path": "info.md"})
	if !res.Success {
		t.Fatalf("get_file_info failed: %s", res.Error)
	}
	if res.Fields["lines"] != 2 {
		t.Errorf("expected 2 lines, got %v", res.Fields["lines"])
	}
	if res.Fields["extension"] != ".md" {
		t.Errorf("expected .md extension, got %v", res.Fields["extension"])
	}
	if res.Fields["is_file"] != true {
		t.Error("expected is_file to be true")
	}
}

func TestResultString(t *testing.T) {
	res := FailWith(map[string]any{"path": "x"}, "boom %d", 1)

	var decoded map[string]any
	if err := json.Unmarshal([]byte(res.String()), &decoded); err != nil {
		t.Fatalf("result is not valid JSON: %v", err)
	}
	if decoded["success"] != false || decoded["error"] != "boom 1" || decoded["path"] != "x" {
		t.Errorf("unexpected flattened result %v", decoded)
	}
}
