package tools

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestBuiltinRegistry_Catalogue(t *testing.T) {
	reg, _ := newTestRegistry(t)

	expected := []Kind{
		KindCreateFile, KindReadFile, KindUpdateFile, KindDeleteFile,
		KindCreateDirectory, KindListDirectory, KindCreateProjectStructure,
		KindGetProjectTree, KindGetFileInfo, KindBash, KindGitOperations,
		KindGrepFiles, KindGlobSearch, KindExecuteBatch,
	}
	if reg.Len() != len(expected) {
		t.Fatalf("expected %d tools, got %d", len(expected), reg.Len())
	}
	for _, k := range expected {
		if _, ok := reg.Get(string(k)); !ok {
			t.Errorf("missing tool %s", k)
		}
	}

	schemas := reg.Schemas("bash", "nope", "read_file")
	if len(schemas) != 2 {
		t.Fatalf("expected unknown names to be skipped, got %d schemas", len(schemas))
	}
	if schemas[0].Name != "bash" || len(schemas[0].Required) != 1 {
		t.Errorf("unexpected bash schema %+v", schemas[0])
	}
}

func TestRegistry_IndexIsBounded(t *testing.T) {
	reg := NewRegistry(nil)
	long := strings.Repeat("very long documentation ", 50)
	err := reg.Register(Tool{
		Kind:    KindCustom,
		Name:    "verbose",
		Doc:     long + "\nsecond line that never appears in the index",
		Handler: func(context.Context, json.RawMessage) Result { return OK(nil) },
	})
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	index := reg.Index()
	if len(index) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(index))
	}
	if n := len([]rune(index[0].Summary)); n > MaxSummaryRunes {
		t.Errorf("summary has %d runes, limit is %d", n, MaxSummaryRunes)
	}
	if strings.Contains(reg.IndexText(), "second line") {
		t.Error("index text should only hold the first line of documentation")
	}
}

func TestRegistry_RegisterValidation(t *testing.T) {
	noop := func(context.Context, json.RawMessage) Result { return OK(nil) }

	tests := []struct {
		name    string
		tool    Tool
		wantErr error
	}{
		{
			name:    "empty name",
			tool:    Tool{Kind: KindCustom, Handler: noop},
			wantErr: ErrInvalidSchema,
		},
		{
			name:    "unknown kind",
			tool:    Tool{Kind: "weird", Name: "x", Handler: noop},
			wantErr: ErrInvalidSchema,
		},
		{
			name:    "missing handler",
			tool:    Tool{Kind: KindCustom, Name: "x"},
			wantErr: ErrInvalidSchema,
		},
		{
			name: "undeclared required",
			tool: Tool{Kind: KindCustom, Name: "x", Handler: noop,
				Schema: Schema{Required: []string{"path"}}},
			wantErr: ErrInvalidSchema,
		},
		{
			name: "bad property type",
			tool: Tool{Kind: KindCustom, Name: "x", Handler: noop,
				Schema: Schema{Properties: map[string]Property{"n": {Type: "float"}}}},
			wantErr: ErrInvalidSchema,
		},
		{
			name: "enum on integer",
			tool: Tool{Kind: KindCustom, Name: "x", Handler: noop,
				Schema: Schema{Properties: map[string]Property{"n": {Type: "integer", Enum: []string{"1"}}}}},
			wantErr: ErrInvalidSchema,
		},
		{
			name: "valid",
			tool: Tool{Kind: KindCustom, Name: "x", Handler: noop,
				Schema: Schema{Properties: map[string]Property{"path": {Type: "string"}}, Required: []string{"path"}}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NewRegistry(nil).Register(tt.tool)
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("expected no error, got %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestRegistry_DuplicateName(t *testing.T) {
	reg := NewRegistry(nil)
	tool := Tool{Kind: KindCustom, Name: "dup", Handler: func(context.Context, json.RawMessage) Result { return OK(nil) }}
	if err := reg.Register(tool); err != nil {
		t.Fatalf("first Register failed: %v", err)
	}
	if err := reg.Register(tool); !errors.Is(err, ErrDuplicateTool) {
		t.Errorf("expected ErrDuplicateTool, got %v", err)
	}
}

func TestRegistry_ExecuteFailuresAreResults(t *testing.T) {
	reg := NewRegistry(nil)
	reg.Register(Tool{
		Kind:    KindCustom,
		Name:    "explode",
		Handler: func(context.Context, json.RawMessage) Result { panic("kaboom") },
	})
	reg.Register(Tool{
		Kind: KindCustom,
		Name: "needs_path",
		Schema: Schema{
			Properties: map[string]Property{"path": {Type: "string"}},
			Required:   []string{"path"},
		},
		Handler: func(context.Context, json.RawMessage) Result { return OK(nil) },
	})

	tests := []struct {
		name    string
		tool    string
		args    string
		wantErr string
	}{
		{"unknown tool", "missing", `{}`, "Unknown tool: missing"},
		{"bad json", "needs_path", `{not json`, "Invalid parameters"},
		{"missing argument", "needs_path", `{}`, "missing required argument(s): path"},
		{"panic", "explode", `{}`, "panicked: kaboom"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := reg.Execute(context.Background(), tt.tool, json.RawMessage(tt.args))
			if res.Success {
				t.Fatal("expected failure")
			}
			if !strings.Contains(res.Error, tt.wantErr) {
				t.Errorf("expected error containing %q, got %q", tt.wantErr, res.Error)
			}
		})
	}
}

func TestSmartTimeout(t *testing.T) {
	tests := []struct {
		command string
		want    time.Duration
	}{
		{"npm install", InstallTimeout},
		{"pip install -r requirements.txt", InstallTimeout},
		{"go build ./...", BuildTimeout},
		{"npm test", BuildTimeout},
		{"pytest -q", BuildTimeout},
		{"ls -la", QuickTimeout},
		{"echo hello", QuickTimeout},
		{"python script.py", DefaultTimeout},
		{"", DefaultTimeout},
	}

	for _, tt := range tests {
		if got := SmartTimeout(tt.command); got != tt.want {
			t.Errorf("SmartTimeout(%q) = %v, expected %v", tt.command, got, tt.want)
		}
	}
}

func TestBash(t *testing.T) {
	reg, _ := newTestRegistry(t)

	res := run(t, reg, "bash", map[string]any{"command": "echo hello"})
	if !res.Success {
		t.Fatalf("bash failed: %s", res.Error)
	}
	if strings.TrimSpace(res.Fields["stdout"].(string)) != "hello" {
		t.Errorf("expected hello, got %q", res.Fields["stdout"])
	}

	res = run(t, reg, "bash", map[string]any{"command": "exit 3"})
	if res.Success {
		t.Error("expected non-zero exit to fail")
	}
	if res.Fields["return_code"] != 3 {
		t.Errorf("expected return code 3, got %v", res.Fields["return_code"])
	}
}

func TestBash_Timeout(t *testing.T) {
	reg, _ := newTestRegistry(t)

	start := time.Now()
	res := run(t, reg, "bash", map[string]any{"command": "sleep 5", "timeout": 1})
	if res.Success {
		t.Fatal("expected timeout failure")
	}
	if res.Error != "Command timed out after 1s" {
		t.Errorf("unexpected error %q", res.Error)
	}
	if res.Fields["timed_out"] != true {
		t.Error("expected timed_out flag")
	}
	if elapsed := time.Since(start); elapsed > 4*time.Second {
		t.Errorf("timeout took too long: %v", elapsed)
	}
}

func TestBash_DangerousCommandBlocked(t *testing.T) {
	reg, _ := newTestRegistry(t)

	res := run(t, reg, "bash", map[string]any{"command": "rm -rf /"})
	if res.Success || !strings.HasPrefix(res.Error, "Dangerous command blocked") {
		t.Errorf("expected dangerous command to be blocked, got %+v", res)
	}
}

func TestGitOperations_RejectsUnknownOperation(t *testing.T) {
	reg, _ := newTestRegistry(t)

	res := run(t, reg, "git_operations", map[string]any{"operation": "push"})
	if res.Success {
		t.Error("expected push to be rejected")
	}
}

func TestSplitArgs(t *testing.T) {
	got, err := splitArgs(`-m "initial commit" --allow-empty`)
	if err != nil {
		t.Fatalf("splitArgs failed: %v", err)
	}
	want := []string{"-m", "initial commit", "--allow-empty"}
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Errorf("expected %v, got %v", want, got)
	}

	if _, err := splitArgs(`-m "open`); err == nil {
		t.Error("expected unterminated quote error")
	}
}

func TestGrepFiles(t *testing.T) {
	reg, root := newTestRegistry(t)
	os.MkdirAll(filepath.Join(root, "pkg"), 0755)
	os.MkdirAll(filepath.Join(root, ".git"), 0755)
	os.WriteFile(filepath.Join(root, "main.go"), []byte("package main\nfunc Hello() {}\n"), 0644)
	os.WriteFile(filepath.Join(root, "pkg", "util.go"), []byte("package pkg\nfunc hello() {}\n"), 0644)
	os.WriteFile(filepath.Join(root, ".git", "config"), []byte("func Hello\n"), 0644)

	res := run(t, reg, "grep_files", map[string]any{"pattern": "func Hello"})
	if !res.Success {
		t.Fatalf("grep_files failed: %s", res.Error)
	}
	if res.Fields["count"] != 1 {
		t.Errorf("expected 1 match, got %v", res.Fields["count"])
	}

	res = run(t, reg, "grep_files", map[string]any{"pattern": "func hello", "ignore_case": true})
	if res.Fields["count"] != 2 {
		t.Errorf("expected 2 case-insensitive matches, got %v", res.Fields["count"])
	}

	res = run(t, reg, "grep_files", map[string]any{"pattern": "func", "max_results": 1})
	if res.Fields["count"] != 1 || res.Fields["truncated"] != true {
		t.Errorf("expected truncated single match, got %v", res.Fields)
	}

	res = run(t, reg, "grep_files", map[string]any{"pattern": "("})
	if res.Success {
		t.Error("expected invalid regex to fail")
	}
}

func TestGlobSearch(t *testing.T) {
	reg, root := newTestRegistry(t)
	os.MkdirAll(filepath.Join(root, "src", "deep"), 0755)
	os.WriteFile(filepath.Join(root, "top.ts"), []byte(""), 0644)
	os.WriteFile(filepath.Join(root, "src", "a.ts"), []byte(""), 0644)
	os.WriteFile(filepath.Join(root, "src", "deep", "b.ts"), []byte(""), 0644)
	os.WriteFile(filepath.Join(root, "src", "c.go"), []byte(""), 0644)

	res := run(t, reg, "glob_search", map[string]any{"pattern": "*.ts"})
	if res.Fields["count"] != 3 {
		t.Errorf("expected 3 recursive matches, got %v", res.Fields["count"])
	}

	res = run(t, reg, "glob_search", map[string]any{"pattern": "*.ts", "recursive": false})
	if res.Fields["count"] != 1 {
		t.Errorf("expected 1 top-level match, got %v", res.Fields["count"])
	}
}

func TestMatchGlob(t *testing.T) {
	tests := []struct {
		pattern string
		path    string
		want    bool
	}{
		{"**/*.go", "main.go", true},
		{"**/*.go", "a/b/c.go", true},
		{"src/**/*.ts", "src/x.ts", true},
		{"src/**/*.ts", "lib/x.ts", false},
		{"*.go", "a/b.go", false},
	}

	for _, tt := range tests {
		got := matchGlob(strings.Split(tt.pattern, "/"), strings.Split(tt.path, "/"))
		if got != tt.want {
			t.Errorf("matchGlob(%q, %q) = %v, expected %v", tt.pattern, tt.path, got, tt.want)
		}
	}
}

func TestExecuteBatch(t *testing.T) {
	reg, root := newTestRegistry(t)

	res := run(t, reg, "execute_batch", map[string]any{
		"tasks": []map[string]any{
			{"operation": "create_file", "args": map[string]any{"path": "one.txt", "content": "1"}},
			{"operation": "create_directory", "args": map[string]any{"path": "dir"}},
			{"operation": "read_file", "args": map[string]any{"path": "missing.txt"}},
			{"operation": "execute_batch", "args": map[string]any{"tasks": []any{}}},
		},
	})
	if res.Success {
		t.Fatal("expected batch with failures to report failure")
	}
	if res.Fields["successes"] != 2 || res.Fields["failures"] != 2 {
		t.Errorf("unexpected counts %v/%v", res.Fields["successes"], res.Fields["failures"])
	}

	results := res.Fields["results"].([]map[string]any)
	order := []string{"create_file", "create_directory", "read_file", "execute_batch"}
	for i, op := range order {
		if results[i]["operation"] != op {
			t.Errorf("result %d: expected %s, got %v", i, op, results[i]["operation"])
		}
	}
	if !strings.Contains(results[3]["error"].(string), "Nested") {
		t.Errorf("expected nested batch rejection, got %v", results[3]["error"])
	}
	if _, err := os.Stat(filepath.Join(root, "one.txt")); err != nil {
		t.Errorf("expected batch to create file: %v", err)
	}
}

func TestExecuteBatch_AllowedToolsAndStringTasks(t *testing.T) {
	reg, _ := newTestRegistry(t)

	tasks := `[{"operation":"bash","args":{"command":"echo hi"}},{"operation":"get_project_tree","args":{}}]`
	res := run(t, reg, "execute_batch", map[string]any{
		"tasks":         tasks,
		"allowed_tools": []string{"get_project_tree"},
	})
	results := res.Fields["results"].([]map[string]any)
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0]["success"] != false {
		t.Error("expected disallowed bash to fail")
	}
	if results[1]["success"] != true {
		t.Errorf("expected allowed tool to succeed, got %v", results[1])
	}
}

func TestExecute_ContextAllowList(t *testing.T) {
	reg, root := newTestRegistry(t)
	ctx := WithAllowedTools(context.Background(), []string{"execute_batch", "get_project_tree"})

	direct := reg.Execute(ctx, "bash", json.RawMessage(`{"command":"echo hi"}`))
	if direct.Success || !strings.Contains(direct.Error, "not available") {
		t.Errorf("expected bash outside the allow list to fail, got %+v", direct)
	}

	// The model cannot widen the limit through the batch's own allowed_tools.
	args, _ := json.Marshal(map[string]any{
		"tasks": []map[string]any{
			{"operation": "create_file", "args": map[string]any{"path": "sneaky.txt", "content": "x"}},
			{"operation": "get_project_tree", "args": map[string]any{}},
		},
		"allowed_tools": []string{"create_file", "get_project_tree"},
	})
	res := reg.Execute(ctx, "execute_batch", args)
	results := res.Fields["results"].([]map[string]any)
	if results[0]["success"] != false {
		t.Errorf("expected nested create_file to be rejected, got %v", results[0])
	}
	if results[1]["success"] != true {
		t.Errorf("expected nested get_project_tree to run, got %v", results[1])
	}
	if _, err := os.Stat(filepath.Join(root, "sneaky.txt")); !os.IsNotExist(err) {
		t.Errorf("expected no file written, stat err %v", err)
	}

	if !Allowed(context.Background(), "bash") {
		t.Error("expected a context without a limit to allow everything")
	}
	if Allowed(WithAllowedTools(context.Background(), nil), "bash") {
		t.Error("expected an empty allow list to allow nothing")
	}
}
