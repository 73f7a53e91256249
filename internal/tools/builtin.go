package tools

import (
	"fmt"

	"go.uber.org/zap"
)

// Builtins returns the built-in catalogue bound to the executor. The batch
// tool is registered separately because it dispatches through the registry.
func (e *Executor) Builtins() []Tool {
	str := func(desc string) Property { return Property{Type: "string", Description: desc} }
	boolean := func(desc string) Property { return Property{Type: "boolean", Description: desc} }
	integer := func(desc string) Property { return Property{Type: "integer", Description: desc} }

	return []Tool{
		{
			Kind: KindCreateFile,
			Name: string(KindCreateFile),
			Doc: "Create a new file with content, creating parent directories as needed.\n" +
				"Fails if the file exists unless overwrite is true. Paths are relative to the workspace.",
			Schema: Schema{
				Properties: map[string]Property{
					"path":      str("File path relative to the workspace"),
					"content":   str("File content"),
					"overwrite": boolean("Overwrite the file if it already exists (default: false)"),
				},
				Required: []string{"path", "content"},
			},
			Handler: e.createFile,
		},
		{
			Kind: KindReadFile,
			Name: string(KindReadFile),
			Doc:  "Read a file's contents, optionally a line range.",
			Schema: Schema{
				Properties: map[string]Property{
					"path":   str("File path relative to the workspace"),
					"offset": integer("Line number to start reading from (1-indexed, optional)"),
					"limit":  integer("Maximum number of lines to read (optional)"),
				},
				Required: []string{"path"},
			},
			Handler: e.readFile,
		},
		{
			Kind: KindUpdateFile,
			Name: string(KindUpdateFile),
			Doc:  "Update an existing file by replacing, appending to, or prepending to its content.",
			Schema: Schema{
				Properties: map[string]Property{
					"path":    str("File path relative to the workspace"),
					"content": str("New content"),
					"mode": {
						Type:        "string",
						Description: "How to apply content (default: replace)",
						Enum:        []string{"replace", "append", "prepend"},
					},
				},
				Required: []string{"path", "content"},
			},
			Handler: e.updateFile,
		},
		{
			Kind: KindDeleteFile,
			Name: string(KindDeleteFile),
			Doc:  "Delete a single file.",
			Schema: Schema{
				Properties: map[string]Property{"path": str("File path relative to the workspace")},
				Required:   []string{"path"},
			},
			Handler: e.deleteFile,
		},
		{
			Kind: KindCreateDirectory,
			Name: string(KindCreateDirectory),
			Doc:  "Create a directory and any missing parents.",
			Schema: Schema{
				Properties: map[string]Property{"path": str("Directory path relative to the workspace")},
				Required:   []string{"path"},
			},
			Handler: e.createDirectory,
		},
		{
			Kind: KindListDirectory,
			Name: string(KindListDirectory),
			Doc:  "List directory contents with type and size.",
			Schema: Schema{
				Properties: map[string]Property{
					"path":           str("Directory path (default: workspace root)"),
					"recursive":      boolean("List subdirectories recursively"),
					"include_hidden": boolean("Include dot files"),
				},
			},
			Handler: e.listDirectory,
		},
		{
			Kind: KindCreateProjectStructure,
			Name: string(KindCreateProjectStructure),
			Doc: "Create a project skeleton in one call.\n" +
				`structure is {"directories": [...], "files": {"path": "content"}}.`,
			Schema: Schema{
				Properties: map[string]Property{
					"project_name": str("Top-level project directory"),
					"structure":    {Type: "object", Description: "Directories list and files map"},
				},
				Required: []string{"project_name", "structure"},
			},
			Handler: e.createProjectStructure,
		},
		{
			Kind: KindGetProjectTree,
			Name: string(KindGetProjectTree),
			Doc:  "Return a nested tree of the project, skipping dot files.",
			Schema: Schema{
				Properties: map[string]Property{
					"path":      str("Directory to start from (default: workspace root)"),
					"max_depth": integer("Maximum depth (default: 5)"),
				},
			},
			Handler: e.getProjectTree,
		},
		{
			Kind: KindGetFileInfo,
			Name: string(KindGetFileInfo),
			Doc:  "Return size, timestamps, line count and type of a path.",
			Schema: Schema{
				Properties: map[string]Property{"path": str("Path relative to the workspace")},
				Required:   []string{"path"},
			},
			Handler: e.getFileInfo,
		},
		{
			Kind: KindBash,
			Name: string(KindBash),
			Doc: "Execute a shell command in the workspace.\n" +
				"Timeouts default by command type: installs 600s, builds and tests 300s, simple commands 30s, others 120s.",
			Schema: Schema{
				Properties: map[string]Property{
					"command": str("Shell command to execute"),
					"path":    str("Working directory (default: workspace root)"),
					"timeout": integer("Timeout in seconds, overriding the automatic choice"),
				},
				Required: []string{"command"},
			},
			Handler: e.bash,
		},
		{
			Kind: KindGitOperations,
			Name: string(KindGitOperations),
			Doc:  "Run a git subcommand in the workspace.",
			Schema: Schema{
				Properties: map[string]Property{
					"operation": {Type: "string", Description: "Git subcommand", Enum: GitOperations},
					"args":      str("Space-separated arguments; quotes are honored"),
					"path":      str("Repository path (default: workspace root)"),
				},
				Required: []string{"operation"},
			},
			Handler: e.git,
		},
		{
			Kind: KindGrepFiles,
			Name: string(KindGrepFiles),
			Doc:  "Search file contents with a regular expression.",
			Schema: Schema{
				Properties: map[string]Property{
					"pattern":     str("Regular expression"),
					"path":        str("Directory to search (default: workspace root)"),
					"recursive":   boolean("Search subdirectories (default: true)"),
					"ignore_case": boolean("Case-insensitive match"),
					"max_results": integer("Maximum matches (default: 100)"),
				},
				Required: []string{"pattern"},
			},
			Handler: e.grepFiles,
		},
		{
			Kind: KindGlobSearch,
			Name: string(KindGlobSearch),
			Doc:  "Find files by glob pattern; ** matches any number of directories.",
			Schema: Schema{
				Properties: map[string]Property{
					"pattern":   str("Glob pattern such as *.go or src/**/*.ts"),
					"path":      str("Directory to search (default: workspace root)"),
					"recursive": boolean("Prefix the pattern with **/ (default: true)"),
				},
				Required: []string{"pattern"},
			},
			Handler: e.globSearch,
		},
	}
}

func batchTool(reg *Registry) Tool {
	return Tool{
		Kind: KindExecuteBatch,
		Name: string(KindExecuteBatch),
		Doc: "Run several tool operations in parallel and return every result in order.\n" +
			`tasks is a list of {"operation": "<tool>", "args": {...}}.`,
		Schema: Schema{
			Properties: map[string]Property{
				"tasks": {
					Type:        "array",
					Description: "Operations to run",
					Items:       &Property{Type: "object"},
				},
				"allowed_tools": {
					Type:        "array",
					Description: "Restrict operations to these tool names",
					Items:       &Property{Type: "string"},
				},
				"max_workers": {Type: "integer", Description: "Parallelism (default: 4)"},
			},
			Required: []string{"tasks"},
		},
		Handler: batchHandler(reg),
	}
}

// NewBuiltinRegistry creates a registry holding the full catalogue for a
// workspace rooted at workDir.
func NewBuiltinRegistry(workDir string, logger *zap.Logger) (*Registry, error) {
	exec, err := NewExecutor(workDir, logger)
	if err != nil {
		return nil, err
	}
	reg := NewRegistry(logger)
	for _, t := range exec.Builtins() {
		if err := reg.Register(t); err != nil {
			return nil, fmt.Errorf("register %s: %w", t.Name, err)
		}
	}
	if err := reg.Register(batchTool(reg)); err != nil {
		return nil, fmt.Errorf("register %s: %w", KindExecuteBatch, err)
	}
	return reg, nil
}
