// Package tools provides the sandboxed tool catalogue workers call through
// the model's tool-use protocol, and the registry that indexes it.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Kind is the closed set of tool kinds. KindCustom covers tools registered
// from outside this package.
type Kind string

const (
	KindCreateFile             Kind = "create_file"
	KindReadFile               Kind = "read_file"
	KindUpdateFile             Kind = "update_file"
	KindDeleteFile             Kind = "delete_file"
	KindCreateDirectory        Kind = "create_directory"
	KindListDirectory          Kind = "list_directory"
	KindCreateProjectStructure Kind = "create_project_structure"
	KindGetProjectTree         Kind = "get_project_tree"
	KindGetFileInfo            Kind = "get_file_info"
	KindBash                   Kind = "bash"
	KindGitOperations          Kind = "git_operations"
	KindGrepFiles              Kind = "grep_files"
	KindGlobSearch             Kind = "glob_search"
	KindExecuteBatch           Kind = "execute_batch"
	KindCustom                 Kind = "custom"
)

// Valid returns true if the kind is a known value.
func (k Kind) Valid() bool {
	switch k {
	case KindCreateFile, KindReadFile, KindUpdateFile, KindDeleteFile,
		KindCreateDirectory, KindListDirectory, KindCreateProjectStructure,
		KindGetProjectTree, KindGetFileInfo, KindBash, KindGitOperations,
		KindGrepFiles, KindGlobSearch, KindExecuteBatch, KindCustom:
		return true
	default:
		return false
	}
}

// Property is a JSON-schema fragment for one tool argument.
type Property struct {
	Type        string
	Description string
	Enum        []string
	// Items describes array elements.
	Items *Property
}

func (p Property) schema() map[string]any {
	out := map[string]any{"type": p.Type}
	if p.Description != "" {
		out["description"] = p.Description
	}
	if len(p.Enum) > 0 {
		out["enum"] = p.Enum
	}
	if p.Items != nil {
		out["items"] = p.Items.schema()
	}
	return out
}

// Schema declares the arguments a tool accepts.
type Schema struct {
	Properties map[string]Property
	Required   []string
}

// JSONProperties renders the schema properties for a model request.
func (s Schema) JSONProperties() map[string]any {
	props := make(map[string]any, len(s.Properties))
	for name, p := range s.Properties {
		props[name] = p.schema()
	}
	return props
}

var validTypes = map[string]bool{
	"string": true, "integer": true, "number": true,
	"boolean": true, "array": true, "object": true,
}

// Validate checks the schema is well formed.
func (s Schema) Validate() error {
	for name, p := range s.Properties {
		if err := p.validate(); err != nil {
			return fmt.Errorf("property %q: %w", name, err)
		}
	}
	seen := make(map[string]bool, len(s.Required))
	for _, req := range s.Required {
		if _, ok := s.Properties[req]; !ok {
			return fmt.Errorf("required property %q is not declared", req)
		}
		if seen[req] {
			return fmt.Errorf("required property %q listed twice", req)
		}
		seen[req] = true
	}
	return nil
}

func (p Property) validate() error {
	if !validTypes[p.Type] {
		return fmt.Errorf("unsupported type %q", p.Type)
	}
	if len(p.Enum) > 0 && p.Type != "string" {
		return fmt.Errorf("enum is only allowed on string properties")
	}
	if p.Type == "array" && p.Items != nil {
		if err := p.Items.validate(); err != nil {
			return fmt.Errorf("items: %w", err)
		}
	}
	return nil
}

// CheckArgs verifies required arguments are present and enum values are
// allowed. Unknown arguments are ignored.
func (s Schema) CheckArgs(args map[string]any) error {
	var missing []string
	for _, req := range s.Required {
		if v, ok := args[req]; !ok || v == nil {
			missing = append(missing, req)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return fmt.Errorf("missing required argument(s): %s", strings.Join(missing, ", "))
	}
	for name, p := range s.Properties {
		if len(p.Enum) == 0 {
			continue
		}
		v, ok := args[name]
		if !ok || v == nil {
			continue
		}
		str, ok := v.(string)
		if !ok || !contains(p.Enum, str) {
			return fmt.Errorf("argument %q must be one of: %s", name, strings.Join(p.Enum, ", "))
		}
	}
	return nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// Handler runs a tool. It must report failures through Result, never panic.
type Handler func(ctx context.Context, args json.RawMessage) Result

// Tool is one registered capability.
type Tool struct {
	Kind    Kind
	Name    string
	Doc     string
	Schema  Schema
	Handler Handler
}

// Summary returns the first line of the tool's documentation.
func (t Tool) Summary() string {
	doc := strings.TrimSpace(t.Doc)
	if i := strings.IndexByte(doc, '\n'); i >= 0 {
		doc = doc[:i]
	}
	return strings.TrimSpace(doc)
}

// Result is the structured outcome of a tool call.
type Result struct {
	Success bool
	Fields  map[string]any
	Error   string
}

// OK builds a successful result.
func OK(fields map[string]any) Result {
	return Result{Success: true, Fields: fields}
}

// Fail builds a failed result.
func Fail(format string, args ...any) Result {
	return Result{Error: fmt.Sprintf(format, args...)}
}

// FailWith builds a failed result that still carries payload fields.
func FailWith(fields map[string]any, format string, args ...any) Result {
	return Result{Fields: fields, Error: fmt.Sprintf(format, args...)}
}

// Map flattens the result into a single object.
func (r Result) Map() map[string]any {
	out := make(map[string]any, len(r.Fields)+2)
	for k, v := range r.Fields {
		out[k] = v
	}
	out["success"] = r.Success
	if r.Error != "" {
		out["error"] = r.Error
	}
	return out
}

// MarshalJSON renders the flat {"success":..., ...} object.
func (r Result) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.Map())
}

// String renders the result as JSON for the model.
func (r Result) String() string {
	b, err := json.Marshal(r)
	if err != nil {
		return fmt.Sprintf(`{"success":false,"error":%q}`, err.Error())
	}
	return string(b)
}
