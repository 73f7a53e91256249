package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/ShayCichocki/rfd/internal/api"
)

// MaxSummaryRunes bounds each index entry's one-line summary.
const MaxSummaryRunes = 120

// ErrInvalidSchema is returned when a tool fails registration checks.
var ErrInvalidSchema = errors.New("invalid tool schema")

// ErrDuplicateTool is returned when a name is registered twice.
var ErrDuplicateTool = errors.New("tool already registered")

// IndexEntry is the level-one disclosure of a tool.
type IndexEntry struct {
	Name    string `json:"name"`
	Summary string `json:"summary"`
}

// Registry maps tool names to tools. It is safe for concurrent use.
type Registry struct {
	mu     sync.RWMutex
	tools  map[string]Tool
	order  []string
	logger *zap.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		tools:  make(map[string]Tool),
		logger: logger,
	}
}

// Register validates and adds a tool.
func (r *Registry) Register(t Tool) error {
	if strings.TrimSpace(t.Name) == "" {
		return fmt.Errorf("%w: empty name", ErrInvalidSchema)
	}
	if !t.Kind.Valid() {
		return fmt.Errorf("%w: %s has unknown kind %q", ErrInvalidSchema, t.Name, t.Kind)
	}
	if t.Handler == nil {
		return fmt.Errorf("%w: %s has no handler", ErrInvalidSchema, t.Name)
	}
	if err := t.Schema.Validate(); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidSchema, t.Name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[t.Name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateTool, t.Name)
	}
	r.tools[t.Name] = t
	r.order = append(r.order, t.Name)
	return nil
}

// Get returns the full tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Names returns every registered name in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// Index returns name plus one-line summary for every tool. Entry size does
// not depend on how long a tool's documentation is.
func (r *Registry) Index() []IndexEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entries := make([]IndexEntry, 0, len(r.order))
	for _, name := range r.order {
		entries = append(entries, IndexEntry{
			Name:    name,
			Summary: truncateRunes(r.tools[name].Summary(), MaxSummaryRunes),
		})
	}
	return entries
}

// IndexText renders the index for inclusion in prompts.
func (r *Registry) IndexText(names ...string) string {
	allowed := nameSet(names)
	var b strings.Builder
	for _, e := range r.Index() {
		if allowed != nil && !allowed[e.Name] {
			continue
		}
		fmt.Fprintf(&b, "- %s: %s\n", e.Name, e.Summary)
	}
	return b.String()
}

// Schemas returns gateway tool schemas for the named tools, or for every
// tool when names is empty. Unknown names are skipped.
func (r *Registry) Schemas(names ...string) []api.ToolSchema {
	selected := names
	if len(selected) == 0 {
		selected = r.Names()
	}
	schemas := make([]api.ToolSchema, 0, len(selected))
	for _, name := range selected {
		t, ok := r.Get(name)
		if !ok {
			continue
		}
		schemas = append(schemas, api.ToolSchema{
			Name:        t.Name,
			Description: t.Doc,
			Properties:  t.Schema.JSONProperties(),
			Required:    t.Schema.Required,
		})
	}
	return schemas
}

// Execute runs a tool by name. Every failure, including unknown tools, tools
// outside the context's allowed set, bad arguments and handler panics, comes
// back as a failed Result.
func (r *Registry) Execute(ctx context.Context, name string, args json.RawMessage) (result Result) {
	if !Allowed(ctx, name) {
		return Fail("Tool %s is not available to this worker", name)
	}
	t, ok := r.Get(name)
	if !ok {
		return Fail("Unknown tool: %s", name)
	}

	if len(args) == 0 {
		args = json.RawMessage(`{}`)
	}
	var decoded map[string]any
	if err := json.Unmarshal(args, &decoded); err != nil {
		return Fail("Invalid parameters: %v", err)
	}
	if err := t.Schema.CheckArgs(decoded); err != nil {
		return Fail("Invalid parameters: %v", err)
	}

	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("tool panicked", zap.String("tool", name), zap.Any("panic", rec))
			result = Fail("tool %s panicked: %v", name, rec)
		}
	}()

	result = t.Handler(ctx, args)
	if !result.Success {
		r.logger.Debug("tool failed", zap.String("tool", name), zap.String("error", result.Error))
	}
	return result
}

func nameSet(names []string) map[string]bool {
	if len(names) == 0 {
		return nil
	}
	set := make(map[string]bool, len(names))
	for _, n := range names {
		set[n] = true
	}
	return set
}

func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n-3]) + "..."
}

// sortedKeys returns the keys of m in ascending order.
func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
