// Package graph provides a dependency graph for subtask scheduling.
package graph

import (
	"errors"
	"sort"
	"sync"

	"github.com/ShayCichocki/rfd/pkg/models"
)

// ErrCycleDetected indicates a circular dependency was found in the task graph.
var ErrCycleDetected = errors.New("circular dependency detected")

// DependencyGraph holds the subtasks of one plan. Edges point from a task to
// the tasks it is blocked by. Dependencies on ids outside the plan are kept
// as edges that can never be satisfied, so the scheduler reports them as
// stuck instead of silently dropping them.
type DependencyGraph struct {
	mu sync.RWMutex
	// order preserves plan order for deterministic ready sets.
	order []string
	nodes map[string]models.SubTask
	edges map[string][]string
	// completed holds every task with a recorded result, successful or not.
	completed map[string]bool
	debugLog  func(format string, args ...interface{})
}

// New creates a new empty dependency graph.
func New() *DependencyGraph {
	return &DependencyGraph{
		nodes:     make(map[string]models.SubTask),
		edges:     make(map[string][]string),
		completed: make(map[string]bool),
		debugLog:  func(format string, args ...interface{}) {},
	}
}

// SetDebugLog sets the debug logging function.
func (g *DependencyGraph) SetDebugLog(fn func(format string, args ...interface{})) {
	if fn != nil {
		g.debugLog = fn
	}
}

// Build registers the subtasks in plan order. Later duplicates of an id
// replace earlier ones.
func (g *DependencyGraph) Build(tasks []models.SubTask) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.debugLog("[graph.Build] building graph from %d tasks", len(tasks))
	for _, task := range tasks {
		if _, exists := g.nodes[task.ID]; !exists {
			g.order = append(g.order, task.ID)
		}
		g.nodes[task.ID] = task
		g.edges[task.ID] = append([]string(nil), task.Dependencies...)
	}
}

// Missing returns dependency ids that name no task in the graph, sorted.
func (g *DependencyGraph) Missing() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	seen := make(map[string]bool)
	for _, id := range g.order {
		for _, dep := range g.edges[id] {
			if _, ok := g.nodes[dep]; !ok {
				seen[dep] = true
			}
		}
	}
	out := make([]string, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// HasCycle returns true if the graph contains a circular dependency.
func (g *DependencyGraph) HasCycle() bool {
	return len(g.FindCycle()) > 0
}

// FindCycle returns the ids of one dependency cycle in traversal order, or
// nil if the graph is acyclic. Uses depth-first search with coloring.
func (g *DependencyGraph) FindCycle() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	// 0 = unvisited, 1 = on the current path, 2 = done.
	colors := make(map[string]int, len(g.nodes))
	var path []string
	var cycle []string

	var visit func(id string) bool
	visit = func(id string) bool {
		colors[id] = 1
		path = append(path, id)
		for _, dep := range g.edges[id] {
			if _, ok := g.nodes[dep]; !ok {
				continue
			}
			switch colors[dep] {
			case 1:
				for i := len(path) - 1; i >= 0; i-- {
					if path[i] == dep {
						cycle = append([]string(nil), path[i:]...)
						break
					}
				}
				return true
			case 0:
				if visit(dep) {
					return true
				}
			}
		}
		path = path[:len(path)-1]
		colors[id] = 2
		return false
	}

	for _, id := range g.order {
		if colors[id] == 0 && visit(id) {
			return cycle
		}
	}
	return nil
}

// TopologicalSort returns task ids with every dependency before its
// dependents, breaking ties by plan order.
func (g *DependencyGraph) TopologicalSort() ([]string, error) {
	if g.HasCycle() {
		return nil, ErrCycleDetected
	}

	g.mu.RLock()
	defer g.mu.RUnlock()

	visited := make(map[string]bool)
	var result []string
	var visit func(id string)
	visit = func(id string) {
		if visited[id] {
			return
		}
		visited[id] = true
		for _, dep := range g.edges[id] {
			if _, ok := g.nodes[dep]; ok {
				visit(dep)
			}
		}
		result = append(result, id)
	}
	for _, id := range g.order {
		visit(id)
	}
	return result, nil
}

// GetReady returns pending tasks whose dependencies all have a recorded
// result, in plan order.
func (g *DependencyGraph) GetReady() []models.SubTask {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var ready []models.SubTask
	for _, id := range g.order {
		if g.completed[id] {
			continue
		}
		satisfied := true
		for _, dep := range g.edges[id] {
			if !g.completed[dep] {
				satisfied = false
				break
			}
		}
		if satisfied {
			ready = append(ready, g.nodes[id])
		}
	}
	g.debugLog("[graph.GetReady] %d ready of %d pending", len(ready), len(g.order)-len(g.completed))
	return ready
}

// Pending returns the ids of tasks without a recorded result, sorted.
func (g *DependencyGraph) Pending() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var ids []string
	for _, id := range g.order {
		if !g.completed[id] {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// MarkComplete records that a task has a result. It affects subsequent
// calls to GetReady.
func (g *DependencyGraph) MarkComplete(taskID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.completed[taskID] = true
	g.debugLog("[graph.MarkComplete] %s", taskID)
}
