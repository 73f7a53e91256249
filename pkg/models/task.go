package models

import (
	"errors"
	"fmt"
	"strings"
)

// Priority is the planner's importance hint for a sub-task.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// Valid returns true if the priority is a known value.
func (p Priority) Valid() bool {
	switch p {
	case PriorityHigh, PriorityMedium, PriorityLow:
		return true
	default:
		return false
	}
}

// ExecutionStrategy selects how the scheduler walks a plan.
type ExecutionStrategy string

const (
	// StrategyParallel runs every sub-task at once and ignores dependencies.
	StrategyParallel ExecutionStrategy = "parallel"
	// StrategySequential runs sub-tasks one at a time in list order.
	StrategySequential ExecutionStrategy = "sequential"
	// StrategyHybrid runs sub-tasks in dependency-ordered ready-set rounds.
	StrategyHybrid ExecutionStrategy = "hybrid"
)

// Valid returns true if the strategy is a known value.
func (s ExecutionStrategy) Valid() bool {
	switch s {
	case StrategyParallel, StrategySequential, StrategyHybrid:
		return true
	default:
		return false
	}
}

// SubTask is one node of a task plan.
type SubTask struct {
	// ID is unique within the owning plan.
	ID string `json:"id"`
	// AgentType is the capability class that should execute the sub-task.
	AgentType AgentType `json:"agent_type"`
	// Objective is what the worker must accomplish.
	Objective string `json:"objective"`
	// ContextRequired lists the minimal facts the worker needs.
	ContextRequired []string `json:"context_required,omitempty"`
	// ExpectedOutput describes the shape of a good result.
	ExpectedOutput string `json:"expected_output"`
	// Dependencies are IDs of sub-tasks that must finish first.
	Dependencies []string `json:"dependencies,omitempty"`
	// Priority is the planner's importance hint.
	Priority Priority `json:"priority,omitempty"`
}

// TaskPlan is the planner's decomposition of a goal.
type TaskPlan struct {
	// Analysis is the planner's reading of the goal.
	Analysis string `json:"analysis"`
	// SubTasks are the plan nodes in planner order.
	SubTasks []SubTask `json:"subtasks"`
	// Strategy tells the scheduler how to walk SubTasks.
	Strategy ExecutionStrategy `json:"execution_strategy"`
	// SynthesisApproach describes how results should be combined.
	SynthesisApproach string `json:"synthesis_approach"`
}

// Plan validation errors.
var (
	ErrEmptyPlan       = errors.New("plan has no subtasks")
	ErrDuplicateTaskID = errors.New("duplicate subtask id")
	ErrMissingTaskID   = errors.New("subtask has empty id")
)

// DanglingDependencyError reports a dependency that names no sub-task in the plan.
type DanglingDependencyError struct {
	TaskID     string
	Dependency string
}

func (e *DanglingDependencyError) Error() string {
	return fmt.Sprintf("subtask %q depends on unknown subtask %q", e.TaskID, e.Dependency)
}

// Validate checks the structural invariants of the plan: at least one
// sub-task, non-empty unique IDs, and no dangling dependency references.
func (p *TaskPlan) Validate() error {
	if len(p.SubTasks) == 0 {
		return ErrEmptyPlan
	}

	ids := make(map[string]bool, len(p.SubTasks))
	for _, st := range p.SubTasks {
		if strings.TrimSpace(st.ID) == "" {
			return ErrMissingTaskID
		}
		if ids[st.ID] {
			return fmt.Errorf("%w: %s", ErrDuplicateTaskID, st.ID)
		}
		ids[st.ID] = true
	}

	for _, st := range p.SubTasks {
		for _, dep := range st.Dependencies {
			if !ids[dep] {
				return &DanglingDependencyError{TaskID: st.ID, Dependency: dep}
			}
		}
	}
	return nil
}

// Task returns the sub-task with the given ID.
func (p *TaskPlan) Task(id string) (SubTask, bool) {
	for _, st := range p.SubTasks {
		if st.ID == id {
			return st, true
		}
	}
	return SubTask{}, false
}

// WorkerStatus is the outcome of one worker run.
type WorkerStatus string

const (
	// WorkerSuccess means the model returned usable final output.
	WorkerSuccess WorkerStatus = "success"
	// WorkerPartial means the turn budget ran out with tool calls pending.
	WorkerPartial WorkerStatus = "partial"
	// WorkerFailed means the worker could not produce output.
	WorkerFailed WorkerStatus = "failed"
)

// Valid returns true if the status is a known value.
func (s WorkerStatus) Valid() bool {
	switch s {
	case WorkerSuccess, WorkerPartial, WorkerFailed:
		return true
	default:
		return false
	}
}

// WorkerResult is the immutable output of one worker run.
type WorkerResult struct {
	// TaskID refers back to the SubTask that produced this result.
	TaskID string `json:"task_id"`
	// Status is the outcome of the run.
	Status WorkerStatus `json:"status"`
	// Output is the worker's final text or structured payload.
	Output string `json:"output"`
	// Confidence is the worker's self-reported confidence in [0,1].
	Confidence float64 `json:"confidence"`
	// Artifacts references anything the worker produced outside Output.
	Artifacts []string `json:"artifacts,omitempty"`
	// Notes carries free-text remarks such as discarded tool calls.
	Notes string `json:"notes,omitempty"`
	// ToolsExecuted lists every tool the worker called, in call order.
	ToolsExecuted []string `json:"tools_executed,omitempty"`
	// FilesCreated lists paths written by create_file calls.
	FilesCreated []string `json:"files_created,omitempty"`
	// Error is the failure text when Status is failed.
	Error string `json:"error,omitempty"`
}

// Completed reports whether the result counts as finished work for
// dependency resolution. Failed results are completed too.
func (r WorkerResult) Completed() bool {
	return r.Status.Valid()
}

// ClampConfidence bounds c to [0,1].
func ClampConfidence(c float64) float64 {
	switch {
	case c < 0:
		return 0
	case c > 1:
		return 1
	default:
		return c
	}
}
