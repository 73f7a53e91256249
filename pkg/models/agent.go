package models

import "time"

// AgentType is the capability class a sub-task is routed to.
type AgentType string

const (
	// AgentTypeCode writes, edits, and debugs code.
	AgentTypeCode AgentType = "code"
	// AgentTypeResearch gathers and summarizes information.
	AgentTypeResearch AgentType = "research"
	// AgentTypeAnalysis reviews and evaluates existing material.
	AgentTypeAnalysis AgentType = "analysis"
	// AgentTypeCreative produces prose, naming, and design ideas.
	AgentTypeCreative AgentType = "creative"
	// AgentTypeGeneral handles anything that does not fit another class.
	AgentTypeGeneral AgentType = "general"
)

// Valid returns true if the agent type is a known value.
func (t AgentType) Valid() bool {
	switch t {
	case AgentTypeCode, AgentTypeResearch, AgentTypeAnalysis,
		AgentTypeCreative, AgentTypeGeneral:
		return true
	default:
		return false
	}
}

// Normalize returns the agent type, or AgentTypeGeneral if it is unknown.
func (t AgentType) Normalize() AgentType {
	if t.Valid() {
		return t
	}
	return AgentTypeGeneral
}

// AgentTypes returns every known agent type in declaration order.
func AgentTypes() []AgentType {
	return []AgentType{
		AgentTypeCode,
		AgentTypeResearch,
		AgentTypeAnalysis,
		AgentTypeCreative,
		AgentTypeGeneral,
	}
}

// AgentStatus represents the lifecycle state of an ephemeral agent.
type AgentStatus string

const (
	// AgentStatusIdle indicates the agent was created but has not started.
	AgentStatusIdle AgentStatus = "idle"
	// AgentStatusRunning indicates the agent is inside its tool loop.
	AgentStatusRunning AgentStatus = "running"
	// AgentStatusCompleted indicates the agent produced a result.
	AgentStatusCompleted AgentStatus = "completed"
	// AgentStatusFailed indicates the agent ended with an error.
	AgentStatusFailed AgentStatus = "failed"
	// AgentStatusDeleted indicates the agent's context has been discarded.
	// Deleted is terminal.
	AgentStatusDeleted AgentStatus = "deleted"
)

// Valid returns true if the status is a known value.
func (s AgentStatus) Valid() bool {
	switch s {
	case AgentStatusIdle, AgentStatusRunning, AgentStatusCompleted,
		AgentStatusFailed, AgentStatusDeleted:
		return true
	default:
		return false
	}
}

// CanTransitionTo reports whether moving from s to next is allowed.
// Nothing leaves the deleted state.
func (s AgentStatus) CanTransitionTo(next AgentStatus) bool {
	if !next.Valid() || s == AgentStatusDeleted {
		return false
	}
	return true
}

// AgentInstance is the registry record for one ephemeral worker.
type AgentInstance struct {
	// ID is the unique identifier, formatted as agent_xxxxxxxx.
	ID string `json:"id"`
	// Type is the capability class the agent was created for.
	Type AgentType `json:"type"`
	// Status is the current lifecycle state.
	Status AgentStatus `json:"status"`
	// CreatedAt is when the registry allocated the agent.
	CreatedAt time.Time `json:"created_at"`
	// Task is the sub-task the agent owns, if any.
	Task *SubTask `json:"task,omitempty"`
	// Result is the worker output once the loop has finished.
	Result *WorkerResult `json:"result,omitempty"`
	// Metrics is the finalized usage record for the agent.
	Metrics *AgentMetrics `json:"metrics,omitempty"`
}
