package orchestrator

import (
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/ShayCichocki/rfd/pkg/models"
)

// EventType represents the type of orchestrator event.
type EventType string

const (
	// EventSkillMatched indicates a skill's triggers matched the goal.
	EventSkillMatched EventType = "skill_matched"
	// EventPlanReady indicates the planner produced a valid plan.
	EventPlanReady EventType = "plan_ready"
	// EventRoundStarted indicates a hybrid ready-set round is starting.
	EventRoundStarted EventType = "round_started"
	// EventTaskStarted indicates a worker was started for a sub-task.
	EventTaskStarted EventType = "task_started"
	// EventTaskCompleted indicates a worker finished with success or partial.
	EventTaskCompleted EventType = "task_completed"
	// EventTaskFailed indicates a worker finished with a failed result.
	EventTaskFailed EventType = "task_failed"
	// EventAgentProgress carries a worker's turn-level activity.
	EventAgentProgress EventType = "agent_progress"
	// EventDeadlock indicates pending sub-tasks can never become ready.
	EventDeadlock EventType = "deadlock"
	// EventRunDone indicates the run finished, successfully or not.
	EventRunDone EventType = "run_done"
)

// OrchestratorEvent represents an event emitted during a run.
type OrchestratorEvent struct {
	Type  EventType
	RunID string
	// TaskID is the ID of the related sub-task, if applicable.
	TaskID    string
	AgentID   string
	AgentType models.AgentType
	// Round is the 1-based hybrid round number for round events.
	Round int
	// TaskIDs lists the sub-tasks of a round or the stuck sub-tasks of a deadlock.
	TaskIDs []string
	// Status is the worker or run outcome for completion events.
	Status  string
	Message string
	Error   error
	// TokensUsed and Cost are run totals on EventRunDone.
	TokensUsed int64
	Cost       float64
	Duration   time.Duration
	Timestamp  time.Time
}

// EventEmitter delivers events to a single subscriber without ever blocking
// a worker for long. Events that cannot be delivered are dropped.
type EventEmitter struct {
	events       chan OrchestratorEvent
	droppedCount atomic.Uint64
	logger       *zap.Logger
}

// NewEventEmitter creates a new EventEmitter with the given buffer size.
func NewEventEmitter(bufferSize int, logger *zap.Logger) *EventEmitter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EventEmitter{
		events: make(chan OrchestratorEvent, bufferSize),
		logger: logger,
	}
}

// Emit sends an event, waiting up to 100ms for buffer space. A nil emitter
// discards events.
func (e *EventEmitter) Emit(event OrchestratorEvent) {
	if e == nil {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	select {
	case e.events <- event:
		return
	default:
	}

	select {
	case e.events <- event:
	case <-time.After(100 * time.Millisecond):
		count := e.droppedCount.Add(1)
		if count%10 == 1 {
			e.logger.Warn("event channel full, dropping event",
				zap.Uint64("dropped_total", count),
				zap.String("type", string(event.Type)))
		}
	}
}

// DroppedCount returns the total number of events that have been dropped.
func (e *EventEmitter) DroppedCount() uint64 {
	return e.droppedCount.Load()
}

// Events returns a read-only channel of events.
func (e *EventEmitter) Events() <-chan OrchestratorEvent {
	return e.events
}

// Close closes the events channel. Call it after the last Run returns.
func (e *EventEmitter) Close() {
	close(e.events)
}
