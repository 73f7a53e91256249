package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ShayCichocki/rfd/internal/agent"
	"github.com/ShayCichocki/rfd/internal/graph"
	"github.com/ShayCichocki/rfd/pkg/models"
)

// Defaults for SchedulerConfig.
const (
	DefaultMaxConcurrent = 5
	DefaultMaxToolTurns  = 10

	// sequentialContextLimit bounds each prior output appended to the
	// shared context in sequential mode.
	sequentialContextLimit = 1000
)

// DeadlockError reports sub-tasks whose dependencies can never be satisfied,
// either because of a cycle or because a dependency never ran.
type DeadlockError struct {
	// Stuck holds the pending sub-task IDs, sorted.
	Stuck []string
	// Missing holds dependency IDs that name no sub-task in the plan.
	Missing []string
	// Cycle holds one dependency cycle among the stuck sub-tasks, if any.
	Cycle []string
}

func (e *DeadlockError) Error() string {
	msg := "scheduling deadlock: no ready sub-tasks while pending: " + strings.Join(e.Stuck, ", ")
	if len(e.Missing) > 0 {
		msg += "; unknown dependencies: " + strings.Join(e.Missing, ", ")
	}
	if len(e.Cycle) > 0 {
		loop := append(append([]string(nil), e.Cycle...), e.Cycle[0])
		msg += "; cycle: " + strings.Join(loop, " -> ")
	}
	return msg
}

// SchedulerConfig bounds a scheduler.
type SchedulerConfig struct {
	// MaxConcurrent caps workers running at once in parallel and hybrid mode.
	MaxConcurrent int
	// MaxToolTurns is the turn budget handed to every worker.
	MaxToolTurns int
}

// Scheduler walks a plan according to its execution strategy, running one
// ephemeral worker per sub-task.
type Scheduler struct {
	worker *agent.Worker
	cfg    SchedulerConfig
	events *EventEmitter
	runID  string
	logger *zap.Logger

	mu     sync.Mutex
	rounds [][]string
}

// NewScheduler creates a scheduler. events may be nil.
func NewScheduler(worker *agent.Worker, cfg SchedulerConfig, events *EventEmitter, logger *zap.Logger) *Scheduler {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = DefaultMaxConcurrent
	}
	if cfg.MaxToolTurns <= 0 {
		cfg.MaxToolTurns = DefaultMaxToolTurns
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{worker: worker, cfg: cfg, events: events, logger: logger}
}

// withRunID tags emitted events with the run they belong to.
func (s *Scheduler) withRunID(id string) *Scheduler {
	s.runID = id
	return s
}

// Rounds returns the sub-task IDs started together in each hybrid round
// of the last Execute call. Parallel runs record one round, sequential runs
// one round per sub-task.
func (s *Scheduler) Rounds() [][]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]string, len(s.rounds))
	for i, r := range s.rounds {
		out[i] = append([]string(nil), r...)
	}
	return out
}

func (s *Scheduler) recordRound(ids []string) {
	s.mu.Lock()
	s.rounds = append(s.rounds, ids)
	s.mu.Unlock()
}

// Execute runs every sub-task of the plan. toolNames restricts the tools
// offered to workers; nil offers the whole catalogue. sharedContext is
// handed to every worker as background.
//
// Results come back in plan order and contain only sub-tasks that ran. On
// deadlock the results gathered so far are returned with a *DeadlockError.
// If ctx is cancelled no new work is started and ctx's error is returned
// wrapped.
func (s *Scheduler) Execute(ctx context.Context, plan *models.TaskPlan, toolNames []string, sharedContext string) ([]models.WorkerResult, error) {
	s.mu.Lock()
	s.rounds = nil
	s.mu.Unlock()

	if plan == nil || len(plan.SubTasks) == 0 {
		return nil, nil
	}

	var (
		results []models.WorkerResult
		err     error
	)
	switch plan.Strategy {
	case models.StrategyParallel:
		results, err = s.executeParallel(ctx, plan, toolNames, sharedContext)
	case models.StrategySequential:
		results, err = s.executeSequential(ctx, plan, toolNames, sharedContext)
	default:
		results, err = s.executeHybrid(ctx, plan, toolNames, sharedContext)
	}
	if err == nil && ctx.Err() != nil {
		err = fmt.Errorf("schedule interrupted: %w", ctx.Err())
	}
	return results, err
}

// executeParallel starts every sub-task at once, ignoring dependencies.
func (s *Scheduler) executeParallel(ctx context.Context, plan *models.TaskPlan, toolNames []string, shared string) ([]models.WorkerResult, error) {
	ids := make([]string, len(plan.SubTasks))
	for i, st := range plan.SubTasks {
		ids[i] = st.ID
	}
	s.recordRound(ids)
	s.logger.Info("running sub-tasks in parallel", zap.Int("count", len(ids)))

	results := make([]models.WorkerResult, len(plan.SubTasks))
	var g errgroup.Group
	g.SetLimit(s.cfg.MaxConcurrent)
	for i, st := range plan.SubTasks {
		g.Go(func() error {
			results[i] = s.runTask(ctx, st, toolNames, shared, nil)
			return nil
		})
	}
	_ = g.Wait()
	return results, nil
}

// executeSequential runs sub-tasks one at a time in plan order. Each
// non-failed output is appended to the context seen by later sub-tasks.
func (s *Scheduler) executeSequential(ctx context.Context, plan *models.TaskPlan, toolNames []string, shared string) ([]models.WorkerResult, error) {
	results := make([]models.WorkerResult, 0, len(plan.SubTasks))
	accumulated := shared

	for _, st := range plan.SubTasks {
		if err := ctx.Err(); err != nil {
			return results, fmt.Errorf("schedule interrupted before %s: %w", st.ID, err)
		}
		s.recordRound([]string{st.ID})

		res := s.runTask(ctx, st, toolNames, accumulated, nil)
		results = append(results, res)
		if res.Status != models.WorkerFailed && res.Output != "" {
			accumulated += fmt.Sprintf("\n\nResult from %s: %s", st.ID, clip(res.Output, sequentialContextLimit))
		}
	}
	return results, nil
}

// executeHybrid runs ready-set rounds: every sub-task whose dependencies all
// have a recorded result starts in the same round, and the next round begins
// once the whole round has finished.
func (s *Scheduler) executeHybrid(ctx context.Context, plan *models.TaskPlan, toolNames []string, shared string) ([]models.WorkerResult, error) {
	g := graph.New()
	g.SetDebugLog(func(format string, args ...interface{}) {
		s.logger.Debug(fmt.Sprintf(format, args...))
	})
	g.Build(plan.SubTasks)

	byID := make(map[string]models.WorkerResult, len(plan.SubTasks))
	collect := func() []models.WorkerResult {
		out := make([]models.WorkerResult, 0, len(byID))
		for _, st := range plan.SubTasks {
			if r, ok := byID[st.ID]; ok {
				out = append(out, r)
			}
		}
		return out
	}

	for round := 1; ; round++ {
		if err := ctx.Err(); err != nil {
			return collect(), fmt.Errorf("schedule interrupted at round %d: %w", round, err)
		}

		ready := g.GetReady()
		if len(ready) == 0 {
			pending := g.Pending()
			if len(pending) == 0 {
				return collect(), nil
			}
			dl := &DeadlockError{Stuck: pending, Missing: g.Missing(), Cycle: g.FindCycle()}
			s.logger.Error("hybrid schedule is stuck",
				zap.Strings("pending", pending),
				zap.Strings("missing", dl.Missing),
				zap.Strings("cycle", dl.Cycle))
			s.events.Emit(OrchestratorEvent{Type: EventDeadlock, RunID: s.runID, TaskIDs: pending, Error: dl})
			return collect(), dl
		}

		ids := make([]string, len(ready))
		for i, st := range ready {
			ids[i] = st.ID
		}
		s.recordRound(ids)
		s.logger.Info("starting round", zap.Int("round", round), zap.Strings("subtasks", ids))
		s.events.Emit(OrchestratorEvent{Type: EventRoundStarted, RunID: s.runID, Round: round, TaskIDs: ids})

		roundResults := make([]models.WorkerResult, len(ready))
		var eg errgroup.Group
		eg.SetLimit(s.cfg.MaxConcurrent)
		for i, st := range ready {
			deps := dependencyOutputs(st, byID)
			eg.Go(func() error {
				roundResults[i] = s.runTask(ctx, st, toolNames, shared, deps)
				return nil
			})
		}
		_ = eg.Wait()

		for i, st := range ready {
			byID[st.ID] = roundResults[i]
			g.MarkComplete(st.ID)
		}
	}
}

// runTask runs one worker for st. The returned result always carries st's ID.
func (s *Scheduler) runTask(ctx context.Context, st models.SubTask, toolNames []string, shared string, deps []agent.DependencyOutput) models.WorkerResult {
	s.events.Emit(OrchestratorEvent{Type: EventTaskStarted, RunID: s.runID, TaskID: st.ID, AgentType: st.AgentType, Message: st.Objective})

	w := s.worker
	if s.events != nil {
		w = w.WithEvents(func(e agent.Event) {
			if e.Type != agent.EventToolCall {
				return
			}
			s.events.Emit(OrchestratorEvent{
				Type:    EventAgentProgress,
				RunID:   s.runID,
				TaskID:  st.ID,
				AgentID: e.AgentID,
				Message: e.Tool,
			})
		})
	}

	task := st
	res := w.Run(ctx, agent.Assignment{
		Task:         &task,
		Tools:        toolNames,
		Context:      shared,
		Dependencies: deps,
	}, s.cfg.MaxToolTurns)
	res.TaskID = st.ID

	evType := EventTaskCompleted
	if res.Status == models.WorkerFailed {
		evType = EventTaskFailed
	}
	s.events.Emit(OrchestratorEvent{
		Type:      evType,
		RunID:     s.runID,
		TaskID:    st.ID,
		AgentType: st.AgentType,
		Status:    string(res.Status),
		Message:   res.Error,
	})
	return res
}

// dependencyOutputs collects the recorded results of st's dependencies in
// declaration order. Failed dependencies are included so the dependent can
// work around them.
func dependencyOutputs(st models.SubTask, byID map[string]models.WorkerResult) []agent.DependencyOutput {
	var deps []agent.DependencyOutput
	for _, id := range st.Dependencies {
		r, ok := byID[id]
		if !ok {
			continue
		}
		out := r.Output
		if r.Status == models.WorkerFailed && out == "" {
			out = "failed: " + r.Error
		}
		deps = append(deps, agent.DependencyOutput{TaskID: id, Status: r.Status, Output: out})
	}
	return deps
}

// clip truncates s to at most n runes.
func clip(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
