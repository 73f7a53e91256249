package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ShayCichocki/rfd/internal/api"
	"github.com/ShayCichocki/rfd/internal/tools"
	"github.com/ShayCichocki/rfd/pkg/models"
)

// Default confidences when the model does not report its own.
const (
	SuccessConfidence = 0.8
	PartialConfidence = 0.5
)

// ErrInvalidTurnBudget is returned when a worker is started without a
// positive turn budget.
var ErrInvalidTurnBudget = errors.New("max turns must be positive")

// Toolbox is the part of the tool registry a worker uses.
type Toolbox interface {
	Execute(ctx context.Context, name string, args json.RawMessage) tools.Result
	IndexText(names ...string) string
	Schemas(names ...string) []api.ToolSchema
}

// Observer receives worker and tool outcomes, typically for metrics export.
type Observer interface {
	ObserveWorker(m models.AgentMetrics, status models.WorkerStatus)
	ObserveToolCall(tool string, success bool)
}

// EventType identifies a worker progress event.
type EventType string

const (
	EventTurn       EventType = "turn"
	EventText       EventType = "text"
	EventToolCall   EventType = "tool_call"
	EventToolResult EventType = "tool_result"
	EventDone       EventType = "done"
)

// Event is a progress notification emitted while a worker runs.
type Event struct {
	Type    EventType
	AgentID string
	TaskID  string
	Turn    int
	Tool    string
	Content string
	Success bool
}

// DependencyOutput is the result of a finished dependency handed to a
// dependent worker.
type DependencyOutput struct {
	TaskID string
	Status models.WorkerStatus
	Output string
}

// Assignment is everything one worker run needs.
type Assignment struct {
	// Task is the sub-task to execute. When nil, Prompt is used instead.
	Task   *models.SubTask
	Prompt string
	// AgentType selects the profile when Task is nil.
	AgentType models.AgentType
	// Tools restricts the catalogue. Nil offers every tool.
	Tools []string
	// NoTools offers no tools at all.
	NoTools bool
	// Context is shared background for the worker.
	Context      string
	Dependencies []DependencyOutput
	// System replaces the generated system instruction when set.
	System       string
	OutputSchema *api.OutputSchema
	// ThinkingBudget overrides the profile: zero keeps it, negative disables.
	ThinkingBudget int
	// Model overrides the profile's model.
	Model string
}

func (a Assignment) agentType() models.AgentType {
	if a.Task != nil {
		return a.Task.AgentType.Normalize()
	}
	return a.AgentType.Normalize()
}

func (a Assignment) objective() string {
	if a.Task != nil {
		return a.Task.Objective
	}
	return a.Prompt
}

// WorkerConfig wires a Worker to its collaborators.
type WorkerConfig struct {
	Gateway  api.Gateway
	Tools    Toolbox
	Registry *Registry
	Models   Models
	// ThinkingBudget overrides every profile: zero keeps them, negative
	// disables thinking.
	ThinkingBudget int
	// Metrics receives the finalized AgentMetrics of every run. Optional.
	Metrics  *OrchestratorMetrics
	Observer Observer
	Logger   *zap.Logger
	OnEvent  func(Event)
}

// Worker runs the tool-calling loop for ephemeral agents. A Worker holds no
// conversation state; every Run creates, uses and deletes its own agent.
type Worker struct {
	cfg    WorkerConfig
	logger *zap.Logger
}

// NewWorker creates a worker. A nil Registry gets a private one.
func NewWorker(cfg WorkerConfig) *Worker {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Registry == nil {
		cfg.Registry = NewRegistry(cfg.Logger)
	}
	return &Worker{cfg: cfg, logger: cfg.Logger}
}

// Registry returns the agent registry the worker records into.
func (w *Worker) Registry() *Registry {
	return w.cfg.Registry
}

// WithMetrics returns a copy of the worker that appends to m.
func (w *Worker) WithMetrics(m *OrchestratorMetrics) *Worker {
	cfg := w.cfg
	cfg.Metrics = m
	return &Worker{cfg: cfg, logger: w.logger}
}

// WithEvents returns a copy of the worker that reports progress to fn.
func (w *Worker) WithEvents(fn func(Event)) *Worker {
	cfg := w.cfg
	cfg.OnEvent = fn
	return &Worker{cfg: cfg, logger: w.logger}
}

func (w *Worker) emit(e Event) {
	if w.cfg.OnEvent != nil {
		w.cfg.OnEvent(e)
	}
}

// Run executes one assignment with at most maxTurns model calls. It never
// returns an error: every failure, including a panic inside the loop, comes
// back as a failed WorkerResult. The agent it creates is deleted before Run
// returns.
func (w *Worker) Run(ctx context.Context, a Assignment, maxTurns int) (result models.WorkerResult) {
	taskID := ""
	if a.Task != nil {
		taskID = a.Task.ID
	}
	if maxTurns <= 0 {
		return failed(taskID, ErrInvalidTurnBudget.Error(), nil)
	}

	agentType := a.agentType()
	inst := w.cfg.Registry.Create(agentType, a.Task)
	if taskID == "" {
		taskID = inst.ID
	}
	am := models.AgentMetrics{
		AgentID:   inst.ID,
		AgentType: agentType,
		TaskID:    taskID,
		StartedAt: time.Now(),
	}
	log := w.logger.With(zap.String("agent_id", inst.ID), zap.String("task_id", taskID))

	defer func() {
		if rec := recover(); rec != nil {
			log.Error("worker panicked", zap.Any("panic", rec))
			result = failed(taskID, fmt.Sprintf("worker panicked: %v", rec), &result)
		}
		w.finalize(inst.ID, &am, &result, log)
	}()

	if err := w.cfg.Registry.Update(inst.ID, func(ai *models.AgentInstance) {
		ai.Status = models.AgentStatusRunning
	}); err != nil {
		return failed(taskID, err.Error(), nil)
	}

	result = w.loop(ctx, a, taskID, inst.ID, maxTurns, &am, log)
	return result
}

func (w *Worker) loop(ctx context.Context, a Assignment, taskID, agentID string, maxTurns int, am *models.AgentMetrics, log *zap.Logger) models.WorkerResult {
	profile := ProfileFor(a.agentType())
	model := a.Model
	if model == "" {
		model = w.cfg.Models.For(profile.Tier)
	}

	var toolNames []string
	var schemas []api.ToolSchema
	offered := !a.NoTools && a.OutputSchema == nil && w.cfg.Tools != nil
	if offered {
		toolNames = a.Tools
		schemas = w.cfg.Tools.Schemas(toolNames...)
	}
	// Calls are checked against what was offered, not what the model asks for.
	var allowed []string
	restricted := !offered || len(a.Tools) > 0
	if offered {
		allowed = a.Tools
	}

	system := a.System
	if system == "" {
		index := ""
		if len(schemas) > 0 {
			index = w.cfg.Tools.IndexText(toolNames...)
		}
		system = BuildSystemPrompt(profile, a, index)
	}

	req := api.Request{
		Model:          model,
		System:         system,
		Tools:          schemas,
		OutputSchema:   a.OutputSchema,
		ThinkingBudget: w.thinkingBudget(profile, a),
		Messages:       []api.Message{api.UserText(a.objective())},
	}

	res := models.WorkerResult{TaskID: taskID}
	var texts []string

	for turn := 1; turn <= maxTurns; turn++ {
		if err := ctx.Err(); err != nil {
			return failed(taskID, fmt.Sprintf("worker canceled: %v", err), &res)
		}
		am.Turns = turn
		w.emit(Event{Type: EventTurn, AgentID: agentID, TaskID: taskID, Turn: turn})

		resp, err := w.cfg.Gateway.Generate(ctx, req)
		if err != nil {
			var gwErr *api.GatewayError
			if !errors.As(err, &gwErr) {
				err = &api.GatewayError{Op: "worker turn", Err: err}
			}
			log.Warn("model call failed", zap.Int("turn", turn), zap.Error(err))
			return failed(taskID, err.Error(), &res)
		}
		am.InputTokens += resp.Usage.InputTokens
		am.OutputTokens += resp.Usage.OutputTokens
		am.ThinkingTokens += resp.Usage.ThinkingTokens

		if payload, ok := resp.Structured(); ok {
			res.Status = models.WorkerSuccess
			res.Output = string(payload)
			res.Confidence = structuredConfidence(payload)
			w.emit(Event{Type: EventDone, AgentID: agentID, TaskID: taskID, Turn: turn, Success: true})
			return res
		}

		if text := resp.Text(); text != "" {
			texts = append(texts, text)
			w.emit(Event{Type: EventText, AgentID: agentID, TaskID: taskID, Turn: turn, Content: text})
		}

		calls := resp.ToolRequests()
		if len(calls) == 0 {
			res.Status = models.WorkerSuccess
			res.Output = strings.Join(texts, "\n\n")
			res.Confidence = SuccessConfidence
			w.emit(Event{Type: EventDone, AgentID: agentID, TaskID: taskID, Turn: turn, Success: true})
			return res
		}

		req.Messages = append(req.Messages, resp.AssistantMessage())
		toolCtx := ctx
		if restricted {
			toolCtx = tools.WithAllowedTools(ctx, allowed)
		}
		req.Messages = append(req.Messages, w.runTools(toolCtx, calls, agentID, taskID, turn, am, &res, log))
	}

	log.Info("turn budget exhausted", zap.Int("max_turns", maxTurns))
	res.Status = models.WorkerPartial
	res.Output = strings.Join(texts, "\n\n")
	res.Confidence = PartialConfidence
	res.Notes = fmt.Sprintf("turn budget of %d exhausted with tool calls pending", maxTurns)
	w.emit(Event{Type: EventDone, AgentID: agentID, TaskID: taskID, Turn: maxTurns})
	return res
}

// runTools executes every call of one turn in order and returns the user
// message carrying all of their results. Calls the context does not allow
// are answered with a failure and never reach the toolbox.
func (w *Worker) runTools(ctx context.Context, calls []api.ToolRequest, agentID, taskID string, turn int, am *models.AgentMetrics, res *models.WorkerResult, log *zap.Logger) api.Message {
	msg := api.Message{Role: api.RoleUser}
	for _, call := range calls {
		w.emit(Event{Type: EventToolCall, AgentID: agentID, TaskID: taskID, Turn: turn, Tool: call.Name, Content: string(call.Args)})

		var out tools.Result
		switch {
		case w.cfg.Tools == nil:
			out = tools.Fail("No tools available")
		case !tools.Allowed(ctx, call.Name):
			out = tools.Fail("Tool %s is not available to this worker", call.Name)
			log.Warn("rejected tool outside the allowed set", zap.String("tool", call.Name))
		default:
			out = w.cfg.Tools.Execute(ctx, call.Name, call.Args)
			res.ToolsExecuted = append(res.ToolsExecuted, call.Name)
		}

		am.ToolCalls++
		if out.Success && call.Name == string(tools.KindCreateFile) {
			if path, ok := out.Fields["path"].(string); ok {
				res.FilesCreated = append(res.FilesCreated, path)
			}
		}
		if w.cfg.Observer != nil {
			w.cfg.Observer.ObserveToolCall(call.Name, out.Success)
		}
		if !out.Success {
			log.Debug("tool call failed", zap.String("tool", call.Name), zap.String("error", out.Error))
		}
		w.emit(Event{Type: EventToolResult, AgentID: agentID, TaskID: taskID, Turn: turn, Tool: call.Name, Success: out.Success, Content: out.Error})

		msg.Parts = append(msg.Parts, api.ToolResultPart{
			CallID:  call.ID,
			Name:    call.Name,
			Content: out.String(),
			IsError: !out.Success,
		})
	}
	return msg
}

func (w *Worker) thinkingBudget(p Profile, a Assignment) int {
	budget := p.ThinkingBudget
	for _, override := range []int{w.cfg.ThinkingBudget, a.ThinkingBudget} {
		switch {
		case override > 0:
			budget = override
		case override < 0:
			budget = 0
		}
	}
	return budget
}

// finalize records metrics and the result, then deletes the agent.
func (w *Worker) finalize(agentID string, am *models.AgentMetrics, res *models.WorkerResult, log *zap.Logger) {
	am.EndedAt = time.Now()
	am.Status = models.AgentStatusCompleted
	if res.Status == models.WorkerFailed {
		am.Status = models.AgentStatusFailed
		am.Error = res.Error
	}

	stored := *res
	metrics := *am
	if err := w.cfg.Registry.Update(agentID, func(ai *models.AgentInstance) {
		ai.Status = metrics.Status
		ai.Result = &stored
		ai.Metrics = &metrics
	}); err != nil {
		log.Warn("failed to store worker result", zap.Error(err))
	}

	if w.cfg.Metrics != nil {
		w.cfg.Metrics.Append(metrics)
	}
	if w.cfg.Observer != nil {
		w.cfg.Observer.ObserveWorker(metrics, res.Status)
	}

	w.cfg.Registry.Delete(agentID)
	log.Info("worker finished",
		zap.String("status", string(res.Status)),
		zap.Int("turns", metrics.Turns),
		zap.Int("tool_calls", metrics.ToolCalls),
		zap.Int64("tokens", metrics.TotalTokens()),
		zap.Duration("duration", metrics.Duration()))
}

// failed builds a failed result, keeping the audit lists of prev if given.
func failed(taskID, msg string, prev *models.WorkerResult) models.WorkerResult {
	res := models.WorkerResult{
		TaskID: taskID,
		Status: models.WorkerFailed,
		Error:  msg,
		Output: msg,
	}
	if prev != nil {
		res.ToolsExecuted = prev.ToolsExecuted
		res.FilesCreated = prev.FilesCreated
	}
	return res
}

func structuredConfidence(payload json.RawMessage) float64 {
	var scored struct {
		Confidence *float64 `json:"confidence"`
	}
	if err := json.Unmarshal(payload, &scored); err == nil && scored.Confidence != nil {
		return models.ClampConfidence(*scored.Confidence)
	}
	return SuccessConfidence
}
