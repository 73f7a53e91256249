// Package decompose turns a goal into a validated task plan with one
// structured model call.
package decompose

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/ShayCichocki/rfd/internal/api"
	"github.com/ShayCichocki/rfd/internal/graph"
	"github.com/ShayCichocki/rfd/pkg/models"
)

// DefaultMaxSteps bounds the number of sub-tasks in a plan.
const DefaultMaxSteps = 10

// PlanningError reports a plan that could not be parsed or validated.
type PlanningError struct {
	Reason string
	// Raw is the model output the plan was parsed from.
	Raw string
	Err error
}

func (e *PlanningError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("planning: %s: %v", e.Reason, e.Err)
	}
	return "planning: " + e.Reason
}

func (e *PlanningError) Unwrap() error { return e.Err }

// ToolIndex renders the tool catalogue for prompts.
type ToolIndex interface {
	IndexText(names ...string) string
}

// Config tunes the planner.
type Config struct {
	MaxSteps       int
	ThinkingBudget int
	// Model overrides the gateway default.
	Model string
}

// Planner produces task plans.
type Planner struct {
	gateway api.Gateway
	tools   ToolIndex
	cfg     Config
	logger  *zap.Logger
}

// New creates a planner. tools may be nil.
func New(gateway api.Gateway, tools ToolIndex, cfg Config, logger *zap.Logger) *Planner {
	if cfg.MaxSteps <= 0 {
		cfg.MaxSteps = DefaultMaxSteps
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Planner{gateway: gateway, tools: tools, cfg: cfg, logger: logger}
}

// Plan asks the model for a plan and validates it. Gateway failures are
// returned as *api.GatewayError; anything wrong with the plan itself is a
// *PlanningError. Dependency cycles are logged but not rejected here.
func (p *Planner) Plan(ctx context.Context, goal, extraContext string) (*models.TaskPlan, error) {
	if strings.TrimSpace(goal) == "" {
		return nil, &PlanningError{Reason: "goal is empty"}
	}

	resp, err := p.gateway.Generate(ctx, p.request(goal, extraContext))
	if err != nil {
		var gwErr *api.GatewayError
		if errors.As(err, &gwErr) {
			return nil, err
		}
		return nil, &api.GatewayError{Op: "plan", Err: err}
	}

	raw := resp.Text()
	if payload, ok := resp.Structured(); ok {
		raw = string(payload)
	}

	plan, err := ParseResponse(raw)
	if err != nil {
		return nil, err
	}
	if err := p.normalize(plan); err != nil {
		return nil, &PlanningError{Reason: "invalid plan", Raw: raw, Err: err}
	}

	if cycle := DetectCycle(plan); len(cycle) > 0 {
		p.logger.Warn("plan contains a dependency cycle; hybrid scheduling will report it as stuck",
			zap.Strings("cycle", cycle))
	}
	for _, issue := range ScorePlan(plan).Issues {
		if issue.Severity >= SeverityWarning {
			p.logger.Debug("plan quality", zap.String("task_id", issue.TaskID),
				zap.Stringer("severity", issue.Severity), zap.String("issue", issue.Message))
		}
	}
	p.logger.Info("plan ready",
		zap.Int("subtasks", len(plan.SubTasks)),
		zap.String("strategy", string(plan.Strategy)))
	return plan, nil
}

func (p *Planner) request(goal, extraContext string) api.Request {
	contextSection := ""
	if strings.TrimSpace(extraContext) != "" {
		contextSection = "\nCONTEXT:\n" + extraContext + "\n"
	}
	toolIndex := "(none)"
	if p.tools != nil {
		if idx := p.tools.IndexText(); idx != "" {
			toolIndex = idx
		}
	}

	return api.Request{
		Model:          p.cfg.Model,
		System:         plannerSystemPrompt,
		Messages:       []api.Message{api.UserText(fmt.Sprintf(planningPrompt, goal, contextSection, p.cfg.MaxSteps, toolIndex))},
		OutputSchema:   PlanSchema(),
		ThinkingBudget: p.cfg.ThinkingBudget,
	}
}

// normalize fills defaults, truncates to the step limit and validates.
func (p *Planner) normalize(plan *models.TaskPlan) error {
	if !plan.Strategy.Valid() {
		plan.Strategy = models.StrategyHybrid
	}
	if len(plan.SubTasks) > p.cfg.MaxSteps {
		p.truncate(plan)
	}
	for i := range plan.SubTasks {
		st := &plan.SubTasks[i]
		st.ID = strings.TrimSpace(st.ID)
		for j, dep := range st.Dependencies {
			st.Dependencies[j] = strings.TrimSpace(dep)
		}
		st.AgentType = models.AgentType(strings.ToLower(string(st.AgentType))).Normalize()
		if !st.Priority.Valid() {
			st.Priority = models.PriorityMedium
		}
	}
	return plan.Validate()
}

// truncate cuts plan to the step limit. The cut ids, and the kept sub-tasks
// that lost a dependency on them, are recorded in the plan's analysis.
func (p *Planner) truncate(plan *models.TaskPlan) {
	var cut []string
	dropped := make(map[string]bool)
	for _, st := range plan.SubTasks[p.cfg.MaxSteps:] {
		id := strings.TrimSpace(st.ID)
		cut = append(cut, id)
		dropped[id] = true
	}
	plan.SubTasks = plan.SubTasks[:p.cfg.MaxSteps]

	var orphaned []string
	for i := range plan.SubTasks {
		before := len(plan.SubTasks[i].Dependencies)
		plan.SubTasks[i].Dependencies = pruneDeps(plan.SubTasks[i].Dependencies, dropped)
		if len(plan.SubTasks[i].Dependencies) < before {
			orphaned = append(orphaned, strings.TrimSpace(plan.SubTasks[i].ID))
		}
	}

	p.logger.Warn("plan exceeds step limit; truncating",
		zap.Int("max_steps", p.cfg.MaxSteps),
		zap.Strings("dropped", cut),
		zap.Strings("lost_dependencies", orphaned))

	note := fmt.Sprintf("Truncated to %d sub-tasks; dropped %s.", p.cfg.MaxSteps, strings.Join(cut, ", "))
	if len(orphaned) > 0 {
		note += fmt.Sprintf(" Dependencies on dropped sub-tasks were removed from %s.", strings.Join(orphaned, ", "))
	}
	if strings.TrimSpace(plan.Analysis) == "" {
		plan.Analysis = note
	} else {
		plan.Analysis = strings.TrimRight(plan.Analysis, "\n") + "\n\n" + note
	}
}

// pruneDeps removes dependencies on sub-tasks cut by truncation.
func pruneDeps(deps []string, dropped map[string]bool) []string {
	kept := deps[:0]
	for _, d := range deps {
		if !dropped[strings.TrimSpace(d)] {
			kept = append(kept, d)
		}
	}
	return kept
}

// DetectCycle returns the ids of one dependency cycle in the plan, or nil.
func DetectCycle(plan *models.TaskPlan) []string {
	g := graph.New()
	g.Build(plan.SubTasks)
	return g.FindCycle()
}

// ExecutionOrder returns sub-task ids with every dependency ahead of its
// dependents, ties kept in plan order. It fails with graph.ErrCycleDetected
// on a cyclic plan.
func ExecutionOrder(plan *models.TaskPlan) ([]string, error) {
	g := graph.New()
	g.Build(plan.SubTasks)
	return g.TopologicalSort()
}

// planPayload accepts the documented plan shape plus the older
// steps/step_id/depends_on/task spelling some models fall back to.
type planPayload struct {
	Analysis          string        `json:"analysis"`
	SubTasks          []taskPayload `json:"subtasks"`
	Steps             []taskPayload `json:"steps"`
	Strategy          string        `json:"execution_strategy"`
	SynthesisApproach string        `json:"synthesis_approach"`
}

type taskPayload struct {
	ID              string   `json:"id"`
	StepID          string   `json:"step_id"`
	AgentType       string   `json:"agent_type"`
	Objective       string   `json:"objective"`
	Task            string   `json:"task"`
	ContextRequired []string `json:"context_required"`
	ExpectedOutput  string   `json:"expected_output"`
	Dependencies    []string `json:"dependencies"`
	DependsOn       []string `json:"depends_on"`
	Priority        string   `json:"priority"`
}

// ParseResponse extracts a plan from model output, repairing malformed JSON
// where possible. It does not validate the plan.
func ParseResponse(raw string) (*models.TaskPlan, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, &PlanningError{Reason: "empty planning response"}
	}

	var payload planPayload
	if err := api.ParseStructured(raw, &payload); err != nil {
		return nil, &PlanningError{Reason: "unparseable plan", Raw: raw, Err: err}
	}

	tasks := payload.SubTasks
	if len(tasks) == 0 {
		tasks = payload.Steps
	}

	plan := &models.TaskPlan{
		Analysis:          payload.Analysis,
		Strategy:          models.ExecutionStrategy(strings.ToLower(strings.TrimSpace(payload.Strategy))),
		SynthesisApproach: payload.SynthesisApproach,
		SubTasks:          make([]models.SubTask, 0, len(tasks)),
	}
	for _, t := range tasks {
		plan.SubTasks = append(plan.SubTasks, models.SubTask{
			ID:              firstNonEmpty(t.ID, t.StepID),
			AgentType:       models.AgentType(t.AgentType),
			Objective:       firstNonEmpty(t.Objective, t.Task),
			ContextRequired: t.ContextRequired,
			ExpectedOutput:  t.ExpectedOutput,
			Dependencies:    append(t.Dependencies, t.DependsOn...),
			Priority:        models.Priority(strings.ToLower(t.Priority)),
		})
	}
	return plan, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

// PlanSchema is the structured output schema for planning calls.
func PlanSchema() *api.OutputSchema {
	str := map[string]any{"type": "string"}
	strList := map[string]any{"type": "array", "items": str}
	agentTypes := make([]string, 0, len(models.AgentTypes()))
	for _, t := range models.AgentTypes() {
		agentTypes = append(agentTypes, string(t))
	}

	return &api.OutputSchema{
		Name:        "task_plan",
		Description: "A decomposition of the goal into sub-tasks for worker agents.",
		Properties: map[string]any{
			"analysis": str,
			"subtasks": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"id":               str,
						"agent_type":       map[string]any{"type": "string", "enum": agentTypes},
						"objective":        str,
						"context_required": strList,
						"expected_output":  str,
						"dependencies":     strList,
						"priority":         map[string]any{"type": "string", "enum": []string{"high", "medium", "low"}},
					},
					"required": []string{"id", "agent_type", "objective", "expected_output", "dependencies"},
				},
			},
			"execution_strategy": map[string]any{"type": "string", "enum": []string{"parallel", "sequential", "hybrid"}},
			"synthesis_approach": str,
		},
		Required: []string{"analysis", "subtasks", "execution_strategy", "synthesis_approach"},
	}
}

// MarshalPlan renders a plan as indented JSON for display and storage.
func MarshalPlan(plan *models.TaskPlan) (string, error) {
	b, err := json.MarshalIndent(plan, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal plan: %w", err)
	}
	return string(b), nil
}
