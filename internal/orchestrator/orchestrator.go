package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ShayCichocki/rfd/internal/agent"
	"github.com/ShayCichocki/rfd/internal/api"
	"github.com/ShayCichocki/rfd/internal/decompose"
	"github.com/ShayCichocki/rfd/internal/state"
	"github.com/ShayCichocki/rfd/internal/tools"
	"github.com/ShayCichocki/rfd/pkg/models"
)

// SkillDetector finds a skill whose triggers match a goal.
type SkillDetector interface {
	Detect(input string) (*models.Skill, error)
}

// Observer exports run, worker and tool outcomes.
type Observer interface {
	agent.Observer
	ObserveRun(summary agent.RunSummary, status models.RunStatus)
}

// Config holds the orchestrator's tuning knobs.
type Config struct {
	MaxConcurrent           int
	MaxPlanningSteps        int
	MaxToolTurns            int
	PlanningThinkingBudget  int
	SynthesisThinkingBudget int
	// WorkerThinkingBudget overrides every profile: zero keeps them,
	// negative disables thinking.
	WorkerThinkingBudget int
	// RunTimeout bounds a whole run; zero means no limit.
	RunTimeout time.Duration
	Models     agent.Models
	Pricing    models.Pricing
}

// Deps are the collaborators of an Orchestrator. Gateway is required; the
// rest are optional.
type Deps struct {
	Gateway  api.Gateway
	Registry *agent.Registry
	Tools    *tools.Registry
	Skills   SkillDetector
	Config   Config
	Logger   *zap.Logger
	Metrics  Observer
	Store    state.RunStore
	Events   *EventEmitter
}

// RunOptions adjust a single run.
type RunOptions struct {
	// Context is background shared with the planner and every worker.
	Context string
	// Tools restricts the tools workers may call. Nil offers all of them.
	Tools []string
	// Strategy overrides the planner's execution strategy when set.
	Strategy models.ExecutionStrategy
	// SkipSkills disables skill detection.
	SkipSkills bool
}

// RunReport is everything a run produced.
type RunReport struct {
	RunID     string                      `json:"run_id"`
	Goal      string                      `json:"goal"`
	StartedAt time.Time                   `json:"started_at"`
	Skill     string                      `json:"skill,omitempty"`
	Plan      *models.TaskPlan            `json:"plan,omitempty"`
	Results   []models.WorkerResult       `json:"results"`
	Response  *models.SynthesizedResponse `json:"response,omitempty"`
	// Rounds are the groups of sub-tasks started together.
	Rounds   [][]string            `json:"rounds,omitempty"`
	Metrics  agent.RunSummary      `json:"metrics"`
	Agents   []models.AgentMetrics `json:"agents,omitempty"`
	Registry agent.RegistryStats   `json:"registry"`
}

// Orchestrator plans a goal, runs one ephemeral worker per sub-task and
// synthesizes the results.
type Orchestrator struct {
	deps   Deps
	logger *zap.Logger
}

// New creates an orchestrator.
func New(deps Deps) (*Orchestrator, error) {
	if deps.Gateway == nil {
		return nil, errors.New("orchestrator: gateway is required")
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Registry == nil {
		deps.Registry = agent.NewRegistry(deps.Logger)
	}
	if deps.Config.MaxPlanningSteps <= 0 {
		deps.Config.MaxPlanningSteps = decompose.DefaultMaxSteps
	}
	if deps.Config.Pricing == (models.Pricing{}) {
		deps.Config.Pricing = models.DefaultPricing()
	}
	return &Orchestrator{deps: deps, logger: deps.Logger}, nil
}

// Registry returns the agent registry shared by all runs.
func (o *Orchestrator) Registry() *agent.Registry {
	return o.deps.Registry
}

// Plan runs planning only, with optional skill detection folded into the
// planning context.
func (o *Orchestrator) Plan(ctx context.Context, goal, extraContext string) (*models.TaskPlan, error) {
	planCtx, _ := o.planningContext(goal, extraContext, false)
	return o.planner(o.deps.Gateway).Plan(ctx, goal, planCtx)
}

// Run executes the full plan, schedule and synthesize cycle for goal.
//
// Planning and synthesis gateway failures are returned as errors. A run that
// deadlocks or times out still yields a report with Status failed and every
// result gathered so far, together with the error. The report is nil only
// when planning failed.
func (o *Orchestrator) Run(ctx context.Context, goal string, opts RunOptions) (*RunReport, error) {
	runID := uuid.NewString()
	log := o.logger.With(zap.String("run_id", runID))
	metrics := agent.NewOrchestratorMetrics(runID, o.deps.Config.Pricing)

	if o.deps.Config.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.deps.Config.RunTimeout)
		defer cancel()
	}

	report := &RunReport{RunID: runID, Goal: goal, StartedAt: time.Now()}
	metered := &meteredGateway{inner: o.deps.Gateway, metrics: metrics}

	planCtx, skill := o.planningContext(goal, opts.Context, opts.SkipSkills)
	if skill != nil {
		report.Skill = skill.Name
		log.Info("skill matched goal", zap.String("skill", skill.Name))
		o.deps.Events.Emit(OrchestratorEvent{Type: EventSkillMatched, RunID: runID, Message: skill.Name})
	}

	plan, err := o.planner(metered).Plan(ctx, goal, planCtx)
	if err != nil {
		log.Error("planning failed", zap.Error(err))
		o.finish(ctx, report, metrics, err)
		return nil, fmt.Errorf("plan goal: %w", err)
	}
	if opts.Strategy.Valid() {
		plan.Strategy = opts.Strategy
	}
	report.Plan = plan
	metrics.SetTotalTasks(len(plan.SubTasks))
	o.deps.Events.Emit(OrchestratorEvent{
		Type:    EventPlanReady,
		RunID:   runID,
		TaskIDs: taskIDs(plan),
		Message: string(plan.Strategy),
	})

	scheduler := NewScheduler(o.worker(metrics), SchedulerConfig{
		MaxConcurrent: o.deps.Config.MaxConcurrent,
		MaxToolTurns:  o.deps.Config.MaxToolTurns,
	}, o.deps.Events, log).withRunID(runID)

	results, schedErr := scheduler.Execute(ctx, plan, opts.Tools, opts.Context)
	report.Results = results
	report.Rounds = scheduler.Rounds()

	if n := o.deps.Registry.CleanupCompleted(); n > 0 {
		log.Warn("swept agents left behind by workers", zap.Int("count", n))
	}

	synth := NewSynthesizer(metered, SynthesisConfig{
		ThinkingBudget: o.deps.Config.SynthesisThinkingBudget,
		Model:          o.deps.Config.Models.Pro,
	}, log)

	var runErr error
	if schedErr != nil {
		log.Error("scheduling stopped early", zap.Error(schedErr))
		report.Response = synth.Unsynthesized(plan, results, schedErr)
		runErr = schedErr
	} else {
		resp, err := synth.Synthesize(ctx, goal, plan, results)
		if err != nil {
			log.Error("synthesis failed", zap.Error(err))
			report.Response = synth.Unsynthesized(plan, results, err)
			runErr = fmt.Errorf("synthesize results: %w", err)
		} else {
			report.Response = resp
		}
	}

	o.finish(ctx, report, metrics, runErr)
	return report, runErr
}

// planningContext prepends a matched skill's instructions and workflow to
// the caller's context.
func (o *Orchestrator) planningContext(goal, extra string, skip bool) (string, *models.Skill) {
	if skip || o.deps.Skills == nil {
		return extra, nil
	}
	skill, err := o.deps.Skills.Detect(goal)
	if err != nil {
		o.logger.Warn("skill detection failed", zap.Error(err))
		return extra, nil
	}
	if skill == nil {
		return extra, nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "SKILL: %s\n%s\n", skill.Name, skill.Description)
	if strings.TrimSpace(skill.Instructions) != "" {
		sb.WriteString("\nInstructions:\n")
		sb.WriteString(strings.TrimSpace(skill.Instructions))
		sb.WriteString("\n")
	}
	if len(skill.Workflow) > 0 {
		sb.WriteString("\nWorkflow:\n")
		for i, step := range skill.Workflow {
			fmt.Fprintf(&sb, "%d. %s\n", i+1, step)
		}
	}
	if strings.TrimSpace(extra) != "" {
		sb.WriteString("\n")
		sb.WriteString(extra)
	}
	return sb.String(), skill
}

func (o *Orchestrator) planner(gw api.Gateway) *decompose.Planner {
	var idx decompose.ToolIndex
	if o.deps.Tools != nil {
		idx = o.deps.Tools
	}
	return decompose.New(gw, idx, decompose.Config{
		MaxSteps:       o.deps.Config.MaxPlanningSteps,
		ThinkingBudget: o.deps.Config.PlanningThinkingBudget,
		Model:          o.deps.Config.Models.Pro,
	}, o.logger)
}

func (o *Orchestrator) worker(metrics *agent.OrchestratorMetrics) *agent.Worker {
	cfg := agent.WorkerConfig{
		Gateway:        o.deps.Gateway,
		Registry:       o.deps.Registry,
		Models:         o.deps.Config.Models,
		ThinkingBudget: o.deps.Config.WorkerThinkingBudget,
		Metrics:        metrics,
		Logger:         o.logger,
	}
	if o.deps.Tools != nil {
		cfg.Tools = o.deps.Tools
	}
	if o.deps.Metrics != nil {
		cfg.Observer = o.deps.Metrics
	}
	return agent.NewWorker(cfg)
}

// finish stops the clock, exports metrics and writes the ledger row.
func (o *Orchestrator) finish(ctx context.Context, report *RunReport, metrics *agent.OrchestratorMetrics, runErr error) {
	metrics.Finish()
	report.Metrics = metrics.Summary()
	report.Agents = metrics.Agents()
	report.Registry = o.deps.Registry.Stats()

	status := models.RunFailed
	if report.Response != nil {
		status = report.Response.Status
	}

	if o.deps.Metrics != nil {
		o.deps.Metrics.ObserveRun(report.Metrics, status)
	}

	if o.deps.Store != nil {
		// The run context may already be done; the ledger write must still happen.
		storeCtx := context.WithoutCancel(ctx)
		if err := o.deps.Store.RecordRun(storeCtx, ledgerRecord(report, status, runErr)); err != nil {
			o.logger.Warn("failed to record run", zap.String("run_id", report.RunID), zap.Error(err))
		}
	}

	o.deps.Events.Emit(OrchestratorEvent{
		Type:       EventRunDone,
		RunID:      report.RunID,
		Status:     string(status),
		Error:      runErr,
		TokensUsed: report.Metrics.TotalTokens,
		Cost:       report.Metrics.EstimatedCostUSD,
		Duration:   time.Duration(report.Metrics.DurationMS) * time.Millisecond,
	})
	o.logger.Info("run finished",
		zap.String("run_id", report.RunID),
		zap.String("status", string(status)),
		zap.Int64("tokens", report.Metrics.TotalTokens),
		zap.Float64("cost_usd", report.Metrics.EstimatedCostUSD))
}

func ledgerRecord(report *RunReport, status models.RunStatus, runErr error) state.RunRecord {
	ended := report.StartedAt.Add(time.Duration(report.Metrics.DurationMS) * time.Millisecond)
	rec := state.RunRecord{
		ID:             report.RunID,
		Goal:           report.Goal,
		Skill:          report.Skill,
		Status:         string(status),
		InputTokens:    report.Metrics.InputTokens,
		OutputTokens:   report.Metrics.OutputTokens,
		ThinkingTokens: report.Metrics.ThinkingTokens,
		Cost:           report.Metrics.EstimatedCostUSD,
		StartedAt:      report.StartedAt,
		EndedAt:        &ended,
	}
	if runErr != nil {
		rec.Error = runErr.Error()
	}
	if report.Response != nil {
		rec.Summary = report.Response.Summary
	}
	if report.Plan != nil {
		rec.Strategy = string(report.Plan.Strategy)
		if js, err := decompose.MarshalPlan(report.Plan); err == nil {
			rec.PlanJSON = js
		}
	}

	byTask := make(map[string]models.WorkerResult, len(report.Results))
	for _, r := range report.Results {
		byTask[r.TaskID] = r
	}
	for _, am := range report.Agents {
		res := byTask[am.TaskID]
		status := string(res.Status)
		if status == "" {
			status = string(am.Status)
		}
		rec.Workers = append(rec.Workers, state.WorkerRecord{
			AgentID:        am.AgentID,
			TaskID:         am.TaskID,
			AgentType:      string(am.AgentType),
			Status:         status,
			Confidence:     res.Confidence,
			Turns:          am.Turns,
			ToolCalls:      am.ToolCalls,
			InputTokens:    am.InputTokens,
			OutputTokens:   am.OutputTokens,
			ThinkingTokens: am.ThinkingTokens,
			DurationMS:     am.Duration().Milliseconds(),
			Error:          am.Error,
		})
	}
	return rec
}

func taskIDs(plan *models.TaskPlan) []string {
	ids := make([]string, len(plan.SubTasks))
	for i, st := range plan.SubTasks {
		ids[i] = st.ID
	}
	return ids
}

// meteredGateway charges planning and synthesis usage to the run.
type meteredGateway struct {
	inner   api.Gateway
	metrics *agent.OrchestratorMetrics
}

func (g *meteredGateway) Generate(ctx context.Context, req api.Request) (*api.Response, error) {
	resp, err := g.inner.Generate(ctx, req)
	if resp != nil {
		g.metrics.AddOverhead(resp.Usage.InputTokens, resp.Usage.OutputTokens, resp.Usage.ThinkingTokens)
	}
	return resp, err
}
