package main

import (
	"fmt"
	"math"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/ShayCichocki/rfd/internal/agent"
	"github.com/ShayCichocki/rfd/internal/api"
	"github.com/ShayCichocki/rfd/internal/config"
	"github.com/ShayCichocki/rfd/internal/handoff"
	"github.com/ShayCichocki/rfd/internal/logging"
	"github.com/ShayCichocki/rfd/internal/metrics"
	"github.com/ShayCichocki/rfd/internal/orchestrator"
	"github.com/ShayCichocki/rfd/internal/skills"
	"github.com/ShayCichocki/rfd/internal/state"
	"github.com/ShayCichocki/rfd/internal/tools"
)

// appOptions selects which collaborators a command needs.
type appOptions struct {
	gateway bool
	store   bool
	// quiet keeps log lines off stderr while a full-screen view owns it.
	quiet bool
}

// app is the wiring shared by every command.
type app struct {
	cfg      *config.Config
	logger   *zap.Logger
	closeLog func()

	gateway  api.Gateway
	tools    *tools.Registry
	registry *agent.Registry
	skills   *skills.Manager
	db       *state.DB

	promRegistry *prometheus.Registry
	metrics      *metrics.Metrics
}

func newApp(opts appOptions) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	level := cfg.Logging.Level
	if logLevelFlag != "" {
		level = logLevelFlag
	}
	var logOpts []logging.Option
	if opts.quiet {
		logOpts = append(logOpts, logging.WithoutConsole())
	}
	logger, closeLog, err := logging.New(level, cfg.Logging.File, logOpts...)
	if err != nil {
		return nil, fmt.Errorf("create logger: %w", err)
	}

	a := &app{
		cfg:          cfg,
		logger:       logger,
		closeLog:     closeLog,
		registry:     agent.NewRegistry(logger),
		promRegistry: prometheus.NewRegistry(),
	}

	if a.metrics, err = metrics.New(a.promRegistry); err != nil {
		a.Close()
		return nil, err
	}

	if a.tools, err = tools.NewBuiltinRegistry(cfg.Workspace.Root, logger); err != nil {
		a.Close()
		return nil, fmt.Errorf("create tool registry: %w", err)
	}

	if opts.gateway {
		if a.gateway, err = newGateway(cfg); err != nil {
			a.Close()
			return nil, err
		}
	}

	skillOpts := []skills.Option{skills.WithLogger(logger)}
	if a.gateway != nil {
		skillOpts = append(skillOpts, skills.WithRunner(a.worker(nil)))
	}
	if a.skills, err = skills.NewManager(cfg.Skills.Dir, skillOpts...); err != nil {
		a.Close()
		return nil, fmt.Errorf("load skills: %w", err)
	}

	if opts.store {
		if a.db, err = openStore(cfg); err != nil {
			a.Close()
			return nil, err
		}
	}
	return a, nil
}

func newGateway(cfg *config.Config) (api.Gateway, error) {
	if err := config.CheckCredentials(cfg); err != nil {
		return nil, fmt.Errorf("%w (set ANTHROPIC_API_KEY or anthropic.use_bedrock)", err)
	}
	key, _ := config.GetAPIKey(cfg)
	client, err := api.NewClient(api.ClientConfig{
		Model:         anthropic.Model(cfg.Models.Pro),
		APIKey:        key,
		UseAWSBedrock: cfg.Anthropic.UseBedrock,
		AWSRegion:     cfg.Anthropic.AWSRegion,
		AWSProfile:    cfg.Anthropic.AWSProfile,
	})
	if err != nil {
		return nil, fmt.Errorf("create API client: %w", err)
	}
	if rps := cfg.Anthropic.RequestsPerSecond; rps > 0 {
		burst := int(math.Ceil(rps))
		return api.WithRateLimit(client, rps, burst), nil
	}
	return client, nil
}

func openStore(cfg *config.Config) (*state.DB, error) {
	path := cfg.State.Path
	if path == "" {
		path = state.DefaultPath()
	}
	db, err := state.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open run history: %w", err)
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate run history: %w", err)
	}
	return db, nil
}

// Close releases the database and flushes the logger.
func (a *app) Close() {
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.Warn("close run history", zap.Error(err))
		}
	}
	if a.closeLog != nil {
		a.closeLog()
	}
}

func (a *app) models() agent.Models {
	return agent.Models{Pro: a.cfg.Models.Pro, Flash: a.cfg.Models.Flash}
}

// worker builds a worker outside any orchestrated run.
func (a *app) worker(runMetrics *agent.OrchestratorMetrics) *agent.Worker {
	return agent.NewWorker(agent.WorkerConfig{
		Gateway:        a.gateway,
		Tools:          a.tools,
		Registry:       a.registry,
		Models:         a.models(),
		ThinkingBudget: a.cfg.Orchestrator.WorkerThinkingBudget,
		Metrics:        runMetrics,
		Observer:       a.metrics,
		Logger:         a.logger,
	})
}

// summarizer builds a handoff summarizer on the flash model.
func (a *app) summarizer(maxTokens int) *handoff.Summarizer {
	return handoff.NewSummarizer(a.gateway, handoff.Config{
		Model:          a.cfg.Models.Flash,
		ThinkingBudget: a.cfg.Orchestrator.WorkerThinkingBudget,
		MaxTokens:      maxTokens,
	}, a.logger)
}

func (a *app) orchestrator(events *orchestrator.EventEmitter) (*orchestrator.Orchestrator, error) {
	oc := a.cfg.Orchestrator
	deps := orchestrator.Deps{
		Gateway:  a.gateway,
		Registry: a.registry,
		Tools:    a.tools,
		Skills:   a.skills,
		Logger:   a.logger,
		Metrics:  a.metrics,
		Events:   events,
		Config: orchestrator.Config{
			MaxConcurrent:           oc.MaxConcurrent,
			MaxPlanningSteps:        oc.MaxPlanningSteps,
			MaxToolTurns:            oc.MaxToolTurns,
			PlanningThinkingBudget:  oc.PlanningThinkingBudget,
			SynthesisThinkingBudget: oc.SynthesisThinkingBudget,
			WorkerThinkingBudget:    oc.WorkerThinkingBudget,
			RunTimeout:              oc.RunTimeout,
			Models:                  a.models(),
			Pricing:                 a.cfg.Pricing.ToModels(),
		},
	}
	// A nil *state.DB inside the interface would not compare equal to nil.
	if a.db != nil {
		deps.Store = a.db
	}
	return orchestrator.New(deps)
}
