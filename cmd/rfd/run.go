package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ShayCichocki/rfd/internal/metrics"
	"github.com/ShayCichocki/rfd/internal/orchestrator"
	"github.com/ShayCichocki/rfd/internal/tui"
	"github.com/ShayCichocki/rfd/pkg/models"
)

var (
	runContext     string
	runTools       string
	runStrategy    string
	runNoSkills    bool
	runMetricsAddr string
	runEvents      bool
	runTUI         bool
)

var runCmd = &cobra.Command{
	Use:   "run <goal>",
	Short: "Plan, execute and synthesize a goal",
	Long: `Run sends the goal to the planner, executes the resulting sub-tasks in
fresh workers, and synthesizes their outputs into one response.

A skill whose trigger appears in the goal is loaded into the planning context
unless --no-skills is set. Every run is recorded in the local run history.`,
	Example: `  rfd run "audit the auth package for unchecked errors"
  rfd run --strategy parallel --tools read_file,grep_files "summarize every README"
  rfd run --events --metrics-addr :9090 "profile the build"
  rfd run --tui "compare the three storage backends"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringVar(&runContext, "context", "", "Background shared with the planner and every worker")
	runCmd.Flags().StringVar(&runTools, "tools", "", "Comma-separated tools workers may call (default: all)")
	runCmd.Flags().StringVar(&runStrategy, "strategy", "", "Override the execution strategy (sequential, parallel, hybrid)")
	runCmd.Flags().BoolVar(&runNoSkills, "no-skills", false, "Disable skill detection")
	runCmd.Flags().StringVar(&runMetricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address while the run is active")
	runCmd.Flags().BoolVar(&runEvents, "events", false, "Print progress events while the run executes")
	runCmd.Flags().BoolVar(&runTUI, "tui", false, "Show a live full-screen view of the run (log lines go only to logging.file)")
	runCmd.MarkFlagsMutuallyExclusive("events", "tui")
}

func runRun(cmd *cobra.Command, args []string) error {
	goal := strings.Join(args, " ")

	strategy := models.ExecutionStrategy(runStrategy)
	if runStrategy != "" && !strategy.Valid() {
		return fmt.Errorf("invalid --strategy %q: expected sequential, parallel or hybrid", runStrategy)
	}

	useTUI := runTUI && !jsonFlag
	a, err := newApp(appOptions{gateway: true, store: true, quiet: useTUI})
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if a.cfg.Skills.Watch {
		if err := a.skills.Watch(ctx); err != nil {
			a.logger.Warn("skill watcher disabled", zap.Error(err))
		}
	}

	if runMetricsAddr != "" {
		shutdown := serveMetrics(a, runMetricsAddr)
		defer shutdown()
	}

	var events *orchestrator.EventEmitter
	if (runEvents || useTUI) && !jsonFlag {
		events = orchestrator.NewEventEmitter(256, a.logger)
	}

	orch, err := a.orchestrator(events)
	if err != nil {
		return err
	}

	opts := orchestrator.RunOptions{
		Context:    runContext,
		Tools:      splitList(runTools),
		Strategy:   strategy,
		SkipSkills: runNoSkills,
	}

	var (
		report *orchestrator.RunReport
		runErr error
	)
	switch {
	case useTUI:
		report, runErr = runWithTUI(ctx, stop, orch, events, goal, opts)
	case events != nil:
		done := make(chan struct{})
		go func() {
			defer close(done)
			for e := range events.Events() {
				printEvent(e)
			}
		}()
		report, runErr = orch.Run(ctx, goal, opts)
		events.Close()
		<-done
	default:
		report, runErr = orch.Run(ctx, goal, opts)
	}

	if report == nil {
		return runErr
	}
	if jsonFlag {
		if err := printJSON(os.Stdout, report); err != nil {
			return err
		}
	} else {
		fmt.Println(renderReport(report))
	}
	if runErr != nil {
		return runErr
	}
	if report.Response != nil && report.Response.Status == models.RunFailed {
		return errors.New("run failed")
	}
	return nil
}

// runWithTUI runs the orchestrator in the background while the live view
// owns the terminal. Quitting the view cancels the run.
func runWithTUI(ctx context.Context, cancel context.CancelFunc, orch *orchestrator.Orchestrator, events *orchestrator.EventEmitter, goal string, opts orchestrator.RunOptions) (*orchestrator.RunReport, error) {
	type outcome struct {
		report *orchestrator.RunReport
		err    error
	}
	finished := make(chan outcome, 1)
	go func() {
		report, err := orch.Run(ctx, goal, opts)
		events.Close()
		finished <- outcome{report, err}
	}()

	view := tui.NewRunView(goal, events.Events(), cancel)
	_, viewErr := tui.NewRunProgram(view).Run()
	if viewErr != nil {
		cancel()
	}
	// The view may exit early; keep draining so the run never waits on Emit.
	go func() {
		for range events.Events() {
		}
	}()
	out := <-finished
	if viewErr != nil {
		return out.report, errors.Join(fmt.Errorf("live view: %w", viewErr), out.err)
	}
	return out.report, out.err
}

// serveMetrics exposes the app's registry until the returned func is called.
func serveMetrics(a *app, addr string) func() {
	srv := &http.Server{
		Addr:              addr,
		Handler:           metricsMux(a),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Warn("metrics server stopped", zap.Error(err))
		}
	}()
	a.logger.Info("serving metrics", zap.String("addr", addr))
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}

func metricsMux(a *app) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(a.promRegistry))
	return mux
}

func printEvent(e orchestrator.OrchestratorEvent) {
	switch e.Type {
	case orchestrator.EventSkillMatched:
		printStatus("◆", "skill "+e.Message, color.FgMagenta)
	case orchestrator.EventPlanReady:
		printStatus("◆", "plan ready: "+e.Message, color.FgCyan)
	case orchestrator.EventRoundStarted:
		printStatus("▸", fmt.Sprintf("round %d: %s", e.Round, strings.Join(e.TaskIDs, ", ")), color.FgCyan)
	case orchestrator.EventTaskStarted:
		printStatus("→", fmt.Sprintf("%s [%s] %s", e.TaskID, e.AgentType, e.Message), color.FgBlue)
	case orchestrator.EventTaskCompleted:
		printStatus(statusSymbol(workerRunStatus(e.Status)),
			e.TaskID+" "+e.Status,
			statusColor(workerRunStatus(e.Status)))
	case orchestrator.EventTaskFailed:
		msg := e.TaskID + " failed"
		if e.Error != nil {
			msg += ": " + e.Error.Error()
		} else if e.Message != "" {
			msg += ": " + e.Message
		}
		printStatus("✗", msg, color.FgRed)
	case orchestrator.EventAgentProgress:
		fmt.Println(dimStyle.Render(fmt.Sprintf("  %s calls %s", e.TaskID, e.Message)))
	case orchestrator.EventDeadlock:
		printStatus("!", "deadlock: "+strings.Join(e.TaskIDs, ", "), color.FgRed)
	case orchestrator.EventRunDone:
		printStatus(statusSymbol(e.Status),
			fmt.Sprintf("run %s: %s tokens, $%.4f, %s", e.Status, formatNumber(e.TokensUsed), e.Cost, formatDuration(e.Duration)),
			statusColor(e.Status))
	}
}

// splitList splits a comma-separated flag value, dropping blanks.
func splitList(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
