package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ShayCichocki/rfd/internal/agent"
	"github.com/ShayCichocki/rfd/internal/handoff"
	"github.com/ShayCichocki/rfd/internal/orchestrator"
	"github.com/ShayCichocki/rfd/internal/skills"
	"github.com/ShayCichocki/rfd/pkg/models"
)

var (
	forkType    string
	forkTurns   int
	forkLimit   int
	forkBestOf  int
	forkHandoff string
)

var forkCmd = &cobra.Command{
	Use:   "fork <prompt> [prompt...]",
	Short: "Run prompts in ephemeral workers without planning",
	Long: `Fork starts one fresh worker per prompt and prints each result. With
several prompts the workers run concurrently, at most --limit at a time.
Workers are deleted as soon as they finish.

With --best-of N the single prompt is solved N times, each worker steered
toward a different approach, and one judging call recommends the best answer.
With --handoff the prompt is prefixed by a summary of the given conversation
file, so the worker continues where that conversation left off.`,
	Example: `  rfd fork "list the exported functions in internal/tools"
  rfd fork --type research --limit 2 "summarize go.mod" "summarize Makefile"
  rfd fork --best-of 3 "write a function that deduplicates a sorted slice"
  rfd fork --handoff chat.json "write the tests we agreed on"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runFork,
}

func init() {
	forkCmd.Flags().StringVar(&forkType, "type", string(models.AgentTypeGeneral), "Agent type (code, research, analysis, creative, general)")
	forkCmd.Flags().IntVar(&forkTurns, "turns", skills.DefaultMaxTurns, "Maximum tool turns per worker")
	forkCmd.Flags().IntVar(&forkLimit, "limit", 3, "Maximum workers running at once")
	forkCmd.Flags().IntVar(&forkBestOf, "best-of", 0, fmt.Sprintf("Generate N candidate solutions (%d-%d) and recommend one", orchestrator.MinCandidates, len(orchestrator.ApproachHints)))
	forkCmd.Flags().StringVar(&forkHandoff, "handoff", "", "Conversation file (JSON or YAML) to summarize ahead of the prompt")
}

func runFork(cmd *cobra.Command, args []string) error {
	if forkTurns <= 0 {
		return fmt.Errorf("--turns must be positive, got %d", forkTurns)
	}
	if (forkHandoff != "" || forkBestOf != 0) && len(args) != 1 {
		return errors.New("--handoff and --best-of take exactly one prompt")
	}
	agentType := models.AgentType(forkType).Normalize()

	a, err := newApp(appOptions{gateway: true})
	if err != nil {
		return err
	}
	defer a.Close()

	if forkHandoff != "" {
		conv, err := handoff.LoadConversation(forkHandoff)
		if err != nil {
			return err
		}
		sum, err := a.summarizer(handoff.DefaultMaxTokens).Summarize(cmd.Context(), *conv, handoff.StyleStructured)
		if err != nil {
			return fmt.Errorf("summarize handoff: %w", err)
		}
		args = []string{handoff.ForkPrompt(sum, args[0])}
	}

	w := a.worker(nil)
	if forkBestOf != 0 {
		return runBestOf(cmd, a, w, args[0], agentType)
	}

	var results []models.WorkerResult
	if len(args) == 1 {
		results = []models.WorkerResult{w.Fork(cmd.Context(), args[0], agentType, forkTurns)}
	} else {
		results = w.Swarm(cmd.Context(), args, agentType, forkTurns, forkLimit)
	}

	if jsonFlag {
		return printJSON(os.Stdout, results)
	}
	failed := 0
	for i, res := range results {
		if i > 0 {
			fmt.Println()
		}
		printResult(res)
		if res.Status == models.WorkerFailed {
			failed++
		}
	}
	if failed == len(results) {
		return fmt.Errorf("all %d workers failed", failed)
	}
	return nil
}

func printResult(res models.WorkerResult) {
	st := workerRunStatus(string(res.Status))
	printStatus(statusSymbol(st), fmt.Sprintf("%s %s (confidence %.0f%%)", res.TaskID, res.Status, res.Confidence*100), statusColor(st))
	if res.Error != "" {
		fmt.Println(dimStyle.Render("  " + res.Error))
	}
	if res.Output != "" {
		fmt.Println(res.Output)
	}
}

func runBestOf(cmd *cobra.Command, a *app, w *agent.Worker, problem string, agentType models.AgentType) error {
	res, err := orchestrator.BestOfN(cmd.Context(), w, a.gateway, problem, orchestrator.BestOfNConfig{
		N:                   forkBestOf,
		MaxTurns:            forkTurns,
		Limit:               forkLimit,
		JudgeModel:          a.cfg.Models.Pro,
		JudgeThinkingBudget: a.cfg.Orchestrator.SynthesisThinkingBudget,
		AgentType:           agentType,
	}, a.logger)
	if res == nil {
		return err
	}
	if jsonFlag {
		if perr := printJSON(os.Stdout, res); perr != nil {
			return perr
		}
		return err
	}
	fmt.Print(renderBestOf(res, err == nil))
	return err
}

// renderBestOf lists every candidate and marks the recommended one.
func renderBestOf(res *orchestrator.BestOfNResult, picked bool) string {
	var sb strings.Builder
	for i, c := range res.Candidates {
		marker := " "
		if picked && i == res.Recommended {
			marker = "★"
		}
		st := workerRunStatus(string(c.Result.Status))
		fmt.Fprintf(&sb, "%s %s candidate %d: %s\n", marker, statusSymbol(st), i, c.Hint)
		if !c.Succeeded() {
			if c.Result.Error != "" {
				sb.WriteString(dimStyle.Render("    " + c.Result.Error))
				sb.WriteString("\n")
			}
			continue
		}
		if c.Approach != "" {
			sb.WriteString(dimStyle.Render(fmt.Sprintf("    %s (confidence %.0f%%)", c.Approach, c.Confidence*100)))
			sb.WriteString("\n")
		}
	}
	if !picked {
		return sb.String()
	}

	best := res.Best()
	sb.WriteString("\n")
	sb.WriteString(headerStyle.Render(fmt.Sprintf("Recommended: candidate %d", res.Recommended)))
	sb.WriteString("\n")
	if res.Reason != "" {
		sb.WriteString(kv("Reason", res.Reason))
		sb.WriteString("\n")
	}
	for _, t := range best.TradeOffs {
		sb.WriteString(dimStyle.Render("  trade-off: " + t))
		sb.WriteString("\n")
	}
	sb.WriteString("\n")
	sb.WriteString(best.Solution)
	sb.WriteString("\n")
	return sb.String()
}
