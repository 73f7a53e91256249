package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/ShayCichocki/rfd/internal/state"
)

var (
	historyLimit     int
	historyOlderThan time.Duration
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Browse recorded runs",
}

var historyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent runs, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(appOptions{store: true})
		if err != nil {
			return err
		}
		defer a.Close()

		runs, err := a.db.ListRuns(cmd.Context(), historyLimit)
		if err != nil {
			return err
		}
		if jsonFlag {
			return printJSON(os.Stdout, runs)
		}
		if len(runs) == 0 {
			fmt.Println(dimStyle.Render("No runs recorded yet"))
			return nil
		}
		for _, r := range runs {
			fmt.Printf("%s %s  %-8s %s\n",
				statusSymbol(r.Status),
				dimStyle.Render(r.StartedAt.Local().Format("2006-01-02 15:04")),
				colorStatus(r.Status),
				r.Goal)
			fmt.Println(dimStyle.Render(fmt.Sprintf("    %s  %s tokens  $%.4f",
				r.ID, formatNumber(r.InputTokens+r.OutputTokens+r.ThinkingTokens), r.Cost)))
		}
		return nil
	},
}

var historyShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show one run with its workers",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(appOptions{store: true})
		if err != nil {
			return err
		}
		defer a.Close()

		r, err := a.db.GetRun(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if jsonFlag {
			return printJSON(os.Stdout, r)
		}
		fmt.Print(renderRunRecord(r))
		return nil
	},
}

var historyPurgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete runs older than a duration",
	RunE: func(cmd *cobra.Command, args []string) error {
		if historyOlderThan <= 0 {
			return fmt.Errorf("--older-than must be positive")
		}
		a, err := newApp(appOptions{store: true})
		if err != nil {
			return err
		}
		defer a.Close()

		n, err := a.db.PurgeOldRuns(historyOlderThan)
		if err != nil {
			return err
		}
		fmt.Printf("Purged %d run(s)\n", n)
		return nil
	},
}

func renderRunRecord(r *state.RunRecord) string {
	var body string
	body += kv("Run", r.ID) + "\n"
	body += kv("Goal", r.Goal) + "\n"
	body += kv("Status", colorStatus(r.Status)) + "\n"
	if r.Skill != "" {
		body += kv("Skill", r.Skill) + "\n"
	}
	if r.Strategy != "" {
		body += kv("Strategy", r.Strategy) + "\n"
	}
	body += kv("Started", r.StartedAt.Local().Format(time.RFC1123)) + "\n"
	if r.EndedAt != nil {
		body += kv("Duration", formatDuration(r.EndedAt.Sub(r.StartedAt))) + "\n"
	}
	body += kv("Tokens", fmt.Sprintf("%s in / %s out / %s thinking",
		formatNumber(r.InputTokens), formatNumber(r.OutputTokens), formatNumber(r.ThinkingTokens))) + "\n"
	body += kv("Cost", fmt.Sprintf("$%.4f", r.Cost))

	out := boxStyle.Render(body) + "\n\n"
	if r.Error != "" {
		out += headerStyle.Render("Error") + "\n" + r.Error + "\n\n"
	}
	if r.Summary != "" {
		out += headerStyle.Render("Summary") + "\n" + r.Summary + "\n\n"
	}
	if len(r.Workers) > 0 {
		out += headerStyle.Render("Workers") + "\n"
		for _, w := range r.Workers {
			st := workerRunStatus(w.Status)
			out += fmt.Sprintf("  %s %-12s %-9s %d turns, %d tools, %s\n",
				statusSymbol(st), w.TaskID, w.AgentType, w.Turns, w.ToolCalls,
				formatDuration(time.Duration(w.DurationMS)*time.Millisecond))
			if w.Error != "" {
				out += dimStyle.Render("      "+w.Error) + "\n"
			}
		}
	}
	return out
}

func init() {
	historyListCmd.Flags().IntVar(&historyLimit, "limit", 20, "Maximum runs to list")
	historyPurgeCmd.Flags().DurationVar(&historyOlderThan, "older-than", 30*24*time.Hour, "Delete runs started before this long ago")

	historyCmd.AddCommand(historyListCmd)
	historyCmd.AddCommand(historyShowCmd)
	historyCmd.AddCommand(historyPurgeCmd)
}
