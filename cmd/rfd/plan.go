package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

var planContext string

var planCmd = &cobra.Command{
	Use:   "plan <goal>",
	Short: "Show the plan for a goal without running it",
	Long: `Plan asks the planner to decompose the goal and prints the validated
sub-task graph together with its quality score. No workers are started and
nothing is recorded in the run history.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(appOptions{gateway: true})
		if err != nil {
			return err
		}
		defer a.Close()

		orch, err := a.orchestrator(nil)
		if err != nil {
			return err
		}
		plan, err := orch.Plan(cmd.Context(), strings.Join(args, " "), planContext)
		if err != nil {
			return err
		}
		if jsonFlag {
			return printJSON(os.Stdout, plan)
		}
		fmt.Print(renderPlan(plan))
		return nil
	},
}

func init() {
	planCmd.Flags().StringVar(&planContext, "context", "", "Background shared with the planner")
}
