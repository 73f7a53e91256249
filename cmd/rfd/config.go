package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ShayCichocki/rfd/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config [key]",
	Short: "Show the effective configuration",
	Long: `Display the configuration after merging the user file, the project
.rfd.yaml and RFD_* environment variables.

Without arguments, displays every key. With one argument, displays the value
for that dot-notation key. The API key is always masked.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		entries := configEntries(cfg)

		if len(args) == 1 {
			key := strings.ToLower(args[0])
			for _, e := range entries {
				if e.key == key {
					fmt.Println(e.value)
					return nil
				}
			}
			return fmt.Errorf("unknown configuration key: %s", args[0])
		}

		if jsonFlag {
			out := make(map[string]string, len(entries))
			for _, e := range entries {
				out[e.key] = e.value
			}
			return printJSON(os.Stdout, out)
		}
		for _, e := range entries {
			fmt.Printf("%s: %s\n", e.key, e.value)
		}
		fmt.Println()
		fmt.Println(dimStyle.Render("user config:    " + config.GetUserConfigPath()))
		if p := config.GetProjectConfigPath(); p != "" {
			fmt.Println(dimStyle.Render("project config: " + p))
		}
		return nil
	},
}

type configEntry struct {
	key   string
	value string
}

// configEntries flattens the config into display order.
func configEntries(cfg *config.Config) []configEntry {
	key, _ := config.GetAPIKey(cfg)
	ftoa := func(f float64) string { return strconv.FormatFloat(f, 'f', -1, 64) }
	o := cfg.Orchestrator

	return []configEntry{
		{"anthropic.api_key", config.MaskAPIKey(key)},
		{"anthropic.key_source", string(config.GetAPIKeySource(cfg))},
		{"anthropic.use_bedrock", strconv.FormatBool(cfg.Anthropic.UseBedrock)},
		{"anthropic.aws_region", cfg.Anthropic.AWSRegion},
		{"anthropic.aws_profile", cfg.Anthropic.AWSProfile},
		{"anthropic.requests_per_second", ftoa(cfg.Anthropic.RequestsPerSecond)},
		{"models.pro", cfg.Models.Pro},
		{"models.flash", cfg.Models.Flash},
		{"orchestrator.max_concurrent", strconv.Itoa(o.MaxConcurrent)},
		{"orchestrator.max_planning_steps", strconv.Itoa(o.MaxPlanningSteps)},
		{"orchestrator.max_tool_turns", strconv.Itoa(o.MaxToolTurns)},
		{"orchestrator.planning_thinking_budget", strconv.Itoa(o.PlanningThinkingBudget)},
		{"orchestrator.synthesis_thinking_budget", strconv.Itoa(o.SynthesisThinkingBudget)},
		{"orchestrator.worker_thinking_budget", strconv.Itoa(o.WorkerThinkingBudget)},
		{"orchestrator.run_timeout", o.RunTimeout.String()},
		{"workspace.root", cfg.Workspace.Root},
		{"skills.dir", cfg.Skills.Dir},
		{"skills.watch", strconv.FormatBool(cfg.Skills.Watch)},
		{"logging.level", cfg.Logging.Level},
		{"logging.file", cfg.Logging.File},
		{"state.path", cfg.State.Path},
		{"pricing.input_per_million", ftoa(cfg.Pricing.InputPerMillion)},
		{"pricing.output_per_million", ftoa(cfg.Pricing.OutputPerMillion)},
		{"pricing.thinking_per_million", ftoa(cfg.Pricing.ThinkingPerMillion)},
	}
}
