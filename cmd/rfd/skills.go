package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ShayCichocki/rfd/internal/skills"
)

var skillsTurns int

var skillsCmd = &cobra.Command{
	Use:   "skills",
	Short: "Inspect and run skills",
	Long: `Skills are directories under skills.dir holding a SKILL.md file with YAML
front matter (name, description, triggers) and markdown instructions.`,
}

var skillsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List discovered skills",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(appOptions{})
		if err != nil {
			return err
		}
		defer a.Close()

		list := a.skills.List()
		if jsonFlag {
			return printJSON(os.Stdout, list)
		}
		if len(list) == 0 {
			fmt.Println(dimStyle.Render("No skills found in " + a.skills.Dir()))
			return nil
		}
		fmt.Println(headerStyle.Render(fmt.Sprintf("Skills (%d)", len(list))))
		for _, md := range list {
			fmt.Printf("  %-20s %s\n", md.Name, md.Description)
			if len(md.Triggers) > 0 {
				fmt.Println(dimStyle.Render("  " + strings.Repeat(" ", 20) + " triggers: " + strings.Join(md.Triggers, ", ")))
			}
		}
		return nil
	},
}

var skillsShowCmd = &cobra.Command{
	Use:   "show <name>",
	Short: "Show a skill's instructions, workflow and resources",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(appOptions{})
		if err != nil {
			return err
		}
		defer a.Close()

		skill, err := a.skills.LoadFull(args[0])
		if err != nil {
			return err
		}
		if jsonFlag {
			return printJSON(os.Stdout, skill)
		}
		fmt.Println(headerStyle.Render(skill.Name))
		fmt.Println(dimStyle.Render(skill.Path))
		fmt.Println()
		fmt.Println(skills.SystemInstruction(skill))
		if len(skill.Workflow) > 0 {
			fmt.Println(headerStyle.Render("Workflow"))
			for i, step := range skill.Workflow {
				fmt.Printf("  %d. %s\n", i+1, step)
			}
		}
		return nil
	},
}

var skillsDetectCmd = &cobra.Command{
	Use:   "detect <input>",
	Short: "Show which skill, if any, an input would trigger",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(appOptions{})
		if err != nil {
			return err
		}
		defer a.Close()

		skill, err := a.skills.Detect(strings.Join(args, " "))
		if err != nil {
			return err
		}
		if skill == nil {
			fmt.Println(dimStyle.Render("no skill matched"))
			return nil
		}
		fmt.Println(skill.Name)
		return nil
	},
}

var skillsExecCmd = &cobra.Command{
	Use:   "exec <name> <input>",
	Short: "Run a skill directly in one ephemeral worker",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(appOptions{gateway: true})
		if err != nil {
			return err
		}
		defer a.Close()

		res, err := a.skills.Execute(cmd.Context(), args[0], strings.Join(args[1:], " "), skillsTurns)
		if err != nil {
			return err
		}
		if jsonFlag {
			return printJSON(os.Stdout, res)
		}
		printResult(res)
		return nil
	},
}

func init() {
	skillsExecCmd.Flags().IntVar(&skillsTurns, "turns", skills.DefaultMaxTurns, "Maximum tool turns")

	skillsCmd.AddCommand(skillsListCmd)
	skillsCmd.AddCommand(skillsShowCmd)
	skillsCmd.AddCommand(skillsDetectCmd)
	skillsCmd.AddCommand(skillsExecCmd)
}
