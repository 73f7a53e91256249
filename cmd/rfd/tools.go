package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var toolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "List the tools workers can call",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(appOptions{})
		if err != nil {
			return err
		}
		defer a.Close()

		index := a.tools.Index()
		if jsonFlag {
			return printJSON(os.Stdout, index)
		}
		fmt.Println(headerStyle.Render(fmt.Sprintf("Tools (%d)", len(index))))
		for _, e := range index {
			fmt.Printf("  %-16s %s\n", e.Name, dimStyle.Render(e.Summary))
		}
		return nil
	},
}
