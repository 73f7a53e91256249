package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ShayCichocki/rfd/internal/version"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("rfd version %s\n", version.String())
	},
}
