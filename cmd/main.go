package main

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "canvas-sync",
	Short: "Headless sync agent for a collaborative canvas",
	Long: `canvas-sync keeps one client's view of a shared canvas consistent with the
authoritative stroke log and serves the rendered frame to a presentation layer.

Without a subcommand it starts the server.`,
	SilenceUsage: true,
	RunE:         runServe,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
