package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "blueflow",
	Short: "Blueflow runs conversation flows as a Telegram bot",
	Long: `Blueflow loads a flow graph from a JSON or YAML file, validates it against the
registered node behaviors and walks every chat through it.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
