// Package commands implements the wamux CLI.
package commands

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "wamux",
	Short: "WhatsApp session multiplexer",
	Long: `Wamux multiplexes many independent WhatsApp sessions, each backed by an
automated-browser runner process, behind a small HTTP API. It admits,
pairs, monitors and tears down sessions so callers only deal with keys
and messages.`,
}

func init() {
	RegisterLoggerFlags(rootCmd)

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(sessionsCmd)
	rootCmd.AddCommand(mcpCmd)
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}
