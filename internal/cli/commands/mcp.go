package commands

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/aki/wamux/internal/mcp"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the session manager over MCP stdio",
	Long: `Run a standalone Model Context Protocol server: an MCP client drives
sessions directly (init, status, send, disconnect) without going through
the HTTP API. The process owns its own session pool.`,
	RunE: runMCP,
}

var mcpConfigFile string

func init() {
	mcpCmd.Flags().StringVarP(&mcpConfigFile, "config", "c", "", "Path to YAML config file")
}

func runMCP(cmd *cobra.Command, args []string) error {
	log := CreateLogger()

	cfg, err := loadConfig(mcpConfigFile)
	if err != nil {
		return err
	}

	mgr, err := buildManager(cfg, log)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mgr.CleanStart(ctx)
	go mgr.Run(ctx)

	srv := mcp.NewServer(mgr, Version)
	err = srv.Start(ctx)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	mgr.Shutdown(shutdownCtx)

	return err
}
