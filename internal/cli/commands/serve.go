package commands

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/aki/wamux/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the wamux service",
	Long: `Start the HTTP API, the pairing-timeout scheduler and the periodic
stale-session sweeper. Runs until interrupted; on shutdown every live
session is torn down so no runner processes are left behind.`,
	RunE: runServe,
}

var serveConfigFile string

func init() {
	serveCmd.Flags().StringVarP(&serveConfigFile, "config", "c", "", "Path to YAML config file")
}

func runServe(cmd *cobra.Command, args []string) error {
	log := CreateLogger()

	cfg, err := loadConfig(serveConfigFile)
	if err != nil {
		return err
	}

	mgr, err := buildManager(cfg, log)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Sessions from a previous process cannot be resumed; their leftovers
	// only block fresh pairing attempts.
	mgr.CleanStart(ctx)

	go mgr.Run(ctx)

	srv := server.New(cfg, mgr, server.WithLogger(log))
	if err := srv.Start(ctx); err != nil {
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	mgr.Shutdown(shutdownCtx)

	log.Info("wamux stopped")
	return nil
}
