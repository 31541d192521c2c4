package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	clientcmd "github.com/mouimet-infinisoft/ibrain2024/internal/cmd/client"
	serverrun "github.com/mouimet-infinisoft/ibrain2024/internal/cmd/server"
	"github.com/mouimet-infinisoft/ibrain2024/internal/config"
	pebblestore "github.com/mouimet-infinisoft/ibrain2024/internal/storage/pebble"
)

func main() {
	// .env is optional; real env always wins over it
	_ = godotenv.Load()

	rootCmd := &cobra.Command{
		Use:   "ibrain",
		Short: "ibrain conversational runtime CLI",
		Long:  "ibrain runs the conversation server and talks to it over its HTTP API.",
	}

	serverCmd := &cobra.Command{Use: "server", Short: "Server commands"}
	serverStartCmd := &cobra.Command{
		Use:     "start",
		Short:   "Start the ibrain server",
		Aliases: []string{"run"},
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath, _ := cmd.Flags().GetString("config")
			dataDir, _ := cmd.Flags().GetString("data-dir")
			httpAddr, _ := cmd.Flags().GetString("http")
			fsyncMode, _ := cmd.Flags().GetString("fsync")
			fsyncIntervalMs, _ := cmd.Flags().GetInt("fsync-interval-ms")
			logLevel, _ := cmd.Flags().GetString("log-level")
			logFormat, _ := cmd.Flags().GetString("log-format")
			contextTTL, _ := cmd.Flags().GetDuration("context-ttl")
			filterExpr, _ := cmd.Flags().GetString("event-filter")

			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if dataDir != "" {
				cfg.DataDir = dataDir
			}
			if httpAddr != "" {
				cfg.HTTPAddr = httpAddr
			}
			if logLevel != "" {
				cfg.LogLevel = logLevel
			}
			if logFormat != "" {
				cfg.LogFormat = logFormat
			}
			if contextTTL > 0 {
				cfg.Conversation.IdleTTL = contextTTL
			}
			if fsyncMode != "" {
				cfg.FsyncMode = fsyncMode
			}
			mode, err := pebblestore.ParseFsyncMode(cfg.FsyncMode)
			if err != nil {
				return fmt.Errorf("invalid --fsync; use always|interval|never")
			}

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			if err := serverrun.Run(ctx, serverrun.Options{
				DataDir:       cfg.DataDir,
				HTTPAddr:      cfg.HTTPAddr,
				Fsync:         mode,
				FsyncInterval: time.Duration(fsyncIntervalMs) * time.Millisecond,
				FilterExpr:    filterExpr,
				Config:        cfg,
			}); err != nil {
				return fmt.Errorf("server error: %w", err)
			}
			return nil
		},
	}
	serverStartCmd.Flags().String("config", "", "Path to JSON config file")
	serverStartCmd.Flags().String("data-dir", "", "Data directory (default: OS application data directory)")
	serverStartCmd.Flags().String("http", "", "HTTP listen address (default :8080)")
	serverStartCmd.Flags().String("fsync", "", "Fsync mode: always|interval|never")
	serverStartCmd.Flags().Int("fsync-interval-ms", 5, "When --fsync=interval, group-commit window in ms")
	serverStartCmd.Flags().String("log-level", os.Getenv("IBRAIN_LOG_LEVEL"), "Log level: debug|info|warn|error")
	serverStartCmd.Flags().String("log-format", os.Getenv("IBRAIN_LOG_FORMAT"), "Log format: json|text")
	serverStartCmd.Flags().Duration("context-ttl", 0, "Idle conversation eviction TTL (default 30m)")
	serverStartCmd.Flags().String("event-filter", "", "CEL expression limiting mirrored lifecycle events")
	serverCmd.AddCommand(serverStartCmd)
	rootCmd.AddCommand(serverCmd)

	rootCmd.AddCommand(clientcmd.NewMessageCommand(apiURL))
	rootCmd.AddCommand(clientcmd.NewTaskCommand(apiURL))
	rootCmd.AddCommand(clientcmd.NewWorkflowCommand(apiURL))

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func apiURL() string {
	if v := os.Getenv("IBRAIN_HTTP"); v != "" {
		return v
	}
	return "http://127.0.0.1:8080"
}
