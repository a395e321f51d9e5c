package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"clipsync/internal/config"
	"clipsync/internal/filetransfer"
	"clipsync/internal/heartbeat"
	"clipsync/internal/httpapi"
	"clipsync/internal/logging"
	"clipsync/internal/metrics"
	"clipsync/internal/reaper"
	"clipsync/internal/session"
	"clipsync/internal/ws"
)

func newServeCmd() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the ClipSync relay server",
		Long: `Starts the ClipSync relay: GET /pair mints pairing credentials, then
both the desktop and mobile side authenticate onto the same session at
GET /connect and exchange clipboard and file-transfer frames over that
duplex connection.

Flags, environment variables, and config-file keys
  Flag                     Env var                   Config key
  ──────────────────────────────────────────────────────────────────────
  --port                   PORT                      port
  --chunk-size             CHUNK_SIZE                chunk-size
  --max-file-size          MAX_FILE_SIZE             max-file-size
  --max-simultaneous-files MAX_SIMULTANEOUS_FILES    max-simultaneous-files
  --chunk-retry-limit      CHUNK_RETRY_LIMIT         chunk-retry-limit
  --file-cleanup-timeout   FILE_CLEANUP_TIMEOUT      file-cleanup-timeout
  --pair-cleanup-timeout   PAIR_CLEANUP_TIMEOUT      pair-cleanup-timeout
  --heartbeat-interval     HEARTBEAT_INTERVAL        heartbeat-interval
  --debug                  DEBUG                     debug
  --log-format             (flag only)               log-format

Config file search order: /etc/clipsync/clipsync.{toml,yaml,json,...}, then ./.

Precedence: defaults → config file → bare env vars → CLI flags`,
		Args:    cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, _ []string) error { return config.Bind(cmd, v) },
		RunE:    func(_ *cobra.Command, _ []string) error { return runServe(v) },
	}

	config.BindFlags(cmd)
	return cmd
}

func runServe(v *viper.Viper) error {
	cfg := config.FromViper(v)
	logging.Setup(logging.ParseFormat(cfg.LogFormat), cfg.Debug)

	slog.Info("clipsync relay starting",
		"port", cfg.Port,
		"chunk_size", cfg.ChunkSize,
		"max_file_size", cfg.MaxFileSize,
		"max_simultaneous_files", cfg.MaxSimultaneousFiles,
	)

	registry := session.NewRegistry()

	promReg := prometheus.NewRegistry()
	m := metrics.New(promReg)

	engine := filetransfer.New(cfg.ChunkSize, cfg.MaxFileSize, cfg.MaxSimultaneousFiles, cfg.ChunkRetryLimit, m)
	wsHandler := ws.NewHandler(registry, engine)
	server := httpapi.New(registry, wsHandler, cfg.MintTTL, promReg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go heartbeat.Run(ctx, registry, m, cfg.HeartbeatInterval)
	go reaper.Run(ctx, registry, cfg.FileCleanupTimeout, cfg.PairCleanupTimeout, 60*time.Second)

	addr := fmt.Sprintf(":%d", cfg.Port)
	if err := server.Run(ctx, addr); err != nil {
		return fmt.Errorf("serve: %w", err)
	}
	return nil
}
