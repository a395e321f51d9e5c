// Package config resolves ClipSync's runtime settings from environment
// variables, an optional config file, and CLI flags.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Config holds every tunable named in the server's external interface.
type Config struct {
	Port                 int
	ChunkSize            int64
	MaxFileSize          int64
	MaxSimultaneousFiles int
	ChunkRetryLimit      int
	FileCleanupTimeout   time.Duration
	PairCleanupTimeout   time.Duration
	HeartbeatInterval    time.Duration
	MintTTL              time.Duration
	Debug                bool
	LogFormat            string
}

const (
	defaultPort                 = 5050
	defaultChunkSize            = 64 * 1024
	defaultMaxFileSize          = 5 * 1024 * 1024 * 1024
	defaultMaxSimultaneousFiles = 5
	defaultChunkRetryLimit      = 3
	defaultFileCleanupTimeout   = 30 * time.Minute
	defaultPairCleanupTimeout   = 12 * time.Hour
	defaultHeartbeatInterval    = 30 * time.Second
	defaultMintTTL              = 2 * time.Minute
)

// BindFlags registers the flags runServe understands. Values come from,
// in increasing precedence: built-in defaults, a config file, bare
// (unprefixed) environment variables, then these flags.
func BindFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.Int("port", defaultPort, "HTTP/WebSocket listen port")
	f.Int64("chunk-size", defaultChunkSize, "assumed bytes per file chunk when totalSize is absent")
	f.Int64("max-file-size", defaultMaxFileSize, "maximum accepted file transfer size, in bytes")
	f.Int("max-simultaneous-files", defaultMaxSimultaneousFiles, "max non-completed file transfers per pair")
	f.Int("chunk-retry-limit", defaultChunkRetryLimit, "chunk relay attempts before pausing the transfer")
	f.Duration("file-cleanup-timeout", defaultFileCleanupTimeout, "idle time before a file record is reaped")
	f.Duration("pair-cleanup-timeout", defaultPairCleanupTimeout, "idle time before an empty pair is reaped")
	f.Duration("heartbeat-interval", defaultHeartbeatInterval, "ping interval for liveness checks")
	f.Bool("debug", false, "enable verbose logging")
	f.String("log-format", "auto", "log format: auto|text|json")
}

// Bind wires viper to the command: SetEnvKeyReplacer-free bare env var names
// (PORT, CHUNK_SIZE, ...) as spec'd, a config file, then cmd's flags.
func Bind(cmd *cobra.Command, v *viper.Viper) error {
	v.SetConfigName("clipsync")
	v.AddConfigPath("/etc/clipsync")
	v.AddConfigPath(".")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("config: %w", err)
		}
	}

	v.AutomaticEnv()
	bind := map[string]string{
		"port":                   "PORT",
		"chunk-size":             "CHUNK_SIZE",
		"max-file-size":          "MAX_FILE_SIZE",
		"max-simultaneous-files": "MAX_SIMULTANEOUS_FILES",
		"chunk-retry-limit":      "CHUNK_RETRY_LIMIT",
		"file-cleanup-timeout":   "FILE_CLEANUP_TIMEOUT",
		"pair-cleanup-timeout":   "PAIR_CLEANUP_TIMEOUT",
		"heartbeat-interval":     "HEARTBEAT_INTERVAL",
		"debug":                  "DEBUG",
	}
	for key, env := range bind {
		if err := v.BindEnv(key, env); err != nil {
			return fmt.Errorf("bind env %s: %w", env, err)
		}
	}

	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return fmt.Errorf("bind flags: %w", err)
	}
	return nil
}

// FromViper materializes a Config from a bound viper instance.
func FromViper(v *viper.Viper) Config {
	return Config{
		Port:                 v.GetInt("port"),
		ChunkSize:            v.GetInt64("chunk-size"),
		MaxFileSize:          v.GetInt64("max-file-size"),
		MaxSimultaneousFiles: v.GetInt("max-simultaneous-files"),
		ChunkRetryLimit:      v.GetInt("chunk-retry-limit"),
		FileCleanupTimeout:   v.GetDuration("file-cleanup-timeout"),
		PairCleanupTimeout:   v.GetDuration("pair-cleanup-timeout"),
		HeartbeatInterval:    v.GetDuration("heartbeat-interval"),
		MintTTL:              defaultMintTTL,
		Debug:                v.GetBool("debug"),
		LogFormat:            v.GetString("log-format"),
	}
}

// Default returns the zero-flag configuration, useful for tests.
func Default() Config {
	return Config{
		Port:                 defaultPort,
		ChunkSize:            defaultChunkSize,
		MaxFileSize:          defaultMaxFileSize,
		MaxSimultaneousFiles: defaultMaxSimultaneousFiles,
		ChunkRetryLimit:      defaultChunkRetryLimit,
		FileCleanupTimeout:   defaultFileCleanupTimeout,
		PairCleanupTimeout:   defaultPairCleanupTimeout,
		HeartbeatInterval:    defaultHeartbeatInterval,
		MintTTL:              defaultMintTTL,
		LogFormat:            "auto",
	}
}
