// Command middb runs the MidDB HTTP server.
package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	middb "github.com/PandiaJason/MidDB"
	"github.com/PandiaJason/MidDB/server"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:           "middb",
		Short:         "MidDB is a hybrid structured + embedding database server",
		SilenceUsage:  true,
		SilenceErrors: false,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), v)
		},
	}

	flags := cmd.Flags()
	flags.String("addr", "0.0.0.0:8080", "bind address for the HTTP server")
	flags.String("data-dir", "data", "storage directory for table snapshots")
	flags.Duration("flush-interval", 5*time.Second, "write pipeline flush interval")
	flags.Int("batch-max", 100, "maximum tasks applied per write batch")
	flags.Int("queue-size", 1024, "write task queue capacity")
	flags.Int("overfetch", 10, "hybrid query overfetch factor")
	flags.Int("hnsw-m", 8, "HNSW connections per layer")
	flags.Int("hnsw-ef", 200, "HNSW candidate list size")
	flags.String("log-level", "info", "log level: debug, info, warn, error")
	flags.Bool("log-json", false, "emit JSON logs")
	flags.Float64("write-rate-limit", 0, "write requests per second (0 = unlimited)")

	// Every flag is also settable via MIDDB_* environment variables,
	// e.g. MIDDB_DATA_DIR=/var/lib/middb.
	v.SetEnvPrefix("MIDDB")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	_ = v.BindPFlags(flags)

	return cmd
}

func run(ctx context.Context, v *viper.Viper) error {
	logger := newLogger(v.GetString("log-level"), v.GetBool("log-json"))

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	db, err := middb.Open(v.GetString("data-dir"),
		middb.WithLogger(logger),
		middb.WithMetricsCollector(server.NewPrometheusCollector(registry)),
		middb.WithFlushInterval(v.GetDuration("flush-interval")),
		middb.WithBatchMax(v.GetInt("batch-max")),
		middb.WithQueueSize(v.GetInt("queue-size")),
		middb.WithOverfetch(v.GetInt("overfetch")),
		middb.WithHNSW(v.GetInt("hnsw-m"), v.GetInt("hnsw-ef")),
	)
	if err != nil {
		logger.Error("failed to open database", "error", err)
		return err
	}

	srv := server.New(db, server.Config{
		Addr:           v.GetString("addr"),
		WriteRateLimit: v.GetFloat64("write-rate-limit"),
		Logger:         logger.Logger,
		Registry:       registry,
	})

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	serveErr := srv.Run(ctx)

	// Close drains the pipeline, so the final flush happens after the HTTP
	// layer stops accepting writes.
	closeErr := db.Close()

	if err := errors.Join(serveErr, closeErr); err != nil {
		logger.Error("shutdown with error", "error", err)
		return err
	}

	logger.Info("shutdown complete")

	return nil
}

func newLogger(level string, json bool) *middb.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	if json {
		return middb.NewJSONLogger(lvl)
	}

	return middb.NewTextLogger(lvl)
}
