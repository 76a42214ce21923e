package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v2"

	"github.com/forwhat-rbx/clannr-sub000/internal/bot"
	"github.com/forwhat-rbx/clannr-sub000/internal/config"
)

func main() {
	app := &cli.App{
		Name:  "clannr",
		Usage: "Discord bot that keeps Roblox group ranks and Discord roles in sync",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "env-file",
				Usage: "load environment variables from this file instead of ./.env",
			},
			&cli.StringFlag{
				Name:  "rank-table",
				Usage: "YAML rank table, overrides RANK_TABLE_PATH",
			},
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		slog.Error("Bot exited with error", "error", err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	// Load configuration
	cfg, err := config.Load(c.String("env-file"), c.String("rank-table"))
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		return err
	}

	// Set up logging
	setupLogging(cfg.LogLevel)

	slog.Info("Starting Clannr Bot", "groupID", cfg.RobloxGroupID, "guildID", cfg.GuildID)

	// Create context that cancels on interrupt
	ctx, cancel := context.WithCancel(c.Context)
	defer cancel()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	// Create and start the bot
	b, err := bot.New(cfg, reg)
	if err != nil {
		slog.Error("Failed to create bot", "error", err)
		return err
	}

	// Start the bot
	if err := b.Start(ctx); err != nil {
		slog.Error("Failed to start bot", "error", err)
		return err
	}

	metricsServer := startMetrics(cfg.MetricsAddr, reg)

	slog.Info("Bot is running. Press Ctrl+C to stop.")

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	slog.Info("Shutting down...")
	cancel()

	if metricsServer != nil {
		shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("Failed to stop metrics server", "error", err)
		}
		stop()
	}

	// Stop the bot gracefully
	if err := b.Stop(); err != nil {
		slog.Error("Error during shutdown", "error", err)
	}

	slog.Info("Bot stopped")
	return nil
}

// startMetrics serves /metrics on addr; an empty addr disables it
func startMetrics(addr string, reg *prometheus.Registry) *http.Server {
	if addr == "" {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		slog.Info("Serving metrics", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Metrics server failed", "error", err)
		}
	}()
	return srv
}

func setupLogging(level string) {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})
	slog.SetDefault(slog.New(handler))
}
