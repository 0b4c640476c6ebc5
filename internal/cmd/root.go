// Package cmd implements the claudeway command line.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/charmbracelet/fang"
	charmlog "github.com/charmbracelet/log/v2"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/claudeway/claudeway/internal/claude"
	"github.com/claudeway/claudeway/internal/config"
	"github.com/claudeway/claudeway/internal/log"
	"github.com/claudeway/claudeway/internal/server"
	"github.com/claudeway/claudeway/internal/session"
	"github.com/claudeway/claudeway/internal/version"
)

func init() {
	rootCmd.Flags().IntP("port", "p", 0, "Listening port (overrides PORT)")
	rootCmd.Flags().BoolP("debug", "d", false, "Debug logging")
}

var rootCmd = &cobra.Command{
	Use:   "claudeway",
	Short: "OpenAI-compatible gateway for the Claude Code CLI",
	Long: `Claudeway exposes a local Claude Code installation behind the OpenAI
chat-completion API. Point any OpenAI client at it and conversations are
translated into Claude Code sessions, with prompt caching across turns.`,
	Example: `
	# Start the gateway on the default port
	claudeway

	# Start on a specific port with debug logging
	claudeway -p 9000 -d

	# Talk to it with any OpenAI client
	curl localhost:8000/v1/chat/completions \
	  -d '{"model":"claude-sonnet","messages":[{"role":"user","content":"hi"}]}'
  `,
	RunE: func(cmd *cobra.Command, args []string) error {
		// .env settings never override the real environment.
		_ = godotenv.Load()

		cfg, err := config.Load(os.Environ())
		if err != nil {
			return fmt.Errorf("failed to load configuration: %v", err)
		}
		if debug, _ := cmd.Flags().GetBool("debug"); debug {
			cfg.Debug = true
		}
		if port, _ := cmd.Flags().GetInt("port"); port > 0 {
			cfg.Port = port
		}

		setupLogging(cfg)

		agent, err := claude.NewClient(cfg.ClaudePath, cfg.RequestTimeout)
		if err != nil {
			return err
		}

		tracker := session.NewTracker(cfg.SessionTTL, cfg.SweepInterval)
		defer tracker.Shutdown()

		srv := server.NewServer(cfg, agent, tracker)
		srv.SetLogger(slog.Default())
		slog.Info("Starting claudeway...",
			"addr", srv.Addr,
			"model", cfg.DefaultModel,
			"claude", cfg.ClaudePath,
		)

		errch := make(chan error, 1)
		sigch := make(chan os.Signal, 1)
		signal.Notify(sigch, os.Interrupt)

		go func() {
			defer log.RecoverPanic("server", func() {
				_ = srv.Close()
			})
			errch <- srv.ListenAndServe()
		}()

		select {
		case <-sigch:
			slog.Info("Received interrupt signal...")
		case err = <-errch:
			if err != nil && !errors.Is(err, server.ErrServerClosed) {
				_ = srv.Close()
				slog.Error("Server error", "error", err)
				return fmt.Errorf("server error: %v", err)
			}
		}

		if errors.Is(err, server.ErrServerClosed) {
			return nil
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
		defer cancel()

		slog.Info("Shutting down...")

		if err := srv.Shutdown(ctx); err != nil {
			slog.Error("Failed to shutdown server", "error", err)
			return fmt.Errorf("failed to shutdown server: %v", err)
		}

		return nil
	},
}

// setupLogging installs the slog default: a rotating JSON file when
// LOG_FILE is set, a human-readable stderr handler otherwise.
func setupLogging(cfg *config.Config) {
	if cfg.LogFile != "" {
		log.Setup(cfg.LogFile, cfg.Debug)
		return
	}
	logger := charmlog.New(os.Stderr)
	logger.SetReportTimestamp(true)
	if cfg.Debug {
		logger.SetLevel(charmlog.DebugLevel)
	}
	slog.SetDefault(slog.New(logger))
	if cfg.Debug {
		slog.SetLogLoggerLevel(slog.LevelDebug)
	}
}

func Execute() {
	if err := fang.Execute(
		context.Background(),
		rootCmd,
		fang.WithVersion(version.Version),
		fang.WithNotifySignal(os.Interrupt),
	); err != nil {
		os.Exit(1)
	}
}
