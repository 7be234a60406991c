package cmd

import (
	"context"
	"errors"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/docsift/docsift/internal/mcp"
	"github.com/docsift/docsift/internal/watcher"
)

// newServeCmd creates the serve command: the MCP server over stdio.
func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the MCP server over stdio",
		Long: `Serve exposes the retrieval engine over the Model Context Protocol
on stdin/stdout. Stdout carries JSON-RPC exclusively; all logging goes
to stderr or the configured log file.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context())
		},
	}
}

func runServe(parent context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	eng := buildEngine(cfg)
	srv, err := mcp.NewServer(eng)
	if err != nil {
		return err
	}

	if cfg.WatcherOn() {
		w, err := watcher.New(cfg.Root, eng.Store(), cfg.Watcher.Debounce)
		if err != nil {
			// Watching is an optimization; stale indexes still rebuild on
			// the fingerprint check.
			slog.Warn("watcher_unavailable", slog.Any("error", err))
		} else {
			go func() {
				if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
					slog.Warn("watcher_stopped", slog.Any("error", err))
				}
			}()
		}
	}

	err = srv.Serve(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
