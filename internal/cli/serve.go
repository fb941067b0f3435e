package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/parley-dev/parley/internal/adapter"
	"github.com/parley-dev/parley/internal/chat"
	"github.com/parley-dev/parley/internal/config"
	"github.com/parley-dev/parley/internal/gateway"
	"github.com/parley-dev/parley/internal/logging"
	"github.com/parley-dev/parley/internal/paths"
	"github.com/parley-dev/parley/internal/store"
	"github.com/parley-dev/parley/internal/worktree"
)

// shutdownTimeout bounds how long we wait for sessions and in-flight
// connections on exit.
const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the parley daemon",
	Long:  "Run the parley daemon in the foreground. It serves the WebSocket API and supervises agent CLI sessions until interrupted.",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	pidPath := paths.PIDPath()
	if running, pid := IsDaemonRunning(pidPath); running {
		return fmt.Errorf("daemon already running (pid %d)", pid)
	}
	CleanStalePID(pidPath)

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	cleanup, err := logging.Setup(cfg.Daemon.LogPath, logging.ParseLevel(cfg.LogLevel()))
	if err != nil {
		return fmt.Errorf("setup logging: %w", err)
	}
	defer cleanup()

	if err := WritePID(pidPath); err != nil {
		return err
	}
	defer RemovePID(pidPath)

	st, err := store.OpenSQLite(cfg.DBPath())
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	cats, err := adapter.LoadCategories(cfg.Daemon.CategoriesPath)
	if err != nil {
		return fmt.Errorf("load tool categories: %w", err)
	}

	wtDir, err := paths.WorktreesDir()
	if err != nil {
		return fmt.Errorf("resolve worktrees dir: %w", err)
	}

	mgr := chat.NewManager(st, cfg, worktree.NewGit(wtDir), cats)
	gw := gateway.New(mgr)

	srv := &http.Server{
		Addr:    cfg.ListenAddr(),
		Handler: gw,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	slog.Info("daemon started", "addr", cfg.ListenAddr(), "pid", os.Getpid())
	fmt.Printf("parleyd listening on %s\n", cfg.ListenAddr())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		slog.Info("shutting down", "signal", sig.String())
	case err := <-errCh:
		return fmt.Errorf("listen on %s: %w", cfg.ListenAddr(), err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	// Stop agent sessions first so their exit events still reach
	// connected clients, then drop the connections.
	mgr.Shutdown(ctx)
	gw.Close()
	if err := srv.Shutdown(ctx); err != nil {
		srv.Close()
	}

	slog.Info("daemon stopped")
	return nil
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
