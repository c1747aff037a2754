package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var (
	servePort int
	serveHost string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP gateway",
	Long: `Start the gateway HTTP server.

Artifacts are requested as GET /artifacts/{ref}/{path}. The default branch
is synced on start and every sync.intervalSeconds.

Examples:
  buildgate serve
  buildgate serve --port 9090
  BUILDGATE_REPO_URL=https://github.com/org/repo.git buildgate serve`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().IntVar(&servePort, "port", 0, "Port to listen on (default: server.port)")
	serveCmd.Flags().StringVar(&serveHost, "host", "", "Host to bind to (default: server.host)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if serveHost != "" {
		cfg.Server.Host = serveHost
	}
	if servePort != 0 {
		cfg.Server.Port = servePort
	}

	logger, closeLog, err := newLogger(cmd, cfg, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer closeLog()

	addr := listenAddr(cfg.Server.Host, cfg.Server.Port)
	gw, err := newGateway(cfg, addr, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	gw.scheduler.Start()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		fmt.Fprintf(cmd.OutOrStdout(), "buildgate listening on http://%s\n", addr)
		return gw.server.Start()
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return gw.server.Shutdown(shutdownCtx)
	})

	serveErr := g.Wait()

	drainCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	closeErr := gw.close(drainCtx)

	if serveErr != nil && !errors.Is(serveErr, context.Canceled) {
		return serveErr
	}
	if closeErr != nil {
		logger.Warn("Unclean shutdown", "error", closeErr.Error())
	}
	logger.Info("Gateway stopped")
	return nil
}
