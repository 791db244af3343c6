package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fystack/eth-disburser/internal/disburser"
	"github.com/fystack/eth-disburser/pkg/common/logger"
	"golang.org/x/sync/errgroup"
)

type DaemonCmd struct {
	ConfigFlags
	Interval time.Duration `help:"Time between batches. Defaults to daemon.interval." name:"interval"`
	Port     int           `help:"HTTP port. Defaults to daemon.port." name:"port"`
}

func (c *DaemonCmd) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := c.load()
	if err != nil {
		return err
	}
	interval := cfg.Daemon.Interval
	if c.Interval > 0 {
		interval = c.Interval
	}
	port := cfg.Daemon.Port
	if c.Port > 0 {
		port = c.Port
	}
	policy, err := disburser.PolicyFromConfig(cfg.Policy)
	if err != nil {
		return err
	}
	tasks, err := cfg.TaskWallets()
	if err != nil {
		return err
	}

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()
	if err := a.checkChainID(ctx); err != nil {
		return err
	}

	state := newRunState()
	mux := http.NewServeMux()
	NewDisburserHTTPHandler(version, state).Register(mux)
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		schedule(gctx, interval, state, func(ctx context.Context) (*disburser.Report, error) {
			return a.runOnce(ctx, tasks, policy)
		})
		return nil
	})
	g.Go(func() error {
		logger.Info("Disburser HTTP server started", "port", port, "health_endpoint", "/health", "status_endpoint", "/status")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	logger.Info("Disburser stopped")
	return err
}

// schedule runs fn immediately and then every interval until ctx is done. Runs never overlap.
func schedule(ctx context.Context, interval time.Duration, state *runState, fn func(context.Context) (*disburser.Report, error)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		state.started()
		report, err := fn(ctx)
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("Disbursement run failed", "err", err)
		}
		state.finished(report, err, time.Now().Add(interval))
		if ctx.Err() != nil {
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
