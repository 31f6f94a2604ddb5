package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofrs/flock"
	"github.com/spf13/cobra"

	"github.com/c360/countertop/countertop"
	gatewayhttp "github.com/c360/countertop/gateway/http"
	"github.com/c360/countertop/logging"
	"github.com/c360/countertop/metric"
	"github.com/c360/countertop/pkg/tlsutil"
)

func newRunCommand(ctx *commandContext) *cobra.Command {
	var shutdownTimeout time.Duration

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start every configured appliance and serve until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCountertop(cmd.Context(), cmd, ctx, shutdownTimeout)
		},
	}
	cmd.Flags().DurationVar(&shutdownTimeout, "shutdown-timeout", 30*time.Second, "Maximum time to wait for workers to stop")
	return cmd
}

func runCountertop(cmdCtx context.Context, cmd *cobra.Command, ctx *commandContext, shutdownTimeout time.Duration) error {
	if cmdCtx == nil {
		cmdCtx = context.Background()
	}
	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := ctx.ensureConfig()
	if err != nil {
		return err
	}

	logger, err := logging.New(cfg.Log, cmd.ErrOrStderr())
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()
	slog.SetDefault(logger.Logger)

	if cfg.LockFile != "" {
		lock := flock.New(cfg.LockFile)
		ok, err := lock.TryLock()
		if err != nil {
			return fmt.Errorf("acquire lock: %w", err)
		}
		if !ok {
			return fmt.Errorf("another %s instance holds %s", appName, cfg.LockFile)
		}
		defer func() { _ = lock.Unlock() }()
	}

	logger.Info("starting countertop",
		"version", Version,
		"build_time", BuildTime,
		"broker", cfg.Broker.Kind,
		"appliances", len(cfg.Appliances))

	registry := metric.NewMetricsRegistry()
	b, err := newBroker(cfg, logger.Logger)
	if err != nil {
		return err
	}
	ct, err := buildCountertop(cfg, b,
		countertop.WithLogger(logger.Logger),
		countertop.WithMetrics(registry.CoreMetrics()),
	)
	if err != nil {
		return err
	}

	if cfg.Store.Enabled {
		store, client, err := openStore(signalCtx, cfg, registry, logger.Logger)
		if err != nil {
			return err
		}
		defer func() { _ = client.Close(context.WithoutCancel(signalCtx)) }()
		snap, err := saveTopology(signalCtx, store, cfg.Broker.ClientID, ct.Topology())
		if err != nil {
			return fmt.Errorf("save topology: %w", err)
		}
		logger.Info("topology saved", "id", snap.ID, "version", snap.Version, "streams", len(snap.Streams))
	}

	serverErr := make(chan error, 1)
	if cfg.HTTP.Addr != "" {
		gw := gatewayhttp.NewGateway(ct, registry, logger.Logger)
		tlsCfg, err := tlsutil.ServeConfig(signalCtx, cfg.HTTP.TLS, logger.Logger)
		if err != nil {
			return fmt.Errorf("http tls: %w", err)
		}
		gw.UseTLS(tlsCfg)
		go func() { serverErr <- gw.ListenAndServe(signalCtx, cfg.HTTP.Addr) }()
	}

	if err := ct.Start(signalCtx); err != nil {
		return err
	}
	logger.Info("countertop started", "stations", len(ct.Stations()), "streams", ct.Topology().Len())

	var runErr error
	select {
	case <-signalCtx.Done():
		logger.Info("shutdown requested")
	case runErr = <-serverErr:
		if runErr != nil {
			logger.Error("http server failed", "error", runErr)
		}
	}

	stopCtx, stopCancel := context.WithTimeout(context.WithoutCancel(signalCtx), shutdownTimeout)
	defer stopCancel()
	if err := ct.Stop(stopCtx); err != nil {
		logger.Error("stop countertop", "error", err)
		if runErr == nil {
			runErr = err
		}
	}
	logger.Info("countertop stopped")
	return runErr
}
