package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/bonesco/vibe-checker/internal/httpapi"
	"github.com/bonesco/vibe-checker/pkg/admin"
	"github.com/bonesco/vibe-checker/pkg/core"
	"github.com/bonesco/vibe-checker/pkg/correlator"
	"github.com/bonesco/vibe-checker/pkg/dispatch"
	"github.com/bonesco/vibe-checker/pkg/monitor"
	"github.com/bonesco/vibe-checker/pkg/scheduler"
)

func newServeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the scheduler, the reminder monitor and the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return a.serve(ctx, cmd)
		},
	}
}

func (a *app) serve(ctx context.Context, cmd *cobra.Command) error {
	cfg, logger := a.cfg, a.logger
	if cfg.Dispatch.WebhookURL == "" {
		return &core.ConfigError{Field: "dispatch.webhook_url", Reason: "is required to serve"}
	}

	store, err := a.openStore(cmd)
	if err != nil {
		return err
	}
	sqlDB, err := store.DB().DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	var hookOpts []dispatch.WebhookOption
	if cfg.Dispatch.AuthToken != "" {
		hookOpts = append(hookOpts, dispatch.WithHeader("Authorization", "Bearer "+cfg.Dispatch.AuthToken))
	}
	prompts := dispatch.NewTenantLimiter(
		dispatch.NewWebhook(cfg.Dispatch.WebhookURL, hookOpts...),
		cfg.Scheduler.TenantRatePerSec, 1)
	notifier := dispatch.NewAdminNotifier(
		dispatch.NewWebhook(cfg.Dispatch.AlertWebhookURL, hookOpts...),
		store, logger)

	sched := scheduler.New(store, prompts,
		scheduler.WithConfig(cfg.SchedulerConfig()),
		scheduler.WithLogger(logger),
		scheduler.WithNotifier(notifier))
	mon := monitor.New(store, prompts,
		monitor.WithConfig(cfg.MonitorConfig()),
		monitor.WithLogger(logger),
		monitor.WithNotifier(notifier))

	corr := correlator.New(store, correlator.WithLogger(logger))
	corr.OnCompleted(dispatch.NewReporter(prompts, store, logger,
		dispatch.WithReportTimeout(cfg.Scheduler.DispatchTimeout)).OnCompleted)
	svc := admin.New(store, store, admin.WithLogger(logger))

	router := httpapi.NewRouter(httpapi.NewHandler(corr, svc, sqlDB.PingContext), logger)
	server := httpapi.NewServer(cfg.HTTP.Addr, router, cfg.HTTP.ShutdownTimeout, logger)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return sched.Start(ctx) })
	g.Go(func() error { return mon.Start(ctx) })
	g.Go(func() error { return server.Run(ctx) })

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	logger.Info("vibecheck stopped")
	return err
}
