package cmd

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nextlevelbuilder/relaycore/internal/channels"
	"github.com/nextlevelbuilder/relaycore/internal/channels/assistant"
	"github.com/nextlevelbuilder/relaycore/internal/channels/messenger"
	"github.com/nextlevelbuilder/relaycore/internal/config"
	"github.com/nextlevelbuilder/relaycore/internal/correlator"
	"github.com/nextlevelbuilder/relaycore/internal/dialog"
	"github.com/nextlevelbuilder/relaycore/internal/dispatch"
	"github.com/nextlevelbuilder/relaycore/internal/gate"
	"github.com/nextlevelbuilder/relaycore/internal/gateway"
	httpapi "github.com/nextlevelbuilder/relaycore/internal/http"
	"github.com/nextlevelbuilder/relaycore/internal/proactive"
	"github.com/nextlevelbuilder/relaycore/internal/tracing"
	"github.com/nextlevelbuilder/relaycore/pkg/protocol"
)

func runGateway() {
	// Setup structured logging
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})))

	// Load config
	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	if err := serve(cfgPath, cfg); err != nil {
		slog.Error("gateway error", "error", err)
		os.Exit(1)
	}
}

func serve(cfgPath string, cfg *config.Config) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	shutdownTracing, err := tracing.Init(ctx, cfg.Telemetry, Version)
	if err != nil {
		return err
	}
	defer func() {
		sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer scancel()
		if err := shutdownTracing(sctx); err != nil {
			slog.Warn("tracing shutdown failed", "error", err)
		}
	}()

	dialogStore, err := openDialogStore(cfg.Database)
	if err != nil {
		return err
	}
	defer dialogStore.Close()

	// Dispatch core
	dc := cfg.DispatchSnapshot()
	turnGate := gate.New(gate.NewLockTable(), gate.Policy{MaxAttempts: dc.MaxLockedAttempts, Backoff: dc.LockedWait()})
	corr := correlator.New(correlator.WithTTL(dc.PendingTTL()))
	pool := dispatch.NewPool(dc.Workers, dc.Backlog)

	var front *dispatch.Front
	logic := dialog.NewEcho(func(userKey string) string {
		if p := assistant.Profile(front, userKey); p != nil {
			return p.GivenName
		}
		return ""
	})
	front = dispatch.NewFront(dispatch.Config{
		Gate:       turnGate,
		Correlator: corr,
		Store:      dialogStore,
		Logic:      logic,
		Pool:       pool,
		ErrorText:  dc.ErrorText,
	})

	// Channels
	var limiter *channels.WebhookRateLimiter
	if cfg.Gateway.RateLimitRPM > 0 {
		limiter = channels.NewWebhookRateLimiter(cfg.Gateway.RateLimitRPM)
	}
	channelMgr := channels.NewManager(front)
	if err := registerChannels(channelMgr, cfg, front, limiter, dc.ErrorText); err != nil {
		return err
	}

	scheduler, err := proactive.New(proactiveJobs(cfg), front)
	if err != nil {
		return err
	}

	server := gateway.NewServer(cfg.Gateway, channelMgr,
		httpapi.NewStatusHandler(channelMgr, front, cfg.Gateway.Token))

	if err := channelMgr.StartAll(ctx); err != nil {
		slog.Error("failed to start channels", "error", err)
	}

	slog.Info("relaycore gateway starting",
		"version", Version,
		"protocol", protocol.ProtocolVersion,
		"database", cfg.Database.Mode,
		"channels", channelMgr.GetEnabledChannels(),
		"workers", pool.Size(),
		"proactive_jobs", scheduler.Len(),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return pool.Run(gctx) })
	g.Go(func() error { return corr.Run(gctx, dc.SweepInterval()) })
	g.Go(func() error { return scheduler.Run(gctx) })
	g.Go(func() error { return server.Start(gctx) })
	g.Go(func() error {
		err := config.Watch(gctx, cfgPath, func(updated *config.Config) {
			applyReload(cfg, updated, front, scheduler)
		})
		if err != nil {
			// hot reload is optional
			slog.Warn("config watcher unavailable", "path", cfgPath, "error", err)
		}
		return nil
	})

	err = g.Wait()
	slog.Info("graceful shutdown initiated")
	channelMgr.StopAll(context.Background())
	pool.Close()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func registerChannels(mgr *channels.Manager, cfg *config.Config, front *dispatch.Front, limiter *channels.WebhookRateLimiter, errorText string) error {
	if cfg.Channels.Assistant.Enabled {
		ch, err := assistant.New(cfg.Channels.Assistant, front, limiter)
		if err != nil {
			return err
		}
		if err := mgr.RegisterChannel(ch); err != nil {
			return err
		}
	}
	if cfg.Channels.Messenger.Enabled {
		ch, err := messenger.New(cfg.Channels.Messenger, front, limiter, errorText)
		if err != nil {
			return err
		}
		if err := mgr.RegisterChannel(ch); err != nil {
			return err
		}
	}
	return nil
}

// proactiveJobs fills in the page id of messenger jobs that do not name an application.
func proactiveJobs(cfg *config.Config) []config.ProactiveJob {
	jobs := make([]config.ProactiveJob, len(cfg.Proactive))
	copy(jobs, cfg.Proactive)
	for i := range jobs {
		if jobs[i].ApplicationID == "" && jobs[i].Channel == "messenger" {
			jobs[i].ApplicationID = cfg.Channels.Messenger.PageID
		}
	}
	return jobs
}

// applyReload applies the hot-reloadable settings of updated to the running gateway.
func applyReload(cfg, updated *config.Config, front *dispatch.Front, scheduler *proactive.Scheduler) {
	cfg.ReplaceFrom(updated)
	dc := cfg.DispatchSnapshot()
	front.Gate().SetPolicy(gate.Policy{MaxAttempts: dc.MaxLockedAttempts, Backoff: dc.LockedWait()})
	front.SetErrorText(dc.ErrorText)
	if err := scheduler.SetJobs(proactiveJobs(cfg)); err != nil {
		slog.Warn("proactive jobs not reloaded", "error", err)
	}
	slog.Info("config reloaded", "max_locked_attempts", dc.MaxLockedAttempts, "locked_attempts_wait_ms", dc.LockedAttemptsWaitMs)
}
