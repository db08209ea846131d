package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MikeSquared-Agency/scribe/internal/api"
	"github.com/MikeSquared-Agency/scribe/internal/config"
	"github.com/MikeSquared-Agency/scribe/internal/dedup"
	"github.com/MikeSquared-Agency/scribe/internal/guard"
	"github.com/MikeSquared-Agency/scribe/internal/hermes"
	"github.com/MikeSquared-Agency/scribe/internal/metrics"
	"github.com/MikeSquared-Agency/scribe/internal/observer"
	"github.com/MikeSquared-Agency/scribe/internal/parser"
	"github.com/MikeSquared-Agency/scribe/internal/pending"
	"github.com/MikeSquared-Agency/scribe/internal/policy"
	"github.com/MikeSquared-Agency/scribe/internal/processor"
	"github.com/MikeSquared-Agency/scribe/internal/scheduler"
	"github.com/MikeSquared-Agency/scribe/internal/store"
	"github.com/MikeSquared-Agency/scribe/internal/store/postgres"
	"github.com/MikeSquared-Agency/scribe/internal/store/sqlite"
)

const gaugeRefreshInterval = time.Minute

// app is the wired capture pipeline shared by the subcommands.
type app struct {
	cfg     *config.Config
	db      store.DB
	pending pending.Store
	guard   *guard.Guard
	policy  *policy.FileSource
	metrics *metrics.Metrics
	events  *hermes.Client
	proc    *processor.Processor
	logger  *slog.Logger

	closers []func()
}

// newApp opens storage and builds the processor. NATS is connected only when
// withEvents is set and nats_url is configured.
func newApp(ctx context.Context, cfg *config.Config, withEvents bool) (*app, error) {
	a := &app{cfg: cfg, logger: slog.Default()}
	ready := false
	defer func() {
		if !ready {
			a.Close()
		}
	}()

	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	created, err := policy.WriteDefault(cfg.PolicyFile)
	if err != nil {
		return nil, fmt.Errorf("seed capture policy: %w", err)
	}
	if created {
		a.logger.Info("wrote default capture policy", "path", cfg.PolicyFile)
	}
	a.policy = policy.NewFileSource(cfg.PolicyFile, a.logger)

	if err := a.openStore(ctx); err != nil {
		return nil, err
	}
	if err := a.openPending(ctx); err != nil {
		return nil, err
	}

	a.guard = guard.New(a.db, a.pending, a.logger, guard.WithQuota(cfg.StorageQuotaBytes))
	a.metrics = metrics.New()

	opts := []processor.Option{processor.WithMetrics(a.metrics)}
	if withEvents && cfg.NatsURL != "" {
		events, err := hermes.NewClient(ctx, cfg.NatsURL, cfg.NatsToken, a.logger)
		if err != nil {
			return nil, fmt.Errorf("connect NATS: %w", err)
		}
		a.events = events
		a.closers = append(a.closers, a.events.Close)
		opts = append(opts, processor.WithPublisher(a.events))
		a.logger.Info("NATS connected", "url", cfg.NatsURL)
	}

	merger := dedup.New(a.db, a.guard, a.logger)
	a.proc = processor.New(parser.Default(a.logger), a.policy, merger, a.pending, a.logger, opts...)
	ready = true
	return a, nil
}

func (a *app) openStore(ctx context.Context) error {
	if a.cfg.DatabaseURL != "" {
		db, err := postgres.New(ctx, a.cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		a.db = db
		a.logger.Info("database connected", "driver", "postgres")
	} else {
		db, err := sqlite.Open(ctx, a.cfg.SQLitePath())
		if err != nil {
			return fmt.Errorf("open sqlite: %w", err)
		}
		a.db = db
		a.logger.Info("database opened", "driver", "sqlite", "path", a.cfg.SQLitePath())
	}
	a.closers = append(a.closers, func() {
		if err := a.db.Close(); err != nil {
			a.logger.Warn("close database", "error", err)
		}
	})
	return nil
}

func (a *app) openPending(ctx context.Context) error {
	if a.cfg.RedisAddr == "" {
		a.pending = pending.NewMemory(pending.DefaultTTL)
		return nil
	}
	rdb, err := pending.NewRedis(ctx, a.cfg.RedisAddr, pending.DefaultTTL, a.logger)
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	a.pending = rdb
	a.closers = append(a.closers, func() {
		if err := rdb.Close(); err != nil {
			a.logger.Warn("close redis", "error", err)
		}
	})
	return nil
}

// Close releases everything newApp opened, last opened first.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// serve runs the API, the policy watcher, the gauge refresher and any extra
// workers until one fails or ctx is cancelled.
func (a *app) serve(ctx context.Context, extra ...func(context.Context) error) error {
	if a.events != nil {
		if err := a.events.Subscribe(hermes.SubjectForce, a.proc.HandleForceRequest); err != nil {
			return fmt.Errorf("subscribe %s: %w", hermes.SubjectForce, err)
		}
	}

	srv := api.NewServer(a.cfg.Port, a.cfg.APIToken, api.Deps{
		Capturer: a.proc,
		Usage:    a.guard,
		Store:    a.db,
		Metrics:  a.metrics,
		Logger:   a.logger,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Start(gctx) })
	g.Go(func() error { return a.policy.Watch(gctx) })
	g.Go(func() error { a.refreshGauges(gctx); return nil })
	for _, fn := range extra {
		g.Go(func() error { return fn(gctx) })
	}

	a.logger.Info("scribe ready", "port", a.cfg.Port, "policy", a.cfg.PolicyFile)
	return g.Wait()
}

func (a *app) refreshGauges(ctx context.Context) {
	ticker := time.NewTicker(gaugeRefreshInterval)
	defer ticker.Stop()
	for {
		if snap, err := a.guard.Snapshot(ctx); err == nil {
			a.metrics.SetStorageUsed(snap.OriginUsed)
		} else if ctx.Err() == nil {
			a.logger.Warn("storage snapshot failed", "error", err)
		}
		if _, err := a.proc.ListPending(ctx); err != nil && ctx.Err() == nil {
			a.logger.Warn("list pending failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// observe returns a worker that debounces src's change notifications into
// captures.
func (a *app) observe(src observer.Source) func(context.Context) error {
	obs := observer.New(src, scheduler.NewDebouncer(), a.cfg.Debounce, a.captureSnapshot, a.logger)
	return func(ctx context.Context) error { return obs.Run(ctx, src) }
}

func (a *app) captureSnapshot(ctx context.Context, snap observer.Snapshot) {
	res, err := a.proc.Capture(ctx, processor.Page{URL: snap.URL, HTML: snap.HTML}, processor.Options{})
	if err != nil {
		a.logger.Warn("capture failed", "url", snap.URL, "error", err)
		return
	}
	if res.PendingID != "" {
		a.logger.Info("capture held", "pending_id", res.PendingID, "reason", string(res.Decision.Reason))
	}
}
