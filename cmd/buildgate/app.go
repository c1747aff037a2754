package main

import (
	"context"
	"log/slog"
	"net"
	"strconv"
	"time"

	"buildgate/internal/api"
	"buildgate/internal/auth"
	"buildgate/internal/backends/git"
	"buildgate/internal/build"
	"buildgate/internal/config"
	"buildgate/internal/dispatch"
	"buildgate/internal/jobs"
	"buildgate/internal/paths"
	"buildgate/internal/refcache"
	"buildgate/internal/scheduler"
	"buildgate/internal/storage"
)

const (
	syncTaskName  = "sync-default-branch"
	pruneTaskName = "prune-build-history"
	pruneInterval = 24 * time.Hour
)

// gateway holds the wired services behind `buildgate serve`
type gateway struct {
	cfg    *config.Config
	logger *slog.Logger

	source     *git.SourceCache
	cache      *refcache.Cache[string]
	queue      *jobs.Queue
	db         *storage.DB
	dispatcher *dispatch.Dispatcher
	scheduler  *scheduler.Scheduler
	server     *api.Server
}

func newGateway(cfg *config.Config, addr string, logger *slog.Logger) (*gateway, error) {
	source, err := newSourceCache(cfg, logger)
	if err != nil {
		return nil, err
	}

	db, err := storage.Open(cfg.Storage.DBPath, logger)
	if err != nil {
		return nil, err
	}

	g := &gateway{
		cfg:       cfg,
		logger:    logger,
		source:    source,
		cache:     refcache.New(refcache.WithTTLs[string](cfg.PositiveTTL(), cfg.NegativeTTL())),
		queue:     jobs.NewQueue(logger, jobs.QueueConfig{MaxQueueSize: cfg.Queue.MaxQueueSize}),
		db:        db,
		scheduler: scheduler.New(logger),
	}

	var assembler build.Assembler = build.NewCommandStep("assemble", cfg.Build.AssembleCommand, logger)
	if cfg.Build.PlaceholderOnFailure {
		assembler = &build.PlaceholderAssembler{Next: assembler, Logger: logger}
	}

	g.dispatcher, err = dispatch.New(dispatch.Options{
		Source:    source,
		Cache:     g.cache,
		Queue:     g.queue,
		Layout:    paths.NewLayout(cfg.Output.Dir),
		Compiler:  build.NewCommandStep("compile", cfg.Build.CompileCommand, logger),
		Assembler: assembler,
		Recorder:  db,
		BuildWait: cfg.BuildWait(),
		Logger:    logger,
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	if err := g.registerTasks(); err != nil {
		_ = db.Close()
		return nil, err
	}

	g.server, err = api.NewServer(api.Options{
		Addr:       addr,
		Dispatcher: g.dispatcher,
		Queue:      g.queue,
		Source:     source,
		Cache:      g.cache,
		History:    db,
		Scheduler:  g.scheduler,
		Guard:      auth.NewGuard(cfg.Server.AdminTokenHash, auth.DefaultGuardConfig(), logger),
		BuildWait:  cfg.BuildWait(),
		Logger:     logger,
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	return g, nil
}

func (g *gateway) registerTasks() error {
	err := g.scheduler.Register(scheduler.Task{
		Name:       syncTaskName,
		Interval:   g.cfg.SyncInterval(),
		RunOnStart: true,
		Handler:    g.syncDefaultBranch,
	})
	if err != nil {
		return err
	}

	if g.cfg.Storage.RetentionDays == 0 {
		return nil
	}
	return g.scheduler.Register(scheduler.Task{
		Name:       pruneTaskName,
		Interval:   pruneInterval,
		RunOnStart: true,
		Handler:    g.pruneHistory,
	})
}

func (g *gateway) syncDefaultBranch(ctx context.Context) error {
	branch, err := g.source.SyncDefaultBranch(ctx)
	if err != nil {
		return err
	}
	g.cache.Purge()
	g.logger.Info("Default branch synced", "branch", branch)
	return nil
}

func (g *gateway) pruneHistory(ctx context.Context) error {
	cutoff := time.Now().AddDate(0, 0, -g.cfg.Storage.RetentionDays)
	n, err := g.db.PruneBuilds(ctx, cutoff)
	if err != nil {
		return err
	}
	if n > 0 {
		g.logger.Info("Pruned build history", "removed", n, "cutoff", cutoff.Format(time.RFC3339))
	}
	return nil
}

// close stops background work in dependency order
func (g *gateway) close(ctx context.Context) error {
	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	keep(g.scheduler.Stop(10 * time.Second))
	keep(g.queue.Shutdown(ctx))
	keep(g.db.Close())
	return firstErr
}

func listenAddr(host string, port int) string {
	return net.JoinHostPort(host, strconv.Itoa(port))
}
