// Package app wires the daemon together: config, logging, storage,
// fetchers, delivery senders, the sync orchestrator, maintenance cron and
// the admin API, plus config hot reload across all of them.
package app

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"contentsync/internal/api"
	"contentsync/internal/config"
	"contentsync/internal/eventbus"
	"contentsync/internal/maintenance"
	rtsup "contentsync/internal/runtime/supervisor"
	"contentsync/internal/store"
	csync "contentsync/internal/sync"
	logx "contentsync/pkg/logx"
)

// StopReason records why the daemon is shutting down; it only feeds logs.
type StopReason string

const (
	StopUnknown    StopReason = "unknown"
	StopSIGINT     StopReason = "sigint"
	StopSIGTERM    StopReason = "sigterm"
	StopFatalError StopReason = "fatal_error"
	StopAppStop    StopReason = "app_stop"
)

type App struct {
	cfgPath string

	cfgm *config.Manager
	sup  *rtsup.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store store.Store

	orch  *csync.Service
	maint *maintenance.Service

	// apiMu guards api: the reload loop swaps the server out when its
	// config changes.
	apiMu sync.Mutex
	api   *api.Service
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLogging(cfg))
	log = log.With(logx.String("comp", "app"))

	bus := eventbus.New()

	// Storage (optional; nil store keeps everything in memory).
	storeCfg, err := mapStoreConfig(cfg)
	if err != nil {
		return nil, err
	}
	st, err := store.Open(storeCfg, log.With(logx.String("comp", "store")))
	if err != nil {
		return nil, err
	}
	if st != nil {
		log.Info("storage enabled", logx.String("driver", storeCfg.Driver))
	}

	fetcher, err := buildFetcher(cfg, log)
	if err != nil {
		return nil, err
	}
	registry, err := buildRegistry(cfg, log.With(logx.String("comp", "delivery")))
	if err != nil {
		return nil, err
	}

	syncCfg, err := mapSyncConfig(cfg)
	if err != nil {
		return nil, err
	}
	orch := csync.New(syncCfg, fetcher, registry, st, log.With(logx.String("comp", "sync")), bus)

	maintCfg, err := mapMaintenance(cfg)
	if err != nil {
		return nil, err
	}
	maint, err := maintenance.New(maintCfg, orch, log.With(logx.String("comp", "maintenance")))
	if err != nil {
		return nil, err
	}

	apiCfg, err := mapAPI(cfg)
	if err != nil {
		return nil, err
	}
	apiSvc := api.New(apiCfg, orch, log.With(logx.String("comp", "api")))

	return &App{
		cfgPath: cfgPath,
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		bus:     bus,
		store:   st,
		orch:    orch,
		maint:   maint,
		api:     apiSvc,
	}, nil
}

// Orchestrator exposes the sync service for embedding callers.
func (a *App) Orchestrator() *csync.Service { return a.orch }

func (a *App) apiService() *api.Service {
	a.apiMu.Lock()
	defer a.apiMu.Unlock()
	return a.api
}

// Done is closed when the app supervisor context ends (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor, if any.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))

	// Transactional config reload: validate before commit/publish.
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		if err := cfg.Validate(); err != nil {
			return err
		}
		// The mappers catch what Validate's shallow checks miss.
		if _, err := mapSyncConfig(cfg); err != nil {
			return err
		}
		if _, err := mapMaintenance(cfg); err != nil {
			return err
		}
		if _, err := mapAPI(cfg); err != nil {
			return err
		}
		return nil
	})

	a.orch.Start(a.sup.Context())
	a.maint.Start(a.sup.Context())
	if srv := a.apiService(); srv.Enabled() {
		srv.Start(a.sup.Context())
	}

	// Job lifecycle events at debug level; components subscribe themselves
	// when they need more.
	events, unsub := a.bus.Subscribe(128)
	a.sup.Go("eventbus.log", func(c context.Context) error {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return nil
			case e, ok := <-events:
				if !ok {
					return nil
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go("config.reload", func(c context.Context) error {
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(c, sub)
		return nil
	})
	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.log.Info("app started")
	return nil
}

func (a *App) reloadLoop(ctx context.Context, sub chan *config.Config) {
	lastApplied := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case newCfg, ok := <-sub:
			if !ok {
				return
			}
			// Coalesce bursts: keep only the latest config.
			for {
				select {
				case newer := <-sub:
					if newer != nil {
						newCfg = newer
					}
				default:
					goto APPLY
				}
			}
		APPLY:
			sections, attrs := config.SummarizeChange(lastApplied, newCfg)
			lastApplied = newCfg
			if len(sections) == 0 {
				a.log.Debug("config reload received, but no effective changes detected")
				continue
			}

			a.applyReload(ctx, newCfg, sections)

			fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
			a.log.Info("config reloaded", fields...)
		}
	}
}

// applyReload applies what can change live (logging, maintenance, api) and
// flags the sections that need a restart (orchestrator pool, channel
// senders, storage driver).
func (a *App) applyReload(ctx context.Context, cfg *config.Config, sections []string) {
	for _, s := range sections {
		switch s {
		case "logging":
			a.logs.Apply(mapLogging(cfg))

		case "maintenance":
			mc, err := mapMaintenance(cfg)
			if err != nil {
				a.log.Warn("invalid maintenance config; keeping previous", logx.Err(err))
				continue
			}
			if err := a.maint.Apply(mc); err != nil {
				a.log.Warn("maintenance config rejected; keeping previous", logx.Err(err))
			}

		case "api":
			ac, err := mapAPI(cfg)
			if err != nil {
				a.log.Warn("invalid api config; keeping previous", logx.Err(err))
				continue
			}
			stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
			a.apiService().Stop(stopCtx)
			cancel()

			next := api.New(ac, a.orch, a.log.With(logx.String("comp", "api")))
			a.apiMu.Lock()
			a.api = next
			a.apiMu.Unlock()
			if next.Enabled() {
				next.Start(ctx)
			}

		case "sync", "channels", "source", "storage":
			a.log.Warn("config changed; restart required for changes to take effect",
				logx.String("section", s))
		}
	}
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))

	// Cancel the run context first so background loops start unwinding.
	a.sup.Cancel()

	// step bounds one component's shutdown so it cannot stall the rest.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx := ctx
		var cancel context.CancelFunc
		if max > 0 {
			if dl, ok := ctx.Deadline(); ok {
				if rem := time.Until(dl); rem > 0 && rem < max {
					max = rem
				}
			}
			stepCtx, cancel = context.WithTimeout(ctx, max)
			defer cancel()
		}

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Duration("elapsed", time.Since(start)),
			)
		}
	}

	// API first so no new submissions arrive while the pool drains.
	step("api", 2*time.Second, func(c context.Context) error { a.apiService().Stop(c); return nil })
	step("maintenance", 2*time.Second, func(c context.Context) error { a.maint.Stop(c); return nil })
	step("sync", 5*time.Second, func(c context.Context) error { a.orch.Stop(c); return nil })
	step("store", 1*time.Second, func(c context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}
