package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"wabridge/internal/batch"
	"wabridge/internal/config"
	"wabridge/internal/orchestrator"
	"wabridge/internal/probe"
	"wabridge/internal/runtime/supervisor"
	"wabridge/internal/scheduler"
	"wabridge/internal/storage"
	"wabridge/internal/transport"
	"wabridge/internal/transport/wshost"
	logx "wabridge/pkg/logx"
)

// App wires the bridge together: config, logging, the agent WebSocket
// host, transport correlation, probing, the orchestrator, storage and the
// campaign scheduler. The CRM integration embeds an App and drives it
// through the exported surface (Probe / Compose / StartBatch / ...).
type App struct {
	cfgPath string

	cfgm *config.Manager
	sup  *supervisor.Supervisor

	log  logx.Logger
	logs *logx.Service

	host  *wshost.Host
	tr    *transport.Service
	prb   *probe.Probe
	store storage.Store
	orch  *orchestrator.Service
	sched *scheduler.Service
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	log = log.With(logx.String("comp", "app"))

	host := wshost.New(wshost.Config{ListenAddr: cfg.Transport.ListenAddr},
		logSvc.Logger().With(logx.String("comp", "wshost")))

	probeTimeout, err := config.ParseDurationOrDefault("transport.probe_timeout",
		cfg.Transport.ProbeTimeout, transport.DefaultProbeTimeout)
	if err != nil {
		return nil, err
	}
	tr := transport.New(transport.Config{
		ProbeTimeout: probeTimeout,
		FramesPerSec: cfg.Transport.FramesPerSec,
	}, host, logSvc.Logger().With(logx.String("comp", "transport")))
	host.OnDisconnect = tr.Disconnected

	prb := probe.New(tr, logSvc.Logger().With(logx.String("comp", "probe")))

	store, err := storage.Open(storageConfig(cfg),
		logSvc.Logger().With(logx.String("comp", "storage")))
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}

	watchdog, err := config.ParseDurationField("transport.watchdog_interval",
		cfg.Transport.WatchdogInterval)
	if err != nil {
		return nil, err
	}
	orch := orchestrator.New(orchestrator.Config{WatchdogInterval: watchdog},
		tr, prb, store, logSvc.Logger().With(logx.String("comp", "orchestrator")))

	var sched *scheduler.Service
	if cfg.Scheduler != nil {
		sched = scheduler.New(scheduler.Config{
			Enabled:  cfg.Scheduler.Enabled,
			Timezone: cfg.Scheduler.Timezone,
		}, cfg.Phone.Profile(), defaultThrottle(cfg), orch,
			logSvc.Logger().With(logx.String("comp", "scheduler")))
	}

	return &App{
		cfgPath: cfgPath,
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		host:    host,
		tr:      tr,
		prb:     prb,
		store:   store,
		orch:    orch,
		sched:   sched,
	}, nil
}

// ---- Bridge surface ----

// ProbeAgent reports whether the extension is reachable and logged in.
func (a *App) ProbeAgent(ctx context.Context) probe.AgentStatus {
	return a.prb.Status(ctx, 0)
}

// Compose normalizes the recipients under the configured region profile
// and assembles a batch using the configured default throttle. An empty
// batchID gets a fresh one; retried submissions of the same logical batch
// may pass their own id.
func (a *App) Compose(recipients []batch.Recipient, dryRun bool, createdBy, batchID string) (batch.Batch, []batch.Rejected) {
	cfg := a.cfgm.Get()
	return batch.Compose(cfg.Phone.Profile(), recipients, defaultThrottle(cfg), dryRun, createdBy, batchID)
}

func (a *App) StartBatch(ctx context.Context, b batch.Batch) error { return a.orch.StartBatch(ctx, b) }
func (a *App) Pause(ctx context.Context) error                     { return a.orch.Pause(ctx) }
func (a *App) Resume(ctx context.Context) error                    { return a.orch.Resume(ctx) }
func (a *App) Cancel(ctx context.Context) error                    { return a.orch.Cancel(ctx) }

func (a *App) Progress() orchestrator.Progress          { return a.orch.Progress() }
func (a *App) Events(limit int) []orchestrator.SendEvent { return a.orch.Events(limit) }

func (a *App) SubscribeProgress(buffer int) (<-chan orchestrator.Progress, func()) {
	return a.orch.SubscribeProgress(buffer)
}

func (a *App) SubscribeEvents(buffer int) (<-chan orchestrator.SendEvent, func()) {
	return a.orch.SubscribeEvents(buffer)
}

// RecentReports returns archived terminal-batch reports, newest first.
// Returns storage.ErrDisabled when no archive is configured.
func (a *App) RecentReports(ctx context.Context, n int) ([]storage.BatchReport, error) {
	if a.store == nil {
		return nil, storage.ErrDisabled
	}
	return a.store.RecentReports(ctx, n)
}

// Scheduler returns the campaign scheduler, or nil when not configured.
func (a *App) Scheduler() *scheduler.Service { return a.sched }

// ---- Lifecycle ----

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))

	// Transactional hot reload: reject configs whose runtime mapping would
	// fail, not just structurally invalid ones.
	a.cfgm.SetLogger(a.logs.Logger().With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		if cfg.Scheduler != nil {
			if tz := strings.TrimSpace(cfg.Scheduler.Timezone); tz != "" {
				if _, err := time.LoadLocation(tz); err != nil {
					return fmt.Errorf("scheduler.timezone: invalid %q: %w", tz, err)
				}
			}
		}
		if cur := a.cfgm.Get(); cur != nil && cfg.Transport.ListenAddr != cur.Transport.ListenAddr {
			return fmt.Errorf("transport.listen_addr cannot change at runtime (restart the bridge)")
		}
		return nil
	})

	if err := a.tr.Start(a.sup.Context()); err != nil {
		return err
	}
	a.orch.Start(a.sup.Context())
	if a.sched != nil && a.sched.Enabled() {
		a.sched.Start(a.sup.Context())
	}

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		for {
			select {
			case <-c.Done():
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
				a.applyConfig(c, newCfg)
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.log.Info("bridge started")
	return nil
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Stop(ctx context.Context) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping")
	a.sup.Cancel()

	// Bounded shutdown steps so one component can't stall the whole stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		stepCtx, cancel := context.WithTimeout(ctx, max)
		defer cancel()
		start := time.Now()
		if err := fn(stepCtx); err != nil {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		}
		a.log.Debug("stop step done", logx.String("name", name), logx.Duration("took", time.Since(start)))
	}

	if a.sched != nil {
		step("scheduler", 2*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	}
	step("orchestrator", 2*time.Second, func(context.Context) error { a.orch.Stop(); return nil })
	step("transport", 2*time.Second, func(c context.Context) error { a.tr.Stop(c); return nil })
	if a.store != nil {
		step("storage", 2*time.Second, func(context.Context) error { return a.store.Close() })
	}
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })

	a.log.Info("stopped")
	return a.logs.Close()
}

// applyConfig maps a validated hot-reloaded config onto the live services.
// Listen address changes are rejected by the validator; everything else
// applies without restart.
func (a *App) applyConfig(ctx context.Context, cfg *config.Config) {
	a.logs.Apply(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})

	if a.sched != nil {
		wasEnabled := a.sched.Enabled()
		schedCfg := scheduler.Config{}
		if cfg.Scheduler != nil {
			schedCfg = scheduler.Config{Enabled: cfg.Scheduler.Enabled, Timezone: cfg.Scheduler.Timezone}
		}
		a.sched.Apply(schedCfg)

		if wasEnabled && !schedCfg.Enabled {
			a.log.Info("scheduler disabled via config")
			stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
			a.sched.Stop(stopCtx)
			cancel()
		} else if !wasEnabled && schedCfg.Enabled {
			a.log.Info("scheduler enabled via config")
			a.sched.Start(ctx)
		}
	}

	a.log.Info("config reloaded")
}

func storageConfig(cfg *config.Config) storage.Config {
	if cfg.Storage == nil {
		return storage.Config{}
	}
	busy, err := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
	if err != nil {
		busy = 0
	}
	return storage.Config{
		Driver:      cfg.Storage.Driver,
		Path:        cfg.Storage.Path,
		BusyTimeout: busy,
	}
}

func defaultThrottle(cfg *config.Config) batch.ThrottlePolicy {
	return batch.ThrottlePolicy{
		PerMinute:     cfg.Throttle.PerMinute,
		JitterSeconds: cfg.Throttle.JitterSeconds,
	}
}
