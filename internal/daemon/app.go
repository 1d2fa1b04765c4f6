// Package daemon wires configuration, relays, sources, pipelines and the
// scheduler into one supervised process.
package daemon

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/Hitchwiki/nostrhitch/internal/config"
	"github.com/Hitchwiki/nostrhitch/internal/dedup"
	"github.com/Hitchwiki/nostrhitch/internal/httpx"
	"github.com/Hitchwiki/nostrhitch/internal/metrics"
	"github.com/Hitchwiki/nostrhitch/internal/pipeline"
	"github.com/Hitchwiki/nostrhitch/internal/relay"
	"github.com/Hitchwiki/nostrhitch/internal/scheduler"
	"github.com/Hitchwiki/nostrhitch/internal/source/hitchmap"
	"github.com/Hitchwiki/nostrhitch/internal/source/hitchwiki"
	"github.com/Hitchwiki/nostrhitch/pkg/logx"
)

// Options are the command-line level switches.
type Options struct {
	ConfigPath            string
	RunOnce               bool
	DryRun                bool
	Debug                 bool
	DisableDuplicateCheck bool
}

// Source produces candidate items for one pipeline run.
type Source interface {
	Name() string
	Fetch(ctx context.Context) ([]pipeline.Item, error)
}

// boundSource pairs a source with its pipeline and schedule.
type boundSource struct {
	src      Source
	pipeline *pipeline.Pipeline
	interval string
}

type App struct {
	opts Options

	cfgm *config.Manager
	logs *logx.Service
	log  logx.Logger

	relays  *relay.Client
	guard   *dedup.Guard
	sched   *scheduler.Service
	metrics *metrics.Metrics
	dbg     *debugServer
	sup     *Supervisor

	sources []boundSource

	cleanupOnce sync.Once
}

// NewApp loads configuration and builds every component. Invalid
// credentials or config fail here, before anything touches the network.
func NewApp(opts Options) (*App, error) {
	cfgm := config.NewManager(opts.ConfigPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if opts.DryRun {
		cfg.DryRun = true
	}

	level := cfg.Logging.Level
	if opts.Debug {
		level = "debug"
	}
	logs, log := logx.New(logx.Config{
		Level:   level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	log = log.With(logx.String("comp", "app"))

	relays, err := relay.New(cfg.Identity.Nsec, cfg.Relays, log.With(logx.String("comp", "relay")))
	if err != nil {
		logs.Close()
		return nil, err
	}

	timeout, _ := config.ParseDurationOrDefault("fetch.timeout", cfg.Fetch.Timeout, 30*time.Second)
	cacheTTL, _ := config.ParseDurationOrDefault("fetch.cache_ttl", cfg.Fetch.CacheTTL, time.Minute)
	fetcher := httpx.New(httpx.Options{
		Timeout:    timeout,
		CacheTTL:   cacheTTL,
		RetryMax:   cfg.Fetch.RetryMax,
		RatePerSec: cfg.Fetch.RatePerSec,
		UserAgent:  cfg.Fetch.UserAgent,
	}, log.With(logx.String("comp", "http")))

	guard := dedup.NewGuard(log.With(logx.String("comp", "dedup")))
	if opts.DisableDuplicateCheck {
		guard.Disable()
		log.Warn("duplicate checking disabled")
	}

	sched := scheduler.New(scheduler.Config{
		Workers:     2,
		HistorySize: 100,
		RetryMax:    1,
	}, log.With(logx.String("comp", "scheduler")))

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	mets := metrics.New(registry)

	a := &App{
		opts:    opts,
		cfgm:    cfgm,
		logs:    logs,
		log:     log,
		relays:  relays,
		guard:   guard,
		sched:   sched,
		metrics: mets,
		dbg:     newDebugServer(log.With(logx.String("comp", "debug")), sched, registry),
	}

	dryRun := cfg.DryRun
	if config.SourceEnabled(cfg.Sources.Hitchwiki.Enabled) {
		delay, _ := config.ParseDurationOrDefault("sources.hitchwiki.language_delay", cfg.Sources.Hitchwiki.LanguageDelay, 10*time.Second)
		src := hitchwiki.New(fetcher, hitchwiki.Options{
			BaseURL:       cfg.Sources.Hitchwiki.BaseURL,
			Languages:     cfg.Sources.Hitchwiki.Languages,
			LanguageDelay: delay,
		}, log)
		a.sources = append(a.sources, boundSource{
			src:      src,
			pipeline: pipeline.New(src.Name(), guard, relays, dryRun, log),
			interval: cfg.Sources.Hitchwiki.Interval,
		})
	}
	if config.SourceEnabled(cfg.Sources.Hitchmap.Enabled) {
		src := hitchmap.New(fetcher, hitchmap.Options{
			DumpURL:    cfg.Sources.Hitchmap.DumpURL,
			DumpDir:    cfg.Sources.Hitchmap.DumpDir,
			WindowDays: cfg.Sources.Hitchmap.WindowDays,
		}, log)
		a.sources = append(a.sources, boundSource{
			src:      src,
			pipeline: pipeline.New(src.Name(), guard, relays, dryRun, log),
			interval: cfg.Sources.Hitchmap.Interval,
		})
	}
	if len(a.sources) == 0 {
		logs.Close()
		return nil, fmt.Errorf("no sources enabled")
	}
	return a, nil
}

// Run connects, seeds the guard, and either performs one synchronous pass
// (run-once) or schedules both sources until ctx is cancelled. It returns
// after cleanup has completed.
func (a *App) Run(ctx context.Context) error {
	cfg := a.cfgm.Get()

	if err := a.relays.Connect(ctx); err != nil {
		// A dry run exercises everything short of the network, so carry on.
		if !cfg.DryRun {
			a.cleanup()
			return err
		}
		a.log.Warn("continuing dry run without relays", logx.Err(err))
	} else {
		if err := a.relays.EnsureProfile(ctx, relay.DefaultProfile); err != nil {
			a.log.Warn("profile upkeep failed", logx.Err(err))
		}
		if !a.opts.DisableDuplicateCheck {
			a.guard.Seed(ctx, a.relays, cfg.SeedLimit)
			a.metrics.GuardSize.Set(float64(a.guard.Len()))
		}
	}

	if a.opts.RunOnce {
		defer a.cleanup()
		for _, b := range a.sources {
			a.runSource(ctx, b)
		}
		return ctx.Err()
	}

	a.sup = NewSupervisor(ctx, WithLogger(a.log), WithCancelOnError(false))
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(c context.Context, cfg *config.Config) error {
		for _, b := range a.sources {
			name := b.src.Name()
			iv := sourceInterval(cfg, name)
			if iv == "" {
				continue
			}
			if _, err := scheduler.ParseSchedule(iv); err != nil {
				return fmt.Errorf("sources.%s.interval: %w", name, err)
			}
		}
		return nil
	})

	for _, b := range a.sources {
		b := b
		_, err := a.sched.AddSchedule(b.src.Name(), b.interval, 0, scheduler.TaskOptions{
			Overlap:    scheduler.OverlapSkipIfRunning,
			RunAtStart: true,
		}, func(c context.Context) error {
			a.runSource(c, b)
			return nil
		})
		if err != nil {
			a.cleanup()
			return fmt.Errorf("schedule %s: %w", b.src.Name(), err)
		}
	}
	a.sched.Start(a.sup.Context())

	if cfg.Debug.Enabled || a.opts.Debug {
		a.dbg.Start(cfg.Debug.Addr)
	}

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})
	sub := a.cfgm.Subscribe(8)
	a.sup.Go("config.reload", func(c context.Context) error {
		defer a.cfgm.Unsubscribe(sub)
		for {
			select {
			case <-c.Done():
				return nil
			case newCfg, ok := <-sub:
				if !ok {
					return nil
				}
				a.applyReload(newCfg)
			}
		}
	})

	a.log.Info("daemon running",
		logx.Int("sources", len(a.sources)),
		logx.Bool("dry_run", cfg.DryRun),
	)

	<-ctx.Done()
	stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	a.Stop(stopCtx)
	return nil
}

// runSource does one fetch-and-publish pass for a source. A whole-source
// fetch failure means zero items this run; the next interval retries.
func (a *App) runSource(ctx context.Context, b boundSource) {
	name := b.src.Name()
	start := time.Now()

	items, err := b.src.Fetch(ctx)
	if err != nil {
		a.log.Warn("source fetch failed",
			logx.String("source", name),
			logx.Int("partial_items", len(items)),
			logx.Err(err),
		)
	}
	rep := b.pipeline.Run(ctx, items)
	a.metrics.ObserveRun(name, rep, time.Since(start))
	a.metrics.GuardSize.Set(float64(a.guard.Len()))
}

// applyReload handles a committed config change: logging level/sinks, the
// dry-run flag and source intervals apply live, the rest needs a restart.
func (a *App) applyReload(cfg *config.Config) {
	if cfg == nil {
		return
	}
	a.logs.Apply(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})

	dryRun := cfg.DryRun || a.opts.DryRun
	for i := range a.sources {
		b := a.sources[i]
		b.pipeline.SetDryRun(dryRun)
		name := b.src.Name()
		iv := sourceInterval(cfg, name)
		if iv == "" || iv == b.interval {
			continue
		}
		_, err := a.sched.AddSchedule(name, iv, 0, scheduler.TaskOptions{
			Overlap: scheduler.OverlapSkipIfRunning,
		}, func(c context.Context) error {
			a.runSource(c, b)
			return nil
		})
		if err != nil {
			a.log.Warn("interval update rejected", logx.String("source", name), logx.Err(err))
			continue
		}
		// Remember what is now scheduled, or a later reload that reverts to
		// the startup interval would compare against stale state and no-op.
		a.sources[i].interval = iv
		a.log.Info("interval updated", logx.String("source", name), logx.String("interval", iv))
	}
	a.log.Info("config reloaded")
}

func sourceInterval(cfg *config.Config, name string) string {
	switch name {
	case "hitchwiki":
		return cfg.Sources.Hitchwiki.Interval
	case "hitchmap":
		return cfg.Sources.Hitchmap.Interval
	}
	return ""
}

// Stop unwinds the daemon: scheduler, debug server, relays, supervised
// goroutines. Each step is bounded so one component cannot stall the rest.
func (a *App) Stop(ctx context.Context) {
	a.log.Info("stopping")
	if a.sup != nil {
		a.sup.Cancel()
	}

	step := func(name string, max time.Duration, fn func(context.Context)) {
		start := time.Now()
		stepCtx := ctx
		var cancel context.CancelFunc
		if max > 0 {
			if dl, ok := ctx.Deadline(); ok {
				if rem := time.Until(dl); rem < max {
					max = rem
				}
			}
			if max > 0 {
				stepCtx, cancel = context.WithTimeout(ctx, max)
				defer cancel()
			}
		}

		done := make(chan struct{})
		go func() {
			defer close(done)
			defer func() {
				if r := recover(); r != nil {
					a.log.Warn("panic in stop step", logx.String("name", name), logx.Any("panic", r))
				}
			}()
			fn(stepCtx)
		}()

		select {
		case <-done:
			a.log.Debug("stop step done", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached",
				logx.String("name", name),
				logx.Duration("elapsed", time.Since(start)),
			)
		}
	}

	step("scheduler", 2*time.Second, func(c context.Context) { a.sched.Stop(c) })
	step("debug", time.Second, func(c context.Context) { a.dbg.Stop(c) })
	step("relays", 2*time.Second, func(c context.Context) { a.cleanup() })
	if a.sup != nil {
		step("supervisor", 2*time.Second, func(c context.Context) { _ = a.sup.Wait(c) })
	}
	a.log.Info("stopped")
}

// cleanup releases external resources. Runs exactly once regardless of how
// many exit paths reach it.
func (a *App) cleanup() {
	a.cleanupOnce.Do(func() {
		a.relays.CloseAll()
		a.log.Debug("cleanup complete")
	})
}

// Close flushes and closes the log sinks. Call after Run has returned.
func (a *App) Close() error {
	return a.logs.Close()
}
