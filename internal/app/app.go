// Package app wires configuration, logging, storage, the actuator, the
// scheduler and the status server into one process lifecycle.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"pifan/internal/actuator"
	"pifan/internal/config"
	"pifan/internal/eventbus"
	"pifan/internal/httpapi"
	"pifan/internal/observability/metrics"
	rtsup "pifan/internal/runtime/supervisor"
	"pifan/internal/storage"
	"pifan/internal/task/scheduler"
	logx "pifan/pkg/logx"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/jonboulle/clockwork"
)

type App struct {
	cfgm *config.Manager
	sup  *rtsup.Supervisor

	log      logx.Logger
	logs     *logx.Service
	bus      eventbus.Bus
	store    storage.Store
	recorder *storage.Recorder
	metrics  *metrics.Metrics
	guard    *actuator.Guard
	sched    *scheduler.Service
	http     *httpapi.Server
	notifier Notifier

	hooksMu sync.Mutex
	hooks   []shutdownHook

	stopping atomic.Bool
}

type shutdownHook struct {
	name string
	fn   func(context.Context) error
}

type options struct {
	actuator actuator.Actuator
	clock    clockwork.Clock
	notifier Notifier
}

type Option func(*options)

// WithActuator bypasses actuator.Open with an already opened driver.
func WithActuator(a actuator.Actuator) Option { return func(o *options) { o.actuator = a } }

func WithClock(c clockwork.Clock) Option { return func(o *options) { o.clock = c } }

// WithNotifier replaces the systemd notifier.
func WithNotifier(n Notifier) Option { return func(o *options) { o.notifier = n } }

// New loads the config at cfgPath (empty means built-in defaults) and builds
// every component. Nothing is scheduled until Start.
func New(cfgPath string, opts ...Option) (a *App, err error) {
	o := options{clock: clockwork.NewRealClock(), notifier: sdNotifier{}}
	for _, opt := range opts {
		opt(&o)
	}

	cfgm := config.NewManager(cfgPath, logx.NewConsole("INFO"))
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logs, base := logx.New(cfg.LogConfig())
	cfgm.SetLogger(base)
	a = &App{
		cfgm:     cfgm,
		log:      base.With(logx.String("comp", "app")),
		logs:     logs,
		bus:      eventbus.New(),
		notifier: o.notifier,
	}
	// Undo partial construction on failure.
	defer func() {
		if err != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			a.runHooks(ctx)
			if a.store != nil {
				_ = a.store.Close()
			}
			_ = logs.Close()
		}
	}()

	a.store, err = storage.Open(storage.Config{Driver: cfg.Storage.Driver, Path: cfg.Storage.Path}, base)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	if a.store != nil {
		a.log.Info("storage enabled", logx.String("driver", cfg.Storage.Driver))
	}
	a.recorder = storage.NewRecorder(a.store, a.bus, base)
	a.metrics = metrics.New(a.bus)

	acfg := cfg.ActuatorConfig()
	drv := o.actuator
	if drv == nil {
		octx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		drv, err = actuator.Open(octx, acfg, base)
		cancel()
		if err != nil {
			return nil, fmt.Errorf("open actuator: %w", err)
		}
	}
	a.guard = actuator.NewGuard(drv, acfg.Description, acfg.MinToggleInterval, base, a.bus)
	a.OnShutdown("actuator.off", a.guard.Close)

	a.sched, err = scheduler.New(cfg.SchedulerConfig(), nil,
		scheduler.WithLogger(base),
		scheduler.WithBus(a.bus),
		scheduler.WithClock(o.clock),
	)
	if err != nil {
		return nil, err
	}
	a.metrics.WatchPool(a.sched.Pool().Snapshot)

	if cfg.HTTP.Enabled {
		read, write := cfg.HTTPTimeouts()
		a.http = httpapi.New(httpapi.Config{
			Addr:         cfg.HTTPAddr(),
			ReadTimeout:  read,
			WriteTimeout: write,
			Pprof:        cfg.HTTP.Pprof,
		}, httpapi.Deps{
			Scheduler: a.sched,
			Store:     a.store,
			Output:    a.guard,
			Metrics:   a.metrics.Handler(),
		}, base)
	}
	return a, nil
}

// OnShutdown registers fn to run during Stop, after the scheduler has
// stopped. Hooks run in reverse registration order.
func (a *App) OnShutdown(name string, fn func(context.Context) error) {
	a.hooksMu.Lock()
	a.hooks = append(a.hooks, shutdownHook{name: name, fn: fn})
	a.hooksMu.Unlock()
}

func (a *App) runHooks(ctx context.Context) {
	a.hooksMu.Lock()
	hooks := a.hooks
	a.hooks = nil
	a.hooksMu.Unlock()
	for i := len(hooks) - 1; i >= 0; i-- {
		if err := hooks[i].fn(ctx); err != nil {
			a.log.Warn("shutdown hook failed", logx.String("hook", hooks[i].name), logx.Err(err))
		}
	}
}

func (a *App) Scheduler() *scheduler.Service { return a.sched }

func (a *App) Output() *actuator.Guard { return a.guard }

// Done is closed when the app context ends, including on a fatal error in a
// supervised goroutine.
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// Start applies the boot state, registers the jobs and starts the
// background loops.
func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	c := a.sup.Context()
	cfg := a.cfgm.Get()

	a.sup.Go("metrics", a.metrics.Run)
	a.sup.Go("recorder", a.recorder.Run)

	if err := a.applyBootState(c, cfg.BootState()); err != nil {
		return fmt.Errorf("boot state %s: %w", cfg.BootState(), err)
	}
	if err := a.registerJobs(cfg); err != nil {
		return err
	}
	if a.http != nil {
		a.http.Start(c)
	}

	sub := a.cfgm.Subscribe(8)
	a.sup.Go("config.reload", func(c context.Context) error {
		defer a.cfgm.Unsubscribe(sub)
		applied := cfg
		for {
			select {
			case <-c.Done():
				return nil
			case newCfg, ok := <-sub:
				if !ok {
					return nil
				}
				a.applyConfig(applied, newCfg)
				applied = newCfg
			}
		}
	})
	a.sup.Go("config.watch", a.cfgm.Watch)

	a.notify(daemon.SdNotifyReady)
	if every := a.notifier.WatchdogInterval(); every > 0 {
		a.log.Info("systemd watchdog enabled", logx.Duration("interval", every))
		a.sup.Go("watchdog", func(c context.Context) error { return a.watchdog(c, every) })
	}

	a.log.Info("app started",
		logx.String("poller", a.sched.Snapshot().Name),
		logx.Strings("jobs", a.sched.Names()),
		logx.String("output", a.guard.State().String()),
		logx.Bool("http", a.http != nil),
	)
	return nil
}

// applyConfig is the hot-reload path: logging and jobs change in place,
// everything else is reported as needing a restart.
func (a *App) applyConfig(oldCfg, newCfg *config.Config) {
	sections, attrs, restart := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Debug("config reload received, but no effective changes detected")
		return
	}
	a.logs.Apply(newCfg.LogConfig())
	a.applyJobs(oldCfg, newCfg)
	if len(restart) > 0 {
		a.log.Warn("config changes need a restart to take effect", logx.Strings("sections", restart))
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config applied", fields...)
}

// Stop unwinds in dependency order: status server, scheduler (and its
// pool), shutdown hooks (the output is driven off), storage, logging.
// Stop is idempotent and also releases an App that was never started.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if !a.stopping.CompareAndSwap(false, true) {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.notify(daemon.SdNotifyStopping)
	if a.sup != nil {
		a.sup.Cancel()
	}

	var errs []error
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx, cancel := context.WithTimeout(ctx, max)
		defer cancel()

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
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Duration("elapsed", time.Since(start)),
			)
		}
	}

	step("http", 2*time.Second, func(c context.Context) error {
		if a.http != nil {
			a.http.Stop(c)
		}
		return nil
	})
	step("scheduler", 5*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	step("hooks", 5*time.Second, func(c context.Context) error { a.runHooks(c); return nil })
	if a.sup != nil {
		step("supervisor", 2*time.Second, a.sup.Wait)
	}
	step("storage", time.Second, func(context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return errors.Join(errs...)
}
