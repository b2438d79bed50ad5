// Package job wraps a single job body: it owns the cancel handle of the
// in-flight run, the cooperative stop flag and the run-level bookkeeping
// (timing, panic recovery, error logging).
package job

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	logx "pifan/pkg/logx"
)

// ErrJobFailed wraps every error or panic returned by a job body.
var ErrJobFailed = errors.New("job execution failed")

// Func is a job body. Long-running bodies should poll ctx (see Stopped).
type Func func(ctx context.Context) error

// Simple adapts a body that neither fails nor observes cancellation.
func Simple(fn func()) Func {
	return func(context.Context) error {
		fn()
		return nil
	}
}

// Stopped reports whether the run owning ctx was asked to stop.
func Stopped(ctx context.Context) bool {
	return ctx.Err() != nil
}

// Result describes one run.
type Result struct {
	Started     time.Time
	Finished    time.Time
	Duration    time.Duration
	Err         error
	Interrupted bool
	// Skipped is set when a stop was requested before the body started.
	Skipped bool
}

// Runner tracks the executions of one named job. A Runner is shared by the
// dispatcher (which gates submission) and the worker executing the body.
type Runner struct {
	name string
	log  logx.Logger

	// cancel is the handle of the in-flight run; nil when idle.
	cancel   atomic.Pointer[context.CancelFunc]
	stop     atomic.Bool
	inflight atomic.Bool

	mu      sync.Mutex
	started time.Time
	runs    uint64
	fails   uint64
}

func New(name string, log logx.Logger) *Runner {
	return &Runner{name: name, log: log.With(logx.String("job", name))}
}

func (r *Runner) Name() string { return r.name }

// TryAcquire marks the job as queued-or-running and clears any stale stop
// request. It returns false if a previous run has not been released yet.
func (r *Runner) TryAcquire() bool {
	if !r.inflight.CompareAndSwap(false, true) {
		return false
	}
	r.Reset()
	return true
}

// Release ends the in-flight window opened by TryAcquire.
func (r *Runner) Release() { r.inflight.Store(false) }

// InFlight reports whether a run is queued or executing.
func (r *Runner) InFlight() bool { return r.inflight.Load() }

// Running reports whether the body is executing right now.
func (r *Runner) Running() bool { return r.cancel.Load() != nil }

func (r *Runner) StopRequested() bool { return r.stop.Load() }

// Reset clears the stop flag ahead of the next run.
func (r *Runner) Reset() { r.stop.Store(false) }

// RequestInterrupt sets the stop flag and cancels the running body, if any.
// It reports whether a run was signalled: a running body has its context
// cancelled, a queued run is skipped when a worker picks it up.
// Cancellation is cooperative: the body has to observe its context.
func (r *Runner) RequestInterrupt() bool {
	r.stop.Store(true)
	if cancel := r.cancel.Load(); cancel != nil {
		(*cancel)()
		r.log.Info("job interrupted")
		return true
	}
	if r.inflight.Load() {
		r.log.Info("queued run will be skipped")
		return true
	}
	r.log.Debug("interrupt requested but job is not running")
	return false
}

// Started returns the start time of the executing run (zero when idle).
func (r *Runner) Started() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.started
}

// Counters returns the number of completed runs and of failed ones.
func (r *Runner) Counters() (runs, failures uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.runs, r.fails
}

// Run executes work once under a child of ctx. Failures and panics are
// logged and reported in Result.Err; they never propagate to the caller.
func (r *Runner) Run(ctx context.Context, work Func) (res Result) {
	res.Started = time.Now()

	// Publish the handle before reading the flag: an interrupt racing with
	// the start either finds the handle or is seen here.
	runCtx, cancel := context.WithCancel(ctx)
	r.cancel.Store(&cancel)
	if r.stop.Load() {
		r.cancel.Store(nil)
		cancel()
		res.Finished = res.Started
		res.Skipped = true
		res.Interrupted = true
		r.log.Debug("job skipped: stop requested before start")
		return res
	}

	r.mu.Lock()
	r.started = res.Started
	r.mu.Unlock()
	r.log.Trace("job started")

	defer func() {
		if p := recover(); p != nil {
			res.Err = fmt.Errorf("%w: %s: panic: %v", ErrJobFailed, r.name, p)
			r.log.Error("job panicked", logx.Any("panic", p), logx.Stack(string(debug.Stack())))
		}
		r.cancel.Store(nil)
		cancel()

		res.Finished = time.Now()
		res.Duration = res.Finished.Sub(res.Started)
		res.Interrupted = r.stop.Load()

		r.mu.Lock()
		r.started = time.Time{}
		r.runs++
		if res.Err != nil {
			r.fails++
		}
		r.mu.Unlock()

		switch {
		case res.Err != nil:
			r.log.Error("job failed", logx.Err(res.Err), logx.Duration("dur", res.Duration))
		case res.Interrupted:
			r.log.Info("job stopped", logx.Duration("dur", res.Duration))
		default:
			r.log.Trace("job finished", logx.Duration("dur", res.Duration))
		}
	}()

	if err := work(runCtx); err != nil {
		res.Err = fmt.Errorf("%w: %s: %w", ErrJobFailed, r.name, err)
	}
	return res
}
