package scheduler

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"pifan/internal/eventbus"
	"pifan/internal/props"
	rtsup "pifan/internal/runtime/supervisor"
	"pifan/internal/task/engine"
	logx "pifan/pkg/logx"

	"github.com/jonboulle/clockwork"
)

// DefaultName is the poller name used when Config.Name is empty.
const DefaultName = "FanSchedule"

// onceRetryDelay re-arms a one-shot whose name still has a run in flight.
const onceRetryDelay = time.Second

type Config struct {
	// Name selects the pool size key poller.<Name>.numThreads.
	Name     string
	Timezone string
	// InterruptOnUnregistration cancels the in-flight run of a registration
	// that is removed or replaced.
	InterruptOnUnregistration bool

	Properties  props.Properties
	QueueSize   int
	HistorySize int

	// MaxQueueDelay drops runs that waited longer than this for a worker.
	MaxQueueDelay time.Duration
}

// PoolConfig derives the worker pool sizing from cfg.
func (c Config) PoolConfig() engine.Config {
	name := strings.TrimSpace(c.Name)
	if name == "" {
		name = DefaultName
	}
	return engine.Config{
		Workers:       c.Properties.Int(props.PollerThreadsKey(name), props.DefaultPollerThreads),
		QueueSize:     c.QueueSize,
		HistorySize:   c.HistorySize,
		MaxQueueDelay: c.MaxQueueDelay,
	}
}

type Option func(*Service)

// WithClock replaces the real clock, typically with a clockwork.FakeClock.
func WithClock(c clockwork.Clock) Option { return func(s *Service) { s.clock = c } }

func WithLogger(log logx.Logger) Option { return func(s *Service) { s.log = log } }

// WithBus is used to build the worker pool when New is given none.
func WithBus(bus eventbus.Bus) Option { return func(s *Service) { s.bus = bus } }

type Service struct {
	cfg   Config
	name  string
	loc   *time.Location
	clock clockwork.Clock
	log   logx.Logger
	bus   eventbus.Bus
	pool  *engine.Service
	sup   *rtsup.Supervisor

	mu      sync.Mutex
	regs    map[string]*registration
	queue   regHeap
	seq     uint64
	stopped bool

	update   chan chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// New builds the scheduler, starts its worker pool and its dispatch loop.
// A nil pool is built from cfg.PoolConfig. Start failures wrap ErrInit.
func New(cfg Config, pool *engine.Service, opts ...Option) (*Service, error) {
	s := &Service{
		cfg:    cfg,
		name:   strings.TrimSpace(cfg.Name),
		clock:  clockwork.NewRealClock(),
		regs:   map[string]*registration{},
		update: make(chan chan struct{}),
		done:   make(chan struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	if s.name == "" {
		s.name = DefaultName
	}
	base := s.log
	s.log = s.log.With(logx.String("comp", "scheduler"), logx.String("poller", s.name))

	s.loc = time.Local
	if tz := strings.TrimSpace(cfg.Timezone); tz != "" {
		loc, err := time.LoadLocation(tz)
		if err != nil {
			return nil, fmt.Errorf("%w: timezone %q: %v", ErrInit, tz, err)
		}
		s.loc = loc
	}

	if pool == nil {
		pool = engine.New(cfg.PoolConfig(), base, s.bus)
	}
	s.pool = pool

	s.sup = rtsup.New(context.Background(), rtsup.WithLogger(s.log))
	if err := pool.Start(s.sup.Context()); err != nil {
		s.sup.Cancel()
		return nil, fmt.Errorf("%w: %v", ErrInit, err)
	}
	s.sup.GoRestart("dispatch", s.run)

	s.log.Info("scheduler started",
		logx.Int("workers", pool.Workers()),
		logx.String("timezone", s.loc.String()),
		logx.Bool("interrupt_on_unregistration", cfg.InterruptOnUnregistration),
	)
	return s, nil
}

func (s *Service) Pool() *engine.Service { return s.pool }

func (s *Service) Location() *time.Location { return s.loc }

func (s *Service) now() time.Time { return s.clock.Now().In(s.loc) }

// Stop halts dispatch and the worker pool. Running jobs see their context
// cancelled. Registrations made afterwards fail with ErrStopped.
func (s *Service) Stop(ctx context.Context) {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		s.stopped = true
		s.mu.Unlock()

		if err := s.sup.Stop(ctx); err != nil && !errors.Is(err, context.Canceled) {
			s.log.Warn("dispatch loop stop incomplete", logx.Err(err))
		}
		close(s.done)
		s.pool.Stop(ctx)
		s.log.Info("scheduler stopped")
	})
}

// run is the dispatch loop. Every pass fires what is due, re-arms the timer
// for the earliest registration and only then acknowledges a pending
// registry change, so callers observe a consistent timer after poke returns.
func (s *Service) run(ctx context.Context) error {
	var ack chan struct{}
	defer func() {
		if ack != nil {
			close(ack)
		}
	}()

	for {
		s.dispatchDue()
		timer, wait := s.arm()
		if ack != nil {
			close(ack)
			ack = nil
		}

		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return ctx.Err()
		case ack = <-s.update:
		case <-wait:
		}
		if timer != nil {
			timer.Stop()
		}
	}
}

var firedNow = func() chan time.Time {
	ch := make(chan time.Time)
	close(ch)
	return ch
}()

// arm returns a timer for the earliest registration. With nothing
// registered it returns a nil channel and the loop waits for an update.
func (s *Service) arm() (clockwork.Timer, <-chan time.Time) {
	s.mu.Lock()
	head := s.queue.peek()
	var d time.Duration
	if head != nil {
		d = head.next.Sub(s.now())
	}
	s.mu.Unlock()

	switch {
	case head == nil:
		return nil, nil
	case d <= 0:
		return nil, firedNow
	}
	t := s.clock.NewTimer(d)
	return t, t.Chan()
}

// poke wakes the dispatch loop and waits until it has re-armed.
func (s *Service) poke() {
	ack := make(chan struct{})
	select {
	case s.update <- ack:
	case <-s.done:
		return
	}
	select {
	case <-ack:
	case <-s.done:
	}
}

func (s *Service) dispatchDue() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for {
		r := s.queue.peek()
		if r == nil || r.next.After(now) {
			return
		}
		heap.Pop(&s.queue)
		fireAt := r.next
		err := s.submitLocked(r, fireAt)

		if r.sched.Kind() == KindOnce && errors.Is(err, engine.ErrOverlapSkip) {
			r.next = now.Add(onceRetryDelay)
			heap.Push(&s.queue, r)
			continue
		}

		next, err := r.sched.after(fireAt, now)
		switch {
		case errors.Is(err, errRetired):
			s.removeLocked(r)
			s.log.Debug("schedule retired", logx.String("name", r.name))
		case err != nil:
			s.removeLocked(r)
			s.log.Error("schedule dropped: no upcoming fire time", logx.String("name", r.name), logx.String("spec", r.sched.String()), logx.Err(err))
		default:
			r.next = next
			heap.Push(&s.queue, r)
		}
	}
}

// submitLocked hands one firing to the pool. Submission never blocks, so it
// is safe under s.mu, which keeps replaced registrations from firing late.
func (s *Service) submitLocked(r *registration, fireAt time.Time) error {
	err := s.pool.Submit(engine.Task{Name: r.name, Runner: r.runner, Work: r.work, Scheduled: fireAt})
	switch {
	case err == nil:
		r.fired++
		r.prev = fireAt
		s.log.Trace("schedule fired", logx.String("name", r.name), logx.Time("at", fireAt))
	case errors.Is(err, engine.ErrOverlapSkip):
		r.skipped++
		s.log.Debug("schedule skipped: previous run still active", logx.String("name", r.name), logx.Time("at", fireAt))
	default:
		r.dropped++
		s.log.Error("schedule submit failed", logx.String("name", r.name), logx.Time("at", fireAt), logx.Err(err))
	}
	return err
}

// removeLocked drops r from the map (if it is still the live registration
// for its name) and from the heap.
func (s *Service) removeLocked(r *registration) {
	if cur, ok := s.regs[r.name]; ok && cur == r {
		delete(s.regs, r.name)
	}
	if r.index >= 0 {
		heap.Remove(&s.queue, r.index)
	}
}
