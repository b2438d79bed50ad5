// Package engine is the bounded worker pool that executes scheduled jobs.
//
// Submission never blocks: a full queue drops the task (the next fire time
// retries naturally) and a job whose previous run is still queued or running
// is skipped.
package engine

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"pifan/internal/eventbus"
	rtsup "pifan/internal/runtime/supervisor"
	logx "pifan/pkg/logx"

	"github.com/google/uuid"
)

const warnThrottleEvery = 5 * time.Second

type Service struct {
	mu  sync.Mutex
	cfg Config
	log logx.Logger
	bus eventbus.Bus

	q      chan queuedTask
	sup    *rtsup.Supervisor
	stopCh chan struct{}

	inFlight  atomic.Int32
	completed atomic.Uint64
	failed    atomic.Uint64
	skipped   atomic.Uint64
	dropped   atomic.Uint64

	lastDropWarnAt atomic.Int64

	hmu     sync.Mutex
	history []HistoryItem
}

type queuedTask struct {
	task       Task
	enqueuedAt time.Time
}

func New(cfg Config, log logx.Logger, bus eventbus.Bus) *Service {
	return &Service{
		cfg: cfg.withDefaults(),
		log: log.With(logx.String("comp", "engine")),
		bus: bus,
	}
}

func (s *Service) Workers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Workers
}

// Start launches the workers. It is idempotent while running.
func (s *Service) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("start worker pool: %w", err)
	}

	s.mu.Lock()
	if s.stopCh != nil {
		s.mu.Unlock()
		return nil
	}
	cfg := s.cfg
	s.q = make(chan queuedTask, cfg.QueueSize)
	s.stopCh = make(chan struct{})
	s.sup = rtsup.New(ctx, rtsup.WithLogger(s.log))
	queue, stopCh, sup := s.q, s.stopCh, s.sup
	s.mu.Unlock()

	for i := 0; i < cfg.Workers; i++ {
		sup.GoRestart(fmt.Sprintf("worker.%d", i), func(c context.Context) error {
			s.worker(c, stopCh, queue)
			select {
			case <-stopCh:
				return nil
			default:
			}
			return c.Err()
		})
	}

	s.log.Info("worker pool started", logx.Int("workers", cfg.Workers), logx.Int("queue", cfg.QueueSize))
	return nil
}

// Stop cancels running jobs, waits for the workers and releases anything
// still queued.
func (s *Service) Stop(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	if s.stopCh == nil {
		s.mu.Unlock()
		return
	}
	close(s.stopCh)
	sup, queue := s.sup, s.q
	s.stopCh, s.sup, s.q = nil, nil, nil
	s.mu.Unlock()

	if err := sup.Stop(ctx); err != nil {
		s.log.Warn("worker pool stop incomplete", logx.Err(err))
	}
	for {
		select {
		case qt := <-queue:
			qt.task.Runner.Release()
			s.dropped.Add(1)
		default:
			s.log.Info("worker pool stopped")
			return
		}
	}
}

// Submit enqueues t without blocking.
func (s *Service) Submit(t Task) error {
	if t.Work == nil || t.Runner == nil {
		return fmt.Errorf("%w: work and runner are required", ErrInvalidTask)
	}
	t.Name = strings.TrimSpace(t.Name)
	if t.Name == "" {
		t.Name = t.Runner.Name()
	}
	if t.ID == "" {
		t.ID = uuid.NewString()
	}

	now := time.Now()

	// The send happens under mu so Stop cannot strand a task in a dropped queue.
	s.mu.Lock()
	q := s.q
	if q == nil {
		s.mu.Unlock()
		return ErrStopped
	}
	if !t.Runner.TryAcquire() {
		s.mu.Unlock()
		s.skipped.Add(1)
		s.publish(eventbus.JobSkipped, now, JobEvent{ID: t.ID, Name: t.Name, Started: now, Error: "overlap_skip"})
		s.log.Debug("job skipped: previous run still active", logx.String("task", t.Name))
		return ErrOverlapSkip
	}
	select {
	case q <- queuedTask{task: t, enqueuedAt: now}:
		s.mu.Unlock()
		return nil
	default:
		t.Runner.Release()
		s.mu.Unlock()
		s.onDropped(now, t, "queue_full", 0, q)
		return ErrQueueFull
	}
}

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	cfg := s.cfg
	q := s.q
	s.mu.Unlock()

	snap := Snapshot{
		Running:   q != nil,
		Workers:   cfg.Workers,
		InFlight:  int(s.inFlight.Load()),
		Completed: s.completed.Load(),
		Failed:    s.failed.Load(),
		Skipped:   s.skipped.Load(),
		Dropped:   s.dropped.Load(),
	}
	if q != nil {
		snap.QueueLen, snap.QueueCap = len(q), cap(q)
	}

	s.hmu.Lock()
	snap.History = append([]HistoryItem(nil), s.history...)
	s.hmu.Unlock()
	return snap
}

// History returns up to n most recent runs, newest last. n <= 0 returns all.
func (s *Service) History(n int) []HistoryItem {
	s.hmu.Lock()
	defer s.hmu.Unlock()
	h := s.history
	if n > 0 && len(h) > n {
		h = h[len(h)-n:]
	}
	return append([]HistoryItem(nil), h...)
}

func (s *Service) record(item HistoryItem) {
	s.mu.Lock()
	size := s.cfg.HistorySize
	s.mu.Unlock()

	s.hmu.Lock()
	s.history = append(s.history, item)
	if len(s.history) > size {
		s.history = s.history[len(s.history)-size:]
	}
	s.hmu.Unlock()
}

func (s *Service) publish(typ string, at time.Time, ev JobEvent) {
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: typ, Time: at, Data: ev})
	}
}

func (s *Service) onDropped(now time.Time, t Task, reason string, queueDelay time.Duration, q chan queuedTask) {
	n := s.dropped.Add(1)
	s.publish(eventbus.JobDropped, now, JobEvent{ID: t.ID, Name: t.Name, Started: now, QueueDelay: queueDelay, Error: reason})

	prev := s.lastDropWarnAt.Load()
	if prev != 0 && now.UnixNano()-prev < int64(warnThrottleEvery) {
		return
	}
	if !s.lastDropWarnAt.CompareAndSwap(prev, now.UnixNano()) {
		return
	}
	ql, qc := 0, 0
	if q != nil {
		ql, qc = len(q), cap(q)
	}
	s.log.Warn("job dropped",
		logx.String("task", t.Name),
		logx.String("id", t.ID),
		logx.String("reason", reason),
		logx.Duration("queue_delay", queueDelay),
		logx.Int("queue_len", ql),
		logx.Int("queue_cap", qc),
		logx.Uint64("dropped", n),
	)
}
