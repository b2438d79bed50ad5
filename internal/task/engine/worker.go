package engine

import (
	"context"
	"time"

	"pifan/internal/eventbus"
	logx "pifan/pkg/logx"
)

func (s *Service) worker(ctx context.Context, stopCh <-chan struct{}, queue chan queuedTask) {
	for {
		// A closed stopCh wins over queued work.
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		default:
		}

		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case qt := <-queue:
			s.inFlight.Add(1)
			s.execOne(ctx, qt)
			s.inFlight.Add(-1)
		}
	}
}

func (s *Service) execOne(ctx context.Context, qt queuedTask) {
	t := qt.task
	defer t.Runner.Release()

	start := time.Now()
	queueDelay := max(start.Sub(qt.enqueuedAt), 0)

	s.mu.Lock()
	maxDelay := s.cfg.MaxQueueDelay
	s.mu.Unlock()
	if maxDelay > 0 && queueDelay > maxDelay {
		s.onDropped(start, t, "stale_queue_delay", queueDelay, nil)
		s.record(HistoryItem{ID: t.ID, Name: t.Name, Scheduled: t.Scheduled, Started: start, QueueDelay: queueDelay, Error: "stale_queue_delay"})
		return
	}

	s.log.Debug("job.started", logx.String("task", t.Name), logx.Duration("queue_delay", queueDelay))
	s.publish(eventbus.JobStarted, start, JobEvent{ID: t.ID, Name: t.Name, Started: start, QueueDelay: queueDelay})

	res := t.Runner.Run(ctx, t.Work)

	item := HistoryItem{
		ID:          t.ID,
		Name:        t.Name,
		Scheduled:   t.Scheduled,
		Started:     res.Started,
		QueueDelay:  queueDelay,
		Duration:    res.Duration,
		Interrupted: res.Interrupted,
	}
	ev := JobEvent{ID: t.ID, Name: t.Name, Started: res.Started, QueueDelay: queueDelay, Duration: res.Duration, Interrupted: res.Interrupted}
	if res.Err != nil {
		s.failed.Add(1)
		item.Error = res.Err.Error()
		ev.Error = item.Error
		s.publish(eventbus.JobFailed, res.Finished, ev)
	} else {
		s.completed.Add(1)
		s.log.Debug("job.finished", logx.String("task", t.Name), logx.Duration("dur", res.Duration), logx.Bool("interrupted", res.Interrupted))
		s.publish(eventbus.JobFinished, res.Finished, ev)
	}
	s.record(item)
}
