package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"pifan/internal/eventbus"
	"pifan/internal/task/job"
	logx "pifan/pkg/logx"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startPool(t *testing.T, cfg Config) (*Service, <-chan eventbus.Event) {
	t.Helper()
	bus := eventbus.New()
	events, unsub := bus.Subscribe(64)
	s := New(cfg, logx.Nop(), bus)
	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		s.Stop(ctx)
		unsub()
	})
	return s, events
}

func waitEvent(t *testing.T, events <-chan eventbus.Event, typ string) eventbus.Event {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case e := <-events:
			if e.Type == typ {
				return e
			}
		case <-timeout:
			t.Fatalf("no %s event", typ)
		}
	}
}

func TestSubmitRunsAndRecords(t *testing.T) {
	s, events := startPool(t, Config{Workers: 2})
	r := job.New("fanOn", logx.Nop())

	ran := make(chan struct{}, 1)
	require.NoError(t, s.Submit(Task{Runner: r, Work: job.Simple(func() { ran <- struct{}{} })}))

	ev := waitEvent(t, events, eventbus.JobFinished)
	data, ok := ev.Data.(JobEvent)
	require.True(t, ok)
	assert.Equal(t, "fanOn", data.Name)
	assert.NotEmpty(t, data.ID)
	<-ran

	require.Eventually(t, func() bool { return !r.InFlight() }, time.Second, 5*time.Millisecond)
	snap := s.Snapshot()
	assert.Equal(t, uint64(1), snap.Completed)
	require.Len(t, snap.History, 1)
	assert.Equal(t, "fanOn", snap.History[0].Name)
}

func TestFailureIsContained(t *testing.T) {
	s, events := startPool(t, Config{Workers: 1})
	r := job.New("broken", logx.Nop())
	require.NoError(t, s.Submit(Task{Runner: r, Work: func(context.Context) error { panic("nope") }}))

	ev := waitEvent(t, events, eventbus.JobFailed)
	assert.Contains(t, ev.Data.(JobEvent).Error, "nope")

	// The worker survives and keeps serving.
	require.Eventually(t, func() bool { return !r.InFlight() }, time.Second, 5*time.Millisecond)
	require.NoError(t, s.Submit(Task{Runner: r, Work: job.Simple(func() {})}))
	waitEvent(t, events, eventbus.JobFinished)
}

func TestSkipIfRunning(t *testing.T) {
	s, events := startPool(t, Config{Workers: 2})
	r := job.New("slow", logx.Nop())
	release := make(chan struct{})
	started := make(chan struct{})

	require.NoError(t, s.Submit(Task{Runner: r, Work: func(ctx context.Context) error {
		close(started)
		<-release
		return nil
	}}))
	<-started

	err := s.Submit(Task{Runner: r, Work: job.Simple(func() { t.Error("second run must not execute") })})
	assert.ErrorIs(t, err, ErrOverlapSkip)
	waitEvent(t, events, eventbus.JobSkipped)

	close(release)
	waitEvent(t, events, eventbus.JobFinished)
	assert.Equal(t, uint64(1), s.Snapshot().Skipped)
}

func TestQueueFullDrops(t *testing.T) {
	s, _ := startPool(t, Config{Workers: 1, QueueSize: 1})
	block := make(chan struct{})
	defer close(block)
	busy := make(chan struct{})

	require.NoError(t, s.Submit(Task{Runner: job.New("a", logx.Nop()), Work: func(context.Context) error {
		close(busy)
		<-block
		return nil
	}}))
	<-busy
	require.NoError(t, s.Submit(Task{Runner: job.New("b", logx.Nop()), Work: job.Simple(func() {})}))

	c := job.New("c", logx.Nop())
	err := s.Submit(Task{Runner: c, Work: job.Simple(func() {})})
	assert.ErrorIs(t, err, ErrQueueFull)
	assert.False(t, c.InFlight(), "dropped task must release its runner")
	assert.Equal(t, uint64(1), s.Snapshot().Dropped)
}

func TestSubmitAfterStop(t *testing.T) {
	s := New(Config{}, logx.Nop(), nil)
	err := s.Submit(Task{Runner: job.New("x", logx.Nop()), Work: job.Simple(func() {})})
	assert.ErrorIs(t, err, ErrStopped)

	err = s.Submit(Task{Name: "x"})
	assert.True(t, errors.Is(err, ErrInvalidTask))
}

func TestStopCancelsRunningJob(t *testing.T) {
	s := New(Config{Workers: 1}, logx.Nop(), nil)
	require.NoError(t, s.Start(context.Background()))
	r := job.New("long", logx.Nop())
	started := make(chan struct{})
	require.NoError(t, s.Submit(Task{Runner: r, Work: func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return nil
	}}))
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	s.Stop(ctx)
	assert.False(t, r.InFlight())
	assert.False(t, s.Snapshot().Running)
}

func TestHistoryIsBounded(t *testing.T) {
	s, events := startPool(t, Config{Workers: 1, HistorySize: 3})
	r := job.New("tick", logx.Nop())
	for i := 0; i < 5; i++ {
		require.Eventually(t, func() bool { return s.Submit(Task{Runner: r, Work: job.Simple(func() {})}) == nil }, time.Second, time.Millisecond)
		waitEvent(t, events, eventbus.JobFinished)
	}
	require.Eventually(t, func() bool { return len(s.History(0)) == 3 }, time.Second, 5*time.Millisecond)
	assert.Len(t, s.History(2), 2)
}

func TestStaleQueuedTaskIsDropped(t *testing.T) {
	s, events := startPool(t, Config{Workers: 1, MaxQueueDelay: 20 * time.Millisecond})
	block := make(chan struct{})
	busy := make(chan struct{})

	require.NoError(t, s.Submit(Task{Runner: job.New("a", logx.Nop()), Work: func(context.Context) error {
		close(busy)
		<-block
		return nil
	}}))
	<-busy

	late := job.New("late", logx.Nop())
	require.NoError(t, s.Submit(Task{Runner: late, Work: job.Simple(func() { t.Error("stale run must not execute") })}))
	time.Sleep(60 * time.Millisecond)
	close(block)

	ev := waitEvent(t, events, eventbus.JobDropped)
	data := ev.Data.(JobEvent)
	assert.Equal(t, "late", data.Name)
	assert.Equal(t, "stale_queue_delay", data.Error)
	assert.GreaterOrEqual(t, data.QueueDelay, 20*time.Millisecond)

	require.Eventually(t, func() bool { return !late.InFlight() }, time.Second, 5*time.Millisecond)
	snap := s.Snapshot()
	assert.Equal(t, uint64(1), snap.Dropped)
	require.Len(t, snap.History, 2)
	assert.Equal(t, "stale_queue_delay", snap.History[1].Error)
}
