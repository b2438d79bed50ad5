package scheduler

import (
	"context"
	"math"
	"sync/atomic"
	"testing"
	"time"

	"pifan/internal/props"
	"pifan/internal/task/job"
	logx "pifan/pkg/logx"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 3, 1, 9, 5, 0, 0, time.UTC)

func newTestScheduler(t *testing.T, cfg Config) (*Service, *clockwork.FakeClock) {
	t.Helper()
	if cfg.Timezone == "" {
		cfg.Timezone = "UTC"
	}
	fc := clockwork.NewFakeClockAt(t0)
	s, err := New(cfg, nil, WithClock(fc), WithLogger(logx.Nop()))
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		s.Stop(ctx)
	})
	return s, fc
}

// advance waits for the dispatch loop to arm its timer, then moves the clock.
func advance(t *testing.T, fc *clockwork.FakeClock, d time.Duration) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, fc.BlockUntilContext(ctx, 1))
	fc.Advance(d)
}

func waitIdle(t *testing.T, s *Service, name string) {
	t.Helper()
	require.Eventually(t, func() bool { return !s.Running(name) }, 2*time.Second, time.Millisecond)
}

func recv[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for job")
	}
	var zero T
	return zero
}

func TestCronFanOnScenario(t *testing.T) {
	s, fc := newTestScheduler(t, Config{})
	var calls atomic.Int32
	fired := make(chan time.Time, 4)

	require.NoError(t, s.RegisterCron(func(context.Context) error {
		calls.Add(1)
		fired <- fc.Now()
		return nil
	}, "0 10,40 * * * ?", "fanOn"))

	next, ok := s.Next("fanOn")
	require.True(t, ok)
	assert.Equal(t, time.Date(2024, 3, 1, 9, 10, 0, 0, time.UTC), next)

	advance(t, fc, 5*time.Minute)
	assert.True(t, recv(t, fired).Equal(time.Date(2024, 3, 1, 9, 10, 0, 0, time.UTC)))

	next, _ = s.Next("fanOn")
	assert.Equal(t, time.Date(2024, 3, 1, 9, 40, 0, 0, time.UTC), next)

	waitIdle(t, s, "fanOn")
	advance(t, fc, 29*time.Minute)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, fc.BlockUntilContext(ctx, 1))
	assert.Equal(t, int32(1), calls.Load(), "must fire exactly once per slot")
}

func TestInvalidCronLeavesRegistryUnchanged(t *testing.T) {
	s, _ := newTestScheduler(t, Config{})
	require.NoError(t, s.RegisterCron(job.Simple(func() {}), "0 10,40 * * * ?", "fanOn"))
	before, _ := s.Next("fanOn")

	err := s.RegisterCron(job.Simple(func() {}), "0 61 * * * ?", "fanOn")
	require.ErrorIs(t, err, ErrInvalidExpression)
	assert.True(t, IsInvalidExpression(err))

	err = s.RegisterCron(job.Simple(func() {}), "not a cron", "other")
	require.ErrorIs(t, err, ErrInvalidExpression)

	assert.Equal(t, []string{"fanOn"}, s.Names())
	after, _ := s.Next("fanOn")
	assert.Equal(t, before, after)
	assert.Equal(t, "0 10,40 * * * ?", s.Snapshot().Entries[0].Spec)
}

func TestReRegisterReplaces(t *testing.T) {
	s, fc := newTestScheduler(t, Config{})
	var oldCalls, newCalls atomic.Int32
	fired := make(chan struct{}, 4)

	require.NoError(t, s.RegisterCron(job.Simple(func() { oldCalls.Add(1) }), "0 10 * * * ?", "fan"))
	require.NoError(t, s.RegisterCron(job.Simple(func() {
		newCalls.Add(1)
		fired <- struct{}{}
	}), "0 20 * * * ?", "fan"))

	assert.Equal(t, []string{"fan"}, s.Names())
	assert.Len(t, s.Snapshot().Entries, 1)

	// 09:10 passes without the old schedule firing.
	advance(t, fc, 5*time.Minute)
	advance(t, fc, 10*time.Minute)
	recv(t, fired)
	assert.Equal(t, int32(0), oldCalls.Load())
	assert.Equal(t, int32(1), newCalls.Load())
}

func TestUnregisterUnknownIsNoop(t *testing.T) {
	s, _ := newTestScheduler(t, Config{})
	assert.NotPanics(t, func() {
		assert.False(t, s.Unregister("never-registered"))
	})
	assert.Empty(t, s.Names())
}

func TestOnceUnregisteredBeforeFiring(t *testing.T) {
	s, fc := newTestScheduler(t, Config{})
	var calls atomic.Int32
	require.NoError(t, s.RegisterOnceMillis(job.Simple(func() { calls.Add(1) }), 500, "init"))
	assert.True(t, s.Unregister("init"))
	assert.False(t, s.Unregister("init"))

	fc.Advance(time.Second)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(0), calls.Load())
	assert.Empty(t, s.Names())
}

func TestOnceFiresExactlyOnce(t *testing.T) {
	s, fc := newTestScheduler(t, Config{})
	var calls atomic.Int32
	fired := make(chan struct{}, 2)
	require.NoError(t, s.RegisterOnce(job.Simple(func() {
		calls.Add(1)
		fired <- struct{}{}
	}), 500*time.Millisecond, "init"))

	advance(t, fc, 500*time.Millisecond)
	recv(t, fired)
	assert.Empty(t, s.Names())
	_, ok := s.Next("init")
	assert.False(t, ok)

	fc.Advance(time.Hour)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), calls.Load())
}

func TestFixedRateCadence(t *testing.T) {
	s, fc := newTestScheduler(t, Config{})
	fired := make(chan time.Time, 8)
	require.NoError(t, s.RegisterFixedRateMillis(func(context.Context) error {
		fired <- fc.Now()
		return nil
	}, 1000, 0, "tick"))

	for i := 0; i < 4; i++ {
		if i > 0 {
			advance(t, fc, time.Second)
		}
		at := recv(t, fired)
		assert.True(t, at.Equal(t0.Add(time.Duration(i)*time.Second)), "fire %d at %s", i, at)
		waitIdle(t, s, "tick")
	}
}

func TestFixedRateSkipsMissedSlots(t *testing.T) {
	s, fc := newTestScheduler(t, Config{})
	var calls atomic.Int32
	require.NoError(t, s.RegisterFixedRate(job.Simple(func() { calls.Add(1) }), time.Second, 2*time.Second, "tick"))

	next, _ := s.Next("tick")
	assert.Equal(t, t0.Add(2*time.Second), next)

	advance(t, fc, 5500*time.Millisecond)
	require.Eventually(t, func() bool { return calls.Load() == 1 }, 2*time.Second, time.Millisecond)
	next, _ = s.Next("tick")
	assert.Equal(t, t0.Add(6*time.Second), next)
}

func TestSkipIfRunning(t *testing.T) {
	s, fc := newTestScheduler(t, Config{})
	release := make(chan struct{})
	started := make(chan struct{}, 4)
	var calls atomic.Int32

	require.NoError(t, s.RegisterFixedRate(func(ctx context.Context) error {
		calls.Add(1)
		started <- struct{}{}
		<-release
		return nil
	}, time.Second, 0, "slow"))
	recv(t, started)

	advance(t, fc, time.Second)
	require.Eventually(t, func() bool {
		e := s.Snapshot().Entries
		return len(e) == 1 && e[0].Skipped == 1
	}, 2*time.Second, time.Millisecond)
	assert.Equal(t, int32(1), calls.Load())

	close(release)
	waitIdle(t, s, "slow")
	advance(t, fc, time.Second)
	recv(t, started)
	assert.Equal(t, int32(2), calls.Load())
}

func TestUnregisterKeepsRunningByDefault(t *testing.T) {
	s, _ := newTestScheduler(t, Config{})
	started := make(chan struct{})
	done := make(chan error, 1)
	release := make(chan struct{})

	require.NoError(t, s.RegisterFixedRate(func(ctx context.Context) error {
		close(started)
		select {
		case <-release:
			done <- nil
		case <-ctx.Done():
			done <- ctx.Err()
		}
		return nil
	}, time.Hour, 0, "long"))
	recv(t, started)

	assert.True(t, s.Unregister("long"))
	close(release)
	assert.NoError(t, recv(t, done))
}

func TestInterruptOnUnregistration(t *testing.T) {
	s, _ := newTestScheduler(t, Config{InterruptOnUnregistration: true})
	started := make(chan struct{}, 1)
	done := make(chan bool, 1)

	require.NoError(t, s.RegisterFixedRate(func(ctx context.Context) error {
		started <- struct{}{}
		for !job.Stopped(ctx) {
			time.Sleep(10 * time.Millisecond)
		}
		done <- true
		return nil
	}, time.Hour, 0, "poll"))
	recv(t, started)

	assert.True(t, s.Unregister("poll"))
	assert.True(t, recv(t, done))
}

func TestInterruptRegisteredJob(t *testing.T) {
	s, _ := newTestScheduler(t, Config{})
	started := make(chan struct{}, 1)
	done := make(chan struct{}, 1)

	require.NoError(t, s.RegisterFixedRate(func(ctx context.Context) error {
		started <- struct{}{}
		<-ctx.Done()
		done <- struct{}{}
		return nil
	}, time.Hour, 0, "stuck"))
	recv(t, started)
	snap := s.Snapshot()
	require.Len(t, snap.Entries, 1)
	assert.True(t, snap.Entries[0].Running)
	assert.False(t, snap.Entries[0].RunningSince.IsZero())

	assert.True(t, s.Interrupt("stuck"))
	recv(t, done)
	waitIdle(t, s, "stuck")
	assert.Equal(t, []string{"stuck"}, s.Names(), "interrupting a run keeps the registration")
	assert.True(t, s.Snapshot().Entries[0].RunningSince.IsZero())
}

func TestPoolSizeFromProperties(t *testing.T) {
	s, _ := newTestScheduler(t, Config{Properties: props.Properties{
		props.PollerThreadsKey(DefaultName): "20",
	}})
	assert.Equal(t, props.LegacyPollerThreads, s.Pool().Workers())

	s2, _ := newTestScheduler(t, Config{Name: "other"})
	assert.Equal(t, props.DefaultPollerThreads, s2.Pool().Workers())
}

func TestInitFailure(t *testing.T) {
	_, err := New(Config{Timezone: "Not/AZone"}, nil, WithLogger(logx.Nop()))
	assert.ErrorIs(t, err, ErrInit)
}

func TestRegisterValidation(t *testing.T) {
	s, _ := newTestScheduler(t, Config{})
	assert.ErrorIs(t, s.RegisterFixedRate(job.Simple(func() {}), 0, 0, "x"), ErrInvalidSchedule)
	assert.ErrorIs(t, s.RegisterFixedRate(job.Simple(func() {}), time.Second, -time.Second, "x"), ErrInvalidSchedule)
	assert.ErrorIs(t, s.RegisterOnce(job.Simple(func() {}), -time.Second, "x"), ErrInvalidSchedule)
	assert.ErrorIs(t, s.RegisterOnce(nil, time.Second, "x"), ErrInvalidSchedule)
	assert.ErrorIs(t, s.RegisterOnce(job.Simple(func() {}), time.Second, " "), ErrInvalidSchedule)
	assert.Empty(t, s.Names())
}

func TestRegisterAfterStop(t *testing.T) {
	s, _ := newTestScheduler(t, Config{})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	s.Stop(ctx)
	assert.ErrorIs(t, s.RegisterOnce(job.Simple(func() {}), time.Second, "late"), ErrStopped)
}

func TestSnapshotOrder(t *testing.T) {
	s, _ := newTestScheduler(t, Config{})
	require.NoError(t, s.RegisterCron(job.Simple(func() {}), "0 25,55 * * * ?", "fanOff"))
	require.NoError(t, s.RegisterCron(job.Simple(func() {}), "0 10,40 * * * ?", "fanOn"))

	snap := s.Snapshot()
	require.Len(t, snap.Entries, 2)
	assert.Equal(t, "fanOn", snap.Entries[0].Name)
	assert.Equal(t, "cron", snap.Entries[0].Kind)
	assert.Equal(t, "FanSchedule", snap.Name)
	assert.Equal(t, "UTC", snap.Timezone)
}

func TestMillisOverflowIsRejected(t *testing.T) {
	s, _ := newTestScheduler(t, Config{})
	work := job.Simple(func() {})

	err := s.RegisterOnceMillis(work, math.MaxInt64, "huge")
	assert.ErrorIs(t, err, ErrInvalidSchedule)
	err = s.RegisterFixedRateMillis(work, 1000, math.MaxInt64/1000, "hugeDelay")
	assert.ErrorIs(t, err, ErrInvalidSchedule)
	err = s.RegisterFixedRateMillis(work, math.MaxInt64, 0, "hugeInterval")
	assert.ErrorIs(t, err, ErrInvalidSchedule)
	assert.Empty(t, s.Names())

	require.NoError(t, s.RegisterOnceMillis(work, maxMillis, "edge"))
	assert.Equal(t, []string{"edge"}, s.Names())
}
