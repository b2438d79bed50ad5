package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"pifan/internal/actuator"
	"pifan/internal/task/scheduler"
	logx "pifan/pkg/logx"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
logging:
  level: debug
  console: true
properties:
  poller.FanSchedule.numThreads: "3"
scheduler:
  timezone: UTC
  max_queue_delay: 2s
actuator:
  driver: gpio
  gpio:
    pin: 0
  min_toggle_interval: 2s
jobs:
  - name: fanOn
    action: on
    cron: "0 10,40 * * * ?"
  - name: purge
    action: toggle
    every: 30m
    initial_delay: 5s
  - name: bootOff
    action: off
    once: 1m
storage:
  driver: sqlite
  path: /tmp/pifan.db
http:
  enabled: true
`

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	return p
}

func TestLoadYAML(t *testing.T) {
	m := NewManager(writeFile(t, "pifan.yaml", sampleYAML), logx.Nop())
	cfg, err := m.Load()
	require.NoError(t, err)
	assert.Same(t, cfg, m.Get())

	assert.Equal(t, "debug", cfg.Logging.Level)
	require.Len(t, cfg.Jobs, 3)

	ac := cfg.ActuatorConfig()
	assert.Equal(t, 0, ac.GPIO.Pin, "explicit pin 0 must survive")
	assert.Equal(t, actuator.DefaultDescription, ac.Description)
	assert.Equal(t, 2*time.Second, ac.MinToggleInterval)

	sc := cfg.SchedulerConfig()
	assert.Equal(t, 3, sc.PoolConfig().Workers)
	assert.Equal(t, 2*time.Second, sc.PoolConfig().MaxQueueDelay)

	sched, err := cfg.Jobs[1].Schedule()
	require.NoError(t, err)
	assert.Equal(t, scheduler.FixedRate{Interval: 30 * time.Minute, InitialDelay: 5 * time.Second}, sched)

	sched, err = cfg.Jobs[2].Schedule()
	require.NoError(t, err)
	assert.Equal(t, scheduler.Once{Delay: time.Minute}, sched)

	assert.Equal(t, BootStateOn, cfg.BootState())
	assert.Equal(t, DefaultHTTPAddr, cfg.HTTPAddr())
}

func TestDecodeJSONStrict(t *testing.T) {
	_, err := Decode("c.json", []byte(`{"logging":{"level":"info"},"bogus":1}`))
	require.Error(t, err)

	_, err = Decode("c.json", []byte(`{} {}`))
	require.ErrorContains(t, err, "trailing data")

	_, err = Decode("c.yml", []byte("actuator:\n  drvier: gpio\n"))
	require.Error(t, err, "unknown YAML keys are rejected too")

	cfg, err := Decode("c.yaml", []byte(""))
	require.NoError(t, err)
	assert.Empty(t, cfg.Jobs)
}

func TestDefaultPinWhenOmitted(t *testing.T) {
	cfg := &Config{}
	assert.Equal(t, actuator.DefaultPin, cfg.ActuatorConfig().GPIO.Pin)
}

func TestEffectiveJobs(t *testing.T) {
	var cfg Config
	assert.Equal(t, DefaultJobs(), cfg.EffectiveJobs())

	cfg.Jobs = []JobConfig{
		{Name: "a", Action: "on", Cron: "0 0 * * * ?"},
		{Name: "b", Action: "off", Cron: "0 30 * * * ?", Disabled: true},
	}
	got := cfg.EffectiveJobs()
	require.Len(t, got, 1)
	assert.Equal(t, "a", got[0].Name)
}

func TestDefaultJobsValidate(t *testing.T) {
	require.NoError(t, Validate(&Config{Jobs: DefaultJobs()}))
}

func TestValidateCollectsProblems(t *testing.T) {
	cfg := &Config{
		Logging:    LoggingConfig{Level: "loud"},
		Properties: map[string]string{"poller.FanSchedule.numThreads": "zero"},
		Scheduler:  SchedulerConfig{Timezone: "Mars/Olympus", MaxQueueDelay: "soon"},
		Actuator:   ActuatorConfig{Driver: "systemd", BootState: "maybe"},
		Jobs: []JobConfig{
			{Name: "x", Action: "on", Cron: "0 61 * * * ?"},
			{Name: "x", Action: "blink", Every: "10m"},
			{Name: "y", Action: "off"},
			{Name: "z", Action: "off", Cron: "0 0 * * * ?", Once: "1s"},
			{Name: "w", Action: "off", Once: "1s", InitialDelay: "1s"},
		},
		Storage: StorageConfig{Driver: "redis"},
	}
	err := Validate(cfg)
	require.ErrorIs(t, err, ErrInvalid)
	require.ErrorIs(t, err, actuator.ErrUnknownAction)
	require.ErrorIs(t, err, scheduler.ErrInvalidExpression)

	msg := err.Error()
	for _, want := range []string{
		"logging.level",
		"numThreads",
		"scheduler.timezone",
		"scheduler.max_queue_delay",
		"actuator.systemd.unit",
		"actuator.boot_state",
		"duplicate of jobs[0]",
		"jobs[2] (y): exactly one",
		"jobs[3] (z): exactly one",
		"initial_delay: only valid with every",
		"storage.driver",
	} {
		assert.Contains(t, msg, want)
	}
}

func TestDiffJobs(t *testing.T) {
	oldCfg := &Config{Jobs: []JobConfig{
		{Name: "keep", Action: "on", Cron: "0 0 * * * ?"},
		{Name: "edit", Action: "on", Cron: "0 0 * * * ?"},
		{Name: "drop", Action: "off", Every: "1h"},
	}}
	newCfg := &Config{Jobs: []JobConfig{
		{Name: "keep", Action: "on", Cron: "0 0 * * * ?"},
		{Name: "edit", Action: "off", Cron: "0 0 * * * ?"},
		{Name: "new", Action: "toggle", Once: "5s"},
	}}
	d := DiffJobs(oldCfg, newCfg)
	assert.Equal(t, []string{"new"}, d.Added)
	assert.Equal(t, []string{"edit"}, d.Changed)
	assert.Equal(t, []string{"drop"}, d.Removed)

	// Emptying the list falls back to the defaults.
	d = DiffJobs(newCfg, &Config{})
	assert.ElementsMatch(t, []string{"fanOn", "fanOff"}, d.Added)
	assert.ElementsMatch(t, []string{"keep", "edit", "new"}, d.Removed)

	assert.True(t, DiffJobs(oldCfg, oldCfg).Empty())
}

func TestSummarizeConfigChange(t *testing.T) {
	oldCfg := &Config{Logging: LoggingConfig{Level: "info"}}
	newCfg := &Config{
		Logging:    LoggingConfig{Level: "debug"},
		Properties: map[string]string{"poller.FanSchedule.numThreads": "2"},
		HTTP:       HTTPConfig{Enabled: true},
	}
	changed, attrs, restart := SummarizeConfigChange(oldCfg, newCfg)
	assert.Equal(t, []string{"logging", "properties", "http"}, changed)
	assert.NotEmpty(t, attrs)
	assert.Equal(t, []string{"properties.poller.FanSchedule.numThreads", "http"}, restart)

	changed, _, restart = SummarizeConfigChange(oldCfg, oldCfg)
	assert.Empty(t, changed)
	assert.Empty(t, restart)
}

func TestEmptyPathManager(t *testing.T) {
	m := NewManager("", logx.Nop())
	cfg, err := m.Load()
	require.NoError(t, err)
	assert.NotNil(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.NoError(t, m.Watch(ctx))
}

func TestLoadRejectsInvalid(t *testing.T) {
	m := NewManager(writeFile(t, "c.json", `{"jobs":[{"name":"a","action":"spin","cron":"0 0 * * * ?"}]}`), logx.Nop())
	_, err := m.Load()
	require.ErrorIs(t, err, ErrInvalid)
	assert.Nil(t, m.Get())
}

func TestPublishKeepsNewest(t *testing.T) {
	m := NewManager("", logx.Nop())
	ch := m.Subscribe(1)
	a, b := &Config{}, &Config{}
	m.publish(a)
	m.publish(b)
	assert.Same(t, b, <-ch)

	m.Unsubscribe(ch)
	_, ok := <-ch
	assert.False(t, ok)
}

func TestWatchReloads(t *testing.T) {
	path := writeFile(t, "pifan.json", `{"logging":{"level":"info"}}`)
	m := NewManager(path, logx.Nop())
	_, err := m.Load()
	require.NoError(t, err)

	ch := m.Subscribe(4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- m.Watch(ctx) }()

	// Give the watcher time to register the directory.
	time.Sleep(100 * time.Millisecond)

	// Invalid content is rejected and never published.
	require.NoError(t, os.WriteFile(path, []byte(`{"logging":{"level":"shout"}}`), 0o644))
	time.Sleep(3 * reloadDebounce)
	select {
	case cfg := <-ch:
		t.Fatalf("unexpected publish: %+v", cfg)
	default:
	}

	require.NoError(t, os.WriteFile(path, []byte(`{"logging":{"level":"debug"}}`), 0o644))
	select {
	case cfg := <-ch:
		assert.Equal(t, "debug", cfg.Logging.Level)
		assert.Same(t, cfg, m.Get())
	case <-time.After(5 * time.Second):
		t.Fatal("reload not published")
	}

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Watch did not return after cancel")
	}
}

func TestScheduleRequiresTrigger(t *testing.T) {
	_, err := JobConfig{Name: "n", Action: "on"}.Schedule()
	assert.True(t, errors.Is(err, scheduler.ErrInvalidSchedule))
}
