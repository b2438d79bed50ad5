package config

import (
	"fmt"
	"strings"
	"time"

	"pifan/internal/actuator"
	"pifan/internal/props"
	"pifan/internal/task/scheduler"
	logx "pifan/pkg/logx"
)

type Config struct {
	Logging LoggingConfig `json:"logging"`

	// Properties is the flat key space read by the scheduler, e.g.
	// "poller.FanSchedule.numThreads".
	Properties map[string]string `json:"properties,omitempty"`

	Scheduler SchedulerConfig `json:"scheduler"`
	Actuator  ActuatorConfig  `json:"actuator"`

	// Jobs replaces the built-in fanOn/fanOff pair when non-empty.
	Jobs []JobConfig `json:"jobs,omitempty"`

	Storage StorageConfig `json:"storage"`
	HTTP    HTTPConfig    `json:"http"`
}

type LoggingConfig struct {
	Level   string        `json:"level"`
	Console bool          `json:"console"`
	File    LogFileConfig `json:"file"`
}

type LogFileConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path,omitempty"`
}

// SchedulerConfig controls trigger behavior and sizes the worker pool.
//
// Pool size is not configured here: it is read from
// properties["poller.<name>.numThreads"] (default 5).
type SchedulerConfig struct {
	Name                      string `json:"name,omitempty"`
	Timezone                  string `json:"timezone,omitempty"`
	InterruptOnUnregistration bool   `json:"interrupt_on_unregistration,omitempty"`
	QueueSize                 int    `json:"queue_size,omitempty"`
	HistorySize               int    `json:"history_size,omitempty"`
	// MaxQueueDelay drops runs that waited longer than this for a worker.
	// Empty disables the check.
	MaxQueueDelay string `json:"max_queue_delay,omitempty"`
}

type ActuatorConfig struct {
	// Driver is gpio, systemd or log (default).
	Driver      string `json:"driver,omitempty"`
	Description string `json:"description,omitempty"`

	// BootState is applied once at start: on (default), off or keep.
	BootState string `json:"boot_state,omitempty"`

	// MinToggleInterval is a Go duration string; "0s" disables rate limiting.
	MinToggleInterval string `json:"min_toggle_interval,omitempty"`

	GPIO    GPIOConfig    `json:"gpio"`
	Systemd SystemdConfig `json:"systemd"`
}

type GPIOConfig struct {
	// Pin is a pointer so an explicit 0 is distinguishable from "omitted".
	Pin       *int   `json:"pin,omitempty"`
	ActiveLow bool   `json:"active_low,omitempty"`
	SysfsRoot string `json:"sysfs_root,omitempty"`
	Unexport  bool   `json:"unexport,omitempty"`
}

type SystemdConfig struct {
	Unit string `json:"unit,omitempty"`
}

// JobConfig is one scheduled actuator action. Exactly one of Cron, Every or
// Once must be set.
type JobConfig struct {
	Name   string `json:"name"`
	Action string `json:"action"`

	Cron string `json:"cron,omitempty"`

	Every        string `json:"every,omitempty"`
	InitialDelay string `json:"initial_delay,omitempty"`

	Once string `json:"once,omitempty"`

	Disabled bool `json:"disabled,omitempty"`
}

type StorageConfig struct {
	// Driver is none (default), file or sqlite.
	Driver string `json:"driver,omitempty"`
	Path   string `json:"path,omitempty"`
}

type HTTPConfig struct {
	Enabled      bool   `json:"enabled"`
	Addr         string `json:"addr,omitempty"`
	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	// Pprof mounts net/http/pprof under /debug/pprof.
	Pprof bool `json:"pprof,omitempty"`
}

const (
	BootStateOn   = "on"
	BootStateOff  = "off"
	BootStateKeep = "keep"

	DefaultHTTPAddr = "127.0.0.1:9108"
)

// DefaultJobs is the built-in schedule: on at :10 and :40, off at :25 and :55.
func DefaultJobs() []JobConfig {
	return []JobConfig{
		{Name: "fanOn", Action: string(actuator.ActionOn), Cron: "0 10,40 * * * ?"},
		{Name: "fanOff", Action: string(actuator.ActionOff), Cron: "0 25,55 * * * ?"},
	}
}

// EffectiveJobs returns the configured jobs minus disabled ones, or the
// default pair when none are configured.
func (c *Config) EffectiveJobs() []JobConfig {
	if c == nil || len(c.Jobs) == 0 {
		return DefaultJobs()
	}
	out := make([]JobConfig, 0, len(c.Jobs))
	for _, j := range c.Jobs {
		if !j.Disabled {
			out = append(out, j)
		}
	}
	return out
}

func (c *Config) LogConfig() logx.Config {
	return logx.Config{
		Level:   c.Logging.Level,
		Console: c.Logging.Console,
		File: logx.FileConfig{
			Enabled: c.Logging.File.Enabled,
			Path:    c.Logging.File.Path,
		},
	}
}

func (c *Config) SchedulerConfig() scheduler.Config {
	maxQueueDelay, _ := ParseDuration("scheduler.max_queue_delay", c.Scheduler.MaxQueueDelay, 0)
	return scheduler.Config{
		Name:                      c.Scheduler.Name,
		Timezone:                  c.Scheduler.Timezone,
		InterruptOnUnregistration: c.Scheduler.InterruptOnUnregistration,
		Properties:                props.Properties(c.Properties),
		QueueSize:                 c.Scheduler.QueueSize,
		HistorySize:               c.Scheduler.HistorySize,
		MaxQueueDelay:             maxQueueDelay,
	}
}

// ActuatorConfig converts the actuator section. Durations must already be
// validated.
func (c *Config) ActuatorConfig() actuator.Config {
	a := c.Actuator
	pin := actuator.DefaultPin
	if a.GPIO.Pin != nil {
		pin = *a.GPIO.Pin
	}
	desc := strings.TrimSpace(a.Description)
	if desc == "" {
		desc = actuator.DefaultDescription
	}
	minToggle, _ := ParseDuration("actuator.min_toggle_interval", a.MinToggleInterval, 0)
	return actuator.Config{
		Driver:      a.Driver,
		Description: desc,
		GPIO: actuator.GPIOConfig{
			Pin:       pin,
			ActiveLow: a.GPIO.ActiveLow,
			SysfsRoot: a.GPIO.SysfsRoot,
			Unexport:  a.GPIO.Unexport,
		},
		Systemd:           actuator.SystemdConfig{Unit: a.Systemd.Unit},
		MinToggleInterval: minToggle,
	}
}

func (c *Config) BootState() string {
	s := strings.ToLower(strings.TrimSpace(c.Actuator.BootState))
	if s == "" {
		return BootStateOn
	}
	return s
}

func (c *Config) HTTPAddr() string {
	if a := strings.TrimSpace(c.HTTP.Addr); a != "" {
		return a
	}
	return DefaultHTTPAddr
}

// HTTPTimeouts returns read/write timeouts with 10s defaults.
func (c *Config) HTTPTimeouts() (read, write time.Duration) {
	read, _ = ParseDuration("http.read_timeout", c.HTTP.ReadTimeout, 10*time.Second)
	write, _ = ParseDuration("http.write_timeout", c.HTTP.WriteTimeout, 10*time.Second)
	return read, write
}

// Schedule converts the trigger fields of j.
func (j JobConfig) Schedule() (scheduler.Schedule, error) {
	switch {
	case strings.TrimSpace(j.Cron) != "":
		return scheduler.ParseSchedule("cron:" + j.Cron)
	case strings.TrimSpace(j.Every) != "":
		every, err := scheduler.ParseInterval(j.Every, false)
		if err != nil {
			return nil, err
		}
		delay, err := ParseDuration("initial_delay", j.InitialDelay, 0)
		if err != nil {
			return nil, err
		}
		return scheduler.FixedRate{Interval: every, InitialDelay: delay}, nil
	case strings.TrimSpace(j.Once) != "":
		d, err := scheduler.ParseInterval(j.Once, true)
		if err != nil {
			return nil, err
		}
		return scheduler.Once{Delay: d}, nil
	}
	return nil, fmt.Errorf("%w: job %q needs one of cron, every or once", scheduler.ErrInvalidSchedule, j.Name)
}

func (j JobConfig) triggerCount() int {
	n := 0
	for _, s := range []string{j.Cron, j.Every, j.Once} {
		if strings.TrimSpace(s) != "" {
			n++
		}
	}
	return n
}
