package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"pifan/internal/actuator"
	"pifan/internal/props"
	"pifan/internal/task/scheduler"
	logx "pifan/pkg/logx"
)

var ErrInvalid = errors.New("invalid config")

// ParseDuration reads a Go duration string for the named field. Empty or
// zero yields def; negative values are rejected.
func ParseDuration(field, raw string, def time.Duration) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return def, nil
	}
	d, err := time.ParseDuration(s)
	switch {
	case err != nil:
		return 0, fmt.Errorf("%s: invalid duration %q: %w", field, raw, err)
	case d < 0:
		return 0, fmt.Errorf("%s: duration must be >= 0", field)
	case d == 0:
		return def, nil
	}
	return d, nil
}

// Validate reports every problem in cfg at once, joined under ErrInvalid.
// A nil result means cfg can be committed.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("%w: config is nil", ErrInvalid)
	}
	var errs []error
	add := func(format string, args ...any) { errs = append(errs, fmt.Errorf(format, args...)) }

	if !logx.ValidLevel(cfg.Logging.Level) {
		add("logging.level: unknown level %q", cfg.Logging.Level)
	}

	for k, v := range cfg.Properties {
		if !strings.HasSuffix(k, ".numThreads") {
			continue
		}
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err != nil || n <= 0 {
			add("properties.%s: want a positive integer, got %q", k, v)
		}
	}

	s := cfg.Scheduler
	if tz := strings.TrimSpace(s.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			add("scheduler.timezone: %w", err)
		}
	}
	if s.QueueSize < 0 {
		add("scheduler.queue_size: must be >= 0")
	}
	if s.HistorySize < 0 {
		add("scheduler.history_size: must be >= 0")
	}
	if _, err := ParseDuration("scheduler.max_queue_delay", s.MaxQueueDelay, 0); err != nil {
		errs = append(errs, err)
	}

	errs = append(errs, validateActuator(cfg.Actuator)...)
	errs = append(errs, validateJobs(cfg.Jobs)...)

	switch strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)) {
	case "", "none", "file", "sqlite":
	default:
		add("storage.driver: unknown driver %q (use none, file or sqlite)", cfg.Storage.Driver)
	}
	if _, err := ParseDuration("http.read_timeout", cfg.HTTP.ReadTimeout, 0); err != nil {
		errs = append(errs, err)
	}
	if _, err := ParseDuration("http.write_timeout", cfg.HTTP.WriteTimeout, 0); err != nil {
		errs = append(errs, err)
	}

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
}

func validateActuator(a ActuatorConfig) []error {
	var errs []error
	switch strings.ToLower(strings.TrimSpace(a.Driver)) {
	case "", "log", "dryrun", "dry-run", "gpio", "sysfs":
	case "systemd":
		if strings.TrimSpace(a.Systemd.Unit) == "" {
			errs = append(errs, errors.New("actuator.systemd.unit: required for the systemd driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("actuator.driver: %w: %q", actuator.ErrUnknownDriver, a.Driver))
	}
	switch strings.ToLower(strings.TrimSpace(a.BootState)) {
	case "", BootStateOn, BootStateOff, BootStateKeep:
	default:
		errs = append(errs, fmt.Errorf("actuator.boot_state: %q (use on, off or keep)", a.BootState))
	}
	if a.GPIO.Pin != nil && *a.GPIO.Pin < 0 {
		errs = append(errs, fmt.Errorf("actuator.gpio.pin: must be >= 0"))
	}
	if _, err := ParseDuration("actuator.min_toggle_interval", a.MinToggleInterval, 0); err != nil {
		errs = append(errs, err)
	}
	return errs
}

func validateJobs(jobs []JobConfig) []error {
	var errs []error
	seen := make(map[string]int, len(jobs))
	for i, j := range jobs {
		where := fmt.Sprintf("jobs[%d]", i)
		name := strings.TrimSpace(j.Name)
		if name == "" {
			errs = append(errs, fmt.Errorf("%s.name: required", where))
		} else {
			where = fmt.Sprintf("jobs[%d] (%s)", i, name)
			if prev, dup := seen[name]; dup {
				errs = append(errs, fmt.Errorf("%s.name: duplicate of jobs[%d]", where, prev))
			}
			seen[name] = i
		}
		if _, err := actuator.ParseAction(j.Action); err != nil {
			errs = append(errs, fmt.Errorf("%s.action: %w", where, err))
		}
		if n := j.triggerCount(); n != 1 {
			errs = append(errs, fmt.Errorf("%s: exactly one of cron, every or once must be set (got %d)", where, n))
			continue
		}
		if strings.TrimSpace(j.InitialDelay) != "" && strings.TrimSpace(j.Every) == "" {
			errs = append(errs, fmt.Errorf("%s.initial_delay: only valid with every", where))
		}
		if _, err := j.Schedule(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", where, err))
		}
	}
	return errs
}

// poolKey is the property that sizes the scheduler pool for cfg.
func poolKey(cfg *Config) string {
	name := strings.TrimSpace(cfg.Scheduler.Name)
	if name == "" {
		name = scheduler.DefaultName
	}
	return props.PollerThreadsKey(name)
}
