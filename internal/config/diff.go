package config

import (
	"reflect"
	"sort"

	logx "pifan/pkg/logx"
)

// JobDiff lists job names by what a reload does to them.
type JobDiff struct {
	Added   []string
	Changed []string
	Removed []string
}

func (d JobDiff) Empty() bool {
	return len(d.Added) == 0 && len(d.Changed) == 0 && len(d.Removed) == 0
}

// DiffJobs compares the effective job sets of two configs. Disabled jobs
// count as removed; an empty job list means the built-in defaults.
func DiffJobs(oldCfg, newCfg *Config) JobDiff {
	before := indexJobs(oldCfg.EffectiveJobs())
	after := indexJobs(newCfg.EffectiveJobs())

	var d JobDiff
	for name, nj := range after {
		oj, ok := before[name]
		switch {
		case !ok:
			d.Added = append(d.Added, name)
		case oj != nj:
			d.Changed = append(d.Changed, name)
		}
	}
	for name := range before {
		if _, ok := after[name]; !ok {
			d.Removed = append(d.Removed, name)
		}
	}
	sort.Strings(d.Added)
	sort.Strings(d.Changed)
	sort.Strings(d.Removed)
	return d
}

func indexJobs(jobs []JobConfig) map[string]JobConfig {
	m := make(map[string]JobConfig, len(jobs))
	for _, j := range jobs {
		m[j.Name] = j
	}
	return m
}

// SummarizeConfigChange returns the changed top-level sections, log
// attributes describing them, and the subset of sections that only take
// effect after a restart.
func SummarizeConfigChange(oldCfg, newCfg *Config) (changed []string, attrs []logx.Field, restart []string) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}
	if !reflect.DeepEqual(oldCfg.Properties, newCfg.Properties) {
		changed = append(changed, "properties")
		attrs = append(attrs, logx.Int("properties.count", len(newCfg.Properties)))
		if oldCfg.Properties[poolKey(oldCfg)] != newCfg.Properties[poolKey(newCfg)] {
			restart = append(restart, "properties."+poolKey(newCfg))
		}
	}
	if oldCfg.Scheduler != newCfg.Scheduler {
		changed = append(changed, "scheduler")
		restart = append(restart, "scheduler")
		attrs = append(attrs,
			logx.String("scheduler.name", newCfg.Scheduler.Name),
			logx.String("scheduler.timezone", newCfg.Scheduler.Timezone),
		)
	}
	if !reflect.DeepEqual(oldCfg.Actuator, newCfg.Actuator) {
		changed = append(changed, "actuator")
		restart = append(restart, "actuator")
		attrs = append(attrs, logx.String("actuator.driver", newCfg.Actuator.Driver))
	}
	if d := DiffJobs(oldCfg, newCfg); !d.Empty() {
		changed = append(changed, "jobs")
		attrs = append(attrs,
			logx.Strings("jobs.added", d.Added),
			logx.Strings("jobs.changed", d.Changed),
			logx.Strings("jobs.removed", d.Removed),
		)
	}
	if oldCfg.Storage != newCfg.Storage {
		changed = append(changed, "storage")
		restart = append(restart, "storage")
		attrs = append(attrs, logx.String("storage.driver", newCfg.Storage.Driver))
	}
	if oldCfg.HTTP != newCfg.HTTP {
		changed = append(changed, "http")
		restart = append(restart, "http")
		attrs = append(attrs,
			logx.Bool("http.enabled", newCfg.HTTP.Enabled),
			logx.String("http.addr", newCfg.HTTPAddr()),
		)
	}
	return changed, attrs, restart
}
