// Package props is a flat string-keyed property map, the shape the scheduler
// and worker pool read their tunables from (for example
// "poller.FanSchedule.numThreads").
package props

import (
	"strconv"
	"strings"
)

// LegacyPollerThreads is the pool size the single-purpose fan poller used to
// configure for itself. DefaultPollerThreads applies when no key is set.
const (
	DefaultPollerThreads = 5
	LegacyPollerThreads  = 20
)

type Properties map[string]string

// PollerThreadsKey returns the property key holding the pool size of poller name.
func PollerThreadsKey(name string) string {
	return "poller." + name + ".numThreads"
}

func (p Properties) lookup(key string) (string, bool) {
	if p == nil {
		return "", false
	}
	v, ok := p[key]
	if !ok {
		return "", false
	}
	v = strings.TrimSpace(v)
	return v, v != ""
}

// Int returns the integer at key, or def when missing or malformed.
func (p Properties) Int(key string, def int) int {
	v, ok := p.lookup(key)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
