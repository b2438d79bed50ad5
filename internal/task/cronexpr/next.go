package cronexpr

import "time"

// searchYears bounds Next so impossible dates (Feb 30) terminate.
const searchYears = 5

// Next returns the earliest instant strictly after `after` (truncated to the
// second) that matches e, evaluated in after's location.
func (e *Expression) Next(after time.Time) (time.Time, error) {
	loc := after.Location()
	t := after.Truncate(time.Second).Add(time.Second)
	limit := t.AddDate(searchYears, 0, 0)

	for t.Before(limit) {
		y, mo, d := t.Date()
		h, mi, s := t.Clock()

		if !e.month.has(int(mo)) {
			t = advance(t, time.Date(y, mo+1, 1, 0, 0, 0, 0, loc))
			continue
		}
		if !e.dayMatches(t) {
			t = advance(t, time.Date(y, mo, d+1, 0, 0, 0, 0, loc))
			continue
		}
		if !e.hour.has(h) {
			t = advance(t, time.Date(y, mo, d, h+1, 0, 0, 0, loc))
			continue
		}
		if !e.minute.has(mi) {
			t = advance(t, time.Date(y, mo, d, h, mi+1, 0, 0, loc))
			continue
		}
		if !e.second.has(s) {
			t = t.Add(time.Second)
			continue
		}
		return t, nil
	}
	return time.Time{}, ErrNoUpcomingFireTime
}

// NextN returns up to n consecutive fire times after `after`. It stops early
// once the expression has no further fire time.
func (e *Expression) NextN(after time.Time, n int) []time.Time {
	out := make([]time.Time, 0, max(n, 0))
	t := after
	for i := 0; i < n; i++ {
		next, err := e.Next(t)
		if err != nil {
			break
		}
		out = append(out, next)
		t = next
	}
	return out
}

// advance keeps the search monotonic when wall-clock normalisation around a
// DST transition lands on or before the current candidate.
func advance(cur, next time.Time) time.Time {
	if next.After(cur) {
		return next
	}
	return cur.Add(time.Hour).Truncate(time.Hour)
}

func (e *Expression) dayMatches(t time.Time) bool {
	domMatch := e.dom.has(t.Day())
	dowMatch := e.dow.has(int(t.Weekday()))
	if e.domRestricted && e.dowRestricted {
		return domMatch || dowMatch
	}
	return domMatch && dowMatch
}
