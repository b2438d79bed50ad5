package cronexpr

import (
	"fmt"
	"strconv"
	"strings"
)

type bounds struct {
	name     string
	min, max int
	names    map[string]int
	anyMark  bool // accepts "?"
}

var (
	secondBounds = bounds{name: "second", min: 0, max: 59}
	minuteBounds = bounds{name: "minute", min: 0, max: 59}
	hourBounds   = bounds{name: "hour", min: 0, max: 23}
	domBounds    = bounds{name: "day-of-month", min: 1, max: 31, anyMark: true}
	monthBounds  = bounds{name: "month", min: 1, max: 12, names: map[string]int{
		"jan": 1, "feb": 2, "mar": 3, "apr": 4, "may": 5, "jun": 6,
		"jul": 7, "aug": 8, "sep": 9, "oct": 10, "nov": 11, "dec": 12,
	}}
	// 7 is accepted and folded onto Sunday after parsing.
	dowBounds = bounds{name: "day-of-week", min: 0, max: 7, anyMark: true, names: map[string]int{
		"sun": 0, "mon": 1, "tue": 2, "wed": 3, "thu": 4, "fri": 5, "sat": 6,
	}}
)

// Expression is a parsed cron expression. It is immutable and safe for
// concurrent use.
type Expression struct {
	src string

	second, minute, hour, dom, month, dow bitset

	domRestricted, dowRestricted bool
}

// bitset holds one bit per allowed value (0..63).
type bitset uint64

func (b bitset) has(v int) bool { return v >= 0 && v < 64 && b&(1<<uint(v)) != 0 }

// Parse parses a six-field expression. Errors wrap ErrInvalidExpression.
func Parse(expr string) (*Expression, error) {
	fields := strings.Fields(expr)
	if len(fields) != 6 {
		return nil, fmt.Errorf("%w: %q: expected 6 fields, got %d", ErrInvalidExpression, expr, len(fields))
	}

	e := &Expression{src: strings.Join(fields, " ")}
	var err error
	if e.second, _, err = parseField(fields[0], secondBounds); err != nil {
		return nil, err
	}
	if e.minute, _, err = parseField(fields[1], minuteBounds); err != nil {
		return nil, err
	}
	if e.hour, _, err = parseField(fields[2], hourBounds); err != nil {
		return nil, err
	}
	if e.dom, e.domRestricted, err = parseField(fields[3], domBounds); err != nil {
		return nil, err
	}
	if e.month, _, err = parseField(fields[4], monthBounds); err != nil {
		return nil, err
	}
	if e.dow, e.dowRestricted, err = parseField(fields[5], dowBounds); err != nil {
		return nil, err
	}
	if e.dow.has(7) {
		e.dow = (e.dow &^ (1 << 7)) | 1
	}
	return e, nil
}

// MustParse is like Parse but panics on error. Intended for constants.
func MustParse(expr string) *Expression {
	e, err := Parse(expr)
	if err != nil {
		panic(err)
	}
	return e
}

func (e *Expression) String() string { return e.src }

// parseField returns the value set and whether the field restricts anything.
// A bare "*" or "?" (optionally "/1") is unrestricted.
func parseField(raw string, b bounds) (bitset, bool, error) {
	var set bitset
	restricted := false
	for _, part := range strings.Split(raw, ",") {
		bits, star, err := parsePart(part, b)
		if err != nil {
			return 0, false, fmt.Errorf("%w: %s field %q: %v", ErrInvalidExpression, b.name, raw, err)
		}
		if !star {
			restricted = true
		}
		set |= bits
	}
	return set, restricted, nil
}

func parsePart(part string, b bounds) (bitset, bool, error) {
	if part == "" {
		return 0, false, fmt.Errorf("empty list element")
	}

	rangePart, stepPart, hasStep := strings.Cut(part, "/")
	step := 1
	if hasStep {
		n, err := strconv.Atoi(stepPart)
		if err != nil || n <= 0 {
			return 0, false, fmt.Errorf("invalid step %q", stepPart)
		}
		step = n
	}

	var lo, hi int
	star := false
	switch {
	case rangePart == "*":
		lo, hi, star = b.min, b.max, true
	case rangePart == "?":
		if !b.anyMark {
			return 0, false, fmt.Errorf("'?' is only allowed in day fields")
		}
		if hasStep {
			return 0, false, fmt.Errorf("'?' does not take a step")
		}
		lo, hi, star = b.min, b.max, true
	default:
		from, to, isRange := strings.Cut(rangePart, "-")
		v, err := parseValue(from, b)
		if err != nil {
			return 0, false, err
		}
		lo, hi = v, v
		if isRange {
			if hi, err = parseValue(to, b); err != nil {
				return 0, false, err
			}
			if hi < lo {
				return 0, false, fmt.Errorf("range %q is descending", rangePart)
			}
		} else if hasStep {
			hi = b.max
		}
	}

	var bits bitset
	for v := lo; v <= hi; v += step {
		bits |= 1 << uint(v)
	}
	return bits, star && step == 1, nil
}

func parseValue(s string, b bounds) (int, error) {
	if v, ok := b.names[strings.ToLower(s)]; ok {
		return v, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid value %q", s)
	}
	if n < b.min || n > b.max {
		return 0, fmt.Errorf("value %d out of range [%d, %d]", n, b.min, b.max)
	}
	return n, nil
}
