package scheduler

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// INTERVAL
// ══════════════════════════════════════════════════════════════════════════════

// IntervalSchedule schedules a job to run at a fixed interval.
type IntervalSchedule struct {
	Interval time.Duration
}

// NewIntervalSchedule creates a new IntervalSchedule.
func NewIntervalSchedule(interval time.Duration) *IntervalSchedule {
	return &IntervalSchedule{Interval: interval}
}

// Next returns t plus the interval.
func (s *IntervalSchedule) Next(t time.Time) time.Time {
	return t.Add(s.Interval)
}

func (s *IntervalSchedule) String() string {
	return "@every " + s.Interval.String()
}

// ══════════════════════════════════════════════════════════════════════════════
// CRON
// ══════════════════════════════════════════════════════════════════════════════

// Common cron expression presets.
const (
	EveryHour        = "0 * * * *"
	EveryDay7AM      = "0 7 * * *"
	EveryDayMidnight = "0 0 * * *"
	EveryMonday8AM   = "0 8 * * 1"
)

// CronExpression is a parsed 5-field cron expression:
// minute hour day-of-month month day-of-week (0 = Sunday).
// Each field accepts *, n, n-m, */s, n-m/s and comma-separated lists of those.
type CronExpression struct {
	raw      string
	minutes  uint64 // bit i set when minute i matches
	hours    uint64
	days     uint64
	months   uint64
	weekdays uint64
}

type cronField struct {
	name     string
	min, max int
}

var cronFields = [5]cronField{
	{"minute", 0, 59},
	{"hour", 0, 23},
	{"day", 1, 31},
	{"month", 1, 12},
	{"weekday", 0, 6},
}

// ParseCronExpression parses a 5-field cron expression.
func ParseCronExpression(expr string) (*CronExpression, error) {
	parts := strings.Fields(expr)
	if len(parts) != len(cronFields) {
		return nil, fmt.Errorf("invalid cron expression %q: expected 5 fields, got %d", expr, len(parts))
	}

	var sets [5]uint64
	for i, f := range cronFields {
		set, err := parseCronField(parts[i], f.min, f.max)
		if err != nil {
			return nil, fmt.Errorf("invalid %s field %q: %w", f.name, parts[i], err)
		}
		sets[i] = set
	}

	return &CronExpression{
		raw:      strings.Join(parts, " "),
		minutes:  sets[0],
		hours:    sets[1],
		days:     sets[2],
		months:   sets[3],
		weekdays: sets[4],
	}, nil
}

func parseCronField(field string, min, max int) (uint64, error) {
	var set uint64
	for _, item := range strings.Split(field, ",") {
		lo, hi, step := min, max, 1

		rng := item
		if i := strings.IndexByte(item, '/'); i >= 0 {
			s, err := strconv.Atoi(item[i+1:])
			if err != nil || s <= 0 {
				return 0, fmt.Errorf("bad step %q", item[i+1:])
			}
			step = s
			rng = item[:i]
		}

		switch {
		case rng == "*":
		case strings.Contains(rng, "-"):
			a, b, _ := strings.Cut(rng, "-")
			var err error
			if lo, err = strconv.Atoi(a); err != nil {
				return 0, fmt.Errorf("bad range start %q", a)
			}
			if hi, err = strconv.Atoi(b); err != nil {
				return 0, fmt.Errorf("bad range end %q", b)
			}
		default:
			v, err := strconv.Atoi(rng)
			if err != nil {
				return 0, fmt.Errorf("bad value %q", rng)
			}
			lo = v
			if step == 1 {
				hi = v
			}
		}

		if lo < min || hi > max || lo > hi {
			return 0, fmt.Errorf("%q outside [%d-%d]", item, min, max)
		}
		for v := lo; v <= hi; v += step {
			set |= 1 << uint(v)
		}
	}
	return set, nil
}

func (ce *CronExpression) String() string {
	return ce.raw
}

// Next returns the first matching minute strictly after t, in t's location.
// It returns the zero time if nothing matches within four years.
func (ce *CronExpression) Next(t time.Time) time.Time {
	next := t.Truncate(time.Minute).Add(time.Minute)
	limit := next.AddDate(4, 0, 0)

	for next.Before(limit) {
		switch {
		case ce.months&(1<<uint(next.Month())) == 0:
			next = time.Date(next.Year(), next.Month()+1, 1, 0, 0, 0, 0, next.Location())
		case ce.days&(1<<uint(next.Day())) == 0 || ce.weekdays&(1<<uint(next.Weekday())) == 0:
			next = time.Date(next.Year(), next.Month(), next.Day()+1, 0, 0, 0, 0, next.Location())
		case ce.hours&(1<<uint(next.Hour())) == 0:
			next = time.Date(next.Year(), next.Month(), next.Day(), next.Hour()+1, 0, 0, 0, next.Location())
		case ce.minutes&(1<<uint(next.Minute())) == 0:
			next = next.Add(time.Minute)
		default:
			return next
		}
	}
	return time.Time{}
}

// ParseSchedule accepts "@every <duration>", "@hourly", "@daily" or a cron expression.
func ParseSchedule(expr string) (Schedule, error) {
	expr = strings.TrimSpace(expr)
	switch {
	case strings.HasPrefix(expr, "@every "):
		d, err := time.ParseDuration(strings.TrimSpace(strings.TrimPrefix(expr, "@every ")))
		if err != nil {
			return nil, fmt.Errorf("invalid interval %q: %w", expr, err)
		}
		if d < time.Second {
			return nil, fmt.Errorf("interval %q must be at least 1s", expr)
		}
		return NewIntervalSchedule(d), nil
	case expr == "@hourly":
		return ParseCronExpression(EveryHour)
	case expr == "@daily":
		return ParseCronExpression(EveryDayMidnight)
	default:
		return ParseCronExpression(expr)
	}
}
