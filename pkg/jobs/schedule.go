package jobs

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const maxCronSearchIterations = 5 * 366 * 24 * 60

// ScheduleFunc computes the next fire time in epoch milliseconds from the
// last fire time and the schedule's meta string. Returning ok=false
// terminates the schedule. Functions must be pure and total over valid
// inputs.
type ScheduleFunc func(lastFireTime int64, meta string) (next int64, ok bool)

// ScheduleMap maps schedule type names to their next-fire-time functions.
type ScheduleMap map[string]ScheduleFunc

// DefaultScheduleMap returns the built-in schedule types:
//
//	"every" — meta is a fixed interval in milliseconds
//	"cron"  — meta is a five-field cron expression, evaluated in UTC
func DefaultScheduleMap() ScheduleMap {
	return ScheduleMap{
		"every": EverySchedule,
		"cron":  CronSchedule,
	}
}

// Register adds or replaces a schedule type.
func (m ScheduleMap) Register(name string, fn ScheduleFunc) error {
	if strings.TrimSpace(name) == "" {
		return jobsError(ErrValidation, "schedule name is required")
	}
	if fn == nil {
		return jobsError(ErrValidation, "schedule function is required")
	}
	m[name] = fn
	return nil
}

// Next resolves the schedule type and computes the next fire time.
// Unknown types terminate the schedule.
func (m ScheduleMap) Next(schedule *Schedule, lastFireTime int64) (int64, bool) {
	if schedule == nil {
		return 0, false
	}
	fn, found := m[schedule.Type]
	if !found {
		return 0, false
	}
	return fn(lastFireTime, schedule.Meta)
}

// EverySchedule fires at a fixed interval. Meta is the interval in
// milliseconds; non-positive or malformed intervals terminate.
func EverySchedule(lastFireTime int64, meta string) (int64, bool) {
	interval, err := strconv.ParseInt(strings.TrimSpace(meta), 10, 64)
	if err != nil || interval <= 0 {
		return 0, false
	}
	return lastFireTime + interval, true
}

// CronSchedule fires on the next minute after lastFireTime matching the
// five-field cron expression in meta, evaluated in UTC. Malformed
// expressions and unsatisfiable searches terminate.
func CronSchedule(lastFireTime int64, meta string) (int64, bool) {
	fields := strings.Fields(meta)
	if len(fields) != 5 {
		return 0, false
	}
	expr, err := parseCronExpression(fields)
	if err != nil {
		return 0, false
	}

	candidate := time.UnixMilli(lastFireTime).UTC().Truncate(time.Minute).Add(time.Minute)
	for iteration := 0; iteration < maxCronSearchIterations; iteration++ {
		if expr.matches(candidate) {
			return candidate.UnixMilli(), true
		}
		candidate = candidate.Add(time.Minute)
	}
	return 0, false
}

type cronFieldMatcher struct {
	any    bool
	values map[int]struct{}
}

func (m cronFieldMatcher) contains(value int) bool {
	if m.any {
		return true
	}
	_, ok := m.values[value]
	return ok
}

type cronExpression struct {
	minute     cronFieldMatcher
	hour       cronFieldMatcher
	dayOfMonth cronFieldMatcher
	month      cronFieldMatcher
	dayOfWeek  cronFieldMatcher
}

func (e cronExpression) matches(candidate time.Time) bool {
	if !e.minute.contains(candidate.Minute()) {
		return false
	}
	if !e.hour.contains(candidate.Hour()) {
		return false
	}
	if !e.month.contains(int(candidate.Month())) {
		return false
	}

	dayOfMonthMatch := e.dayOfMonth.contains(candidate.Day())
	dayOfWeekMatch := e.dayOfWeek.contains(int(candidate.Weekday()))
	switch {
	case e.dayOfMonth.any && e.dayOfWeek.any:
		return true
	case e.dayOfMonth.any:
		return dayOfWeekMatch
	case e.dayOfWeek.any:
		return dayOfMonthMatch
	default:
		return dayOfMonthMatch || dayOfWeekMatch
	}
}

func parseCronExpression(fields []string) (*cronExpression, error) {
	minute, err := parseCronField(fields[0], 0, 59, false)
	if err != nil {
		return nil, fmt.Errorf("invalid minute field %q: %w", fields[0], err)
	}
	hour, err := parseCronField(fields[1], 0, 23, false)
	if err != nil {
		return nil, fmt.Errorf("invalid hour field %q: %w", fields[1], err)
	}
	dayOfMonth, err := parseCronField(fields[2], 1, 31, false)
	if err != nil {
		return nil, fmt.Errorf("invalid day-of-month field %q: %w", fields[2], err)
	}
	month, err := parseCronField(fields[3], 1, 12, false)
	if err != nil {
		return nil, fmt.Errorf("invalid month field %q: %w", fields[3], err)
	}
	dayOfWeek, err := parseCronField(fields[4], 0, 7, true)
	if err != nil {
		return nil, fmt.Errorf("invalid day-of-week field %q: %w", fields[4], err)
	}

	return &cronExpression{
		minute:     minute,
		hour:       hour,
		dayOfMonth: dayOfMonth,
		month:      month,
		dayOfWeek:  dayOfWeek,
	}, nil
}

func parseCronField(raw string, minValue, maxValue int, normalizeSunday bool) (cronFieldMatcher, error) {
	field := strings.TrimSpace(raw)
	if field == "" {
		return cronFieldMatcher{}, fmt.Errorf("empty field")
	}
	if field == "*" {
		return cronFieldMatcher{any: true}, nil
	}

	values := map[int]struct{}{}
	for _, segment := range strings.Split(field, ",") {
		segment = strings.TrimSpace(segment)
		if segment == "" {
			return cronFieldMatcher{}, fmt.Errorf("empty segment")
		}
		if err := appendCronSegmentValues(values, segment, minValue, maxValue, normalizeSunday); err != nil {
			return cronFieldMatcher{}, err
		}
	}
	if len(values) == 0 {
		return cronFieldMatcher{}, fmt.Errorf("no values parsed")
	}
	return cronFieldMatcher{values: values}, nil
}

func appendCronSegmentValues(values map[int]struct{}, segment string, minValue, maxValue int, normalizeSunday bool) error {
	base := segment
	step := 1
	if strings.Contains(segment, "/") {
		stepParts := strings.SplitN(segment, "/", 2)
		base = strings.TrimSpace(stepParts[0])
		stepRaw := strings.TrimSpace(stepParts[1])
		parsedStep, err := strconv.Atoi(stepRaw)
		if err != nil || parsedStep <= 0 {
			return fmt.Errorf("invalid step value %q", stepRaw)
		}
		step = parsedStep
	}
	if base == "" {
		base = "*"
	}

	start := minValue
	end := maxValue
	switch {
	case base == "*":
		// keep full range
	case strings.Contains(base, "-"):
		rangeParts := strings.SplitN(base, "-", 2)
		rangeStart, err := strconv.Atoi(strings.TrimSpace(rangeParts[0]))
		if err != nil {
			return fmt.Errorf("invalid range start %q", rangeParts[0])
		}
		rangeEnd, err := strconv.Atoi(strings.TrimSpace(rangeParts[1]))
		if err != nil {
			return fmt.Errorf("invalid range end %q", rangeParts[1])
		}
		start = normalizeCronValue(rangeStart, normalizeSunday)
		end = normalizeCronValue(rangeEnd, normalizeSunday)
	default:
		singleValue, err := strconv.Atoi(base)
		if err != nil {
			return fmt.Errorf("invalid value %q", base)
		}
		start = normalizeCronValue(singleValue, normalizeSunday)
		end = start
		if step > 1 {
			end = maxValue
		}
	}

	if start < minValue || start > maxValue || end < minValue || end > maxValue {
		return fmt.Errorf("value out of range [%d,%d] in %q", minValue, maxValue, segment)
	}
	if end < start {
		return fmt.Errorf("invalid range %d-%d", start, end)
	}

	for value := start; value <= end; value += step {
		normalized := normalizeCronValue(value, normalizeSunday)
		if normalized < minValue || normalized > maxValue {
			continue
		}
		values[normalized] = struct{}{}
	}
	return nil
}

func normalizeCronValue(value int, normalizeSunday bool) int {
	if normalizeSunday && value == 7 {
		return 0
	}
	return value
}
