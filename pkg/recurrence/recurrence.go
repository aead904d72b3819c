package recurrence

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/bonesco/vibe-checker/pkg/core"
)

// Pattern is the shape of a recurrence.
type Pattern int

const (
	PatternDaily Pattern = iota
	PatternWeekly
)

// Rule describes which local dates a definition fires on.
type Rule struct {
	Pattern Pattern
	Weekday time.Weekday // only meaningful for PatternWeekly
}

// Daily fires every day.
func Daily() Rule {
	return Rule{Pattern: PatternDaily}
}

// Weekly fires once a week on day.
func Weekly(day time.Weekday) Rule {
	return Rule{Pattern: PatternWeekly, Weekday: day}
}

// String returns the persisted form: "daily" or "weekly:N".
func (r Rule) String() string {
	if r.Pattern == PatternWeekly {
		return "weekly:" + strconv.Itoa(int(r.Weekday))
	}
	return "daily"
}

var weekdayNames = map[string]time.Weekday{
	"sun": time.Sunday, "sunday": time.Sunday,
	"mon": time.Monday, "monday": time.Monday,
	"tue": time.Tuesday, "tuesday": time.Tuesday,
	"wed": time.Wednesday, "wednesday": time.Wednesday,
	"thu": time.Thursday, "thursday": time.Thursday,
	"fri": time.Friday, "friday": time.Friday,
	"sat": time.Saturday, "saturday": time.Saturday,
}

// ParseRule parses "daily", "weekly:N" (0 = Sunday) or "weekly:<day name>".
// "monday_only" is accepted as an alias for "weekly:1".
func ParseRule(s string) (Rule, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	switch {
	case s == "daily":
		return Daily(), nil
	case s == "monday_only":
		return Weekly(time.Monday), nil
	case strings.HasPrefix(s, "weekly:"):
		arg := strings.TrimPrefix(s, "weekly:")
		if day, ok := weekdayNames[arg]; ok {
			return Weekly(day), nil
		}
		n, err := strconv.Atoi(arg)
		if err != nil || n < 0 || n > 6 {
			return Rule{}, &core.ConfigError{Field: "recurrence", Reason: fmt.Sprintf("weekday %q must be 0-6 or a day name", arg)}
		}
		return Weekly(time.Weekday(n)), nil
	default:
		return Rule{}, &core.ConfigError{Field: "recurrence", Reason: fmt.Sprintf("unsupported pattern %q", s)}
	}
}

// TimeOfDay is a local wall-clock time with minute precision.
type TimeOfDay struct {
	Hour   int
	Minute int
}

// String returns the "HH:MM" form.
func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute)
}

// ParseTimeOfDay parses "HH:MM" in 24-hour form.
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 2 {
		return TimeOfDay{}, &core.ConfigError{Field: "time_of_day", Reason: fmt.Sprintf("%q is not HH:MM", s)}
	}
	hour, err := strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return TimeOfDay{}, &core.ConfigError{Field: "time_of_day", Reason: fmt.Sprintf("hour in %q must be 0-23", s)}
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 || len(parts[1]) != 2 {
		return TimeOfDay{}, &core.ConfigError{Field: "time_of_day", Reason: fmt.Sprintf("minute in %q must be 00-59", s)}
	}
	return TimeOfDay{Hour: hour, Minute: minute}, nil
}

// LoadLocation resolves an IANA timezone name. The process-local zone is
// rejected because its meaning differs between replicas.
func LoadLocation(name string) (*time.Location, error) {
	name = strings.TrimSpace(name)
	if name == "" || name == "Local" {
		return nil, &core.ConfigError{Field: "timezone", Reason: fmt.Sprintf("%q is not an IANA timezone", name)}
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, &core.ConfigError{Field: "timezone", Reason: err.Error()}
	}
	return loc, nil
}

// Schedule is a compiled recurrence: rule, time of day and location.
type Schedule struct {
	rule Rule
	tod  TimeOfDay
	loc  *time.Location
}

// New creates a Schedule.
func New(rule Rule, tod TimeOfDay, loc *time.Location) *Schedule {
	if loc == nil {
		loc = time.UTC
	}
	return &Schedule{rule: rule, tod: tod, loc: loc}
}

// Compile validates a definition's recurrence, time of day and timezone.
// Failures are *core.ConfigError.
func Compile(def *core.JobDefinition) (*Schedule, error) {
	rule, err := ParseRule(def.Recurrence)
	if err != nil {
		return nil, err
	}
	tod, err := ParseTimeOfDay(def.TimeOfDay)
	if err != nil {
		return nil, err
	}
	loc, err := LoadLocation(def.Timezone)
	if err != nil {
		return nil, err
	}
	return New(rule, tod, loc), nil
}

// Location returns the schedule's timezone.
func (s *Schedule) Location() *time.Location {
	return s.loc
}

// Next returns the first fire time strictly after after, in the schedule's
// location. Each candidate is built from the local calendar date with
// time.Date so the wall-clock time survives UTC offset changes.
//
// A time of day that does not exist on a spring-forward date is normalized
// by time.Date to the instant one offset-shift later.
func (s *Schedule) Next(after time.Time) time.Time {
	local := after.In(s.loc)
	y, m, d := local.Date()
	// A weekly rule needs at most 7 days of lookahead past today.
	for i := 0; i <= 7; i++ {
		candidate := time.Date(y, m, d+i, s.tod.Hour, s.tod.Minute, 0, 0, s.loc)
		if s.rule.Pattern == PatternWeekly && candidate.Weekday() != s.rule.Weekday {
			continue
		}
		if candidate.After(after) {
			return candidate
		}
	}
	// Unreachable for valid rules: day 7 always matches the weekday again.
	return time.Date(y, m, d+8, s.tod.Hour, s.tod.Minute, 0, 0, s.loc)
}

// Latest returns the last fire time in the half-open window (from, to].
func (s *Schedule) Latest(from, to time.Time) (time.Time, bool) {
	var last time.Time
	found := false
	for next := s.Next(from); !next.After(to); next = s.Next(next) {
		last = next
		found = true
	}
	return last, found
}

// Preview returns the next n fire times after after.
func (s *Schedule) Preview(after time.Time, n int) []time.Time {
	out := make([]time.Time, 0, n)
	for i := 0; i < n; i++ {
		after = s.Next(after)
		out = append(out, after)
	}
	return out
}

// NextFire compiles def and returns its first fire time strictly after after.
func NextFire(def *core.JobDefinition, after time.Time) (time.Time, error) {
	s, err := Compile(def)
	if err != nil {
		return time.Time{}, err
	}
	return s.Next(after), nil
}

// Preview compiles def and returns its next n fire times after after.
func Preview(def *core.JobDefinition, after time.Time, n int) ([]time.Time, error) {
	s, err := Compile(def)
	if err != nil {
		return nil, err
	}
	return s.Preview(after, n), nil
}
