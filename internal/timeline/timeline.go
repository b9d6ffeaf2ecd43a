package timeline

import (
	"fmt"
	"math"
	"strings"
	"time"

	"storyseed/internal/config"
	"storyseed/internal/identity"
)

const (
	// DaysPerMonth is the narrative month length. Real calendar months drift
	// away from it over long horizons; recovery months and sprint counts assume it.
	DaysPerMonth = 30
	// MaxDayOffset bounds the random day offset inside a month.
	MaxDayOffset = 28
	// DefaultSpanDays is the trailing window used when no dates are given.
	DefaultSpanDays = 730
	// DefaultMonths is the month count of the default window.
	DefaultMonths = 24
	// SprintDays is the length of one sprint window.
	SprintDays = 14
	// SprintsPerMonth windows are laid out for each narrative month.
	SprintsPerMonth = 2
)

const day = 24 * time.Hour

// Range is the resolved story period.
type Range struct {
	Start  time.Time
	End    time.Time
	Months int
}

// Resolve computes the story period from optional start/end dates.
// Both empty yields the trailing 730-day window ending at now.
func Resolve(start, end string, now time.Time) (Range, error) {
	start, end = strings.TrimSpace(start), strings.TrimSpace(end)
	switch {
	case start == "" && end == "":
		now = now.UTC()
		return Range{Start: now.Add(-DefaultSpanDays * day), End: now, Months: DefaultMonths}, nil
	case start == "":
		return Range{}, fmt.Errorf("%w: --start-date is required when --end-date is provided", config.ErrConfiguration)
	case end == "":
		return Range{}, fmt.Errorf("%w: --end-date is required when --start-date is provided", config.ErrConfiguration)
	}
	s, err := ParseDate(start, "start-date")
	if err != nil {
		return Range{}, err
	}
	e, err := ParseDate(end, "end-date")
	if err != nil {
		return Range{}, err
	}
	if !e.After(s) {
		return Range{}, fmt.Errorf("%w: --end-date must be later than --start-date", config.ErrConfiguration)
	}
	totalDays := int(e.Sub(s) / day)
	months := int(math.Round(float64(totalDays) / DaysPerMonth))
	if months < 1 {
		months = 1
	}
	return Range{Start: s, End: e, Months: months}, nil
}

// ParseDate accepts a date or an RFC 3339 timestamp and returns it in UTC.
func ParseDate(value, label string) (time.Time, error) {
	value = strings.TrimSpace(value)
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC(), nil
		}
	}
	if t, err := time.Parse("2006-01-02", strings.TrimSuffix(value, "Z")); err == nil {
		return t.UTC(), nil
	}
	return time.Time{}, fmt.Errorf("%w: --%s must be ISO-8601 (e.g. 2023-01-31)", config.ErrConfiguration, label)
}

// ArcFor returns the arc whose inclusive month range contains month.
func ArcFor(arcs []config.Arc, month int) (config.Arc, bool) {
	for _, a := range arcs {
		if a.StartMonth <= month && month <= a.EndMonth {
			return a, true
		}
	}
	return config.Arc{}, false
}

// MonthStart is the nominal first day of a narrative month.
func (r Range) MonthStart(month int) time.Time {
	return r.Start.Add(time.Duration(month*DaysPerMonth) * day)
}

// Timestamp places a record inside a narrative month using one stream draw.
func (r Range) Timestamp(s *identity.Stream, month int) time.Time {
	return r.MonthStart(month).Add(time.Duration(s.IntRange(0, MaxDayOffset)) * day)
}

// Window is one sprint-length calendar window.
type Window struct {
	Index int
	Start time.Time
	End   time.Time
}

// Name is the sprint name for the window.
func (w Window) Name() string {
	return fmt.Sprintf("Sprint %d", w.Index+1)
}

// SprintWindows lays out months*2 contiguous 14-day windows from the range start.
func (r Range) SprintWindows() []Window {
	count := r.Months * SprintsPerMonth
	windows := make([]Window, 0, count)
	for i := 0; i < count; i++ {
		start := r.Start.Add(time.Duration(i*SprintDays) * day)
		windows = append(windows, Window{
			Index: i,
			Start: start,
			End:   start.Add((SprintDays - 1) * day),
		})
	}
	return windows
}

// SprintSlots maps a month to its primary and spillover window indices,
// both clamped to the last window. count must be positive.
func SprintSlots(month, count int) (primary, spillover int) {
	last := count - 1
	primary = month * SprintsPerMonth
	if primary > last {
		primary = last
	}
	spillover = primary + 1
	if spillover > last {
		spillover = last
	}
	return primary, spillover
}

// MonthKey is the calendar bucket used by the manifest.
func MonthKey(t time.Time) string {
	return t.UTC().Format("2006-01")
}
