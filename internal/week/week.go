// Package week resolves which ISO week a digest run is about.
//
// All arithmetic is done on local calendar dates in the configured zone,
// using AddDate rather than fixed 24h durations so that DST transitions
// never shift a day boundary.
package week

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidWeekSpec is returned for an explicit year/week override that
// has no ISO mapping.
var ErrInvalidWeekSpec = errors.New("invalid week spec")

// Target is the resolved Monday–Sunday window a digest covers.
type Target struct {
	Year     int
	ISOWeek  int
	Timezone string
	Location *time.Location

	// Monday and Sunday are local midnights.
	Monday time.Time
	Sunday time.Time
}

// Resolve returns the coming week relative to now: the ISO week that holds
// the local date seven days ahead. Run on a Sunday it is the week that
// starts the next day; run on any of the seven days before a Monday it is
// the week of that Monday.
func Resolve(now time.Time, loc *time.Location) Target {
	loc = orLocal(loc)
	return containing(dateOf(now.In(loc)).AddDate(0, 0, 7), loc)
}

// ResolveActive returns the week targeted by the most recent Sunday run.
// On Sunday that is the coming week, on Monday through Saturday it is the
// current one. Weekday update checks use it so they compare against the
// digest that was already sent.
func ResolveActive(now time.Time, loc *time.Location) Target {
	loc = orLocal(loc)
	day := dateOf(now.In(loc))
	if day.Weekday() == time.Sunday {
		day = day.AddDate(0, 0, 1)
	}
	return containing(day, loc)
}

// FromISO builds the Target for an explicit ISO year and week.
func FromISO(year, isoWeek int, loc *time.Location) (Target, error) {
	loc = orLocal(loc)
	if year < 1 || year > 9999 {
		return Target{}, fmt.Errorf("%w: year %d out of range", ErrInvalidWeekSpec, year)
	}
	if n := WeeksInYear(year); isoWeek < 1 || isoWeek > n {
		return Target{}, fmt.Errorf("%w: week %d does not exist in %d (1-%d)", ErrInvalidWeekSpec, isoWeek, year, n)
	}

	// January 4th always falls in ISO week 1.
	jan4 := time.Date(year, time.January, 4, 0, 0, 0, 0, loc)
	monday := mondayOf(jan4).AddDate(0, 0, 7*(isoWeek-1))
	return newTarget(year, isoWeek, monday, loc), nil
}

// WeeksInYear returns 52 or 53, the number of ISO weeks in year.
func WeeksInYear(year int) int {
	// December 28th is always in the last ISO week of its year.
	_, w := time.Date(year, time.December, 28, 0, 0, 0, 0, time.UTC).ISOWeek()
	return w
}

// Days returns the seven local midnights Monday through Sunday.
func (t Target) Days() []time.Time {
	days := make([]time.Time, 7)
	for i := range days {
		days[i] = t.Monday.AddDate(0, 0, i)
	}
	return days
}

// End is the last instant of Sunday.
func (t Target) End() time.Time {
	return t.Monday.AddDate(0, 0, 7).Add(-time.Nanosecond)
}

// Contains reports whether ts falls on one of the target's local dates.
func (t Target) Contains(ts time.Time) bool {
	d := dateOf(ts.In(t.Location))
	return !d.Before(t.Monday) && !d.After(t.Sunday)
}

// DayIndex returns 0 (Monday) through 6 (Sunday) for ts, or -1 when ts is
// outside the week.
func (t Target) DayIndex(ts time.Time) int {
	if !t.Contains(ts) {
		return -1
	}
	d := dateOf(ts.In(t.Location))
	for i, day := range t.Days() {
		if d.Equal(day) {
			return i
		}
	}
	return -1
}

// String renders the ISO week as "2026-W07".
func (t Target) String() string {
	return fmt.Sprintf("%04d-W%02d", t.Year, t.ISOWeek)
}

// DateOf truncates ts to local midnight in loc.
func DateOf(ts time.Time, loc *time.Location) time.Time {
	return dateOf(ts.In(orLocal(loc)))
}

func containing(day time.Time, loc *time.Location) Target {
	monday := mondayOf(day)
	year, w := monday.ISOWeek()
	return newTarget(year, w, monday, loc)
}

func newTarget(year, isoWeek int, monday time.Time, loc *time.Location) Target {
	return Target{
		Year:     year,
		ISOWeek:  isoWeek,
		Timezone: loc.String(),
		Location: loc,
		Monday:   monday,
		Sunday:   monday.AddDate(0, 0, 6),
	}
}

func mondayOf(day time.Time) time.Time {
	offset := (int(day.Weekday()) + 6) % 7
	return day.AddDate(0, 0, -offset)
}

func dateOf(ts time.Time) time.Time {
	y, m, d := ts.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, ts.Location())
}

func orLocal(loc *time.Location) *time.Location {
	if loc == nil {
		return time.Local
	}
	return loc
}
