package ics

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/teambition/rrule-go"

	appLog "famdigest/internal/log"
	"famdigest/internal/model"
)

const defaultMaxOccurrencesPerEvent = 500

// ExpandConfig controls recurrence expansion.
type ExpandConfig struct {
	// DisplayLocation is the zone all occurrences are converted to and in
	// which day boundaries are judged. Nil means time.Local.
	DisplayLocation *time.Location

	// RangeStart and RangeEnd bound occurrence starts, inclusive.
	RangeStart time.Time
	RangeEnd   time.Time

	// MaxOccurrencesPerEvent caps a single series inside the window.
	MaxOccurrencesPerEvent int
}

// ExpandResult holds the occurrences sorted by start, then UID.
type ExpandResult struct {
	Occurrences []model.Occurrence
	// TruncatedEvents records UIDs that hit MaxOccurrencesPerEvent.
	TruncatedEvents []string
}

// ExpandDates is the pure core of recurrence expansion: the starts of the
// series described by rule (an RRULE value such as "FREQ=WEEKLY;BYDAY=MO")
// beginning at dtstart, that fall within [from, to], minus exdates.
// Times are returned in dtstart's zone.
func ExpandDates(rule string, dtstart time.Time, exdates []time.Time, from, to time.Time) ([]time.Time, error) {
	r, err := rrule.StrToRRule(rule)
	if err != nil {
		return nil, fmt.Errorf("rrule %q: %w", rule, err)
	}
	r.DTStart(dtstart)

	var set rrule.Set
	set.RRule(r)
	for _, ex := range exdates {
		set.ExDate(ex.In(dtstart.Location()))
	}

	loc := dtstart.Location()
	return set.Between(from.In(loc), to.In(loc), true), nil
}

// ExpandOccurrences turns parsed events into concrete occurrences whose
// start falls inside the configured window. It handles single events,
// RRULE series with EXDATEs, RECURRENCE-ID overrides (including overrides
// that move an instance into the window) and all-day events, which stay
// on their calendar dates.
func ExpandOccurrences(events []ParsedEvent, cfg ExpandConfig) (ExpandResult, error) {
	var result ExpandResult

	if cfg.RangeEnd.Before(cfg.RangeStart) {
		return result, errors.New("expand: RangeEnd is before RangeStart")
	}
	if cfg.DisplayLocation == nil {
		cfg.DisplayLocation = time.Local
	}
	if cfg.MaxOccurrencesPerEvent <= 0 {
		cfg.MaxOccurrencesPerEvent = defaultMaxOccurrencesPerEvent
	}

	baseByUID := make(map[string][]ParsedEvent)
	overridesByUID := make(map[string][]ParsedEvent)
	for _, ev := range events {
		if ev.IsOverride() {
			overridesByUID[ev.UID] = append(overridesByUID[ev.UID], ev)
		} else {
			baseByUID[ev.UID] = append(baseByUID[ev.UID], ev)
		}
	}

	all := make([]model.Occurrence, 0)
	for uid, bases := range baseByUID {
		overrides := overridesByUID[uid]
		for _, ev := range bases {
			if ev.RawRRule == "" {
				if cfg.inWindow(ev.Start) {
					all = append(all, makeOccurrence(ev, ev.Start, ev.End, false, cfg.DisplayLocation))
				}
				continue
			}

			occ, hitCap := expandSeries(ev, overrides, cfg)
			all = append(all, occ...)
			if hitCap {
				result.TruncatedEvents = append(result.TruncatedEvents, uid)
				appLog.Warn("expand: occurrences truncated", "uid", uid, "cap", cfg.MaxOccurrencesPerEvent)
			}
		}
	}

	// Overrides without a base in this payload still describe a real
	// instance.
	for uid, overrides := range overridesByUID {
		if _, ok := baseByUID[uid]; ok {
			continue
		}
		for _, o := range overrides {
			if cfg.inWindow(o.Start) {
				all = append(all, makeOccurrence(o, o.Start, o.End, true, cfg.DisplayLocation))
			}
		}
	}

	sort.SliceStable(all, func(i, j int) bool {
		if !all[i].Start.Equal(all[j].Start) {
			return all[i].Start.Before(all[j].Start)
		}
		if all[i].UID != all[j].UID {
			return all[i].UID < all[j].UID
		}
		return all[i].Summary < all[j].Summary
	})
	result.Occurrences = all
	return result, nil
}

func expandSeries(ev ParsedEvent, overrides []ParsedEvent, cfg ExpandConfig) ([]model.Occurrence, bool) {
	starts, err := ExpandDates(ev.RawRRule, ev.Start, ev.ExDates, cfg.RangeStart, cfg.RangeEnd)
	if err != nil {
		appLog.Warn("expand: bad RRULE, using first instance only", "uid", ev.UID, "err", err)
		if cfg.inWindow(ev.Start) {
			return []model.Occurrence{makeOccurrence(ev, ev.Start, ev.End, false, cfg.DisplayLocation)}, false
		}
		return nil, false
	}

	hitCap := false
	if len(starts) > cfg.MaxOccurrencesPerEvent {
		starts = starts[:cfg.MaxOccurrencesPerEvent]
		hitCap = true
	}

	used := make(map[int]bool, len(overrides))
	out := make([]model.Occurrence, 0, len(starts))
	for _, occStart := range starts {
		occEnd := shiftEnd(ev, occStart)

		if i, ok := findOverride(overrides, occStart); ok {
			used[i] = true
			o := overrides[i]
			if cfg.inWindow(o.Start) {
				out = append(out, makeOccurrence(o, o.Start, o.End, true, cfg.DisplayLocation))
			}
			continue
		}
		out = append(out, makeOccurrence(ev, occStart, occEnd, true, cfg.DisplayLocation))
	}

	// An instance from outside the window may have been moved into it.
	for i, o := range overrides {
		if used[i] || !cfg.inWindow(o.Start) || cfg.inWindow(*o.Recurrence) {
			continue
		}
		out = append(out, makeOccurrence(o, o.Start, o.End, true, cfg.DisplayLocation))
	}
	return out, hitCap
}

// shiftEnd keeps the series duration for an instance starting at occStart.
// All-day spans are counted in calendar days so DST never moves them.
func shiftEnd(ev ParsedEvent, occStart time.Time) time.Time {
	if ev.AllDay {
		days := int(ev.End.Sub(ev.Start).Round(24*time.Hour) / (24 * time.Hour))
		if days < 1 {
			days = 1
		}
		return occStart.AddDate(0, 0, days)
	}
	return occStart.Add(ev.End.Sub(ev.Start))
}

func findOverride(overrides []ParsedEvent, start time.Time) (int, bool) {
	for i, ov := range overrides {
		if ov.Recurrence != nil && ov.Recurrence.Equal(start) {
			return i, true
		}
	}
	return -1, false
}

func (cfg ExpandConfig) inWindow(t time.Time) bool {
	return !t.Before(cfg.RangeStart) && !t.After(cfg.RangeEnd)
}

// makeOccurrence converts ev at a concrete start/end into the display zone.
func makeOccurrence(ev ParsedEvent, start, end time.Time, recurring bool, displayLoc *time.Location) model.Occurrence {
	startLocal := start.In(displayLoc)
	endLocal := end.In(displayLoc)
	if ev.AllDay {
		// Date-only values are already display-zone midnights.
		startLocal, endLocal = start, end
	}

	return model.Occurrence{
		SourceID:    ev.Source.ID,
		UID:         ev.UID,
		InstanceKey: ev.UID + "@" + startLocal.Format(time.RFC3339),
		Summary:     ev.Summary,
		Location:    ev.Location,
		AllDay:      ev.AllDay,
		Recurrence:  recurring,
		Start:       startLocal,
		End:         endLocal,
	}
}
