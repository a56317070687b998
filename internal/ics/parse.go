package ics

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	appLog "famdigest/internal/log"
)

// ParsedEvent is one VEVENT with its times resolved. Recurrence expansion
// operates on this type.
type ParsedEvent struct {
	Source Source

	UID      string
	Summary  string
	Location string

	// Start and End carry the zone of their TZID, UTC for "Z" values, and
	// the display zone for floating and date-only values. All-day End is
	// exclusive (the day after the last day).
	Start  time.Time
	End    time.Time
	AllDay bool

	RawRRule string
	ExDates  []time.Time

	// Recurrence is the RECURRENCE-ID of an override instance.
	Recurrence *time.Time
}

// IsOverride reports whether the VEVENT replaces one instance of a series.
func (e ParsedEvent) IsOverride() bool {
	return e.Recurrence != nil
}

// ParseICS parses a calendar payload. Floating and date-only values are
// placed in display. Cancelled events and VEVENTs without UID or DTSTART
// are skipped; a broken VEVENT never fails the whole payload.
func ParseICS(src Source, body []byte, display *time.Location) ([]ParsedEvent, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, errors.New("empty ICS body")
	}
	if display == nil {
		display = time.Local
	}

	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse calendar: %w", err)
	}

	events := make([]ParsedEvent, 0)
	skipped := 0
	for _, comp := range cal.Events() {
		ev, ok, perr := parseVEvent(src, comp, display)
		if perr != nil {
			appLog.Warn("ics vevent skipped", "source", src.ID, "err", perr)
			skipped++
			continue
		}
		if ok {
			events = append(events, ev)
		}
	}

	appLog.Debug("ics parse completed", "source", src.ID, "events", len(events), "skipped", skipped)
	return events, nil
}

func parseVEvent(src Source, ve *ical.VEvent, display *time.Location) (ParsedEvent, bool, error) {
	out := ParsedEvent{Source: src}

	if p := ve.GetProperty(ical.ComponentPropertyStatus); p != nil && strings.EqualFold(strings.TrimSpace(p.Value), "CANCELLED") {
		return out, false, nil
	}

	uid := ve.GetProperty(ical.ComponentPropertyUniqueId)
	if uid == nil || strings.TrimSpace(uid.Value) == "" {
		return out, false, errors.New("missing UID")
	}
	out.UID = strings.TrimSpace(uid.Value)

	if p := ve.GetProperty(ical.ComponentPropertySummary); p != nil {
		out.Summary = unescapeText(p.Value)
	}
	if p := ve.GetProperty(ical.ComponentPropertyLocation); p != nil {
		out.Location = unescapeText(p.Value)
	}

	dtStart := ve.GetProperty(ical.ComponentPropertyDtStart)
	if dtStart == nil {
		return out, false, fmt.Errorf("%s: missing DTSTART", out.UID)
	}
	start, allDay, err := parseDateValue(dtStart.Value, dtStart.ICalParameters, display)
	if err != nil {
		return out, false, fmt.Errorf("%s: DTSTART: %w", out.UID, err)
	}
	out.Start = start
	out.AllDay = allDay

	switch dtEnd := ve.GetProperty(ical.ComponentPropertyDtEnd); {
	case dtEnd != nil:
		end, _, err := parseDateValue(dtEnd.Value, dtEnd.ICalParameters, display)
		if err != nil || end.Before(start) {
			end = defaultEnd(start, allDay)
		}
		out.End = end
	default:
		out.End = defaultEnd(start, allDay)
	}

	if p := ve.GetProperty(ical.ComponentPropertyRrule); p != nil {
		out.RawRRule = strings.TrimSpace(p.Value)
	}

	// EXDATE may repeat and may hold comma-separated lists.
	for _, p := range ve.GetProperties(ical.ComponentPropertyExdate) {
		for _, part := range strings.Split(p.Value, ",") {
			if strings.TrimSpace(part) == "" {
				continue
			}
			if t, _, err := parseDateValue(part, p.ICalParameters, display); err == nil {
				out.ExDates = append(out.ExDates, t)
			}
		}
	}

	if rid := ve.GetProperty("RECURRENCE-ID"); rid != nil {
		if t, _, err := parseDateValue(rid.Value, rid.ICalParameters, display); err == nil {
			out.Recurrence = &t
		}
	}

	return out, true, nil
}

// parseDateValue parses a DATE or DATE-TIME property value honoring its
// TZID and VALUE parameters. An unknown TZID falls back to display.
func parseDateValue(v string, params map[string][]string, display *time.Location) (time.Time, bool, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, false, errors.New("empty time value")
	}

	if isDateOnly(v, params) {
		t, err := time.ParseInLocation("20060102", v[:min(len(v), 8)], display)
		return t, true, err
	}

	if strings.HasSuffix(v, "Z") {
		t, err := time.Parse("20060102T150405Z", v)
		return t, false, err
	}

	loc := display
	if tzid := param(params, "TZID"); tzid != "" {
		if l, err := time.LoadLocation(strings.Trim(tzid, `"`)); err == nil {
			loc = l
		} else {
			appLog.Debug("ics unknown TZID, using display zone", "tzid", tzid)
		}
	}
	t, err := time.ParseInLocation("20060102T150405", v, loc)
	return t, false, err
}

func isDateOnly(v string, params map[string][]string) bool {
	if strings.EqualFold(param(params, "VALUE"), "DATE") {
		return true
	}
	return !strings.Contains(v, "T")
}

func param(params map[string][]string, key string) string {
	if vs, ok := params[key]; ok && len(vs) > 0 {
		return vs[0]
	}
	return ""
}

func defaultEnd(start time.Time, allDay bool) time.Time {
	if allDay {
		return start.AddDate(0, 0, 1)
	}
	return start
}

var textUnescaper = strings.NewReplacer(`\,`, ",", `\;`, ";", `\n`, " ", `\N`, " ", `\\`, `\`)

func unescapeText(s string) string {
	return strings.TrimSpace(textUnescaper.Replace(s))
}
