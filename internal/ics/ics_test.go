package ics

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

const testCalendar = `BEGIN:VCALENDAR
VERSION:2.0
PRODID:-//famdigest//test//EN
BEGIN:VEVENT
UID:swim@test
DTSTART;TZID=Europe/Stockholm:20260105T170000
DTEND;TZID=Europe/Stockholm:20260105T180000
RRULE:FREQ=WEEKLY;BYDAY=MO,WE
EXDATE;TZID=Europe/Stockholm:20260204T170000
SUMMARY:Simning
END:VEVENT
BEGIN:VEVENT
UID:swim@test
RECURRENCE-ID;TZID=Europe/Stockholm:20260202T170000
DTSTART;TZID=Europe/Stockholm:20260202T183000
DTEND;TZID=Europe/Stockholm:20260202T193000
SUMMARY:Simning (flyttad)
END:VEVENT
BEGIN:VEVENT
UID:dentist@test
DTSTART:20260204T130000Z
DTEND:20260204T133000Z
SUMMARY:Dentist
LOCATION:Folktandvården\, Solna
END:VEVENT
BEGIN:VEVENT
UID:floating@test
DTSTART:20260206T080000
SUMMARY:Skolfoto
END:VEVENT
BEGIN:VEVENT
UID:trip@test
DTSTART;VALUE=DATE:20260207
DTEND;VALUE=DATE:20260208
SUMMARY:Utflykt
END:VEVENT
BEGIN:VEVENT
UID:cancelled@test
DTSTART:20260203T090000Z
STATUS:CANCELLED
SUMMARY:Inställt
END:VEVENT
BEGIN:VEVENT
UID:late@test
DTSTART:20260208T233000Z
SUMMARY:Late night UTC
END:VEVENT
END:VCALENDAR
`

func stockholm(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("Europe/Stockholm")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	return loc
}

// week6 is ISO week 6 of 2026, Monday 2 to Sunday 8 February.
func week6(loc *time.Location) ExpandConfig {
	monday := time.Date(2026, time.February, 2, 0, 0, 0, 0, loc)
	return ExpandConfig{
		DisplayLocation: loc,
		RangeStart:      monday,
		RangeEnd:        monday.AddDate(0, 0, 7).Add(-time.Nanosecond),
	}
}

func TestParseICS(t *testing.T) {
	loc := stockholm(t)
	events, err := ParseICS(Source{ID: "test"}, []byte(testCalendar), loc)
	if err != nil {
		t.Fatalf("ParseICS: %v", err)
	}
	if len(events) != 6 {
		t.Fatalf("got %d events, want 6 (cancelled skipped)", len(events))
	}

	byUID := make(map[string]ParsedEvent)
	for _, ev := range events {
		if !ev.IsOverride() {
			byUID[ev.UID] = ev
		}
	}

	trip := byUID["trip@test"]
	if !trip.AllDay || trip.Start.Location() != loc || trip.Start.Day() != 7 {
		t.Errorf("trip = %+v, want all-day on 7 Feb in display zone", trip)
	}
	if floating := byUID["floating@test"]; floating.Start.Location() != loc || floating.Start.Hour() != 8 {
		t.Errorf("floating start = %s, want 08:00 display zone", floating.Start)
	}
	if dentist := byUID["dentist@test"]; dentist.Location != "Folktandvården, Solna" {
		t.Errorf("location = %q", dentist.Location)
	}
	if swim := byUID["swim@test"]; len(swim.ExDates) != 1 || swim.RawRRule == "" {
		t.Errorf("swim = %+v, want RRULE and one EXDATE", swim)
	}
}

func TestExpandOccurrencesWeek(t *testing.T) {
	loc := stockholm(t)
	events, err := ParseICS(Source{ID: "test"}, []byte(testCalendar), loc)
	if err != nil {
		t.Fatalf("ParseICS: %v", err)
	}
	res, err := ExpandOccurrences(events, week6(loc))
	if err != nil {
		t.Fatalf("ExpandOccurrences: %v", err)
	}

	want := []struct {
		summary   string
		start     string
		allDay    bool
		recurring bool
	}{
		{"Simning (flyttad)", "2026-02-02 18:30", false, true},
		{"Dentist", "2026-02-04 14:00", false, false},
		{"Skolfoto", "2026-02-06 08:00", false, false},
		{"Utflykt", "2026-02-07 00:00", true, false},
	}
	if len(res.Occurrences) != len(want) {
		for _, o := range res.Occurrences {
			t.Logf("got %s %s", o.Start, o.Summary)
		}
		t.Fatalf("got %d occurrences, want %d", len(res.Occurrences), len(want))
	}
	for i, w := range want {
		o := res.Occurrences[i]
		if o.Summary != w.summary || o.Start.Format("2006-01-02 15:04") != w.start || o.AllDay != w.allDay || o.Recurrence != w.recurring {
			t.Errorf("occurrence %d = %q %s allDay=%v recurring=%v, want %+v",
				i, o.Summary, o.Start.Format("2006-01-02 15:04"), o.AllDay, o.Recurrence, w)
		}
		if o.Start.Location() != loc {
			t.Errorf("occurrence %d not in display zone: %s", i, o.Start.Location())
		}
	}
}

func TestExpandOverrideMovedIntoWindow(t *testing.T) {
	loc := stockholm(t)
	cal := `BEGIN:VCALENDAR
VERSION:2.0
PRODID:-//famdigest//test//EN
BEGIN:VEVENT
UID:choir@test
DTSTART;TZID=Europe/Stockholm:20260112T160000
DTEND;TZID=Europe/Stockholm:20260112T170000
RRULE:FREQ=WEEKLY;COUNT=10
SUMMARY:Kör
END:VEVENT
BEGIN:VEVENT
UID:choir@test
RECURRENCE-ID;TZID=Europe/Stockholm:20260209T160000
DTSTART;TZID=Europe/Stockholm:20260208T160000
DTEND;TZID=Europe/Stockholm:20260208T170000
SUMMARY:Kör (söndag)
END:VEVENT
END:VCALENDAR
`
	events, err := ParseICS(Source{ID: "test"}, []byte(cal), loc)
	if err != nil {
		t.Fatalf("ParseICS: %v", err)
	}
	res, err := ExpandOccurrences(events, week6(loc))
	if err != nil {
		t.Fatalf("ExpandOccurrences: %v", err)
	}
	if len(res.Occurrences) != 2 {
		t.Fatalf("got %d occurrences, want Monday plus moved Sunday", len(res.Occurrences))
	}
	if got := res.Occurrences[1]; got.Summary != "Kör (söndag)" || got.Start.Day() != 8 {
		t.Errorf("moved instance = %q on %s", got.Summary, got.Start)
	}
}

// A weekly rule yields exactly one instance per rule weekday inside any
// target week, and none outside it, including across DST changes.
func TestExpandDatesWeeklyOnePerWeekday(t *testing.T) {
	loc := stockholm(t)
	dtstart := time.Date(2025, time.September, 2, 17, 30, 0, 0, loc) // a Tuesday

	monday := time.Date(2025, time.September, 29, 0, 0, 0, 0, loc)
	for i := 0; i < 60; i++ {
		from := monday.AddDate(0, 0, 7*i)
		to := from.AddDate(0, 0, 7).Add(-time.Nanosecond)

		got, err := ExpandDates("FREQ=WEEKLY;BYDAY=TU,TH", dtstart, nil, from, to)
		if err != nil {
			t.Fatalf("ExpandDates: %v", err)
		}
		if len(got) != 2 {
			t.Fatalf("week of %s: got %d instances, want 2", from.Format("2006-01-02"), len(got))
		}
		if got[0].Weekday() != time.Tuesday || got[1].Weekday() != time.Thursday {
			t.Errorf("week of %s: weekdays %s, %s", from.Format("2006-01-02"), got[0].Weekday(), got[1].Weekday())
		}
		for _, d := range got {
			if d.Before(from) || d.After(to) {
				t.Errorf("instance %s outside window", d)
			}
			if d.Hour() != 17 || d.Minute() != 30 {
				t.Errorf("instance %s lost its wall-clock time", d)
			}
		}
		// Re-deriving the cadence: the two instances are two calendar days apart.
		if !got[0].AddDate(0, 0, 2).Equal(got[1]) {
			t.Errorf("week of %s: %s and %s are not two days apart", from.Format("2006-01-02"), got[0], got[1])
		}
	}
}

func TestExpandDatesExDate(t *testing.T) {
	loc := stockholm(t)
	dtstart := time.Date(2026, time.January, 5, 8, 0, 0, 0, loc)
	from := time.Date(2026, time.February, 2, 0, 0, 0, 0, loc)
	to := from.AddDate(0, 0, 7).Add(-time.Nanosecond)
	ex := []time.Time{time.Date(2026, time.February, 4, 7, 0, 0, 0, time.UTC)} // 08:00 Stockholm

	got, err := ExpandDates("FREQ=DAILY;BYDAY=MO,TU,WE,TH,FR", dtstart, ex, from, to)
	if err != nil {
		t.Fatalf("ExpandDates: %v", err)
	}
	if len(got) != 4 {
		t.Fatalf("got %d instances, want 4", len(got))
	}
	for _, d := range got {
		if d.Day() == 4 {
			t.Errorf("excluded date %s returned", d)
		}
	}
}

func TestExpandDatesBadRule(t *testing.T) {
	if _, err := ExpandDates("FREQ=SOMETIMES", time.Now(), nil, time.Now(), time.Now().Add(time.Hour)); err == nil {
		t.Error("want error for invalid rule")
	}
}

func TestNormalizeURL(t *testing.T) {
	tests := map[string]string{
		"webcal://example.com/a.ics":   "https://example.com/a.ics",
		" WEBCAL://example.com/a.ics ": "https://example.com/a.ics",
		"https://example.com/a.ics":    "https://example.com/a.ics",
	}
	for in, want := range tests {
		if got := NormalizeURL(in); got != want {
			t.Errorf("NormalizeURL(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestFetcherConditionalCache(t *testing.T) {
	var (
		status   atomic.Int32
		requests atomic.Int32
	)
	status.Store(http.StatusOK)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		if r.Header.Get("If-None-Match") == `"v1"` && status.Load() == http.StatusOK {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		if s := int(status.Load()); s != http.StatusOK {
			w.WriteHeader(s)
			return
		}
		w.Header().Set("ETag", `"v1"`)
		_, _ = w.Write([]byte(testCalendar))
	}))
	defer srv.Close()

	dir := t.TempDir()
	f := NewFetcher(dir, time.Second)
	src := Source{ID: "family", URL: srv.URL + "/family.ics"}
	ctx := context.Background()

	res, err := f.FetchOne(ctx, src)
	if err != nil || res.FromCache || string(res.Body) != testCalendar {
		t.Fatalf("first fetch: fromCache=%v err=%v", res.FromCache, err)
	}

	res, err = f.FetchOne(ctx, src)
	if err != nil || !res.FromCache {
		t.Fatalf("second fetch should be served from cache after 304: fromCache=%v err=%v", res.FromCache, err)
	}

	status.Store(http.StatusInternalServerError)
	res, err = f.FetchOne(ctx, src)
	if err != nil || !res.FromCache || string(res.Body) != testCalendar {
		t.Fatalf("server error should fall back to cache: fromCache=%v err=%v", res.FromCache, err)
	}

	if n := requests.Load(); n != 3 {
		t.Errorf("requests = %d, want 3", n)
	}

	empty := NewFetcher(t.TempDir(), time.Second)
	_, err = empty.FetchOne(ctx, src)
	var fe *FetchError
	if !errors.As(err, &fe) || !errors.Is(err, ErrSourceFetch) {
		t.Fatalf("err = %v, want *FetchError matching ErrSourceFetch", err)
	}
}
