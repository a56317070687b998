// Package snapshot fingerprints a week's digest inputs and decides whether
// a weekday run has anything new to report.
package snapshot

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
	"time"

	"famdigest/internal/digest"
	"famdigest/internal/model"
	"famdigest/internal/week"
)

// Section names the part of the digest an entity belongs to.
type Section string

const (
	SectionSchool   Section = "school"
	SectionCalendar Section = "calendar"
)

// Snapshot is the single persisted record. It holds one fingerprint per
// entity and nothing else.
type Snapshot struct {
	TakenAt time.Time `json:"taken_at"`
	Year    int       `json:"year"`
	ISOWeek int       `json:"iso_week"`

	// School is keyed by person name.
	School map[string]string `json:"school"`
	// Calendar is keyed by person name or the family sentinel.
	Calendar map[string]string `json:"calendar"`
}

// SameWeek reports whether both snapshots describe the same ISO week.
func (s *Snapshot) SameWeek(o *Snapshot) bool {
	return s != nil && o != nil && s.Year == o.Year && s.ISOWeek == o.ISOWeek
}

// Items holds the readable lines behind each fingerprint of a freshly built
// snapshot. They are used to write the change notification and are never
// persisted.
type Items struct {
	School   map[string][]string
	Calendar map[string][]string
}

// Build computes the snapshot of the current inputs. School entities exist
// for every person with a class page or kept lines; calendar entities exist
// for every name with at least one event in the week.
func Build(target week.Target, people []model.Person, lines []model.SchoolLine, events []model.Event, locale digest.Locale, takenAt time.Time) (*Snapshot, Items) {
	snap := &Snapshot{
		TakenAt:  takenAt.UTC(),
		Year:     target.Year,
		ISOWeek:  target.ISOWeek,
		School:   make(map[string]string),
		Calendar: make(map[string]string),
	}
	items := Items{
		School:   make(map[string][]string),
		Calendar: make(map[string][]string),
	}

	school := make(map[string][]string)
	for _, l := range lines {
		if l.Classification != model.Keep {
			continue
		}
		school[l.Person.Name] = append(school[l.Person.Name], digest.SchoolLineText(l))
	}
	for _, p := range people {
		if p.SchoolURL == "" && len(school[p.Name]) == 0 {
			continue
		}
		snap.School[p.Name] = fingerprint(school[p.Name])
		items.School[p.Name] = school[p.Name]
	}
	// Lines for people outside the configuration still count.
	for name, ls := range school {
		if _, ok := snap.School[name]; !ok {
			snap.School[name] = fingerprint(ls)
			items.School[name] = ls
		}
	}

	byName := make(map[string][]model.Event)
	for _, ev := range events {
		if !target.Contains(ev.Date) {
			continue
		}
		name := ev.Person
		if ev.IsFamily() {
			name = model.FamilyName
		}
		byName[name] = append(byName[name], ev)
	}
	for name, evs := range byName {
		canon := make([]string, 0, len(evs))
		for _, ev := range evs {
			canon = append(canon, canonicalEvent(ev))
		}
		sort.Strings(canon)
		snap.Calendar[name] = fingerprint(canon)

		sort.SliceStable(evs, func(i, j int) bool {
			return canonicalEvent(evs[i]) < canonicalEvent(evs[j])
		})
		shown := make([]string, 0, len(evs))
		for _, ev := range evs {
			shown = append(shown, locale.DayLabel(ev.Date)+": "+eventText(ev))
		}
		items.Calendar[name] = shown
	}

	return snap, items
}

// canonicalEvent is the fingerprinted form of one event. Sorting these
// strings orders events by date, then time (untimed first), then title.
func canonicalEvent(ev model.Event) string {
	at := ""
	if ev.Start != nil {
		at = ev.Start.Format("15:04")
	}
	return strings.Join([]string{ev.Date.Format("2006-01-02"), at, ev.Title, ev.Location}, "\t")
}

func eventText(ev model.Event) string {
	s := ev.Title
	if ev.Start != nil {
		s = ev.Start.Format("15:04") + " " + s
	}
	if ev.Location != "" {
		s += " (" + ev.Location + ")"
	}
	return s
}

// fingerprint is the hex sha256 of lines joined by newlines, in the given
// order.
func fingerprint(lines []string) string {
	h := sha256.New()
	for _, l := range lines {
		h.Write([]byte(l))
		h.Write([]byte{'\n'})
	}
	return hex.EncodeToString(h.Sum(nil))
}
