// Package digest merges filtered school lines and calendar events into the
// weekly digest and renders it as Markdown.
package digest

import (
	"sort"
	"strings"
	"time"

	"famdigest/internal/model"
	"famdigest/internal/week"
)

// maxFamilyTitles bounds the titles listed in the family note.
const maxFamilyTitles = 5

// DaySlot is one day of the target week with its ordered events.
type DaySlot struct {
	Date    time.Time
	Weekday time.Weekday
	Events  []model.Event
}

// SchoolSection is one person's kept school lines in filter order.
type SchoolSection struct {
	Person model.Person
	Lines  []model.SchoolLine
}

// Digest is the assembled, delivery-ready artifact. It is never mutated
// after Assemble returns.
type Digest struct {
	Target week.Target
	Locale Locale
	Header string

	School []SchoolSection
	Days   [7]DaySlot

	// FamilyTitles lists distinct family event titles in day order. A
	// non-empty list produces the family note before the day detail.
	FamilyTitles []string

	// Diagnostics name sources that were skipped.
	Diagnostics []string
}

// Options carries the non-data inputs of Assemble.
type Options struct {
	Locale      Locale
	Diagnostics []string
}

// Assemble builds the digest. It is pure: the same inputs always yield an
// identical Digest regardless of input order of events.
//
// School sections follow the configured person order; a person gets a
// section when they have a class page or any kept line. Events outside the
// target week are ignored. Within a day, family events come first, then
// configured people in order, then other names alphabetically; each
// person's timed events are ordered by start and untimed ones follow by
// title.
func Assemble(target week.Target, people []model.Person, lines []model.SchoolLine, events []model.Event, opts Options) *Digest {
	if opts.Locale == "" {
		opts.Locale = Swedish
	}
	d := &Digest{
		Target:      target,
		Locale:      opts.Locale,
		Header:      opts.Locale.Header(target.ISOWeek),
		Diagnostics: append([]string(nil), opts.Diagnostics...),
	}

	byPerson := make(map[string][]model.SchoolLine)
	for _, l := range lines {
		if l.Classification != model.Keep {
			continue
		}
		byPerson[l.Person.Name] = append(byPerson[l.Person.Name], l)
	}
	for _, p := range people {
		ls := byPerson[p.Name]
		if p.SchoolURL == "" && len(ls) == 0 {
			continue
		}
		d.School = append(d.School, SchoolSection{Person: p, Lines: ls})
	}

	for i, day := range target.Days() {
		d.Days[i] = DaySlot{Date: day, Weekday: day.Weekday()}
	}
	for _, ev := range events {
		idx := target.DayIndex(ev.Date)
		if idx < 0 {
			continue
		}
		d.Days[idx].Events = append(d.Days[idx].Events, ev)
	}

	rank := personRank(people)
	seen := make(map[string]bool)
	for i := range d.Days {
		sortDay(d.Days[i].Events, rank)
		for _, ev := range d.Days[i].Events {
			title := strings.TrimSpace(ev.Title)
			if !ev.IsFamily() || title == "" || seen[title] {
				continue
			}
			seen[title] = true
			d.FamilyTitles = append(d.FamilyTitles, title)
		}
	}
	return d
}

// IsEmpty reports whether the digest has neither school lines nor events.
func (d *Digest) IsEmpty() bool {
	for _, s := range d.School {
		if len(s.Lines) > 0 {
			return false
		}
	}
	for _, day := range d.Days {
		if len(day.Events) > 0 {
			return false
		}
	}
	return true
}

// HasFamilyActivity reports whether any family event falls in the week.
func (d *Digest) HasFamilyActivity() bool {
	for _, day := range d.Days {
		for _, ev := range day.Events {
			if ev.IsFamily() {
				return true
			}
		}
	}
	return false
}

// personRank orders family first, then configured people.
func personRank(people []model.Person) map[string]int {
	rank := make(map[string]int, len(people)+1)
	rank[model.FamilyName] = 0
	for i, p := range people {
		if _, ok := rank[p.Name]; !ok {
			rank[p.Name] = i + 1
		}
	}
	return rank
}

func sortDay(events []model.Event, rank map[string]int) {
	unknown := len(rank) + 1
	rankOf := func(ev model.Event) int {
		if ev.IsFamily() {
			return 0
		}
		if r, ok := rank[ev.Person]; ok {
			return r
		}
		return unknown
	}

	sort.SliceStable(events, func(i, j int) bool {
		a, b := events[i], events[j]
		if ra, rb := rankOf(a), rankOf(b); ra != rb {
			return ra < rb
		}
		if a.Person != b.Person {
			return a.Person < b.Person
		}
		if (a.Start == nil) != (b.Start == nil) {
			return a.Start != nil
		}
		if a.Start != nil && !a.Start.Equal(*b.Start) {
			return a.Start.Before(*b.Start)
		}
		if a.Title != b.Title {
			return a.Title < b.Title
		}
		if a.SourceUID != b.SourceUID {
			return a.SourceUID < b.SourceUID
		}
		return a.Location < b.Location
	})
}
