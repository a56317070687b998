package digest

import (
	"fmt"
	"strings"
	"time"
)

// Locale selects digest wording.
type Locale string

const (
	Swedish Locale = "sv"
	English Locale = "en"
)

// ParseLocale maps a config value to a Locale, defaulting to Swedish.
func ParseLocale(s string) Locale {
	if strings.EqualFold(strings.TrimSpace(s), string(English)) {
		return English
	}
	return Swedish
}

type phrases struct {
	header        string // %d week
	together      string
	school        string
	noSchool      string
	calendar      string // %d week
	noEvents      string
	skipped       string
	weekdays      [7]string // Monday first
	months        [12]string
	updates       string // %d week, %d year
	pageChanged   string
	removedPrefix string
	more          string // %d
	allDay        string
	llmWeek       string
	llmSchool     string
	llmCalendar   string
}

var swedish = phrases{
	header:        "Vecka %d – Veckosammanfattning",
	together:      "**Tillsammans:** Denna vecka har familjen tillsammans: ",
	school:        "Skola",
	noSchool:      "Inga prov/läxor/förhör hittade denna vecka.",
	calendar:      "Kalender (vecka %d)",
	noEvents:      "Inga händelser.",
	skipped:       "Kunde inte hämta: ",
	weekdays:      [7]string{"Måndag", "Tisdag", "Onsdag", "Torsdag", "Fredag", "Lördag", "Söndag"},
	months:        [12]string{"januari", "februari", "mars", "april", "maj", "juni", "juli", "augusti", "september", "oktober", "november", "december"},
	updates:       "**Vecka %d (%d) – uppdateringar**",
	pageChanged:   "(sidan ändrad)",
	removedPrefix: "borttaget: ",
	more:          "... och %d till.",
	allDay:        "Heldag",
	llmWeek:       "VECKA",
	llmSchool:     "SKOLA",
	llmCalendar:   "KALENDER",
}

var english = phrases{
	header:        "Week %d – Weekly digest",
	together:      "**Together:** This week the family has: ",
	school:        "School",
	noSchool:      "No tests, homework or quizzes found this week.",
	calendar:      "Calendar (week %d)",
	noEvents:      "No events.",
	skipped:       "Could not fetch: ",
	weekdays:      [7]string{"Monday", "Tuesday", "Wednesday", "Thursday", "Friday", "Saturday", "Sunday"},
	months:        [12]string{"January", "February", "March", "April", "May", "June", "July", "August", "September", "October", "November", "December"},
	updates:       "**Week %d (%d) – updates**",
	pageChanged:   "(page changed)",
	removedPrefix: "removed: ",
	more:          "... and %d more.",
	allDay:        "All day",
	llmWeek:       "WEEK",
	llmSchool:     "SCHOOL",
	llmCalendar:   "CALENDAR",
}

func (l Locale) phrases() *phrases {
	if l == English {
		return &english
	}
	return &swedish
}

// DayLabel renders a date as "Onsdag 4 februari" / "Wednesday 4 February".
func (l Locale) DayLabel(d time.Time) string {
	p := l.phrases()
	wd := (int(d.Weekday()) + 6) % 7
	return fmt.Sprintf("%s %d %s", p.weekdays[wd], d.Day(), p.months[d.Month()-1])
}

// Header is the digest title line without the Markdown marker.
func (l Locale) Header(isoWeek int) string {
	return fmt.Sprintf(l.phrases().header, isoWeek)
}

// UpdatesHeader is the first line of a change notification.
func (l Locale) UpdatesHeader(isoWeek, year int) string {
	return fmt.Sprintf(l.phrases().updates, isoWeek, year)
}

// PageChanged marks a school section whose content changed.
func (l Locale) PageChanged() string { return l.phrases().pageChanged }

// Removed prefixes an item that disappeared since the last snapshot.
func (l Locale) Removed(s string) string { return l.phrases().removedPrefix + s }

// More summarizes n omitted lines.
func (l Locale) More(n int) string { return fmt.Sprintf(l.phrases().more, n) }

// AllDay stands in for the start time of untimed events.
func (l Locale) AllDay() string { return l.phrases().allDay }

// SchoolTitle and CalendarTitle name the digest sections.
func (l Locale) SchoolTitle() string { return l.phrases().school }

func (l Locale) CalendarTitle(isoWeek int) string {
	return fmt.Sprintf(l.phrases().calendar, isoWeek)
}
