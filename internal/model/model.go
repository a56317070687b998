package model

import (
	"errors"
	"strings"
	"time"
)

// ErrSourceFetch marks a failed school page or calendar fetch. It is never
// fatal to a run: the source contributes nothing and the run continues.
var ErrSourceFetch = errors.New("source fetch failed")

// FamilyName is the calendar name reserved for whole-family events. Events
// attributed to it are surfaced as a shared highlight rather than under an
// individual person.
const FamilyName = "Familjen"

// Person is a tracked family member with an optional school class page.
type Person struct {
	Name      string
	Class     string
	SchoolURL string
}

// Heading is the display label used for the person's school section,
// "Name (Class)" or just "Name".
func (p Person) Heading() string {
	if p.Class == "" {
		return p.Name
	}
	return p.Name + " (" + p.Class + ")"
}

// CalendarSource is one configured ICS feed and the names it belongs to.
// A source may serve one person, several (shared), or the family.
type CalendarSource struct {
	Names []string
	URL   string
}

// IsFamily reports whether the source is bound to the family sentinel.
func (s CalendarSource) IsFamily() bool {
	for _, n := range s.Names {
		if IsFamilyName(n) {
			return true
		}
	}
	return false
}

// IsFamilyName matches the sentinel case-insensitively, since it is typed
// by hand in configuration.
func IsFamilyName(name string) bool {
	return strings.EqualFold(strings.TrimSpace(name), FamilyName)
}

// Classification is the filter verdict for a single school page line.
type Classification int

const (
	Keep Classification = iota
	DropGeneric
	DropNoWeek
)

func (c Classification) String() string {
	switch c {
	case Keep:
		return "keep"
	case DropGeneric:
		return "drop-generic"
	case DropNoWeek:
		return "drop-no-week"
	default:
		return "unknown"
	}
}

// SchoolLine is one classified line of a person's school page.
type SchoolLine struct {
	Person  Person
	Subject string // empty when no subject header preceded the line
	RawText string

	// WeekRefs holds every ISO week number the line refers to, with ranges
	// already expanded.
	WeekRefs map[int]struct{}

	Classification Classification
	// Reason names the rule that dropped the line, if any.
	Reason string
}

// HasWeekRefs reports whether the line mentioned any week at all.
func (l SchoolLine) HasWeekRefs() bool {
	return len(l.WeekRefs) > 0
}

// Event is a concrete calendar entry attributed to one person (or to
// FamilyName) on one local date of the target week. Recurring definitions
// are always expanded before they become Events.
type Event struct {
	Person string
	Date   time.Time // local midnight of the event day

	// Start is nil for all-day / untimed events.
	Start *time.Time

	Title    string
	Location string

	SourceUID            string
	IsRecurrenceInstance bool
}

// IsFamily reports whether the event belongs to the whole family.
func (e Event) IsFamily() bool {
	return IsFamilyName(e.Person)
}

// Occurrence represents a single concrete instance of an ICS event
// (after recurrence expansion and timezone normalization).
type Occurrence struct {
	SourceID string // calendar source ID
	UID      string // iCalendar UID

	// InstanceKey uniquely identifies a single occurrence of a recurring
	// event, typically derived from the local start time.
	InstanceKey string

	Summary  string
	Location string

	AllDay     bool
	Recurrence bool // produced by an RRULE rather than a single VEVENT

	// Start / End are in the configured display timezone.
	Start time.Time
	End   time.Time
}
