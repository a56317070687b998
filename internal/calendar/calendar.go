// Package calendar turns configured ICS sources into per-person events for
// one target week.
package calendar

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"famdigest/internal/ics"
	appLog "famdigest/internal/log"
	"famdigest/internal/model"
	"famdigest/internal/week"
)

// Fetcher is the part of ics.Fetcher the expander needs.
type Fetcher interface {
	FetchOne(ctx context.Context, src ics.Source) (ics.FetchResult, error)
}

// SourceError reports a calendar source that contributed no events. It
// matches model.ErrSourceFetch.
type SourceError struct {
	Source model.CalendarSource
	Err    error
}

func (e *SourceError) Error() string {
	return fmt.Sprintf("calendar %s: %v", sourceID(e.Source), e.Err)
}

func (e *SourceError) Unwrap() []error {
	return []error{model.ErrSourceFetch, e.Err}
}

// Result is the outcome of one expansion.
type Result struct {
	Events []model.Event
	// Errors holds one *SourceError per failed feed URL.
	Errors []error
	// Fetched counts distinct feed URLs that produced a payload.
	Fetched int
}

// Expander fetches, expands and attributes calendar events.
type Expander struct {
	fetcher Fetcher
	// names are every configured person name, used to narrow shared
	// calendars by the names mentioned in an event title.
	names       []string
	concurrency int
}

// NewExpander returns an Expander for the given people.
func NewExpander(f Fetcher, people []model.Person) *Expander {
	names := make([]string, 0, len(people))
	for _, p := range people {
		names = append(names, p.Name)
	}
	return &Expander{fetcher: f, names: names, concurrency: 4}
}

// feed is one distinct URL and every configured source that points at it.
type feed struct {
	url     string
	sources []model.CalendarSource

	occurrences []model.Occurrence
	err         error
}

// Expand fetches each distinct feed URL once and returns the events of
// target. A failing feed is reported in Result.Errors; the others still
// contribute.
func (x *Expander) Expand(ctx context.Context, sources []model.CalendarSource, target week.Target) Result {
	feeds := groupByURL(sources)
	names := x.allNames(sources)

	cfg := ics.ExpandConfig{
		DisplayLocation: target.Location,
		RangeStart:      target.Monday,
		RangeEnd:        target.End(),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(x.concurrency)
	for _, fd := range feeds {
		g.Go(func() error {
			fd.occurrences, fd.err = x.load(gctx, fd, cfg)
			// Failures are per feed; never cancel the siblings.
			return nil
		})
	}
	_ = g.Wait()

	var res Result
	seen := make(map[string]bool)
	for _, fd := range feeds {
		if fd.err != nil {
			for _, src := range fd.sources {
				res.Errors = append(res.Errors, &SourceError{Source: src, Err: fd.err})
			}
			appLog.Warn("calendar source skipped", "source", sourceID(fd.sources[0]), "err", fd.err)
			continue
		}
		res.Fetched++

		for _, src := range fd.sources {
			for _, occ := range fd.occurrences {
				for _, person := range attribute(src, occ.Summary, names) {
					ev := toEvent(person, occ, target)
					key := eventKey(ev)
					if seen[key] {
						continue
					}
					seen[key] = true
					res.Events = append(res.Events, ev)
				}
			}
		}
	}

	SortEvents(res.Events)
	return res
}

func (x *Expander) load(ctx context.Context, fd *feed, cfg ics.ExpandConfig) ([]model.Occurrence, error) {
	src := ics.Source{ID: sourceID(fd.sources[0]), URL: fd.url}

	fetched, err := x.fetcher.FetchOne(ctx, src)
	if err != nil {
		return nil, err
	}
	parsed, err := ics.ParseICS(src, fetched.Body, cfg.DisplayLocation)
	if err != nil {
		return nil, err
	}
	res, err := ics.ExpandOccurrences(parsed, cfg)
	if err != nil {
		return nil, err
	}
	return res.Occurrences, nil
}

// allNames is the set of person names the title rule looks for.
func (x *Expander) allNames(sources []model.CalendarSource) []string {
	set := make(map[string]bool)
	for _, n := range x.names {
		set[n] = true
	}
	for _, s := range sources {
		for _, n := range s.Names {
			set[n] = true
		}
	}
	out := make([]string, 0, len(set))
	for n := range set {
		if n != "" && !model.IsFamilyName(n) {
			out = append(out, n)
		}
	}
	sort.Strings(out)
	return out
}

// attribute returns the names an occurrence is shown for. A family source
// yields the family sentinel only. On other sources, an event whose title
// mentions configured people belongs to those of the source's names that
// are mentioned; otherwise to all of them.
func attribute(src model.CalendarSource, summary string, names []string) []string {
	if src.IsFamily() {
		return []string{model.FamilyName}
	}

	mentioned := make(map[string]bool)
	for _, n := range names {
		if strings.Contains(summary, n) {
			mentioned[n] = true
		}
	}

	out := make([]string, 0, len(src.Names))
	for _, n := range src.Names {
		if len(mentioned) == 0 || mentioned[n] {
			out = append(out, n)
		}
	}
	return out
}

func toEvent(person string, occ model.Occurrence, target week.Target) model.Event {
	ev := model.Event{
		Person:               person,
		Date:                 week.DateOf(occ.Start, target.Location),
		Title:                strings.TrimSpace(occ.Summary),
		Location:             occ.Location,
		SourceUID:            occ.UID,
		IsRecurrenceInstance: occ.Recurrence,
	}
	if !occ.AllDay {
		start := occ.Start.In(target.Location)
		ev.Start = &start
	}
	return ev
}

func eventKey(ev model.Event) string {
	start := ""
	if ev.Start != nil {
		start = ev.Start.Format("15:04")
	}
	return strings.Join([]string{ev.Person, ev.SourceUID, ev.Date.Format("2006-01-02"), start, ev.Title}, "\x00")
}

// SortEvents orders events by date, person, start (untimed last) and
// title. It does not know the configured person order; the digest applies
// that.
func SortEvents(events []model.Event) {
	sort.SliceStable(events, func(i, j int) bool {
		a, b := events[i], events[j]
		if !a.Date.Equal(b.Date) {
			return a.Date.Before(b.Date)
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
		return a.Title < b.Title
	})
}

// groupByURL preserves first-seen order of distinct normalized URLs.
func groupByURL(sources []model.CalendarSource) []*feed {
	index := make(map[string]*feed)
	var feeds []*feed
	for _, src := range sources {
		u := ics.NormalizeURL(src.URL)
		if u == "" {
			continue
		}
		fd, ok := index[u]
		if !ok {
			fd = &feed{url: u}
			index[u] = fd
			feeds = append(feeds, fd)
		}
		fd.sources = append(fd.sources, src)
	}
	return feeds
}

func sourceID(src model.CalendarSource) string {
	if len(src.Names) == 0 {
		return "calendar"
	}
	return strings.Join(src.Names, "+")
}
