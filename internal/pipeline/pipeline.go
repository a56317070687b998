// Package pipeline runs one digest or update check from fetch to delivery.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"famdigest/internal/calendar"
	"famdigest/internal/compose"
	"famdigest/internal/config"
	"famdigest/internal/digest"
	"famdigest/internal/ics"
	appLog "famdigest/internal/log"
	"famdigest/internal/metrics"
	"famdigest/internal/model"
	"famdigest/internal/notify"
	"famdigest/internal/school"
	"famdigest/internal/snapshot"
	"famdigest/internal/week"
)

// Mode selects what a run delivers.
type Mode string

const (
	// ModeFull always delivers the whole digest and records the snapshot.
	ModeFull Mode = "full"
	// ModeCheckUpdates delivers a short notification only when the week's
	// content changed since the last snapshot.
	ModeCheckUpdates Mode = "check-updates"
)

// ErrInvalidMode is returned by ParseMode.
var ErrInvalidMode = errors.New("invalid run mode")

func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ModeFull:
		return ModeFull, nil
	case ModeCheckUpdates, "check":
		return ModeCheckUpdates, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidMode, s)
}

// Options controls a single run.
type Options struct {
	Mode Mode
	// Week and Year override the coming-week inference. Year 0 means the
	// current ISO year.
	Week int
	Year int
	// DryRun builds everything but neither delivers nor writes the
	// snapshot.
	DryRun bool
	// RulesOnly skips the composition call.
	RulesOnly bool
	// Preview is an on-demand render for the HTTP API. It implies DryRun
	// and RulesOnly and is counted under its own mode label.
	Preview bool
}

// previewLabel is the run metric mode of previews.
const previewLabel = "preview"

// Result describes what a run did.
type Result struct {
	RunID  string
	Mode   Mode
	Target week.Target

	// Body is the delivered (or, on a dry run, deliverable) text. It is
	// empty when a check found nothing new.
	Body      string
	Delivered bool

	State   snapshot.State
	Changes []snapshot.Change

	// Diagnostics lists sources that could not be fetched.
	Diagnostics []string
}

// SchoolFetcher supplies stripped class page text.
type SchoolFetcher interface {
	Fetch(ctx context.Context, person model.Person) (string, error)
}

// CalendarExpander supplies the events of one week.
type CalendarExpander interface {
	Expand(ctx context.Context, sources []model.CalendarSource, target week.Target) calendar.Result
}

// Runner holds everything a run needs. Fields may be replaced after
// NewRunner, which tests do.
type Runner struct {
	Config   *config.Config
	School   SchoolFetcher
	Calendar CalendarExpander
	Filter   *school.Filter
	Composer compose.Composer
	Detector *snapshot.Detector
	// Sender is nil when no delivery target is configured.
	Sender  notify.Sender
	Metrics metrics.Recorder
	Now     func() time.Time

	location *time.Location
	locale   digest.Locale
	people   []model.Person
	sources  []model.CalendarSource
}

// NewRunner wires the default fetchers, filter and composer from cfg.
// sender may be nil; rec may be nil.
func NewRunner(cfg *config.Config, store snapshot.Store, sender notify.Sender, rec metrics.Recorder) (*Runner, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	filter, err := school.NewFilter(FilterOptions(cfg.School))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", config.ErrInvalidConfig, err)
	}
	if rec == nil {
		rec = metrics.Nop{}
	}

	people := cfg.PeopleModels()
	r := &Runner{
		Config:   cfg,
		School:   school.NewFetcher(cfg.FetchTimeout),
		Calendar: calendar.NewExpander(ics.NewFetcher(cfg.CacheDir, cfg.FetchTimeout), people),
		Filter:   filter,
		Composer: compose.New(cfg.LLM, func(error) { rec.RecordCompositionFallback() }),
		Detector: snapshot.NewDetector(store),
		Sender:   sender,
		Metrics:  rec,
		Now:      time.Now,
		location: loc,
		locale:   digest.ParseLocale(cfg.Language),
		people:   people,
		sources:  cfg.CalendarSources(),
	}
	return r, nil
}

// FilterOptions maps the school config onto filter options. An empty rule
// list keeps the built-in table.
func FilterOptions(sc config.SchoolConfig) school.Options {
	opts := school.Options{
		Subjects:        sc.Subjects,
		ContextMaxLines: sc.ContextMaxLines,
		ContextMaxChars: sc.ContextMaxChars,
	}
	if len(sc.NoiseRules) > 0 {
		for _, nr := range sc.NoiseRules {
			opts.Rules = append(opts.Rules, school.Rule{
				Match:   school.MatchKind(nr.Match),
				Pattern: nr.Pattern,
				Reason:  nr.Reason,
			})
		}
	}
	return opts
}

// Location is the timezone all week math uses.
func (r *Runner) Location() *time.Location { return r.location }

// Events expands the configured calendars for target without touching
// school pages, delivery or the snapshot.
func (r *Runner) Events(ctx context.Context, target week.Target) calendar.Result {
	return r.Calendar.Expand(ctx, r.sources, target)
}

// ResolveTarget returns the week a run with opts would cover. Full runs
// cover the coming week; update checks cover the week the last Sunday
// digest announced. An invalid override fails with week.ErrInvalidWeekSpec.
func (r *Runner) ResolveTarget(opts Options) (week.Target, error) {
	now := r.Now().In(r.location)
	if opts.Week == 0 && opts.Year == 0 {
		if opts.Mode == ModeCheckUpdates {
			return week.ResolveActive(now, r.location), nil
		}
		return week.Resolve(now, r.location), nil
	}
	year := opts.Year
	if year == 0 {
		year, _ = now.ISOWeek()
	}
	return week.FromISO(year, opts.Week, r.location)
}

// Run performs one run. Source failures degrade into Result.Diagnostics;
// only an invalid week override, a missing delivery target, a failed
// delivery or, after a detected change, a failed snapshot write return an
// error. In the last case the notification has already been delivered.
func (r *Runner) Run(ctx context.Context, opts Options) (res Result, err error) {
	if opts.Mode == "" {
		opts.Mode = ModeFull
	}
	if opts.Preview {
		opts.DryRun, opts.RulesOnly = true, true
	}
	res = Result{RunID: uuid.NewString(), Mode: opts.Mode}
	started := r.Now()
	outcome := "error"
	defer func() {
		label := string(opts.Mode)
		if opts.Preview {
			label = previewLabel
		}
		r.Metrics.RecordRun(label, outcome, r.Now().Sub(started))
	}()

	if opts.Mode != ModeFull && opts.Mode != ModeCheckUpdates {
		return res, fmt.Errorf("%w: %q", ErrInvalidMode, opts.Mode)
	}
	target, err := r.ResolveTarget(opts)
	if err != nil {
		return res, err
	}
	res.Target = target
	if !opts.DryRun && r.Sender == nil {
		return res, config.ErrMissingWebhook
	}

	logKV := []any{"run_id", res.RunID, "mode", opts.Mode, "week", target.String()}
	appLog.Info("run start", append(logKV, "dry_run", opts.DryRun, "people", len(r.people), "calendars", len(r.sources))...)

	in, unreachable := r.gather(ctx, target)
	res.Diagnostics = in.Diagnostics

	if opts.Mode == ModeCheckUpdates {
		outcome, err = r.runCheck(ctx, opts, in, unreachable, &res)
	} else {
		outcome, err = r.runFull(ctx, opts, in, &res)
	}
	if err != nil {
		appLog.Error("run failed", err, logKV...)
		return res, err
	}
	appLog.Info("run done", append(logKV, "outcome", outcome, "delivered", res.Delivered, "skipped_sources", len(res.Diagnostics))...)
	return res, nil
}

func (r *Runner) runFull(ctx context.Context, opts Options, in compose.Input, res *Result) (string, error) {
	var composer compose.Composer = compose.RuleComposer{}
	if !opts.RulesOnly && r.Composer != nil {
		composer = r.Composer
	}
	body, err := composer.Compose(ctx, in)
	if err != nil {
		// The rule composer cannot fail; a custom composer might.
		appLog.Warn("composer failed, using rules", "composer", composer.Name(), "err", err)
		body, _ = compose.RuleComposer{}.Compose(ctx, in)
	}
	res.Body = body
	res.State = snapshot.StateSnapshotUpdated

	if opts.DryRun {
		return "dry-run", nil
	}
	if err := r.Sender.Send(ctx, body); err != nil {
		return "error", err
	}
	res.Delivered = true

	snap, _ := snapshot.Build(in.Target, in.People, in.Lines, in.Events, in.Locale, r.Now())
	if err := r.Detector.Commit(ctx, snap); err != nil {
		// Only update checks depend on the snapshot; they will treat it
		// as absent and report everything.
		appLog.Warn("snapshot write failed after full run", "err", err, "week", in.Target.String())
	}
	return "delivered", nil
}

func (r *Runner) runCheck(ctx context.Context, opts Options, in compose.Input, unreachable snapshot.Unreachable, res *Result) (string, error) {
	snap, items := snapshot.Build(in.Target, in.People, in.Lines, in.Events, in.Locale, r.Now())
	cmp := r.Detector.CompareExcept(ctx, snap, unreachable)
	res.State = cmp.State
	res.Changes = cmp.Changes
	if !cmp.Changed() {
		return "no-op", nil
	}
	r.Metrics.RecordChanges(len(cmp.Changes))
	res.Body = snapshot.FormatNotification(in.Target, cmp.Changes, items, in.Locale)

	if opts.DryRun {
		return "dry-run", nil
	}
	if err := r.Sender.Send(ctx, res.Body); err != nil {
		return "error", err
	}
	res.Delivered = true

	if err := r.Detector.Commit(ctx, snap); err != nil {
		return "delivered", err
	}
	return "delivered", nil
}

// personText is one person's fetch slot.
type personText struct {
	text string
	err  error
}

// gather fetches every source concurrently and classifies the school text.
// Results are placed by configured order, never by completion order. The
// entities whose sources failed are returned separately so an update check
// does not mistake an outage for a change.
func (r *Runner) gather(ctx context.Context, target week.Target) (compose.Input, snapshot.Unreachable) {
	texts := make([]personText, len(r.people))
	var cal calendar.Result

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, p := range r.people {
		if p.SchoolURL == "" {
			continue
		}
		g.Go(func() error {
			fctx, cancel := r.fetchContext(gctx)
			defer cancel()
			texts[i].text, texts[i].err = r.School.Fetch(fctx, p)
			return nil
		})
	}
	g.Go(func() error {
		fctx, cancel := r.fetchContext(gctx)
		defer cancel()
		cal = r.Calendar.Expand(fctx, r.sources, target)
		return nil
	})
	_ = g.Wait()

	var unreachable snapshot.Unreachable
	in := compose.Input{
		Target:  target,
		Locale:  r.locale,
		People:  r.people,
		RawText: make(map[string]string, len(r.people)),
		Events:  cal.Events,
	}
	for i, p := range r.people {
		if p.SchoolURL == "" {
			continue
		}
		if err := texts[i].err; err != nil {
			appLog.Warn("school source skipped", "person", p.Name, "err", err)
			r.Metrics.RecordFetch(metrics.KindSchool, false)
			in.Diagnostics = append(in.Diagnostics, "school "+p.Name)
			unreachable.School = append(unreachable.School, p.Name)
			continue
		}
		r.Metrics.RecordFetch(metrics.KindSchool, true)
		in.RawText[p.Name] = texts[i].text
		in.Lines = append(in.Lines, r.Filter.Keep(p, texts[i].text, target.ISOWeek)...)
	}

	for i := 0; i < cal.Fetched; i++ {
		r.Metrics.RecordFetch(metrics.KindCalendar, true)
	}
	for _, err := range cal.Errors {
		var se *calendar.SourceError
		name := "calendar"
		if errors.As(err, &se) && len(se.Source.Names) > 0 {
			name = strings.Join(se.Source.Names, "+")
			for _, n := range se.Source.Names {
				if model.IsFamilyName(n) {
					n = model.FamilyName
				}
				unreachable.Calendar = append(unreachable.Calendar, n)
			}
		}
		r.Metrics.RecordFetch(metrics.KindCalendar, false)
		in.Diagnostics = append(in.Diagnostics, "calendar "+name)
	}
	return in, unreachable
}

// fetchContext bounds one source. The calendar expander fetches several
// feeds under it, each also bounded by its client timeout.
func (r *Runner) fetchContext(ctx context.Context) (context.Context, context.CancelFunc) {
	timeout := r.Config.FetchTimeout
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, 2*timeout)
}
