package snapshot

import (
	"context"
	"errors"
	"fmt"
	"sort"

	appLog "famdigest/internal/log"
)

// State is the terminal state of one change check.
type State string

const (
	StateNoOp            State = "no-op"
	StateSnapshotUpdated State = "snapshot-updated"
)

// ChangeKind says how an entity differs from the stored snapshot.
type ChangeKind string

const (
	Added    ChangeKind = "added"
	Removed  ChangeKind = "removed"
	Modified ChangeKind = "modified"
)

// Change is one entity whose fingerprint differs.
type Change struct {
	Section Section
	Name    string
	Kind    ChangeKind
}

// Result is the outcome of Check.
type Result struct {
	State State
	// HadSnapshot is false when no usable snapshot for this week existed.
	HadSnapshot bool
	Changes     []Change
}

// Changed reports whether the run should notify.
func (r Result) Changed() bool {
	return r.State == StateSnapshotUpdated
}

// Detector compares the current snapshot with the stored one.
type Detector struct {
	store Store
}

func NewDetector(store Store) *Detector {
	return &Detector{store: store}
}

// Unreachable names the entities whose sources could not be fetched in
// this run. Their content is unknown, so it is neither compared nor
// recorded.
type Unreachable struct {
	School   []string
	Calendar []string
}

// Compare diffs current against the stored snapshot without writing. A
// missing snapshot, an unreadable one, or one taken for another week counts
// as absent, and an absent snapshot means everything changed.
func (d *Detector) Compare(ctx context.Context, current *Snapshot) Result {
	return d.CompareExcept(ctx, current, Unreachable{})
}

// CompareExcept is Compare with the unreachable entities of current
// replaced by their stored fingerprints first, or dropped when none is
// stored. A later Commit of current therefore keeps what was known before
// the outage.
func (d *Detector) CompareExcept(ctx context.Context, current *Snapshot, skip Unreachable) Result {
	prev, err := d.store.Load(ctx)
	if err != nil {
		appLog.Warn("snapshot load failed, treating as absent", "err", err)
		prev = nil
	}
	if prev != nil && !prev.SameWeek(current) {
		appLog.Info("snapshot is for another week, treating as absent",
			"stored", fmt.Sprintf("%d-W%02d", prev.Year, prev.ISOWeek),
			"current", fmt.Sprintf("%d-W%02d", current.Year, current.ISOWeek))
		prev = nil
	}

	var prevSchool, prevCalendar map[string]string
	if prev != nil {
		prevSchool, prevCalendar = prev.School, prev.Calendar
	}
	carry(SectionSchool, current.School, prevSchool, skip.School)
	carry(SectionCalendar, current.Calendar, prevCalendar, skip.Calendar)

	res := Result{HadSnapshot: prev != nil, State: StateSnapshotUpdated}
	if prev == nil {
		res.Changes = Diff(&Snapshot{}, current)
		return res
	}
	res.Changes = Diff(prev, current)
	if len(res.Changes) == 0 {
		res.State = StateNoOp
	}
	return res
}

func carry(section Section, cur, prev map[string]string, names []string) {
	for _, n := range names {
		fp, ok := prev[n]
		if ok && cur != nil {
			cur[n] = fp
		} else {
			delete(cur, n)
		}
		appLog.Debug("source unreachable, keeping stored fingerprint", "section", string(section), "name", n, "stored", ok)
	}
}

// Check is Compare followed by Commit when something changed; on no change
// the store is not touched. A failed save still returns the result,
// together with an error matching ErrSnapshotIO.
func (d *Detector) Check(ctx context.Context, current *Snapshot) (Result, error) {
	res := d.Compare(ctx, current)
	if !res.Changed() {
		return res, nil
	}
	return res, d.Commit(ctx, current)
}

// Commit stores current unconditionally, as a full run does.
func (d *Detector) Commit(ctx context.Context, current *Snapshot) error {
	err := d.store.Save(ctx, current)
	if err == nil {
		return nil
	}
	if !errors.Is(err, ErrSnapshotIO) {
		err = fmt.Errorf("%w: %v", ErrSnapshotIO, err)
	}
	return err
}

// Diff lists the entities of cur that are new, gone or different compared
// with prev, school before calendar, names sorted.
func Diff(prev, cur *Snapshot) []Change {
	var out []Change
	out = append(out, diffSection(SectionSchool, prev.School, cur.School)...)
	out = append(out, diffSection(SectionCalendar, prev.Calendar, cur.Calendar)...)
	return out
}

func diffSection(section Section, prev, cur map[string]string) []Change {
	names := make(map[string]bool, len(prev)+len(cur))
	for n := range prev {
		names[n] = true
	}
	for n := range cur {
		names[n] = true
	}
	sorted := make([]string, 0, len(names))
	for n := range names {
		sorted = append(sorted, n)
	}
	sort.Strings(sorted)

	var out []Change
	for _, n := range sorted {
		p, hadPrev := prev[n]
		c, hasCur := cur[n]
		switch {
		case !hadPrev:
			out = append(out, Change{Section: section, Name: n, Kind: Added})
		case !hasCur:
			out = append(out, Change{Section: section, Name: n, Kind: Removed})
		case p != c:
			out = append(out, Change{Section: section, Name: n, Kind: Modified})
		}
	}
	return out
}
