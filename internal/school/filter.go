// Package school turns scraped class page text into the lines that matter
// for one ISO week.
package school

import (
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"famdigest/internal/model"
)

// MaxLineLength is the longest line the filter will consider; anything
// longer is page furniture (navigation dumps, legal text).
const MaxLineLength = 500

// DefaultSubjects are the subject headers recognized when none are
// configured.
var DefaultSubjects = []string{
	"Svenska", "Svenska som andraspråk", "Matematik", "Engelska",
	"NO", "SO", "Biologi", "Fysik", "Kemi", "Teknik",
	"Historia", "Geografi", "Religion", "Samhällskunskap",
	"Idrott och hälsa", "Idrott", "Musik", "Bild", "Slöjd",
	"Hemkunskap", "Franska", "Spanska", "Tyska", "Español",
	"Mentorstid", "Elevens val",
	"Swedish", "Math", "Maths", "Mathematics", "English", "Science",
	"History", "Geography", "PE", "Physical education", "Music", "Art",
	"French", "Spanish", "German",
}

// Options configures a Filter. Zero values select defaults.
type Options struct {
	Subjects        []string
	Rules           []Rule
	ContextMaxLines int
	ContextMaxChars int
}

// Filter classifies school page lines against a target week.
type Filter struct {
	// subjects sorted longest first so "Idrott och hälsa" wins over
	// "Idrott".
	subjects []string
	rules    *RuleSet
	maxLines int
	maxChars int
}

// NewFilter compiles opts into a Filter.
func NewFilter(opts Options) (*Filter, error) {
	subjects := opts.Subjects
	if len(subjects) == 0 {
		subjects = DefaultSubjects
	}
	rules := opts.Rules
	if rules == nil {
		rules = DefaultRules()
	}
	rs, err := CompileRules(rules)
	if err != nil {
		return nil, err
	}

	f := &Filter{
		rules:    rs,
		maxLines: opts.ContextMaxLines,
		maxChars: opts.ContextMaxChars,
	}
	if f.maxLines <= 0 {
		f.maxLines = 3
	}
	if f.maxChars <= 0 {
		f.maxChars = 240
	}
	for _, s := range subjects {
		if s = strings.TrimSpace(s); s != "" {
			f.subjects = append(f.subjects, s)
		}
	}
	sort.SliceStable(f.subjects, func(i, j int) bool {
		return utf8.RuneCountInString(f.subjects[i]) > utf8.RuneCountInString(f.subjects[j])
	})
	return f, nil
}

// entry is a classified line plus the block it was found in. A block is
// the run of lines between two subject headers or delimiters.
type entry struct {
	line     model.SchoolLine
	block    int
	absorbed bool
}

// Classify splits raw into lines and classifies every content line for
// isoWeek. Headers, delimiters and blank lines produce no entry. The
// result is in page order and includes dropped lines.
func (f *Filter) Classify(person model.Person, raw string, isoWeek int) []model.SchoolLine {
	entries := f.classify(person, raw, isoWeek)
	out := make([]model.SchoolLine, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.line)
	}
	return out
}

// Keep returns the Keep lines for isoWeek in page order, with terse
// week-only lines extended by the text that follows them, deduplicated by
// subject and text.
func (f *Filter) Keep(person model.Person, raw string, isoWeek int) []model.SchoolLine {
	entries := f.classify(person, raw, isoWeek)
	f.pullContext(entries, isoWeek)

	type key struct{ subject, text string }
	seen := make(map[key]bool)
	out := make([]model.SchoolLine, 0)
	for _, e := range entries {
		if e.absorbed || e.line.Classification != model.Keep {
			continue
		}
		k := key{e.line.Subject, e.line.RawText}
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, e.line)
	}
	return out
}

func (f *Filter) classify(person model.Person, raw string, isoWeek int) []entry {
	var (
		entries []entry
		subject string
		block   int
	)

	for _, rawLine := range strings.Split(raw, "\n") {
		line := cleanLine(rawLine)
		if line == "" {
			continue
		}
		if isDelimiter(line) {
			subject = ""
			block++
			continue
		}
		if label, rest, ok := f.header(line); ok {
			subject = label
			block++
			if rest == "" {
				continue
			}
			line = rest
		}

		sl := model.SchoolLine{
			Person:  person,
			Subject: subject,
			RawText: line,
		}
		f.classifyLine(&sl, isoWeek)
		entries = append(entries, entry{line: sl, block: block})
	}
	return entries
}

func (f *Filter) classifyLine(sl *model.SchoolLine, isoWeek int) {
	if utf8.RuneCountInString(sl.RawText) > MaxLineLength {
		sl.Classification = model.DropGeneric
		sl.Reason = "oversized"
		return
	}

	sl.WeekRefs = WeekRefs(sl.RawText)
	switch {
	case Matches(sl.WeekRefs, isoWeek):
		sl.Classification = model.Keep
	case sl.HasWeekRefs():
		sl.Classification = model.DropNoWeek
		sl.Reason = "other week"
	default:
		if reason, ok := f.rules.Match(sl.RawText); ok {
			sl.Classification = model.DropGeneric
			sl.Reason = reason
			return
		}
		sl.Classification = model.Keep
	}
}

// pullContext extends a terse week-matched line with the lines after it
// when it is the only week-matched Keep line of its block.
func (f *Filter) pullContext(entries []entry, isoWeek int) {
	matched := make(map[int]int)
	for _, e := range entries {
		if e.line.Classification == model.Keep && Matches(e.line.WeekRefs, isoWeek) {
			matched[e.block]++
		}
	}

	for i := range entries {
		e := &entries[i]
		if e.absorbed || e.line.Classification != model.Keep || !Matches(e.line.WeekRefs, isoWeek) {
			continue
		}
		if matched[e.block] != 1 || !isTerse(e.line.RawText) {
			continue
		}

		var (
			parts []string
			chars int
		)
		for j := i + 1; j < len(entries) && len(parts) < f.maxLines; j++ {
			next := &entries[j]
			if next.block != e.block || next.line.HasWeekRefs() {
				break
			}
			n := utf8.RuneCountInString(next.line.RawText)
			if chars+n > f.maxChars {
				break
			}
			chars += n
			parts = append(parts, next.line.RawText)
			next.absorbed = true
		}
		if len(parts) > 0 {
			e.line.RawText = e.line.RawText + " " + strings.Join(parts, " ")
		}
	}
}

// isTerse reports whether line says little beyond its week reference.
func isTerse(line string) bool {
	n := 0
	for _, r := range StripWeekRefs(line) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			n++
		}
	}
	return n < 4
}

// header recognizes "Matematik", "Matematik:" and the inline form
// "Matematik: Prov v.6". It returns the configured label and any text after
// the colon.
func (f *Filter) header(line string) (label, rest string, ok bool) {
	for _, s := range f.subjects {
		if len(line) < len(s) || !strings.EqualFold(line[:len(s)], s) {
			continue
		}
		tail := strings.TrimSpace(line[len(s):])
		switch {
		case tail == "" || tail == ":":
			return s, "", true
		case strings.HasPrefix(tail, ":"):
			return s, strings.TrimSpace(tail[1:]), true
		}
	}
	return "", "", false
}

// isDelimiter matches separator lines such as "-----" or "*****".
func isDelimiter(line string) bool {
	if len(line) < 3 {
		return false
	}
	for _, r := range line {
		switch r {
		case '-', '_', '*', '=':
		default:
			return false
		}
	}
	return true
}

// cleanLine collapses whitespace and drops a leading list bullet.
func cleanLine(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	for _, bullet := range []string{"• ", "· ", "- ", "* ", "– "} {
		if strings.HasPrefix(s, bullet) {
			return strings.TrimSpace(s[len(bullet):])
		}
	}
	return s
}
