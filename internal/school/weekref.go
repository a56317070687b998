package school

import (
	"regexp"
	"strconv"
)

// MaxISOWeek is the highest week number any ISO year can have.
const MaxISOWeek = 53

// weekMarker matches the ways class pages write "week": v, v., V.,
// vecka, veckor, w, wk, week, weeks. Longer alternatives come first.
const weekMarker = `(?:veckorna|veckor|vecka|weeks|week|wk|w|v)\.?`

// weekRefPattern captures a single week ("v.6", "vecka 6") or a range
// ("v48-9", "vecka 5 till 7", "week 10 to week 12").
var weekRefPattern = regexp.MustCompile(
	`(?i)\b` + weekMarker + `\s*(\d{1,2})\b` +
		`(?:\s*(?:-|–|—|\btill\b|\bto\b)\s*(?:` + weekMarker + `\s*)?(\d{1,2})\b)?`,
)

// WeekRefs returns every ISO week number line refers to, with ranges
// expanded. A range whose lower bound is numerically greater than its upper
// bound wraps over the year end: "v48-9" covers 48..53 and 1..9. Typos are
// not corrected; whatever parses is used. Returns nil when nothing parses.
func WeekRefs(line string) map[int]struct{} {
	var refs map[int]struct{}
	add := func(w int) {
		if refs == nil {
			refs = make(map[int]struct{})
		}
		refs[w] = struct{}{}
	}

	for _, m := range weekRefPattern.FindAllStringSubmatch(line, -1) {
		lo, ok := parseWeek(m[1])
		if !ok {
			continue
		}
		hi, ok := parseWeek(m[2])
		if !ok {
			// No upper bound, or an unparseable one: the start still counts.
			add(lo)
			continue
		}
		for _, w := range expandRange(lo, hi) {
			add(w)
		}
	}
	return refs
}

// StripWeekRefs removes every week reference from line.
func StripWeekRefs(line string) string {
	return weekRefPattern.ReplaceAllString(line, "")
}

// Matches reports whether refs contains isoWeek.
func Matches(refs map[int]struct{}, isoWeek int) bool {
	_, ok := refs[isoWeek]
	return ok
}

func expandRange(lo, hi int) []int {
	if lo <= hi {
		out := make([]int, 0, hi-lo+1)
		for w := lo; w <= hi; w++ {
			out = append(out, w)
		}
		return out
	}
	out := make([]int, 0, MaxISOWeek-lo+1+hi)
	for w := lo; w <= MaxISOWeek; w++ {
		out = append(out, w)
	}
	for w := 1; w <= hi; w++ {
		out = append(out, w)
	}
	return out
}

func parseWeek(s string) (int, bool) {
	if s == "" {
		return 0, false
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 || n > MaxISOWeek {
		return 0, false
	}
	return n, true
}
