package digest

import (
	"fmt"
	"strings"

	"famdigest/internal/model"
)

// Render formats d as Discord-flavored Markdown. Output depends only on d.
func Render(d *Digest) string {
	p := d.Locale.phrases()
	var b strings.Builder

	fmt.Fprintf(&b, "# %s\n\n", d.Header)

	if note := familyNote(d); note != "" {
		b.WriteString(note)
		b.WriteString("\n\n")
	}

	if len(d.School) > 0 {
		fmt.Fprintf(&b, "## %s\n", p.school)
		for _, s := range d.School {
			if len(s.Lines) == 0 {
				fmt.Fprintf(&b, "**%s:** %s\n\n", s.Person.Heading(), p.noSchool)
				continue
			}
			fmt.Fprintf(&b, "**%s:**\n", s.Person.Heading())
			for _, l := range s.Lines {
				b.WriteString(SchoolLineText(l))
				b.WriteByte('\n')
			}
			b.WriteByte('\n')
		}
	}

	fmt.Fprintf(&b, "## %s\n", d.Locale.CalendarTitle(d.Target.ISOWeek))
	for _, day := range d.Days {
		fmt.Fprintf(&b, "### %s\n", d.Locale.DayLabel(day.Date))
		if len(day.Events) == 0 {
			b.WriteString(p.noEvents)
			b.WriteString("\n\n")
			continue
		}
		for _, ev := range day.Events {
			b.WriteString(EventLine(d.Locale, ev))
			b.WriteByte('\n')
		}
		b.WriteByte('\n')
	}

	if len(d.Diagnostics) > 0 {
		fmt.Fprintf(&b, "*%s%s*\n", p.skipped, strings.Join(d.Diagnostics, "; "))
	}

	return strings.TrimRight(b.String(), "\n") + "\n"
}

// SchoolLineText renders a kept line as "**Subject:** text", or just the
// text when no subject header preceded it.
func SchoolLineText(l model.SchoolLine) string {
	if l.Subject == "" {
		return l.RawText
	}
	return fmt.Sprintf("**%s:** %s", l.Subject, l.RawText)
}

// EventLine renders one event as person, dash separator, start time and
// title. Family events carry no attribution; untimed events are labelled
// all-day in l.
func EventLine(l Locale, ev model.Event) string {
	var b strings.Builder
	if !ev.IsFamily() && ev.Person != "" {
		b.WriteString(ev.Person)
		b.WriteString(" — ")
	}
	if ev.Start != nil {
		b.WriteString(ev.Start.Format("15:04"))
		b.WriteByte(' ')
	} else {
		b.WriteString(l.AllDay())
		b.WriteString(": ")
	}
	b.WriteString(ev.Title)
	if ev.Location != "" {
		fmt.Fprintf(&b, " (%s)", ev.Location)
	}
	return b.String()
}

func familyNote(d *Digest) string {
	if len(d.FamilyTitles) == 0 {
		return ""
	}
	titles := d.FamilyTitles
	suffix := "."
	if len(titles) > maxFamilyTitles {
		titles = titles[:maxFamilyTitles]
		suffix = " …"
	}
	return d.Locale.phrases().together + strings.Join(titles, ", ") + suffix
}

// RenderLLMInput serializes what the composition call needs: the target
// week, each person's raw school text and the day-grouped events of d.
// People without raw text are listed with an empty block.
func RenderLLMInput(d *Digest, people []model.Person, rawText map[string]string) string {
	p := d.Locale.phrases()
	var b strings.Builder

	fmt.Fprintf(&b, "%s: %d (%s, %s – %s)\n\n", p.llmWeek, d.Target.ISOWeek, d.Target.String(),
		d.Locale.DayLabel(d.Target.Monday), d.Locale.DayLabel(d.Target.Sunday))

	fmt.Fprintf(&b, "%s\n---\n", p.llmSchool)
	for _, person := range people {
		if person.SchoolURL == "" && rawText[person.Name] == "" {
			continue
		}
		fmt.Fprintf(&b, "%s:\n%s\n---\n", person.Heading(), strings.TrimSpace(rawText[person.Name]))
	}

	fmt.Fprintf(&b, "\n%s (%d)\n---\n", p.llmCalendar, d.Target.ISOWeek)
	for _, day := range d.Days {
		fmt.Fprintf(&b, "%s:\n", d.Locale.DayLabel(day.Date))
		if len(day.Events) == 0 {
			fmt.Fprintf(&b, "  %s\n", p.noEvents)
			continue
		}
		for _, ev := range day.Events {
			who := ev.Person
			if ev.IsFamily() {
				who = model.FamilyName
			}
			at := ""
			if ev.Start != nil {
				at = ev.Start.Format("15:04") + " "
			}
			fmt.Fprintf(&b, "  %s: %s%s\n", who, at, ev.Title)
		}
	}
	b.WriteString("---\n")
	return b.String()
}
