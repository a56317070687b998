package snapshot

import (
	"fmt"
	"strings"

	"famdigest/internal/digest"
	"famdigest/internal/model"
	"famdigest/internal/week"
)

// MaxNotificationItems caps the item lines listed in one notification.
const MaxNotificationItems = 15

// FormatNotification writes the short message sent when a weekday check
// finds changes. It names each changed person per section and lists that
// entity's current items; it is not the full digest.
func FormatNotification(target week.Target, changes []Change, items Items, locale digest.Locale) string {
	var b strings.Builder
	b.WriteString(locale.UpdatesHeader(target.ISOWeek, target.Year))
	b.WriteString("\n")

	listed := 0
	omitted := 0
	emit := func(line string) {
		if listed >= MaxNotificationItems {
			omitted++
			return
		}
		b.WriteString(line)
		b.WriteByte('\n')
		listed++
	}

	for _, section := range []Section{SectionSchool, SectionCalendar} {
		var inSection []Change
		for _, c := range changes {
			if c.Section == section {
				inSection = append(inSection, c)
			}
		}
		if len(inSection) == 0 {
			continue
		}

		title := locale.SchoolTitle()
		src := items.School
		if section == SectionCalendar {
			title = locale.CalendarTitle(target.ISOWeek)
			src = items.Calendar
		}
		fmt.Fprintf(&b, "\n## %s\n", title)

		for _, c := range inSection {
			current := src[c.Name]
			switch {
			case c.Kind == Removed:
				fmt.Fprintf(&b, "**%s:** %s\n", displayName(c.Name), locale.Removed(locale.PageChanged()))
			case len(current) == 0:
				fmt.Fprintf(&b, "**%s:** %s\n", displayName(c.Name), locale.PageChanged())
			default:
				fmt.Fprintf(&b, "**%s:**\n", displayName(c.Name))
				for _, item := range current {
					emit("- " + item)
				}
			}
		}
	}

	if omitted > 0 {
		b.WriteString(locale.More(omitted))
		b.WriteByte('\n')
	}
	return b.String()
}

func displayName(name string) string {
	if model.IsFamilyName(name) {
		return model.FamilyName
	}
	return name
}
