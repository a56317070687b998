package digest

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"famdigest/internal/model"
	"famdigest/internal/week"
)

func target(t *testing.T) week.Target {
	t.Helper()
	loc, err := time.LoadLocation("Europe/Stockholm")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	tg, err := week.FromISO(2026, 6, loc)
	if err != nil {
		t.Fatalf("FromISO: %v", err)
	}
	return tg
}

var (
	alice = model.Person{Name: "Alice", SchoolURL: "https://school.example/5a"}
	bob   = model.Person{Name: "Bob", Class: "8B", SchoolURL: "https://school.example/8b"}
)

func timed(tg week.Target, person string, day, hour, minute int, title string) model.Event {
	date := tg.Monday.AddDate(0, 0, day)
	start := time.Date(date.Year(), date.Month(), date.Day(), hour, minute, 0, 0, tg.Location)
	return model.Event{Person: person, Date: date, Start: &start, Title: title, SourceUID: title}
}

func untimed(tg week.Target, person string, day int, title string) model.Event {
	return model.Event{Person: person, Date: tg.Monday.AddDate(0, 0, day), Title: title, SourceUID: title}
}

func TestAliceScenario(t *testing.T) {
	tg := target(t)
	lines := []model.SchoolLine{{
		Person: alice, Subject: "Math", RawText: "Exam Tuesday.", Classification: model.Keep,
	}}
	events := []model.Event{timed(tg, "Alice", 2, 14, 0, "Dentist")}

	d := Assemble(tg, []model.Person{alice}, lines, events, Options{})
	out := Render(d)

	if !strings.HasPrefix(out, "# Vecka 6 – Veckosammanfattning\n") {
		t.Errorf("header missing week:\n%s", out)
	}
	if len(d.School) != 1 || len(d.School[0].Lines) != 1 {
		t.Fatalf("school sections = %+v", d.School)
	}
	if !strings.Contains(out, "**Alice:**\n**Math:** Exam Tuesday.\n") {
		t.Errorf("school section wrong:\n%s", out)
	}
	if !strings.Contains(out, "### Onsdag 4 februari\nAlice — 14:00 Dentist\n") {
		t.Errorf("wednesday wrong:\n%s", out)
	}
	for i, day := range d.Days {
		if i != 2 && len(day.Events) != 0 {
			t.Errorf("day %d has events %v", i, day.Events)
		}
	}
	if got := strings.Count(out, "Inga händelser."); got != 6 {
		t.Errorf("empty days = %d, want 6", got)
	}
	if strings.Contains(out, "Tillsammans") {
		t.Error("no family note expected")
	}
}

func TestFamilySaturdayScenario(t *testing.T) {
	tg := target(t)
	events := []model.Event{untimed(tg, model.FamilyName, 5, "Picknick i parken")}

	d := Assemble(tg, nil, nil, events, Options{})
	out := Render(d)

	note := "**Tillsammans:** Denna vecka har familjen tillsammans: Picknick i parken."
	noteAt := strings.Index(out, note)
	calAt := strings.Index(out, "## Kalender (vecka 6)")
	if noteAt < 0 || calAt < 0 || noteAt > calAt {
		t.Fatalf("family note must precede the calendar:\n%s", out)
	}
	if !strings.Contains(out, "### Lördag 7 februari\nHeldag: Picknick i parken\n") {
		t.Errorf("saturday should list the event without attribution:\n%s", out)
	}
	if strings.Contains(out, "Familjen —") {
		t.Errorf("family events must not be attributed:\n%s", out)
	}
	if !d.HasFamilyActivity() {
		t.Error("HasFamilyActivity = false")
	}
}

func TestAssembleIsIdempotent(t *testing.T) {
	tg := target(t)
	people := []model.Person{alice, bob}
	lines := []model.SchoolLine{
		{Person: bob, Subject: "Svenska", RawText: "v.6 Läsförståelse", Classification: model.Keep},
		{Person: alice, Subject: "Math", RawText: "Exam Tuesday.", Classification: model.Keep},
		{Person: alice, RawText: "Exam", Classification: model.DropGeneric},
	}
	events := []model.Event{
		timed(tg, "Bob", 0, 17, 0, "Fotboll"),
		untimed(tg, model.FamilyName, 5, "Utflykt"),
		timed(tg, "Alice", 0, 8, 0, "Simning"),
		untimed(tg, "Alice", 0, "Skolfoto"),
		timed(tg, "Alice", 9, 8, 0, "Next week"),
	}

	first := Render(Assemble(tg, people, lines, events, Options{Diagnostics: []string{"calendar Bob: 404"}}))

	reversed := make([]model.Event, len(events))
	for i, ev := range events {
		reversed[len(events)-1-i] = ev
	}
	for i := 0; i < 3; i++ {
		again := Render(Assemble(tg, people, lines, reversed, Options{Diagnostics: []string{"calendar Bob: 404"}}))
		if again != first {
			t.Fatalf("render differs:\n%s\n---\n%s", first, again)
		}
	}
	if strings.Contains(first, "Next week") {
		t.Error("event outside the week rendered")
	}
	if strings.Contains(first, "Exam\n") {
		t.Error("dropped line rendered")
	}
	if !strings.Contains(first, "*Kunde inte hämta: calendar Bob: 404*") {
		t.Errorf("diagnostics missing:\n%s", first)
	}
}

func TestDayOrdering(t *testing.T) {
	tg := target(t)
	people := []model.Person{bob, alice}
	events := []model.Event{
		untimed(tg, "Alice", 1, "Bibliotek"),
		timed(tg, "Alice", 1, 15, 0, "Piano"),
		timed(tg, "Alice", 1, 9, 0, "Tandläkare"),
		untimed(tg, "Alice", 1, "Apotek"),
		timed(tg, "Zed", 1, 7, 0, "Gäst"),
		timed(tg, "Carl", 1, 12, 0, "Besök"),
		timed(tg, "Bob", 1, 18, 0, "Fotboll"),
		timed(tg, model.FamilyName, 1, 19, 0, "Middag"),
	}
	d := Assemble(tg, people, nil, events, Options{})

	var got []string
	for _, ev := range d.Days[1].Events {
		got = append(got, EventLine(Swedish, ev))
	}
	want := []string{
		"19:00 Middag",
		"Bob — 18:00 Fotboll",
		"Alice — 09:00 Tandläkare",
		"Alice — 15:00 Piano",
		"Alice — Heldag: Apotek",
		"Alice — Heldag: Bibliotek",
		"Carl — 12:00 Besök",
		"Zed — 07:00 Gäst",
	}
	if strings.Join(got, "\n") != strings.Join(want, "\n") {
		t.Errorf("order =\n%s\nwant\n%s", strings.Join(got, "\n"), strings.Join(want, "\n"))
	}
}

func TestEmptyDigest(t *testing.T) {
	tg := target(t)
	d := Assemble(tg, nil, nil, nil, Options{})
	if !d.IsEmpty() {
		t.Error("IsEmpty = false")
	}
	out := Render(d)
	if got := strings.Count(out, "Inga händelser."); got != 7 {
		t.Errorf("empty days = %d, want 7:\n%s", got, out)
	}
	if strings.Contains(out, "## Skola") {
		t.Error("school section without people")
	}
}

func TestSchoolSectionWithoutLines(t *testing.T) {
	tg := target(t)
	d := Assemble(tg, []model.Person{bob}, nil, nil, Options{})
	out := Render(d)
	if !strings.Contains(out, "**Bob (8B):** Inga prov/läxor/förhör hittade denna vecka.") {
		t.Errorf("missing empty school line:\n%s", out)
	}
}

func TestFamilyNoteCapsTitles(t *testing.T) {
	tg := target(t)
	var events []model.Event
	for i := 0; i < 7; i++ {
		events = append(events, untimed(tg, model.FamilyName, i, fmt.Sprintf("Aktivitet %d", i+1)))
	}
	events = append(events, untimed(tg, model.FamilyName, 6, "Aktivitet 1"))

	d := Assemble(tg, nil, nil, events, Options{})
	if len(d.FamilyTitles) != 7 {
		t.Errorf("FamilyTitles = %v, want 7 distinct", d.FamilyTitles)
	}
	out := Render(d)
	if !strings.Contains(out, "Aktivitet 1, Aktivitet 2, Aktivitet 3, Aktivitet 4, Aktivitet 5 …") {
		t.Errorf("note not capped:\n%s", out)
	}
}

func TestRenderEnglish(t *testing.T) {
	tg := target(t)
	events := []model.Event{
		timed(tg, "Alice", 2, 14, 0, "Dentist"),
		untimed(tg, model.FamilyName, 5, "Picnic"),
	}
	out := Render(Assemble(tg, []model.Person{alice}, nil, events, Options{Locale: English}))

	for _, want := range []string{
		"# Week 6 – Weekly digest\n",
		"## School\n",
		"## Calendar (week 6)\n",
		"### Wednesday 4 February\nAlice — 14:00 Dentist\n",
		"### Monday 2 February\nNo events.\n",
		"### Saturday 7 February\nAll day: Picnic\n",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q in:\n%s", want, out)
		}
	}
}

func TestRenderLLMInput(t *testing.T) {
	tg := target(t)
	events := []model.Event{
		timed(tg, "Alice", 2, 14, 0, "Dentist"),
		untimed(tg, model.FamilyName, 5, "Picknick"),
	}
	d := Assemble(tg, []model.Person{alice}, nil, events, Options{})
	in := RenderLLMInput(d, []model.Person{alice}, map[string]string{"Alice": "Matematik\nProv v.6\n"})

	for _, want := range []string{
		"VECKA: 6 (2026-W06",
		"Alice:\nMatematik\nProv v.6\n",
		"Onsdag 4 februari:\n  Alice: 14:00 Dentist\n",
		"Lördag 7 februari:\n  Familjen: Picknick\n",
		"Måndag 2 februari:\n  Inga händelser.\n",
	} {
		if !strings.Contains(in, want) {
			t.Errorf("missing %q in:\n%s", want, in)
		}
	}
}
