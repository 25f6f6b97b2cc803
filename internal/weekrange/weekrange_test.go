package weekrange

import (
	"testing"
	"time"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestResolveSameYear(t *testing.T) {
	w, ok := Resolve(Option{Value: "36", Text: "01/09 To 07/09"}, 2025)
	if !ok {
		t.Fatalf("expected option to resolve")
	}
	if !w.StartDate.Equal(date(2025, 9, 1)) || !w.EndDate.Equal(date(2025, 9, 7)) {
		t.Fatalf("resolved %v..%v", w.StartDate, w.EndDate)
	}
	if w.SpansYearBoundary() {
		t.Fatalf("same-year week should not span a boundary")
	}
}

func TestResolveYearBoundary(t *testing.T) {
	// Dropdown year 2026, option "29/12 To 04/01": start belongs to 2025.
	w, ok := Resolve(Option{Value: "1", Text: "29/12 To 04/01"}, 2026)
	if !ok {
		t.Fatalf("expected option to resolve")
	}
	if !w.StartDate.Equal(date(2025, 12, 29)) {
		t.Fatalf("start = %v, want 2025-12-29", w.StartDate)
	}
	if !w.EndDate.Equal(date(2026, 1, 4)) {
		t.Fatalf("end = %v, want 2026-01-04", w.EndDate)
	}
	if w.StartYear != 2025 || w.EndYear != 2026 {
		t.Fatalf("years = %d/%d, want 2025/2026", w.StartYear, w.EndYear)
	}
	if !w.SpansYearBoundary() {
		t.Fatalf("boundary week must span years")
	}
}

func TestResolveCaseInsensitiveSeparator(t *testing.T) {
	if _, ok := Resolve(Option{Text: "05/05 to 11/05"}, 2025); !ok {
		t.Fatalf("lowercase 'to' should resolve")
	}
}

func TestResolveMalformed(t *testing.T) {
	for _, text := range []string{"", "Select week", "29/12", "29/12 To", "ab/cd To ef/gh"} {
		if _, ok := Resolve(Option{Text: text}, 2025); ok {
			t.Errorf("text %q should not resolve", text)
		}
	}
}

func TestFilterWeeksOverlap(t *testing.T) {
	options := []Option{
		{Value: "1", Text: "18/08 To 24/08"},
		{Value: "2", Text: "25/08 To 31/08"},
		{Value: "3", Text: "01/09 To 07/09"},
		{Value: "4", Text: "08/09 To 14/09"},
	}

	got := FilterWeeks(options, date(2025, 8, 31), date(2025, 9, 8), 2025)
	if len(got) != 3 {
		t.Fatalf("got %d weeks, want 3", len(got))
	}
	// Dropdown order preserved.
	for i, want := range []string{"2", "3", "4"} {
		if got[i].SelectorValue != want {
			t.Errorf("week %d selector = %q, want %q", i, got[i].SelectorValue, want)
		}
	}
}

func TestFilterWeeksInclusiveBoundaries(t *testing.T) {
	options := []Option{{Value: "1", Text: "01/09 To 07/09"}}

	// Query range ending exactly on the week's start day still includes it.
	if got := FilterWeeks(options, date(2025, 8, 20), date(2025, 9, 1), 2025); len(got) != 1 {
		t.Fatalf("start-boundary overlap missed")
	}
	// Query range starting exactly on the week's end day still includes it.
	if got := FilterWeeks(options, date(2025, 9, 7), date(2025, 9, 20), 2025); len(got) != 1 {
		t.Fatalf("end-boundary overlap missed")
	}
	// One day past either side excludes it.
	if got := FilterWeeks(options, date(2025, 9, 8), date(2025, 9, 20), 2025); len(got) != 0 {
		t.Fatalf("non-overlapping week included")
	}
}

func TestFilterWeeksSkipsMalformedOptions(t *testing.T) {
	options := []Option{
		{Value: "0", Text: "-- select --"},
		{Value: "1", Text: "01/09 To 07/09"},
	}
	got := FilterWeeks(options, date(2025, 9, 1), date(2025, 9, 7), 2025)
	if len(got) != 1 || got[0].SelectorValue != "1" {
		t.Fatalf("malformed option not skipped cleanly: %+v", got)
	}
}

func TestFilterWeeksBoundaryWeekMatchesPriorYearRange(t *testing.T) {
	options := []Option{{Value: "1", Text: "29/12 To 04/01"}}
	// A query entirely in late December 2025 must still catch the boundary
	// week exposed by dropdown year 2026.
	got := FilterWeeks(options, date(2025, 12, 29), date(2025, 12, 31), 2026)
	if len(got) != 1 {
		t.Fatalf("boundary week not matched against prior-year range")
	}
}
