// Package weekrange resolves the portal's week-dropdown options against a
// requested date window.
//
// Each dropdown option encodes a week as "DD/MM To DD/MM" with no year; the
// year comes from the separately-selected year dropdown, except for weeks
// straddling a Dec->Jan boundary, whose start belongs to the prior year.
package weekrange

import (
	"regexp"
	"strconv"
	"time"

	appLog "fptucal/internal/log"
	"fptucal/internal/model"
)

// Option is one raw entry of the week selector control.
type Option struct {
	Value string
	Text  string
}

// weekTextPattern matches "DD/MM To DD/MM" (case-insensitive "To").
var weekTextPattern = regexp.MustCompile(`(?i)^\s*(\d{1,2})/(\d{1,2})\s+to\s+(\d{1,2})/(\d{1,2})\s*$`)

// Resolve parses a single option text and resolves both ends to absolute
// dates under dropdownYear. The boolean is false when the text does not match
// the week pattern.
func Resolve(opt Option, dropdownYear int) (model.WeekWindow, bool) {
	m := weekTextPattern.FindStringSubmatch(opt.Text)
	if m == nil {
		return model.WeekWindow{}, false
	}

	startDay, _ := strconv.Atoi(m[1])
	startMonth, _ := strconv.Atoi(m[2])
	endDay, _ := strconv.Atoi(m[3])
	endMonth, _ := strconv.Atoi(m[4])

	startYear := dropdownYear
	endYear := dropdownYear

	// A Dec->Jan week belongs to the dropdown year by its end: its start is in
	// the prior year. The same shift is applied for any descending month pair,
	// which is only reachable via Dec->Jan in real dropdown data.
	if startMonth == 12 && endMonth == 1 {
		startYear = dropdownYear - 1
	} else if startMonth > endMonth {
		startYear = dropdownYear - 1
	}

	start := time.Date(startYear, time.Month(startMonth), startDay, 0, 0, 0, 0, time.UTC)
	end := time.Date(endYear, time.Month(endMonth), endDay, 0, 0, 0, 0, time.UTC)

	// If resolution still left the end before the start, the end belongs to
	// the following year; use the corrected value only if it restores order.
	if end.Before(start) {
		corrected := time.Date(endYear+1, time.Month(endMonth), endDay, 0, 0, 0, 0, time.UTC)
		if !corrected.Before(start) {
			end = corrected
			endYear++
		}
	}

	return model.WeekWindow{
		SelectorValue: opt.Value,
		DisplayText:   opt.Text,
		StartDate:     start,
		EndDate:       end,
		StartYear:     startYear,
		EndYear:       endYear,
	}, true
}

// FilterWeeks returns, in the dropdown's original order, the windows whose
// resolved [start, end] overlaps [rangeStart, rangeEnd] (inclusive on both
// sides). Options that do not look like a week are skipped silently.
func FilterWeeks(options []Option, rangeStart, rangeEnd time.Time, dropdownYear int) []model.WeekWindow {
	rs := dateOnly(rangeStart)
	re := dateOnly(rangeEnd)

	out := make([]model.WeekWindow, 0, len(options))
	for _, opt := range options {
		w, ok := Resolve(opt, dropdownYear)
		if !ok {
			appLog.Debug("skipping non-week dropdown option", "text", opt.Text)
			continue
		}
		if overlaps(w.StartDate, w.EndDate, rs, re) {
			out = append(out, w)
		}
	}
	return out
}

// overlaps reports whether [aStart, aEnd] intersects [bStart, bEnd],
// inclusive at both boundaries.
func overlaps(aStart, aEnd, bStart, bEnd time.Time) bool {
	return !aStart.After(bEnd) && !aEnd.Before(bStart)
}

// dateOnly truncates a timestamp to its calendar date in UTC, so window
// comparisons are day-granular regardless of the caller's clock or zone.
func dateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
