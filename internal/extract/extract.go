// Package extract turns one rendered week-view page into normalized
// ClassRecord entries. Extraction is deliberately forgiving: a malformed
// sub-entry is dropped, a malformed page yields an empty list, and neither
// aborts the surrounding scrape.
package extract

import (
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	appLog "fptucal/internal/log"
	"fptucal/internal/model"
)

var (
	activityIDPattern = regexp.MustCompile(`(?i)ActivityDetail\.aspx\?id=(\d+)`)
	subjectPattern    = regexp.MustCompile(`^([A-Z0-9]+[a-z]?)`)
	timePattern       = regexp.MustCompile(`\((\d{1,2}):(\d{2})-(\d{1,2}):(\d{2})\)`)
	onlineMarker      = regexp.MustCompile(`(?i)\(\s*online\s*\)`)
)

const relocatedMarker = "(_ChangeSlot)"

// locationCutoffs are trailing markers after which location text ends: the
// meeting-link label, the EduNext label, the materials label, and any
// parenthetical (status or time window).
var locationCutoffs = []string{"(", "Meet URL", "EduNext", "View Materials"}

// meetDomains identify video-conferencing links.
var meetDomains = []string{"meet.google.com", "zoom.us", "teams.microsoft.com"}

const (
	edunextDomain   = "edunext.fpt.edu.vn"
	materialsDomain = "flm.fpt.edu.vn"
)

// Records parses raw page HTML and extracts its ClassRecords. Unlike
// Extract it surfaces an error when the schedule table cannot be located,
// which is what the orchestrator's per-week retry keys on. An empty week
// with a healthy table is not an error.
func Records(pageHTML string, dropdownYear int) ([]model.ClassRecord, error) {
	r, err := NewHTMLReader(pageHTML)
	if err != nil {
		return nil, err
	}
	if err := r.FindScheduleTable(); err != nil {
		return nil, err
	}
	return Extract(r, dropdownYear), nil
}

// Extract reads one week-view page into ClassRecords. It never fails
// outward: any page-level problem is logged and an empty list returned, so a
// broken week cannot take down a multi-week run.
//
// dropdownYear is the year the navigator had selected when this page was
// rendered; for a Dec->Jan boundary week, December date labels resolve to
// dropdownYear-1 and January labels to dropdownYear.
func Extract(r PageReader, dropdownYear int) []model.ClassRecord {
	if err := r.FindScheduleTable(); err != nil {
		appLog.Error("schedule table not found", err)
		return nil
	}

	headers, err := r.ReadDateHeaders()
	if err != nil {
		appLog.Error("date headers unreadable", err)
		return nil
	}
	if len(headers) != 7 {
		appLog.Warn("unexpected weekday column count", "count", len(headers))
	}

	dates := resolveHeaderDates(headers, dropdownYear)

	rows, err := r.ReadSlotRows()
	if err != nil {
		appLog.Error("slot rows unreadable", err)
		return nil
	}

	records := make([]model.ClassRecord, 0, 16)
	for _, row := range rows {
		for col, cell := range row.Cells {
			if col >= len(dates) || dates[col] == "" {
				continue
			}
			for _, entry := range cell {
				rec, ok := parseEntry(entry, row.Slot, dates[col])
				if !ok {
					continue
				}
				records = append(records, rec)
			}
		}
	}
	return records
}

// resolveHeaderDates maps each "DD/MM" label to an absolute ISO date. When
// the labels descend across a month boundary (Dec->Jan in practice), labels
// sharing the first label's month take the earlier year.
func resolveHeaderDates(headers []string, dropdownYear int) []string {
	type dayMonth struct{ day, month int }
	parsed := make([]dayMonth, len(headers))
	for i, h := range headers {
		m := dateLabelPattern.FindStringSubmatch(h)
		if m == nil {
			continue
		}
		d, _ := strconv.Atoi(m[1])
		mo, _ := strconv.Atoi(m[2])
		parsed[i] = dayMonth{day: d, month: mo}
	}

	firstMonth, lastMonth := 0, 0
	for _, p := range parsed {
		if p.month != 0 {
			if firstMonth == 0 {
				firstMonth = p.month
			}
			lastMonth = p.month
		}
	}
	boundary := firstMonth > lastMonth

	out := make([]string, len(headers))
	for i, p := range parsed {
		if p.month == 0 || p.day == 0 {
			appLog.Warn("unparseable date header", "label", headers[i])
			continue
		}
		year := dropdownYear
		if boundary && p.month == firstMonth {
			year = dropdownYear - 1
		}
		out[i] = fmt.Sprintf("%04d-%02d-%02d", year, p.month, p.day)
	}
	return out
}

// parseEntry builds one ClassRecord from a cell sub-entry. An entry without
// a parseable time window or activity id cannot form a valid record and is
// dropped.
func parseEntry(e Entry, slot int, date string) (model.ClassRecord, bool) {
	start, end, ok := parseTimeWindow(e.Text)
	if !ok {
		appLog.Debug("dropping entry without time window", "text", snippet(e.Text))
		return model.ClassRecord{}, false
	}

	activityID := findActivityID(e.Links)
	if activityID == "" {
		appLog.Debug("dropping entry without activity id", "text", snippet(e.Text))
		return model.ClassRecord{}, false
	}

	rec := model.ClassRecord{
		Slot:       slot,
		Date:       date,
		Day:        weekdayOf(date),
		Time:       model.TimeRange{Start: start, End: end},
		Status:     parseStatus(e.Text),
		ActivityID: activityID,
	}

	if m := subjectPattern.FindStringSubmatch(strings.TrimSpace(e.Text)); m != nil {
		rec.SubjectCode = m[1]
	}

	rec.Location, rec.IsRelocated = parseLocation(e.Text)

	for _, l := range e.Links {
		switch {
		case rec.MeetURL == "" && isMeetLink(l.Href):
			rec.MeetURL = l.Href
		case rec.EdunextURL == "" && strings.Contains(l.Href, edunextDomain):
			rec.EdunextURL = l.Href
		case rec.MaterialsURL == "" && isMaterialsLink(l):
			rec.MaterialsURL = l.Href
		}
	}

	rec.IsOnline = onlineMarker.MatchString(e.Text) ||
		rec.MeetURL != "" ||
		strings.Contains(strings.ToLower(rec.Location), "meet")

	return rec, true
}

// parseTimeWindow finds the "(H:MM-H:MM)" span, zero-pads the hours, and
// enforces start < end.
func parseTimeWindow(text string) (start, end string, ok bool) {
	m := timePattern.FindStringSubmatch(text)
	if m == nil {
		return "", "", false
	}
	sh, _ := strconv.Atoi(m[1])
	eh, _ := strconv.Atoi(m[3])
	start = fmt.Sprintf("%02d:%s", sh, m[2])
	end = fmt.Sprintf("%02d:%s", eh, m[4])
	if start >= end {
		return "", "", false
	}
	return start, end, true
}

// parseLocation extracts the free-text room/building after the "at " token,
// stripping the relocation marker and cutting at the first trailing marker.
func parseLocation(text string) (string, bool) {
	idx := strings.Index(text, "at ")
	if idx < 0 {
		return "", strings.Contains(text, relocatedMarker)
	}
	loc := text[idx+len("at "):]

	relocated := false
	if strings.Contains(loc, relocatedMarker) {
		relocated = true
		loc = strings.ReplaceAll(loc, relocatedMarker, "")
	}

	cut := len(loc)
	for _, marker := range locationCutoffs {
		if i := strings.Index(loc, marker); i >= 0 && i < cut {
			cut = i
		}
	}
	loc = strings.TrimSpace(loc[:cut])
	loc = strings.TrimRight(loc, "-, ")
	return loc, relocated
}

// parseStatus picks the attendance marker by literal substring, first match
// wins in attended > absent > not-yet priority.
func parseStatus(text string) model.AttendanceStatus {
	switch {
	case strings.Contains(text, "attended"):
		return model.StatusAttended
	case strings.Contains(text, "absent"):
		return model.StatusAbsent
	default:
		return model.StatusNotYet
	}
}

func findActivityID(links []Link) string {
	for _, l := range links {
		if m := activityIDPattern.FindStringSubmatch(l.Href); m != nil {
			return m[1]
		}
	}
	return ""
}

func isMeetLink(href string) bool {
	u, err := url.Parse(href)
	if err != nil {
		return false
	}
	host := strings.ToLower(u.Host)
	for _, d := range meetDomains {
		if host == d || strings.HasSuffix(host, "."+d) {
			return true
		}
	}
	return false
}

func isMaterialsLink(l Link) bool {
	if strings.Contains(l.Href, materialsDomain) {
		return true
	}
	return strings.EqualFold(l.Label, "View Materials")
}

func weekdayOf(date string) string {
	t, err := time.Parse(model.DateLayout, date)
	if err != nil {
		return ""
	}
	return t.Weekday().String()[:3]
}

func snippet(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) > 60 {
		return s[:60] + "..."
	}
	return s
}
