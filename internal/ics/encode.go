// Package ics serializes normalized class records into an RFC 5545 calendar.
//
// Event times are emitted as floating local date-times (no Z, no TZID): the
// portal's times are already wall-clock times in the institution's fixed
// zone, and no cross-zone conversion is ever wanted. The calendar still
// advertises the zone through X-WR-TIMEZONE for clients that care.
package ics

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"sort"
	"strings"
	"time"

	appLog "fptucal/internal/log"
	"fptucal/internal/model"
)

const (
	prodID      = "-//fptucal//FPTU Schedule Export//EN"
	calName     = "FPTU Class Schedule"
	calDesc     = "Class schedule exported from the FPT University academic portal"
	timezoneID  = "Asia/Ho_Chi_Minh"
	uidVersion  = "v2"
	uidDomain   = "fptu-calendar"
	alarmText   = "Class reminder"
	onlineTag   = "(Online)"
	movedTag    = "(Relocated)"
	movedNotice = "Note: this session has been moved from its usual slot or room."
	linksNotice = "Supplementary links (discussion, materials) are available on the portal schedule page."

	// Reminder lead times: the first class of a day gets extra margin unless
	// it is online.
	firstOfDayMinutes = 30
	defaultMinutes    = 15

	// Meeting links carrying long query strings usually embed single-use
	// auth tokens; those are reduced to scheme+host+path in descriptions.
	meetQueryLimit = 64
)

// ErrNoClasses is returned when there is nothing to export.
var ErrNoClasses = errors.New("no classes to export")

var clockPattern = regexp.MustCompile(`^\d{2}:\d{2}$`)

// Encode serializes the given classes into RFC 5545 text. The output is
// deterministic for identical inputs and a fixed now (used only for
// DTSTAMP). Records with an unparseable date or time are skipped; an input
// that yields no encodable event at all is an error.
func Encode(classes []model.ClassRecord, now time.Time) (string, error) {
	if len(classes) == 0 {
		return "", ErrNoClasses
	}

	valid := make([]model.ClassRecord, 0, len(classes))
	for _, c := range classes {
		if !encodable(c) {
			appLog.Warn("skipping unencodable class", "activity_id", c.ActivityID, "date", c.Date)
			continue
		}
		valid = append(valid, c)
	}
	if len(valid) == 0 {
		return "", ErrNoClasses
	}

	sort.SliceStable(valid, func(i, j int) bool {
		if valid[i].Date != valid[j].Date {
			return valid[i].Date < valid[j].Date
		}
		if valid[i].Time.Start != valid[j].Time.Start {
			return valid[i].Time.Start < valid[j].Time.Start
		}
		return valid[i].ActivityID < valid[j].ActivityID
	})

	dtstamp := now.UTC().Format("20060102T150405Z")

	lines := []string{
		"BEGIN:VCALENDAR",
		"VERSION:2.0",
		"PRODID:" + prodID,
		"CALSCALE:GREGORIAN",
		"METHOD:PUBLISH",
		"X-WR-CALNAME:" + EscapeText(calName),
		"X-WR-CALDESC:" + EscapeText(calDesc),
		"X-WR-TIMEZONE:" + timezoneID,
	}

	prevDate := ""
	for _, c := range valid {
		firstOfDay := c.Date != prevDate
		prevDate = c.Date
		lines = append(lines, eventLines(c, dtstamp, firstOfDay)...)
	}
	lines = append(lines, "END:VCALENDAR")

	var b strings.Builder
	for _, line := range lines {
		b.WriteString(FoldContent(line))
		b.WriteString("\r\n")
	}
	return b.String(), nil
}

func encodable(c model.ClassRecord) bool {
	if _, err := time.Parse(model.DateLayout, c.Date); err != nil {
		return false
	}
	if !clockPattern.MatchString(c.Time.Start) || !clockPattern.MatchString(c.Time.End) {
		return false
	}
	return c.Time.Start < c.Time.End
}

func eventLines(c model.ClassRecord, dtstamp string, firstOfDay bool) []string {
	summary := c.SubjectCode
	if c.IsOnline {
		summary += " " + onlineTag
	}
	if c.IsRelocated {
		summary += " " + movedTag
	}

	minutes := defaultMinutes
	if firstOfDay && !c.IsOnline {
		minutes = firstOfDayMinutes
	}

	lines := []string{
		"BEGIN:VEVENT",
		"UID:" + eventUID(c),
		"DTSTAMP:" + dtstamp,
		"DTSTART:" + floatingDateTime(c.Date, c.Time.Start),
		"DTEND:" + floatingDateTime(c.Date, c.Time.End),
		"SUMMARY:" + EscapeText(summary),
		"SEQUENCE:0",
		"STATUS:CONFIRMED",
		"TRANSP:OPAQUE",
	}

	if loc := eventLocation(c); loc != "" {
		lines = append(lines, "LOCATION:"+EscapeText(loc))
	}
	if desc := eventDescription(c); desc != "" {
		lines = append(lines, "DESCRIPTION:"+EscapeText(desc))
	}

	lines = append(lines,
		"BEGIN:VALARM",
		"ACTION:DISPLAY",
		"DESCRIPTION:"+EscapeText(alarmText),
		fmt.Sprintf("TRIGGER:-PT%dM", minutes),
		"END:VALARM",
		"END:VEVENT",
	)
	return lines
}

// eventUID derives a deterministic UID from the class identity and its
// concrete occurrence, namespaced by a version tag so re-exports after a
// format change do not collide with previously imported entries.
func eventUID(c model.ClassRecord) string {
	sum := sha256.Sum256([]byte(uidVersion + "|" + c.ActivityID + "|" + c.Date + "|" + c.Time.Start))
	return uidVersion + "-" + hex.EncodeToString(sum[:16]) + "@" + uidDomain
}

// floatingDateTime formats "2025-09-15" + "07:30" as 20250915T073000, with
// no zone designator.
func floatingDateTime(date, clock string) string {
	return strings.ReplaceAll(date, "-", "") + "T" + strings.ReplaceAll(clock, ":", "") + "00"
}

func eventLocation(c model.ClassRecord) string {
	switch {
	case c.IsOnline && c.Location == "":
		return "Online"
	case c.IsOnline:
		return c.Location + " (Online)"
	default:
		return c.Location
	}
}

// eventDescription assembles the optional DESCRIPTION: room line, relocation
// warning, the meeting link (trimmed when its query string is oversized),
// then a blank-line-separated note that auxiliary links exist on the portal.
// The actual EduNext/materials URLs are never embedded: they tend to carry
// per-user tokens.
func eventDescription(c model.ClassRecord) string {
	var parts []string
	if c.Location != "" {
		parts = append(parts, "Room: "+c.Location)
	}
	if c.IsRelocated {
		parts = append(parts, movedNotice)
	}
	if c.MeetURL != "" {
		parts = append(parts, "Meet link: "+safeMeetURL(c.MeetURL))
	}

	body := strings.Join(parts, "\n")
	if c.EdunextURL != "" || c.MaterialsURL != "" {
		if body != "" {
			body += "\n\n"
		}
		body += linksNotice
	}
	return body
}

// safeMeetURL reduces links with oversized query strings to their
// origin+path form so single-use authenticated URLs do not leak into
// exported calendars.
func safeMeetURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	if len(u.RawQuery) <= meetQueryLimit {
		return raw
	}
	u.RawQuery = ""
	u.Fragment = ""
	return u.String()
}

// Filename derives the export file name from the min/max dates in the set:
// fptu-calendar-<start>-to-<end>.ics.
func Filename(classes []model.ClassRecord) string {
	minDate, maxDate := "", ""
	for _, c := range classes {
		if _, err := time.Parse(model.DateLayout, c.Date); err != nil {
			continue
		}
		if minDate == "" || c.Date < minDate {
			minDate = c.Date
		}
		if maxDate == "" || c.Date > maxDate {
			maxDate = c.Date
		}
	}
	if minDate == "" {
		return "fptu-calendar.ics"
	}
	return fmt.Sprintf("fptu-calendar-%s-to-%s.ics", minDate, maxDate)
}
