package model

import "time"

// AttendanceStatus is the portal's attendance marker for one class session.
type AttendanceStatus string

const (
	StatusNotYet   AttendanceStatus = "Not yet"
	StatusAttended AttendanceStatus = "attended"
	StatusAbsent   AttendanceStatus = "absent"
)

// TimeRange is a wall-clock HH:MM interval in the institution's fixed local
// timezone. No UTC conversion is ever applied to these values.
type TimeRange struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// ClassRecord is the canonical unit of the stored schedule: one class session
// on one concrete calendar day.
//
// ActivityID is the portal's stable per-session identifier and serves as the
// identity key for merge/update/delete. Slot and Time are both captured from
// the page independently; Time is authoritative, Slot is a grouping aid.
type ClassRecord struct {
	SubjectCode  string           `json:"subjectCode"`
	Day          string           `json:"day"`  // "Sun".."Sat", redundant with Date
	Date         string           `json:"date"` // ISO-8601 calendar date, e.g. "2025-09-15"
	Slot         int              `json:"slot"` // 0..12
	Time         TimeRange        `json:"time"`
	Location     string           `json:"location"`
	IsOnline     bool             `json:"isOnline"`
	MeetURL      string           `json:"meetUrl,omitempty"`
	EdunextURL   string           `json:"edunextUrl,omitempty"`
	MaterialsURL string           `json:"materialsUrl,omitempty"`
	IsRelocated  bool             `json:"isRelocated"`
	Status       AttendanceStatus `json:"status"`
	ActivityID   string           `json:"activityId"`
}

// DateLayout is the ISO calendar-date layout used by ClassRecord.Date.
const DateLayout = "2006-01-02"

// StartTime parses the record's date and start time into a single time.Time in
// the given location. Returns the zero time if either part is malformed.
func (c ClassRecord) StartTime(loc *time.Location) time.Time {
	t, err := time.ParseInLocation(DateLayout+" 15:04", c.Date+" "+c.Time.Start, loc)
	if err != nil {
		return time.Time{}
	}
	return t
}

// WeekWindow is the ephemeral description of one dropdown week option after
// year resolution. It is produced by the range filter, consumed by the
// navigator/extractor for that week, and never persisted.
type WeekWindow struct {
	SelectorValue string
	DisplayText   string
	StartDate     time.Time
	EndDate       time.Time
	StartYear     int
	EndYear       int
}

// SpansYearBoundary reports whether the window straddles a Dec->Jan boundary,
// i.e. its two ends resolved to different years.
func (w WeekWindow) SpansYearBoundary() bool {
	return w.StartYear != w.EndYear
}

// WeekResult is the per-week slice of a successful scrape.
type WeekResult struct {
	WeekNumber int           `json:"weekNumber"`
	WeekRange  string        `json:"weekRange"`
	StartDate  string        `json:"startDate"`
	EndDate    string        `json:"endDate"`
	Classes    []ClassRecord `json:"classes"`
}

// WeekError records a week that exhausted its retries.
type WeekError struct {
	Week  string `json:"week"`
	Error string `json:"error"`
}

// ScrapeData is the payload of a run that reached the end of its week list.
type ScrapeData struct {
	Year  int          `json:"year"`
	Weeks []WeekResult `json:"weeks"`
}

// ScrapeResult is the orchestrator's terminal output. Success with a non-empty
// Errors list is a valid partial result; Success=false means a fatal condition
// aborted the run before or during iteration.
type ScrapeResult struct {
	Success bool        `json:"success"`
	Data    *ScrapeData `json:"data,omitempty"`
	Errors  []WeekError `json:"errors,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// Progress is emitted after each week's attempt begins.
type Progress struct {
	CurrentWeek int `json:"currentWeek"`
	TotalWeeks  int `json:"totalWeeks"`
}

// Completion is emitted once per finished run.
type Completion struct {
	TotalWeeks   int `json:"totalWeeks"`
	SuccessCount int `json:"successCount"`
	ErrorCount   int `json:"errorCount"`
}
