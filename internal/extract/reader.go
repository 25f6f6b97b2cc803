package extract

import (
	"errors"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Link is an anchor found inside a timetable cell entry.
type Link struct {
	Href  string
	Label string
}

// Entry is one sub-entry of a timetable cell: a single concurrently-listed
// class in that slot/day. Text is the entry's flattened text content.
type Entry struct {
	Text  string
	Links []Link
}

// SlotRow is one body row of the schedule table: a slot index plus one cell
// of entries per weekday column.
type SlotRow struct {
	Slot  int
	Cells [][]Entry
}

// PageReader is the narrow capability the extraction algorithm needs from a
// rendered week-view page. Implementations exist for live page HTML
// (goquery) and for test fixtures.
type PageReader interface {
	// FindScheduleTable locates the schedule table among all tables on the
	// page, or reports that none matched the structural fingerprint.
	FindScheduleTable() error
	// ReadDateHeaders returns the weekday date labels ("DD/MM"), one per
	// column, from the second header row.
	ReadDateHeaders() ([]string, error)
	// ReadSlotRows returns all body rows that carry a parseable slot index.
	ReadSlotRows() ([]SlotRow, error)
}

var (
	errNoScheduleTable = errors.New("no table matched the schedule fingerprint")

	slotCellPattern  = regexp.MustCompile(`(?i)^\s*slot\s*(\d{1,2})`)
	dateLabelPattern = regexp.MustCompile(`(\d{1,2})/(\d{1,2})`)
)

// htmlReader reads the schedule table out of raw page HTML.
type htmlReader struct {
	doc   *goquery.Document
	table *goquery.Selection
}

// NewHTMLReader parses page HTML into a PageReader.
func NewHTMLReader(pageHTML string) (PageReader, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(pageHTML))
	if err != nil {
		return nil, err
	}
	return &htmlReader{doc: doc}, nil
}

// FindScheduleTable picks the one table whose header row contains the
// year/week selector controls and whose first body row starts with a "Slot"
// cell. The double condition guards against grabbing an unrelated table.
func (r *htmlReader) FindScheduleTable() error {
	var found *goquery.Selection

	r.doc.Find("table").EachWithBreak(func(_ int, tbl *goquery.Selection) bool {
		hasSelectors := tbl.Find(`thead select[id*="drpYear"], thead select[id*="drpSelectWeek"]`).Length() > 0
		if !hasSelectors {
			// Some renderings keep the selector row inside the body.
			hasSelectors = tbl.Find(`select[id*="drpSelectWeek"]`).Length() > 0
		}
		if !hasSelectors {
			return true
		}

		firstCell := tbl.Find("tbody tr").First().Find("td,th").First()
		if slotCellPattern.MatchString(strings.TrimSpace(firstCell.Text())) {
			found = tbl
			return false
		}
		return true
	})

	if found == nil {
		return errNoScheduleTable
	}
	r.table = found
	return nil
}

// ReadDateHeaders pulls the "DD/MM" labels from the second header row. Cells
// without a date fragment are skipped; the caller tolerates a count other
// than seven.
func (r *htmlReader) ReadDateHeaders() ([]string, error) {
	if r.table == nil {
		return nil, errNoScheduleTable
	}

	headerRows := r.table.Find("thead tr")
	if headerRows.Length() < 2 {
		return nil, errors.New("schedule table has no date header row")
	}

	labels := make([]string, 0, 7)
	headerRows.Eq(1).Find("th,td").Each(func(_ int, cell *goquery.Selection) {
		if m := dateLabelPattern.FindString(cell.Text()); m != "" {
			labels = append(labels, m)
		}
	})
	if len(labels) == 0 {
		return nil, errors.New("no date labels in header row")
	}
	return labels, nil
}

// ReadSlotRows walks the table body. Rows whose first cell does not carry a
// "Slot N" label are skipped.
func (r *htmlReader) ReadSlotRows() ([]SlotRow, error) {
	if r.table == nil {
		return nil, errNoScheduleTable
	}

	rows := make([]SlotRow, 0, 13)
	r.table.Find("tbody tr").Each(func(_ int, tr *goquery.Selection) {
		cells := tr.Find("td")
		if cells.Length() < 2 {
			return
		}
		m := slotCellPattern.FindStringSubmatch(strings.TrimSpace(cells.First().Text()))
		if m == nil {
			return
		}
		slot, err := strconv.Atoi(m[1])
		if err != nil {
			return
		}

		row := SlotRow{Slot: slot}
		cells.Slice(1, cells.Length()).Each(func(_ int, cell *goquery.Selection) {
			row.Cells = append(row.Cells, readCellEntries(cell))
		})
		rows = append(rows, row)
	})
	return rows, nil
}

// readCellEntries splits one weekday cell into sub-entries. A new entry
// starts at every activity-detail anchor after the first; cells listing a
// single class come back as a single entry. Empty or dash-only cells yield
// no entries.
func readCellEntries(cell *goquery.Selection) []Entry {
	text := strings.TrimSpace(cell.Text())
	if text == "" || text == "-" {
		return nil
	}

	anchors := cell.Find(`a[href*="ActivityDetail"]`)
	if anchors.Length() <= 1 {
		return []Entry{entryFromSelection(cell)}
	}

	// Multiple concurrent classes in one cell: segment the cell's child
	// nodes, opening a new segment at each detail anchor.
	entries := make([]Entry, 0, anchors.Length())
	var cur *Entry
	cell.Contents().Each(func(_ int, node *goquery.Selection) {
		isDetail := node.Is(`a[href*="ActivityDetail"]`) ||
			node.Find(`a[href*="ActivityDetail"]`).Length() > 0
		if isDetail || cur == nil {
			entries = append(entries, Entry{})
			cur = &entries[len(entries)-1]
		}
		cur.Text += node.Text()
		appendLinks(cur, node)
	})

	// Drop segments that ended up with no content (leading separators).
	out := entries[:0]
	for _, e := range entries {
		e.Text = strings.TrimSpace(e.Text)
		if e.Text != "" || len(e.Links) > 0 {
			out = append(out, e)
		}
	}
	return out
}

func entryFromSelection(sel *goquery.Selection) Entry {
	e := Entry{Text: strings.TrimSpace(sel.Text())}
	appendLinks(&e, sel)
	return e
}

func appendLinks(e *Entry, sel *goquery.Selection) {
	collect := func(_ int, a *goquery.Selection) {
		href, ok := a.Attr("href")
		if !ok || href == "" {
			return
		}
		e.Links = append(e.Links, Link{Href: href, Label: strings.TrimSpace(a.Text())})
	}
	if sel.Is("a") {
		collect(0, sel)
		return
	}
	sel.Find("a").Each(collect)
}
