package scrape

import (
	"errors"
	"fmt"
)

// Kind classifies a scrape failure. Classification is carried explicitly on
// the error value; nothing in this package sniffs error message text.
type Kind string

const (
	// KindAuth: the session is not (or no longer) authenticated. Fatal to
	// the whole run.
	KindAuth Kind = "auth"
	// KindNavigation: the tab failed to reach or drive the target page.
	// Fatal, and treated as a hint the session may have expired.
	KindNavigation Kind = "navigation"
	// KindExtraction: one week's page yielded no usable table. Retried
	// locally, then recorded as a non-fatal per-week error.
	KindExtraction Kind = "extraction"
)

// Error is a tagged scrape failure.
type Error struct {
	Kind Kind
	Week string // display text of the affected week, when applicable
	Err  error
}

func (e *Error) Error() string {
	if e.Week != "" {
		return fmt.Sprintf("%s: week %s: %v", e.Kind, e.Week, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// ErrNotLoggedIn is the fatal condition surfaced when no authenticated
// session is present.
var ErrNotLoggedIn = &Error{Kind: KindAuth, Err: errors.New("not logged in to the portal")}

// ErrBusy is returned when a run is requested while another is in flight.
var ErrBusy = errors.New("a scrape is already in progress")

// KindOf extracts the classification from an error chain, defaulting to
// extraction (the retryable, least-fatal kind).
func KindOf(err error) Kind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return KindExtraction
}

func authError(err error) *Error       { return &Error{Kind: KindAuth, Err: err} }
func navigationError(err error) *Error { return &Error{Kind: KindNavigation, Err: err} }
func extractionError(week string, err error) *Error {
	return &Error{Kind: KindExtraction, Week: week, Err: err}
}
