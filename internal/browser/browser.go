// Package browser drives the portal's week-view page in a headless Chromium
// through chromedp. The page is a legacy server-rendered ASP.NET form: both
// selector controls trigger a full postback on change, so every step is
// select -> settle -> poll rather than anything event-driven.
package browser

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/chromedp/chromedp"

	appLog "fptucal/internal/log"
	"fptucal/internal/weekrange"
)

const (
	yearSelect  = `#ctl00_mainContent_drpYear`
	weekSelect  = `#ctl00_mainContent_drpSelectWeek`
	logoutProbe = `a[id*="lbtnLogout"]`

	// opTimeout bounds any single navigation step.
	opTimeout = 45 * time.Second

	// pollInterval is the cadence of the readiness poll after a week select.
	pollInterval = 250 * time.Millisecond
)

// Navigator is the set of side-effecting steps the orchestrator sequences
// against a live schedule page. Each step has an explicit settle/poll
// contract; a simulated implementation backs the orchestrator tests.
type Navigator interface {
	// OpenSchedulePage navigates to the week-view report page.
	OpenSchedulePage(ctx context.Context) error
	// IsLoggedIn probes for the authenticated-session marker.
	IsLoggedIn(ctx context.Context) (bool, error)
	// CurrentYear reads the year control's currently selected value.
	CurrentYear(ctx context.Context) (int, error)
	// SelectYear sets the year control and triggers its postback, then
	// waits the settle delay. Week options are stale until this settles.
	SelectYear(ctx context.Context, year int) error
	// WeekOptions reads the week control's option list. Only valid after
	// the year control's update has settled; performs no year mutation.
	WeekOptions(ctx context.Context) ([]weekrange.Option, error)
	// SelectWeek sets the week control, triggers its postback, waits the
	// given settle delay, then polls (bounded by twice that delay) for the
	// results table to carry at least one body row. A poll timeout is a
	// soft failure: it is logged and the caller proceeds, letting
	// extraction decide whether the page is usable.
	SelectWeek(ctx context.Context, weekValue string, wait time.Duration) error
	// PageHTML captures the rendered page for extraction.
	PageHTML(ctx context.Context) (string, error)
}

// Options configures a browser session.
type Options struct {
	ScheduleURL string
	Headless    bool
	// Settle is the delay applied after a year postback.
	Settle time.Duration
}

// Session owns one Chromium instance and the single tab used for scraping.
// The tab is exclusively the orchestrator's for a run's duration; reusing a
// live Session across runs is the "existing tab" fast path.
type Session struct {
	opts Options

	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc
	started       bool
}

var _ Navigator = (*Session)(nil)

func NewSession(opts Options) *Session {
	if opts.Settle <= 0 {
		opts.Settle = 1500 * time.Millisecond
	}
	return &Session{opts: opts}
}

// Started reports whether a browser is currently live.
func (s *Session) Started() bool {
	return s.started
}

// Start launches Chromium. parent bounds the whole session's lifetime.
func (s *Session) Start(parent context.Context) error {
	if s.started {
		return nil
	}

	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", s.opts.Headless),
		chromedp.Flag("blink-settings", "imagesEnabled=false"),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(parent, allocOpts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	// Force the browser process up front so Start fails fast when Chromium
	// is unavailable.
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocCancel()
		return fmt.Errorf("browser start: %w", err)
	}

	s.allocCancel = allocCancel
	s.browserCtx = browserCtx
	s.browserCancel = browserCancel
	s.started = true
	appLog.Info("browser session started", "headless", s.opts.Headless)
	return nil
}

// Close tears the browser down. Safe to call on a never-started session.
func (s *Session) Close() {
	if !s.started {
		return
	}
	s.browserCancel()
	s.allocCancel()
	s.started = false
	appLog.Info("browser session closed")
}

// run executes tasks against the session tab with a per-step timeout, also
// honoring the caller's context.
func (s *Session) run(ctx context.Context, tasks ...chromedp.Action) error {
	if !s.started {
		return fmt.Errorf("browser session not started")
	}
	stepCtx, cancel := context.WithTimeout(s.browserCtx, opTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- chromedp.Run(stepCtx, tasks...) }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		cancel()
		<-done
		return ctx.Err()
	}
}

func (s *Session) OpenSchedulePage(ctx context.Context) error {
	err := s.run(ctx,
		chromedp.Navigate(s.opts.ScheduleURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
	if err != nil {
		return fmt.Errorf("navigate to schedule page: %w", err)
	}
	return nil
}

func (s *Session) IsLoggedIn(ctx context.Context) (bool, error) {
	var loggedIn bool
	err := s.run(ctx, chromedp.Evaluate(
		fmt.Sprintf(`document.querySelector(%q) !== null`, logoutProbe), &loggedIn))
	if err != nil {
		return false, fmt.Errorf("login probe: %w", err)
	}
	return loggedIn, nil
}

func (s *Session) CurrentYear(ctx context.Context) (int, error) {
	var value string
	err := s.run(ctx, chromedp.Evaluate(
		fmt.Sprintf(`(document.querySelector(%q) || {value:""}).value`, yearSelect), &value))
	if err != nil {
		return 0, fmt.Errorf("read year control: %w", err)
	}
	year, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("year control value %q: %w", value, err)
	}
	return year, nil
}

// selectAndFire sets a select control's value and fires its change handler,
// which on this page issues the ASP.NET __doPostBack reload.
func selectAndFire(selector, value string) chromedp.Action {
	js := fmt.Sprintf(`(function() {
		var el = document.querySelector(%q);
		if (!el) { return false; }
		el.value = %q;
		el.dispatchEvent(new Event('change', { bubbles: true }));
		return true;
	})()`, selector, value)
	var ok bool
	return chromedp.Evaluate(js, &ok)
}

func (s *Session) SelectYear(ctx context.Context, year int) error {
	err := s.run(ctx,
		selectAndFire(yearSelect, strconv.Itoa(year)),
		chromedp.Sleep(s.opts.Settle),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
	if err != nil {
		return fmt.Errorf("select year %d: %w", year, err)
	}
	appLog.Debug("year selected", "year", year)
	return nil
}

func (s *Session) WeekOptions(ctx context.Context) ([]weekrange.Option, error) {
	var raw []struct {
		Value string `json:"value"`
		Text  string `json:"text"`
	}
	js := fmt.Sprintf(`Array.from((document.querySelector(%q) || {options: []}).options)
		.map(function(o) { return { value: o.value, text: o.textContent.trim() }; })`, weekSelect)
	if err := s.run(ctx, chromedp.Evaluate(js, &raw)); err != nil {
		return nil, fmt.Errorf("read week options: %w", err)
	}

	options := make([]weekrange.Option, 0, len(raw))
	for _, o := range raw {
		options = append(options, weekrange.Option{Value: o.Value, Text: o.Text})
	}
	return options, nil
}

func (s *Session) SelectWeek(ctx context.Context, weekValue string, wait time.Duration) error {
	if wait <= 0 {
		wait = s.opts.Settle
	}
	err := s.run(ctx,
		selectAndFire(weekSelect, weekValue),
		chromedp.Sleep(wait),
	)
	if err != nil {
		return fmt.Errorf("select week %q: %w", weekValue, err)
	}

	// Readiness poll: wait for the results table to have body rows, up to
	// twice the settle delay. On timeout we proceed optimistically; the
	// page's update timing is not deterministically observable.
	deadline := time.Now().Add(2 * wait)
	probe := fmt.Sprintf(`(function() {
		var wk = document.querySelector(%q);
		if (!wk) { return false; }
		var tbl = wk.closest("table");
		return !!(tbl && tbl.querySelector("tbody tr"));
	})()`, weekSelect)
	for {
		var ready bool
		if err := s.run(ctx, chromedp.Evaluate(probe, &ready)); err != nil {
			return fmt.Errorf("readiness poll: %w", err)
		}
		if ready {
			return nil
		}
		if time.Now().After(deadline) {
			appLog.Warn("week render poll timed out, proceeding", "week", weekValue, "waited", 2*wait)
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}

func (s *Session) PageHTML(ctx context.Context) (string, error) {
	var html string
	if err := s.run(ctx, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", fmt.Errorf("capture page html: %w", err)
	}
	return html, nil
}
