// Package scrape composes the week-range filter, the browser navigator and
// the page extractor into one end-to-end run:
//
//	Idle -> CheckingAuth -> Navigating -> SelectingYear -> IteratingWeeks
//	     -> Completed | Failed
//
// One run at a time: the driven page holds single-page server-rendered
// state, so a second concurrent navigation sequence would corrupt the first.
package scrape

import (
	"context"
	"strconv"
	"sync/atomic"
	"time"

	"fptucal/internal/browser"
	"fptucal/internal/extract"
	appLog "fptucal/internal/log"
	"fptucal/internal/model"
	"fptucal/internal/store"
	"fptucal/internal/weekrange"
)

// sessionControl is the slice of browser.Session lifecycle the orchestrator
// manages: a session started for a run is closed again if the run fails,
// but left alive on success for the next run to reuse.
type sessionControl interface {
	Start(ctx context.Context) error
	Started() bool
	Close()
}

// authStore is the persistence the orchestrator needs for the login cache
// and first-run marker.
type authStore interface {
	AuthState(ctx context.Context) (*store.AuthState, error)
	SetAuthState(ctx context.Context, loggedIn bool, at time.Time) error
	ClearAuthState(ctx context.Context) error
	FirstRunDone(ctx context.Context) (bool, error)
	MarkFirstRunDone(ctx context.Context) error
}

// Options are the parameters of one run.
type Options struct {
	Start time.Time
	End   time.Time
	// WaitMs is the settle delay per week selection; the readiness poll
	// runs for up to twice this.
	WaitMs int
}

// Orchestrator runs scrapes. All fields are set at construction; the only
// mutable state between runs is the single-flight guard.
type Orchestrator struct {
	nav     browser.Navigator
	session sessionControl // nil when nav has no managed lifecycle (tests)
	auth    authStore
	bus     *Bus

	// extractFn parses captured page HTML; injected in tests.
	extractFn func(pageHTML string, dropdownYear int) ([]model.ClassRecord, error)

	authTTL time.Duration
	retries int
	now     func() time.Time

	running atomic.Bool
}

// Config wires an Orchestrator.
type Config struct {
	Navigator browser.Navigator
	Session   *browser.Session // optional; enables lifecycle management
	Auth      authStore
	Bus       *Bus
	AuthTTL   time.Duration
	Retries   int
}

func New(cfg Config) *Orchestrator {
	o := &Orchestrator{
		nav:       cfg.Navigator,
		auth:      cfg.Auth,
		bus:       cfg.Bus,
		extractFn: extract.Records,
		authTTL:   cfg.AuthTTL,
		retries:   cfg.Retries,
		now:       time.Now,
	}
	if cfg.Session != nil {
		o.session = cfg.Session
	}
	if o.bus == nil {
		o.bus = NewBus()
	}
	if o.authTTL <= 0 {
		o.authTTL = 30 * time.Minute
	}
	if o.retries <= 0 {
		o.retries = 3
	}
	return o
}

// Bus exposes the run-event bus for subscribers (SSE, logs).
func (o *Orchestrator) Bus() *Bus { return o.bus }

// Run executes one scrape over [opts.Start, opts.End]. A second call while
// one is in flight fails immediately with ErrBusy rather than interleaving
// two navigation sequences against the same tab.
func (o *Orchestrator) Run(ctx context.Context, opts Options) model.ScrapeResult {
	if !o.running.CompareAndSwap(false, true) {
		return model.ScrapeResult{Success: false, Error: ErrBusy.Error()}
	}
	defer o.running.Store(false)

	createdSession := false
	if o.session != nil && !o.session.Started() {
		if err := o.session.Start(ctx); err != nil {
			return o.failed(ctx, navigationError(err), createdSession)
		}
		createdSession = true
	}

	result, err := o.run(ctx, opts)
	if err != nil {
		return o.failed(ctx, err, createdSession)
	}
	// The session created for this run stays open after success; the next
	// run reuses it.
	return result
}

func (o *Orchestrator) run(ctx context.Context, opts Options) (model.ScrapeResult, error) {
	wait := time.Duration(opts.WaitMs) * time.Millisecond
	if wait <= 0 {
		wait = 1500 * time.Millisecond
	}
	targetYear := opts.End.Year()

	if err := o.nav.OpenSchedulePage(ctx); err != nil {
		return model.ScrapeResult{}, navigationError(err)
	}

	if err := o.ensureLoggedIn(ctx); err != nil {
		return model.ScrapeResult{}, err
	}

	// Year-switch optimization: only fire the year postback when the
	// control is not already on the target year.
	current, err := o.nav.CurrentYear(ctx)
	if err != nil {
		return model.ScrapeResult{}, navigationError(err)
	}
	if current != targetYear {
		if err := o.nav.SelectYear(ctx, targetYear); err != nil {
			return model.ScrapeResult{}, navigationError(err)
		}
	}

	options, err := o.nav.WeekOptions(ctx)
	if err != nil {
		return model.ScrapeResult{}, navigationError(err)
	}

	windows := weekrange.FilterWeeks(options, opts.Start, opts.End, targetYear)
	appLog.Info("weeks selected for scrape",
		"total_options", len(options),
		"matching", len(windows),
		"year", targetYear,
	)

	data := model.ScrapeData{Year: targetYear, Weeks: make([]model.WeekResult, 0, len(windows))}
	var weekErrors []model.WeekError

	for i, w := range windows {
		o.bus.Publish(TopicProgress, model.Progress{CurrentWeek: i + 1, TotalWeeks: len(windows)})

		classes, err := o.scrapeWeek(ctx, w, wait, targetYear)
		if err != nil {
			if KindOf(err) == KindAuth {
				// An expired session mid-run: abort the whole run, no
				// further weeks attempted.
				return model.ScrapeResult{}, err
			}
			appLog.Warn("week failed after retries", "week", w.DisplayText, "err", err)
			weekErrors = append(weekErrors, model.WeekError{Week: w.DisplayText, Error: err.Error()})
			continue
		}

		data.Weeks = append(data.Weeks, model.WeekResult{
			WeekNumber: weekNumber(w, i),
			WeekRange:  w.DisplayText,
			StartDate:  w.StartDate.Format(model.DateLayout),
			EndDate:    w.EndDate.Format(model.DateLayout),
			Classes:    classes,
		})
	}

	if err := o.auth.MarkFirstRunDone(ctx); err != nil {
		appLog.Warn("failed to persist first-run marker", "err", err)
	}

	classCount := 0
	for _, wk := range data.Weeks {
		classCount += len(wk.Classes)
	}
	o.bus.Publish(TopicCompleted, model.Completion{
		TotalWeeks:   len(windows),
		SuccessCount: len(data.Weeks),
		ErrorCount:   len(weekErrors),
	})
	appLog.Info("scrape completed",
		"weeks_ok", len(data.Weeks),
		"weeks_failed", len(weekErrors),
		"classes", classCount,
	)

	return model.ScrapeResult{Success: true, Data: &data, Errors: weekErrors}, nil
}

// ensureLoggedIn consults the cached login state first. The cache is
// trusted within its TTL except on the first run after a session reset,
// which always probes the live page.
func (o *Orchestrator) ensureLoggedIn(ctx context.Context) error {
	forced := false
	if done, err := o.auth.FirstRunDone(ctx); err == nil && !done {
		forced = true
	}

	if !forced {
		if cached, err := o.auth.AuthState(ctx); err == nil && cached != nil {
			if o.now().Sub(cached.Timestamp) < o.authTTL {
				if cached.IsLoggedIn {
					appLog.Debug("auth cache hit", "logged_in", true)
					return nil
				}
				return ErrNotLoggedIn
			}
		}
	}

	loggedIn, err := o.nav.IsLoggedIn(ctx)
	if err != nil {
		if cerr := o.auth.ClearAuthState(ctx); cerr != nil {
			appLog.Warn("failed to clear auth cache", "err", cerr)
		}
		return navigationError(err)
	}
	if serr := o.auth.SetAuthState(ctx, loggedIn, o.now()); serr != nil {
		appLog.Warn("failed to cache auth state", "err", serr)
	}
	if !loggedIn {
		return ErrNotLoggedIn
	}
	return nil
}

// scrapeWeek runs one week's select->wait->capture->extract sequence with
// bounded retries. A failed attempt that turns out to coincide with a lost
// session is reclassified as an auth error instead of being retried.
func (o *Orchestrator) scrapeWeek(ctx context.Context, w model.WeekWindow, wait time.Duration, dropdownYear int) ([]model.ClassRecord, error) {
	var lastErr error
	for attempt := 1; attempt <= o.retries; attempt++ {
		classes, err := o.attemptWeek(ctx, w, wait, dropdownYear)
		if err == nil {
			return classes, nil
		}
		lastErr = err

		// Re-probe the session: a missing table on an otherwise reachable
		// page frequently means the portal bounced us to the login view.
		if loggedIn, perr := o.nav.IsLoggedIn(ctx); perr == nil && !loggedIn {
			if cerr := o.auth.ClearAuthState(ctx); cerr != nil {
				appLog.Warn("failed to clear auth cache", "err", cerr)
			}
			return nil, authError(err)
		}

		appLog.Warn("week attempt failed",
			"week", w.DisplayText,
			"attempt", attempt,
			"max", o.retries,
			"err", err,
		)
		if attempt < o.retries {
			select {
			case <-ctx.Done():
				return nil, navigationError(ctx.Err())
			case <-time.After(wait):
			}
		}
	}
	return nil, extractionError(w.DisplayText, lastErr)
}

func (o *Orchestrator) attemptWeek(ctx context.Context, w model.WeekWindow, wait time.Duration, dropdownYear int) ([]model.ClassRecord, error) {
	// The navigator stays pinned to the dropdown year that exposed this
	// week even when the week's resolved start date belongs to the prior
	// year; the boundary-aware year only feeds date labeling in extraction.
	if err := o.nav.SelectWeek(ctx, w.SelectorValue, wait); err != nil {
		return nil, err
	}
	pageHTML, err := o.nav.PageHTML(ctx)
	if err != nil {
		return nil, err
	}
	return o.extractFn(pageHTML, dropdownYear)
}

func (o *Orchestrator) failed(ctx context.Context, err error, createdSession bool) model.ScrapeResult {
	switch KindOf(err) {
	case KindAuth, KindNavigation:
		// Either way the session can no longer be trusted; the next run
		// must re-probe.
		if cerr := o.auth.ClearAuthState(ctx); cerr != nil {
			appLog.Warn("failed to clear auth cache", "err", cerr)
		}
	}
	if createdSession && o.session != nil {
		// Cleanup-on-error: a browser opened solely for this run does not
		// outlive its failure.
		o.session.Close()
	}
	appLog.Error("scrape failed", err)
	return model.ScrapeResult{Success: false, Error: err.Error()}
}

func weekNumber(w model.WeekWindow, index int) int {
	if n, err := strconv.Atoi(w.SelectorValue); err == nil {
		return n
	}
	return index + 1
}
