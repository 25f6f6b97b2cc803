package scrape

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"fptucal/internal/model"
	"fptucal/internal/store"
	"fptucal/internal/weekrange"
)

// fakeNav simulates the driven portal page.
type fakeNav struct {
	loggedIn bool
	year     int
	options  []weekrange.Option

	// failuresLeft[value] counts how many SelectWeek calls for that week
	// still fail before succeeding. -1 fails forever.
	failuresLeft map[string]int
	// loseAuthOnFail flips loggedIn to false on the first week failure.
	loseAuthOnFail bool

	probeCalls      int
	yearSelections  []int
	weekSelections  []string
	openedSchedule  int
	htmlByWeek      map[string]string
	currentSelected string
}

func (f *fakeNav) OpenSchedulePage(ctx context.Context) error {
	f.openedSchedule++
	return nil
}

func (f *fakeNav) IsLoggedIn(ctx context.Context) (bool, error) {
	f.probeCalls++
	return f.loggedIn, nil
}

func (f *fakeNav) CurrentYear(ctx context.Context) (int, error) {
	return f.year, nil
}

func (f *fakeNav) SelectYear(ctx context.Context, year int) error {
	f.yearSelections = append(f.yearSelections, year)
	f.year = year
	return nil
}

func (f *fakeNav) WeekOptions(ctx context.Context) ([]weekrange.Option, error) {
	return f.options, nil
}

func (f *fakeNav) SelectWeek(ctx context.Context, value string, wait time.Duration) error {
	f.weekSelections = append(f.weekSelections, value)
	if left, ok := f.failuresLeft[value]; ok && left != 0 {
		if left > 0 {
			f.failuresLeft[value] = left - 1
		}
		if f.loseAuthOnFail {
			f.loggedIn = false
		}
		return errors.New("render timed out")
	}
	f.currentSelected = value
	return nil
}

func (f *fakeNav) PageHTML(ctx context.Context) (string, error) {
	if html, ok := f.htmlByWeek[f.currentSelected]; ok {
		return html, nil
	}
	return "", nil
}

func fakeExtract(pageHTML string, year int) ([]model.ClassRecord, error) {
	if pageHTML == "" {
		return nil, errors.New("no schedule table")
	}
	n := strings.Count(pageHTML, "class")
	out := make([]model.ClassRecord, n)
	for i := range out {
		out[i] = model.ClassRecord{ActivityID: pageHTML + "-" + string(rune('a'+i))}
	}
	return out, nil
}

func testStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(context.Background(), ":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func newTestOrchestrator(t *testing.T, nav *fakeNav, st *store.Store) *Orchestrator {
	t.Helper()
	o := New(Config{Navigator: nav, Auth: st, AuthTTL: 30 * time.Minute, Retries: 3})
	o.extractFn = fakeExtract
	return o
}

func septOptions() []weekrange.Option {
	return []weekrange.Option{
		{Value: "36", Text: "01/09 To 07/09"},
		{Value: "37", Text: "08/09 To 14/09"},
	}
}

func septRange() Options {
	return Options{
		Start:  time.Date(2025, 9, 1, 0, 0, 0, 0, time.UTC),
		End:    time.Date(2025, 9, 14, 0, 0, 0, 0, time.UTC),
		WaitMs: 1,
	}
}

func TestRunHappyPath(t *testing.T) {
	nav := &fakeNav{
		loggedIn: true,
		year:     2025,
		options:  septOptions(),
		htmlByWeek: map[string]string{
			"36": "class class",
			"37": "class",
		},
	}
	st := testStore(t)
	o := newTestOrchestrator(t, nav, st)

	events, cancel := o.Bus().Subscribe()
	defer cancel()

	res := o.Run(context.Background(), septRange())
	if !res.Success {
		t.Fatalf("run failed: %s", res.Error)
	}
	if res.Data == nil || len(res.Data.Weeks) != 2 {
		t.Fatalf("data = %+v", res.Data)
	}
	if res.Data.Year != 2025 {
		t.Errorf("year = %d", res.Data.Year)
	}
	if len(res.Data.Weeks[0].Classes) != 2 || len(res.Data.Weeks[1].Classes) != 1 {
		t.Errorf("class counts wrong: %+v", res.Data.Weeks)
	}
	if len(res.Errors) != 0 {
		t.Errorf("unexpected week errors: %+v", res.Errors)
	}
	// No year postback: the control already showed the target year.
	if len(nav.yearSelections) != 0 {
		t.Errorf("unnecessary year selection issued: %v", nav.yearSelections)
	}

	var progress []model.Progress
	var completions []model.Completion
	for len(events) > 0 {
		evt := <-events
		switch p := evt.Payload.(type) {
		case model.Progress:
			progress = append(progress, p)
		case model.Completion:
			completions = append(completions, p)
		}
	}
	if len(progress) != 2 || progress[0].CurrentWeek != 1 || progress[1].CurrentWeek != 2 {
		t.Errorf("progress events = %+v", progress)
	}
	if len(completions) != 1 || completions[0].SuccessCount != 2 || completions[0].ErrorCount != 0 {
		t.Errorf("completion = %+v", completions)
	}

	if done, _ := st.FirstRunDone(context.Background()); !done {
		t.Errorf("first-run marker not set after a successful run")
	}
}

func TestRunSelectsYearWhenDifferent(t *testing.T) {
	nav := &fakeNav{
		loggedIn:   true,
		year:       2024,
		options:    septOptions(),
		htmlByWeek: map[string]string{"36": "class", "37": "class"},
	}
	o := newTestOrchestrator(t, nav, testStore(t))

	res := o.Run(context.Background(), septRange())
	if !res.Success {
		t.Fatalf("run failed: %s", res.Error)
	}
	if len(nav.yearSelections) != 1 || nav.yearSelections[0] != 2025 {
		t.Errorf("year selections = %v, want single switch to 2025", nav.yearSelections)
	}
}

func TestRunRetriesThenRecordsWeekError(t *testing.T) {
	nav := &fakeNav{
		loggedIn:     true,
		year:         2025,
		options:      septOptions(),
		failuresLeft: map[string]int{"36": -1},
		htmlByWeek:   map[string]string{"37": "class"},
	}
	o := newTestOrchestrator(t, nav, testStore(t))

	res := o.Run(context.Background(), septRange())
	if !res.Success {
		t.Fatalf("partial failure must still be a successful run: %s", res.Error)
	}
	if len(res.Errors) != 1 || res.Errors[0].Week != "01/09 To 07/09" {
		t.Fatalf("errors = %+v", res.Errors)
	}
	if len(res.Data.Weeks) != 1 || res.Data.Weeks[0].WeekNumber != 37 {
		t.Fatalf("surviving week wrong: %+v", res.Data.Weeks)
	}

	attempts := 0
	for _, v := range nav.weekSelections {
		if v == "36" {
			attempts++
		}
	}
	if attempts != 3 {
		t.Errorf("week 36 attempted %d times, want 3", attempts)
	}
}

func TestRunAuthFailureAbortsImmediately(t *testing.T) {
	nav := &fakeNav{
		loggedIn:       true,
		year:           2025,
		options:        septOptions(),
		failuresLeft:   map[string]int{"36": -1},
		loseAuthOnFail: true,
	}
	st := testStore(t)
	o := newTestOrchestrator(t, nav, st)

	res := o.Run(context.Background(), septRange())
	if res.Success {
		t.Fatalf("auth loss mid-run must fail the run")
	}
	for _, v := range nav.weekSelections {
		if v == "37" {
			t.Fatalf("no further weeks may be attempted after an auth failure")
		}
	}
	// A single attempt of the failing week, no local retries.
	if len(nav.weekSelections) != 1 {
		t.Errorf("week selections = %v, want exactly one attempt", nav.weekSelections)
	}
	if cached, _ := st.AuthState(context.Background()); cached != nil {
		t.Errorf("auth cache must be invalidated on auth failure")
	}
}

func TestRunNotLoggedIn(t *testing.T) {
	nav := &fakeNav{loggedIn: false, year: 2025, options: septOptions()}
	st := testStore(t)
	o := newTestOrchestrator(t, nav, st)

	res := o.Run(context.Background(), septRange())
	if res.Success {
		t.Fatalf("run must fail when not logged in")
	}
	if !strings.Contains(res.Error, "not logged in") {
		t.Errorf("error = %q", res.Error)
	}
	if len(nav.weekSelections) != 0 {
		t.Errorf("weeks attempted without a session")
	}
}

func TestAuthCacheSkipsProbeWithinTTL(t *testing.T) {
	nav := &fakeNav{
		loggedIn:   true,
		year:       2025,
		options:    septOptions(),
		htmlByWeek: map[string]string{"36": "class", "37": "class"},
	}
	st := testStore(t)
	ctx := context.Background()

	// Simulate a completed prior run with a fresh positive cache.
	if err := st.MarkFirstRunDone(ctx); err != nil {
		t.Fatalf("mark: %v", err)
	}
	if err := st.SetAuthState(ctx, true, time.Now()); err != nil {
		t.Fatalf("seed cache: %v", err)
	}

	o := newTestOrchestrator(t, nav, st)
	res := o.Run(ctx, septRange())
	if !res.Success {
		t.Fatalf("run failed: %s", res.Error)
	}
	if nav.probeCalls != 0 {
		t.Errorf("probe called %d times despite fresh cache", nav.probeCalls)
	}
}

func TestAuthCacheNegativeWithinTTLFailsFast(t *testing.T) {
	nav := &fakeNav{loggedIn: true, year: 2025, options: septOptions()}
	st := testStore(t)
	ctx := context.Background()

	if err := st.MarkFirstRunDone(ctx); err != nil {
		t.Fatalf("mark: %v", err)
	}
	if err := st.SetAuthState(ctx, false, time.Now()); err != nil {
		t.Fatalf("seed cache: %v", err)
	}

	o := newTestOrchestrator(t, nav, st)
	res := o.Run(ctx, septRange())
	if res.Success {
		t.Fatalf("cached negative auth must fail the run")
	}
	if nav.probeCalls != 0 {
		t.Errorf("probe called despite fresh negative cache")
	}
}

func TestFirstRunForcesProbe(t *testing.T) {
	nav := &fakeNav{
		loggedIn:   true,
		year:       2025,
		options:    septOptions(),
		htmlByWeek: map[string]string{"36": "class", "37": "class"},
	}
	st := testStore(t)
	ctx := context.Background()

	// A fresh positive cache exists, but the first-run marker does not:
	// the live page must still be probed.
	if err := st.SetAuthState(ctx, true, time.Now()); err != nil {
		t.Fatalf("seed cache: %v", err)
	}

	o := newTestOrchestrator(t, nav, st)
	res := o.Run(ctx, septRange())
	if !res.Success {
		t.Fatalf("run failed: %s", res.Error)
	}
	if nav.probeCalls == 0 {
		t.Errorf("first run must probe the live page regardless of cache")
	}
}

func TestRunRejectsConcurrentInvocation(t *testing.T) {
	nav := &fakeNav{loggedIn: true, year: 2025, options: septOptions()}
	o := newTestOrchestrator(t, nav, testStore(t))

	o.running.Store(true)
	res := o.Run(context.Background(), septRange())
	if res.Success || !strings.Contains(res.Error, "already in progress") {
		t.Fatalf("concurrent run not rejected: %+v", res)
	}
}
