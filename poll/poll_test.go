package poll

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"reddit-stickybot/lifecycle"
	"reddit-stickybot/pkg/stickybot"
	"reddit-stickybot/rules"
)

var t0 = time.Date(2026, 4, 1, 18, 0, 0, 0, time.UTC)

type fakeFetcher struct {
	batch []*stickybot.Snapshot
	err   error
	calls int
}

func (f *fakeFetcher) Fetch(ctx context.Context, subreddit string) ([]*stickybot.Snapshot, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.batch, nil
}

type fakeExecutor struct {
	fail     map[stickybot.ActionKind]error
	executed []stickybot.Action
	mu       sync.Mutex
}

func (e *fakeExecutor) Execute(ctx context.Context, action stickybot.Action) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.executed = append(e.executed, action)
	return e.fail[action.Kind]
}

type fakeNotifier struct {
	reports []*Report
	ctxErrs []error
}

func (n *fakeNotifier) SendDigest(ctx context.Context, subreddit string, report *Report) error {
	n.reports = append(n.reports, report)
	n.ctxErrs = append(n.ctxErrs, ctx.Err())
	return nil
}

// cancelingFetcher cancels the cycle's context once the listing is in hand,
// as when a /pollz client disconnects mid-cycle.
type cancelingFetcher struct {
	fakeFetcher
	cancel context.CancelFunc
}

func (f *cancelingFetcher) Fetch(ctx context.Context, subreddit string) ([]*stickybot.Snapshot, error) {
	batch, err := f.fakeFetcher.Fetch(ctx, subreddit)
	f.cancel()
	return batch, err
}

// ctxExecutor fails any action whose context is already done.
type ctxExecutor struct {
	fakeExecutor
}

func (e *ctxExecutor) Execute(ctx context.Context, action stickybot.Action) error {
	if err := e.fakeExecutor.Execute(ctx, action); err != nil {
		return err
	}
	return ctx.Err()
}

type clock struct {
	now time.Time
}

func (c *clock) Now() time.Time { return c.now }

func intPtr(v int) *int { return &v }

func floatPtr(v float64) *float64 { return &v }

func newScheduler(t *testing.T, f Fetcher, e Executor, n Notifier, c *clock) (*Scheduler, *lifecycle.Tracker) {
	t.Helper()
	rs, err := rules.New([]rules.Spec{{
		Label:            "game-thread",
		Pattern:          "gdt|odt",
		MinScore:         intPtr(5),
		MinKarma:         intPtr(50),
		MaxAgeHrs:        floatPtr(6),
		RemoveAgeHrs:     floatPtr(12),
		SortList:         []string{"new", "best"},
		SortUpdateAgeHrs: floatPtr(4),
	}})
	if err != nil {
		t.Fatalf("rules.New() error = %v", err)
	}
	logger := slog.New(slog.DiscardHandler)
	tracker := lifecycle.New(rs, logger)
	s := New(&Config{
		Fetcher:   f,
		Executor:  e,
		Notifier:  n,
		Tracker:   tracker,
		Logger:    logger,
		Clock:     c.Now,
		Subreddit: "baseball",
		Interval:  time.Minute,
	})
	return s, tracker
}

func gdt(score int, stickied bool) *stickybot.Snapshot {
	return &stickybot.Snapshot{
		ID:          "t3_gdt",
		Title:       "GDT: Dodgers vs Giants",
		CreatedAt:   t0,
		Score:       score,
		AuthorKarma: 80,
		Stickied:    stickied,
	}
}

func TestCycleEndToEnd(t *testing.T) {
	f := &fakeFetcher{}
	e := &fakeExecutor{}
	n := &fakeNotifier{}
	c := &clock{}
	s, tracker := newScheduler(t, f, e, n, c)
	ctx := context.Background()

	steps := []struct {
		at       time.Duration
		stickied bool
		want     []stickybot.ActionKind
		sort     string
	}{
		{at: 6 * time.Minute, stickied: false, want: []stickybot.ActionKind{stickybot.ActionSticky}, sort: "new"},
		{at: time.Hour, stickied: true},
		{at: time.Hour, stickied: true},
		{at: 4*time.Hour + 30*time.Minute, stickied: true, want: []stickybot.ActionKind{stickybot.ActionSetSort}, sort: "best"},
		{at: 10 * time.Hour, stickied: true},
		{at: 12*time.Hour + 30*time.Minute, stickied: true, want: []stickybot.ActionKind{stickybot.ActionUnsticky}},
		{at: 13 * time.Hour, stickied: false},
	}

	for _, step := range steps {
		c.now = t0.Add(step.at)
		f.batch = []*stickybot.Snapshot{gdt(7, step.stickied)}
		before := len(e.executed)

		report, err := s.Cycle(ctx)
		if err != nil {
			t.Fatalf("Cycle() at %v error = %v", step.at, err)
		}

		got := e.executed[before:]
		if len(got) != len(step.want) {
			t.Fatalf("at %v executed %v, want %v", step.at, got, step.want)
		}
		for i, a := range got {
			if a.Kind != step.want[i] {
				t.Fatalf("at %v executed %v, want %v", step.at, got, step.want)
			}
			if step.sort != "" && a.Sort != step.sort {
				t.Errorf("at %v sort = %q, want %q", step.at, a.Sort, step.sort)
			}
		}
		if len(report.Actions) != len(step.want) {
			t.Errorf("at %v report.Actions = %d, want %d", step.at, len(report.Actions), len(step.want))
		}
	}

	if tracker.Len() != 0 {
		t.Errorf("tracker.Len() = %d after unsticky, want 0", tracker.Len())
	}
	if len(n.reports) != 3 {
		t.Errorf("digests sent = %d, want 3 (one per cycle with actions)", len(n.reports))
	}
}

func TestCycleFetchErrorKeepsState(t *testing.T) {
	f := &fakeFetcher{batch: []*stickybot.Snapshot{gdt(7, false)}}
	e := &fakeExecutor{}
	c := &clock{now: t0.Add(6 * time.Minute)}
	s, tracker := newScheduler(t, f, e, nil, c)
	ctx := context.Background()

	if _, err := s.Cycle(ctx); err != nil {
		t.Fatalf("Cycle() error = %v", err)
	}
	if tracker.Len() != 1 {
		t.Fatalf("tracker.Len() = %d, want 1", tracker.Len())
	}

	f.err = errors.New("503 service unavailable")
	for i := range 3 {
		c.now = c.now.Add(time.Minute)
		_, err := s.Cycle(ctx)
		if !stickybot.IsFetchError(err) {
			t.Fatalf("Cycle() %d error = %v, want FetchError", i, err)
		}
	}

	// Three failed fetches must not count as the submission going missing.
	if tracker.Len() != 1 {
		t.Errorf("tracker.Len() = %d after fetch failures, want 1", tracker.Len())
	}
	if len(e.executed) != 1 {
		t.Errorf("executed %d actions, want 1", len(e.executed))
	}
}

func TestCycleActionErrorIsolated(t *testing.T) {
	other := &stickybot.Snapshot{
		ID:          "t3_odt",
		Title:       "ODT: Padres vs Mets",
		CreatedAt:   t0,
		Score:       20,
		AuthorKarma: 500,
	}
	f := &fakeFetcher{batch: []*stickybot.Snapshot{gdt(7, false), other}}
	e := &fakeExecutor{fail: map[stickybot.ActionKind]error{stickybot.ActionSticky: errors.New("403 forbidden")}}
	c := &clock{now: t0.Add(time.Minute)}
	s, tracker := newScheduler(t, f, e, nil, c)

	report, err := s.Cycle(context.Background())
	if err != nil {
		t.Fatalf("Cycle() error = %v", err)
	}
	if len(e.executed) != 2 {
		t.Fatalf("executed %d actions, want both attempted", len(e.executed))
	}
	if len(report.Failed) != 2 {
		t.Errorf("report.Failed = %d, want 2", len(report.Failed))
	}
	if !stickybot.IsActionError(report.Failed[0]) {
		t.Errorf("report.Failed[0] = %T, want *ActionError", report.Failed[0])
	}
	// No rollback on failure.
	if tracker.Len() != 2 {
		t.Errorf("tracker.Len() = %d, want 2", tracker.Len())
	}
}

func TestCycleModeratorOverride(t *testing.T) {
	tests := []struct {
		name   string
		listed bool // Listing shows the sticky before the moderator removes it
	}{
		{name: "removed before the listing caught up", listed: false},
		{name: "removed after the listing showed it", listed: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &fakeFetcher{batch: []*stickybot.Snapshot{gdt(7, false)}}
			e := &fakeExecutor{}
			c := &clock{now: t0.Add(time.Minute)}
			s, tracker := newScheduler(t, f, e, nil, c)
			ctx := context.Background()

			mustCycle := func() {
				t.Helper()
				if _, err := s.Cycle(ctx); err != nil {
					t.Fatalf("Cycle() error = %v", err)
				}
			}

			mustCycle()
			if tt.listed {
				c.now = c.now.Add(time.Minute)
				f.batch = []*stickybot.Snapshot{gdt(7, true)}
				mustCycle()
			}

			for range 2 {
				c.now = c.now.Add(time.Minute)
				f.batch = []*stickybot.Snapshot{gdt(7, false)}
				mustCycle()
			}

			if len(e.executed) != 1 || e.executed[0].Kind != stickybot.ActionSticky {
				t.Errorf("executed %v, want only the initial sticky", e.executed)
			}
			if tracker.Len() != 0 {
				t.Errorf("tracker.Len() = %d, want 0", tracker.Len())
			}
		})
	}
}

func TestCycleFinishesActionsAfterCallerCancels(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	other := &stickybot.Snapshot{
		ID:          "t3_odt",
		Title:       "ODT: Padres vs Mets",
		CreatedAt:   t0,
		Score:       20,
		AuthorKarma: 500,
	}
	f := &cancelingFetcher{
		fakeFetcher: fakeFetcher{batch: []*stickybot.Snapshot{gdt(7, false), other}},
		cancel:      cancel,
	}
	e := &ctxExecutor{}
	n := &fakeNotifier{}
	s, tracker := newScheduler(t, f, e, n, &clock{now: t0.Add(time.Minute)})

	report, err := s.Cycle(ctx)
	if err != nil {
		t.Fatalf("Cycle() error = %v", err)
	}
	if ctx.Err() == nil {
		t.Fatal("fetch did not cancel the context")
	}
	if len(e.executed) != 2 {
		t.Fatalf("executed %d actions, want 2", len(e.executed))
	}
	if len(report.Failed) != 0 {
		t.Errorf("report.Failed = %v, want none", report.Failed)
	}
	for _, id := range []string{"t3_gdt", "t3_odt"} {
		if entry, ok := tracker.Get(id); !ok || !entry.Confirmed {
			t.Errorf("%s = %+v, %v; want tracked and confirmed", id, entry, ok)
		}
	}
	if len(n.ctxErrs) != 1 || n.ctxErrs[0] != nil {
		t.Errorf("digest context errors = %v, want one live context", n.ctxErrs)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	f := &fakeFetcher{}
	e := &fakeExecutor{}
	s, _ := newScheduler(t, f, e, nil, &clock{now: t0})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() error = %v, want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run() did not return after cancel")
	}
	if f.calls < 1 {
		t.Errorf("fetch calls = %d, want at least 1", f.calls)
	}
}

func TestDefaultInterval(t *testing.T) {
	tests := []struct {
		name      string
		maxAge    float64
		sortAfter float64
		want      time.Duration
	}{
		{name: "tenth of tightest window", maxAge: 0.5, sortAfter: 4, want: 3 * time.Minute},
		{name: "clamped low", maxAge: 0.01, sortAfter: 4, want: minInterval},
		{name: "clamped high", maxAge: 6, sortAfter: 4, want: maxInterval},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rs, err := rules.New([]rules.Spec{{
				Label:            "r",
				Pattern:          "r",
				MaxAgeHrs:        floatPtr(tt.maxAge),
				SortUpdateAgeHrs: floatPtr(tt.sortAfter),
			}})
			if err != nil {
				t.Fatalf("rules.New() error = %v", err)
			}
			if got := DefaultInterval(rs); got != tt.want {
				t.Errorf("DefaultInterval() = %v, want %v", got, tt.want)
			}
		})
	}
}
