package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"reddit-stickybot/pkg/stickybot"
	"reddit-stickybot/poll"
)

type fakePoller struct {
	report *poll.Report
	err    error
	calls  int
}

func (p *fakePoller) Cycle(context.Context) (*poll.Report, error) {
	p.calls++
	return p.report, p.err
}

type fakeStatus []stickybot.Tracked

func (f fakeStatus) Entries() []stickybot.Tracked { return f }

func newTestServer(p Poller, st Status) *Server {
	return New(&Config{
		Poller:    p,
		Status:    st,
		Logger:    slog.New(slog.DiscardHandler),
		Subreddit: "baseball",
	})
}

func TestHealth(t *testing.T) {
	h := newTestServer(&fakePoller{}, fakeStatus{}).Handler()

	tests := []struct {
		method string
		want   int
	}{
		{http.MethodGet, http.StatusOK},
		{http.MethodPost, http.StatusMethodNotAllowed},
	}
	for _, tt := range tests {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(tt.method, "/health", nil))
		if rec.Code != tt.want {
			t.Errorf("%s /health = %d, want %d", tt.method, rec.Code, tt.want)
		}
	}
}

func TestPoll(t *testing.T) {
	unsticky := stickybot.Action{Kind: stickybot.ActionUnsticky, SubmissionID: "t3_old", RuleLabel: "gdt"}
	p := &fakePoller{report: &poll.Report{
		Actions: []stickybot.Action{
			{Kind: stickybot.ActionSticky, SubmissionID: "t3_new", RuleLabel: "gdt", Sort: "new"},
			unsticky,
		},
		Failed:   []*stickybot.ActionError{{Action: unsticky, Err: errors.New("HTTP 403")}},
		Duration: 250 * time.Millisecond,
		Fetched:  100,
		Tracked:  1,
	}}
	h := newTestServer(p, fakeStatus{}).Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/pollz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("POST /pollz = %d, want 200", rec.Code)
	}

	var resp pollResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Status != "completed" || len(resp.Actions) != 2 || resp.Fetched != 100 || resp.DurationMS != 250 {
		t.Errorf("response = %+v", resp)
	}
	if len(resp.Failed) != 1 || resp.Failed[0].Action.SubmissionID != "t3_old" || resp.Failed[0].Error != "HTTP 403" {
		t.Errorf("failed = %+v", resp.Failed)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/pollz", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET /pollz = %d, want 405", rec.Code)
	}
	if p.calls != 1 {
		t.Errorf("cycles = %d, want 1", p.calls)
	}
}

func TestPollErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{
			name: "fetch failure",
			err:  &stickybot.FetchError{Subreddit: "baseball", Err: errors.New("HTTP 503")},
			want: http.StatusBadGateway,
		},
		{
			name: "other failure",
			err:  errors.New("boom"),
			want: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestServer(&fakePoller{err: tt.err}, fakeStatus{}).Handler()
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/pollz", nil))
			if rec.Code != tt.want {
				t.Errorf("POST /pollz = %d, want %d", rec.Code, tt.want)
			}
			if !strings.Contains(rec.Body.String(), `"status":"skipped"`) {
				t.Errorf("body = %s", rec.Body.String())
			}
		})
	}
}

func TestStatus(t *testing.T) {
	rule := &stickybot.Rule{Label: "gdt", SortList: []string{"new", "best"}}
	st := fakeStatus{{
		StickiedAt:   time.Date(2026, 4, 1, 18, 0, 0, 0, time.UTC),
		Rule:         rule,
		SubmissionID: "t3_abc",
		RuleLabel:    "gdt",
		State:        stickybot.Stickied,
		SortIndex:    1,
		Confirmed:    true,
	}}
	h := newTestServer(&fakePoller{}, st).Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /status = %d, want 200", rec.Code)
	}

	var resp struct {
		Subreddit string `json:"subreddit"`
		Tracked   []struct {
			SubmissionID string `json:"submission_id"`
			Rule         string `json:"rule"`
			State        string `json:"state"`
			Sort         string `json:"sort"`
		} `json:"tracked"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Subreddit != "baseball" || len(resp.Tracked) != 1 {
		t.Fatalf("response = %+v", resp)
	}
	got := resp.Tracked[0]
	if got.SubmissionID != "t3_abc" || got.Rule != "gdt" || got.Sort != "best" || got.State != stickybot.Stickied.String() {
		t.Errorf("entry = %+v", got)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	h := newTestServer(&fakePoller{}, fakeStatus{}).Handler()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("GET /metrics = %d, want 200", rec.Code)
	}
}

func TestListenAndServeStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- newTestServer(&fakePoller{}, fakeStatus{}).ListenAndServe(ctx, "0")
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("ListenAndServe() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("ListenAndServe() did not return after cancel")
	}
}
