// Package poll drives the polling cycle: fetch, decide, act.
package poll

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"reddit-stickybot/lifecycle"
	"reddit-stickybot/metrics"
	"reddit-stickybot/pkg/stickybot"
	"reddit-stickybot/rules"
)

const (
	minInterval = 30 * time.Second
	maxInterval = 10 * time.Minute
)

// Fetcher interface for reading the subreddit's new and stickied submissions.
type Fetcher interface {
	Fetch(ctx context.Context, subreddit string) ([]*stickybot.Snapshot, error)
}

// Executor interface for performing a single forum action.
type Executor interface {
	Execute(ctx context.Context, action stickybot.Action) error
}

// Notifier interface for reporting what a cycle did.
type Notifier interface {
	SendDigest(ctx context.Context, subreddit string, report *Report) error
}

// Report summarizes one completed cycle.
type Report struct {
	StartedAt time.Time                `json:"started_at"`
	Actions   []stickybot.Action       `json:"actions"`
	Failed    []*stickybot.ActionError `json:"-"`
	Duration  time.Duration            `json:"duration"`
	Fetched   int                      `json:"fetched"`
	Tracked   int                      `json:"tracked"`
}

// Config holds scheduler configuration.
type Config struct {
	Fetcher   Fetcher
	Executor  Executor
	Notifier  Notifier // Optional
	Tracker   *lifecycle.Tracker
	Logger    *slog.Logger
	Clock     func() time.Time // Defaults to time.Now
	Subreddit string
	Interval  time.Duration
}

// Scheduler runs cycles strictly one at a time.
type Scheduler struct {
	fetcher   Fetcher
	executor  Executor
	notifier  Notifier
	tracker   *lifecycle.Tracker
	logger    *slog.Logger
	clock     func() time.Time
	subreddit string
	interval  time.Duration
	mu        sync.Mutex // Serializes cycles
}

// New creates a new scheduler.
func New(cfg *Config) *Scheduler {
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = maxInterval
	}
	return &Scheduler{
		fetcher:   cfg.Fetcher,
		executor:  cfg.Executor,
		notifier:  cfg.Notifier,
		tracker:   cfg.Tracker,
		logger:    cfg.Logger,
		clock:     clock,
		subreddit: cfg.Subreddit,
		interval:  interval,
	}
}

// DefaultInterval is a tenth of the tightest rule window, clamped to a sane range.
func DefaultInterval(rs *rules.RuleSet) time.Duration {
	interval := rs.Tightest() / 10
	switch {
	case interval < minInterval:
		return minInterval
	case interval > maxInterval:
		return maxInterval
	default:
		return interval
	}
}

// Interval returns the time between scheduled cycles.
func (s *Scheduler) Interval() time.Duration {
	return s.interval
}

// Cycle runs a single fetch/evaluate/execute pass. A fetch failure skips the
// cycle and leaves tracked state untouched. Individual action failures are
// reported in the Report and never fail the cycle.
func (s *Scheduler) Cycle(ctx context.Context) (*Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock()
	start := time.Now()

	batch, err := s.fetcher.Fetch(ctx, s.subreddit)
	if err != nil {
		metrics.CyclesTotal.WithLabelValues("fetch_error").Inc()
		var fe *stickybot.FetchError
		if !errors.As(err, &fe) {
			fe = &stickybot.FetchError{Subreddit: s.subreddit, Err: err}
		}
		s.logger.Warn("Fetch failed, skipping cycle", "subreddit", s.subreddit, "error", err)
		return nil, fe
	}

	actions := s.tracker.Step(batch, now)
	// Step has already advanced state, so the actions must run to the end even
	// if the caller goes away. Each request is still bounded by the client timeout.
	actx := context.WithoutCancel(ctx)
	report := &Report{
		StartedAt: now,
		Actions:   actions,
		Fetched:   len(batch),
	}

	for _, action := range actions {
		err := s.executor.Execute(actx, action)
		if err != nil {
			ae := &stickybot.ActionError{Action: action, Err: err}
			report.Failed = append(report.Failed, ae)
			metrics.ActionsTotal.WithLabelValues(string(action.Kind), "error").Inc()
			s.logger.Warn("Action failed",
				"action", string(action.Kind),
				"submission_id", action.SubmissionID,
				"rule", action.RuleLabel,
				"error", err)
		} else {
			metrics.ActionsTotal.WithLabelValues(string(action.Kind), "ok").Inc()
			s.logger.Info("Action executed",
				"action", string(action.Kind),
				"submission_id", action.SubmissionID,
				"rule", action.RuleLabel,
				"sort", action.Sort)
		}
		s.tracker.Resolve(action, err)
	}

	report.Tracked = s.tracker.Len()
	report.Duration = time.Since(start)
	metrics.CyclesTotal.WithLabelValues("ok").Inc()
	metrics.TrackedSubmissions.Set(float64(report.Tracked))
	metrics.CycleDuration.Observe(report.Duration.Seconds())

	if len(actions) > 0 && s.notifier != nil {
		if err := s.notifier.SendDigest(actx, s.subreddit, report); err != nil {
			s.logger.Warn("Failed to send digest", "error", err)
		}
	}

	s.logger.Info("Cycle completed",
		"subreddit", s.subreddit,
		"fetched", report.Fetched,
		"actions", len(actions),
		"failed", len(report.Failed),
		"tracked", report.Tracked,
		"duration_ms", report.Duration.Milliseconds())

	return report, nil
}

// Run cycles until ctx is cancelled. Cancellation is observed between
// cycles; an in-flight cycle is finished first.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("Scheduler starting", "subreddit", s.subreddit, "interval", s.interval.String())

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		if ctx.Err() != nil {
			s.logger.Info("Scheduler stopping", "reason", ctx.Err())
			return nil
		}
		if _, err := s.Cycle(ctx); err != nil {
			s.logger.Warn("Cycle skipped", "error", err)
		}

		select {
		case <-ctx.Done():
			s.logger.Info("Scheduler stopping", "reason", ctx.Err())
			return nil
		case <-ticker.C:
		}
	}
}
