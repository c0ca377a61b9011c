// Package lifecycle tracks stickied submissions from sticky to unsticky.
package lifecycle

import (
	"log/slog"
	"slices"
	"sync"
	"time"

	"reddit-stickybot/pkg/stickybot"
	"reddit-stickybot/rules"
)

// maxMissed is how many consecutive cycles an entry may be absent from the
// batch before it is treated as deleted upstream.
const maxMissed = 1

// Tracker owns the table of tracked submissions.
//
// Step and Resolve must be called from a single goroutine (the scheduler);
// the mutex only protects concurrent readers such as Entries.
type Tracker struct {
	rules    *rules.RuleSet
	logger   *slog.Logger
	entries  map[string]*stickybot.Tracked
	released map[string]struct{} // Evicted ids, never stickied again this run
	mu       sync.Mutex
}

// New creates an empty tracker for the given rules.
func New(rs *rules.RuleSet, logger *slog.Logger) *Tracker {
	return &Tracker{
		rules:    rs,
		logger:   logger,
		entries:  make(map[string]*stickybot.Tracked),
		released: make(map[string]struct{}),
	}
}

// Step applies one cycle's transitions for the observed batch and returns the
// actions to execute, in a deterministic order.
func (t *Tracker) Step(batch []*stickybot.Snapshot, now time.Time) []stickybot.Action {
	t.mu.Lock()
	defer t.mu.Unlock()

	seen, order := t.index(batch)

	var actions []stickybot.Action
	for _, id := range t.sortedIDs() {
		actions = append(actions, t.advance(t.entries[id], seen[id], now)...)
	}

	for _, id := range order {
		snap := seen[id]
		if _, ok := t.entries[id]; ok {
			continue // Rule is fixed at creation; never re-evaluated
		}
		if _, ok := t.released[id]; ok {
			continue
		}

		if snap.Stickied {
			t.adopt(snap, now)
			continue
		}

		rule := rules.Evaluate(snap, t.rules, now)
		if rule == nil {
			continue
		}

		t.entries[id] = &stickybot.Tracked{
			SubmissionID:     id,
			RuleLabel:        rule.Label,
			Rule:             rule,
			State:            stickybot.Stickied,
			SortIndex:        0,
			StickiedAt:       now,
			LastSortChangeAt: now,
		}
		t.logger.Info("Submission matched rule",
			"submission_id", id,
			"rule", rule.Label,
			"title", snap.Title,
			"score", snap.Score,
			"author_karma", snap.AuthorKarma,
			"age", now.Sub(snap.CreatedAt).Round(time.Second).String())

		actions = append(actions, stickybot.Action{
			Kind:         stickybot.ActionSticky,
			SubmissionID: id,
			RuleLabel:    rule.Label,
			Comment:      rule.Comment,
			Sort:         rule.SortList[0],
		})
	}

	return actions
}

// index de-duplicates the batch by id, keeping first-seen order. A submission
// reported stickied by any listing counts as stickied.
func (t *Tracker) index(batch []*stickybot.Snapshot) (map[string]*stickybot.Snapshot, []string) {
	seen := make(map[string]*stickybot.Snapshot, len(batch))
	order := make([]string, 0, len(batch))
	for _, snap := range batch {
		if snap == nil || snap.ID == "" {
			t.logger.Warn("Skipping malformed snapshot", "snapshot", snap)
			continue
		}
		if prev, ok := seen[snap.ID]; ok {
			if snap.Stickied && !prev.Stickied {
				merged := *prev
				merged.Stickied = true
				seen[snap.ID] = &merged
			}
			continue
		}
		seen[snap.ID] = snap
		order = append(order, snap.ID)
	}
	return seen, order
}

// advance moves one tracked entry forward given its snapshot (nil if absent).
func (t *Tracker) advance(e *stickybot.Tracked, snap *stickybot.Snapshot, now time.Time) []stickybot.Action {
	if snap == nil {
		e.Missed++
		if e.Missed > maxMissed {
			t.evict(e, "absent from listing")
		}
		return nil
	}
	e.Missed = 0

	if e.State == stickybot.Removed {
		// Unsticky was not confirmed last cycle.
		if snap.Stickied {
			t.logger.Info("Retrying unsticky", "submission_id", e.SubmissionID, "rule", e.RuleLabel)
			return []stickybot.Action{unsticky(e)}
		}
		t.evict(e, "unstickied")
		return nil
	}

	if snap.Stickied {
		e.Confirmed = true
	} else if e.Confirmed {
		t.evict(e, "unstickied externally")
		return nil
	}

	if now.Sub(e.StickiedAt) >= e.Rule.RemoveAge {
		e.State = stickybot.Removed
		t.logger.Info("Sticky aged out",
			"submission_id", e.SubmissionID,
			"rule", e.RuleLabel,
			"stickied_at", e.StickiedAt.Format(time.RFC3339))
		return []stickybot.Action{unsticky(e)}
	}

	return Rotate(e, now)
}

func (t *Tracker) adopt(snap *stickybot.Snapshot, now time.Time) {
	rule := rules.MatchTitle(snap.Title, t.rules)
	if rule == nil {
		return
	}
	t.entries[snap.ID] = &stickybot.Tracked{
		SubmissionID:     snap.ID,
		RuleLabel:        rule.Label,
		Rule:             rule,
		State:            stickybot.Stickied,
		StickiedAt:       now,
		LastSortChangeAt: now,
		Confirmed:        true,
	}
	t.logger.Info("Adopted existing sticky", "submission_id", snap.ID, "rule", rule.Label, "title", snap.Title)
}

// Resolve records the outcome of an executed action. A successful sticky
// confirms the entry, so a later listing without the sticky flag means a
// moderator took it down. State is never rolled back on failure; the next
// cycles converge instead.
func (t *Tracker) Resolve(action stickybot.Action, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries[action.SubmissionID]
	if !ok {
		return
	}
	if err != nil {
		t.logger.Warn("Action failed, state kept",
			"action", string(action.Kind),
			"submission_id", action.SubmissionID,
			"state", e.State.String(),
			"error", err)
		return
	}
	switch {
	case action.Kind == stickybot.ActionSticky:
		e.Confirmed = true
	case action.Kind == stickybot.ActionUnsticky && e.State == stickybot.Removed:
		t.evict(e, "unsticky confirmed")
	}
}

func (t *Tracker) evict(e *stickybot.Tracked, reason string) {
	delete(t.entries, e.SubmissionID)
	t.released[e.SubmissionID] = struct{}{}
	t.logger.Info("Submission no longer tracked",
		"submission_id", e.SubmissionID,
		"rule", e.RuleLabel,
		"reason", reason)
}

func (t *Tracker) sortedIDs() []string {
	ids := make([]string, 0, len(t.entries))
	for id := range t.entries {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Entries returns a copy of the tracked table ordered by submission id.
func (t *Tracker) Entries() []stickybot.Tracked {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]stickybot.Tracked, 0, len(t.entries))
	for _, id := range t.sortedIDs() {
		out = append(out, *t.entries[id])
	}
	return out
}

// Get returns a copy of one tracked entry.
func (t *Tracker) Get(id string) (stickybot.Tracked, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries[id]
	if !ok {
		return stickybot.Tracked{}, false
	}
	return *e, true
}

// Len returns the number of tracked submissions.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

func unsticky(e *stickybot.Tracked) stickybot.Action {
	return stickybot.Action{
		Kind:         stickybot.ActionUnsticky,
		SubmissionID: e.SubmissionID,
		RuleLabel:    e.RuleLabel,
	}
}
