package lifecycle

import (
	"fmt"
	"time"

	"reddit-stickybot/pkg/stickybot"
)

// Rotate advances the suggested sort of a stickied entry by one step when its
// rule's interval has elapsed since the last change. The sort list is a
// one-way progression: once the last entry is reached nothing more happens.
func Rotate(e *stickybot.Tracked, now time.Time) []stickybot.Action {
	if e == nil || e.Rule == nil || e.State != stickybot.Stickied {
		return nil
	}
	if e.SortIndex+1 >= len(e.Rule.SortList) {
		return nil
	}
	if now.Sub(e.LastSortChangeAt) < e.Rule.SortUpdateAge {
		return nil
	}

	e.SortIndex++
	e.LastSortChangeAt = now
	sort := e.Rule.SortList[e.SortIndex]

	actions := []stickybot.Action{{
		Kind:         stickybot.ActionSetSort,
		SubmissionID: e.SubmissionID,
		RuleLabel:    e.RuleLabel,
		Sort:         sort,
	}}
	if e.Rule.AnnounceSort {
		actions = append(actions, stickybot.Action{
			Kind:         stickybot.ActionComment,
			SubmissionID: e.SubmissionID,
			RuleLabel:    e.RuleLabel,
			Text:         fmt.Sprintf("^(*Suggested sort updated to %s at %sZ.*)", sort, now.UTC().Format("2006-01-02T15:04:05")),
		})
	}
	return actions
}
