package rules

import (
	"time"

	"reddit-stickybot/pkg/stickybot"
)

// Evaluate returns the first rule in declaration order the submission is
// eligible for at now, or nil. It has no side effects.
func Evaluate(snap *stickybot.Snapshot, rs *RuleSet, now time.Time) *stickybot.Rule {
	if snap == nil || rs == nil {
		return nil
	}
	age := now.Sub(snap.CreatedAt)
	for _, rule := range rs.rules {
		if matches(rule, snap, age) {
			return rule
		}
	}
	return nil
}

func matches(rule *stickybot.Rule, snap *stickybot.Snapshot, age time.Duration) bool {
	return rule.Pattern.MatchString(snap.Title) &&
		snap.Score >= rule.MinScore &&
		snap.AuthorKarma >= rule.MinKarma &&
		age <= rule.MaxAge
}

// MatchTitle returns the first rule whose pattern matches the title,
// ignoring score, karma and age.
func MatchTitle(title string, rs *RuleSet) *stickybot.Rule {
	if rs == nil {
		return nil
	}
	for _, rule := range rs.rules {
		if rule.Pattern.MatchString(title) {
			return rule
		}
	}
	return nil
}
