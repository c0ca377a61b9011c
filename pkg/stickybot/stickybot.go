// Package stickybot contains the core domain types for the subreddit sticky bot.
package stickybot

import (
	"regexp"
	"time"
)

// Rule describes which submissions get stickied and how long they stay up.
// Rules are immutable once a RuleSet has been built.
type Rule struct {
	Pattern       *regexp.Regexp
	Label         string
	Comment       string   // Posted and distinguished once on sticky, if set
	SortList      []string // One-way progression of suggested sorts
	MaxAge        time.Duration
	RemoveAge     time.Duration
	SortUpdateAge time.Duration
	MinScore      int
	MinKarma      int
	AnnounceSort  bool // Post a comment whenever the suggested sort advances
}

// Snapshot is one submission as observed by the latest fetch.
type Snapshot struct {
	CreatedAt   time.Time `json:"created_at"`
	ID          string    `json:"id"` // Fullname, e.g. t3_abc123
	Title       string    `json:"title"`
	Author      string    `json:"author"`
	Score       int       `json:"score"`
	NumComments int       `json:"num_comments"`
	AuthorKarma int       `json:"author_karma"`
	Stickied    bool      `json:"stickied"` // Ground truth from the listing
}

// StickyState is the lifecycle position of a tracked submission.
type StickyState int

// Sticky states.
const (
	Pending StickyState = iota
	Stickied
	Removed
)

func (s StickyState) String() string {
	switch s {
	case Pending:
		return "pending"
	case Stickied:
		return "stickied"
	case Removed:
		return "removed"
	default:
		return "unknown"
	}
}

// MarshalText lets the state render as a word in JSON status output.
func (s StickyState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Tracked is a submission the bot has stickied (or adopted) and is lifecycling.
type Tracked struct {
	StickiedAt       time.Time   `json:"stickied_at"`
	LastSortChangeAt time.Time   `json:"last_sort_change_at"`
	Rule             *Rule       `json:"-"`
	SubmissionID     string      `json:"submission_id"`
	RuleLabel        string      `json:"rule"`
	State            StickyState `json:"state"`
	SortIndex        int         `json:"sort_index"`
	Missed           int         `json:"missed"`    // Consecutive cycles absent from the batch
	Confirmed        bool        `json:"confirmed"` // Sticky known to be applied upstream
}

// Sort returns the suggested sort currently applied to the submission.
func (t *Tracked) Sort() string {
	if t.Rule == nil || t.SortIndex >= len(t.Rule.SortList) {
		return ""
	}
	return t.Rule.SortList[t.SortIndex]
}

// ActionKind identifies an operation against the forum.
type ActionKind string

// Action kinds.
const (
	ActionSticky   ActionKind = "sticky"
	ActionUnsticky ActionKind = "unsticky"
	ActionSetSort  ActionKind = "set_sort"
	ActionComment  ActionKind = "comment"
)

// Action is a single externally visible operation the bot decided to take.
type Action struct {
	Kind         ActionKind `json:"kind"`
	SubmissionID string     `json:"submission_id"`
	RuleLabel    string     `json:"rule,omitempty"`
	Comment      string     `json:"comment,omitempty"` // Sticky: bot comment to post
	Sort         string     `json:"sort,omitempty"`    // Sticky: initial sort; SetSort: new sort
	Text         string     `json:"text,omitempty"`    // Comment body
}

func (a Action) String() string {
	switch a.Kind {
	case ActionSetSort:
		return string(a.Kind) + "(" + a.SubmissionID + ", " + a.Sort + ")"
	default:
		return string(a.Kind) + "(" + a.SubmissionID + ")"
	}
}
