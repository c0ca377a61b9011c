// Package rules validates sticky rules and classifies submissions against them.
package rules

import (
	"fmt"
	"regexp"
	"slices"
	"time"

	"reddit-stickybot/pkg/stickybot"
)

// Documented defaults for omitted rule attributes.
const (
	DefaultMinScore         = 5
	DefaultMinKarma         = 50
	DefaultMaxAgeHrs        = 0.5
	DefaultRemoveAgeHrs     = 12.0
	DefaultSortUpdateAgeHrs = 4.0
)

// DefaultSortList is applied when a rule omits sort_list.
var DefaultSortList = []string{"new", "best"}

// SupportedSorts lists the suggested sorts the forum accepts.
var SupportedSorts = []string{"new", "best", "top", "controversial", "old", "q&a"}

// Spec is a rule as written in the configuration document. Pointer fields
// distinguish "omitted" (take the default) from an explicit zero.
type Spec struct {
	MinScore         *int     `json:"min_score,omitempty" yaml:"min_score,omitempty"`
	MinKarma         *int     `json:"min_karma,omitempty" yaml:"min_karma,omitempty"`
	MaxAgeHrs        *float64 `json:"max_age_hrs,omitempty" yaml:"max_age_hrs,omitempty"`
	RemoveAgeHrs     *float64 `json:"remove_age_hrs,omitempty" yaml:"remove_age_hrs,omitempty"`
	SortUpdateAgeHrs *float64 `json:"sort_update_age_hrs,omitempty" yaml:"sort_update_age_hrs,omitempty"`
	Label            string   `json:"label" yaml:"label"`
	Pattern          string   `json:"pattern" yaml:"pattern"`
	Comment          string   `json:"comment,omitempty" yaml:"comment,omitempty"`
	SortList         []string `json:"sort_list,omitempty" yaml:"sort_list,omitempty"`
	AnnounceSort     bool     `json:"announce_sort,omitempty" yaml:"announce_sort,omitempty"`
}

// RuleSet is an ordered, validated, immutable list of rules.
// Order is significant: the first matching rule wins.
type RuleSet struct {
	rules []*stickybot.Rule
}

// New validates specs and compiles them into a RuleSet.
// Any problem is reported as a *stickybot.ConfigurationError.
func New(specs []Spec) (*RuleSet, error) {
	if len(specs) == 0 {
		return nil, &stickybot.ConfigurationError{Field: "rules", Reason: "at least one rule is required"}
	}

	rs := &RuleSet{rules: make([]*stickybot.Rule, 0, len(specs))}
	for i, spec := range specs {
		rule, err := compile(spec, fmt.Sprintf("rules[%d]", i))
		if err != nil {
			return nil, err
		}
		rs.rules = append(rs.rules, rule)
	}
	return rs, nil
}

func compile(spec Spec, field string) (*stickybot.Rule, error) {
	if spec.Label == "" {
		return nil, &stickybot.ConfigurationError{Field: field + ".label", Reason: "must not be empty"}
	}
	if spec.Pattern == "" {
		return nil, &stickybot.ConfigurationError{Field: field + ".pattern", Reason: "must not be empty"}
	}
	pattern, err := regexp.Compile("(?i)" + spec.Pattern)
	if err != nil {
		return nil, &stickybot.ConfigurationError{Field: field + ".pattern", Reason: "invalid regular expression", Err: err}
	}

	minScore, err := nonNegative(spec.MinScore, DefaultMinScore, field+".min_score")
	if err != nil {
		return nil, err
	}
	minKarma, err := nonNegative(spec.MinKarma, DefaultMinKarma, field+".min_karma")
	if err != nil {
		return nil, err
	}
	maxAge, err := positiveHours(spec.MaxAgeHrs, DefaultMaxAgeHrs, field+".max_age_hrs")
	if err != nil {
		return nil, err
	}
	removeAge, err := positiveHours(spec.RemoveAgeHrs, DefaultRemoveAgeHrs, field+".remove_age_hrs")
	if err != nil {
		return nil, err
	}
	sortUpdateAge, err := positiveHours(spec.SortUpdateAgeHrs, DefaultSortUpdateAgeHrs, field+".sort_update_age_hrs")
	if err != nil {
		return nil, err
	}
	if removeAge < maxAge {
		return nil, &stickybot.ConfigurationError{Field: field + ".remove_age_hrs", Reason: "must be >= max_age_hrs"}
	}

	sorts := spec.SortList
	if sorts == nil {
		sorts = DefaultSortList
	}
	if len(sorts) == 0 {
		return nil, &stickybot.ConfigurationError{Field: field + ".sort_list", Reason: "must not be empty"}
	}
	for j, s := range sorts {
		if !slices.Contains(SupportedSorts, s) {
			return nil, &stickybot.ConfigurationError{
				Field:  fmt.Sprintf("%s.sort_list[%d]", field, j),
				Reason: fmt.Sprintf("unsupported sort %q, must be one of %v", s, SupportedSorts),
			}
		}
	}

	return &stickybot.Rule{
		Label:         spec.Label,
		Pattern:       pattern,
		MinScore:      minScore,
		MinKarma:      minKarma,
		MaxAge:        maxAge,
		RemoveAge:     removeAge,
		SortUpdateAge: sortUpdateAge,
		Comment:       spec.Comment,
		SortList:      slices.Clone(sorts),
		AnnounceSort:  spec.AnnounceSort,
	}, nil
}

func nonNegative(v *int, def int, field string) (int, error) {
	if v == nil {
		return def, nil
	}
	if *v < 0 {
		return 0, &stickybot.ConfigurationError{Field: field, Reason: "must be >= 0"}
	}
	return *v, nil
}

func positiveHours(v *float64, def float64, field string) (time.Duration, error) {
	h := def
	if v != nil {
		h = *v
	}
	if h <= 0 {
		return 0, &stickybot.ConfigurationError{Field: field, Reason: "must be > 0"}
	}
	return Hours(h), nil
}

// Hours converts a fractional hour count to a duration.
func Hours(h float64) time.Duration {
	return time.Duration(h * float64(time.Hour))
}

// Rules returns the rules in declaration order. Callers must not modify them.
func (rs *RuleSet) Rules() []*stickybot.Rule {
	return rs.rules
}

// Len returns the number of rules.
func (rs *RuleSet) Len() int {
	return len(rs.rules)
}

// Tightest returns the smallest eligibility or rotation window across all rules.
func (rs *RuleSet) Tightest() time.Duration {
	var tightest time.Duration
	for _, r := range rs.rules {
		for _, d := range []time.Duration{r.MaxAge, r.SortUpdateAge} {
			if tightest == 0 || d < tightest {
				tightest = d
			}
		}
	}
	return tightest
}

// AnyTitle reports whether any rule's pattern matches the title.
func (rs *RuleSet) AnyTitle(title string) bool {
	return MatchTitle(title, rs) != nil
}
