package email

import (
	"errors"
	"strings"
	"testing"
	"time"

	"reddit-stickybot/pkg/stickybot"
	"reddit-stickybot/poll"
)

func sampleReport() *poll.Report {
	sticky := stickybot.Action{
		Kind:         stickybot.ActionSticky,
		SubmissionID: "t3_abc123",
		RuleLabel:    "game-thread",
		Sort:         "new",
	}
	sortChange := stickybot.Action{
		Kind:         stickybot.ActionSetSort,
		SubmissionID: "t3_old999",
		RuleLabel:    "game-thread",
		Sort:         "best",
	}
	return &poll.Report{
		StartedAt: time.Date(2026, 4, 1, 18, 0, 0, 0, time.UTC),
		Actions:   []stickybot.Action{sticky, sortChange},
		Failed: []*stickybot.ActionError{
			{Action: sortChange, Err: errors.New("HTTP 403: <forbidden>")},
		},
		Duration: 1500 * time.Millisecond,
		Fetched:  104,
		Tracked:  2,
	}
}

func TestDigestSubject(t *testing.T) {
	tests := []struct {
		name   string
		report *poll.Report
		want   string
	}{
		{
			name:   "one action",
			report: &poll.Report{Actions: make([]stickybot.Action, 1)},
			want:   "r/baseball: 1 sticky action",
		},
		{
			name:   "with failures",
			report: sampleReport(),
			want:   "r/baseball: 2 sticky actions (1 failed)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := digestSubject("baseball", tt.report); got != tt.want {
				t.Errorf("digestSubject() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestFormatDigestBody(t *testing.T) {
	body := formatDigestBody("baseball", sampleReport())

	for _, want := range []string{
		"<h2>r/baseball sticky activity</h2>",
		"Apr 1, 2026 at 6:00 PM UTC",
		`<a href="https://redd.it/abc123">t3_abc123</a>`,
		"suggested sort: new",
		"now: best",
		`<td class="ok">OK</td>`,
		`<td class="failed">Failed: HTTP 403: &lt;forbidden&gt;</td>`,
		"104 submissions fetched &bull; 2 tracked &bull; cycle took 1.5s",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("digest body missing %q", want)
		}
	}
	if strings.Contains(body, "<forbidden>") {
		t.Error("error text was not escaped")
	}
}

func TestFormatDigestBodyEscapesComment(t *testing.T) {
	report := &poll.Report{
		Actions: []stickybot.Action{{
			Kind:         stickybot.ActionComment,
			SubmissionID: "t3_x",
			RuleLabel:    `<script>alert("x")</script>`,
			Text:         strings.Repeat("a", 200),
		}},
	}
	body := formatDigestBody("baseball", report)

	if strings.Contains(body, "<script>") {
		t.Error("rule label was not escaped")
	}
	if !strings.Contains(body, strings.Repeat("a", 120)+"...") {
		t.Error("long comment text was not truncated")
	}
}

func TestEscapeHTML(t *testing.T) {
	got := escapeHTML(`<a href="x">Tom & Jerry's</a>`)
	want := "&lt;a href=&quot;x&quot;&gt;Tom &amp; Jerry&#39;s&lt;/a&gt;"
	if got != want {
		t.Errorf("escapeHTML() = %q, want %q", got, want)
	}
}
