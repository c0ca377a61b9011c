package email

import (
	"fmt"
	"strings"
	"time"

	"reddit-stickybot/pkg/stickybot"
	"reddit-stickybot/poll"
)

var actionLabels = map[stickybot.ActionKind]string{
	stickybot.ActionSticky:   "Stickied",
	stickybot.ActionUnsticky: "Unstickied",
	stickybot.ActionSetSort:  "Sort changed",
	stickybot.ActionComment:  "Commented",
}

func digestSubject(subreddit string, report *poll.Report) string {
	n := len(report.Actions)
	noun := "actions"
	if n == 1 {
		noun = "action"
	}
	subject := fmt.Sprintf("r/%s: %d sticky %s", subreddit, n, noun)
	if len(report.Failed) > 0 {
		subject += fmt.Sprintf(" (%d failed)", len(report.Failed))
	}
	return subject
}

// submissionURL links a fullname like t3_abc123 to its short URL.
func submissionURL(id string) string {
	return "https://redd.it/" + strings.TrimPrefix(id, "t3_")
}

func formatDigestBody(subreddit string, report *poll.Report) string {
	failures := make(map[stickybot.Action]error, len(report.Failed))
	for _, f := range report.Failed {
		failures[f.Action] = f.Err
	}

	var b strings.Builder
	b.WriteString("<!DOCTYPE html>\n<html lang=\"en\">\n<head>\n")
	b.WriteString("<meta charset=\"utf-8\">\n")
	b.WriteString("<meta name=\"viewport\" content=\"width=device-width, initial-scale=1\">\n")
	b.WriteString("<style>\n")
	b.WriteString("body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; line-height: 1.6; color: #333; max-width: 800px; margin: 0 auto; padding: 20px; background: #fff; }\n")
	b.WriteString(".header { border-bottom: 2px solid #ff4500; padding-bottom: 10px; margin-bottom: 20px; }\n")
	b.WriteString("table { border-collapse: collapse; width: 100%; }\n")
	b.WriteString("th, td { text-align: left; padding: 6px 8px; border-bottom: 1px solid #ecf0f1; vertical-align: top; }\n")
	b.WriteString(".ok { color: #27ae60; }\n")
	b.WriteString(".failed { color: #c0392b; font-weight: 600; }\n")
	b.WriteString(".detail { color: #7f8c8d; font-size: 0.9em; }\n")
	b.WriteString(".footer { margin-top: 20px; padding-top: 10px; color: #7f8c8d; font-size: 0.9em; }\n")
	b.WriteString("a { color: #ff4500; text-decoration: none; }\n")
	b.WriteString("@media (prefers-color-scheme: dark) {\n")
	b.WriteString("body { background: #1a1a1a; color: #e0e0e0; }\n")
	b.WriteString("th, td { border-bottom-color: #444; }\n")
	b.WriteString(".detail, .footer { color: #a0a0a0; }\n")
	b.WriteString("}\n")
	b.WriteString("</style>\n</head>\n<body>\n")

	b.WriteString("<div class=\"header\">\n")
	fmt.Fprintf(&b, "<h2>r/%s sticky activity</h2>\n", escapeHTML(subreddit))
	fmt.Fprintf(&b, "<div class=\"detail\">Cycle started %s UTC</div>\n", report.StartedAt.UTC().Format("Jan 2, 2006 at 3:04 PM"))
	b.WriteString("</div>\n")

	b.WriteString("<table>\n<tr><th>Action</th><th>Submission</th><th>Rule</th><th>Result</th></tr>\n")
	for _, a := range report.Actions {
		label := actionLabels[a.Kind]
		if label == "" {
			label = string(a.Kind)
		}

		b.WriteString("<tr>\n")
		fmt.Fprintf(&b, "<td>%s", escapeHTML(label))
		if detail := actionDetail(a); detail != "" {
			fmt.Fprintf(&b, "<div class=\"detail\">%s</div>", escapeHTML(detail))
		}
		b.WriteString("</td>\n")
		fmt.Fprintf(&b, "<td><a href=\"%s\">%s</a></td>\n", escapeHTML(submissionURL(a.SubmissionID)), escapeHTML(a.SubmissionID))
		fmt.Fprintf(&b, "<td>%s</td>\n", escapeHTML(a.RuleLabel))
		if err, failed := failures[a]; failed {
			fmt.Fprintf(&b, "<td class=\"failed\">Failed: %s</td>\n", escapeHTML(fmt.Sprint(err)))
		} else {
			b.WriteString("<td class=\"ok\">OK</td>\n")
		}
		b.WriteString("</tr>\n")
	}
	b.WriteString("</table>\n")

	b.WriteString("<div class=\"footer\">\n")
	fmt.Fprintf(&b, "%d submissions fetched &bull; %d tracked &bull; cycle took %s\n",
		report.Fetched, report.Tracked, report.Duration.Round(time.Millisecond))
	b.WriteString("</div>\n")

	b.WriteString("</body>\n</html>")
	return b.String()
}

func actionDetail(a stickybot.Action) string {
	switch a.Kind {
	case stickybot.ActionSticky:
		if a.Sort != "" {
			return "suggested sort: " + a.Sort
		}
	case stickybot.ActionSetSort:
		return "now: " + a.Sort
	case stickybot.ActionComment:
		return truncate(a.Text, 120)
	}
	return ""
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

var htmlEscaper = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	"\"", "&quot;",
	"'", "&#39;",
)

func escapeHTML(s string) string {
	return htmlEscaper.Replace(s)
}
