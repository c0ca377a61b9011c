package reddit

import (
	"context"
	"fmt"
	"math"
	"net/url"
	"strconv"
	"time"

	"reddit-stickybot/metrics"
	"reddit-stickybot/pkg/stickybot"
)

const (
	newLimit = 100
	hotLimit = 5 // Stickies always lead the hot listing; there are at most two
)

type listing struct {
	Data struct {
		Children []struct {
			Kind string   `json:"kind"`
			Data linkData `json:"data"`
		} `json:"children"`
	} `json:"data"`
}

type linkData struct {
	Name        string  `json:"name"`
	Title       string  `json:"title"`
	Author      string  `json:"author"`
	CreatedUTC  float64 `json:"created_utc"`
	Score       int     `json:"score"`
	NumComments int     `json:"num_comments"`
	Stickied    bool    `json:"stickied"`
}

type userAbout struct {
	Data struct {
		LinkKarma    int  `json:"link_karma"`
		CommentKarma int  `json:"comment_karma"`
		TotalKarma   int  `json:"total_karma"`
		IsSuspended  bool `json:"is_suspended"`
	} `json:"data"`
}

// Fetch returns the subreddit's newest submissions plus its current stickies,
// de-duplicated, with author karma filled in.
func (c *Client) Fetch(ctx context.Context, subreddit string) ([]*stickybot.Snapshot, error) {
	c.logger.Info("Fetching submissions", "subreddit", subreddit)

	latest, err := c.listing(ctx, subreddit, "new", newLimit)
	if err != nil {
		return nil, &stickybot.FetchError{Subreddit: subreddit, Err: err}
	}
	hot, err := c.listing(ctx, subreddit, "hot", hotLimit)
	if err != nil {
		return nil, &stickybot.FetchError{Subreddit: subreddit, Err: err}
	}

	byID := make(map[string]*stickybot.Snapshot, len(latest)+len(hot))
	snaps := make([]*stickybot.Snapshot, 0, len(latest)+len(hot))
	for _, snap := range latest {
		byID[snap.ID] = snap
		snaps = append(snaps, snap)
	}
	var stickies int
	for _, snap := range hot {
		if !snap.Stickied {
			continue
		}
		stickies++
		if existing, ok := byID[snap.ID]; ok {
			existing.Stickied = true
			continue
		}
		byID[snap.ID] = snap
		snaps = append(snaps, snap)
	}

	for _, snap := range snaps {
		if c.karmaFilter != nil && !c.karmaFilter(snap.Title) {
			continue
		}
		snap.AuthorKarma = c.authorKarma(ctx, snap.Author)
	}

	c.logger.Info("Submissions fetched",
		"subreddit", subreddit,
		"new", len(latest),
		"stickied", stickies,
		"total", len(snaps))
	return snaps, nil
}

func (c *Client) listing(ctx context.Context, subreddit, sort string, limit int) ([]*stickybot.Snapshot, error) {
	var l listing
	path := fmt.Sprintf("/r/%s/%s", url.PathEscape(subreddit), sort)
	if err := c.get(ctx, path, url.Values{"limit": {strconv.Itoa(limit)}, "raw_json": {"1"}}, &l); err != nil {
		return nil, fmt.Errorf("fetch %s listing: %w", sort, err)
	}

	snaps := make([]*stickybot.Snapshot, 0, len(l.Data.Children))
	for _, child := range l.Data.Children {
		if child.Kind != "t3" || child.Data.Name == "" {
			continue
		}
		snaps = append(snaps, child.Data.snapshot())
	}
	return snaps, nil
}

func (d linkData) snapshot() *stickybot.Snapshot {
	sec, frac := math.Modf(d.CreatedUTC)
	return &stickybot.Snapshot{
		ID:          d.Name,
		Title:       d.Title,
		Author:      d.Author,
		CreatedAt:   time.Unix(int64(sec), int64(frac*1e9)).UTC(),
		Score:       d.Score,
		NumComments: d.NumComments,
		Stickied:    d.Stickied,
	}
}

// authorKarma returns the author's total karma, zero when unknown. Lookups
// are cached; failures are not, so they are retried next cycle.
func (c *Client) authorKarma(ctx context.Context, author string) int {
	if author == "" || author == "[deleted]" {
		return 0
	}
	if karma, ok := c.karma.Get(author); ok {
		metrics.KarmaCacheLookups.WithLabelValues("hit").Inc()
		return karma
	}
	metrics.KarmaCacheLookups.WithLabelValues("miss").Inc()

	var about userAbout
	if err := c.get(ctx, "/user/"+url.PathEscape(author)+"/about", url.Values{"raw_json": {"1"}}, &about); err != nil {
		if IsNotFound(err) {
			c.karma.Add(author, 0)
			return 0
		}
		c.logger.Warn("Author karma lookup failed", "author", author, "error", err)
		return 0
	}

	karma := about.Data.TotalKarma
	if karma == 0 {
		karma = about.Data.LinkKarma + about.Data.CommentKarma
	}
	if about.Data.IsSuspended {
		karma = 0
	}
	c.karma.Add(author, karma)
	return karma
}
