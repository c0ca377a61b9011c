package reddit

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"reddit-stickybot/pkg/stickybot"
)

// apiSorts maps configured sort names to the API's suggested_sort values.
var apiSorts = map[string]string{
	"new":           "new",
	"best":          "confidence",
	"top":           "top",
	"controversial": "controversial",
	"old":           "old",
	"q&a":           "qa",
}

type commentResponse struct {
	JSON struct {
		Data struct {
			Things []struct {
				Data struct {
					Name string `json:"name"`
				} `json:"data"`
			} `json:"things"`
		} `json:"data"`
	} `json:"json"`
}

// Execute performs one action. Sticky also applies the initial suggested
// sort and posts the bot comment when one is set.
func (c *Client) Execute(ctx context.Context, action stickybot.Action) error {
	switch action.Kind {
	case stickybot.ActionSticky:
		if err := c.setSticky(ctx, action.SubmissionID, true); err != nil {
			return err
		}
		if action.Sort != "" {
			if err := c.setSuggestedSort(ctx, action.SubmissionID, action.Sort); err != nil {
				return err
			}
		}
		if action.Comment != "" {
			if _, err := c.comment(ctx, action.SubmissionID, action.Comment); err != nil {
				return err
			}
		}
		return nil
	case stickybot.ActionUnsticky:
		return c.setSticky(ctx, action.SubmissionID, false)
	case stickybot.ActionSetSort:
		return c.setSuggestedSort(ctx, action.SubmissionID, action.Sort)
	case stickybot.ActionComment:
		_, err := c.comment(ctx, action.SubmissionID, action.Text)
		return err
	default:
		return fmt.Errorf("unknown action kind %q", action.Kind)
	}
}

func (c *Client) setSticky(ctx context.Context, id string, state bool) error {
	form := url.Values{
		"id":    {id},
		"state": {fmt.Sprint(state)},
	}
	if err := c.post(ctx, "/api/set_subreddit_sticky", form, nil); err != nil {
		return fmt.Errorf("set sticky=%t: %w", state, err)
	}
	c.logger.Info("Sticky state updated", "submission_id", id, "stickied", state)
	return nil
}

func (c *Client) setSuggestedSort(ctx context.Context, id, sort string) error {
	apiSort, ok := apiSorts[sort]
	if !ok {
		return fmt.Errorf("unsupported sort %q", sort)
	}
	form := url.Values{
		"id":   {id},
		"sort": {apiSort},
	}
	if err := c.post(ctx, "/api/set_suggested_sort", form, nil); err != nil {
		return fmt.Errorf("set suggested sort: %w", err)
	}
	c.logger.Info("Suggested sort updated", "submission_id", id, "sort", sort)
	return nil
}

// comment replies to a submission and distinguishes the reply as a moderator.
func (c *Client) comment(ctx context.Context, id, text string) (string, error) {
	var resp commentResponse
	if err := c.post(ctx, "/api/comment", url.Values{"thing_id": {id}, "text": {text}}, &resp); err != nil {
		return "", fmt.Errorf("post comment: %w", err)
	}
	if len(resp.JSON.Data.Things) == 0 || resp.JSON.Data.Things[0].Data.Name == "" {
		return "", errors.New("post comment: response did not include the new comment")
	}
	commentID := resp.JSON.Data.Things[0].Data.Name

	if err := c.post(ctx, "/api/distinguish", url.Values{"id": {commentID}, "how": {"yes"}}, nil); err != nil {
		return commentID, fmt.Errorf("distinguish comment %s: %w", commentID, err)
	}
	c.logger.Info("Comment posted", "submission_id", id, "comment_id", commentID)
	return commentID, nil
}
