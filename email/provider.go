// Package email sends the moderator digest of actions taken each cycle.
package email

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"reddit-stickybot/poll"
)

// Provider defines the interface for email sending implementations.
type Provider interface {
	// Send sends an email with the given parameters.
	Send(ctx context.Context, to, subject, htmlBody string) error
}

// Sender mails cycle digests to the moderator team using a pluggable provider.
type Sender struct {
	provider   Provider
	logger     *slog.Logger
	recipients []string
}

// New creates a new digest sender. Recipients with no address are dropped.
func New(provider Provider, logger *slog.Logger, recipients []string) *Sender {
	var to []string
	for _, r := range recipients {
		if r = sanitizeEmailHeader(r); r != "" {
			to = append(to, r)
		}
	}
	return &Sender{
		provider:   provider,
		logger:     logger,
		recipients: to,
	}
}

// SendDigest mails a summary of the cycle to every recipient. A cycle that
// took no action sends nothing.
func (s *Sender) SendDigest(ctx context.Context, subreddit string, report *poll.Report) error {
	if report == nil || len(report.Actions) == 0 || len(s.recipients) == 0 {
		return nil
	}

	subject := digestSubject(subreddit, report)
	body := formatDigestBody(subreddit, report)

	var errs []error
	for _, to := range s.recipients {
		s.logger.Info("Sending digest email",
			"to", to,
			"subject", subject,
			"action_count", len(report.Actions),
			"failed_count", len(report.Failed))

		if err := s.provider.Send(ctx, to, subject, body); err != nil {
			errs = append(errs, fmt.Errorf("send digest to %s: %w", to, err))
		}
	}
	return errors.Join(errs...)
}
