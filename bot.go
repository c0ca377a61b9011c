package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"reddit-stickybot/config"
	"reddit-stickybot/email"
	"reddit-stickybot/lifecycle"
	"reddit-stickybot/poll"
	"reddit-stickybot/reddit"
)

// bot is the wired set of components behind the run and once commands.
type bot struct {
	cfg       *config.Config
	tracker   *lifecycle.Tracker
	scheduler *poll.Scheduler
	gcs       *storage.Client
	logger    *slog.Logger
}

func newBot(ctx context.Context, opts *options, logger *slog.Logger) (*bot, error) {
	gcs, err := newStorageClient(ctx, opts.configPath)
	if err != nil {
		return nil, err
	}
	b := &bot{gcs: gcs, logger: logger}

	cfg, err := config.NewLoader(gcs, logger).Load(ctx, opts.configPath)
	if err != nil {
		b.close()
		return nil, err
	}
	b.cfg = cfg

	creds := reddit.Credentials{
		ClientID:     os.Getenv("REDDIT_CLIENT_ID"),
		ClientSecret: os.Getenv("REDDIT_CLIENT_SECRET"),
		Username:     os.Getenv("REDDIT_USERNAME"),
		Password:     os.Getenv("REDDIT_PASSWORD"),
		UserAgent:    envOr("REDDIT_USER_AGENT", "server:reddit-stickybot:v1.0"),
	}
	if err := creds.Validate(); err != nil {
		b.close()
		return nil, err
	}
	client := reddit.New(&reddit.Config{
		HTTPClient:  reddit.NewHTTPClient(ctx, creds),
		Logger:      logger,
		KarmaFilter: cfg.Rules.AnyTitle,
		UserAgent:   creds.UserAgent,
	})

	notifier, err := newNotifier(ctx, logger)
	if err != nil {
		b.close()
		return nil, err
	}

	b.tracker = lifecycle.New(cfg.Rules, logger)
	b.scheduler = poll.New(&poll.Config{
		Fetcher:   client,
		Executor:  client,
		Notifier:  notifier,
		Tracker:   b.tracker,
		Logger:    logger,
		Subreddit: cfg.Subreddit,
		Interval:  resolveInterval(opts, cfg),
	})
	return b, nil
}

func (b *bot) close() {
	if b.gcs == nil {
		return
	}
	if err := b.gcs.Close(); err != nil {
		b.logger.Warn("Failed to close storage client", "error", err)
	}
}

func googleOptions() []option.ClientOption {
	if credsJSON := os.Getenv("GOOGLE_CREDENTIALS_JSON"); credsJSON != "" {
		return []option.ClientOption{option.WithCredentialsJSON([]byte(credsJSON))}
	}
	return nil
}

// newStorageClient returns nil unless the config lives in Cloud Storage.
func newStorageClient(ctx context.Context, location string) (*storage.Client, error) {
	if !config.IsGCS(location) {
		return nil, nil
	}
	client, err := storage.NewClient(ctx, googleOptions()...)
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}
	return client, nil
}

// newNotifier picks a mail provider from the environment. It returns nil
// when no digest recipients are configured.
func newNotifier(ctx context.Context, logger *slog.Logger) (poll.Notifier, error) {
	recipients := splitList(os.Getenv("NOTIFY_EMAIL"))
	if len(recipients) == 0 {
		logger.Info("No NOTIFY_EMAIL set, digest emails disabled")
		return nil, nil
	}

	var provider email.Provider
	switch {
	case os.Getenv("BREVO_API_KEY") != "":
		from := os.Getenv("MAIL_FROM")
		if from == "" {
			return nil, errors.New("MAIL_FROM is required with BREVO_API_KEY")
		}
		provider = email.NewBrevoProvider(os.Getenv("BREVO_API_KEY"), from, "Sticky Bot", logger)
		logger.Info("Using Brevo for digest emails", "from", from)
	case os.Getenv("GOOGLE_CREDENTIALS_JSON") != "":
		svc, err := gmail.NewService(ctx, googleOptions()...)
		if err != nil {
			return nil, fmt.Errorf("create gmail service: %w", err)
		}
		provider = email.NewGmailProvider(svc, logger)
		logger.Info("Using Gmail API for digest emails")
	default:
		logger.Info("Mock email mode enabled (no BREVO_API_KEY or GOOGLE_CREDENTIALS_JSON)")
		provider = email.NewMockProvider(logger)
	}
	return email.New(provider, logger, recipients), nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
