// Package config loads the bot's configuration document from local disk or Cloud Storage.
package config

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"github.com/codeGROOVE-dev/retry"
	"gopkg.in/yaml.v3"

	"reddit-stickybot/pkg/stickybot"
	"reddit-stickybot/rules"
)

const gcsScheme = "gs://"

// File is the configuration document as written by moderators.
type File struct {
	Subreddit string       `json:"subreddit" yaml:"subreddit"`
	Interval  string       `json:"interval,omitempty" yaml:"interval,omitempty"` // Go duration, e.g. "3m"
	Rules     []rules.Spec `json:"rules" yaml:"rules"`
}

// Config is a validated configuration ready to hand to the scheduler.
type Config struct {
	Rules     *rules.RuleSet
	Subreddit string
	Interval  time.Duration // Zero means derive from the rules
}

// Loader reads configuration documents.
type Loader struct {
	client *storage.Client // Only needed for gs:// locations
	logger *slog.Logger
}

// NewLoader creates a new configuration loader. client may be nil when only
// local paths are used.
func NewLoader(client *storage.Client, logger *slog.Logger) *Loader {
	return &Loader{
		client: client,
		logger: logger,
	}
}

// IsGCS reports whether location names a Cloud Storage object.
func IsGCS(location string) bool {
	return strings.HasPrefix(location, gcsScheme)
}

// Load reads and validates the document at location, a local path or
// gs://bucket/object. YAML is used for .yaml/.yml names, JSON otherwise.
func (l *Loader) Load(ctx context.Context, location string) (*Config, error) {
	var data []byte
	var err error
	if IsGCS(location) {
		data, err = l.readGCS(ctx, location)
	} else {
		data, err = os.ReadFile(location)
		if err != nil {
			err = fmt.Errorf("read config file: %w", err)
		}
	}
	if err != nil {
		return nil, err
	}

	cfg, err := Parse(data, path.Ext(location))
	if err != nil {
		return nil, err
	}
	l.logger.Info("Configuration loaded",
		"location", location,
		"subreddit", cfg.Subreddit,
		"rules", cfg.Rules.Len())
	return cfg, nil
}

func (l *Loader) readGCS(ctx context.Context, location string) ([]byte, error) {
	if l.client == nil {
		return nil, errors.New("cloud storage client not configured")
	}
	bucket, object, ok := strings.Cut(strings.TrimPrefix(location, gcsScheme), "/")
	if !ok || bucket == "" || object == "" {
		return nil, &stickybot.ConfigurationError{Field: "location", Reason: fmt.Sprintf("malformed object URL %q", location)}
	}

	var data []byte
	err := retry.Do(
		func() error {
			r, openErr := l.client.Bucket(bucket).Object(object).NewReader(ctx)
			if openErr != nil {
				if errors.Is(openErr, storage.ErrObjectNotExist) {
					return retry.Unrecoverable(fmt.Errorf("open storage reader: %w", openErr))
				}
				return fmt.Errorf("open storage reader: %w", openErr)
			}
			defer func() {
				if closeErr := r.Close(); closeErr != nil {
					l.logger.Warn("Failed to close storage reader", "error", closeErr)
				}
			}()

			var readErr error
			data, readErr = io.ReadAll(r)
			if readErr != nil {
				return fmt.Errorf("read from storage: %w", readErr)
			}
			return nil
		},
		retry.Attempts(3),
		retry.Delay(time.Second),
		retry.MaxDelay(30*time.Second),
		retry.MaxJitter(5*time.Second),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			l.logger.Info("Retrying config read after error", "attempt", n, "bucket", bucket, "object", object, "error", err)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("load after retries: %w", err)
	}
	return data, nil
}

// Parse decodes and validates a configuration document. ext selects the
// format (".yaml", ".yml" or anything else for JSON).
func Parse(data []byte, ext string) (*Config, error) {
	var f File
	switch strings.ToLower(ext) {
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&f); err != nil {
			return nil, &stickybot.ConfigurationError{Reason: "invalid YAML", Err: err}
		}
	default:
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&f); err != nil {
			return nil, &stickybot.ConfigurationError{Reason: "invalid JSON", Err: err}
		}
	}
	return f.Validate()
}

// Validate checks the document and compiles its rules.
func (f *File) Validate() (*Config, error) {
	sub := strings.TrimPrefix(strings.TrimPrefix(strings.TrimSpace(f.Subreddit), "/"), "r/")
	if sub == "" || strings.ContainsAny(sub, "/ ") {
		return nil, &stickybot.ConfigurationError{Field: "subreddit", Reason: fmt.Sprintf("invalid subreddit %q", f.Subreddit)}
	}

	var interval time.Duration
	if f.Interval != "" {
		d, err := time.ParseDuration(f.Interval)
		if err != nil {
			return nil, &stickybot.ConfigurationError{Field: "interval", Reason: "not a duration", Err: err}
		}
		if d <= 0 {
			return nil, &stickybot.ConfigurationError{Field: "interval", Reason: "must be > 0"}
		}
		interval = d
	}

	rs, err := rules.New(f.Rules)
	if err != nil {
		return nil, err
	}

	return &Config{
		Rules:     rs,
		Subreddit: sub,
		Interval:  interval,
	}, nil
}
