package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"reddit-stickybot/config"
	"reddit-stickybot/poll"
	"reddit-stickybot/server"
)

// options holds flags shared by every command.
type options struct {
	configPath string
	logLevel   string
	port       string
	interval   time.Duration // Overrides the document and the derived default
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func newRootCommand() *cobra.Command {
	opts := &options{}

	cmd := &cobra.Command{
		Use:           "stickybot",
		Short:         "Sticky, re-sort and unsticky subreddit posts by rule",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			level, err := parseLevel(opts.logLevel)
			if err != nil {
				return err
			}
			slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
				Level: level,
			})))
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&opts.configPath, "config", envOr("STICKYBOT_CONFIG", "stickybot.yaml"), "config document, local path or gs://bucket/object")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", envOr("LOG_LEVEL", "info"), "log level (debug|info|warn|error)")

	cmd.AddCommand(newRunCommand(opts))
	cmd.AddCommand(newOnceCommand(opts))
	cmd.AddCommand(newValidateCommand(opts))

	return cmd
}

func newRunCommand(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Poll continuously and serve /health, /pollz, /status and /metrics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			logger := slog.Default()

			b, err := newBot(ctx, opts, logger)
			if err != nil {
				return err
			}
			defer b.close()

			srv := server.New(&server.Config{
				Poller:    b.scheduler,
				Status:    b.tracker,
				Logger:    logger,
				Subreddit: b.cfg.Subreddit,
			})
			srvErr := make(chan error, 1)
			go func() {
				err := srv.ListenAndServe(ctx, opts.port)
				if err != nil {
					logger.Error("HTTP server failed", "error", err)
					stop()
				}
				srvErr <- err
			}()

			runErr := b.scheduler.Run(ctx)
			stop()
			if err := <-srvErr; err != nil {
				return err
			}
			return runErr
		},
	}
	cmd.Flags().StringVar(&opts.port, "port", envOr("PORT", "8080"), "HTTP port")
	cmd.Flags().DurationVar(&opts.interval, "interval", 0, "time between cycles (default from config, else derived from rules)")
	return cmd
}

func newOnceCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "once",
		Short: "Run a single cycle and print its report, for cron-style schedulers",
		Long: `Run a single fetch/evaluate/act cycle and exit.

Tracked state is not kept between invocations. Stickies the bot made earlier
are adopted again from the listing and aged from the time they are adopted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := slog.Default()
			b, err := newBot(cmd.Context(), opts, logger)
			if err != nil {
				return err
			}
			defer b.close()

			report, err := b.scheduler.Cycle(cmd.Context())
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(report)
		},
	}
}

func newValidateCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Load the config document and print the compiled rules",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := slog.Default()
			gcs, err := newStorageClient(cmd.Context(), opts.configPath)
			if err != nil {
				return err
			}
			if gcs != nil {
				defer func() {
					if err := gcs.Close(); err != nil {
						logger.Warn("Failed to close storage client", "error", err)
					}
				}()
			}

			cfg, err := config.NewLoader(gcs, logger).Load(cmd.Context(), opts.configPath)
			if err != nil {
				return err
			}
			printConfig(cmd, cfg, resolveInterval(opts, cfg))
			return nil
		},
	}
}

func printConfig(cmd *cobra.Command, cfg *config.Config, interval time.Duration) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "subreddit: r/%s\n", cfg.Subreddit)
	fmt.Fprintf(out, "interval:  %s\n", interval)
	fmt.Fprintln(out, "rules:")
	for i, r := range cfg.Rules.Rules() {
		fmt.Fprintf(out, "  %d. %s\n", i+1, r.Label)
		fmt.Fprintf(out, "     pattern:   %s\n", r.Pattern)
		fmt.Fprintf(out, "     min score: %d, min karma: %d\n", r.MinScore, r.MinKarma)
		fmt.Fprintf(out, "     max age: %s, remove after: %s, sort every: %s\n", r.MaxAge, r.RemoveAge, r.SortUpdateAge)
		fmt.Fprintf(out, "     sorts:     %s\n", strings.Join(r.SortList, " -> "))
		if r.Comment != "" {
			fmt.Fprintf(out, "     comment:   %q\n", r.Comment)
		}
		if r.AnnounceSort {
			fmt.Fprintln(out, "     announces sort changes")
		}
	}
}

// resolveInterval picks the flag, then the document, then the rule-derived default.
func resolveInterval(opts *options, cfg *config.Config) time.Duration {
	switch {
	case opts.interval > 0:
		return opts.interval
	case cfg.Interval > 0:
		return cfg.Interval
	default:
		return poll.DefaultInterval(cfg.Rules)
	}
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return slog.LevelInfo, fmt.Errorf("invalid log level %q: %w", s, err)
	}
	return level, nil
}
