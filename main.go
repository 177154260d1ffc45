// medreg-notifier monitors regulatory agency sites for document changes
// and emails periodic digests to subscribers.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	gcs "cloud.google.com/go/storage"
	"github.com/joho/godotenv"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"medreg-notifier/config"
	"medreg-notifier/diff"
	"medreg-notifier/digest"
	"medreg-notifier/email"
	"medreg-notifier/extract"
	"medreg-notifier/poll"
	"medreg-notifier/schedule"
	"medreg-notifier/scraper"
	"medreg-notifier/server"
	"medreg-notifier/storage"
)

func main() {
	if err := run(); err != nil {
		slog.Error("Fatal error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// Optional .env for local development
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := newStore(ctx, cfg, logger)
	if err != nil {
		return err
	}

	// Mail is best-effort: a broken transport must not stop monitoring.
	var sender *email.Sender
	if provider := newProvider(ctx, cfg, logger); provider != nil {
		sender = email.New(provider, logger, cfg.BaseURL)
	} else {
		logger.Warn("Mail transport unavailable, running in monitor-only mode")
	}

	httpClient := &http.Client{Timeout: time.Duration(cfg.Poll.FetchTimeoutSeconds) * time.Second}
	renderClient := &http.Client{Timeout: time.Duration(cfg.Poll.RenderTimeoutSeconds) * time.Second}
	fetchers, err := scraper.NewRegistry(cfg.Sources, cfg.Poll.MaxCandidatesPerPath, httpClient, renderClient, logger)
	if err != nil {
		return fmt.Errorf("build source registry: %w", err)
	}

	extractor := extract.New(extract.DefaultVocabulary(), nil)
	assembler := digest.New(digest.Options{
		RelevanceThreshold: cfg.Digest.RelevanceThreshold,
		BaseURL:            cfg.BaseURL,
	}, logger)

	pollFetchers := make([]poll.Fetcher, len(fetchers))
	for i, f := range fetchers {
		pollFetchers[i] = f
	}
	var emailer poll.Emailer
	if sender != nil {
		emailer = sender
	}

	monitor := poll.New(pollFetchers, store, emailer, assembler, extractor, poll.Options{
		Thresholds: diff.Thresholds{
			Minor:    cfg.Diff.MinorThreshold,
			Moderate: cfg.Diff.ModerateThreshold,
			Major:    cfg.Diff.MajorThreshold,
		},
		FetchConcurrency: cfg.Poll.Concurrency,
		SendConcurrency:  cfg.Digest.SendConcurrency,
		RetainContent:    cfg.Storage.RetainsContent(),
		SendEmpty:        cfg.Digest.SendEmpty,
		ChangeRetention:  time.Duration(cfg.Cleanup.ChangeRetentionDays) * 24 * time.Hour,
		ArchiveRetention: time.Duration(cfg.Cleanup.DigestRetentionDays) * 24 * time.Hour,
	}, logger)

	sched := schedule.New(logger)
	jobs := []schedule.Job{
		{ID: "poll", Interval: time.Duration(cfg.Poll.IntervalHours) * time.Hour, Run: monitor.Cycle},
		{ID: "digest", Interval: time.Duration(cfg.Digest.IntervalHours) * time.Hour, Run: monitor.DigestRun},
		{ID: "cleanup", Interval: 24 * time.Hour, Run: monitor.Cleanup},
	}
	for _, j := range jobs {
		if err := sched.Register(j); err != nil {
			return fmt.Errorf("register job: %w", err)
		}
	}

	sched.Start(ctx)
	defer sched.Stop()

	// First cycle right away instead of waiting a full interval
	if err := sched.Trigger(ctx, "poll"); err != nil {
		return fmt.Errorf("initial poll: %w", err)
	}

	var welcomeEmailer server.Emailer
	if sender != nil {
		welcomeEmailer = sender
	}
	srv := server.New(&server.Config{
		Store:      store,
		Emailer:    welcomeEmailer,
		Trigger:    sched.Trigger,
		IsNotFound: storage.IsNotFound,
		Logger:     logger,
	})

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	return srv.Run(ctx, port)
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}

func newStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*storage.Store, error) {
	salt := []byte(cfg.Storage.TokenSalt)

	if cfg.Storage.Bucket != "" {
		client, err := gcs.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("create storage client: %w", err)
		}
		logger.Info("Using Cloud Storage", "bucket", cfg.Storage.Bucket)
		return storage.New(client, cfg.Storage.Bucket, "", salt, logger), nil
	}

	localPath := cfg.Storage.LocalPath
	if localPath == "" {
		localPath = "./data"
	}
	if err := os.MkdirAll(localPath, 0o700); err != nil {
		return nil, fmt.Errorf("create local storage directory: %w", err)
	}
	logger.Info("Using local storage", "path", localPath)
	return storage.New(nil, "", localPath, salt, logger), nil
}

// newProvider builds the configured mail transport. Initialization
// failures are logged and yield nil so the monitor keeps running.
func newProvider(ctx context.Context, cfg *config.Config, logger *slog.Logger) email.Provider {
	switch cfg.Mail.Provider {
	case "gmail":
		opts := []option.ClientOption{option.WithScopes(gmail.GmailSendScope)}
		if cfg.Mail.GoogleCreds != "" {
			opts = append(opts, option.WithCredentialsJSON([]byte(cfg.Mail.GoogleCreds)))
		}
		service, err := gmail.NewService(ctx, opts...)
		if err != nil {
			logger.Error("Gmail service init failed", "error", err)
			return nil
		}
		return email.NewGmailProvider(service, logger)
	case "brevo":
		if cfg.Mail.BrevoAPIKey == "" {
			logger.Error("Brevo provider selected but BREVO_API_KEY is not set")
			return nil
		}
		return email.NewBrevoProvider(cfg.Mail.BrevoAPIKey, cfg.Mail.FromAddress, cfg.Mail.FromName, logger)
	case "mock", "":
		return email.NewMockProvider(logger)
	default:
		logger.Error("Unknown mail provider", "provider", cfg.Mail.Provider)
		return nil
	}
}
