// Package main implements a watcher that emails subscribers when an arXiv
// listing page changes. It runs once per invocation, or as an HTTP service
// whose /pollz endpoint is hit by an external scheduler.
package main

import (
	"arxiv-notifier/config"
	"arxiv-notifier/email"
	"arxiv-notifier/poll"
	"arxiv-notifier/scraper"
	"arxiv-notifier/server"
	"arxiv-notifier/storage"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	gcs "cloud.google.com/go/storage"
	"github.com/spf13/cobra"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"
)

// rootFlags holds command-line overrides. A flag only wins over the
// config file and environment when it was set explicitly.
type rootFlags struct {
	configFile string
	listURL    string
	stateFile  string
	testMode   bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	flags := &rootFlags{}

	cmd := &cobra.Command{
		Use:           "arxiv-notifier",
		Short:         "Email subscribers when an arXiv listing page changes",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runOnce(cmd, flags)
		},
	}

	pf := cmd.PersistentFlags()
	pf.StringVar(&flags.configFile, "config", "", "config file (yaml, json or toml)")
	pf.StringVar(&flags.listURL, "url", "", "listing page to watch (overrides ARXIV_LIST_URL)")
	pf.StringVar(&flags.stateFile, "state-file", "", "local state file (overrides STATE_FILE)")
	pf.BoolVar(&flags.testMode, "test-mode", false, "always send a test email and leave state untouched")

	cmd.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Serve /pollz, /health and /metrics over HTTP",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd, flags)
		},
	})

	return cmd
}

func runOnce(cmd *cobra.Command, flags *rootFlags) error {
	ctx := cmd.Context()
	cfg, logger, err := setup(cmd, flags)
	if err != nil {
		return err
	}

	monitor, cleanup, err := buildMonitor(ctx, cfg, logger)
	if err != nil {
		logger.Error("Failed to initialize", "error", err)
		return err
	}
	defer cleanup()

	res, err := monitor.Run(ctx)
	if err != nil {
		logger.Error("Run failed", "error", err)
		return err
	}
	logger.Info("Run completed", "run_id", res.RunID, "outcome", res.Outcome)
	return nil
}

func serve(cmd *cobra.Command, flags *rootFlags) error {
	ctx := cmd.Context()
	cfg, logger, err := setup(cmd, flags)
	if err != nil {
		return err
	}

	monitor, cleanup, err := buildMonitor(ctx, cfg, logger)
	if err != nil {
		logger.Error("Failed to initialize", "error", err)
		return err
	}
	defer cleanup()

	srv := server.New(monitor, logger)
	if err := srv.ListenAndServe(ctx, cfg.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Server failed", "error", err)
		return err
	}
	return nil
}

// setup loads configuration, applies flag overrides and builds the logger.
func setup(cmd *cobra.Command, flags *rootFlags) (config.Config, *slog.Logger, error) {
	out := cmd.OutOrStdout()

	cfg, err := loadConfig(cmd, flags)
	if err != nil {
		newLogger(out, "info").Error("Invalid configuration", "error", err)
		return config.Config{}, nil, err
	}

	logger := newLogger(out, cfg.LogLevel)
	slog.SetDefault(logger)
	return cfg, logger, nil
}

func loadConfig(cmd *cobra.Command, flags *rootFlags) (config.Config, error) {
	cfg, err := config.Load(flags.configFile)
	if err != nil {
		return config.Config{}, err
	}

	changed := cmd.Flags().Changed
	if changed("url") {
		cfg.ListURL = strings.TrimSpace(flags.listURL)
	}
	if changed("state-file") {
		cfg.StateFile = flags.stateFile
	}
	if changed("test-mode") {
		cfg.TestMode = flags.testMode
	}

	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func newLogger(w io.Writer, level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl}))
}

// buildMonitor wires the fetcher, extractor, store and emailer. The returned
// cleanup releases any cloud clients.
func buildMonitor(ctx context.Context, cfg config.Config, logger *slog.Logger) (*poll.Monitor, func(), error) {
	store, closeStore, err := newStore(ctx, cfg, logger)
	if err != nil {
		return nil, nil, err
	}

	provider, err := newProvider(ctx, cfg, logger)
	if err != nil {
		closeStore()
		return nil, nil, err
	}

	sender := email.New(provider, logger, email.Config{
		FromName:   cfg.FromName,
		FromAddr:   cfg.SMTPUser,
		Subject:    cfg.Subject,
		Recipients: cfg.Recipients,
	})

	fetcher := scraper.New(&http.Client{Timeout: cfg.FetchTimeout}, cfg.UserAgent, logger)

	monitor := poll.New(fetcher, scraper.NewExtractor(), store, sender, logger, poll.Options{
		URL:      cfg.ListURL,
		TestMode: cfg.TestMode,
	})
	return monitor, closeStore, nil
}

func newStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (*storage.Store, func(), error) {
	if cfg.StateBucket == "" {
		logger.Debug("Using local state file", "path", cfg.StateFile)
		return storage.NewLocal(cfg.StateFile, logger), func() {}, nil
	}

	var opts []option.ClientOption
	if cfg.GoogleCredentialsJSON != "" {
		opts = append(opts, option.WithCredentialsJSON([]byte(cfg.GoogleCredentialsJSON)))
	}
	client, err := gcs.NewClient(ctx, opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("create storage client: %w", err)
	}
	closeFn := func() {
		if err := client.Close(); err != nil {
			logger.Warn("Failed to close storage client", "error", err)
		}
	}
	return storage.NewGCS(client, cfg.StateBucket, cfg.StateObject, logger), closeFn, nil
}

func newProvider(ctx context.Context, cfg config.Config, logger *slog.Logger) (email.Provider, error) {
	switch cfg.EmailProvider {
	case config.ProviderGmail:
		svc, err := initGmailService(ctx, cfg.GoogleCredentialsJSON)
		if err != nil {
			return nil, fmt.Errorf("init gmail service: %w", err)
		}
		return email.NewGmailProvider(svc, logger), nil
	case config.ProviderMock:
		logger.Info("Mock email mode enabled")
		return email.NewMockProvider(logger), nil
	default:
		return email.NewSMTPProvider(email.SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUser,
			Password: cfg.SMTPPass,
			Timeout:  cfg.SMTPTimeout,
		}, logger), nil
	}
}

func initGmailService(ctx context.Context, credsJSON string) (*gmail.Service, error) {
	if credsJSON != "" {
		return gmail.NewService(ctx, option.WithCredentialsJSON([]byte(credsJSON)))
	}

	// On Cloud Run the service account supplies Application Default Credentials.
	if isCloudRun(ctx) {
		return gmail.NewService(ctx)
	}

	return nil, errors.New("GOOGLE_CREDENTIALS_JSON required when not running in Cloud Run")
}

// isCloudRun checks if we're running in a GCP environment by querying the metadata server.
func isCloudRun(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://metadata.google.internal/computeMetadata/v1/project/project-id", http.NoBody)
	if err != nil {
		return false
	}
	req.Header.Set("Metadata-Flavor", "Google")

	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return false
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	return resp.StatusCode == http.StatusOK
}
