package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"igrelay/internal/downloader"
	"igrelay/pkg/auth"
	"igrelay/pkg/bot"
	"igrelay/pkg/config"
	"igrelay/pkg/instagram"
	"igrelay/pkg/logger"
	"igrelay/pkg/metrics"
	"igrelay/pkg/quota"
	"igrelay/pkg/ratelimit"
	"igrelay/pkg/storage"
	"igrelay/pkg/telegram"
)

var (
	// Run command flags
	botToken     string
	workers      int
	accountName  string
	maxDownloads int
	rateLimit    int
	stagingDir   string
	metricsAddr  string
)

// runCmd represents the run command
var runCmd = &cobra.Command{
	Use:     "run",
	Aliases: []string{"serve"},
	Short:   "Start the bot",
	Long: `Start the bot and long-poll Telegram for messages until interrupted.

The Telegram token is read from (highest priority first):
  - the --token flag
  - IGRELAY_TELEGRAM_TOKEN or TELEGRAM_TOKEN
  - the configuration file

The Instagram session comes from the configuration or environment when both
session_id and csrf_token are set, otherwise from stored credentials (see
'igrelay auth login'). Without a session only public posts can be fetched.`,
	Example: `  # Start with defaults and TELEGRAM_TOKEN from the environment
  igrelay run

  # Five downloads per user per day, one per minute
  igrelay run --max-downloads 5 --rate-limit 60

  # Expose Prometheus metrics
  igrelay run --metrics-addr :9090`,
	Args: cobra.NoArgs,
	RunE: runBot,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVar(&botToken, "token", "", "Telegram bot token")
	runCmd.Flags().IntVar(&workers, "workers", 0, "number of messages handled concurrently")
	runCmd.Flags().StringVarP(&accountName, "account", "a", "", "use specific stored Instagram account")
	runCmd.Flags().IntVar(&maxDownloads, "max-downloads", 0, "downloads allowed per user per day")
	runCmd.Flags().IntVar(&rateLimit, "rate-limit", 0, "seconds between downloads for a user")
	runCmd.Flags().StringVar(&stagingDir, "staging-dir", "", "directory for media awaiting upload")
	runCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
}

func runBot(cmd *cobra.Command, args []string) error {
	flags := map[string]interface{}{
		"token":         botToken,
		"workers":       workers,
		"account":       accountName,
		"max-downloads": maxDownloads,
		"staging-dir":   stagingDir,
		"metrics-addr":  metricsAddr,
		"log-level":     logLevel,
	}
	if cmd.Flags().Changed("rate-limit") {
		flags["rate-limit"] = rateLimit
	}

	cfg, err := config.Load(configFile, flags)
	if err != nil {
		return err
	}

	if err := logger.Initialize(&cfg.Logging); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	log := logger.GetLogger()
	log.WithField("version", version).Info("igrelay starting")

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client := instagram.NewClient(cfg.Instagram.RequestTimeout, ratelimit.NewPerMinute(cfg.Instagram.RequestsPerMinute), log)
	if err := configureSession(client, cfg, log); err != nil {
		return err
	}

	staging, err := storage.NewManager(cfg.Download.StagingDirectory)
	if err != nil {
		return err
	}
	if removed, err := staging.Sweep(); err != nil {
		log.WithError(err).Warn("Failed to sweep staging directory")
	} else if removed > 0 {
		log.WithField("removed", removed).Info("Removed leftover staged media")
	}

	pool := downloader.NewWorkerPool(cfg.Download.ConcurrentDownloads, client, staging, downloader.Options{
		MaxFileSize: cfg.Download.MaxFileSize,
		ItemTimeout: cfg.Download.DownloadTimeout,
	}, log)
	pool.Start()
	defer pool.Stop()

	limiter := ratelimit.NewUserLimiter[int64](quota.NewMemoryStore[int64](), ratelimit.Limits{
		MaxPerDay:   cfg.Limits.MaxDownloadsPerUser,
		MinInterval: cfg.MinInterval(),
		Rollover:    ratelimit.RolloverAnchor(cfg.Limits.Rollover),
	}, log)

	recorder := metrics.NewRecorder()
	recorder.TrackQueue(pool.QueueSize)

	messenger, err := telegram.New(cfg.Telegram.Token, telegram.Options{
		PollTimeout:       cfg.Telegram.PollTimeout,
		MessagesPerSecond: cfg.Telegram.MessagesPerSecond,
		Debug:             cfg.Telegram.Debug,
	}, log)
	if err != nil {
		return err
	}

	handler, err := bot.NewHandler(bot.Deps{
		Messenger: messenger,
		Resolver:  client,
		Fetcher:   pool,
		Limiter:   limiter,
		Access:    cfg,
		Recorder:  recorder,
		Logger:    log,
	})
	if err != nil {
		return err
	}

	log.WithFields(map[string]interface{}{
		"bot":                    messenger.Username(),
		"max_downloads_per_user": cfg.Limits.MaxDownloadsPerUser,
		"rate_limit_seconds":     cfg.Limits.RateLimitSeconds,
		"rollover":               cfg.Limits.Rollover,
		"admins":                 len(cfg.Access.AdminIDs),
		"allowed_users":          len(cfg.Access.AllowedUsers),
	}).Info("Bot ready")

	g, gctx := errgroup.WithContext(ctx)
	if cfg.Metrics.Enabled {
		g.Go(func() error {
			return recorder.Serve(gctx, cfg.Metrics.ListenAddress, log)
		})
	}
	g.Go(func() error {
		return handler.Run(gctx, messenger.Updates(gctx), cfg.Telegram.Workers)
	})

	err = g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		log.WithError(err).Error("Bot stopped with error")
		return err
	}

	log.Info("Bot stopped")
	return nil
}

// configureSession applies the Instagram session from the configuration, or
// from the credential stores when the configuration has none
func configureSession(client *instagram.Client, cfg *config.Config, log logger.Logger) error {
	if cfg.Instagram.SessionID != "" && cfg.Instagram.CSRFToken != "" {
		client.SetSession(cfg.Instagram.SessionID, cfg.Instagram.CSRFToken, cfg.Instagram.UserAgent)
		log.Info("Using Instagram session from configuration")
		return nil
	}

	manager, err := auth.NewManager("")
	if err != nil {
		return fmt.Errorf("failed to initialize credential manager: %w", err)
	}

	account, err := manager.Resolve(cfg.Instagram.Account)
	switch {
	case errors.Is(err, auth.ErrCredentialsNotFound) && cfg.Instagram.Account == "":
		client.SetSession("", "", cfg.Instagram.UserAgent)
		log.Warn("No Instagram session configured, only public posts can be fetched")
		return nil
	case err != nil:
		return fmt.Errorf("instagram account %q: %w", cfg.Instagram.Account, err)
	}

	userAgent := account.UserAgent
	if userAgent == "" {
		userAgent = cfg.Instagram.UserAgent
	}
	client.SetSession(account.SessionID, account.CSRFToken, userAgent)
	log.WithField("account", account.Username).Info("Using stored Instagram credentials")
	return nil
}
