package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pysugar/outreach-nexus/internal/api"
	"github.com/pysugar/outreach-nexus/internal/auth/connect"
	"github.com/pysugar/outreach-nexus/internal/auth/google"
	"github.com/pysugar/outreach-nexus/internal/auth/microsoft"
	"github.com/pysugar/outreach-nexus/internal/auth/token"
	"github.com/pysugar/outreach-nexus/internal/config"
	"github.com/pysugar/outreach-nexus/internal/db"
	"github.com/pysugar/outreach-nexus/internal/db/models"
	"github.com/pysugar/outreach-nexus/internal/dispatch"
	"github.com/pysugar/outreach-nexus/internal/logging"
	"github.com/pysugar/outreach-nexus/internal/mailer"
	"github.com/pysugar/outreach-nexus/internal/notify"
	"github.com/pysugar/outreach-nexus/internal/quota"
	"github.com/pysugar/outreach-nexus/internal/stats"
	"github.com/pysugar/outreach-nexus/internal/version"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"
)

func main() {
	configPath := pflag.StringP("config", "c", "", "path to the YAML config file")
	addr := pflag.String("addr", "", "HTTP listen address, overrides http.addr")
	showVersion := pflag.BoolP("version", "v", false, "print the version and exit")
	pflag.Parse()

	if *showVersion {
		fmt.Println("outreachd", version.String())
		return
	}

	if err := run(*configPath, *addr); err != nil {
		logging.Logger.Fatal().Err(err).Msg("outreachd stopped with error")
	}
}

func run(configPath, addr string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if addr != "" {
		cfg.HTTP.Addr = addr
	}
	if err := logging.Setup(cfg.Log.Level, cfg.Log.Format); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	logging.Info(ctx).Str("version", version.String()).Msg("outreachd starting")

	// Initialize database
	database, err := db.InitDB(cfg.Database.Path, cfg.Database.SlowThreshold)
	if err != nil {
		return err
	}
	sqlDB, err := database.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()
	repo := db.NewRepository(database)

	// Notices go to the log, the in-memory feed and optionally Telegram.
	recorder := notify.NewRecorder(0)
	notifier := notify.Multi{notify.Log{}, recorder}
	if cfg.Telegram.Enabled() {
		tg, err := notify.NewTelegram(cfg.Telegram.Token, cfg.Telegram.ChatID)
		if err != nil {
			return err
		}
		notifier = append(notifier, tg)
	}

	// OAuth providers
	tokenProviders := map[string]token.Provider{}
	var connectProviders []connect.Provider
	if cfg.OAuth.Google.Configured() {
		p := google.NewProvider(cfg.OAuth.Google)
		tokenProviders[p.Name()] = p
		connectProviders = append(connectProviders, p)
	}
	if cfg.OAuth.Microsoft.Configured() {
		p := microsoft.NewProvider(cfg.OAuth.Microsoft)
		tokenProviders[p.Name()] = p
		connectProviders = append(connectProviders, p)
	}
	if len(tokenProviders) == 0 {
		logging.Warn(ctx).Msg("no OAuth client configured, mailbox tokens cannot be refreshed")
	}

	tokens := token.NewStore(repo, tokenProviders, token.Options{
		RefreshMargin: cfg.Credentials.RefreshMargin,
		OnReauthRequired: func(ctx context.Context, account *models.MailboxAccount, reason string) {
			notifier.Notify(ctx, notify.Notice{
				Kind:      notify.KindReauthRequired,
				UserID:    account.UserID,
				AccountID: account.ID,
				Message:   fmt.Sprintf("mailbox %s must be reconnected: %s", account.Email, reason),
			})
		},
	})

	httpClient := &http.Client{Timeout: 2 * cfg.Dispatch.SendTimeout}
	senders := mailer.Router{
		models.ProviderGmail:   mailer.NewGmail(httpClient),
		models.ProviderOutlook: mailer.NewGraph(httpClient),
	}

	coordinator := dispatch.New(repo, quota.NewTracker(repo, cfg.QuotaLocation()), tokens, senders, notifier, cfg.Dispatch)

	deps := api.Deps{
		APIKey:           cfg.HTTP.APIKey,
		RefreshLookahead: cfg.Credentials.RefreshLookahead,
		Campaigns:        coordinator,
		Stats:            stats.NewReporter(sqlDB, "sqlite"),
		Leads:            coordinator.Machine(),
		Tokens:           tokens,
		Store:            repo,
		Notices:          recorder,
	}
	if len(connectProviders) > 0 {
		h := connect.NewHandler(repo, connect.NewStateStore(0), cfg.HTTP.ConnectSuccessURL, cfg.Quota.DefaultDailyLimit, connectProviders...)
		h.OnConnected = func(ctx context.Context, account *models.MailboxAccount) {
			tokens.Invalidate(account.ID)
			if err := coordinator.WakeAccount(ctx, account.ID); err != nil {
				logging.Error(ctx).Err(err).Msg("failed to wake campaigns after connect")
			}
		}
		deps.Connect = h
	}
	if cfg.HTTP.APIKey == "" {
		logging.Warn(ctx).Msg("http.api_key is empty, the ops API is unauthenticated")
	}

	server := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           api.NewRouter(deps),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	tokens.StartRefreshLoop(gctx, cfg.Credentials.RefreshInterval, cfg.Credentials.RefreshLookahead)
	g.Go(func() error {
		return coordinator.Run(gctx)
	})
	g.Go(func() error {
		logging.Info(gctx).Str("addr", cfg.HTTP.Addr).Msg("ops API listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	logging.Info(ctx).Msg("outreachd stopped")
	return err
}
