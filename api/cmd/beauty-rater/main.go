package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"beauty-rater/api/internal/capture"
	"beauty-rater/api/internal/config"
	"beauty-rater/api/internal/flow"
	"beauty-rater/api/internal/httpserver"
	"beauty-rater/api/internal/logging"
	"beauty-rater/api/internal/rating"
	"beauty-rater/api/internal/store"
	"beauty-rater/api/internal/telegram"
	"beauty-rater/api/internal/web"
)

const (
	sweepEvery = time.Minute
	purgeEvery = 24 * time.Hour
)

func main() {
	if err := run(); err != nil {
		bootLog, _ := zap.NewProduction()
		bootLog.Fatal("beauty-rater stopped", zap.Error(err))
	}
}

// run returns instead of exiting so every deferred cleanup runs.
func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("configuration: %w", err)
	}

	log, err := logging.NewLogger(cfg.Env)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer func() { _ = log.Sync() }()
	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	analyzer, err := rating.NewGemini(rating.Options{
		APIKey:      cfg.GeminiAPIKey,
		Model:       cfg.GeminiModel,
		Language:    cfg.RatingLanguage,
		Temperature: &cfg.RatingTemperature,
	})
	if err != nil {
		return fmt.Errorf("analyzer: %w", err)
	}

	var (
		recorder flow.Recorder
		history  web.History
	)
	if cfg.DatabaseURL != "" {
		db, repo, err := openHistory(ctx, cfg, analyzer.GetModel(), log)
		if err != nil {
			return err
		}
		defer db.Close()
		recorder, history = repo, repo
		if cfg.HistoryRetention > 0 {
			go purgeLoop(ctx, repo, cfg.HistoryRetention, log)
		}
	}

	sessions := web.NewSessions(cfg.SessionTTL, func(id string, dev capture.Device) *flow.Controller {
		return flow.NewController(flow.Options{
			SessionID: id,
			Channel:   "web",
			Device:    dev,
			Analyzer:  analyzer,
			Recorder:  recorder,
			Logger:    log,
		})
	}, log)
	go sessions.Run(ctx, sweepEvery)

	mux := http.NewServeMux()
	mux.Handle("/", web.NewServer(log, sessions, history).Router())

	if cfg.TelegramBotToken != "" {
		tg, err := startTelegram(ctx, cfg, analyzer, recorder, log)
		if err != nil {
			return err
		}
		defer tg.Close()
		if cfg.WebhookURL != "" {
			mux.HandleFunc(telegram.WebhookPath(cfg.TelegramBotToken), tg.ServeWebhook)
		}
	}

	srv := httpserver.New("0.0.0.0:"+cfg.Port, mux)
	if err := httpserver.Serve(ctx, srv, nil, httpserver.ShutdownTimeout, log); err != nil {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

func openHistory(ctx context.Context, cfg *config.Config, model string, log *zap.Logger) (*sql.DB, *store.RatingRepo, error) {
	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("database: %w", err)
	}
	repo := store.NewRatingRepo(db, model)
	if err := repo.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("schema: %w", err)
	}
	log.Info("db connected", zap.String("dsn", config.SafeDSNSummary(cfg.DatabaseURL)))
	return db, repo, nil
}

func purgeLoop(ctx context.Context, repo *store.RatingRepo, keep time.Duration, log *zap.Logger) {
	t := time.NewTicker(purgeEvery)
	defer t.Stop()
	for {
		n, err := repo.PurgeOlderThan(ctx, keep)
		if err != nil {
			log.Warn("history purge failed", zap.Error(err))
		} else if n > 0 {
			log.Info("history purged", zap.Int64("rows", n))
		}
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}

// startTelegram registers the webhook when WEBHOOK_URL is set, otherwise starts long polling.
func startTelegram(ctx context.Context, cfg *config.Config, analyzer rating.Analyzer, recorder flow.Recorder, log *zap.Logger) (*telegram.Router, error) {
	bot, err := tgbotapi.NewBotAPI(cfg.TelegramBotToken)
	if err != nil {
		return nil, fmt.Errorf("telegram: %w", err)
	}
	r := &telegram.Router{
		Bot:      bot,
		Analyzer: analyzer,
		Recorder: recorder,
		Log:      log.With(zap.String("component", "telegram")),
	}

	if base := strings.TrimSpace(cfg.WebhookURL); base != "" {
		if err := r.SetWebhook(base, cfg.TelegramBotToken); err != nil {
			return nil, fmt.Errorf("telegram webhook: %w", err)
		}
		log.Info("telegram webhook mode")
		return r, nil
	}

	if _, err := bot.Request(tgbotapi.DeleteWebhookConfig{}); err != nil {
		log.Warn("telegram webhook removal failed", zap.Error(err))
	}
	log.Info("telegram polling mode")
	go r.RunPolling(ctx)
	return r, nil
}
