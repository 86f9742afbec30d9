package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/aiox-platform/llmgate/internal/admin"
	"github.com/aiox-platform/llmgate/internal/api"
	"github.com/aiox-platform/llmgate/internal/auth"
	"github.com/aiox-platform/llmgate/internal/config"
	"github.com/aiox-platform/llmgate/internal/dedupe"
	"github.com/aiox-platform/llmgate/internal/gateway"
	"github.com/aiox-platform/llmgate/internal/history"
	"github.com/aiox-platform/llmgate/internal/kvstore"
	mw "github.com/aiox-platform/llmgate/internal/middleware"
	inats "github.com/aiox-platform/llmgate/internal/nats"
	"github.com/aiox-platform/llmgate/internal/orchestrator"
	"github.com/aiox-platform/llmgate/internal/preference"
	"github.com/aiox-platform/llmgate/internal/provider"
	"github.com/aiox-platform/llmgate/internal/quota"
	iredis "github.com/aiox-platform/llmgate/internal/redis"
	"github.com/aiox-platform/llmgate/internal/server"
	"github.com/aiox-platform/llmgate/internal/telegram"
	"github.com/aiox-platform/llmgate/internal/throttle"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("loading config", "error", err)
		os.Exit(1)
	}

	setupLogger(cfg.Log)

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()

	// Redis
	redisClient, err := iredis.NewClient(ctx, cfg.Redis)
	if err != nil {
		slog.Error("connecting to redis", "error", err)
		os.Exit(1)
	}
	defer redisClient.Close()
	kv := kvstore.NewRedisStore(redisClient)

	// NATS (optional). The interfaces stay untyped nil when disabled.
	var (
		broker      api.HealthChecker
		convEvents  orchestrator.EventPublisher
		quotaEvents gateway.QuotaEvents
	)
	if cfg.NATS.Enabled() {
		natsClient, err := inats.NewClient(ctx, cfg.NATS)
		if err != nil {
			slog.Error("connecting to NATS", "error", err)
			os.Exit(1)
		}
		defer natsClient.Close()
		pub := inats.NewPublisher(natsClient.JetStream())
		broker, convEvents, quotaEvents = natsClient, pub, pub
	}

	// Quota, history, preferences
	loc, err := cfg.Quota.Location()
	if err != nil {
		slog.Error("loading quota time zone", "error", err)
		os.Exit(1)
	}
	admins := quota.NewAdminSet(kv, cfg.Quota.Admins)
	ledger := quota.NewLedger(kv, admins, quota.Limits{
		RequestsPerUser:   cfg.Quota.RequestsPerUser,
		RequestsPerMinute: cfg.Quota.RequestsPerMinute,
		TotalDailyLimit:   cfg.Quota.TotalDailyLimit,
	}, loc)
	hist := history.NewStore(kv, cfg.History.MaxRounds, cfg.History.TTL)
	prefs := preference.NewStore(kv, cfg.LLM.DefaultProvider)

	// Providers
	registry := provider.NewRegistry(providerConfigs(cfg.LLM.Providers))
	dispatcher := provider.NewDispatcher(registry, &http.Client{}, cfg.LLM.Timeout)

	// Telegram
	tg := telegram.NewClient(cfg.Telegram.APIURL, cfg.Telegram.BotToken, cfg.Telegram.RatePerSecond,
		&http.Client{Timeout: 15 * time.Second})
	checkBotIdentity(ctx, tg, cfg.Telegram.BotUsername)

	conversations := orchestrator.New(tg, hist, prefs, dispatcher, convEvents, orchestrator.Config{
		SystemPrompt: cfg.LLM.SystemPrompt,
		Throttle: throttle.Config{
			MinChars:  cfg.Throttle.MinChars,
			BaseDelay: cfg.Throttle.BaseDelay,
			MaxDelay:  cfg.Throttle.MaxDelay,
			Growth:    cfg.Throttle.Growth,
		},
	})

	webhook := gateway.NewHandler(gateway.Config{
		BotUsername:   cfg.Telegram.BotUsername,
		WebhookSecret: cfg.Telegram.WebhookSecret,
	}, gateway.Deps{
		Messenger:     tg,
		Ledger:        ledger,
		Admins:        admins,
		History:       hist,
		Prefs:         prefs,
		Registry:      registry,
		Conversations: conversations,
		Dedupe:        dedupe.NewGuard(kv, dedupe.DefaultSize, dedupe.DefaultTTL),
		Events:        quotaEvents,
	})

	handlers := api.HandlerSet{Webhook: webhook}
	routerCfg := api.RouterConfig{CORSAllowedOrigins: cfg.CORS.AllowedOrigins}

	// Admin API
	if cfg.Admin.Enabled() {
		if err := auth.CheckHash(cfg.Admin.PasswordHash); err != nil {
			slog.Error("invalid admin credentials", "error", err)
			os.Exit(1)
		}
		jwtManager := auth.NewJWTManager(cfg.Admin.JWTSecret, cfg.Admin.JWTExpiry)
		authSvc := auth.NewService(jwtManager, cfg.Admin.Username, cfg.Admin.PasswordHash)
		adminHandler := admin.NewHandler(ledger, admins, hist)

		handlers.Token = auth.NewHandler(authSvc).Token
		handlers.AuthMiddleware = auth.Middleware(jwtManager)
		handlers.AdminRoutes = adminHandler.Routes
		routerCfg.TokenRateLimiter = mw.NewRateLimiter(redisClient, "admin-token", 5, time.Minute).Middleware
		slog.Info("admin API enabled", "operator", authSvc.Username())
	}

	router := api.NewRouter(kv, broker, routerCfg, handlers)

	// Start server
	srv := server.New(cfg.Server, router)
	if err := srv.Start(); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
}

func providerConfigs(in []config.ProviderConfig) []provider.Config {
	out := make([]provider.Config, 0, len(in))
	for _, p := range in {
		out = append(out, provider.Config{
			ID:          provider.ProviderID(p.ID),
			Shape:       provider.Shape(p.Shape),
			Model:       p.Model,
			Temperature: p.Temperature,
			MaxTokens:   p.MaxTokens,
			Endpoint:    p.Endpoint,
			Stream:      p.Stream,
			APIKey:      p.APIKey,
		})
	}
	return out
}

// checkBotIdentity warns when the token belongs to a different bot than the
// one group mentions are matched against.
func checkBotIdentity(ctx context.Context, tg *telegram.Client, configured string) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	actual, err := tg.GetMe(ctx)
	if err != nil {
		slog.Warn("telegram getMe failed", "error", err)
		return
	}
	if !strings.EqualFold(actual, configured) {
		slog.Warn("TELEGRAM_BOT_USERNAME does not match the bot token", "configured", configured, "actual", actual)
	}
}

func setupLogger(cfg config.LogConfig) {
	var handler slog.Handler

	opts := &slog.HandlerOptions{}
	switch strings.ToLower(cfg.Level) {
	case "debug":
		opts.Level = slog.LevelDebug
	case "info":
		opts.Level = slog.LevelInfo
	case "warn":
		opts.Level = slog.LevelWarn
	case "error":
		opts.Level = slog.LevelError
	default:
		opts.Level = slog.LevelInfo
	}

	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	slog.SetDefault(slog.New(handler))
}
