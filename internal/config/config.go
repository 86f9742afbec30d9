package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/dotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const defaultSystemPrompt = "You are a helpful assistant. Answer clearly and concisely. " +
	"If a question concerns medication or health, remind the user to consult a professional."

type Config struct {
	Server   ServerConfig
	Redis    RedisConfig
	NATS     NATSConfig
	Log      LogConfig
	Telegram TelegramConfig
	Quota    QuotaConfig
	History  HistoryConfig
	LLM      LLMConfig
	Throttle ThrottleConfig
	Admin    AdminConfig
	CORS     CORSConfig
}

type ServerConfig struct {
	Host         string
	Port         int
	WriteTimeout time.Duration
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// NATSConfig is optional; an empty URL disables event publishing.
type NATSConfig struct {
	URL string
}

func (c NATSConfig) Enabled() bool { return c.URL != "" }

type LogConfig struct {
	Level  string
	Format string
}

type TelegramConfig struct {
	BotToken      string
	BotUsername   string
	APIURL        string
	WebhookSecret string
	RatePerSecond float64
}

type QuotaConfig struct {
	RequestsPerUser   int
	RequestsPerMinute int
	TotalDailyLimit   int
	Admins            []string
	Timezone          string
}

// Location returns the time zone used for the daily reset.
func (c QuotaConfig) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(c.Timezone)
}

type HistoryConfig struct {
	MaxRounds int
	TTL       time.Duration
}

type LLMConfig struct {
	DefaultProvider string
	Timeout         time.Duration
	SystemPrompt    string
	ProvidersFile   string
	Providers       []ProviderConfig
}

type ThrottleConfig struct {
	MinChars  int
	BaseDelay time.Duration
	MaxDelay  time.Duration
	Growth    float64
}

// AdminConfig controls the admin HTTP API. An empty JWTSecret disables it.
type AdminConfig struct {
	Username     string
	PasswordHash string
	JWTSecret    string
	JWTExpiry    time.Duration
}

func (c AdminConfig) Enabled() bool { return c.JWTSecret != "" }

type CORSConfig struct {
	AllowedOrigins []string
}

func Load() (*Config, error) {
	k := koanf.New(".")

	// Load .env file if it exists (ignore error if missing)
	_ = k.Load(file.Provider(".env"), dotenv.Parser())

	// Load environment variables (override .env)
	err := k.Load(env.Provider("", ".", func(s string) string {
		return strings.ToLower(strings.ReplaceAll(s, "_", "."))
	}), nil)
	if err != nil {
		return nil, fmt.Errorf("loading env vars: %w", err)
	}

	return fromKoanf(k)
}

func fromKoanf(k *koanf.Koanf) (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Host: k.String("server.host"),
			Port: k.Int("server.port"),
		},
		Redis: RedisConfig{
			Host:     k.String("redis.host"),
			Port:     k.Int("redis.port"),
			Password: k.String("redis.password"),
			DB:       k.Int("redis.db"),
		},
		NATS: NATSConfig{
			URL: k.String("nats.url"),
		},
		Log: LogConfig{
			Level:  k.String("log.level"),
			Format: k.String("log.format"),
		},
		Telegram: TelegramConfig{
			BotToken:      k.String("telegram.bot.token"),
			BotUsername:   strings.TrimPrefix(k.String("telegram.bot.username"), "@"),
			APIURL:        k.String("telegram.api.url"),
			WebhookSecret: k.String("telegram.webhook.secret"),
			RatePerSecond: k.Float64("telegram.rate.per.second"),
		},
		Quota: QuotaConfig{
			RequestsPerUser:   k.Int("quota.requests.per.user"),
			RequestsPerMinute: k.Int("quota.requests.per.minute"),
			TotalDailyLimit:   k.Int("quota.total.daily.limit"),
			Admins:            splitList(k.String("quota.admins")),
			Timezone:          k.String("quota.timezone"),
		},
		History: HistoryConfig{
			MaxRounds: k.Int("history.max.rounds"),
		},
		LLM: LLMConfig{
			DefaultProvider: k.String("llm.default.provider"),
			SystemPrompt:    k.String("llm.system.prompt"),
			ProvidersFile:   k.String("llm.providers.file"),
		},
		Throttle: ThrottleConfig{
			MinChars: k.Int("throttle.min.chars"),
			Growth:   k.Float64("throttle.growth"),
		},
		Admin: AdminConfig{
			Username:     k.String("admin.username"),
			PasswordHash: k.String("admin.password.hash"),
			JWTSecret:    k.String("jwt.secret"),
		},
		CORS: CORSConfig{
			AllowedOrigins: splitList(k.String("cors.allowed.origins")),
		},
	}

	// Apply defaults
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Redis.Host == "" {
		cfg.Redis.Host = "localhost"
	}
	if cfg.Redis.Port == 0 {
		cfg.Redis.Port = 6379
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
	if cfg.Telegram.APIURL == "" {
		cfg.Telegram.APIURL = "https://api.telegram.org"
	}
	if cfg.Telegram.RatePerSecond == 0 {
		cfg.Telegram.RatePerSecond = 25
	}
	if cfg.Quota.RequestsPerUser == 0 {
		cfg.Quota.RequestsPerUser = 50
	}
	if cfg.Quota.RequestsPerMinute == 0 {
		cfg.Quota.RequestsPerMinute = 5
	}
	if cfg.Quota.TotalDailyLimit == 0 {
		cfg.Quota.TotalDailyLimit = 1000
	}
	if cfg.Quota.Timezone == "" {
		cfg.Quota.Timezone = "UTC"
	}
	if cfg.History.MaxRounds == 0 {
		cfg.History.MaxRounds = 10
	}
	if cfg.LLM.DefaultProvider == "" {
		cfg.LLM.DefaultProvider = "deepseek"
	}
	if cfg.LLM.SystemPrompt == "" {
		cfg.LLM.SystemPrompt = defaultSystemPrompt
	}
	if cfg.Throttle.MinChars == 0 {
		cfg.Throttle.MinChars = 40
	}
	if cfg.Throttle.Growth == 0 {
		cfg.Throttle.Growth = 1.2
	}
	if len(cfg.CORS.AllowedOrigins) == 0 {
		cfg.CORS.AllowedOrigins = []string{"http://localhost:3000"}
	}

	// Parse durations
	durations := []struct {
		key string
		def string
		dst *time.Duration
	}{
		{"server.write.timeout", "90s", &cfg.Server.WriteTimeout},
		{"history.ttl", "24h", &cfg.History.TTL},
		{"llm.timeout", "30s", &cfg.LLM.Timeout},
		{"throttle.base.delay", "800ms", &cfg.Throttle.BaseDelay},
		{"throttle.max.delay", "1500ms", &cfg.Throttle.MaxDelay},
		{"jwt.expiry", "1h", &cfg.Admin.JWTExpiry},
	}
	for _, d := range durations {
		raw := k.String(d.key)
		if raw == "" {
			raw = d.def
		}
		v, err := time.ParseDuration(raw)
		if err != nil {
			return nil, fmt.Errorf("parsing %s: %w", envName(d.key), err)
		}
		*d.dst = v
	}

	providers := DefaultProviders()
	if cfg.LLM.ProvidersFile != "" {
		var err error
		providers, err = LoadProviderCatalogue(cfg.LLM.ProvidersFile, providers)
		if err != nil {
			return nil, err
		}
	}
	for i := range providers {
		providers[i].APIKey = k.String(envKey(providers[i].CredentialEnv))
	}
	cfg.LLM.Providers = providers

	return cfg, nil
}

// Provider returns the catalogue entry for id.
func (c LLMConfig) Provider(id string) (ProviderConfig, bool) {
	for _, p := range c.Providers {
		if p.ID == id {
			return p, true
		}
	}
	return ProviderConfig{}, false
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

// envKey maps an environment variable name to its koanf key.
func envKey(name string) string {
	return strings.ToLower(strings.ReplaceAll(name, "_", "."))
}

// envName maps a koanf key back to the environment variable name.
func envName(key string) string {
	return strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}
