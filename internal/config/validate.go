package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

var validShapes = map[string]bool{"openai": true, "anthropic": true}

// Validate checks Config for production-critical problems.
// It collects all errors into a single joined error.
func (c *Config) Validate() error {
	var errs []string

	// Telegram
	if c.Telegram.BotToken == "" {
		errs = append(errs, "TELEGRAM_BOT_TOKEN is required")
	}
	if c.Telegram.BotUsername == "" {
		errs = append(errs, "TELEGRAM_BOT_USERNAME is required")
	}
	if c.Telegram.RatePerSecond <= 0 {
		errs = append(errs, "TELEGRAM_RATE_PER_SECOND must be > 0")
	}

	// Port ranges
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("SERVER_PORT must be 1–65535, got %d", c.Server.Port))
	}
	if c.Redis.Port < 1 || c.Redis.Port > 65535 {
		errs = append(errs, fmt.Sprintf("REDIS_PORT must be 1–65535, got %d", c.Redis.Port))
	}

	// Quota thresholds
	if c.Quota.RequestsPerUser <= 0 {
		errs = append(errs, "QUOTA_REQUESTS_PER_USER must be > 0")
	}
	if c.Quota.RequestsPerMinute <= 0 {
		errs = append(errs, "QUOTA_REQUESTS_PER_MINUTE must be > 0")
	}
	if c.Quota.TotalDailyLimit <= 0 {
		errs = append(errs, "QUOTA_TOTAL_DAILY_LIMIT must be > 0")
	}
	if _, err := c.Quota.Location(); err != nil {
		errs = append(errs, fmt.Sprintf("QUOTA_TIMEZONE %q is not a known time zone", c.Quota.Timezone))
	}

	// History
	if c.History.MaxRounds <= 0 {
		errs = append(errs, "HISTORY_MAX_ROUNDS must be > 0")
	}
	if c.History.TTL <= 0 {
		errs = append(errs, "HISTORY_TTL must be > 0")
	}

	// LLM
	if c.LLM.Timeout <= 0 {
		errs = append(errs, "LLM_TIMEOUT must be > 0")
	}
	if c.Server.WriteTimeout <= c.LLM.Timeout {
		errs = append(errs, fmt.Sprintf("SERVER_WRITE_TIMEOUT (%s) must exceed LLM_TIMEOUT (%s)", c.Server.WriteTimeout, c.LLM.Timeout))
	}
	if _, ok := c.LLM.Provider(c.LLM.DefaultProvider); !ok {
		errs = append(errs, fmt.Sprintf("LLM_DEFAULT_PROVIDER %q is not in the provider catalogue", c.LLM.DefaultProvider))
	}
	for _, p := range c.LLM.Providers {
		if !validShapes[p.Shape] {
			errs = append(errs, fmt.Sprintf("provider %s has unknown shape %q", p.ID, p.Shape))
		}
		if p.Endpoint == "" {
			errs = append(errs, fmt.Sprintf("provider %s has no endpoint", p.ID))
		}
		// Missing credentials: warn only, dispatch reports them per request
		if p.APIKey == "" {
			slog.Warn("provider credential not set", "provider", p.ID, "env", p.CredentialEnv)
		}
	}

	// Throttle
	if c.Throttle.MinChars <= 0 {
		errs = append(errs, "THROTTLE_MIN_CHARS must be > 0")
	}
	if c.Throttle.BaseDelay <= 0 {
		errs = append(errs, "THROTTLE_BASE_DELAY must be > 0")
	}
	if c.Throttle.MaxDelay < c.Throttle.BaseDelay {
		errs = append(errs, "THROTTLE_MAX_DELAY must be >= THROTTLE_BASE_DELAY")
	}
	if c.Throttle.Growth < 1 {
		errs = append(errs, "THROTTLE_GROWTH must be >= 1")
	}

	// Admin API
	if c.Admin.Enabled() {
		if len(c.Admin.JWTSecret) < 32 {
			errs = append(errs, "JWT_SECRET must be at least 32 characters")
		}
		if c.Admin.PasswordHash == "" {
			errs = append(errs, "ADMIN_PASSWORD_HASH is required when JWT_SECRET is set")
		}
		if c.Admin.Username == "" {
			errs = append(errs, "ADMIN_USERNAME is required when JWT_SECRET is set")
		}
		if c.Admin.JWTExpiry <= 0 {
			errs = append(errs, "JWT_EXPIRY must be > 0")
		}
	}

	// Log
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Sprintf("LOG_LEVEL must be debug|info|warn|error, got %q", c.Log.Level))
	}

	if len(errs) > 0 {
		return errors.New("config validation failed:\n  " + strings.Join(errs, "\n  "))
	}
	return nil
}
