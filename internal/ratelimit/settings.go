package ratelimit

import (
	"strings"

	"github.com/mailcoach-ai/mailcoach/internal/config"
	internalsettings "github.com/mailcoach-ai/mailcoach/internal/settings"
)

// SettingsConfig captures the effective rate limit settings.
type SettingsConfig struct {
	Limit         int
	RedisEnabled  bool
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisPrefix   string
}

// SettingsFromConfig normalizes the loaded rate limit config.
func SettingsFromConfig(cfg config.RateLimitConfig) SettingsConfig {
	out := SettingsConfig{
		Limit:         cfg.Limit,
		RedisEnabled:  cfg.Redis.Enabled,
		RedisAddr:     strings.TrimSpace(cfg.Redis.Addr),
		RedisPassword: strings.TrimSpace(cfg.Redis.Password),
		RedisDB:       cfg.Redis.DB,
		RedisPrefix:   strings.TrimSpace(cfg.Redis.Prefix),
	}
	if out.RedisPrefix == "" {
		out.RedisPrefix = internalsettings.DefaultRateLimitRedisPrefix
	}
	if out.RedisDB < 0 {
		out.RedisDB = 0
	}
	if out.Limit < 0 {
		out.Limit = internalsettings.DefaultRateLimit
	}
	return out
}

// StaticSettings returns a SettingsProvider that always yields cfg.
func StaticSettings(cfg SettingsConfig) SettingsProvider {
	return func() SettingsConfig { return cfg }
}

func disabledSettings() SettingsConfig {
	return SettingsConfig{
		Limit:       internalsettings.DefaultRateLimit,
		RedisPrefix: internalsettings.DefaultRateLimitRedisPrefix,
	}
}
