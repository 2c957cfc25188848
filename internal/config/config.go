package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/mailcoach-ai/mailcoach/internal/settings"
	"gopkg.in/yaml.v3"
)

const (
	EnvConfigPath   = "CONFIG_PATH"
	EnvDBConnection = "DB_CONNECTION"
	EnvJWTSecret    = "JWT_SECRET"
	EnvJWTExpiry    = "JWT_EXPIRY"

	EnvAppURL     = "APP_URL"
	EnvAdminToken = "ADMIN_TOKEN"
	EnvPort       = "PORT"

	EnvStripeSecretKey     = "STRIPE_SECRET_KEY"
	EnvStripeWebhookSecret = "STRIPE_WEBHOOK_SECRET"
	EnvStripePriceID       = "STRIPE_PRICE_ID"
	EnvStripeTimeout       = "STRIPE_TIMEOUT"

	EnvOpenAIAPIKey  = "OPENAI_API_KEY"
	EnvOpenAIModel   = "OPENAI_MODEL"
	EnvOpenAIBaseURL = "OPENAI_BASE_URL"
	EnvLLMTimeout    = "LLM_TIMEOUT"

	EnvFreeCreditsPerMonth = "FREE_CREDITS_PER_MONTH"

	EnvRateLimit              = "RATE_LIMIT"
	EnvRateLimitRedisEnabled  = "RATE_LIMIT_REDIS_ENABLED"
	EnvRateLimitRedisAddr     = "RATE_LIMIT_REDIS_ADDR"
	EnvRateLimitRedisPassword = "RATE_LIMIT_REDIS_PASSWORD"
	EnvRateLimitRedisDB       = "RATE_LIMIT_REDIS_DB"
	EnvRateLimitRedisPrefix   = "RATE_LIMIT_REDIS_PREFIX"
)

// AppConfig holds resolved application configuration values.
type AppConfig struct {
	ConfigPath string
}

// LoadFromEnv loads app config from environment variables.
// A .env file in the working directory is applied first when present.
func LoadFromEnv() (AppConfig, error) {
	_ = godotenv.Load()
	return AppConfig{ConfigPath: ResolveConfigPath(os.Getenv(EnvConfigPath))}, nil
}

// ResolveConfigPath normalizes the config path and applies defaults.
func ResolveConfigPath(p string) string {
	trimmed := strings.TrimSpace(p)
	if trimmed == "" {
		trimmed = "./config.yaml"
	}
	if abs, err := filepath.Abs(trimmed); err == nil {
		return abs
	}
	return trimmed
}

// ErrMissingDatabaseDSN indicates no database DSN is present in the config file.
var ErrMissingDatabaseDSN = errors.New("missing database dsn (set `database-dsn` or `database.dsn` in config file)")

// readFileConfig decodes the YAML config into out. A missing or invalid file leaves out untouched.
func readFileConfig(configPath string, out any) bool {
	data, errRead := os.ReadFile(configPath)
	if errRead != nil {
		return false
	}
	return yaml.Unmarshal(data, out) == nil
}

// LoadDatabaseDSN reads the database DSN from the YAML config file.
func LoadDatabaseDSN(configPath string) (string, error) {
	if dsn := strings.TrimSpace(os.Getenv(EnvDBConnection)); dsn != "" {
		return dsn, nil
	}

	// fileConfig maps the YAML fields needed for DSN resolution.
	type fileConfig struct {
		DatabaseDSN string `yaml:"database-dsn"`
		Database    struct {
			DSN string `yaml:"dsn"`
		} `yaml:"database"`
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return "", fmt.Errorf("read config file: %w", err)
	}

	var cfg fileConfig
	if errUnmarshal := yaml.Unmarshal(data, &cfg); errUnmarshal != nil {
		return "", fmt.Errorf("parse config file: %w", errUnmarshal)
	}

	if dsn := strings.TrimSpace(cfg.DatabaseDSN); dsn != "" {
		return dsn, nil
	}
	if dsn := strings.TrimSpace(cfg.Database.DSN); dsn != "" {
		return dsn, nil
	}
	return "", ErrMissingDatabaseDSN
}

// JWTConfig holds session token secret and expiry settings.
type JWTConfig struct {
	Secret string        `yaml:"secret"`
	Expiry time.Duration `yaml:"expiry"`
}

// defaultJWTExpiry is used when the config omits or invalidates JWT expiry.
const defaultJWTExpiry = 30 * 24 * time.Hour

// LoadJWTConfig loads JWT settings from the YAML config file.
func LoadJWTConfig(configPath string) (JWTConfig, error) {
	// fileConfig maps the YAML fields needed for JWT settings.
	type fileConfig struct {
		JWT JWTConfig `yaml:"jwt"`
	}

	result := JWTConfig{Expiry: defaultJWTExpiry}

	var cfg fileConfig
	if readFileConfig(configPath, &cfg) {
		result = cfg.JWT
	}

	if secret := strings.TrimSpace(os.Getenv(EnvJWTSecret)); secret != "" {
		result.Secret = secret
	}
	if expiry, ok := envDuration(EnvJWTExpiry); ok {
		result.Expiry = expiry
	}

	if result.Expiry <= 0 {
		result.Expiry = defaultJWTExpiry
	}
	return result, nil
}

// ServerConfig holds listener and public URL settings.
type ServerConfig struct {
	Port       int    `yaml:"port"`
	AppURL     string `yaml:"app-url"`
	AdminToken string `yaml:"admin-token"`
}

// LoadServerConfig loads server settings; defaultPort applies when nothing else sets a port.
func LoadServerConfig(configPath string, defaultPort int) (ServerConfig, error) {
	var result ServerConfig
	readFileConfig(configPath, &result)

	if raw := strings.TrimSpace(os.Getenv(EnvPort)); raw != "" {
		port, errParse := strconv.Atoi(raw)
		if errParse != nil {
			return ServerConfig{}, fmt.Errorf("parse %s: %w", EnvPort, errParse)
		}
		result.Port = port
	}
	if appURL := strings.TrimSpace(os.Getenv(EnvAppURL)); appURL != "" {
		result.AppURL = appURL
	}
	if token := strings.TrimSpace(os.Getenv(EnvAdminToken)); token != "" {
		result.AdminToken = token
	}

	result.AppURL = strings.TrimRight(strings.TrimSpace(result.AppURL), "/")
	result.AdminToken = strings.TrimSpace(result.AdminToken)
	if result.Port <= 0 {
		result.Port = defaultPort
	}
	if result.Port <= 0 {
		result.Port = settings.DefaultPort
	}
	return result, nil
}

// StripeConfig holds billing provider credentials and limits.
type StripeConfig struct {
	SecretKey     string        `yaml:"secret-key"`
	WebhookSecret string        `yaml:"webhook-secret"`
	PriceID       string        `yaml:"price-id"`
	Timeout       time.Duration `yaml:"timeout"`
}

// Enabled reports whether API calls can be made.
func (c StripeConfig) Enabled() bool {
	return strings.TrimSpace(c.SecretKey) != ""
}

// LoadStripeConfig loads Stripe settings from the YAML config file.
func LoadStripeConfig(configPath string) (StripeConfig, error) {
	// fileConfig maps the YAML fields needed for Stripe settings.
	type fileConfig struct {
		Stripe StripeConfig `yaml:"stripe"`
	}

	var cfg fileConfig
	readFileConfig(configPath, &cfg)
	result := cfg.Stripe

	if key := strings.TrimSpace(os.Getenv(EnvStripeSecretKey)); key != "" {
		result.SecretKey = key
	}
	if secret := strings.TrimSpace(os.Getenv(EnvStripeWebhookSecret)); secret != "" {
		result.WebhookSecret = secret
	}
	if priceID := strings.TrimSpace(os.Getenv(EnvStripePriceID)); priceID != "" {
		result.PriceID = priceID
	}
	if timeout, ok := envDuration(EnvStripeTimeout); ok {
		result.Timeout = timeout
	}

	result.SecretKey = strings.TrimSpace(result.SecretKey)
	result.WebhookSecret = strings.TrimSpace(result.WebhookSecret)
	result.PriceID = strings.TrimSpace(result.PriceID)
	if result.Timeout <= 0 {
		result.Timeout = settings.DefaultStripeTimeoutSeconds * time.Second
	}
	return result, nil
}

// LLMConfig holds chat completion provider settings.
type LLMConfig struct {
	APIKey      string        `yaml:"api-key"`
	Model       string        `yaml:"model"`
	BaseURL     string        `yaml:"base-url"`
	Temperature float32       `yaml:"temperature"`
	Timeout     time.Duration `yaml:"timeout"`
}

// LoadLLMConfig loads LLM settings from the YAML config file.
func LoadLLMConfig(configPath string) (LLMConfig, error) {
	// fileConfig maps the YAML fields needed for LLM settings.
	type fileConfig struct {
		LLM LLMConfig `yaml:"llm"`
	}

	var cfg fileConfig
	readFileConfig(configPath, &cfg)
	result := cfg.LLM

	if key := strings.TrimSpace(os.Getenv(EnvOpenAIAPIKey)); key != "" {
		result.APIKey = key
	}
	if model := strings.TrimSpace(os.Getenv(EnvOpenAIModel)); model != "" {
		result.Model = model
	}
	if baseURL := strings.TrimSpace(os.Getenv(EnvOpenAIBaseURL)); baseURL != "" {
		result.BaseURL = baseURL
	}
	if timeout, ok := envDuration(EnvLLMTimeout); ok {
		result.Timeout = timeout
	}

	result.APIKey = strings.TrimSpace(result.APIKey)
	result.Model = strings.TrimSpace(result.Model)
	if result.Model == "" {
		result.Model = settings.DefaultLLMModel
	}
	if result.Temperature <= 0 {
		result.Temperature = settings.DefaultLLMTemperature
	}
	if result.Timeout <= 0 {
		result.Timeout = settings.DefaultLLMTimeoutSeconds * time.Second
	}
	return result, nil
}

// QuotaConfig holds free-tier allowance settings.
type QuotaConfig struct {
	FreeCreditsPerMonth int `yaml:"free-credits-per-month"`
}

// LoadQuotaConfig loads quota settings from the YAML config file.
func LoadQuotaConfig(configPath string) (QuotaConfig, error) {
	// fileConfig maps the YAML fields needed for quota settings.
	type fileConfig struct {
		Quota QuotaConfig `yaml:"quota"`
	}

	var cfg fileConfig
	readFileConfig(configPath, &cfg)
	result := cfg.Quota

	if raw := strings.TrimSpace(os.Getenv(EnvFreeCreditsPerMonth)); raw != "" {
		limit, errParse := strconv.Atoi(raw)
		if errParse != nil {
			return QuotaConfig{}, fmt.Errorf("parse %s: %w", EnvFreeCreditsPerMonth, errParse)
		}
		result.FreeCreditsPerMonth = limit
	}
	if result.FreeCreditsPerMonth <= 0 {
		result.FreeCreditsPerMonth = settings.DefaultFreeCreditsPerMonth
	}
	return result, nil
}

// RateLimitConfig holds request rate limit settings.
type RateLimitConfig struct {
	Limit int `yaml:"limit"`
	Redis struct {
		Enabled  bool   `yaml:"enabled"`
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		Prefix   string `yaml:"prefix"`
	} `yaml:"redis"`
}

// LoadRateLimitConfig loads rate limit settings from the YAML config file.
func LoadRateLimitConfig(configPath string) (RateLimitConfig, error) {
	// fileConfig maps the YAML fields needed for rate limit settings.
	type fileConfig struct {
		RateLimit RateLimitConfig `yaml:"rate-limit"`
	}

	var cfg fileConfig
	readFileConfig(configPath, &cfg)
	result := cfg.RateLimit

	if limit, ok := envNonNegativeInt(EnvRateLimit); ok {
		result.Limit = limit
	}
	if raw := strings.TrimSpace(os.Getenv(EnvRateLimitRedisEnabled)); raw != "" {
		if enabled, errParse := strconv.ParseBool(raw); errParse == nil {
			result.Redis.Enabled = enabled
		}
	}
	if addr := strings.TrimSpace(os.Getenv(EnvRateLimitRedisAddr)); addr != "" {
		result.Redis.Addr = addr
	}
	if password := strings.TrimSpace(os.Getenv(EnvRateLimitRedisPassword)); password != "" {
		result.Redis.Password = password
	}
	if db, ok := envNonNegativeInt(EnvRateLimitRedisDB); ok {
		result.Redis.DB = db
	}
	if prefix := strings.TrimSpace(os.Getenv(EnvRateLimitRedisPrefix)); prefix != "" {
		result.Redis.Prefix = prefix
	}

	result.Redis.Addr = strings.TrimSpace(result.Redis.Addr)
	result.Redis.Prefix = strings.TrimSpace(result.Redis.Prefix)
	if result.Redis.Prefix == "" {
		result.Redis.Prefix = settings.DefaultRateLimitRedisPrefix
	}
	if result.Redis.DB < 0 {
		result.Redis.DB = 0
	}
	if result.Limit < 0 {
		result.Limit = settings.DefaultRateLimit
	}
	return result, nil
}

func envDuration(key string) (time.Duration, bool) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return 0, false
	}
	parsed, errParse := time.ParseDuration(raw)
	if errParse != nil || parsed <= 0 {
		return 0, false
	}
	return parsed, true
}

func envNonNegativeInt(key string) (int, bool) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return 0, false
	}
	parsed, errParse := strconv.Atoi(raw)
	if errParse != nil || parsed < 0 {
		return 0, false
	}
	return parsed, true
}
