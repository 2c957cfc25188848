package app

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mailcoach-ai/mailcoach/internal/billing"
	"github.com/mailcoach-ai/mailcoach/internal/config"
	"github.com/mailcoach-ai/mailcoach/internal/http/api/admin"
	"github.com/mailcoach-ai/mailcoach/internal/http/api/front"
	"github.com/mailcoach-ai/mailcoach/internal/llm"
	"github.com/mailcoach-ai/mailcoach/internal/quota"
	"github.com/mailcoach-ai/mailcoach/internal/ratelimit"
	"github.com/mailcoach-ai/mailcoach/internal/store"
	"github.com/mailcoach-ai/mailcoach/internal/usage"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Settings is the loaded configuration the router is built from.
type Settings struct {
	Server    config.ServerConfig
	JWT       config.JWTConfig
	Stripe    config.StripeConfig
	LLM       config.LLMConfig
	Quota     config.QuotaConfig
	RateLimit config.RateLimitConfig
}

// LoadSettings reads every configuration section from configPath and the environment.
func LoadSettings(configPath string, defaultPort int) (Settings, error) {
	var (
		s   Settings
		err error
	)
	if s.Server, err = config.LoadServerConfig(configPath, defaultPort); err != nil {
		return Settings{}, err
	}
	if s.JWT, err = config.LoadJWTConfig(configPath); err != nil {
		return Settings{}, err
	}
	if s.Stripe, err = config.LoadStripeConfig(configPath); err != nil {
		return Settings{}, err
	}
	if s.LLM, err = config.LoadLLMConfig(configPath); err != nil {
		return Settings{}, err
	}
	if s.Quota, err = config.LoadQuotaConfig(configPath); err != nil {
		return Settings{}, err
	}
	if s.RateLimit, err = config.LoadRateLimitConfig(configPath); err != nil {
		return Settings{}, err
	}
	return s, nil
}

// NewRouter wires the services over conn and registers every route.
// The returned function releases resources held by the services.
func NewRouter(conn *gorm.DB, s Settings) (*gin.Engine, func(), error) {
	if conn == nil {
		return nil, nil, errors.New("app: nil database")
	}

	accounts := store.NewGormAccountStore(conn)
	engine := quota.NewEngine(accounts, nil, s.Quota.FreeCreditsPerMonth)

	var provider billing.Provider
	if s.Stripe.Enabled() {
		provider = billing.NewStripeProvider(s.Stripe)
	} else {
		log.Warn("stripe secret key not configured, billing disabled")
	}
	reconciler := billing.NewReconciler(provider, accounts, engine, nil)
	checkout := billing.NewCheckout(reconciler, s.Server.AppURL, s.Stripe.PriceID)

	var completer llm.Completer
	client, errLLM := llm.NewOpenAIClient(s.LLM)
	switch {
	case errLLM == nil:
		completer = client
	case errors.Is(errLLM, llm.ErrNotConfigured):
		log.Warn("openai api key not configured, generation disabled")
	default:
		return nil, nil, errLLM
	}

	if strings.TrimSpace(s.JWT.Secret) == "" {
		log.Warn("jwt secret not configured, session authentication disabled")
	}

	limiter := ratelimit.NewManager(ratelimit.StaticSettings(ratelimit.SettingsFromConfig(s.RateLimit)), nil, nil)
	recorder := usage.NewRecorder(conn)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestLogger())

	front.RegisterFrontRoutes(r, front.Deps{
		DB:            conn,
		Engine:        engine,
		Reconciler:    reconciler,
		Checkout:      checkout,
		Completer:     completer,
		Recorder:      recorder,
		Limiter:       limiter,
		SessionSecret: s.JWT.Secret,
		WebhookSecret: s.Stripe.WebhookSecret,
	})
	admin.RegisterAdminRoutes(r, admin.Deps{
		Accounts:   accounts,
		Engine:     engine,
		Reconciler: reconciler,
		Recorder:   recorder,
		AdminToken: s.Server.AdminToken,
	})
	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	})

	cleanup := func() {
		if errClose := limiter.Close(); errClose != nil {
			log.WithError(errClose).Warn("close rate limiter")
		}
	}
	return r, cleanup, nil
}

// requestLogger writes one access log line per request.
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		path := c.FullPath()
		if path == "/healthz" || path == "/metrics" {
			return
		}
		if path == "" {
			path = c.Request.URL.Path
		}
		entry := log.WithFields(log.Fields{
			"method":   c.Request.Method,
			"path":     path,
			"status":   c.Writer.Status(),
			"duration": time.Since(start).String(),
		})
		if c.Writer.Status() >= http.StatusInternalServerError {
			entry.Warn("request")
			return
		}
		entry.Debug("request")
	}
}
