package front

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/mailcoach-ai/mailcoach/internal/billing"
	handlers "github.com/mailcoach-ai/mailcoach/internal/http/api/front/handlers"
	"github.com/mailcoach-ai/mailcoach/internal/llm"
	"github.com/mailcoach-ai/mailcoach/internal/metrics"
	"github.com/mailcoach-ai/mailcoach/internal/quota"
	"github.com/mailcoach-ai/mailcoach/internal/ratelimit"
	"github.com/mailcoach-ai/mailcoach/internal/security"
	"github.com/mailcoach-ai/mailcoach/internal/usage"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Deps holds the services behind the public routes.
type Deps struct {
	DB            *gorm.DB
	Engine        *quota.Engine
	Reconciler    *billing.Reconciler
	Checkout      *billing.Checkout
	Completer     llm.Completer
	Recorder      *usage.Recorder
	Limiter       *ratelimit.Manager
	SessionSecret string
	WebhookSecret string
}

// RegisterFrontRoutes registers public routes, middleware, and handlers.
func RegisterFrontRoutes(r *gin.Engine, deps Deps) {
	if r == nil || deps.DB == nil || deps.Engine == nil {
		return
	}

	healthHandler := handlers.NewHealthHandler(deps.DB)
	r.GET("/healthz", healthHandler.Healthz)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	session := security.SessionMiddleware(deps.SessionSecret)
	composeHandler := handlers.NewComposeHandler(deps.Engine, deps.Completer, deps.Recorder)
	accountHandler := handlers.NewAccountHandler(deps.Engine, deps.Reconciler, deps.Recorder)
	billingHandler := handlers.NewBillingHandler(deps.Reconciler, deps.Checkout)
	webhookHandler := handlers.NewWebhookHandler(deps.WebhookSecret, deps.Reconciler)

	api := r.Group("/api")
	api.POST("/stripe/webhook", webhookHandler.Handle)

	extension := api.Group("")
	extension.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{"POST", "OPTIONS"},
		AllowHeaders: []string{"Origin", "Content-Type", "Accept", "Authorization"},
		MaxAge:       12 * time.Hour,
	}))
	extension.Use(session)
	extension.OPTIONS("/improve-email", func(c *gin.Context) { c.Status(http.StatusNoContent) })
	extension.POST("/improve-email", rateLimitMiddleware(deps.Limiter, "improve-email"), composeHandler.ImproveEmail)

	web := api.Group("")
	web.Use(session)
	web.POST("/generate-email", rateLimitMiddleware(deps.Limiter, "generate-email"), composeHandler.Generate)
	web.GET("/me", accountHandler.Me)
	web.GET("/me/usage", accountHandler.Usage)
	web.GET("/profile", accountHandler.Profile)
	web.POST("/stripe/sync", billingHandler.Sync)
	web.POST("/stripe/checkout", billingHandler.CreateCheckout)
	web.POST("/stripe/portal", billingHandler.Portal)

	v0 := r.Group("/v0")
	v0.Use(session)
	v0.POST("/emails/generate", rateLimitMiddleware(deps.Limiter, "generate"), composeHandler.Generate)
	v0.GET("/me", accountHandler.Me)
	v0.GET("/me/usage", accountHandler.Usage)
	v0.GET("/me/profile", accountHandler.Profile)
	v0.POST("/billing/sync", billingHandler.Sync)
	v0.POST("/billing/checkout", billingHandler.CreateCheckout)
	v0.GET("/billing/checkout/confirm", billingHandler.ConfirmCheckout)
	v0.POST("/billing/portal", billingHandler.Portal)
}

// rateLimitMiddleware rejects callers above the per-second limit.
// The session email keys the window when present, the client address otherwise.
func rateLimitMiddleware(limiter *ratelimit.Manager, route string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if limiter == nil || limiter.Limit() <= 0 {
			c.Next()
			return
		}
		email, _ := security.SessionFromContext(c)
		key, _ := ratelimit.KeyFor(email, c.ClientIP())
		result, errAllow := limiter.Allow(c.Request.Context(), key)
		if errAllow != nil {
			log.WithError(errAllow).Warn("rate limit check failed")
			c.Next()
			return
		}
		if !result.Allowed {
			metrics.RateLimited.WithLabelValues(route).Inc()
			retryAfter := int(time.Until(result.Reset).Seconds() + 0.999)
			if retryAfter < 1 {
				retryAfter = 1
			}
			c.Header("Retry-After", strconv.Itoa(retryAfter))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}
		c.Next()
	}
}
