package admin

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/mailcoach-ai/mailcoach/internal/billing"
	handlers "github.com/mailcoach-ai/mailcoach/internal/http/api/admin/handlers"
	"github.com/mailcoach-ai/mailcoach/internal/quota"
	"github.com/mailcoach-ai/mailcoach/internal/store"
	"github.com/mailcoach-ai/mailcoach/internal/usage"
)

// Deps holds the services behind the admin routes.
type Deps struct {
	Accounts   store.AccountStore
	Engine     *quota.Engine
	Reconciler *billing.Reconciler
	Recorder   *usage.Recorder
	AdminToken string
}

// RegisterAdminRoutes registers admin routes, middleware, and handlers.
// Nothing is registered when no admin token is configured.
func RegisterAdminRoutes(r *gin.Engine, deps Deps) {
	if r == nil || deps.Accounts == nil || strings.TrimSpace(deps.AdminToken) == "" {
		return
	}

	authed := r.Group("/v0/admin")
	authed.Use(adminAuthMiddleware(deps.AdminToken))

	accountHandler := handlers.NewAccountHandler(deps.Accounts, deps.Engine, deps.Reconciler, deps.Recorder)
	authed.GET("/accounts", accountHandler.List)
	authed.GET("/accounts/:email", accountHandler.Get)
	authed.GET("/accounts/:email/emails", accountHandler.Emails)
	authed.POST("/accounts/:email/reconcile", accountHandler.Reconcile)
	authed.POST("/accounts/:email/reset-credits", accountHandler.ResetCredits)
}

// adminAuthMiddleware validates the static admin bearer token.
func adminAuthMiddleware(adminToken string) gin.HandlerFunc {
	expected := []byte(strings.TrimSpace(adminToken))
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing authorization header"})
			return
		}

		token := strings.TrimPrefix(authHeader, "Bearer ")
		if token == authHeader {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid authorization format"})
			return
		}
		token = strings.TrimSpace(token)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "empty token"})
			return
		}

		if subtle.ConstantTimeCompare([]byte(token), expected) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		c.Next()
	}
}
