package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/mailcoach-ai/mailcoach/internal/identity"
	"github.com/mailcoach-ai/mailcoach/internal/security"
)

// sessionIdentity resolves the caller from the verified session only.
func sessionIdentity(c *gin.Context) (identity.Identity, error) {
	email, name := security.SessionFromContext(c)
	return identity.Resolve(identity.Request{SessionEmail: email, SessionName: name}, identity.SessionFirst)
}

// resolveIdentity combines the session with caller-supplied fields under precedence.
func resolveIdentity(c *gin.Context, callerEmail, callerName string, precedence identity.Precedence) (identity.Identity, error) {
	email, name := security.SessionFromContext(c)
	return identity.Resolve(identity.Request{
		SessionEmail: email,
		SessionName:  name,
		CallerEmail:  callerEmail,
		CallerName:   callerName,
	}, precedence)
}
