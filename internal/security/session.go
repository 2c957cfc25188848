package security

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/mailcoach-ai/mailcoach/internal/settings"
)

const sessionIssuer = "mailcoach"

// Context keys for values stored by SessionMiddleware.
const (
	ContextKeySessionEmail = "sessionEmail"
	ContextKeySessionName  = "sessionName"
)

var (
	errMissingSecret = errors.New("security: missing session secret")
	errMissingEmail  = errors.New("security: session token has no email")
)

// SessionClaims is the payload of a browser session token.
type SessionClaims struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// IssueSessionToken signs an HS256 session token for email.
func IssueSessionToken(secret, email, name string, ttl time.Duration) (string, error) {
	if strings.TrimSpace(secret) == "" {
		return "", errMissingSecret
	}
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return "", errMissingEmail
	}
	now := time.Now().UTC()
	claims := SessionClaims{
		Email: email,
		Name:  strings.TrimSpace(name),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    sessionIssuer,
			Subject:   email,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("security: sign session token: %w", err)
	}
	return signed, nil
}

// ParseSessionToken verifies token and returns its claims.
func ParseSessionToken(secret, token string) (*SessionClaims, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errMissingSecret
	}
	claims := &SessionClaims{}
	parsed, err := jwt.ParseWithClaims(
		strings.TrimSpace(token),
		claims,
		func(t *jwt.Token) (any, error) {
			return []byte(secret), nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(sessionIssuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("security: parse session token: %w", err)
	}
	if !parsed.Valid {
		return nil, errors.New("security: session token is invalid")
	}
	claims.Email = strings.ToLower(strings.TrimSpace(claims.Email))
	if claims.Email == "" {
		return nil, errMissingEmail
	}
	return claims, nil
}

// SessionMiddleware attaches the session identity, when present and valid, to the gin context.
// It never aborts; handlers decide through the identity resolver.
func SessionMiddleware(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := sessionToken(c.Request)
		if token != "" && secret != "" {
			if claims, err := ParseSessionToken(secret, token); err == nil {
				c.Set(ContextKeySessionEmail, claims.Email)
				c.Set(ContextKeySessionName, claims.Name)
			}
		}
		c.Next()
	}
}

// SessionFromContext returns the session email and name set by SessionMiddleware.
func SessionFromContext(c *gin.Context) (string, string) {
	return c.GetString(ContextKeySessionEmail), c.GetString(ContextKeySessionName)
}

func sessionToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if header != "" {
		scheme, token, ok := strings.Cut(header, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
	}
	if cookie, err := r.Cookie(settings.SessionCookieName); err == nil {
		return strings.TrimSpace(cookie.Value)
	}
	return ""
}
