package settings

// Defaults shared by config loading and the components that consume it.
const (
	// SiteName is the product name used in customer metadata and logs.
	SiteName = "MailCoach AI"
	// DefaultPort is the HTTP port when neither flag nor config sets one.
	DefaultPort = 8318
	// DefaultFreeCreditsPerMonth is the free-tier allowance per calendar month.
	DefaultFreeCreditsPerMonth = 5
	// DefaultLLMModel is the chat model used for rewrites.
	DefaultLLMModel = "gpt-4.1-mini"
	// DefaultLLMTemperature is the sampling temperature for rewrites.
	DefaultLLMTemperature = 0.7
	// DefaultLLMTimeoutSeconds bounds a single completion call.
	DefaultLLMTimeoutSeconds = 60
	// DefaultStripeTimeoutSeconds bounds a single billing provider call.
	DefaultStripeTimeoutSeconds = 15
	// DefaultSubscriptionListLimit caps subscriptions fetched per reconcile.
	DefaultSubscriptionListLimit = 20
	// DefaultRateLimit is the fallback per-second request limit (0 means unlimited).
	DefaultRateLimit = 0
	// DefaultRateLimitRedisPrefix is the fallback Redis key prefix.
	DefaultRateLimitRedisPrefix = "mailcoach:rl"
	// SessionCookieName carries the session token for browser callers.
	SessionCookieName = "mailcoach_session"
	// LimitReachedCode is the machine-readable code returned on quota exhaustion.
	LimitReachedCode = "LIMIT_REACHED"
)
