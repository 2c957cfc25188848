package ratelimit

import "strings"

// KeyFor builds a limiter key, preferring the account email over the client address.
func KeyFor(email, clientIP string) (string, Scope) {
	if email = strings.ToLower(strings.TrimSpace(email)); email != "" {
		return "acct:" + email, ScopeAccount
	}
	if clientIP = strings.TrimSpace(clientIP); clientIP != "" {
		return "ip:" + clientIP, ScopeAddress
	}
	return "", ScopeNone
}
