package ratelimit

import (
	"context"
	"time"
)

// Result describes the outcome of a rate limit check.
type Result struct {
	Allowed   bool
	Remaining int
	Reset     time.Time
}

// Limiter provides rate limit checks.
type Limiter interface {
	Allow(ctx context.Context, key string, limit int, now time.Time) (Result, error)
}

// Scope indicates which identity a limiter key is bound to.
type Scope int

const (
	ScopeNone Scope = iota
	ScopeAccount
	ScopeAddress
)

// String returns the scope label used in logs.
func (s Scope) String() string {
	switch s {
	case ScopeAccount:
		return "account"
	case ScopeAddress:
		return "address"
	default:
		return "none"
	}
}
