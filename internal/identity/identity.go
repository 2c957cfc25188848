package identity

import (
	"errors"
	"net/mail"
	"strings"
)

// ErrUnauthenticated is returned when no usable e-mail can be resolved.
var ErrUnauthenticated = errors.New("identity: unauthenticated")

// Precedence selects which source wins when both are present.
type Precedence int

const (
	// SessionFirst prefers the server-side session; used by the web app.
	SessionFirst Precedence = iota
	// CallerFirst prefers the e-mail supplied in the request body; used by the extension.
	CallerFirst
)

// String returns the precedence name used in logs.
func (p Precedence) String() string {
	switch p {
	case SessionFirst:
		return "session-first"
	case CallerFirst:
		return "caller-first"
	default:
		return "unknown"
	}
}

// Source names where the resolved identity came from.
type Source string

const (
	SourceSession Source = "session"
	SourceCaller  Source = "caller"
)

// Request carries the identity candidates available to one HTTP request.
type Request struct {
	SessionEmail string
	SessionName  string
	CallerEmail  string
	CallerName   string
}

// Identity is the canonical caller identity.
type Identity struct {
	Email  string
	Name   string
	Source Source
}

// Canonical trims and lowercases an e-mail address.
func Canonical(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Valid reports whether email is a bare, syntactically valid address.
func Valid(email string) bool {
	email = strings.TrimSpace(email)
	if email == "" {
		return false
	}
	addr, err := mail.ParseAddress(email)
	if err != nil {
		return false
	}
	return strings.EqualFold(addr.Address, email)
}

// Resolve picks the caller identity according to precedence, falling back to the
// other source when the preferred one is empty or malformed.
func Resolve(req Request, precedence Precedence) (Identity, error) {
	session := candidate(req.SessionEmail, req.SessionName, SourceSession)
	caller := candidate(req.CallerEmail, req.CallerName, SourceCaller)

	order := []*Identity{session, caller}
	if precedence == CallerFirst {
		order = []*Identity{caller, session}
	}
	for _, id := range order {
		if id != nil {
			return *id, nil
		}
	}
	return Identity{}, ErrUnauthenticated
}

func candidate(email, name string, source Source) *Identity {
	if !Valid(email) {
		return nil
	}
	return &Identity{
		Email:  Canonical(email),
		Name:   strings.TrimSpace(name),
		Source: source,
	}
}
