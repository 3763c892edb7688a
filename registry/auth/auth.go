// Package auth implements the AuthN/AuthZ hook (C9, spec.md §4.9):
// Bearer and Basic credential verification, scope derivation from
// request path, and glob-style scope matching. Identity provider token
// issuance is out of scope (spec.md §1 "Deliberately excluded") — this
// package only verifies tokens presented by the client.
package auth

import (
	"context"
	"fmt"
	"net/http"
)

// Identity carries the authenticated principal and the scopes it was
// granted, set on the request context by an AccessController.
type Identity struct {
	Subject string
	Scopes  []Scope
}

// Scope is a single authorization grant of the form
// "repository:<name>:<action>" or "registry:<resource>:<action>"
// (spec.md GLOSSARY "Scope").
type Scope struct {
	Resource string // "repository" or "registry"
	Name     string
	Action   string
}

// String renders the canonical wire form.
func (s Scope) String() string {
	return fmt.Sprintf("%s:%s:%s", s.Resource, s.Name, s.Action)
}

// Matches reports whether granted s authorizes required scope req. A
// trailing "*" in the granted scope's action matches any single action
// (spec.md §4.9 "glob-style ... trailing position"). Resource and name
// must match exactly.
func (s Scope) Matches(req Scope) bool {
	if s.Resource != req.Resource || s.Name != req.Name {
		return false
	}
	if s.Action == "*" {
		return true
	}
	return s.Action == req.Action
}

// AuthenticationError indicates missing or invalid credentials; the
// caller must respond 401 with a WWW-Authenticate challenge (spec.md
// §4.9 "Unauthenticated -> 401").
type AuthenticationError struct {
	Challenge string
	Reason    string
}

func (e *AuthenticationError) Error() string { return "unauthenticated: " + e.Reason }

// SetChallengeHeaders sets WWW-Authenticate on h.
func (e *AuthenticationError) SetChallengeHeaders(h http.Header) {
	h.Set("WWW-Authenticate", e.Challenge)
}

// AuthorizationError indicates an authenticated principal lacking the
// required scope; the caller must respond 403 (spec.md §4.9
// "insufficient scope -> 403").
type AuthorizationError struct {
	Required Scope
}

func (e *AuthorizationError) Error() string {
	return fmt.Sprintf("access denied for scope %s", e.Required)
}

// AccessController verifies a request's credentials and checks the
// resulting identity against required. It returns a context carrying the
// Identity, or an *AuthenticationError / *AuthorizationError.
type AccessController interface {
	Authorized(ctx context.Context, r *http.Request, required Scope) (context.Context, error)
}

type identityKey struct{}

// WithIdentity attaches id to ctx.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityFromContext returns the identity attached by an
// AccessController, if any.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(Identity)
	return id, ok
}
