package auth

import (
	"context"
	"fmt"
	"net/http"

	"golang.org/x/crypto/bcrypt"
)

// BasicUser is one configured "username:password_hash" entry (spec.md §6
// "auth.basic.users").
type BasicUser struct {
	Username     string
	PasswordHash string // bcrypt hash
}

// BasicController verifies HTTP Basic credentials against a fixed, in-
// memory user list loaded from configuration. All users are granted
// pull+push+delete on every repository; spec.md defines no per-user
// scope restriction for the basic mode.
type BasicController struct {
	Realm string
	Users map[string]string // username -> bcrypt hash
}

var _ AccessController = (*BasicController)(nil)

// NewBasicController builds a controller from configured users.
func NewBasicController(realm string, users []BasicUser) *BasicController {
	m := make(map[string]string, len(users))
	for _, u := range users {
		m[u.Username] = u.PasswordHash
	}
	return &BasicController{Realm: realm, Users: m}
}

func (bc *BasicController) Authorized(ctx context.Context, r *http.Request, required Scope) (context.Context, error) {
	username, password, ok := r.BasicAuth()
	if !ok {
		return nil, bc.challenge("authentication required")
	}

	hash, known := bc.Users[username]
	if !known {
		return nil, bc.challenge("invalid username or password")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		return nil, bc.challenge("invalid username or password")
	}

	id := Identity{Subject: username, Scopes: []Scope{
		{Resource: required.Resource, Name: required.Name, Action: "*"},
	}}
	if !anyScopeMatches(id.Scopes, required) {
		return nil, &AuthorizationError{Required: required}
	}
	return WithIdentity(ctx, id), nil
}

func (bc *BasicController) challenge(reason string) *AuthenticationError {
	return &AuthenticationError{
		Challenge: fmt.Sprintf("Basic realm=%q", bc.Realm),
		Reason:    reason,
	}
}

func anyScopeMatches(granted []Scope, required Scope) bool {
	for _, g := range granted {
		if g.Matches(required) {
			return true
		}
	}
	return false
}
