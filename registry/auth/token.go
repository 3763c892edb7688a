package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-jose/go-jose/v3/jwt"
)

// ResourceActions is the "access" claim entry format this registry's
// tokens carry: one resource plus the actions granted on it, following
// the same shape distribution's auth/token package uses.
type ResourceActions struct {
	Type    string   `json:"type"`
	Name    string   `json:"name"`
	Actions []string `json:"actions"`
}

// tokenClaims is the JWT payload shape. Issuer/audience are not checked
// against a trust list here: spec.md §1 excludes token issuance and SSO
// from scope, so this registry only validates the signature, expiry,
// and access grants of whatever token was presented.
type tokenClaims struct {
	jwt.Claims
	Access []ResourceActions `json:"access"`
}

// TokenController verifies Bearer tokens signed with a shared HMAC
// secret (spec.md §6 "auth.jwt_secret"), the symmetric analogue of
// distribution's certificate/JWK-based verification — appropriate here
// since this registry is both issuer and verifier's trust domain.
type TokenController struct {
	Realm  string
	Secret []byte
	Leeway time.Duration
}

var _ AccessController = (*TokenController)(nil)

// NewTokenController builds a controller around secret, the shared HMAC
// key configured for this registry instance.
func NewTokenController(realm string, secret []byte) *TokenController {
	return &TokenController{Realm: realm, Secret: secret, Leeway: 60 * time.Second}
}

var errMalformedToken = errors.New("malformed bearer token")

func (tc *TokenController) Authorized(ctx context.Context, r *http.Request, required Scope) (context.Context, error) {
	raw := bearerToken(r)
	if raw == "" {
		return nil, tc.challenge(required, "authentication required")
	}

	parsed, err := jwt.ParseSigned(raw)
	if err != nil {
		return nil, tc.challenge(required, errMalformedToken.Error())
	}

	var claims tokenClaims
	if err := parsed.Claims(tc.Secret, &claims); err != nil {
		return nil, tc.challenge(required, "invalid token signature")
	}

	now := time.Now()
	if err := claims.Validate(jwt.Expected{Time: now}); err != nil {
		return nil, tc.challenge(required, "token expired or not yet valid")
	}

	granted := scopesFromClaims(claims.Access)
	if !anyScopeMatches(granted, required) {
		return nil, &AuthorizationError{Required: required}
	}

	id := Identity{Subject: claims.Subject, Scopes: granted}
	return WithIdentity(ctx, id), nil
}

func (tc *TokenController) challenge(required Scope, reason string) *AuthenticationError {
	return &AuthenticationError{
		Challenge: fmt.Sprintf(`Bearer realm=%q,scope=%q`, tc.Realm, required.String()),
		Reason:    reason,
	}
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(h, prefix) {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(h, prefix))
}

func scopesFromClaims(access []ResourceActions) []Scope {
	var out []Scope
	for _, ra := range access {
		for _, action := range ra.Actions {
			out = append(out, Scope{Resource: ra.Type, Name: ra.Name, Action: action})
		}
	}
	return out
}
