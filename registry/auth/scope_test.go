package auth

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestScopeMatches(t *testing.T) {
	tests := []struct {
		granted  Scope
		required Scope
		want     bool
	}{
		{Scope{"repository", "lib/app", "pull"}, Scope{"repository", "lib/app", "pull"}, true},
		{Scope{"repository", "lib/app", "*"}, Scope{"repository", "lib/app", "push"}, true},
		{Scope{"repository", "lib/app", "pull"}, Scope{"repository", "lib/app", "push"}, false},
		{Scope{"repository", "lib/app", "*"}, Scope{"repository", "other", "pull"}, false},
		{Scope{"registry", "catalog", "*"}, Scope{"registry", "catalog", "*"}, true},
		{Scope{"repository", "lib/app", "pull"}, Scope{"registry", "lib/app", "pull"}, false},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, tc.granted.Matches(tc.required),
			"%s vs %s", tc.granted, tc.required)
	}
}

func TestRequiredScope(t *testing.T) {
	tests := []struct {
		method string
		path   string
		want   string
		needed bool
	}{
		{"GET", "/v2/", "", false},
		{"GET", "/v2/_catalog", "registry:catalog:*", true},
		{"GET", "/v2/lib/app/manifests/v1", "repository:lib/app:pull", true},
		{"HEAD", "/v2/lib/app/manifests/v1", "repository:lib/app:pull", true},
		{"PUT", "/v2/lib/app/manifests/v1", "repository:lib/app:push", true},
		{"DELETE", "/v2/lib/app/manifests/v1", "repository:lib/app:delete", true},
		{"GET", "/v2/lib/app/blobs/sha256:abcd", "repository:lib/app:pull", true},
		{"DELETE", "/v2/lib/app/blobs/sha256:abcd", "repository:lib/app:delete", true},
		{"POST", "/v2/lib/app/blobs/uploads/", "repository:lib/app:push", true},
		{"PATCH", "/v2/lib/app/blobs/uploads/u1", "repository:lib/app:push", true},
		{"DELETE", "/v2/lib/app/blobs/uploads/u1", "repository:lib/app:push", true},
		{"GET", "/v2/lib/app/tags/list", "repository:lib/app:pull", true},
		{"DELETE", "/v2/lib/app", "repository:lib/app:delete", true},
		{"POST", "/admin/gc", "registry:admin:*", true},
		{"GET", "/admin/gc/status", "registry:admin:*", true},
	}
	for _, tc := range tests {
		got, needed := RequiredScope(tc.method, tc.path)
		assert.Equal(t, tc.needed, needed, "%s %s", tc.method, tc.path)
		if tc.needed {
			assert.Equal(t, tc.want, got.String(), "%s %s", tc.method, tc.path)
		}
	}
}

func TestIsPublic(t *testing.T) {
	assert.True(t, IsPublic(http.MethodGet, "/health"))
	assert.True(t, IsPublic(http.MethodGet, "/readyz"))
	assert.True(t, IsPublic(http.MethodGet, "/metrics"))
	assert.True(t, IsPublic(http.MethodGet, "/v2/"))
	assert.False(t, IsPublic(http.MethodGet, "/v2/_catalog"))
	assert.False(t, IsPublic(http.MethodGet, "/v2/lib/app/tags/list"))
}
