package v2

import (
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRouterMatching(t *testing.T) {
	router := Router()

	tests := []struct {
		method string
		path   string
		route  string
		vars   map[string]string
	}{
		{"GET", "/v2/", RouteNameBase, nil},
		{"GET", "/v2/_catalog", RouteNameCatalog, nil},
		{"GET", "/v2/lib/app/tags/list", RouteNameTags, map[string]string{"name": "lib/app"}},
		{"PUT", "/v2/lib/app/manifests/v1", RouteNameManifest,
			map[string]string{"name": "lib/app", "reference": "v1"}},
		{"GET", "/v2/lib/app/manifests/sha256:abcd", RouteNameManifest,
			map[string]string{"name": "lib/app", "reference": "sha256:abcd"}},
		{"HEAD", "/v2/a/b/c/blobs/sha256:0123", RouteNameBlob,
			map[string]string{"name": "a/b/c", "digest": "sha256:0123"}},
		{"POST", "/v2/lib/app/blobs/uploads/", RouteNameBlobUpload, map[string]string{"name": "lib/app"}},
		{"PATCH", "/v2/lib/app/blobs/uploads/abc-123", RouteNameBlobUploadChunk,
			map[string]string{"name": "lib/app", "uuid": "abc-123"}},
		{"DELETE", "/v2/lib/app", RouteNameRepository, map[string]string{"name": "lib/app"}},
		{"POST", "/admin/gc", RouteNameAdminGC, nil},
		{"GET", "/admin/gc/status", RouteNameAdminGCStatus, nil},
	}

	for _, tc := range tests {
		var match mux.RouteMatch
		matched := router.Match(httptest.NewRequest(tc.method, tc.path, nil), &match)
		require.True(t, matched, "%s %s did not match", tc.method, tc.path)
		assert.Equal(t, tc.route, match.Route.GetName(), "%s %s", tc.method, tc.path)
		for k, v := range tc.vars {
			assert.Equal(t, v, match.Vars[k], "%s %s var %s", tc.method, tc.path, k)
		}
	}
}

func TestRouterRejects(t *testing.T) {
	router := Router()

	tests := []struct {
		method string
		path   string
	}{
		{"GET", "/v2/UPPER/tags/list"},
		{"PUT", "/v2/lib/app/manifests/"},
		{"GET", "/v1/lib/app/manifests/v1"},
	}
	for _, tc := range tests {
		var match mux.RouteMatch
		matched := router.Match(httptest.NewRequest(tc.method, tc.path, nil), &match)
		if matched && match.MatchErr == nil && match.Route != nil {
			assert.NotContains(t, []string{RouteNameManifest, RouteNameTags}, match.Route.GetName(),
				"%s %s unexpectedly matched %s", tc.method, tc.path, match.Route.GetName())
		}
	}
}

func TestURLBuilder(t *testing.T) {
	b := NewURLBuilder()
	assert.Equal(t, "/v2/lib/app/manifests/v1", b.BuildManifestURL("lib/app", "v1"))
	assert.Equal(t, "/v2/lib/app/blobs/sha256:abcd", b.BuildBlobURL("lib/app", "sha256:abcd"))
	assert.Equal(t, "/v2/lib/app/blobs/uploads/", b.BuildBlobUploadURL("lib/app"))
	assert.Equal(t, "/v2/lib/app/blobs/uploads/u1", b.BuildBlobUploadChunkURL("lib/app", "u1"))
	assert.Equal(t, "/v2/lib/app/tags/list", b.BuildTagsURL("lib/app"))
	assert.Equal(t, "/v2/_catalog", b.BuildCatalogURL())
}
