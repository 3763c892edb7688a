package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/ocistore/registry/configuration"
	"github.com/ocistore/registry/digest"
	"github.com/ocistore/registry/registry/storage/driver/inmemory"
)

const ociManifestType = "application/vnd.oci.image.manifest.v1+json"

func newTestApp(t *testing.T, toml string) *App {
	t.Helper()
	if toml == "" {
		toml = "[storage]\ntype = \"inmemory\"\n"
	}
	config, err := configuration.Parse([]byte(toml))
	require.NoError(t, err)
	return NewApp(context.Background(), config, inmemory.New())
}

type testRequest struct {
	method  string
	path    string
	body    []byte
	headers map[string]string
}

func do(t *testing.T, app *App, req testRequest) *httptest.ResponseRecorder {
	t.Helper()
	var body io.Reader
	if req.body != nil {
		body = bytes.NewReader(req.body)
	}
	r := httptest.NewRequest(req.method, req.path, body)
	for k, v := range req.headers {
		r.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	app.ServeHTTP(rec, r)
	return rec
}

func errorCodeOf(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var envelope struct {
		Errors []struct {
			Code string `json:"code"`
		} `json:"errors"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope), rec.Body.String())
	require.NotEmpty(t, envelope.Errors)
	return envelope.Errors[0].Code
}

func TestAPIBase(t *testing.T) {
	app := newTestApp(t, "")
	rec := do(t, app, testRequest{method: "GET", path: "/v2/"})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "{}", rec.Body.String())
	assert.Equal(t, "registry/2.0", rec.Header().Get("Docker-Distribution-API-Version"))
}

func TestPushPullRoundTrip(t *testing.T) {
	app := newTestApp(t, "")

	// Start an upload session.
	rec := do(t, app, testRequest{method: "POST", path: "/v2/lib/app/blobs/uploads/"})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	uploadID := rec.Header().Get("Docker-Upload-UUID")
	require.NotEmpty(t, uploadID)
	location := rec.Header().Get("Location")
	assert.Equal(t, "/v2/lib/app/blobs/uploads/"+uploadID, location)
	assert.Equal(t, "0-0", rec.Header().Get("Range"))

	// Send one chunk with no Content-Range.
	rec = do(t, app, testRequest{method: "PATCH", path: location, body: []byte("hello")})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	assert.Equal(t, "0-4", rec.Header().Get("Range"))
	assert.Equal(t, uploadID, rec.Header().Get("Docker-Upload-UUID"))

	// Commit with the matching digest.
	helloDigest := "sha256:2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824"
	rec = do(t, app, testRequest{method: "PUT", path: location + "?digest=" + helloDigest})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "/v2/lib/app/blobs/"+helloDigest, rec.Header().Get("Location"))
	assert.Equal(t, helloDigest, rec.Header().Get("Docker-Content-Digest"))

	// Pull it back.
	rec = do(t, app, testRequest{method: "GET", path: "/v2/lib/app/blobs/" + helloDigest})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "hello", rec.Body.String())
	assert.Equal(t, "5", rec.Header().Get("Content-Length"))
	assert.Equal(t, helloDigest, rec.Header().Get("Docker-Content-Digest"))
	assert.Equal(t, "application/octet-stream", rec.Header().Get("Content-Type"))

	// HEAD carries the same headers and no body.
	rec = do(t, app, testRequest{method: "HEAD", path: "/v2/lib/app/blobs/" + helloDigest})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "5", rec.Header().Get("Content-Length"))
	assert.Empty(t, rec.Body.String())
}

func TestMonolithicUpload(t *testing.T) {
	app := newTestApp(t, "")
	content := []byte("single shot")
	dgst := digest.FromBytes(content)

	rec := do(t, app, testRequest{
		method: "POST",
		path:   "/v2/lib/app/blobs/uploads/?digest=" + dgst.String(),
		body:   content,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = do(t, app, testRequest{method: "GET", path: "/v2/lib/app/blobs/" + dgst.String()})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, content, rec.Body.Bytes())
}

func TestBlobRangeRequest(t *testing.T) {
	app := newTestApp(t, "")
	content := []byte("hello")
	dgst := digest.FromBytes(content)
	do(t, app, testRequest{method: "POST", path: "/v2/lib/app/blobs/uploads/?digest=" + dgst.String(), body: content})

	rec := do(t, app, testRequest{
		method:  "GET",
		path:    "/v2/lib/app/blobs/" + dgst.String(),
		headers: map[string]string{"Range": "bytes=1-3"},
	})
	require.Equal(t, http.StatusPartialContent, rec.Code)
	assert.Equal(t, "ell", rec.Body.String())
	assert.Equal(t, "bytes 1-3/5", rec.Header().Get("Content-Range"))

	// Unsatisfiable range.
	rec = do(t, app, testRequest{
		method:  "GET",
		path:    "/v2/lib/app/blobs/" + dgst.String(),
		headers: map[string]string{"Range": "bytes=9-12"},
	})
	assert.Equal(t, http.StatusRequestedRangeNotSatisfiable, rec.Code)
}

func TestUploadDigestMismatch(t *testing.T) {
	app := newTestApp(t, "")

	rec := do(t, app, testRequest{method: "POST", path: "/v2/lib/app/blobs/uploads/"})
	location := rec.Header().Get("Location")

	do(t, app, testRequest{method: "PATCH", path: location, body: []byte("hi")})

	bogus := "sha256:" + string(bytes.Repeat([]byte("0"), 64))
	rec = do(t, app, testRequest{method: "PUT", path: location + "?digest=" + bogus})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "DIGEST_INVALID", errorCodeOf(t, rec))

	// No blob was created.
	rec = do(t, app, testRequest{method: "GET", path: "/v2/lib/app/blobs/" + bogus})
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "BLOB_UNKNOWN", errorCodeOf(t, rec))
}

func TestUploadWrongOffsetRejected(t *testing.T) {
	app := newTestApp(t, "")

	rec := do(t, app, testRequest{method: "POST", path: "/v2/lib/app/blobs/uploads/"})
	location := rec.Header().Get("Location")

	rec = do(t, app, testRequest{method: "PATCH", path: location, body: []byte("abc")})
	require.Equal(t, http.StatusAccepted, rec.Code)

	// Replay from a wrong offset.
	rec = do(t, app, testRequest{
		method:  "PATCH",
		path:    location,
		body:    []byte("def"),
		headers: map[string]string{"Content-Range": "bytes 7-9/10"},
	})
	require.Equal(t, http.StatusRequestedRangeNotSatisfiable, rec.Code)
	assert.Equal(t, "RANGE_INVALID", errorCodeOf(t, rec))

	// Offset unchanged: the session still reports 3 bytes.
	rec = do(t, app, testRequest{method: "GET", path: location})
	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "0-2", rec.Header().Get("Range"))

	// A declared range that disagrees with the body length is rejected
	// without advancing the offset.
	rec = do(t, app, testRequest{
		method:  "PATCH",
		path:    location,
		body:    []byte("de"),
		headers: map[string]string{"Content-Range": "bytes 3-9/10"},
	})
	require.Equal(t, http.StatusRequestedRangeNotSatisfiable, rec.Code)
	assert.Equal(t, "RANGE_INVALID", errorCodeOf(t, rec))

	rec = do(t, app, testRequest{method: "GET", path: location})
	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "0-2", rec.Header().Get("Range"))
}

func TestUploadCancelIdempotent(t *testing.T) {
	app := newTestApp(t, "")

	rec := do(t, app, testRequest{method: "POST", path: "/v2/lib/app/blobs/uploads/"})
	location := rec.Header().Get("Location")

	rec = do(t, app, testRequest{method: "DELETE", path: location})
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = do(t, app, testRequest{method: "DELETE", path: location})
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestManifestTagResolution(t *testing.T) {
	app := newTestApp(t, "")

	body := []byte(`{"schemaVersion":2,"mediaType":"application/vnd.oci.image.manifest.v1+json","config":{"digest":"sha256:aaaa"},"layers":[]}`)
	dgst := digest.FromBytes(body)

	rec := do(t, app, testRequest{
		method:  "PUT",
		path:    "/v2/lib/app/manifests/v1",
		body:    body,
		headers: map[string]string{"Content-Type": ociManifestType},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "/v2/lib/app/manifests/v1", rec.Header().Get("Location"))
	assert.Equal(t, dgst.String(), rec.Header().Get("Docker-Content-Digest"))

	for _, ref := range []string{"v1", dgst.String()} {
		rec = do(t, app, testRequest{method: "GET", path: "/v2/lib/app/manifests/" + ref})
		require.Equal(t, http.StatusOK, rec.Code, ref)
		assert.Equal(t, body, rec.Body.Bytes(), ref)
		assert.Equal(t, ociManifestType, rec.Header().Get("Content-Type"), ref)
		assert.Equal(t, dgst.String(), rec.Header().Get("Docker-Content-Digest"), ref)
	}

	rec = do(t, app, testRequest{method: "HEAD", path: "/v2/lib/app/manifests/v1"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Body.String())
	assert.Equal(t, fmt.Sprint(len(body)), rec.Header().Get("Content-Length"))
}

func TestManifestPutIdempotent(t *testing.T) {
	app := newTestApp(t, "")
	body := []byte(`{"schemaVersion":2,"layers":[]}`)

	var digests []string
	for i := 0; i < 2; i++ {
		rec := do(t, app, testRequest{
			method:  "PUT",
			path:    "/v2/lib/app/manifests/v1",
			body:    body,
			headers: map[string]string{"Content-Type": ociManifestType},
		})
		require.Equal(t, http.StatusCreated, rec.Code)
		digests = append(digests, rec.Header().Get("Docker-Content-Digest"))
	}
	assert.Equal(t, digests[0], digests[1])
}

func TestTagReplacementLeavesHistory(t *testing.T) {
	app := newTestApp(t, "")

	m1 := []byte(`{"schemaVersion":2,"layers":[{"digest":"sha256:01"}]}`)
	m2 := []byte(`{"schemaVersion":2,"layers":[{"digest":"sha256:02"}]}`)
	d1 := digest.FromBytes(m1)

	for _, body := range [][]byte{m1, m2} {
		rec := do(t, app, testRequest{
			method:  "PUT",
			path:    "/v2/x/manifests/latest",
			body:    body,
			headers: map[string]string{"Content-Type": ociManifestType},
		})
		require.Equal(t, http.StatusCreated, rec.Code)
	}

	rec := do(t, app, testRequest{method: "GET", path: "/v2/x/manifests/latest"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, m2, rec.Body.Bytes())

	rec = do(t, app, testRequest{method: "GET", path: "/v2/x/manifests/" + d1.String()})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, m1, rec.Body.Bytes())
}

func TestManifestRejections(t *testing.T) {
	app := newTestApp(t, "")

	t.Run("empty body", func(t *testing.T) {
		rec := do(t, app, testRequest{
			method:  "PUT",
			path:    "/v2/lib/app/manifests/v1",
			body:    []byte{},
			headers: map[string]string{"Content-Type": ociManifestType},
		})
		require.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "MANIFEST_INVALID", errorCodeOf(t, rec))
	})

	t.Run("unsupported media type", func(t *testing.T) {
		rec := do(t, app, testRequest{
			method:  "PUT",
			path:    "/v2/lib/app/manifests/v1",
			body:    []byte(`{"schemaVersion":2}`),
			headers: map[string]string{"Content-Type": "application/json"},
		})
		require.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "MANIFEST_INVALID", errorCodeOf(t, rec))
	})

	t.Run("legacy v1 type is read-only", func(t *testing.T) {
		rec := do(t, app, testRequest{
			method:  "PUT",
			path:    "/v2/lib/app/manifests/v1",
			body:    []byte(`{"schemaVersion":1}`),
			headers: map[string]string{"Content-Type": "application/vnd.docker.distribution.manifest.v1+json"},
		})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("digest reference mismatch", func(t *testing.T) {
		body := []byte(`{"schemaVersion":2}`)
		wrong := digest.FromBytes([]byte("other")).String()
		rec := do(t, app, testRequest{
			method:  "PUT",
			path:    "/v2/lib/app/manifests/" + wrong,
			body:    body,
			headers: map[string]string{"Content-Type": ociManifestType},
		})
		require.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "MANIFEST_UNVERIFIED", errorCodeOf(t, rec))
	})

	t.Run("unknown manifest", func(t *testing.T) {
		rec := do(t, app, testRequest{method: "GET", path: "/v2/lib/app/manifests/absent"})
		require.Equal(t, http.StatusNotFound, rec.Code)
		assert.Equal(t, "MANIFEST_UNKNOWN", errorCodeOf(t, rec))
	})
}

func TestManifestSizeLimit(t *testing.T) {
	app := newTestApp(t, "[storage]\ntype = \"inmemory\"\n[registry]\nmax_upload_size_mb = 1\n")

	exactly := bytes.Repeat([]byte("a"), 1<<20)
	rec := do(t, app, testRequest{
		method:  "PUT",
		path:    "/v2/lib/app/manifests/big",
		body:    exactly,
		headers: map[string]string{"Content-Type": ociManifestType},
	})
	assert.Equal(t, http.StatusCreated, rec.Code)

	over := bytes.Repeat([]byte("a"), 1<<20+1)
	rec = do(t, app, testRequest{
		method:  "PUT",
		path:    "/v2/lib/app/manifests/toobig",
		body:    over,
		headers: map[string]string{"Content-Type": ociManifestType},
	})
	require.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Equal(t, "SIZE_INVALID", errorCodeOf(t, rec))
}

func TestDeleteManifestSemantics(t *testing.T) {
	app := newTestApp(t, "")
	body := []byte(`{"schemaVersion":2,"layers":[]}`)
	dgst := digest.FromBytes(body)

	do(t, app, testRequest{
		method:  "PUT",
		path:    "/v2/lib/app/manifests/v1",
		body:    body,
		headers: map[string]string{"Content-Type": ociManifestType},
	})

	// Deleting the tag removes only the pointer.
	rec := do(t, app, testRequest{method: "DELETE", path: "/v2/lib/app/manifests/v1"})
	require.Equal(t, http.StatusAccepted, rec.Code)

	rec = do(t, app, testRequest{method: "GET", path: "/v2/lib/app/manifests/v1"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, app, testRequest{method: "GET", path: "/v2/lib/app/manifests/" + dgst.String()})
	assert.Equal(t, http.StatusOK, rec.Code)

	// Deleting by digest removes the entity.
	rec = do(t, app, testRequest{method: "DELETE", path: "/v2/lib/app/manifests/" + dgst.String()})
	require.Equal(t, http.StatusAccepted, rec.Code)

	rec = do(t, app, testRequest{method: "GET", path: "/v2/lib/app/manifests/" + dgst.String()})
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "MANIFEST_UNKNOWN", errorCodeOf(t, rec))
}

func TestDeleteByDigestEvictsCachedTag(t *testing.T) {
	app := newTestApp(t, "")
	body := []byte(`{"schemaVersion":2,"layers":[]}`)
	dgst := digest.FromBytes(body)

	do(t, app, testRequest{
		method:  "PUT",
		path:    "/v2/lib/app/manifests/v1",
		body:    body,
		headers: map[string]string{"Content-Type": ociManifestType},
	})

	// Populate the manifest cache through the tag.
	rec := do(t, app, testRequest{method: "GET", path: "/v2/lib/app/manifests/v1"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, app, testRequest{method: "DELETE", path: "/v2/lib/app/manifests/" + dgst.String()})
	require.Equal(t, http.StatusAccepted, rec.Code)

	// The tag is dangling now; it must not be served from cache.
	rec = do(t, app, testRequest{method: "GET", path: "/v2/lib/app/manifests/v1"})
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "MANIFEST_UNKNOWN", errorCodeOf(t, rec))

	rec = do(t, app, testRequest{method: "GET", path: "/v2/lib/app/manifests/" + dgst.String()})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGCPurgesManifestCache(t *testing.T) {
	app := newTestApp(t, "")

	// A manifest stored by digest only: reachable from no tag, so the
	// orphan-manifest sweep removes it.
	body := []byte(`{"schemaVersion":2,"layers":[]}`)
	dgst := digest.FromBytes(body)
	rec := do(t, app, testRequest{
		method:  "PUT",
		path:    "/v2/lib/app/manifests/" + dgst.String(),
		body:    body,
		headers: map[string]string{"Content-Type": ociManifestType},
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	// Populate the cache.
	rec = do(t, app, testRequest{method: "GET", path: "/v2/lib/app/manifests/" + dgst.String()})
	require.Equal(t, http.StatusOK, rec.Code)

	app.GC().GracePeriod = 0
	stats, err := app.RunGC(context.Background(), false)
	require.NoError(t, err)
	require.Equal(t, 1, stats.ManifestsDeleted)

	// The swept digest must not be served from cache.
	rec = do(t, app, testRequest{method: "GET", path: "/v2/lib/app/manifests/" + dgst.String()})
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "MANIFEST_UNKNOWN", errorCodeOf(t, rec))
}

func TestBlobDelete(t *testing.T) {
	app := newTestApp(t, "")
	content := []byte("deletable")
	dgst := digest.FromBytes(content)
	do(t, app, testRequest{method: "POST", path: "/v2/lib/app/blobs/uploads/?digest=" + dgst.String(), body: content})

	rec := do(t, app, testRequest{method: "DELETE", path: "/v2/lib/app/blobs/" + dgst.String()})
	require.Equal(t, http.StatusAccepted, rec.Code)

	rec = do(t, app, testRequest{method: "GET", path: "/v2/lib/app/blobs/" + dgst.String()})
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, app, testRequest{method: "DELETE", path: "/v2/lib/app/blobs/" + dgst.String()})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func putTaggedManifest(t *testing.T, app *App, repo, tag string) {
	t.Helper()
	body := []byte(fmt.Sprintf(`{"schemaVersion":2,"layers":[],"annotations":{"repo":%q}}`, repo))
	rec := do(t, app, testRequest{
		method:  "PUT",
		path:    "/v2/" + repo + "/manifests/" + tag,
		body:    body,
		headers: map[string]string{"Content-Type": ociManifestType},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
}

func TestCatalogPagination(t *testing.T) {
	app := newTestApp(t, "")
	for _, repo := range []string{"a", "b", "c", "d", "e"} {
		putTaggedManifest(t, app, repo, "latest")
	}

	rec := do(t, app, testRequest{method: "GET", path: "/v2/_catalog?n=2"})
	require.Equal(t, http.StatusOK, rec.Code)
	var page struct {
		Repositories []string `json:"repositories"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	assert.Equal(t, []string{"a", "b"}, page.Repositories)
	link := rec.Header().Get("Link")
	assert.Contains(t, link, "/v2/_catalog?")
	assert.Contains(t, link, "last=b")
	assert.Contains(t, link, `rel="next"`)

	rec = do(t, app, testRequest{method: "GET", path: "/v2/_catalog?n=2&last=b"})
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	assert.Equal(t, []string{"c", "d"}, page.Repositories)
	assert.NotEmpty(t, rec.Header().Get("Link"))

	rec = do(t, app, testRequest{method: "GET", path: "/v2/_catalog?n=2&last=d"})
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	assert.Equal(t, []string{"e"}, page.Repositories)
	assert.Empty(t, rec.Header().Get("Link"))
}

func TestTagsList(t *testing.T) {
	app := newTestApp(t, "")
	for _, tag := range []string{"v2", "v1", "latest"} {
		putTaggedManifest(t, app, "lib/app", tag)
	}

	rec := do(t, app, testRequest{method: "GET", path: "/v2/lib/app/tags/list"})
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Name string   `json:"name"`
		Tags []string `json:"tags"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "lib/app", body.Name)
	assert.Equal(t, []string{"latest", "v1", "v2"}, body.Tags)
}

func TestRepositoryDelete(t *testing.T) {
	app := newTestApp(t, "")
	putTaggedManifest(t, app, "doomed", "v1")
	putTaggedManifest(t, app, "survivor", "v1")

	rec := do(t, app, testRequest{method: "DELETE", path: "/v2/doomed"})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	rec = do(t, app, testRequest{method: "GET", path: "/v2/_catalog"})
	var page struct {
		Repositories []string `json:"repositories"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	assert.Equal(t, []string{"survivor"}, page.Repositories)

	rec = do(t, app, testRequest{method: "DELETE", path: "/v2/doomed"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestImmutableTags(t *testing.T) {
	app := newTestApp(t, "[storage]\ntype = \"inmemory\"\n[registry]\nimmutable_tags = [\"v*\"]\n")

	body := []byte(`{"schemaVersion":2,"layers":[]}`)
	rec := do(t, app, testRequest{
		method:  "PUT",
		path:    "/v2/lib/app/manifests/v1",
		body:    body,
		headers: map[string]string{"Content-Type": ociManifestType},
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	// Re-pushing identical bytes stays idempotent.
	rec = do(t, app, testRequest{
		method:  "PUT",
		path:    "/v2/lib/app/manifests/v1",
		body:    body,
		headers: map[string]string{"Content-Type": ociManifestType},
	})
	assert.Equal(t, http.StatusCreated, rec.Code)

	// Repointing the tag is denied.
	rec = do(t, app, testRequest{
		method:  "PUT",
		path:    "/v2/lib/app/manifests/v1",
		body:    []byte(`{"schemaVersion":2,"layers":[{"digest":"sha256:ff"}]}`),
		headers: map[string]string{"Content-Type": ociManifestType},
	})
	require.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "DENIED", errorCodeOf(t, rec))

	rec = do(t, app, testRequest{method: "DELETE", path: "/v2/lib/app/manifests/v1"})
	require.Equal(t, http.StatusForbidden, rec.Code)

	// Non-matching tags stay mutable.
	rec = do(t, app, testRequest{
		method:  "PUT",
		path:    "/v2/lib/app/manifests/experimental",
		body:    []byte(`{"schemaVersion":2,"layers":[{"digest":"sha256:ff"}]}`),
		headers: map[string]string{"Content-Type": ociManifestType},
	})
	assert.Equal(t, http.StatusCreated, rec.Code)
}

func TestAdminGC(t *testing.T) {
	app := newTestApp(t, "")

	orphan := []byte("orphan bytes")
	dgst := digest.FromBytes(orphan)
	do(t, app, testRequest{method: "POST", path: "/v2/lib/app/blobs/uploads/?digest=" + dgst.String(), body: orphan})

	rec := do(t, app, testRequest{method: "POST", path: "/admin/gc", body: []byte(`{"dry_run":true}`)})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var stats map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.EqualValues(t, 1, stats["orphaned_blobs_found"])
	assert.EqualValues(t, 0, stats["blobs_deleted"])
	assert.Equal(t, true, stats["dry_run"])

	// The blob is within the grace period, so a real run keeps it too.
	rec = do(t, app, testRequest{method: "POST", path: "/admin/gc"})
	require.Equal(t, http.StatusOK, rec.Code)
	getRec := do(t, app, testRequest{method: "GET", path: "/v2/lib/app/blobs/" + dgst.String()})
	assert.Equal(t, http.StatusOK, getRec.Code)

	rec = do(t, app, testRequest{method: "GET", path: "/admin/gc/status"})
	require.Equal(t, http.StatusOK, rec.Code)
	var status map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Contains(t, status, "grace_period_hours")
	assert.Contains(t, status, "last_run")
}

func TestHealthEndpoints(t *testing.T) {
	app := newTestApp(t, "")

	rec := do(t, app, testRequest{method: "GET", path: "/health"})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, app, testRequest{method: "GET", path: "/readyz"})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, app, testRequest{method: "GET", path: "/metrics"})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "registry_http_bytes_in_total")
}

func TestBasicAuthGating(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	require.NoError(t, err)
	toml := fmt.Sprintf("[storage]\ntype = \"inmemory\"\n[auth]\nmode = \"basic\"\n[auth.basic]\nusers = [\"alice:%s\"]\n", hash)
	app := newTestApp(t, toml)

	// The API probe stays public.
	rec := do(t, app, testRequest{method: "GET", path: "/v2/"})
	assert.Equal(t, http.StatusOK, rec.Code)

	// Everything else challenges.
	rec = do(t, app, testRequest{method: "GET", path: "/v2/_catalog"})
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Header().Get("WWW-Authenticate"), "Basic realm=")
	assert.Equal(t, "UNAUTHORIZED", errorCodeOf(t, rec))

	// Wrong password is still a 401.
	r := httptest.NewRequest("GET", "/v2/_catalog", nil)
	r.SetBasicAuth("alice", "wrong")
	w := httptest.NewRecorder()
	app.ServeHTTP(w, r)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	// Correct credentials pass.
	r = httptest.NewRequest("GET", "/v2/_catalog", nil)
	r.SetBasicAuth("alice", "s3cret")
	w = httptest.NewRecorder()
	app.ServeHTTP(w, r)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestInvalidDigest(t *testing.T) {
	app := newTestApp(t, "")

	rec := do(t, app, testRequest{method: "GET", path: "/v2/lib/app/blobs/sha256:abcd"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "DIGEST_INVALID", errorCodeOf(t, rec))
}
