package handlers

import (
	"bytes"
	"errors"
	"net/http"
	"path"
	"strconv"
	"time"

	"github.com/ocistore/registry/digest"
	"github.com/ocistore/registry/internal/dcontext"
	"github.com/ocistore/registry/internal/metrics"
	"github.com/ocistore/registry/reference"
	"github.com/ocistore/registry/registry/api/errcode"
	"github.com/ocistore/registry/registry/storage"
)

// manifestDispatcher builds the handler for GET/HEAD/PUT/DELETE
// /v2/<name>/manifests/<reference> (C6, spec.md §4.6).
func manifestDispatcher(ctx *Context, r *http.Request) http.Handler {
	manifestHandler := &manifestHandler{Context: ctx}

	return handlerForMethods(map[string]http.HandlerFunc{
		http.MethodGet:    manifestHandler.GetManifest,
		http.MethodHead:   manifestHandler.GetManifest,
		http.MethodPut:    manifestHandler.PutManifest,
		http.MethodDelete: manifestHandler.DeleteManifest,
	})
}

type manifestHandler struct {
	*Context
}

// GetManifest resolves the reference (tag or digest) and serves the
// stored bytes with the Content-Type they were stored with. HEAD
// carries identical headers and no body.
func (mh *manifestHandler) GetManifest(w http.ResponseWriter, r *http.Request) {
	repo, ref := mh.GetName(), mh.GetReference()
	if _, err := reference.Parse(ref); err != nil {
		mh.appendReferenceError(err)
		return
	}

	var manifest *storage.Manifest
	if cached, ok := mh.App.manifestCache.Get(repo, ref); ok {
		manifest = cached.(*storage.Manifest)
	} else {
		var err error
		manifest, err = mh.App.registry.Manifests().Get(mh.Context, repo, ref)
		if err != nil {
			if errors.Is(err, storage.ErrManifestUnknown) {
				mh.Errors = append(mh.Errors, errcode.ErrorCodeManifestUnknown.WithDetail(ref))
				return
			}
			mh.Errors = append(mh.Errors, errcode.ErrorCodeUnknown)
			dcontext.GetLogger(mh.Context).WithError(err).Error("manifest read failed")
			return
		}
		mh.App.manifestCache.Put(repo, ref, manifest)
	}

	w.Header().Set("Content-Type", manifest.ContentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(manifest.Content)))
	w.Header().Set("Docker-Content-Digest", manifest.Digest.String())
	if r.Method == http.MethodHead {
		w.WriteHeader(http.StatusOK)
		return
	}
	n, _ := w.Write(manifest.Content)
	metrics.BytesOut.Add(float64(n))
}

// PutManifest validates media type and body, derives the digest, and
// stores the manifest at (repo, digest) plus the tag pointer when the
// reference is a tag (spec.md §4.6 "PUT").
func (mh *manifestHandler) PutManifest(w http.ResponseWriter, r *http.Request) {
	repo, refStr := mh.GetName(), mh.GetReference()
	ref, err := reference.Parse(refStr)
	if err != nil {
		mh.appendReferenceError(err)
		return
	}

	contentType := r.Header.Get("Content-Type")
	if !storage.IsWritableMediaType(contentType) {
		mh.Errors = append(mh.Errors,
			errcode.ErrorCodeManifestInvalid.WithDetail(contentType),
			errcode.ErrorCodeUnsupported)
		return
	}

	body, err := readLimitedBody(r, mh.App.Config.Registry.MaxUploadSizeMB*mebibyte)
	if err != nil {
		if errors.Is(err, errBodyTooLarge) {
			mh.Errors = append(mh.Errors, errcode.ErrorCodeSizeInvalid)
			return
		}
		mh.Errors = append(mh.Errors, errcode.ErrorCodeManifestInvalid.WithDetail(err.Error()))
		return
	}
	if len(body) == 0 {
		mh.Errors = append(mh.Errors, errcode.ErrorCodeManifestInvalid.WithDetail("empty manifest body"))
		return
	}

	computed := digest.FromBytes(body)
	if ref.IsDigest() && !computed.Equal(ref.Digest()) {
		mh.Errors = append(mh.Errors, errcode.ErrorCodeManifestUnverified)
		return
	}

	if !ref.IsDigest() {
		if denied := mh.tagWriteDenied(repo, ref.Tag(), body); denied {
			return
		}
	}

	dgst, err := mh.App.registry.Manifests().Put(mh.Context, repo, refStr, contentType, body)
	if err != nil {
		mh.Errors = append(mh.Errors, errcode.ErrorCodeUnknown)
		dcontext.GetLogger(mh.Context).WithError(err).Error("manifest write failed")
		return
	}

	mh.App.manifestCache.Invalidate(repo, refStr)
	mh.App.manifestCache.Invalidate(repo, dgst.String())

	w.Header().Set("Location", mh.urlBuilder.BuildManifestURL(repo, refStr))
	w.Header().Set("Docker-Content-Digest", dgst.String())
	w.Header().Set("Content-Length", "0")
	w.WriteHeader(http.StatusCreated)
}

// tagWriteDenied enforces the immutable-tags policy (SPEC_FULL.md
// §4.14): a tag matching a configured glob pattern may not be repointed.
// Re-pushing byte-identical content is still allowed, preserving PUT
// idempotence (property P6).
func (mh *manifestHandler) tagWriteDenied(repo, tag string, body []byte) bool {
	if !mh.tagImmutable(tag) {
		return false
	}
	existing, err := mh.App.registry.Manifests().Get(mh.Context, repo, tag)
	if err != nil {
		// No current manifest at the tag: first write is always allowed.
		return false
	}
	if bytes.Equal(existing.Content, body) {
		return false
	}
	mh.Errors = append(mh.Errors, errcode.ErrorCodeDenied.WithDetail("tag is immutable: "+tag))
	return true
}

func (mh *manifestHandler) tagImmutable(tag string) bool {
	for _, pattern := range mh.App.Config.Registry.ImmutableTags {
		if ok, err := path.Match(pattern, tag); err == nil && ok {
			return true
		}
	}
	return false
}

// DeleteManifest removes a tag pointer, or a manifest entity when the
// reference is a digest — leaving any tag that still points to it
// dangling (spec.md §4.6 "DELETE").
func (mh *manifestHandler) DeleteManifest(w http.ResponseWriter, r *http.Request) {
	repo, refStr := mh.GetName(), mh.GetReference()
	ref, err := reference.Parse(refStr)
	if err != nil {
		mh.appendReferenceError(err)
		return
	}

	if _, err := mh.App.registry.Manifests().ModTime(mh.Context, repo, refStr); err != nil {
		if errors.Is(err, storage.ErrManifestUnknown) {
			mh.Errors = append(mh.Errors, errcode.ErrorCodeManifestUnknown.WithDetail(refStr))
			return
		}
		mh.Errors = append(mh.Errors, errcode.ErrorCodeUnknown)
		return
	}

	if denied := mh.deleteDenied(repo, refStr); denied {
		return
	}
	if !ref.IsDigest() && mh.tagImmutable(ref.Tag()) {
		mh.Errors = append(mh.Errors, errcode.ErrorCodeDenied.WithDetail("tag is immutable: "+ref.Tag()))
		return
	}

	if err := mh.App.registry.Manifests().Delete(mh.Context, repo, refStr); err != nil {
		mh.Errors = append(mh.Errors, errcode.ErrorCodeUnknown)
		dcontext.GetLogger(mh.Context).WithError(err).Error("manifest delete failed")
		return
	}

	if ref.IsDigest() {
		// Any tag in this repo may still point at the deleted digest;
		// its cache entry would keep serving the removed bytes instead
		// of resolving the dangling pointer to MANIFEST_UNKNOWN.
		mh.App.manifestCache.InvalidateRepo(repo)
	} else {
		mh.App.manifestCache.Invalidate(repo, refStr)
	}

	w.WriteHeader(http.StatusAccepted)
}

// deleteDenied enforces the minimum-age policy (SPEC_FULL.md §4.14
// "min_age_days"): entries younger than the configured age may not be
// deleted.
func (mh *manifestHandler) deleteDenied(repo, refStr string) bool {
	minAge := time.Duration(mh.App.Config.Registry.MinAgeDays) * 24 * time.Hour
	if minAge <= 0 {
		return false
	}
	modTime, err := mh.App.registry.Manifests().ModTime(mh.Context, repo, refStr)
	if err != nil {
		return false
	}
	if time.Since(modTime) >= minAge {
		return false
	}
	mh.Errors = append(mh.Errors, errcode.ErrorCodeDenied.WithDetail("manifest is younger than the configured minimum age"))
	return true
}

func (mh *manifestHandler) appendReferenceError(err error) {
	switch {
	case errors.Is(err, reference.ErrTagInvalid):
		mh.Errors = append(mh.Errors, errcode.ErrorCodeTagInvalid.WithDetail(mh.GetReference()))
	default:
		mh.Errors = append(mh.Errors, errcode.ErrorCodeDigestInvalid.WithDetail(mh.GetReference()))
	}
}
