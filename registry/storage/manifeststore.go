package storage

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	ociv1 "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/ocistore/registry/digest"
	driver "github.com/ocistore/registry/registry/storage/driver"
)

// Recognized manifest media types, case-insensitive per spec.md §6. The
// OCI types come from image-spec; the Docker distribution types predate
// it and are spelled out. The legacy Docker v1 manifest is accepted for
// read only.
const (
	MediaTypeOCIManifest        = ociv1.MediaTypeImageManifest
	MediaTypeOCIImageIndex      = ociv1.MediaTypeImageIndex
	MediaTypeDockerManifest2    = "application/vnd.docker.distribution.manifest.v2+json"
	MediaTypeDockerManifestList = "application/vnd.docker.distribution.manifest.list.v2+json"
	MediaTypeDockerManifest1    = "application/vnd.docker.distribution.manifest.v1+json"
)

var writableMediaTypes = map[string]bool{
	MediaTypeOCIManifest:        true,
	MediaTypeOCIImageIndex:      true,
	MediaTypeDockerManifest2:    true,
	MediaTypeDockerManifestList: true,
}

// IsRecognizedMediaType reports whether mt (case-insensitively) is one of
// the media types spec.md §6 lists, for either read or write.
func IsRecognizedMediaType(mt string) bool {
	return writableMediaTypes[normalizeMediaType(mt)] || normalizeMediaType(mt) == MediaTypeDockerManifest1
}

// IsWritableMediaType reports whether mt may be used on PUT; the legacy
// Docker v1 manifest is read-only (spec.md §6).
func IsWritableMediaType(mt string) bool {
	return writableMediaTypes[normalizeMediaType(mt)]
}

func normalizeMediaType(mt string) string {
	// Case-insensitive match per spec.md §6; stored verbatim as provided.
	for known := range writableMediaTypes {
		if len(mt) == len(known) && asciiEqualFold(mt, known) {
			return known
		}
	}
	if len(mt) == len(MediaTypeDockerManifest1) && asciiEqualFold(mt, MediaTypeDockerManifest1) {
		return MediaTypeDockerManifest1
	}
	return mt
}

func asciiEqualFold(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := 0; i < len(a); i++ {
		ca, cb := a[i], b[i]
		if 'A' <= ca && ca <= 'Z' {
			ca += 'a' - 'A'
		}
		if 'A' <= cb && cb <= 'Z' {
			cb += 'a' - 'A'
		}
		if ca != cb {
			return false
		}
	}
	return true
}

// ErrManifestUnknown is returned by Get when neither a tag pointer nor a
// digest entry exists for the requested reference.
var ErrManifestUnknown = errors.New("manifest unknown")

// Manifest is a stored manifest: raw bytes plus the content type they
// were stored with (spec.md §4.6 "Content-Type ... as stored").
type Manifest struct {
	Digest      digest.Digest
	ContentType string
	Content     []byte
}

// tagPointer is the small JSON file stored at manifests/<repo>/<tag>,
// indirecting to the canonical digest-addressed manifest (spec.md §3:
// "The tag form is a pointer; the digest form is the canonical storage
// key").
type tagPointer struct {
	Digest digest.Digest `json:"digest"`
}

type manifestStore struct {
	driver driver.StorageDriver
	blobs  *blobStore
}

// Put stores manifest content at (repo, digest) and, when reference is a
// tag, additionally writes the tag pointer (spec.md §4.2 "put_manifest").
// Returns the derived digest.
func (ms *manifestStore) Put(ctx context.Context, repo, reference, contentType string, content []byte) (digest.Digest, error) {
	dgst := digest.FromBytes(content)

	if err := ms.driver.PutContent(ctx, manifestPath(repo, dgst.String()), encodeManifest(contentType, content)); err != nil {
		return "", err
	}

	if !looksLikeDigest(reference) {
		ptr, err := json.Marshal(tagPointer{Digest: dgst})
		if err != nil {
			return "", err
		}
		if err := ms.driver.PutContent(ctx, manifestPath(repo, reference), ptr); err != nil {
			return "", err
		}
	}

	return dgst, nil
}

// Get resolves reference (tag or digest) to its manifest bytes.
func (ms *manifestStore) Get(ctx context.Context, repo, reference string) (*Manifest, error) {
	if looksLikeDigest(reference) {
		return ms.getByDigest(ctx, repo, reference)
	}

	raw, err := ms.driver.GetContent(ctx, manifestPath(repo, reference))
	if err != nil {
		if isNotFound(err) {
			return nil, ErrManifestUnknown
		}
		return nil, err
	}
	var ptr tagPointer
	if err := json.Unmarshal(raw, &ptr); err != nil {
		return nil, err
	}
	return ms.getByDigest(ctx, repo, ptr.Digest.String())
}

func (ms *manifestStore) getByDigest(ctx context.Context, repo, dgst string) (*Manifest, error) {
	raw, err := ms.driver.GetContent(ctx, manifestPath(repo, dgst))
	if err != nil {
		if isNotFound(err) {
			return nil, ErrManifestUnknown
		}
		return nil, err
	}
	contentType, content := decodeManifest(raw)
	return &Manifest{Digest: digest.Digest(dgst), ContentType: contentType, Content: content}, nil
}

// Delete removes a tag pointer (leaving the digest-addressed manifest in
// place) or a digest-addressed manifest entity (leaving any tag pointing
// to it dangling), per spec.md §4.6 "DELETE".
func (ms *manifestStore) Delete(ctx context.Context, repo, reference string) error {
	return ms.driver.Delete(ctx, manifestPath(repo, reference))
}

// ModTime returns the stored manifest entry's last-modified time, used
// by the minimum-age deletion gate (SPEC_FULL.md §4.14 "min_age_days").
func (ms *manifestStore) ModTime(ctx context.Context, repo, reference string) (time.Time, error) {
	fi, err := ms.driver.Stat(ctx, manifestPath(repo, reference))
	if err != nil {
		if isNotFound(err) {
			return time.Time{}, ErrManifestUnknown
		}
		return time.Time{}, err
	}
	return fi.ModTime(), nil
}

// ResolveTag returns the digest a tag currently points to, for GC mark
// phase and the "get_manifest_digest" introspection op.
func (ms *manifestStore) ResolveTag(ctx context.Context, repo, tag string) (digest.Digest, error) {
	raw, err := ms.driver.GetContent(ctx, manifestPath(repo, tag))
	if err != nil {
		if isNotFound(err) {
			return "", ErrManifestUnknown
		}
		return "", err
	}
	var ptr tagPointer
	if err := json.Unmarshal(raw, &ptr); err != nil {
		return "", err
	}
	return ptr.Digest, nil
}

func looksLikeDigest(reference string) bool {
	return digest.Validate(reference) == nil
}

// encodeManifest/decodeManifest pack the content-type alongside the raw
// bytes in a single stored object, so GET can echo back the exact
// Content-Type the client PUT with (spec.md §4.6) without a second
// metadata lookup.
type envelope struct {
	ContentType string `json:"contentType"`
	Content     []byte `json:"content"`
}

func encodeManifest(contentType string, content []byte) []byte {
	buf, _ := json.Marshal(envelope{ContentType: contentType, Content: content})
	return buf
}

func decodeManifest(raw []byte) (string, []byte) {
	var e envelope
	if err := json.Unmarshal(raw, &e); err != nil {
		return "application/octet-stream", raw
	}
	return e.ContentType, e.Content
}
