// Package storage implements the content-addressed storage contract (C2,
// spec.md §4.2) on top of a pluggable driver.StorageDriver backend: blob
// storage, manifest storage with tag indirection, resumable upload
// sessions, and repository/tag enumeration for the catalog and tags-list
// endpoints.
package storage

import (
	"context"
	"sort"
	"strings"

	"github.com/ocistore/registry/digest"
	driver "github.com/ocistore/registry/registry/storage/driver"
)

// Registry is the top-level storage façade handlers depend on. It wires
// together the blob store, manifest store, and upload session manager
// over a single backend driver, mirroring distribution's
// registry/storage.registry as the one seam between the HTTP layer and
// persistence (spec.md §9).
type Registry struct {
	driver    driver.StorageDriver
	blobs     *blobStore
	manifests *manifestStore
	uploads   *uploadManager
}

// NewRegistry constructs a Registry over d.
func NewRegistry(d driver.StorageDriver) *Registry {
	blobs := &blobStore{driver: d}
	return &Registry{
		driver:    d,
		blobs:     blobs,
		manifests: &manifestStore{driver: d, blobs: blobs},
		uploads:   newUploadManager(d, blobs),
	}
}

// Blobs exposes the blob half of the storage contract.
func (r *Registry) Blobs() *blobStore { return r.blobs }

// Manifests exposes the manifest half of the storage contract.
func (r *Registry) Manifests() *manifestStore { return r.manifests }

// Uploads exposes the resumable upload session manager.
func (r *Registry) Uploads() *uploadManager { return r.uploads }

// ListRepositories returns up to limit repository names strictly greater
// than last, in lexicographic order, for the catalog endpoint (spec.md
// §4.8 "GET /v2/_catalog"). Repository names may themselves contain '/',
// so repos are discovered by walking the manifest tree down to the first
// level holding a tag or digest entry rather than assuming a fixed depth.
func (r *Registry) ListRepositories(ctx context.Context, last string, limit int) ([]string, bool, error) {
	var all []string
	if err := r.walkRepositories(ctx, "/manifests", &all); err != nil {
		if isNotFound(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	sort.Strings(all)
	return paginate(all, last, limit)
}

func (r *Registry) walkRepositories(ctx context.Context, dir string, out *[]string) error {
	entries, err := r.driver.List(ctx, dir)
	if err != nil {
		if isNotFound(err) {
			return nil
		}
		return err
	}

	hasLeafFile := false
	for _, entry := range entries {
		fi, err := r.driver.Stat(ctx, entry)
		if err != nil {
			continue
		}
		if fi.IsDir() {
			if err := r.walkRepositories(ctx, entry, out); err != nil {
				return err
			}
		} else {
			hasLeafFile = true
		}
	}
	if hasLeafFile && dir != "/manifests" {
		*out = append(*out, strings.TrimPrefix(dir, "/manifests/"))
	}
	return nil
}

// ListTags returns up to limit tag names strictly greater than last for
// repo, excluding digest-addressed entries (spec.md §4.8 "GET
// /v2/<name>/tags/list").
func (r *Registry) ListTags(ctx context.Context, repo, last string, limit int) ([]string, bool, error) {
	entries, err := r.driver.List(ctx, manifestDirPath(repo))
	if err != nil {
		if isNotFound(err) {
			return nil, false, nil
		}
		return nil, false, err
	}

	var tags []string
	for _, entry := range entries {
		name := unescapeReference(lastPathComponent(entry))
		if digest.Validate(name) == nil {
			continue
		}
		tags = append(tags, name)
	}
	sort.Strings(tags)
	return paginate(tags, last, limit)
}

// ListAllBlobs returns every blob digest known to the backend, for the
// garbage collector's sweep phase (spec.md §4.10).
func (r *Registry) ListAllBlobs(ctx context.Context) ([]digest.Digest, error) {
	shards, err := r.driver.List(ctx, "/blobs")
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, err
	}

	var out []digest.Digest
	for _, shard := range shards {
		entries, err := r.driver.List(ctx, shard)
		if err != nil {
			if isNotFound(err) {
				continue
			}
			return nil, err
		}
		for _, entry := range entries {
			name := lastPathComponent(entry)
			if digest.Validate(name) == nil {
				out = append(out, digest.Digest(name))
			}
		}
	}
	return out, nil
}

// ListManifestDigests returns every manifest digest stored for repo
// (tag pointers excluded), for the garbage collector's mark phase.
func (r *Registry) ListManifestDigests(ctx context.Context, repo string) ([]digest.Digest, error) {
	entries, err := r.driver.List(ctx, manifestDirPath(repo))
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, err
	}

	var out []digest.Digest
	for _, entry := range entries {
		name := unescapeReference(lastPathComponent(entry))
		if digest.Validate(name) == nil {
			out = append(out, digest.Digest(name))
		}
	}
	return out, nil
}

// DeleteRepository removes every manifest and tag under repo in one call
// (SPEC_FULL.md §4.14 "Repository deletion"). Upload sessions are not
// touched, since they live under uploads/ rather than under the
// repository. Blobs are left for the garbage collector to reclaim once
// nothing references them.
func (r *Registry) DeleteRepository(ctx context.Context, repo string) error {
	return r.driver.Delete(ctx, manifestDirPath(repo))
}

// paginate slices a sorted, deduplicated list to the entries strictly
// greater than last, bounded by limit, returning whether more remain
// (spec.md §4.8 pagination: "n" and "last" query params, "Link:
// rel=next" when truncated).
func paginate(sorted []string, last string, limit int) ([]string, bool, error) {
	start := 0
	if last != "" {
		start = sort.SearchStrings(sorted, last)
		if start < len(sorted) && sorted[start] == last {
			start++
		}
	}
	if start >= len(sorted) {
		return nil, false, nil
	}
	rest := sorted[start:]
	if limit <= 0 || limit >= len(rest) {
		return rest, false, nil
	}
	return rest[:limit], true, nil
}
