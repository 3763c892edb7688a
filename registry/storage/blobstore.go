package storage

import (
	"context"
	"io"
	"time"

	"github.com/ocistore/registry/digest"
	driver "github.com/ocistore/registry/registry/storage/driver"
)

// blobStore implements the blob half of the storage backend contract
// (C2, spec.md §4.2) over a driver.StorageDriver. Blobs are global,
// content-addressed, and idempotent to rewrite.
type blobStore struct {
	driver driver.StorageDriver
}

// Put stores content at its digest. Idempotent: rewriting the same
// digest is a no-op success (spec.md §4.2 "put_blob"). The caller is
// responsible for having verified sha256(content) == dgst; this is
// enforced upstream by the upload session FSM (C5), not re-verified here,
// matching the contract's stated precondition.
func (bs *blobStore) Put(ctx context.Context, dgst digest.Digest, content []byte) error {
	exists, err := bs.Exists(ctx, dgst)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	return bs.driver.PutContent(ctx, blobPath(dgst), content)
}

// PutFromStaging commits a staged upload's backend-native writer as the
// blob at dgst via a rename/move, avoiding reading the content back into
// memory for large blobs. The filesystem backend's Move is the atomic
// rename from spec.md §4.3; the S3 backend's Move is a copy+delete.
func (bs *blobStore) PutFromStaging(ctx context.Context, dgst digest.Digest, stagingPath string) error {
	exists, err := bs.Exists(ctx, dgst)
	if err != nil {
		return err
	}
	if exists {
		return bs.driver.Delete(ctx, stagingPath)
	}
	return bs.driver.Move(ctx, stagingPath, blobPath(dgst))
}

// Get returns the full content of the blob at dgst, or a
// driver.PathNotFoundError if absent.
func (bs *blobStore) Get(ctx context.Context, dgst digest.Digest) ([]byte, error) {
	return bs.driver.GetContent(ctx, blobPath(dgst))
}

// Reader returns a streaming reader over the blob at dgst starting at
// offset, supporting the C7 range-read path.
func (bs *blobStore) Reader(ctx context.Context, dgst digest.Digest, offset int64) (io.ReadCloser, error) {
	return bs.driver.Reader(ctx, blobPath(dgst), offset)
}

// Exists reports whether the blob is present.
func (bs *blobStore) Exists(ctx context.Context, dgst digest.Digest) (bool, error) {
	_, err := bs.driver.Stat(ctx, blobPath(dgst))
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Delete removes the blob. Absent is success (spec.md §4.2).
func (bs *blobStore) Delete(ctx context.Context, dgst digest.Digest) error {
	return bs.driver.Delete(ctx, blobPath(dgst))
}

// Metadata returns size and last-modified time, used by the garbage
// collector's grace-period check (I5).
func (bs *blobStore) Metadata(ctx context.Context, dgst digest.Digest) (BlobMetadata, error) {
	fi, err := bs.driver.Stat(ctx, blobPath(dgst))
	if err != nil {
		return BlobMetadata{}, err
	}
	return BlobMetadata{Digest: dgst, Size: fi.Size(), CreatedAt: fi.ModTime()}, nil
}

// BlobMetadata is the GC-introspection shape named in spec.md §4.2
// "get_blob_metadata".
type BlobMetadata struct {
	Digest    digest.Digest
	Size      int64
	CreatedAt time.Time
}

func isNotFound(err error) bool {
	_, ok := err.(driver.PathNotFoundError)
	return ok
}
