// Package driver defines the uniform content-addressed key/value surface
// (C2, spec.md §4.2) that every storage backend implements: local
// filesystem (C3), S3-compatible object store (C4), and an in-memory
// pluggable object store used for tests and small deployments. Keeping
// ingestion, listing, and GC semantics identical across backends is the
// entire point of this interface (spec.md §9 "the storage boundary is the
// single polymorphic seam").
package driver

import (
	"context"
	"fmt"
	"io"
	"time"
)

// StorageDriver is a filesystem-like key/value object store. Paths are
// slash-separated, rooted at "/". Implementations must give read-after-
// write consistency for any single key (spec.md §4.2 "Consistency
// model"); listings may be eventually consistent on object-store
// backends.
type StorageDriver interface {
	// Name identifies the driver, e.g. "filesystem", "s3", "inmemory".
	Name() string

	// GetContent retrieves the content stored at path. Used for small
	// objects (manifests, link files).
	GetContent(ctx context.Context, path string) ([]byte, error)

	// PutContent stores content at path, replacing anything already
	// there.
	PutContent(ctx context.Context, path string, content []byte) error

	// Reader returns a stream of the content at path, starting at the
	// given byte offset.
	Reader(ctx context.Context, path string, offset int64) (io.ReadCloser, error)

	// Writer returns a FileWriter for path. If append is true and a
	// writer was previously committed or this is a resumed session, the
	// new writer picks up at the end of existing content.
	Writer(ctx context.Context, path string, appendMode bool) (FileWriter, error)

	// Stat returns FileInfo for path. Returns PathNotFoundError if it
	// does not exist.
	Stat(ctx context.Context, path string) (FileInfo, error)

	// List returns the full paths of entries that are direct children of
	// path, in lexicographic order.
	List(ctx context.Context, path string) ([]string, error)

	// Move relocates content from sourcePath to destPath.
	Move(ctx context.Context, sourcePath string, destPath string) error

	// Delete recursively removes everything at path and below. Deleting
	// an absent path is success (spec.md §4.2 "Absent is success").
	Delete(ctx context.Context, path string) error

	// URLFor returns a URL which may be used to retrieve the content
	// stored at path directly, bypassing the registry, or "" if the
	// driver does not support it. Optional: every backend here returns
	// "", since spec.md does not call for signed/redirect URLs.
	URLFor(ctx context.Context, path string, options map[string]any) (string, error)
}

// FileWriter is a handle to an in-progress write, used by the upload
// session (C5) to stream chunks into backend storage without buffering
// the whole blob in memory.
type FileWriter interface {
	io.WriteCloser

	// Size returns the number of bytes written so far, including any
	// bytes that existed before this writer was opened (resumed upload).
	Size() int64

	// Cancel aborts the write, discarding any staged bytes.
	Cancel(ctx context.Context) error

	// Commit flushes and finalizes the write, making it visible to
	// subsequent Stat/GetContent/Reader calls.
	Commit(ctx context.Context) error
}

// FileInfo describes a stored object.
type FileInfo interface {
	Path() string
	Size() int64
	ModTime() time.Time
	IsDir() bool
}

// PathNotFoundError indicates path does not exist. Blob reads return it
// to the caller as is; manifest reads map it to ErrManifestUnknown.
type PathNotFoundError struct {
	Path       string
	DriverName string
}

func (e PathNotFoundError) Error() string {
	return fmt.Sprintf("%s: path not found: %s", e.DriverName, e.Path)
}

// InvalidPathError indicates path failed validation before reaching the
// backend (e.g. a relative path, an empty or trailing component, or a
// character outside the allowed set).
type InvalidPathError struct {
	Path       string
	DriverName string
}

func (e InvalidPathError) Error() string {
	return fmt.Sprintf("%s: invalid path: %s", e.DriverName, e.Path)
}

// InvalidOffsetError indicates a resumed write's offset didn't match the
// backend's recorded size.
type InvalidOffsetError struct {
	Path       string
	Offset     int64
	DriverName string
}

func (e InvalidOffsetError) Error() string {
	return fmt.Sprintf("%s: invalid offset %d for path: %s", e.DriverName, e.Offset, e.Path)
}

// Error wraps a backend-specific error with driver identity, following
// distribution's registry/storage/driver.Error so callers can distinguish
// "backend misbehaved" from the sentinel errors above.
type Error struct {
	DriverName string
	Enclosed   error
}

func (e Error) Error() string {
	return fmt.Sprintf("%s: %s", e.DriverName, e.Enclosed)
}

func (e Error) Unwrap() error { return e.Enclosed }
