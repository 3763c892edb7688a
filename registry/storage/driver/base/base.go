// Package base wraps a concrete StorageDriver with common path validation
// and debug-duration logging, so each backend only has to implement its
// own I/O. Concrete backends embed Base and proxy through it, following
// distribution's registry/storage/driver/base pattern.
package base

import (
	"context"
	"io"
	"regexp"
	"time"

	"github.com/ocistore/registry/internal/dcontext"
	driver "github.com/ocistore/registry/registry/storage/driver"
)

// pathRegexp matches absolute, slash-separated paths built only from the
// component grammar our own path layout ever generates; '@' appears in
// digest-addressed manifest entries (see storage's reference escaping).
var pathRegexp = regexp.MustCompile(`^(/[A-Za-z0-9_.:=@-]+)+$`)

// Base wraps an embedded StorageDriver, validating paths before every
// call reaches the concrete implementation.
type Base struct {
	driver.StorageDriver
}

func (b *Base) invalid(path string) error {
	return driver.InvalidPathError{Path: path, DriverName: b.StorageDriver.Name()}
}

func logDuration(ctx context.Context, name string, started time.Time) {
	dcontext.GetLoggerWithField(ctx, "duration", time.Since(started)).Debugf("storage.%s.%s", "driver", name)
}

func (b *Base) GetContent(ctx context.Context, path string) ([]byte, error) {
	if !pathRegexp.MatchString(path) {
		return nil, b.invalid(path)
	}
	defer logDuration(ctx, "GetContent", time.Now())
	return b.StorageDriver.GetContent(ctx, path)
}

func (b *Base) PutContent(ctx context.Context, path string, content []byte) error {
	if !pathRegexp.MatchString(path) {
		return b.invalid(path)
	}
	defer logDuration(ctx, "PutContent", time.Now())
	return b.StorageDriver.PutContent(ctx, path, content)
}

func (b *Base) Reader(ctx context.Context, path string, offset int64) (io.ReadCloser, error) {
	if offset < 0 {
		return nil, driver.InvalidOffsetError{Path: path, Offset: offset, DriverName: b.StorageDriver.Name()}
	}
	if !pathRegexp.MatchString(path) {
		return nil, b.invalid(path)
	}
	defer logDuration(ctx, "Reader", time.Now())
	return b.StorageDriver.Reader(ctx, path, offset)
}

func (b *Base) Writer(ctx context.Context, path string, appendMode bool) (driver.FileWriter, error) {
	if !pathRegexp.MatchString(path) {
		return nil, b.invalid(path)
	}
	defer logDuration(ctx, "Writer", time.Now())
	return b.StorageDriver.Writer(ctx, path, appendMode)
}

func (b *Base) Stat(ctx context.Context, path string) (driver.FileInfo, error) {
	if !pathRegexp.MatchString(path) {
		return nil, b.invalid(path)
	}
	defer logDuration(ctx, "Stat", time.Now())
	return b.StorageDriver.Stat(ctx, path)
}

func (b *Base) List(ctx context.Context, path string) ([]string, error) {
	if path != "/" && !pathRegexp.MatchString(path) {
		return nil, b.invalid(path)
	}
	defer logDuration(ctx, "List", time.Now())
	return b.StorageDriver.List(ctx, path)
}

func (b *Base) Move(ctx context.Context, src, dst string) error {
	if !pathRegexp.MatchString(src) {
		return b.invalid(src)
	}
	if !pathRegexp.MatchString(dst) {
		return b.invalid(dst)
	}
	defer logDuration(ctx, "Move", time.Now())
	return b.StorageDriver.Move(ctx, src, dst)
}

func (b *Base) Delete(ctx context.Context, path string) error {
	if !pathRegexp.MatchString(path) {
		return b.invalid(path)
	}
	defer logDuration(ctx, "Delete", time.Now())
	return b.StorageDriver.Delete(ctx, path)
}
