// Package filesystem implements the local-disk storage backend (C3,
// spec.md §4.3): two-char digest sharding under blobs/, one file per
// reference under manifests/<repo>/, sparse staging files under
// uploads/<uuid>/, and commit-by-rename for atomicity.
package filesystem

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"

	"github.com/google/uuid"

	driver "github.com/ocistore/registry/registry/storage/driver"
	"github.com/ocistore/registry/registry/storage/driver/base"
	"github.com/ocistore/registry/registry/storage/driver/factory"
)

const driverName = "filesystem"

func init() {
	factory.Register(driverName, factory.FuncFactory(func(_ context.Context, params map[string]any) (driver.StorageDriver, error) {
		root, _ := params["rootdirectory"].(string)
		if root == "" {
			return nil, errors.New("filesystem: rootdirectory parameter is required")
		}
		return New(root), nil
	}))
}

type fsDriver struct {
	root string
}

type baseEmbed struct {
	base.Base
}

// Driver is a driver.StorageDriver backed by a local filesystem. All paths
// passed to the interface are subpaths of root.
type Driver struct {
	baseEmbed
}

// New constructs a Driver rooted at root. The root is not created here;
// directories are created on demand when content is written or moved.
func New(root string) *Driver {
	return &Driver{baseEmbed{base.Base{StorageDriver: &fsDriver{root: root}}}}
}

func (d *fsDriver) Name() string { return driverName }

func (d *fsDriver) fullPath(p string) string {
	return filepath.Join(d.root, filepath.FromSlash(p))
}

func (d *fsDriver) GetContent(ctx context.Context, p string) ([]byte, error) {
	rc, err := d.Reader(ctx, p, 0)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

// PutContent writes content via a temp file in the same directory, then
// renames into place, per spec.md §4.3's commit protocol: a reader never
// observes a partially written file.
func (d *fsDriver) PutContent(ctx context.Context, p string, content []byte) error {
	tmp := fmt.Sprintf("%s.%s.tmp", p, uuid.NewString())
	w, err := d.Writer(ctx, tmp, false)
	if err != nil {
		return err
	}
	if _, err := io.Copy(w, bytes.NewReader(content)); err != nil {
		w.Cancel(ctx)
		return err
	}
	if err := w.Commit(ctx); err != nil {
		return err
	}
	w.Close()
	if err := d.Move(ctx, tmp, p); err != nil {
		d.Delete(ctx, tmp)
		return err
	}
	return nil
}

func (d *fsDriver) Reader(ctx context.Context, p string, offset int64) (io.ReadCloser, error) {
	f, err := os.Open(d.fullPath(p))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, driver.PathNotFoundError{Path: p, DriverName: driverName}
		}
		return nil, err
	}
	if seekPos, err := f.Seek(offset, io.SeekStart); err != nil || seekPos < offset {
		f.Close()
		if err == nil {
			err = driver.InvalidOffsetError{Path: p, Offset: offset, DriverName: driverName}
		}
		return nil, err
	}
	return f, nil
}

func (d *fsDriver) Writer(ctx context.Context, p string, appendMode bool) (driver.FileWriter, error) {
	full := d.fullPath(p)
	if err := os.MkdirAll(path.Dir(full), 0o777); err != nil {
		return nil, err
	}
	fp, err := os.OpenFile(full, os.O_WRONLY|os.O_CREATE, 0o666)
	if err != nil {
		return nil, err
	}
	var offset int64
	if !appendMode {
		if err := fp.Truncate(0); err != nil {
			fp.Close()
			return nil, err
		}
	} else if offset, err = fp.Seek(0, io.SeekEnd); err != nil {
		fp.Close()
		return nil, err
	}
	return &fileWriter{file: fp, size: offset}, nil
}

func (d *fsDriver) Stat(ctx context.Context, p string) (driver.FileInfo, error) {
	fi, err := os.Stat(d.fullPath(p))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, driver.PathNotFoundError{Path: p, DriverName: driverName}
		}
		return nil, err
	}
	return fileInfo{path: p, FileInfo: fi}, nil
}

func (d *fsDriver) List(ctx context.Context, p string) ([]string, error) {
	full := d.fullPath(p)
	dir, err := os.Open(full)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, driver.PathNotFoundError{Path: p, DriverName: driverName}
		}
		return nil, err
	}
	defer dir.Close()

	names, err := dir.Readdirnames(0)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(names))
	for _, n := range names {
		out = append(out, path.Join(p, n))
	}
	sort.Strings(out)
	return out, nil
}

func (d *fsDriver) Move(ctx context.Context, src, dst string) error {
	full := d.fullPath(src)
	if _, err := os.Stat(full); os.IsNotExist(err) {
		return driver.PathNotFoundError{Path: src, DriverName: driverName}
	}
	if err := os.MkdirAll(path.Dir(d.fullPath(dst)), 0o777); err != nil {
		return err
	}
	return os.Rename(full, d.fullPath(dst))
}

func (d *fsDriver) Delete(ctx context.Context, p string) error {
	full := d.fullPath(p)
	if _, err := os.Stat(full); err != nil {
		if os.IsNotExist(err) {
			return nil // absent is success, spec.md §4.2
		}
		return err
	}
	return os.RemoveAll(full)
}

func (d *fsDriver) URLFor(ctx context.Context, p string, options map[string]any) (string, error) {
	return "", nil
}

type fileInfo struct {
	path string
	os.FileInfo
}

func (fi fileInfo) Path() string { return fi.path }

type fileWriter struct {
	file      *os.File
	size      int64
	closed    bool
	committed bool
	cancelled bool
}

func (w *fileWriter) Write(p []byte) (int, error) {
	if w.closed {
		return 0, errors.New("filesystem: writer already closed")
	}
	n, err := w.file.Write(p)
	w.size += int64(n)
	return n, err
}

func (w *fileWriter) Size() int64 { return w.size }

func (w *fileWriter) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	return w.file.Close()
}

func (w *fileWriter) Cancel(ctx context.Context) error {
	w.cancelled = true
	w.file.Close()
	w.closed = true
	return os.Remove(w.file.Name())
}

func (w *fileWriter) Commit(ctx context.Context) error {
	if w.closed {
		return errors.New("filesystem: already closed")
	}
	w.committed = true
	return w.file.Sync()
}
