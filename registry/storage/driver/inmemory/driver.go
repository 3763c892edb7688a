// Package inmemory implements an in-process key/value object store behind
// the StorageDriver interface: the "pluggable object store" named
// alongside filesystem and S3 in spec.md §1/§4.2. Used by the conformance
// test suite and for small, ephemeral deployments that don't want a disk
// or a cloud account.
package inmemory

import (
	"bytes"
	"context"
	"io"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	driver "github.com/ocistore/registry/registry/storage/driver"
	"github.com/ocistore/registry/registry/storage/driver/base"
	"github.com/ocistore/registry/registry/storage/driver/factory"
)

const driverName = "inmemory"

func init() {
	factory.Register(driverName, factory.FuncFactory(func(_ context.Context, _ map[string]any) (driver.StorageDriver, error) {
		return New(), nil
	}))
}

type object struct {
	content []byte
	modTime time.Time
}

type memDriver struct {
	mu      sync.RWMutex
	objects map[string]*object
}

type baseEmbed struct {
	base.Base
}

// Driver is an in-memory driver.StorageDriver, safe for concurrent use.
type Driver struct {
	baseEmbed
}

// New constructs an empty Driver.
func New() *Driver {
	return &Driver{baseEmbed{base.Base{StorageDriver: &memDriver{objects: map[string]*object{}}}}}
}

func (d *memDriver) Name() string { return driverName }

func normalize(p string) string {
	return path.Clean("/" + p)
}

func (d *memDriver) GetContent(ctx context.Context, p string) ([]byte, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	obj, ok := d.objects[normalize(p)]
	if !ok {
		return nil, driver.PathNotFoundError{Path: p, DriverName: driverName}
	}
	out := make([]byte, len(obj.content))
	copy(out, obj.content)
	return out, nil
}

func (d *memDriver) PutContent(ctx context.Context, p string, content []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	cp := make([]byte, len(content))
	copy(cp, content)
	d.objects[normalize(p)] = &object{content: cp, modTime: time.Now()}
	return nil
}

func (d *memDriver) Reader(ctx context.Context, p string, offset int64) (io.ReadCloser, error) {
	d.mu.RLock()
	obj, ok := d.objects[normalize(p)]
	d.mu.RUnlock()
	if !ok {
		return nil, driver.PathNotFoundError{Path: p, DriverName: driverName}
	}
	if offset < 0 || offset > int64(len(obj.content)) {
		return nil, driver.InvalidOffsetError{Path: p, Offset: offset, DriverName: driverName}
	}
	return io.NopCloser(bytes.NewReader(obj.content[offset:])), nil
}

func (d *memDriver) Writer(ctx context.Context, p string, appendMode bool) (driver.FileWriter, error) {
	key := normalize(p)
	var existing []byte
	if appendMode {
		d.mu.RLock()
		if obj, ok := d.objects[key]; ok {
			existing = append([]byte(nil), obj.content...)
		}
		d.mu.RUnlock()
	}
	return &memWriter{driver: d, key: key, buf: existing}, nil
}

func (d *memDriver) Stat(ctx context.Context, p string) (driver.FileInfo, error) {
	key := normalize(p)
	d.mu.RLock()
	defer d.mu.RUnlock()
	if obj, ok := d.objects[key]; ok {
		return fileInfo{path: p, size: int64(len(obj.content)), modTime: obj.modTime}, nil
	}
	prefix := strings.TrimSuffix(key, "/") + "/"
	for k := range d.objects {
		if strings.HasPrefix(k, prefix) {
			return fileInfo{path: p, isDir: true, modTime: time.Now()}, nil
		}
	}
	return nil, driver.PathNotFoundError{Path: p, DriverName: driverName}
}

func (d *memDriver) List(ctx context.Context, p string) ([]string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	prefix := strings.TrimSuffix(normalize(p), "/") + "/"
	seen := map[string]bool{}
	var out []string
	for k := range d.objects {
		if !strings.HasPrefix(k, prefix) {
			continue
		}
		rest := strings.TrimPrefix(k, prefix)
		child := strings.SplitN(rest, "/", 2)[0]
		full := prefix + child
		if !seen[full] {
			seen[full] = true
			out = append(out, full)
		}
	}
	if len(out) == 0 {
		if _, ok := d.objects[normalize(p)]; !ok {
			return nil, driver.PathNotFoundError{Path: p, DriverName: driverName}
		}
	}
	sort.Strings(out)
	return out, nil
}

func (d *memDriver) Move(ctx context.Context, src, dst string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	srcKey := normalize(src)
	obj, ok := d.objects[srcKey]
	if !ok {
		return driver.PathNotFoundError{Path: src, DriverName: driverName}
	}
	d.objects[normalize(dst)] = obj
	delete(d.objects, srcKey)
	return nil
}

func (d *memDriver) Delete(ctx context.Context, p string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	key := normalize(p)
	prefix := strings.TrimSuffix(key, "/") + "/"
	for k := range d.objects {
		if k == key || strings.HasPrefix(k, prefix) {
			delete(d.objects, k)
		}
	}
	return nil
}

func (d *memDriver) URLFor(ctx context.Context, p string, options map[string]any) (string, error) {
	return "", nil
}

type fileInfo struct {
	path    string
	size    int64
	modTime time.Time
	isDir   bool
}

func (fi fileInfo) Path() string       { return fi.path }
func (fi fileInfo) Size() int64        { return fi.size }
func (fi fileInfo) ModTime() time.Time { return fi.modTime }
func (fi fileInfo) IsDir() bool        { return fi.isDir }

type memWriter struct {
	driver    *memDriver
	key       string
	buf       []byte
	closed    bool
	committed bool
}

func (w *memWriter) Write(p []byte) (int, error) {
	w.buf = append(w.buf, p...)
	return len(p), nil
}

func (w *memWriter) Size() int64 { return int64(len(w.buf)) }

func (w *memWriter) Close() error {
	w.closed = true
	return nil
}

func (w *memWriter) Cancel(ctx context.Context) error {
	w.closed = true
	return nil
}

func (w *memWriter) Commit(ctx context.Context) error {
	w.driver.mu.Lock()
	defer w.driver.mu.Unlock()
	w.driver.objects[w.key] = &object{content: append([]byte(nil), w.buf...), modTime: time.Now()}
	w.committed = true
	return nil
}
