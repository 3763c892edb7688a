// Package factory is a registry of storage backend constructors, keyed by
// the storage.type config value, following distribution's
// registry/storage/driver/factory. Each backend package registers itself
// from an init() func; configuration selects one by name at startup.
package factory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	driver "github.com/ocistore/registry/registry/storage/driver"
)

// StorageDriverFactory constructs a driver.StorageDriver from parsed
// config parameters.
type StorageDriverFactory interface {
	Create(ctx context.Context, parameters map[string]any) (driver.StorageDriver, error)
}

// FuncFactory adapts a plain function to StorageDriverFactory.
type FuncFactory func(ctx context.Context, parameters map[string]any) (driver.StorageDriver, error)

func (f FuncFactory) Create(ctx context.Context, parameters map[string]any) (driver.StorageDriver, error) {
	return f(ctx, parameters)
}

var (
	mu       sync.RWMutex
	registry = map[string]StorageDriverFactory{}
)

// Register makes a backend available under name. Panics on duplicate
// registration, matching the teacher's fail-fast init-time behavior.
func Register(name string, f StorageDriverFactory) {
	mu.Lock()
	defer mu.Unlock()
	if _, ok := registry[name]; ok {
		panic(fmt.Sprintf("storage driver %q already registered", name))
	}
	registry[name] = f
}

// Create constructs the named backend, per spec.md §6 "storage.type".
func Create(ctx context.Context, name string, parameters map[string]any) (driver.StorageDriver, error) {
	mu.RLock()
	f, ok := registry[name]
	mu.RUnlock()
	if !ok {
		return nil, InvalidStorageDriverError{Name: name, Known: knownNames()}
	}
	return f.Create(ctx, parameters)
}

func knownNames() []string {
	mu.RLock()
	defer mu.RUnlock()
	names := make([]string, 0, len(registry))
	for n := range registry {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// InvalidStorageDriverError is returned by Create for an unregistered
// storage.type; the CLI surfaces this as a config error (exit code 64).
// Other Create errors are backend initialization errors (exit code 70).
type InvalidStorageDriverError struct {
	Name  string
	Known []string
}

func (e InvalidStorageDriverError) Error() string {
	return fmt.Sprintf("unknown storage driver %q (known: %v)", e.Name, e.Known)
}
