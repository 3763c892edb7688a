// Package checks provides the readiness checks wired into the health
// registry: a storage-backend reachability probe per spec.md §4.12
// ("a trivial list_repositories probe with timeout").
package checks

import (
	"context"

	"github.com/ocistore/registry/health"
	"github.com/ocistore/registry/registry/storage"
)

// StorageChecker probes the storage backend with a bounded repository
// listing. Any error other than an empty store marks the backend
// unreachable.
func StorageChecker(reg *storage.Registry) health.Checker {
	return health.CheckFunc(func(ctx context.Context) error {
		_, _, err := reg.ListRepositories(ctx, "", 1)
		return err
	})
}
