package storage

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ocistore/registry/digest"
	"github.com/ocistore/registry/internal/dcontext"
)

// GCStats reports one garbage collection run's outcome (spec.md §4.10
// "admin_run_gc" result shape).
type GCStats struct {
	OrphanedBlobsFound    int           `json:"orphanedBlobsFound"`
	BlobsDeleted          int           `json:"blobsDeleted"`
	OrphanedManifestsFound int          `json:"orphanedManifestsFound"`
	ManifestsDeleted      int           `json:"manifestsDeleted"`
	BytesFreed            int64         `json:"bytesFreed"`
	RunDuration           time.Duration `json:"runDurationSeconds"`
	DryRun                bool          `json:"dryRun"`
}

// manifestRefs is the shallow shape GC's mark phase walks to extract
// referenced digests, matching the fields spec.md §4.10 names:
// config.digest, layers[].digest, manifests[].digest (image indexes),
// and an optional foreignLayers list. Using a loose struct rather than a
// full OCI manifest type keeps mark phase tolerant of any recognized
// media type without round-tripping through image-spec's stricter types.
type manifestRefs struct {
	Config *struct {
		Digest digest.Digest `json:"digest"`
	} `json:"config"`
	Layers []struct {
		Digest digest.Digest `json:"digest"`
	} `json:"layers"`
	Manifests []struct {
		Digest digest.Digest `json:"digest"`
	} `json:"manifests"`
	ForeignLayers []struct {
		Digest digest.Digest `json:"digest"`
	} `json:"foreignLayers"`
}

// GarbageCollector runs the mark-and-sweep pass over a Registry (C10,
// spec.md §4.10). A single atomic guard ensures only one run executes at
// a time (invariant I6 "at most one GC run in flight"); a concurrent
// trigger observes the guard already held and returns immediately rather
// than queuing or blocking.
type GarbageCollector struct {
	registry *Registry

	GracePeriod   time.Duration
	MaxBlobsPerRun int
	Workers        int

	// Budget caps one run's wall-clock time; the sweep stops after the
	// in-flight blob when exceeded, reporting what was freed so far
	// (spec.md §5). Zero means unbounded.
	Budget time.Duration

	// OnSweepComplete, when set, runs after a non-dry run that deleted
	// anything. The collector works straight through the storage layer,
	// so the HTTP layer hangs its manifest-cache purge here to keep
	// swept digests from being served out of cache.
	OnSweepComplete func()

	running int32
}

// NewGarbageCollector constructs a collector with spec.md §6 defaults
// (24h grace period, unbounded per-run) and four sweep workers, overridable from
// configuration.
func NewGarbageCollector(reg *Registry) *GarbageCollector {
	return &GarbageCollector{
		registry:       reg,
		GracePeriod:    24 * time.Hour,
		MaxBlobsPerRun: 0,
		Workers:        4,
	}
}

// errGCAlreadyRunning is returned by Run when another run holds the
// single-flight guard.
var errGCAlreadyRunning = &gcAlreadyRunningError{}

type gcAlreadyRunningError struct{}

func (e *gcAlreadyRunningError) Error() string { return "garbage collection run already in progress" }

// IsAlreadyRunning reports whether err is the single-flight rejection.
func IsAlreadyRunning(err error) bool {
	_, ok := err.(*gcAlreadyRunningError)
	return ok
}

// Run executes one mark-and-sweep pass. When dryRun is true, orphans are
// counted but nothing is deleted (spec.md §4.10 "dry_run").
func (gc *GarbageCollector) Run(ctx context.Context, dryRun bool) (GCStats, error) {
	if !atomic.CompareAndSwapInt32(&gc.running, 0, 1) {
		return GCStats{}, errGCAlreadyRunning
	}
	defer atomic.StoreInt32(&gc.running, 0)

	start := time.Now()
	logger := dcontext.GetLogger(ctx)

	if gc.Budget > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithDeadline(ctx, start.Add(gc.Budget))
		defer cancel()
	}

	marked, tagged, err := gc.mark(ctx)
	if err != nil {
		return GCStats{}, err
	}

	stats, err := gc.sweep(ctx, marked, dryRun)
	if err != nil {
		return stats, err
	}

	if err := gc.sweepOrphanManifests(ctx, tagged, dryRun, &stats); err != nil {
		return stats, err
	}

	if !dryRun && (stats.BlobsDeleted > 0 || stats.ManifestsDeleted > 0) && gc.OnSweepComplete != nil {
		gc.OnSweepComplete()
	}

	stats.RunDuration = time.Since(start)
	stats.DryRun = dryRun

	logger.WithField("orphanedBlobs", stats.OrphanedBlobsFound).
		WithField("blobsDeleted", stats.BlobsDeleted).
		WithField("dryRun", dryRun).
		Info("garbage collection run complete")

	return stats, nil
}

// mark walks every repository's manifests (spec.md §4.10 "mark phase").
// It returns two sets: marked holds every stored manifest digest plus
// every digest those manifests reference — the blob sweep must not touch
// anything in it (I5 protects blobs reachable from *any* manifest, tagged
// or not) — while tagged holds only the manifests reachable from a tag
// pointer and the digests they reference, which is what decides
// orphan-manifest deletion.
func (gc *GarbageCollector) mark(ctx context.Context) (marked, tagged map[digest.Digest]bool, err error) {
	marked = map[digest.Digest]bool{}
	tagged = map[digest.Digest]bool{}

	repos, _, err := gc.registry.ListRepositories(ctx, "", 0)
	if err != nil {
		return nil, nil, err
	}

	for _, repo := range repos {
		tags, _, err := gc.registry.ListTags(ctx, repo, "", 0)
		if err != nil {
			return nil, nil, err
		}
		for _, tag := range tags {
			dgst, err := gc.registry.manifests.ResolveTag(ctx, repo, tag)
			if err != nil {
				continue
			}
			gc.markManifest(ctx, repo, dgst, tagged)
		}

		digests, err := gc.registry.ListManifestDigests(ctx, repo)
		if err != nil {
			return nil, nil, err
		}
		for _, dgst := range digests {
			gc.markManifest(ctx, repo, dgst, marked)
		}
	}

	for dgst := range tagged {
		marked[dgst] = true
	}
	return marked, tagged, nil
}

func (gc *GarbageCollector) markManifest(ctx context.Context, repo string, dgst digest.Digest, marked map[digest.Digest]bool) error {
	if marked[dgst] {
		return nil
	}
	marked[dgst] = true

	m, err := gc.registry.manifests.Get(ctx, repo, dgst.String())
	if err != nil {
		return err
	}

	var refs manifestRefs
	if err := json.Unmarshal(m.Content, &refs); err != nil {
		return nil
	}
	if refs.Config != nil && refs.Config.Digest != "" {
		marked[refs.Config.Digest] = true
	}
	for _, l := range refs.Layers {
		if l.Digest != "" {
			marked[l.Digest] = true
		}
	}
	for _, l := range refs.ForeignLayers {
		if l.Digest != "" {
			marked[l.Digest] = true
		}
	}
	for _, sub := range refs.Manifests {
		if sub.Digest == "" || marked[sub.Digest] {
			continue
		}
		// Index entry: a child manifest, walked transitively so its own
		// config and layers stay reachable.
		gc.markManifest(ctx, repo, sub.Digest, marked)
	}
	return nil
}

// sweep deletes every blob digest not in marked and older than the
// grace period, bounded by MaxBlobsPerRun, fanning work out across
// Workers goroutines (spec.md §4.10 "sweep phase", invariant I5 "recent
// blobs survive a grace period").
func (gc *GarbageCollector) sweep(ctx context.Context, marked map[digest.Digest]bool, dryRun bool) (GCStats, error) {
	all, err := gc.registry.ListAllBlobs(ctx)
	if err != nil {
		return GCStats{}, err
	}

	cutoff := time.Now().Add(-gc.GracePeriod)
	var candidates []digest.Digest
	var stats GCStats
	var dryRunBytes int64
	for _, dgst := range all {
		if marked[dgst] {
			continue
		}
		stats.OrphanedBlobsFound++
		meta, err := gc.registry.blobs.Metadata(ctx, dgst)
		if err != nil {
			continue
		}
		if meta.CreatedAt.After(cutoff) {
			continue
		}
		if gc.MaxBlobsPerRun > 0 && len(candidates) >= gc.MaxBlobsPerRun {
			continue
		}
		candidates = append(candidates, dgst)
		dryRunBytes += meta.Size
	}

	if dryRun {
		// Account what would be freed without deleting (spec.md §4.10
		// "log and account bytes").
		stats.BytesFreed = dryRunBytes
		return stats, nil
	}
	if len(candidates) == 0 {
		return stats, nil
	}

	var deleted int32
	var bytesFreed int64

	g, gctx := errgroup.WithContext(ctx)
	sem := make(chan struct{}, gc.workerCount())
	for _, dgst := range candidates {
		dgst := dgst
		sem <- struct{}{}
		g.Go(func() error {
			defer func() { <-sem }()
			meta, err := gc.registry.blobs.Metadata(gctx, dgst)
			if err != nil {
				return nil
			}
			if err := gc.registry.blobs.Delete(gctx, dgst); err != nil {
				return err
			}
			atomic.AddInt32(&deleted, 1)
			atomic.AddInt64(&bytesFreed, meta.Size)
			return nil
		})
	}
	err = g.Wait()
	stats.BlobsDeleted = int(deleted)
	stats.BytesFreed = bytesFreed
	if err != nil {
		// A budget deadline stops the sweep after the in-flight blob;
		// what was freed so far is still reported (spec.md §5).
		if errors.Is(err, context.DeadlineExceeded) {
			return stats, nil
		}
		return stats, err
	}
	return stats, nil
}

// sweepOrphanManifests removes digest-addressed manifests not reached
// by any tag pointer (spec.md §4.10 step 4), subject to the same grace
// period as blobs.
func (gc *GarbageCollector) sweepOrphanManifests(ctx context.Context, tagged map[digest.Digest]bool, dryRun bool, stats *GCStats) error {
	repos, _, err := gc.registry.ListRepositories(ctx, "", 0)
	if err != nil {
		return err
	}

	cutoff := time.Now().Add(-gc.GracePeriod)
	for _, repo := range repos {
		digests, err := gc.registry.ListManifestDigests(ctx, repo)
		if err != nil {
			return err
		}
		for _, dgst := range digests {
			if tagged[dgst] {
				continue
			}
			modTime, err := gc.registry.manifests.ModTime(ctx, repo, dgst.String())
			if err != nil {
				continue
			}
			if modTime.After(cutoff) {
				continue
			}
			stats.OrphanedManifestsFound++
			if dryRun {
				continue
			}
			if err := gc.registry.manifests.Delete(ctx, repo, dgst.String()); err != nil {
				if errors.Is(err, context.DeadlineExceeded) {
					return nil
				}
				return err
			}
			stats.ManifestsDeleted++
		}
	}
	return nil
}

func (gc *GarbageCollector) workerCount() int {
	if gc.Workers <= 0 {
		return 1
	}
	return gc.Workers
}
