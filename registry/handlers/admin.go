package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/ocistore/registry/internal/dcontext"
	"github.com/ocistore/registry/internal/metrics"
	"github.com/ocistore/registry/registry/api/errcode"
	"github.com/ocistore/registry/registry/storage"
)

// adminGCDispatcher serves POST /admin/gc: triggers one mark-and-sweep
// run and returns its metrics (C11, spec.md §4.11). A run already in
// flight is reported as a conflict rather than queued (spec.md §4.10
// "single-flight").
func adminGCDispatcher(ctx *Context, r *http.Request) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			DryRun bool `json:"dry_run"`
		}
		if r.Body != nil {
			// An empty body means a normal run.
			json.NewDecoder(r.Body).Decode(&req)
		}
		dryRun := req.DryRun || ctx.App.Config.GarbageCollector.DryRun

		stats, err := ctx.App.RunGC(ctx.Context, dryRun)
		if err != nil {
			if storage.IsAlreadyRunning(err) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusConflict)
				json.NewEncoder(w).Encode(map[string]string{"status": "garbage collection already in progress"})
				return
			}
			ctx.Errors = append(ctx.Errors, errcode.ErrorCodeUnknown)
			dcontext.GetLogger(ctx.Context).WithError(err).Error("garbage collection run failed")
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(gcStatsBody(stats))
	})
}

// adminGCStatusDispatcher serves GET /admin/gc/status: the collector's
// configuration plus the last completed run's summary.
func adminGCStatusDispatcher(ctx *Context, r *http.Request) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gcConfig := ctx.App.Config.GarbageCollector
		body := map[string]any{
			"enabled":            gcConfig.Enabled,
			"interval_hours":     gcConfig.IntervalHours,
			"grace_period_hours": gcConfig.GracePeriodHours,
			"dry_run":            gcConfig.DryRun,
			"max_blobs_per_run":  gcConfig.MaxBlobsPerRun,
		}
		if stats, ok := ctx.App.lastGC.Load().(storage.GCStats); ok {
			body["last_run"] = gcStatsBody(stats)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(body)
	})
}

// RunGC executes one collection run, recording the outcome for the
// status endpoint and the GC metric counters. Shared by the admin
// trigger and the background scheduler.
func (app *App) RunGC(ctx context.Context, dryRun bool) (storage.GCStats, error) {
	stats, err := app.gc.Run(ctx, dryRun)
	if err != nil {
		if !storage.IsAlreadyRunning(err) {
			metrics.GCRuns.WithLabelValues("error").Inc()
		}
		return stats, err
	}
	app.lastGC.Store(stats)
	metrics.GCRuns.WithLabelValues("ok").Inc()
	metrics.GCBlobsDeleted.Add(float64(stats.BlobsDeleted))
	metrics.GCBytesFreed.Add(float64(stats.BytesFreed))
	return stats, nil
}

func gcStatsBody(stats storage.GCStats) map[string]any {
	return map[string]any{
		"orphaned_blobs_found":     stats.OrphanedBlobsFound,
		"blobs_deleted":            stats.BlobsDeleted,
		"orphaned_manifests_found": stats.OrphanedManifestsFound,
		"manifests_deleted":        stats.ManifestsDeleted,
		"bytes_freed":              stats.BytesFreed,
		"run_duration_seconds":     stats.RunDuration.Seconds(),
		"dry_run":                  stats.DryRun,
	}
}
