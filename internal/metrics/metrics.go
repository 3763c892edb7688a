// Package metrics holds the registry's Prometheus instrumentation (C12,
// spec.md §4.12): request counts, transfer byte counters, upload
// activity, and garbage collection outcomes. Counters are registered on
// the default registry and exposed at /metrics via promhttp.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// RequestsTotal counts completed HTTP requests by method, route
	// name, and response status code.
	RequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "registry",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "Completed HTTP requests.",
	}, []string{"method", "route", "code"})

	// BytesIn counts request body bytes accepted on upload paths.
	BytesIn = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "registry",
		Subsystem: "http",
		Name:      "bytes_in_total",
		Help:      "Request body bytes received on blob upload and manifest put paths.",
	})

	// BytesOut counts response body bytes served on blob and manifest
	// read paths.
	BytesOut = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "registry",
		Subsystem: "http",
		Name:      "bytes_out_total",
		Help:      "Response body bytes served on blob and manifest get paths.",
	})

	// UploadsStarted counts upload sessions opened.
	UploadsStarted = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "registry",
		Subsystem: "upload",
		Name:      "sessions_started_total",
		Help:      "Blob upload sessions opened.",
	})

	// UploadsCompleted counts upload sessions committed as blobs.
	UploadsCompleted = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "registry",
		Subsystem: "upload",
		Name:      "sessions_completed_total",
		Help:      "Blob upload sessions committed.",
	})

	// UploadsReaped counts sessions removed by the TTL reaper.
	UploadsReaped = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "registry",
		Subsystem: "upload",
		Name:      "sessions_reaped_total",
		Help:      "Expired blob upload sessions removed by the TTL reaper.",
	})

	// GCRuns counts garbage collection runs by outcome.
	GCRuns = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "registry",
		Subsystem: "gc",
		Name:      "runs_total",
		Help:      "Garbage collection runs.",
	}, []string{"outcome"})

	// GCBlobsDeleted counts blobs removed by the sweep phase.
	GCBlobsDeleted = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "registry",
		Subsystem: "gc",
		Name:      "blobs_deleted_total",
		Help:      "Blobs deleted by garbage collection.",
	})

	// GCBytesFreed counts bytes reclaimed by the sweep phase.
	GCBytesFreed = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "registry",
		Subsystem: "gc",
		Name:      "bytes_freed_total",
		Help:      "Bytes reclaimed by garbage collection.",
	})
)

func init() {
	prometheus.MustRegister(
		RequestsTotal,
		BytesIn,
		BytesOut,
		UploadsStarted,
		UploadsCompleted,
		UploadsReaped,
		GCRuns,
		GCBlobsDeleted,
		GCBytesFreed,
	)
}

// Handler returns the /metrics endpoint handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
