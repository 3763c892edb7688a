// Package handlers implements the HTTP layer of the registry: the
// distribution API endpoints (C5-C8), the admin surface (C11), and the
// request-scoped plumbing (auth gating, backpressure, rate limiting,
// metrics) that wraps them.
package handlers

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/ocistore/registry/configuration"
	"github.com/ocistore/registry/health"
	"github.com/ocistore/registry/health/checks"
	"github.com/ocistore/registry/internal/dcontext"
	"github.com/ocistore/registry/internal/metrics"
	"github.com/ocistore/registry/registry/api/errcode"
	v2 "github.com/ocistore/registry/registry/api/v2"
	"github.com/ocistore/registry/registry/auth"
	"github.com/ocistore/registry/registry/storage"
	"github.com/ocistore/registry/registry/storage/cache"
	driver "github.com/ocistore/registry/registry/storage/driver"
)

const mebibyte = 1 << 20

// App is the registry application: shared resources placed here are
// accessible from every request. Writable fields are protected.
type App struct {
	context.Context

	Config *configuration.Configuration

	// InstanceID identifies this process across restarts in logs.
	InstanceID string

	router           *mux.Router
	driver           driver.StorageDriver
	registry         *storage.Registry
	gc               *storage.GarbageCollector
	accessController auth.AccessController
	urlBuilder       *v2.URLBuilder
	manifestCache    *cache.ManifestCache
	healthRegistry   *health.Registry

	// uploadBytes bounds concurrent upload bytes in flight (spec.md §5
	// "Backpressure"). Acquired per request body, released when the
	// request completes.
	uploadBytes *semaphore.Weighted

	limiter *identityLimiter

	// lastGC holds the most recent storage.GCStats for the admin status
	// endpoint.
	lastGC atomic.Value
}

// NewApp wires a configured application over d. The caller owns driver
// lifecycle; NewApp never touches the backend beyond handler wiring.
func NewApp(ctx context.Context, config *configuration.Configuration, d driver.StorageDriver) *App {
	reg := storage.NewRegistry(d)

	manifestCache := cache.NewManifestCache(config.Registry.ManifestCacheSize)

	gc := storage.NewGarbageCollector(reg)
	gc.GracePeriod = time.Duration(config.GarbageCollector.GracePeriodHours) * time.Hour
	gc.MaxBlobsPerRun = config.GarbageCollector.MaxBlobsPerRun
	gc.OnSweepComplete = manifestCache.Purge

	app := &App{
		Context:        ctx,
		Config:         config,
		InstanceID:     uuid.New().String(),
		router:         v2.Router(),
		driver:         d,
		registry:       reg,
		gc:             gc,
		urlBuilder:     v2.NewURLBuilder(),
		manifestCache:  manifestCache,
		healthRegistry: health.NewRegistry(),
		uploadBytes:    semaphore.NewWeighted(uploadBytesCapacity(config)),
		limiter:        newIdentityLimiter(config.Registry.RateLimitPerHour),
	}

	app.Context = dcontext.WithLogger(app.Context,
		dcontext.GetLoggerWithField(app.Context, "instance.id", app.InstanceID))

	app.accessController = buildAccessController(config)

	app.healthRegistry.Register("storage", checks.StorageChecker(reg))

	app.register(v2.RouteNameBase, baseDispatcher)
	app.register(v2.RouteNameCatalog, catalogDispatcher)
	app.register(v2.RouteNameTags, tagsDispatcher)
	app.register(v2.RouteNameManifest, manifestDispatcher)
	app.register(v2.RouteNameBlob, blobDispatcher)
	app.register(v2.RouteNameBlobUpload, blobUploadDispatcher)
	app.register(v2.RouteNameBlobUploadChunk, blobUploadDispatcher)
	app.register(v2.RouteNameRepository, repositoryDispatcher)
	app.register(v2.RouteNameAdminGC, adminGCDispatcher)
	app.register(v2.RouteNameAdminGCStatus, adminGCStatusDispatcher)

	app.router.Path("/health").Handler(health.Handler()).Methods("GET")
	app.router.Path("/readyz").Handler(health.ReadyHandler(app.healthRegistry)).Methods("GET")
	app.router.Path("/metrics").Handler(metrics.Handler()).Methods("GET")

	return app
}

// Registry exposes the storage façade, used by the upload TTL reaper
// started from cmd/registry.
func (app *App) Registry() *storage.Registry { return app.registry }

// GC exposes the collector so its settings can be adjusted; the
// background scheduler runs collections through RunGC.
func (app *App) GC() *storage.GarbageCollector { return app.gc }

func buildAccessController(config *configuration.Configuration) auth.AccessController {
	switch config.Auth.Mode {
	case "basic":
		users := make([]auth.BasicUser, 0, len(config.Auth.Basic.Users))
		for _, entry := range config.Auth.Basic.Users {
			username, hash, ok := splitUserEntry(entry)
			if !ok {
				continue
			}
			users = append(users, auth.BasicUser{Username: username, PasswordHash: hash})
		}
		return auth.NewBasicController("registry", users)
	case "token":
		return auth.NewTokenController("registry", []byte(config.Auth.JWTSecret))
	default:
		return nil
	}
}

func splitUserEntry(entry string) (username, hash string, ok bool) {
	for i := 0; i < len(entry); i++ {
		if entry[i] == ':' {
			return entry[:i], entry[i+1:], i > 0 && i < len(entry)-1
		}
	}
	return "", "", false
}

func uploadBytesCapacity(config *configuration.Configuration) int64 {
	workers := config.Server.Workers
	if workers <= 0 {
		workers = 1
	}
	return config.Server.MaxUploadSizeMB * mebibyte * int64(workers) * 2
}

// ServeHTTP implements http.Handler for the whole application.
func (app *App) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	w.Header().Add("Docker-Distribution-API-Version", "registry/2.0")
	app.router.ServeHTTP(w, r)
}

// dispatchFunc takes a request context and returns a constructed handler
// for the route, built fresh per request.
type dispatchFunc func(ctx *Context, r *http.Request) http.Handler

// register hangs a dispatcher off the named route.
func (app *App) register(routeName string, dispatch dispatchFunc) {
	app.router.Get(routeName).Handler(app.dispatcher(routeName, dispatch))
}

// dispatcher wraps a route handler with the shared request pipeline:
// request id and logger, authorization, rate limiting, error envelope
// rendering, and request metrics.
func (app *App) dispatcher(routeName string, dispatch dispatchFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := uuid.New().String()

		ctx := dcontext.WithRequestID(app.Context, requestID)
		ctx = dcontext.WithLogger(ctx, dcontext.GetLogger(ctx).
			WithField("request.id", requestID).
			WithField("http.request.method", r.Method).
			WithField("http.request.uri", r.URL.RequestURI()))

		context := &Context{
			Context:    ctx,
			App:        app,
			urlBuilder: app.urlBuilder,
			vars:       mux.Vars(r),
		}

		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		defer func() {
			metrics.RequestsTotal.WithLabelValues(r.Method, routeName, strconv.Itoa(sw.status)).Inc()
			dcontext.GetLogger(ctx).
				WithField("http.response.status", sw.status).
				Debug("request completed")
		}()

		if !app.authorized(sw, r, context) {
			return
		}

		if !app.admitted(sw, r, context) {
			return
		}

		dispatch(context, r).ServeHTTP(sw, r)

		if len(context.Errors) > 0 {
			app.serveErrors(sw, r, context.Errors)
		}
	})
}

// authorized runs the access controller for non-public endpoints,
// writing the 401/403 response itself on failure.
func (app *App) authorized(w http.ResponseWriter, r *http.Request, context *Context) bool {
	if auth.IsPublic(r.Method, r.URL.Path) {
		return true
	}
	required, needed := auth.RequiredScope(r.Method, r.URL.Path)
	if !needed || app.accessController == nil {
		return true
	}

	ctx, err := app.accessController.Authorized(context.Context, r, required)
	if err != nil {
		switch err := err.(type) {
		case *auth.AuthenticationError:
			err.SetChallengeHeaders(w.Header())
			app.serveErrors(w, r, errcode.Errors{errcode.ErrorCodeUnauthorized.WithDetail(err.Reason)})
		case *auth.AuthorizationError:
			app.serveErrors(w, r, errcode.Errors{errcode.ErrorCodeDenied.WithDetail(err.Required.String())})
		default:
			dcontext.GetLogger(context.Context).WithError(err).Error("access controller failure")
			app.serveErrors(w, r, errcode.Errors{errcode.ErrorCodeUnknown})
		}
		return false
	}
	context.Context = ctx
	return true
}

// admitted applies the per-identity rate limit to mutating requests
// (spec.md §4.14 "rate limiting"), sharing the 503 + Retry-After shape
// with the upload backpressure path.
func (app *App) admitted(w http.ResponseWriter, r *http.Request, context *Context) bool {
	switch r.Method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
	default:
		return true
	}
	if app.limiter.allow(identityKey(context.Context, r)) {
		return true
	}
	serveTooBusy(w)
	return false
}

// acquireUploadBytes reserves n bytes of the global upload budget,
// returning a release func, or false when the server is saturated
// (spec.md §5 "Backpressure": 503 with Retry-After).
func (app *App) acquireUploadBytes(n int64) (func(), bool) {
	if n <= 0 {
		n = 1
	}
	if !app.uploadBytes.TryAcquire(n) {
		return nil, false
	}
	return func() { app.uploadBytes.Release(n) }, true
}

func serveTooBusy(w http.ResponseWriter) {
	w.Header().Set("Retry-After", "1")
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusServiceUnavailable)
	buf, _ := errcode.Errors{errcode.ErrorCodeUnknown.WithMessage("server is busy")}.MarshalJSON()
	w.Write(buf)
}

// serveErrors renders the error envelope. HEAD responses carry status
// and headers only (spec.md §7 "HEAD responses never carry bodies").
func (app *App) serveErrors(w http.ResponseWriter, r *http.Request, errs errcode.Errors) {
	if r.Method == http.MethodHead {
		status := http.StatusInternalServerError
		if len(errs) > 0 {
			if coder, ok := errs[0].(errcode.ErrorCoder); ok {
				status = coder.ErrorCode().Descriptor().HTTPStatusCode
			}
		}
		w.WriteHeader(status)
		return
	}
	serveJSON(w, errs)
}

// statusWriter records the first status code written, for metrics and
// the completion log line.
type statusWriter struct {
	http.ResponseWriter
	status  int
	written bool
}

func (sw *statusWriter) WriteHeader(status int) {
	if !sw.written {
		sw.status = status
		sw.written = true
	}
	sw.ResponseWriter.WriteHeader(status)
}

func (sw *statusWriter) Write(p []byte) (int, error) {
	sw.written = true
	return sw.ResponseWriter.Write(p)
}

func (sw *statusWriter) Flush() {
	if flusher, ok := sw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

// identityLimiter applies a per-identity token bucket sized from
// registry.rate_limit_per_hour. A zero limit disables rate limiting.
type identityLimiter struct {
	perHour int

	mu      sync.Mutex
	buckets map[string]*rate.Limiter
}

func newIdentityLimiter(perHour int) *identityLimiter {
	return &identityLimiter{perHour: perHour, buckets: map[string]*rate.Limiter{}}
}

func (il *identityLimiter) allow(key string) bool {
	if il.perHour <= 0 {
		return true
	}
	il.mu.Lock()
	bucket, ok := il.buckets[key]
	if !ok {
		bucket = rate.NewLimiter(rate.Every(time.Hour/time.Duration(il.perHour)), il.perHour)
		il.buckets[key] = bucket
	}
	il.mu.Unlock()
	return bucket.Allow()
}

// identityKey resolves the rate-limit bucket key: the authenticated
// subject when present, the client address otherwise.
func identityKey(ctx context.Context, r *http.Request) string {
	if id, ok := auth.IdentityFromContext(ctx); ok && id.Subject != "" {
		return "user:" + id.Subject
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "addr:" + host
}

// baseDispatcher serves the GET /v2/ API probe: an empty JSON body.
func baseDispatcher(ctx *Context, r *http.Request) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, "{}")
	})
}
