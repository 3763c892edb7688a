// Command registry runs the distribution API server: a single process
// serving the /v2 endpoints, the admin surface, and the observability
// endpoints, with the GC scheduler and upload TTL reaper as background
// tasks (spec.md §6 "CLI surface").
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/ocistore/registry/configuration"
	"github.com/ocistore/registry/internal/dcontext"
	"github.com/ocistore/registry/internal/metrics"
	"github.com/ocistore/registry/registry/handlers"
	"github.com/ocistore/registry/registry/storage/driver/factory"
	_ "github.com/ocistore/registry/registry/storage/driver/filesystem"
	_ "github.com/ocistore/registry/registry/storage/driver/inmemory"
	_ "github.com/ocistore/registry/registry/storage/driver/s3"
)

// Exit codes per spec.md §6: 0 clean shutdown, 64 config error, 70
// backend init error, 130 SIGINT.
const (
	exitOK      = 0
	exitConfig  = 64
	exitBackend = 70
	exitSignal  = 130
)

type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit code %d", e.code)
	}
	return e.err.Error()
}

func main() {
	var configPath string
	var bindAddr string

	rootCmd := &cobra.Command{
		Use:           "registry",
		Short:         "OCI distribution registry",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(configPath, bindAddr)
		},
	}
	rootCmd.Flags().StringVar(&configPath, "config", "", "path to the TOML configuration file")
	rootCmd.Flags().StringVar(&bindAddr, "bind", "", "listen address, overriding server.bind_addr")

	if err := rootCmd.Execute(); err != nil {
		var ee *exitError
		if errors.As(err, &ee) {
			if ee.err != nil {
				fmt.Fprintln(os.Stderr, ee.err)
			}
			os.Exit(ee.code)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitConfig)
	}
	os.Exit(exitOK)
}

func serve(configPath, bindAddr string) error {
	if configPath == "" {
		return &exitError{code: exitConfig, err: errors.New("--config is required")}
	}
	config, err := configuration.Load(configPath)
	if err != nil {
		return &exitError{code: exitConfig, err: err}
	}
	if bindAddr != "" {
		config.Server.BindAddr = bindAddr
	}

	configureLogging()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	d, err := factory.Create(ctx, config.Storage.Type, driverParameters(config))
	if err != nil {
		var unknownDriver factory.InvalidStorageDriverError
		if errors.As(err, &unknownDriver) {
			return &exitError{code: exitConfig, err: err}
		}
		return &exitError{code: exitBackend, err: err}
	}

	app := handlers.NewApp(ctx, config, d)
	logger := dcontext.GetLogger(ctx)

	server := &http.Server{
		Addr:    config.Server.BindAddr,
		Handler: app,
	}

	go runGCScheduler(ctx, app, config)
	go runUploadReaper(ctx, app)

	errCh := make(chan error, 1)
	go func() {
		logger.WithField("addr", config.Server.BindAddr).Info("registry listening")
		errCh <- server.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	exitCode := exitOK
	select {
	case sig := <-sigCh:
		logger.WithField("signal", sig.String()).Info("shutting down")
		if sig == syscall.SIGINT {
			exitCode = exitSignal
		}
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return &exitError{code: exitBackend, err: err}
		}
	}

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(),
		time.Duration(config.Server.ShutdownTimeoutSeconds)*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("graceful shutdown incomplete")
	}

	if exitCode != exitOK {
		return &exitError{code: exitCode}
	}
	return nil
}

// configureLogging applies the LOG (or LOG_LEVEL) environment variable,
// the only configuration read from the environment (spec.md §6).
func configureLogging() {
	levelStr := os.Getenv("LOG")
	if levelStr == "" {
		levelStr = os.Getenv("LOG_LEVEL")
	}
	level := logrus.InfoLevel
	if levelStr != "" {
		if parsed, err := logrus.ParseLevel(levelStr); err == nil {
			level = parsed
		}
	}
	logrus.SetLevel(level)
	logrus.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano})
	dcontext.SetDefaultLogger(logrus.NewEntry(logrus.StandardLogger()))
}

func driverParameters(config *configuration.Configuration) map[string]any {
	switch config.Storage.Type {
	case "filesystem":
		return map[string]any{"rootdirectory": config.Storage.Path}
	case "s3":
		s3Config := config.Storage.S3
		return map[string]any{
			"endpoint":   s3Config.Endpoint,
			"region":     s3Config.Region,
			"bucket":     s3Config.Bucket,
			"access_key": s3Config.AccessKey,
			"secret_key": s3Config.SecretKey,
			"path_style": s3Config.PathStyle,
		}
	default:
		return map[string]any{}
	}
}

// runGCScheduler triggers a collection run every interval_hours while
// enabled (spec.md §4.10 "periodic (or on-demand)").
func runGCScheduler(ctx context.Context, app *handlers.App, config *configuration.Configuration) {
	if !config.GarbageCollector.Enabled {
		return
	}
	interval := time.Duration(config.GarbageCollector.IntervalHours) * time.Hour
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := app.RunGC(ctx, config.GarbageCollector.DryRun); err != nil {
				dcontext.GetLogger(ctx).WithError(err).Warn("scheduled garbage collection failed")
			}
		}
	}
}

// uploadTTL is how long an upload session survives, measured from the
// session's start, before the reaper reclaims its staging data. Writes
// to a session do not extend it, and the value is fixed here rather than
// read from configuration.
const uploadTTL = time.Hour

func runUploadReaper(ctx context.Context, app *handlers.App) {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			reaped, err := app.Registry().Uploads().ReapExpired(ctx, uploadTTL)
			if err != nil {
				dcontext.GetLogger(ctx).WithError(err).Warn("upload session reap failed")
				continue
			}
			if reaped > 0 {
				metrics.UploadsReaped.Add(float64(reaped))
				dcontext.GetLogger(ctx).WithField("reaped", reaped).Info("expired upload sessions removed")
			}
		}
	}
}
