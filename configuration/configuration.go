// Package configuration parses the registry's TOML configuration file
// (spec.md §6 "Configuration"), following distribution's configuration
// package structuring: a single root struct and nested structs per
// concern, with typed fields for the backend-specific storage options
// (storage.path, storage.s3). Unlike the teacher, the wire format is TOML, not YAML (spec.md
// §6 mandates TOML), and there is no multi-version conversion pipeline —
// spec.md names no prior configuration version to migrate from.
package configuration

import (
	"bytes"
	"fmt"
	"os"

	toml "github.com/pelletier/go-toml/v2"
)

// Configuration is the top-level shape loaded from --config. Field names
// mirror spec.md §6's enumerated option list exactly; unrecognized keys
// in the file are a config error (go-toml's strict decode below).
type Configuration struct {
	Server           Server           `toml:"server"`
	Storage          Storage          `toml:"storage"`
	Auth             Auth             `toml:"auth"`
	Registry         Registry         `toml:"registry"`
	GarbageCollector GarbageCollector `toml:"garbage_collector"`
}

// Server holds the HTTP listener and resource limits (spec.md §6
// "server").
type Server struct {
	BindAddr              string `toml:"bind_addr"`
	Workers               int    `toml:"workers"`
	MaxConnections        int    `toml:"max_connections"`
	MaxUploadSizeMB       int64  `toml:"max_upload_size_mb"`
	ShutdownTimeoutSeconds int   `toml:"shutdown_timeout_seconds"`
}

// Storage selects and configures one backend (spec.md §6 "storage").
type Storage struct {
	Type string `toml:"type"`
	Path string `toml:"path"`
	S3   S3     `toml:"s3"`
}

// S3 configures the object-store backend (spec.md §6 "storage.s3").
type S3 struct {
	Endpoint  string `toml:"endpoint"`
	Region    string `toml:"region"`
	Bucket    string `toml:"bucket"`
	AccessKey string `toml:"access_key"`
	SecretKey string `toml:"secret_key"`
	PathStyle bool   `toml:"path_style"`
}

// Auth selects and configures the AuthN/AuthZ hook (spec.md §6 "auth").
type Auth struct {
	Mode             string      `toml:"mode"` // "basic" or "token"
	JWTSecret        string      `toml:"jwt_secret"`
	TokenExpiryHours int         `toml:"token_expiry_hours"`
	Basic            BasicConfig `toml:"basic"`
}

// BasicConfig is the static user list for auth.mode = "basic" (spec.md
// §6 "auth.basic.users").
type BasicConfig struct {
	Users []string `toml:"users"` // "username:password_hash" entries
}

// Registry holds distribution-protocol-level policy knobs (spec.md §6
// "registry"), including the two dormant-in-the-source settings
// (immutable_tags, min_age_days) this implementation chooses to enforce
// per DESIGN.md's Open Question decision.
type Registry struct {
	MaxUploadSizeMB   int64    `toml:"max_upload_size_mb"`
	RateLimitPerHour  int      `toml:"rate_limit_per_hour"`
	ImmutableTags     []string `toml:"immutable_tags"`
	MinAgeDays        int      `toml:"min_age_days"`
	ManifestCacheSize int      `toml:"manifest_cache_size"`
}

// GarbageCollector configures C10 (spec.md §6 "garbage_collector").
type GarbageCollector struct {
	Enabled         bool `toml:"enabled"`
	IntervalHours   int  `toml:"interval_hours"`
	GracePeriodHours int `toml:"grace_period_hours"`
	DryRun          bool `toml:"dry_run"`
	MaxBlobsPerRun  int  `toml:"max_blobs_per_run"`
}

// ConfigurationError wraps a malformed configuration file or an invalid
// combination of settings; the CLI maps this to exit code 64 (spec.md §6
// "CLI surface").
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string { return "configuration error: " + e.Reason }

// Parse decodes raw TOML bytes into a Configuration, rejecting unknown
// fields (go-toml's DisallowUnknownFields) so a typo'd key fails fast at
// startup rather than being silently ignored.
func Parse(raw []byte) (*Configuration, error) {
	var c Configuration
	dec := toml.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&c); err != nil {
		return nil, &ConfigurationError{Reason: err.Error()}
	}
	applyDefaults(&c)
	if err := c.validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Load reads and parses the TOML file at path.
func Load(path string) (*Configuration, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, &ConfigurationError{Reason: err.Error()}
	}
	return Parse(raw)
}

func applyDefaults(c *Configuration) {
	if c.Server.BindAddr == "" {
		c.Server.BindAddr = ":5000"
	}
	if c.Server.Workers <= 0 {
		c.Server.Workers = 1
	}
	if c.Server.MaxUploadSizeMB <= 0 {
		c.Server.MaxUploadSizeMB = 2048
	}
	if c.Server.ShutdownTimeoutSeconds <= 0 {
		c.Server.ShutdownTimeoutSeconds = 30
	}
	if c.Registry.MaxUploadSizeMB <= 0 {
		c.Registry.MaxUploadSizeMB = c.Server.MaxUploadSizeMB
	}
	if c.Registry.ManifestCacheSize <= 0 {
		c.Registry.ManifestCacheSize = 1024
	}
	if c.Auth.TokenExpiryHours <= 0 {
		c.Auth.TokenExpiryHours = 1
	}
	if c.GarbageCollector.GracePeriodHours <= 0 {
		c.GarbageCollector.GracePeriodHours = 24
	}
	if c.GarbageCollector.IntervalHours <= 0 {
		c.GarbageCollector.IntervalHours = 24
	}
}

func (c *Configuration) validate() error {
	switch c.Storage.Type {
	case "filesystem":
		if c.Storage.Path == "" {
			return &ConfigurationError{Reason: "storage.path is required for storage.type = filesystem"}
		}
	case "s3":
		if c.Storage.S3.Bucket == "" {
			return &ConfigurationError{Reason: "storage.s3.bucket is required for storage.type = s3"}
		}
	case "inmemory":
		// No parameters; ephemeral store for tests and trials.
	case "":
		return &ConfigurationError{Reason: "storage.type is required"}
	default:
		return &ConfigurationError{Reason: fmt.Sprintf("unknown storage.type %q", c.Storage.Type)}
	}

	switch c.Auth.Mode {
	case "basic", "token", "":
	default:
		return &ConfigurationError{Reason: fmt.Sprintf("unknown auth.mode %q", c.Auth.Mode)}
	}
	if c.Auth.Mode == "token" && c.Auth.JWTSecret == "" {
		return &ConfigurationError{Reason: "auth.jwt_secret is required for auth.mode = token"}
	}
	return nil
}
