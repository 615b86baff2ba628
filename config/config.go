// Package config loads clinicdesk settings from a YAML file and the
// environment.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jmcleod/clinicdesk/backend"
	"github.com/jmcleod/clinicdesk/session"
)

// Storage drivers.
const (
	DriverMemory   = "memory"
	DriverBolt     = "bbolt"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// DefaultFile is looked up in the working directory when no config path is
// given.
const DefaultFile = "clinicdesk.yaml"

type Config struct {
	// Addr is the window server listen address. Only loopback hosts are
	// accepted.
	Addr    string `yaml:"addr"`
	DataDir string `yaml:"data_dir"`
	// KeyFile holds the record data key. Relative paths resolve against
	// DataDir.
	KeyFile   string          `yaml:"key_file"`
	Storage   StorageConfig   `yaml:"storage"`
	Session   SessionConfig   `yaml:"session"`
	Artifacts ArtifactConfig  `yaml:"artifacts"`
	Log       LogConfig       `yaml:"log"`
	Backend   BackendConfig   `yaml:"backend"`
	Transport TransportConfig `yaml:"transport"`
}

type StorageConfig struct {
	Driver string `yaml:"driver"`
	// Path is the database file for bbolt and sqlite. Relative paths
	// resolve against DataDir; empty picks a per-driver default.
	Path string `yaml:"path"`
	DSN  string `yaml:"dsn"`
}

type SessionConfig struct {
	TTL           time.Duration `yaml:"ttl"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// ArtifactConfig lists where the channel tree and type declarations are
// written.
type ArtifactConfig struct {
	Dirs      []string `yaml:"dirs"`
	TypesFile string   `yaml:"types_file"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	// File receives a copy of every log line when set.
	File string `yaml:"file"`
}

type BackendConfig struct {
	URL      string `yaml:"url"`
	Disabled bool   `yaml:"disabled"`
}

type TransportConfig struct {
	OriginPatterns []string `yaml:"origin_patterns"`
	// TokenArguments lets calls authenticate with a "token" argument in
	// addition to the window binding.
	TokenArguments bool `yaml:"token_arguments"`
}

// Default returns the built-in settings.
func Default() *Config {
	return &Config{
		Addr:    "127.0.0.1:8765",
		DataDir: "./data",
		KeyFile: "records.key",
		Storage: StorageConfig{Driver: DriverBolt},
		Session: SessionConfig{
			TTL:           session.DefaultTTL,
			SweepInterval: time.Minute,
		},
		Artifacts: ArtifactConfig{
			Dirs:      []string{"."},
			TypesFile: "ipc-channels.d.ts",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Backend: BackendConfig{URL: backend.DefaultBaseURL},
	}
}

// Load reads path over the defaults and applies environment overrides.
// An empty path falls back to DefaultFile when it exists.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		if _, err := os.Stat(DefaultFile); err == nil {
			path = DefaultFile
		}
	}
	if path != "" {
		if err := loadFile(cfg, path); err != nil {
			return nil, err
		}
	}
	applyEnv(cfg, os.Getenv)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadFile decodes path onto cfg. Keys absent from the file keep their
// current values.
func loadFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config, getenv func(string) string) {
	for _, name := range []string{"API_URL", "BACKEND_SERVER"} {
		if v := getenv(name); strings.TrimSpace(v) != "" {
			cfg.Backend.URL = backend.ResolveBaseURL(v)
			break
		}
	}
	if v := getenv("CLINICDESK_ADDR"); v != "" {
		cfg.Addr = v
	}
	if v := getenv("CLINICDESK_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := getenv("CLINICDESK_KEY_FILE"); v != "" {
		cfg.KeyFile = v
	}
	if v := getenv("CLINICDESK_STORAGE_DRIVER"); v != "" {
		cfg.Storage.Driver = strings.ToLower(v)
	}
	if v := getenv("CLINICDESK_STORAGE_PATH"); v != "" {
		cfg.Storage.Path = v
	}
	if v := getenv("CLINICDESK_STORAGE_DSN"); v != "" {
		cfg.Storage.DSN = v
	}
	if v := getenv("CLINICDESK_SESSION_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Session.TTL = d
		}
	}
	if v := getenv("CLINICDESK_ARTIFACT_DIRS"); v != "" {
		cfg.Artifacts.Dirs = splitList(v)
	}
	if v := getenv("CLINICDESK_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := getenv("CLINICDESK_LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
	if v := getenv("CLINICDESK_LOG_FILE"); v != "" {
		cfg.Log.File = v
	}
	if v := getenv("CLINICDESK_ORIGIN_PATTERNS"); v != "" {
		cfg.Transport.OriginPatterns = splitList(v)
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Validate checks settings that would otherwise fail later at startup.
func (c *Config) Validate() error {
	var errs []error

	host, _, err := net.SplitHostPort(c.Addr)
	if err != nil {
		errs = append(errs, fmt.Errorf("addr: %w", err))
	} else if !isLoopback(host) {
		errs = append(errs, fmt.Errorf("addr: %q is not a loopback address", c.Addr))
	}

	switch c.Storage.Driver {
	case DriverMemory, DriverBolt, DriverSQLite:
	case DriverPostgres:
		if c.Storage.DSN == "" {
			errs = append(errs, errors.New("storage: postgres requires a dsn"))
		}
	default:
		errs = append(errs, fmt.Errorf("storage: unknown driver %q", c.Storage.Driver))
	}

	if c.Session.TTL <= 0 {
		errs = append(errs, errors.New("session: ttl must be positive"))
	}
	if _, err := parseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	if f := strings.ToLower(c.Log.Format); f != "text" && f != "json" {
		errs = append(errs, fmt.Errorf("log: unknown format %q", c.Log.Format))
	}
	return errors.Join(errs...)
}

func isLoopback(host string) bool {
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// resolve joins a relative path onto the data directory.
func (c *Config) resolve(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.DataDir, p)
}

// KeyPath returns the data key file location.
func (c *Config) KeyPath() string {
	return c.resolve(c.KeyFile)
}

// StoragePath returns the database file of file-backed drivers.
func (c *Config) StoragePath() string {
	if c.Storage.Path != "" {
		return c.resolve(c.Storage.Path)
	}
	switch c.Storage.Driver {
	case DriverBolt:
		return c.resolve("clinicdesk.db")
	case DriverSQLite:
		return c.resolve("clinicdesk.sqlite")
	}
	return ""
}

// BackendURL returns the remote backend address, or "" when the backend
// is disabled.
func (c *Config) BackendURL() string {
	if c.Backend.Disabled {
		return ""
	}
	return backend.ResolveBaseURL(c.Backend.URL)
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("log: %w", err)
	}
	return level, nil
}

// NewLogger builds the process logger writing to w and, when configured,
// appending to the log file. The returned close function releases the
// file.
func (l LogConfig) NewLogger(w io.Writer) (*slog.Logger, func() error, error) {
	level, err := parseLevel(l.Level)
	if err != nil {
		return nil, nil, err
	}
	closer := func() error { return nil }
	if l.File != "" {
		if err := os.MkdirAll(filepath.Dir(l.File), 0o700); err != nil {
			return nil, nil, fmt.Errorf("creating log directory: %w", err)
		}
		f, err := os.OpenFile(l.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
		if err != nil {
			return nil, nil, fmt.Errorf("opening log file: %w", err)
		}
		w = io.MultiWriter(w, f)
		closer = f.Close
	}

	opts := &slog.HandlerOptions{Level: level}
	var h slog.Handler
	if strings.EqualFold(l.Format, "json") {
		h = slog.NewJSONHandler(w, opts)
	} else {
		h = slog.NewTextHandler(w, opts)
	}
	return slog.New(h), closer, nil
}
