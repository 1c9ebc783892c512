// Package config loads and validates the orchestrator configuration file.
// Configuration is TOML with one section per subsystem; a format version
// gate rejects files written for an incompatible layout.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/Masterminds/semver/v3"
	"github.com/joho/godotenv"
)

// ConfigFormatVersion is the current version of the configuration file
// format. Files are accepted when their format_version is compatible under
// a caret constraint.
const ConfigFormatVersion = "0.1.0"

// PoolConfig holds session pool limits.
type PoolConfig struct {
	MaxSessions         int    `toml:"max_sessions"`         // live session cap
	MemoryBudgetMB      int64  `toml:"memory_budget_mb"`     // estimated per-session memory
	MemoryCeilingMB     int64  `toml:"memory_ceiling_mb"`    // total memory ceiling, 0 disables
	DefaultVerification string `toml:"default_verification"` // none, basic, standard, strict
}

// ExecutorConfig holds verification windows.
type ExecutorConfig struct {
	VerifyWindow    string `toml:"verify_window"`    // post-condition polling window
	PollInterval    string `toml:"poll_interval"`    // delay between probes
	StabilizeWindow string `toml:"stabilize_window"` // strict-level quiescence window
}

// CleanupConfig holds the idle reclamation schedule.
type CleanupConfig struct {
	Interval      string `toml:"interval"`       // sweep cadence
	IdleThreshold string `toml:"idle_threshold"` // idle age before eviction
	MaxPerSweep   int    `toml:"max_per_sweep"`  // eviction cap per sweep, 0 disables
}

// DispatchConfig holds the command scheduling knobs.
type DispatchConfig struct {
	QueueSize     int    `toml:"queue_size"`
	CoalesceDelay string `toml:"coalesce_delay"`
	TickInterval  string `toml:"tick_interval"`
	MaxBatch      int    `toml:"max_batch"`
}

// BackendConfig selects and tunes the rendering engine.
type BackendConfig struct {
	Engine         string `toml:"engine"` // fake or playwright
	Headless       bool   `toml:"headless"`
	BlockResources bool   `toml:"block_resources"`
}

// AuditConfig holds audit trail settings.
type AuditConfig struct {
	Enabled bool `toml:"enabled"`
}

// AuthConfig holds API authentication settings.
type AuthConfig struct {
	Enabled       bool   `toml:"enabled"`
	SigningSecret string `toml:"signing_secret"` // HS256 secret; env overlay preferred
	TokenExpiry   string `toml:"token_expiry"`
}

// GetTokenExpiry returns the token expiry as time.Duration.
func (a *AuthConfig) GetTokenExpiry() (time.Duration, error) {
	return ParseDuration(a.TokenExpiry)
}

// ConfigParam holds all configuration parameters for the orchestrator.
type ConfigParam struct {
	FormatVersion string `toml:"format_version"`

	// Server configuration
	ServerHostName string `toml:"server_hostname"`
	ServerPort     string `toml:"server_port"`
	HandleCORS     bool   `toml:"handle_cors"`
	WorkingDir     string `toml:"working_dir"`

	Pool     PoolConfig     `toml:"pool"`
	Executor ExecutorConfig `toml:"executor"`
	Cleanup  CleanupConfig  `toml:"cleanup"`
	Dispatch DispatchConfig `toml:"dispatch"`
	Backend  BackendConfig  `toml:"backend"`
	Audit    AuditConfig    `toml:"audit"`
	Auth     AuthConfig     `toml:"auth"`
}

var cfg *ConfigParam

// Config returns the current configuration.
func Config() *ConfigParam {
	return cfg
}

// GetURL returns the base URL the HTTP server listens on.
func GetURL() string {
	return "http://" + Config().ServerHostName + ":" + Config().ServerPort
}

// ParseDuration parses a duration string in the format "<number><unit>"
// where unit is one of ms, s, m, h, d.
func ParseDuration(input string) (time.Duration, error) {
	if len(input) < 2 {
		return 0, fmt.Errorf("invalid input format")
	}

	unit := input[len(input)-1:]
	valueStr := input[:len(input)-1]
	if strings.HasSuffix(input, "ms") {
		unit = "ms"
		valueStr = input[:len(input)-2]
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return 0, fmt.Errorf("invalid number: %s", err)
	}

	var duration time.Duration
	switch unit {
	case "ms":
		duration = time.Duration(value) * time.Millisecond
	case "s":
		duration = time.Duration(value) * time.Second
	case "m":
		duration = time.Duration(value) * time.Minute
	case "h":
		duration = time.Duration(value) * time.Hour
	case "d":
		duration = time.Duration(value) * 24 * time.Hour
	default:
		return 0, fmt.Errorf("unknown time unit: %s", unit)
	}
	return duration, nil
}

// ValidateConfig checks if all required configuration values are present and
// valid, filling defaults where the file is silent.
func ValidateConfig(cfg *ConfigParam) error {
	if err := checkFormatVersion(cfg.FormatVersion); err != nil {
		return err
	}

	if cfg.ServerHostName == "" {
		cfg.ServerHostName = "127.0.0.1"
	}
	if cfg.ServerPort == "" {
		return fmt.Errorf("server_port is required")
	}

	if cfg.Pool.MaxSessions <= 0 {
		cfg.Pool.MaxSessions = 8
	}
	if cfg.Pool.MemoryBudgetMB <= 0 {
		cfg.Pool.MemoryBudgetMB = 256
	}
	switch cfg.Pool.DefaultVerification {
	case "", "none", "basic", "standard", "strict":
	default:
		return fmt.Errorf("invalid pool.default_verification: %s", cfg.Pool.DefaultVerification)
	}

	for _, field := range []struct {
		name  string
		value string
	}{
		{"executor.verify_window", cfg.Executor.VerifyWindow},
		{"executor.poll_interval", cfg.Executor.PollInterval},
		{"executor.stabilize_window", cfg.Executor.StabilizeWindow},
		{"cleanup.interval", cfg.Cleanup.Interval},
		{"cleanup.idle_threshold", cfg.Cleanup.IdleThreshold},
		{"dispatch.coalesce_delay", cfg.Dispatch.CoalesceDelay},
		{"dispatch.tick_interval", cfg.Dispatch.TickInterval},
	} {
		if field.value == "" {
			continue
		}
		if _, err := ParseDuration(field.value); err != nil {
			return fmt.Errorf("invalid %s: %v", field.name, err)
		}
	}

	switch cfg.Backend.Engine {
	case "":
		cfg.Backend.Engine = "playwright"
	case "fake", "playwright":
	default:
		return fmt.Errorf("unknown backend.engine: %s", cfg.Backend.Engine)
	}

	if cfg.Auth.Enabled {
		if cfg.Auth.SigningSecret == "" {
			return fmt.Errorf("auth.signing_secret is required when auth is enabled")
		}
		if cfg.Auth.TokenExpiry == "" {
			cfg.Auth.TokenExpiry = "24h"
		}
		if _, err := ParseDuration(cfg.Auth.TokenExpiry); err != nil {
			return fmt.Errorf("invalid auth.token_expiry: %v", err)
		}
	}

	if cfg.WorkingDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("error getting user home directory: %v", err)
		}
		cfg.WorkingDir = filepath.Join(homeDir, ".charter")
	}
	if err := os.MkdirAll(cfg.WorkingDir, 0700); err != nil {
		return fmt.Errorf("error creating working directory: %v", err)
	}

	return nil
}

// checkFormatVersion gates the file format under a caret constraint on the
// current version.
func checkFormatVersion(version string) error {
	if version == "" {
		return fmt.Errorf("format_version is required")
	}
	v, err := semver.NewVersion(version)
	if err != nil {
		return fmt.Errorf("invalid format_version %q: %v", version, err)
	}
	constraint, err := semver.NewConstraint("^" + ConfigFormatVersion)
	if err != nil {
		return err
	}
	if !constraint.Check(v) {
		return fmt.Errorf("unsupported config file format version: %s", version)
	}
	return nil
}

// LoadConfig loads configuration from a file. A .env file beside the config
// file is applied first, and a handful of environment variables override the
// file so secrets never need to live in it.
func LoadConfig(filename string) error {
	if filename == "" {
		return fmt.Errorf("config filename is required")
	}

	// Missing .env is fine; it is an overlay, not a requirement.
	godotenv.Load(filepath.Join(filepath.Dir(filename), ".env"))

	content, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("error reading config file: %v", err)
	}

	cfg = &ConfigParam{}
	if _, err := toml.Decode(string(content), cfg); err != nil {
		return fmt.Errorf("error parsing config file: %v", err)
	}

	applyEnvOverrides(cfg)

	if err := ValidateConfig(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %v", err)
	}

	RuntimeInit()
	return nil
}

func applyEnvOverrides(cfg *ConfigParam) {
	if v := os.Getenv("CHARTER_SERVER_PORT"); v != "" {
		cfg.ServerPort = v
	}
	if v := os.Getenv("CHARTER_WORKING_DIR"); v != "" {
		cfg.WorkingDir = v
	}
	if v := os.Getenv("CHARTER_AUTH_SECRET"); v != "" {
		cfg.Auth.SigningSecret = v
	}
	if v := os.Getenv("CHARTER_BACKEND_ENGINE"); v != "" {
		cfg.Backend.Engine = v
	}
}

// TestInit loads a throwaway configuration rooted in a temp directory. Test
// packages needing a loaded config call this instead of LoadConfig.
func TestInit(t *testing.T) {
	t.Helper()
	SetTestMode(true)
	dir := t.TempDir()
	content := fmt.Sprintf(`
format_version = "%s"
server_port = "8911"
working_dir = %q

[backend]
engine = "fake"
`, ConfigFormatVersion, dir)
	path := filepath.Join(dir, "charter.conf")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("writing test config: %v", err)
	}
	if err := LoadConfig(path); err != nil {
		t.Fatalf("loading test config: %v", err)
	}
	t.Cleanup(func() {
		deleteRuntimeConfig()
		SetTestMode(false)
	})
}

// DurationOrDefault parses a configured duration string, falling back to def
// when the field is empty. Validation has already rejected malformed values,
// so a parse failure here also falls back.
func DurationOrDefault(value string, def time.Duration) time.Duration {
	if value == "" {
		return def
	}
	d, err := ParseDuration(value)
	if err != nil {
		return def
	}
	return d
}
