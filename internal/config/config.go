// Package config loads portlock settings from defaults, an optional config
// file (YAML, JSON or JSONC), a .env file, and PORTLOCK_* environment
// variables, in increasing order of precedence. CLI flags are bound on top
// by the cli package.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"github.com/tidwall/jsonc"

	"github.com/shinji-kodama/portlock/internal/lockfile"
	"github.com/shinji-kodama/portlock/internal/model"
)

// EnvPrefix is prepended to every environment variable name.
const EnvPrefix = "PORTLOCK"

// Keys used in config files, environment variables and flag bindings.
const (
	KeyLockDir       = "lock_dir"
	KeyBasePort      = "base_port"
	KeyStopPort      = "stop_port"
	KeyMaxAttempts   = "max_attempts"
	KeyBackoffBase   = "backoff_base"
	KeyExpiry        = "expiry"
	KeyBindAddress   = "bind_address"
	KeyLogLevel      = "log_level"
	KeyDockerExclude = "docker.exclude"
)

// Defaults for the retry loop.
const (
	DefaultMaxAttempts = 3
	DefaultBackoffBase = time.Second
)

// Config holds the coordination settings every participating process must
// agree on (lock directory and range) plus per-process tuning.
type Config struct {
	LockDir       string
	Range         model.PortRange
	MaxAttempts   int
	BackoffBase   time.Duration
	Expiry        time.Duration
	BindAddress   string
	LogLevel      string
	DockerExclude bool
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		LockDir:     lockfile.DefaultDir,
		Range:       model.DefaultPortRange(),
		MaxAttempts: DefaultMaxAttempts,
		BackoffBase: DefaultBackoffBase,
		Expiry:      lockfile.DefaultExpiry,
		LogLevel:    "info",
	}
}

// Validate checks the configuration for values the allocator cannot use.
func (c *Config) Validate() error {
	if c.LockDir == "" {
		return errors.New("lock_dir must not be empty")
	}
	if err := c.Range.Validate(); err != nil {
		return fmt.Errorf("invalid port range: %w", err)
	}
	if c.MaxAttempts < 1 {
		return fmt.Errorf("max_attempts must be at least 1, got %d", c.MaxAttempts)
	}
	if c.BackoffBase <= 0 {
		return fmt.Errorf("backoff_base must be positive, got %s", c.BackoffBase)
	}
	if c.Expiry <= 0 {
		return fmt.Errorf("expiry must be positive, got %s", c.Expiry)
	}
	return nil
}

// NewViper returns a viper instance with defaults and environment binding
// set up. The cli package binds flags onto it before calling Load.
func NewViper() *viper.Viper {
	d := Default()

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault(KeyLockDir, d.LockDir)
	v.SetDefault(KeyBasePort, d.Range.Base)
	v.SetDefault(KeyStopPort, d.Range.Stop)
	v.SetDefault(KeyMaxAttempts, d.MaxAttempts)
	v.SetDefault(KeyBackoffBase, d.BackoffBase.String())
	v.SetDefault(KeyExpiry, d.Expiry.String())
	v.SetDefault(KeyBindAddress, d.BindAddress)
	v.SetDefault(KeyLogLevel, d.LogLevel)
	v.SetDefault(KeyDockerExclude, d.DockerExclude)
	return v
}

// Load reads the optional config file at path into v and returns the typed,
// validated configuration. A missing .env file is not an error.
func Load(v *viper.Viper, path string) (*Config, error) {
	_ = godotenv.Load()

	if path != "" {
		if err := readFile(v, path); err != nil {
			return nil, err
		}
	}

	backoff, err := parseDuration(v, KeyBackoffBase)
	if err != nil {
		return nil, err
	}
	expiry, err := parseDuration(v, KeyExpiry)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		LockDir:       v.GetString(KeyLockDir),
		Range:         model.PortRange{Base: v.GetInt(KeyBasePort), Stop: v.GetInt(KeyStopPort)},
		MaxAttempts:   v.GetInt(KeyMaxAttempts),
		BackoffBase:   backoff,
		Expiry:        expiry,
		BindAddress:   v.GetString(KeyBindAddress),
		LogLevel:      v.GetString(KeyLogLevel),
		DockerExclude: v.GetBool(KeyDockerExclude),
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// readFile merges a config file into v. JSON files may carry comments and
// trailing commas; they are normalized with jsonc before parsing.
func readFile(v *viper.Viper, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	switch ext {
	case "json", "jsonc":
		data = jsonc.ToJSON(data)
		ext = "json"
	case "yaml", "yml":
		ext = "yaml"
	default:
		return fmt.Errorf("unsupported config file type %q (use .yaml, .yml, .json or .jsonc)", filepath.Ext(path))
	}

	v.SetConfigType(ext)
	if err := v.MergeConfig(bytes.NewReader(data)); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func parseDuration(v *viper.Viper, key string) (time.Duration, error) {
	raw := v.GetString(key)
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return d, nil
}
