package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"github.com/treefix50/markerguard/internal/logging"
)

const (
	EnvPrefix     = "MARKERGUARD_"
	ConfigPathEnv = EnvPrefix + "CONFIG"
)

type Config struct {
	Server  ServerConfig  `koanf:"server"`
	Plex    PlexConfig    `koanf:"plex"`
	Backup  BackupConfig  `koanf:"backup"`
	Logging LoggingConfig `koanf:"logging"`
}

type ServerConfig struct {
	Host string `koanf:"host"`
	Port int    `koanf:"port"`
	CORS bool   `koanf:"cors"`
	// RateLimitRequests per RateLimitWindow per client IP; 0 disables limiting.
	RateLimitRequests int           `koanf:"rate_limit_requests"`
	RateLimitWindow   time.Duration `koanf:"rate_limit_window"`
	ShutdownTimeout   time.Duration `koanf:"shutdown_timeout"`
}

type PlexConfig struct {
	DatabasePath string `koanf:"database_path"`
}

type BackupConfig struct {
	Enabled bool   `koanf:"enabled"`
	Path    string `koanf:"path"`
	// ScanInterval of 0 turns the background purge scan off.
	ScanInterval time.Duration `koanf:"scan_interval"`
	ScanWorkers  int           `koanf:"scan_workers"`
}

type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:              "127.0.0.1",
			Port:              3232,
			CORS:              false,
			RateLimitRequests: 120,
			RateLimitWindow:   time.Minute,
			ShutdownTimeout:   10 * time.Second,
		},
		Backup: BackupConfig{
			Enabled:      true,
			Path:         "markerguard_actions.db",
			ScanInterval: 0,
			ScanWorkers:  2,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load layers struct defaults, the optional YAML file at path (falling back
// to $MARKERGUARD_CONFIG), then MARKERGUARD_* environment variables.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("config: load defaults: %w", err)
	}

	if path == "" {
		path = os.Getenv(ConfigPathEnv)
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("config: load %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("config: load environment: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// envKey maps MARKERGUARD_BACKUP_SCAN_INTERVAL to backup.scan_interval: the
// first segment after the prefix is the section, the rest is the key.
func envKey(key string) string {
	key = strings.ToLower(strings.TrimPrefix(key, EnvPrefix))
	if key == "config" {
		return ""
	}
	section, rest, ok := strings.Cut(key, "_")
	if !ok {
		return key
	}
	return section + "." + rest
}

func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if c.Server.RateLimitRequests < 0 {
		errs = append(errs, fmt.Errorf("server.rate_limit_requests must not be negative"))
	}
	if c.Server.RateLimitRequests > 0 && c.Server.RateLimitWindow <= 0 {
		errs = append(errs, fmt.Errorf("server.rate_limit_window must be positive when rate limiting is on"))
	}
	if strings.TrimSpace(c.Plex.DatabasePath) == "" {
		errs = append(errs, fmt.Errorf("plex.database_path is required"))
	}
	if c.Backup.Enabled && strings.TrimSpace(c.Backup.Path) == "" {
		errs = append(errs, fmt.Errorf("backup.path is required when backups are enabled"))
	}
	if c.Backup.ScanInterval < 0 {
		errs = append(errs, fmt.Errorf("backup.scan_interval must not be negative"))
	}
	if c.Backup.ScanWorkers < 1 {
		errs = append(errs, fmt.Errorf("backup.scan_workers must be at least 1"))
	}
	if !logging.ValidLevel(c.Logging.Level) {
		errs = append(errs, fmt.Errorf("logging.level %q is not a known level", c.Logging.Level))
	}
	switch strings.ToLower(c.Logging.Format) {
	case "", "json", "console":
	default:
		errs = append(errs, fmt.Errorf("logging.format %q must be json or console", c.Logging.Format))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}
