package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadLayersFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "markerguard.yaml")
	content := `
server:
  port: 4000
  cors: true
plex:
  database_path: /plex/com.plexapp.plugins.library.db
backup:
  scan_interval: 1h
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("MARKERGUARD_BACKUP_SCAN_WORKERS", "6")
	t.Setenv("MARKERGUARD_LOGGING_LEVEL", "debug")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 4000 || !cfg.Server.CORS {
		t.Fatalf("file values not applied: %+v", cfg.Server)
	}
	if cfg.Server.Host != "127.0.0.1" {
		t.Fatalf("default host lost: %q", cfg.Server.Host)
	}
	if cfg.Backup.ScanInterval != time.Hour {
		t.Fatalf("unexpected scan interval: %v", cfg.Backup.ScanInterval)
	}
	if cfg.Backup.ScanWorkers != 6 {
		t.Fatalf("env override not applied: %d", cfg.Backup.ScanWorkers)
	}
	if cfg.Logging.Level != "debug" {
		t.Fatalf("unexpected log level: %q", cfg.Logging.Level)
	}
	if cfg.Addr() != "127.0.0.1:4000" {
		t.Fatalf("unexpected addr: %q", cfg.Addr())
	}
}

func TestLoadRequiresPlexDatabase(t *testing.T) {
	t.Setenv(ConfigPathEnv, "")
	_, err := Load("")
	if err == nil || !strings.Contains(err.Error(), "plex.database_path") {
		t.Fatalf("expected missing database error, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "bad port", mutate: func(c *Config) { c.Server.Port = 0 }, wantErr: "server.port"},
		{name: "backup path", mutate: func(c *Config) { c.Backup.Path = "" }, wantErr: "backup.path"},
		{name: "backup disabled without path", mutate: func(c *Config) { c.Backup.Enabled = false; c.Backup.Path = "" }},
		{name: "workers", mutate: func(c *Config) { c.Backup.ScanWorkers = 0 }, wantErr: "scan_workers"},
		{name: "log level", mutate: func(c *Config) { c.Logging.Level = "chatty" }, wantErr: "logging.level"},
		{name: "rate window", mutate: func(c *Config) { c.Server.RateLimitWindow = 0 }, wantErr: "rate_limit_window"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.Plex.DatabasePath = "plex.db"
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() error = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Validate() error = %v, want %q", err, tt.wantErr)
			}
		})
	}
}

func TestEnvKey(t *testing.T) {
	cases := map[string]string{
		"MARKERGUARD_SERVER_RATE_LIMIT_WINDOW": "server.rate_limit_window",
		"MARKERGUARD_PLEX_DATABASE_PATH":       "plex.database_path",
		"MARKERGUARD_CONFIG":                   "",
	}
	for in, want := range cases {
		if got := envKey(in); got != want {
			t.Fatalf("envKey(%q) = %q, want %q", in, got, want)
		}
	}
}
