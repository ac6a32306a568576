package main

import (
	"errors"
	"strings"
	"time"

	"github.com/treefix50/markerguard/internal/breakdown"
	"github.com/treefix50/markerguard/internal/config"
	"github.com/treefix50/markerguard/internal/editor"
	"github.com/treefix50/markerguard/internal/logging"
	"github.com/treefix50/markerguard/internal/plex"
	"github.com/treefix50/markerguard/internal/purge"
	"github.com/treefix50/markerguard/internal/storage"
)

const busyTimeout = 5 * time.Second

// app holds the components shared by serve and check.
type app struct {
	cfg     *config.Config
	mirror  *plex.Mirror
	actions *storage.Store // nil when backups are disabled
	counts  *breakdown.Cache
	editor  *editor.Service
	purges  *purge.Service
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})
	return cfg, nil
}

// openApp opens the Plex database and, when enabled, the action log. An
// action log that cannot be opened disables backups instead of failing.
func openApp(cfg *config.Config) (*app, error) {
	mirror, err := plex.Open(cfg.Plex.DatabasePath, plex.Options{BusyTimeout: busyTimeout})
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, mirror: mirror, counts: breakdown.New()}

	if cfg.Backup.Enabled {
		store, err := storage.Open(cfg.Backup.Path, storage.Options{BusyTimeout: busyTimeout})
		if err != nil {
			logging.Warn().Err(err).Str("path", cfg.Backup.Path).Msg("action log unavailable, marker backups disabled")
		} else {
			a.actions = store
		}
	}

	// A nil *storage.Store must not reach the interfaces below as a typed nil.
	if a.actions != nil {
		a.editor = editor.New(mirror, a.actions, a.counts)
		a.purges = purge.NewService(purge.Options{Log: a.actions, Library: mirror, Breakdown: a.counts})
	} else {
		a.editor = editor.New(mirror, nil, a.counts)
		a.purges = purge.NewService(purge.Options{Library: mirror, Breakdown: a.counts})
	}
	return a, nil
}

// integrity runs SQLite's integrity check on the action log.
func (a *app) integrity() error {
	if a.actions == nil {
		return nil
	}
	problems, err := a.actions.IntegrityCheck()
	if err != nil {
		return err
	}
	if len(problems) == 1 && problems[0] == "ok" {
		return nil
	}
	return errors.New("action log integrity check: " + strings.Join(problems, "; "))
}

func (a *app) Close() error {
	var errs []error
	if a.actions != nil {
		errs = append(errs, a.actions.Close())
	}
	errs = append(errs, a.mirror.Close())
	return errors.Join(errs...)
}
