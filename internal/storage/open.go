package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	logx "pifan/pkg/logx"
)

// Open initializes the configured store.
// It returns (nil, nil) if storage is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if cfg.Retain <= 0 {
		cfg.Retain = DefaultRetain
	}
	log = log.With(logx.String("comp", "storage"), logx.String("driver", driver))

	switch driver {
	case "", "none":
		return nil, nil
	case "file":
		cfg.Path = pathOr(cfg.Path, defaultFilePath)
		if err := ensureDir(cfg.Path); err != nil {
			return nil, err
		}
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		cfg.Path = pathOr(cfg.Path, defaultSQLitePath)
		if err := ensureDir(cfg.Path); err != nil {
			return nil, err
		}
		return openSQLite(cfg, log)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, cfg.Driver)
	}
}

func pathOr(p, def string) string {
	if p = strings.TrimSpace(p); p != "" {
		return p
	}
	return def
}

func ensureDir(path string) error {
	return os.MkdirAll(filepath.Dir(path), 0o755)
}
