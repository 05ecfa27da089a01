package storage

import (
	"strings"

	"postbot/internal/errors"
	logx "postbot/pkg/logx"
)

// Open initializes the configured store. An empty driver selects "file".
func Open(cfg Config, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	switch driver {
	case "none", "memory":
		return newMemory(), nil
	}
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.WithHint(errors.Newf("storage.path is required for driver %q", driver),
			`e.g. "storage": {"driver": "sqlite", "path": "./data/postbot.db"}`)
	}

	switch driver {
	case "", "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	case "bolt", "bbolt":
		return openBolt(cfg, log)
	}
	return nil, errors.Newf("unknown storage driver: %s", driver)
}
