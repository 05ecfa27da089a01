package app

import (
	"path/filepath"
	"strings"

	"postbot/internal/api"
	"postbot/internal/config"
	"postbot/internal/storage"
	"postbot/internal/task/engine"
	logx "postbot/pkg/logx"
)

const defaultDataDir = "./data"

func storageConfig(r config.Resolved) storage.Config {
	path := r.StoragePath
	if path == "" {
		switch r.StorageDriver {
		case "file":
			path = filepath.Join(defaultDataDir, "postbot.json")
		case "sqlite":
			path = filepath.Join(defaultDataDir, "postbot.db")
		case "bolt":
			path = filepath.Join(defaultDataDir, "postbot.bolt")
		}
	}
	return storage.Config{Driver: r.StorageDriver, Path: path, BusyTimeout: r.BusyTimeout}
}

func engineConfig(r config.Resolved) engine.Config {
	return engine.Config{
		Workers:        r.Workers,
		QueueSize:      r.QueueSize,
		DefaultTimeout: r.DefaultTimeout,
		HistorySize:    r.HistorySize,
		RetryMax:       r.RetryMax,
	}
}

func apiConfig(cfg *config.Config, r config.Resolved) api.Config {
	return api.Config{
		Addr:          r.HTTPAddr,
		ReadTimeout:   r.ReadTimeout,
		WriteTimeout:  r.WriteTimeout,
		AllowedOrigin: strings.TrimSpace(cfg.HTTP.AllowedOrigin),
		RatePerSec:    float64(r.RatePerSec),
		Burst:         r.Burst,
	}
}

// logConfig maps the logging section. The Telegram sink stays off until a
// group_log chat is configured.
func logConfig(cfg *config.Config, r config.Resolved) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Telegram: logx.TelegramConfig{
			Enabled:    cfg.Logging.Telegram.Enabled && r.GroupLogChat != 0,
			ChatID:     r.GroupLogChat,
			ThreadID:   cfg.Logging.Telegram.ThreadID,
			MinLevel:   cfg.Logging.Telegram.MinLevel,
			RatePerSec: cfg.Logging.Telegram.RatePerSec,
		},
	}
}

// OpenStore opens the storage backend named by cfg.
func OpenStore(cfg *config.Config, log logx.Logger) (storage.Store, storage.Config, error) {
	r, err := cfg.Resolve()
	if err != nil {
		return nil, storage.Config{}, err
	}
	sc := storageConfig(r)
	st, err := storage.Open(sc, log)
	return st, sc, err
}
