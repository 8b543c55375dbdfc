package storage

import (
	"fmt"
	"strings"

	"github.com/ivf-outcome-server/internal/domain"
)

// Open selects a backend from configuration. databaseURL is only used by the
// postgres driver. The "none" driver returns a nil Store.
func Open(cfg domain.StorageConfig, dbCfg domain.DatabaseConfig, databaseURL string) (Store, error) {
	switch strings.ToLower(cfg.Driver) {
	case "", "sqlite":
		if cfg.SQLitePath == "" {
			return nil, fmt.Errorf("storage.sqlite_path is required for the sqlite driver")
		}
		st, err := NewSQLiteStore(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		return st, nil
	case "postgres", "postgresql":
		st, err := NewPostgresStoreFromURL(databaseURL, dbCfg)
		if err != nil {
			return nil, err
		}
		return st, nil
	case "none":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}
