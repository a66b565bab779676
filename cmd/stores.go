package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/nextlevelbuilder/relaycore/internal/config"
	"github.com/nextlevelbuilder/relaycore/internal/store"
	"github.com/nextlevelbuilder/relaycore/internal/store/file"
	"github.com/nextlevelbuilder/relaycore/internal/store/pg"
	"github.com/nextlevelbuilder/relaycore/internal/store/sqlite"
)

// Database modes.
const (
	dbModeMemory   = "memory"
	dbModeFile     = "file"
	dbModeSQLite   = "sqlite"
	dbModePostgres = "postgres"
)

// openDialogStore builds the dialog state backend selected by cfg.Mode.
func openDialogStore(cfg config.DatabaseConfig) (store.DialogStore, error) {
	switch cfg.Mode {
	case "", dbModeMemory:
		slog.Warn("dialog state is kept in memory and lost on restart")
		return store.NewMemoryStore(), nil
	case dbModeFile:
		dir := config.ExpandHome(cfg.FileDir)
		s, err := file.NewFileDialogStore(dir)
		if err != nil {
			return nil, fmt.Errorf("file store: %w", err)
		}
		slog.Info("dialog state: file store", "dir", dir)
		return s, nil
	case dbModeSQLite:
		path := config.ExpandHome(cfg.SQLitePath)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("sqlite store: %w", err)
		}
		s, err := sqlite.Open(path)
		if err != nil {
			return nil, fmt.Errorf("sqlite store: %w", err)
		}
		slog.Info("dialog state: sqlite store", "path", path)
		return s, nil
	case dbModePostgres:
		if cfg.PostgresDSN == "" {
			return nil, fmt.Errorf("RELAYCORE_POSTGRES_DSN environment variable is not set")
		}
		if err := checkSchemaOrAutoUpgrade(cfg.PostgresDSN); err != nil {
			return nil, err
		}
		s, err := pg.NewPGDialogStoreFromDSN(cfg.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("postgres store: %w", err)
		}
		slog.Info("dialog state: postgres store")
		return s, nil
	}
	return nil, fmt.Errorf("unknown database mode %q", cfg.Mode)
}
