package cmd

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/relaycore/internal/config"
	"github.com/nextlevelbuilder/relaycore/internal/upgrade"
	"github.com/nextlevelbuilder/relaycore/pkg/protocol"
)

const schemaCheckTimeout = 10 * time.Second

func upgradeCmd() *cobra.Command {
	var dryRun bool
	var status bool

	cmd := &cobra.Command{
		Use:   "upgrade",
		Short: "Upgrade the postgres dialog state schema",
		Long:  "Applies pending SQL migrations. Safe to run multiple times (idempotent).",
		RunE: func(cmd *cobra.Command, args []string) error {
			if status {
				return runUpgradeStatus()
			}
			return runUpgrade(dryRun)
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "show what would be done without applying changes")
	cmd.Flags().BoolVar(&status, "status", false, "show current upgrade status")

	return cmd
}

// loadPostgresDSN returns the DSN when the config selects the postgres backend.
// ok is false for every other database mode.
func loadPostgresDSN() (dsn string, ok bool, err error) {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return "", false, fmt.Errorf("load config: %w", err)
	}
	if cfg.Database.Mode != dbModePostgres || cfg.Database.PostgresDSN == "" {
		return "", false, nil
	}
	return cfg.Database.PostgresDSN, true, nil
}

func checkSchema(dsn string) (*upgrade.SchemaStatus, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), schemaCheckTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping: %w", err)
	}
	return upgrade.CheckSchema(ctx, db)
}

func runUpgradeStatus() error {
	dsn, ok, err := loadPostgresDSN()
	if err != nil {
		return err
	}

	fmt.Printf("  App version:     %s (protocol %d)\n", Version, protocol.ProtocolVersion)
	if !ok {
		fmt.Println("  Database:        not postgres")
		fmt.Println("  Status:          N/A (no schema migrations needed)")
		return nil
	}

	s, err := checkSchema(dsn)
	if err != nil {
		return fmt.Errorf("check schema: %w", err)
	}

	fmt.Printf("  Schema current:  %d\n", s.CurrentVersion)
	fmt.Printf("  Schema required: %d\n", s.RequiredVersion)

	switch {
	case s.Dirty:
		fmt.Println("  Status:          DIRTY (failed migration)")
		fmt.Println()
		fmt.Print(upgrade.FormatError(s))
	case s.Compatible:
		fmt.Println("  Status:          UP TO DATE")
	case s.CurrentVersion > s.RequiredVersion:
		fmt.Println("  Status:          BINARY TOO OLD")
	default:
		fmt.Printf("  Status:          UPGRADE NEEDED (%d -> %d)\n", s.CurrentVersion, s.RequiredVersion)
		fmt.Println()
		fmt.Println("  Run 'relaycore upgrade' to apply all pending changes.")
	}
	return nil
}

func runUpgrade(dryRun bool) error {
	dsn, ok, err := loadPostgresDSN()
	if err != nil {
		return err
	}
	if !ok {
		fmt.Println("Database mode is not postgres, no migrations needed.")
		return nil
	}

	s, err := checkSchema(dsn)
	if err != nil {
		return fmt.Errorf("check schema: %w", err)
	}

	fmt.Printf("  App version:     %s (protocol %d)\n", Version, protocol.ProtocolVersion)
	fmt.Printf("  Schema current:  %d\n", s.CurrentVersion)
	fmt.Printf("  Schema required: %d\n", s.RequiredVersion)
	fmt.Println()

	if s.Dirty || s.CurrentVersion > s.RequiredVersion {
		fmt.Print(upgrade.FormatError(s))
		return ErrUpgradeFailed
	}

	if !s.NeedsMigration {
		fmt.Println("  SQL schema is up to date.")
		return nil
	}
	if dryRun {
		fmt.Printf("  Would apply SQL migrations: v%d -> v%d\n", s.CurrentVersion, s.RequiredVersion)
		return nil
	}

	fmt.Print("  Applying SQL migrations... ")
	v, err := applyMigrations(dsn)
	if err != nil {
		fmt.Println("FAILED")
		return err
	}
	fmt.Printf("OK (v%d -> v%d)\n", s.CurrentVersion, v)
	fmt.Println()
	fmt.Println("  Upgrade complete.")
	return nil
}

func applyMigrations(dsn string) (uint, error) {
	m, err := newMigrator(dsn)
	if err != nil {
		return 0, err
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return 0, fmt.Errorf("migrate up: %w", err)
	}
	v, _, _ := m.Version()
	return v, nil
}

// ErrUpgradeFailed is returned when upgrade cannot proceed.
var ErrUpgradeFailed = errors.New("upgrade cannot proceed")

// checkSchemaOrAutoUpgrade gates gateway startup on schema compatibility.
// With RELAYCORE_AUTO_UPGRADE=true an outdated schema is migrated inline.
func checkSchemaOrAutoUpgrade(dsn string) error {
	s, err := checkSchema(dsn)
	if err != nil {
		return fmt.Errorf("schema check: %w", err)
	}

	if s.Compatible {
		slog.Info("schema check passed", "current", s.CurrentVersion, "required", s.RequiredVersion)
		return nil
	}
	if !errors.Is(s.Err(), upgrade.ErrSchemaOutdated) || os.Getenv("RELAYCORE_AUTO_UPGRADE") != "true" {
		return fmt.Errorf("%w\n%s", s.Err(), upgrade.FormatError(s))
	}

	slog.Info("auto-upgrade: applying migrations", "from", s.CurrentVersion, "to", s.RequiredVersion)
	v, err := applyMigrations(dsn)
	if err != nil {
		return fmt.Errorf("auto-upgrade: %w", err)
	}
	slog.Info("auto-upgrade complete", "version", v)
	return nil
}
