package upgrade

import (
	"context"
	"database/sql"
	"path/filepath"
	"strings"
	"testing"

	_ "modernc.org/sqlite"
)

func openDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "schema.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestCheckSchema_FreshDatabase(t *testing.T) {
	s, err := CheckSchema(context.Background(), openDB(t))
	if err != nil {
		t.Fatal(err)
	}
	if !s.NeedsMigration || s.Compatible {
		t.Errorf("fresh db: %+v", s)
	}
	if s.Err() != ErrSchemaOutdated {
		t.Errorf("Err() = %v", s.Err())
	}
}

func TestCheckSchema_Versions(t *testing.T) {
	tests := []struct {
		name    string
		version uint
		dirty   bool
		want    error
	}{
		{"current", RequiredSchemaVersion, false, nil},
		{"ahead", RequiredSchemaVersion + 1, false, ErrSchemaAhead},
		{"dirty", RequiredSchemaVersion, true, ErrSchemaDirty},
		{"behind", 0, false, ErrSchemaOutdated},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db := openDB(t)
			if _, err := db.Exec(`CREATE TABLE schema_migrations (version BIGINT NOT NULL, dirty BOOLEAN NOT NULL)`); err != nil {
				t.Fatal(err)
			}
			if _, err := db.Exec(`INSERT INTO schema_migrations (version, dirty) VALUES (?, ?)`, tt.version, tt.dirty); err != nil {
				t.Fatal(err)
			}
			s, err := CheckSchema(context.Background(), db)
			if err != nil {
				t.Fatal(err)
			}
			if got := s.Err(); got != tt.want {
				t.Errorf("Err() = %v, want %v", got, tt.want)
			}
			if (tt.want == nil) != s.Compatible {
				t.Errorf("Compatible = %v", s.Compatible)
			}
		})
	}
}

func TestFormatError(t *testing.T) {
	msg := FormatError(&SchemaStatus{CurrentVersion: 3, Dirty: true})
	if !strings.Contains(msg, "migrate force 2") {
		t.Errorf("dirty message: %s", msg)
	}
	msg = FormatError(&SchemaStatus{CurrentVersion: 0, RequiredVersion: 1, NeedsMigration: true})
	if !strings.Contains(msg, "RELAYCORE_AUTO_UPGRADE") {
		t.Errorf("outdated message: %s", msg)
	}
}
