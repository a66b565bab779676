// Package sqlite stores dialog state in a single-file SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/nextlevelbuilder/relaycore/internal/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS dialog_states (
    user_key       TEXT PRIMARY KEY,
    channel        TEXT NOT NULL,
    application_id TEXT NOT NULL,
    user_id        TEXT NOT NULL,
    locale         TEXT NOT NULL DEFAULT '',
    current_intent TEXT NOT NULL DEFAULT '',
    recent_intents TEXT NOT NULL DEFAULT '[]',
    vars           TEXT NOT NULL DEFAULT '{}',
    turn_count     INTEGER NOT NULL DEFAULT 0,
    created_at     INTEGER NOT NULL,
    updated_at     INTEGER NOT NULL
);`

// SQLiteDialogStore implements store.DialogStore on SQLite.
type SQLiteDialogStore struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path and ensures the schema.
func Open(path string) (*SQLiteDialogStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// single writer
	db.SetMaxOpenConns(1)

	for _, stmt := range []string{`PRAGMA journal_mode=WAL`, `PRAGMA busy_timeout=5000`, schema} {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("init sqlite: %w", err)
		}
	}
	return &SQLiteDialogStore{db: db}, nil
}

func (s *SQLiteDialogStore) Load(ctx context.Context, key string) (*store.DialogState, error) {
	var (
		st               store.DialogState
		recent, vars     string
		created, updated int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT user_key, channel, application_id, user_id, locale, current_intent, recent_intents, vars, turn_count, created_at, updated_at
		 FROM dialog_states WHERE user_key = ?`, key,
	).Scan(&st.UserKey, &st.Channel, &st.ApplicationID, &st.UserID, &st.Locale, &st.CurrentIntent,
		&recent, &vars, &st.TurnCount, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load dialog state: %w", err)
	}

	if err := json.Unmarshal([]byte(recent), &st.RecentIntents); err != nil {
		return nil, fmt.Errorf("decode recent intents for %s: %w", key, err)
	}
	st.Vars = map[string]string{}
	if err := json.Unmarshal([]byte(vars), &st.Vars); err != nil {
		return nil, fmt.Errorf("decode vars for %s: %w", key, err)
	}
	st.Created = time.UnixMilli(created)
	st.Updated = time.UnixMilli(updated)
	return &st, nil
}

func (s *SQLiteDialogStore) Save(ctx context.Context, st *store.DialogState) error {
	recent := st.RecentIntents
	if recent == nil {
		recent = []string{}
	}
	recentJSON, err := json.Marshal(recent)
	if err != nil {
		return err
	}
	varsJSON, err := json.Marshal(st.Vars)
	if err != nil {
		return err
	}
	now := time.Now()
	created := st.Created
	if created.IsZero() {
		created = now
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO dialog_states (user_key, channel, application_id, user_id, locale, current_intent, recent_intents, vars, turn_count, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (user_key) DO UPDATE SET
		   locale = excluded.locale,
		   current_intent = excluded.current_intent,
		   recent_intents = excluded.recent_intents,
		   vars = excluded.vars,
		   turn_count = excluded.turn_count,
		   updated_at = excluded.updated_at`,
		st.UserKey, st.Channel, st.ApplicationID, st.UserID, st.Locale, st.CurrentIntent,
		string(recentJSON), string(varsJSON), st.TurnCount, created.UnixMilli(), now.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("save dialog state: %w", err)
	}
	return nil
}

func (s *SQLiteDialogStore) Delete(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM dialog_states WHERE user_key = ?`, key)
	return err
}

func (s *SQLiteDialogStore) Close() error { return s.db.Close() }
