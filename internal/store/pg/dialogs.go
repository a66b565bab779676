package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/nextlevelbuilder/relaycore/internal/store"
)

// PGDialogStore implements store.DialogStore backed by the dialog_states table.
type PGDialogStore struct {
	db *sql.DB
}

func NewPGDialogStore(db *sql.DB) *PGDialogStore {
	return &PGDialogStore{db: db}
}

// NewPGDialogStoreFromDSN opens the database and wraps it.
func NewPGDialogStoreFromDSN(dsn string) (*PGDialogStore, error) {
	db, err := OpenDB(dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	return NewPGDialogStore(db), nil
}

func (s *PGDialogStore) Load(ctx context.Context, key string) (*store.DialogState, error) {
	var (
		st      store.DialogState
		recent  []string
		varsRaw []byte
		locale  sql.NullString
		intent  sql.NullString
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT user_key, channel, application_id, user_id, locale, current_intent, recent_intents, vars, turn_count, created_at, updated_at
		 FROM dialog_states WHERE user_key = $1`, key,
	).Scan(&st.UserKey, &st.Channel, &st.ApplicationID, &st.UserID, &locale, &intent,
		pq.Array(&recent), &varsRaw, &st.TurnCount, &st.Created, &st.Updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load dialog state: %w", err)
	}

	st.Locale = locale.String
	st.CurrentIntent = intent.String
	st.RecentIntents = recent
	st.Vars = map[string]string{}
	if len(varsRaw) > 0 {
		if err := json.Unmarshal(varsRaw, &st.Vars); err != nil {
			return nil, fmt.Errorf("decode vars for %s: %w", key, err)
		}
	}
	return &st, nil
}

func (s *PGDialogStore) Save(ctx context.Context, st *store.DialogState) error {
	vars, err := json.Marshal(st.Vars)
	if err != nil {
		return fmt.Errorf("encode vars: %w", err)
	}
	now := time.Now()
	created := st.Created
	if created.IsZero() {
		created = now
	}
	recent := st.RecentIntents
	if recent == nil {
		recent = []string{}
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO dialog_states (id, user_key, channel, application_id, user_id, locale, current_intent, recent_intents, vars, turn_count, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		 ON CONFLICT (user_key) DO UPDATE SET
		   locale = EXCLUDED.locale,
		   current_intent = EXCLUDED.current_intent,
		   recent_intents = EXCLUDED.recent_intents,
		   vars = EXCLUDED.vars,
		   turn_count = EXCLUDED.turn_count,
		   updated_at = EXCLUDED.updated_at`,
		uuid.Must(uuid.NewV7()), st.UserKey, st.Channel, st.ApplicationID, st.UserID,
		st.Locale, st.CurrentIntent, pq.Array(recent), vars, st.TurnCount, created, now,
	)
	if err != nil {
		return fmt.Errorf("save dialog state: %w", err)
	}
	return nil
}

func (s *PGDialogStore) Delete(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM dialog_states WHERE user_key = $1`, key)
	return err
}

func (s *PGDialogStore) Close() error { return s.db.Close() }
