package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/nextlevelbuilder/relaycore/internal/store"
)

func TestSQLiteDialogStore(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "dialogs.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	ctx := context.Background()

	got, err := s.Load(ctx, "messenger:page:u1")
	if err != nil || got != nil {
		t.Fatalf("Load on empty db = (%v, %v)", got, err)
	}

	st := store.NewDialogState("messenger:page:u1", "messenger", "page", "u1")
	st.Locale = "fr"
	st.PushIntent("greet")
	st.PushIntent("order")
	st.Vars["size"] = "L"
	st.TurnCount = 2
	if err := s.Save(ctx, st); err != nil {
		t.Fatal(err)
	}

	st.TurnCount = 3
	st.Vars["size"] = "XL"
	if err := s.Save(ctx, st); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	got, err = s.Load(ctx, "messenger:page:u1")
	if err != nil {
		t.Fatal(err)
	}
	if got.TurnCount != 3 || got.Vars["size"] != "XL" || got.Locale != "fr" {
		t.Errorf("loaded = %+v", got)
	}
	if len(got.RecentIntents) != 2 || got.RecentIntents[1] != "order" || got.CurrentIntent != "order" {
		t.Errorf("intents = %v / %s", got.RecentIntents, got.CurrentIntent)
	}
	if got.Created.IsZero() || got.Updated.Before(got.Created) {
		t.Errorf("timestamps = %v / %v", got.Created, got.Updated)
	}

	if err := s.Delete(ctx, "messenger:page:u1"); err != nil {
		t.Fatal(err)
	}
	if got, _ := s.Load(ctx, "messenger:page:u1"); got != nil {
		t.Errorf("Load after Delete = %+v", got)
	}
}
