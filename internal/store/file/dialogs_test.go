package file

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/nextlevelbuilder/relaycore/internal/store"
)

func TestFileDialogStore_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileDialogStore(dir)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	st := store.NewDialogState("assistant:app:u1", "assistant", "app", "u1")
	st.PushIntent("weather")
	st.Vars["city"] = "Lyon"
	st.TurnCount = 3
	if err := s.Save(ctx, st); err != nil {
		t.Fatal(err)
	}

	if _, err := os.Stat(filepath.Join(dir, "assistant_app_u1.json")); err != nil {
		t.Fatalf("state file missing: %v", err)
	}

	got, err := s.Load(ctx, "assistant:app:u1")
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || got.Vars["city"] != "Lyon" || got.TurnCount != 3 || got.CurrentIntent != "weather" {
		t.Errorf("loaded = %+v", got)
	}

	if err := s.Delete(ctx, "assistant:app:u1"); err != nil {
		t.Fatal(err)
	}
	got, err = s.Load(ctx, "assistant:app:u1")
	if err != nil || got != nil {
		t.Errorf("Load after Delete = (%v, %v)", got, err)
	}
	if err := s.Delete(ctx, "assistant:app:u1"); err != nil {
		t.Errorf("second Delete: %v", err)
	}
}

func TestFileDialogStore_RejectsUnsafeKeys(t *testing.T) {
	s, err := NewFileDialogStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	for _, key := range []string{"", "..", "a/b", `a\b`} {
		if _, err := s.Load(context.Background(), key); err == nil {
			t.Errorf("Load(%q) should fail", key)
		}
	}
}
