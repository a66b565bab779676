package cmd

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nextlevelbuilder/relaycore/internal/config"
	"github.com/nextlevelbuilder/relaycore/internal/store"
)

func TestProactiveJobsDefaultApplication(t *testing.T) {
	cfg := config.Default()
	cfg.Channels.Messenger.PageID = "page-1"
	cfg.Proactive = []config.ProactiveJob{
		{Name: "a", Channel: "messenger", Recipient: "u1"},
		{Name: "b", Channel: "messenger", ApplicationID: "other", Recipient: "u2"},
		{Name: "c", Channel: "assistant", Recipient: "u3"},
	}

	jobs := proactiveJobs(cfg)
	assert.Equal(t, "page-1", jobs[0].ApplicationID)
	assert.Equal(t, "other", jobs[1].ApplicationID)
	assert.Empty(t, jobs[2].ApplicationID)
	assert.Empty(t, cfg.Proactive[0].ApplicationID, "config must not be modified")
}

func TestOpenDialogStore(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name string
		cfg  config.DatabaseConfig
	}{
		{"default", config.DatabaseConfig{}},
		{"memory", config.DatabaseConfig{Mode: dbModeMemory}},
		{"file", config.DatabaseConfig{Mode: dbModeFile, FileDir: filepath.Join(dir, "dialogs")}},
		{"sqlite", config.DatabaseConfig{Mode: dbModeSQLite, SQLitePath: filepath.Join(dir, "db", "dialogs.db")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := openDialogStore(tt.cfg)
			require.NoError(t, err)
			defer s.Close()

			ctx := context.Background()
			st := store.NewDialogState("messenger:p:u", "messenger", "p", "u")
			require.NoError(t, s.Save(ctx, st))
			got, err := s.Load(ctx, st.UserKey)
			require.NoError(t, err)
			require.NotNil(t, got)
			assert.Equal(t, "u", got.UserID)
		})
	}
}

func TestOpenDialogStoreErrors(t *testing.T) {
	_, err := openDialogStore(config.DatabaseConfig{Mode: "redis"})
	assert.ErrorContains(t, err, "unknown database mode")

	_, err = openDialogStore(config.DatabaseConfig{Mode: dbModePostgres})
	assert.ErrorContains(t, err, "RELAYCORE_POSTGRES_DSN")
}
