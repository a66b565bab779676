package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/nextlevelbuilder/relaycore/internal/store"
)

// FileDialogStore keeps one JSON file per user key under dir.
type FileDialogStore struct {
	dir string
	mu  sync.Mutex
}

func NewFileDialogStore(dir string) (*FileDialogStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create dialog dir: %w", err)
	}
	return &FileDialogStore{dir: dir}, nil
}

func (f *FileDialogStore) Load(_ context.Context, key string) (*store.DialogState, error) {
	path, err := f.path(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read dialog state: %w", err)
	}
	var st store.DialogState
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("decode dialog state %s: %w", key, err)
	}
	if st.Vars == nil {
		st.Vars = map[string]string{}
	}
	return &st, nil
}

func (f *FileDialogStore) Save(_ context.Context, st *store.DialogState) error {
	path, err := f.path(st.UserKey)
	if err != nil {
		return err
	}
	snapshot := st.Clone()
	snapshot.Updated = time.Now()
	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	// temp file then rename, so readers never see a partial file
	tmpFile, err := os.CreateTemp(f.dir, "dialog-*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmpFile.Name()
	cleanup := true
	defer func() {
		if cleanup {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		return err
	}
	if err := tmpFile.Sync(); err != nil {
		tmpFile.Close()
		return err
	}
	tmpFile.Close()

	if err := os.Rename(tmpPath, path); err != nil {
		return err
	}
	cleanup = false
	return nil
}

func (f *FileDialogStore) Delete(_ context.Context, key string) error {
	path, err := f.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

func (f *FileDialogStore) Close() error { return nil }

func (f *FileDialogStore) path(key string) (string, error) {
	name := sanitizeFilename(key)
	if name == "" || name == "." || !filepath.IsLocal(name) || strings.ContainsAny(name, `/\`) {
		return "", os.ErrInvalid
	}
	return filepath.Join(f.dir, name+".json"), nil
}

func sanitizeFilename(key string) string {
	return strings.ReplaceAll(key, ":", "_")
}
