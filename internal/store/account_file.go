package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/dukerupert/docscan/internal/model"
)

// FileAccountStore keeps accounts in a single JSON document keyed by
// identity. Writes go to a temp file in the same directory which is synced
// and renamed over the target, so a crash leaves either the old or the new
// document.
type FileAccountStore struct {
	path string
	mu   sync.Mutex
}

func NewFileAccountStore(path string) *FileAccountStore {
	return &FileAccountStore{path: path}
}

// Load reads the document. A missing file is an empty ledger.
func (s *FileAccountStore) Load(_ context.Context) (map[string]model.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return map[string]model.Account{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read accounts: %w", err)
	}

	accounts := map[string]model.Account{}
	if len(data) == 0 {
		return accounts, nil
	}
	if err := json.Unmarshal(data, &accounts); err != nil {
		return nil, fmt.Errorf("decode accounts %s: %w", s.path, err)
	}
	for id, a := range accounts {
		a.Identity = id
		accounts[id] = a
	}
	return accounts, nil
}

// Save replaces the document with accounts.
func (s *FileAccountStore) Save(ctx context.Context, accounts map[string]model.Account) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.MarshalIndent(accounts, "", "  ")
	if err != nil {
		return fmt.Errorf("encode accounts: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("rename accounts file: %w", err)
	}
	return nil
}
