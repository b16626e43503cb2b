package wallet

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// Identity is the locally persisted part of a session: the durable wallet id
// and the last name we saw for it. Coins are never persisted locally, the
// registry owns them.
type Identity struct {
	WalletID string `json:"wallet_id"`
	Name     string `json:"name"`
}

type IdentityStore interface {
	Load() (Identity, bool)
	Save(Identity) error
	Clear() error
}

type FileStore struct {
	path string
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (s *FileStore) Load() (Identity, bool) {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		return Identity{}, false
	}

	var id Identity
	if err := json.Unmarshal(raw, &id); err != nil {
		return Identity{}, false
	}
	if strings.TrimSpace(id.WalletID) == "" {
		return Identity{}, false
	}
	return id, true
}

func (s *FileStore) Save(id Identity) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}

	raw, err := json.Marshal(id)
	if err != nil {
		return err
	}
	return os.WriteFile(s.path, raw, 0o600)
}

func (s *FileStore) Clear() error {
	err := os.Remove(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}
