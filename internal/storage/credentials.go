package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// Credentials is the durable session state: the bearer token and the driver
// id it belongs to. Keys mirror the backend contract (driver_token,
// driver_id).
type Credentials struct {
	Token    string `json:"driver_token"`
	DriverID int64  `json:"driver_id"`
}

var ErrNoCredentials = errors.New("no stored credentials")

// CredentialStore persists credentials across restarts. Writes go through a
// temp file and rename so a crash mid-write never leaves a torn state file.
type CredentialStore struct {
	path string
}

func NewCredentialStore(path string) *CredentialStore {
	return &CredentialStore{path: path}
}

func (s *CredentialStore) Load() (Credentials, error) {
	b, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return Credentials{}, ErrNoCredentials
		}
		return Credentials{}, fmt.Errorf("read credentials: %w", err)
	}
	var c Credentials
	if err := json.Unmarshal(b, &c); err != nil {
		return Credentials{}, fmt.Errorf("decode credentials: %w", err)
	}
	if c.Token == "" {
		return Credentials{}, ErrNoCredentials
	}
	return c, nil
}

func (s *CredentialStore) Save(c Credentials) error {
	b, err := json.Marshal(c)
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return fmt.Errorf("write credentials: %w", err)
	}
	return os.Rename(tmp, s.path)
}

// Clear removes the stored credentials. Missing file is not an error.
func (s *CredentialStore) Clear() error {
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
