package account

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	log "github.com/sirupsen/logrus"
)

// stateVersion is written into every persisted state file. Older or missing
// versions are still loaded; the field exists so future format changes can be
// migrated in place.
const stateVersion = 3

// State is the on-disk shape of the credential pool.
type State struct {
	Version     int        `json:"version"`
	Accounts    []*Account `json:"accounts"`
	ActiveIndex int        `json:"activeIndex"`
}

// FileStore persists pool state as pretty-printed JSON at a fixed path.
// Writes go through a temp file followed by a rename so a crash mid-write
// never leaves a truncated state file behind.
type FileStore struct {
	path string
}

// NewFileStore creates a store backed by the given file path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Path returns the backing file path.
func (s *FileStore) Path() string { return s.path }

// Load reads the persisted pool state. A missing file yields an empty pool; a
// corrupt file is logged and also yields an empty pool so the process can
// start and re-provision rather than crash-loop. Records without a refresh
// token are dropped and the active index is clamped into range.
func (s *FileStore) Load() (*State, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return &State{Version: stateVersion}, nil
		}
		return nil, fmt.Errorf("account store: read %s: %w", s.path, err)
	}

	var state State
	if errUnmarshal := json.Unmarshal(data, &state); errUnmarshal != nil {
		log.Warnf("account store: %s is corrupt, starting with an empty pool: %v", s.path, errUnmarshal)
		return &State{Version: stateVersion}, nil
	}

	kept := state.Accounts[:0]
	for _, acct := range state.Accounts {
		if !acct.Valid() {
			log.Warnf("account store: dropping account %q without refresh token", acct.Email)
			continue
		}
		kept = append(kept, acct)
	}
	state.Accounts = kept
	state.Version = stateVersion
	if state.ActiveIndex < 0 || state.ActiveIndex >= len(state.Accounts) {
		state.ActiveIndex = 0
	}
	return &state, nil
}

// Save writes the state atomically, creating the parent directory if needed.
// Directory and file permissions are restricted to the owner since the file
// holds live credentials.
func (s *FileStore) Save(state *State) error {
	state.Version = stateVersion
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("account store: marshal state: %w", err)
	}

	dir := filepath.Dir(s.path)
	if errMkdir := os.MkdirAll(dir, 0o700); errMkdir != nil {
		return fmt.Errorf("account store: create %s: %w", dir, errMkdir)
	}

	tmp, errTmp := os.CreateTemp(dir, filepath.Base(s.path)+".tmp-*")
	if errTmp != nil {
		return fmt.Errorf("account store: create temp file: %w", errTmp)
	}
	tmpName := tmp.Name()
	if _, errWrite := tmp.Write(data); errWrite != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("account store: write temp file: %w", errWrite)
	}
	if errClose := tmp.Close(); errClose != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("account store: close temp file: %w", errClose)
	}
	if errChmod := os.Chmod(tmpName, 0o600); errChmod != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("account store: chmod temp file: %w", errChmod)
	}
	if errRename := os.Rename(tmpName, s.path); errRename != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("account store: rename into place: %w", errRename)
	}
	return nil
}
