package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Store persists sessions keyed by dump filename. Implementations must
// make Save atomic: a crash mid-save leaves the previous session intact.
type Store interface {
	Save(s *Session) error
	Load(filePath string) (*Session, error)
	Delete(filePath string) error
}

// ErrNotFound is returned by Load when no session exists for the file.
var ErrNotFound = fmt.Errorf("no saved session")

// FileStore keeps one JSON file per dump under a directory.
type FileStore struct {
	dir string
}

// NewFileStore creates the directory if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		dir = filepath.Join(os.TempDir(), "bigdump-sessions")
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create session dir: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

// path derives the session file name from the dump's base name.
func (fs *FileStore) path(filePath string) string {
	return filepath.Join(fs.dir, ".bigdump-session-"+filepath.Base(filePath)+".json")
}

// Save writes to a temp file then renames, so a concurrent crash never
// corrupts the last good session.
func (fs *FileStore) Save(s *Session) error {
	s.LastUpdate = time.Now()

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}

	target := fs.path(s.FilePath)
	tmp := target + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("write session temp file: %w", err)
	}
	return os.Rename(tmp, target)
}

// Load reads the session for a dump file.
func (fs *FileStore) Load(filePath string) (*Session, error) {
	data, err := os.ReadFile(fs.path(filePath))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("invalid session file: %w", err)
	}
	return &s, nil
}

// Delete removes the session, typically after a finished import.
func (fs *FileStore) Delete(filePath string) error {
	err := os.Remove(fs.path(filePath))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// MemStore is the one-shot in-memory store used by the CLI path and by
// tests.
type MemStore struct {
	sessions map[string]*Session
}

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{sessions: make(map[string]*Session)}
}

func (ms *MemStore) Save(s *Session) error {
	s.LastUpdate = time.Now()
	cp := *s
	ms.sessions[s.FilePath] = &cp
	return nil
}

func (ms *MemStore) Load(filePath string) (*Session, error) {
	s, ok := ms.sessions[filePath]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (ms *MemStore) Delete(filePath string) error {
	delete(ms.sessions, filePath)
	return nil
}
