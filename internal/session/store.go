package session

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	json "github.com/json-iterator/go"

	"cartcheck/internal/browser"
)

// Store keeps one storage-state file per worker id in a directory. The files
// use the Playwright storage-state layout.
type Store struct {
	dir string
}

func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

func (s *Store) Dir() string { return s.dir }

// Path is the file holding the session of workerID.
func (s *Store) Path(workerID int) string {
	return filepath.Join(s.dir, strconv.Itoa(workerID)+".json")
}

// Load reads the session of workerID. A missing file reports ok=false and no
// error.
func (s *Store) Load(workerID int) (*browser.StorageState, bool, error) {
	data, err := os.ReadFile(s.Path(workerID))
	if errors.Is(err, os.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read session file: %w", err)
	}

	var state browser.StorageState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, false, fmt.Errorf("failed to parse session file %s: %w", s.Path(workerID), err)
	}
	return &state, true, nil
}

// Save writes the session of workerID. The file is replaced atomically so a
// concurrent reader never sees a partial write.
func (s *Store) Save(workerID int, state *browser.StorageState) error {
	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return fmt.Errorf("failed to create session directory: %w", err)
	}

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}

	tmp, err := os.CreateTemp(s.dir, strconv.Itoa(workerID)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create session file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write session file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write session file: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.Path(workerID)); err != nil {
		return fmt.Errorf("failed to store session file: %w", err)
	}
	return nil
}

// Remove deletes the session of workerID if there is one.
func (s *Store) Remove(workerID int) error {
	err := os.Remove(s.Path(workerID))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove session file: %w", err)
	}
	return nil
}

// Workers lists the worker ids that have a stored session.
func (s *Store) Workers() ([]int, error) {
	entries, err := os.ReadDir(s.dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list session directory: %w", err)
	}

	var ids []int
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		id, err := strconv.Atoi(strings.TrimSuffix(name, ".json"))
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids, nil
}

// Clear removes every stored session and reports how many were removed.
func (s *Store) Clear() (int, error) {
	ids, err := s.Workers()
	if err != nil {
		return 0, err
	}
	for i, id := range ids {
		if err := s.Remove(id); err != nil {
			return i, err
		}
	}
	return len(ids), nil
}
