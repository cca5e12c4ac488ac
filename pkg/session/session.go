package session

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
)

var safeID = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// Store keeps one browser storage-state file per instance under Dir.
type Store struct {
	Dir string
}

func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("could not create session dir: %w", err)
	}
	return &Store{Dir: dir}, nil
}

// Path returns the artifact location for instanceID. The file may not exist.
func (s *Store) Path(instanceID string) (string, error) {
	if !safeID.MatchString(instanceID) {
		return "", fmt.Errorf("invalid instance id %q", instanceID)
	}
	return filepath.Join(s.Dir, instanceID+".json"), nil
}

func (s *Store) Exists(instanceID string) bool {
	p, err := s.Path(instanceID)
	if err != nil {
		return false
	}
	info, err := os.Stat(p)
	return err == nil && info.Size() > 0
}

// Discard removes a stale artifact. Missing files are not an error.
func (s *Store) Discard(instanceID string) error {
	p, err := s.Path(instanceID)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
