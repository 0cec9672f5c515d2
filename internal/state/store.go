// Package state persists the last address the agent acted on.
package state

import (
	"fmt"
	"os"
	"strings"

	"dnswatch/internal/fsutil"
)

// FileStore keeps the last known IPv4 as the whole content of a text file.
type FileStore struct {
	path string
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (s *FileStore) Path() string { return s.path }

// Get returns the stored address trimmed of whitespace, or "" when the file
// is missing or unreadable.
func (s *FileStore) Get() string {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

// Set overwrites the stored address.
func (s *FileStore) Set(ip string) error {
	if err := fsutil.WriteFileAtomic(s.path, []byte(strings.TrimSpace(ip)), 0o644); err != nil {
		return fmt.Errorf("persist last ip: %w", err)
	}
	return nil
}
