package transport

import (
	"os"
	"path/filepath"
	"regexp"
)

var credKeySanitizer = regexp.MustCompile(`[^0-9]`)

// FileCredentialStore keeps one directory of pairing material per phone
// number, the multi-file layout the provider sidecar writes.
type FileCredentialStore struct {
	root string
}

func NewFileCredentialStore(root string) *FileCredentialStore {
	return &FileCredentialStore{root: root}
}

func (s *FileCredentialStore) path(phone string) string {
	return filepath.Join(s.root, credKeySanitizer.ReplaceAllString(phone, ""))
}

func (s *FileCredentialStore) Wipe(phone string) error {
	return os.RemoveAll(s.path(phone))
}

func (s *FileCredentialStore) Exists(phone string) bool {
	info, err := os.Stat(s.path(phone))
	return err == nil && info.IsDir()
}
