package binaries

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// LocalSource reads a binary from the local filesystem.
type LocalSource struct {
	path string
}

// NewLocalSource returns a source over the file at path.
func NewLocalSource(path string) *LocalSource {
	return &LocalSource{path: path}
}

// Name returns the file's base name.
func (s *LocalSource) Name() string {
	return filepath.Base(s.path)
}

// Open opens the file for reading.
func (s *LocalSource) Open() (io.ReadCloser, error) {
	f, err := os.Open(s.path)
	if os.IsNotExist(err) {
		return nil, &NotFoundError{Location: s.path}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", s.path, err)
	}
	return f, nil
}

// Exists reports whether the file is present.
func (s *LocalSource) Exists() (bool, error) {
	_, err := os.Stat(s.path)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to stat %s: %w", s.path, err)
	}
	return true, nil
}

// MimeType resolves the MIME type by extension, sniffing content when the
// extension is unknown.
func (s *LocalSource) MimeType() (string, error) {
	return detectMimeType(s.path, s.Open)
}

// Digest returns the SHA-1 checksum of the file.
func (s *LocalSource) Digest() (string, error) {
	return sha1Digest(s)
}

// Size returns the file's length in bytes.
func (s *LocalSource) Size() (int64, error) {
	info, err := os.Stat(s.path)
	if os.IsNotExist(err) {
		return 0, &NotFoundError{Location: s.path}
	}
	if err != nil {
		return 0, fmt.Errorf("failed to stat %s: %w", s.path, err)
	}
	return info.Size(), nil
}

// Close is a no-op for local files.
func (s *LocalSource) Close() error {
	return nil
}
