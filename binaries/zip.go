package binaries

import (
	"archive/zip"
	"fmt"
	"io"
	"path"
	"sync"
)

// ZipSource reads a member of a local ZIP archive.
type ZipSource struct {
	archivePath string
	member      string

	mu     sync.Mutex
	reader *zip.ReadCloser
}

// NewZipSource returns a source over a member of the archive at
// archivePath. The archive is opened lazily.
func NewZipSource(archivePath, member string) *ZipSource {
	return &ZipSource{archivePath: archivePath, member: member}
}

func (s *ZipSource) open() (*zip.ReadCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.reader != nil {
		return s.reader, nil
	}
	r, err := zip.OpenReader(s.archivePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open ZIP archive %s: %w", s.archivePath, err)
	}
	s.reader = r
	return r, nil
}

func (s *ZipSource) find() (*zip.File, error) {
	r, err := s.open()
	if err != nil {
		return nil, err
	}
	for _, f := range r.File {
		if f.Name == s.member {
			return f, nil
		}
	}
	return nil, &NotFoundError{Location: s.archivePath + "/" + s.member}
}

// Name returns the member's base name.
func (s *ZipSource) Name() string {
	return path.Base(s.member)
}

// Open returns a reader over the member's decompressed bytes.
func (s *ZipSource) Open() (io.ReadCloser, error) {
	f, err := s.find()
	if err != nil {
		return nil, err
	}
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open ZIP member %s: %w", s.member, err)
	}
	return rc, nil
}

// Exists reports whether the member is present in the archive.
func (s *ZipSource) Exists() (bool, error) {
	_, err := s.find()
	if IsNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// MimeType resolves the member's MIME type by extension or content.
func (s *ZipSource) MimeType() (string, error) {
	return detectMimeType(s.member, s.Open)
}

// Digest returns the SHA-1 checksum of the member.
func (s *ZipSource) Digest() (string, error) {
	return sha1Digest(s)
}

// Size returns the member's uncompressed length.
func (s *ZipSource) Size() (int64, error) {
	f, err := s.find()
	if err != nil {
		return 0, err
	}
	return int64(f.UncompressedSize64), nil
}

// Close closes the archive.
func (s *ZipSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reader == nil {
		return nil
	}
	err := s.reader.Close()
	s.reader = nil
	return err
}

// ZipOverSFTPSource reads a member of a ZIP archive that lives on an SFTP
// host. The archive's central directory is read over the wire; member
// bytes are fetched on demand through ReadAt, so large archives are never
// downloaded whole.
type ZipOverSFTPSource struct {
	remote *SFTPSource
	member string

	mu      sync.Mutex
	zipFile io.Closer
	reader  *zip.Reader
}

// NewZipOverSFTPSource returns a source over member of the remote archive
// named by archiveURL (an sftp:// URL). The connection is established
// lazily.
func NewZipOverSFTPSource(archiveURL, member string, opts SSHOptions) (*ZipOverSFTPSource, error) {
	remote, err := NewSFTPSource(archiveURL, opts)
	if err != nil {
		return nil, err
	}
	return &ZipOverSFTPSource{remote: remote, member: member}, nil
}

func (s *ZipOverSFTPSource) open() (*zip.Reader, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.reader != nil {
		return s.reader, nil
	}

	size, err := s.remote.Size()
	if err != nil {
		return nil, err
	}

	client, err := s.remote.connect()
	if err != nil {
		return nil, err
	}
	f, err := client.Open(s.remote.path)
	if err != nil {
		return nil, fmt.Errorf("failed to open remote ZIP %s: %w", s.remote.rawurl, err)
	}

	r, err := zip.NewReader(f, size)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to read remote ZIP %s: %w", s.remote.rawurl, err)
	}

	s.zipFile = f
	s.reader = r
	return r, nil
}

func (s *ZipOverSFTPSource) find() (*zip.File, error) {
	r, err := s.open()
	if err != nil {
		return nil, err
	}
	for _, f := range r.File {
		if f.Name == s.member {
			return f, nil
		}
	}
	return nil, &NotFoundError{Location: s.remote.rawurl + "/" + s.member}
}

// Name returns the member's base name.
func (s *ZipOverSFTPSource) Name() string {
	return path.Base(s.member)
}

// Open returns a reader over the member's decompressed bytes.
func (s *ZipOverSFTPSource) Open() (io.ReadCloser, error) {
	f, err := s.find()
	if err != nil {
		return nil, err
	}
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open ZIP member %s: %w", s.member, err)
	}
	return rc, nil
}

// Exists reports whether the member is present in the remote archive.
func (s *ZipOverSFTPSource) Exists() (bool, error) {
	_, err := s.find()
	if IsNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// MimeType resolves the member's MIME type by extension or content.
func (s *ZipOverSFTPSource) MimeType() (string, error) {
	return detectMimeType(s.member, s.Open)
}

// Digest returns the SHA-1 checksum of the member.
func (s *ZipOverSFTPSource) Digest() (string, error) {
	return sha1Digest(s)
}

// Size returns the member's uncompressed length.
func (s *ZipOverSFTPSource) Size() (int64, error) {
	f, err := s.find()
	if err != nil {
		return 0, err
	}
	return int64(f.UncompressedSize64), nil
}

// Close shuts down the remote archive handle and the SFTP connection.
func (s *ZipOverSFTPSource) Close() error {
	s.mu.Lock()
	if s.zipFile != nil {
		s.zipFile.Close()
		s.zipFile = nil
		s.reader = nil
	}
	s.mu.Unlock()
	return s.remote.Close()
}
