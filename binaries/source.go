// Package binaries provides uniform access to the files attached to
// imported items, wherever they live: the local filesystem, an HTTP
// server, an SFTP host, a ZIP archive (local or remote), or an S3 bucket.
//
// All implementations satisfy the Source interface; the import engine
// never knows which transport a file came from. Missing files surface as
// *NotFoundError, distinct from transport failures, so that the engine
// can drop a row as invalid rather than failed.
package binaries

import (
	"crypto/sha1"
	"errors"
	"fmt"
	"io"
	"mime"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// Source is the capability interface over one binary.
type Source interface {
	// Name returns the filename to use for Content-Disposition.
	Name() string

	// Open returns a reader over the binary's bytes.
	Open() (io.ReadCloser, error)

	// Exists reports whether the binary can be found.
	Exists() (bool, error)

	// MimeType returns the binary's MIME type.
	MimeType() (string, error)

	// Digest returns the SHA-1 checksum in "sha1=<hex>" form.
	Digest() (string, error)

	// Size returns the binary's length in bytes.
	Size() (int64, error)

	// Close releases any connections held by the source.
	Close() error
}

// NotFoundError reports a binary that could not be located. It is distinct
// from transport failures: a row naming a missing file is invalid, a row
// whose transport failed is an error.
type NotFoundError struct {
	Location string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("binary source not found: %s", e.Location)
}

// IsNotFound reports whether err is a missing-binary error.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// NewSource selects a Source implementation from the location prefix:
//
//	zip:<archive>              member subpath of a local ZIP
//	zip+sftp:<sftp-url>        member subpath of a ZIP fetched over SFTP
//	sftp://user@host/dir       subpath under a remote directory
//	s3://bucket/prefix         subpath under an S3 prefix
//	http:// or https://        subpath resolved against the URL
//	anything else              subpath joined to a local directory
//
// When subpath is empty the location itself names the binary.
func NewSource(location, subpath string) (Source, error) {
	switch {
	case strings.HasPrefix(location, "zip+sftp:"):
		return NewZipOverSFTPSource(strings.TrimPrefix(location, "zip+sftp:"), subpath, DefaultSSHOptions)
	case strings.HasPrefix(location, "zip:"):
		return NewZipSource(strings.TrimPrefix(location, "zip:"), subpath), nil
	case strings.HasPrefix(location, "sftp:"):
		return NewSFTPSource(joinURL(location, subpath), DefaultSSHOptions)
	case strings.HasPrefix(location, "s3:"):
		return NewS3Source(joinURL(location, subpath))
	case strings.HasPrefix(location, "http:"), strings.HasPrefix(location, "https:"):
		return NewHTTPSource(joinURL(location, subpath)), nil
	default:
		return NewLocalSource(filepath.Join(location, subpath)), nil
	}
}

func joinURL(base, subpath string) string {
	if subpath == "" {
		return base
	}
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(subpath, "/")
}

// sha1Digest streams the source's bytes through SHA-1 and renders the
// fixed "sha1=<hex>" form the repository expects in Digest headers.
func sha1Digest(src Source) (string, error) {
	r, err := src.Open()
	if err != nil {
		return "", err
	}
	defer r.Close()

	h := sha1.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", fmt.Errorf("failed to digest %s: %w", src.Name(), err)
	}
	return fmt.Sprintf("sha1=%x", h.Sum(nil)), nil
}

// detectMimeType resolves a MIME type by file extension first and by
// content sniffing when the extension is unknown.
func detectMimeType(name string, open func() (io.ReadCloser, error)) (string, error) {
	if mt := mime.TypeByExtension(filepath.Ext(name)); mt != "" {
		if i := strings.Index(mt, ";"); i >= 0 {
			mt = mt[:i]
		}
		return mt, nil
	}

	r, err := open()
	if err != nil {
		return "", err
	}
	defer r.Close()

	detected, err := mimetype.DetectReader(r)
	if err != nil {
		return "", fmt.Errorf("failed to sniff MIME type of %s: %w", name, err)
	}
	return detected.String(), nil
}
