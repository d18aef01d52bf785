package binaries

import (
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
)

// HTTPSource reads a binary from an HTTP or HTTPS URL.
type HTTPSource struct {
	url    string
	client *http.Client
}

// NewHTTPSource returns a source over the given URL using the default
// HTTP client.
func NewHTTPSource(rawurl string) *HTTPSource {
	return &HTTPSource{url: rawurl, client: http.DefaultClient}
}

// NewHTTPSourceWithClient returns a source using a caller-supplied client.
func NewHTTPSourceWithClient(rawurl string, client *http.Client) *HTTPSource {
	return &HTTPSource{url: rawurl, client: client}
}

// Name returns the last path segment of the URL.
func (s *HTTPSource) Name() string {
	u, err := url.Parse(s.url)
	if err != nil {
		return s.url
	}
	return path.Base(u.Path)
}

// Open issues a GET and returns the response body.
func (s *HTTPSource) Open() (io.ReadCloser, error) {
	resp, err := s.client.Get(s.url)
	if err != nil {
		return nil, fmt.Errorf("failed to GET %s: %w", s.url, err)
	}
	if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone {
		resp.Body.Close()
		return nil, &NotFoundError{Location: s.url}
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("GET %s returned %s", s.url, resp.Status)
	}
	return resp.Body, nil
}

// Exists issues a HEAD and reports whether the URL resolves.
func (s *HTTPSource) Exists() (bool, error) {
	resp, err := s.client.Head(s.url)
	if err != nil {
		return false, fmt.Errorf("failed to HEAD %s: %w", s.url, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return false, nil
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return true, nil
	default:
		return false, fmt.Errorf("HEAD %s returned %s", s.url, resp.Status)
	}
}

// MimeType returns the Content-Type reported by the server, falling back
// to extension and content detection when the server does not say.
func (s *HTTPSource) MimeType() (string, error) {
	resp, err := s.client.Head(s.url)
	if err != nil {
		return "", fmt.Errorf("failed to HEAD %s: %w", s.url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone {
		return "", &NotFoundError{Location: s.url}
	}

	ct := resp.Header.Get("Content-Type")
	if i := strings.Index(ct, ";"); i >= 0 {
		ct = strings.TrimSpace(ct[:i])
	}
	if ct != "" && ct != "application/octet-stream" {
		return ct, nil
	}
	return detectMimeType(s.Name(), s.Open)
}

// Digest returns the SHA-1 checksum of the body.
func (s *HTTPSource) Digest() (string, error) {
	return sha1Digest(s)
}

// Size returns the Content-Length reported by the server.
func (s *HTTPSource) Size() (int64, error) {
	resp, err := s.client.Head(s.url)
	if err != nil {
		return 0, fmt.Errorf("failed to HEAD %s: %w", s.url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone {
		return 0, &NotFoundError{Location: s.url}
	}
	if resp.ContentLength < 0 {
		return 0, fmt.Errorf("server did not report a length for %s", s.url)
	}
	return resp.ContentLength, nil
}

// Close is a no-op; connections are pooled by the HTTP client.
func (s *HTTPSource) Close() error {
	return nil
}
