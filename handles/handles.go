// Package handles is a client for the handle service: minting and
// updating persistent identifiers that resolve to public resource URLs.
package handles

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"plastron.evalgo.org/common"
)

// Handle is one persistent identifier and its current target URL.
type Handle struct {
	Prefix string `json:"prefix"`
	Suffix string `json:"suffix"`
	URL    string `json:"url"`
}

// String renders the handle in "prefix/suffix" form.
func (h Handle) String() string {
	return h.Prefix + "/" + h.Suffix
}

// ServiceError wraps a non-success response from the handle service.
type ServiceError struct {
	StatusCode int
	Status     string
	Body       string
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("handle service returned %s: %s", e.Status, e.Body)
}

// Client talks JSON to the handle service with a JWT bearer token.
type Client struct {
	endpoint   string
	jwtToken   string
	httpClient *http.Client
	logger     *logrus.Entry
}

// NewClient returns a handle service client for the given endpoint.
func NewClient(endpoint, jwtToken string) *Client {
	return &Client{
		endpoint:   strings.TrimRight(endpoint, "/"),
		jwtToken:   jwtToken,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     common.ComponentLogger("handles"),
	}
}

// SetHTTPClient replaces the HTTP client, primarily for tests.
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}

func (c *Client) do(method, path string, query url.Values, payload interface{}, result interface{}) error {
	u := c.endpoint + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to encode handle request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, u, body)
	if err != nil {
		return fmt.Errorf("failed to build handle request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.jwtToken)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("handle request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read handle response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &ServiceError{StatusCode: resp.StatusCode, Status: resp.Status, Body: strings.TrimSpace(string(data))}
	}
	if result != nil {
		if err := json.Unmarshal(data, result); err != nil {
			return fmt.Errorf("failed to decode handle response: %w", err)
		}
	}
	return nil
}

// FindHandle looks up an existing handle for a repository path under the
// given prefix. Returns nil when no handle exists.
func (c *Client) FindHandle(prefix, repoPath string) (*Handle, error) {
	query := url.Values{}
	query.Set("prefix", prefix)
	query.Set("repo", "fcrepo")
	query.Set("repo_id", repoPath)

	var found struct {
		Exists bool `json:"exists"`
		Handle
	}
	if err := c.do(http.MethodGet, "/handles/exists", query, nil, &found); err != nil {
		return nil, err
	}
	if !found.Exists {
		return nil, nil
	}
	c.logger.WithFields(logrus.Fields{
		"handle":    found.Handle.String(),
		"repo_path": repoPath,
	}).Debug("Found existing handle")
	return &found.Handle, nil
}

// CreateHandle mints a new handle under the prefix, targeting targetURL
// and recording the repository path it belongs to.
func (c *Client) CreateHandle(prefix, targetURL, repoPath string) (*Handle, error) {
	payload := map[string]string{
		"prefix":  prefix,
		"url":     targetURL,
		"repo":    "fcrepo",
		"repo_id": repoPath,
	}
	var handle Handle
	if err := c.do(http.MethodPost, "/handles", nil, payload, &handle); err != nil {
		return nil, err
	}
	c.logger.WithFields(logrus.Fields{
		"handle": handle.String(),
		"url":    targetURL,
	}).Info("Created handle")
	return &handle, nil
}

// UpdateHandle repoints an existing handle at a new target URL.
func (c *Client) UpdateHandle(handle Handle, targetURL string) (*Handle, error) {
	payload := map[string]string{"url": targetURL}
	var updated Handle
	path := fmt.Sprintf("/handles/%s/%s", handle.Prefix, handle.Suffix)
	if err := c.do(http.MethodPatch, path, nil, payload, &updated); err != nil {
		return nil, err
	}
	c.logger.WithFields(logrus.Fields{
		"handle": updated.String(),
		"url":    targetURL,
	}).Info("Updated handle")
	return &updated, nil
}
