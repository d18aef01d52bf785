// Package ldp implements the transactional HTTP client for Linked Data
// Platform repositories with Fedora-style server-managed transactions.
//
// Client speaks the base LDP surface: CRUD verbs, describedby resolution,
// preference headers, and resource creation by PUT or POST. Transaction
// wraps a Client in a server transaction, keeps it alive on a background
// timer, and rewrites URIs between their public and transaction-scoped
// forms on every request and response.
package ldp

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"plastron.evalgo.org/binaries"
	"plastron.evalgo.org/common"
	"plastron.evalgo.org/rdf"
)

// serverManagedOmit is the preference URI asking the repository to leave
// its own triples out of a representation.
const serverManagedOmit = "http://fedora.info/definitions/v4/repository#ServerManaged"

// Repository is the mutation surface the engines program against. Both the
// plain Client and a Transaction satisfy it, so an engine runs identically
// inside and outside a transaction.
type Repository interface {
	// Endpoint returns the repository REST endpoint without a trailing
	// slash.
	Endpoint() string

	// ContainsURI reports whether the URI belongs to this repository.
	ContainsURI(uri string) bool

	// Exists reports whether the resource responds to HEAD.
	Exists(uri string) (bool, error)

	// DescribedBy returns the URL of the resource's RDF description. For
	// RDF resources this is the resource itself.
	DescribedBy(uri string) (string, error)

	// GetGraph returns the resource's description graph. With minimal
	// true, server-managed triples are omitted.
	GetGraph(uri string, minimal bool) (*rdf.Graph, error)

	// PutGraph replaces the resource's description.
	PutGraph(uri string, g *rdf.Graph) error

	// Patch applies a SPARQL Update to the resource's description. An
	// empty update is a no-op.
	Patch(uri string, update string) error

	// PatchGraph applies the delete/insert diff to the resource.
	PatchGraph(uri string, deletes, inserts *rdf.Graph) error

	// CreateInContainer POSTs a new child of the container (a path or a
	// URI), optionally with a Slug, returning the created URI and its
	// description URL.
	CreateInContainer(container, slug string, g *rdf.Graph) (created, describedBy string, err error)

	// CreateAtPath PUTs a new resource at the given repository path.
	CreateAtPath(path string, g *rdf.Graph) (created, describedBy string, err error)

	// CreateBinary POSTs the binary's bytes into the container with
	// Digest and Content-Disposition headers.
	CreateBinary(container string, src binaries.Source) (created, describedBy string, err error)
}

// Response is a fully read HTTP response. Bodies are small (RDF documents
// and empty mutation responses), so buffering them keeps the transaction
// rewrite logic simple.
type Response struct {
	StatusCode int
	Status     string
	Headers    http.Header
	Body       []byte
}

// Successful reports whether the status code is in the 2xx range.
func (r *Response) Successful() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Links returns the target URIs of Link headers with the given relation.
func (r *Response) Links(rel string) []string {
	var out []string
	for _, header := range r.Headers.Values("Link") {
		for _, link := range strings.Split(header, ",") {
			parts := strings.Split(link, ";")
			if len(parts) < 2 {
				continue
			}
			target := strings.TrimSpace(parts[0])
			if !strings.HasPrefix(target, "<") || !strings.HasSuffix(target, ">") {
				continue
			}
			for _, param := range parts[1:] {
				key, value, found := strings.Cut(strings.TrimSpace(param), "=")
				if !found || strings.TrimSpace(key) != "rel" {
					continue
				}
				if strings.Trim(strings.TrimSpace(value), `"`) == rel {
					out = append(out, strings.Trim(target, "<>"))
				}
			}
		}
	}
	return out
}

// Config configures a Client.
type Config struct {
	// Endpoint is the repository REST endpoint.
	Endpoint string

	// ExternalURL is the public-facing URL when it differs from Endpoint;
	// requests then carry X-Forwarded-Host and X-Forwarded-Proto.
	ExternalURL string

	// Auth provides Authorization header values; nil disables auth.
	Auth AuthProvider

	// HTTPClient overrides the transport, for tests and Ziti overlays.
	HTTPClient *http.Client

	// Timeout bounds individual requests when HTTPClient is nil.
	Timeout time.Duration

	// Logger, when nil, defaults to the common logger.
	Logger *logrus.Entry
}

// Client is the base LDP repository client.
type Client struct {
	endpoint    string
	externalURL string
	auth        AuthProvider
	httpClient  *http.Client
	logger      *logrus.Entry
}

// NewClient builds a Client from the config.
func NewClient(cfg Config) (*Client, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("repository endpoint is required")
	}
	if _, err := url.Parse(cfg.Endpoint); err != nil {
		return nil, fmt.Errorf("invalid repository endpoint %q: %w", cfg.Endpoint, err)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout == 0 {
			timeout = 60 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	logger := cfg.Logger
	if logger == nil {
		logger = common.ComponentLogger("ldp")
	}

	return &Client{
		endpoint:    strings.TrimRight(cfg.Endpoint, "/"),
		externalURL: strings.TrimRight(cfg.ExternalURL, "/"),
		auth:        cfg.Auth,
		httpClient:  httpClient,
		logger:      logger,
	}, nil
}

// Endpoint returns the repository REST endpoint without a trailing slash.
func (c *Client) Endpoint() string {
	return c.endpoint
}

// ContainsURI reports whether the URI belongs to this repository.
func (c *Client) ContainsURI(uri string) bool {
	return uri == c.endpoint || strings.HasPrefix(uri, c.endpoint+"/")
}

// URL resolves a repository path or URI to a full URI.
func (c *Client) URL(pathOrURI string) string {
	if strings.HasPrefix(pathOrURI, "http://") || strings.HasPrefix(pathOrURI, "https://") {
		return pathOrURI
	}
	return c.endpoint + "/" + strings.TrimLeft(pathOrURI, "/")
}

// RepoPath returns the path of a repository URI below the endpoint.
func (c *Client) RepoPath(uri string) string {
	return strings.TrimPrefix(uri, c.endpoint)
}

// Request issues one HTTP request and returns the fully read response.
// Non-2xx responses are returned, not converted to errors; callers decide
// what failure means for their operation.
func (c *Client) Request(method, uri string, headers map[string]string, body io.Reader) (*Response, error) {
	req, err := http.NewRequest(method, uri, body)
	if err != nil {
		return nil, fmt.Errorf("failed to build %s %s: %w", method, uri, err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	if c.auth != nil {
		credentials, err := c.auth.Credentials()
		if err != nil {
			return nil, fmt.Errorf("failed to obtain credentials: %w", err)
		}
		req.Header.Set("Authorization", credentials)
	}

	if c.externalURL != "" && c.externalURL != c.endpoint {
		if external, err := url.Parse(c.externalURL); err == nil {
			req.Header.Set("X-Forwarded-Host", external.Host)
			req.Header.Set("X-Forwarded-Proto", external.Scheme)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s failed: %w", method, uri, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response of %s %s: %w", method, uri, err)
	}

	c.logger.WithFields(logrus.Fields{
		"method": method,
		"uri":    uri,
		"status": resp.StatusCode,
	}).Debug("Repository request")

	return &Response{
		StatusCode: resp.StatusCode,
		Status:     resp.Status,
		Headers:    resp.Header,
		Body:       data,
	}, nil
}

// Head issues a HEAD request.
func (c *Client) Head(uri string) (*Response, error) {
	return c.Request(http.MethodHead, uri, nil, nil)
}

// Get issues a GET request with the given headers.
func (c *Client) Get(uri string, headers map[string]string) (*Response, error) {
	return c.Request(http.MethodGet, uri, headers, nil)
}

// Delete removes a resource.
func (c *Client) Delete(uri string) error {
	resp, err := c.Request(http.MethodDelete, uri, nil, nil)
	if err != nil {
		return err
	}
	if !resp.Successful() {
		return &ClientError{StatusCode: resp.StatusCode, Reason: resp.Status}
	}
	return nil
}

// Exists reports whether the resource responds to HEAD.
func (c *Client) Exists(uri string) (bool, error) {
	resp, err := c.Head(uri)
	if err != nil {
		return false, err
	}
	switch {
	case resp.Successful():
		return true, nil
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return false, nil
	default:
		return false, &ClientError{StatusCode: resp.StatusCode, Reason: resp.Status}
	}
}

// PathExists reports whether the repository path responds to HEAD.
func (c *Client) PathExists(path string) (bool, error) {
	return c.Exists(c.URL(path))
}

// DescribedBy returns the URL of the resource's RDF description, from the
// describedby link relation; absent, the resource describes itself.
func (c *Client) DescribedBy(uri string) (string, error) {
	resp, err := c.Head(uri)
	if err != nil {
		return "", err
	}
	if !resp.Successful() {
		return "", &ClientError{StatusCode: resp.StatusCode, Reason: resp.Status}
	}
	if links := resp.Links("describedby"); len(links) > 0 {
		return links[0], nil
	}
	return uri, nil
}

// GetDescription fetches the RDF description of the resource, returning
// the media type and body text. With minimal true, the request asks the
// repository to omit server-managed triples.
func (c *Client) GetDescription(uri string, minimal bool) (string, string, error) {
	describedBy, err := c.DescribedBy(uri)
	if err != nil {
		return "", "", err
	}

	headers := map[string]string{"Accept": "application/n-triples"}
	if minimal {
		headers["Prefer"] = fmt.Sprintf(`return=representation; omit="%s"`, serverManagedOmit)
	}

	resp, err := c.Get(describedBy, headers)
	if err != nil {
		return "", "", err
	}
	if !resp.Successful() {
		return "", "", &ClientError{StatusCode: resp.StatusCode, Reason: resp.Status}
	}

	mediaType := resp.Headers.Get("Content-Type")
	return mediaType, string(resp.Body), nil
}

// GetGraph returns the resource's description graph.
func (c *Client) GetGraph(uri string, minimal bool) (*rdf.Graph, error) {
	mediaType, text, err := c.GetDescription(uri, minimal)
	if err != nil {
		return nil, err
	}
	format, err := rdf.FormatForMediaType(mediaType)
	if err != nil {
		return nil, err
	}
	graph, err := rdf.DecodeGraph(strings.NewReader(text), format)
	if err != nil {
		return nil, fmt.Errorf("failed to parse description of %s: %w", uri, err)
	}
	return graph, nil
}

// PutGraph replaces the resource's description with the graph, serialized
// as Turtle.
func (c *Client) PutGraph(uri string, g *rdf.Graph) error {
	describedBy, err := c.DescribedBy(uri)
	if err != nil {
		return err
	}
	resp, err := c.Request(http.MethodPut, describedBy,
		map[string]string{"Content-Type": "text/turtle"},
		strings.NewReader(g.SerializeNTriples()))
	if err != nil {
		return err
	}
	if !resp.Successful() {
		return &ClientError{StatusCode: resp.StatusCode, Reason: resp.Status}
	}
	return nil
}

// Patch applies a SPARQL Update to the resource's description. An empty
// update string is a no-op.
func (c *Client) Patch(uri string, update string) error {
	if update == "" {
		return nil
	}
	describedBy, err := c.DescribedBy(uri)
	if err != nil {
		return err
	}
	resp, err := c.Request(http.MethodPatch, describedBy,
		map[string]string{"Content-Type": "application/sparql-update"},
		strings.NewReader(update))
	if err != nil {
		return err
	}
	if !resp.Successful() {
		return &ClientError{StatusCode: resp.StatusCode, Reason: resp.Status}
	}
	return nil
}

// PatchGraph applies the delete/insert diff to the resource.
func (c *Client) PatchGraph(uri string, deletes, inserts *rdf.Graph) error {
	return c.Patch(uri, rdf.BuildSPARQLUpdate(deletes, inserts))
}

// create finalizes a creation response: on 201 Created it resolves the
// Location and its description URL.
func (c *Client) create(resp *Response) (string, string, error) {
	if resp.StatusCode != http.StatusCreated {
		return "", "", &ClientError{StatusCode: resp.StatusCode, Reason: resp.Status}
	}
	created := resp.Headers.Get("Location")
	if created == "" {
		return "", "", fmt.Errorf("creation response carried no Location header")
	}
	if links := resp.Links("describedby"); len(links) > 0 {
		return created, links[0], nil
	}
	describedBy, err := c.DescribedBy(created)
	if err != nil {
		return "", "", err
	}
	return created, describedBy, nil
}

// CreateInContainer POSTs a new child of the container, optionally with a
// Slug hint for the new resource's name.
func (c *Client) CreateInContainer(container, slug string, g *rdf.Graph) (string, string, error) {
	headers := map[string]string{"Content-Type": "text/turtle"}
	if slug != "" {
		headers["Slug"] = slug
	}
	var body io.Reader
	if g != nil {
		body = strings.NewReader(g.SerializeNTriples())
	}
	resp, err := c.Request(http.MethodPost, c.URL(container), headers, body)
	if err != nil {
		return "", "", err
	}
	return c.create(resp)
}

// CreateAtPath PUTs a new resource at the given repository path.
func (c *Client) CreateAtPath(path string, g *rdf.Graph) (string, string, error) {
	headers := map[string]string{"Content-Type": "text/turtle"}
	var body io.Reader
	if g != nil {
		body = strings.NewReader(g.SerializeNTriples())
	}
	resp, err := c.Request(http.MethodPut, c.URL(path), headers, body)
	if err != nil {
		return "", "", err
	}
	return c.create(resp)
}

// CreateBinary POSTs the binary's bytes into the container, with the
// binary's own MIME type, its SHA-1 digest, and an attachment filename.
func (c *Client) CreateBinary(container string, src binaries.Source) (string, string, error) {
	mimeType, err := src.MimeType()
	if err != nil {
		return "", "", fmt.Errorf("failed to resolve MIME type of %s: %w", src.Name(), err)
	}
	digest, err := src.Digest()
	if err != nil {
		return "", "", fmt.Errorf("failed to digest %s: %w", src.Name(), err)
	}

	r, err := src.Open()
	if err != nil {
		return "", "", err
	}
	defer r.Close()

	headers := map[string]string{
		"Content-Type":        mimeType,
		"Digest":              digest,
		"Content-Disposition": fmt.Sprintf(`attachment; filename="%s"`, src.Name()),
	}
	resp, err := c.Request(http.MethodPost, c.URL(container), headers, r)
	if err != nil {
		return "", "", err
	}
	return c.create(resp)
}

// Post issues a POST with a byte body, for transaction control URLs.
func (c *Client) Post(uri string, headers map[string]string, body []byte) (*Response, error) {
	var r io.Reader
	if body != nil {
		r = bytes.NewReader(body)
	}
	return c.Request(http.MethodPost, uri, headers, r)
}

// compile-time checks
var _ Repository = (*Client)(nil)
