package ldp

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"plastron.evalgo.org/rdf"
)

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := NewClient(Config{Endpoint: server.URL + "/rest"})
	require.NoError(t, err)
	return client, server
}

func TestResponseLinks(t *testing.T) {
	headers := http.Header{}
	headers.Add("Link", `<http://h/rest/x/y/fcr:metadata>; rel="describedby"`)
	headers.Add("Link", `<http://www.w3.org/ns/ldp#Resource>; rel="type", <http://h/rest/acl>; rel="acl"`)
	resp := &Response{Headers: headers}

	assert.Equal(t, []string{"http://h/rest/x/y/fcr:metadata"}, resp.Links("describedby"))
	assert.Equal(t, []string{"http://h/rest/acl"}, resp.Links("acl"))
	assert.Empty(t, resp.Links("timemap"))
}

func TestDescribedBy(t *testing.T) {
	client, server := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/rest/binary":
			w.Header().Add("Link", fmt.Sprintf(`<%s>; rel="describedby"`, "http://h/rest/binary/fcr:metadata"))
			w.WriteHeader(http.StatusOK)
		case "/rest/plain":
			w.WriteHeader(http.StatusOK)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))

	describedBy, err := client.DescribedBy(server.URL + "/rest/binary")
	require.NoError(t, err)
	assert.Equal(t, "http://h/rest/binary/fcr:metadata", describedBy)

	// Without a describedby link the resource describes itself.
	describedBy, err = client.DescribedBy(server.URL + "/rest/plain")
	require.NoError(t, err)
	assert.Equal(t, server.URL+"/rest/plain", describedBy)

	_, err = client.DescribedBy(server.URL + "/rest/missing")
	assert.True(t, IsClientError(err, http.StatusNotFound))
}

func TestGetGraphMinimalSendsPrefer(t *testing.T) {
	var prefer string
	client, server := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			prefer = r.Header.Get("Prefer")
			w.Header().Set("Content-Type", "application/n-triples")
			fmt.Fprintln(w, `<http://h/rest/x> <http://purl.org/dc/terms/title> "Foo" .`)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))

	g, err := client.GetGraph(server.URL+"/rest/x", true)
	require.NoError(t, err)
	assert.Equal(t, 1, g.Len())
	assert.Contains(t, prefer, "return=representation")
	assert.Contains(t, prefer, "ServerManaged")
}

func TestCreateInContainer(t *testing.T) {
	var gotSlug, gotMethod string
	client, server := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			gotMethod = r.Method
			gotSlug = r.Header.Get("Slug")
			w.Header().Set("Location", "http://h/rest/objects/abc")
			w.Header().Add("Link", `<http://h/rest/objects/abc>; rel="describedby"`)
			w.WriteHeader(http.StatusCreated)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	_ = server

	created, describedBy, err := client.CreateInContainer("/objects", "abc", rdf.NewGraph())
	require.NoError(t, err)
	assert.Equal(t, http.MethodPost, gotMethod)
	assert.Equal(t, "abc", gotSlug)
	assert.Equal(t, "http://h/rest/objects/abc", created)
	assert.Equal(t, "http://h/rest/objects/abc", describedBy)
}

func TestCreateAtPathUsesPut(t *testing.T) {
	var gotMethod, gotPath string
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPut {
			gotMethod = r.Method
			gotPath = r.URL.Path
			w.Header().Set("Location", "http://h/rest/objects/xyz")
			w.Header().Add("Link", `<http://h/rest/objects/xyz>; rel="describedby"`)
			w.WriteHeader(http.StatusCreated)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))

	created, _, err := client.CreateAtPath("/objects/xyz", nil)
	require.NoError(t, err)
	assert.Equal(t, http.MethodPut, gotMethod)
	assert.Equal(t, "/rest/objects/xyz", gotPath)
	assert.Equal(t, "http://h/rest/objects/xyz", created)
}

func TestPatchEmptyUpdateIsNoop(t *testing.T) {
	requests := 0
	client, server := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		w.WriteHeader(http.StatusNoContent)
	}))

	require.NoError(t, client.Patch(server.URL+"/rest/x", ""))
	assert.Zero(t, requests)
}

func TestForwardedHeaders(t *testing.T) {
	var host, proto string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		host = r.Header.Get("X-Forwarded-Host")
		proto = r.Header.Get("X-Forwarded-Proto")
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client, err := NewClient(Config{
		Endpoint:    server.URL + "/rest",
		ExternalURL: "https://digital.example.edu/rest",
	})
	require.NoError(t, err)

	_, err = client.Head(server.URL + "/rest/x")
	require.NoError(t, err)
	assert.Equal(t, "digital.example.edu", host)
	assert.Equal(t, "https", proto)
}

func TestJWTSecretAuth(t *testing.T) {
	auth := NewJWTSecretAuth("squeamish-ossifrage")

	header, err := auth.Credentials()
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(header, "Bearer "))

	token, err := jwt.Parse([]byte(strings.TrimPrefix(header, "Bearer ")),
		jwt.WithKey(jwa.HS256, []byte("squeamish-ossifrage")))
	require.NoError(t, err)
	assert.Equal(t, "plastron", token.Issuer())

	// Tokens are cached while still valid.
	again, err := auth.Credentials()
	require.NoError(t, err)
	assert.Equal(t, header, again)
}

func TestContainsURI(t *testing.T) {
	client, err := NewClient(Config{Endpoint: "http://h/rest"})
	require.NoError(t, err)

	assert.True(t, client.ContainsURI("http://h/rest"))
	assert.True(t, client.ContainsURI("http://h/rest/x/y"))
	assert.False(t, client.ContainsURI("http://h/restaurant/menu"))
	assert.False(t, client.ContainsURI("http://elsewhere/rest/x"))
}
