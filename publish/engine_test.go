package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"plastron.evalgo.org/handles"
	"plastron.evalgo.org/jobs"
	"plastron.evalgo.org/ldp"
	"plastron.evalgo.org/rdf"
)

// fakeRepo serves resource graphs and applies SPARQL PATCH bodies.
type fakeRepo struct {
	mu        sync.Mutex
	serverURL string
	graphs    map[string]*rdf.Graph
}

func (f *fakeRepo) graph(path string) *rdf.Graph {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.graphs[path]
}

func (f *fakeRepo) setGraph(path string, g *rdf.Graph) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.graphs[path] = g
}

func (f *fakeRepo) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodHead:
			w.WriteHeader(http.StatusOK)
		case http.MethodGet:
			g := f.graph(r.URL.Path)
			if g == nil {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			w.Header().Set("Content-Type", "application/n-triples")
			io.WriteString(w, g.SerializeNTriples())
		case http.MethodPatch:
			body, err := io.ReadAll(r.Body)
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			update, err := rdf.ParseUpdate(string(body))
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			g := f.graph(r.URL.Path)
			if g == nil {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			if err := update.Apply(g, f.serverURL+r.URL.Path); err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			f.setGraph(r.URL.Path, g)
			w.WriteHeader(http.StatusNoContent)
		default:
			w.WriteHeader(http.StatusNoContent)
		}
	})
}

func newFakeRepo(t *testing.T) (*fakeRepo, *ldp.Client) {
	t.Helper()
	f := &fakeRepo{graphs: make(map[string]*rdf.Graph)}
	server := httptest.NewServer(f.handler())
	t.Cleanup(server.Close)
	f.serverURL = server.URL

	client, err := ldp.NewClient(ldp.Config{Endpoint: server.URL + "/rest"})
	require.NoError(t, err)
	return f, client
}

func (f *fakeRepo) seedResource(client *ldp.Client, path string, markers ...rdf.IRI) string {
	uri := client.Endpoint() + path
	subj := rdf.MustURI(uri)
	g := rdf.GraphFromTriples(
		rdf.NewTriple(subj, rdf.RDFType, rdf.MustURI(rdf.NSPCDM+"Object")),
		rdf.NewTriple(subj, rdf.MustURI(rdf.NSDCTerms+"title"), rdf.NewLiteral("Item")),
	)
	for _, marker := range markers {
		g.Add(rdf.NewTriple(subj, rdf.RDFType, marker))
	}
	f.setGraph("/rest"+path, g)
	return uri
}

// fakeHandleService answers the handle service's JSON endpoints.
type fakeHandleService struct {
	mu      sync.Mutex
	known   map[string]handles.Handle
	creates int
	updates int
	suffix  int
}

func (s *fakeHandleService) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		defer s.mu.Unlock()
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/handles/exists":
			repoID := r.URL.Query().Get("repo_id")
			if h, ok := s.known[repoID]; ok {
				json.NewEncoder(w).Encode(map[string]interface{}{
					"exists": true, "prefix": h.Prefix, "suffix": h.Suffix, "url": h.URL,
				})
				return
			}
			json.NewEncoder(w).Encode(map[string]interface{}{"exists": false})
		case r.Method == http.MethodPost && r.URL.Path == "/handles":
			var payload map[string]string
			json.NewDecoder(r.Body).Decode(&payload)
			s.creates++
			s.suffix++
			h := handles.Handle{
				Prefix: payload["prefix"],
				Suffix: fmt.Sprintf("%d", s.suffix),
				URL:    payload["url"],
			}
			s.known[payload["repo_id"]] = h
			json.NewEncoder(w).Encode(h)
		case r.Method == http.MethodPatch:
			var payload map[string]string
			json.NewDecoder(r.Body).Decode(&payload)
			s.updates++
			json.NewEncoder(w).Encode(handles.Handle{Prefix: "1903.1", Suffix: "1", URL: payload["url"]})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})
}

func newFakeHandleService(t *testing.T) (*fakeHandleService, *handles.Client) {
	t.Helper()
	s := &fakeHandleService{known: make(map[string]handles.Handle)}
	server := httptest.NewServer(s.handler())
	t.Cleanup(server.Close)
	return s, handles.NewClient(server.URL, "test-token")
}

func runEngine(t *testing.T, opts Options) (string, *Engine, []jobs.Event) {
	t.Helper()
	engine := New(opts)
	var events []jobs.Event
	state, err := engine.Run(context.Background(), func(ev jobs.Event) {
		events = append(events, ev)
	})
	if opts.Action == ActionPublish || opts.Action == ActionUnpublish {
		require.NoError(t, err)
	}
	return state, engine, events
}

func TestPublishMarksAndMintsHandle(t *testing.T) {
	f, client := newFakeRepo(t)
	svc, handleClient := newFakeHandleService(t)
	uri := f.seedResource(client, "/objects/1")
	subj := rdf.MustURI(uri)

	state, engine, _ := runEngine(t, Options{
		Client:           client,
		JobID:            "publish-1",
		URIs:             []string{uri},
		Action:           ActionPublish,
		Handles:          handleClient,
		HandlePrefix:     "1903.1",
		PublicURLPattern: "https://digital.example.edu%s",
	})
	assert.Equal(t, StatePublishComplete, state)
	assert.Equal(t, 1, engine.Counters().UpdatedItems)

	g := f.graph("/rest/objects/1")
	assert.True(t, g.HasType(subj, umdaccessPublished))
	assert.False(t, g.HasType(subj, umdaccessHidden))
	assert.True(t, g.Has(rdf.NewTriple(subj, dctermsIdentifier,
		rdf.NewTypedLiteral("hdl:1903.1/1", handleDatatype))))

	svc.mu.Lock()
	defer svc.mu.Unlock()
	assert.Equal(t, 1, svc.creates)
	assert.Equal(t, "https://digital.example.edu/objects/1", svc.known["/objects/1"].URL)
}

func TestPublishHidden(t *testing.T) {
	f, client := newFakeRepo(t)
	uri := f.seedResource(client, "/objects/1")
	subj := rdf.MustURI(uri)

	state, _, _ := runEngine(t, Options{
		Client: client, JobID: "publish-hidden", URIs: []string{uri},
		Action: ActionPublish, Hidden: true,
	})
	assert.Equal(t, StatePublishComplete, state)

	g := f.graph("/rest/objects/1")
	assert.True(t, g.HasType(subj, umdaccessPublished))
	assert.True(t, g.HasType(subj, umdaccessHidden))
}

func TestPublishAlreadyPublishedIsUnchanged(t *testing.T) {
	f, client := newFakeRepo(t)
	uri := f.seedResource(client, "/objects/1", umdaccessPublished)

	state, engine, _ := runEngine(t, Options{
		Client: client, JobID: "publish-2", URIs: []string{uri}, Action: ActionPublish,
	})
	assert.Equal(t, StatePublishComplete, state)
	counters := engine.Counters()
	assert.Equal(t, 1, counters.UnchangedItems)
	assert.Zero(t, counters.UpdatedItems)
}

func TestUnpublishRetainsHandle(t *testing.T) {
	f, client := newFakeRepo(t)
	svc, handleClient := newFakeHandleService(t)
	uri := f.seedResource(client, "/objects/1", umdaccessPublished, umdaccessHidden)
	subj := rdf.MustURI(uri)

	state, engine, _ := runEngine(t, Options{
		Client: client, JobID: "unpublish-1", URIs: []string{uri},
		Action:  ActionUnpublish,
		Handles: handleClient, HandlePrefix: "1903.1",
	})
	assert.Equal(t, StateUnpublishComplete, state)
	assert.Equal(t, 1, engine.Counters().UpdatedItems)

	g := f.graph("/rest/objects/1")
	assert.False(t, g.HasType(subj, umdaccessPublished))
	assert.False(t, g.HasType(subj, umdaccessHidden))

	// Unpublishing never touches the handle service.
	svc.mu.Lock()
	defer svc.mu.Unlock()
	assert.Zero(t, svc.creates)
	assert.Zero(t, svc.updates)
}

func TestUnknownActionIsError(t *testing.T) {
	_, client := newFakeRepo(t)
	engine := New(Options{Client: client, JobID: "bad-1", URIs: []string{"http://x/rest/1"}, Action: "destroy"})

	var events []jobs.Event
	state, err := engine.Run(context.Background(), func(ev jobs.Event) {
		events = append(events, ev)
	})
	assert.Error(t, err)
	assert.Equal(t, StateError, state)
	require.Len(t, events, 1)
	assert.Equal(t, StateError, events[0].State)
}

func TestPublishErrorsMakeRunIncomplete(t *testing.T) {
	f, client := newFakeRepo(t)
	good := f.seedResource(client, "/objects/1")
	missing := client.Endpoint() + "/objects/404"

	state, engine, _ := runEngine(t, Options{
		Client: client, JobID: "publish-3", URIs: []string{good, missing}, Action: ActionPublish,
	})
	assert.Equal(t, StatePublishIncomplete, state)
	counters := engine.Counters()
	assert.Equal(t, 1, counters.UpdatedItems)
	assert.Equal(t, 1, counters.Errors)
}
