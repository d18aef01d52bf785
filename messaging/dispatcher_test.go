package messaging

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"plastron.evalgo.org/jobs"
	"plastron.evalgo.org/ldp"
	"plastron.evalgo.org/rdf"
)

var testDestinations = Destinations{
	Jobs:            "/queue/plastron.jobs",
	JobsSynchronous: "/queue/plastron.jobs.synchronous",
	JobStatus:       "/queue/plastron.jobs.completed",
	JobProgress:     "/topic/plastron.jobs.progress",
}

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

func (f *fakeRepo) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		switch r.Method {
		case http.MethodHead:
			w.WriteHeader(http.StatusOK)
		case http.MethodGet:
			g := f.graphs[r.URL.Path]
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
			g := f.graphs[r.URL.Path]
			if g == nil {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			if err := update.Apply(g, f.serverURL+r.URL.Path); err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
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

func (f *fakeRepo) seedResource(client *ldp.Client, path string) string {
	uri := client.Endpoint() + path
	subj := rdf.MustURI(uri)
	g := rdf.GraphFromTriples(
		rdf.NewTriple(subj, rdf.RDFType, rdf.MustURI(rdf.NSPCDM+"Object")),
		rdf.NewTriple(subj, rdf.MustURI(rdf.NSDCTerms+"title"), rdf.NewLiteral("Item")),
	)
	f.mu.Lock()
	f.graphs["/rest"+path] = g
	f.mu.Unlock()
	return uri
}

func newTestDispatcher(t *testing.T, client *ldp.Client) (*Dispatcher, *MockBroker, *Boxes) {
	t.Helper()
	broker := NewMockBroker()
	boxes, err := NewBoxes(t.TempDir())
	require.NoError(t, err)

	d, err := NewDispatcher(Options{
		Broker:                broker,
		Boxes:                 boxes,
		Store:                 jobs.NewStore(t.TempDir()),
		Client:                client,
		Destinations:          testDestinations,
		PoolSize:              2,
		ReconnectInitialDelay: 10 * time.Millisecond,
		ReconnectMaxDelay:     50 * time.Millisecond,
	})
	require.NoError(t, err)
	return d, broker, boxes
}

// runCommand persists the command to the inbox and runs it synchronously.
func runCommand(t *testing.T, d *Dispatcher, boxes *Boxes, msg Message) {
	t.Helper()
	require.NoError(t, boxes.WriteInbox(msg.JobID(), msg))
	d.handleJob(context.Background(), msg.JobID())
}

func TestDispatchUnknownCommand(t *testing.T) {
	d, broker, boxes := newTestDispatcher(t, nil)
	require.NoError(t, broker.Connect())

	runCommand(t, d, boxes, Message{
		Headers: []Header{
			{Name: HeaderCommand, Value: "destroy"},
			{Name: HeaderJobID, Value: "bad-1"},
		},
	})

	sent := broker.Sent(testDestinations.JobStatus)
	require.Len(t, sent, 1)
	assert.Contains(t, sent[0].Get(HeaderJobError), "unknown command")
	assert.Equal(t, "bad-1", sent[0].JobID())

	// Delivered responses leave nothing behind.
	inbox, err := boxes.ListInbox()
	require.NoError(t, err)
	assert.Empty(t, inbox)
	outbox, err := boxes.ListOutbox()
	require.NoError(t, err)
	assert.Empty(t, outbox)
}

func TestTemplateRepliesOnReplyTo(t *testing.T) {
	d, broker, boxes := newTestDispatcher(t, nil)
	require.NoError(t, broker.Connect())

	runCommand(t, d, boxes, Message{
		Headers: []Header{
			{Name: HeaderCommand, Value: CommandTemplate},
			{Name: HeaderJobID, Value: "template-1"},
			{Name: HeaderReplyTo, Value: "/temp-queue/abc"},
			{Name: "PlastronArg-model", Value: "Item"},
		},
	})

	// Synchronous commands answer the reply-to destination, not the
	// status queue.
	assert.Empty(t, broker.Sent(testDestinations.JobStatus))
	sent := broker.Sent("/temp-queue/abc")
	require.Len(t, sent, 1)
	assert.Equal(t, "text/csv", sent[0].ContentType())

	firstRow := strings.SplitN(string(sent[0].Body), "\n", 2)[0]
	assert.True(t, strings.HasPrefix(firstRow, "Title,"), "got header row %q", firstRow)
	assert.True(t, strings.HasSuffix(firstRow, "FILES,ITEM_FILES"), "got header row %q", firstRow)
}

func TestImportValidateOnlyCommand(t *testing.T) {
	d, broker, boxes := newTestDispatcher(t, nil)
	require.NoError(t, broker.Connect())

	csvData := "Title,Identifier,Rights Statement\n" +
		"Daily Log,umd:1,http://rightsstatements.org/vocab/InC/1.0/\n"
	runCommand(t, d, boxes, Message{
		Headers: []Header{
			{Name: HeaderCommand, Value: CommandImport},
			{Name: HeaderJobID, Value: "import-1"},
			{Name: "PlastronArg-model", Value: "Item"},
			{Name: "PlastronArg-validate-only", Value: "true"},
		},
		Body: []byte(csvData),
	})

	sent := broker.Sent(testDestinations.JobStatus)
	require.Len(t, sent, 1)
	assert.Equal(t, "validate_success", sent[0].Get(HeaderState))

	var final jobs.Event
	require.NoError(t, json.Unmarshal(sent[0].Body, &final))
	assert.Equal(t, "import-1", final.JobID)
	assert.Equal(t, jobs.EventTypeFinal, final.Type)
	assert.Equal(t, 1, final.Counts["valid_items"])

	// One progress event per row went to the progress topic.
	progress := broker.Sent(testDestinations.JobProgress)
	require.Len(t, progress, 1)
	assert.Equal(t, "import-1", progress[0].JobID())
}

func TestPublishCommand(t *testing.T) {
	f, client := newFakeRepo(t)
	d, broker, boxes := newTestDispatcher(t, client)
	require.NoError(t, broker.Connect())

	uri := f.seedResource(client, "/objects/1")
	runCommand(t, d, boxes, Message{
		Headers: []Header{
			{Name: HeaderCommand, Value: CommandPublish},
			{Name: HeaderJobID, Value: "publish-1"},
			{Name: "PlastronArg-uris", Value: uri},
		},
	})

	sent := broker.Sent(testDestinations.JobStatus)
	require.Len(t, sent, 1)
	assert.Equal(t, "publish_complete", sent[0].Get(HeaderState))

	g := f.graph("/rest/objects/1")
	assert.True(t, g.HasType(rdf.MustURI(uri), rdf.MustURI(rdf.NSUMDAccess+"Published")))
}

func TestUpdateCommand(t *testing.T) {
	f, client := newFakeRepo(t)
	d, broker, boxes := newTestDispatcher(t, client)
	require.NoError(t, broker.Connect())

	uri := f.seedResource(client, "/objects/1")
	runCommand(t, d, boxes, Message{
		Headers: []Header{
			{Name: HeaderCommand, Value: CommandUpdate},
			{Name: HeaderJobID, Value: "update-1"},
			{Name: "PlastronArg-uris", Value: uri},
			{Name: "PlastronArg-no-transactions", Value: "true"},
		},
		Body: []byte(`INSERT DATA { <> <http://purl.org/dc/terms/description> "Updated" }`),
	})

	sent := broker.Sent(testDestinations.JobStatus)
	require.Len(t, sent, 1)
	assert.Equal(t, "update_complete", sent[0].Get(HeaderState))

	g := f.graph("/rest/objects/1")
	assert.True(t, g.Has(rdf.NewTriple(
		rdf.MustURI(uri),
		rdf.MustURI(rdf.NSDCTerms+"description"),
		rdf.NewLiteral("Updated"),
	)))
}

func TestAtLeastOnceTerminalDelivery(t *testing.T) {
	d, broker, boxes := newTestDispatcher(t, nil)
	require.NoError(t, broker.Connect())

	// The broker dies between the engine finishing and the terminal send.
	broker.FailSends = 1
	runCommand(t, d, boxes, Message{
		Headers: []Header{
			{Name: HeaderCommand, Value: CommandTemplate},
			{Name: HeaderJobID, Value: "template-1"},
			{Name: "PlastronArg-model", Value: "Item"},
		},
	})

	assert.Empty(t, broker.Sent(testDestinations.JobStatus))
	outbox, err := boxes.ListOutbox()
	require.NoError(t, err)
	require.Equal(t, []string{"template-1"}, outbox)
	persisted, err := boxes.ReadOutbox("template-1")
	require.NoError(t, err)

	// On reconnect the replay sends the persisted frame verbatim, once.
	d.ReplayOutbox()
	sent := broker.Sent(testDestinations.JobStatus)
	require.Len(t, sent, 1)
	assert.Equal(t, persisted.Headers, sent[0].Headers)
	assert.Equal(t, persisted.Body, sent[0].Body)

	outbox, err = boxes.ListOutbox()
	require.NoError(t, err)
	assert.Empty(t, outbox)
	inbox, err := boxes.ListInbox()
	require.NoError(t, err)
	assert.Empty(t, inbox)

	// A second replay has nothing left to send.
	d.ReplayOutbox()
	assert.Len(t, broker.Sent(testDestinations.JobStatus), 1)
}

func TestDispatcherEndToEnd(t *testing.T) {
	d, broker, boxes := newTestDispatcher(t, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		d.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	// Wait for the connection manager to subscribe.
	require.Eventually(t, func() bool {
		return broker.Connects() > 0
	}, 2*time.Second, 10*time.Millisecond)
	time.Sleep(50 * time.Millisecond)

	broker.Deliver(testDestinations.Jobs, Message{
		Headers: []Header{
			{Name: HeaderCommand, Value: CommandTemplate},
			{Name: HeaderJobID, Value: "template-e2e"},
			{Name: "PlastronArg-model", Value: "Item"},
		},
	})

	require.Eventually(t, func() bool {
		return len(broker.Sent(testDestinations.JobStatus)) == 1
	}, 5*time.Second, 10*time.Millisecond)

	sent := broker.Sent(testDestinations.JobStatus)[0]
	assert.Equal(t, "template-e2e", sent.JobID())
	assert.Equal(t, "text/csv", sent.ContentType())
	assert.Equal(t, 1, broker.AckedCount())

	// Both boxes drained after delivery.
	assert.Eventually(t, func() bool {
		inbox, err := boxes.ListInbox()
		if err != nil || len(inbox) != 0 {
			return false
		}
		outbox, err := boxes.ListOutbox()
		return err == nil && len(outbox) == 0
	}, 2*time.Second, 10*time.Millisecond)
}
