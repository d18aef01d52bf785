package ldp

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"plastron.evalgo.org/binaries"
	"plastron.evalgo.org/common"
	"plastron.evalgo.org/rdf"
)

// Transaction scopes repository mutations to a server-side transaction.
//
// While the transaction is open, a background worker re-pings the
// repository at the keep-alive interval; any non-success ping marks the
// transaction failed and every subsequent request is refused with
// ErrTransactionFailed. Outgoing URIs are rewritten from their public form
// to the transaction-scoped form, and every URI coming back (Location
// headers, describedby links, graph subjects and objects) is rewritten to
// the public form, so no transaction-scoped URI ever escapes.
type Transaction struct {
	client *Client
	logger *logrus.Entry

	mu     sync.Mutex
	txURL  string
	active bool
	failed bool
	cause  error

	stopOnce *sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// NewTransaction returns an inactive transaction over the client. Call
// Begin to open it.
func NewTransaction(client *Client) *Transaction {
	return &Transaction{
		client: client,
		logger: common.ComponentLogger("transaction"),
	}
}

// Begin opens a server transaction and starts the keep-alive worker.
// Opening a transaction on a client whose transaction is already active is
// an error; the repository does not support nesting.
func (t *Transaction) Begin(ctx context.Context, keepAlive time.Duration) error {
	t.mu.Lock()
	if t.active {
		t.mu.Unlock()
		return ErrTransactionActive
	}
	t.mu.Unlock()

	resp, err := t.client.Post(t.client.Endpoint()+"/fcr:tx", nil, nil)
	if err != nil {
		return fmt.Errorf("failed to create transaction: %w", err)
	}
	if resp.StatusCode != http.StatusCreated {
		return &ClientError{StatusCode: resp.StatusCode, Reason: resp.Status}
	}
	txURL := resp.Headers.Get("Location")
	if txURL == "" {
		return fmt.Errorf("transaction creation response carried no Location header")
	}

	t.mu.Lock()
	t.txURL = strings.TrimRight(txURL, "/")
	t.active = true
	t.failed = false
	t.cause = nil
	t.stopOnce = &sync.Once{}
	t.stop = make(chan struct{})
	t.done = make(chan struct{})
	t.mu.Unlock()

	t.logger.WithFields(logrus.Fields{
		"transaction": t.txURL,
		"keep_alive":  keepAlive,
	}).Info("Transaction started")

	go t.keepAliveLoop(ctx, keepAlive)
	return nil
}

// keepAliveLoop pings the transaction on a ticker until stopped. A ping
// failure marks the transaction failed and ends the loop.
func (t *Transaction) keepAliveLoop(ctx context.Context, interval time.Duration) {
	defer close(t.done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-t.stop:
			return
		case <-ctx.Done():
			t.setFailed(ctx.Err())
			return
		case <-ticker.C:
			resp, err := t.client.Post(t.txURL+"/fcr:tx", nil, nil)
			if err != nil {
				t.setFailed(err)
				return
			}
			if !resp.Successful() {
				t.setFailed(&ClientError{StatusCode: resp.StatusCode, Reason: resp.Status})
				return
			}
			t.logger.WithField("transaction", t.txURL).Debug("Transaction keep-alive")
		}
	}
}

func (t *Transaction) setFailed(cause error) {
	t.mu.Lock()
	t.failed = true
	t.cause = cause
	t.mu.Unlock()
	t.logger.WithError(cause).WithField("transaction", t.txURL).Error("Transaction keep-alive failed")
}

// stopKeepAlive stops the worker and waits for it to exit. Safe to call
// more than once.
func (t *Transaction) stopKeepAlive() {
	t.mu.Lock()
	once, done := t.stopOnce, t.done
	t.mu.Unlock()
	if once == nil {
		return
	}
	once.Do(func() { close(t.stop) })
	<-done
}

// Active reports whether the transaction is open.
func (t *Transaction) Active() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.active
}

// Failed reports whether the keep-alive worker has marked the transaction
// failed.
func (t *Transaction) Failed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.failed
}

// URL returns the transaction URL, empty when inactive.
func (t *Transaction) URL() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.txURL
}

// checkUsable refuses requests on failed or inactive transactions.
func (t *Transaction) checkUsable() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.failed {
		if t.cause != nil {
			return fmt.Errorf("%w: %w", ErrTransactionFailed, t.cause)
		}
		return ErrTransactionFailed
	}
	if !t.active {
		return ErrNoTransaction
	}
	return nil
}

// end stops the keep-alive worker and posts to the given transaction
// control suffix.
func (t *Transaction) end(action string) error {
	t.mu.Lock()
	if !t.active {
		t.mu.Unlock()
		return ErrNoTransaction
	}
	txURL := t.txURL
	t.mu.Unlock()

	// The worker must be stopped before the control request so that a ping
	// cannot race with the commit or rollback.
	t.stopKeepAlive()

	resp, err := t.client.Post(txURL+"/fcr:tx/fcr:"+action, nil, nil)

	t.mu.Lock()
	t.active = false
	t.mu.Unlock()

	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrTransactionFailed, action, err)
	}
	if !resp.Successful() {
		return fmt.Errorf("%w: %s returned %s", ErrTransactionFailed, action, resp.Status)
	}
	t.logger.WithFields(logrus.Fields{
		"transaction": txURL,
		"action":      action,
	}).Info("Transaction ended")
	return nil
}

// Commit stops the keep-alive worker and commits the transaction. A
// transaction that has already failed cannot be committed; a rollback is
// attempted instead and ErrTransactionFailed is returned.
func (t *Transaction) Commit() error {
	t.mu.Lock()
	failed, cause := t.failed, t.cause
	t.mu.Unlock()

	if failed {
		if err := t.end("rollback"); err != nil {
			t.logger.WithError(err).Warn("Rollback of failed transaction did not succeed")
		}
		if cause != nil {
			return fmt.Errorf("%w: %w", ErrTransactionFailed, cause)
		}
		return ErrTransactionFailed
	}
	return t.end("commit")
}

// Rollback stops the keep-alive worker and discards the transaction.
func (t *Transaction) Rollback() error {
	return t.end("rollback")
}

// InsertTransactionURI rewrites a public repository URI to its
// transaction-scoped form. URIs outside the repository and URIs already
// scoped pass through unchanged.
func (t *Transaction) InsertTransactionURI(uri string) string {
	txURL := t.URL()
	if txURL == "" || !t.client.ContainsURI(uri) {
		return uri
	}
	if uri == txURL || strings.HasPrefix(uri, txURL+"/") {
		return uri
	}
	return txURL + t.client.RepoPath(uri)
}

// RemoveTransactionURI rewrites a transaction-scoped URI back to its
// public form.
func (t *Transaction) RemoveTransactionURI(uri string) string {
	txURL := t.URL()
	if txURL == "" {
		return uri
	}
	if uri == txURL {
		return t.client.Endpoint()
	}
	if strings.HasPrefix(uri, txURL+"/") {
		return t.client.Endpoint() + strings.TrimPrefix(uri, txURL)
	}
	return uri
}

// rewriteGraph swaps every repository subject and object through the given
// URI rewriter, returning a new graph.
func rewriteGraph(g *rdf.Graph, rewrite func(string) string) *rdf.Graph {
	if g == nil {
		return nil
	}
	out := rdf.NewGraph()
	for _, triple := range g.Triples() {
		subj := triple.Subj
		if iri, ok := subj.(rdf.IRI); ok {
			subj = rdf.MustURI(rewrite(iri.String()))
		}
		obj := triple.Obj
		if iri, ok := obj.(rdf.IRI); ok {
			obj = rdf.MustURI(rewrite(iri.String()))
		}
		out.Add(rdf.NewTriple(subj, triple.Pred, obj))
	}
	return out
}

// Endpoint returns the underlying repository endpoint. Scoped URIs never
// appear here.
func (t *Transaction) Endpoint() string {
	return t.client.Endpoint()
}

// ContainsURI reports whether the URI belongs to the repository.
func (t *Transaction) ContainsURI(uri string) bool {
	return t.client.ContainsURI(uri)
}

// Exists reports whether the resource exists inside the transaction.
func (t *Transaction) Exists(uri string) (bool, error) {
	if err := t.checkUsable(); err != nil {
		return false, err
	}
	return t.client.Exists(t.InsertTransactionURI(uri))
}

// DescribedBy resolves the description URL inside the transaction and
// returns it in public form.
func (t *Transaction) DescribedBy(uri string) (string, error) {
	if err := t.checkUsable(); err != nil {
		return "", err
	}
	describedBy, err := t.client.DescribedBy(t.InsertTransactionURI(uri))
	if err != nil {
		return "", err
	}
	return t.RemoveTransactionURI(describedBy), nil
}

// GetGraph fetches the description graph inside the transaction, with all
// scoped URIs rewritten back to public form.
func (t *Transaction) GetGraph(uri string, minimal bool) (*rdf.Graph, error) {
	if err := t.checkUsable(); err != nil {
		return nil, err
	}
	g, err := t.client.GetGraph(t.InsertTransactionURI(uri), minimal)
	if err != nil {
		return nil, err
	}
	return rewriteGraph(g, t.RemoveTransactionURI), nil
}

// PutGraph replaces the description inside the transaction; outgoing
// subjects and objects are rewritten to scoped form.
func (t *Transaction) PutGraph(uri string, g *rdf.Graph) error {
	if err := t.checkUsable(); err != nil {
		return err
	}
	return t.client.PutGraph(t.InsertTransactionURI(uri), rewriteGraph(g, t.InsertTransactionURI))
}

// Patch applies a SPARQL Update inside the transaction.
func (t *Transaction) Patch(uri string, update string) error {
	if err := t.checkUsable(); err != nil {
		return err
	}
	return t.client.Patch(t.InsertTransactionURI(uri), update)
}

// PatchGraph applies the diff inside the transaction; both sides are
// rewritten to scoped form.
func (t *Transaction) PatchGraph(uri string, deletes, inserts *rdf.Graph) error {
	if err := t.checkUsable(); err != nil {
		return err
	}
	return t.client.PatchGraph(t.InsertTransactionURI(uri),
		rewriteGraph(deletes, t.InsertTransactionURI),
		rewriteGraph(inserts, t.InsertTransactionURI))
}

// CreateInContainer creates a child inside the transaction, returning
// public-form URIs.
func (t *Transaction) CreateInContainer(container, slug string, g *rdf.Graph) (string, string, error) {
	if err := t.checkUsable(); err != nil {
		return "", "", err
	}
	created, describedBy, err := t.client.CreateInContainer(
		t.InsertTransactionURI(t.client.URL(container)), slug,
		rewriteGraph(g, t.InsertTransactionURI))
	if err != nil {
		return "", "", err
	}
	return t.RemoveTransactionURI(created), t.RemoveTransactionURI(describedBy), nil
}

// CreateAtPath creates a resource at the path inside the transaction,
// returning public-form URIs.
func (t *Transaction) CreateAtPath(path string, g *rdf.Graph) (string, string, error) {
	if err := t.checkUsable(); err != nil {
		return "", "", err
	}
	created, describedBy, err := t.client.CreateAtPath(
		t.client.RepoPath(t.InsertTransactionURI(t.client.URL(path))),
		rewriteGraph(g, t.InsertTransactionURI))
	if err != nil {
		return "", "", err
	}
	return t.RemoveTransactionURI(created), t.RemoveTransactionURI(describedBy), nil
}

// CreateBinary uploads a binary inside the transaction, returning
// public-form URIs.
func (t *Transaction) CreateBinary(container string, src binaries.Source) (string, string, error) {
	if err := t.checkUsable(); err != nil {
		return "", "", err
	}
	created, describedBy, err := t.client.CreateBinary(
		t.InsertTransactionURI(t.client.URL(container)), src)
	if err != nil {
		return "", "", err
	}
	return t.RemoveTransactionURI(created), t.RemoveTransactionURI(describedBy), nil
}

var _ Repository = (*Transaction)(nil)

// WithTransaction runs fn inside a transaction: begin, run, roll back on
// error, commit on success. The keep-alive worker is stopped on every exit
// path. When fn fails after the transaction has already failed, the
// rollback attempt error is subsumed by fn's error.
func WithTransaction(ctx context.Context, client *Client, keepAlive time.Duration, fn func(tx *Transaction) error) error {
	tx := NewTransaction(client)
	if err := tx.Begin(ctx, keepAlive); err != nil {
		return err
	}
	defer tx.stopKeepAlive()

	if err := fn(tx); err != nil {
		if rollbackErr := tx.Rollback(); rollbackErr != nil {
			tx.logger.WithError(rollbackErr).Warn("Rollback failed after error")
		}
		return err
	}
	return tx.Commit()
}
