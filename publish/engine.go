// Package publish implements the publication engine: it toggles the
// Published and Hidden access markers on resources and manages their
// handles. Publishing mints (or re-targets) a handle; unpublishing keeps
// the handle so existing links stay resolvable.
package publish

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"plastron.evalgo.org/common"
	"plastron.evalgo.org/handles"
	"plastron.evalgo.org/jobs"
	"plastron.evalgo.org/ldp"
	"plastron.evalgo.org/rdf"
)

// Actions accepted by the engine.
const (
	ActionPublish   = "publish"
	ActionUnpublish = "unpublish"
)

// Terminal states of a publication run.
const (
	StatePublishComplete     = "publish_complete"
	StatePublishIncomplete   = "publish_incomplete"
	StateUnpublishComplete   = "unpublish_complete"
	StateUnpublishIncomplete = "unpublish_incomplete"
	StateError               = "error"
)

var (
	umdaccessPublished = rdf.MustURI(rdf.NSUMDAccess + "Published")
	umdaccessHidden    = rdf.MustURI(rdf.NSUMDAccess + "Hidden")
	dctermsIdentifier  = rdf.MustURI(rdf.NSDCTerms + "identifier")
	handleDatatype     = rdf.MustURI(rdf.NSUMDType + "handle")
)

// Counters tracks per-run resource accounting.
type Counters struct {
	TotalItems     int
	UpdatedItems   int
	UnchangedItems int
	Errors         int
}

// Map renders the counters for progress events.
func (c *Counters) Map() map[string]int {
	return map[string]int{
		"total_items":     c.TotalItems,
		"updated_items":   c.UpdatedItems,
		"unchanged_items": c.UnchangedItems,
		"errors":          c.Errors,
	}
}

// Options configure a publication engine.
type Options struct {
	Client *ldp.Client

	// JobID labels the emitted events.
	JobID string

	// URIs are the resources to act on.
	URIs []string

	// Action is "publish" or "unpublish".
	Action string

	// Hidden marks the resources hidden; without it the Hidden marker is
	// removed.
	Hidden bool

	// Handles, when set, mints or re-targets handles on publish.
	Handles          *handles.Client
	HandlePrefix     string
	PublicURLPattern string

	Logger *logrus.Entry
}

// Engine runs one publication job.
type Engine struct {
	opts     Options
	counters Counters
	logger   *logrus.Entry
}

// New builds an engine.
func New(opts Options) *Engine {
	logger := opts.Logger
	if logger == nil {
		logger = common.ComponentLogger("publish").WithField("job_id", opts.JobID)
	}
	return &Engine{opts: opts, logger: logger}
}

// Counters returns a copy of the engine's counters.
func (e *Engine) Counters() Counters {
	return e.counters
}

// Run processes every URI and returns the terminal state. An unknown
// action yields the error state without touching the repository.
func (e *Engine) Run(ctx context.Context, emit jobs.Emitter) (string, error) {
	if e.opts.Action != ActionPublish && e.opts.Action != ActionUnpublish {
		err := fmt.Errorf("unknown publication action %q", e.opts.Action)
		emit.Emit(jobs.Event{
			JobID:   e.opts.JobID,
			Type:    jobs.EventTypeFinal,
			State:   StateError,
			Message: err.Error(),
		})
		return StateError, err
	}

	e.counters.TotalItems = len(e.opts.URIs)
	for _, uri := range e.opts.URIs {
		if err := ctx.Err(); err != nil {
			return e.incompleteState(), err
		}
		if err := e.processURI(uri); err != nil {
			e.counters.Errors++
			e.logger.WithField("uri", uri).WithError(err).Warn("Publication update failed")
		}
		emit.Emit(jobs.Event{
			JobID:  e.opts.JobID,
			Type:   jobs.EventTypeProgress,
			Counts: e.counters.Map(),
		})
	}

	state := e.completeState()
	if e.counters.Errors > 0 {
		state = e.incompleteState()
	}
	emit.Emit(jobs.Event{
		JobID:  e.opts.JobID,
		Type:   jobs.EventTypeFinal,
		State:  state,
		Counts: e.counters.Map(),
	})
	return state, nil
}

func (e *Engine) completeState() string {
	if e.opts.Action == ActionPublish {
		return StatePublishComplete
	}
	return StateUnpublishComplete
}

func (e *Engine) incompleteState() string {
	if e.opts.Action == ActionPublish {
		return StatePublishIncomplete
	}
	return StateUnpublishIncomplete
}

// processURI applies the marker changes and handle bookkeeping to one
// resource.
func (e *Engine) processURI(uri string) error {
	subj, err := rdf.URI(uri)
	if err != nil {
		return err
	}
	g, err := e.opts.Client.GetGraph(uri, true)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", uri, err)
	}

	deletes := rdf.NewGraph()
	inserts := rdf.NewGraph()

	published := rdf.NewTriple(subj, rdf.RDFType, umdaccessPublished)
	hidden := rdf.NewTriple(subj, rdf.RDFType, umdaccessHidden)

	if e.opts.Action == ActionPublish {
		if !g.Has(published) {
			inserts.Add(published)
		}
		if err := e.ensureHandle(subj, g, inserts); err != nil {
			return err
		}
	} else if g.Has(published) {
		deletes.Add(published)
	}

	if e.opts.Hidden {
		if !g.Has(hidden) {
			inserts.Add(hidden)
		}
	} else if g.Has(hidden) {
		deletes.Add(hidden)
	}

	if deletes.IsEmpty() && inserts.IsEmpty() {
		e.counters.UnchangedItems++
		return nil
	}
	if err := e.opts.Client.PatchGraph(uri, deletes, inserts); err != nil {
		return fmt.Errorf("failed to patch %s: %w", uri, err)
	}
	e.counters.UpdatedItems++
	e.logger.WithFields(logrus.Fields{
		"uri":    uri,
		"action": e.opts.Action,
		"hidden": e.opts.Hidden,
	}).Info("Publication state updated")
	return nil
}

// ensureHandle finds or mints the resource's handle and records it on the
// resource when not present yet.
func (e *Engine) ensureHandle(subj rdf.IRI, g, inserts *rdf.Graph) error {
	if e.opts.Handles == nil {
		return nil
	}

	repoPath := e.opts.Client.RepoPath(subj.String())
	publicURL := e.publicURL(repoPath)

	handle, err := e.opts.Handles.FindHandle(e.opts.HandlePrefix, repoPath)
	if err != nil {
		return fmt.Errorf("failed to look up handle: %w", err)
	}
	if handle == nil {
		handle, err = e.opts.Handles.CreateHandle(e.opts.HandlePrefix, publicURL, repoPath)
		if err != nil {
			return fmt.Errorf("failed to mint handle: %w", err)
		}
	} else if handle.URL != publicURL {
		if _, err := e.opts.Handles.UpdateHandle(*handle, publicURL); err != nil {
			return fmt.Errorf("failed to update handle: %w", err)
		}
	}

	triple := rdf.NewTriple(subj, dctermsIdentifier,
		rdf.NewTypedLiteral("hdl:"+handle.String(), handleDatatype))
	if !g.Has(triple) {
		inserts.Add(triple)
	}
	return nil
}

func (e *Engine) publicURL(repoPath string) string {
	pattern := e.opts.PublicURLPattern
	if pattern == "" {
		return e.opts.Client.URL(repoPath)
	}
	if strings.Contains(pattern, "%s") {
		return fmt.Sprintf(pattern, repoPath)
	}
	return strings.TrimRight(pattern, "/") + repoPath
}
