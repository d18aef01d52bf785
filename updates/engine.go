// Package updates implements the update job engine: it applies one SPARQL
// Update to a set of resources, optionally walking the repository graph
// from each seed URI over configured predicates. With a model given, every
// resource is re-described locally with the update applied and validated
// before anything is written.
package updates

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"plastron.evalgo.org/common"
	"plastron.evalgo.org/itemlog"
	"plastron.evalgo.org/jobs"
	"plastron.evalgo.org/ldp"
	"plastron.evalgo.org/model"
	"plastron.evalgo.org/rdf"
)

// Terminal states of an update run.
const (
	StateUpdateComplete   = "update_complete"
	StateUpdateIncomplete = "update_incomplete"
)

// StatusUpdated is recorded in the completed log for patched resources.
const StatusUpdated = "UPDATED"

// Counters tracks per-run resource accounting.
type Counters struct {
	Seeds        int
	Resources    int
	UpdatedItems int
	InvalidItems int
	SkippedItems int
	Errors       int
}

// Map renders the counters for progress events.
func (c *Counters) Map() map[string]int {
	return map[string]int{
		"seeds":         c.Seeds,
		"resources":     c.Resources,
		"updated_items": c.UpdatedItems,
		"invalid_items": c.InvalidItems,
		"skipped_items": c.SkippedItems,
		"errors":        c.Errors,
	}
}

// Options configure an update engine.
type Options struct {
	// Client is the repository client.
	Client *ldp.Client

	// Job supplies the completed log; Run receives the dropped logs.
	Job *jobs.Job
	Run *jobs.Run

	// URIs are the seed resources.
	URIs []string

	// Update is the SPARQL Update text applied to every resource.
	Update string

	// Model, when set, names a content model used to validate each
	// resource with the update applied before patching it.
	Model string

	// TraversePredicates lists predicate URIs to follow breadth-first from
	// each seed. Empty means the seeds only.
	TraversePredicates []string

	// DryRun validates and logs without patching.
	DryRun bool

	// UseTransactions wraps each seed's traversal in a transaction.
	UseTransactions bool

	// KeepAlive is the transaction keep-alive interval.
	KeepAlive time.Duration

	Logger *logrus.Entry
}

// Engine runs one update job.
type Engine struct {
	opts       Options
	update     *rdf.Update
	binding    *model.Binding
	predicates []rdf.IRI
	counters   Counters
	reports    []string
	logger     *logrus.Entry
}

// New builds an engine, parsing the update and resolving the model.
func New(opts Options) (*Engine, error) {
	if opts.Job == nil {
		return nil, fmt.Errorf("update engine requires a job")
	}
	if strings.TrimSpace(opts.Update) == "" {
		return nil, fmt.Errorf("update job requires a SPARQL update")
	}
	update, err := rdf.ParseUpdate(opts.Update)
	if err != nil {
		return nil, fmt.Errorf("invalid SPARQL update: %w", err)
	}

	var binding *model.Binding
	if opts.Model != "" {
		m, err := model.Get(opts.Model)
		if err != nil {
			return nil, err
		}
		b, ok := m.(*model.Binding)
		if !ok {
			return nil, fmt.Errorf("model %q does not support local validation", opts.Model)
		}
		binding = b
	}

	predicates := make([]rdf.IRI, 0, len(opts.TraversePredicates))
	for _, p := range opts.TraversePredicates {
		iri, err := rdf.URI(p)
		if err != nil {
			return nil, fmt.Errorf("invalid traversal predicate: %w", err)
		}
		predicates = append(predicates, iri)
	}

	if opts.KeepAlive == 0 {
		opts.KeepAlive = 90 * time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = common.ComponentLogger("updates").WithField("job_id", opts.Job.ID)
	}
	return &Engine{
		opts:       opts,
		update:     update,
		binding:    binding,
		predicates: predicates,
		logger:     logger,
	}, nil
}

// Counters returns a copy of the engine's counters.
func (e *Engine) Counters() Counters {
	return e.counters
}

// Run walks every seed and returns the terminal state. A failure under one
// seed never aborts the run; the engine continues with the next seed.
func (e *Engine) Run(ctx context.Context, emit jobs.Emitter) (string, error) {
	completed, err := e.opts.Job.CompletedLog()
	if err != nil {
		return "", err
	}
	defer completed.Close()
	invalidLog, err := e.opts.Run.InvalidLog()
	if err != nil {
		return "", err
	}
	defer invalidLog.Close()
	failedLog, err := e.opts.Run.FailedLog()
	if err != nil {
		return "", err
	}
	defer failedLog.Close()

	e.counters.Seeds = len(e.opts.URIs)

	for _, seed := range e.opts.URIs {
		if err := ctx.Err(); err != nil {
			return StateUpdateIncomplete, err
		}
		if err := e.processSeed(ctx, seed, completed, invalidLog, failedLog, emit); err != nil {
			e.dropFailed(failedLog, seed, err)
		}
	}

	state := StateUpdateComplete
	if e.counters.Errors > 0 || e.counters.InvalidItems > 0 {
		state = StateUpdateIncomplete
	}
	emit.Emit(jobs.Event{
		JobID:      e.opts.Job.ID,
		Type:       jobs.EventTypeFinal,
		State:      state,
		Counts:     e.counters.Map(),
		Validation: e.reports,
	})
	return state, nil
}

// processSeed walks one seed, inside a transaction when configured. A
// transactional walk rolls back entirely on the first failure.
func (e *Engine) processSeed(ctx context.Context, seed string, completed, invalidLog, failedLog *itemlog.Log, emit jobs.Emitter) error {
	if e.opts.UseTransactions && !e.opts.DryRun {
		return ldp.WithTransaction(ctx, e.opts.Client, e.opts.KeepAlive, func(tx *ldp.Transaction) error {
			return e.walk(tx, seed, true, completed, invalidLog, failedLog, emit)
		})
	}
	return e.walk(e.opts.Client, seed, false, completed, invalidLog, failedLog, emit)
}

// walk visits the seed and, when traversal predicates are configured, its
// reachable resources breadth-first without revisits.
func (e *Engine) walk(repo ldp.Repository, seed string, transactional bool, completed, invalidLog, failedLog *itemlog.Log, emit jobs.Emitter) error {
	queue := []string{seed}
	visited := map[string]bool{seed: true}

	for len(queue) > 0 {
		uri := queue[0]
		queue = queue[1:]
		e.counters.Resources++

		if err := e.processResource(repo, uri, completed, invalidLog); err != nil {
			if transactional {
				return err
			}
			e.dropFailed(failedLog, uri, err)
		}
		emit.Emit(jobs.Event{
			JobID:  e.opts.Job.ID,
			Type:   jobs.EventTypeProgress,
			Counts: e.counters.Map(),
		})

		if len(e.predicates) == 0 {
			continue
		}
		g, err := repo.GetGraph(uri, false)
		if err != nil {
			if transactional {
				return err
			}
			e.dropFailed(failedLog, uri, fmt.Errorf("failed to traverse from %s: %w", uri, err))
			continue
		}
		subj, err := rdf.URI(uri)
		if err != nil {
			return err
		}
		for _, p := range e.predicates {
			for _, obj := range g.Objects(subj, p) {
				iri, ok := obj.(rdf.IRI)
				if !ok {
					continue
				}
				target := iri.String()
				if !e.opts.Client.ContainsURI(target) || visited[target] {
					continue
				}
				visited[target] = true
				queue = append(queue, target)
			}
		}
	}
	return nil
}

// processResource applies the update to one resource: skip when already
// completed, validate locally when a model is set, then PATCH.
func (e *Engine) processResource(repo ldp.Repository, uri string, completed, invalidLog *itemlog.Log) error {
	if completed.Contains(uri) {
		e.counters.SkippedItems++
		return nil
	}

	if e.binding != nil {
		g, err := repo.GetGraph(uri, true)
		if err != nil {
			return err
		}
		preview := g.Clone()
		if err := e.update.Apply(preview, uri); err != nil {
			return fmt.Errorf("failed to apply update to %s: %w", uri, err)
		}
		d, err := e.binding.Describe(preview, uri)
		if err != nil {
			return err
		}
		if result := e.binding.Validate(d); !result.Ok() {
			reason := result.FailureString()
			e.reports = append(e.reports, fmt.Sprintf("%s: %s", uri, reason))
			e.counters.InvalidItems++
			if err := invalidLog.Append(map[string]string{
				"id":        uri,
				"timestamp": time.Now().UTC().Format(time.RFC3339),
				"uri":       uri,
				"reason":    reason,
			}); err != nil {
				e.logger.WithError(err).Error("Failed to append to invalid log")
			}
			return nil
		}
	}

	if e.opts.DryRun {
		e.logger.WithField("uri", uri).Info("Dry run, not updating")
		return nil
	}

	if err := repo.Patch(uri, e.update.String()); err != nil {
		return fmt.Errorf("failed to patch %s: %w", uri, err)
	}
	e.counters.UpdatedItems++
	if err := completed.Append(map[string]string{
		"id":        uri,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"uri":       uri,
		"status":    StatusUpdated,
	}); err != nil {
		e.logger.WithError(err).Error("Failed to append to completed log")
	}
	e.logger.WithField("uri", uri).Info("Updated resource")
	return nil
}

func (e *Engine) dropFailed(log *itemlog.Log, uri string, cause error) {
	e.counters.Errors++
	e.logger.WithField("uri", uri).WithError(cause).Warn("Update failed")
	if err := log.Append(map[string]string{
		"id":        uri,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"uri":       uri,
		"reason":    cause.Error(),
	}); err != nil {
		e.logger.WithError(err).Error("Failed to append to failed log")
	}
}
