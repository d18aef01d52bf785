// Package imports implements the import job engine: it streams rows from
// a job's metadata file, builds resource descriptions in a content model's
// shape, validates them, and creates or patches the corresponding
// repository resources, attaching binaries and page structure along the
// way. Runs are resumable: completed items are skipped by identifier.
package imports

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"plastron.evalgo.org/binaries"
	"plastron.evalgo.org/common"
	"plastron.evalgo.org/handles"
	"plastron.evalgo.org/itemlog"
	"plastron.evalgo.org/jobs"
	"plastron.evalgo.org/ldp"
	"plastron.evalgo.org/model"
	"plastron.evalgo.org/rdf"
	"plastron.evalgo.org/spreadsheet"
)

// Terminal states of an import run.
const (
	StateValidateSuccess  = "validate_success"
	StateValidateFailed   = "validate_failed"
	StateImportComplete   = "import_complete"
	StateImportIncomplete = "import_incomplete"
)

// Item statuses recorded in the completed log.
const (
	StatusCreated   = "CREATED"
	StatusModified  = "MODIFIED"
	StatusUnchanged = "UNCHANGED"
)

const placeholderPrefix = "urn:uuid:"

// NewPlaceholderURI mints a synthetic URI marking a row whose resource has
// not been created yet.
func NewPlaceholderURI() string {
	return placeholderPrefix + uuid.NewString()
}

// IsPlaceholderURI reports whether the URI is a synthetic creation marker.
func IsPlaceholderURI(uri string) bool {
	return strings.HasPrefix(uri, placeholderPrefix)
}

// Counters tracks per-run item accounting.
type Counters struct {
	TotalItems              int
	Rows                    int
	Errors                  int
	Files                   int
	ValidItems              int
	InvalidItems            int
	CreatedItems            int
	UpdatedItems            int
	UnchangedItems          int
	SkippedItems            int
	InitiallyCompletedItems int
}

// Map renders the counters for progress events.
func (c *Counters) Map() map[string]int {
	return map[string]int{
		"total_items":               c.TotalItems,
		"rows":                      c.Rows,
		"errors":                    c.Errors,
		"files":                     c.Files,
		"valid_items":               c.ValidItems,
		"invalid_items":             c.InvalidItems,
		"created_items":             c.CreatedItems,
		"updated_items":             c.UpdatedItems,
		"unchanged_items":           c.UnchangedItems,
		"skipped_items":             c.SkippedItems,
		"initially_completed_items": c.InitiallyCompletedItems,
	}
}

// Options configure an import engine.
type Options struct {
	// Client is the repository client; the create path opens transactions
	// on it.
	Client *ldp.Client

	// Job supplies config, source metadata, and the completed log.
	Job *jobs.Job

	// Run receives the dropped-invalid and dropped-failed logs.
	Run *jobs.Run

	// Limit caps the number of rows processed; zero means all.
	Limit int

	// Percent selects approximately this percentage of the remaining rows.
	Percent int

	// ValidateOnly stops after validation without touching the repository.
	ValidateOnly bool

	// KeepAlive is the transaction keep-alive interval.
	KeepAlive time.Duration

	// Handles, when set, mints handles for rows with PUBLISH set.
	Handles          *handles.Client
	HandlePrefix     string
	PublicURLPattern string

	Logger *logrus.Entry
}

// Engine runs one import job.
type Engine struct {
	opts     Options
	cfg      *jobs.Config
	model    model.ContentModel
	counters Counters
	reports  []string
	logger   *logrus.Entry
}

// New builds an engine, loading the job's config and resolving its model.
func New(opts Options) (*Engine, error) {
	if opts.Job == nil {
		return nil, fmt.Errorf("import engine requires a job")
	}
	cfg, err := opts.Job.LoadConfig()
	if err != nil {
		return nil, err
	}
	m, err := model.Get(cfg.Model)
	if err != nil {
		return nil, err
	}
	if opts.KeepAlive == 0 {
		opts.KeepAlive = 90 * time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = common.ComponentLogger("imports").WithField("job_id", opts.Job.ID)
	}
	return &Engine{opts: opts, cfg: cfg, model: m, logger: logger}, nil
}

// Counters returns a copy of the engine's counters.
func (e *Engine) Counters() Counters {
	return e.counters
}

// Run processes the job's metadata file and returns the terminal state.
// Row-level failures never abort the run; they are logged and counted.
func (e *Engine) Run(ctx context.Context, emit jobs.Emitter) (string, error) {
	completed, err := e.opts.Job.CompletedLog()
	if err != nil {
		return "", err
	}
	defer completed.Close()
	e.counters.InitiallyCompletedItems = completed.Len()

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

	total, err := countDataRows(e.opts.Job.SourcePath())
	if err != nil {
		return "", err
	}
	e.counters.TotalItems = total

	source, err := os.Open(e.opts.Job.SourcePath())
	if err != nil {
		return "", fmt.Errorf("failed to open metadata file: %w", err)
	}
	defer source.Close()

	reader, err := spreadsheet.NewReader(source, e.model, e.opts.Job.SourcePath())
	if err != nil {
		return "", err
	}
	it, err := reader.Rows(spreadsheet.RowOptions{
		Limit:     e.opts.Limit,
		Percent:   e.opts.Percent,
		Completed: completed,
	})
	if err != nil {
		return "", err
	}

	for {
		if err := ctx.Err(); err != nil {
			return StateImportIncomplete, err
		}

		row, invalid, err := it.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", err
		}
		e.counters.Rows++

		switch {
		case invalid != nil:
			e.dropInvalid(invalidLog, invalid.Identifier, "", invalid.Reason)
		case completed.Contains(row.Identifier):
			e.counters.SkippedItems++
		default:
			e.processRow(ctx, row, completed, invalidLog, failedLog)
		}

		emit.Emit(jobs.Event{
			JobID:  e.opts.Job.ID,
			Type:   jobs.EventTypeProgress,
			Counts: e.counters.Map(),
		})
	}

	state := e.terminalState()
	emit.Emit(jobs.Event{
		JobID:      e.opts.Job.ID,
		Type:       jobs.EventTypeFinal,
		State:      state,
		Counts:     e.counters.Map(),
		Validation: e.reports,
	})
	return state, nil
}

func (e *Engine) terminalState() string {
	if e.opts.ValidateOnly {
		if e.counters.InvalidItems > 0 {
			return StateValidateFailed
		}
		return StateValidateSuccess
	}
	if e.counters.InvalidItems > 0 || e.counters.Errors > 0 {
		return StateImportIncomplete
	}
	return StateImportComplete
}

// processRow handles one parsed row end to end.
func (e *Engine) processRow(ctx context.Context, row *spreadsheet.Row, completed, invalidLog, failedLog *itemlog.Log) {
	d, err := e.model.Parse(row.Values(), row.Index())
	if err != nil {
		e.dropInvalid(invalidLog, row.Identifier, "", err.Error())
		return
	}
	if row.HasURI() {
		d.URI = row.URI()
	} else {
		d.URI = NewPlaceholderURI()
	}

	result := e.model.Validate(d)
	failures := result.Failures()
	if fileFailures, err := e.checkFiles(row); err != nil {
		e.dropFailed(failedLog, row, err)
		return
	} else {
		failures = append(failures, fileFailures...)
	}

	if len(failures) > 0 {
		reason := strings.Join(failures, "; ")
		e.reports = append(e.reports, fmt.Sprintf("%s: %s", row.LineRef, reason))
		e.dropInvalid(invalidLog, row.Identifier, titleOf(d), reason)
		return
	}
	e.counters.ValidItems++

	if e.opts.ValidateOnly {
		return
	}

	status, uri, err := e.importRow(ctx, row, d)
	if err != nil {
		e.dropFailed(failedLog, row, err)
		return
	}

	switch status {
	case StatusCreated:
		e.counters.CreatedItems++
	case StatusModified:
		e.counters.UpdatedItems++
	case StatusUnchanged:
		e.counters.UnchangedItems++
	}
	if err := completed.Append(map[string]string{
		"id":        row.Identifier,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"title":     titleOf(d),
		"uri":       uri,
		"status":    status,
	}); err != nil {
		e.logger.WithError(err).Error("Failed to append to completed log")
	}
}

// importRow decides between the create and patch paths.
func (e *Engine) importRow(ctx context.Context, row *spreadsheet.Row, d *model.Description) (string, string, error) {
	if IsPlaceholderURI(d.URI) {
		created, err := e.createResource(ctx, row, d)
		if err != nil {
			return "", "", err
		}
		return StatusCreated, created, nil
	}

	changed, err := e.updateResource(row, d)
	if err != nil {
		return "", "", err
	}
	if changed {
		return StatusModified, d.URI, nil
	}
	return StatusUnchanged, d.URI, nil
}

// checkFiles verifies that every filename in FILES and ITEM_FILES is
// locatable in the binaries location. Missing files are validation
// failures; transport errors fail the row.
func (e *Engine) checkFiles(row *spreadsheet.Row) ([]string, error) {
	var failures []string
	for _, name := range row.Filenames() {
		src, err := binaries.NewSource(e.cfg.BinariesLocation, name)
		if err != nil {
			return nil, err
		}
		exists, err := src.Exists()
		src.Close()
		if binaries.IsNotFound(err) || (err == nil && !exists) {
			failures = append(failures, fmt.Sprintf("file %s not found", name))
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to check file %s: %w", name, err)
		}
	}
	return failures, nil
}

func (e *Engine) dropInvalid(log *itemlog.Log, id, title, reason string) {
	e.counters.InvalidItems++
	if err := log.Append(map[string]string{
		"id":        id,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"title":     title,
		"reason":    reason,
	}); err != nil {
		e.logger.WithError(err).Error("Failed to append to invalid log")
	}
}

func (e *Engine) dropFailed(log *itemlog.Log, row *spreadsheet.Row, cause error) {
	e.counters.Errors++
	e.logger.WithFields(logrus.Fields{
		"row": row.LineRef,
	}).WithError(cause).Warn("Row failed")
	if err := log.Append(map[string]string{
		"id":        row.Identifier,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"uri":       row.URI(),
		"reason":    cause.Error(),
	}); err != nil {
		e.logger.WithError(err).Error("Failed to append to failed log")
	}
}

func titleOf(d *model.Description) string {
	for _, obj := range d.Values["title"] {
		if lit, ok := obj.(rdf.Literal); ok {
			return lit.String()
		}
	}
	return ""
}

// countDataRows counts the data rows of a CSV file, excluding the header.
func countDataRows(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("failed to open metadata file: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	count := -1
	for {
		_, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return 0, fmt.Errorf("failed to count rows of %s: %w", path, err)
		}
		count++
	}
	if count < 0 {
		count = 0
	}
	return count, nil
}
