// Package jobs manages the on-disk state of import and update jobs: one
// directory per job holding a human-editable config file, the source
// metadata, a completed-items log, and one timestamped subdirectory per
// run.
//
// Layout under the jobs root:
//
//	<jobs>/<url-encoded job id>/
//	  config.yml
//	  source.csv
//	  completed.log.csv
//	  <YYYYMMDDHHMMSS>/
//	    dropped-invalid.log.csv
//	    dropped-failed.log.csv
package jobs

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"plastron.evalgo.org/itemlog"
)

// ErrNotFound is returned when a job directory does not exist.
var ErrNotFound = errors.New("job not found")

// ErrExists is returned when creating a job whose directory already
// exists. Directory presence is the lock that keeps two instances off the
// same job id.
var ErrExists = errors.New("job already exists")

// CompletedFields is the schema of the completed-items log.
var CompletedFields = []string{"id", "timestamp", "title", "uri", "status"}

// DroppedFields is the schema of the per-run dropped-items logs.
var DroppedFields = []string{"id", "timestamp", "title", "uri", "reason"}

// runTimestampLayout names run directories, UTC.
const runTimestampLayout = "20060102150405"

// Store is a collection of jobs under one root directory.
type Store struct {
	root string
}

// NewStore returns a store rooted at dir.
func NewStore(dir string) *Store {
	return &Store{root: dir}
}

// Root returns the jobs root directory.
func (s *Store) Root() string {
	return s.root
}

// encodeJobID makes an arbitrary UTF-8 job id filesystem-safe. Beyond the
// standard path-segment escaping, colons are escaped so ids derived from
// URIs produce portable directory names.
func encodeJobID(id string) string {
	return strings.ReplaceAll(url.PathEscape(id), ":", "%3A")
}

func decodeJobID(name string) (string, error) {
	return url.PathUnescape(name)
}

// JobDir returns the directory a job id maps to.
func (s *Store) JobDir(id string) string {
	return filepath.Join(s.root, encodeJobID(id))
}

// Create makes a new job directory and persists its config. The job id is
// taken from the config.
func (s *Store) Create(cfg *Config) (*Job, error) {
	if cfg.JobID == "" {
		return nil, fmt.Errorf("job config has no job id")
	}
	dir := s.JobDir(cfg.JobID)
	if _, err := os.Stat(dir); err == nil {
		return nil, fmt.Errorf("%w: %s", ErrExists, cfg.JobID)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create job directory %s: %w", dir, err)
	}

	job := &Job{ID: cfg.JobID, Dir: dir}
	if err := job.UpdateConfig(cfg); err != nil {
		return nil, err
	}
	return job, nil
}

// Get opens an existing job.
func (s *Store) Get(id string) (*Job, error) {
	dir := s.JobDir(id)
	info, err := os.Stat(dir)
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to stat job directory %s: %w", dir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a directory", ErrNotFound, id)
	}
	return &Job{ID: id, Dir: dir}, nil
}

// GetOrCreate opens the job when it exists and creates it otherwise.
func (s *Store) GetOrCreate(cfg *Config) (*Job, error) {
	job, err := s.Get(cfg.JobID)
	if errors.Is(err, ErrNotFound) {
		return s.Create(cfg)
	}
	return job, err
}

// List returns the decoded ids of every job in the store, sorted.
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read jobs root %s: %w", s.root, err)
	}

	var ids []string
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		id, err := decodeJobID(entry.Name())
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// Job is one job's directory.
type Job struct {
	ID  string
	Dir string
}

// ConfigPath returns the path of the job's config file.
func (j *Job) ConfigPath() string {
	return filepath.Join(j.Dir, "config.yml")
}

// SourcePath returns the path of the job's metadata file.
func (j *Job) SourcePath() string {
	return filepath.Join(j.Dir, "source.csv")
}

// SaveSource writes the job's metadata file.
func (j *Job) SaveSource(data []byte) error {
	if err := os.WriteFile(j.SourcePath(), data, 0o644); err != nil {
		return fmt.Errorf("failed to write source file: %w", err)
	}
	return nil
}

// CompletedLog opens the job's completed-items log, keyed by item id.
func (j *Job) CompletedLog() (*itemlog.Log, error) {
	return itemlog.New(filepath.Join(j.Dir, "completed.log.csv"), CompletedFields, "id")
}

// Runs returns the timestamps of the job's runs, oldest first.
func (j *Job) Runs() ([]string, error) {
	entries, err := os.ReadDir(j.Dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read job directory %s: %w", j.Dir, err)
	}

	var runs []string
	for _, entry := range entries {
		name := entry.Name()
		if !entry.IsDir() || len(name) != len(runTimestampLayout) {
			continue
		}
		if _, err := time.Parse(runTimestampLayout, name); err != nil {
			continue
		}
		runs = append(runs, name)
	}
	sort.Strings(runs)
	return runs, nil
}

// LatestRun opens the most recent run, or nil when the job has none.
func (j *Job) LatestRun() (*Run, error) {
	runs, err := j.Runs()
	if err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return nil, nil
	}
	timestamp := runs[len(runs)-1]
	return &Run{Job: j, Timestamp: timestamp, Dir: filepath.Join(j.Dir, timestamp)}, nil
}

// NewRun creates a run directory named by the current UTC timestamp.
func (j *Job) NewRun() (*Run, error) {
	timestamp := time.Now().UTC().Format(runTimestampLayout)
	dir := filepath.Join(j.Dir, timestamp)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create run directory %s: %w", dir, err)
	}
	return &Run{Job: j, Timestamp: timestamp, Dir: dir}, nil
}

// Run is one invocation of a job, owning its timestamped log directory.
type Run struct {
	Job       *Job
	Timestamp string
	Dir       string
}

// InvalidLog opens the run's dropped-invalid log.
func (r *Run) InvalidLog() (*itemlog.Log, error) {
	return itemlog.New(filepath.Join(r.Dir, "dropped-invalid.log.csv"), DroppedFields, "id")
}

// FailedLog opens the run's dropped-failed log.
func (r *Run) FailedLog() (*itemlog.Log, error) {
	return itemlog.New(filepath.Join(r.Dir, "dropped-failed.log.csv"), DroppedFields, "id")
}
