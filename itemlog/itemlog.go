// Package itemlog implements append-only CSV logs keyed by a designated
// column. The import, update, and publication engines use these logs to
// record completed, dropped, and failed items, and to skip already-completed
// items when a job resumes.
package itemlog

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"sync"

	"plastron.evalgo.org/common"
)

// Log is an append-only CSV file with a fixed schema. Appends are flushed
// and synced per record so that a crash loses at most the record being
// written. Reads (Contains, Len, Rows) reflect both pre-existing rows and
// rows appended through this instance.
type Log struct {
	path       string
	fieldnames []string
	keyField   string

	mu      sync.Mutex
	file    *os.File
	writer  *csv.Writer
	keys    map[string]struct{}
	count   int
	indexed bool
}

// New opens (or creates) the log at path with the expected fieldnames and
// key column. If the file already exists with a different header row, a
// warning is logged and the log remains usable, but key lookups only work
// when the existing header still contains the key column.
func New(path string, fieldnames []string, keyField string) (*Log, error) {
	if len(fieldnames) == 0 {
		return nil, fmt.Errorf("itemlog: fieldnames must not be empty")
	}
	keyIndex := -1
	for i, name := range fieldnames {
		if name == keyField {
			keyIndex = i
			break
		}
	}
	if keyIndex < 0 {
		return nil, fmt.Errorf("itemlog: key field %q not in fieldnames", keyField)
	}

	l := &Log{
		path:       path,
		fieldnames: fieldnames,
		keyField:   keyField,
		keys:       make(map[string]struct{}),
		indexed:    true,
	}

	existing, err := l.loadExisting()
	if err != nil {
		return nil, err
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("itemlog: failed to open %s: %w", path, err)
	}
	l.file = file
	l.writer = csv.NewWriter(file)

	if !existing {
		if err := l.writer.Write(fieldnames); err != nil {
			file.Close()
			return nil, fmt.Errorf("itemlog: failed to write header: %w", err)
		}
		l.writer.Flush()
		if err := l.writer.Error(); err != nil {
			file.Close()
			return nil, fmt.Errorf("itemlog: failed to write header: %w", err)
		}
		if err := file.Sync(); err != nil {
			file.Close()
			return nil, fmt.Errorf("itemlog: failed to sync header: %w", err)
		}
	}

	return l, nil
}

// loadExisting reads any pre-existing rows to rebuild the key index.
// Returns true when the file already has a header row.
func (l *Log) loadExisting() (bool, error) {
	file, err := os.Open(l.path)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("itemlog: failed to open %s: %w", l.path, err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err == io.EOF {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("itemlog: failed to read header of %s: %w", l.path, err)
	}

	keyIndex := -1
	for i, name := range header {
		if name == l.keyField {
			keyIndex = i
			break
		}
	}
	if !equalFields(header, l.fieldnames) {
		common.Logger.WithFields(map[string]interface{}{
			"path":     l.path,
			"expected": l.fieldnames,
			"found":    header,
		}).Warn("Item log header does not match expected fieldnames")
	}
	if keyIndex < 0 {
		l.indexed = false
		common.Logger.WithField("path", l.path).Warnf("Item log has no %q column; key lookups disabled", l.keyField)
	}

	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return true, fmt.Errorf("itemlog: failed to read %s: %w", l.path, err)
		}
		l.count++
		if keyIndex >= 0 && keyIndex < len(record) {
			l.keys[record[keyIndex]] = struct{}{}
		}
	}
	return true, nil
}

// Path returns the log's file path.
func (l *Log) Path() string {
	return l.path
}

// Fieldnames returns the log's schema.
func (l *Log) Fieldnames() []string {
	out := make([]string, len(l.fieldnames))
	copy(out, l.fieldnames)
	return out
}

// Append writes one record to the log. Fields absent from the record are
// written empty; fields not in the schema are ignored. The write is durable
// before Append returns.
func (l *Log) Append(record map[string]string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	row := make([]string, len(l.fieldnames))
	for i, name := range l.fieldnames {
		row[i] = record[name]
	}

	if err := l.writer.Write(row); err != nil {
		return fmt.Errorf("itemlog: failed to append to %s: %w", l.path, err)
	}
	l.writer.Flush()
	if err := l.writer.Error(); err != nil {
		return fmt.Errorf("itemlog: failed to append to %s: %w", l.path, err)
	}
	if err := l.file.Sync(); err != nil {
		return fmt.Errorf("itemlog: failed to sync %s: %w", l.path, err)
	}

	l.count++
	if l.indexed {
		l.keys[record[l.keyField]] = struct{}{}
	}
	return nil
}

// Contains reports whether a record with the given key has been appended.
// Always false when indexing is degraded by a mismatched header.
func (l *Log) Contains(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.keys[key]
	return ok
}

// Len returns the number of records (excluding the header).
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.count
}

// Rows reads every record from the file in order, as field-name keyed maps.
func (l *Log) Rows() ([]map[string]string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	file, err := os.Open(l.path)
	if err != nil {
		return nil, fmt.Errorf("itemlog: failed to open %s: %w", l.path, err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("itemlog: failed to read %s: %w", l.path, err)
	}

	var rows []map[string]string
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("itemlog: failed to read %s: %w", l.path, err)
		}
		row := make(map[string]string, len(header))
		for i, name := range header {
			if i < len(record) {
				row[name] = record[i]
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// Get returns the nth record (zero-based).
func (l *Log) Get(n int) (map[string]string, error) {
	rows, err := l.Rows()
	if err != nil {
		return nil, err
	}
	if n < 0 || n >= len(rows) {
		return nil, fmt.Errorf("itemlog: index %d out of range (%d records)", n, len(rows))
	}
	return rows[n], nil
}

// Close flushes and closes the underlying file.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.writer.Flush()
	if err := l.writer.Error(); err != nil {
		l.file.Close()
		return fmt.Errorf("itemlog: failed to flush %s: %w", l.path, err)
	}
	if err := l.file.Close(); err != nil {
		return fmt.Errorf("itemlog: failed to close %s: %w", l.path, err)
	}
	return nil
}

func equalFields(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
