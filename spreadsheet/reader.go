package spreadsheet

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"

	"plastron.evalgo.org/model"
	"plastron.evalgo.org/rdf"
)

// CompletedSet answers whether an item identifier has already been
// completed. The jobs package's item logs satisfy it.
type CompletedSet interface {
	Contains(key string) bool
}

// Row is one valid metadata row with its cells parsed into typed values.
type Row struct {
	// LineRef locates the row in its source, as "name:line".
	LineRef string

	// Number is the 1-based data row ordinal.
	Number int

	// Identifier is the first value of the model's identifier column.
	Identifier string

	fields     map[string]string
	values     map[string][]rdf.Object
	index      model.Index
	fileGroups []FileGroup
	itemFiles  []FileSpec
}

// Field returns the raw cell under the given header label.
func (r *Row) Field(label string) string {
	return r.fields[label]
}

// Values returns the typed values keyed by dotted attribute path, ready
// for model parsing.
func (r *Row) Values() map[string][]rdf.Object {
	return r.values
}

// Index returns the embedded-object index parsed from the INDEX cell.
func (r *Row) Index() model.Index {
	return r.index
}

// FileGroups returns the page groups parsed from the FILES cell.
func (r *Row) FileGroups() []FileGroup {
	return r.fileGroups
}

// ItemFiles returns the item-level files parsed from the ITEM_FILES cell.
func (r *Row) ItemFiles() []FileSpec {
	return r.itemFiles
}

// HasURI reports whether the row names an existing resource.
func (r *Row) HasURI() bool {
	return r.fields[HeaderURI] != ""
}

// URI returns the resource URI, possibly a urn:uuid placeholder.
func (r *Row) URI() string {
	return r.fields[HeaderURI]
}

// PublicURI returns the PUBLIC URI cell.
func (r *Row) PublicURI() string {
	return r.fields[HeaderPublicURI]
}

// HasFiles reports whether the row has page files.
func (r *Row) HasFiles() bool {
	return len(r.fileGroups) > 0
}

// HasItemFiles reports whether the row has item-level files.
func (r *Row) HasItemFiles() bool {
	return len(r.itemFiles) > 0
}

// Filenames returns every filename from FILES and ITEM_FILES in order.
func (r *Row) Filenames() []string {
	var names []string
	for _, g := range r.fileGroups {
		for _, f := range g.Files {
			names = append(names, f.Name)
		}
	}
	for _, f := range r.itemFiles {
		names = append(names, f.Name)
	}
	return names
}

// Publish reports whether the PUBLISH cell is truthy.
func (r *Row) Publish() bool {
	return truthy(r.fields[HeaderPublish])
}

// Hidden reports whether the HIDDEN cell is truthy.
func (r *Row) Hidden() bool {
	return truthy(r.fields[HeaderHidden])
}

func truthy(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "yes", "1", "y":
		return true
	}
	return false
}

// InvalidRow is a row that could not be parsed; it is dropped to the
// invalid log and never written to the repository.
type InvalidRow struct {
	LineRef    string
	Number     int
	Identifier string
	Reason     string
}

// Reader streams rows from a metadata file, resolving its header row
// against a content model.
type Reader struct {
	model      model.ContentModel
	source     string
	csv        *csv.Reader
	columns    []column
	header     []string
	identifier int
}

// NewReader wraps r, reading and resolving the header row immediately.
// Every header must be a system header or resolve to a model column; the
// model's identifier column must be present.
func NewReader(r io.Reader, m model.ContentModel, sourceName string) (*Reader, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err == io.EOF {
		return nil, fmt.Errorf("metadata file %s is empty", sourceName)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read header of %s: %w", sourceName, err)
	}

	modelColumns := m.HeaderColumns()
	columns := make([]column, len(header))
	identifier := -1
	for i, raw := range header {
		col, err := resolveHeader(raw, modelColumns)
		if err != nil {
			return nil, err
		}
		columns[i] = col
		if !col.system && col.property.Name == "identifier" && col.path == "identifier" && identifier < 0 {
			identifier = i
		}
	}
	if identifier < 0 {
		return nil, fmt.Errorf("metadata file %s has no identifier column", sourceName)
	}

	return &Reader{
		model:      m,
		source:     sourceName,
		csv:        cr,
		columns:    columns,
		header:     header,
		identifier: identifier,
	}, nil
}

// RowOptions control row selection.
type RowOptions struct {
	// Limit caps the number of rows yielded; zero means no limit.
	Limit int

	// Percent selects approximately this percentage of the rows whose
	// identifier is not in Completed, by striding; zero disables.
	Percent int

	// Completed feeds the percent selection. Rows already completed are
	// still yielded when Percent is zero; the engine counts and skips them.
	Completed CompletedSet
}

// RowIter yields rows in document order.
type RowIter struct {
	reader   *Reader
	opts     RowOptions
	buffered [][]string
	selected map[int]bool
	pos      int
	number   int
	yielded  int
}

// Rows returns an iterator over the remaining rows. With a percent
// selection the reader buffers the remaining records to size the stride.
func (r *Reader) Rows(opts RowOptions) (*RowIter, error) {
	it := &RowIter{reader: r, opts: opts}
	if opts.Percent <= 0 {
		return it, nil
	}

	records, err := r.csv.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", r.source, err)
	}
	it.buffered = records

	// Candidates are the not-yet-completed rows, in document order.
	var candidates []int
	for i, record := range records {
		id := r.recordIdentifier(record)
		if opts.Completed != nil && opts.Completed.Contains(id) {
			continue
		}
		candidates = append(candidates, i)
	}

	it.selected = make(map[int]bool)
	if len(candidates) == 0 {
		return it, nil
	}
	target := len(candidates) * opts.Percent / 100
	if target < 1 {
		target = 1
	}
	stride := (len(candidates) + target - 1) / target
	for i := 0; i < len(candidates); i += stride {
		it.selected[candidates[i]] = true
	}
	return it, nil
}

func (r *Reader) recordIdentifier(record []string) string {
	if r.identifier >= len(record) {
		return ""
	}
	values := ParseValueString(record[r.identifier])
	if len(values) == 0 {
		return ""
	}
	return values[0]
}

// Next returns the next row, or an invalid row, or io.EOF when the input
// is exhausted or the limit is reached.
func (it *RowIter) Next() (*Row, *InvalidRow, error) {
	for {
		if it.opts.Limit > 0 && it.yielded >= it.opts.Limit {
			return nil, nil, io.EOF
		}

		record, err := it.next()
		if err != nil {
			return nil, nil, err
		}
		it.number++
		if it.selected != nil && !it.selected[it.number-1] {
			continue
		}

		it.yielded++
		row, invalid := it.reader.parseRecord(record, it.number)
		return row, invalid, nil
	}
}

func (it *RowIter) next() ([]string, error) {
	if it.buffered != nil {
		if it.pos >= len(it.buffered) {
			return nil, io.EOF
		}
		record := it.buffered[it.pos]
		it.pos++
		return record, nil
	}
	record, err := it.reader.csv.Read()
	if err == io.EOF {
		return nil, io.EOF
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", it.reader.source, err)
	}
	return record, nil
}

// parseRecord converts one CSV record into a Row, or an InvalidRow when
// the record cannot be used.
func (r *Reader) parseRecord(record []string, number int) (*Row, *InvalidRow) {
	lineRef := fmt.Sprintf("%s:%d", r.source, number+1)
	identifier := r.recordIdentifier(record)

	invalid := func(reason string) *InvalidRow {
		return &InvalidRow{LineRef: lineRef, Number: number, Identifier: identifier, Reason: reason}
	}

	if len(record) != len(r.header) {
		return nil, invalid("Wrong number of columns")
	}

	row := &Row{
		LineRef:    lineRef,
		Number:     number,
		Identifier: identifier,
		fields:     make(map[string]string, len(record)),
		values:     make(map[string][]rdf.Object),
	}
	for i, cell := range record {
		col := &r.columns[i]
		row.fields[col.label] = cell
		if col.system {
			continue
		}
		values, err := col.cellValues(cell)
		if err != nil {
			return nil, invalid(err.Error())
		}
		row.values[col.path] = append(row.values[col.path], values...)
	}

	index, err := ParseIndex(row.fields[HeaderIndex])
	if err != nil {
		return nil, invalid(err.Error())
	}
	row.index = index

	groups, err := BuildFileGroups(row.fields[HeaderFiles])
	if err != nil {
		return nil, invalid(err.Error())
	}
	row.fileGroups = groups

	itemFiles, err := ParseItemFiles(row.fields[HeaderItemFiles])
	if err != nil {
		return nil, invalid(err.Error())
	}
	row.itemFiles = itemFiles

	return row, nil
}
