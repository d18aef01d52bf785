package spreadsheet

import (
	"encoding/csv"
	"fmt"
	"io"

	"plastron.evalgo.org/model"
)

// WriteTemplate writes a starter CSV for the model: one header row of the
// model's column labels followed by the FILES and ITEM_FILES columns.
func WriteTemplate(w io.Writer, m model.ContentModel) error {
	var header []string
	for _, col := range m.HeaderColumns() {
		header = append(header, col.Label)
	}
	header = append(header, HeaderFiles, HeaderItemFiles)

	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("failed to write template: %w", err)
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("failed to write template: %w", err)
	}
	return nil
}
