package export

import (
	"encoding/csv"
	"io"
	"strings"

	"github.com/apollo-lhc/cmtestgo/internal/forms"
	"github.com/apollo-lhc/cmtestgo/internal/models"
)

// WriteCSV streams the flat tabular projection of entries: one row per
// entry, one column per visible-in-history field, plus timestamp,
// contributors and failure columns. Pure transformation, no state.
func WriteCSV(w io.Writer, schema *forms.Schema, entries []models.TestEntry) error {
	cw := csv.NewWriter(w)

	fields := schema.HistoryFields()

	header := []string{"Time", "Contributors"}
	for _, f := range fields {
		header = append(header, f.Label)
	}
	header = append(header, "Test Failed", "Fail Reason")
	if err := cw.Write(header); err != nil {
		return err
	}

	for i := range entries {
		e := &entries[i]
		row := []string{
			e.Timestamp.UTC().Format("2006-01-02 15:04:05"),
			strings.Join(e.Contributors, ", "),
		}
		for _, f := range fields {
			row = append(row, e.DataString(f.Name))
		}
		failed := "no"
		if e.Failure {
			failed = "yes"
		}
		row = append(row, failed, e.FailReason)
		if err := cw.Write(row); err != nil {
			return err
		}
	}

	cw.Flush()
	return cw.Error()
}
