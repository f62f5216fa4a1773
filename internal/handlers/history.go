package handlers

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/apollo-lhc/cmtestgo/internal/export"
	"github.com/apollo-lhc/cmtestgo/internal/models"
	"github.com/gorilla/mux"
	"gorm.io/gorm"
)

// historyRow is one line of the history table: entry status plus the
// values of the history-visible fields.
type historyRow struct {
	ID           uint              `json:"id"`
	Serial       int               `json:"serial"`
	Timestamp    string            `json:"timestamp"`
	Contributors []string          `json:"contributors"`
	Finished     bool              `json:"finished"`
	Saved        bool              `json:"saved"`
	Failure      bool              `json:"failure"`
	FailStored   bool              `json:"failStored"`
	FailReason   string            `json:"failReason,omitempty"`
	LockOwner    string            `json:"lockOwner,omitempty"`
	StepLabel    string            `json:"stepLabel"`
	Values       map[string]string `json:"values"`
}

// history lists recorded tests, every attempt by default or only the most
// recent attempt per serial with ?unique=true.
func (r *Router) history(w http.ResponseWriter, req *http.Request) {
	unique := req.URL.Query().Get("unique") == "true"

	list, err := r.listHistory(unique)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Database error")
		return
	}

	schema := r.schema.Current()
	fields := schema.HistoryFields()
	rows := make([]historyRow, 0, len(list))
	for i := range list {
		e := &list[i]
		values := make(map[string]string, len(fields))
		for _, f := range fields {
			values[f.Name] = e.DataString(f.Name)
		}
		rows = append(rows, historyRow{
			ID:           e.ID,
			Serial:       e.Serial,
			Timestamp:    e.Timestamp.Format("2006-01-02 15:04:05"),
			Contributors: e.Contributors,
			Finished:     e.IsFinished,
			Saved:        e.IsSaved,
			Failure:      e.Failure,
			FailStored:   e.FailStored,
			FailReason:   e.FailReason,
			LockOwner:    e.LockOwner,
			StepLabel:    schema.StepLabel(e.LastStep()),
			Values:       values,
		})
	}

	columns := make([]map[string]string, 0, len(fields))
	for _, f := range fields {
		columns = append(columns, map[string]string{"name": f.Name, "label": f.Label})
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"unique":  unique,
		"columns": columns,
		"entries": rows,
	})
}

func (r *Router) listHistory(unique bool) ([]models.TestEntry, error) {
	if unique {
		return r.entries.ListLatestPerSerial()
	}
	return r.entries.ListAll()
}

// getEntry returns one entry's full stored record.
func (r *Router) getEntry(w http.ResponseWriter, req *http.Request) {
	id, err := entryID(req)
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid entry id")
		return
	}
	e, err := r.entries.Get(id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			respondError(w, http.StatusNotFound, "Entry not found")
			return
		}
		respondError(w, http.StatusInternalServerError, "Database error")
		return
	}
	respondJSON(w, http.StatusOK, e)
}

// exportCSV streams the history as a CSV download, honoring the same
// unique toggle as the history view.
func (r *Router) exportCSV(w http.ResponseWriter, req *http.Request) {
	entries, err := r.listHistory(req.URL.Query().Get("unique") == "true")
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Database error")
		return
	}

	filename := fmt.Sprintf("cm_test_history_%s.csv", time.Now().Format("2006-01-02"))
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", "attachment; filename="+filename)
	if err := export.WriteCSV(w, r.schema.Current(), entries); err != nil {
		// Headers are out; nothing sensible left to send.
		return
	}
}

// entryReport renders the per-entry PDF test report.
func (r *Router) entryReport(w http.ResponseWriter, req *http.Request) {
	id, err := entryID(req)
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid entry id")
		return
	}
	e, err := r.entries.Get(id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			respondError(w, http.StatusNotFound, "Entry not found")
			return
		}
		respondError(w, http.StatusInternalServerError, "Database error")
		return
	}

	pdf, err := export.EntryReport(r.schema.Current(), e, r.cfg.BaseURL)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to render report")
		return
	}

	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=CM%d_report_%d.pdf", e.Serial, e.ID))
	w.Write(pdf)
}

// helpEntry is one documented field, grouped by wizard page.
type helpEntry struct {
	Field     string `json:"field"`
	Label     string `json:"label"`
	HelpText  string `json:"helpText,omitempty"`
	HelpLink  string `json:"helpLink,omitempty"`
	HelpLabel string `json:"helpLabel,omitempty"`
	Anchor    string `json:"anchor"`
}

// helpEntries returns the help page content: every field carrying help
// text or a link, grouped per page. A field with a help target anchors to
// the target field's entry instead of carrying its own.
func (r *Router) helpEntries(w http.ResponseWriter, req *http.Request) {
	schema := r.schema.Current()
	pages := make([]map[string]interface{}, 0, len(schema.Pages))
	for _, p := range schema.Pages {
		items := make([]helpEntry, 0)
		for _, f := range p.Fields {
			if !f.HasHelp() {
				continue
			}
			anchor := f.Name
			if f.HelpTarget != "" {
				anchor = f.HelpTarget
			}
			items = append(items, helpEntry{
				Field:     f.Name,
				Label:     f.Label,
				HelpText:  f.HelpText,
				HelpLink:  f.HelpLink,
				HelpLabel: f.HelpLabel,
				Anchor:    anchor,
			})
		}
		if len(items) == 0 {
			continue
		}
		pages = append(pages, map[string]interface{}{
			"page":  p.Name,
			"label": p.Label,
			"items": items,
		})
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"pages": pages})
}

// serveUpload streams a stored upload back to the client. The store rejects
// any path that escapes the upload root.
func (r *Router) serveUpload(w http.ResponseWriter, req *http.Request) {
	rel := mux.Vars(req)["path"]
	f, err := r.store.Open(rel)
	if err != nil {
		respondError(w, http.StatusNotFound, "File not found")
		return
	}
	defer f.Close()

	w.Header().Set("Content-Type", "application/octet-stream")
	io.Copy(w, f)
}
