package handlers

import (
	"net/http"

	"github.com/apollo-lhc/cmtestgo/internal/models"
)

// entrySummary is the dashboard row shape for a resumable entry.
type entrySummary struct {
	ID           uint     `json:"id"`
	Serial       int      `json:"serial"`
	Timestamp    string   `json:"timestamp"`
	Step         int      `json:"step"`
	StepLabel    string   `json:"stepLabel"`
	Contributors []string `json:"contributors"`
	Failure      bool     `json:"failure"`
	FailStored   bool     `json:"failStored"`
	FailReason   string   `json:"failReason,omitempty"`
	LockOwner    string   `json:"lockOwner,omitempty"`
}

// dashboard lists the resumable pool: saved entries plus failures awaiting
// a retest decision.
func (r *Router) dashboard(w http.ResponseWriter, req *http.Request) {
	entries, err := r.entries.ListSaved()
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Database error")
		return
	}

	schema := r.schema.Current()
	rows := make([]entrySummary, 0, len(entries))
	for i := range entries {
		rows = append(rows, summarize(&entries[i], schema.ClampStep(entries[i].LastStep()), schema.StepLabel(entries[i].LastStep())))
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"entries": rows,
	})
}

func summarize(e *models.TestEntry, step int, label string) entrySummary {
	return entrySummary{
		ID:           e.ID,
		Serial:       e.Serial,
		Timestamp:    e.Timestamp.Format("2006-01-02 15:04:05"),
		Step:         step,
		StepLabel:    label,
		Contributors: e.Contributors,
		Failure:      e.Failure,
		FailStored:   e.FailStored,
		FailReason:   e.FailReason,
		LockOwner:    e.LockOwner,
	}
}
