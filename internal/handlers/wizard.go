package handlers

import (
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/apollo-lhc/cmtestgo/internal/entry"
	"github.com/apollo-lhc/cmtestgo/internal/forms"
	"github.com/apollo-lhc/cmtestgo/internal/models"
	"github.com/apollo-lhc/cmtestgo/internal/websocket"
	"github.com/gorilla/mux"
	"gorm.io/gorm"
)

const maxUploadMemory = 32 << 20 // 32 MB

// formView is the wizard page payload for the GET and error responses.
type formView struct {
	Step         int               `json:"step"`
	PageCount    int               `json:"pageCount"`
	PageName     string            `json:"pageName"`
	PageLabel    string            `json:"pageLabel"`
	Fields       []forms.FormField `json:"fields"`
	Prefill      map[string]string `json:"prefill,omitempty"`
	Errors       map[string]string `json:"errors,omitempty"`
	RedirectStep *int              `json:"redirectStep,omitempty"`
	PromptReason bool              `json:"promptReason,omitempty"`
}

// getForm renders the wizard page for the user's current position. An
// explicit ?step= that disagrees with the open entry's recorded position is
// overridden and signalled back so the client can follow.
func (r *Router) getForm(w http.ResponseWriter, req *http.Request) {
	user, err := r.currentUser(req)
	if err != nil {
		respondError(w, http.StatusUnauthorized, "Authentication required")
		return
	}
	schema := r.schema.Current()

	active := r.activeEntry(user)

	step := 0
	var redirect *int
	if raw := req.URL.Query().Get("step"); raw != "" {
		if n, perr := strconv.Atoi(raw); perr == nil {
			step = n
		}
		step = schema.ClampStep(step)
		if active != nil {
			expected := schema.ClampStep(active.LastStep())
			if expected != step {
				step = expected
				redirect = &expected
			}
		}
	} else if active != nil {
		step = schema.ClampStep(active.LastStep())
	}

	respondJSON(w, http.StatusOK, r.viewFor(schema, step, active, nil, redirect, false))
}

// postForm handles one wizard submission. The action flags in the body
// decide the transition: save_exit parks the entry, fail_test_start asks
// for a failure reason, fail_test records the failure, and the default
// advances to the next page (or finishes from the last).
func (r *Router) postForm(w http.ResponseWriter, req *http.Request) {
	user, err := r.currentUser(req)
	if err != nil {
		respondError(w, http.StatusUnauthorized, "Authentication required")
		return
	}
	schema := r.schema.Current()

	if err := req.ParseMultipartForm(maxUploadMemory); err != nil && !errors.Is(err, http.ErrNotMultipart) {
		respondError(w, http.StatusBadRequest, "Malformed form submission")
		return
	}

	active := r.activeEntry(user)

	step := 0
	if raw := req.URL.Query().Get("step"); raw != "" {
		if n, perr := strconv.Atoi(raw); perr == nil {
			step = n
		}
	} else if active != nil {
		step = active.LastStep()
	}
	step = schema.ClampStep(step)
	page := schema.Pages[step]

	// Serial comes from the submission on the opening page and from the
	// open entry afterwards, so a stray posted value can never retarget
	// a mid-wizard entry.
	serialField := schema.SerialFieldName()
	var serialRaw string
	if step == 0 {
		serialRaw = strings.TrimSpace(req.FormValue(serialField))
	} else if active != nil {
		serialRaw = active.DataString(serialField)
	}
	serial, serialOK := forms.ParseSerial(serialRaw)

	// Collect the page's submitted values. File fields are stored first so
	// only the resulting path ever enters the data blob.
	values := map[string]string{}
	fieldErrors := map[string]string{}
	for _, f := range page.Fields {
		if !f.TakesInput() {
			continue
		}
		if f.Kind == forms.KindFile {
			path, ferr := r.storeUpload(req, f.Name, serial, serialOK)
			if ferr != nil {
				fieldErrors[f.Name] = ferr.Error()
				continue
			}
			if path != "" {
				values[f.Name] = path
			}
			continue
		}
		if _, ok := req.Form[f.Name]; ok {
			values[f.Name] = strings.TrimSpace(req.FormValue(f.Name))
		}
	}
	if step == 0 {
		values[serialField] = serialRaw
	}

	var existing map[string]interface{}
	if active != nil {
		existing = active.Data
	}

	switch {
	case req.FormValue("save_exit") == "true":
		if msg := serialGuard(step, serialOK, "Submit Serial Number Before Saving"); msg != "" {
			fieldErrors[serialField] = msg
			respondJSON(w, http.StatusOK, r.viewFor(schema, step, active, fieldErrors, nil, false))
			return
		}
		e, err := r.entries.SaveAndExit(user, serial, values, step)
		if err != nil {
			r.respondLifecycleError(w, err)
			return
		}
		r.broadcastEntry(websocket.EventEntryUpdated, e)
		respondJSON(w, http.StatusOK, map[string]interface{}{
			"saved":    true,
			"redirect": "dashboard",
			"entryId":  e.ID,
		})

	case req.FormValue("fail_test_start") == "true":
		if msg := serialGuard(step, serialOK, "Submit Serial Number Before Submitting Test as Failure"); msg != "" {
			fieldErrors[serialField] = msg
			respondJSON(w, http.StatusOK, r.viewFor(schema, step, active, fieldErrors, nil, false))
			return
		}
		respondJSON(w, http.StatusOK, r.viewFor(schema, step, active, fieldErrors, nil, true))

	case req.FormValue("fail_test") == "true":
		if msg := serialGuard(step, serialOK, "Submit Serial Number Before Submitting Test as Failure"); msg != "" {
			fieldErrors[serialField] = msg
			respondJSON(w, http.StatusOK, r.viewFor(schema, step, active, fieldErrors, nil, false))
			return
		}
		reason := req.FormValue("fail_reason")
		e, err := r.entries.Fail(user, serial, values, step, reason)
		if errors.Is(err, entry.ErrEmptyReason) {
			fieldErrors["fail_reason"] = "A reason is required to submit a failure."
			respondJSON(w, http.StatusOK, r.viewFor(schema, step, active, fieldErrors, nil, true))
			return
		}
		if err != nil {
			r.respondLifecycleError(w, err)
			return
		}
		log.Printf("❌ CM%d recorded as failed by %s: %s", e.Serial, user.Username, e.FailReason)
		r.broadcastEntry(websocket.EventEntryUpdated, e)
		respondJSON(w, http.StatusOK, map[string]interface{}{
			"failed":   true,
			"redirect": "dashboard",
			"entryId":  e.ID,
		})

	default:
		// Past page 0 an advance must have a known serial; without one
		// (a lost or never-opened session) the wizard restarts rather
		// than persisting an entry outside the serial range.
		if step > 0 && !serialOK {
			start := 0
			fieldErrors[serialField] = "Submit Serial Number Before Continuing"
			respondJSON(w, http.StatusOK, r.viewFor(schema, 0, nil, fieldErrors, &start, false))
			return
		}

		for name, msg := range forms.ValidatePage(page.Fields, values, existing) {
			if _, taken := fieldErrors[name]; !taken {
				fieldErrors[name] = msg
			}
		}

		// Starting a new form for a serial that already has an open
		// attempt is refused on the first page.
		if step == 0 && serialOK && active == nil {
			open, qerr := r.entries.FindActiveBySerial(serial)
			if qerr != nil {
				respondError(w, http.StatusInternalServerError, "Database error")
				return
			}
			if open != nil {
				fieldErrors[serialField] = fmt.Sprintf(
					"A form for CM%d is already in progress or failed pending retest. You must complete or close it before starting a new one.", serial)
			}
		}

		if len(fieldErrors) > 0 {
			respondJSON(w, http.StatusOK, r.viewFor(schema, step, active, fieldErrors, nil, false))
			return
		}

		if step+1 < schema.PageCount() {
			e, err := r.entries.UpsertProgress(user, serial, values, step+1)
			if err != nil {
				r.respondLifecycleError(w, err)
				return
			}
			r.broadcastEntry(websocket.EventEntryUpdated, e)
			respondJSON(w, http.StatusOK, map[string]interface{}{
				"nextStep": step + 1,
				"entryId":  e.ID,
			})
			return
		}

		e, err := r.entries.Finish(user, serial, values, step)
		if err != nil {
			r.respondLifecycleError(w, err)
			return
		}
		log.Printf("✅ CM%d test finished by %s", e.Serial, user.Username)
		r.broadcastEntry(websocket.EventEntryUpdated, e)
		respondJSON(w, http.StatusOK, map[string]interface{}{
			"completed": true,
			"entryId":   e.ID,
		})
	}
}

// restartForm abandons the user's open wizard session without touching the
// entry's stored state.
func (r *Router) restartForm(w http.ResponseWriter, req *http.Request) {
	user, err := r.currentUser(req)
	if err != nil {
		respondError(w, http.StatusUnauthorized, "Authentication required")
		return
	}
	if err := r.entries.CloseSession(user); err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to close session")
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"step": 0})
}

// resumeEntry reopens a saved or failed-pending entry in the wizard.
func (r *Router) resumeEntry(w http.ResponseWriter, req *http.Request) {
	user, err := r.currentUser(req)
	if err != nil {
		respondError(w, http.StatusUnauthorized, "Authentication required")
		return
	}
	id, err := entryID(req)
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid entry id")
		return
	}

	e, err := r.entries.Resume(user, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			respondError(w, http.StatusNotFound, "Entry not found")
			return
		}
		r.respondLifecycleError(w, err)
		return
	}

	schema := r.schema.Current()
	log.Printf("▶️ CM%d resumed by %s at step %d", e.Serial, user.Username, e.LastStep())
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"entryId": e.ID,
		"step":    schema.ClampStep(e.LastStep()),
	})
}

// activeEntry loads the entry bound to the user's wizard session, tolerating
// a stale binding left behind by an admin deletion.
func (r *Router) activeEntry(user *models.User) *models.TestEntry {
	if user.ActiveEntryID == nil {
		return nil
	}
	e, err := r.entries.Get(*user.ActiveEntryID)
	if err != nil {
		return nil
	}
	return e
}

// storeUpload saves the named file part, if present, into the serial's
// upload folder and returns the stored relative path.
func (r *Router) storeUpload(req *http.Request, field string, serial int, serialOK bool) (string, error) {
	if req.MultipartForm == nil {
		return "", nil
	}
	file, header, err := req.FormFile(field)
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) {
			return "", nil
		}
		return "", errors.New("Could not read uploaded file.")
	}
	defer file.Close()

	if !serialOK {
		return "", errors.New("Submit Serial Number before uploading files.")
	}
	path, err := r.store.Save(serial, header.Filename, file)
	if err != nil {
		log.Printf("⚠️ Upload failed for field %s: %v", field, err)
		return "", errors.New("Could not store uploaded file.")
	}
	return path, nil
}

func (r *Router) viewFor(schema *forms.Schema, step int, active *models.TestEntry, fieldErrors map[string]string, redirect *int, promptReason bool) formView {
	page := schema.Pages[step]
	view := formView{
		Step:         step,
		PageCount:    schema.PageCount(),
		PageName:     page.Name,
		PageLabel:    page.Label,
		Fields:       page.Fields,
		Errors:       fieldErrors,
		RedirectStep: redirect,
		PromptReason: promptReason,
	}
	if active != nil {
		prefill := map[string]string{}
		for _, f := range page.Fields {
			if !f.TakesInput() {
				continue
			}
			if v := active.DataString(f.Name); v != "" {
				prefill[f.Name] = v
			}
		}
		if v := active.DataString(schema.SerialFieldName()); v != "" {
			prefill[schema.SerialFieldName()] = v
		}
		view.Prefill = prefill
	}
	return view
}

// respondLifecycleError maps the entry service's guard errors onto HTTP
// statuses; anything unrecognized is a server error.
func (r *Router) respondLifecycleError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, entry.ErrLocked):
		respondError(w, http.StatusConflict, "Entry is currently being edited by another user. Try again later.")
	case errors.Is(err, entry.ErrAlreadyEditing):
		respondError(w, http.StatusConflict, "You already have a form open. Finish or close it before opening another.")
	case errors.Is(err, entry.ErrRetestTaken):
		respondError(w, http.StatusConflict, "This failed entry has already been retested or cleared.")
	case errors.Is(err, entry.ErrNotFailed):
		respondError(w, http.StatusConflict, "Entry is not failed pending retest.")
	case errors.Is(err, entry.ErrEmptyReason):
		respondError(w, http.StatusBadRequest, "A failure reason is required.")
	default:
		log.Printf("⚠️ Lifecycle operation failed: %v", err)
		respondError(w, http.StatusInternalServerError, "Database error")
	}
}

// serialGuard produces the page-0 serial requirement message for actions
// that need a known serial.
func serialGuard(step int, serialOK bool, stepZeroMsg string) string {
	if step == 0 {
		return stepZeroMsg
	}
	if !serialOK {
		return fmt.Sprintf("Must be an integer between %d and %d", forms.SerialMin, forms.SerialMax)
	}
	return ""
}

func entryID(req *http.Request) (uint, error) {
	raw := mux.Vars(req)["id"]
	n, err := strconv.ParseUint(raw, 10, 32)
	if err != nil {
		return 0, err
	}
	return uint(n), nil
}

func (r *Router) broadcastEntry(eventType string, e *models.TestEntry) {
	r.hub.Broadcast(websocket.Event{
		Type:    eventType,
		EntryID: e.ID,
		Serial:  e.Serial,
	})
}
