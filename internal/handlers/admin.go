package handlers

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/apollo-lhc/cmtestgo/internal/models"
	"github.com/apollo-lhc/cmtestgo/internal/utils"
	"github.com/apollo-lhc/cmtestgo/internal/websocket"
	"gorm.io/gorm"
)

// protectedAdmins can never be demoted, so the deployment always keeps at
// least one working admin account.
var protectedAdmins = map[string]bool{
	"logan": true,
}

// createAdmin creates a new account with admin rights.
func (r *Router) createAdmin(w http.ResponseWriter, req *http.Request) {
	var creds credentials
	if err := json.NewDecoder(req.Body).Decode(&creds); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if creds.Username == "" || creds.Password == "" {
		respondError(w, http.StatusBadRequest, "Username and password are required")
		return
	}

	var existing models.User
	if err := r.db.DB.Where("username = ?", creds.Username).First(&existing).Error; err == nil {
		respondError(w, http.StatusConflict, "Username already taken")
		return
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		respondError(w, http.StatusInternalServerError, "Database error")
		return
	}

	hash, err := utils.HashPassword(creds.Password)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to hash password")
		return
	}
	user := models.User{Username: creds.Username, Password: hash, IsAdmin: true}
	if err := r.db.DB.Create(&user).Error; err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to create user")
		return
	}

	log.Printf("👑 Admin account created: %s", user.Username)
	respondJSON(w, http.StatusCreated, map[string]interface{}{
		"id":       user.ID,
		"username": user.Username,
		"isAdmin":  true,
	})
}

type usernameRequest struct {
	Username string `json:"username"`
}

// promoteUser grants admin rights to an existing user.
func (r *Router) promoteUser(w http.ResponseWriter, req *http.Request) {
	r.setAdminFlag(w, req, true)
}

// demoteUser revokes admin rights. Protected accounts are refused.
func (r *Router) demoteUser(w http.ResponseWriter, req *http.Request) {
	r.setAdminFlag(w, req, false)
}

func (r *Router) setAdminFlag(w http.ResponseWriter, req *http.Request, admin bool) {
	var body usernameRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil || body.Username == "" {
		respondError(w, http.StatusBadRequest, "Username is required")
		return
	}
	if !admin && protectedAdmins[body.Username] {
		respondError(w, http.StatusForbidden, "This account cannot be demoted")
		return
	}

	res := r.db.DB.Model(&models.User{}).Where("username = ?", body.Username).
		Update("is_admin", admin)
	if res.Error != nil {
		respondError(w, http.StatusInternalServerError, "Database error")
		return
	}
	if res.RowsAffected == 0 {
		respondError(w, http.StatusNotFound, "User not found")
		return
	}

	if admin {
		log.Printf("👑 %s promoted to admin", body.Username)
	} else {
		log.Printf("👤 %s demoted from admin", body.Username)
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"username": body.Username,
		"isAdmin":  admin,
	})
}

// listFishyUsers reports non-admin accounts that have tried to reach admin
// routes, with attempt counts.
func (r *Router) listFishyUsers(w http.ResponseWriter, req *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"users": r.fishy.snapshot(),
	})
}

// adminDashboard lists every entry that has not reached FINISHED, including
// drafts abandoned mid-wizard, with lock state for the unlock control.
func (r *Router) adminDashboard(w http.ResponseWriter, req *http.Request) {
	entries, err := r.entries.ListUnfinished()
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Database error")
		return
	}

	schema := r.schema.Current()
	rows := make([]entrySummary, 0, len(entries))
	for i := range entries {
		rows = append(rows, summarize(&entries[i],
			schema.ClampStep(entries[i].LastStep()), schema.StepLabel(entries[i].LastStep())))
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"entries": rows,
	})
}

// clearLock force-releases an entry's lock and detaches any bound session.
func (r *Router) clearLock(w http.ResponseWriter, req *http.Request) {
	id, err := entryID(req)
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid entry id")
		return
	}
	if err := r.entries.ForceUnlock(id); err != nil {
		respondError(w, http.StatusInternalServerError, "Database error")
		return
	}

	log.Printf("🔓 Lock force-cleared on entry %d", id)
	r.hub.Broadcast(websocket.Event{Type: websocket.EventLockCleared, EntryID: id})
	respondJSON(w, http.StatusOK, map[string]interface{}{"unlocked": true})
}

// deleteEntry archives an entry into the deleted log and removes it.
func (r *Router) deleteEntry(w http.ResponseWriter, req *http.Request) {
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

	snapshot, err := r.entries.Archive(id, user.Username)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			respondError(w, http.StatusNotFound, "Entry not found")
			return
		}
		respondError(w, http.StatusInternalServerError, "Database error")
		return
	}

	log.Printf("🗑️ Entry %d (CM%d) deleted by %s", id, snapshot.Serial, user.Username)
	r.hub.Broadcast(websocket.Event{Type: websocket.EventEntryDeleted, EntryID: id, Serial: snapshot.Serial})
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"deleted":    true,
		"archivedId": snapshot.ID,
	})
}

// listDeletedEntries returns the archive of deleted entries.
func (r *Router) listDeletedEntries(w http.ResponseWriter, req *http.Request) {
	entries, err := r.entries.ListDeleted()
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Database error")
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"entries": entries})
}

// addDummyEntries generates finished demo entries with plausible data for
// every input field so the history and export views can be exercised.
func (r *Router) addDummyEntries(w http.ResponseWriter, req *http.Request) {
	count := 10
	if raw := req.URL.Query().Get("count"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 500 {
			respondError(w, http.StatusBadRequest, "count must be between 1 and 500")
			return
		}
		count = n
	}

	created, err := r.entries.GenerateDummies(r.schema.Current(), count)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Database error")
		return
	}

	log.Printf("🧪 Generated %d dummy entries", len(created))
	respondJSON(w, http.StatusCreated, map[string]interface{}{
		"created": len(created),
		"ids":     created,
	})
}

// checkDummyCount reports how many generated entries exist.
func (r *Router) checkDummyCount(w http.ResponseWriter, req *http.Request) {
	n, err := r.entries.CountDummies()
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Database error")
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"count": n})
}

// clearHistory wipes every entry and all stored uploads.
func (r *Router) clearHistory(w http.ResponseWriter, req *http.Request) {
	deleted, err := r.entries.ClearHistory(false)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Database error")
		return
	}
	if err := r.store.Clear(); err != nil {
		log.Printf("⚠️ Failed to clear uploads: %v", err)
	}
	log.Printf("🗑️ History cleared: %d entries removed", deleted)
	respondJSON(w, http.StatusOK, map[string]interface{}{"deleted": deleted})
}

// clearDummyHistory removes only generated entries.
func (r *Router) clearDummyHistory(w http.ResponseWriter, req *http.Request) {
	deleted, err := r.entries.ClearHistory(true)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Database error")
		return
	}
	log.Printf("🗑️ Dummy history cleared: %d entries removed", deleted)
	respondJSON(w, http.StatusOK, map[string]interface{}{"deleted": deleted})
}

// retestEntry supersedes a failed entry with a fresh attempt carrying the
// old data, and drops the caller straight back into the wizard.
func (r *Router) retestEntry(w http.ResponseWriter, req *http.Request) {
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

	e, err := r.entries.Retest(user, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			respondError(w, http.StatusNotFound, "Entry not found")
			return
		}
		r.respondLifecycleError(w, err)
		return
	}

	schema := r.schema.Current()
	log.Printf("🔁 CM%d retest started by %s from entry %d", e.Serial, user.Username, id)
	r.broadcastEntry(websocket.EventEntryUpdated, e)
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"entryId": e.ID,
		"step":    schema.ClampStep(e.LastStep()),
	})
}

// clearFailedEntry retires a failure without a retest.
func (r *Router) clearFailedEntry(w http.ResponseWriter, req *http.Request) {
	id, err := entryID(req)
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid entry id")
		return
	}
	if err := r.entries.ClearFailed(id); err != nil {
		r.respondLifecycleError(w, err)
		return
	}

	r.hub.Broadcast(websocket.Event{Type: websocket.EventEntryUpdated, EntryID: id})
	respondJSON(w, http.StatusOK, map[string]interface{}{"cleared": true})
}
