package handlers

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/apollo-lhc/cmtestgo/internal/config"
	"github.com/apollo-lhc/cmtestgo/internal/database"
	"github.com/apollo-lhc/cmtestgo/internal/entry"
	"github.com/apollo-lhc/cmtestgo/internal/forms"
	"github.com/apollo-lhc/cmtestgo/internal/middleware"
	"github.com/apollo-lhc/cmtestgo/internal/uploads"
	"github.com/apollo-lhc/cmtestgo/internal/websocket"
	"github.com/gorilla/mux"
)

// Router wraps the mux router and the collaborators the handlers need
type Router struct {
	*mux.Router
	db      *database.DB
	cfg     *config.Config
	entries *entry.Service
	schema  *forms.Registry
	store   *uploads.Store
	hub     *websocket.Hub
	fishy   fishyTracker
}

// NewRouter creates a new HTTP router with all routes
func NewRouter(db *database.DB, cfg *config.Config, schema *forms.Registry, store *uploads.Store, hub *websocket.Hub) *Router {
	r := &Router{
		Router:  mux.NewRouter(),
		db:      db,
		cfg:     cfg,
		entries: entry.NewService(db.DB),
		schema:  schema,
		store:   store,
		hub:     hub,
	}

	// Health check endpoint
	r.HandleFunc("/health", r.healthCheck).Methods("GET")

	// Auth routes
	auth := r.PathPrefix("/auth").Subrouter()
	auth.HandleFunc("/register", r.register).Methods("POST")
	auth.HandleFunc("/login", r.login).Methods("POST")
	auth.HandleFunc("/logout", r.logout).Methods("POST")

	// Protected API
	api := r.PathPrefix("/api").Subrouter()
	api.Use(middleware.Auth(cfg.JWTSecret))

	// Wizard
	api.HandleFunc("/form", r.getForm).Methods("GET")
	api.HandleFunc("/form", r.postForm).Methods("POST")
	api.HandleFunc("/form/restart", r.restartForm).Methods("POST")

	// Entries
	api.HandleFunc("/entries/{id:[0-9]+}", r.getEntry).Methods("GET")
	api.HandleFunc("/entries/{id:[0-9]+}/resume", r.resumeEntry).Methods("POST")
	api.HandleFunc("/entries/{id:[0-9]+}/retest", r.retestEntry).Methods("POST")
	api.HandleFunc("/entries/{id:[0-9]+}/clear_failed", r.clearFailedEntry).Methods("POST")
	api.HandleFunc("/entries/{id:[0-9]+}/report", r.entryReport).Methods("GET")

	// Dashboard, history, export, help
	api.HandleFunc("/dashboard", r.dashboard).Methods("GET")
	api.HandleFunc("/history", r.history).Methods("GET")
	api.HandleFunc("/export/csv", r.exportCSV).Methods("GET")
	api.HandleFunc("/help", r.helpEntries).Methods("GET")
	api.HandleFunc("/uploads/{path:.*}", r.serveUpload).Methods("GET")

	// Admin
	admin := api.PathPrefix("/admin").Subrouter()
	admin.Use(r.requireAdmin)
	admin.HandleFunc("/users", r.createAdmin).Methods("POST")
	admin.HandleFunc("/users/promote", r.promoteUser).Methods("POST")
	admin.HandleFunc("/users/demote", r.demoteUser).Methods("POST")
	admin.HandleFunc("/fishy_users", r.listFishyUsers).Methods("GET")
	admin.HandleFunc("/dashboard", r.adminDashboard).Methods("GET")
	admin.HandleFunc("/entries/{id:[0-9]+}/unlock", r.clearLock).Methods("POST")
	admin.HandleFunc("/entries/{id:[0-9]+}/delete", r.deleteEntry).Methods("POST")
	admin.HandleFunc("/deleted_entries", r.listDeletedEntries).Methods("GET")
	admin.HandleFunc("/dummy_entries", r.addDummyEntries).Methods("POST")
	admin.HandleFunc("/dummy_count", r.checkDummyCount).Methods("GET")
	admin.HandleFunc("/clear_history", r.clearHistory).Methods("POST")
	admin.HandleFunc("/clear_dummy_history", r.clearDummyHistory).Methods("POST")

	// Form editor
	formsAPI := admin.PathPrefix("/forms").Subrouter()
	formsAPI.HandleFunc("", r.listForms).Methods("GET")
	formsAPI.HandleFunc("/reset", r.resetForms).Methods("POST")
	formsAPI.HandleFunc("/download", r.downloadFormConfig).Methods("GET")
	formsAPI.HandleFunc("/pages", r.addPage).Methods("POST")
	formsAPI.HandleFunc("/pages/{page:[0-9]+}", r.deletePage).Methods("DELETE")
	formsAPI.HandleFunc("/pages/{page:[0-9]+}/rename", r.renamePage).Methods("POST")
	formsAPI.HandleFunc("/pages/{page:[0-9]+}/move/{direction}", r.movePage).Methods("POST")
	formsAPI.HandleFunc("/pages/{page:[0-9]+}/preview", r.previewPage).Methods("GET")
	formsAPI.HandleFunc("/pages/{page:[0-9]+}/fields", r.addField).Methods("POST")
	formsAPI.HandleFunc("/pages/{page:[0-9]+}/fields/{field:[0-9]+}", r.editField).Methods("PUT")
	formsAPI.HandleFunc("/pages/{page:[0-9]+}/fields/{field:[0-9]+}", r.deleteField).Methods("DELETE")
	formsAPI.HandleFunc("/pages/{page:[0-9]+}/fields/{field:[0-9]+}/move/{direction}", r.moveField).Methods("POST")

	// Live dashboard updates
	r.Handle("/ws", middleware.Auth(cfg.JWTSecret)(http.HandlerFunc(r.serveWs))).Methods("GET")

	return r
}

// healthCheck returns the health status of the API
func (r *Router) healthCheck(w http.ResponseWriter, req *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}

func (r *Router) serveWs(w http.ResponseWriter, req *http.Request) {
	websocket.ServeWs(r.hub, w, req)
}

// respondJSON sends a JSON response
func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// respondError sends an error response
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{
		"error": message,
	})
}

// fishyTracker counts users who fail an admin check. In-memory only:
// initialized empty at process start, never persisted.
type fishyTracker struct {
	mu     sync.Mutex
	counts map[string]int
}

func (t *fishyTracker) record(username string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.counts == nil {
		t.counts = make(map[string]int)
	}
	t.counts[username]++
}

func (t *fishyTracker) snapshot() map[string]int {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]int, len(t.counts))
	for k, v := range t.counts {
		out[k] = v
	}
	return out
}
