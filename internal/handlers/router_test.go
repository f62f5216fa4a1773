package handlers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/apollo-lhc/cmtestgo/internal/config"
	"github.com/apollo-lhc/cmtestgo/internal/database"
	"github.com/apollo-lhc/cmtestgo/internal/forms"
	"github.com/apollo-lhc/cmtestgo/internal/models"
	"github.com/apollo-lhc/cmtestgo/internal/uploads"
	"github.com/apollo-lhc/cmtestgo/internal/utils"
	"github.com/apollo-lhc/cmtestgo/internal/websocket"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func testRouter(t *testing.T) *Router {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	gdb, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	if err := gdb.AutoMigrate(&models.User{}, &models.TestEntry{}, &models.DeletedEntry{}); err != nil {
		t.Fatalf("Failed to migrate: %v", err)
	}

	registry, err := forms.Open(t.TempDir() + "/forms_config.json")
	if err != nil {
		t.Fatalf("Failed to open form registry: %v", err)
	}
	store, err := uploads.New(t.TempDir())
	if err != nil {
		t.Fatalf("Failed to create upload store: %v", err)
	}

	hub := websocket.NewHub()
	go hub.Run()

	cfg := &config.Config{
		JWTSecret: "test-secret",
		BaseURL:   "http://localhost:5001",
	}
	return NewRouter(&database.DB{DB: gdb}, cfg, registry, store, hub)
}

func registerAndLogin(t *testing.T, r *Router, username string, admin bool) string {
	t.Helper()

	hash, err := utils.HashPassword("pw123")
	if err != nil {
		t.Fatalf("Failed to hash password: %v", err)
	}
	user := models.User{Username: username, Password: hash, IsAdmin: admin}
	if err := r.db.DB.Create(&user).Error; err != nil {
		t.Fatalf("Failed to create user: %v", err)
	}

	body, _ := json.Marshal(map[string]string{"username": username, "password": "pw123"})
	req := httptest.NewRequest("POST", "/auth/login", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("Login failed with status %d: %s", rec.Code, rec.Body.String())
	}

	var resp map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to parse login response: %v", err)
	}
	token, _ := resp["access_token"].(string)
	if token == "" {
		t.Fatal("Login returned no access token")
	}
	return token
}

func doJSON(t *testing.T, r *Router, method, path, token string, form url.Values) (int, map[string]interface{}) {
	t.Helper()

	var req *http.Request
	if form != nil {
		req = httptest.NewRequest(method, path, strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	var resp map[string]interface{}
	json.Unmarshal(rec.Body.Bytes(), &resp)
	return rec.Code, resp
}

func TestRegister(t *testing.T) {
	r := testRouter(t)

	body, _ := json.Marshal(map[string]string{"username": "alice", "password": "pw123"})
	req := httptest.NewRequest("POST", "/auth/register", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("Register failed with status %d: %s", rec.Code, rec.Body.String())
	}

	// Duplicate usernames are refused.
	req = httptest.NewRequest("POST", "/auth/register", bytes.NewReader(body))
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusConflict {
		t.Errorf("Duplicate register status = %d, want %d", rec.Code, http.StatusConflict)
	}
}

func TestWizard_AdvanceAndSave(t *testing.T) {
	r := testRouter(t)
	token := registerAndLogin(t, r, "alice", false)

	// Opening page.
	code, view := doJSON(t, r, "GET", "/api/form", token, nil)
	if code != http.StatusOK {
		t.Fatalf("GET /api/form status = %d", code)
	}
	if view["pageName"] != "serial_request" {
		t.Fatalf("Expected the serial page first, got %v", view["pageName"])
	}

	// Out-of-range serial is rejected with a field error.
	code, resp := doJSON(t, r, "POST", "/api/form", token, url.Values{"CM_serial": {"9999"}})
	if code != http.StatusOK {
		t.Fatalf("POST status = %d", code)
	}
	if resp["errors"] == nil {
		t.Fatal("Expected a validation error for serial 9999")
	}

	// Valid serial advances to page 1.
	code, resp = doJSON(t, r, "POST", "/api/form", token, url.Values{"CM_serial": {"3005"}})
	if code != http.StatusOK {
		t.Fatalf("POST status = %d: %v", code, resp)
	}
	if resp["nextStep"] != float64(1) {
		t.Fatalf("Expected nextStep 1, got %v", resp)
	}

	// Save and exit from page 1.
	code, resp = doJSON(t, r, "POST", "/api/form?step=1", token, url.Values{"save_exit": {"true"}})
	if code != http.StatusOK {
		t.Fatalf("Save status = %d: %v", code, resp)
	}
	if resp["saved"] != true {
		t.Fatalf("Expected a saved confirmation, got %v", resp)
	}

	// The entry shows up on the dashboard.
	code, resp = doJSON(t, r, "GET", "/api/dashboard", token, nil)
	if code != http.StatusOK {
		t.Fatalf("Dashboard status = %d", code)
	}
	entries, _ := resp["entries"].([]interface{})
	if len(entries) != 1 {
		t.Fatalf("Expected 1 dashboard entry, got %v", resp)
	}

	// And a second attempt for the same serial is refused on page 0.
	code, resp = doJSON(t, r, "POST", "/api/form", token, url.Values{"CM_serial": {"3005"}})
	if code != http.StatusOK {
		t.Fatalf("POST status = %d", code)
	}
	if resp["errors"] == nil {
		t.Fatal("Expected a duplicate-serial error")
	}
}

func TestWizard_AdvanceWithoutSerialRefused(t *testing.T) {
	r := testRouter(t)
	token := registerAndLogin(t, r, "alice", false)

	// A fresh user posting straight to a later page has no serial; the
	// submission must not persist anything.
	code, resp := doJSON(t, r, "POST", "/api/form?step=1", token,
		url.Values{"passed_visual": {"yes"}, "comments": {"looks fine"}})
	if code != http.StatusOK {
		t.Fatalf("POST status = %d", code)
	}
	errs, _ := resp["errors"].(map[string]interface{})
	if errs["CM_serial"] != "Submit Serial Number Before Continuing" {
		t.Fatalf("Expected the serial requirement, got %v", resp)
	}
	if resp["redirectStep"] != float64(0) {
		t.Errorf("Expected a redirect to the serial page, got %v", resp)
	}

	var count int64
	if err := r.db.DB.Model(&models.TestEntry{}).Count(&count).Error; err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	if count != 0 {
		t.Errorf("Expected no persisted entries, found %d", count)
	}
}

func TestResumeEntry_NotFound(t *testing.T) {
	r := testRouter(t)
	token := registerAndLogin(t, r, "alice", false)

	code, _ := doJSON(t, r, "POST", "/api/entries/999/resume", token, nil)
	if code != http.StatusNotFound {
		t.Errorf("Resume of a missing entry got status %d, want %d", code, http.StatusNotFound)
	}
}

func TestWizard_SaveOnPageZeroRefused(t *testing.T) {
	r := testRouter(t)
	token := registerAndLogin(t, r, "alice", false)

	code, resp := doJSON(t, r, "POST", "/api/form", token,
		url.Values{"CM_serial": {"3006"}, "save_exit": {"true"}})
	if code != http.StatusOK {
		t.Fatalf("POST status = %d", code)
	}
	errs, _ := resp["errors"].(map[string]interface{})
	if errs["CM_serial"] != "Submit Serial Number Before Saving" {
		t.Errorf("Unexpected error payload: %v", resp)
	}
}

func TestWizard_FailureFlow(t *testing.T) {
	r := testRouter(t)
	token := registerAndLogin(t, r, "alice", false)

	if code, resp := doJSON(t, r, "POST", "/api/form", token, url.Values{"CM_serial": {"3007"}}); code != http.StatusOK || resp["nextStep"] != float64(1) {
		t.Fatalf("Failed to open wizard: %d %v", code, resp)
	}

	// The fail button first asks for a reason.
	code, resp := doJSON(t, r, "POST", "/api/form?step=1", token, url.Values{"fail_test_start": {"true"}})
	if code != http.StatusOK || resp["promptReason"] != true {
		t.Fatalf("Expected the reason prompt, got %d %v", code, resp)
	}

	// Submitting without a reason re-prompts.
	code, resp = doJSON(t, r, "POST", "/api/form?step=1", token,
		url.Values{"fail_test": {"true"}, "fail_reason": {"  "}})
	if code != http.StatusOK || resp["promptReason"] != true {
		t.Fatalf("Expected a re-prompt for the missing reason, got %d %v", code, resp)
	}

	// With a reason the failure is recorded.
	code, resp = doJSON(t, r, "POST", "/api/form?step=1", token,
		url.Values{"fail_test": {"true"}, "fail_reason": {"no power"}})
	if code != http.StatusOK || resp["failed"] != true {
		t.Fatalf("Expected a recorded failure, got %d %v", code, resp)
	}

	var e models.TestEntry
	if err := r.db.DB.Where("serial = ?", 3007).First(&e).Error; err != nil {
		t.Fatalf("Failed to load entry: %v", err)
	}
	if !e.Failure || !e.FailStored || e.FailReason != "no power" {
		t.Errorf("Unexpected failure state: %+v", e)
	}
}

func TestAdminGate(t *testing.T) {
	r := testRouter(t)
	userToken := registerAndLogin(t, r, "mallory", false)
	adminToken := registerAndLogin(t, r, "root", true)

	code, _ := doJSON(t, r, "GET", "/api/admin/dashboard", userToken, nil)
	if code != http.StatusForbidden {
		t.Errorf("Non-admin got status %d, want %d", code, http.StatusForbidden)
	}

	code, _ = doJSON(t, r, "GET", "/api/admin/dashboard", adminToken, nil)
	if code != http.StatusOK {
		t.Errorf("Admin got status %d, want %d", code, http.StatusOK)
	}

	// The denied attempt lands on the suspicious-user report.
	code, resp := doJSON(t, r, "GET", "/api/admin/fishy_users", adminToken, nil)
	if code != http.StatusOK {
		t.Fatalf("fishy_users status = %d", code)
	}
	users, _ := resp["users"].(map[string]interface{})
	if users["mallory"] != float64(1) {
		t.Errorf("Expected mallory to be flagged once, got %v", resp)
	}
}

func TestFormEditor_PageZeroImmutable(t *testing.T) {
	r := testRouter(t)
	adminToken := registerAndLogin(t, r, "root", true)

	req := httptest.NewRequest("DELETE", "/api/admin/forms/pages/0", nil)
	req.Header.Set("Authorization", "Bearer "+adminToken)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Deleting page 0 got status %d, want %d", rec.Code, http.StatusBadRequest)
	}

	body, _ := json.Marshal(map[string]string{"name": "burn_in", "label": "Burn In"})
	req = httptest.NewRequest("POST", "/api/admin/forms/pages", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+adminToken)
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("Adding a page got status %d: %s", rec.Code, rec.Body.String())
	}
	if r.schema.Current().Pages[r.schema.Current().PageCount()-1].Name != "burn_in" {
		t.Error("Expected the new page at the end of the wizard")
	}
}
