package entry

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/apollo-lhc/cmtestgo/internal/models"
	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func testService(t *testing.T) *Service {
	t.Helper()

	// Named shared in-memory database so all pooled connections see the
	// same data; the name keeps tests isolated from each other.
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	if err := db.AutoMigrate(&models.User{}, &models.TestEntry{}, &models.DeletedEntry{}); err != nil {
		t.Fatalf("Failed to migrate test database: %v", err)
	}
	return NewService(db)
}

func testUser(t *testing.T, s *Service, username string) *models.User {
	t.Helper()
	u := &models.User{Username: username, Password: "x"}
	if err := s.db.Create(u).Error; err != nil {
		t.Fatalf("Failed to create user %s: %v", username, err)
	}
	return u
}

func reload(t *testing.T, s *Service, id uint) *models.TestEntry {
	t.Helper()
	e, err := s.Get(id)
	if err != nil {
		t.Fatalf("Failed to reload entry %d: %v", id, err)
	}
	return e
}

func TestAcquireLock_Contention(t *testing.T) {
	s := testService(t)
	e := &models.TestEntry{Serial: 3001, Data: datatypes.JSONMap{}}
	if err := s.db.Create(e).Error; err != nil {
		t.Fatalf("Failed to create entry: %v", err)
	}

	granted, _, err := s.AcquireLock(e.ID, "alice")
	if err != nil {
		t.Fatalf("AcquireLock failed: %v", err)
	}
	if !granted {
		t.Fatal("Expected alice to win a free lock")
	}

	granted, held, err := s.AcquireLock(e.ID, "bob")
	if err != nil {
		t.Fatalf("AcquireLock failed: %v", err)
	}
	if granted {
		t.Fatal("Expected bob to be denied while alice holds the lock")
	}
	if held.LockOwner != "alice" {
		t.Errorf("Expected lock owner alice, got %q", held.LockOwner)
	}

	// Same owner may re-acquire.
	granted, _, err = s.AcquireLock(e.ID, "alice")
	if err != nil {
		t.Fatalf("AcquireLock failed: %v", err)
	}
	if !granted {
		t.Error("Expected alice to re-acquire her own lock")
	}

	if err := s.ReleaseLock(held); err != nil {
		t.Fatalf("ReleaseLock failed: %v", err)
	}
	granted, _, err = s.AcquireLock(e.ID, "bob")
	if err != nil {
		t.Fatalf("AcquireLock failed: %v", err)
	}
	if !granted {
		t.Error("Expected bob to win after release")
	}
}

func TestAcquireLock_StaleTakeover(t *testing.T) {
	s := testService(t)

	cases := []struct {
		name    string
		age     time.Duration
		granted bool
	}{
		{"fresh lock is protected", 5 * time.Minute, false},
		{"lock at exactly the timeout is stale", LockTimeout, true},
		{"lock past the timeout is stale", LockTimeout + time.Minute, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			acquired := time.Now().UTC().Add(-tc.age)
			e := &models.TestEntry{
				Serial:         3002,
				Data:           datatypes.JSONMap{},
				LockOwner:      "alice",
				LockAcquiredAt: &acquired,
			}
			if err := s.db.Create(e).Error; err != nil {
				t.Fatalf("Failed to create entry: %v", err)
			}

			granted, _, err := s.AcquireLock(e.ID, "bob")
			if err != nil {
				t.Fatalf("AcquireLock failed: %v", err)
			}
			if granted != tc.granted {
				t.Errorf("granted = %v, want %v", granted, tc.granted)
			}
		})
	}
}

func TestReleaseLock_Idempotent(t *testing.T) {
	s := testService(t)
	e := &models.TestEntry{Serial: 3003, Data: datatypes.JSONMap{}}
	if err := s.db.Create(e).Error; err != nil {
		t.Fatalf("Failed to create entry: %v", err)
	}

	for i := 0; i < 2; i++ {
		if err := s.ReleaseLock(e); err != nil {
			t.Fatalf("ReleaseLock (call %d) failed: %v", i+1, err)
		}
	}
	got := reload(t, s, e.ID)
	if got.LockOwner != "" || got.LockAcquiredAt != nil {
		t.Error("Expected entry to be unlocked")
	}
}

func TestUpsertProgress_CreatesDraftAndBindsUser(t *testing.T) {
	s := testService(t)
	user := testUser(t, s, "alice")

	e, err := s.UpsertProgress(user, 3005, map[string]string{"CM_serial": "3005"}, 1)
	if err != nil {
		t.Fatalf("UpsertProgress failed: %v", err)
	}

	if e.IsSaved {
		t.Error("A draft in progress must not enter the saved pool")
	}
	if e.LockOwner != "alice" {
		t.Errorf("Expected lock owner alice, got %q", e.LockOwner)
	}
	if e.LastStep() != 1 {
		t.Errorf("Expected last step 1, got %d", e.LastStep())
	}
	if user.ActiveEntryID == nil || *user.ActiveEntryID != e.ID {
		t.Error("Expected the user to be bound to the new entry")
	}

	// A second advance must update the same entry, not create another.
	e2, err := s.UpsertProgress(user, 3005, map[string]string{"voltage": "3.3"}, 2)
	if err != nil {
		t.Fatalf("Second UpsertProgress failed: %v", err)
	}
	if e2.ID != e.ID {
		t.Fatalf("Expected the same entry to be reused, got %d and %d", e.ID, e2.ID)
	}
	if e2.DataString("CM_serial") != "3005" || e2.DataString("voltage") != "3.3" {
		t.Error("Expected earlier page data to be preserved across advances")
	}
}

func TestUpsertProgress_AdoptsSavedEntryViaLock(t *testing.T) {
	s := testService(t)
	alice := testUser(t, s, "alice")

	saved := &models.TestEntry{
		Serial:  3008,
		Data:    datatypes.JSONMap{"CM_serial": "3008"},
		IsSaved: true,
	}
	if err := s.db.Create(saved).Error; err != nil {
		t.Fatalf("Failed to create entry: %v", err)
	}

	e, err := s.UpsertProgress(alice, 3008, map[string]string{"voltage": "3.3"}, 2)
	if err != nil {
		t.Fatalf("UpsertProgress failed: %v", err)
	}
	if e.ID != saved.ID {
		t.Fatalf("Expected the saved entry to be adopted, got %d and %d", saved.ID, e.ID)
	}
	if e.LockOwner != "alice" {
		t.Errorf("Expected lock owner alice, got %q", e.LockOwner)
	}
}

func TestUpsertProgress_SavedEntryLockedByOther(t *testing.T) {
	s := testService(t)
	alice := testUser(t, s, "alice")

	locked := time.Now().UTC()
	saved := &models.TestEntry{
		Serial:         3009,
		Data:           datatypes.JSONMap{"CM_serial": "3009"},
		IsSaved:        true,
		LockOwner:      "carol",
		LockAcquiredAt: &locked,
	}
	if err := s.db.Create(saved).Error; err != nil {
		t.Fatalf("Failed to create entry: %v", err)
	}

	if _, err := s.UpsertProgress(alice, 3009, nil, 1); !errors.Is(err, ErrLocked) {
		t.Fatalf("Expected ErrLocked, got %v", err)
	}

	got := reload(t, s, saved.ID)
	if got.LockOwner != "carol" {
		t.Errorf("The denied adoption must not disturb the lock, owner = %q", got.LockOwner)
	}
}

func TestFinish_FullWizardRun(t *testing.T) {
	s := testService(t)
	user := testUser(t, s, "alice")

	if _, err := s.UpsertProgress(user, 3005, map[string]string{"CM_serial": "3005"}, 1); err != nil {
		t.Fatalf("UpsertProgress failed: %v", err)
	}
	if _, err := s.UpsertProgress(user, 3005, map[string]string{"visual_ok": "true"}, 2); err != nil {
		t.Fatalf("UpsertProgress failed: %v", err)
	}

	e, err := s.Finish(user, 3005, map[string]string{"notes": "all good"}, 2)
	if err != nil {
		t.Fatalf("Finish failed: %v", err)
	}

	if !e.IsFinished {
		t.Error("Expected entry to be finished")
	}
	if e.IsSaved || e.Failure || e.FailStored {
		t.Error("Finish must clear the saved and failure flags")
	}
	if e.LockOwner != "" {
		t.Error("Finish must release the lock")
	}
	if user.ActiveEntryID != nil {
		t.Error("Finish must unbind the user's session")
	}
	if len(e.Contributors) != 1 || e.Contributors[0] != "alice" {
		t.Errorf("Expected contributors [alice], got %v", e.Contributors)
	}
}

func TestSaveAndExit_ThenResume(t *testing.T) {
	s := testService(t)
	alice := testUser(t, s, "alice")
	bob := testUser(t, s, "bob")

	if _, err := s.UpsertProgress(alice, 3010, map[string]string{"CM_serial": "3010"}, 1); err != nil {
		t.Fatalf("UpsertProgress failed: %v", err)
	}
	e, err := s.SaveAndExit(alice, 3010, map[string]string{"current": "1.2"}, 1)
	if err != nil {
		t.Fatalf("SaveAndExit failed: %v", err)
	}

	if !e.IsSaved {
		t.Error("Expected entry in the saved pool")
	}
	if e.LockOwner != "" {
		t.Error("SaveAndExit must release the lock")
	}
	if alice.ActiveEntryID != nil {
		t.Error("SaveAndExit must unbind the user's session")
	}

	// A different user picks the saved entry up.
	resumed, err := s.Resume(bob, e.ID)
	if err != nil {
		t.Fatalf("Resume failed: %v", err)
	}
	if resumed.IsSaved {
		t.Error("A resumed entry must leave the saved pool while edited")
	}
	if resumed.LockOwner != "bob" {
		t.Errorf("Expected lock owner bob, got %q", resumed.LockOwner)
	}
	if resumed.DataString("current") != "1.2" {
		t.Error("Expected saved data to survive resumption")
	}

	// And both names end up on the record once bob touches it.
	final, err := s.SaveAndExit(bob, 3010, map[string]string{"current": "1.3"}, 1)
	if err != nil {
		t.Fatalf("SaveAndExit failed: %v", err)
	}
	if len(final.Contributors) != 2 {
		t.Errorf("Expected two contributors, got %v", final.Contributors)
	}
}

func TestResume_Denials(t *testing.T) {
	s := testService(t)
	alice := testUser(t, s, "alice")
	bob := testUser(t, s, "bob")

	locked := time.Now().UTC()
	e := &models.TestEntry{
		Serial: 3011, Data: datatypes.JSONMap{}, IsSaved: true,
		LockOwner: "carol", LockAcquiredAt: &locked,
	}
	if err := s.db.Create(e).Error; err != nil {
		t.Fatalf("Failed to create entry: %v", err)
	}

	if _, err := s.Resume(alice, e.ID); !errors.Is(err, ErrLocked) {
		t.Errorf("Expected ErrLocked for a freshly locked entry, got %v", err)
	}

	// A user already editing something else is refused outright.
	other, err := s.UpsertProgress(bob, 3012, map[string]string{"CM_serial": "3012"}, 1)
	if err != nil {
		t.Fatalf("UpsertProgress failed: %v", err)
	}
	if other.ID == e.ID {
		t.Fatal("Test setup produced a single entry")
	}
	if _, err := s.Resume(bob, e.ID); !errors.Is(err, ErrAlreadyEditing) {
		t.Errorf("Expected ErrAlreadyEditing, got %v", err)
	}
}

func TestFail_RequiresReason(t *testing.T) {
	s := testService(t)
	user := testUser(t, s, "alice")

	if _, err := s.Fail(user, 3015, nil, 1, "   "); !errors.Is(err, ErrEmptyReason) {
		t.Errorf("Expected ErrEmptyReason for a blank reason, got %v", err)
	}
}

func TestFail_MarksPendingRetest(t *testing.T) {
	s := testService(t)
	user := testUser(t, s, "alice")

	if _, err := s.UpsertProgress(user, 3016, map[string]string{"CM_serial": "3016"}, 1); err != nil {
		t.Fatalf("UpsertProgress failed: %v", err)
	}
	e, err := s.Fail(user, 3016, map[string]string{"smoke": "yes"}, 1, "magic smoke escaped")
	if err != nil {
		t.Fatalf("Fail failed: %v", err)
	}

	if !e.Failure || !e.FailStored {
		t.Error("Expected failure pending retest")
	}
	if e.IsFinished || e.IsSaved {
		t.Error("A failed entry is neither finished nor saved")
	}
	if e.FailReason != "magic smoke escaped" {
		t.Errorf("Unexpected fail reason %q", e.FailReason)
	}
	if e.LockOwner != "" || user.ActiveEntryID != nil {
		t.Error("Fail must release the lock and unbind the session")
	}

	// The failed entry still blocks new attempts for its serial.
	active, err := s.FindActiveBySerial(3016)
	if err != nil {
		t.Fatalf("FindActiveBySerial failed: %v", err)
	}
	if active == nil || active.ID != e.ID {
		t.Error("Expected the failed entry to be the serial's active attempt")
	}
}

func TestRetest(t *testing.T) {
	s := testService(t)
	alice := testUser(t, s, "alice")
	bob := testUser(t, s, "bob")

	if _, err := s.UpsertProgress(alice, 3020, map[string]string{"CM_serial": "3020", "stage": "power"}, 3); err != nil {
		t.Fatalf("UpsertProgress failed: %v", err)
	}
	failed, err := s.Fail(alice, 3020, nil, 3, "regulator out of spec")
	if err != nil {
		t.Fatalf("Fail failed: %v", err)
	}

	fresh, err := s.Retest(bob, failed.ID)
	if err != nil {
		t.Fatalf("Retest failed: %v", err)
	}

	if fresh.ID == failed.ID {
		t.Fatal("Retest must create a new entry")
	}
	if fresh.ParentID == nil || *fresh.ParentID != failed.ID {
		t.Error("Expected the new entry to reference the failed one as parent")
	}
	if fresh.DataString("stage") != "power" {
		t.Error("Expected the failed entry's data to carry over")
	}
	if len(fresh.Contributors) != 0 {
		t.Errorf("A retest starts with no contributors, got %v", fresh.Contributors)
	}
	if !fresh.IsSaved {
		t.Error("Expected the retest entry to enter the saved pool")
	}
	if fresh.LockOwner != "bob" {
		t.Errorf("Expected lock owner bob, got %q", fresh.LockOwner)
	}

	old := reload(t, s, failed.ID)
	if old.FailStored {
		t.Error("Retest must clear the old entry's pending flag")
	}

	// The failure decision is single-shot.
	if _, err := s.Retest(alice, failed.ID); !errors.Is(err, ErrRetestTaken) {
		t.Errorf("Expected ErrRetestTaken on a second retest, got %v", err)
	}
	if err := s.ClearFailed(failed.ID); !errors.Is(err, ErrNotFailed) {
		t.Errorf("Expected ErrNotFailed after a retest, got %v", err)
	}
}

func TestClearFailed(t *testing.T) {
	s := testService(t)
	alice := testUser(t, s, "alice")

	if _, err := s.UpsertProgress(alice, 3021, map[string]string{"CM_serial": "3021"}, 1); err != nil {
		t.Fatalf("UpsertProgress failed: %v", err)
	}
	failed, err := s.Fail(alice, 3021, nil, 1, "cracked substrate")
	if err != nil {
		t.Fatalf("Fail failed: %v", err)
	}

	if err := s.ClearFailed(failed.ID); err != nil {
		t.Fatalf("ClearFailed failed: %v", err)
	}

	e := reload(t, s, failed.ID)
	if e.FailStored {
		t.Error("ClearFailed must retire the pending flag")
	}
	if !e.IsFinished {
		t.Error("A cleared failure is closed out as finished")
	}
	if !e.Failure {
		t.Error("The failure itself stays on the record")
	}

	// The serial is free again.
	active, err := s.FindActiveBySerial(3021)
	if err != nil {
		t.Fatalf("FindActiveBySerial failed: %v", err)
	}
	if active != nil {
		t.Error("Expected no active attempt after clearing the failure")
	}
}

func TestFindActiveBySerial_None(t *testing.T) {
	s := testService(t)
	e := &models.TestEntry{Serial: 3030, Data: datatypes.JSONMap{}, IsFinished: true}
	if err := s.db.Create(e).Error; err != nil {
		t.Fatalf("Failed to create entry: %v", err)
	}

	active, err := s.FindActiveBySerial(3030)
	if err != nil {
		t.Fatalf("FindActiveBySerial failed: %v", err)
	}
	if active != nil {
		t.Error("A finished entry must not count as active")
	}
}

func TestArchive(t *testing.T) {
	s := testService(t)
	alice := testUser(t, s, "alice")

	e, err := s.UpsertProgress(alice, 3040, map[string]string{"CM_serial": "3040"}, 1)
	if err != nil {
		t.Fatalf("UpsertProgress failed: %v", err)
	}

	snapshot, err := s.Archive(e.ID, "admin")
	if err != nil {
		t.Fatalf("Archive failed: %v", err)
	}

	if snapshot.OriginalEntryID != e.ID || snapshot.Serial != 3040 {
		t.Error("Snapshot must carry the original entry's identity")
	}
	if snapshot.DeletedBy != "admin" {
		t.Errorf("Expected deletedBy admin, got %q", snapshot.DeletedBy)
	}

	if _, err := s.Get(e.ID); !errors.Is(err, gorm.ErrRecordNotFound) {
		t.Error("Expected the entry to be gone")
	}

	var user models.User
	if err := s.db.First(&user, alice.ID).Error; err != nil {
		t.Fatalf("Failed to reload user: %v", err)
	}
	if user.ActiveEntryID != nil {
		t.Error("Archive must detach sessions bound to the entry")
	}
}

func TestCloseSession(t *testing.T) {
	s := testService(t)
	alice := testUser(t, s, "alice")

	e, err := s.UpsertProgress(alice, 3041, map[string]string{"CM_serial": "3041"}, 1)
	if err != nil {
		t.Fatalf("UpsertProgress failed: %v", err)
	}

	if err := s.CloseSession(alice); err != nil {
		t.Fatalf("CloseSession failed: %v", err)
	}
	if alice.ActiveEntryID != nil {
		t.Error("Expected the session binding to be cleared")
	}
	got := reload(t, s, e.ID)
	if got.LockOwner != "" {
		t.Error("Expected the lock to be released")
	}

	// No open session is a no-op.
	if err := s.CloseSession(alice); err != nil {
		t.Errorf("CloseSession with nothing open failed: %v", err)
	}
}
