package entry

import (
	"errors"
	"time"

	"github.com/apollo-lhc/cmtestgo/internal/models"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Guard failures surfaced to the user as warnings. None of them mutate
// stored state: every guard is checked before any write.
var (
	// ErrLocked means the entry is locked by a different user.
	ErrLocked = errors.New("entry is currently being edited by another user")
	// ErrAlreadyEditing means the user already holds a different entry
	// open in the wizard.
	ErrAlreadyEditing = errors.New("another form is already open; finish or close it first")
	// ErrRetestTaken means the failed entry has already been retested or
	// cleared.
	ErrRetestTaken = errors.New("this failed entry has already been retested or cleared")
	// ErrNotFailed means the entry is not failed-pending-retest.
	ErrNotFailed = errors.New("entry is not failed pending retest")
	// ErrEmptyReason rejects a failure submission without a reason.
	ErrEmptyReason = errors.New("a failure reason is required")
)

// Service implements the test-entry lifecycle state machine and lock
// manager over the persistence layer.
type Service struct {
	db *gorm.DB
}

// NewService creates a Service on the given database handle.
func NewService(db *gorm.DB) *Service {
	return &Service{db: db}
}

// DB exposes the underlying handle for callers composing their own queries.
func (s *Service) DB() *gorm.DB {
	return s.db
}

// Get loads one entry by id.
func (s *Service) Get(id uint) (*models.TestEntry, error) {
	var e models.TestEntry
	if err := s.db.First(&e, id).Error; err != nil {
		return nil, err
	}
	return &e, nil
}

// FindActiveBySerial returns the serial's active attempt (saved-in-progress
// or failed-pending-retest), or nil if there is none. At most one such
// entry exists per serial; this query is what page 0 uses to enforce that.
func (s *Service) FindActiveBySerial(serial int) (*models.TestEntry, error) {
	var e models.TestEntry
	err := s.db.
		Where("serial = ? AND (is_saved = ? OR (failure = ? AND fail_stored = ?))",
			serial, true, true, true).
		First(&e).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// resolveWorking returns the entry the user's wizard actions apply to: the
// entry bound to the user's session if one is, else the serial's saved
// entry, else a fresh unsaved entry. Rejects with ErrLocked when the
// resolved entry is locked by someone else.
func (s *Service) resolveWorking(user *models.User, serial int) (*models.TestEntry, error) {
	if user.ActiveEntryID != nil {
		var e models.TestEntry
		err := s.db.First(&e, *user.ActiveEntryID).Error
		if err == nil {
			if e.LockOwner != "" && e.LockOwner != user.Username {
				return nil, ErrLocked
			}
			return &e, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
		// Stale binding (entry deleted by an admin); fall through.
	}

	var e models.TestEntry
	err := s.db.Where("serial = ? AND is_saved = ?", serial, true).First(&e).Error
	if err == nil {
		// Adopting an existing entry goes through the conditional
		// UPDATE so two concurrent adopters cannot both win.
		granted, cur, lerr := s.AcquireLock(e.ID, user.Username)
		if lerr != nil {
			return nil, lerr
		}
		if !granted {
			return nil, ErrLocked
		}
		return cur, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	return &models.TestEntry{Serial: serial, Data: datatypes.JSONMap{}}, nil
}

// merge applies submitted values into the entry's data map, records the
// wizard step, stamps the timestamp and appends the contributor.
func merge(e *models.TestEntry, user *models.User, values map[string]string, step int) {
	if e.Data == nil {
		e.Data = datatypes.JSONMap{}
	}
	for name, v := range values {
		e.Data[name] = v
	}
	e.SetLastStep(step)
	e.AddContributor(user.Username)
	e.Timestamp = time.Now().UTC()
}

func (s *Service) bindUser(user *models.User, entryID uint) error {
	if err := s.db.Model(&models.User{}).Where("id = ?", user.ID).
		Update("active_entry_id", entryID).Error; err != nil {
		return err
	}
	user.ActiveEntryID = &entryID
	return nil
}

func (s *Service) unbindUser(user *models.User) error {
	if err := s.db.Model(&models.User{}).Where("id = ?", user.ID).
		Update("active_entry_id", nil).Error; err != nil {
		return err
	}
	user.ActiveEntryID = nil
	return nil
}
