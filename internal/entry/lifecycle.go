package entry

import (
	"errors"
	"strings"
	"time"

	"github.com/apollo-lhc/cmtestgo/internal/models"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// UpsertProgress persists the current page's data when the user advances a
// page that is not the last. The entry stays out of the saved pool
// (is_saved remains false) until an explicit save-and-exit; it is created
// on the first advance, claimed by the user's lock, and bound to the user's
// session so later requests resume at nextStep.
func (s *Service) UpsertProgress(user *models.User, serial int, values map[string]string, nextStep int) (*models.TestEntry, error) {
	e, err := s.resolveWorking(user, serial)
	if err != nil {
		return nil, err
	}

	merge(e, user, values, nextStep)
	claim(e, user.Username)

	if err := s.db.Save(e).Error; err != nil {
		return nil, err
	}
	if err := s.bindUser(user, e.ID); err != nil {
		return nil, err
	}
	return e, nil
}

// Finish completes the wizard from its last page: the entry becomes
// FINISHED, failure flags are cleared, the lock is released and the user's
// session unbound.
func (s *Service) Finish(user *models.User, serial int, values map[string]string, lastStep int) (*models.TestEntry, error) {
	e, err := s.resolveWorking(user, serial)
	if err != nil {
		return nil, err
	}

	merge(e, user, values, lastStep)
	e.IsFinished = true
	e.IsSaved = false
	e.Failure = false
	e.FailStored = false
	e.FailReason = ""
	e.LockOwner = ""
	e.LockAcquiredAt = nil

	if err := s.db.Save(e).Error; err != nil {
		return nil, err
	}
	return e, s.unbindUser(user)
}

// SaveAndExit stores the entry into the saved pool for later resumption,
// releasing the lock and unbinding the user's session.
func (s *Service) SaveAndExit(user *models.User, serial int, values map[string]string, step int) (*models.TestEntry, error) {
	e, err := s.resolveWorking(user, serial)
	if err != nil {
		return nil, err
	}

	merge(e, user, values, step)
	e.IsSaved = true
	e.Failure = false
	e.FailStored = false
	e.LockOwner = ""
	e.LockAcquiredAt = nil

	if err := s.db.Save(e).Error; err != nil {
		return nil, err
	}
	return e, s.unbindUser(user)
}

// Fail records the attempt as failed pending retest. Requires a non-empty
// reason; releases the lock and unbinds the user's session.
func (s *Service) Fail(user *models.User, serial int, values map[string]string, step int, reason string) (*models.TestEntry, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, ErrEmptyReason
	}

	e, err := s.resolveWorking(user, serial)
	if err != nil {
		return nil, err
	}

	merge(e, user, values, step)
	e.Failure = true
	e.FailStored = true
	e.FailReason = reason
	e.IsFinished = false
	e.IsSaved = false
	e.LockOwner = ""
	e.LockAcquiredAt = nil

	if err := s.db.Save(e).Error; err != nil {
		return nil, err
	}
	return e, s.unbindUser(user)
}

// Resume reopens a saved or failed-pending entry in the wizard. The caller
// must hold no other entry and must win the lock; on success the entry
// leaves the saved pool while it is being actively edited.
func (s *Service) Resume(user *models.User, entryID uint) (*models.TestEntry, error) {
	if user.ActiveEntryID != nil && *user.ActiveEntryID != entryID {
		return nil, ErrAlreadyEditing
	}

	granted, e, err := s.AcquireLock(entryID, user.Username)
	if err != nil {
		return nil, err
	}
	if !granted {
		return nil, ErrLocked
	}

	if err := s.db.Model(&models.TestEntry{}).Where("id = ?", e.ID).
		Update("is_saved", false).Error; err != nil {
		return nil, err
	}
	e.IsSaved = false

	return e, s.bindUser(user, e.ID)
}

// Retest supersedes a failed entry with a fresh attempt. The old entry's
// fail_stored flag is cleared with a conditional update so a second retest
// of the same failure is rejected; the new entry copies the data and wizard
// position, references the old entry as parent, starts with an empty
// contributor list, and is bound to the requesting user.
func (s *Service) Retest(user *models.User, entryID uint) (*models.TestEntry, error) {
	if user.ActiveEntryID != nil {
		return nil, ErrAlreadyEditing
	}

	old, err := s.Get(entryID)
	if err != nil {
		return nil, err
	}

	res := s.db.Model(&models.TestEntry{}).
		Where("id = ? AND failure = ? AND fail_stored = ?", entryID, true, true).
		Update("fail_stored", false)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, ErrRetestTaken
	}

	data := datatypes.JSONMap{}
	for k, v := range old.Data {
		data[k] = v
	}

	parentID := old.ID
	next := &models.TestEntry{
		Serial:    old.Serial,
		Data:      data,
		ParentID:  &parentID,
		IsSaved:   true,
		Timestamp: time.Now().UTC(),
	}
	claim(next, user.Username)

	if err := s.db.Create(next).Error; err != nil {
		return nil, err
	}
	return next, s.bindUser(user, next.ID)
}

// ClearFailed discards a failed record without a retest; the failure is
// retired and the entry closed out as finished.
func (s *Service) ClearFailed(entryID uint) error {
	res := s.db.Model(&models.TestEntry{}).
		Where("id = ? AND failure = ? AND fail_stored = ?", entryID, true, true).
		Updates(map[string]interface{}{
			"fail_stored": false,
			"is_finished": true,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFailed
	}
	return nil
}

// CloseSession detaches the user from whatever entry they hold open in the
// wizard, releasing the lock if they own it. The entry itself is left as-is,
// so an unsaved attempt stays visible on the unfinished dashboard.
func (s *Service) CloseSession(user *models.User) error {
	if user.ActiveEntryID == nil {
		return nil
	}
	e, err := s.Get(*user.ActiveEntryID)
	if err == nil && e.LockOwner == user.Username {
		if err := s.ReleaseLock(e); err != nil {
			return err
		}
	} else if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}
	return s.unbindUser(user)
}

// Archive snapshots an entry into DeletedEntry and removes it. Any user
// session still bound to the entry is detached.
func (s *Service) Archive(entryID uint, deletedBy string) (*models.DeletedEntry, error) {
	e, err := s.Get(entryID)
	if err != nil {
		return nil, err
	}

	snapshot := models.Snapshot(e, deletedBy, time.Now().UTC())
	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&snapshot).Error; err != nil {
			return err
		}
		if err := tx.Delete(&models.TestEntry{}, entryID).Error; err != nil {
			return err
		}
		return tx.Model(&models.User{}).Where("active_entry_id = ?", entryID).
			Update("active_entry_id", nil).Error
	})
	if err != nil {
		return nil, err
	}
	return &snapshot, nil
}
