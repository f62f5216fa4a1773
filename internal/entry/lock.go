package entry

import (
	"time"

	"github.com/apollo-lhc/cmtestgo/internal/models"
)

// LockTimeout is how long a lock may sit untouched before it is considered
// stale and free to reclaim.
const LockTimeout = 20 * time.Minute

// AcquireLock tries to claim exclusive edit ownership of an entry for
// username. The claim succeeds iff the lock is free, stale, or already held
// by the same user, decided by a single conditional UPDATE so two
// concurrent acquirers cannot both win. Returns whether the claim succeeded
// plus the current row.
func (s *Service) AcquireLock(entryID uint, username string) (bool, *models.TestEntry, error) {
	now := time.Now().UTC()
	staleBefore := now.Add(-LockTimeout)

	res := s.db.Model(&models.TestEntry{}).
		Where("id = ? AND (lock_owner = '' OR lock_owner IS NULL OR lock_owner = ? OR lock_acquired_at <= ?)",
			entryID, username, staleBefore).
		Updates(map[string]interface{}{
			"lock_owner":       username,
			"lock_acquired_at": now,
		})
	if res.Error != nil {
		return false, nil, res.Error
	}

	e, err := s.Get(entryID)
	if err != nil {
		return false, nil, err
	}
	return res.RowsAffected == 1, e, nil
}

// ReleaseLock frees the lock on an entry. Unconditional and idempotent;
// callers reach this only through paths that resolved the entry they hold.
func (s *Service) ReleaseLock(e *models.TestEntry) error {
	if err := s.db.Model(&models.TestEntry{}).Where("id = ?", e.ID).
		Updates(map[string]interface{}{
			"lock_owner":       "",
			"lock_acquired_at": nil,
		}).Error; err != nil {
		return err
	}
	e.LockOwner = ""
	e.LockAcquiredAt = nil
	return nil
}

// ForceUnlock is the admin override: clears the lock regardless of owner or
// age, and detaches any user session still bound to the entry.
func (s *Service) ForceUnlock(entryID uint) error {
	if err := s.db.Model(&models.TestEntry{}).Where("id = ?", entryID).
		Updates(map[string]interface{}{
			"lock_owner":       "",
			"lock_acquired_at": nil,
		}).Error; err != nil {
		return err
	}
	return s.db.Model(&models.User{}).Where("active_entry_id = ?", entryID).
		Update("active_entry_id", nil).Error
}

// claim marks lock ownership on an in-memory entry about to be persisted.
func claim(e *models.TestEntry, username string) {
	now := time.Now().UTC()
	e.LockOwner = username
	e.LockAcquiredAt = &now
}
