package entry

import (
	"github.com/apollo-lhc/cmtestgo/internal/models"
)

// ListSaved returns the user dashboard pool, newest first: saved entries
// plus failures still awaiting a retest decision.
func (s *Service) ListSaved() ([]models.TestEntry, error) {
	var entries []models.TestEntry
	err := s.db.Where("is_saved = ? OR (failure = ? AND fail_stored = ?)", true, true, true).
		Order("timestamp DESC").Find(&entries).Error
	return entries, err
}

// ListUnfinished returns all entries that have not reached FINISHED, for
// the admin dashboard (in-progress, saved, and failed-pending alike).
func (s *Service) ListUnfinished() ([]models.TestEntry, error) {
	var entries []models.TestEntry
	err := s.db.Where("is_finished = ?", false).
		Order("timestamp DESC").Find(&entries).Error
	return entries, err
}

// ListAll returns every entry, newest first.
func (s *Service) ListAll() ([]models.TestEntry, error) {
	var entries []models.TestEntry
	err := s.db.Order("timestamp DESC").Find(&entries).Error
	return entries, err
}

// ListLatestPerSerial returns only the most recent entry for each serial,
// newest first. Backs the history view's "unique" toggle.
func (s *Service) ListLatestPerSerial() ([]models.TestEntry, error) {
	var entries []models.TestEntry
	err := s.db.Raw(`
		SELECT e.* FROM test_entries e
		JOIN (
			SELECT serial, MAX(timestamp) AS latest
			FROM test_entries
			GROUP BY serial
		) m ON e.serial = m.serial AND e.timestamp = m.latest
		ORDER BY e.timestamp DESC`).Scan(&entries).Error
	return entries, err
}

// ListDeleted returns archived entries, most recently deleted first.
func (s *Service) ListDeleted() ([]models.DeletedEntry, error) {
	var entries []models.DeletedEntry
	err := s.db.Order("deleted_at DESC").Find(&entries).Error
	return entries, err
}

// CountDummies counts generated test entries.
func (s *Service) CountDummies() (int64, error) {
	var n int64
	err := s.db.Model(&models.TestEntry{}).Where("dummy = ?", true).Count(&n).Error
	return n, err
}

// ClearHistory deletes entries in bulk: every entry, or only generated
// dummies. Bypasses archiving; intended for admin cleanup of test data.
func (s *Service) ClearHistory(onlyDummies bool) (int64, error) {
	q := s.db.Model(&models.TestEntry{})
	if onlyDummies {
		q = q.Where("dummy = ?", true)
	} else {
		q = q.Where("1 = 1")
	}
	res := q.Delete(&models.TestEntry{})
	return res.RowsAffected, res.Error
}
