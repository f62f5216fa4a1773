package models

import (
	"time"

	"gorm.io/datatypes"
)

// DeletedEntry is an immutable archival snapshot taken when an admin
// deletes a TestEntry. Created once, never mutated; kept for audit and
// recovery.
type DeletedEntry struct {
	ID              uint                        `gorm:"primaryKey" json:"id"`
	OriginalEntryID uint                        `gorm:"index" json:"originalEntryId"`
	Serial          int                         `gorm:"index" json:"serial"`
	DeletedBy       string                      `gorm:"not null" json:"deletedBy"`
	DeletedAt       time.Time                   `gorm:"index" json:"deletedAt"`
	Data            datatypes.JSONMap           `json:"data"`
	Contributors    datatypes.JSONSlice[string] `json:"contributors"`
	Failure         bool                        `json:"failure"`
	FailReason      string                      `json:"failReason,omitempty"`
	WasLockedBy     string                      `json:"wasLockedBy,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
}

// TableName specifies the table name for DeletedEntry
func (DeletedEntry) TableName() string {
	return "deleted_entries"
}

// Snapshot builds the archival record for an entry about to be removed.
func Snapshot(e *TestEntry, deletedBy string, now time.Time) DeletedEntry {
	return DeletedEntry{
		OriginalEntryID: e.ID,
		Serial:          e.Serial,
		DeletedBy:       deletedBy,
		DeletedAt:       now,
		Data:            e.Data,
		Contributors:    e.Contributors,
		Failure:         e.Failure,
		FailReason:      e.FailReason,
		WasLockedBy:     e.LockOwner,
	}
}
