package models

import (
	"fmt"
	"strconv"
	"time"

	"gorm.io/datatypes"
)

// DataKeyLastStep is the key inside TestEntry.Data recording the wizard
// page the entry expects next.
const DataKeyLastStep = "last_step"

// TestEntry is one test attempt for a CM board. The four status flags
// encode the lifecycle: neither set = draft in progress, IsSaved = parked
// for resumption, IsFinished = completed, Failure+FailStored = failed and
// awaiting a retest decision, Failure alone = retired failure.
type TestEntry struct {
	ID        uint              `gorm:"primaryKey" json:"id"`
	Serial    int               `gorm:"index;not null" json:"serial"`
	Data      datatypes.JSONMap `json:"data"`
	Timestamp time.Time         `gorm:"index" json:"timestamp"`

	// Usernames that have touched this attempt, in first-contribution order.
	Contributors datatypes.JSONSlice[string] `json:"contributors"`

	IsSaved    bool   `gorm:"default:false;index" json:"isSaved"`
	IsFinished bool   `gorm:"default:false" json:"isFinished"`
	Failure    bool   `gorm:"default:false" json:"failure"`
	FailStored bool   `gorm:"default:false" json:"failStored"`
	FailReason string `json:"failReason,omitempty"`

	// Writer lock. Empty owner means unlocked; a held lock goes stale
	// after the configured timeout and may be stolen.
	LockOwner      string     `gorm:"index" json:"lockOwner,omitempty"`
	LockAcquiredAt *time.Time `json:"lockAcquiredAt,omitempty"`

	// Previous attempt this entry supersedes, set on retest.
	ParentID *uint `json:"parentId,omitempty"`

	// Dummy marks generated demo data so it can be purged separately.
	Dummy bool `gorm:"default:false" json:"dummy"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// TableName specifies the table name for TestEntry
func (TestEntry) TableName() string {
	return "test_entries"
}

// LastStep returns the wizard page stored in the data blob. JSON numbers
// round-trip as float64 through the JSONMap, so all numeric shapes are
// accepted; absent or unparseable values mean page zero.
func (e *TestEntry) LastStep() int {
	v, ok := e.Data[DataKeyLastStep]
	if !ok {
		return 0
	}
	switch n := v.(type) {
	case float64:
		return int(n)
	case int:
		return n
	case string:
		if parsed, err := strconv.Atoi(n); err == nil {
			return parsed
		}
	}
	return 0
}

// SetLastStep records the wizard page the entry should reopen at.
func (e *TestEntry) SetLastStep(step int) {
	if e.Data == nil {
		e.Data = datatypes.JSONMap{}
	}
	e.Data[DataKeyLastStep] = step
}

// Active reports whether the entry blocks a new attempt for its serial:
// parked in the saved pool, or failed and still awaiting a retest decision.
func (e *TestEntry) Active() bool {
	return e.IsSaved || (e.Failure && e.FailStored)
}

// AddContributor appends the username unless it is already recorded.
func (e *TestEntry) AddContributor(username string) {
	for _, c := range e.Contributors {
		if c == username {
			return
		}
	}
	e.Contributors = append(e.Contributors, username)
}

// DataString renders a data value for display and export. Whole-valued
// floats print without the trailing ".0" JSON decoding gives them.
func (e *TestEntry) DataString(name string) string {
	v, ok := e.Data[name]
	if !ok || v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return t
	case bool:
		if t {
			return "true"
		}
		return "false"
	case float64:
		if t == float64(int64(t)) {
			return strconv.FormatInt(int64(t), 10)
		}
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return fmt.Sprintf("%v", t)
	}
}
