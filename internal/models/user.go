package models

import (
	"time"

	"gorm.io/gorm"
)

// User represents an operator account.
// Standardized: Go (PascalCase) -> DB (snake_case) -> JSON (camelCase)
type User struct {
	ID       uint   `gorm:"primaryKey" json:"id"`
	Username string `gorm:"unique;not null" json:"username"`
	Password string `gorm:"not null" json:"-"`
	IsAdmin  bool   `gorm:"default:false" json:"isAdmin"`

	// Entry currently held open in the wizard, if any. At most one per
	// user; non-empty only while the user owns that entry's lock.
	ActiveEntryID *uint `json:"activeEntryId,omitempty"`

	LastLogin *time.Time `json:"lastLogin,omitempty"`

	CreatedAt time.Time      `json:"createdAt"`
	UpdatedAt time.Time      `json:"updatedAt"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

// TableName specifies the table name for User
func (User) TableName() string {
	return "users"
}
