package user

import "time"

// User rows mirror the identity of whatever system calls the memory API.
// The ID is the external identifier verbatim, so there is no signup flow
// here. EnsureUser creates the row on first contact.
type User struct {
	ID string `gorm:"type:text;primaryKey" json:"id"`

	CreatedAt time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null" json:"updated_at"`
}

func (User) TableName() string { return "users" }

// UserProfile holds the rolling profile document the summarizer maintains.
type UserProfile struct {
	ID     string `gorm:"type:text;primaryKey" json:"id"`
	UserID string `gorm:"type:text;not null;uniqueIndex" json:"user_id"`

	Content       string    `gorm:"type:text;not null;default:''" json:"content"`
	LastUpdatedAt time.Time `gorm:"not null" json:"last_updated_at"`

	CreatedAt time.Time `gorm:"not null" json:"created_at"`
}

func (UserProfile) TableName() string { return "user_profiles" }
