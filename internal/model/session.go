package model

import "time"

// Session is a resumable study conversation scoped to one collection. The
// collection reference is immutable after creation; many sessions may share
// one collection. RemoteThreadID is the backend thread the turns run on.
type Session struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	UserID         uint      `gorm:"not null;index" json:"user_id"`
	CollectionID   uint      `gorm:"not null;index" json:"collection_id"`
	Title          string    `gorm:"size:128;not null" json:"title"`
	RemoteThreadID string    `gorm:"size:128;not null" json:"remote_thread_id"`
	LastTurnError  string    `gorm:"size:512" json:"last_turn_error,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}
