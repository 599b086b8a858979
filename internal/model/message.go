package model

import "time"

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one entry in a session's append-only log. Ordinals are strictly
// increasing and gap-free per session; the composite unique index rejects
// duplicates instead of silently correcting them.
type Message struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	SessionID uint      `gorm:"not null;uniqueIndex:idx_session_ordinal,priority:1" json:"session_id"`
	Ordinal   int       `gorm:"not null;uniqueIndex:idx_session_ordinal,priority:2" json:"ordinal"`
	Role      string    `gorm:"size:16;not null" json:"role"`
	Content   string    `gorm:"type:text;not null" json:"content"`
	CreatedAt time.Time `json:"created_at"`
}
