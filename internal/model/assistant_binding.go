package model

import "time"

// AssistantBinding pairs a collection with the remote assistant tuned to it.
// The unique index on CollectionID keeps at most one live binding per
// collection.
type AssistantBinding struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	CollectionID uint      `gorm:"not null;uniqueIndex" json:"collection_id"`
	RemoteID     string    `gorm:"size:128;not null" json:"remote_id"`
	CreatedAt    time.Time `json:"created_at"`
}
