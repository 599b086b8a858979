package model

import "time"

// Collection is the deduplication unit: one unique set of study files and its
// remote vector store. Fingerprint is derived from the member file
// fingerprints and is order- and duplicate-insensitive, so at most one row
// exists per distinct file set.
type Collection struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	Fingerprint string    `gorm:"size:64;not null;uniqueIndex" json:"fingerprint"`
	Name        string    `gorm:"size:256;not null" json:"name"`
	OwnerID     uint      `gorm:"not null;index" json:"owner_id"`
	RemoteID    string    `gorm:"size:128;not null" json:"remote_id"`
	CreatedAt   time.Time `json:"created_at"`
}

// CollectionFile records set membership without duplicating file rows.
type CollectionFile struct {
	ID           uint `gorm:"primaryKey" json:"id"`
	CollectionID uint `gorm:"not null;uniqueIndex:idx_collection_file,priority:1" json:"collection_id"`
	FileID       uint `gorm:"not null;uniqueIndex:idx_collection_file,priority:2" json:"file_id"`
}
