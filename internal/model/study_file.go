package model

import "time"

// StudyFile is one uploaded artifact, deduplicated globally by content
// fingerprint. UploaderID records who uploaded the bytes first; the remote
// file is shared by every collection that references it.
type StudyFile struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	UploaderID   uint      `gorm:"not null;index" json:"uploader_id"`
	Name         string    `gorm:"size:256;not null" json:"name"`
	Fingerprint  string    `gorm:"size:64;not null;uniqueIndex" json:"fingerprint"`
	RemoteFileID string    `gorm:"size:128;not null" json:"remote_file_id"`
	CreatedAt    time.Time `json:"created_at"`
}
