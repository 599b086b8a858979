package repository

import (
	"errors"
	"fmt"

	"gorm.io/gorm"

	"studybuddy/internal/model"
)

type StudyFileRepository struct {
	db *gorm.DB
}

func NewStudyFileRepository(db *gorm.DB) *StudyFileRepository {
	return &StudyFileRepository{db: db}
}

func (r *StudyFileRepository) Create(file *model.StudyFile) error {
	if err := r.db.Create(file).Error; err != nil {
		if isDuplicateErr(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create study file failed: %w", err)
	}
	return nil
}

func (r *StudyFileRepository) GetByFingerprint(fp string) (*model.StudyFile, error) {
	var file model.StudyFile
	if err := r.db.Where("fingerprint = ?", fp).First(&file).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get study file failed: %w", err)
	}
	return &file, nil
}

func (r *StudyFileRepository) ListByUploaderID(uploaderID uint) ([]model.StudyFile, error) {
	var files []model.StudyFile
	if err := r.db.Where("uploader_id = ?", uploaderID).Order("created_at DESC").Find(&files).Error; err != nil {
		return nil, fmt.Errorf("list study files failed: %w", err)
	}
	return files, nil
}
