package repository

import (
	"errors"
	"fmt"

	"gorm.io/gorm"

	"studybuddy/internal/model"
)

type AssistantRepository struct {
	db *gorm.DB
}

func NewAssistantRepository(db *gorm.DB) *AssistantRepository {
	return &AssistantRepository{db: db}
}

func (r *AssistantRepository) Create(binding *model.AssistantBinding) error {
	if err := r.db.Create(binding).Error; err != nil {
		if isDuplicateErr(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create assistant binding failed: %w", err)
	}
	return nil
}

func (r *AssistantRepository) GetByCollectionID(collectionID uint) (*model.AssistantBinding, error) {
	var binding model.AssistantBinding
	if err := r.db.Where("collection_id = ?", collectionID).First(&binding).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get assistant binding failed: %w", err)
	}
	return &binding, nil
}
