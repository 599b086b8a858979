package repository

import (
	"errors"
	"fmt"

	"gorm.io/gorm"

	"studybuddy/internal/model"
)

type CollectionRepository struct {
	db *gorm.DB
}

func NewCollectionRepository(db *gorm.DB) *CollectionRepository {
	return &CollectionRepository{db: db}
}

// Create persists the collection and its membership rows in one transaction.
// Returns ErrDuplicateKey when another creation for the same fingerprint
// already landed.
func (r *CollectionRepository) Create(collection *model.Collection, fileIDs []uint) error {
	err := r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(collection).Error; err != nil {
			return err
		}
		for _, fileID := range fileIDs {
			member := model.CollectionFile{CollectionID: collection.ID, FileID: fileID}
			if err := tx.Create(&member).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		if isDuplicateErr(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create collection failed: %w", err)
	}
	return nil
}

func (r *CollectionRepository) GetByFingerprint(fp string) (*model.Collection, error) {
	var collection model.Collection
	if err := r.db.Where("fingerprint = ?", fp).First(&collection).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get collection failed: %w", err)
	}
	return &collection, nil
}

func (r *CollectionRepository) GetByID(id uint) (*model.Collection, error) {
	var collection model.Collection
	if err := r.db.First(&collection, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get collection failed: %w", err)
	}
	return &collection, nil
}

// ListForUser returns collections the user created plus collections the user
// has sessions on (a dedup hit resolves to a collection another user created).
func (r *CollectionRepository) ListForUser(userID uint) ([]model.Collection, error) {
	sessionCollections := r.db.Model(&model.Session{}).
		Select("collection_id").
		Where("user_id = ?", userID)

	var collections []model.Collection
	if err := r.db.
		Where("owner_id = ? OR id IN (?)", userID, sessionCollections).
		Order("created_at DESC").
		Find(&collections).Error; err != nil {
		return nil, fmt.Errorf("list collections failed: %w", err)
	}
	return collections, nil
}
