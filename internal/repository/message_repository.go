package repository

import (
	"fmt"

	"gorm.io/gorm"

	"studybuddy/internal/model"
)

type MessageRepository struct {
	db *gorm.DB
}

func NewMessageRepository(db *gorm.DB) *MessageRepository {
	return &MessageRepository{db: db}
}

// Append inserts a message at the exact next ordinal. The ordinal must equal
// the current log length; anything else (gap, duplicate, constraint hit from a
// concurrent writer) returns ErrOrdinalConflict.
func (r *MessageRepository) Append(message *model.Message) error {
	err := r.db.Transaction(func(tx *gorm.DB) error {
		var last int
		row := tx.Model(&model.Message{}).
			Where("session_id = ?", message.SessionID).
			Select("COALESCE(MAX(ordinal), -1)")
		if err := row.Scan(&last).Error; err != nil {
			return err
		}
		if message.Ordinal != last+1 {
			return ErrOrdinalConflict
		}
		return tx.Create(message).Error
	})
	if err != nil {
		if err == ErrOrdinalConflict || isDuplicateErr(err) {
			return ErrOrdinalConflict
		}
		return fmt.Errorf("append message failed: %w", err)
	}
	return nil
}

// NextOrdinal returns the ordinal the next appended message must carry.
func (r *MessageRepository) NextOrdinal(sessionID uint) (int, error) {
	var last int
	row := r.db.Model(&model.Message{}).
		Where("session_id = ?", sessionID).
		Select("COALESCE(MAX(ordinal), -1)")
	if err := row.Scan(&last).Error; err != nil {
		return 0, fmt.Errorf("next ordinal failed: %w", err)
	}
	return last + 1, nil
}

func (r *MessageRepository) ListBySessionID(sessionID uint) ([]model.Message, error) {
	var messages []model.Message
	if err := r.db.Where("session_id = ?", sessionID).Order("ordinal ASC").Find(&messages).Error; err != nil {
		return nil, fmt.Errorf("list messages failed: %w", err)
	}
	return messages, nil
}

func (r *MessageRepository) DeleteBySessionID(sessionID uint) error {
	if err := r.db.Where("session_id = ?", sessionID).Delete(&model.Message{}).Error; err != nil {
		return fmt.Errorf("delete messages failed: %w", err)
	}
	return nil
}
