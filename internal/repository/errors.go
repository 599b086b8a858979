package repository

import (
	"errors"

	"gorm.io/gorm"
)

var (
	// ErrDuplicateKey reports a unique-constraint hit on insert; callers use
	// it to detect a competing creation and re-read instead of failing.
	ErrDuplicateKey = errors.New("duplicate key")

	// ErrOrdinalConflict reports an out-of-order or duplicate message ordinal.
	// This is an invariant breach and is never silently corrected.
	ErrOrdinalConflict = errors.New("message ordinal conflict")
)

func isDuplicateErr(err error) bool {
	return errors.Is(err, gorm.ErrDuplicatedKey)
}
