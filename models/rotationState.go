package models

import (
	"time"

	"gorm.io/gorm"
)

// StoreRotationState is the per-store pointer into the group rotation.
// NextGroupId may reference a group that has since been deactivated; the
// selection path re-validates it on every generation and falls back to the
// first active group when stale.
type StoreRotationState struct {
	StoreId     int        `gorm:"primaryKey" json:"store_id"`
	NextGroupId *int       `json:"next_group_id"`
	UpdatedAt   time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
	UpdatedBy   *int       `json:"updated_by"`
	LastUsedAt  *time.Time `json:"last_used_at"`
}

func GetRotationState(tx *gorm.DB, storeId int) (*StoreRotationState, error) {
	var state StoreRotationState
	err := tx.Where("store_id = ?", storeId).First(&state).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &state, nil
}

// SetRotationPointer points a store's next rotation turn at the given group.
// Passing nil clears the pointer so the store falls back to the first active
// group. Call inside the caller's transaction.
func SetRotationPointer(tx *gorm.DB, storeId int, groupId *int, updatedBy int) error {
	state := StoreRotationState{StoreId: storeId, NextGroupId: groupId, UpdatedBy: &updatedBy}
	err := tx.Save(&state).Error
	if err != nil {
		return err
	}
	return RecordAudit(tx, AuditActionRotationPointerSet, &storeId, map[string]interface{}{
		"next_group_id": groupId,
	})
}
