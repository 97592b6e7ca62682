package models

import (
	"context"
	"time"

	"github.com/emberpeak/countflow_backend/config"
	"github.com/emberpeak/countflow_backend/utils"
	"gorm.io/gorm"
)

// StoreForcedCount is a one-shot override: the next generation for the store
// uses the referenced group instead of the rotation pointer, and the pointer
// is left untouched. Consumed or cancelled rows keep their timestamps for
// the audit trail.
type StoreForcedCount struct {
	ID           int        `gorm:"primary_key" json:"id"`
	StoreId      int        `gorm:"not null;index" json:"store_id"`
	CountGroupId int        `gorm:"not null" json:"count_group_id"`
	CampaignId   *int       `json:"campaign_id"`
	Reason       string     `gorm:"size:255" json:"reason"`
	IsActive     *bool      `gorm:"not null;default:true" json:"is_active"`
	CreatedAt    time.Time  `gorm:"autoCreateTime" json:"created_at"`
	CreatedBy    int        `gorm:"not null" json:"created_by"`
	ConsumedAt   *time.Time `json:"consumed_at"`
	SessionId    *int       `json:"session_id"`
}

type NewStoreForcedCount struct {
	StoreId    int    `json:"store_id" binding:"required" validate:"required"`
	GroupId    *int   `json:"group_id"`
	CampaignId *int   `json:"campaign_id"`
	Reason     string `json:"reason" binding:"required" validate:"required"`
}

// CreateForcedCount queues a forced count for a store. Exactly one of
// GroupId or CampaignId must be set; a campaign is resolved through its
// owning active group at creation time.
func CreateForcedCount(ctx context.Context, input *NewStoreForcedCount) (*StoreForcedCount, error) {
	if err := utils.ValidateStruct(input); err != nil {
		return nil, utils.ErrorInvalidState
	}
	if (input.GroupId == nil) == (input.CampaignId == nil) {
		return nil, utils.ErrorInvalidState
	}

	db := config.GetDB()
	var forced StoreForcedCount
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var store Store
		if err := tx.Where("id = ? AND is_active = ?", input.StoreId, true).First(&store).Error; err != nil {
			return utils.ErrorRecordNotFound
		}

		groupId := 0
		if input.GroupId != nil {
			var group CountGroup
			if err := tx.Where("id = ? AND is_active = ?", *input.GroupId, true).First(&group).Error; err != nil {
				return utils.ErrorRecordNotFound
			}
			groupId = group.ID
		} else {
			resolved, err := ActiveGroupForCampaign(tx, *input.CampaignId)
			if err != nil {
				return err
			}
			if resolved == 0 {
				return utils.ErrorRecordNotFound
			}
			groupId = resolved
		}

		principalId, _ := utils.GetPrincipalIdFromContext(ctx)
		active := true
		forced = StoreForcedCount{
			StoreId:      input.StoreId,
			CountGroupId: groupId,
			CampaignId:   input.CampaignId,
			Reason:       input.Reason,
			IsActive:     &active,
			CreatedBy:    principalId,
		}
		if err := tx.Create(&forced).Error; err != nil {
			return err
		}

		return RecordAudit(tx, AuditActionForcedCountCreated, &input.StoreId, map[string]interface{}{
			"forced_count_id": forced.ID,
			"count_group_id":  groupId,
			"campaign_id":     input.CampaignId,
			"reason":          input.Reason,
		})
	})
	if err != nil {
		return nil, err
	}
	return &forced, nil
}

// NextPendingForcedCount returns the earliest active unconsumed forced count
// for the store, or nil. Rows pointing at deactivated groups are skipped.
func NextPendingForcedCount(tx *gorm.DB, storeId int) (*StoreForcedCount, error) {
	var forced StoreForcedCount
	err := tx.Model(&StoreForcedCount{}).
		Joins("JOIN count_groups ON count_groups.id = store_forced_counts.count_group_id").
		Where("store_forced_counts.store_id = ? AND store_forced_counts.is_active = ? AND store_forced_counts.consumed_at IS NULL", storeId, true).
		Where("count_groups.is_active = ?", true).
		Order("store_forced_counts.created_at ASC, store_forced_counts.id ASC").
		First(&forced).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &forced, nil
}

// ConsumeForcedCount marks the forced count as used by the given session.
func ConsumeForcedCount(tx *gorm.DB, forcedCountId int, sessionId int) error {
	now := time.Now().UTC()
	result := tx.Model(&StoreForcedCount{}).
		Where("id = ? AND consumed_at IS NULL", forcedCountId).
		Updates(map[string]interface{}{"is_active": false, "consumed_at": now, "session_id": sessionId})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return utils.ErrorConflict
	}
	return nil
}

// CancelPendingForcedCounts deactivates the store's pending forced counts.
// Used when a manager repoints the rotation, which supersedes the queue.
func CancelPendingForcedCounts(tx *gorm.DB, storeId int) (int64, error) {
	now := time.Now().UTC()
	result := tx.Model(&StoreForcedCount{}).
		Where("store_id = ? AND is_active = ? AND consumed_at IS NULL", storeId, true).
		Updates(map[string]interface{}{"is_active": false, "consumed_at": now})
	return result.RowsAffected, result.Error
}

// ListPendingForcedCounts lists pending forced counts, optionally per store.
func ListPendingForcedCounts(ctx context.Context, storeId *int) ([]*StoreForcedCount, error) {
	db := config.GetDB()
	query := db.WithContext(ctx).
		Where("is_active = ? AND consumed_at IS NULL", true).
		Order("created_at ASC, id ASC")
	if storeId != nil {
		query = query.Where("store_id = ?", *storeId)
	}
	var rows []*StoreForcedCount
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}
