package workflow

import (
	"context"
	"time"

	"github.com/emberpeak/countflow_backend/config"
	"github.com/emberpeak/countflow_backend/models"
	"github.com/emberpeak/countflow_backend/utils"
	"gorm.io/gorm"
)

// GroupSelection is the outcome of resolving which group a store counts
// next. ForcedCountId is set when a forced count was consumed; the rotation
// pointer is untouched in that case.
type GroupSelection struct {
	GroupId       int
	ForcedCountId *int
}

// NextGroupId returns the group after current in cyclic order. A current id
// no longer present restarts at the front.
func NextGroupId(groupIds []int, currentId int) int {
	for idx, id := range groupIds {
		if id == currentId {
			return groupIds[(idx+1)%len(groupIds)]
		}
	}
	return groupIds[0]
}

// SelectGroup picks the group for a normal rotation turn: the pointer when
// it still references an available group, otherwise the first group.
func SelectGroup(groupIds []int, pointer *int) int {
	if pointer != nil {
		for _, id := range groupIds {
			if id == *pointer {
				return id
			}
		}
	}
	return groupIds[0]
}

// ResolveGroupForStore decides the store's next count group inside the
// caller's transaction. A pending forced count wins and is consumed without
// moving the rotation pointer; otherwise the pointer selects the group and
// advances past it.
func ResolveGroupForStore(tx *gorm.DB, storeId int) (*GroupSelection, error) {
	forced, err := models.NextPendingForcedCount(tx, storeId)
	if err != nil {
		return nil, err
	}
	if forced != nil {
		return &GroupSelection{GroupId: forced.CountGroupId, ForcedCountId: &forced.ID}, nil
	}

	groups, err := models.ActiveGroupsInRotationOrder(tx)
	if err != nil {
		return nil, err
	}
	if len(groups) == 0 {
		return nil, utils.ErrorNothingToCount
	}
	groupIds := make([]int, len(groups))
	for i, g := range groups {
		groupIds[i] = g.ID
	}

	state, err := models.GetRotationState(tx, storeId)
	if err != nil {
		return nil, err
	}

	var pointer *int
	if state != nil {
		pointer = state.NextGroupId
	}
	selected := SelectGroup(groupIds, pointer)

	next := NextGroupId(groupIds, selected)
	now := time.Now().UTC()
	if err := tx.Save(&models.StoreRotationState{StoreId: storeId, NextGroupId: &next, LastUsedAt: &now}).Error; err != nil {
		return nil, err
	}
	return &GroupSelection{GroupId: selected}, nil
}

// SetStoreNextGroup repoints a store's rotation at a specific group and
// cancels pending forced counts so the new pointer is what generates next.
func SetStoreNextGroup(ctx context.Context, storeId int, groupId int) (*models.StoreRotationState, error) {
	db := config.GetDB()
	var state *models.StoreRotationState
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var store models.Store
		if err := tx.Where("id = ? AND is_active = ?", storeId, true).First(&store).Error; err != nil {
			return utils.ErrorRecordNotFound
		}

		groups, err := models.ActiveGroupsInRotationOrder(tx)
		if err != nil {
			return err
		}
		valid := false
		for _, g := range groups {
			if g.ID == groupId {
				valid = true
				break
			}
		}
		if !valid {
			return utils.ErrorRecordNotFound
		}

		principalId, _ := utils.GetPrincipalIdFromContext(ctx)
		if err := models.SetRotationPointer(tx, storeId, &groupId, principalId); err != nil {
			return err
		}
		if _, err := models.CancelPendingForcedCounts(tx, storeId); err != nil {
			return err
		}
		state = &models.StoreRotationState{StoreId: storeId, NextGroupId: &groupId}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return state, nil
}

// StoreRotationRow is the management view of one store's rotation status.
type StoreRotationRow struct {
	StoreId         int     `json:"store_id"`
	StoreName       string  `json:"store_name"`
	NextGroupId     *int    `json:"next_group_id"`
	NextGroupName   *string `json:"next_group_name"`
	ForcedGroupId   *int    `json:"forced_group_id"`
	ForcedGroupName *string `json:"forced_group_name"`
	ForcedReason    *string `json:"forced_reason"`
}

// ListStoresWithRotation builds the manager rotation overview.
func ListStoresWithRotation(ctx context.Context) ([]*StoreRotationRow, error) {
	db := config.GetDB().WithContext(ctx)

	stores, err := models.GetActiveStores(ctx)
	if err != nil {
		return nil, err
	}
	groups, err := models.ActiveGroupsInRotationOrder(db)
	if err != nil {
		return nil, err
	}
	groupNameById := make(map[int]string, len(groups))
	for _, g := range groups {
		groupNameById[g.ID] = g.Name
	}

	rows := make([]*StoreRotationRow, 0, len(stores))
	for _, store := range stores {
		row := &StoreRotationRow{StoreId: store.ID, StoreName: store.Name}

		state, err := models.GetRotationState(db, store.ID)
		if err != nil {
			return nil, err
		}
		if state != nil && state.NextGroupId != nil {
			row.NextGroupId = state.NextGroupId
			if name, ok := groupNameById[*state.NextGroupId]; ok {
				row.NextGroupName = &name
			}
		}

		forced, err := models.NextPendingForcedCount(db, store.ID)
		if err != nil {
			return nil, err
		}
		if forced != nil {
			row.ForcedGroupId = &forced.CountGroupId
			if name, ok := groupNameById[forced.CountGroupId]; ok {
				row.ForcedGroupName = &name
			}
			row.ForcedReason = &forced.Reason
		}
		rows = append(rows, row)
	}
	return rows, nil
}
