package models

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/emberpeak/countflow_backend/config"
	"github.com/emberpeak/countflow_backend/utils"
	"gorm.io/gorm"
)

// CountGroup is an ordered bundle of campaigns representing one rotation
// turn. Position drives the cyclic ordering.
type CountGroup struct {
	ID        int       `gorm:"primary_key" json:"id"`
	Name      string    `gorm:"size:100;uniqueIndex;not null" json:"name" binding:"required"`
	Position  int       `gorm:"not null;default:0;index" json:"position"`
	IsActive  *bool     `gorm:"not null;default:true" json:"is_active"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

type CountGroupCampaign struct {
	GroupId    int       `gorm:"primaryKey" json:"group_id"`
	CampaignId int       `gorm:"primaryKey" json:"campaign_id"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
}

type CountGroupRow struct {
	GroupId       int      `json:"group_id"`
	GroupName     string   `json:"group_name"`
	Position      int      `json:"position"`
	CampaignIds   []int    `json:"campaign_ids"`
	CampaignNames []string `json:"campaign_names"`
}

const countGroupListCacheKey = "countGroups:activeList"

// ActiveGroupsInRotationOrder returns active groups that have at least one
// active campaign, ordered by position then id. Groups without an active
// campaign are invisible to rotation. This always reads the database so a
// group added or deactivated takes effect on the very next generation.
func ActiveGroupsInRotationOrder(tx *gorm.DB) ([]*CountGroup, error) {
	var groups []*CountGroup
	err := tx.Model(&CountGroup{}).
		Joins("JOIN count_group_campaigns ON count_group_campaigns.group_id = count_groups.id").
		Joins("JOIN campaigns ON campaigns.id = count_group_campaigns.campaign_id").
		Where("count_groups.is_active = ? AND campaigns.is_active = ?", true, true).
		Group("count_groups.id").
		Order("count_groups.position ASC, count_groups.id ASC").
		Find(&groups).Error
	if err != nil {
		return nil, err
	}
	return groups, nil
}

// ActiveCampaignsForGroup resolves the group's member campaigns, active only.
func ActiveCampaignsForGroup(tx *gorm.DB, groupId int) ([]*Campaign, error) {
	var campaigns []*Campaign
	err := tx.Model(&Campaign{}).
		Joins("JOIN count_group_campaigns ON count_group_campaigns.campaign_id = campaigns.id").
		Where("count_group_campaigns.group_id = ? AND campaigns.is_active = ?", groupId, true).
		Order("campaigns.id ASC").
		Find(&campaigns).Error
	if err != nil {
		return nil, err
	}
	return campaigns, nil
}

// ActiveGroupForCampaign maps a campaign to its owning active group, if any.
func ActiveGroupForCampaign(tx *gorm.DB, campaignId int) (int, error) {
	var groupId int
	err := tx.Model(&CountGroupCampaign{}).
		Joins("JOIN count_groups ON count_groups.id = count_group_campaigns.group_id").
		Where("count_group_campaigns.campaign_id = ? AND count_groups.is_active = ?", campaignId, true).
		Select("count_group_campaigns.group_id").
		Limit(1).
		Scan(&groupId).Error
	if err != nil {
		return 0, err
	}
	return groupId, nil
}

func CreateCountGroup(ctx context.Context, name string, campaignIds []int) (*CountGroup, error) {
	cleanName := strings.TrimSpace(name)
	if cleanName == "" {
		return nil, errors.New("group name is required")
	}
	if len(campaignIds) == 0 {
		return nil, errors.New("select at least one campaign")
	}

	db := config.GetDB()
	var group CountGroup
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&CountGroup{}).Where("name = ?", cleanName).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return errors.New("group name already exists")
		}

		var maxPosition *int
		if err := tx.Model(&CountGroup{}).Select("MAX(position)").Scan(&maxPosition).Error; err != nil {
			return err
		}
		position := 0
		if maxPosition != nil {
			position = *maxPosition + 1
		}

		active := true
		group = CountGroup{Name: cleanName, Position: position, IsActive: &active}
		if err := tx.Create(&group).Error; err != nil {
			return err
		}

		// A campaign belongs to one group only: move the selected campaigns
		// out of any previous group into this one.
		if err := tx.Where("campaign_id IN ?", campaignIds).Delete(&CountGroupCampaign{}).Error; err != nil {
			return err
		}
		for _, campaignId := range campaignIds {
			if err := tx.Create(&CountGroupCampaign{GroupId: group.ID, CampaignId: campaignId}).Error; err != nil {
				return err
			}
		}

		return RecordAudit(tx, AuditActionCountGroupCreated, nil, map[string]interface{}{
			"group_id": group.ID, "name": cleanName, "campaign_ids": campaignIds,
		})
	})
	if err != nil {
		return nil, err
	}
	invalidateCountGroupCache()
	return &group, nil
}

func UpdateCountGroup(ctx context.Context, groupId int, name string, campaignIds []int) (*CountGroup, error) {
	cleanName := strings.TrimSpace(name)
	if cleanName == "" {
		return nil, errors.New("group name is required")
	}
	if len(campaignIds) == 0 {
		return nil, errors.New("select at least one campaign")
	}

	db := config.GetDB()
	var group CountGroup
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("id = ? AND is_active = ?", groupId, true).First(&group).Error; err != nil {
			return utils.ErrorRecordNotFound
		}

		var conflicts int64
		if err := tx.Model(&CountGroup{}).Where("name = ? AND id <> ?", cleanName, groupId).Count(&conflicts).Error; err != nil {
			return err
		}
		if conflicts > 0 {
			return errors.New("group name already exists")
		}

		if err := tx.Model(&group).Update("name", cleanName).Error; err != nil {
			return err
		}

		// Keep the one-group-per-campaign invariant: detach the selected
		// campaigns everywhere, drop this group's old set, re-attach.
		if err := tx.Where("campaign_id IN ?", campaignIds).Delete(&CountGroupCampaign{}).Error; err != nil {
			return err
		}
		if err := tx.Where("group_id = ?", groupId).Delete(&CountGroupCampaign{}).Error; err != nil {
			return err
		}
		for _, campaignId := range campaignIds {
			if err := tx.Create(&CountGroupCampaign{GroupId: groupId, CampaignId: campaignId}).Error; err != nil {
				return err
			}
		}

		return RecordAudit(tx, AuditActionCountGroupUpdated, nil, map[string]interface{}{
			"group_id": groupId, "name": cleanName, "campaign_ids": campaignIds,
		})
	})
	if err != nil {
		return nil, err
	}
	invalidateCountGroupCache()
	return &group, nil
}

// DeactivateCountGroup removes the group from rotation immediately: campaign
// mappings are dropped, stale rotation pointers are cleared, and pending
// forced counts targeting the group are cancelled.
func DeactivateCountGroup(ctx context.Context, groupId int) (*CountGroup, error) {
	db := config.GetDB()
	var group CountGroup
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("id = ? AND is_active = ?", groupId, true).First(&group).Error; err != nil {
			return utils.ErrorRecordNotFound
		}

		if err := tx.Model(&group).Update("is_active", false).Error; err != nil {
			return err
		}
		if err := tx.Where("group_id = ?", groupId).Delete(&CountGroupCampaign{}).Error; err != nil {
			return err
		}
		if err := tx.Model(&StoreRotationState{}).
			Where("next_group_id = ?", groupId).
			Update("next_group_id", nil).Error; err != nil {
			return err
		}
		now := time.Now().UTC()
		if err := tx.Model(&StoreForcedCount{}).
			Where("count_group_id = ? AND is_active = ? AND consumed_at IS NULL", groupId, true).
			Updates(map[string]interface{}{"is_active": false, "consumed_at": now}).Error; err != nil {
			return err
		}

		return RecordAudit(tx, AuditActionCountGroupDeactivated, nil, map[string]interface{}{
			"group_id": groupId,
		})
	})
	if err != nil {
		return nil, err
	}
	invalidateCountGroupCache()
	return &group, nil
}

// RenumberCountGroupPositions compacts positions to 0..n-1 in rotation order.
func RenumberCountGroupPositions(ctx context.Context) (int, error) {
	db := config.GetDB()
	changed := 0
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var groups []*CountGroup
		if err := tx.Where("is_active = ?", true).
			Order("position ASC, id ASC").Find(&groups).Error; err != nil {
			return err
		}
		for idx, group := range groups {
			if group.Position != idx {
				if err := tx.Model(group).Update("position", idx).Error; err != nil {
					return err
				}
				changed++
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	if changed > 0 {
		invalidateCountGroupCache()
	}
	return changed, nil
}

// ListCountGroups returns the management listing. The listing (not the
// rotation selection path) is cached in redis and invalidated by every
// group mutation above.
func ListCountGroups(ctx context.Context) ([]*CountGroupRow, error) {
	var rows []*CountGroupRow
	if found, err := config.GetRedisObject(countGroupListCacheKey, &rows); err == nil && found {
		return rows, nil
	}

	db := config.GetDB()
	var groups []*CountGroup
	if err := db.WithContext(ctx).Where("is_active = ?", true).
		Order("position ASC, id ASC").Find(&groups).Error; err != nil {
		return nil, err
	}

	rows = make([]*CountGroupRow, 0, len(groups))
	for _, group := range groups {
		campaigns, err := ActiveCampaignsForGroup(db.WithContext(ctx), group.ID)
		if err != nil {
			return nil, err
		}
		row := &CountGroupRow{GroupId: group.ID, GroupName: group.Name, Position: group.Position}
		for _, c := range campaigns {
			row.CampaignIds = append(row.CampaignIds, c.ID)
			row.CampaignNames = append(row.CampaignNames, c.DisplayLabel())
		}
		rows = append(rows, row)
	}

	if err := config.SetRedisObject(countGroupListCacheKey, &rows, time.Minute); err != nil {
		config.LogError(config.GetLogger(), "countGroup.go", "ListCountGroups", "SetRedisObject", countGroupListCacheKey, err)
	}
	return rows, nil
}

func invalidateCountGroupCache() {
	if err := config.DeleteRedisKeys(countGroupListCacheKey); err != nil {
		config.LogError(config.GetLogger(), "countGroup.go", "invalidateCountGroupCache", "DeleteRedisKeys", countGroupListCacheKey, err)
	}
}
