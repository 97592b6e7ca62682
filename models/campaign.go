package models

import (
	"context"
	"time"

	"github.com/emberpeak/countflow_backend/config"
	"github.com/emberpeak/countflow_backend/utils"
)

// Campaign is a catalog filter (category/brand) describing one slice of the
// catalog to be counted. Campaigns are store-independent.
type Campaign struct {
	ID             int       `gorm:"primary_key" json:"id"`
	Label          string    `gorm:"size:200;not null" json:"label" binding:"required"`
	CategoryFilter string    `gorm:"size:200" json:"category_filter"`
	BrandFilter    string    `gorm:"size:200" json:"brand_filter"`
	IsActive       *bool     `gorm:"not null;default:true" json:"is_active"`
	CreatedAt      time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// DisplayLabel prefers the category filter, matching how count sheets are
// titled for store staff.
func (c *Campaign) DisplayLabel() string {
	if c.CategoryFilter != "" {
		return c.CategoryFilter
	}
	return c.Label
}

func GetCampaign(ctx context.Context, id int) (*Campaign, error) {
	db := config.GetDB()
	var result Campaign

	err := db.WithContext(ctx).Where("is_active = ?", true).First(&result, id).Error
	if err != nil {
		return nil, utils.ErrorRecordNotFound
	}
	return &result, nil
}

func GetActiveCampaigns(ctx context.Context) ([]*Campaign, error) {
	db := config.GetDB()
	var results []*Campaign

	err := db.WithContext(ctx).Where("is_active = ?", true).Order("id ASC").Find(&results).Error
	if err != nil {
		return nil, err
	}
	return results, nil
}
