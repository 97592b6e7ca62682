package models

import (
	"context"
	"time"

	"github.com/emberpeak/countflow_backend/config"
	"github.com/emberpeak/countflow_backend/utils"
)

type Store struct {
	ID            int       `gorm:"primary_key" json:"id"`
	Name          string    `gorm:"size:100;not null" json:"name" binding:"required"`
	PosLocationId string    `gorm:"size:64;index" json:"pos_location_id"`
	IsActive      *bool     `gorm:"not null;default:true" json:"is_active"`
	CreatedAt     time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func GetStore(ctx context.Context, id int) (*Store, error) {
	db := config.GetDB()
	var result Store

	err := db.WithContext(ctx).Where("is_active = ?", true).First(&result, id).Error
	if err != nil {
		return nil, utils.ErrorRecordNotFound
	}
	return &result, nil
}

func GetActiveStores(ctx context.Context) ([]*Store, error) {
	db := config.GetDB()
	var results []*Store

	err := db.WithContext(ctx).Where("is_active = ?", true).Order("name ASC").Find(&results).Error
	if err != nil {
		return nil, err
	}
	return results, nil
}
