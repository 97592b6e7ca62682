package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// StoreRecountState tracks the variance convergence loop for one store.
// While active, the next generated session carries a RECOUNT section built
// from the items below; two consecutive submits with the same variance
// signature resolve the loop.
type StoreRecountState struct {
	StoreId       int       `gorm:"primaryKey" json:"store_id"`
	IsActive      *bool     `gorm:"not null;default:false" json:"is_active"`
	Signature     string    `gorm:"size:64" json:"signature"`
	Rounds        int       `gorm:"not null;default:0" json:"rounds"`
	LastSessionId *int      `json:"last_session_id"`
	UpdatedAt     time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// StoreRecountItem is one variation carried into the next recount round.
type StoreRecountItem struct {
	ID            int             `gorm:"primary_key" json:"id"`
	StoreId       int             `gorm:"not null;index:idx_recount_store_variation,unique" json:"store_id"`
	VariationId   string          `gorm:"size:100;not null;index:idx_recount_store_variation,unique" json:"variation_id"`
	Sku           string          `gorm:"size:100" json:"sku"`
	ItemName      string          `gorm:"size:255;not null" json:"item_name"`
	VariationName string          `gorm:"size:255" json:"variation_name"`
	Variance      decimal.Decimal `gorm:"type:decimal(14,3);not null" json:"variance"`
	CreatedAt     time.Time       `gorm:"autoCreateTime" json:"created_at"`
}

func GetRecountState(tx *gorm.DB, storeId int) (*StoreRecountState, error) {
	var state StoreRecountState
	err := tx.Where("store_id = ?", storeId).First(&state).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &state, nil
}

func GetRecountItems(tx *gorm.DB, storeId int) ([]*StoreRecountItem, error) {
	var items []*StoreRecountItem
	err := tx.Where("store_id = ?", storeId).
		Order("item_name ASC, variation_id ASC").
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

// ReplaceRecountItems swaps the store's carried-over set atomically within
// the caller's transaction.
func ReplaceRecountItems(tx *gorm.DB, storeId int, items []*StoreRecountItem) error {
	if err := tx.Where("store_id = ?", storeId).Delete(&StoreRecountItem{}).Error; err != nil {
		return err
	}
	for _, item := range items {
		item.ID = 0
		item.StoreId = storeId
		if err := tx.Create(item).Error; err != nil {
			return err
		}
	}
	return nil
}

// ClearRecountState resolves the loop: state row reset, carried items gone.
// The resolving session is kept on the row for the management view.
func ClearRecountState(tx *gorm.DB, storeId int, sessionId int) error {
	inactive := false
	err := tx.Save(&StoreRecountState{
		StoreId:       storeId,
		IsActive:      &inactive,
		Rounds:        0,
		LastSessionId: &sessionId,
	}).Error
	if err != nil {
		return err
	}
	return tx.Where("store_id = ?", storeId).Delete(&StoreRecountItem{}).Error
}
