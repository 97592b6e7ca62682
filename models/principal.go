package models

import (
	"context"
	"errors"
	"time"

	"github.com/emberpeak/countflow_backend/config"
	"github.com/emberpeak/countflow_backend/utils"
)

// Principal is an authenticated actor: a store login or a management user.
//
// Invariant: role STORE <=> StoreId present; global roles carry no store.
type Principal struct {
	ID           int           `gorm:"primary_key" json:"id"`
	Username     string        `gorm:"size:100;uniqueIndex;not null" json:"username" binding:"required"`
	PasswordHash string        `gorm:"size:255;not null" json:"-"`
	Role         PrincipalRole `gorm:"size:10;not null" json:"role"`
	StoreId      *int          `gorm:"index" json:"store_id"`
	IsActive     *bool         `gorm:"not null;default:true" json:"is_active"`
	CreatedAt    time.Time     `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time     `gorm:"autoUpdateTime" json:"updated_at"`
}

func (p *Principal) validateScope() error {
	if p.Role == PrincipalRoleStore && p.StoreId == nil {
		return errors.New("store principals require a store")
	}
	if p.Role != PrincipalRoleStore && p.StoreId != nil {
		return errors.New("global principals must not carry a store")
	}
	return nil
}

func CreatePrincipal(ctx context.Context, principal *Principal) (*Principal, error) {
	if err := principal.validateScope(); err != nil {
		return nil, err
	}

	db := config.GetDB()
	if err := db.WithContext(ctx).Create(principal).Error; err != nil {
		return nil, err
	}
	return principal, nil
}

func GetPrincipal(ctx context.Context, id int) (*Principal, error) {
	db := config.GetDB()
	var result Principal

	err := db.WithContext(ctx).Where("is_active = ?", true).First(&result, id).Error
	if err != nil {
		return nil, utils.ErrorRecordNotFound
	}
	return &result, nil
}

func GetPrincipalByUsername(ctx context.Context, username string) (*Principal, error) {
	db := config.GetDB()
	var result Principal

	err := db.WithContext(ctx).
		Where("username = ? AND is_active = ?", username, true).
		First(&result).Error
	if err != nil {
		return nil, utils.ErrorRecordNotFound
	}
	return &result, nil
}

// AssertStoreScope enforces the store-ownership rule: STORE-role principals
// may only touch their own store; global roles pass through.
func AssertStoreScope(ctx context.Context, targetStoreId int) error {
	role, ok := utils.GetPrincipalRoleFromContext(ctx)
	if !ok {
		return utils.ErrorForbidden
	}
	if PrincipalRole(role) != PrincipalRoleStore {
		return nil
	}
	storeId, ok := utils.GetStoreIdFromContext(ctx)
	if !ok || storeId != targetStoreId {
		return utils.ErrorForbidden
	}
	return nil
}
