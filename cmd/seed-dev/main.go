// seed-dev inserts a minimal development data set: one store, four demo
// campaigns grouped one-per-group, a rotation pointer at the first group,
// and two logins (manager/managerpass, store1/storepass).
//
// Safe to rerun: every insert is existence-checked first.
//
// Usage (from backend directory):
//
//	DB_USER=... DB_PASSWORD=... DB_HOST=... DB_PORT=... DB_NAME=... go run ./cmd/seed-dev
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/emberpeak/countflow_backend/config"
	"github.com/emberpeak/countflow_backend/models"
	"github.com/emberpeak/countflow_backend/utils"
	"gorm.io/gorm"
)

const (
	storeName       = "Downtown"
	managerUsername = "manager"
	managerPassword = "managerpass"
	storeUsername   = "store1"
	storePassword   = "storepass"
)

var demoCampaignLabels = []string{
	"Latte rotation",
	"Cold Brew rotation",
	"Mocha rotation",
	"Espresso rotation",
}

func main() {
	ctx := context.Background()
	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized (config.GetDB returned nil). Set DB_* env vars.")
		os.Exit(1)
	}
	models.MigrateTable()

	store, err := ensureStore(ctx, db)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to seed store: %v\n", err)
		os.Exit(1)
	}

	campaigns, err := ensureCampaigns(ctx, db)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to seed campaigns: %v\n", err)
		os.Exit(1)
	}

	firstGroupId, err := ensureGroups(ctx, db, campaigns)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to seed count groups: %v\n", err)
		os.Exit(1)
	}

	if err := ensureRotation(ctx, db, store.ID, firstGroupId); err != nil {
		fmt.Fprintf(os.Stderr, "failed to seed rotation pointer: %v\n", err)
		os.Exit(1)
	}

	if err := ensurePrincipal(ctx, db, managerUsername, managerPassword, models.PrincipalRoleManager, nil); err != nil {
		fmt.Fprintf(os.Stderr, "failed to seed manager login: %v\n", err)
		os.Exit(1)
	}
	if err := ensurePrincipal(ctx, db, storeUsername, storePassword, models.PrincipalRoleStore, &store.ID); err != nil {
		fmt.Fprintf(os.Stderr, "failed to seed store login: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("Seed data inserted/verified.")
}

func ensureStore(ctx context.Context, db *gorm.DB) (*models.Store, error) {
	var store models.Store
	err := db.WithContext(ctx).Where("name = ?", storeName).First(&store).Error
	if err == nil {
		return &store, nil
	}
	if err != gorm.ErrRecordNotFound {
		return nil, err
	}
	store = models.Store{
		Name:          storeName,
		PosLocationId: "LOC-MOCK-001",
		IsActive:      utils.NewTrue(),
	}
	if err := db.WithContext(ctx).Create(&store).Error; err != nil {
		return nil, err
	}
	return &store, nil
}

func ensureCampaigns(ctx context.Context, db *gorm.DB) ([]*models.Campaign, error) {
	campaigns, err := models.GetActiveCampaigns(ctx)
	if err != nil {
		return nil, err
	}
	if len(campaigns) > 0 {
		return campaigns, nil
	}
	for _, label := range demoCampaignLabels {
		campaign := models.Campaign{
			Label:          label,
			CategoryFilter: label,
			IsActive:       utils.NewTrue(),
		}
		if err := db.WithContext(ctx).Create(&campaign).Error; err != nil {
			return nil, err
		}
	}
	return models.GetActiveCampaigns(ctx)
}

// ensureGroups creates one group per campaign (up to four) and returns the
// id of the first group in rotation order.
func ensureGroups(ctx context.Context, db *gorm.DB, campaigns []*models.Campaign) (int, error) {
	groups, err := models.ActiveGroupsInRotationOrder(db.WithContext(ctx))
	if err != nil {
		return 0, err
	}
	if len(groups) > 0 {
		return groups[0].ID, nil
	}

	max := len(campaigns)
	if max > 4 {
		max = 4
	}
	for i := 0; i < max; i++ {
		campaign := campaigns[i]
		group := models.CountGroup{
			Name:     campaign.DisplayLabel(),
			Position: i,
			IsActive: utils.NewTrue(),
		}
		if err := db.WithContext(ctx).Create(&group).Error; err != nil {
			return 0, err
		}
		mapping := models.CountGroupCampaign{GroupId: group.ID, CampaignId: campaign.ID}
		if err := db.WithContext(ctx).Create(&mapping).Error; err != nil {
			return 0, err
		}
	}

	groups, err = models.ActiveGroupsInRotationOrder(db.WithContext(ctx))
	if err != nil {
		return 0, err
	}
	if len(groups) == 0 {
		return 0, fmt.Errorf("no active groups after seeding")
	}
	return groups[0].ID, nil
}

func ensureRotation(ctx context.Context, db *gorm.DB, storeId int, firstGroupId int) error {
	var state models.StoreRotationState
	err := db.WithContext(ctx).Where("store_id = ?", storeId).First(&state).Error
	if err == gorm.ErrRecordNotFound {
		state = models.StoreRotationState{
			StoreId:     storeId,
			NextGroupId: &firstGroupId,
		}
		return db.WithContext(ctx).Create(&state).Error
	}
	if err != nil {
		return err
	}
	if state.NextGroupId == nil {
		return db.WithContext(ctx).Model(&models.StoreRotationState{}).
			Where("store_id = ?", storeId).
			Update("next_group_id", firstGroupId).Error
	}
	return nil
}

func ensurePrincipal(ctx context.Context, db *gorm.DB, username, password string, role models.PrincipalRole, storeId *int) error {
	var existing models.Principal
	err := db.WithContext(ctx).Where("username = ?", username).First(&existing).Error
	if err == nil {
		return nil
	}
	if err != gorm.ErrRecordNotFound {
		return err
	}
	hashed, err := utils.HashPassword(password)
	if err != nil {
		return err
	}
	_, err = models.CreatePrincipal(ctx, &models.Principal{
		Username:     username,
		PasswordHash: hashed,
		Role:         role,
		StoreId:      storeId,
		IsActive:     utils.NewTrue(),
	})
	return err
}
