package models

import (
	"log"

	"github.com/emberpeak/countflow_backend/config"
)

func MigrateTable() {
	db := config.GetDB()

	err := db.AutoMigrate(
		&Store{}, &Principal{},
		&Campaign{}, &CountGroup{}, &CountGroupCampaign{},
		&CountSession{}, &SnapshotLine{},
		&StoreRotationState{}, &StoreForcedCount{},
		&StoreRecountState{}, &StoreRecountItem{},
		&AuditLog{}, &PubSubMessageRecord{},
	)
	if err != nil {
		log.Fatal(err)
	}
}
