package config

import (
	"os"
	"strings"
)

// SnapshotProviderName selects the catalog/on-hand source.
//
// Set via env:
// - SNAPSHOT_PROVIDER=mock (default) | square
func SnapshotProviderName() string {
	v := strings.ToLower(strings.TrimSpace(os.Getenv("SNAPSHOT_PROVIDER")))
	if v == "" {
		return "mock"
	}
	return v
}

// OutboxDispatchEnabled controls the background publisher for confirmed
// inventory-update events.
//
// Set via env:
// - OUTBOX_DISPATCH_ENABLED=true
func OutboxDispatchEnabled() bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv("OUTBOX_DISPATCH_ENABLED")))
	return v == "1" || v == "true" || v == "yes" || v == "y"
}

// AutoMigrateEnabled runs gorm AutoMigrate on startup.
//
// Set via env:
// - DB_AUTO_MIGRATE=true
func AutoMigrateEnabled() bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv("DB_AUTO_MIGRATE")))
	return v == "1" || v == "true" || v == "yes" || v == "y"
}
