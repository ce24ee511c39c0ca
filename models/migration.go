package models

import (
	"log"

	"bitbucket.org/mmdatafocus/marketsync_backend/config"
)

// MigrateTable runs AutoMigrate for every table this service owns.
// Skipped on startup when SKIP_MIGRATIONS=true.
func MigrateTable() {
	db := config.GetDB()
	if db == nil {
		log.Println("migrate: db is nil; skipping")
		return
	}
	err := db.AutoMigrate(
		&User{},
		&MarketConnection{},
		&SyncJob{},
		&CommandRecord{},
		&WebhookEvent{},
		&MarketOrder{},
	)
	if err != nil {
		log.Printf("migrate: %v", err)
	}
}
