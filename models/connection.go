package models

import "time"

// MarketConnection is one seller's credential/config bundle for the marketplace.
type MarketConnection struct {
	ID              uint       `gorm:"primary_key" json:"id"`
	SellerId        string     `gorm:"index;size:64;not null" json:"seller_id"`
	Provider        string     `gorm:"index;size:50;not null" json:"provider"`
	Status          string     `gorm:"size:20;not null" json:"status"`
	AuthType        string     `gorm:"size:20" json:"auth_type"`
	AuthSecretRef   string     `gorm:"type:text" json:"auth_secret_ref"`
	StoreId         string     `gorm:"size:100" json:"store_id"`
	StoreName       string     `gorm:"size:255" json:"store_name"`
	SettingsJSON    []byte     `gorm:"type:json" json:"settings"`
	CheckpointsJSON []byte     `gorm:"type:json" json:"checkpoints"`
	LastSyncAt      *time.Time `json:"last_sync_at"`
	CreatedAt       time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// User is the minimal account record the session middleware resolves.
type User struct {
	ID        int       `gorm:"primary_key" json:"id"`
	Username  string    `gorm:"uniqueIndex;size:100;not null" json:"username"`
	SellerId  string    `gorm:"index;size:64;not null" json:"seller_id"`
	Role      string    `gorm:"size:20" json:"role"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

const UserRoleAdmin = "admin"
