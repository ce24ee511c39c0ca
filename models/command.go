package models

import "time"

// CommandRecord is one caller write intent (answer a question, approve a
// claim line, push an inventory delta). Duplicate submissions collapse onto
// the first record via the (seller_id, connection_id, idempotency_key)
// unique index.
type CommandRecord struct {
	ID             string        `gorm:"primaryKey;size:36" json:"id"`
	SellerId       string        `gorm:"size:64;not null;index:uniq_command,unique,priority:1" json:"seller_id"`
	ConnectionId   uint          `gorm:"not null;index:uniq_command,unique,priority:2" json:"connection_id"`
	IdempotencyKey string        `gorm:"size:128;not null;index:uniq_command,unique,priority:3" json:"idempotency_key"`
	Type           JobType       `gorm:"size:32;not null" json:"type"`
	Status         CommandStatus `gorm:"size:20;not null;index" json:"status"`
	RequestJSON    []byte        `gorm:"type:json" json:"request"`
	ResponseJSON   []byte        `gorm:"type:json" json:"response"`
	JobId          *string       `gorm:"size:36;index" json:"job_id"`
	LastError      *string       `gorm:"type:text" json:"last_error"`
	CreatedAt      time.Time     `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time     `gorm:"autoUpdateTime" json:"updated_at"`
}
