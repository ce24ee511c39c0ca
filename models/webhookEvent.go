package models

import "time"

// WebhookEvent records one externally delivered marketplace event. The
// event_key unique index makes repeat deliveries observable: the first
// delivery creates the row, later deliveries set dedup_hit and bump
// delivery_count without re-firing side effects.
type WebhookEvent struct {
	ID            uint      `gorm:"primary_key" json:"id"`
	EventKey      string    `gorm:"uniqueIndex;size:128;not null" json:"event_key"`
	SellerId      string    `gorm:"index;size:64" json:"seller_id"`
	ConnectionId  uint      `gorm:"index" json:"connection_id"`
	EventType     string    `gorm:"size:64" json:"event_type"`
	PayloadJSON   []byte    `gorm:"type:json" json:"payload"`
	DedupHit      bool      `gorm:"default:false" json:"dedup_hit"`
	DeliveryCount int       `gorm:"default:1" json:"delivery_count"`
	JobId         *string   `gorm:"size:36" json:"job_id"`
	CreatedAt     time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
