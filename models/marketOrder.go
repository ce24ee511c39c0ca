package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// MarketOrder is a landed marketplace order row written by the orders
// executor. Upserts are keyed by (connection_id, external_id) so re-running
// an already-applied window is a no-op at the effect layer.
type MarketOrder struct {
	ID           uint            `gorm:"primary_key" json:"id"`
	SellerId     string          `gorm:"index;size:64;not null" json:"seller_id"`
	ConnectionId uint            `gorm:"not null;index:uniq_market_order,unique,priority:1" json:"connection_id"`
	ExternalId   string          `gorm:"size:128;not null;index:uniq_market_order,unique,priority:2" json:"external_id"`
	OrderNumber  string          `gorm:"size:100" json:"order_number"`
	OrderStatus  string          `gorm:"size:32" json:"order_status"`
	BuyerName    string          `gorm:"size:255" json:"buyer_name"`
	TotalAmount  decimal.Decimal `gorm:"type:decimal(20,4)" json:"total_amount"`
	Currency     string          `gorm:"size:8" json:"currency"`
	OrderedAt    *time.Time      `json:"ordered_at"`
	PayloadJSON  []byte          `gorm:"type:json" json:"payload"`
	CreatedAt    time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}
