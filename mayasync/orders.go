package mayasync

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/marketsync_backend/models"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type mayaOrder struct {
	ID          string      `json:"id"`
	OrderNumber string      `json:"order_number"`
	Status      string      `json:"status"`
	BuyerName   string      `json:"buyer_name"`
	TotalAmount json.Number `json:"total_amount"`
	Currency    string      `json:"currency"`
	OrderedAt   string      `json:"ordered_at"`
}

// OrdersExecutor pulls orders for one window and lands them as MarketOrder
// rows. Upserts are keyed by (connection_id, external_id) so replaying an
// already-applied window changes nothing.
type OrdersExecutor struct {
	db *gorm.DB
}

func NewOrdersExecutor(db *gorm.DB) *OrdersExecutor {
	return &OrdersExecutor{db: db}
}

func (e *OrdersExecutor) Execute(ctx context.Context, job *models.SyncJob, cfg *OperationConfig, window Window) (SummaryFragment, error) {
	frag := SummaryFragment{}
	cursor := ""
	for {
		page, next, err := fetchListPage(ctx, cfg, "/v1/orders", window, cursor)
		if err != nil {
			return frag, err
		}

		for _, raw := range page {
			frag.Fetched++
			var ord mayaOrder
			if err := json.Unmarshal(raw, &ord); err != nil {
				frag.Skipped++
				continue
			}
			extID := strings.TrimSpace(ord.ID)
			if extID == "" {
				frag.Skipped++
				continue
			}

			row := models.MarketOrder{
				SellerId:     job.SellerId,
				ConnectionId: job.ConnectionId,
				ExternalId:   extID,
				OrderNumber:  strings.TrimSpace(ord.OrderNumber),
				OrderStatus:  strings.ToUpper(strings.TrimSpace(ord.Status)),
				BuyerName:    strings.TrimSpace(ord.BuyerName),
				TotalAmount:  decimalFromNumber(ord.TotalAmount),
				Currency:     strings.ToUpper(strings.TrimSpace(ord.Currency)),
				OrderedAt:    parseTimePtr(ord.OrderedAt),
				PayloadJSON:  raw,
			}
			err := e.db.WithContext(ctx).Clauses(clause.OnConflict{
				Columns: []clause.Column{{Name: "connection_id"}, {Name: "external_id"}},
				DoUpdates: clause.AssignmentColumns([]string{
					"order_number", "order_status", "buyer_name",
					"total_amount", "currency", "ordered_at", "payload_json",
				}),
			}).Create(&row).Error
			if err != nil {
				return frag, err
			}
			frag.Applied++
		}

		if next == "" {
			return frag, nil
		}
		cursor = next
	}
}

func decimalFromNumber(num json.Number) decimal.Decimal {
	if num.String() == "" {
		return decimal.Zero
	}
	if d, err := decimal.NewFromString(num.String()); err == nil {
		return d
	}
	return decimal.Zero
}

func parseTimePtr(value string) *time.Time {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return &t
	}
	return nil
}
