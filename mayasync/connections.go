package mayasync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"bitbucket.org/mmdatafocus/marketsync_backend/mayamall"
	"bitbucket.org/mmdatafocus/marketsync_backend/models"
	"gorm.io/gorm"
)

// CheckpointState maps operation kind -> RFC3339 end of the last successful
// window. The planner's lastSuccessAt comes from here.
type CheckpointState map[string]string

func DecodeCheckpoints(raw []byte) CheckpointState {
	if len(raw) == 0 {
		return CheckpointState{}
	}
	var state CheckpointState
	if err := json.Unmarshal(raw, &state); err != nil {
		return CheckpointState{}
	}
	return state
}

func EncodeCheckpoints(state CheckpointState) []byte {
	b, _ := json.Marshal(state)
	return b
}

// OperationConfig is everything a worker needs before the window loop:
// the connection row and a ready marketplace client.
type OperationConfig struct {
	Connection models.MarketConnection
	Client     *mayamall.Client
}

// ConfigLoader resolves a connection id to an OperationConfig. Failures are
// always fatal for the job: credentials do not self-heal.
type ConfigLoader interface {
	LoadConfig(ctx context.Context, connectionId uint) (*OperationConfig, error)
}

// ConnectionStore owns the MarketConnection rows and their sync checkpoints.
type ConnectionStore struct {
	db *gorm.DB
}

func NewConnectionStore(db *gorm.DB) *ConnectionStore {
	return &ConnectionStore{db: db}
}

func (s *ConnectionStore) GetForSeller(ctx context.Context, sellerId string) (*models.MarketConnection, error) {
	var conn models.MarketConnection
	err := s.db.WithContext(ctx).
		Where("seller_id = ? AND provider = ?", sellerId, models.MarketProviderMayaMall).
		Take(&conn).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &conn, nil
}

func (s *ConnectionStore) GetByID(ctx context.Context, connectionId uint) (*models.MarketConnection, error) {
	var conn models.MarketConnection
	err := s.db.WithContext(ctx).Where("id = ?", connectionId).Take(&conn).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &conn, nil
}

// ListConnected returns every connection eligible for scheduled syncs.
func (s *ConnectionStore) ListConnected(ctx context.Context) ([]models.MarketConnection, error) {
	var conns []models.MarketConnection
	err := s.db.WithContext(ctx).
		Where("provider = ? AND status = ?", models.MarketProviderMayaMall, models.ConnectionStatusConnected).
		Order("id").
		Find(&conns).Error
	return conns, err
}

// GetByStoreID resolves the connection a provider webhook belongs to.
func (s *ConnectionStore) GetByStoreID(ctx context.Context, storeId string) (*models.MarketConnection, error) {
	if storeId == "" {
		return nil, nil
	}
	var conn models.MarketConnection
	err := s.db.WithContext(ctx).
		Where("store_id = ? AND provider = ?", storeId, models.MarketProviderMayaMall).
		Take(&conn).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &conn, nil
}

// LoadConfig implements ConfigLoader.
func (s *ConnectionStore) LoadConfig(ctx context.Context, connectionId uint) (*OperationConfig, error) {
	conn, err := s.GetByID(ctx, connectionId)
	if err != nil {
		return nil, err
	}
	if conn == nil {
		return nil, fmt.Errorf("connection %d not found", connectionId)
	}
	if conn.Status != models.ConnectionStatusConnected {
		return nil, fmt.Errorf("connection %d is %s, not connected", connectionId, conn.Status)
	}
	client, err := mayamall.NewClient(conn.AuthSecretRef)
	if err != nil {
		return nil, err
	}
	return &OperationConfig{Connection: *conn, Client: client}, nil
}

// LastSuccessAt returns the checkpoint for one operation kind, nil on first run.
func (s *ConnectionStore) LastSuccessAt(conn *models.MarketConnection, jobType models.JobType) *time.Time {
	state := DecodeCheckpoints(conn.CheckpointsJSON)
	raw, ok := state[string(jobType)]
	if !ok {
		return nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil
	}
	return &t
}

// Advance moves the checkpoint for one operation kind forward to the end of
// the window that just succeeded. Single-row update; monotonic because only
// one job per connection is ever in flight.
func (s *ConnectionStore) Advance(ctx context.Context, connectionId uint, jobType models.JobType, at time.Time) error {
	conn, err := s.GetByID(ctx, connectionId)
	if err != nil {
		return err
	}
	if conn == nil {
		return fmt.Errorf("connection %d not found", connectionId)
	}

	state := DecodeCheckpoints(conn.CheckpointsJSON)
	state[string(jobType)] = at.UTC().Format(time.RFC3339)

	now := time.Now()
	return s.db.WithContext(ctx).
		Model(&models.MarketConnection{}).
		Where("id = ?", connectionId).
		Updates(map[string]interface{}{
			"checkpoints_json": EncodeCheckpoints(state),
			"last_sync_at":     now,
		}).Error
}
