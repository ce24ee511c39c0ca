package mayasync

import (
	"encoding/json"
	"time"

	"bitbucket.org/mmdatafocus/marketsync_backend/models"
)

// SyncModules are the per-connection toggles for the pull operations.
type SyncModules struct {
	Orders      bool `json:"orders"`
	Claims      bool `json:"claims"`
	Qna         bool `json:"qna"`
	Settlements bool `json:"settlements"`
}

func DefaultModules() SyncModules {
	return SyncModules{
		Orders:      true,
		Claims:      true,
		Qna:         false,
		Settlements: false,
	}
}

func NormalizeModules(mod SyncModules) SyncModules {
	// Orders is the backbone of the integration and cannot be turned off.
	mod.Orders = true
	return mod
}

func DecodeModules(raw []byte) SyncModules {
	if len(raw) == 0 {
		return DefaultModules()
	}
	var mod SyncModules
	if err := json.Unmarshal(raw, &mod); err != nil {
		return DefaultModules()
	}
	return NormalizeModules(mod)
}

func EncodeModules(mod SyncModules) []byte {
	b, _ := json.Marshal(NormalizeModules(mod))
	return b
}

// Enabled reports whether the connection's settings allow the given pull kind.
func (m SyncModules) Enabled(t models.JobType) bool {
	switch t {
	case models.JobTypeSyncOrders:
		return m.Orders
	case models.JobTypeSyncClaims:
		return m.Claims
	case models.JobTypeSyncQna:
		return m.Qna
	case models.JobTypeSyncSettlements:
		return m.Settlements
	}
	// Write kinds are not gated by module toggles.
	return true
}

type ConnectRequest struct {
	StoreId   string `json:"storeId"`
	StoreName string `json:"storeName"`
	APIKey    string `json:"apiKey"`
}

type UpdateSettingsRequest struct {
	Modules SyncModules `json:"modules"`
}

type TriggerSyncRequest struct {
	Type   models.JobType  `json:"type"`
	Params json.RawMessage `json:"params"`
}

type AnswerQuestionRequest struct {
	QuestionId string `json:"questionId"`
	Answer     string `json:"answer"`
	Mode       string `json:"mode"`
}

type PushInventoryRequest struct {
	Items []PushInventoryItem `json:"items"`
}

type StatusResponse struct {
	Connection  ConnectionResponse `json:"connection"`
	LastSyncAt  *string            `json:"lastSyncAt"`
	Modules     SyncModules        `json:"modules"`
	Checkpoints CheckpointState    `json:"checkpoints"`
}

type ConnectionResponse struct {
	Status    string `json:"status"`
	StoreId   string `json:"storeId"`
	StoreName string `json:"storeName"`
}

// BusyResponse is returned with HTTP 409 when the connection lock is held.
type BusyResponse struct {
	Busy  bool   `json:"busy"`
	JobId string `json:"jobId,omitempty"`
}

// CommandResponse is the answer for a write intent. Mode is "queued" on the
// first submission and "idempotent" when the key collapsed onto an earlier
// record.
type CommandResponse struct {
	Mode           string          `json:"mode"`
	CommandId      string          `json:"commandId"`
	JobId          string          `json:"jobId,omitempty"`
	IdempotencyKey string          `json:"idempotencyKey"`
	Status         string          `json:"status"`
	Response       json.RawMessage `json:"response,omitempty"`
}

// WebhookAck is always 200: the provider only needs to know the delivery
// landed, dedup or not.
type WebhookAck struct {
	Accepted bool   `json:"accepted"`
	Dedup    bool   `json:"dedup"`
	EventKey string `json:"eventKey"`
}

type JobHistoryResponse struct {
	Items []JobResponse `json:"items"`
}

type JobResponse struct {
	ID          string          `json:"id"`
	Type        string          `json:"type"`
	Status      string          `json:"status"`
	TriggeredBy string          `json:"triggeredBy"`
	Attempts    int             `json:"attempts"`
	StartedAt   *string         `json:"startedAt"`
	FinishedAt  *string         `json:"finishedAt"`
	Summary     json.RawMessage `json:"summary,omitempty"`
	Error       string          `json:"error,omitempty"`
}

func mapJobToResponse(job models.SyncJob) JobResponse {
	return JobResponse{
		ID:          job.ID,
		Type:        string(job.Type),
		Status:      string(job.Status),
		TriggeredBy: job.TriggeredBy,
		Attempts:    job.Attempts,
		StartedAt:   formatTime(job.StartedAt),
		FinishedAt:  formatTime(job.FinishedAt),
		Summary:     job.SummaryJSON,
		Error:       job.Error,
	}
}

func formatTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.UTC().Format(time.RFC3339)
	return &s
}
