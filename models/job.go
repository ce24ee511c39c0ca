package models

import "time"

// SyncJob is one attempted orchestrated operation. The id is assigned by the
// orchestrator at creation (uuid) so the lock owner can be rebound to it.
type SyncJob struct {
	ID           string     `gorm:"primaryKey;size:36" json:"id"`
	SellerId     string     `gorm:"index;size:64;not null" json:"seller_id"`
	ConnectionId uint       `gorm:"index:idx_job_active,priority:1;not null" json:"connection_id"`
	Type         JobType    `gorm:"size:32;not null" json:"type"`
	Status       JobStatus  `gorm:"index:idx_job_active,priority:2;size:20;not null" json:"status"`
	TriggeredBy  string     `gorm:"size:20" json:"triggered_by"`
	ParamsJSON   []byte     `gorm:"type:json" json:"params"`
	SummaryJSON  []byte     `gorm:"type:json" json:"summary"`
	Error        string     `gorm:"type:text" json:"error"`
	Attempts     int        `gorm:"default:0" json:"attempts"`
	StartedAt    *time.Time `json:"started_at"`
	FinishedAt   *time.Time `json:"finished_at"`
	CreatedAt    time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}
