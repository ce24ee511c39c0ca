package models

const (
	MarketProviderMayaMall = "mayamall"
)

const (
	ConnectionStatusConnected    = "connected"
	ConnectionStatusDisconnected = "disconnected"
	ConnectionStatusError        = "error"
)

const (
	JobTriggeredManual  = "manual"
	JobTriggeredWebhook = "webhook"
	JobTriggeredSystem  = "system"
	JobTriggeredCommand = "command"
)

// JobType is the closed set of orchestrated operation kinds.
type JobType string

const (
	JobTypeSyncOrders      JobType = "SYNC_ORDERS"
	JobTypeSyncClaims      JobType = "SYNC_CLAIMS"
	JobTypeSyncQna         JobType = "SYNC_QNA"
	JobTypeSyncSettlements JobType = "SYNC_SETTLEMENTS"
	JobTypePushInventory   JobType = "PUSH_INVENTORY"
	JobTypeAnswerQuestion  JobType = "ANSWER_QUESTION"
)

// Valid reports whether t is a known operation kind.
func (t JobType) Valid() bool {
	switch t {
	case JobTypeSyncOrders, JobTypeSyncClaims, JobTypeSyncQna,
		JobTypeSyncSettlements, JobTypePushInventory, JobTypeAnswerQuestion:
		return true
	}
	return false
}

// Windowed reports whether the operation walks planner-produced time windows.
// Push/command kinds run a single degenerate window.
func (t JobType) Windowed() bool {
	switch t {
	case JobTypeSyncOrders, JobTypeSyncClaims, JobTypeSyncQna, JobTypeSyncSettlements:
		return true
	case JobTypePushInventory, JobTypeAnswerQuestion:
		return false
	}
	return false
}

// JobStatus is the job lifecycle state machine:
// queued -> running -> {success | retrying -> running ... | failed}.
type JobStatus string

const (
	JobStatusQueued   JobStatus = "queued"
	JobStatusRunning  JobStatus = "running"
	JobStatusRetrying JobStatus = "retrying"
	JobStatusSuccess  JobStatus = "success"
	JobStatusFailed   JobStatus = "failed"
)

// Terminal reports whether the status never transitions again.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusSuccess, JobStatusFailed:
		return true
	case JobStatusQueued, JobStatusRunning, JobStatusRetrying:
		return false
	}
	return false
}

// Active reports whether a job in this status counts against the
// one-in-flight-per-connection invariant.
func (s JobStatus) Active() bool {
	switch s {
	case JobStatusQueued, JobStatusRunning, JobStatusRetrying:
		return true
	case JobStatusSuccess, JobStatusFailed:
		return false
	}
	return false
}

// CanTransitionTo enforces the state machine at every transition site.
func (s JobStatus) CanTransitionTo(next JobStatus) bool {
	switch s {
	case JobStatusQueued:
		// queued -> failed covers dispatch compensation: a job whose
		// enqueue never succeeded fails without ever running.
		return next == JobStatusRunning || next == JobStatusFailed
	case JobStatusRunning:
		return next == JobStatusSuccess || next == JobStatusRetrying || next == JobStatusFailed
	case JobStatusRetrying:
		return next == JobStatusRunning
	case JobStatusSuccess, JobStatusFailed:
		return false
	}
	return false
}

// CommandStatus is the lifecycle of a write-intent record.
type CommandStatus string

const (
	CommandStatusQueued    CommandStatus = "queued"
	CommandStatusSucceeded CommandStatus = "succeeded"
	CommandStatusFailed    CommandStatus = "failed"
)

func (s CommandStatus) Terminal() bool {
	switch s {
	case CommandStatusSucceeded, CommandStatusFailed:
		return true
	case CommandStatusQueued:
		return false
	}
	return false
}
