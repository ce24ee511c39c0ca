package mayasync

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/marketsync_backend/models"
	"github.com/sirupsen/logrus"
)

// ErrJobRetry tells the delivery surface to NACK so the broker redelivers
// after backoff. Every other handler outcome is an ACK.
var ErrJobRetry = errors.New("job scheduled for retry")

// Locker is the per-connection mutual exclusion lease (see LockManager).
type Locker interface {
	Acquire(ctx context.Context, connectionId uint, ttl time.Duration) (string, error)
	Rebind(ctx context.Context, connectionId uint, token, newOwner string) error
	Release(ctx context.Context, connectionId uint, token string) error
	Renew(ctx context.Context, connectionId uint, token string, ttl time.Duration) error
}

// Jobs is the job lifecycle store (see JobStore).
type Jobs interface {
	Create(ctx context.Context, sellerId string, connectionId uint, jobType models.JobType, triggeredBy string, params json.RawMessage) (*models.SyncJob, error)
	Get(ctx context.Context, jobId string) (*models.SyncJob, error)
	MarkRunning(ctx context.Context, jobId string, firstAttempt bool) error
	MarkSuccess(ctx context.Context, jobId string, summary json.RawMessage) error
	MarkRetrying(ctx context.Context, jobId string, errMsg string) error
	MarkFailed(ctx context.Context, jobId string, errMsg string) error
	FindActive(ctx context.Context, connectionId uint, types []models.JobType) ([]models.SyncJob, error)
}

// Checkpoints advances the per-operation last-success watermark the planner
// reads (see ConnectionStore).
type Checkpoints interface {
	LastSuccessAt(conn *models.MarketConnection, jobType models.JobType) *time.Time
	Advance(ctx context.Context, connectionId uint, jobType models.JobType, at time.Time) error
}

// Commands lets the orchestrator close out the command record behind a
// command-backed job (see IdempotencyGuard).
type Commands interface {
	GetByJob(ctx context.Context, jobId string) (*models.CommandRecord, error)
	MarkSucceeded(ctx context.Context, commandId string, response json.RawMessage) error
	MarkFailed(ctx context.Context, commandId string, err error) error
}

// Tunables are the orchestration knobs, read from env at startup and
// injected (never consulted from inside the loop).
type Tunables struct {
	Window   WindowPolicy
	Retry    RetryPolicy
	Delivery DeliveryPolicy
	LockTTL  time.Duration
}

func TunablesFromEnv() Tunables {
	t := Tunables{
		Window: WindowPolicy{
			Overlap:        30 * time.Minute,
			SafetyDelay:    5 * time.Minute,
			Bootstrap:      7 * 24 * time.Hour,
			MaxWindow:      90 * 24 * time.Hour,
			RequestCeiling: 14 * 24 * time.Hour,
			Order:          OldestFirst,
		},
		Retry:    RetryPolicy{RetryUnknown: envBoolDefault("SYNC_RETRY_UNKNOWN_ERRORS", false)},
		Delivery: DefaultDeliveryPolicy(),
		LockTTL:  10 * time.Minute,
	}
	if v := durationFromEnvMinutes("SYNC_OVERLAP_MINUTES"); v > 0 {
		t.Window.Overlap = v
	}
	if v := durationFromEnvMinutes("SYNC_SAFETY_DELAY_MINUTES"); v > 0 {
		t.Window.SafetyDelay = v
	}
	if v := durationFromEnvDays("SYNC_BOOTSTRAP_DAYS"); v > 0 {
		t.Window.Bootstrap = v
	}
	if v := durationFromEnvDays("SYNC_MAX_WINDOW_DAYS"); v > 0 {
		t.Window.MaxWindow = v
	}
	if v := durationFromEnvDays("SYNC_REQUEST_CEILING_DAYS"); v > 0 {
		t.Window.RequestCeiling = v
	}
	if v := durationFromEnvMinutes("SYNC_LOCK_TTL_MINUTES"); v > 0 {
		t.LockTTL = v
	}
	if raw := strings.TrimSpace(os.Getenv("SYNC_EXTRA_RETRYABLE_CODES")); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			if n, err := strconv.Atoi(strings.TrimSpace(part)); err == nil && n > 0 {
				t.Retry.ExtraRetryable = append(t.Retry.ExtraRetryable, n)
			}
		}
	}
	return t
}

func durationFromEnvMinutes(key string) time.Duration {
	if n, err := strconv.Atoi(strings.TrimSpace(os.Getenv(key))); err == nil && n > 0 {
		return time.Duration(n) * time.Minute
	}
	return 0
}

func durationFromEnvDays(key string) time.Duration {
	if n, err := strconv.Atoi(strings.TrimSpace(os.Getenv(key))); err == nil && n > 0 {
		return time.Duration(n) * 24 * time.Hour
	}
	return 0
}

// Orchestrator drives one job end to end: lock, job row, enqueue on the
// caller side; run windows, classify failures, finalize on the worker side.
// All collaborators are constructor-injected; the orchestrator owns no
// global state.
type Orchestrator struct {
	logger      *logrus.Logger
	locks       Locker
	jobs        Jobs
	queue       Queue
	loader      ConfigLoader
	checkpoints Checkpoints
	commands    Commands
	executors   map[models.JobType]Executor
	tun         Tunables
}

func NewOrchestrator(logger *logrus.Logger, locks Locker, jobs Jobs, queue Queue, loader ConfigLoader, checkpoints Checkpoints, commands Commands, executors map[models.JobType]Executor, tun Tunables) *Orchestrator {
	return &Orchestrator{
		logger:      logger,
		locks:       locks,
		jobs:        jobs,
		queue:       queue,
		loader:      loader,
		checkpoints: checkpoints,
		commands:    commands,
		executors:   executors,
		tun:         tun,
	}
}

// StartRequest is one caller intent to run an operation.
type StartRequest struct {
	SellerId     string
	ConnectionId uint
	Type         models.JobType
	TriggeredBy  string
	Params       json.RawMessage
}

// StartResult is either the newly queued job or, when the connection is
// busy, the job currently holding the lock.
type StartResult struct {
	Busy      bool
	Job       *models.SyncJob
	ActiveJob *models.SyncJob
}

// StartJob acquires the connection lock, creates the job record, rebinds
// the lock to the job id and enqueues the work. Busy is a control-flow
// result, not an error. Any failure after acquisition releases the lock.
func (o *Orchestrator) StartJob(ctx context.Context, req StartRequest) (StartResult, error) {
	token, err := o.locks.Acquire(ctx, req.ConnectionId, o.tun.LockTTL)
	if err != nil {
		if errors.Is(err, ErrLockBusy) {
			active, ferr := o.jobs.FindActive(ctx, req.ConnectionId, nil)
			if ferr != nil {
				return StartResult{}, ferr
			}
			res := StartResult{Busy: true}
			if len(active) > 0 {
				res.ActiveJob = &active[0]
			}
			return res, nil
		}
		return StartResult{}, err
	}

	job, err := o.jobs.Create(ctx, req.SellerId, req.ConnectionId, req.Type, req.TriggeredBy, req.Params)
	if err != nil {
		o.releaseLock(ctx, req.ConnectionId, token, "StartJob")
		return StartResult{}, err
	}

	if err := o.locks.Rebind(ctx, req.ConnectionId, token, job.ID); err != nil {
		o.releaseLock(ctx, req.ConnectionId, token, "StartJob")
		_ = o.jobs.MarkFailed(ctx, job.ID, "lock rebind failed: "+err.Error())
		return StartResult{}, err
	}

	if err := o.queue.Enqueue(ctx, JobMessage{
		JobId:        job.ID,
		SellerId:     req.SellerId,
		ConnectionId: req.ConnectionId,
		Type:         req.Type,
		Params:       req.Params,
	}); err != nil {
		o.releaseLock(ctx, req.ConnectionId, job.ID, "StartJob")
		_ = o.jobs.MarkFailed(ctx, job.ID, "enqueue failed: "+err.Error())
		return StartResult{}, err
	}

	return StartResult{Job: job}, nil
}

// HandleDelivery processes one queue delivery. A nil return means ACK (the
// message is consumed, whether the job succeeded or failed fatally);
// ErrJobRetry means NACK so the broker redelivers after backoff.
func (o *Orchestrator) HandleDelivery(ctx context.Context, msg JobMessage, deliveryAttempt int) error {
	job, err := o.jobs.Get(ctx, msg.JobId)
	if err != nil {
		return err
	}
	if job == nil {
		// Poison message; nothing to run against.
		o.logger.WithFields(logrus.Fields{
			"module": "orchestrator",
			"job_id": msg.JobId,
		}).Warn("delivery for unknown job; dropping")
		return nil
	}
	if job.Status.Terminal() {
		// Duplicate delivery after finalization. At-least-once is fine
		// because the answer is always the same: consume it.
		return nil
	}

	// Re-assert the lease before running. A redelivery can arrive after the
	// lock TTL fired during broker backoff, with a newer job already holding
	// the connection; the stale delivery must not run alongside it.
	if err := o.locks.Renew(ctx, job.ConnectionId, job.ID, o.tun.LockTTL); err != nil {
		if errors.Is(err, ErrLockNotHeld) {
			o.logger.WithFields(logrus.Fields{
				"module":        "orchestrator",
				"job_id":        job.ID,
				"connection_id": job.ConnectionId,
				"status":        job.Status,
			}).Warn("lease lost before run; abandoning delivery")
			return nil
		}
		return err
	}

	attempt := job.Attempts + 1
	if deliveryAttempt > attempt {
		attempt = deliveryAttempt
	}

	if err := o.jobs.MarkRunning(ctx, job.ID, job.Attempts == 0); err != nil {
		if errors.Is(err, ErrStaleJobStatus) {
			// Another worker raced us to this delivery.
			return nil
		}
		return err
	}

	cfg, err := o.loader.LoadConfig(ctx, job.ConnectionId)
	if err != nil {
		// Config/credential failures never self-heal.
		return o.finalizeFailed(ctx, job, "config: "+err.Error())
	}

	exec, ok := o.executors[job.Type]
	if !ok {
		return o.finalizeFailed(ctx, job, "no executor for type "+string(job.Type))
	}

	windows := o.planFor(job, cfg)
	summary := JobSummary{
		From: windows[0].Start.UTC().Format(time.RFC3339),
		To:   windows[len(windows)-1].End.UTC().Format(time.RFC3339),
	}
	started := time.Now()

	for _, window := range windows {
		frag, execErr := exec.Execute(ctx, job, cfg, window)
		if execErr != nil {
			return o.handleExecFailure(ctx, job, attempt, execErr)
		}
		summary.add(frag)
		// Keep the lease alive across long window loops. A renewal failure
		// means the TTL already fired; the job finishes as an audited
		// anomaly rather than aborting mid-window.
		if err := o.locks.Renew(ctx, job.ConnectionId, job.ID, o.tun.LockTTL); err != nil {
			o.logger.WithFields(logrus.Fields{
				"module":        "orchestrator",
				"job_id":        job.ID,
				"connection_id": job.ConnectionId,
			}).Warn("lock renew failed: " + err.Error())
		}
	}

	summary.ElapsedMs = time.Since(started).Milliseconds()
	summaryJSON, _ := json.Marshal(summary)
	if err := o.jobs.MarkSuccess(ctx, job.ID, summaryJSON); err != nil {
		return err
	}

	if job.Type.Windowed() {
		planEnd := windows[len(windows)-1].End
		if o.tun.Window.Order == NewestFirst {
			planEnd = windows[0].End
		}
		if err := o.checkpoints.Advance(ctx, job.ConnectionId, job.Type, planEnd); err != nil {
			o.logger.WithFields(logrus.Fields{
				"module":        "orchestrator",
				"job_id":        job.ID,
				"connection_id": job.ConnectionId,
			}).Warn("checkpoint advance failed: " + err.Error())
		}
	}

	o.closeCommand(ctx, job.ID, summaryJSON, nil)
	o.releaseLock(ctx, job.ConnectionId, job.ID, "HandleDelivery")
	return nil
}

// planFor yields the window sequence for the job: the planner's slices for
// pull kinds, one degenerate window for write kinds.
func (o *Orchestrator) planFor(job *models.SyncJob, cfg *OperationConfig) []Window {
	if !job.Type.Windowed() {
		now := time.Now()
		return []Window{{Start: now, End: now}}
	}
	last := o.checkpoints.LastSuccessAt(&cfg.Connection, job.Type)
	return PlanWindows(last, time.Now(), o.tun.Window)
}

func (o *Orchestrator) handleExecFailure(ctx context.Context, job *models.SyncJob, attempt int, execErr error) error {
	retryable := Retryable(execErr, o.tun.Retry)
	if retryable && attempt < o.tun.Delivery.MaxAttempts {
		if err := o.jobs.MarkRetrying(ctx, job.ID, execErr.Error()); err != nil {
			return err
		}
		o.logger.WithFields(logrus.Fields{
			"module":        "orchestrator",
			"job_id":        job.ID,
			"connection_id": job.ConnectionId,
			"attempt":       attempt,
		}).Warn("job attempt failed, retrying: " + execErr.Error())
		return ErrJobRetry
	}
	return o.finalizeFailed(ctx, job, execErr.Error())
}

// finalizeFailed records the terminal failure and releases the lock. A
// failed job must never keep holding the connection.
func (o *Orchestrator) finalizeFailed(ctx context.Context, job *models.SyncJob, errMsg string) error {
	if err := o.jobs.MarkFailed(ctx, job.ID, errMsg); err != nil {
		return err
	}
	o.closeCommand(ctx, job.ID, nil, errors.New(errMsg))
	o.releaseLock(ctx, job.ConnectionId, job.ID, "finalizeFailed")
	o.logger.WithFields(logrus.Fields{
		"module":        "orchestrator",
		"job_id":        job.ID,
		"connection_id": job.ConnectionId,
		"type":          job.Type,
	}).Error("job failed: " + errMsg)
	return nil
}

func (o *Orchestrator) closeCommand(ctx context.Context, jobId string, response json.RawMessage, failure error) {
	if o.commands == nil {
		return
	}
	cmd, err := o.commands.GetByJob(ctx, jobId)
	if err != nil || cmd == nil {
		return
	}
	if failure != nil {
		_ = o.commands.MarkFailed(ctx, cmd.ID, failure)
		return
	}
	_ = o.commands.MarkSucceeded(ctx, cmd.ID, response)
}

func (o *Orchestrator) releaseLock(ctx context.Context, connectionId uint, token string, fn string) {
	if err := o.locks.Release(ctx, connectionId, token); err != nil && !errors.Is(err, ErrLockNotHeld) {
		o.logger.WithFields(logrus.Fields{
			"module":        "orchestrator",
			"funcName":      fn,
			"connection_id": connectionId,
		}).Warn("lock release failed: " + err.Error())
	}
}
