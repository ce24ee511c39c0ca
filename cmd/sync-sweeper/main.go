// sync-sweeper periodically queues pull jobs for connected stores whose
// checkpoints have gone stale, so sellers get fresh data without pressing
// the sync button. A Redis lease keeps exactly one sweeper active when the
// deployment runs more than one replica.
//
// Usage:
//   DB_* REDIS_* PUBSUB_* SWEEP_SCHEDULE="*/15 * * * *" go run ./cmd/sync-sweeper
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"bitbucket.org/mmdatafocus/marketsync_backend/config"
	"bitbucket.org/mmdatafocus/marketsync_backend/mayasync"
	"bitbucket.org/mmdatafocus/marketsync_backend/models"
	"bitbucket.org/mmdatafocus/marketsync_backend/utils"
	"github.com/bsm/redislock"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

const leaderKey = "sweeper:leader"

var pullKinds = []models.JobType{
	models.JobTypeSyncOrders,
	models.JobTypeSyncClaims,
	models.JobTypeSyncQna,
	models.JobTypeSyncSettlements,
}

func main() {
	logger := config.GetLogger()

	sigCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()

	db := config.GetDB()
	tunables := mayasync.TunablesFromEnv()

	pubsubClient, err := config.GetPubSubClient(sigCtx)
	if err != nil {
		logger.WithFields(logrus.Fields{"field": "pubsub"}).Fatal(err)
	}
	queue, err := mayasync.NewPubSubQueue(sigCtx, pubsubClient, os.Getenv("SYNC_TOPIC"), tunables.Delivery)
	if err != nil {
		logger.WithFields(logrus.Fields{"field": "pubsub"}).Fatal(err)
	}

	connections := mayasync.NewConnectionStore(db)
	jobs := mayasync.NewJobStore(db)
	locks := mayasync.NewLockManager(config.GetRedisDB())
	orch := mayasync.NewOrchestrator(logger, locks, jobs, queue, connections, connections, nil, nil, tunables)

	staleAfter := time.Duration(intFromEnv("SWEEP_STALE_MINUTES", 60)) * time.Minute
	schedule := strings.TrimSpace(os.Getenv("SWEEP_SCHEDULE"))
	if schedule == "" {
		schedule = "*/15 * * * *"
	}

	c := cron.New()
	_, err = c.AddFunc(schedule, func() {
		sweep(sigCtx, logger, connections, orch, staleAfter)
	})
	if err != nil {
		logger.WithFields(logrus.Fields{"field": "schedule"}).Fatal(err)
	}
	c.Start()
	logger.WithFields(logrus.Fields{
		"schedule":    schedule,
		"stale_after": staleAfter.String(),
	}).Info("sweeper started")

	<-sigCtx.Done()
	stopCtx := c.Stop()
	<-stopCtx.Done()
}

// sweep runs one pass over all connected stores. The leader lease covers the
// whole pass; a tick that cannot obtain it belongs to another replica.
func sweep(ctx context.Context, logger *logrus.Logger, connections *mayasync.ConnectionStore, orch *mayasync.Orchestrator, staleAfter time.Duration) {
	lease, err := config.GetRedisLock().Obtain(ctx, leaderKey, 5*time.Minute, nil)
	if err != nil {
		if errors.Is(err, redislock.ErrNotObtained) {
			return
		}
		config.LogError(logger, "sweeper", "sweep", "obtain leader lease", nil, err)
		return
	}
	defer func() { _ = lease.Release(ctx) }()

	conns, err := connections.ListConnected(ctx)
	if err != nil {
		config.LogError(logger, "sweeper", "sweep", "list connections", nil, err)
		return
	}

	queued := 0
	queuedByKind := map[string]int{}
	for i := range conns {
		conn := conns[i]
		modules := mayasync.DecodeModules(conn.SettingsJSON)
		for _, kind := range pullKinds {
			if !modules.Enabled(kind) {
				continue
			}
			if last := connections.LastSuccessAt(&conn, kind); last != nil && time.Since(*last) < staleAfter {
				continue
			}

			res, err := orch.StartJob(ctx, mayasync.StartRequest{
				SellerId:     conn.SellerId,
				ConnectionId: conn.ID,
				Type:         kind,
				TriggeredBy:  models.JobTriggeredSystem,
			})
			if err != nil {
				config.LogError(logger, "sweeper", "sweep", "start job", map[string]interface{}{
					"connection_id": conn.ID,
					"type":          kind,
				}, err)
				continue
			}
			if res.Busy {
				// One job per connection; the rest of this store waits for
				// the next tick. A job running far beyond its lease is worth
				// an operator's attention, though never auto-reconciled.
				if res.ActiveJob != nil && res.ActiveJob.StartedAt != nil && time.Since(*res.ActiveJob.StartedAt) > 2*time.Hour {
					logger.WithFields(logrus.Fields{
						"connection_id": conn.ID,
						"job_id":        res.ActiveJob.ID,
						"status":        res.ActiveJob.Status,
						"started_at":    res.ActiveJob.StartedAt.UTC().Format(time.RFC3339),
					}).Warn("long-running job still holds the connection")
				}
				break
			}
			queued++
			queuedByKind[string(kind)]++
		}
	}

	fields := logrus.Fields{
		"connections": len(conns),
		"queued":      queued,
	}
	for _, kind := range utils.SortedKeys(queuedByKind) {
		fields["queued_"+strings.ToLower(kind)] = queuedByKind[kind]
	}
	logger.WithFields(fields).Info("sweep pass complete")
}

func intFromEnv(key string, def int) int {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return def
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return def
	}
	return n
}
