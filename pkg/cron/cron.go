package cron

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/cuemby/aurora-core/pkg/log"
	"github.com/cuemby/aurora-core/pkg/metrics"
	"github.com/cuemby/aurora-core/pkg/ports"
	"github.com/cuemby/aurora-core/pkg/query"
	"github.com/cuemby/aurora-core/pkg/statemachine"
	"github.com/cuemby/aurora-core/pkg/storage"
	"github.com/cuemby/aurora-core/pkg/types"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// errStillActive signals the backoff loop that prior tasks have not yet
// cleared storage and the KILL_EXISTING delayed run must keep polling.
var errStillActive = errors.New("cron: prior tasks still active")

// Manager fires cron-triggered jobs and applies their collision policy.
type Manager struct {
	store   *storage.Store
	machine *statemachine.Machine
	sched   ports.CronScheduler
	idGen   func() string
	logger  zerolog.Logger

	mu          sync.Mutex
	pendingRuns map[types.JobKey]bool

	initialBackoff time.Duration
	maxBackoff     time.Duration

	ctx    context.Context
	cancel context.CancelFunc
}

// New constructs a Manager. sched is the schedule evaluator jobs register
// against; RobfigScheduler is the production default.
func New(store *storage.Store, machine *statemachine.Machine, sched ports.CronScheduler) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		store:       store,
		machine:     machine,
		sched:       sched,
		idGen:          uuid.NewString,
		logger:         log.WithComponent("cron"),
		pendingRuns:    make(map[types.JobKey]bool),
		initialBackoff: time.Second,
		maxBackoff:     time.Minute,
		ctx:            ctx,
		cancel:         cancel,
	}
}

// SetBackoff overrides the delayed-run poll interval bounds (spec.md §6
// cron_start_initial_backoff / cron_start_max_backoff). Call before any
// fire is dispatched; it is not safe to change concurrently with a
// killExistingThenRelaunch poll in flight.
func (m *Manager) SetBackoff(initial, max time.Duration) {
	m.initialBackoff = initial
	m.maxBackoff = max
}

// Stop cancels any in-flight delayed-run polling. It does not touch the
// underlying CronScheduler; callers own that lifecycle separately.
func (m *Manager) Stop() {
	m.cancel()
}

// LoadAll registers every cron-managed JobConfiguration found in storage.
// Invalid schedules are logged and counted, never scheduled.
func (m *Manager) LoadAll() {
	var jobs []*types.JobConfiguration
	m.store.ConsistentRead(func(p storage.Provider) {
		jobs = p.FetchJobs(types.ManagerIDCron)
	})
	for _, j := range jobs {
		m.Register(j)
	}
}

// Register validates and schedules job against the cron engine.
func (m *Manager) Register(job *types.JobConfiguration) {
	if !job.IsCron() {
		return
	}
	if !m.sched.IsValidSchedule(job.CronSchedule) {
		metrics.CronJobLaunchFailuresTotal.WithLabelValues(job.Key.ToPath()).Inc()
		m.logger.Error().Str("job_key", job.Key.ToPath()).Str("schedule", job.CronSchedule).
			Msg("invalid cron schedule, job will not fire")
		return
	}

	key := job.Key
	if _, err := m.sched.Schedule(key, job.CronSchedule, func() { m.fire(key) }); err != nil {
		metrics.CronJobLaunchFailuresTotal.WithLabelValues(key.ToPath()).Inc()
		m.logger.Error().Err(err).Str("job_key", key.ToPath()).Msg("failed to register cron schedule")
	}
}

// Deregister removes job's cron entry.
func (m *Manager) Deregister(key types.JobKey) {
	m.sched.Deschedule(key.ToPath())
}

// fire is invoked by the cron engine when job's schedule matches.
func (m *Manager) fire(key types.JobKey) {
	var job *types.JobConfiguration
	var existing []*types.ScheduledTask
	m.store.ConsistentRead(func(p storage.Provider) {
		job, _ = p.FetchJob(types.ManagerIDCron, key)
		existing = p.FetchTasks(query.Query{
			OwnerRole: key.Role, Environment: key.Environment, JobName: key.Name,
		}.Active())
	})
	if job == nil {
		return
	}

	if len(existing) == 0 {
		m.launchShards(job, 0, job.ShardCount)
		return
	}

	policy := job.CronCollisionPolicy
	if policy == "" {
		policy = types.CronKillExisting
	}

	switch policy {
	case types.CronCancelNew:
		metrics.CronCollisionsTotal.WithLabelValues(string(types.CronCancelNew)).Inc()
		m.logger.Info().Str("job_key", key.ToPath()).Msg("cron fire dropped: prior tasks still active")

	case types.CronRunOverlap:
		metrics.CronCollisionsTotal.WithLabelValues(string(types.CronRunOverlap)).Inc()
		shardOffset := 0
		pending := false
		for _, t := range existing {
			if t.Status == types.StatusPending {
				pending = true
			}
			if id := t.AssignedTask.TaskConfig.ShardID; id >= shardOffset {
				shardOffset = id + 1
			}
		}
		if pending {
			m.logger.Info().Str("job_key", key.ToPath()).
				Msg("cron fire dropped: a prior RUN_OVERLAP shard is still PENDING")
			return
		}
		m.launchShards(job, shardOffset, job.ShardCount)

	default: // KILL_EXISTING
		metrics.CronCollisionsTotal.WithLabelValues(string(types.CronKillExisting)).Inc()
		m.killExistingThenRelaunch(job, key)
	}
}

// killExistingThenRelaunch kills every active task for key and, once
// storage confirms they have all cleared, launches fresh shards. Polling
// uses a bounded, interruptible exponential backoff; a job key already
// being drained this way ignores a redundant fire.
func (m *Manager) killExistingThenRelaunch(job *types.JobConfiguration, key types.JobKey) {
	m.mu.Lock()
	if m.pendingRuns[key] {
		m.mu.Unlock()
		return
	}
	m.pendingRuns[key] = true
	m.mu.Unlock()

	var existing []*types.ScheduledTask
	m.store.ConsistentRead(func(p storage.Provider) {
		existing = p.FetchTasks(query.Query{
			OwnerRole: key.Role, Environment: key.Environment, JobName: key.Name,
		}.Active())
	})
	for _, t := range existing {
		if err := m.machine.ChangeState(t.ID(), types.StatusKilling, "cron KILL_EXISTING collision"); err != nil {
			m.logger.Error().Err(err).Str("task_id", t.ID()).Msg("failed to kill prior task for cron relaunch")
		}
	}

	go func() {
		defer func() {
			m.mu.Lock()
			delete(m.pendingRuns, key)
			m.mu.Unlock()
		}()

		b := backoff.NewExponentialBackOff()
		b.InitialInterval = m.initialBackoff
		b.MaxInterval = m.maxBackoff
		b.MaxElapsedTime = 0

		op := func() error {
			var stillActive []*types.ScheduledTask
			m.store.ConsistentRead(func(p storage.Provider) {
				stillActive = p.FetchTasks(query.Query{
					OwnerRole: key.Role, Environment: key.Environment, JobName: key.Name,
				}.Active())
			})
			if len(stillActive) > 0 {
				return errStillActive
			}
			return nil
		}

		if err := backoff.Retry(op, backoff.WithContext(b, m.ctx)); err != nil {
			m.logger.Warn().Err(err).Str("job_key", key.ToPath()).
				Msg("gave up waiting for prior cron tasks to clear")
			return
		}

		var job2 *types.JobConfiguration
		m.store.ConsistentRead(func(p storage.Provider) {
			job2, _ = p.FetchJob(types.ManagerIDCron, key)
		})
		if job2 == nil {
			job2 = job
		}
		m.launchShards(job2, 0, job2.ShardCount)
	}()
}

func (m *Manager) launchShards(job *types.JobConfiguration, startShard, count int) {
	now := time.Now()
	err := m.store.Write(func(mut storage.Mutator) error {
		for i := 0; i < count; i++ {
			cfg := job.TaskConfig
			cfg.ShardID = startShard + i
			mut.SaveTasks(&types.ScheduledTask{
				AssignedTask: types.AssignedTask{
					TaskID:     m.idGen(),
					TaskConfig: cfg,
				},
				Status: types.StatusPending,
				TaskEvents: []types.TaskEvent{{
					TimestampMillis: types.NowMillis(now),
					Status:          types.StatusPending,
					Message:         "cron fire",
				}},
			})
		}
		return nil
	})
	if err != nil {
		m.logger.Error().Err(err).Str("job_key", job.Key.ToPath()).Msg("failed to launch cron shards")
	}
}
