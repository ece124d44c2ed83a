// Package update drives a job's rolling update/rollback: a per-JobKey
// token gates ModifyShards calls, and FinishUpdate clears the update once
// no shard is left mid-transition and publishes the terminal result
// (spec.md §4.8). The token lifecycle is grounded in the same crypto/rand
// + hex pattern the cluster-join token manager uses, repurposed from join
// tokens to per-job update tokens.
package update

import (
	"crypto/rand"
	"encoding/hex"
	"reflect"

	"github.com/cuemby/aurora-core/pkg/events"
	"github.com/cuemby/aurora-core/pkg/log"
	"github.com/cuemby/aurora-core/pkg/metrics"
	"github.com/cuemby/aurora-core/pkg/query"
	"github.com/cuemby/aurora-core/pkg/statemachine"
	"github.com/cuemby/aurora-core/pkg/storage"
	"github.com/cuemby/aurora-core/pkg/types"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Exception is returned when an update operation cannot proceed: a stale
// or mismatched token, a finish attempted while shards are still mid-flight,
// or a finish naming an update that no longer exists.
type Exception struct{ Reason string }

func (e *Exception) Error() string { return "update: " + e.Reason }

// Manager tracks in-flight rolling updates and drives their shard
// transitions through the state machine.
type Manager struct {
	store   *storage.Store
	machine *statemachine.Machine
	idGen   func() string
	logger  zerolog.Logger
	bus     *events.Broker
}

// New constructs a Manager.
func New(store *storage.Store, machine *statemachine.Machine) *Manager {
	return &Manager{
		store:   store,
		machine: machine,
		idGen:   uuid.NewString,
		logger:  log.WithComponent("update"),
	}
}

// SetEventBus attaches the broker FinishUpdate publishes terminal results
// to. Optional: a Manager with no bus set still records the result in
// metrics and logs, it just has nothing to broadcast to.
func (m *Manager) SetEventBus(bus *events.Broker) {
	m.bus = bus
}

func generateToken() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// RegisterUpdate records shards' old/new configuration pairs under a fresh
// token and returns it. Callers pass the token to every subsequent
// ModifyShards/FinishUpdate call for this job.
func (m *Manager) RegisterUpdate(jobKey types.JobKey, shards map[int]types.ShardConfigPair) (string, error) {
	token, err := generateToken()
	if err != nil {
		return "", err
	}

	err = m.store.Write(func(mut storage.Mutator) error {
		mut.SaveUpdate(&types.UpdateConfiguration{
			JobKey: jobKey,
			Token:  token,
			Shards: shards,
		})
		return nil
	})
	if err != nil {
		return "", err
	}

	metrics.ActiveUpdatesTotal.Inc()
	return token, nil
}

// ModifyShards applies one batch of shard transitions: rollingForward=true
// drives shards toward their NewConfig (UPDATING), false rolls them back
// toward OldConfig (ROLLBACK). The caller's token must match the update
// currently registered for jobKey.
func (m *Manager) ModifyShards(jobKey types.JobKey, shardIDs []int, token string, rollingForward bool) (map[int]types.ShardUpdateResult, error) {
	var upd *types.UpdateConfiguration
	m.store.ConsistentRead(func(p storage.Provider) { upd, _ = p.FetchUpdate(jobKey) })
	if upd == nil {
		return nil, &Exception{Reason: "no update in progress for " + jobKey.ToPath()}
	}
	if upd.Token != token {
		return nil, &Exception{Reason: "token mismatch for " + jobKey.ToPath()}
	}

	transitionStatus := types.StatusUpdating
	if !rollingForward {
		transitionStatus = types.StatusRollback
	}

	results := make(map[int]types.ShardUpdateResult, len(shardIDs))
	for _, shard := range shardIDs {
		pair, ok := upd.Shards[shard]
		if !ok {
			continue
		}

		var target *types.TaskConfig
		if rollingForward {
			target = pair.NewConfig
		} else {
			target = pair.OldConfig
		}

		var active *types.ScheduledTask
		m.store.ConsistentRead(func(p storage.Provider) {
			tasks := p.FetchTasks(query.Query{
				OwnerRole: jobKey.Role, Environment: jobKey.Environment, JobName: jobKey.Name,
				ShardIDs: []int{shard},
			}.Active())
			if len(tasks) > 0 {
				active = tasks[0]
			}
		})

		result := m.applyShard(jobKey, shard, pair, active, target, transitionStatus)
		results[shard] = result
		metrics.UpdateTransitionsTotal.WithLabelValues(string(result)).Inc()
	}

	return results, nil
}

// applyShard drives one shard's transition and reports the outcome.
// ShardCompleted distinguishes a shard that has just settled on target after
// previously differing (pair.OldConfig recorded a different config) from
// ShardUnchanged, which covers a shard that never needed to move. Once a
// shard is reported COMPLETED, its persisted pair is collapsed so later
// polls of the same shard report UNCHANGED instead of re-completing it.
func (m *Manager) applyShard(jobKey types.JobKey, shard int, pair types.ShardConfigPair, active *types.ScheduledTask, target *types.TaskConfig, transitionStatus types.Status) types.ShardUpdateResult {
	switch {
	case active == nil && target == nil:
		return types.ShardUnchanged

	case active == nil && target != nil:
		m.createShard(*target)
		return types.ShardAdded

	case active != nil && target == nil:
		if err := m.machine.ChangeState(active.ID(), transitionStatus, "update: shard removed"); err != nil {
			m.logger.Error().Err(err).Str("task_id", active.ID()).Msg("failed to transition removed shard")
		}
		return types.ShardRestarting

	case active != nil && target != nil && reflect.DeepEqual(active.AssignedTask.TaskConfig, *target):
		if pair.OldConfig != nil && !reflect.DeepEqual(*pair.OldConfig, *target) {
			m.collapseShardPair(jobKey, shard, *target)
			return types.ShardCompleted
		}
		return types.ShardUnchanged

	default: // active != nil && target != nil && configs differ
		if err := m.machine.ChangeState(active.ID(), transitionStatus, "update: shard config changed"); err != nil {
			m.logger.Error().Err(err).Str("task_id", active.ID()).Msg("failed to transition updated shard")
			return types.ShardUnchanged
		}
		m.createShard(*target)
		return types.ShardRestarting
	}
}

// collapseShardPair records that shard's rollout has settled on cfg, so a
// later ModifyShards poll for the same shard reports UNCHANGED rather than
// COMPLETED a second time.
func (m *Manager) collapseShardPair(jobKey types.JobKey, shard int, cfg types.TaskConfig) {
	err := m.store.Write(func(mut storage.Mutator) error {
		upd, ok := mut.FetchUpdate(jobKey)
		if !ok {
			return nil
		}
		pair := upd.Shards[shard]
		pair.OldConfig = &cfg
		upd.Shards[shard] = pair
		mut.SaveUpdate(upd)
		return nil
	})
	if err != nil {
		m.logger.Error().Err(err).Str("job_key", jobKey.ToPath()).Int("shard", shard).
			Msg("failed to collapse completed shard pair")
	}
}

func (m *Manager) createShard(cfg types.TaskConfig) {
	err := m.store.Write(func(mut storage.Mutator) error {
		mut.SaveTasks(&types.ScheduledTask{
			AssignedTask: types.AssignedTask{
				TaskID:     m.idGen(),
				TaskConfig: cfg,
			},
			Status:     types.StatusPending,
			TaskEvents: []types.TaskEvent{{Status: types.StatusPending, Message: "update: new shard"}},
		})
		return nil
	})
	if err != nil {
		m.logger.Error().Err(err).Msg("failed to create update shard")
	}
}

// FinishUpdate clears jobKey's in-flight update and publishes its terminal
// result. It fails with an Exception if any task for the job is still
// UPDATING/ROLLBACK. Finishing an update that no longer exists is a no-op
// unless expectUpdateConfig is set, in which case it is an error (the
// caller expected one to exist).
func (m *Manager) FinishUpdate(jobKey types.JobKey, token string, result types.UpdateResult, expectUpdateConfig bool) error {
	var active []*types.ScheduledTask
	m.store.ConsistentRead(func(p storage.Provider) {
		active = p.FetchTasks(query.Query{
			OwnerRole: jobKey.Role, Environment: jobKey.Environment, JobName: jobKey.Name,
			Statuses: []types.Status{types.StatusUpdating, types.StatusRollback},
		})
	})
	if len(active) > 0 {
		return &Exception{Reason: "cannot finish update: shards still mid-transition"}
	}

	var upd *types.UpdateConfiguration
	m.store.ConsistentRead(func(p storage.Provider) { upd, _ = p.FetchUpdate(jobKey) })
	if upd == nil {
		if expectUpdateConfig {
			return &Exception{Reason: "no update in progress for " + jobKey.ToPath()}
		}
		return nil
	}
	if token != "" && upd.Token != token {
		return &Exception{Reason: "token mismatch for " + jobKey.ToPath()}
	}

	err := m.store.Write(func(mut storage.Mutator) error {
		mut.DeleteUpdate(jobKey)
		return nil
	})
	if err != nil {
		return err
	}

	metrics.ActiveUpdatesTotal.Dec()
	metrics.UpdateFinishedTotal.WithLabelValues(string(result)).Inc()
	m.logger.Info().Str("job_key", jobKey.ToPath()).Str("result", string(result)).Msg("update finished")
	if m.bus != nil {
		m.bus.Publish(events.NewUpdateFinishedEvent(jobKey.ToPath(), string(result)))
	}
	return nil
}
