// Package statemachine enforces the single legal transition table every
// ScheduledTask moves through, appends its event history, and dispatches
// the driver kill side-effects certain transitions require (spec.md §4.3).
package statemachine

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cuemby/aurora-core/pkg/log"
	"github.com/cuemby/aurora-core/pkg/metrics"
	"github.com/cuemby/aurora-core/pkg/ports"
	"github.com/cuemby/aurora-core/pkg/storage"
	"github.com/cuemby/aurora-core/pkg/types"
	"github.com/google/uuid"
)

// ErrIllegalTransition is returned internally when a requested transition
// is not in the table. Callers never see it: ChangeState logs it and
// returns nil, per spec.md's "logged and discarded, never fatal" rule.
var ErrIllegalTransition = errors.New("statemachine: illegal transition")

var transitions = map[types.Status]map[types.Status]bool{
	types.StatusInit:       {types.StatusPending: true},
	types.StatusPending:    {types.StatusAssigned: true, types.StatusKilling: true},
	types.StatusAssigned: {
		types.StatusStarting:   true,
		types.StatusPreempting: true,
		types.StatusKilling:    true,
		types.StatusLost:       true,
		types.StatusUpdating:   true,
		types.StatusRollback:   true,
	},
	types.StatusStarting: {
		types.StatusRunning:  true,
		types.StatusFailed:   true,
		types.StatusKilling:  true,
		types.StatusLost:     true,
		types.StatusUpdating: true,
		types.StatusRollback: true,
	},
	types.StatusRunning: {
		types.StatusFinished:   true,
		types.StatusFailed:     true,
		types.StatusKilled:     true,
		types.StatusKilling:    true,
		types.StatusLost:       true,
		types.StatusPreempting: true,
		types.StatusUpdating:   true,
		types.StatusRollback:   true,
		types.StatusRestarting: true,
	},
	types.StatusKilling:    {types.StatusKilled: true, types.StatusLost: true},
	types.StatusPreempting: {types.StatusKilled: true, types.StatusLost: true},
	types.StatusUpdating: {
		types.StatusKilled:   true,
		types.StatusFinished: true,
		types.StatusKilling:  true,
		types.StatusLost:     true,
	},
	types.StatusRollback: {
		types.StatusKilled:   true,
		types.StatusFinished: true,
		types.StatusKilling:  true,
		types.StatusLost:     true,
	},
	types.StatusRestarting: {types.StatusKilled: true, types.StatusLost: true},
}

func legal(from, to types.Status) bool {
	return transitions[from][to]
}

func requiresKill(to types.Status) bool {
	switch to {
	case types.StatusKilling, types.StatusPreempting, types.StatusRollback, types.StatusUpdating:
		return true
	}
	return false
}

// Machine drives every ScheduledTask's status transitions through storage
// writes and enqueues the resulting driver side-effects on a dedicated
// executor, so a kill call is never made while holding the storage write
// lock. Because each ChangeState call is its own independent storage.Write,
// a state-change subscriber that itself calls ChangeState re-entrantly
// cannot deadlock: by the time events are delivered the write lock that
// produced them has already been released (see storage.Store.Write).
type Machine struct {
	store  *storage.Store
	driver ports.Driver
	clock  func() time.Time
	idGen  func() string

	killCh chan string
	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New constructs a Machine backed by store, dispatching kill side-effects
// to driver.
func New(store *storage.Store, driver ports.Driver) *Machine {
	return &Machine{
		store:  store,
		driver: driver,
		clock:  time.Now,
		idGen:  uuid.NewString,
		killCh: make(chan string, 256),
		stopCh: make(chan struct{}),
	}
}

// Start launches the dedicated kill side-effect executor goroutine.
func (m *Machine) Start() {
	m.wg.Add(1)
	go m.runKillExecutor()
}

// Stop halts the kill side-effect executor; kills still queued when it
// stops are not dispatched.
func (m *Machine) Stop() {
	close(m.stopCh)
	m.wg.Wait()
}

func (m *Machine) runKillExecutor() {
	defer m.wg.Done()
	for {
		select {
		case id := <-m.killCh:
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			if err := m.driver.KillTask(ctx, id); err != nil {
				log.WithTaskID(id).Error().Err(err).Msg("driver kill failed")
			}
			cancel()
		case <-m.stopCh:
			return
		}
	}
}

func (m *Machine) enqueueKill(taskID string) {
	select {
	case m.killCh <- taskID:
	default:
		log.WithTaskID(taskID).Warn().Msg("kill side-effect queue full, dropping")
	}
}

// ChangeState moves taskID to newStatus if the transition is legal,
// appending a TaskEvent and applying the rescheduling rule. Illegal
// transitions are logged and swallowed rather than returned as an error.
func (m *Machine) ChangeState(taskID string, newStatus types.Status, message string) error {
	return m.changeState(taskID, newStatus, message, nil)
}

// ChangeStateWithMutation is ChangeState plus an additional field mutation
// (e.g. recording slaveHost/assignedPorts) applied atomically in the same
// storage write as the transition itself.
func (m *Machine) ChangeStateWithMutation(taskID string, newStatus types.Status, message string, mutate func(*types.ScheduledTask)) error {
	return m.changeState(taskID, newStatus, message, mutate)
}

func (m *Machine) changeState(taskID string, newStatus types.Status, message string, mutate func(*types.ScheduledTask)) error {
	var kill bool

	err := m.store.Write(func(mut storage.Mutator) error {
		t, ok := mut.FetchTask(taskID)
		if !ok {
			return errUnknownTask(taskID)
		}

		from := t.Status
		if !legal(from, newStatus) {
			metrics.IllegalTransitionsTotal.WithLabelValues(string(newStatus)).Inc()
			log.WithTaskID(taskID).Warn().
				Str("from", string(from)).
				Str("to", string(newStatus)).
				Msg("illegal state transition rejected")
			return ErrIllegalTransition
		}

		if mutate != nil {
			mutate(t)
		}
		t.Status = newStatus
		t.TaskEvents = append(t.TaskEvents, types.TaskEvent{
			TimestampMillis: types.NowMillis(m.clock()),
			Status:          newStatus,
			Message:         message,
		})
		mut.SaveTasks(t)
		metrics.TaskStateTransitionsTotal.WithLabelValues(string(from), string(newStatus)).Inc()

		if requiresKill(newStatus) {
			kill = true
		}

		if successor := m.buildSuccessor(mut, t); successor != nil {
			mut.SaveTasks(successor)
		}
		return nil
	})

	if errors.Is(err, ErrIllegalTransition) {
		return nil
	}
	if err != nil {
		return err
	}
	if kill {
		m.enqueueKill(taskID)
	}
	return nil
}

// buildSuccessor implements the rescheduling rule: a non-service task
// entering FAILED with budget remaining, or any service task making a
// terminal transition while its job still exists, gets a fresh PENDING
// successor task.
func (m *Machine) buildSuccessor(mut storage.Mutator, t *types.ScheduledTask) *types.ScheduledTask {
	cfg := t.AssignedTask.TaskConfig

	reschedule := false
	failureIncrement := 0

	switch {
	case t.Status == types.StatusFailed && !cfg.IsService && t.FailureCount < cfg.MaxTaskFailures:
		reschedule = true
		failureIncrement = 1
	case types.IsTerminal(t.Status) && cfg.IsService:
		jk := t.JobKey()
		_, hasDefault := mut.FetchJob(types.ManagerIDDefault, jk)
		_, hasCron := mut.FetchJob(types.ManagerIDCron, jk)
		if (hasDefault || hasCron) && !shardUnderUpdate(mut, jk, cfg.ShardID) {
			reschedule = true
			if t.Status == types.StatusFailed {
				failureIncrement = 1
			}
		}
	}

	if !reschedule {
		return nil
	}

	successorTask := cfg
	return &types.ScheduledTask{
		AssignedTask: types.AssignedTask{
			TaskID:     m.idGen(),
			TaskConfig: successorTask,
		},
		Status: types.StatusPending,
		TaskEvents: []types.TaskEvent{{
			TimestampMillis: types.NowMillis(m.clock()),
			Status:          types.StatusPending,
			Message:         "rescheduled from " + t.ID(),
		}},
		AncestorTaskID: t.ID(),
		FailureCount:   t.FailureCount + failureIncrement,
	}
}

// shardUnderUpdate reports whether jobKey has an in-flight update that
// names shard explicitly: pkg/update owns replacing such shards itself,
// so the ordinary service-reschedule rule must not also race to recreate
// them with the stale pre-update config.
func shardUnderUpdate(mut storage.Mutator, jobKey types.JobKey, shard int) bool {
	u, ok := mut.FetchUpdate(jobKey)
	if !ok {
		return false
	}
	_, ok = u.Shards[shard]
	return ok
}

type unknownTaskError struct{ taskID string }

func errUnknownTask(id string) error { return unknownTaskError{taskID: id} }

func (e unknownTaskError) Error() string {
	return "statemachine: unknown task " + e.taskID
}
