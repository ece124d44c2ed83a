package update

import (
	"context"
	"testing"

	"github.com/cuemby/aurora-core/pkg/query"
	"github.com/cuemby/aurora-core/pkg/statemachine"
	"github.com/cuemby/aurora-core/pkg/storage"
	"github.com/cuemby/aurora-core/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type noopDriver struct{}

func (noopDriver) LaunchTask(ctx context.Context, offerID string, t *types.ScheduledTask) error {
	return nil
}
func (noopDriver) KillTask(ctx context.Context, taskID string) error       { return nil }
func (noopDriver) CancelOffer(ctx context.Context, offerID string) error { return nil }

var testJobKey = types.JobKey{Role: "www", Environment: "prod", Name: "frontend"}

func baseConfig(shard int) types.TaskConfig {
	return types.TaskConfig{
		Owner:           types.Owner{Role: "www", User: "alice"},
		Environment:     "prod",
		JobName:         "frontend",
		ShardID:         shard,
		NumCPUs:         1,
		RAMMB:           128,
		DiskMB:          128,
		IsService:       true,
		MaxTaskFailures: 1,
	}
}

func seedActiveShard(t *testing.T, store *storage.Store, id string, cfg types.TaskConfig) {
	t.Helper()
	require.NoError(t, store.Write(func(m storage.Mutator) error {
		m.SaveTasks(&types.ScheduledTask{
			AssignedTask: types.AssignedTask{TaskID: id, TaskConfig: cfg},
			Status:       types.StatusRunning,
			TaskEvents:   []types.TaskEvent{{Status: types.StatusRunning}},
		})
		return nil
	}))
}

func TestRegisterUpdate_ReturnsUsableToken(t *testing.T) {
	store := storage.New(nil, 0)
	m := New(store, statemachine.New(store, noopDriver{}))

	oldCfg := baseConfig(0)
	newCfg := oldCfg
	newCfg.NumCPUs = 2

	token, err := m.RegisterUpdate(testJobKey, map[int]types.ShardConfigPair{
		0: {OldConfig: &oldCfg, NewConfig: &newCfg},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, token)
}

func TestModifyShards_WrongTokenFails(t *testing.T) {
	store := storage.New(nil, 0)
	m := New(store, statemachine.New(store, noopDriver{}))

	oldCfg := baseConfig(0)
	newCfg := oldCfg
	newCfg.NumCPUs = 2
	_, err := m.RegisterUpdate(testJobKey, map[int]types.ShardConfigPair{0: {OldConfig: &oldCfg, NewConfig: &newCfg}})
	require.NoError(t, err)

	_, err = m.ModifyShards(testJobKey, []int{0}, "wrong-token", true)
	assert.Error(t, err)
}

func TestModifyShards_ForwardReplacesChangedShard(t *testing.T) {
	store := storage.New(nil, 0)
	machine := statemachine.New(store, noopDriver{})
	m := New(store, machine)

	oldCfg := baseConfig(0)
	seedActiveShard(t, store, "old-shard-0", oldCfg)

	newCfg := oldCfg
	newCfg.NumCPUs = 2
	token, err := m.RegisterUpdate(testJobKey, map[int]types.ShardConfigPair{0: {OldConfig: &oldCfg, NewConfig: &newCfg}})
	require.NoError(t, err)

	results, err := m.ModifyShards(testJobKey, []int{0}, token, true)
	require.NoError(t, err)
	assert.Equal(t, types.ShardRestarting, results[0])

	var old *types.ScheduledTask
	store.ConsistentRead(func(p storage.Provider) { old, _ = p.FetchTask("old-shard-0") })
	assert.Equal(t, types.StatusUpdating, old.Status)

	var all []*types.ScheduledTask
	store.ConsistentRead(func(p storage.Provider) {
		all = p.FetchTasks(query.Query{Statuses: []types.Status{types.StatusPending}})
	})
	require.Len(t, all, 1)
	assert.Equal(t, int64(2), all[0].AssignedTask.TaskConfig.NumCPUs)
}

func TestModifyShards_UnchangedConfigIsNoOp(t *testing.T) {
	store := storage.New(nil, 0)
	machine := statemachine.New(store, noopDriver{})
	m := New(store, machine)

	cfg := baseConfig(0)
	seedActiveShard(t, store, "shard-0", cfg)

	token, err := m.RegisterUpdate(testJobKey, map[int]types.ShardConfigPair{0: {OldConfig: &cfg, NewConfig: &cfg}})
	require.NoError(t, err)

	results, err := m.ModifyShards(testJobKey, []int{0}, token, true)
	require.NoError(t, err)
	assert.Equal(t, types.ShardUnchanged, results[0])

	var got *types.ScheduledTask
	store.ConsistentRead(func(p storage.Provider) { got, _ = p.FetchTask("shard-0") })
	assert.Equal(t, types.StatusRunning, got.Status)
}

func TestModifyShards_ReportsCompletedThenUnchangedOnceShardSettles(t *testing.T) {
	store := storage.New(nil, 0)
	machine := statemachine.New(store, noopDriver{})
	m := New(store, machine)

	oldCfg := baseConfig(0)
	seedActiveShard(t, store, "old-shard-0", oldCfg)

	newCfg := oldCfg
	newCfg.NumCPUs = 2
	token, err := m.RegisterUpdate(testJobKey, map[int]types.ShardConfigPair{0: {OldConfig: &oldCfg, NewConfig: &newCfg}})
	require.NoError(t, err)

	results, err := m.ModifyShards(testJobKey, []int{0}, token, true)
	require.NoError(t, err)
	require.Equal(t, types.ShardRestarting, results[0])

	var created *types.ScheduledTask
	store.ConsistentRead(func(p storage.Provider) {
		tasks := p.FetchTasks(query.Query{Statuses: []types.Status{types.StatusPending}})
		require.Len(t, tasks, 1)
		created = tasks[0]
	})
	require.NoError(t, machine.ChangeState(created.ID(), types.StatusAssigned, "test: shard assigned"))
	require.NoError(t, machine.ChangeState(created.ID(), types.StatusStarting, "test: shard starting"))
	require.NoError(t, machine.ChangeState(created.ID(), types.StatusRunning, "test: shard running with new config"))
	require.NoError(t, machine.ChangeState("old-shard-0", types.StatusFinished, "test: old shard finished"))

	results, err = m.ModifyShards(testJobKey, []int{0}, token, true)
	require.NoError(t, err)
	assert.Equal(t, types.ShardCompleted, results[0])

	results, err = m.ModifyShards(testJobKey, []int{0}, token, true)
	require.NoError(t, err)
	assert.Equal(t, types.ShardUnchanged, results[0], "a second poll after completion must not re-report COMPLETED")
}

func TestFinishUpdate_FailsWhileShardsMidTransition(t *testing.T) {
	store := storage.New(nil, 0)
	machine := statemachine.New(store, noopDriver{})
	m := New(store, machine)

	oldCfg := baseConfig(0)
	seedActiveShard(t, store, "old-shard-0", oldCfg)
	newCfg := oldCfg
	newCfg.NumCPUs = 2

	token, err := m.RegisterUpdate(testJobKey, map[int]types.ShardConfigPair{0: {OldConfig: &oldCfg, NewConfig: &newCfg}})
	require.NoError(t, err)
	_, err = m.ModifyShards(testJobKey, []int{0}, token, true)
	require.NoError(t, err)

	err = m.FinishUpdate(testJobKey, token, types.UpdateSuccess, true)
	assert.Error(t, err)
}

func TestFinishUpdate_ClearsUpdateConfigWhenQuiescent(t *testing.T) {
	store := storage.New(nil, 0)
	machine := statemachine.New(store, noopDriver{})
	m := New(store, machine)

	oldCfg := baseConfig(0)
	newCfg := oldCfg
	token, err := m.RegisterUpdate(testJobKey, map[int]types.ShardConfigPair{0: {OldConfig: &oldCfg, NewConfig: &newCfg}})
	require.NoError(t, err)

	require.NoError(t, m.FinishUpdate(testJobKey, token, types.UpdateSuccess, true))

	var upd *types.UpdateConfiguration
	var ok bool
	store.ConsistentRead(func(p storage.Provider) { upd, ok = p.FetchUpdate(testJobKey) })
	assert.False(t, ok)
	assert.Nil(t, upd)
}

func TestFinishUpdate_NoOpWhenAlreadyAbsentAndNotExpected(t *testing.T) {
	store := storage.New(nil, 0)
	machine := statemachine.New(store, noopDriver{})
	m := New(store, machine)

	assert.NoError(t, m.FinishUpdate(testJobKey, "", types.UpdateSuccess, false))
}
