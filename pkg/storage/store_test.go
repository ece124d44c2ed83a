package storage

import (
	"errors"
	"testing"

	"github.com/cuemby/aurora-core/pkg/query"
	"github.com/cuemby/aurora-core/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleTask(role, env, job string, shard int, status types.Status) *types.ScheduledTask {
	return &types.ScheduledTask{
		AssignedTask: types.AssignedTask{
			TaskID: role + "-" + env + "-" + job + "-" + string(rune('0'+shard)),
			TaskConfig: types.TaskConfig{
				Owner:           types.Owner{Role: role, User: role + "-user"},
				Environment:     env,
				JobName:         job,
				ShardID:         shard,
				NumCPUs:         1,
				RAMMB:           256,
				DiskMB:          512,
				MaxTaskFailures: 1,
			},
		},
		Status:     status,
		TaskEvents: []types.TaskEvent{{Status: status}},
	}
}

func TestWrite_SaveThenConsistentReadSeesIt(t *testing.T) {
	s := New(nil, 0)

	err := s.Write(func(m Mutator) error {
		m.SaveTasks(sampleTask("www", "prod", "frontend", 0, types.StatusPending))
		return nil
	})
	require.NoError(t, err)

	var got []*types.ScheduledTask
	s.ConsistentRead(func(p Provider) {
		got = p.FetchTasks(query.Query{})
	})
	require.Len(t, got, 1)
	assert.Equal(t, types.StatusPending, got[0].Status)
}

func TestWrite_ErrorLeavesNoVisibleEffect(t *testing.T) {
	s := New(nil, 0)
	sentinel := errors.New("boom")

	err := s.Write(func(m Mutator) error {
		m.SaveTasks(sampleTask("www", "prod", "frontend", 0, types.StatusPending))
		return sentinel
	})
	require.ErrorIs(t, err, sentinel)

	var got []*types.ScheduledTask
	s.ConsistentRead(func(p Provider) {
		got = p.FetchTasks(query.Query{})
	})
	assert.Empty(t, got)
}

func TestDeepCopyOnRead(t *testing.T) {
	s := New(nil, 0)
	require.NoError(t, s.Write(func(m Mutator) error {
		m.SaveTasks(sampleTask("www", "prod", "frontend", 0, types.StatusPending))
		return nil
	}))

	var first *types.ScheduledTask
	s.ConsistentRead(func(p Provider) {
		first, _ = p.FetchTask("www-prod-frontend-0")
	})
	first.Status = types.StatusFailed
	first.AssignedTask.TaskConfig.NumCPUs = 999

	var second *types.ScheduledTask
	s.ConsistentRead(func(p Provider) {
		second, _ = p.FetchTask("www-prod-frontend-0")
	})

	assert.Equal(t, types.StatusPending, second.Status)
	assert.EqualValues(t, 1, second.AssignedTask.TaskConfig.NumCPUs)
}

func TestQueryIndexEquivalesFullScan(t *testing.T) {
	s := New(nil, 0)
	require.NoError(t, s.Write(func(m Mutator) error {
		m.SaveTasks(
			sampleTask("www", "prod", "frontend", 0, types.StatusPending),
			sampleTask("www", "prod", "frontend", 1, types.StatusRunning),
			sampleTask("www", "staging", "frontend", 0, types.StatusRunning),
			sampleTask("www", "prod", "backend", 0, types.StatusRunning),
		)
		return nil
	}))

	indexed := query.Query{OwnerRole: "www", Environment: "prod", JobName: "frontend"}
	fullScan := query.Query{} // matches everything, then filtered client-side below

	var byIndex, byScanAll []*types.ScheduledTask
	s.ConsistentRead(func(p Provider) {
		byIndex = p.FetchTasks(indexed)
		byScanAll = p.FetchTasks(fullScan)
	})

	var byScanFiltered []*types.ScheduledTask
	for _, t := range byScanAll {
		if indexed.Matches(t) {
			byScanFiltered = append(byScanFiltered, t)
		}
	}

	require.Len(t, byIndex, 2)
	require.Len(t, byScanFiltered, 2)

	ids := func(ts []*types.ScheduledTask) []string {
		out := make([]string, len(ts))
		for i, t := range ts {
			out[i] = t.ID()
		}
		return out
	}
	assert.ElementsMatch(t, ids(byIndex), ids(byScanFiltered))
}

func TestMutateTasks_CommitsOnlyWhenChanged(t *testing.T) {
	s := New(nil, 0)
	require.NoError(t, s.Write(func(m Mutator) error {
		m.SaveTasks(sampleTask("www", "prod", "frontend", 0, types.StatusPending))
		return nil
	}))

	require.NoError(t, s.Write(func(m Mutator) error {
		m.MutateTasks(query.Query{}, func(t *types.ScheduledTask) {
			// no-op mutation
		})
		return nil
	}))

	require.NoError(t, s.Write(func(m Mutator) error {
		m.MutateTasks(query.Query{}, func(t *types.ScheduledTask) {
			t.Status = types.StatusAssigned
		})
		return nil
	}))

	var got *types.ScheduledTask
	s.ConsistentRead(func(p Provider) {
		got, _ = p.FetchTask("www-prod-frontend-0")
	})
	assert.Equal(t, types.StatusAssigned, got.Status)
}

func TestMutateTasks_IDIsImmutable(t *testing.T) {
	s := New(nil, 0)
	require.NoError(t, s.Write(func(m Mutator) error {
		m.SaveTasks(sampleTask("www", "prod", "frontend", 0, types.StatusPending))
		return nil
	}))

	require.NoError(t, s.Write(func(m Mutator) error {
		m.MutateTasks(query.Query{}, func(t *types.ScheduledTask) {
			t.AssignedTask.TaskID = "attempted-rename"
		})
		return nil
	}))

	var got []*types.ScheduledTask
	s.ConsistentRead(func(p Provider) {
		got = p.FetchTasks(query.Query{})
	})
	require.Len(t, got, 1)
	assert.Equal(t, "www-prod-frontend-0", got[0].ID())
}

func TestDeleteTasks(t *testing.T) {
	s := New(nil, 0)
	require.NoError(t, s.Write(func(m Mutator) error {
		m.SaveTasks(sampleTask("www", "prod", "frontend", 0, types.StatusFinished))
		return nil
	}))

	require.NoError(t, s.Write(func(m Mutator) error {
		m.DeleteTasks("www-prod-frontend-0")
		return nil
	}))

	var got []*types.ScheduledTask
	s.ConsistentRead(func(p Provider) {
		got = p.FetchTasks(query.Query{})
	})
	assert.Empty(t, got)
}

func TestSnapshotRestore(t *testing.T) {
	s := New(nil, 0)
	require.NoError(t, s.Write(func(m Mutator) error {
		m.SaveTasks(sampleTask("www", "prod", "frontend", 0, types.StatusPending))
		return nil
	}))

	snap := s.Snapshot()

	require.NoError(t, s.Write(func(m Mutator) error {
		m.DeleteTasks("www-prod-frontend-0")
		return nil
	}))

	var afterDelete []*types.ScheduledTask
	s.ConsistentRead(func(p Provider) { afterDelete = p.FetchTasks(query.Query{}) })
	require.Empty(t, afterDelete)

	s.Restore(snap)

	var afterRestore []*types.ScheduledTask
	s.ConsistentRead(func(p Provider) { afterRestore = p.FetchTasks(query.Query{}) })
	require.Len(t, afterRestore, 1)
}
