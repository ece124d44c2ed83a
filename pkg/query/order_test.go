package query

import (
	"testing"

	"github.com/cuemby/aurora-core/pkg/types"
	"github.com/stretchr/testify/assert"
)

func orderedTask(id string, priority int, production bool, firstEventMillis int64) *types.ScheduledTask {
	return &types.ScheduledTask{
		AssignedTask: types.AssignedTask{
			TaskID: id,
			TaskConfig: types.TaskConfig{
				Priority:     priority,
				IsProduction: production,
			},
		},
		TaskEvents: []types.TaskEvent{{TimestampMillis: firstEventMillis}},
	}
}

func TestSortSchedulingOrder_PriorityDominates(t *testing.T) {
	tasks := []*types.ScheduledTask{
		orderedTask("low", 1, false, 100),
		orderedTask("high", 10, false, 200),
	}
	SortSchedulingOrder(tasks)
	assert.Equal(t, []string{"high", "low"}, ids(tasks))
}

func TestSortSchedulingOrder_ProductionBreaksPriorityTie(t *testing.T) {
	tasks := []*types.ScheduledTask{
		orderedTask("nonprod", 5, false, 100),
		orderedTask("prod", 5, true, 200),
	}
	SortSchedulingOrder(tasks)
	assert.Equal(t, []string{"prod", "nonprod"}, ids(tasks))
}

func TestSortSchedulingOrder_OldestFirstEventBreaksTie(t *testing.T) {
	tasks := []*types.ScheduledTask{
		orderedTask("newer", 5, true, 200),
		orderedTask("older", 5, true, 100),
	}
	SortSchedulingOrder(tasks)
	assert.Equal(t, []string{"older", "newer"}, ids(tasks))
}

func TestSortSchedulingOrder_TaskIDIsFinalTiebreaker(t *testing.T) {
	tasks := []*types.ScheduledTask{
		orderedTask("b", 5, true, 100),
		orderedTask("a", 5, true, 100),
	}
	SortSchedulingOrder(tasks)
	assert.Equal(t, []string{"a", "b"}, ids(tasks))
}

func TestSortReverseSchedulingOrder_IsExactReverse(t *testing.T) {
	forward := []*types.ScheduledTask{
		orderedTask("high", 10, true, 100),
		orderedTask("mid", 5, true, 100),
		orderedTask("low", 1, false, 100),
	}
	reverse := []*types.ScheduledTask{forward[0], forward[1], forward[2]}

	SortSchedulingOrder(forward)
	SortReverseSchedulingOrder(reverse)

	fids := ids(forward)
	rids := ids(reverse)
	for i := range fids {
		assert.Equal(t, fids[i], rids[len(rids)-1-i])
	}
}

func ids(tasks []*types.ScheduledTask) []string {
	out := make([]string, len(tasks))
	for i, t := range tasks {
		out[i] = t.ID()
	}
	return out
}
