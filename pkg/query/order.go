package query

import (
	"sort"

	"github.com/cuemby/aurora-core/pkg/types"
)

// SortSchedulingOrder sorts tasks into the order the scheduler assigns
// offers in: higher priority first, production before non-production,
// then whichever task has been waiting longest (earliest first event),
// then task id as a final tiebreaker so the order is fully deterministic.
func SortSchedulingOrder(tasks []*types.ScheduledTask) {
	sort.SliceStable(tasks, func(i, j int) bool {
		return less(tasks[i], tasks[j])
	})
}

// SortReverseSchedulingOrder sorts tasks into the preempter's victim-walk
// order: the exact reverse of SortSchedulingOrder, so the least favored
// task (lowest priority, non-production, most recently queued) is
// considered for preemption first.
func SortReverseSchedulingOrder(tasks []*types.ScheduledTask) {
	sort.SliceStable(tasks, func(i, j int) bool {
		return less(tasks[j], tasks[i])
	})
}

func less(a, b *types.ScheduledTask) bool {
	pa, pb := a.AssignedTask.TaskConfig.Priority, b.AssignedTask.TaskConfig.Priority
	if pa != pb {
		return pa > pb
	}
	proda, prodb := a.AssignedTask.TaskConfig.IsProduction, b.AssignedTask.TaskConfig.IsProduction
	if proda != prodb {
		return proda
	}
	ta, tb := a.FirstEventTimestamp(), b.FirstEventTimestamp()
	if ta != tb {
		return ta < tb
	}
	return a.ID() < b.ID()
}
