// Package query defines the declarative predicate used to select
// ScheduledTasks from storage (spec.md §4.2).
package query

import "github.com/cuemby/aurora-core/pkg/types"

// Active is the set of statuses a task is ACTIVE under: every status that
// is not terminal.
func Active() map[types.Status]bool {
	return map[types.Status]bool{
		types.StatusInit:       true,
		types.StatusPending:    true,
		types.StatusAssigned:   true,
		types.StatusStarting:   true,
		types.StatusRunning:    true,
		types.StatusUpdating:   true,
		types.StatusRollback:   true,
		types.StatusKilling:    true,
		types.StatusPreempting: true,
		types.StatusRestarting: true,
		types.StatusUnknown:    true,
	}
}

// Query is a composition of optional filters over the task store. A zero
// value Query matches every task.
type Query struct {
	TaskIDs     []string
	OwnerRole   string
	OwnerUser   string
	Environment string
	JobName     string
	ShardIDs    []int
	SlaveHost   string
	Statuses    []types.Status
}

// Active returns a copy of q restricted to the non-terminal ACTIVE statuses.
// If q already names specific statuses, the result is their intersection
// with ACTIVE.
func (q Query) Active() Query {
	active := Active()
	out := q
	if len(q.Statuses) == 0 {
		out.Statuses = make([]types.Status, 0, len(active))
		for s := range active {
			out.Statuses = append(out.Statuses, s)
		}
		return out
	}
	out.Statuses = make([]types.Status, 0, len(q.Statuses))
	for _, s := range q.Statuses {
		if active[s] {
			out.Statuses = append(out.Statuses, s)
		}
	}
	return out
}

// JobKey reports the single JobKey this query pins to, if role, environment
// and job name are all set. Used by the storage façade to decide whether the
// jobkey secondary index can serve the query.
func (q Query) JobKey() (types.JobKey, bool) {
	if q.OwnerRole == "" || q.Environment == "" || q.JobName == "" {
		return types.JobKey{}, false
	}
	return types.JobKey{Role: q.OwnerRole, Environment: q.Environment, Name: q.JobName}, true
}

// Matches reports whether t satisfies every filter set on q. Empty/nil
// filters are treated as wildcards.
func (q Query) Matches(t *types.ScheduledTask) bool {
	if len(q.TaskIDs) > 0 && !containsString(q.TaskIDs, t.ID()) {
		return false
	}
	jk := t.JobKey()
	if q.OwnerRole != "" && q.OwnerRole != jk.Role {
		return false
	}
	if q.Environment != "" && q.Environment != jk.Environment {
		return false
	}
	if q.JobName != "" && q.JobName != jk.Name {
		return false
	}
	if q.OwnerUser != "" && q.OwnerUser != t.AssignedTask.TaskConfig.Owner.User {
		return false
	}
	if len(q.ShardIDs) > 0 && !containsInt(q.ShardIDs, t.AssignedTask.TaskConfig.ShardID) {
		return false
	}
	if q.SlaveHost != "" && q.SlaveHost != t.AssignedTask.SlaveHost {
		return false
	}
	if len(q.Statuses) > 0 && !containsStatus(q.Statuses, t.Status) {
		return false
	}
	return true
}

func containsString(ss []string, v string) bool {
	for _, s := range ss {
		if s == v {
			return true
		}
	}
	return false
}

func containsInt(is []int, v int) bool {
	for _, i := range is {
		if i == v {
			return true
		}
	}
	return false
}

func containsStatus(ss []types.Status, v types.Status) bool {
	for _, s := range ss {
		if s == v {
			return true
		}
	}
	return false
}
