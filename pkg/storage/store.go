package storage

import (
	"github.com/cuemby/aurora-core/pkg/query"
	"github.com/cuemby/aurora-core/pkg/types"
)

// Provider is the read-only view of the store visible inside a
// consistentRead or weaklyConsistentRead closure. Every Fetch method
// returns deep copies; mutating a returned value never affects storage
// (spec.md property 4).
type Provider interface {
	// FetchTasks dispatches q against the task store: id-pinned queries
	// walk the id set, single-JobKey queries walk the jobkey index,
	// everything else is a full scan.
	FetchTasks(q query.Query) []*types.ScheduledTask
	FetchTask(id string) (*types.ScheduledTask, bool)

	// FetchJob looks up a job configuration under a manager id (e.g.
	// "CRON" for cron-registered jobs).
	FetchJob(managerID string, key types.JobKey) (*types.JobConfiguration, bool)
	FetchJobs(managerID string) []*types.JobConfiguration

	FetchUpdate(key types.JobKey) (*types.UpdateConfiguration, bool)

	FetchQuota(role string) (*types.Quota, bool)

	FetchAttributes(host string) (*types.HostAttributes, bool)
	FetchAllAttributes() []*types.HostAttributes
}

// Mutator is the read/write view available inside a Write closure. All
// methods operate on a scratch copy of the store state; nothing is
// published until the closure returns without error.
type Mutator interface {
	Provider

	// SaveTasks upserts one or more tasks, maintaining the JobKey
	// secondary index.
	SaveTasks(tasks ...*types.ScheduledTask)

	// DeleteTasks removes tasks outright (as opposed to transitioning
	// them to a terminal status).
	DeleteTasks(ids ...string)

	// MutateTasks loads tasks matching q, hands each a mutable copy to
	// fn, and commits only the ones whose content actually changed. The
	// task id is restored after fn runs: it is immutable.
	MutateTasks(q query.Query, fn func(*types.ScheduledTask)) []*types.ScheduledTask

	SaveJob(managerID string, job *types.JobConfiguration)
	DeleteJob(managerID string, key types.JobKey)

	SaveUpdate(u *types.UpdateConfiguration)
	DeleteUpdate(key types.JobKey)

	SaveQuota(role string, q *types.Quota)

	SaveAttributes(a *types.HostAttributes)
}
