/*
Package types defines the data model shared by every scheduling
component: job and task configuration, the scheduled task lifecycle
record, host attributes, constraints, quota, and update bookkeeping.

# Architecture

The types package is the foundation the rest of the core is built on.
It defines:

  - Job identity and templates (JobKey, Owner, TaskConfig, JobConfiguration)
  - Task lifecycle state (ScheduledTask, Status, TaskEvent)
  - Placement constraints (Constraint, ConstraintVariantKind)
  - Host attributes and maintenance mode (HostAttributes, Attribute, MaintenanceMode)
  - Quota accounting (Quota)
  - Rolling update bookkeeping (UpdateConfiguration, ShardConfigPair, ShardUpdateResult, UpdateResult)

All types are designed to be:
  - Serializable (JSON, YAML via the admission/config layers)
  - Immutable where practical (TaskID is fixed at creation; JobKey is
    derived functionally rather than stored as a back-pointer, see
    DESIGN.md "cyclic references")
  - Self-documenting (clear field names and validator tags)

# Core Types

Job Identity:
  - JobKey: role/environment/name triple identifying a job
  - Owner: the submitter of record
  - TaskConfig: the template a single task instance is built from
  - JobConfiguration: a job's TaskConfig plus shard count and, for
    cron-triggered jobs, its schedule and collision policy

Task Execution:
  - ScheduledTask: one instance of a TaskConfig, with its current
    Status and TaskEvent history
  - Status: PENDING, ASSIGNED, STARTING, RUNNING, KILLING, PREEMPTING,
    UPDATING, FINISHED, FAILED, KILLED, LOST and the other states the
    state machine transitions between
  - AssignedTask: the task id, config, and (once scheduled) the host/
    ports it was assigned

Placement:
  - Constraint: a named VALUE or LIMIT placement rule
  - HostAttributes / Attribute: what a host reports about itself
  - Quota: per-role production-resource ceiling

Rolling Updates:
  - UpdateConfiguration: a job's in-flight update, keyed by JobKey and
    guarded by a token; registering a new update for the same job
    replaces the previous one and its token
  - ShardConfigPair: a shard's old and new TaskConfig during an update
  - ShardUpdateResult / UpdateResult: per-shard and terminal outcomes

# Usage

Building a JobConfiguration:

	job := types.JobConfiguration{
		Key:   types.JobKey{Role: "search", Environment: "prod", Name: "indexer"},
		Owner: types.Owner{Role: "search", User: "alice"},
		TaskConfig: types.TaskConfig{
			Owner:           types.Owner{Role: "search", User: "alice"},
			Environment:     "prod",
			JobName:         "indexer",
			NumCPUs:         2,
			RAMMB:           4096,
			DiskMB:          10240,
			Priority:        5,
			IsProduction:    true,
			MaxTaskFailures: 3,
		},
		ShardCount: 4,
	}

Deriving a ScheduledTask's owning job:

	key := task.JobKey() // reads AssignedTask.TaskConfig.JobKey()

# State Machine

Tasks follow the lifecycle pkg/statemachine enforces:

	PENDING → ASSIGNED → STARTING → RUNNING → FINISHED
	                                   ↓
	                                 FAILED / KILLED / LOST / PREEMPTING

IsTerminal reports whether a Status is a terminal one (FINISHED,
FAILED, KILLED, LOST): terminal tasks are retained for history rather
than transitioned further.

# Design Patterns

Enumeration Pattern:

	All enums use typed string constants:
	  type Status string
	  const (
	      StatusPending Status = "PENDING"
	      StatusRunning Status = "RUNNING"
	  )

Constraint Pattern:

	Constraints are either VALUE (the attribute must/must-not equal one
	of a set) or LIMIT (at most N tasks sharing a value may colocate).

# Thread Safety

Types in this package carry no synchronization of their own. pkg/storage
hands out deep copies from Fetch* calls and commits mutations only
inside a Write closure; callers outside that boundary must not mutate
a *ScheduledTask or *JobConfiguration concurrently.

# See Also

  - pkg/storage for the façade that persists these types
  - pkg/statemachine for the task lifecycle
  - pkg/admission for validation and default-constraint injection
  - DESIGN.md for data-model design rationale
*/
package types
