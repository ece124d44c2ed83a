// Package types defines the data model shared by every scheduling
// component: job and task configuration, the scheduled task lifecycle
// record, host attributes, constraints, quota, and update bookkeeping.
package types

import "time"

// JobKey uniquely identifies a job within the cluster.
type JobKey struct {
	Role        string `json:"role" validate:"required,jobidentifier"`
	Environment string `json:"environment" validate:"required,jobidentifier"`
	Name        string `json:"name" validate:"required,jobidentifier"`
}

// ToPath renders the JobKey in its canonical "role/environment/name" form.
func (k JobKey) ToPath() string {
	return k.Role + "/" + k.Environment + "/" + k.Name
}

// Owner identifies who submitted a job.
type Owner struct {
	Role string `json:"role" validate:"required,jobidentifier"`
	User string `json:"user" validate:"required"`
}

// ConstraintVariantKind distinguishes VALUE from LIMIT constraints.
type ConstraintVariantKind string

const (
	ConstraintValue ConstraintVariantKind = "VALUE"
	ConstraintLimit ConstraintVariantKind = "LIMIT"
)

// Constraint restricts which hosts a task may be placed on.
type Constraint struct {
	Name    string                `json:"name" validate:"required"`
	Variant ConstraintVariantKind `json:"variant" validate:"required,oneof=VALUE LIMIT"`

	// VALUE fields
	Negated bool     `json:"negated,omitempty"`
	Values  []string `json:"values,omitempty"`

	// LIMIT field
	Limit int `json:"limit,omitempty"`
}

// DedicatedAttribute is the reserved attribute name controlling host
// dedication (spec.md §6).
const DedicatedAttribute = "dedicated"

// Built-in constraint names injected by default at admission.
const (
	HostConstraint = "host"
	RackConstraint = "rack"
)

// TaskLink is a named URL template surfaced to operators/UIs.
type TaskLink struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

// TaskConfig is immutable once a task has been admitted; see the "unsafe
// in-place replace" admin path for the sole exception.
type TaskConfig struct {
	Owner       Owner  `json:"owner" validate:"required"`
	Environment string `json:"environment" validate:"required,jobidentifier"`
	JobName     string `json:"jobName" validate:"required,jobidentifier"`
	ShardID     int    `json:"shardId" validate:"gte=0"`

	NumCPUs int64 `json:"numCpus" validate:"gt=0"`
	RAMMB   int64 `json:"ramMb" validate:"gt=0"`
	DiskMB  int64 `json:"diskMb" validate:"gt=0"`

	RequestedPorts []string     `json:"requestedPorts,omitempty"`
	Constraints    []Constraint `json:"constraints,omitempty"`

	IsService    bool `json:"isService"`
	IsProduction bool `json:"isProduction"`
	Priority     int  `json:"priority" validate:"gte=0"`

	MaxTaskFailures int `json:"maxTaskFailures" validate:"gte=1"`

	ContactEmail string `json:"contactEmail,omitempty"`

	// ThermosConfig is an opaque, codec-encoded payload; the core never
	// interprets its contents.
	ThermosConfig []byte `json:"thermosConfig,omitempty"`

	TaskLinks []TaskLink `json:"taskLinks,omitempty"`
}

// JobKey derives the owning JobKey functionally; it is never stored as a
// back-pointer (see DESIGN.md "cyclic references").
func (c TaskConfig) JobKey() JobKey {
	return JobKey{Role: c.Owner.Role, Environment: c.Environment, Name: c.JobName}
}

// RequestsPort reports whether name is among the task's requested ports.
func (c TaskConfig) RequestsPort(name string) bool {
	for _, p := range c.RequestedPorts {
		if p == name {
			return true
		}
	}
	return false
}

// AssignedTask is the portion of a ScheduledTask populated once the
// scheduler has matched it against an offer.
type AssignedTask struct {
	TaskID        string            `json:"taskId"`
	TaskConfig    TaskConfig        `json:"taskConfig"`
	SlaveHost     string            `json:"slaveHost,omitempty"`
	SlaveID       string            `json:"slaveId,omitempty"`
	AssignedPorts map[string]uint16 `json:"assignedPorts,omitempty"`
}

// Status is a ScheduledTask's position in the state machine (spec.md §4.3).
type Status string

const (
	StatusInit       Status = "INIT"
	StatusPending    Status = "PENDING"
	StatusAssigned   Status = "ASSIGNED"
	StatusStarting   Status = "STARTING"
	StatusRunning    Status = "RUNNING"
	StatusFinished   Status = "FINISHED"
	StatusFailed     Status = "FAILED"
	StatusKilled     Status = "KILLED"
	StatusKilling    Status = "KILLING"
	StatusLost       Status = "LOST"
	StatusPreempting Status = "PREEMPTING"
	StatusRestarting Status = "RESTARTING"
	StatusUpdating   Status = "UPDATING"
	StatusRollback   Status = "ROLLBACK"
	StatusUnknown    Status = "UNKNOWN"
)

// Terminal is the set of statuses from which no further transition is
// allowed except deletion.
var Terminal = map[Status]bool{
	StatusFinished: true,
	StatusFailed:   true,
	StatusKilled:   true,
	StatusLost:     true,
}

// IsTerminal reports whether s is a terminal status.
func IsTerminal(s Status) bool { return Terminal[s] }

// TaskEvent is one entry in a ScheduledTask's ordered event history.
type TaskEvent struct {
	TimestampMillis int64  `json:"timestampMillis"`
	Status          Status `json:"status"`
	Message         string `json:"message,omitempty"`
}

// ScheduledTask is the authoritative record of one task instance.
type ScheduledTask struct {
	AssignedTask   AssignedTask `json:"assignedTask"`
	Status         Status       `json:"status"`
	TaskEvents     []TaskEvent  `json:"taskEvents"`
	AncestorTaskID string       `json:"ancestorTaskId,omitempty"`
	FailureCount   int          `json:"failureCount"`
}

// ID is a convenience accessor for the task's unique identifier.
func (t *ScheduledTask) ID() string { return t.AssignedTask.TaskID }

// JobKey is a convenience accessor deriving the task's owning job.
func (t *ScheduledTask) JobKey() JobKey { return t.AssignedTask.TaskConfig.JobKey() }

// LatestEvent returns the most recent TaskEvent, or the zero value if the
// task has no history yet (which should never happen for a persisted task).
func (t *ScheduledTask) LatestEvent() TaskEvent {
	if len(t.TaskEvents) == 0 {
		return TaskEvent{}
	}
	return t.TaskEvents[len(t.TaskEvents)-1]
}

// FirstEventTimestamp returns the timestamp of the task's first recorded
// event (its INIT/PENDING entry), used to break scheduling-order ties in
// favor of whichever task has been waiting longest.
func (t *ScheduledTask) FirstEventTimestamp() int64 {
	if len(t.TaskEvents) == 0 {
		return 0
	}
	return t.TaskEvents[0].TimestampMillis
}

// CronCollisionPolicy controls what happens when a cron job fires while
// prior tasks for the same JobKey are still active (spec.md §4.7).
type CronCollisionPolicy string

const (
	CronKillExisting CronCollisionPolicy = "KILL_EXISTING"
	CronCancelNew    CronCollisionPolicy = "CANCEL_NEW"
	CronRunOverlap   CronCollisionPolicy = "RUN_OVERLAP"
)

// JobConfiguration is the template a job's tasks are instantiated from.
type JobConfiguration struct {
	Key                 JobKey              `json:"key" validate:"required"`
	Owner               Owner               `json:"owner" validate:"required"`
	TaskConfig          TaskConfig          `json:"taskConfig" validate:"required"`
	ShardCount          int                 `json:"shardCount" validate:"gte=1"`
	CronSchedule        string              `json:"cronSchedule,omitempty"`
	CronCollisionPolicy CronCollisionPolicy `json:"cronCollisionPolicy,omitempty"`
}

// IsCron reports whether this job is cron-triggered.
func (j JobConfiguration) IsCron() bool { return j.CronSchedule != "" }

// Job store manager ids: the storage façade's JobStore is keyed by
// (manager id, JobKey) so cron-registered jobs and ad-hoc submissions
// never collide.
const (
	ManagerIDDefault = "DEFAULT"
	ManagerIDCron    = "CRON"
)

// MaintenanceMode is a host's maintenance lifecycle state.
type MaintenanceMode string

const (
	MaintenanceNone      MaintenanceMode = "NONE"
	MaintenanceScheduled MaintenanceMode = "SCHEDULED"
	MaintenanceDraining  MaintenanceMode = "DRAINING"
	MaintenanceDrained   MaintenanceMode = "DRAINED"
)

// Attribute is a named, multi-valued host attribute (e.g. "rack": {"r1"}).
type Attribute struct {
	Name   string   `json:"name"`
	Values []string `json:"values"`
}

// Has reports whether value is among the attribute's values.
func (a Attribute) Has(value string) bool {
	for _, v := range a.Values {
		if v == value {
			return true
		}
	}
	return false
}

// HostAttributes is the set of attributes and maintenance state the
// cluster manager has reported for a host.
type HostAttributes struct {
	Host            string          `json:"host"`
	Attributes      []Attribute     `json:"attributes"`
	MaintenanceMode MaintenanceMode `json:"maintenanceMode"`
}

// Attribute looks up a named attribute, returning ok=false if absent.
func (h HostAttributes) Attribute(name string) (Attribute, bool) {
	for _, a := range h.Attributes {
		if a.Name == name {
			return a, true
		}
	}
	return Attribute{}, false
}

// Quota is the cpu/ram/disk budget for a role; only production tasks
// consume it.
type Quota struct {
	CPU    int64 `json:"cpu"`
	RAMMB  int64 `json:"ramMb"`
	DiskMB int64 `json:"diskMb"`
}

// ShardConfigPair pairs the current and desired TaskConfig for one shard
// of an in-flight update. Either side may be nil (add/remove).
type ShardConfigPair struct {
	OldConfig *TaskConfig `json:"oldConfig,omitempty"`
	NewConfig *TaskConfig `json:"newConfig,omitempty"`
}

// UpdateConfiguration tracks one job's in-flight rolling update.
type UpdateConfiguration struct {
	JobKey JobKey                  `json:"jobKey"`
	Token  string                  `json:"token"`
	Shards map[int]ShardConfigPair `json:"shards"`
}

// ShardUpdateResult is the outcome reported to a caller of ModifyShards.
type ShardUpdateResult string

const (
	ShardRestarting ShardUpdateResult = "RESTARTING"
	ShardAdded      ShardUpdateResult = "ADDED"
	ShardUnchanged  ShardUpdateResult = "UNCHANGED"
	ShardCompleted  ShardUpdateResult = "COMPLETED"
)

// UpdateResult is the terminal disposition of an update, recorded by
// FinishUpdate.
type UpdateResult string

const (
	UpdateSuccess    UpdateResult = "SUCCESS"
	UpdateFailed     UpdateResult = "FAILED"
	UpdateRolledBack UpdateResult = "ROLLED_BACK"
)

// NowMillis is the single place the core converts wall-clock time to the
// millisecond timestamps TaskEvents use, so tests can substitute a clock.
func NowMillis(t time.Time) int64 {
	return t.UnixMilli()
}
