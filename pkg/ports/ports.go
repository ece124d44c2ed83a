// Package ports declares the typed boundaries the scheduling core talks
// through but never implements itself: the cluster-manager driver, the
// cron schedule evaluator, host attribute loading, and task-config wire
// encoding. Each is "referenced only by its interface" — production
// wiring (thrift/gRPC transport, an executor binary, etc.) lives outside
// this module.
package ports

import (
	"context"

	"github.com/cuemby/aurora-core/pkg/types"
)

// Driver is the cluster-manager collaborator that actually communicates
// offers and kill commands to worker nodes. The scheduling core only ever
// enqueues calls to it; it never blocks a storage write on a Driver call.
type Driver interface {
	// LaunchTask asks the driver to start t on the offer it was matched
	// against, using the host/ports already recorded in its AssignedTask.
	LaunchTask(ctx context.Context, offerID string, t *types.ScheduledTask) error

	// KillTask asks the driver to kill the task with the given id. Called
	// for KILLING/PREEMPTING/ROLLBACK/UPDATING transitions and for driver
	// status updates that name an id the core does not track.
	KillTask(ctx context.Context, taskID string) error

	// CancelOffer returns an offer unused in a scheduling cycle to the
	// driver; offer handlers never retain offers across iterations.
	CancelOffer(ctx context.Context, offerID string) error
}

// CronScheduler evaluates and tracks cron schedule expressions. The core
// never parses cron syntax itself.
type CronScheduler interface {
	// IsValidSchedule reports whether expr is a parseable schedule.
	IsValidSchedule(expr string) bool

	// Schedule registers fire to run whenever expr matches, returning an
	// opaque entry id that Deschedule accepts. Registering the same key
	// twice first removes the prior entry.
	Schedule(key types.JobKey, expr string, fire func()) (entryID string, err error)

	// Deschedule removes a previously scheduled entry.
	Deschedule(entryID string)
}

// AttributeLoader supplies the HostAttributes the filter and preempter
// need but which the core does not itself discover (service discovery is
// explicitly out of scope).
type AttributeLoader interface {
	Load(host string) (types.HostAttributes, bool)
}

// Codec encodes/decodes the opaque ThermosConfig payload the core carries
// but never interprets.
type Codec interface {
	Encode(v any) ([]byte, error)
	Decode(data []byte, v any) error
}
