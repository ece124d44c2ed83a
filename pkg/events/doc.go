// Package events implements a lightweight in-memory pub/sub broker used to
// fan out storage and scheduling lifecycle events (storage.started,
// task.state_change, tasks.deleted, task.vetoed) to interested subscribers
// without coupling publishers to consumers. Delivery is best-effort: a
// subscriber with a full buffer drops the event rather than blocking the
// broadcaster.
package events
