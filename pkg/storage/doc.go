// Package storage implements the in-memory, copy-on-write task/job/update/
// quota/attribute store: ConsistentRead and WeaklyConsistentRead serve
// readers without blocking writers, Write serializes mutations and
// publishes events only after a successful commit. There is no on-disk or
// replicated backing store here — persistence is an external concern the
// core assumes is injected (see pkg/ports.Codec).
package storage
