// Package update drives a job's rolling update or rollback shard by shard,
// gated by the token RegisterUpdate issues, until FinishUpdate clears it.
package update
