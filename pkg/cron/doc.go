// Package cron fires JobConfigurations on their registered schedule and
// applies the job's CronCollisionPolicy (KILL_EXISTING, CANCEL_NEW,
// RUN_OVERLAP) when prior shards are still active at fire time.
package cron
