// Package metrics defines the Prometheus metrics exposed by the scheduler
// core: storage query latency, scheduling/veto counters, preemption and
// cron/update outcome counters. Metrics are registered at package init and
// exposed via Handler() for scraping.
//
// The health sub-API (HealthChecker) tracks liveness/readiness of the
// storage, scheduler, and cron components independently of Prometheus.
package metrics
