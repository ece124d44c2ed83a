// Package log wraps zerolog with the component/task/job-key child loggers
// used throughout the scheduler core.
package log
