// Package preempt searches for PENDING tasks old enough to displace a
// lower-value running task, and drives the displaced task into PREEMPTING
// via the state machine. See the host-slack-blindness limitation noted on
// Preempter.
package preempt
