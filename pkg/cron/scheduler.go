// Package cron wires cron-triggered JobConfigurations to an underlying
// schedule evaluator and implements the collision policies that apply when
// a fire lands while prior tasks for the same job are still active
// (spec.md §4.7).
package cron

import (
	"sync"

	"github.com/cuemby/aurora-core/pkg/ports"
	"github.com/cuemby/aurora-core/pkg/types"
	"github.com/robfig/cron/v3"
)

// RobfigScheduler is the default ports.CronScheduler, backed directly by
// robfig/cron/v3's standard five-field parser.
type RobfigScheduler struct {
	mu      sync.Mutex
	engine  *cron.Cron
	parser  cron.Parser
	entries map[types.JobKey]cron.EntryID
}

// NewRobfigScheduler constructs and starts a RobfigScheduler.
func NewRobfigScheduler() *RobfigScheduler {
	s := &RobfigScheduler{
		engine:  cron.New(),
		parser:  cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
		entries: make(map[types.JobKey]cron.EntryID),
	}
	s.engine.Start()
	return s
}

// Stop halts the underlying cron engine.
func (s *RobfigScheduler) Stop() {
	<-s.engine.Stop().Done()
}

// IsValidSchedule reports whether expr parses as a standard five-field
// cron expression.
func (s *RobfigScheduler) IsValidSchedule(expr string) bool {
	_, err := s.parser.Parse(expr)
	return err == nil
}

// Schedule registers fire against expr, replacing any existing entry for
// the same key.
func (s *RobfigScheduler) Schedule(key types.JobKey, expr string, fire func()) (string, error) {
	schedule, err := s.parser.Parse(expr)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.entries[key]; ok {
		s.engine.Remove(existing)
	}

	id := s.engine.Schedule(schedule, cron.FuncJob(fire))
	s.entries[key] = id
	return key.ToPath(), nil
}

// Deschedule removes the entry registered for entryID's owning key, if
// still present. entryID is the JobKey path Schedule returned.
func (s *RobfigScheduler) Deschedule(entryID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, id := range s.entries {
		if key.ToPath() == entryID {
			s.engine.Remove(id)
			delete(s.entries, key)
			return
		}
	}
}

var _ ports.CronScheduler = (*RobfigScheduler)(nil)
