// Package preempt implements the preemption search: freeing a lower-value
// task's slot for a higher-value one waiting in PENDING (spec.md §4.6).
//
// Known limitation, preserved intentionally rather than fixed: a victim is
// only ever checked against the slot its own reservation frees up. The
// search never accounts for other slack already free on the victim's host,
// so a candidate that would in fact fit without preempting anyone can still
// trigger a preemption.
package preempt

import (
	"sync"
	"time"

	"github.com/cuemby/aurora-core/pkg/filter"
	"github.com/cuemby/aurora-core/pkg/log"
	"github.com/cuemby/aurora-core/pkg/metrics"
	"github.com/cuemby/aurora-core/pkg/query"
	"github.com/cuemby/aurora-core/pkg/statemachine"
	"github.com/cuemby/aurora-core/pkg/storage"
	"github.com/cuemby/aurora-core/pkg/types"
	"github.com/rs/zerolog"
)

// DefaultCandidacyDelay is how long a task must have sat in PENDING before
// it is eligible to preempt another task.
const DefaultCandidacyDelay = 10 * time.Minute

const tickInterval = 10 * time.Second

// Preempter searches, on a fixed tick, for PENDING tasks old enough to
// preempt a running one.
type Preempter struct {
	store          *storage.Store
	machine        *statemachine.Machine
	filter         *filter.Filter
	candidacyDelay time.Duration
	clock          func() time.Time
	logger         zerolog.Logger

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New constructs a Preempter. candidacyDelay of zero uses DefaultCandidacyDelay.
func New(store *storage.Store, machine *statemachine.Machine, f *filter.Filter, candidacyDelay time.Duration) *Preempter {
	if candidacyDelay <= 0 {
		candidacyDelay = DefaultCandidacyDelay
	}
	return &Preempter{
		store:          store,
		machine:        machine,
		filter:         f,
		candidacyDelay: candidacyDelay,
		clock:          time.Now,
		logger:         log.WithComponent("preempt"),
		stopCh:         make(chan struct{}),
	}
}

// Start launches the preemption search loop.
func (p *Preempter) Start() {
	p.wg.Add(1)
	go p.run()
}

// Stop halts the preemption search loop.
func (p *Preempter) Stop() {
	close(p.stopCh)
	p.wg.Wait()
}

func (p *Preempter) run() {
	defer p.wg.Done()
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.searchOnce()
		case <-p.stopCh:
			return
		}
	}
}

// searchOnce runs one preemption search: eligible candidates are walked in
// scheduling order, victims in reverse scheduling order, and the first
// victim whose freed slot clears the filter for a candidate is preempted.
// A victim is never preempted more than once per cycle.
func (p *Preempter) searchOnce() {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.PreemptionSearchDuration)

	now := p.clock()

	var candidates, victims []*types.ScheduledTask
	p.store.WeaklyConsistentRead(func(provider storage.Provider) {
		pending := provider.FetchTasks(query.Query{Statuses: []types.Status{types.StatusPending}})
		for _, t := range pending {
			age := now.Sub(time.UnixMilli(t.FirstEventTimestamp()))
			if age >= p.candidacyDelay {
				candidates = append(candidates, t)
			}
		}

		for _, t := range provider.FetchTasks(query.Query{}.Active()) {
			if t.Status != types.StatusPending {
				victims = append(victims, t)
			}
		}
	})

	if len(candidates) == 0 || len(victims) == 0 {
		return
	}

	query.SortSchedulingOrder(candidates)
	query.SortReverseSchedulingOrder(victims)

	preempted := make(map[string]bool)

	for _, candidate := range candidates {
		for _, victim := range victims {
			if preempted[victim.ID()] {
				continue
			}
			if !eligible(candidate, victim) {
				continue
			}
			if p.fits(candidate, victim) {
				p.preemptTask(candidate, victim)
				preempted[victim.ID()] = true
				break
			}
		}
	}
}

// eligible implements the preemption predicate: a production task may
// preempt any non-production task, and any task may preempt a same-role
// task of strictly lower priority.
func eligible(candidate, victim *types.ScheduledTask) bool {
	cc := candidate.AssignedTask.TaskConfig
	vc := victim.AssignedTask.TaskConfig

	if cc.IsProduction && !vc.IsProduction {
		return true
	}
	if cc.Owner.Role == vc.Owner.Role && cc.Priority > vc.Priority {
		return true
	}
	return false
}

// fits reports whether the slot victim currently occupies would clear the
// filter for candidate.
func (p *Preempter) fits(candidate, victim *types.ScheduledTask) bool {
	if victim.AssignedTask.SlaveHost == "" {
		return false
	}

	slot := types.FromTaskConfig(victim.AssignedTask.TaskConfig)

	var host types.HostAttributes
	var vetoes []filter.Veto
	p.store.WeaklyConsistentRead(func(provider storage.Provider) {
		if attrs, ok := provider.FetchAttributes(victim.AssignedTask.SlaveHost); ok {
			host = *attrs
		} else {
			host = types.HostAttributes{Host: victim.AssignedTask.SlaveHost}
		}
		vetoes = p.filter.Evaluate(provider, slot, host, candidate.AssignedTask.TaskConfig, candidate.ID())
	})
	return len(vetoes) == 0
}

func (p *Preempter) preemptTask(candidate, victim *types.ScheduledTask) {
	if err := p.machine.ChangeState(victim.ID(), types.StatusPreempting, "preempted for "+candidate.ID()); err != nil {
		p.logger.Error().Err(err).Str("victim_id", victim.ID()).Str("candidate_id", candidate.ID()).
			Msg("failed to preempt victim")
		return
	}
	metrics.PreemptionsTotal.Inc()
	p.logger.Info().
		Str("victim_id", victim.ID()).
		Str("candidate_id", candidate.ID()).
		Str("host", victim.AssignedTask.SlaveHost).
		Msg("preempted task to make room for higher-value candidate")
}
