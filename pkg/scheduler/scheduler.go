// Package scheduler matches PENDING tasks against resource offers on a
// fixed tick, enforcing the filter's vetoes and the scheduling order
// (spec.md §4.5).
package scheduler

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/cuemby/aurora-core/pkg/filter"
	"github.com/cuemby/aurora-core/pkg/log"
	"github.com/cuemby/aurora-core/pkg/metrics"
	"github.com/cuemby/aurora-core/pkg/ports"
	"github.com/cuemby/aurora-core/pkg/query"
	"github.com/cuemby/aurora-core/pkg/statemachine"
	"github.com/cuemby/aurora-core/pkg/storage"
	"github.com/cuemby/aurora-core/pkg/types"
	"github.com/rs/zerolog"
)

// tickInterval is how often a scheduling cycle runs.
const tickInterval = 5 * time.Second

// Offer is a resource slot the driver has made available on one host. It
// carries the raw, unreserved resources; tryAssign subtracts the executor
// reservation before matching it against any task.
type Offer struct {
	OfferID   string
	SlaveID   string
	Host      string
	Resources types.Resources
	Ports     []uint16
}

// Scheduler owns the set of currently outstanding offers and, on each
// tick, attempts to assign every PENDING task to one of them.
type Scheduler struct {
	store  *storage.Store
	machine *statemachine.Machine
	filter *filter.Filter
	driver ports.Driver
	logger zerolog.Logger

	mu     sync.Mutex
	offers map[string]Offer

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New constructs a Scheduler. filter may be shared with the preempter.
func New(store *storage.Store, machine *statemachine.Machine, f *filter.Filter, driver ports.Driver) *Scheduler {
	return &Scheduler{
		store:   store,
		machine: machine,
		filter:  f,
		driver:  driver,
		logger:  log.WithComponent("scheduler"),
		offers:  make(map[string]Offer),
		stopCh:  make(chan struct{}),
	}
}

// Start launches the scheduling ticker loop.
func (s *Scheduler) Start() {
	s.wg.Add(1)
	go s.run()
}

// Stop halts the scheduling loop.
func (s *Scheduler) Stop() {
	close(s.stopCh)
	s.wg.Wait()
}

func (s *Scheduler) run() {
	defer s.wg.Done()
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.scheduleOnce()
		case <-s.stopCh:
			return
		}
	}
}

// OfferResources registers an offer the driver has made available. It is
// held until consumed by a scheduling cycle or explicitly withdrawn.
func (s *Scheduler) OfferResources(o Offer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.offers[o.OfferID] = o
}

// WithdrawOffer removes a previously registered offer (the driver rescinded
// it before it was consumed).
func (s *Scheduler) WithdrawOffer(offerID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.offers, offerID)
}

// scheduleOnce runs one scheduling cycle: every PENDING task, in
// scheduling order, is matched against the outstanding offers in
// offer-id order. Offers that satisfy no task by the end of the cycle
// are returned to the driver via CancelOffer; offer handlers never retain
// offers across iterations.
func (s *Scheduler) scheduleOnce() {
	s.mu.Lock()
	offers := make([]Offer, 0, len(s.offers))
	for _, o := range s.offers {
		offers = append(offers, o)
	}
	s.offers = make(map[string]Offer)
	s.mu.Unlock()

	sort.SliceStable(offers, func(i, j int) bool { return offers[i].OfferID < offers[j].OfferID })

	var pending []*types.ScheduledTask
	s.store.WeaklyConsistentRead(func(p storage.Provider) {
		pending = p.FetchTasks(query.Query{Statuses: []types.Status{types.StatusPending}})
	})
	query.SortSchedulingOrder(pending)

	if len(pending) == 0 {
		s.returnUnused(offers)
		return
	}

	consumed := make(map[string]bool)

	for _, task := range pending {
		timer := metrics.NewTimer()
		assigned := false

		for i := range offers {
			o := offers[i]
			if consumed[o.OfferID] {
				continue
			}
			if s.tryAssign(task, o) {
				consumed[o.OfferID] = true
				assigned = true
				timer.ObserveDuration(metrics.SchedulingLatency)
				metrics.TasksScheduled.Inc()
				break
			}
		}

		if !assigned {
			metrics.OffersExhaustedTotal.Inc()
		}
	}

	var unused []Offer
	for _, o := range offers {
		if !consumed[o.OfferID] {
			unused = append(unused, o)
		}
	}
	s.returnUnused(unused)
}

// tryAssign attempts to place task on offer o. On success it atomically
// records the assigned host/ports and transitions the task to ASSIGNED,
// then calls the driver to launch it.
func (s *Scheduler) tryAssign(task *types.ScheduledTask, o Offer) bool {
	slot := o.Resources.LessExecutorReservation()

	var host types.HostAttributes
	s.store.WeaklyConsistentRead(func(p storage.Provider) {
		if attrs, ok := p.FetchAttributes(o.Host); ok {
			host = *attrs
		} else {
			host = types.HostAttributes{Host: o.Host}
		}
	})

	var vetoes []filter.Veto
	s.store.WeaklyConsistentRead(func(p storage.Provider) {
		vetoes = s.filter.Evaluate(p, slot, host, task.AssignedTask.TaskConfig, task.ID())
	})
	if len(vetoes) > 0 {
		for _, v := range vetoes {
			metrics.TasksVetoedTotal.WithLabelValues(v.Reason).Inc()
		}
		return false
	}

	assignedPorts := allocatePorts(task.AssignedTask.TaskConfig.RequestedPorts, o.Ports)

	err := s.machine.ChangeStateWithMutation(task.ID(), types.StatusAssigned, "offer "+o.OfferID, func(t *types.ScheduledTask) {
		t.AssignedTask.SlaveHost = o.Host
		t.AssignedTask.SlaveID = o.SlaveID
		t.AssignedTask.AssignedPorts = assignedPorts
	})
	if err != nil {
		s.logger.Error().Err(err).Str("task_id", task.ID()).Msg("failed to record assignment")
		return false
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.driver.LaunchTask(ctx, o.OfferID, task); err != nil {
		s.logger.Error().Err(err).Str("task_id", task.ID()).Str("offer_id", o.OfferID).Msg("driver launch failed")
	}

	return true
}

func (s *Scheduler) returnUnused(offers []Offer) {
	for _, o := range offers {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := s.driver.CancelOffer(ctx, o.OfferID); err != nil {
			s.logger.Error().Err(err).Str("offer_id", o.OfferID).Msg("failed to cancel unused offer")
		}
		cancel()
	}
}

// allocatePorts deterministically zips a task's requested port names,
// sorted alphabetically, against an offer's free ports, sorted ascending.
// Callers must have already vetoed offers with too few ports.
func allocatePorts(names []string, offered []uint16) map[string]uint16 {
	if len(names) == 0 {
		return nil
	}
	sortedNames := append([]string(nil), names...)
	sort.Strings(sortedNames)

	sortedPorts := append([]uint16(nil), offered...)
	sort.Slice(sortedPorts, func(i, j int) bool { return sortedPorts[i] < sortedPorts[j] })

	out := make(map[string]uint16, len(sortedNames))
	for i, name := range sortedNames {
		if i >= len(sortedPorts) {
			break
		}
		out[name] = sortedPorts[i]
	}
	return out
}

// HandleStatusUpdate applies a driver-reported status change. If the
// driver names a task id the core no longer tracks, it is killed directly
// with no storage write (spec.md point 4); otherwise the update is routed
// through the state machine.
func (s *Scheduler) HandleStatusUpdate(taskID string, status types.Status, message string) {
	var known bool
	s.store.WeaklyConsistentRead(func(p storage.Provider) {
		_, known = p.FetchTask(taskID)
	})

	if !known {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.driver.KillTask(ctx, taskID); err != nil {
			s.logger.Error().Err(err).Str("task_id", taskID).Msg("failed to kill unknown task")
		}
		return
	}

	if err := s.machine.ChangeState(taskID, status, message); err != nil {
		s.logger.Error().Err(err).Str("task_id", taskID).Msg("status update rejected")
	}
}
