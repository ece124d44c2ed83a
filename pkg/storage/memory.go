package storage

import (
	"encoding/json"
	"reflect"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cuemby/aurora-core/pkg/events"
	"github.com/cuemby/aurora-core/pkg/log"
	"github.com/cuemby/aurora-core/pkg/metrics"
	"github.com/cuemby/aurora-core/pkg/query"
	"github.com/cuemby/aurora-core/pkg/types"
)

// DefaultSlowQueryThreshold is logged against when no threshold is
// configured explicitly (spec.md §6 slow_query_log_threshold).
const DefaultSlowQueryThreshold = 25 * time.Millisecond

// state is the full in-memory snapshot the store publishes atomically.
// Once published it is never mutated in place; writers always operate on
// a clone.
type state struct {
	tasks      map[string]*types.ScheduledTask
	jobIndex   map[types.JobKey]map[string]struct{}
	jobs       map[string]map[types.JobKey]*types.JobConfiguration
	updates    map[types.JobKey]*types.UpdateConfiguration
	quotas     map[string]*types.Quota
	attributes map[string]*types.HostAttributes
}

func newState() *state {
	return &state{
		tasks:      make(map[string]*types.ScheduledTask),
		jobIndex:   make(map[types.JobKey]map[string]struct{}),
		jobs:       make(map[string]map[types.JobKey]*types.JobConfiguration),
		updates:    make(map[types.JobKey]*types.UpdateConfiguration),
		quotas:     make(map[string]*types.Quota),
		attributes: make(map[string]*types.HostAttributes),
	}
}

func (st *state) clone() *state {
	out := newState()
	for id, t := range st.tasks {
		out.tasks[id] = cloneTask(t)
	}
	for jk, ids := range st.jobIndex {
		set := make(map[string]struct{}, len(ids))
		for id := range ids {
			set[id] = struct{}{}
		}
		out.jobIndex[jk] = set
	}
	for mgr, byKey := range st.jobs {
		m := make(map[types.JobKey]*types.JobConfiguration, len(byKey))
		for k, j := range byKey {
			m[k] = cloneJSON(j)
		}
		out.jobs[mgr] = m
	}
	for k, u := range st.updates {
		out.updates[k] = cloneJSON(u)
	}
	for r, q := range st.quotas {
		out.quotas[r] = cloneJSON(q)
	}
	for h, a := range st.attributes {
		out.attributes[h] = cloneJSON(a)
	}
	return out
}

func cloneJSON[T any](v *T) *T {
	if v == nil {
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		panic("storage: clone of immutable data model value failed: " + err.Error())
	}
	out := new(T)
	if err := json.Unmarshal(b, out); err != nil {
		panic("storage: clone of immutable data model value failed: " + err.Error())
	}
	return out
}

func cloneTask(t *types.ScheduledTask) *types.ScheduledTask { return cloneJSON(t) }

// Store is the in-memory storage façade (spec.md §4.1). Reads never block
// writers: the published state is copy-on-write, so ConsistentRead and
// WeaklyConsistentRead simply load the current pointer. Write serializes
// writers with writeMu and commits the mutated scratch copy only if the
// mutation returns nil.
type Store struct {
	ptr     atomic.Pointer[state]
	writeMu sync.Mutex

	bus                *events.Broker
	slowQueryThreshold time.Duration
}

// New constructs an empty Store. bus may be nil, in which case no events
// are published. A zero slowQueryThreshold falls back to
// DefaultSlowQueryThreshold.
func New(bus *events.Broker, slowQueryThreshold time.Duration) *Store {
	if slowQueryThreshold <= 0 {
		slowQueryThreshold = DefaultSlowQueryThreshold
	}
	s := &Store{bus: bus, slowQueryThreshold: slowQueryThreshold}
	s.ptr.Store(newState())
	if bus != nil {
		bus.Publish(&events.Event{Type: events.EventStorageStarted})
	}
	return s
}

// ConsistentRead runs work against a fixed snapshot taken at entry. Writes
// committed while work runs are never observed, matching linearizable
// read-after-write semantics for the duration of the closure.
func (s *Store) ConsistentRead(work func(Provider)) {
	start := time.Now()
	snap := s.ptr.Load()
	work(snapshotView{st: snap})
	s.recordDuration("consistentRead", start)
}

// WeaklyConsistentRead runs work against whatever snapshot is current at
// the moment of each individual Fetch call, eliding any cross-call
// synchronization. Used by hot paths (offer matching, GC) that tolerate a
// just-missed commit.
func (s *Store) WeaklyConsistentRead(work func(Provider)) {
	start := time.Now()
	work(liveView{s: s})
	s.recordDuration("weaklyConsistentRead", start)
}

// Write runs mutation against a scratch copy of the state. If mutation
// returns an error, the scratch copy is discarded and the mutation has no
// visible effect. On success the scratch copy is published atomically and
// state-change events are emitted after the write lock is released, so
// subscriber callbacks can never deadlock the store.
func (s *Store) Write(mutation func(Mutator) error) error {
	start := time.Now()

	s.writeMu.Lock()
	base := s.ptr.Load()
	scratch := base.clone()
	view := &mutableView{st: scratch, changes: &changeSet{}}

	err := mutation(view)
	if err != nil {
		s.writeMu.Unlock()
		return err
	}
	s.ptr.Store(scratch)
	s.writeMu.Unlock()

	s.recordDuration("write", start)
	s.publishEvents(view.changes)
	return nil
}

func (s *Store) recordDuration(op string, start time.Time) {
	d := time.Since(start)
	metrics.StorageOperationDuration.WithLabelValues(op).Observe(d.Seconds())
	if d > s.slowQueryThreshold {
		metrics.StorageSlowQueriesTotal.WithLabelValues(op).Inc()
		log.WithComponent("storage").Warn().
			Str("op", op).
			Dur("duration", d).
			Msg("slow storage query")
	}
}

type taskChange struct {
	task *types.ScheduledTask
	from types.Status
}

type changeSet struct {
	stateChanged []taskChange
	deletedIDs   []string
}

func (s *Store) publishEvents(c *changeSet) {
	if s.bus == nil {
		return
	}
	for _, ch := range c.stateChanged {
		t := ch.task
		s.bus.Publish(events.NewTaskStateChangeEvent(t.ID(), t.JobKey().ToPath(), string(ch.from), string(t.Status)))
	}
	if len(c.deletedIDs) > 0 {
		s.bus.Publish(events.NewTasksDeletedEvent(len(c.deletedIDs)))
	}
}

// Snapshot is an opaque, deep-copied point-in-time capture of the store.
// It is memory-only: Snapshot/Restore never touch disk, and its contents
// are unexported, so it can only be handed back to Restore in the same
// process; it cannot be serialized.
type Snapshot struct{ st *state }

// Snapshot captures the current state.
func (s *Store) Snapshot() *Snapshot {
	return &Snapshot{st: s.ptr.Load().clone()}
}

// Restore replaces the store's entire state with snap's. A single
// StorageStarted event is published; no per-task events are emitted.
func (s *Store) Restore(snap *Snapshot) {
	s.writeMu.Lock()
	s.ptr.Store(snap.st.clone())
	s.writeMu.Unlock()
	if s.bus != nil {
		s.bus.Publish(&events.Event{Type: events.EventStorageStarted})
	}
}

func fetchTasks(st *state, q query.Query) []*types.ScheduledTask {
	var candidates []*types.ScheduledTask
	switch {
	case len(q.TaskIDs) > 0:
		for _, id := range q.TaskIDs {
			if t, ok := st.tasks[id]; ok {
				candidates = append(candidates, t)
			}
		}
	default:
		if jk, ok := q.JobKey(); ok {
			for id := range st.jobIndex[jk] {
				if t, ok := st.tasks[id]; ok {
					candidates = append(candidates, t)
				}
			}
		} else {
			for _, t := range st.tasks {
				candidates = append(candidates, t)
			}
		}
	}

	out := make([]*types.ScheduledTask, 0, len(candidates))
	for _, t := range candidates {
		if q.Matches(t) {
			out = append(out, cloneTask(t))
		}
	}
	return out
}

func fetchJob(st *state, managerID string, key types.JobKey) (*types.JobConfiguration, bool) {
	j, ok := st.jobs[managerID][key]
	if !ok {
		return nil, false
	}
	return cloneJSON(j), true
}

func fetchJobs(st *state, managerID string) []*types.JobConfiguration {
	byKey := st.jobs[managerID]
	out := make([]*types.JobConfiguration, 0, len(byKey))
	for _, j := range byKey {
		out = append(out, cloneJSON(j))
	}
	return out
}

func fetchUpdate(st *state, key types.JobKey) (*types.UpdateConfiguration, bool) {
	u, ok := st.updates[key]
	if !ok {
		return nil, false
	}
	return cloneJSON(u), true
}

func fetchQuota(st *state, role string) (*types.Quota, bool) {
	q, ok := st.quotas[role]
	if !ok {
		return nil, false
	}
	return cloneJSON(q), true
}

func fetchAttributes(st *state, host string) (*types.HostAttributes, bool) {
	a, ok := st.attributes[host]
	if !ok {
		return nil, false
	}
	return cloneJSON(a), true
}

func fetchAllAttributes(st *state) []*types.HostAttributes {
	out := make([]*types.HostAttributes, 0, len(st.attributes))
	for _, a := range st.attributes {
		out = append(out, cloneJSON(a))
	}
	return out
}

// snapshotView answers Provider calls against a fixed, never-mutated
// state: the backbone of ConsistentRead.
type snapshotView struct{ st *state }

func (v snapshotView) FetchTasks(q query.Query) []*types.ScheduledTask { return fetchTasks(v.st, q) }
func (v snapshotView) FetchTask(id string) (*types.ScheduledTask, bool) {
	t, ok := v.st.tasks[id]
	if !ok {
		return nil, false
	}
	return cloneTask(t), true
}
func (v snapshotView) FetchJob(managerID string, key types.JobKey) (*types.JobConfiguration, bool) {
	return fetchJob(v.st, managerID, key)
}
func (v snapshotView) FetchJobs(managerID string) []*types.JobConfiguration {
	return fetchJobs(v.st, managerID)
}
func (v snapshotView) FetchUpdate(key types.JobKey) (*types.UpdateConfiguration, bool) {
	return fetchUpdate(v.st, key)
}
func (v snapshotView) FetchQuota(role string) (*types.Quota, bool) { return fetchQuota(v.st, role) }
func (v snapshotView) FetchAttributes(host string) (*types.HostAttributes, bool) {
	return fetchAttributes(v.st, host)
}
func (v snapshotView) FetchAllAttributes() []*types.HostAttributes {
	return fetchAllAttributes(v.st)
}

// liveView answers every Provider call against whatever state is current
// at the moment of the call: the backbone of WeaklyConsistentRead.
type liveView struct{ s *Store }

func (v liveView) FetchTasks(q query.Query) []*types.ScheduledTask {
	return fetchTasks(v.s.ptr.Load(), q)
}
func (v liveView) FetchTask(id string) (*types.ScheduledTask, bool) {
	return snapshotView{st: v.s.ptr.Load()}.FetchTask(id)
}
func (v liveView) FetchJob(managerID string, key types.JobKey) (*types.JobConfiguration, bool) {
	return fetchJob(v.s.ptr.Load(), managerID, key)
}
func (v liveView) FetchJobs(managerID string) []*types.JobConfiguration {
	return fetchJobs(v.s.ptr.Load(), managerID)
}
func (v liveView) FetchUpdate(key types.JobKey) (*types.UpdateConfiguration, bool) {
	return fetchUpdate(v.s.ptr.Load(), key)
}
func (v liveView) FetchQuota(role string) (*types.Quota, bool) {
	return fetchQuota(v.s.ptr.Load(), role)
}
func (v liveView) FetchAttributes(host string) (*types.HostAttributes, bool) {
	return fetchAttributes(v.s.ptr.Load(), host)
}
func (v liveView) FetchAllAttributes() []*types.HostAttributes {
	return fetchAllAttributes(v.s.ptr.Load())
}

// mutableView answers Provider/Mutator calls against a writer's scratch
// state copy, recording which tasks changed for post-commit publication.
type mutableView struct {
	st      *state
	changes *changeSet
}

func (v *mutableView) FetchTasks(q query.Query) []*types.ScheduledTask { return fetchTasks(v.st, q) }
func (v *mutableView) FetchTask(id string) (*types.ScheduledTask, bool) {
	return snapshotView{st: v.st}.FetchTask(id)
}
func (v *mutableView) FetchJob(managerID string, key types.JobKey) (*types.JobConfiguration, bool) {
	return fetchJob(v.st, managerID, key)
}
func (v *mutableView) FetchJobs(managerID string) []*types.JobConfiguration {
	return fetchJobs(v.st, managerID)
}
func (v *mutableView) FetchUpdate(key types.JobKey) (*types.UpdateConfiguration, bool) {
	return fetchUpdate(v.st, key)
}
func (v *mutableView) FetchQuota(role string) (*types.Quota, bool) { return fetchQuota(v.st, role) }
func (v *mutableView) FetchAttributes(host string) (*types.HostAttributes, bool) {
	return fetchAttributes(v.st, host)
}
func (v *mutableView) FetchAllAttributes() []*types.HostAttributes {
	return fetchAllAttributes(v.st)
}

func (v *mutableView) saveTaskLocked(t *types.ScheduledTask) types.Status {
	id := t.ID()
	var from types.Status
	if old, ok := v.st.tasks[id]; ok {
		from = old.Status
		oldKey := old.JobKey()
		if idx, ok := v.st.jobIndex[oldKey]; ok {
			delete(idx, id)
			if len(idx) == 0 {
				delete(v.st.jobIndex, oldKey)
			}
		}
	}
	cp := cloneTask(t)
	v.st.tasks[id] = cp

	jk := cp.JobKey()
	idx, ok := v.st.jobIndex[jk]
	if !ok {
		idx = make(map[string]struct{})
		v.st.jobIndex[jk] = idx
	}
	idx[id] = struct{}{}
	return from
}

func (v *mutableView) SaveTasks(tasks ...*types.ScheduledTask) {
	for _, t := range tasks {
		from := v.saveTaskLocked(t)
		v.changes.stateChanged = append(v.changes.stateChanged, taskChange{task: cloneTask(t), from: from})
	}
}

func (v *mutableView) DeleteTasks(ids ...string) {
	for _, id := range ids {
		t, ok := v.st.tasks[id]
		if !ok {
			continue
		}
		jk := t.JobKey()
		if idx, ok := v.st.jobIndex[jk]; ok {
			delete(idx, id)
			if len(idx) == 0 {
				delete(v.st.jobIndex, jk)
			}
		}
		delete(v.st.tasks, id)
		v.changes.deletedIDs = append(v.changes.deletedIDs, id)
	}
}

func (v *mutableView) MutateTasks(q query.Query, fn func(*types.ScheduledTask)) []*types.ScheduledTask {
	matched := fetchTasks(v.st, q)
	out := make([]*types.ScheduledTask, 0, len(matched))
	for _, t := range matched {
		originalID := t.ID()
		before := cloneTask(t)
		fn(t)
		t.AssignedTask.TaskID = originalID // id is immutable

		if !reflect.DeepEqual(before, t) {
			from := v.saveTaskLocked(t)
			v.changes.stateChanged = append(v.changes.stateChanged, taskChange{task: cloneTask(t), from: from})
		}
		out = append(out, t)
	}
	return out
}

func (v *mutableView) SaveJob(managerID string, job *types.JobConfiguration) {
	byKey, ok := v.st.jobs[managerID]
	if !ok {
		byKey = make(map[types.JobKey]*types.JobConfiguration)
		v.st.jobs[managerID] = byKey
	}
	byKey[job.Key] = cloneJSON(job)
}

func (v *mutableView) DeleteJob(managerID string, key types.JobKey) {
	if byKey, ok := v.st.jobs[managerID]; ok {
		delete(byKey, key)
	}
}

func (v *mutableView) SaveUpdate(u *types.UpdateConfiguration) {
	v.st.updates[u.JobKey] = cloneJSON(u)
}

func (v *mutableView) DeleteUpdate(key types.JobKey) {
	delete(v.st.updates, key)
}

func (v *mutableView) SaveQuota(role string, q *types.Quota) {
	v.st.quotas[role] = cloneJSON(q)
}

func (v *mutableView) SaveAttributes(a *types.HostAttributes) {
	v.st.attributes[a.Host] = cloneJSON(a)
}
