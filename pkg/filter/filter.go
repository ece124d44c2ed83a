// Package filter implements the scheduling veto contract: given an
// offered slot, host, and task, produce the set of reasons (if any) that
// forbid placement (spec.md §4.4).
package filter

import (
	"github.com/cuemby/aurora-core/pkg/events"
	"github.com/cuemby/aurora-core/pkg/query"
	"github.com/cuemby/aurora-core/pkg/storage"
	"github.com/cuemby/aurora-core/pkg/types"
)

// MaxScore marks a veto as hard: it can never be overcome, including by
// the preempter. Lesser scores are informational only.
const MaxScore = 1000

// Veto is one independent reason a task cannot be placed on a host.
type Veto struct {
	Reason string
	Score  int
}

// Hard reports whether v cannot be overcome by preemption logic.
func (v Veto) Hard() bool { return v.Score >= MaxScore }

// Filter evaluates placement vetoes against a Provider snapshot for host
// attribute and sibling-task lookups.
type Filter struct {
	bus *events.Broker
}

// New constructs a Filter. bus may be nil to suppress Vetoed events.
func New(bus *events.Broker) *Filter {
	return &Filter{bus: bus}
}

// Evaluate returns the set of vetoes forbidding task from running in slot
// on host. An empty result means placement is allowed. provider supplies
// host attributes and sibling task state for constraint/limit checks.
func (f *Filter) Evaluate(provider storage.Provider, slot types.Resources, host types.HostAttributes, task types.TaskConfig, taskID string) []Veto {
	var vetoes []Veto

	vetoes = append(vetoes, resourceVetoes(slot, task)...)
	vetoes = append(vetoes, portVeto(slot, task))
	vetoes = append(vetoes, maintenanceVeto(host))

	for _, c := range task.Constraints {
		if v := constraintVeto(provider, host, task, c); v != nil {
			vetoes = append(vetoes, *v)
		}
	}

	if v := dedicatedVeto(provider, host, task); v != nil {
		vetoes = append(vetoes, *v)
	}

	vetoes = compact(vetoes)

	if len(vetoes) > 0 && f.bus != nil {
		f.bus.Publish(events.NewVetoedEvent(taskID, len(vetoes)))
	}

	return vetoes
}

func compact(vetoes []Veto) []Veto {
	out := vetoes[:0]
	for _, v := range vetoes {
		if v.Reason != "" {
			out = append(out, v)
		}
	}
	return out
}

func resourceVetoes(slot types.Resources, task types.TaskConfig) []Veto {
	var out []Veto
	if slot.CPU < float64(task.NumCPUs) {
		out = append(out, Veto{Reason: "insufficient cpu", Score: MaxScore})
	}
	if slot.RAMMB < task.RAMMB {
		out = append(out, Veto{Reason: "insufficient ram", Score: MaxScore})
	}
	if slot.DiskMB < task.DiskMB {
		out = append(out, Veto{Reason: "insufficient disk", Score: MaxScore})
	}
	return out
}

func portVeto(slot types.Resources, task types.TaskConfig) Veto {
	if slot.FreePorts < len(task.RequestedPorts) {
		return Veto{Reason: "insufficient free ports", Score: MaxScore}
	}
	return Veto{}
}

func maintenanceVeto(host types.HostAttributes) Veto {
	switch host.MaintenanceMode {
	case types.MaintenanceDraining, types.MaintenanceDrained:
		return Veto{Reason: "host " + string(host.MaintenanceMode) + " for maintenance", Score: MaxScore}
	}
	return Veto{}
}

func constraintVeto(provider storage.Provider, host types.HostAttributes, task types.TaskConfig, c types.Constraint) *Veto {
	switch c.Variant {
	case types.ConstraintValue:
		attr, ok := host.Attribute(c.Name)
		matches := false
		if ok {
			for _, v := range c.Values {
				if attr.Has(v) {
					matches = true
					break
				}
			}
		}
		if c.Negated {
			matches = !matches
		}
		if !matches {
			return &Veto{Reason: "constraint mismatch: " + c.Name, Score: MaxScore}
		}
		return nil

	case types.ConstraintLimit:
		attr, ok := host.Attribute(c.Name)
		if !ok || len(attr.Values) == 0 {
			return &Veto{Reason: "constraint mismatch: " + c.Name, Score: MaxScore}
		}
		hostVal := attr.Values[0]
		count := countActiveWithAttributeValue(provider, task.JobKey(), c.Name, hostVal)
		if count >= c.Limit {
			return &Veto{Reason: "constraint limit exceeded: " + c.Name, Score: MaxScore}
		}
		return nil
	}
	return nil
}

// countActiveWithAttributeValue counts active tasks belonging to jobKey
// whose assigned host carries attrName == attrVal.
func countActiveWithAttributeValue(provider storage.Provider, jobKey types.JobKey, attrName, attrVal string) int {
	q := query.Query{OwnerRole: jobKey.Role, Environment: jobKey.Environment, JobName: jobKey.Name}.Active()
	count := 0
	for _, t := range provider.FetchTasks(q) {
		host := t.AssignedTask.SlaveHost
		if host == "" {
			continue
		}
		attrs, ok := provider.FetchAttributes(host)
		if !ok {
			continue
		}
		attr, ok := attrs.Attribute(attrName)
		if ok && attr.Has(attrVal) {
			count++
		}
	}
	return count
}

func dedicatedVeto(provider storage.Provider, host types.HostAttributes, task types.TaskConfig) *Veto {
	attr, ok := host.Attribute(types.DedicatedAttribute)
	if !ok || len(attr.Values) == 0 {
		return nil
	}
	// Host carries a dedicated reservation: only the matching role may
	// schedule here, regardless of whether this task names the constraint.
	for _, v := range attr.Values {
		role, _, ok := splitDedicated(v)
		if ok && role == task.Owner.Role {
			return nil
		}
	}
	return &Veto{Reason: "host dedicated to another role", Score: MaxScore}
}

// splitDedicated parses a "role/name" dedicated attribute value.
func splitDedicated(v string) (role, name string, ok bool) {
	for i := 0; i < len(v); i++ {
		if v[i] == '/' {
			return v[:i], v[i+1:], true
		}
	}
	return "", "", false
}

// DefaultConstraints returns the constraints admission injects when a
// task does not already name them: host-limit 1 always, plus rack-limit 1
// for non-dedicated production service jobs.
func DefaultConstraints(task types.TaskConfig) []types.Constraint {
	has := func(name string) bool {
		for _, c := range task.Constraints {
			if c.Name == name {
				return true
			}
		}
		return false
	}

	var out []types.Constraint
	if !has(types.HostConstraint) {
		out = append(out, types.Constraint{Name: types.HostConstraint, Variant: types.ConstraintLimit, Limit: 1})
	}
	if task.IsProduction && task.IsService && !has(types.RackConstraint) && !isDedicated(task) {
		out = append(out, types.Constraint{Name: types.RackConstraint, Variant: types.ConstraintLimit, Limit: 1})
	}
	return out
}

func isDedicated(task types.TaskConfig) bool {
	for _, c := range task.Constraints {
		if c.Name == types.DedicatedAttribute {
			return true
		}
	}
	return false
}
