package types

// Resources is the normalized "slot" the filter and preempter reason
// about — either a free offer or the reservation a running task holds.
type Resources struct {
	CPU       float64
	RAMMB     int64
	DiskMB    int64
	FreePorts int
}

// ExecutorCPUReservation and ExecutorRAMReservationMB are subtracted from
// every offer before it is matched against candidates (spec.md §4.5/§6).
// They default to the spec.md §6 knob defaults and may be overridden at
// startup from pkg/config.
var (
	ExecutorCPUReservation   = 0.25
	ExecutorRAMReservationMB int64 = 128
)

// LessExecutorReservation returns a copy of r with the fixed per-offer
// executor reservation subtracted. Resulting values are never negative.
func (r Resources) LessExecutorReservation() Resources {
	cpu := r.CPU - ExecutorCPUReservation
	if cpu < 0 {
		cpu = 0
	}
	ram := r.RAMMB - ExecutorRAMReservationMB
	if ram < 0 {
		ram = 0
	}
	return Resources{CPU: cpu, RAMMB: ram, DiskMB: r.DiskMB, FreePorts: r.FreePorts}
}

// FromTaskConfig derives the Resources reserved by a task, for use when
// sizing the slot a preemption victim would free up.
func FromTaskConfig(c TaskConfig) Resources {
	return Resources{
		CPU:       float64(c.NumCPUs),
		RAMMB:     c.RAMMB,
		DiskMB:    c.DiskMB,
		FreePorts: len(c.RequestedPorts),
	}
}
