// Package scheduler matches PENDING tasks against offered resource slots.
//
// On a fixed tick, it pulls outstanding offers (registered via
// OfferResources), sorts PENDING tasks into scheduling order, and attempts
// each against offers in turn. A task that clears the filter's vetoes gets
// its host/ports recorded and transitions to ASSIGNED in one storage
// write, after which the driver is asked to launch it; an offer that
// satisfies nothing this cycle is
// returned via the driver's CancelOffer so offers are never retained
// across iterations.
//
// HandleStatusUpdate routes driver-reported status changes back through
// the state machine, except for unknown task ids, which are killed
// directly with no storage write.
package scheduler
