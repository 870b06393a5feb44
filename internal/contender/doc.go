// Package contender implements the per-task leadership lifecycle.
//
// A Contender registers with the Elector for one task. Each time leadership is
// granted it evaluates the fair-share rule under the ledger lock: it either
// abandons (returns at once, letting the elector re-queue it) or starts the
// task's work unit and blocks until the unit signals that it stopped.
//
// State machine:
//
//	Idle -> Contending -> Evaluating -> Executing -> Releasing -> Contending
//	                          |
//	                          +-> Contending (abandon)
//
// Closed is terminal and reachable from any state once the coordinator stops.
//
// If the leadership context is cancelled while executing (lease lost or
// shutdown), the contender asks the unit to stop and waits for the wake signal
// at most StuckTimeout before reporting types.ErrStuckLeadership.
package contender
