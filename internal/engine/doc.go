// Package engine runs playbooks.
//
// ARCHITECTURE:
//
// Executor:
// Walks a playbook graph from one step. Each pending step is a work item on
// an explicit LIFO stack; children of a fired output port are pushed in
// reverse so they run depth-first in link declaration order. Every step that
// runs a component's Execute (or fails) produces an Observation. Faults are
// recorded, never returned: a broken branch does not stop its siblings.
//
// Resumer:
// Re-enters the Executor for a branch suspended by a non-internal component.
// The resumed step runs Execute instead of Notify.
//
// Consumer:
// Elects itself the single active reader of the change stream by polling a
// lock, then feeds every event to each running playbook whose start node
// accepts the event type. Batches are handled strictly in order.
//
// CRITICAL PATTERNS:
//
// Log and continue:
// Errors below the batch handler are logged (and recorded as Observations
// inside the Executor) and processing continues. Nothing is retried.
//
// Bounded runs:
// Cycles in a graph are legal. A per-run step quota (WithMaxSteps) stops a
// run that never terminates.
package engine
