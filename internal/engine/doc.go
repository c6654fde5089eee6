// Package engine implements the discrete-event scheduler.
//
// The engine owns one scenario's runtime: a priority queue of events, the
// per-node states, and the activity ledger. Run drains the queue one event
// at a time:
//
//  1. pop the earliest event (ties broken by insertion order)
//  2. route token emissions along the source node's outputs, or
//     dispatch the event to the processor registered for the target
//     node's type
//  3. append the returned activities to the ledger
//  4. schedule the returned events, stamped with ids and causedBy
//
// Determinism is a hard contract. Processors never read the wall clock or
// unseeded randomness, the queue order is total, and map iteration never
// decides an order. Identical scenario and external-event inputs produce
// byte-identical ledgers, which is what Replay checks.
//
// Failures local to a node (unknown node types, unsupported events,
// invalid FSM configuration, strict guard failures) are recorded as
// NodeErrors and node_error ledger entries; they never abort a run.
package engine
