// Package harness runs conformance cases against the simulation engine.
//
// A case names a scenario document, the external events to seed, run
// limits and a list of assertions over the resulting ledger. Every case
// runs on a fresh engine and records its run into a fresh in-memory
// store; assertions are evaluated against the ledger read back from the
// store, so a passing case also proves the ledger survives persistence.
//
// # Case Format
//
//	name: delivery_completes
//	description: "An order reaches the sink in its final state"
//	scenario: ../scenarios/delivery.yaml   # or an inline document
//	events:                                 # or a path to an event log
//	  - id: ord-1
//	    timestamp: 1
//	    type: order_placed
//	    targetDataSourceId: orders
//	    data: { action: deliver }
//	limits: { max_steps: 100, max_ticks: 50 }
//	strict_guards: false
//	assertions:
//	  - type: outcome
//	    outcome: completed
//	  - type: activity_contains
//	    action: consume
//	    node: done
//	    value: { action: deliver }
//	  - type: activity_count
//	    action: consume
//	    count: 1
//	  - type: activity_order
//	    actions: [emit, state_transition, consume]
//	  - type: node_state
//	    node: done
//	    expect: { consumed: 1 }
//	  - type: node_errors
//	    count: 0
//
// Relative paths resolve against the directory of the case file.
//
// # Golden Traces
//
// RunWithGolden compares a compact rendering of the ledger (sequence,
// tick, node and action per entry) against testdata/golden/<name>.golden.
// Regenerate with:
//
//	go test ./internal/harness -update
package harness
