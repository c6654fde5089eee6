// Package scenario loads and validates scenario documents and external
// event logs.
//
// A document passes through three layers before the engine sees it: an
// embedded CUE schema checks its shape, validator struct tags check the
// decoded ir.Scenario, and wiring rules check that every connection is
// described consistently on both of its ends. Problems from all layers
// are collected into one *ValidationError rather than failing fast.
// Findings that do not stop a run, such as feedback loops or FSM
// definitions the FSM processor will reject at start, are returned as
// warnings.
package scenario
