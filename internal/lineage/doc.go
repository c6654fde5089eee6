// Package lineage reconstructs token ancestry from an activity ledger.
//
// The tracker needs nothing but ledger entries: every entry that carries a
// tokenId contributes a token record, and its parentTokenIds contribute
// edges. From those edges it builds ancestry trees, correlation journeys,
// and graph shape statistics for audit views.
//
// Ledgers produced by the engine are acyclic because a token id hashes its
// parents. Imported or hand-edited ledgers may not be, so every traversal
// guards its current path and reports a CycleDetected record instead of
// recursing forever.
package lineage
