// Package queryir is the query representation for reading activity
// ledgers back out of storage.
//
// A Query selects activity entries of one execution. Predicates filter on
// the entry columns (node, node type, action, tick, seq) and on correlation
// ids. Backends compile queries; the querysql package targets the SQLite
// store.
//
// Query and Predicate are sealed: only types in this package implement
// them, so backends can switch on them exhaustively.
//
// Results are always in ledger order. A query has no way to ask for any
// other order, which keeps every read of a ledger deterministic.
package queryir
