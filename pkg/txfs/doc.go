// Package txfs provides an in-memory hierarchical file store with
// ACI transactions (atomicity, consistency, isolation - durability is
// explicitly out of scope, process exit discards all state).
//
// # Basic Usage
//
//	sys := txfs.NewSystem()
//
//	// Auto-commit: every call without a transaction id runs inside
//	// an implicit single-operation transaction.
//	_ = sys.Touch("/notes", "")
//	_ = sys.Open("/notes")
//	_ = sys.Write("/notes", "hello", "")
//
//	// Explicit transaction
//	id, _ := sys.Begin(txfs.Snapshot)
//	_ = sys.Write("/notes", "world", id)
//	_ = sys.Commit(id)
//
// # Concurrency
//
// A System is safe for concurrent use by any number of goroutines.
// Conflicting mutations are serialized through shared/exclusive
// whole-file locks: a read holds a SHARED lock only while it
// materializes the version, writes are buffered without locks, and
// Commit takes EXCLUSIVE locks on every touched entry and holds them
// until the transaction ends. Acquire is the only blocking call; a
// request that would close a cycle in the wait-for graph fails
// immediately with [ErrDeadlock] instead of waiting.
//
// # Isolation
//
// Reads observe versions according to the transaction's isolation
// level ([ReadUncommitted], [ReadCommitted], [Snapshot]). A
// transaction's own buffered writes are always visible to its own
// reads. Because writes are buffered until commit, READ_UNCOMMITTED
// never observes dirty data and is equivalent to READ_COMMITTED for
// visibility; it differs only in skipping the shared read lock.
//
// # Error Handling
//
// All failures are package-prefixed sentinel errors checked with
// [errors.Is]; see errors.go. [RollbackFailedError] additionally
// carries both the error that triggered a rollback and the error that
// made the rollback itself fail.
package txfs
