// Package stm implements a hybrid hardware/software transactional memory
// runtime. A transaction is a closure run through Atomically (or, for
// control over thread identity and attributes, through a ThreadHandle's
// Run or through RunWithAttrs); the runtime provides optimistic concurrency control via a
// global version clock and a table of versioned locks, and augments the
// classic STM abort-and-restart protocol with an operation log: the
// application can describe a transaction's nested operations and register
// a merge callback per operation that repairs a transaction's in-flight
// state when a conflict is detected on a read, avoiding a full restart.
//
// The hot path (Load/Store inside a running transaction) never logs; the
// read, write and operation records it creates for repair live in the
// per-thread Txn, reset at the start of every attempt.
package stm
