package stm

import "fmt"

// Attrs are the hints spec.md §4.3 lists for Begin. They never change
// correctness, only which fast paths the runtime takes.
type Attrs struct {
	// ReadOnly disables write-set allocation entirely; see BeginReadOnly.
	ReadOnly bool
	// NoOverwrite hints that on conflict, waiting a short while is more
	// likely to let this transaction succeed than restarting immediately:
	// runSoftware (hybrid.go) backs off with growing delay between retries
	// when set, instead of reattempting as fast as possible. It never
	// changes the commit protocol itself.
	NoOverwrite bool
}

// Txn is a per-thread transaction descriptor (spec.md §3). A Txn is
// created once per thread (see ThreadEnter) and reused across attempts,
// exactly as tiancaiamao-stm's Run reuses a *Txn instead of allocating a
// fresh one per Atomically call.
type Txn struct {
	id uint64 // small, thread-owned identifier; used as the lock owner id

	attrs    Attrs
	snapshot uint64

	reads          []*readRecord
	writeSet       map[uint64]*writeRecord
	writeAddrIndex map[uintptr]*writeTriple

	ops   []*operationRecord
	curOp opRef

	allocLog []allocEntry

	lockedSlots []lockedSlot // slots this txn currently holds, ascending order

	mergeDepth int     // >0 while inside a merge callback; re-entrant across ops
	mergingOps []opRef // stack of operations currently being repaired
	finished   bool    // finish_merge() was called during the active merge

	stats *statCounters
}

// opMergeActive reports whether op already has a merge callback running
// for it somewhere on the current call stack. The engine supports being
// re-entered for a different operation (a repair that itself triggers a
// conflict on an ancestor) but not for the same one twice (spec.md
// §4.7(iii)).
func (txn *Txn) opMergeActive(op opRef) bool {
	for _, o := range txn.mergingOps {
		if o == op {
			return true
		}
	}
	return false
}

func (txn *Txn) pushMergingOp(op opRef) {
	txn.mergingOps = append(txn.mergingOps, op)
}

func (txn *Txn) popMergingOp() {
	txn.mergingOps = txn.mergingOps[:len(txn.mergingOps)-1]
}

// restartSignal is panicked to unwind a transaction body back to its
// retry loop without using a real error return, mirroring the longjmp
// the source uses (spec.md §9 "Longjmp-style control flow"): the body is
// meant to be non-returning except through a successful commit.
type restartSignal struct{}

func restart() {
	panic(restartSignal{})
}

// fatalErr is panicked for conditions spec.md §7 classifies as Fatal:
// registry corruption, arithmetic/assertion violations. Unlike
// restartSignal this is never recovered inside the runtime; it is meant
// to crash the process.
type fatalErr struct{ msg string }

func (e fatalErr) Error() string { return e.msg }

func fatalf(format string, args ...any) {
	panic(fatalErr{fmt.Sprintf(format, args...)})
}

// reset prepares txn for a fresh attempt: clears every per-attempt log
// but keeps backing arrays to avoid reallocating on the hot path, the
// same optimisation tiancaiamao-stm's resetForReuse makes.
func (txn *Txn) reset(attrs Attrs) {
	txn.attrs = attrs
	txn.snapshot = clock.readSnapshot()
	txn.reads = txn.reads[:0]
	if !attrs.ReadOnly {
		clear(txn.writeSet)
		clear(txn.writeAddrIndex)
	} else {
		txn.writeSet = nil
		txn.writeAddrIndex = nil
	}
	txn.allocLog = txn.allocLog[:0]
	txn.lockedSlots = txn.lockedSlots[:0]
	txn.mergeDepth = 0
	txn.mergingOps = txn.mergingOps[:0]
	txn.finished = false
	txn.initRootOp()
}

// runAttempt runs one speculative execution of body, recovering a
// restartSignal (returns false, meaning "try again") and letting any
// other panic (fatalErr or an application bug) propagate.
func (txn *Txn) runAttempt(body func(*Txn)) (committed bool) {
	defer func() {
		if r := recover(); r != nil {
			if _, ok := r.(restartSignal); ok {
				txn.rollbackLocks()
				txn.rollbackAllocs()
				committed = false
				return
			}
			panic(r)
		}
	}()
	body(txn)
	committed = txn.tryCommit()
	return committed
}

// Atomically runs body to completion against the global clock/lock table,
// retrying until it commits. This is the direct analogue of
// tiancaiamao-stm's Atomically, reusing a throwaway Txn for callers that
// do not need ThreadEnter-level identity.
func Atomically(body func(*Txn)) {
	txn := &Txn{id: anonymousTxnID()}
	RunWithAttrs(txn, Attrs{}, body)
}

// BeginReadOnly is Atomically with the ReadOnly hint set, matching
// tm.h's distinct TM_BEGIN_RO() entry point (SPEC_FULL.md §4.1): the
// write-set map is never allocated for the lifetime of the transaction.
func BeginReadOnly(body func(*Txn)) {
	txn := &Txn{id: anonymousTxnID()}
	RunWithAttrs(txn, Attrs{ReadOnly: true}, body)
}

// RunWithAttrs runs body against txn (typically one owned by a
// ThreadHandle) with the given attributes, dispatched through the
// hybrid HTM/STM path (hybrid.go), retrying until commit.
func RunWithAttrs(txn *Txn, attrs Attrs, body func(*Txn)) {
	freezeRegistry()
	dispatch(txn, attrs, body)
}
