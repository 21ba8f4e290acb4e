package stm

import "sort"

// validateReadSet checks every live read record against the lock table.
// duringCommit distinguishes the two callers: at commit (step 4 of
// spec.md §4.5) a slot locked by this very transaction is fine (it is in
// our own write set); during a plain load-time extension (access.go) we
// hold no locks yet, so any lock at all means another transaction is
// concurrently writing and we cannot safely extend.
func (txn *Txn) validateReadSet(upTo uint64, duringCommit bool) bool {
	for _, r := range txn.reads {
		if r.removed {
			continue
		}
		w := table.readSlot(r.addr)
		if locked, owner := isLocked(w); locked {
			if duringCommit && owner == txn.id {
				continue
			}
			return false
		} else if slotVersion(w) > upTo {
			return false
		}
	}
	return true
}

// tryExtend attempts to move txn's snapshot forward to the current clock,
// the "attempt an extension" step of spec.md §4.4.
func (txn *Txn) tryExtend() bool {
	next := clock.readSnapshot()
	if next == txn.snapshot {
		return true
	}
	if !txn.validateReadSet(next, false) {
		return false
	}
	txn.snapshot = next
	return true
}

// repairAnyReadRecord asks the merge engine to repair every read record
// that fails revalidation against upTo, used at commit step 4 (spec.md
// §4.5: "revalidate every read record ... A failure ... enters the merge
// engine"). Every stale record found must be repaired, not just the
// first: stopping early would leave later records unvalidated and commit
// writes on top of a snapshot that was never actually checked. A write-
// write lock conflict at commit step 2 is deliberately not routed through
// here: it is not a stale-read problem the merge engine's repair
// vocabulary (OK/OK_PARENT/RETRY/...) can fix, since another live
// transaction genuinely holds the slot.
func (txn *Txn) repairAnyReadRecord(upTo uint64) bool {
	for _, r := range txn.reads {
		if r.removed {
			continue
		}
		w := table.readSlot(r.addr)
		locked, owner := isLocked(w)
		stale := (locked && owner != txn.id) || (!locked && slotVersion(w) > upTo)
		if stale {
			if !txn.onReadConflict(r, r.addr) {
				return false
			}
		}
	}
	return true
}

func sortedSlotKeys(m map[uint64]*writeRecord) []uint64 {
	keys := make([]uint64, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// lockedSlot remembers both which slot a transaction locked and the
// version it carried immediately before, so a rollback can restore it
// exactly. Locking a slot overwrites the version bits with the owning
// transaction's id (spec.md §3's odd/even encoding), unlike
// tiancaiamao-stm's versionedWriteLock which only flips a flag bit and
// so never needs to remember what it overwrote.
type lockedSlot struct {
	slot        uint64
	prevVersion uint64
}

// tryCommit runs the commit protocol of spec.md §4.5 once. It returns
// true on success; on failure it has already rolled back any locks taken
// and the caller (runAttempt, via restart()) retries from scratch.
func (txn *Txn) tryCommit() bool {
	if len(txn.writeSet) == 0 && len(txn.allocLog) == 0 {
		txn.finalizeTrivial()
		return true
	}

	slots := sortedSlotKeys(txn.writeSet)
	txn.lockedSlots = txn.lockedSlots[:0]
	for _, s := range slots {
		if ok, prevVersion := table.slots[s].tryLock(txn.id); ok {
			txn.lockedSlots = append(txn.lockedSlots, lockedSlot{slot: s, prevVersion: prevVersion})
			continue
		}
		// A write-write race on a slot someone else already holds is not
		// repairable by the merge engine (it fixes stale reads, not a
		// lock held by another live transaction); restart directly.
		txn.rollbackLocks()
		restart()
	}

	writeVersion := clock.advance()
	if writeVersion != txn.snapshot+2 {
		if !txn.repairAnyReadRecord(txn.snapshot) {
			txn.rollbackLocks()
			restart()
		}
	}

	for _, wr := range txn.writeSet {
		for _, tri := range wr.triples {
			tri.publish(tri.value)
		}
	}
	for _, ls := range txn.lockedSlots {
		table.slots[ls.slot].unlockAt(writeVersion)
	}
	txn.lockedSlots = txn.lockedSlots[:0]

	txn.commitAllocs()
	txn.op(rootOp).closed = true
	txn.bumpCommitStats()
	return true
}

func (txn *Txn) finalizeTrivial() {
	txn.op(rootOp).closed = true
	txn.bumpCommitStats()
}

// rollbackLocks releases every slot this attempt locked, restoring each
// to the exact version it held before locking — never advancing the
// clock, since an aborted attempt made no commit.
func (txn *Txn) rollbackLocks() {
	for _, ls := range txn.lockedSlots {
		table.slots[ls.slot].unlockAt(ls.prevVersion)
	}
	txn.lockedSlots = txn.lockedSlots[:0]
	txn.bumpAbortStats()
}
