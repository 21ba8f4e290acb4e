package stm

// MergeContext is passed to a merge callback (spec.md §4.7). It is only
// valid for the duration of the callback invocation.
type MergeContext struct {
	txn *Txn

	// Addr is the address that conflicted.
	Addr uintptr
	// Read is the conflicting read record's handle.
	Read ReadHandle
	// Op is the operation being repaired.
	Op opRef
	// Previous is the child operation whose repair produced a new
	// return value, when the conflict is propagating upward from a
	// descendant; noOp at the leaf invocation.
	Previous opRef
	hasPrev  bool
	// Leaf reports whether this is the first (innermost) invocation of
	// the walk, i.e. the operation that directly owns the conflicting
	// read.
	Leaf bool
	// OriginalReturn is the return value Op had installed before this
	// merge pass began (only meaningful when Op is closed).
	OriginalReturn any
	hasOriginalRet bool
}

// Txn returns the transaction this merge callback is repairing, for use
// with the Get*/Undo*/BeginOp family of accessors that take Op/Read/Write
// handles.
func (ctx *MergeContext) Txn() *Txn { return ctx.txn }

// PreviousOp returns ctx.Previous and whether it is set.
func (ctx *MergeContext) PreviousOp() (opRef, bool) { return ctx.Previous, ctx.hasPrev }

// OriginalRet returns ctx.OriginalReturn and whether it is set.
func (ctx *MergeContext) OriginalRet() (any, bool) { return ctx.OriginalReturn, ctx.hasOriginalRet }

// FinishMerge marks the repair as complete for the remainder of the
// transaction's current attempt by setting the Txn's finished flag, which
// reset clears. Nothing else in the runtime reads that flag: reads and
// writes made after FinishMerge are attributed to the currently open
// operation exactly as before it.
// It may only be called from inside a merge callback.
func (ctx *MergeContext) FinishMerge() {
	ctx.txn.finished = true
}

// onReadConflict is the single entry point both the load primitive
// (access.go) and commit-time revalidation (commit.go) use when a read
// record is found to conflict. It walks from rec's owning operation
// toward the root, invoking each operation's merge callback, and reports
// whether the conflict was repaired (true) or the transaction must
// restart (false).
func (txn *Txn) onReadConflict(rec *readRecord, addr uintptr) bool {
	txn.mergeDepth++
	defer func() { txn.mergeDepth-- }()

	previous := noOp
	hasPrev := false
	leaf := true

	op := rec.op
	for {
		// Guarantee (iii) of spec.md §4.7: the merge engine is re-entrant
		// across operations but not within a single operation. A callback
		// that triggers another conflict on the very operation it is
		// already repairing (by calling Load/Store recursively, say) is
		// outside that contract; the safe response, like UNSUPPORTED on a
		// closed operation (DESIGN.md Open Question #3), is RETRY rather
		// than recursing into the same callback.
		if txn.opMergeActive(op) {
			return false
		}

		entry, known := lookupOpcode(txn.op(op).opcode)
		var cb MergeCallback
		justInTime := !txn.op(op).closed
		if known {
			if justInTime {
				cb = entry.JustInTime
			} else {
				cb = entry.Delayed
			}
		}

		if cb == nil {
			// No callback for this policy at this level: fall through to
			// the parent, whether the operation is open or closed (unlike
			// an UNSUPPORTED verdict on a closed operation, below).
			if op == rootOp {
				return false
			}
			previous, hasPrev = op, true
			leaf = false
			op = txn.op(op).parent
			continue
		}

		ctx := &MergeContext{
			txn:      txn,
			Addr:     addr,
			Read:     ReadHandle{rec},
			Op:       op,
			Previous: previous,
			hasPrev:  hasPrev,
			Leaf:     leaf,
		}
		if ret, ok := txn.GetOpRet(op); ok {
			ctx.OriginalReturn, ctx.hasOriginalRet = ret, true
		}

		txn.pushMergingOp(op)
		verdict := cb(ctx)
		txn.popMergingOp()
		txn.bumpMergeStats(verdict)
		switch verdict {
		case MergeOK:
			return true
		case MergeOKParent:
			if op == rootOp {
				// Nothing left to propagate to; treat as fully repaired.
				return true
			}
			previous, hasPrev = op, true
			leaf = false
			op = txn.op(op).parent
			continue
		case MergeRetry:
			return false
		case MergeUnsupported:
			// Open Question decision (DESIGN.md #3): UNSUPPORTED on a
			// closed operation's read is treated as RETRY.
			if !justInTime {
				return false
			}
			if op == rootOp {
				return false
			}
			previous, hasPrev = op, true
			leaf = false
			op = txn.op(op).parent
			continue
		case MergeAbort:
			return false
		default:
			return false
		}
	}
}
