package stm

// opRef indexes into Txn.ops. The root operation of every transaction is
// always index 0; noOp marks "not attached to any operation" and should
// never appear on a live record once a transaction has begun.
type opRef int32

const rootOp opRef = 0
const noOp opRef = -1

// operationRecord is one node of a transaction's operation tree (spec.md
// §3 "operation record"). parent/firstChild/nextSibling encode the tree
// with arena indices rather than pointers so the whole arena can be
// reset (not freed) at the start of every attempt, following the "arena
// with stable indices" design note (spec.md §9).
type operationRecord struct {
	opcode       OpcodeID
	args         []any
	ret          any
	retSet       bool
	parent       opRef
	firstChild   opRef
	nextSibling  opRef
	closed       bool
	reads        []*readRecord
	writes       []*writeTriple
}

func (txn *Txn) op(ref opRef) *operationRecord {
	return txn.ops[ref]
}

// initRootOp resets the operation arena to hold just the root operation,
// open, with no recorded reads/writes/children.
func (txn *Txn) initRootOp() {
	txn.ops = txn.ops[:0]
	txn.ops = append(txn.ops, &operationRecord{
		opcode:      InvalidOpcode, // never collides with a real registered opcode
		parent:      noOp,
		firstChild:  noOp,
		nextSibling: noOp,
	})
	txn.curOp = rootOp
}

// BeginOp pushes a new operation record as a child of the operation
// currently open in txn, and opens it: subsequent reads and writes are
// attributed to it until a matching EndOp. Per spec.md invariant 5, its
// parent is exactly whatever operation was open when BeginOp was called.
func (txn *Txn) BeginOp(opcode OpcodeID, args ...any) opRef {
	if _, ok := lookupOpcode(opcode); !ok {
		fatalf("%s: %d", errNotRegistered, opcode)
	}
	ref := opRef(len(txn.ops))
	rec := &operationRecord{
		opcode:      opcode,
		args:        args,
		parent:      txn.curOp,
		firstChild:  noOp,
		nextSibling: noOp,
	}
	txn.ops = append(txn.ops, rec)

	parent := txn.op(txn.curOp)
	if parent.firstChild == noOp {
		parent.firstChild = ref
	} else {
		sib := parent.firstChild
		for txn.op(sib).nextSibling != noOp {
			sib = txn.op(sib).nextSibling
		}
		txn.op(sib).nextSibling = ref
	}
	txn.curOp = ref
	return ref
}

// EndOp closes the operation opened by the matching BeginOp, installing
// its return value and making it eligible for delayed merges. It is a
// fatal usage error to call EndOp when the currently open operation does
// not match opcode, or when closing the root operation.
func (txn *Txn) EndOp(opcode OpcodeID, ret any) {
	cur := txn.op(txn.curOp)
	if txn.curOp == rootOp {
		fatalf("stm: EndOp called with no operation open")
	}
	if cur.opcode != opcode {
		fatalf("stm: EndOp(%s) does not match open operation %s", OpcodeName(opcode), OpcodeName(cur.opcode))
	}
	cur.closed = true
	cur.ret = ret
	cur.retSet = true
	txn.curOp = cur.parent
}

// CurrentOp returns the operation currently open in txn.
func (txn *Txn) CurrentOp() opRef { return txn.curOp }

func (txn *Txn) GetOpOpcode(op opRef) OpcodeID { return txn.op(op).opcode }
func (txn *Txn) GetOpArgs(op opRef) []any      { return txn.op(op).args }
func (txn *Txn) GetOpRet(op opRef) (any, bool) {
	rec := txn.op(op)
	return rec.ret, rec.retSet
}

// GetLoadOp returns the operation a read record is attributed to.
func (txn *Txn) GetLoadOp(h ReadHandle) opRef { return h.rec.op }

// GetStoreOp returns the operation a write triple is attributed to.
func (txn *Txn) GetStoreOp(h WriteHandle) opRef { return h.tri.op }

// SameOpID reports whether a and b name the same operation record.
func SameOpID(a, b opRef) bool { return a == b }

// FindOpDescendant searches the subtree rooted at op (inclusive) for the
// first operation with the given opcode, in pre-order.
func (txn *Txn) FindOpDescendant(op opRef, opcode OpcodeID) (opRef, bool) {
	if txn.op(op).opcode == opcode {
		return op, true
	}
	for c := txn.op(op).firstChild; c != noOp; c = txn.op(c).nextSibling {
		if found, ok := txn.FindOpDescendant(c, opcode); ok {
			return found, true
		}
	}
	return noOp, false
}

// GetLoadNext walks the read set from h, in insertion order (or reverse),
// skipping undone entries, optionally restricted to reads attributed to
// the same operation as h.
func (txn *Txn) GetLoadNext(h ReadHandle, sameOp bool, reverse bool) (ReadHandle, bool) {
	step := 1
	if reverse {
		step = -1
	}
	i := int(h.rec.idx) + step
	for i >= 0 && i < len(txn.reads) {
		r := txn.reads[i]
		if !r.removed && (!sameOp || r.op == h.rec.op) {
			return ReadHandle{r}, true
		}
		i += step
	}
	return ReadHandle{}, false
}

// GetLoadLast returns the most recent (latest-inserted), non-removed read
// of the same address as h. Used by merge callbacks to find the freshest
// observation of a location after repairing an earlier one.
func (txn *Txn) GetLoadLast(h ReadHandle) (ReadHandle, bool) {
	for i := len(txn.reads) - 1; i >= 0; i-- {
		r := txn.reads[i]
		if !r.removed && r.addr == h.rec.addr {
			return ReadHandle{r}, true
		}
	}
	return ReadHandle{}, false
}

// UndoRead removes h from the read set. The record stays in place
// (tombstoned) so the remaining entries' relative order is unaffected,
// satisfying spec.md invariant 3.
func (txn *Txn) UndoRead(h ReadHandle) {
	if h.rec.removed {
		return
	}
	h.rec.removed = true
	op := txn.op(h.rec.op)
	op.reads = removeReadPtr(op.reads, h.rec)
}

// UndoWrite removes a buffered write triple.
func (txn *Txn) UndoWrite(h WriteHandle) {
	tri := h.tri
	wr, ok := txn.writeSet[(uint64(tri.addr)>>pointerAlignBits)&(lockTableSize-1)]
	if ok {
		wr.triples = removeTriplePtr(wr.triples, tri)
		if len(wr.triples) == 0 {
			delete(txn.writeSet, wr.slot)
		}
	}
	if txn.writeAddrIndex[tri.addr] == tri {
		delete(txn.writeAddrIndex, tri.addr)
		// An earlier buffered write of the same address, if any, becomes
		// the most recent one again.
		if ok {
			for i := len(wr.triples) - 1; i >= 0; i-- {
				if wr.triples[i].addr == tri.addr {
					txn.writeAddrIndex[tri.addr] = wr.triples[i]
					break
				}
			}
		}
	}
	op := txn.op(tri.op)
	op.writes = removeTriplePtr(op.writes, tri)
}

// UndoOpDescendants removes every descendant of op with the given opcode,
// together with the reads and writes attributed to each.
func (txn *Txn) UndoOpDescendants(op opRef, opcode OpcodeID) {
	var victims []opRef
	var walk func(o opRef)
	walk = func(o opRef) {
		for c := txn.op(o).firstChild; c != noOp; c = txn.op(c).nextSibling {
			if txn.op(c).opcode == opcode {
				victims = append(victims, c)
			}
			walk(c)
		}
	}
	walk(op)
	for _, v := range victims {
		txn.clearOpRecords(v)
		// Unlink v from its parent's child list.
		parent := txn.op(txn.op(v).parent)
		if parent.firstChild == v {
			parent.firstChild = txn.op(v).nextSibling
			continue
		}
		for s := parent.firstChild; s != noOp; s = txn.op(s).nextSibling {
			if txn.op(s).nextSibling == v {
				txn.op(s).nextSibling = txn.op(v).nextSibling
				break
			}
		}
	}
}

// ClearOp resets a closed operation as if its body had never executed:
// it un-attributes (per the given flags) its reads, writes and children,
// and reopens it.
func (txn *Txn) ClearOp(op opRef, reads, writes, children bool) {
	rec := txn.op(op)
	if reads {
		for _, r := range append([]*readRecord(nil), rec.reads...) {
			txn.UndoRead(ReadHandle{r})
		}
	}
	if writes {
		for _, w := range append([]*writeTriple(nil), rec.writes...) {
			txn.UndoWrite(WriteHandle{w})
		}
	}
	if children {
		for c := rec.firstChild; c != noOp; c = txn.op(c).nextSibling {
			txn.clearOpRecords(c)
		}
		rec.firstChild = noOp
	}
	rec.closed = false
	rec.ret = nil
	rec.retSet = false
}

// clearOpRecords removes all reads/writes attributed anywhere in the
// subtree rooted at op (used by UndoOpDescendants).
func (txn *Txn) clearOpRecords(op opRef) {
	rec := txn.op(op)
	for _, r := range append([]*readRecord(nil), rec.reads...) {
		txn.UndoRead(ReadHandle{r})
	}
	for _, w := range append([]*writeTriple(nil), rec.writes...) {
		txn.UndoWrite(WriteHandle{w})
	}
	for c := rec.firstChild; c != noOp; c = txn.op(c).nextSibling {
		txn.clearOpRecords(c)
	}
}

func removeReadPtr(s []*readRecord, r *readRecord) []*readRecord {
	for i, v := range s {
		if v == r {
			return append(s[:i], s[i+1:]...)
		}
	}
	return s
}

func removeTriplePtr(s []*writeTriple, t *writeTriple) []*writeTriple {
	for i, v := range s {
		if v == t {
			return append(s[:i], s[i+1:]...)
		}
	}
	return s
}
