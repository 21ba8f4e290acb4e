package stm

// Width names the primitive size/shape of a buffered shared-memory
// access, mirroring the four flavours spec.md §4.4 calls out (word,
// pointer, float, double). Go expresses the load/store primitives
// themselves with generics (access.go) rather than one function per
// width; Width is kept purely so read/write records still carry it, the
// way tm.h's TM_SHARED_READ_F vs TM_SHARED_READ does. No exported
// accessor or MergeContext field reports it.
type Width int

const (
	WidthWord Width = iota
	WidthPointer
	WidthFloat32
	WidthFloat64
)

// readRecord is one entry of a transaction's read set (spec.md §3).
// idx is this record's own position in Txn.reads, stored so handles
// returned to merge callbacks can navigate the list without a separate
// lookup; removed tombstones the entry in place so the ordering
// invariant (spec.md invariant 3) holds for free instead of requiring a
// physical splice.
type readRecord struct {
	idx         int32
	addr        uintptr
	slotVersion uint64
	value       any
	width       Width
	tag         int64
	hasTag      bool
	op          opRef
	removed     bool
}

// writeTriple is one buffered (address, value, width) write, attributed
// to the operation open at the time of the store. publish writes
// tri.value back to the concrete Var[T] cell at commit time; it is
// supplied by Var[T].Store as a closure over the concrete type, since a
// writeTriple itself only ever holds an untyped any.
type writeTriple struct {
	addr    uintptr
	value   any
	width   Width
	op      opRef
	publish func(any)
}

// writeRecord is one entry of the write set, keyed by lock-table slot;
// several addresses may share a slot and so share a writeRecord, per
// spec.md §3.
type writeRecord struct {
	slot    uint64
	triples []*writeTriple
	op      opRef
}

// ReadHandle and WriteHandle are the opaque handles merge callbacks and
// did_read/did_write receive; they wrap the internal record pointers so
// package-external code cannot forge or mutate them except through the
// exported accessor functions.
type ReadHandle struct{ rec *readRecord }
type WriteHandle struct{ tri *writeTriple }

func (h ReadHandle) valid() bool  { return h.rec != nil }
func (h WriteHandle) valid() bool { return h.tri != nil }

// Valid reports whether h refers to a live record, for merge callbacks
// that receive a handle from DidRead/DidWrite and must check whether the
// lookup found anything.
func (h ReadHandle) Valid() bool  { return h.valid() }
func (h WriteHandle) Valid() bool { return h.valid() }

// appendRead adds a new read record to txn's read set, attributed to the
// currently open operation, and returns a handle to it.
func (txn *Txn) appendRead(addr uintptr, slotVersion uint64, value any, w Width) ReadHandle {
	rec := &readRecord{
		idx:         int32(len(txn.reads)),
		addr:        addr,
		slotVersion: slotVersion,
		value:       value,
		width:       w,
		op:          txn.curOp,
	}
	txn.reads = append(txn.reads, rec)
	op := txn.op(txn.curOp)
	op.reads = append(op.reads, rec)
	return ReadHandle{rec}
}

// writeRecordFor returns the write record covering addr's slot, creating
// and lazily attaching an empty one under the currently open operation if
// none exists yet.
func (txn *Txn) writeRecordFor(addr uintptr) *writeRecord {
	slot := (uint64(addr) >> pointerAlignBits) & (lockTableSize - 1)
	if txn.writeSet == nil {
		txn.writeSet = make(map[uint64]*writeRecord, 5)
	}
	wr, ok := txn.writeSet[slot]
	if !ok {
		wr = &writeRecord{slot: slot, op: txn.curOp}
		txn.writeSet[slot] = wr
	}
	return wr
}

// appendWrite buffers a (addr, value, width) triple and returns a handle.
// publish is called at commit time with the triple's (possibly
// merge-updated) value, to write it back to the concrete Var[T].
func (txn *Txn) appendWrite(addr uintptr, value any, w Width, publish func(any)) WriteHandle {
	wr := txn.writeRecordFor(addr)
	tri := &writeTriple{addr: addr, value: value, width: w, op: txn.curOp, publish: publish}
	wr.triples = append(wr.triples, tri)
	op := txn.op(txn.curOp)
	op.writes = append(op.writes, tri)
	if txn.writeAddrIndex == nil {
		txn.writeAddrIndex = make(map[uintptr]*writeTriple)
	}
	txn.writeAddrIndex[addr] = tri
	return WriteHandle{tri}
}

// DidRead returns a handle to the most recent, non-removed read of addr
// in this transaction, or an invalid handle if there is none.
func (txn *Txn) DidRead(addr uintptr) ReadHandle {
	for i := len(txn.reads) - 1; i >= 0; i-- {
		r := txn.reads[i]
		if !r.removed && r.addr == addr {
			return ReadHandle{r}
		}
	}
	return ReadHandle{}
}

// DidWrite returns a handle to the most recent buffered write of addr in
// this transaction, or an invalid handle if there is none.
func (txn *Txn) DidWrite(addr uintptr) WriteHandle {
	if tri, ok := txn.writeAddrIndex[addr]; ok {
		return WriteHandle{tri}
	}
	return WriteHandle{}
}

// ReadValue returns the value a read record observed.
func ReadValue(h ReadHandle) any { return h.rec.value }

// WriteValue returns the value a write triple will publish at commit.
func WriteValue(h WriteHandle) any { return h.tri.value }

// ReadUpdate overwrites a read record's captured value and refreshes its
// cached slot version from the lock table, without re-running extension
// or revalidation.
//
// Open Question decision (DESIGN.md #2): this is deliberately a plain
// refresh, not a re-validation, because it is only ever called from
// inside a merge callback where the engine already guarantees the
// transaction is quiescent (spec.md §4.7(i)).
func ReadUpdate(h ReadHandle, value any) {
	h.rec.value = value
	_, ver := splitSlotWord(table.readSlot(h.rec.addr))
	h.rec.slotVersion = ver
}

// WriteUpdate overwrites a write triple's buffered value.
func WriteUpdate(h WriteHandle, value any) {
	h.tri.value = value
}

// SharedSetTag mutates the advisory semantic tag on a read record.
func SharedSetTag(h ReadHandle, tag int64) {
	h.rec.tag = tag
	h.rec.hasTag = true
}

// GetTag returns the advisory semantic tag attached to a read record, and
// whether one was ever set.
func GetTag(h ReadHandle) (int64, bool) {
	return h.rec.tag, h.rec.hasTag
}

func splitSlotWord(w uint64) (locked bool, version uint64) {
	if locked, _ := isLocked(w); locked {
		return true, 0
	}
	return false, slotVersion(w)
}
