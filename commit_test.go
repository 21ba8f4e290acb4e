package stm

import (
	"testing"
	"unsafe"
)

// TestRepairAnyReadRecordFixesEveryStaleRead checks that commit-time
// revalidation (spec.md §4.5 step 4, "revalidate every read record")
// repairs every stale record it finds, not just the first: a prior
// version of repairAnyReadRecord returned as soon as it repaired one
// record, leaving any later one unchecked.
//
// The two Vars and the repairing opcode are package-level so the opcode is
// registered at init time, before any test transaction freezes the
// registry.
var commitTestA = NewVar[int](0)
var commitTestB = NewVar[int](0)

var commitTestRepairAll, _ = InitOpcode(OpcodeDesc{
	Name: "commit_test_repair_all",
	JustInTime: func(ctx *MergeContext) MergeVerdict {
		switch ctx.Addr {
		case addrOf(unsafe.Pointer(commitTestA)):
			v, _ := commitTestA.Load(ctx.Txn())
			ReadUpdate(ctx.Read, v)
		case addrOf(unsafe.Pointer(commitTestB)):
			v, _ := commitTestB.Load(ctx.Txn())
			ReadUpdate(ctx.Read, v)
		default:
			return MergeUnsupported
		}
		ctx.FinishMerge()
		return MergeOK
	},
})

func TestRepairAnyReadRecordFixesEveryStaleRead(t *testing.T) {
	a := commitTestA
	b := commitTestB

	snapshot0 := clock.readSnapshot()

	Atomically(func(txn *Txn) { a.Store(txn, 1) })
	Atomically(func(txn *Txn) { b.Store(txn, 2) })

	addrA := addrOf(unsafe.Pointer(a))
	addrB := addrOf(unsafe.Pointer(b))
	repairOp := commitTestRepairAll

	txn := &Txn{id: 99}
	txn.reset(Attrs{})
	txn.BeginOp(repairOp, nil)
	recA := txn.appendRead(addrA, 0, 0, WidthWord) // stale: cached at version 0
	recB := txn.appendRead(addrB, 0, 0, WidthWord) // stale: cached at version 0

	if !txn.repairAnyReadRecord(snapshot0) {
		t.Fatal("expected repairAnyReadRecord to repair both stale records")
	}
	if recA.rec.value != 1 {
		t.Fatalf("expected a's read record repaired to 1, got %v", recA.rec.value)
	}
	if recB.rec.value != 2 {
		t.Fatalf("expected b's read record repaired to 2, got %v", recB.rec.value)
	}
}
