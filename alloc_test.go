package stm

import "testing"

// TestAllocatorRollback checks the rollback path behind the "Allocator
// rollback" invariant (spec.md §7/§8): a TxMalloc is visible through
// DidMalloc, and rollbackAllocs then clears the allocation log.
func TestAllocatorRollback(t *testing.T) {
	txn := &Txn{id: 1}
	txn.reset(Attrs{})

	buf := txn.TxMalloc(16)
	for i := range buf {
		buf[i] = byte(i)
	}
	if _, ok := txn.DidMalloc(buf); !ok {
		t.Fatal("expected DidMalloc to find the just-allocated buffer")
	}

	txn.rollbackAllocs()

	if len(txn.allocLog) != 0 {
		t.Fatal("rollbackAllocs should clear the allocation log")
	}
}

func TestAllocatorCommitAppliesFrees(t *testing.T) {
	txn := &Txn{id: 1}
	txn.reset(Attrs{})

	buf := txn.TxMalloc(8)
	txn.TxFree(buf)

	h, ok := txn.DidFree(buf)
	if !ok {
		t.Fatal("expected DidFree to find the just-freed buffer")
	}

	txn.commitAllocs()
	if len(txn.allocLog) != 0 {
		t.Fatal("commitAllocs should clear the allocation log")
	}
	_ = h
}

func TestUndoMallocCancelsSingleAllocation(t *testing.T) {
	txn := &Txn{id: 1}
	txn.reset(Attrs{})

	buf := txn.TxMalloc(4)
	h, ok := txn.DidMalloc(buf)
	if !ok {
		t.Fatal("expected a handle for the fresh allocation")
	}
	txn.UndoMalloc(h)

	if _, ok := txn.DidMalloc(buf); ok {
		t.Fatal("UndoMalloc should make the allocation no longer live")
	}
}

func TestUndoFreeKeepsBufferLive(t *testing.T) {
	txn := &Txn{id: 1}
	txn.reset(Attrs{})

	buf := txn.TxMalloc(4)
	txn.TxFree(buf)
	h, ok := txn.DidFree(buf)
	if !ok {
		t.Fatal("expected a handle for the fresh free")
	}
	txn.UndoFree(h)

	if _, ok := txn.DidFree(buf); ok {
		t.Fatal("UndoFree should make the free no longer live")
	}
}
