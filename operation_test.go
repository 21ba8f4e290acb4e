package stm

import "testing"

var opTestLeaf, _ = InitOpcode(OpcodeDesc{Name: "op_test_leaf"})
var opTestBranch, _ = InitOpcode(OpcodeDesc{Name: "op_test_branch"})

// TestOperationTreeShape checks invariant "Operation tree well-formedness"
// (spec.md §7): BeginOp attaches the new record as a child of whatever was
// open, and EndOp restores the parent as current.
func TestOperationTreeShape(t *testing.T) {
	txn := &Txn{id: 1}
	txn.reset(Attrs{})

	branch := txn.BeginOp(opTestBranch, "b")
	if txn.CurrentOp() != branch {
		t.Fatal("BeginOp did not make the new operation current")
	}
	leaf := txn.BeginOp(opTestLeaf, "l")
	txn.EndOp(opTestLeaf, 42)
	if txn.CurrentOp() != branch {
		t.Fatal("EndOp did not restore the parent as current")
	}
	txn.EndOp(opTestBranch, nil)
	if txn.CurrentOp() != rootOp {
		t.Fatal("EndOp did not restore the root as current")
	}

	if txn.op(leaf).parent != branch {
		t.Fatal("leaf's parent is not branch")
	}
	ret, ok := txn.GetOpRet(leaf)
	if !ok || ret != 42 {
		t.Fatalf("expected leaf ret 42, got %v (%v)", ret, ok)
	}

	found, ok := txn.FindOpDescendant(rootOp, opTestLeaf)
	if !ok || found != leaf {
		t.Fatal("FindOpDescendant did not find the leaf")
	}
}

func TestEndOpMismatchIsFatal(t *testing.T) {
	txn := &Txn{id: 1}
	txn.reset(Attrs{})
	txn.BeginOp(opTestBranch, nil)

	defer func() {
		r := recover()
		if _, ok := r.(fatalErr); !ok {
			t.Fatalf("expected fatalErr on mismatched EndOp, got %v", r)
		}
	}()
	txn.EndOp(opTestLeaf, nil)
}

// TestUndoReadPreservesOrder checks invariant "Read-set ordering
// preserved across undo": tombstoning a middle entry must not disturb
// the relative order of the entries around it.
func TestUndoReadPreservesOrder(t *testing.T) {
	txn := &Txn{id: 1}
	txn.reset(Attrs{})

	a := txn.appendRead(0x1000, 0, 1, WidthWord)
	b := txn.appendRead(0x2000, 0, 2, WidthWord)
	c := txn.appendRead(0x3000, 0, 3, WidthWord)

	txn.UndoRead(b)

	next, ok := txn.GetLoadNext(a, false, false)
	if !ok || next.rec != c.rec {
		t.Fatal("expected a's next live read to be c once b is undone")
	}
}

func TestClearOpReopensOperation(t *testing.T) {
	txn := &Txn{id: 1}
	txn.reset(Attrs{})

	op := txn.BeginOp(opTestLeaf, nil)
	txn.appendRead(0x4000, 0, 7, WidthWord)
	txn.EndOp(opTestLeaf, 99)

	txn.ClearOp(op, true, true, true)
	if txn.op(op).closed {
		t.Fatal("ClearOp should reopen the operation")
	}
	if _, ok := txn.GetOpRet(op); ok {
		t.Fatal("ClearOp should clear the installed return value")
	}
	if len(txn.op(op).reads) != 0 {
		t.Fatal("ClearOp should un-attribute the operation's reads")
	}
}
