package stm

import (
	"reflect"
	"unsafe"
)

// Var is a transactional memory cell, generalizing spec.md §4.4's four
// width-specific primitives (word, pointer, float, double) over a single
// generic type rather than four near-identical functions — tm.h needs
// TM_SHARED_READ/_P/_F/_D because C has no generics; Go does, so one
// Var[T] plus a cosmetic Width tag stored on each read/write record
// covers the same ground (DESIGN.md, access.go entry).
//
// A Var's zero value is ready to use, the way tiancaiamao-stm's `var v
// Var` is: the first transactional Store gives it a value.
type Var[T any] struct {
	val T
}

// NewVar returns a Var already holding initial. Equivalent to declaring a
// zero Var and Storing into it inside a transaction, provided for
// convenience when the initial value never needs to be part of a
// transaction's write set.
func NewVar[T any](initial T) *Var[T] {
	return &Var[T]{val: initial}
}

func widthOf[T any]() Width {
	var zero T
	rt := reflect.TypeOf(zero)
	if rt == nil {
		return WidthPointer // interface/pointer-shaped zero value
	}
	switch rt.Kind() {
	case reflect.Float32:
		return WidthFloat32
	case reflect.Float64:
		return WidthFloat64
	case reflect.Ptr, reflect.UnsafePointer, reflect.Map, reflect.Chan, reflect.Slice:
		return WidthPointer
	default:
		return WidthWord
	}
}

// Load reads v's current value inside txn, following the extend-or-fail
// protocol of spec.md §4.4.
func (v *Var[T]) Load(txn *Txn) (T, error) {
	return v.loadTagged(txn, 0, false)
}

// LoadTag reads v's current value and attaches an advisory semantic tag
// to the resulting read record (spec.md §4.4). The tag is ignored by the
// core's correctness protocol and is meant purely for application merge
// callbacks.
func (v *Var[T]) LoadTag(txn *Txn, tag int64) (T, error) {
	return v.loadTagged(txn, tag, true)
}

func (v *Var[T]) loadTagged(txn *Txn, tag int64, hasTag bool) (T, error) {
	var zero T
	addr := addrOf(unsafe.Pointer(v))

	if tri, ok := txn.writeAddrIndex[addr]; ok {
		return tri.value.(T), nil
	}

	w1 := table.readSlot(addr)
	if locked, owner := isLocked(w1); locked && owner != txn.id {
		h := txn.appendRead(addr, 0, zero, widthOf[T]())
		if hasTag {
			SharedSetTag(h, tag)
		}
		if !txn.onReadConflict(h.rec, addr) {
			restart()
		}
		return h.rec.value.(T), nil
	}

	val := v.val

	w2 := table.readSlot(addr)
	if w1 != w2 {
		h := txn.appendRead(addr, 0, zero, widthOf[T]())
		if hasTag {
			SharedSetTag(h, tag)
		}
		if !txn.onReadConflict(h.rec, addr) {
			restart()
		}
		return h.rec.value.(T), nil
	}

	version := slotVersion(w2)
	if version > txn.snapshot {
		if !txn.tryExtend() {
			h := txn.appendRead(addr, version, zero, widthOf[T]())
			if hasTag {
				SharedSetTag(h, tag)
			}
			if !txn.onReadConflict(h.rec, addr) {
				restart()
			}
			return h.rec.value.(T), nil
		}
	}

	h := txn.appendRead(addr, version, val, widthOf[T]())
	if hasTag {
		SharedSetTag(h, tag)
	}
	return val, nil
}

// Store buffers val as v's new value; it is not made visible to other
// transactions until commit (spec.md invariant 2).
func (v *Var[T]) Store(txn *Txn, val T) {
	if txn.attrs.ReadOnly {
		fatalf("stm: Store called inside a read-only transaction")
	}
	addr := addrOf(unsafe.Pointer(v))
	txn.appendWrite(addr, val, widthOf[T](), func(value any) {
		v.val = value.(T)
	})
}

func slotVersion(w uint64) uint64 { return w >> 1 }
