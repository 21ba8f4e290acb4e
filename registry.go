package stm

import (
	"fmt"
	"sync"
)

// OpcodeID is an opaque index into the process-wide opcode registry
// (spec.md §3 "opcode registry"). Ids are assigned from 0 in registration
// order, so the zero value names the first registered opcode;
// InvalidOpcode is the only invalid id.
type OpcodeID int32

// InvalidOpcode is returned by failed registrations and is never a valid
// argument to BeginOp.
const InvalidOpcode OpcodeID = -1

// MergeVerdict is the return value of a merge callback (spec.md §4.7).
type MergeVerdict int

const (
	// MergeOK reports the conflict has been fully repaired; resume the
	// transaction without involving any ancestor operation.
	MergeOK MergeVerdict = iota
	// MergeOKParent reports this operation repaired itself but its
	// parent must also adjust; the engine continues walking upward.
	MergeOKParent
	// MergeRetry reports local state is now inconsistent; restart the
	// transaction (any commit-time locks are released first).
	MergeRetry
	// MergeUnsupported reports this callback does not know how to
	// repair the observed conflict; fall through to the parent
	// operation. On an operation that has already closed it ends the
	// walk like MergeRetry instead.
	MergeUnsupported
	// MergeAbort reports the conflict is fatal; abort the transaction.
	MergeAbort
)

func (v MergeVerdict) String() string {
	switch v {
	case MergeOK:
		return "OK"
	case MergeOKParent:
		return "OK_PARENT"
	case MergeRetry:
		return "RETRY"
	case MergeUnsupported:
		return "UNSUPPORTED"
	case MergeAbort:
		return "ABORT"
	default:
		return "UNKNOWN"
	}
}

// MergeCallback repairs a transaction's in-flight state in response to a
// conflict detected on one of its reads. See MergeContext for the
// information available to it.
//
// Open Question decision (DESIGN.md #1): the source invokes callbacks
// through an FFI descriptor so it can call arbitrary C signatures
// uniformly; Go closures already erase argument shape, so callbacks here
// are a plain function value rather than a reflected/ffi-typed one.
type MergeCallback func(*MergeContext) MergeVerdict

// OpcodeDesc describes an operation kind before it is registered.
type OpcodeDesc struct {
	// Name is a human-readable label, used in telemetry and panics; it
	// need not be unique, but giving each opcode a distinct name makes
	// diagnostics usable.
	Name string
	// JustInTime is invoked when the conflicting operation is still
	// open. May be nil, meaning this opcode never attempts a just-in-time
	// repair (conflicts fall straight through to the parent operation).
	JustInTime MergeCallback
	// Delayed is invoked when the conflicting operation has already
	// closed. May be nil.
	Delayed MergeCallback
}

type opcodeEntry struct {
	OpcodeDesc
	id OpcodeID
}

var registry struct {
	mu     sync.Mutex
	frozen bool
	byID   []opcodeEntry
}

// InitOpcode registers desc and returns its id. Registration must happen
// during module initialisation, before any call to Begin; the registry is
// frozen (further InitOpcode calls return an error) the moment the first
// transaction starts, per spec.md §3 "Opcodes are immutable after
// registration".
func InitOpcode(desc OpcodeDesc) (OpcodeID, error) {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	if registry.frozen {
		return InvalidOpcode, fmt.Errorf("stm: opcode registry frozen, cannot register %q after first transaction", desc.Name)
	}
	id := OpcodeID(len(registry.byID))
	registry.byID = append(registry.byID, opcodeEntry{OpcodeDesc: desc, id: id})
	return id, nil
}

func freezeRegistry() {
	registry.mu.Lock()
	registry.frozen = true
	registry.mu.Unlock()
}

func lookupOpcode(id OpcodeID) (opcodeEntry, bool) {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	if id < 0 || int(id) >= len(registry.byID) {
		return opcodeEntry{}, false
	}
	return registry.byID[id], true
}

// OpcodeName returns the display name id was registered with, or "" if id
// is unknown.
func OpcodeName(id OpcodeID) string {
	e, ok := lookupOpcode(id)
	if !ok {
		return ""
	}
	return e.Name
}
