package stm

import (
	"sync/atomic"
	"time"

	"golang.org/x/sys/cpu"
)

// Mode selects which of spec.md §4.8's three dispatch strategies the
// runtime uses. The source picks one of these at compile time via build
// macros; Go has no equivalent preprocessor step that the rest of this
// package could conditionally compile against without duplicating every
// file three times, so Mode is a runtime value instead, set once via
// SetMode before the first transaction (mirroring the "frozen after the
// first transaction" treatment the opcode registry already gets).
type Mode int

const (
	// ModeHTMOnly attempts a hardware transaction with a bounded retry
	// budget, falling through to the software path on a non-retryable
	// abort or budget exhaustion.
	ModeHTMOnly Mode = iota
	// ModeSTMWrapped runs the hardware transaction's body through the
	// same Load/Store primitives as software transactions, so an
	// HTM-committed transaction's accesses are still validated against
	// the STM lock table and can interleave correctly with concurrent
	// software transactions.
	ModeSTMWrapped
	// ModeMutexFallback never attempts hardware transactions; it only
	// maintains the process-wide active-software-transaction counter an
	// HTM implementation would subscribe to, for interoperability
	// testing without real HTM hardware.
	ModeMutexFallback
)

// htmRetryBudget is R from spec.md §4.8: the number of times a hardware
// abort is retried in hardware before falling through to software.
const htmRetryBudget = 3

var dispatchMode struct {
	v      atomic.Int32
	frozen bool
}

// SetMode selects the dispatch strategy. It must be called before the
// first transaction begins; afterward it has no effect, matching
// spec.md's "build-time constant" framing (only the moment of freeze
// moves to runtime).
func SetMode(m Mode) {
	if dispatchMode.frozen {
		return
	}
	dispatchMode.v.Store(int32(m))
}

func currentMode() Mode {
	return Mode(dispatchMode.v.Load())
}

// activeSoftware is the process-wide counter of in-flight software
// transactions that spec.md §4.8's mutual-exclusion fallback describes:
// a hardware transaction subscribes to it at begin (aborting if nonzero)
// and software transactions increment/decrement it around their bodies.
var activeSoftware atomic.Int64

// HardwareTransaction is the thin port spec.md §9 calls for: "begin /
// commit / abort / subscribe_to(word)". This runtime assumes the host
// CPU provides HTM (spec.md §1 Non-goals: "No novel HTM implementation");
// softwareOnlyHTM below is the fallback for hosts that don't, and is also
// what every build of this package uses today, since emitting real TSX
// opcodes is out of scope. A host-specific implementation would satisfy
// this interface with real XBEGIN/XEND/XABORT intrinsics.
type HardwareTransaction interface {
	Begin() bool
	Commit() bool
	Abort(reason AbortReason)
	SubscribeTo(word *uint64)
}

// AbortReason classifies why a hardware transaction aborted, per
// spec.md §4.8 "telemetry... none of it affects correctness". Capacity
// is singled out because tm.h's TM_BEGIN/TM_END machinery treats it
// specially: a capacity abort always falls through to software
// immediately rather than spending retry budget (SPEC_FULL.md §4).
type AbortReason int

const (
	AbortExplicit AbortReason = iota
	AbortRetryExceeded
	AbortConflict
	AbortCapacity
	AbortDebug
	AbortNested
)

// softwareOnlyHTM is the degenerate HardwareTransaction that always
// reports capacity exhaustion, forcing the dispatcher straight to the
// software path. It carries no state; whether the host could, in
// principle, run a real hardware transaction is reported separately by
// HostHasRTM.
type softwareOnlyHTM struct{}

func (softwareOnlyHTM) Begin() bool             { return false }
func (softwareOnlyHTM) Commit() bool            { return false }
func (softwareOnlyHTM) Abort(AbortReason)       {}
func (softwareOnlyHTM) SubscribeTo(word *uint64) {}

// HostHasRTM reports whether the CPU this process is running on
// advertises Intel TSX restricted-transactional-memory support, via
// golang.org/x/sys/cpu. It does not mean this package will use it (see
// softwareOnlyHTM); it is exposed for the CLI's diagnostics output.
func HostHasRTM() bool {
	return cpu.X86.HasRTM
}

func newHardwareTransaction() HardwareTransaction {
	return softwareOnlyHTM{}
}

// dispatch runs body to completion against txn, following the mode
// selected by SetMode. HTM modes try hardware first with a bounded
// per-attempt retry budget before falling through to the full software
// path; ModeMutexFallback skips straight to software.
func dispatch(txn *Txn, attrs Attrs, body func(*Txn)) {
	dispatchMode.frozen = true
	mode := currentMode()
	if mode == ModeMutexFallback {
		runSoftware(txn, attrs, body)
		return
	}

	htm := newHardwareTransaction()
	for attempt := 0; attempt < htmRetryBudget; attempt++ {
		if activeSoftware.Load() > 0 {
			// A software transaction is live; spec.md §4.8 has HTM
			// subscribe to the software counter and abort if nonzero.
			txn.bumpHTMAbortStats(AbortConflict)
			break
		}
		if !htm.Begin() {
			// This build never provides real HTM (spec.md §1 Non-goals:
			// "no novel HTM implementation"); a failed Begin is
			// classified as capacity exhaustion, the same reason tm.h
			// uses for hardware resource exhaustion. Per the capacity
			// reason's special handling (SPEC_FULL.md §4), that falls
			// through to software immediately rather than spending the
			// retry budget.
			txn.bumpHTMAbortStats(AbortCapacity)
			break
		}
		clock.htmBegin()
		committed := runHardwareBody(txn, attrs, body, mode)
		clock.htmEnd()
		if committed {
			txn.bumpCommitStats()
			txn.bumpHTMCommitStats()
			return
		}
		htm.Abort(AbortConflict)
		txn.bumpHTMAbortStats(AbortConflict)
	}
	runSoftware(txn, attrs, body)
}

// runHardwareBody is the hook for executing body under a hardware
// transaction. This repository never emits real HTM intrinsics (see
// newHardwareTransaction), so it does not run body at all and always
// reports false (no hardware commit), in every mode; the transaction is
// then completed by the software protocol. It is also unreachable in this
// build, since softwareOnlyHTM.Begin always fails first.
func runHardwareBody(txn *Txn, attrs Attrs, body func(*Txn), mode Mode) bool {
	return false
}

// Backoff constants for attrs.NoOverwrite, named and scaled the way
// dijkstracula-go-ilock/ilock.go's acquire-retry loop backs off: start
// small, double each retry, cap well under a millisecond-scale stall.
const (
	noOverwriteStartingBackoff = 50 * time.Microsecond
	noOverwriteMaxBackoff      = 500 * time.Microsecond
	noOverwriteBackoffFactor   = 2
)

// runSoftware is the full STM path of spec.md §2/§4.5, with the
// mutual-exclusion-fallback bookkeeping layered on top.
func runSoftware(txn *Txn, attrs Attrs, body func(*Txn)) {
	activeSoftware.Add(1)
	defer activeSoftware.Add(-1)

	backoff := noOverwriteStartingBackoff
	first := true
	for {
		if attrs.NoOverwrite && !first {
			time.Sleep(backoff)
			if backoff < noOverwriteMaxBackoff {
				backoff *= noOverwriteBackoffFactor
				if backoff > noOverwriteMaxBackoff {
					backoff = noOverwriteMaxBackoff
				}
			}
		}
		first = false
		txn.reset(attrs)
		if txn.runAttempt(body) {
			return
		}
	}
}
