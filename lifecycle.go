package stm

import (
	"fmt"
	"sync"
)

// runtimeState holds the process-wide lifecycle bookkeeping spec.md §6
// groups under "Lifecycle": Startup/Shutdown/ThreadEnter/ThreadExit.
var runtimeState struct {
	mu        sync.Mutex
	started   bool
	maxThread int
	free      []uint64 // reusable small thread ids
	next      uint64
}

// Startup configures the runtime for up to numThreads concurrently
// registered threads (spec.md §6's only startup configuration surface).
// It must be called once, before any ThreadEnter.
func Startup(numThreads int) {
	runtimeState.mu.Lock()
	defer runtimeState.mu.Unlock()
	runtimeState.started = true
	runtimeState.maxThread = numThreads
	runtimeState.free = runtimeState.free[:0]
	runtimeState.next = 0
	statsReset()
}

// Shutdown tears down the runtime and, if TM_STATISTICS=1 was set in the
// environment, dumps the accumulated commit/abort/merge counters
// (spec.md §6).
func Shutdown() {
	runtimeState.mu.Lock()
	runtimeState.started = false
	runtimeState.mu.Unlock()
	statsDumpIfEnabled()
}

// ThreadHandle is the per-thread registration spec.md §6's
// thread_enter/thread_exit describes. A thread obtains one handle and
// reuses its embedded Txn for every transaction it runs; handles never
// move between goroutines (spec.md §5).
type ThreadHandle struct {
	id      uint64
	txn     Txn
	entered bool
}

// ThreadEnter registers the calling thread and returns a handle owning a
// fresh transaction descriptor. Returns errThreadExceeded if Startup's
// numThreads budget is already fully registered.
func ThreadEnter() (*ThreadHandle, error) {
	runtimeState.mu.Lock()
	defer runtimeState.mu.Unlock()

	var id uint64
	if n := len(runtimeState.free); n > 0 {
		id = runtimeState.free[n-1]
		runtimeState.free = runtimeState.free[:n-1]
	} else {
		if runtimeState.maxThread > 0 && int(runtimeState.next) >= runtimeState.maxThread {
			return nil, errThreadExceeded
		}
		id = runtimeState.next
		runtimeState.next++
	}

	h := &ThreadHandle{id: id, entered: true}
	h.txn.id = id
	h.txn.stats = globalStats
	return h, nil
}

// ThreadExit unregisters h, returning its thread id to the pool. It
// returns errNotEntered if called twice on the same handle.
func ThreadExit(h *ThreadHandle) error {
	if !h.entered {
		return errNotEntered
	}
	runtimeState.mu.Lock()
	defer runtimeState.mu.Unlock()
	h.entered = false
	runtimeState.free = append(runtimeState.free, h.id)
	return nil
}

// Txn returns h's owned transaction descriptor, for use with
// RunWithAttrs.
func (h *ThreadHandle) Txn() *Txn { return &h.txn }

// Run runs body as a transaction on h's owned descriptor, retrying until
// it commits.
func (h *ThreadHandle) Run(body func(*Txn)) {
	RunWithAttrs(&h.txn, Attrs{}, body)
}

// RunReadOnly is Run with the ReadOnly hint set.
func (h *ThreadHandle) RunReadOnly(body func(*Txn)) {
	RunWithAttrs(&h.txn, Attrs{ReadOnly: true}, body)
}

var anonymousIDs struct {
	mu   sync.Mutex
	next uint64
}

// anonymousTxnID hands out an id for callers that use the package-level
// Atomically/BeginReadOnly instead of a registered ThreadHandle. These
// ids live in the same owner-id space as the lock table's odd encoding
// (spec.md §3) and must stay distinct from every live ThreadHandle id;
// they are drawn from far above any plausible Startup(numThreads) budget
// to guarantee that.
const anonymousIDBase = uint64(1) << 40

func anonymousTxnID() uint64 {
	anonymousIDs.mu.Lock()
	defer anonymousIDs.mu.Unlock()
	id := anonymousIDBase + anonymousIDs.next
	anonymousIDs.next++
	return id
}

func (h *ThreadHandle) String() string {
	return fmt.Sprintf("thread#%d", h.id)
}
