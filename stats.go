package stm

import (
	"log"
	"os"
	"sync/atomic"
)

// statCounters are the commit/abort/merge counters spec.md §6 says
// TM_STATISTICS=1 collects and dumps at Shutdown(); collection itself is
// always on (the increments are a handful of atomic adds on already-cold
// paths — commit, abort, merge — never the hot Load/Store path), only
// the env var gates whether Shutdown bothers to print them, matching
// spec.md's "enables collection ... that are dumped at shutdown".
type statCounters struct {
	commits     atomic.Int64
	aborts      atomic.Int64
	mergesOK    atomic.Int64
	mergesRetry atomic.Int64
	mergesAbort atomic.Int64
	htmCommits  atomic.Int64
	htmAborts   [6]atomic.Int64 // indexed by AbortReason
}

var globalStats = &statCounters{}

func statsReset() {
	globalStats = &statCounters{}
}

func statsEnabled() bool {
	return os.Getenv("TM_STATISTICS") == "1"
}

func statsDumpIfEnabled() {
	if !statsEnabled() {
		return
	}
	s := globalStats
	log.Printf("stm: commits=%d aborts=%d merges(ok=%d retry=%d abort=%d) htm_commits=%d",
		s.commits.Load(), s.aborts.Load(),
		s.mergesOK.Load(), s.mergesRetry.Load(), s.mergesAbort.Load(),
		s.htmCommits.Load())
	for r, c := range s.htmAborts {
		if v := c.Load(); v > 0 {
			log.Printf("stm: htm_abort[%s]=%d", AbortReason(r), v)
		}
	}
}

func (r AbortReason) String() string {
	switch r {
	case AbortExplicit:
		return "explicit"
	case AbortRetryExceeded:
		return "retry_exceeded"
	case AbortConflict:
		return "conflict"
	case AbortCapacity:
		return "capacity"
	case AbortDebug:
		return "debug"
	case AbortNested:
		return "nested"
	default:
		return "unknown"
	}
}

func (txn *Txn) stat() *statCounters {
	if txn.stats != nil {
		return txn.stats
	}
	return globalStats
}

func (txn *Txn) bumpCommitStats() { txn.stat().commits.Add(1) }
func (txn *Txn) bumpAbortStats()  { txn.stat().aborts.Add(1) }

// bumpHTMCommitStats records a transaction that committed via a real
// hardware transaction (hybrid.go's dispatch, on a true runHardwareBody
// result). It is a subset of bumpCommitStats, which fires regardless of
// which path committed.
func (txn *Txn) bumpHTMCommitStats() { txn.stat().htmCommits.Add(1) }

// bumpHTMAbortStats records why a hardware-transaction attempt aborted
// (spec.md §4.8's "tracked per (explicit, retry, conflict, capacity,
// debug, nested) for telemetry").
func (txn *Txn) bumpHTMAbortStats(reason AbortReason) {
	txn.stat().htmAborts[reason].Add(1)
}

func (txn *Txn) bumpMergeStats(v MergeVerdict) {
	switch v {
	case MergeOK, MergeOKParent:
		txn.stat().mergesOK.Add(1)
	case MergeRetry, MergeUnsupported:
		txn.stat().mergesRetry.Add(1)
	case MergeAbort:
		txn.stat().mergesAbort.Add(1)
	}
}
