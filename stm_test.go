package stm

import (
	"math/rand"
	"sync"
	"testing"
)

// TestSum mirrors tiancaiamao-stm's TestSum: repeat add1 concurrently and
// check the final result, but against the Var[T] API instead of the
// untyped Var.
func TestSum(t *testing.T) {
	sum := NewVar[int](0)

	var wg sync.WaitGroup
	const N = 10
	const M = 10000
	wg.Add(N)
	for x := 0; x < N; x++ {
		go func() {
			defer wg.Done()
			for i := 0; i < M; i++ {
				Atomically(func(txn *Txn) {
					v, err := sum.Load(txn)
					if err != nil {
						return
					}
					sum.Store(txn, v+1)
				})
			}
		}()
	}
	wg.Wait()

	var total int
	Atomically(func(txn *Txn) {
		total, _ = sum.Load(txn)
	})
	if total != M*N {
		t.Errorf("expected %d, got %d", M*N, total)
	}
}

// TestBankTransfer mirrors tiancaiamao-stm's TestBankTransfer.
func TestBankTransfer(t *testing.T) {
	const numAccounts = 10
	var accounts [numAccounts]*Var[int]
	for i := range accounts {
		accounts[i] = NewVar[int](100)
	}

	const N = 16
	const M = 2000
	var wg sync.WaitGroup
	wg.Add(N)
	for i := 0; i < N; i++ {
		go func(seed int64) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(seed))
			for x := 0; x < M; x++ {
				from := rng.Intn(numAccounts)
				to := rng.Intn(numAccounts)
				if from == to {
					continue
				}
				Atomically(func(txn *Txn) {
					vf, _ := accounts[from].Load(txn)
					if vf <= 0 {
						return
					}
					amount := rng.Intn(vf) + 1
					vt, _ := accounts[to].Load(txn)
					accounts[from].Store(txn, vf-amount)
					accounts[to].Store(txn, vt+amount)
				})
			}
		}(int64(i) + 1)
	}
	wg.Wait()

	var total int
	Atomically(func(txn *Txn) {
		for _, ac := range accounts {
			v, _ := ac.Load(txn)
			total += v
		}
	})
	if total != numAccounts*100 {
		t.Errorf("expected total %d, got %d", numAccounts*100, total)
	}
}

// TestReadOnlyRejectsWrite checks BeginReadOnly's write-set is never
// allocated: a Store inside one must fatal rather than silently buffer.
func TestReadOnlyRejectsWrite(t *testing.T) {
	v := NewVar[int](1)
	defer func() {
		r := recover()
		if r == nil {
			t.Fatal("expected Store inside a read-only transaction to panic")
		}
		if _, ok := r.(fatalErr); !ok {
			t.Fatalf("expected fatalErr, got %T: %v", r, r)
		}
	}()
	BeginReadOnly(func(txn *Txn) {
		v.Store(txn, 2)
	})
}

// TestThreadHandleReuse exercises ThreadEnter/ThreadExit/Run, the
// lifecycle.go entry points ThreadHandle wraps, instead of the package-
// level Atomically every other test in this file uses.
func TestThreadHandleReuse(t *testing.T) {
	Startup(4)
	defer Shutdown()

	v := NewVar[int](0)
	h, err := ThreadEnter()
	if err != nil {
		t.Fatal(err)
	}
	defer ThreadExit(h)

	for i := 0; i < 100; i++ {
		h.Run(func(txn *Txn) {
			cur, _ := v.Load(txn)
			v.Store(txn, cur+1)
		})
	}

	var got int
	h.RunReadOnly(func(txn *Txn) {
		got, _ = v.Load(txn)
	})
	if got != 100 {
		t.Errorf("expected 100, got %d", got)
	}
}

func TestThreadEnterExceedsBudget(t *testing.T) {
	Startup(1)
	defer Shutdown()

	h1, err := ThreadEnter()
	if err != nil {
		t.Fatal(err)
	}
	defer ThreadExit(h1)

	_, err = ThreadEnter()
	if err == nil {
		t.Fatal("expected ThreadEnter to fail once the thread budget is exhausted")
	}
}
