package main

import (
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/spf13/cobra"
	stm "github.com/tiancaiamao/jitstm"
)

// newBankCommand runs spec.md §8 scenario 5 (abort-atomicity smoke),
// generalised from a two-thread pair to N accounts and many concurrent
// transfers: every transfer debits one account and credits another
// inside a single transaction, so the sum of all balances is a commit
// invariant. If a reader ever observes a transaction half-applied, the
// sum check below fails.
func newBankCommand() *cobra.Command {
	var threads, txns, accounts int
	var initial int64

	cmd := &cobra.Command{
		Use:   "bank",
		Short: "Run the concurrent account-transfer abort-atomicity check",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBank(threads, txns, accounts, initial)
		},
	}

	cmd.Flags().IntVar(&threads, "threads", 8, "number of worker threads")
	cmd.Flags().IntVar(&txns, "txns", 20000, "transfers per thread")
	cmd.Flags().IntVar(&accounts, "accounts", 32, "number of accounts")
	cmd.Flags().Int64Var(&initial, "initial", 1000, "initial balance per account")

	return cmd
}

func runBank(threads, txns, accounts int, initial int64) error {
	balances := make([]*stm.Var[int64], accounts)
	for i := range balances {
		balances[i] = stm.NewVar[int64](initial)
	}

	transferOp, err := stm.InitOpcode(stm.OpcodeDesc{Name: "transfer"})
	if err != nil {
		return err
	}

	stm.Startup(threads)
	defer stm.Shutdown()

	var wg sync.WaitGroup
	start := time.Now()
	for t := 0; t < threads; t++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			h, err := stm.ThreadEnter()
			if err != nil {
				panic(err)
			}
			defer stm.ThreadExit(h)

			rng := rand.New(rand.NewSource(seed))
			for i := 0; i < txns; i++ {
				from := rng.Intn(accounts)
				to := rng.Intn(accounts)
				for to == from {
					to = rng.Intn(accounts)
				}
				amount := int64(rng.Intn(10) + 1)

				h.Run(func(txn *stm.Txn) {
					transfer(txn, balances, transferOp, from, to, amount)
				})
			}
		}(int64(t) + 1)
	}
	wg.Wait()
	elapsed := time.Since(start)

	var sum int64
	h, err := stm.ThreadEnter()
	if err != nil {
		return err
	}
	defer stm.ThreadExit(h)
	h.RunReadOnly(func(txn *stm.Txn) {
		sum = 0
		for _, b := range balances {
			v, _ := b.Load(txn)
			sum += v
		}
	})

	want := int64(accounts) * initial
	fmt.Printf("bank: threads=%d txns=%d accounts=%d elapsed=%s sum=%d want=%d ok=%v\n",
		threads, txns, accounts, elapsed, sum, want, sum == want)
	return nil
}

// transfer moves amount from balances[from] to balances[to] as a single
// operation: either both the debit and the credit become visible at
// commit, or neither does (spec.md invariant "Atomicity of commit").
func transfer(txn *stm.Txn, balances []*stm.Var[int64], op stm.OpcodeID, from, to int, amount int64) {
	txn.BeginOp(op, from, to, amount)
	fromBal, _ := balances[from].Load(txn)
	toBal, _ := balances[to].Load(txn)
	balances[from].Store(txn, fromBal-amount)
	balances[to].Store(txn, toBal+amount)
	txn.EndOp(op, nil)
}
