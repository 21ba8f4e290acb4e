// Command jitstm-bench drives the end-to-end scenarios spec.md §8
// describes, against the github.com/tiancaiamao/jitstm runtime: a
// counter race with and without a just-in-time merge callback, a bank
// transfer abort-atomicity smoke test, and an HTM/STM interop run.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
)

func main() {
	rootCmd := &cobra.Command{
		Use:     "jitstm-bench",
		Short:   "Benchmark and smoke-test scenarios for the jitstm runtime",
		Version: fmt.Sprintf("%s (commit: %s)", version, commit),
	}

	rootCmd.AddCommand(
		newCounterCommand(),
		newBankCommand(),
		newHTMCommand(),
	)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
