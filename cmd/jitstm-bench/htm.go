package main

import (
	"fmt"

	"github.com/spf13/cobra"
	stm "github.com/tiancaiamao/jitstm"
)

// newHTMCommand reports host HTM capability and runs the counter race
// under a chosen dispatch mode, the per-run half of spec.md §8 scenario
// 6 ("HTM/STM interop"): comparing two modes means invoking this command
// twice, since the dispatch mode freezes at the first transaction of a
// process (hybrid.go) the same way the opcode registry freezes at the
// first transaction.
func newHTMCommand() *cobra.Command {
	var mode string

	cmd := &cobra.Command{
		Use:   "htm",
		Short: "Report hardware-transaction capability and run the counter race under a chosen dispatch mode",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Printf("host RTM support: %v\n", stm.HostHasRTM())

			switch mode {
			case "htm":
				stm.SetMode(stm.ModeHTMOnly)
			case "wrapped":
				stm.SetMode(stm.ModeSTMWrapped)
			case "mutex":
				stm.SetMode(stm.ModeMutexFallback)
			default:
				return fmt.Errorf("unknown --mode %q (want htm, wrapped, or mutex)", mode)
			}
			return runCounter(8, 4000, 200, 256, false)
		},
	}

	cmd.Flags().StringVar(&mode, "mode", "mutex", "dispatch mode: htm, wrapped, or mutex")
	return cmd
}
