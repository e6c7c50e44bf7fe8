package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/reh3376/ignition-tools-sub006/internal/config"
	"github.com/reh3376/ignition-tools-sub006/pkg/lib"
)

func newStatsCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Aggregate statistics over archived executions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fc, err := config.Load()
			if err != nil {
				return err
			}
			store, err := openHistory(fc)
			if err != nil {
				return err
			}
			defer store.Close()

			entries, err := store.Recent(limit)
			if err != nil {
				return err
			}

			var (
				successful, failed, timedOut, recovered int
				totalDuration                           time.Duration
			)
			for _, e := range entries {
				switch e.State {
				case lib.StateCompleted.String():
					successful++
				case lib.StateRecovered.String():
					successful++
					recovered++
				case lib.StateFailed.String(), lib.StateKilled.String():
					failed++
				case lib.StateTimeout.String():
					timedOut++
				}
				totalDuration += e.Duration
			}

			total := len(entries)
			fmt.Printf("executions:  %d\n", total)
			fmt.Printf("successful:  %d\n", successful)
			fmt.Printf("failed:      %d\n", failed)
			fmt.Printf("timed out:   %d\n", timedOut)
			fmt.Printf("recovered:   %d\n", recovered)
			if total > 0 {
				fmt.Printf("avg runtime: %s\n", (totalDuration / time.Duration(total)).Round(time.Millisecond))
				fmt.Printf("success:     %.1f%%\n", float64(successful)/float64(total)*100)
			}
			if denom := failed + timedOut; denom > 0 {
				fmt.Printf("recovery:    %.2f\n", float64(recovered)/float64(denom))
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 1000, "maximum number of entries considered")
	return cmd
}
