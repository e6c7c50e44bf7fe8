package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/reh3376/ignition-tools-sub006/pkg/lib"
	"github.com/reh3376/ignition-tools-sub006/pkg/lib/history"
)

func printRunSummary(w io.Writer, st lib.ExecutionStatus) {
	fmt.Fprintf(w, "id:       %s\n", st.ID)
	fmt.Fprintf(w, "state:    %s\n", st.State)
	if st.ReturnCode != nil {
		fmt.Fprintf(w, "exit:     %d\n", *st.ReturnCode)
	}
	fmt.Fprintf(w, "duration: %s\n", st.Duration.Round(time.Millisecond))
	if st.RetryCount > 0 {
		fmt.Fprintf(w, "retries:  %d\n", st.RetryCount)
	}
	if st.Samples > 0 {
		fmt.Fprintf(w, "peak rss: %d KiB\n", st.PeakMemory>>10)
		fmt.Fprintf(w, "avg cpu:  %.1f%%\n", st.AverageCPU)
	}
	for _, entry := range st.RecoveryLog {
		fmt.Fprintf(w, "recovery: %s\n", entry)
	}
	for _, msg := range st.Errors {
		fmt.Fprintf(w, "error:    %s\n", msg)
	}
}

func printHistoryTable(entries []history.Entry) {
	idW, stateW, cmdW := len("ID"), len("STATE"), len("COMMAND")
	for _, e := range entries {
		idW = maxInt(idW, len(e.ID))
		stateW = maxInt(stateW, len(e.State))
		cmdW = maxInt(cmdW, len(e.Command))
	}
	durW := len("DURATION")

	sep := fmt.Sprintf("+-%s-+-%s-+-%s-+-%s-+\n",
		strings.Repeat("-", idW), strings.Repeat("-", stateW),
		strings.Repeat("-", durW), strings.Repeat("-", cmdW))
	fmt.Print(sep)
	fmt.Printf("| %s | %s | %s | %s |\n",
		pad("ID", idW), pad("STATE", stateW), pad("DURATION", durW), pad("COMMAND", cmdW))
	fmt.Print(sep)
	for _, e := range entries {
		fmt.Printf("| %s | %s | %s | %s |\n",
			pad(e.ID, idW), pad(e.State, stateW),
			pad(e.Duration.Round(time.Millisecond).String(), durW), pad(e.Command, cmdW))
	}
	fmt.Print(sep)
}

func pad(s string, w int) string {
	if len(s) >= w {
		return s
	}
	return s + strings.Repeat(" ", w-len(s))
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
