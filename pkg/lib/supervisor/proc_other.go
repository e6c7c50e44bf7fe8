//go:build !unix

package supervisor

import (
	"os"
	"syscall"
)

func sysProcAttr() *syscall.SysProcAttr {
	return nil
}

// signalGroup falls back to killing the immediate process; process groups
// are not available here.
func signalGroup(pid int, graceful bool) error {
	p, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	if graceful {
		// No portable graceful signal; Kill is the only reliable option.
		return p.Kill()
	}
	return p.Kill()
}

func processAlive(pid int) bool {
	p, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return p.Signal(syscall.Signal(0)) == nil
}
