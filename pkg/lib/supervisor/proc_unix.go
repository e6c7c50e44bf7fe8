//go:build unix

package supervisor

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// sysProcAttr puts the child in its own process group so the whole tree
// can be signalled as a unit.
func sysProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setpgid: true}
}

// signalGroup delivers sig to the child's process group (negative pid).
func signalGroup(pid int, graceful bool) error {
	sig := unix.SIGKILL
	if graceful {
		sig = unix.SIGTERM
	}
	return unix.Kill(-pid, sig)
}

// processAlive reports whether pid still exists (signal 0 probe).
func processAlive(pid int) bool {
	return unix.Kill(pid, 0) == nil
}
