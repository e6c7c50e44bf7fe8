package supervisor

import (
	"time"

	"github.com/shirou/gopsutil/v3/process"
)

// terminationGrace bounds how long a graceful signal gets before the
// process group is force-killed.
const terminationGrace = 2 * time.Second

func (s *Supervisor) gracePeriod() time.Duration {
	if s.cfg.PollInterval < terminationGrace {
		return terminationGrace
	}
	return s.cfg.PollInterval
}

// terminate stops h's process group: graceful signal first, then a forced
// kill once the grace period expires. Safe to call on dead handles.
func (s *Supervisor) terminate(h *procHandle, grace time.Duration) {
	if h == nil || h.cmd == nil || h.cmd.Process == nil {
		return
	}
	if !processAlive(h.pid) {
		return
	}

	if err := signalGroup(h.pid, true); err != nil {
		s.logger.Debugw("graceful signal failed", "pid", h.pid, "error", err)
	}

	deadline := time.Now().Add(grace)
	for time.Now().Before(deadline) {
		if !processAlive(h.pid) {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}

	if err := signalGroup(h.pid, false); err != nil {
		s.logger.Warnw("force kill failed", "pid", h.pid, "error", err)
	}
}

// killProcessTree forcibly kills e's child processes deepest-first, then
// the parent, so no orphans survive a kill_and_restart.
func (s *Supervisor) killProcessTree(e *Execution) {
	h := e.handle()
	if h == nil || h.cmd == nil || h.cmd.Process == nil {
		return
	}

	if p, err := process.NewProcess(int32(h.pid)); err == nil {
		for _, child := range descendants(p) {
			if err := child.Kill(); err != nil {
				s.logger.Debugw("kill child failed", "pid", child.Pid, "error", err)
			}
		}
	}

	// The group kill sweeps up anything the enumeration missed.
	_ = signalGroup(h.pid, false)

	deadline := time.Now().Add(s.gracePeriod())
	for time.Now().Before(deadline) && processAlive(h.pid) {
		time.Sleep(20 * time.Millisecond)
	}
}

// descendants returns p's children in deepest-first order.
func descendants(p *process.Process) []*process.Process {
	children, err := p.Children()
	if err != nil {
		return nil
	}
	var out []*process.Process
	for _, c := range children {
		out = append(out, descendants(c)...)
		out = append(out, c)
	}
	return out
}
