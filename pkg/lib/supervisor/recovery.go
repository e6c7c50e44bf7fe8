package supervisor

import (
	"fmt"
	"time"

	"github.com/reh3376/ignition-tools-sub006/pkg/lib"
)

// Recovery trigger reasons, recorded in the per-execution recovery log.
const (
	reasonTimeout = "timeout"
	reasonStall   = "stall"
)

// restartCooldown is the pause between killing a process tree and
// respawning it, giving the OS time to reap and release resources.
const restartCooldown = 500 * time.Millisecond

// recover runs at most one recovery cycle for e: walk the configured
// action list in order and stop at the first action that reports success.
// The retry counter is incremented exactly once per cycle, after the walk,
// and one reason:action entry is appended to the recovery log.
//
// It returns false when no cycle ran at all (recovery disabled, or a zero
// retry budget, which deliberately leaves the triggering state untouched).
// A budget that existed and has been consumed terminally fails the
// execution instead.
func (s *Supervisor) recover(e *Execution, reason string) bool {
	if !s.cfg.AutoRecovery {
		return false
	}
	max := e.effectiveMaxRetries()
	if max <= 0 {
		return false
	}

	e.mu.RLock()
	count := e.retryCount
	e.mu.RUnlock()
	if count >= max {
		err := &lib.RecoveryExhaustedError{ID: e.id, Retries: count}
		e.appendError(err.Error())
		e.setState(lib.StateFailed, "recovery exhausted")
		s.logger.Errorw("recovery budget exhausted", "id", e.id, "retries", count)
		return true
	}

	actions := e.recoveryActions()
	attempted := actions[0]
	success := false
	for _, action := range actions {
		attempted = action
		s.logger.Infow("attempting recovery action",
			"id", e.id, "reason", reason, "action", action.String(), "retryCount", count)
		if s.runAction(e, action, reason) {
			success = true
			break
		}
	}

	e.mu.Lock()
	e.retryCount++
	e.lastRecover = time.Now()
	e.recoveryLog = append(e.recoveryLog, reason+":"+attempted.String())
	e.mu.Unlock()

	if success && e.State() != lib.StateCompleted {
		// SKIP marks COMPLETED itself; every other successful action means
		// the execution came back from trouble.
		e.setState(lib.StateRecovered, reason+" recovered via "+attempted.String())
		s.logger.Infow("execution recovered", "id", e.id, "action", attempted.String())
	}
	return true
}

func (s *Supervisor) runAction(e *Execution, action lib.RecoveryAction, reason string) bool {
	switch action {
	case lib.ActionRetry:
		return s.restartAndWait(e)

	case lib.ActionKillAndRestart:
		s.killProcessTree(e)
		select {
		case <-time.After(restartCooldown):
		case <-s.ctx.Done():
			return false
		}
		return s.restartAndWait(e)

	case lib.ActionAdaptiveTimeout:
		next := e.scaleTimeout(s.cfg.AdaptiveTimeoutFactor)
		e.appendWarning(fmt.Sprintf("timeout extended to %s (factor %.2f)", next, s.cfg.AdaptiveTimeoutFactor))
		return s.restartAndWait(e)

	case lib.ActionEscalate:
		s.escalate(e, reason)
		return false

	case lib.ActionSkip:
		e.setReturnCode(-1)
		e.appendWarning("failure deliberately bypassed; execution marked completed")
		e.setState(lib.StateCompleted, "skipped")
		if h := e.handle(); h != nil {
			s.terminate(h, s.gracePeriod())
		}
		return true
	}
	return false
}

// restartAndWait terminates the current process if still alive, resets the
// metrics window and re-spawns the same command. Success means the
// re-spawned run completes with exit code 0 within the effective timeout.
func (s *Supervisor) restartAndWait(e *Execution) bool {
	if h := e.handle(); h != nil {
		s.terminate(h, s.gracePeriod())
		// Wait for the old run's Wait to come back before spawning again:
		// the capture buffers allow one appender at a time, and the old
		// run's output copiers only finish when Wait does.
		select {
		case <-h.waitCh:
		case <-time.After(s.gracePeriod()):
			s.logger.Warnw("previous run did not settle before restart", "id", e.id, "pid", h.pid)
		}
	}

	e.metrics.Reset()
	e.mu.Lock()
	e.stallWarned = false
	e.mu.Unlock()

	if err := e.spawn(); err != nil {
		e.appendError(fmt.Sprintf("restart failed: %v", err))
		return false
	}
	h := e.handle()

	timeout := e.effectiveTimeout()
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case waitErr := <-h.waitCh:
			code, ok := exitCode(waitErr)
			if ok {
				e.setReturnCode(code)
			}
			if waitErr == nil {
				return true
			}
			if ok {
				e.appendError(fmt.Sprintf("restarted run exited with code %d", code))
			} else {
				e.appendError(fmt.Sprintf("restarted run failed: %v", waitErr))
			}
			return false

		case <-deadline.C:
			e.appendError(fmt.Sprintf("restarted run timed out after %s", timeout))
			s.terminate(h, s.gracePeriod())
			<-h.waitCh
			return false

		case <-s.ctx.Done():
			s.terminate(h, s.gracePeriod())
			return false

		case <-ticker.C:
			if h.sampler != nil {
				if sample, err := h.sampler.Sample(); err == nil {
					e.metrics.AddSample(sample)
				}
			}
		}
	}
}

// escalate gives up on automated recovery: it records a critical
// diagnostic for operator consumption and terminally fails the execution.
func (s *Supervisor) escalate(e *Execution, reason string) {
	e.mu.RLock()
	command := e.req.CommandLine()
	retries := e.retryCount
	critical := e.req.Critical
	e.mu.RUnlock()

	e.appendError(fmt.Sprintf(
		"ESCALATED: manual intervention required for %q (reason=%s, retries=%d, critical=%t); operator response expected within %s",
		command, reason, retries, critical, s.cfg.EscalationTimeout))
	e.setState(lib.StateFailed, "escalated")

	s.logger.Errorw("execution escalated, manual intervention required",
		"id", e.id,
		"command", command,
		"reason", reason,
		"retryCount", retries,
		"critical", critical,
		"escalationTimeout", s.cfg.EscalationTimeout)
}
