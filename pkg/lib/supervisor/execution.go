package supervisor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"github.com/reh3376/ignition-tools-sub006/pkg/lib"
	"github.com/reh3376/ignition-tools-sub006/pkg/lib/capture"
	"github.com/reh3376/ignition-tools-sub006/pkg/lib/metrics"
)

// procHandle couples a live process with its waiter channel and probe
// sampler. A fresh handle is created for every (re)spawn.
type procHandle struct {
	cmd     *exec.Cmd
	pid     int
	waitCh  chan error
	sampler metrics.Sampler
}

// Execution is the unit of supervised state: one submitted command, its
// live process, metrics and retry bookkeeping. All state transitions are
// driven by the goroutine that owns the poll loop; other goroutines only
// read snapshots or flag intent (kill) through atomics.
type Execution struct {
	id  string
	sup *Supervisor

	mu          sync.RWMutex
	req         lib.CommandRequest
	state       lib.State
	proc        *procHandle
	returnCode  *int
	retryCount  int
	errs        []string
	warnings    []string
	recoveryLog []string
	lastRecover time.Time
	endedAt     time.Time
	stallWarned bool

	metrics *metrics.Record
	stdout  *capture.Buffer
	stderr  *capture.Buffer

	killRequested atomic.Bool
	done          chan struct{}
}

func newExecution(sup *Supervisor, req lib.CommandRequest) *Execution {
	e := &Execution{
		id:      lib.NewID(),
		sup:     sup,
		req:     req,
		state:   lib.StatePending,
		metrics: metrics.NewRecord(),
		done:    make(chan struct{}),
	}
	if req.CaptureOutput {
		e.stdout = capture.New(sup.cfg.CaptureLimit)
		e.stderr = capture.New(sup.cfg.CaptureLimit)
	}
	return e
}

// ID returns the execution's generated identifier.
func (e *Execution) ID() string { return e.id }

// State returns the current lifecycle state.
func (e *Execution) State() lib.State {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state
}

// Request returns a copy of the originating request (with any adaptive
// timeout adjustment applied).
func (e *Execution) Request() lib.CommandRequest {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.req
}

// Stdout returns the captured standard output so far; nil without capture.
func (e *Execution) Stdout() []byte {
	if e.stdout == nil {
		return nil
	}
	return e.stdout.Bytes()
}

// Stderr returns the captured standard error so far; nil without capture.
func (e *Execution) Stderr() []byte {
	if e.stderr == nil {
		return nil
	}
	return e.stderr.Bytes()
}

// SubscribeStdout streams captured stdout; the channel closes when the
// stream ends. Returns nil when output capture was not requested.
func (e *Execution) SubscribeStdout() <-chan []byte {
	if e.stdout == nil {
		return nil
	}
	return e.stdout.Subscribe(8)
}

// SubscribeStderr streams captured stderr like SubscribeStdout.
func (e *Execution) SubscribeStderr() <-chan []byte {
	if e.stderr == nil {
		return nil
	}
	return e.stderr.Subscribe(8)
}

// Wait blocks until the execution reaches a terminal state or ctx is done.
func (e *Execution) Wait(ctx context.Context) error {
	select {
	case <-e.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Status produces the caller-facing snapshot.
func (e *Execution) Status() lib.ExecutionStatus {
	snap := e.metrics.Snapshot()

	e.mu.RLock()
	defer e.mu.RUnlock()

	st := lib.ExecutionStatus{
		ID:          e.id,
		State:       e.state,
		Command:     e.req.CommandLine(),
		Duration:    snap.Duration,
		RetryCount:  e.retryCount,
		Errors:      append([]string(nil), e.errs...),
		Warnings:    append([]string(nil), e.warnings...),
		RecoveryLog: append([]string(nil), e.recoveryLog...),
		PeakMemory:  snap.PeakRSS,
		AverageCPU:  snap.AverageCPU,
		Samples:     snap.Samples,
		Critical:    e.req.Critical,
	}
	if e.returnCode != nil {
		code := *e.returnCode
		st.ReturnCode = &code
	}
	return st
}

func (e *Execution) appendError(msg string) {
	e.mu.Lock()
	e.errs = append(e.errs, msg)
	e.mu.Unlock()
}

func (e *Execution) appendWarning(msg string) {
	e.mu.Lock()
	e.warnings = append(e.warnings, msg)
	e.mu.Unlock()
}

func (e *Execution) setReturnCode(code int) {
	e.mu.Lock()
	e.returnCode = &code
	e.mu.Unlock()
}

// setState records a transition and emits a state event. It does not close
// the done channel; finalize does that exactly once.
func (e *Execution) setState(to lib.State, reason string) {
	e.mu.Lock()
	from := e.state
	e.state = to
	e.mu.Unlock()

	if from != to {
		e.sup.emitEvent(e.id, from, to, reason)
	}
}

// finalize seals the execution: freezes metrics, stamps the end time,
// updates lifetime statistics, closes capture streams and releases waiters.
// Must be called exactly once, by the owning goroutine.
func (e *Execution) finalize() {
	e.metrics.Finish()

	e.mu.Lock()
	e.endedAt = time.Now()
	final := e.state
	e.proc = nil
	e.mu.Unlock()

	e.stdout.Close()
	e.stderr.Close()

	e.sup.recordTerminal(final, e.metrics.Duration())
	close(e.done)
}

// effectiveTimeout returns the request timeout or the supervisor default.
func (e *Execution) effectiveTimeout() time.Duration {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.req.Timeout > 0 {
		return e.req.Timeout
	}
	return e.sup.cfg.DefaultTimeout
}

// effectiveMaxRetries returns the request override or the config default.
func (e *Execution) effectiveMaxRetries() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.req.MaxRetries != nil {
		return *e.req.MaxRetries
	}
	return e.sup.cfg.MaxRetries
}

func (e *Execution) recoveryActions() []lib.RecoveryAction {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if len(e.req.RecoveryActions) > 0 {
		return append([]lib.RecoveryAction(nil), e.req.RecoveryActions...)
	}
	return lib.DefaultRecoveryActions()
}

// scaleTimeout multiplies the effective timeout by factor and persists the
// result on the request, so later runs inherit the extension.
func (e *Execution) scaleTimeout(factor float64) time.Duration {
	cur := e.effectiveTimeout()
	next := time.Duration(float64(cur) * factor)

	e.mu.Lock()
	e.req.Timeout = next
	e.mu.Unlock()
	return next
}

// spawn launches the process described by the request and installs a fresh
// procHandle with its waiter goroutine and probe sampler.
func (e *Execution) spawn() error {
	e.mu.RLock()
	req := e.req
	e.mu.RUnlock()

	var cmd *exec.Cmd
	if req.Shell {
		cmd = exec.Command("sh", "-c", req.CommandLine())
	} else {
		cmd = exec.Command(req.Command, req.Args...)
	}
	if req.WorkDir != "" {
		cmd.Dir = req.WorkDir
	}
	if len(req.Env) > 0 {
		env := os.Environ()
		for k, v := range req.Env {
			env = append(env, k+"="+v)
		}
		cmd.Env = env
	}
	// New process group so children can be terminated as a unit.
	cmd.SysProcAttr = sysProcAttr()

	if req.CaptureOutput {
		cmd.Stdout = e.stdout
		cmd.Stderr = e.stderr
	} else {
		cmd.Stdout = io.Discard
		cmd.Stderr = io.Discard
	}

	if err := cmd.Start(); err != nil {
		return &lib.SpawnError{Command: req.CommandLine(), Err: err}
	}

	h := &procHandle{
		cmd:    cmd,
		pid:    cmd.Process.Pid,
		waitCh: make(chan error, 1),
	}
	go func() {
		h.waitCh <- cmd.Wait()
	}()

	if sampler, err := e.sup.probe.Attach(h.pid); err == nil {
		h.sampler = sampler
	} else {
		e.sup.logger.Debugw("resource probe unavailable", "id", e.id, "pid", h.pid, "error", err)
	}

	e.mu.Lock()
	e.proc = h
	e.mu.Unlock()
	return nil
}

func (e *Execution) handle() *procHandle {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.proc
}

// pollLoop drives the execution at the configured cadence: liveness, then
// timeout, then resource sampling and stall detection. It is the sole
// driver of state transitions for this execution.
func (e *Execution) pollLoop(ctx context.Context) {
	defer e.sup.execWG.Done()

	ticker := time.NewTicker(e.sup.cfg.PollInterval)
	defer ticker.Stop()

	for {
		h := e.handle()

		select {
		case waitErr := <-h.waitCh:
			e.collectResult(waitErr)
			e.finalize()
			return

		case <-ctx.Done():
			e.terminateForShutdown(h)
			e.finalize()
			return

		case <-ticker.C:
			elapsed := e.metrics.Duration()
			if elapsed > e.effectiveTimeout() {
				e.handleTimeout(elapsed)
				e.finalize()
				return
			}
			if done := e.sampleTick(h); done {
				e.finalize()
				return
			}
		}
	}
}

// handleTimeout transitions to TIMEOUT and, when enabled, runs one recovery
// cycle. Afterwards the execution is terminal no matter what the cycle did;
// any process left behind is killed.
func (e *Execution) handleTimeout(elapsed time.Duration) {
	e.appendError(fmt.Sprintf("command timed out after %s (limit %s)",
		elapsed.Round(time.Millisecond), e.effectiveTimeout()))
	e.setState(lib.StateTimeout, "timeout")
	e.sup.recordTimedOut()
	e.sup.logger.Warnw("execution timed out", "id", e.id, "elapsed", elapsed)

	e.sup.recover(e, reasonTimeout)

	// Whatever state the cycle left, nothing may keep running.
	if h := e.handle(); h != nil {
		e.sup.terminate(h, e.sup.gracePeriod())
	}
}

// sampleTick feeds the probe reading into the metrics record and reacts to
// stall and memory-pressure conditions. It reports true when a recovery
// cycle left the execution in a state the poll loop must seal.
func (e *Execution) sampleTick(h *procHandle) bool {
	if h.sampler == nil {
		return false
	}
	s, err := h.sampler.Sample()
	if err != nil {
		// Transient while the process is exiting; skip this tick.
		e.sup.logger.Debugw("probe sample failed", "id", e.id, "error", err)
		return false
	}
	e.metrics.AddSample(s)

	if s.MemoryPercent > e.sup.cfg.MemoryWarnThreshold {
		e.warnOnce(fmt.Sprintf("memory usage %.1f%% above threshold %.1f%%",
			s.MemoryPercent, e.sup.cfg.MemoryWarnThreshold))
	}

	if !e.metrics.IsStalled(e.sup.cfg.StallWindow, e.sup.cfg.CPUStallThreshold) {
		return false
	}

	e.mu.Lock()
	already := e.stallWarned
	e.stallWarned = true
	e.mu.Unlock()
	if already {
		return false
	}

	e.appendWarning(fmt.Sprintf("process appears stalled: mean CPU below %.1f%% over last %d samples",
		e.sup.cfg.CPUStallThreshold, e.sup.cfg.StallWindow))
	e.sup.recordStalled()
	e.sup.logger.Warnw("execution stalled", "id", e.id, "pid", h.pid)

	if !e.sup.recover(e, reasonStall) {
		// No cycle ran (recovery disabled or zero budget); keep polling.
		return false
	}

	if st := e.State(); !st.Terminal() {
		// A cycle ran and failed without escalating; the process is gone,
		// so the execution cannot make progress anymore.
		e.appendError("recovery cycle failed; aborting stalled execution")
		e.setState(lib.StateFailed, "recovery failed")
	}
	return true
}

// warnOnce appends msg only if it is not already the latest warning.
func (e *Execution) warnOnce(msg string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if n := len(e.warnings); n > 0 && e.warnings[n-1] == msg {
		return
	}
	e.warnings = append(e.warnings, msg)
}

// collectResult turns a natural exit into COMPLETED/FAILED/KILLED.
func (e *Execution) collectResult(waitErr error) {
	code, ok := exitCode(waitErr)
	if ok {
		e.setReturnCode(code)
	}

	switch {
	case e.killRequested.Load():
		e.appendWarning("process killed on request")
		e.setState(lib.StateKilled, "killed")
	case waitErr == nil:
		e.setState(lib.StateCompleted, "exit 0")
	case ok:
		e.appendError(fmt.Sprintf("command exited with code %d", code))
		e.setState(lib.StateFailed, fmt.Sprintf("exit %d", code))
	default:
		e.appendError(fmt.Sprintf("command failed: %v", waitErr))
		e.setState(lib.StateFailed, "wait error")
	}
}

func (e *Execution) terminateForShutdown(h *procHandle) {
	e.sup.terminate(h, e.sup.gracePeriod())
	e.appendWarning("supervisor stopped while execution was running")
	e.setState(lib.StateKilled, "supervisor shutdown")
}

// exitCode extracts the exit code from a Wait error. ok is false when the
// error carries no code (start/IO failures).
func exitCode(waitErr error) (int, bool) {
	if waitErr == nil {
		return 0, true
	}
	var exitErr *exec.ExitError
	if errors.As(waitErr, &exitErr) {
		return exitErr.ExitCode(), true
	}
	return 0, false
}
