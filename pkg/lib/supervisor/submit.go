package supervisor

import (
	"fmt"
	"strings"
	"time"

	"github.com/reh3376/ignition-tools-sub006/pkg/lib"
)

// Submit validates the request, applies admission control, registers a new
// execution and spawns its process. On spawn success the poll loop runs on
// its own goroutine and the execution handle is returned immediately; use
// Wait on the handle for synchronous behavior.
//
// Spawn failures terminally fail the execution with no recovery attempted;
// the (failed) handle is returned together with the SpawnError.
func (s *Supervisor) Submit(req lib.CommandRequest) (*Execution, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	if s.ctx.Err() != nil {
		return nil, fmt.Errorf("supervisor is stopped")
	}

	s.mu.Lock()
	active := 0
	for _, e := range s.executions {
		switch e.State() {
		case lib.StatePending, lib.StateRunning:
			active++
		}
	}
	if active >= s.cfg.MaxConcurrent {
		s.mu.Unlock()
		return nil, &lib.ResourceExhaustedError{Running: active, Limit: s.cfg.MaxConcurrent}
	}

	e := newExecution(s, req)
	s.executions[e.id] = e
	s.mu.Unlock()

	// Reserve a slot in execWG under the same lock Stop cancels under, so
	// Stop either sees this execution's poll loop or Submit sees the
	// cancellation. Without this, Stop could pass execWG.Wait while a
	// submission is between the ctx check and the spawn.
	s.lifeMu.Lock()
	if s.ctx.Err() != nil {
		s.lifeMu.Unlock()
		s.mu.Lock()
		delete(s.executions, e.id)
		s.mu.Unlock()
		return nil, fmt.Errorf("supervisor is stopped")
	}
	s.execWG.Add(1)
	s.lifeMu.Unlock()

	if err := e.spawn(); err != nil {
		s.execWG.Done()
		e.appendError(err.Error())
		e.setState(lib.StateFailed, "spawn failed")
		e.finalize()
		s.logger.Errorw("spawn failed", "id", e.id, "command", req.CommandLine(), "error", err)
		return e, err
	}

	e.setState(lib.StateRunning, "spawned")
	s.recordStarted()

	go e.pollLoop(s.ctx)

	s.logger.Infow("execution started",
		"id", e.id, "pid", e.handle().pid, "command", req.CommandLine(), "timeout", e.effectiveTimeout())
	return e, nil
}

// GetStatus returns the status snapshot for id, when it is still in the
// registry.
func (s *Supervisor) GetStatus(id string) (lib.ExecutionStatus, bool) {
	s.mu.RLock()
	e := s.executions[id]
	s.mu.RUnlock()
	if e == nil {
		return lib.ExecutionStatus{}, false
	}
	return e.Status(), true
}

// validateRequest performs the structural checks of the input contract.
func validateRequest(req lib.CommandRequest) error {
	if len(strings.Fields(req.Command)) == 0 {
		return &lib.ValidationError{Field: "command", Reason: "must contain at least one non-empty token"}
	}
	if req.Timeout != 0 && (req.Timeout < time.Second || req.Timeout > 3600*time.Second) {
		return &lib.ValidationError{
			Field:  "timeout",
			Reason: fmt.Sprintf("%v outside [1s, 1h]", req.Timeout),
		}
	}
	if req.MaxRetries != nil && (*req.MaxRetries < 0 || *req.MaxRetries > 10) {
		return &lib.ValidationError{
			Field:  "maxRetries",
			Reason: fmt.Sprintf("%d outside [0, 10]", *req.MaxRetries),
		}
	}
	return nil
}
