package supervisor

import (
	"context"
	"time"

	"github.com/reh3376/ignition-tools-sub006/pkg/lib"
)

// Execute is the scoped execution helper: it submits req, hands the live
// handle to fn, and guarantees that the underlying process is no longer
// running when it returns, on error paths too. With a nil fn it simply
// waits for the execution to finish.
func (s *Supervisor) Execute(ctx context.Context, req lib.CommandRequest, fn func(*Execution) error) error {
	e, err := s.Submit(req)
	if err != nil {
		return err
	}

	defer func() {
		if e.State().Terminal() {
			return
		}
		_ = s.Kill(e.id)
		reap, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = e.Wait(reap)
	}()

	if fn == nil {
		return e.Wait(ctx)
	}
	return fn(e)
}
