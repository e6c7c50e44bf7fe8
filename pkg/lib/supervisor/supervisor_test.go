package supervisor

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/reh3376/ignition-tools-sub006/pkg/lib"
	"github.com/reh3376/ignition-tools-sub006/pkg/lib/metrics"
)

// fakeProbe returns a fixed sample for every process; used to steer stall
// detection without depending on real scheduler behavior.
type fakeProbe struct {
	sample metrics.Sample
}

func (f fakeProbe) Attach(pid int) (metrics.Sampler, error) {
	return fakeSampler{sample: f.sample}, nil
}

type fakeSampler struct {
	sample metrics.Sample
}

func (f fakeSampler) Sample() (metrics.Sample, error) { return f.sample, nil }

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.PollInterval = 100 * time.Millisecond
	cfg.CleanupInterval = 60 * time.Second
	return cfg
}

func newTestSupervisor(t *testing.T, cfg Config) *Supervisor {
	t.Helper()
	s, err := New(cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	t.Cleanup(func() { _ = s.Stop() })
	return s
}

func waitTerminal(t *testing.T, e *Execution, within time.Duration) lib.State {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), within)
	defer cancel()
	if err := e.Wait(ctx); err != nil {
		t.Fatalf("execution %s did not finish within %v (state %v)", e.ID(), within, e.State())
	}
	return e.State()
}

func intPtr(v int) *int { return &v }

func TestSubmitCompletesWithOutput(t *testing.T) {
	s := newTestSupervisor(t, testConfig())

	e, err := s.Submit(lib.CommandRequest{
		Command:       "sh",
		Args:          []string{"-c", "echo out; echo err 1>&2"},
		CaptureOutput: true,
	})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	if st := waitTerminal(t, e, 5*time.Second); st != lib.StateCompleted {
		t.Fatalf("expected completed, got %v", st)
	}

	status, ok := s.GetStatus(e.ID())
	if !ok {
		t.Fatalf("GetStatus lost the execution")
	}
	if status.ReturnCode == nil || *status.ReturnCode != 0 {
		t.Fatalf("expected return code 0, got %v", status.ReturnCode)
	}
	if status.RetryCount != 0 {
		t.Fatalf("expected no retries, got %d", status.RetryCount)
	}
	if got := string(e.Stdout()); got != "out\n" {
		t.Fatalf("stdout mismatch: %q", got)
	}
	if got := string(e.Stderr()); got != "err\n" {
		t.Fatalf("stderr mismatch: %q", got)
	}
}

func TestSubmitRejectsInvalidRequests(t *testing.T) {
	s := newTestSupervisor(t, testConfig())

	cases := []lib.CommandRequest{
		{Command: ""},
		{Command: "   "},
		{Command: "true", Timeout: 10 * time.Millisecond},
		{Command: "true", MaxRetries: intPtr(99)},
	}
	for i, req := range cases {
		if _, err := s.Submit(req); !lib.IsValidation(err) {
			t.Fatalf("case %d: expected validation error, got %v", i, err)
		}
	}

	if stats := s.GetStatistics(); stats.TotalCommands != 0 {
		t.Fatalf("rejected requests must not count: %d", stats.TotalCommands)
	}
}

func TestAdmissionControl(t *testing.T) {
	cfg := testConfig()
	cfg.MaxConcurrent = 2
	s := newTestSupervisor(t, cfg)

	first, err := s.Submit(lib.CommandRequest{Command: "sleep", Args: []string{"5"}})
	if err != nil {
		t.Fatalf("Submit #1 failed: %v", err)
	}
	second, err := s.Submit(lib.CommandRequest{Command: "sleep", Args: []string{"5"}})
	if err != nil {
		t.Fatalf("Submit #2 failed: %v", err)
	}

	_, err = s.Submit(lib.CommandRequest{Command: "sleep", Args: []string{"5"}})
	if !lib.IsResourceExhausted(err) {
		t.Fatalf("expected resource exhausted, got %v", err)
	}

	// Capacity frees up once an execution terminates.
	if err := s.Kill(first.ID()); err != nil {
		t.Fatalf("Kill failed: %v", err)
	}
	waitTerminal(t, first, 5*time.Second)

	third, err := s.Submit(lib.CommandRequest{Command: "true"})
	if err != nil {
		t.Fatalf("Submit after capacity freed failed: %v", err)
	}
	waitTerminal(t, third, 5*time.Second)
	_ = s.Kill(second.ID())
}

func TestSpawnFailureIsTerminalWithoutRecovery(t *testing.T) {
	s := newTestSupervisor(t, testConfig())

	e, err := s.Submit(lib.CommandRequest{Command: "/definitely/not/a/binary"})
	if !lib.IsSpawn(err) {
		t.Fatalf("expected spawn error, got %v", err)
	}
	if e == nil {
		t.Fatalf("spawn failure must still return the record")
	}
	if st := e.State(); st != lib.StateFailed {
		t.Fatalf("expected failed, got %v", st)
	}

	status, ok := s.GetStatus(e.ID())
	if !ok {
		t.Fatalf("record missing after spawn failure")
	}
	if len(status.RecoveryLog) != 0 {
		t.Fatalf("spawn failures must not trigger recovery: %v", status.RecoveryLog)
	}
	if len(status.Errors) == 0 {
		t.Fatalf("expected the spawn failure to be recorded")
	}
}

func TestTimeoutWithoutRetriesStaysTimeout(t *testing.T) {
	s := newTestSupervisor(t, testConfig())

	start := time.Now()
	e, err := s.Submit(lib.CommandRequest{
		Command:    "sleep",
		Args:       []string{"5"},
		Timeout:    time.Second,
		MaxRetries: intPtr(0),
	})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	if st := waitTerminal(t, e, 5*time.Second); st != lib.StateTimeout {
		t.Fatalf("expected timeout, got %v", st)
	}
	// Detection within timeout + one poll interval, plus termination slack.
	if elapsed := time.Since(start); elapsed > 4*time.Second {
		t.Fatalf("timeout detected too late: %v", elapsed)
	}

	status, _ := s.GetStatus(e.ID())
	if status.RetryCount != 0 || len(status.RecoveryLog) != 0 {
		t.Fatalf("zero budget must mean zero recovery attempts: %+v", status)
	}
	if len(status.Errors) == 0 {
		t.Fatalf("expected a timeout diagnostic")
	}
}

func TestStatusRoundTripAcrossStates(t *testing.T) {
	s := newTestSupervisor(t, testConfig())

	req := lib.CommandRequest{Command: "sh", Args: []string{"-c", "sleep 0.3"}}
	e, err := s.Submit(req)
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	want := req.CommandLine()
	status, ok := s.GetStatus(e.ID())
	if !ok || status.Command != want {
		t.Fatalf("running status mismatch: %+v", status)
	}
	if status.State != lib.StateRunning {
		t.Fatalf("expected running, got %v", status.State)
	}

	waitTerminal(t, e, 5*time.Second)
	status, ok = s.GetStatus(e.ID())
	if !ok || status.Command != want {
		t.Fatalf("terminal status mismatch: %+v", status)
	}
}

func TestGetStatusUnknownID(t *testing.T) {
	s := newTestSupervisor(t, testConfig())
	if _, ok := s.GetStatus("no-such-id"); ok {
		t.Fatalf("unknown id must not be found")
	}
}

func TestStatisticsRates(t *testing.T) {
	s := newTestSupervisor(t, testConfig())

	// Empty supervisor: rates must be zero, not a division error.
	stats := s.GetStatistics()
	if stats.SuccessRate != 0 || stats.RecoveryRate != 0 {
		t.Fatalf("expected zero rates on empty supervisor: %+v", stats)
	}

	ok1, err := s.Submit(lib.CommandRequest{Command: "true"})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	waitTerminal(t, ok1, 5*time.Second)

	bad, err := s.Submit(lib.CommandRequest{Command: "false"})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if st := waitTerminal(t, bad, 5*time.Second); st != lib.StateFailed {
		t.Fatalf("expected failed, got %v", st)
	}

	stats = s.GetStatistics()
	if stats.TotalCommands != 2 || stats.SuccessfulCommands != 1 || stats.FailedCommands != 1 {
		t.Fatalf("counter mismatch: %+v", stats)
	}
	if stats.SuccessRate != 50 {
		t.Fatalf("expected success rate 50, got %v", stats.SuccessRate)
	}
	if stats.AverageDuration <= 0 {
		t.Fatalf("expected positive average duration")
	}
}

func TestCleanupEvictsOnlyAgedTerminalRecords(t *testing.T) {
	s := newTestSupervisor(t, testConfig())

	done, err := s.Submit(lib.CommandRequest{Command: "true"})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	waitTerminal(t, done, 5*time.Second)

	running, err := s.Submit(lib.CommandRequest{Command: "sleep", Args: []string{"10"}})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	// Fresh terminal record: still within the retention window.
	if n := s.cleanupOnce(time.Now()); n != 0 {
		t.Fatalf("evicted fresh record: %d", n)
	}

	// Far in the future every terminal record has aged out, but the
	// running execution must survive regardless.
	future := time.Now().Add(s.cfg.CleanupInterval + time.Hour)
	if n := s.cleanupOnce(future); n != 1 {
		t.Fatalf("expected exactly one eviction, got %d", n)
	}
	if _, ok := s.GetStatus(done.ID()); ok {
		t.Fatalf("terminal record should have been evicted")
	}
	if _, ok := s.GetStatus(running.ID()); !ok {
		t.Fatalf("running record must never be evicted")
	}
	_ = s.Kill(running.ID())
}

func TestKillMarksExecutionKilled(t *testing.T) {
	s := newTestSupervisor(t, testConfig())

	e, err := s.Submit(lib.CommandRequest{Command: "sleep", Args: []string{"10"}})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if err := s.Kill(e.ID()); err != nil {
		t.Fatalf("Kill failed: %v", err)
	}
	if st := waitTerminal(t, e, 5*time.Second); st != lib.StateKilled {
		t.Fatalf("expected killed, got %v", st)
	}

	if err := s.Kill("missing"); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected ErrNotExist for unknown id, got %v", err)
	}
}

func TestExecuteScopeTerminatesProcess(t *testing.T) {
	s := newTestSupervisor(t, testConfig())

	var id string
	err := s.Execute(context.Background(), lib.CommandRequest{Command: "sleep", Args: []string{"30"}},
		func(e *Execution) error {
			id = e.ID()
			if e.State() != lib.StateRunning {
				t.Fatalf("expected running inside scope, got %v", e.State())
			}
			return nil
		})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	status, ok := s.GetStatus(id)
	if !ok {
		t.Fatalf("record missing after Execute")
	}
	if !status.State.Terminal() {
		t.Fatalf("process must be terminated when the scope exits, state %v", status.State)
	}
}

func TestStopTerminatesRunningExecutions(t *testing.T) {
	s := newTestSupervisor(t, testConfig())

	e, err := s.Submit(lib.CommandRequest{Command: "sleep", Args: []string{"30"}})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	if err := s.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if st := e.State(); st != lib.StateKilled {
		t.Fatalf("expected killed after Stop, got %v", st)
	}

	if _, err := s.Submit(lib.CommandRequest{Command: "true"}); err == nil {
		t.Fatalf("Submit after Stop must fail")
	}
}

func TestStopConcurrentWithSubmitLeavesNothingRunning(t *testing.T) {
	s := newTestSupervisor(t, testConfig())

	var (
		mu        sync.Mutex
		submitted []*Execution
	)
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				e, err := s.Submit(lib.CommandRequest{Command: "sleep", Args: []string{"30"}})
				if err != nil {
					if e != nil {
						mu.Lock()
						submitted = append(submitted, e)
						mu.Unlock()
					}
					if !lib.IsResourceExhausted(err) {
						return // supervisor stopped
					}
					time.Sleep(10 * time.Millisecond)
					continue
				}
				mu.Lock()
				submitted = append(submitted, e)
				mu.Unlock()
			}
		}()
	}

	time.Sleep(200 * time.Millisecond)
	if err := s.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	wg.Wait()

	// Stop must not return while any accepted execution still owns a live
	// process; every record has to be sealed by now.
	mu.Lock()
	defer mu.Unlock()
	for _, e := range submitted {
		if st := e.State(); !st.Terminal() {
			t.Fatalf("execution %s still %v after Stop returned", e.ID(), st)
		}
	}
}

func TestStartValidatesEnvironmentAndRuns(t *testing.T) {
	s := newTestSupervisor(t, testConfig())

	if err := s.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := s.Start(); err == nil {
		t.Fatalf("second Start must fail")
	}

	stats := s.GetStatistics()
	if stats.Uptime <= 0 {
		t.Fatalf("expected positive uptime after Start")
	}
}

func TestStartFailsWithInsufficientMemoryFloor(t *testing.T) {
	cfg := testConfig()
	cfg.MinAvailableMemory = 1 << 62 // absurd floor nothing can satisfy
	s := newTestSupervisor(t, cfg)

	err := s.Start()
	if err == nil {
		t.Fatalf("expected environment validation to fail")
	}
}

func TestStateEvents(t *testing.T) {
	s := newTestSupervisor(t, testConfig())
	ch := s.Subscribe()
	defer s.Unsubscribe(ch)

	e, err := s.Submit(lib.CommandRequest{Command: "true"})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	waitTerminal(t, e, 5*time.Second)

	deadline := time.After(3 * time.Second)
	var sawRunning, sawCompleted bool
	for !(sawRunning && sawCompleted) {
		select {
		case ev := <-ch:
			if ev.ID != e.ID() {
				continue
			}
			switch ev.To {
			case lib.StateRunning:
				sawRunning = true
			case lib.StateCompleted:
				sawCompleted = true
			}
		case <-deadline:
			t.Fatalf("events missing: running=%v completed=%v", sawRunning, sawCompleted)
		}
	}
}
