// Package supervisor launches external commands, watches their liveness and
// resource consumption, detects stalls and timeouts, and drives an
// automated, policy-driven recovery sequence while enforcing a concurrency
// cap and reclaiming completed work.
package supervisor

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/reh3376/ignition-tools-sub006/pkg/lib"
	"github.com/reh3376/ignition-tools-sub006/pkg/lib/metrics"
)

// StateEvent describes one execution state transition.
type StateEvent struct {
	ID     string
	From   lib.State
	To     lib.State
	Reason string
	At     time.Time
}

// Supervisor owns the execution registry and the background monitor and
// cleanup loops. Construct with New, then Start before submitting.
type Supervisor struct {
	cfg     Config
	logger  *zap.SugaredLogger
	probe   metrics.Probe
	archive Archiver

	// mu guards the registry; individual executions carry their own locks.
	mu         sync.RWMutex
	executions map[string]*Execution

	statsMu       sync.Mutex
	total         int64
	successful    int64
	failed        int64
	timedOut      int64
	recovered     int64
	stalled       int64
	totalDuration time.Duration
	finished      int64

	subMu       sync.Mutex
	subscribers map[chan StateEvent]struct{}

	lifeMu    sync.Mutex
	started   bool
	startedAt time.Time
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup // monitor + cleanup loops
	execWG    sync.WaitGroup // poll loops
}

// New builds a Supervisor from cfg. Zero-valued options take their
// defaults; out-of-range options are rejected.
func New(cfg Config) (*Supervisor, error) {
	cfg.fillDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Supervisor{
		cfg:         cfg,
		logger:      cfg.Logger.Sugar(),
		probe:       cfg.Probe,
		archive:     cfg.Archive,
		executions:  make(map[string]*Execution),
		subscribers: make(map[chan StateEvent]struct{}),
		ctx:         ctx,
		cancel:      cancel,
	}, nil
}

// Start validates the environment and launches the background monitor and
// cleanup loops. It fails fast with every missing capability enumerated.
func (s *Supervisor) Start() error {
	s.lifeMu.Lock()
	defer s.lifeMu.Unlock()

	if s.started {
		return fmt.Errorf("supervisor already started")
	}
	if s.ctx.Err() != nil {
		return fmt.Errorf("supervisor was stopped and cannot be restarted")
	}
	if err := s.validateEnvironment(); err != nil {
		return err
	}

	s.started = true
	s.startedAt = time.Now()

	s.wg.Add(2)
	go s.monitorLoop()
	go s.cleanupLoop()

	s.logger.Infow("supervisor started",
		"pollInterval", s.cfg.PollInterval,
		"maxConcurrent", s.cfg.MaxConcurrent,
		"autoRecovery", s.cfg.AutoRecovery)
	return nil
}

// Stop terminates every process still attached to a non-terminal execution
// and joins all background activity before returning.
func (s *Supervisor) Stop() error {
	s.lifeMu.Lock()
	if s.ctx.Err() != nil {
		s.lifeMu.Unlock()
		return nil
	}
	s.cancel()
	s.lifeMu.Unlock()

	// Poll loops observe the cancellation and kill their own processes;
	// waiting on them is what guarantees nothing is left running.
	s.execWG.Wait()
	s.wg.Wait()

	s.subMu.Lock()
	for ch := range s.subscribers {
		close(ch)
	}
	s.subscribers = nil
	s.subMu.Unlock()

	s.logger.Infow("supervisor stopped")
	return nil
}

// validateEnvironment checks the capabilities the supervisor depends on:
// a shell for Shell requests, a working resource probe, and a minimum of
// available system memory.
func (s *Supervisor) validateEnvironment() error {
	var missing []string

	if _, err := exec.LookPath("sh"); err != nil {
		missing = append(missing, "process launch: shell interpreter (sh) not found in PATH")
	}

	if sampler, err := s.probe.Attach(os.Getpid()); err != nil {
		missing = append(missing, fmt.Sprintf("resource probe: attach failed: %v", err))
	} else if _, err := sampler.Sample(); err != nil {
		missing = append(missing, fmt.Sprintf("resource probe: self-sample failed: %v", err))
	}

	if avail, err := metrics.AvailableMemory(); err != nil {
		missing = append(missing, fmt.Sprintf("memory check failed: %v", err))
	} else if avail < s.cfg.MinAvailableMemory {
		missing = append(missing, fmt.Sprintf("insufficient free memory: %d MiB available, %d MiB required",
			avail>>20, s.cfg.MinAvailableMemory>>20))
	}

	if len(missing) > 0 {
		return fmt.Errorf("environment validation failed: %s", strings.Join(missing, "; "))
	}
	return nil
}

// monitorLoop owns registry-wide observation: system memory pressure and a
// periodic aggregate log. Per-execution sampling happens in each
// execution's own poll loop.
func (s *Supervisor) monitorLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	var pressureLatched bool
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			used, err := metrics.SystemMemoryUsedPercent()
			if err != nil {
				s.logger.Debugw("system memory read failed", "error", err)
				continue
			}
			above := used > s.cfg.MemoryWarnThreshold
			if above && !pressureLatched {
				s.logger.Warnw("system memory pressure",
					"usedPercent", used, "threshold", s.cfg.MemoryWarnThreshold,
					"running", s.runningCount())
			}
			pressureLatched = above
		}
	}
}

// cleanupLoop periodically reaps terminal executions older than the
// retention window.
func (s *Supervisor) cleanupLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			if n := s.cleanupOnce(time.Now()); n > 0 {
				s.logger.Infow("reaped terminal executions", "count", n)
			}
		}
	}
}

// cleanupOnce removes terminal executions whose end time is older than
// now - cleanupInterval and hands them to the archiver. Running executions
// are never touched, regardless of age.
func (s *Supervisor) cleanupOnce(now time.Time) int {
	cutoff := now.Add(-s.cfg.CleanupInterval)

	s.mu.Lock()
	var evicted []*Execution
	for id, e := range s.executions {
		e.mu.RLock()
		terminal := e.state.Terminal()
		ended := e.endedAt
		e.mu.RUnlock()
		if terminal && !ended.IsZero() && ended.Before(cutoff) {
			delete(s.executions, id)
			evicted = append(evicted, e)
		}
	}
	s.mu.Unlock()

	for _, e := range evicted {
		if s.archive == nil {
			continue
		}
		e.mu.RLock()
		ended := e.endedAt
		e.mu.RUnlock()
		if err := s.archive.Archive(e.Status(), ended); err != nil {
			s.logger.Warnw("archive failed", "id", e.id, "error", err)
		}
	}
	return len(evicted)
}

// Kill force-terminates a running execution's process group. The owning
// poll loop observes the exit and seals the record as KILLED.
func (s *Supervisor) Kill(id string) error {
	s.mu.RLock()
	e := s.executions[id]
	s.mu.RUnlock()
	if e == nil {
		return os.ErrNotExist
	}
	if e.State().Terminal() {
		return nil
	}

	e.killRequested.Store(true)
	if h := e.handle(); h != nil {
		s.terminate(h, s.gracePeriod())
	}
	return nil
}

// Subscribe returns a channel of state transition events. Delivery is
// best-effort: slow subscribers miss events rather than block executions.
func (s *Supervisor) Subscribe() chan StateEvent {
	ch := make(chan StateEvent, 16)
	s.subMu.Lock()
	defer s.subMu.Unlock()
	if s.subscribers == nil {
		close(ch)
		return ch
	}
	s.subscribers[ch] = struct{}{}
	return ch
}

// Unsubscribe removes and closes a subscription channel.
func (s *Supervisor) Unsubscribe(ch chan StateEvent) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	if s.subscribers == nil {
		return
	}
	if _, ok := s.subscribers[ch]; ok {
		delete(s.subscribers, ch)
		close(ch)
	}
}

func (s *Supervisor) emitEvent(id string, from, to lib.State, reason string) {
	ev := StateEvent{ID: id, From: from, To: to, Reason: reason, At: time.Now()}

	s.subMu.Lock()
	defer s.subMu.Unlock()
	for ch := range s.subscribers {
		select {
		case ch <- ev:
		default:
		}
	}
}

func (s *Supervisor) runningCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, e := range s.executions {
		if e.State() == lib.StateRunning {
			n++
		}
	}
	return n
}
