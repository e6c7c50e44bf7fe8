package lib

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// NewID returns a random identifier for a new execution.
func NewID() string {
	return uuid.NewString()
}

// State is the lifecycle state of a supervised execution.
type State int

const (
	StatePending State = iota
	StateRunning
	StateCompleted
	StateFailed
	StateTimeout
	StateKilled
	// StateRecovered is reachable only from a timeout/stall condition via a
	// successful recovery action. It counts as a successful terminal, but is
	// tracked separately because it implies at least one retry happened.
	StateRecovered
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateRunning:
		return "running"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	case StateTimeout:
		return "timeout"
	case StateKilled:
		return "killed"
	case StateRecovered:
		return "recovered"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transitions are possible from s.
func (s State) Terminal() bool {
	switch s {
	case StateCompleted, StateFailed, StateTimeout, StateKilled, StateRecovered:
		return true
	}
	return false
}

// Successful reports whether s counts toward the success statistics.
func (s State) Successful() bool {
	return s == StateCompleted || s == StateRecovered
}

// RecoveryAction is one policy response to a timed-out or stalled execution.
type RecoveryAction int

const (
	ActionRetry RecoveryAction = iota
	ActionKillAndRestart
	ActionAdaptiveTimeout
	ActionEscalate
	ActionSkip
)

func (a RecoveryAction) String() string {
	switch a {
	case ActionRetry:
		return "retry"
	case ActionKillAndRestart:
		return "kill_and_restart"
	case ActionAdaptiveTimeout:
		return "adaptive_timeout"
	case ActionEscalate:
		return "escalate"
	case ActionSkip:
		return "skip"
	default:
		return "unknown"
	}
}

// ParseRecoveryAction maps an action name to its value.
func ParseRecoveryAction(name string) (RecoveryAction, error) {
	switch name {
	case "retry":
		return ActionRetry, nil
	case "kill_and_restart":
		return ActionKillAndRestart, nil
	case "adaptive_timeout":
		return ActionAdaptiveTimeout, nil
	case "escalate":
		return ActionEscalate, nil
	case "skip":
		return ActionSkip, nil
	}
	return 0, fmt.Errorf("unknown recovery action %q", name)
}

// DefaultRecoveryActions is the ordered action sequence used when a request
// does not carry its own.
func DefaultRecoveryActions() []RecoveryAction {
	return []RecoveryAction{ActionRetry, ActionAdaptiveTimeout, ActionKillAndRestart, ActionEscalate}
}

// CommandRequest captures everything needed to launch and supervise one
// command. It is treated as immutable by the supervisor except for Timeout,
// which the adaptive_timeout recovery action is allowed to raise.
type CommandRequest struct {
	// Command is the program to run, or a full shell line when Shell is set.
	Command string
	Args    []string

	WorkDir string
	// Env entries override (are appended after) the inherited environment.
	Env map[string]string

	// Timeout bounds a single run; zero means the supervisor default.
	Timeout time.Duration
	Shell   bool

	CaptureOutput bool

	// MaxRetries overrides the supervisor's retry budget when non-nil.
	MaxRetries *int
	// RecoveryActions overrides the default ordered action list when non-empty.
	RecoveryActions []RecoveryAction

	// Critical marks the request for operator attention in diagnostics; it
	// does not alter recovery policy.
	Critical bool
}

// CommandLine renders the request for display and diagnostics.
func (r CommandRequest) CommandLine() string {
	if len(r.Args) == 0 {
		return r.Command
	}
	return strings.TrimSpace(r.Command + " " + strings.Join(r.Args, " "))
}

// ExecutionStatus is the caller-facing snapshot of one execution.
type ExecutionStatus struct {
	ID         string
	State      State
	Command    string
	Duration   time.Duration
	ReturnCode *int
	RetryCount int

	Errors   []string
	Warnings []string
	// RecoveryLog holds one "reason:action" entry per recovery cycle taken.
	RecoveryLog []string

	PeakMemory uint64
	AverageCPU float64
	Samples    int

	Critical bool
}

// SupervisorStats is the aggregate view over the supervisor's lifetime.
type SupervisorStats struct {
	TotalCommands      int64
	SuccessfulCommands int64
	FailedCommands     int64
	TimeoutCommands    int64
	RecoveredCommands  int64
	StalledCommands    int64

	Running         int
	AverageDuration time.Duration
	Uptime          time.Duration

	// SuccessRate is successful/total in percent; zero when nothing ran yet.
	SuccessRate float64
	// RecoveryRate is recovered/(failed+timeout); zero when the denominator is.
	RecoveryRate float64
}
