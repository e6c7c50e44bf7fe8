package supervisor

import (
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/reh3376/ignition-tools-sub006/pkg/lib"
	"github.com/reh3376/ignition-tools-sub006/pkg/lib/metrics"
)

// Archiver receives terminal executions as the cleanup loop evicts them.
type Archiver interface {
	Archive(status lib.ExecutionStatus, endedAt time.Time) error
}

// Config holds the recognized supervisor options. Zero values are filled
// from DefaultConfig by New; out-of-range values are rejected by Validate.
type Config struct {
	// PollInterval is the cadence of each execution's poll loop (0.1s-10s).
	PollInterval time.Duration
	// DefaultTimeout bounds executions without an explicit timeout (1s-3600s).
	DefaultTimeout time.Duration
	// MaxRetries is the recovery budget per execution (0-10).
	MaxRetries int
	// StallWindow is the number of CPU samples considered by stall
	// detection (5-60).
	StallWindow int
	// CPUStallThreshold is the mean CPU%% under which a full window counts
	// as stalled (0-100).
	CPUStallThreshold float64
	// MemoryWarnThreshold is the memory%% above which warnings are raised.
	MemoryWarnThreshold float64
	// AutoRecovery enables the recovery engine.
	AutoRecovery bool
	// EscalationTimeout is carried in escalation diagnostics as the window
	// within which an operator is expected to react.
	EscalationTimeout time.Duration
	// AdaptiveTimeoutFactor multiplies the timeout on adaptive_timeout
	// recovery (1.0-3.0).
	AdaptiveTimeoutFactor float64
	// MaxConcurrent caps simultaneously running executions (1-20).
	MaxConcurrent int
	// CleanupInterval is both the cleanup cadence and the retention window
	// for terminal records (60s-3600s).
	CleanupInterval time.Duration

	// MinAvailableMemory is the free-memory floor checked by Start.
	MinAvailableMemory uint64
	// CaptureLimit caps retained bytes per captured stream.
	CaptureLimit int64

	// Logger defaults to a nop logger.
	Logger *zap.Logger
	// Probe defaults to the gopsutil system probe.
	Probe metrics.Probe
	// Archive, when set, receives records evicted by the cleanup loop.
	Archive Archiver
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		PollInterval:          time.Second,
		DefaultTimeout:        30 * time.Second,
		MaxRetries:            3,
		StallWindow:           10,
		CPUStallThreshold:     5.0,
		MemoryWarnThreshold:   90.0,
		AutoRecovery:          true,
		EscalationTimeout:     120 * time.Second,
		AdaptiveTimeoutFactor: 1.5,
		MaxConcurrent:         5,
		CleanupInterval:       300 * time.Second,
		MinAvailableMemory:    64 << 20,
		CaptureLimit:          1 << 20,
	}
}

// Validate checks every option against its documented range and returns a
// single error naming all violations.
func (c *Config) Validate() error {
	var bad []string

	if c.PollInterval < 100*time.Millisecond || c.PollInterval > 10*time.Second {
		bad = append(bad, fmt.Sprintf("pollInterval %v outside [100ms, 10s]", c.PollInterval))
	}
	if c.DefaultTimeout < time.Second || c.DefaultTimeout > 3600*time.Second {
		bad = append(bad, fmt.Sprintf("defaultTimeout %v outside [1s, 1h]", c.DefaultTimeout))
	}
	if c.MaxRetries < 0 || c.MaxRetries > 10 {
		bad = append(bad, fmt.Sprintf("maxRetries %d outside [0, 10]", c.MaxRetries))
	}
	if c.StallWindow < 5 || c.StallWindow > 60 {
		bad = append(bad, fmt.Sprintf("stallWindow %d outside [5, 60]", c.StallWindow))
	}
	if c.CPUStallThreshold < 0 || c.CPUStallThreshold > 100 {
		bad = append(bad, fmt.Sprintf("cpuStallThreshold %.1f outside [0, 100]", c.CPUStallThreshold))
	}
	if c.MemoryWarnThreshold < 0 || c.MemoryWarnThreshold > 100 {
		bad = append(bad, fmt.Sprintf("memoryWarnThreshold %.1f outside [0, 100]", c.MemoryWarnThreshold))
	}
	if c.AdaptiveTimeoutFactor < 1.0 || c.AdaptiveTimeoutFactor > 3.0 {
		bad = append(bad, fmt.Sprintf("adaptiveTimeoutFactor %.2f outside [1.0, 3.0]", c.AdaptiveTimeoutFactor))
	}
	if c.MaxConcurrent < 1 || c.MaxConcurrent > 20 {
		bad = append(bad, fmt.Sprintf("maxConcurrent %d outside [1, 20]", c.MaxConcurrent))
	}
	if c.CleanupInterval < 60*time.Second || c.CleanupInterval > 3600*time.Second {
		bad = append(bad, fmt.Sprintf("cleanupInterval %v outside [60s, 1h]", c.CleanupInterval))
	}

	if len(bad) > 0 {
		return fmt.Errorf("invalid supervisor config: %s", strings.Join(bad, "; "))
	}
	return nil
}

func (c *Config) fillDefaults() {
	def := DefaultConfig()
	if c.PollInterval == 0 {
		c.PollInterval = def.PollInterval
	}
	if c.DefaultTimeout == 0 {
		c.DefaultTimeout = def.DefaultTimeout
	}
	if c.StallWindow == 0 {
		c.StallWindow = def.StallWindow
	}
	if c.CPUStallThreshold == 0 {
		c.CPUStallThreshold = def.CPUStallThreshold
	}
	if c.MemoryWarnThreshold == 0 {
		c.MemoryWarnThreshold = def.MemoryWarnThreshold
	}
	if c.EscalationTimeout == 0 {
		c.EscalationTimeout = def.EscalationTimeout
	}
	if c.AdaptiveTimeoutFactor == 0 {
		c.AdaptiveTimeoutFactor = def.AdaptiveTimeoutFactor
	}
	if c.MaxConcurrent == 0 {
		c.MaxConcurrent = def.MaxConcurrent
	}
	if c.CleanupInterval == 0 {
		c.CleanupInterval = def.CleanupInterval
	}
	if c.MinAvailableMemory == 0 {
		c.MinAvailableMemory = def.MinAvailableMemory
	}
	if c.CaptureLimit == 0 {
		c.CaptureLimit = def.CaptureLimit
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	if c.Probe == nil {
		c.Probe = metrics.SystemProbe{}
	}
}
