// Package metrics keeps the rolling resource record for one supervised
// execution and answers the "is this stalled?" question.
package metrics

import (
	"sync"
	"time"
)

// Sample is one instantaneous resource-probe reading.
type Sample struct {
	CPUPercent    float64
	MemoryPercent float64
	RSS           uint64
	IORead        uint64
	IOWrite       uint64
}

// Record accumulates probe samples for a single execution. The owning poll
// loop is the only writer; snapshots may be taken from other goroutines.
type Record struct {
	mu sync.RWMutex

	start time.Time
	end   time.Time // zero while running

	cpuHistory []float64
	memHistory []float64
	cpuSum     float64

	peakRSS   uint64
	ioReadHW  uint64
	ioWriteHW uint64
}

// NewRecord starts a fresh record with start time now.
func NewRecord() *Record {
	return &Record{start: time.Now()}
}

// AddSample appends one probe reading, updating peak memory, the running
// CPU average and the I/O high-water marks.
func (r *Record) AddSample(s Sample) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.cpuHistory = append(r.cpuHistory, s.CPUPercent)
	r.memHistory = append(r.memHistory, s.MemoryPercent)
	r.cpuSum += s.CPUPercent

	if s.RSS > r.peakRSS {
		r.peakRSS = s.RSS
	}
	if s.IORead > r.ioReadHW {
		r.ioReadHW = s.IORead
	}
	if s.IOWrite > r.ioWriteHW {
		r.ioWriteHW = s.IOWrite
	}
}

// IsStalled reports whether the mean of the last window CPU samples is
// below threshold. With fewer than window samples it always reports false,
// so a freshly started process is never flagged.
func (r *Record) IsStalled(window int, threshold float64) bool {
	if window <= 0 {
		return false
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.cpuHistory) < window {
		return false
	}
	recent := r.cpuHistory[len(r.cpuHistory)-window:]
	var sum float64
	for _, c := range recent {
		sum += c
	}
	return sum/float64(window) < threshold
}

// Duration is end - start, or now - start while the execution is running.
func (r *Record) Duration() time.Duration {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.end.IsZero() {
		return time.Since(r.start)
	}
	return r.end.Sub(r.start)
}

// Finish stamps the end time. Later calls keep the first stamp.
func (r *Record) Finish() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.end.IsZero() {
		r.end = time.Now()
	}
}

// Reset clears the sample history for a restarted run. The start time moves
// to now so that timeout accounting restarts with the new process.
func (r *Record) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.start = time.Now()
	r.end = time.Time{}
	r.cpuHistory = nil
	r.memHistory = nil
	r.cpuSum = 0
	r.peakRSS = 0
	r.ioReadHW = 0
	r.ioWriteHW = 0
}

// Snapshot is a read-only copy of the record's derived values.
type Snapshot struct {
	Samples    int
	AverageCPU float64
	PeakRSS    uint64
	IORead     uint64
	IOWrite    uint64
	Duration   time.Duration
}

// Snapshot returns the current derived values.
func (r *Record) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	snap := Snapshot{
		Samples: len(r.cpuHistory),
		PeakRSS: r.peakRSS,
		IORead:  r.ioReadHW,
		IOWrite: r.ioWriteHW,
	}
	if snap.Samples > 0 {
		snap.AverageCPU = r.cpuSum / float64(snap.Samples)
	}
	if r.end.IsZero() {
		snap.Duration = time.Since(r.start)
	} else {
		snap.Duration = r.end.Sub(r.start)
	}
	return snap
}
