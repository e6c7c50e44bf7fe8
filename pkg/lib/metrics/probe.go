package metrics

import (
	"fmt"

	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
)

// Probe attaches a per-process sampler. Implementations other than the
// system one exist for tests.
type Probe interface {
	Attach(pid int) (Sampler, error)
}

// Sampler reads instantaneous resource usage for one process. Sample errors
// are expected while a process is exiting; callers skip the tick.
type Sampler interface {
	Sample() (Sample, error)
}

// SystemProbe reads per-process usage via gopsutil.
type SystemProbe struct{}

func (SystemProbe) Attach(pid int) (Sampler, error) {
	p, err := process.NewProcess(int32(pid))
	if err != nil {
		return nil, fmt.Errorf("attach probe to pid %d: %w", pid, err)
	}
	return &systemSampler{proc: p}, nil
}

// systemSampler keeps the process handle so that CPUPercent is measured
// over the interval between calls rather than since process start.
type systemSampler struct {
	proc *process.Process
}

func (s *systemSampler) Sample() (Sample, error) {
	cpu, err := s.proc.CPUPercent()
	if err != nil {
		return Sample{}, fmt.Errorf("cpu sample for pid %d: %w", s.proc.Pid, err)
	}

	out := Sample{CPUPercent: cpu}

	if memPct, err := s.proc.MemoryPercent(); err == nil {
		out.MemoryPercent = float64(memPct)
	}
	if mi, err := s.proc.MemoryInfo(); err == nil && mi != nil {
		out.RSS = mi.RSS
	}
	// IO counters need elevated permissions on some systems; treat them as
	// optional rather than failing the whole sample.
	if io, err := s.proc.IOCounters(); err == nil && io != nil {
		out.IORead = io.ReadBytes
		out.IOWrite = io.WriteBytes
	}

	return out, nil
}

// AvailableMemory returns the bytes of currently available system memory.
func AvailableMemory() (uint64, error) {
	vm, err := mem.VirtualMemory()
	if err != nil {
		return 0, fmt.Errorf("read system memory: %w", err)
	}
	return vm.Available, nil
}

// SystemMemoryUsedPercent returns overall system memory utilisation.
func SystemMemoryUsedPercent() (float64, error) {
	vm, err := mem.VirtualMemory()
	if err != nil {
		return 0, fmt.Errorf("read system memory: %w", err)
	}
	return vm.UsedPercent, nil
}
