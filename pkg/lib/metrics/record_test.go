package metrics

import (
	"testing"
	"time"
)

func TestAddSampleUpdatesDerivedValues(t *testing.T) {
	r := NewRecord()

	r.AddSample(Sample{CPUPercent: 10, RSS: 100, IORead: 5, IOWrite: 1})
	r.AddSample(Sample{CPUPercent: 30, RSS: 300, IORead: 50, IOWrite: 10})
	r.AddSample(Sample{CPUPercent: 20, RSS: 200, IORead: 40, IOWrite: 20})

	snap := r.Snapshot()
	if snap.Samples != 3 {
		t.Fatalf("expected 3 samples, got %d", snap.Samples)
	}
	if snap.AverageCPU != 20 {
		t.Fatalf("expected average CPU 20, got %v", snap.AverageCPU)
	}
	if snap.PeakRSS != 300 {
		t.Fatalf("expected peak RSS 300, got %d", snap.PeakRSS)
	}
	if snap.IORead != 50 || snap.IOWrite != 20 {
		t.Fatalf("expected io high-water 50/20, got %d/%d", snap.IORead, snap.IOWrite)
	}
}

func TestIsStalledRequiresFullWindow(t *testing.T) {
	r := NewRecord()

	// Fewer samples than the window must never flag a stall, even at 0 CPU.
	for i := 0; i < 9; i++ {
		r.AddSample(Sample{CPUPercent: 0})
	}
	if r.IsStalled(10, 5.0) {
		t.Fatalf("stalled with fewer samples than window")
	}

	r.AddSample(Sample{CPUPercent: 0})
	if !r.IsStalled(10, 5.0) {
		t.Fatalf("expected stall once window is full of idle samples")
	}
}

func TestIsStalledLooksAtRecentWindowOnly(t *testing.T) {
	r := NewRecord()

	// Busy history followed by an idle tail.
	for i := 0; i < 10; i++ {
		r.AddSample(Sample{CPUPercent: 90})
	}
	for i := 0; i < 5; i++ {
		r.AddSample(Sample{CPUPercent: 0})
	}

	if r.IsStalled(10, 5.0) {
		t.Fatalf("window still contains busy samples; should not be stalled")
	}
	if !r.IsStalled(5, 5.0) {
		t.Fatalf("last 5 samples are idle; expected stall")
	}
}

func TestIsStalledThresholdBoundary(t *testing.T) {
	r := NewRecord()
	for i := 0; i < 5; i++ {
		r.AddSample(Sample{CPUPercent: 5.0})
	}
	// Mean equal to the threshold is not below it.
	if r.IsStalled(5, 5.0) {
		t.Fatalf("mean == threshold must not count as stalled")
	}
	if !r.IsStalled(5, 5.1) {
		t.Fatalf("mean below threshold must count as stalled")
	}
}

func TestDurationAndFinish(t *testing.T) {
	r := NewRecord()

	time.Sleep(10 * time.Millisecond)
	if r.Duration() <= 0 {
		t.Fatalf("running record should report positive duration")
	}

	r.Finish()
	d1 := r.Duration()
	time.Sleep(10 * time.Millisecond)
	d2 := r.Duration()
	if d1 != d2 {
		t.Fatalf("finished record duration must be frozen: %v != %v", d1, d2)
	}
}

func TestResetClearsHistory(t *testing.T) {
	r := NewRecord()
	for i := 0; i < 10; i++ {
		r.AddSample(Sample{CPUPercent: 0, RSS: 500})
	}
	r.Finish()

	r.Reset()
	snap := r.Snapshot()
	if snap.Samples != 0 || snap.PeakRSS != 0 || snap.AverageCPU != 0 {
		t.Fatalf("reset left residual state: %+v", snap)
	}
	if r.IsStalled(10, 5.0) {
		t.Fatalf("reset record must not report a stall")
	}
}
