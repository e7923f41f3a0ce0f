package logging

import (
	"testing"
	"time"
)

const gib = int64(1 << 30)

func TestNewProgressSamplerDefaultsBucket(t *testing.T) {
	for _, size := range []float64{0, -3} {
		if s := NewProgressSampler(size, 0); s.bucketSize != 5 {
			t.Errorf("bucketSize(%v) = %v, want 5", size, s.bucketSize)
		}
	}
	if s := NewProgressSampler(20, 0); s.bucketSize != 20 {
		t.Errorf("bucketSize = %v, want 20", s.bucketSize)
	}
}

func TestProgressSamplerNilAlwaysLogs(t *testing.T) {
	var s *ProgressSampler
	if !s.ShouldLog(1, 2, time.Now()) {
		t.Fatal("nil sampler should log everything")
	}
	if s.Complete() {
		t.Fatal("nil sampler is never complete")
	}
}

func TestProgressSamplerByteBuckets(t *testing.T) {
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s := NewProgressSampler(25, 0)
	steps := []struct {
		done int64
		want bool
	}{
		{0, true},
		{gib / 10, false},
		{gib / 4, true},
		{gib / 3, false},
		{gib / 2, true},
		{gib / 2, false},
		{gib, true},
		{gib, false},
	}
	for i, step := range steps {
		if got := s.ShouldLog(step.done, gib, start.Add(time.Duration(i)*time.Second)); got != step.want {
			t.Errorf("step %d (done=%d): ShouldLog = %v, want %v", i, step.done, got, step.want)
		}
	}
	if !s.Complete() {
		t.Fatal("sampler should be complete after the final byte")
	}
}

func TestProgressSamplerQuietIntervalForcesLine(t *testing.T) {
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s := NewProgressSampler(50, time.Minute)
	if !s.ShouldLog(1, 100*gib, start) {
		t.Fatal("first update should log")
	}
	if s.ShouldLog(2, 100*gib, start.Add(30*time.Second)) {
		t.Fatal("same bucket inside the interval should stay quiet")
	}
	if !s.ShouldLog(3, 100*gib, start.Add(61*time.Second)) {
		t.Fatal("slow transfer should log once the interval passes")
	}
	if s.ShouldLog(4, 100*gib, start.Add(90*time.Second)) {
		t.Fatal("interval restarts from the last line")
	}
}

func TestProgressSamplerUnknownTotal(t *testing.T) {
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s := NewProgressSampler(5, 0)
	if !s.ShouldLog(10, 0, start) {
		t.Fatal("first update of an unsized transfer should log")
	}
	if s.ShouldLog(gib, 0, start.Add(time.Hour)) {
		t.Fatal("unsized transfer without interval should log once")
	}
	if s.Complete() {
		t.Fatal("unsized transfer never completes")
	}
}
