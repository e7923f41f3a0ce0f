package progress

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func TestChannelSinkNeverBlocks(t *testing.T) {
	sink := NewChannelSink(2)
	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			sink.Update(Status{Op: "cache_in", Done: int64(i)})
		}
		sink.Summary(Summary{RunID: "a"})
		sink.Summary(Summary{RunID: "b"})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("sink blocked with no reader")
	}
	if got := sink.Dropped(); got != 9 {
		t.Fatalf("Dropped = %d, want 9", got)
	}
	if first := <-sink.Updates(); first.Done != 0 {
		t.Fatalf("first update = %+v", first)
	}
	if s := <-sink.Summaries(); s.RunID != "a" {
		t.Fatalf("summary = %+v", s)
	}
}

func TestStatusPercent(t *testing.T) {
	if (Status{Done: 5}).Percent() != -1 {
		t.Fatal("unknown total should report -1")
	}
	if got := (Status{Done: 50, Total: 200}).Percent(); got != 25 {
		t.Fatalf("Percent = %v", got)
	}
	if got := (Status{Done: 300, Total: 200}).Percent(); got != 100 {
		t.Fatalf("Percent clamps at 100, got %v", got)
	}
}

type recordingSink struct {
	updates   int
	summaries int
}

func (r *recordingSink) Update(Status)   { r.updates++ }
func (r *recordingSink) Summary(Summary) { r.summaries++ }

func TestMultiFansOut(t *testing.T) {
	a, b := &recordingSink{}, &recordingSink{}
	m := Multi{a, nil, b}
	m.Update(Status{})
	m.Summary(Summary{})
	if a.updates != 1 || b.updates != 1 || a.summaries != 1 || b.summaries != 1 {
		t.Fatalf("fan out mismatch: %+v %+v", a, b)
	}
}

func TestStatusEstimate(t *testing.T) {
	const mib = 1 << 20
	s := Status{Done: 30 * mib, Total: 100 * mib}.Estimate(10 * time.Second)
	if s.Rate != 3*mib {
		t.Fatalf("Rate = %v, want 3 MiB/s", s.Rate)
	}
	if s.ETA != 23*time.Second {
		t.Fatalf("ETA = %v, want 23s", s.ETA)
	}

	if got := (Status{Done: 0, Total: 100}).Estimate(time.Second); got.ETA >= 0 || got.Rate != 0 {
		t.Fatalf("no bytes yet should leave ETA unknown, got %+v", got)
	}
	if got := (Status{Done: 10}).Estimate(time.Second); got.ETA >= 0 || got.Rate != 10 {
		t.Fatalf("unsized op should have a rate but no ETA, got %+v", got)
	}
	if got := (Status{Done: 120, Total: 100}).Estimate(time.Second); got.ETA != 0 {
		t.Fatalf("overrun should clamp ETA to zero, got %v", got.ETA)
	}
}

func TestLogSinkSamplesAndForgets(t *testing.T) {
	var buf bytes.Buffer
	sink := NewLogSink(slog.New(slog.NewJSONHandler(&buf, nil)), 50, 0)
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := start
	sink.now = func() time.Time { return clock }
	for i := int64(0); i <= 100; i += 10 {
		clock = start.Add(time.Duration(i) * time.Second)
		sink.Update(Status{RunID: "r", Op: "cache_in", Item: "/x", Done: i, Total: 100}.Estimate(clock.Sub(start)))
	}
	sink.mu.Lock()
	remaining := len(sink.samplers)
	sink.mu.Unlock()
	if remaining != 0 {
		t.Fatalf("completed transfer sampler retained: %d", remaining)
	}

	var lines []map[string]any
	for _, raw := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		var entry map[string]any
		if err := json.Unmarshal([]byte(raw), &entry); err != nil {
			t.Fatalf("decode %q: %v", raw, err)
		}
		lines = append(lines, entry)
	}
	if len(lines) != 3 {
		t.Fatalf("logged %d progress lines, want 0%%, 50%%, 100%%: %v", len(lines), lines)
	}
	mid := lines[1]
	if mid["done_bytes"] != float64(50) || mid["total_bytes"] != float64(100) || mid["percent"] != float64(50) {
		t.Fatalf("mid line = %v", mid)
	}
	if mid["rate_bytes_per_sec"] != float64(1) {
		t.Fatalf("rate = %v, want 1 byte/s", mid["rate_bytes_per_sec"])
	}
	if eta, ok := mid["eta"].(float64); !ok || time.Duration(eta) != 50*time.Second {
		t.Fatalf("eta = %v, want 50s", mid["eta"])
	}
	sink.Summary(Summary{RunID: "r", Kind: "cache", Critical: "disk full"})
}

func TestSummaryLine(t *testing.T) {
	s := Summary{Kind: "cache", Succeeded: 1200, BytesIn: 2 << 30}
	line := s.Line()
	if !strings.Contains(line, "1,200 succeeded") || !strings.Contains(line, "2.0 GiB cached") {
		t.Fatalf("Line = %q", line)
	}
}
