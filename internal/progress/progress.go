// Package progress carries transfer status and run summaries from the engine
// to whoever is watching: the CLI, the log, or nothing at all. Sinks must not
// block the executor.
package progress

import (
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"

	"tiercache/internal/logging"
)

// Status is a point-in-time update for one operation. Done and Total span
// every file the op moves, subtitles included.
type Status struct {
	RunID string
	Op    string
	Item  string
	Done  int64
	Total int64
	// Rate is the average throughput since the op started, in bytes per second.
	Rate float64
	// ETA is the projected time to completion; negative when unknown.
	ETA     time.Duration
	Message string
}

// Percent returns op completion in [0,100], or -1 when the total is unknown.
func (s Status) Percent() float64 {
	if s.Total <= 0 {
		return -1
	}
	p := float64(s.Done) / float64(s.Total) * 100
	return min(p, 100)
}

// Estimate fills Rate and ETA from the bytes moved over elapsed.
func (s Status) Estimate(elapsed time.Duration) Status {
	s.Rate, s.ETA = 0, -1
	if elapsed <= 0 || s.Done <= 0 {
		return s
	}
	s.Rate = float64(s.Done) / elapsed.Seconds()
	if s.Total > 0 {
		remaining := max(s.Total-s.Done, 0)
		s.ETA = time.Duration(float64(remaining) / s.Rate * float64(time.Second)).Round(time.Second)
	}
	return s
}

// Summary is the final accounting for a run.
type Summary struct {
	RunID        string
	Kind         string
	Started      time.Time
	Finished     time.Time
	Succeeded    int
	Failed       int
	Skipped      int
	Deferred     int
	Anomalies    int
	FeedFailures int
	BytesIn      int64
	BytesOut     int64
	// Critical holds the message of the failure that aborted cache-in work.
	Critical string
}

// Duration is Finished - Started.
func (s Summary) Duration() time.Duration {
	if s.Finished.Before(s.Started) {
		return 0
	}
	return s.Finished.Sub(s.Started)
}

// Sink receives progress and summaries.
type Sink interface {
	Update(Status)
	Summary(Summary)
}

// Nop discards everything.
type Nop struct{}

func (Nop) Update(Status)   {}
func (Nop) Summary(Summary) {}

// Multi fans out to several sinks.
type Multi []Sink

func (m Multi) Update(s Status) {
	for _, sink := range m {
		if sink != nil {
			sink.Update(s)
		}
	}
}

func (m Multi) Summary(s Summary) {
	for _, sink := range m {
		if sink != nil {
			sink.Summary(s)
		}
	}
}

// ChannelSink publishes onto buffered channels and drops messages when the
// reader falls behind.
type ChannelSink struct {
	updates   chan Status
	summaries chan Summary
	dropped   atomic.Int64
}

// NewChannelSink allocates channels with the given buffer size.
func NewChannelSink(buffer int) *ChannelSink {
	if buffer <= 0 {
		buffer = 64
	}
	return &ChannelSink{
		updates:   make(chan Status, buffer),
		summaries: make(chan Summary, 1),
	}
}

func (c *ChannelSink) Update(s Status) {
	select {
	case c.updates <- s:
	default:
		c.dropped.Add(1)
	}
}

func (c *ChannelSink) Summary(s Summary) {
	select {
	case c.summaries <- s:
	default:
		c.dropped.Add(1)
	}
}

// Updates exposes the status stream.
func (c *ChannelSink) Updates() <-chan Status { return c.updates }

// Summaries exposes completed run summaries.
func (c *ChannelSink) Summaries() <-chan Summary { return c.summaries }

// Dropped reports how many messages were discarded.
func (c *ChannelSink) Dropped() int64 { return c.dropped.Load() }

// LogSink writes sampled progress lines and the final summary to a logger.
type LogSink struct {
	logger     *slog.Logger
	bucketSize float64
	interval   time.Duration
	now        func() time.Time

	mu       sync.Mutex
	samplers map[string]*logging.ProgressSampler
}

// NewLogSink logs progress every bucketSize percent per op, and at least once
// per interval for transfers that crawl.
func NewLogSink(logger *slog.Logger, bucketSize float64, interval time.Duration) *LogSink {
	return &LogSink{
		logger:     logging.NewComponentLogger(logger, "progress"),
		bucketSize: bucketSize,
		interval:   interval,
		now:        time.Now,
		samplers:   make(map[string]*logging.ProgressSampler),
	}
}

func (l *LogSink) Update(s Status) {
	key := s.RunID + "|" + s.Op + "|" + s.Item
	l.mu.Lock()
	sampler, ok := l.samplers[key]
	if !ok {
		sampler = logging.NewProgressSampler(l.bucketSize, l.interval)
		l.samplers[key] = sampler
	}
	emit := sampler.ShouldLog(s.Done, s.Total, l.now())
	if sampler.Complete() {
		delete(l.samplers, key)
	}
	l.mu.Unlock()
	if !emit {
		return
	}
	l.logger.Info("transfer progress",
		logging.String(logging.FieldOp, s.Op),
		logging.String(logging.FieldItem, s.Item),
		logging.Int64("done_bytes", s.Done),
		logging.Int64("total_bytes", s.Total),
		logging.Float64("percent", math.Round(s.Percent()*10)/10),
		logging.Float64("rate_bytes_per_sec", s.Rate),
		logging.Duration("eta", s.ETA),
	)
}

func (l *LogSink) Summary(s Summary) {
	attrs := []logging.Attr{
		logging.String(logging.FieldRunID, s.RunID),
		logging.String(logging.FieldRunKind, s.Kind),
		logging.Int("succeeded", s.Succeeded),
		logging.Int("failed", s.Failed),
		logging.Int("skipped", s.Skipped),
		logging.Int("deferred", s.Deferred),
		logging.Int("anomalies", s.Anomalies),
		logging.Int("feed_failures", s.FeedFailures),
		logging.Int64("cached_bytes", s.BytesIn),
		logging.Int64("restored_bytes", s.BytesOut),
		logging.Duration("duration", s.Duration()),
	}
	if s.Critical != "" {
		attrs = append(attrs, logging.String("critical", s.Critical))
		logging.ErrorWithContext(l.logger, "run aborted cache-in work", "run_critical", attrs...)
		return
	}
	l.logger.Info("run complete", logging.Args(attrs...)...)
}

// Line renders a one-line human summary.
func (s Summary) Line() string {
	return s.Kind + ": " +
		humanize.Comma(int64(s.Succeeded)) + " succeeded, " +
		humanize.Comma(int64(s.Failed)) + " failed, " +
		humanize.Comma(int64(s.Skipped)) + " skipped, " +
		humanize.Comma(int64(s.Deferred)) + " deferred; " +
		humanize.IBytes(uint64(max(s.BytesIn, 0))) + " cached, " +
		humanize.IBytes(uint64(max(s.BytesOut, 0))) + " restored"
}
