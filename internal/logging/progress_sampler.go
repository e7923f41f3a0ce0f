package logging

import "time"

// ProgressSampler thins the byte updates of a single transfer down to the
// ones worth a log line: a new percent bucket, a quiet interval elapsing with
// no line, and completion. Completion is reported once.
type ProgressSampler struct {
	bucketSize float64
	interval   time.Duration
	lastBucket int
	lastEmit   time.Time
	complete   bool
}

// NewProgressSampler builds a sampler with bucketSize percent buckets
// (default 5). A zero interval disables the time trigger.
func NewProgressSampler(bucketSize float64, interval time.Duration) *ProgressSampler {
	if bucketSize <= 0 {
		bucketSize = 5
	}
	return &ProgressSampler{bucketSize: bucketSize, interval: interval, lastBucket: -1}
}

// ShouldLog reports whether the update (done of total bytes, observed at now)
// deserves a line. A non-positive total means the size is unknown; such
// transfers log their first update and then only on the interval.
func (s *ProgressSampler) ShouldLog(done, total int64, now time.Time) bool {
	if s == nil {
		return true
	}
	if s.complete {
		return false
	}
	emit := false
	switch {
	case total > 0 && done >= total:
		s.complete = true
		emit = true
	case total > 0:
		bucket := int(float64(done) / float64(total) * 100 / s.bucketSize)
		if bucket > s.lastBucket {
			s.lastBucket = bucket
			emit = true
		}
	case s.lastBucket < 0:
		s.lastBucket = 0
		emit = true
	}
	if !emit && s.interval > 0 && now.Sub(s.lastEmit) >= s.interval {
		emit = true
	}
	if emit {
		s.lastEmit = now
	}
	return emit
}

// Complete reports whether the sampler has seen the final update.
func (s *ProgressSampler) Complete() bool {
	return s != nil && s.complete
}
