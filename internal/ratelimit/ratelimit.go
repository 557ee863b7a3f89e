// Package ratelimit wraps the global byte-rate token bucket (spec
// §4.10) and the process-wide GlobalStats counters around it.
package ratelimit

import (
	"sync/atomic"
	"time"

	"github.com/juju/ratelimit"
)

// Bucket gates bandwidth-stage byte reads through a token bucket.
// Capacity defaults to 10x the rate to allow bursts (spec §4.10).
type Bucket struct {
	tb *ratelimit.Bucket
}

// NewBucket constructs a Bucket rate-limiting to ratePerSec bytes/sec.
// A zero or negative rate disables limiting: Take always returns 0.
func NewBucket(ratePerSec int64) *Bucket {
	if ratePerSec <= 0 {
		return &Bucket{}
	}
	capacity := ratePerSec * 10
	return &Bucket{tb: ratelimit.NewBucketWithRate(float64(ratePerSec), capacity)}
}

// Take deducts n tokens and returns how long the caller should sleep
// before proceeding, exactly as spec §4.10 describes ("take(n) returns
// immediately if tokens >= n ... otherwise returns a sleep duration").
// The measured download timer is expected to keep running through that
// sleep so the rate limit is visible in the final throughput number.
func (b *Bucket) Take(n int) time.Duration {
	if b == nil || b.tb == nil {
		return 0
	}
	return b.tb.Take(int64(n))
}

// GlobalStats holds process-wide atomic counters (spec §3), zeroed at
// run start and read by the reporter at run end.
type GlobalStats struct {
	TotalBytes      int64
	NodesTested     int64
	SuccessfulNodes int64
	FailedNodes     int64
}

func (s *GlobalStats) AddBytes(n int64) { atomic.AddInt64(&s.TotalBytes, n) }
func (s *GlobalStats) IncTested()       { atomic.AddInt64(&s.NodesTested, 1) }
func (s *GlobalStats) IncSuccessful()   { atomic.AddInt64(&s.SuccessfulNodes, 1) }
func (s *GlobalStats) IncFailed()       { atomic.AddInt64(&s.FailedNodes, 1) }

// Snapshot is a point-in-time, non-atomic read of all four counters.
type Snapshot struct {
	TotalBytes      int64
	NodesTested     int64
	SuccessfulNodes int64
	FailedNodes     int64
}

func (s *GlobalStats) Snapshot() Snapshot {
	return Snapshot{
		TotalBytes:      atomic.LoadInt64(&s.TotalBytes),
		NodesTested:     atomic.LoadInt64(&s.NodesTested),
		SuccessfulNodes: atomic.LoadInt64(&s.SuccessfulNodes),
		FailedNodes:     atomic.LoadInt64(&s.FailedNodes),
	}
}
