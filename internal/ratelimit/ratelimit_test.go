package ratelimit

import (
	"testing"
)

func TestDisabledBucketNeverSleeps(t *testing.T) {
	b := NewBucket(0)
	if d := b.Take(1 << 20); d != 0 {
		t.Fatalf("expected no sleep for disabled bucket, got %s", d)
	}
}

func TestBucketAllowsBurstUpToCapacity(t *testing.T) {
	b := NewBucket(1000) // capacity = 10_000
	if d := b.Take(5000); d != 0 {
		t.Fatalf("expected burst within capacity to not sleep, got %s", d)
	}
}

func TestBucketDemandsSleepPastCapacity(t *testing.T) {
	b := NewBucket(1000)
	b.Take(10000) // drain full burst capacity
	if d := b.Take(1000); d <= 0 {
		t.Fatalf("expected a positive sleep once capacity is drained, got %s", d)
	}
}

func TestGlobalStatsSnapshot(t *testing.T) {
	var s GlobalStats
	s.AddBytes(100)
	s.IncTested()
	s.IncSuccessful()
	s.IncTested()
	s.IncFailed()

	snap := s.Snapshot()
	if snap.TotalBytes != 100 || snap.NodesTested != 2 || snap.SuccessfulNodes != 1 || snap.FailedNodes != 1 {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
}

func TestRateLimitObservableOverTime(t *testing.T) {
	b := NewBucket(1000)
	b.Take(10000)
	d := b.Take(2000) // forces a sleep recommendation
	if d <= 0 {
		t.Fatalf("expected nonzero sleep")
	}
}
