package workerpool

import (
	"fmt"
	"log"
	"sync"
	"time"
)

// Reporter prints a progress line every tick interval and keeps a
// short ring of recent snapshots (the Supplemented-features' stats
// monitor, patterned on the teacher's RingStore: fixed capacity,
// append overwrites the oldest entry once full) so a status server or
// --debug mode can show recent history instead of only the latest
// tick. Unlike the teacher's package-level store, this is instance-
// scoped so tests can construct fresh state (spec §9 "Globals" note).
type Reporter struct {
	mu       sync.Mutex
	capacity int
	history  []reporterTick

	total   int
	started time.Time
}

// NewReporter builds a Reporter for a run of total Nodes, keeping up
// to capacity recent ticks (defaults to 120, i.e. ~2 minutes at 1 Hz).
func NewReporter(total, capacity int) *Reporter {
	if capacity <= 0 {
		capacity = 120
	}
	return &Reporter{capacity: capacity, total: total, started: time.Now()}
}

// Run prints a tick every interval until stop is closed, reading
// processed/success counts from the supplied callbacks. ETA is a
// simple linear extrapolation from elapsed/processed and is advisory
// only (spec §4.9).
func (r *Reporter) Run(interval time.Duration, stop <-chan struct{}, processed, success func() int) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			r.tick(processed(), success())
		}
	}
}

func (r *Reporter) tick(processedN, successN int) {
	elapsed := time.Since(r.started)
	var eta time.Duration
	if processedN > 0 && r.total > processedN {
		perNode := elapsed / time.Duration(processedN)
		eta = perNode * time.Duration(r.total-processedN)
	}

	t := reporterTick{Elapsed: elapsed, Processed: processedN, Success: successN, ETA: eta}
	r.record(t)

	pct := 0.0
	if r.total > 0 {
		pct = float64(processedN) / float64(r.total) * 100
	}
	log.Printf("🔍 progress: %.1f%% (%d/%d) success=%d eta=%s", pct, processedN, r.total, successN, eta.Round(time.Second))
}

func (r *Reporter) record(t reporterTick) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.history) >= r.capacity {
		r.history = append(r.history[1:], t)
	} else {
		r.history = append(r.history, t)
	}
}

// Recent returns up to limit of the most recent ticks, newest last.
func (r *Reporter) Recent(limit int) []reporterTick {
	r.mu.Lock()
	defer r.mu.Unlock()
	if limit <= 0 || limit > len(r.history) {
		limit = len(r.history)
	}
	out := make([]reporterTick, limit)
	copy(out, r.history[len(r.history)-limit:])
	return out
}

func (t reporterTick) String() string {
	return fmt.Sprintf("elapsed=%s processed=%d success=%d eta=%s", t.Elapsed, t.Processed, t.Success, t.ETA)
}
