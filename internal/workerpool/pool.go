// Package workerpool implements the bounded producer-consumer pool
// that drives per-Node testing (spec §4.9): a fixed worker count, a
// task distributor feeding Nodes in order, a success cap with prompt
// drain, and a force-stop flag observed between tasks.
package workerpool

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"subscheck/internal/node"
	"subscheck/internal/tester"
)

// Config configures one Pool run.
type Config struct {
	WorkerCount  int
	SuccessLimit int // 0 = unlimited
}

func (c Config) withDefaults() Config {
	if c.WorkerCount <= 0 {
		c.WorkerCount = 4
	}
	return c
}

// Pool runs tester.Tester.TestNode over a Node list with bounded
// concurrency (spec §4.9).
type Pool struct {
	cfg    Config
	tester *tester.Tester

	successCount int64
	forceStop    int32
}

// New constructs a Pool bound to tester t.
func New(cfg Config, t *tester.Tester) *Pool {
	return &Pool{cfg: cfg.withDefaults(), tester: t}
}

// Stop sets the force-stop flag observed by workers between tasks
// (spec §4.9 "a worker also observes a force_stop flag set by signal
// handlers; draining is prompt").
func (p *Pool) Stop() {
	atomic.StoreInt32(&p.forceStop, 1)
}

func (p *Pool) stopped() bool {
	return atomic.LoadInt32(&p.forceStop) == 1
}

// Run feeds nodes to WorkerCount workers and returns every Result
// emitted before termination (success cap reached, force-stop, or ctx
// cancellation). The distributor feeds tasks in Node order (spec
// §4.9); the collector reads until every worker has exited and the
// channel is drained.
func (p *Pool) Run(ctx context.Context, nodes []node.Node, onResult func(tester.Result)) []tester.Result {
	tasks := make(chan node.Node)
	results := make(chan tester.Result)

	var wg sync.WaitGroup
	for i := 0; i < p.cfg.WorkerCount; i++ {
		wg.Add(1)
		go p.worker(ctx, tasks, results, &wg)
	}

	go func() {
		defer close(tasks)
		for _, n := range nodes {
			if p.capReached() || p.stopped() {
				return
			}
			select {
			case tasks <- n:
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	var out []tester.Result
	for res := range results {
		out = append(out, res)
		if onResult != nil {
			onResult(res)
		}
	}
	return out
}

func (p *Pool) worker(ctx context.Context, tasks <-chan node.Node, results chan<- tester.Result, wg *sync.WaitGroup) {
	defer wg.Done()
	for {
		if p.capReached() || p.stopped() {
			return
		}
		select {
		case n, ok := <-tasks:
			if !ok {
				return
			}
			res := p.tester.TestNode(ctx, n)
			if res.Status == "success" {
				atomic.AddInt64(&p.successCount, 1)
			}
			select {
			case results <- res:
			case <-ctx.Done():
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func (p *Pool) capReached() bool {
	if p.cfg.SuccessLimit <= 0 {
		return false
	}
	return atomic.LoadInt64(&p.successCount) >= int64(p.cfg.SuccessLimit)
}

// SuccessCount reports the number of status=success Results emitted so
// far. Safe for concurrent use during Run.
func (p *Pool) SuccessCount() int64 {
	return atomic.LoadInt64(&p.successCount)
}

// reporterTick is one progress snapshot (spec §4.9's progress reporter
// + Supplemented features' stats-ring history).
type reporterTick struct {
	Elapsed   time.Duration
	Processed int
	Success   int
	ETA       time.Duration
}
