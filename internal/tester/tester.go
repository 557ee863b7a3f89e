// Package tester implements the per-Node Stage A/B/C pipeline (spec
// §4.8): reachability & latency, optional egress IP classification,
// and bandwidth measurement through a spawned engine instance.
package tester

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"subscheck/internal/engine"
	"subscheck/internal/node"
	"subscheck/internal/probe"
	"subscheck/internal/ratelimit"
	"subscheck/internal/resources"
)

// ErrAllConnectivityFailed is the Stage A terminal failure (spec §4.8).
var ErrAllConnectivityFailed = errors.New("tester: all connectivity tests failed")

// ErrRateLow means the measured bandwidth fell under the configured
// floor; the Result keeps its latency success but speed_mbps is null.
var ErrRateLow = errors.New("tester: measured rate below floor")

// Result mirrors spec §3's per-Node Result record.
type Result struct {
	Name   string
	Server string
	Port   int
	Type   node.Type

	Status string // "success" or "failed"
	Error  string

	LatencyMS *float64
	SpeedMbps *float64
	IPPurity  *string

	LatencyMethod string
}

// Config configures one Tester. Zero-value anchors/timeouts fall back
// to the documented defaults.
type Config struct {
	BinaryPath       string
	EngineReadyWait  time.Duration
	LatencyAnchors   []string // host:port, tried in order, spec §4.8 Stage A.2
	HTTPFallbackURLs []string // spec §4.8 Stage A.3

	EnableIPPurity bool
	IPEchoURL      string
	IPInfoURLFmt   string // formatted with the echoed IP, e.g. "https://ipinfo.example/%s"
	IPInfoLimiter  *rate.Limiter

	BandwidthAnchors  []string // host:port serving a large file, Stage C
	BandwidthPath     string   // HTTP path requested on the anchor
	DownloadTimeout   time.Duration
	DownloadCapBytes  int64
	WarmupBytes       int64
	SpeedFloorKBps    float64
	TwoPhaseBandwidth bool
	PreTestDuration   time.Duration
	PreTestCapBytes   int64

	Limiter *ratelimit.Bucket
	Stats   *ratelimit.GlobalStats
}

func (c Config) withDefaults() Config {
	if c.EngineReadyWait <= 0 {
		c.EngineReadyWait = 3 * time.Second
	}
	if len(c.LatencyAnchors) == 0 {
		c.LatencyAnchors = []string{"8.8.8.8:53", "1.1.1.1:53"}
	}
	if c.DownloadTimeout <= 0 {
		c.DownloadTimeout = 10 * time.Second
	}
	if c.DownloadCapBytes <= 0 {
		c.DownloadCapBytes = 20 * 1024 * 1024
	}
	if c.WarmupBytes <= 0 {
		c.WarmupBytes = 256 * 1024
	}
	if c.SpeedFloorKBps <= 0 {
		c.SpeedFloorKBps = 512
	}
	if c.BandwidthPath == "" {
		c.BandwidthPath = "/"
	}
	if c.PreTestDuration <= 0 {
		c.PreTestDuration = 2 * time.Second
	}
	if c.PreTestCapBytes <= 0 {
		c.PreTestCapBytes = 1024 * 1024
	}
	return c
}

// Tester owns shared state across node tests within one run: the
// per-egress-IP classification cache (spec §4 Supplemented features)
// and the resource manager used to allocate ports and register each
// attempt's engine process so it stays reachable from the cleanup
// path (spec §5).
type Tester struct {
	cfg     Config
	mgr     *resources.Manager
	ipCache sync.Map // egress IP -> string purity tag
}

// New constructs a Tester. mgr is shared across the whole run so the
// port cooldown invariant (spec testable property 4) and the
// process-registry cleanup invariant (spec §5) both hold globally.
func New(cfg Config, mgr *resources.Manager) *Tester {
	return &Tester{cfg: cfg.withDefaults(), mgr: mgr}
}

// TestNode runs the full Stage A/B/C pipeline for n and returns its
// Result. It never returns a Go error for per-Node failures — those
// are folded into Result.Status/Error per spec §7's "per-Node failures
// are local" policy. The engine Runner's whole lifecycle runs inside
// mgr.ManagedProcess so CleanupAll can always reach and terminate an
// in-flight engine on ctx-cancel/SIGINT.
func (t *Tester) TestNode(ctx context.Context, n node.Node) Result {
	res := Result{Name: n.Name, Server: n.Server, Port: n.Port, Type: n.Type}

	port, err := t.mgr.Ports.Allocate(fmt.Sprintf("%s:%d", n.Server, n.Port))
	if err != nil {
		res.Status = "failed"
		res.Error = fmt.Sprintf("port allocation: %v", err)
		markFailed(t.cfg.Stats)
		return res
	}
	defer t.mgr.Ports.Release(port)

	runner := engine.NewRunner(t.cfg.BinaryPath, t.cfg.EngineReadyWait)
	proxyAddr := fmt.Sprintf("127.0.0.1:%d", port)

	_ = t.mgr.ManagedProcess(ctx, runner, func() error {
		if err := runner.Start(ctx, n, port); err != nil {
			res.Status = "failed"
			res.Error = err.Error()
			markFailed(t.cfg.Stats)
			return err
		}

		latency, method, err := t.stageA(ctx, n, proxyAddr)
		if err != nil {
			res.Status = "failed"
			res.Error = ErrAllConnectivityFailed.Error()
			markFailed(t.cfg.Stats)
			return ErrAllConnectivityFailed
		}
		res.Status = "success"
		l := latency
		res.LatencyMS = &l
		res.LatencyMethod = method

		if t.cfg.EnableIPPurity {
			if purity, ok := t.stageB(ctx, proxyAddr); ok {
				res.IPPurity = &purity
			}
		}

		if probe.SOCKS5Reachable(proxyAddr, 2*time.Second) {
			if speed, err := t.stageC(ctx, proxyAddr); err == nil {
				res.SpeedMbps = &speed
			} else {
				log.Printf("🔍 [tester] stage C skipped for %s:%d: %v", n.Server, n.Port, err)
			}
		}

		if t.cfg.Stats != nil {
			t.cfg.Stats.IncTested()
			t.cfg.Stats.IncSuccessful()
		}
		return nil
	})

	return res
}

func markFailed(stats *ratelimit.GlobalStats) {
	if stats != nil {
		stats.IncTested()
		stats.IncFailed()
	}
}
