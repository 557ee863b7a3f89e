package main

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"subscheck/internal/config"
	"subscheck/internal/engine"
	"subscheck/internal/node"
	"subscheck/internal/ratelimit"
	"subscheck/internal/report"
	"subscheck/internal/resources"
	"subscheck/internal/statusserver"
	"subscheck/internal/subscription"
	"subscheck/internal/tester"
	"subscheck/internal/workerpool"
)

func main() {
	log.SetFlags(log.Ltime | log.Lshortfile)

	var subscriptionFile string
	var configFile string
	var maxNodes int
	var scheduler bool
	var runOnce bool
	var debug bool

	// 解析命令行参数
	for i, arg := range os.Args[1:] {
		switch arg {
		case "--subscription":
			if i+2 < len(os.Args) {
				subscriptionFile = os.Args[i+2]
			}
		case "--config":
			if i+2 < len(os.Args) {
				configFile = os.Args[i+2]
			}
		case "--max-nodes":
			if i+2 < len(os.Args) {
				if n, err := strconv.Atoi(os.Args[i+2]); err == nil {
					maxNodes = n
				}
			}
		case "--scheduler":
			scheduler = true
		case "--run-once":
			runOnce = true
		case "--debug":
			debug = true
			log.Println("🔧 debug mode enabled")
		case "--help", "-h":
			printUsage()
			os.Exit(0)
		}
	}

	cfg, err := loadPipelineConfig(configFile, subscriptionFile, maxNodes)
	if err != nil {
		log.Printf("❌ config error: %v", err)
		os.Exit(1)
	}

	store := config.NewStore(cfg)
	if configFile != "" {
		w, err := config.StartWatcher(configFile, store)
		if err != nil {
			log.Printf("⚠️ config hot-reload disabled: %v", err)
		} else {
			defer w.Stop()
		}
	}

	ctx, stop := resources.NotifyContext(context.Background())
	defer stop()

	code := run(ctx, store, scheduler, runOnce, debug)
	os.Exit(code)
}

func printUsage() {
	fmt.Println(`usage: subscheck [options]

options:
  --subscription FILE   subscription URL list, one per line
  --config FILE         JSON configuration document
  --max-nodes N         cap on total Nodes tested
  --scheduler           run on a recurring interval instead of once
  --run-once            force a single run even if --scheduler is set
  --debug               verbose logging
  --help, -h            show this help`)
}

func run(ctx context.Context, store *config.Store, scheduler, runOnce, debug bool) int {
	if scheduler && !runOnce {
		return runScheduled(ctx, store, debug)
	}
	return runSingle(ctx, store, debug)
}

func runScheduled(ctx context.Context, store *config.Store, debug bool) int {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		if code := runSingle(ctx, store, debug); code == 130 {
			return code
		}
		select {
		case <-ctx.Done():
			log.Println("🛑 interrupted, stopping scheduler")
			return 130
		case <-ticker.C:
			log.Println("⏰ scheduler tick: starting next run")
		}
	}
}

// runSingle re-reads store.Get() on every call so a scheduler's
// recurring runs, and a reload that lands mid-scheduler-sleep, always
// pick up live tunables instead of the config snapshot taken at
// process start (spec §2's hot-reload promise).
func runSingle(ctx context.Context, store *config.Store, debug bool) int {
	cfg := store.Get()
	if len(cfg.SubscriptionURLs) == 0 {
		log.Println("❌ no subscription URLs configured")
		return 1
	}

	mgr := resources.New(cfg.BasePort, secondsDuration(cfg.PortRecycleDelay))

	fetcher := subscription.NewFetcher(subscription.Config{
		MaxNodes:  cfg.MaxNodes,
		BackupDir: cfg.BackupDir,
	})

	nodes, err := fetcher.FetchAll(ctx, cfg.SubscriptionURLs)
	if err != nil {
		log.Printf("❌ subscription fetch failed: %v", err)
	}
	nodes = node.Dedup(nodes)
	log.Printf("🔍 %d unique nodes after dedup", len(nodes))
	if cfg.MaxNodes > 0 && len(nodes) > cfg.MaxNodes {
		nodes = nodes[:cfg.MaxNodes]
	}

	if ctx.Err() != nil {
		return finishRun(mgr, nil, cfg, debug, 130)
	}

	var stats ratelimit.GlobalStats
	limiter := ratelimit.NewBucket(cfg.TotalSpeedLimitBytesPerSec)

	ipInfoRate := cfg.IPInfoRateLimit
	if ipInfoRate <= 0 {
		ipInfoRate = 1 // one ipinfo lookup/sec by default, unthrottled would hammer a free-tier API
	}
	ipInfoLimiter := rate.NewLimiter(rate.Limit(ipInfoRate), 1)

	tcfg := tester.Config{
		BinaryPath:        cfg.EnginePath,
		EngineReadyWait:   secondsDuration(cfg.EngineReadyWait),
		LatencyAnchors:    cfg.LatencyAnchors,
		HTTPFallbackURLs:  cfg.HTTPFallbackURLs,
		EnableIPPurity:    cfg.EnableIPPurity,
		IPEchoURL:         cfg.IPEchoURL,
		IPInfoURLFmt:      cfg.IPInfoURLFmt,
		IPInfoLimiter:     ipInfoLimiter,
		BandwidthAnchors:  cfg.BandwidthAnchors,
		BandwidthPath:     cfg.BandwidthPath,
		DownloadTimeout:   secondsDuration(cfg.DownloadTimeout),
		DownloadCapBytes:  int64(cfg.DownloadMB) * 1024 * 1024,
		SpeedFloorKBps:    cfg.SpeedFloorKBps,
		TwoPhaseBandwidth: cfg.TwoPhaseBandwidth,
		Limiter:           limiter,
		Stats:             &stats,
	}
	tst := tester.New(tcfg, mgr)

	pool := workerpool.New(workerpool.Config{
		WorkerCount:  cfg.WorkerCount,
		SuccessLimit: cfg.SuccessLimit,
	}, tst)

	status := statusserver.New(&stats)
	if cfg.StatusAddr != "" {
		srv := &http.Server{Addr: cfg.StatusAddr, Handler: status.Engine()}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("⚠️ status server stopped: %v", err)
			}
		}()
		defer srv.Close()
		log.Printf("📡 status dashboard listening on %s", cfg.StatusAddr)
	}

	reporter := workerpool.NewReporter(len(nodes), 120)
	stopProgress := make(chan struct{})
	go reporter.Run(time.Second, stopProgress, func() int { return int(stats.Snapshot().NodesTested) }, func() int { return int(stats.Snapshot().SuccessfulNodes) })
	defer close(stopProgress)

	results := pool.Run(ctx, nodes, func(r tester.Result) {
		if debug {
			log.Printf("🔍 result: %s:%d status=%s", r.Server, r.Port, r.Status)
		}
		status.Broadcast("result", r)
	})
	status.SetResults(results)

	exitCode := 0
	if ctx.Err() != nil {
		log.Println("🛑 interrupted, writing partial report")
		exitCode = 130
	}
	return finishRun(mgr, results, cfg, debug, exitCode)
}

func finishRun(mgr *resources.Manager, results []tester.Result, cfg config.Config, debug bool, exitCode int) int {
	resources.LogCleanupStart()
	mgr.CleanupAll()
	resources.LogCleanupDone()

	doc := report.Build(results, report.TestConfigSnapshot{
		MaxNodes:    cfg.MaxNodes,
		Concurrency: cfg.WorkerCount,
		TimeoutSecs: cfg.DownloadTimeout,
	}, cfg.ReportTopN)

	resultsDir := cfg.ResultsDir
	if resultsDir == "" {
		resultsDir = "results"
	}
	path, err := report.WriteJSON(resultsDir, doc, time.Now())
	if err != nil {
		log.Printf("❌ failed writing report: %v", err)
		if exitCode == 0 {
			exitCode = 1
		}
		return exitCode
	}
	log.Printf("✅ report written to %s", path)
	fmt.Print(report.Table(doc.TopNodes))
	return exitCode
}

func secondsDuration(n int) time.Duration {
	return time.Duration(n) * time.Second
}

func loadPipelineConfig(configFile, subscriptionFile string, maxNodes int) (config.Config, error) {
	cfg := config.Config{
		WorkerCount:      4,
		BasePort:         41000,
		PortRecycleDelay: 8,
		EngineReadyWait:  3,
		DownloadTimeout:  10,
		DownloadMB:       20,
		SpeedFloorKBps:   512,
		ReportTopN:       20,
	}

	if configFile != "" {
		loaded, err := config.Load(configFile)
		if err != nil {
			return cfg, err
		}
		cfg = config.Merge(cfg, loaded)
	}

	if subscriptionFile != "" {
		urls, err := readURLFile(subscriptionFile)
		if err != nil {
			return cfg, err
		}
		cfg.SubscriptionURLs = urls
	}

	if maxNodes > 0 {
		cfg.MaxNodes = maxNodes
	}

	binaryPath, err := engine.LocateBinary(cfg.EnginePath)
	if err != nil {
		return cfg, err
	}
	cfg.EnginePath = binaryPath

	return cfg, nil
}

// readURLFile parses the subscription file format of spec §6: one URL
// per line, "#" for comments, blank lines ignored.
func readURLFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open subscription file %s: %w", path, err)
	}
	defer f.Close()

	var urls []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		urls = append(urls, line)
	}
	return urls, scanner.Err()
}
