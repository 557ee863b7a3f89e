// Package report ranks Results and emits the JSON/table output of
// spec §4.11, writing under a results/ directory with the filename
// pattern spec §6 specifies.
package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"subscheck/internal/tester"
)

// TestConfigSnapshot mirrors the test_config object of spec §6's
// report shape.
type TestConfigSnapshot struct {
	MaxNodes    int `json:"max_nodes"`
	Concurrency int `json:"concurrency"`
	TimeoutSecs int `json:"timeout"`
}

// Document is the on-disk report shape (spec §6): a metadata header
// plus the full (or top-N) Results.
type Document struct {
	RunID        string             `json:"run_id"`
	Timestamp    string             `json:"timestamp"`
	TotalTested  int                `json:"total_tested"`
	SuccessCount int                `json:"success_count"`
	SuccessRate  float64            `json:"success_rate"`
	TestConfig   TestConfigSnapshot `json:"test_config"`
	TopNodes     []tester.Result    `json:"top_nodes"`
	AllResults   []tester.Result    `json:"all_results"`
}

// Rank orders successful Results by speed_mbps descending, latency_ms
// ascending as tiebreaker (spec §4.11). Failed results are appended
// after, in their original relative order, so callers that want
// "all_results" still get every Result back. Rank never mutates its
// input slice.
func Rank(results []tester.Result) []tester.Result {
	out := make([]tester.Result, len(results))
	copy(out, results)

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		aOK, bOK := a.Status == "success", b.Status == "success"
		if aOK != bOK {
			return aOK
		}
		if !aOK {
			return false
		}
		as, bs := speedOf(a), speedOf(b)
		if as != bs {
			return as > bs
		}
		return latencyOf(a) < latencyOf(b)
	})
	return out
}

func speedOf(r tester.Result) float64 {
	if r.SpeedMbps == nil {
		return -1
	}
	return *r.SpeedMbps
}

func latencyOf(r tester.Result) float64 {
	if r.LatencyMS == nil {
		return 1 << 62
	}
	return *r.LatencyMS
}

// Build assembles the report Document for a completed run.
func Build(results []tester.Result, cfg TestConfigSnapshot, topN int) Document {
	ranked := Rank(results)

	success := 0
	for _, r := range results {
		if r.Status == "success" {
			success++
		}
	}
	rate := 0.0
	if len(results) > 0 {
		rate = float64(success) / float64(len(results))
	}

	top := ranked
	if topN > 0 && topN < len(top) {
		top = top[:topN]
	}

	return Document{
		RunID:        uuid.NewString(),
		Timestamp:    time.Now().UTC().Format(time.RFC3339),
		TotalTested:  len(results),
		SuccessCount: success,
		SuccessRate:  rate,
		TestConfig:   cfg,
		TopNodes:     top,
		AllResults:   ranked,
	}
}

// WriteJSON writes doc under dir/subscheck_results_YYYYMMDD_HHMMSS.json
// (spec §6) and returns the path written.
func WriteJSON(dir string, doc Document, stamp time.Time) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("report: mkdir %s: %w", dir, err)
	}
	name := fmt.Sprintf("subscheck_results_%s.json", stamp.Format("20060102_150405"))
	path := filepath.Join(dir, name)

	raw, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", fmt.Errorf("report: marshal: %w", err)
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return "", fmt.Errorf("report: write %s: %w", path, err)
	}
	return path, nil
}

// Table renders a human-readable table of the top N results to a
// string, suitable for printing to the terminal (spec §4.11).
func Table(results []tester.Result) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%-24s %-8s %10s %10s %-12s\n", "SERVER:PORT", "TYPE", "LATENCY", "SPEED", "PURITY")
	for _, r := range results {
		latency := "-"
		if r.LatencyMS != nil {
			latency = fmt.Sprintf("%.0fms", *r.LatencyMS)
		}
		speed := "-"
		if r.SpeedMbps != nil {
			speed = fmt.Sprintf("%.2fMbps", *r.SpeedMbps)
		}
		purity := "-"
		if r.IPPurity != nil {
			purity = *r.IPPurity
		}
		fmt.Fprintf(&b, "%-24s %-8s %10s %10s %-12s\n",
			fmt.Sprintf("%s:%d", r.Server, r.Port), r.Type, latency, speed, purity)
	}
	return b.String()
}
