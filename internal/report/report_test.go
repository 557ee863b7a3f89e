package report

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"subscheck/internal/node"
	"subscheck/internal/tester"
)

func f(v float64) *float64 { return &v }
func s(v string) *string   { return &v }

func TestRankOrdersBySpeedThenLatency(t *testing.T) {
	results := []tester.Result{
		{Server: "a", Status: "success", SpeedMbps: f(5), LatencyMS: f(100)},
		{Server: "b", Status: "success", SpeedMbps: f(10), LatencyMS: f(200)},
		{Server: "c", Status: "success", SpeedMbps: f(10), LatencyMS: f(50)},
		{Server: "d", Status: "failed"},
	}
	ranked := Rank(results)
	if ranked[0].Server != "c" || ranked[1].Server != "b" || ranked[2].Server != "a" {
		t.Fatalf("unexpected order: %+v", ranked)
	}
	if ranked[3].Server != "d" {
		t.Fatalf("expected failed result last, got %+v", ranked[3])
	}
}

func TestRankDoesNotMutateInput(t *testing.T) {
	results := []tester.Result{
		{Server: "a", Status: "success", SpeedMbps: f(1)},
		{Server: "b", Status: "success", SpeedMbps: f(9)},
	}
	_ = Rank(results)
	if results[0].Server != "a" {
		t.Fatalf("Rank mutated its input slice")
	}
}

func TestBuildComputesSuccessRate(t *testing.T) {
	results := []tester.Result{
		{Server: "a", Status: "success", SpeedMbps: f(1), LatencyMS: f(1)},
		{Server: "b", Status: "failed"},
	}
	doc := Build(results, TestConfigSnapshot{MaxNodes: 2}, 10)
	if doc.SuccessCount != 1 || doc.TotalTested != 2 {
		t.Fatalf("unexpected counts: %+v", doc)
	}
	if doc.SuccessRate != 0.5 {
		t.Fatalf("expected success_rate 0.5, got %v", doc.SuccessRate)
	}
}

func TestBuildTopNTruncates(t *testing.T) {
	var results []tester.Result
	for i := 0; i < 5; i++ {
		results = append(results, tester.Result{Server: "n", Status: "success", SpeedMbps: f(float64(i))})
	}
	doc := Build(results, TestConfigSnapshot{}, 2)
	if len(doc.TopNodes) != 2 {
		t.Fatalf("expected top 2, got %d", len(doc.TopNodes))
	}
	if len(doc.AllResults) != 5 {
		t.Fatalf("expected all 5 in AllResults, got %d", len(doc.AllResults))
	}
}

func TestWriteJSONUsesTimestampPattern(t *testing.T) {
	dir := t.TempDir()
	doc := Build(nil, TestConfigSnapshot{}, 0)
	stamp := time.Date(2026, 3, 5, 14, 30, 0, 0, time.UTC)

	path, err := WriteJSON(dir, doc, stamp)
	if err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}
	if filepath.Base(path) != "subscheck_results_20260305_143000.json" {
		t.Fatalf("unexpected filename: %s", filepath.Base(path))
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	var got Document
	if err := json.Unmarshal(raw, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.RunID != doc.RunID {
		t.Fatalf("round-trip mismatch")
	}
}

func TestTableIncludesPurityAndDashForMissing(t *testing.T) {
	results := []tester.Result{
		{Server: "1.2.3.4", Port: 443, Type: node.VMess, Status: "success", LatencyMS: f(42), SpeedMbps: f(10), IPPurity: s("Hosting")},
		{Server: "5.6.7.8", Port: 8080, Type: node.Trojan, Status: "success", LatencyMS: f(99)},
	}
	table := Table(results)
	if !strings.Contains(table, "Hosting") {
		t.Fatalf("expected purity in table output: %s", table)
	}
	if !strings.Contains(table, "-") {
		t.Fatalf("expected dash placeholder for missing speed/purity: %s", table)
	}
}
