package engine

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLocateBinaryOverrideMustExist(t *testing.T) {
	if _, err := LocateBinary("/no/such/engine-binary"); err == nil {
		t.Fatalf("expected error for missing override path")
	}
}

func TestLocateBinaryOverridePrefersExisting(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "fake-engine")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"), 0o755); err != nil {
		t.Fatalf("write fake binary: %v", err)
	}
	got, err := LocateBinary(path)
	if err != nil {
		t.Fatalf("LocateBinary: %v", err)
	}
	if got != path {
		t.Fatalf("got %q want %q", got, path)
	}
}

func TestStripProxyEnvRemovesProxyVars(t *testing.T) {
	env := []string{"HOME=/root", "HTTP_PROXY=http://x", "https_proxy=http://y", "ALL_PROXY=socks://z", "PATH=/bin"}
	out := stripProxyEnv(env)
	for _, kv := range out {
		if kv == "HTTP_PROXY=http://x" || kv == "https_proxy=http://y" || kv == "ALL_PROXY=socks://z" {
			t.Fatalf("proxy var leaked into child env: %q", kv)
		}
	}
	if len(out) != 2 {
		t.Fatalf("expected 2 remaining vars, got %d: %v", len(out), out)
	}
}

func TestTruncateExcerpt(t *testing.T) {
	long := make([]byte, 1000)
	for i := range long {
		long[i] = 'x'
	}
	got := truncate(string(long), 10)
	if len(got) != 13 { // 10 chars + "..."
		t.Fatalf("expected truncated length 13, got %d", len(got))
	}
}

func TestTruncateShortStringUnchanged(t *testing.T) {
	if got := truncate("  short  ", 100); got != "short" {
		t.Fatalf("expected trimmed short string, got %q", got)
	}
}
