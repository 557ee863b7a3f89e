package tester

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestConfigDefaults(t *testing.T) {
	cfg := Config{}.withDefaults()
	if cfg.DownloadTimeout != 10*time.Second {
		t.Errorf("DownloadTimeout default = %s", cfg.DownloadTimeout)
	}
	if cfg.DownloadCapBytes != 20*1024*1024 {
		t.Errorf("DownloadCapBytes default = %d", cfg.DownloadCapBytes)
	}
	if cfg.WarmupBytes != 256*1024 {
		t.Errorf("WarmupBytes default = %d", cfg.WarmupBytes)
	}
	if cfg.SpeedFloorKBps != 512 {
		t.Errorf("SpeedFloorKBps default = %v", cfg.SpeedFloorKBps)
	}
	if len(cfg.LatencyAnchors) == 0 {
		t.Errorf("expected default latency anchors")
	}
}

func TestStageBClassifiesViaRelay(t *testing.T) {
	echo := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("203.0.113.7"))
	}))
	defer echo.Close()
	info := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"category":"Hosting"}`))
	}))
	defer info.Close()

	relay := socks5Relay(t)

	tr := New(Config{
		EnableIPPurity: true,
		IPEchoURL:      echo.URL,
		IPInfoURLFmt:   info.URL + "/%s",
	}, nil)

	purity, ok := tr.stageB(context.Background(), relay)
	if !ok {
		t.Fatalf("expected stageB to succeed")
	}
	if purity != "Hosting" {
		t.Fatalf("got purity %q, want Hosting", purity)
	}
}

func TestStageBCachesPerEgressIP(t *testing.T) {
	calls := 0
	echo := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("198.51.100.9"))
	}))
	defer echo.Close()
	info := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Write([]byte(`{"category":"Residential"}`))
	}))
	defer info.Close()

	relay := socks5Relay(t)
	tr := New(Config{
		EnableIPPurity: true,
		IPEchoURL:      echo.URL,
		IPInfoURLFmt:   info.URL + "/%s",
	}, nil)

	tr.stageB(context.Background(), relay)
	tr.stageB(context.Background(), relay)

	if calls != 1 {
		t.Fatalf("expected IP-info lookup to be cached, got %d calls", calls)
	}
}

func TestStageBNoopWithoutConfig(t *testing.T) {
	tr := New(Config{}, nil)
	_, ok := tr.stageB(context.Background(), "127.0.0.1:1")
	if ok {
		t.Fatalf("expected stageB to no-op when unconfigured")
	}
}

func TestMeasureBandwidthOverRelay(t *testing.T) {
	payload := make([]byte, 512*1024)
	for i := range payload {
		payload[i] = byte(i)
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(payload)
	}))
	defer srv.Close()

	relay := socks5Relay(t)
	anchorAddr := srv.Listener.Addr().String()

	tr := New(Config{
		BandwidthAnchors: []string{anchorAddr},
		WarmupBytes:      0,
		DownloadTimeout:  3 * time.Second,
		DownloadCapBytes: int64(len(payload)),
		SpeedFloorKBps:   0,
	}, nil)

	speed, err := tr.measureBandwidth(context.Background(), relay, tr.cfg.DownloadTimeout, tr.cfg.DownloadCapBytes)
	if err != nil {
		t.Fatalf("measureBandwidth: %v", err)
	}
	if speed <= 0 {
		t.Fatalf("expected positive measured speed, got %v", speed)
	}
}

func TestStageCRejectsBelowFloor(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("short"))
	}))
	defer srv.Close()

	relay := socks5Relay(t)
	tr := New(Config{
		BandwidthAnchors: []string{srv.Listener.Addr().String()},
		WarmupBytes:      0,
		DownloadTimeout:  500 * time.Millisecond,
		DownloadCapBytes: 1 << 20,
		SpeedFloorKBps:   1 << 20, // impossibly high floor
	}, nil)

	if _, err := tr.stageC(context.Background(), relay); err == nil {
		t.Fatalf("expected speed-floor rejection")
	}
}

func TestStageCNoAnchorsConfigured(t *testing.T) {
	tr := New(Config{}, nil)
	if _, err := tr.stageC(context.Background(), "127.0.0.1:1"); err == nil {
		t.Fatalf("expected error with no bandwidth anchors configured")
	}
}
