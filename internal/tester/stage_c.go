package tester

import (
	"context"
	"fmt"
	"io"
	"net"
	"time"

	"subscheck/internal/socks5"
)

// stageC measures bandwidth through the engine (spec §4.8 Stage C). It
// runs the two-phase pre-test/full-test variant when configured
// (Supplemented features, SPEC_FULL §4): a short run against a small
// cap first weeds out nodes whose SOCKS5 handshake works but whose
// upstream is effectively dead, before committing to the full
// measurement window.
func (t *Tester) stageC(ctx context.Context, proxyAddr string) (float64, error) {
	if len(t.cfg.BandwidthAnchors) == 0 {
		return 0, fmt.Errorf("no bandwidth anchors configured")
	}

	if t.cfg.TwoPhaseBandwidth {
		if _, err := t.measureBandwidth(ctx, proxyAddr, t.cfg.PreTestDuration, t.cfg.PreTestCapBytes); err != nil {
			return 0, fmt.Errorf("pre-test: %w", err)
		}
	}

	speedKBps, err := t.measureBandwidth(ctx, proxyAddr, t.cfg.DownloadTimeout, t.cfg.DownloadCapBytes)
	if err != nil {
		return 0, err
	}
	if speedKBps < t.cfg.SpeedFloorKBps {
		return 0, ErrRateLow
	}
	mbps := speedKBps * 8 / 1024
	return mbps, nil
}

// measureBandwidth opens a SOCKS5+CONNECT tunnel to the first working
// bandwidth anchor, issues a minimal HTTP/1.1 GET, discards headers,
// discards a warm-up prefix, then reads a measured window bounded by
// elapsed time and the byte cap (spec §4.8 Stage C steps 1-6). Every
// read passes through the shared token bucket when configured.
func (t *Tester) measureBandwidth(ctx context.Context, proxyAddr string, timeout time.Duration, capBytes int64) (float64, error) {
	var lastErr error
	for _, anchor := range t.cfg.BandwidthAnchors {
		speed, err := t.measureOneAnchor(ctx, proxyAddr, anchor, timeout, capBytes)
		if err == nil {
			return speed, nil
		}
		lastErr = err
	}
	return 0, fmt.Errorf("bandwidth measurement: all anchors failed: %w", lastErr)
}

func (t *Tester) measureOneAnchor(ctx context.Context, proxyAddr, anchor string, timeout time.Duration, capBytes int64) (float64, error) {
	conn, err := socks5.Dial(proxyAddr, anchor, 5*time.Second)
	if err != nil {
		return 0, err
	}
	defer conn.Close()

	host, _, _ := net.SplitHostPort(anchor)
	req := fmt.Sprintf("GET %s HTTP/1.1\r\nHost: %s\r\nConnection: close\r\n\r\n", t.cfg.BandwidthPath, host)
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if _, err := conn.Write([]byte(req)); err != nil {
		return 0, fmt.Errorf("write request: %w", err)
	}

	if err := discardHTTPHeaders(conn); err != nil {
		return 0, fmt.Errorf("discard headers: %w", err)
	}

	if err := discardN(conn, t.cfg.WarmupBytes); err != nil {
		return 0, fmt.Errorf("warm-up read: %w", err)
	}

	start := time.Now()
	deadline := start.Add(timeout)
	var total int64
	buf := make([]byte, 32*1024)

	for total < capBytes {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			break
		}
		_ = conn.SetReadDeadline(time.Now().Add(remaining))
		n, err := conn.Read(buf)
		if n > 0 {
			total += int64(n)
			if t.cfg.Limiter != nil {
				time.Sleep(t.cfg.Limiter.Take(n))
			}
			if t.cfg.Stats != nil {
				t.cfg.Stats.AddBytes(int64(n))
			}
		}
		if err != nil {
			if err == io.EOF {
				break
			}
			if isDeadlineExceeded(err) {
				break
			}
			return 0, fmt.Errorf("measured read: %w", err)
		}
	}

	elapsed := time.Since(start)
	if elapsed <= 0 || total == 0 {
		return 0, fmt.Errorf("no bytes read in measured window")
	}
	speedKBps := float64(total) / elapsed.Seconds() / 1024
	return speedKBps, nil
}

func isDeadlineExceeded(err error) bool {
	ne, ok := err.(net.Error)
	return ok && ne.Timeout()
}

// discardHTTPHeaders reads byte-by-byte until the CRLFCRLF header
// terminator; simplistic but sufficient for the stub/real HTTP servers
// this pipeline talks to, and avoids double-buffering the body.
func discardHTTPHeaders(conn net.Conn) error {
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var tail [4]byte
	one := make([]byte, 1)
	for {
		n, err := conn.Read(one)
		if n == 0 || err != nil {
			if err != nil {
				return err
			}
			continue
		}
		tail[0], tail[1], tail[2], tail[3] = tail[1], tail[2], tail[3], one[0]
		if tail == [4]byte{'\r', '\n', '\r', '\n'} {
			return nil
		}
	}
}

func discardN(conn net.Conn, n int64) error {
	if n <= 0 {
		return nil
	}
	_ = conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	_, err := io.CopyN(io.Discard, conn, n)
	if err == io.EOF {
		return nil
	}
	return err
}
