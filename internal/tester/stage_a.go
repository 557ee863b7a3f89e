package tester

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/miekg/dns"

	"subscheck/internal/node"
	"subscheck/internal/probe"
	"subscheck/internal/socks5"
)

// stageA runs spec §4.8 Stage A in order, returning the first success.
// The "best (smallest)" wording in the spec only matters when a caller
// chooses to run more than one method and compare; here, as in the
// source pipeline, we stop at the first success since later methods
// are progressively more expensive (direct < SOCKS5+DNS < HTTP GET).
func (t *Tester) stageA(ctx context.Context, n node.Node, proxyAddr string) (float64, string, error) {
	if d, err := probeDirect(ctx, n); err == nil {
		return float64(d.Milliseconds()), "direct", nil
	}

	if d, err := t.probeSOCKSAnchor(ctx, proxyAddr); err == nil {
		return float64(d.Milliseconds()), "socks5_anchor", nil
	}

	if d, err := t.probeHTTPFallback(ctx, proxyAddr); err == nil {
		return float64(d.Milliseconds()), "http_fallback", nil
	}

	return 0, "", ErrAllConnectivityFailed
}

func probeDirect(ctx context.Context, n node.Node) (time.Duration, error) {
	res := probe.Probe(ctx, n)
	if !res.Alive {
		return 0, res.Err
	}
	return time.Duration(res.LatencyMS) * time.Millisecond, nil
}

// probeSOCKSAnchor tunnels a minimal DNS query to each configured
// anchor in turn through the engine's SOCKS5 listener (spec §4.8
// Stage A.2); the first anchor that answers wins.
func (t *Tester) probeSOCKSAnchor(ctx context.Context, proxyAddr string) (time.Duration, error) {
	var lastErr error
	for _, anchor := range t.cfg.LatencyAnchors {
		start := time.Now()
		conn, err := socks5.Dial(proxyAddr, anchor, 4*time.Second)
		if err != nil {
			lastErr = err
			continue
		}
		msg := new(dns.Msg)
		msg.SetQuestion("example.com.", dns.TypeA)
		raw, err := msg.Pack()
		if err != nil {
			conn.Close()
			lastErr = err
			continue
		}
		// DNS-over-TCP framing: 2-byte big-endian length prefix.
		framed := append([]byte{byte(len(raw) >> 8), byte(len(raw))}, raw...)
		if _, err := conn.Write(framed); err != nil {
			conn.Close()
			lastErr = err
			continue
		}
		_ = conn.SetReadDeadline(time.Now().Add(4 * time.Second))
		buf := make([]byte, 512)
		_, err = conn.Read(buf)
		conn.Close()
		if err != nil {
			lastErr = err
			continue
		}
		return time.Since(start), nil
	}
	return 0, fmt.Errorf("socks5 anchor probe: %w", lastErr)
}

// probeHTTPFallback issues a GET through the engine's SOCKS5 proxy to
// each configured small-response URL; any status < 500 counts (spec
// §4.8 Stage A.3, intentionally permissive per spec §9's design note).
func (t *Tester) probeHTTPFallback(ctx context.Context, proxyAddr string) (time.Duration, error) {
	client := httpClientViaSOCKS(proxyAddr, 6*time.Second)

	var lastErr error
	for _, url := range t.cfg.HTTPFallbackURLs {
		start := time.Now()
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			lastErr = err
			continue
		}
		resp, err := client.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		if resp.StatusCode >= 500 {
			lastErr = fmt.Errorf("status %d", resp.StatusCode)
			continue
		}
		return time.Since(start), nil
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no fallback URLs configured")
	}
	return 0, fmt.Errorf("http fallback probe: %w", lastErr)
}
