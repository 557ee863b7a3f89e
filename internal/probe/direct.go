// Package probe implements the protocol-aware direct liveness check
// that bypasses the engine entirely (spec §4.6), plus the SOCKS5
// no-auth probe used both here and as the bandwidth stage's gate.
package probe

import (
	"context"
	"crypto/sha256"
	"fmt"
	"net"
	"time"

	utls "github.com/refraction-networking/utls"

	"subscheck/internal/node"
)

const (
	maxAttempts  = 3
	attemptDelay = 1500 * time.Millisecond
	dialTimeout  = 3 * time.Second
	readTimeout  = 2 * time.Second
	dummyPayload = "subscheck-probe\n"
)

// Result is the outcome of a direct probe: either a measured latency
// or a reason it failed.
type Result struct {
	Alive     bool
	LatencyMS int64
	Err       error
}

// Probe runs the family-appropriate liveness check for n, retrying up
// to maxAttempts times with attemptDelay spacing (spec §4.6). It
// returns the first successful attempt's elapsed time, or the last
// attempt's error once all attempts are exhausted.
func Probe(ctx context.Context, n node.Node) Result {
	var last error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return Result{Err: ctx.Err()}
			case <-time.After(attemptDelay):
			}
		}
		start := time.Now()
		err := probeOnce(ctx, n)
		if err == nil {
			return Result{Alive: true, LatencyMS: time.Since(start).Milliseconds()}
		}
		last = err
	}
	return Result{Err: fmt.Errorf("probe: all %d attempts failed: %w", maxAttempts, last)}
}

func probeOnce(ctx context.Context, n node.Node) error {
	switch n.Type {
	case node.Trojan:
		return probeTrojan(ctx, n)
	default:
		return probeTCP(ctx, n)
	}
}

// probeTCP is the shadowsocks/vmess/vless probe: connect, write a
// dummy payload, attempt a short read. A timeout on the read still
// counts as reachable — the point is that the handshake succeeded and
// the peer did not reset the connection.
func probeTCP(ctx context.Context, n node.Node) error {
	addr := net.JoinHostPort(n.Server, fmt.Sprint(n.Port))
	d := net.Dialer{Timeout: dialTimeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("dial %s: %w", addr, err)
	}
	defer conn.Close()

	if _, err := conn.Write([]byte(dummyPayload)); err != nil {
		return fmt.Errorf("write probe payload: %w", err)
	}
	_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
	buf := make([]byte, 64)
	_, err = conn.Read(buf)
	if err == nil || isTimeout(err) {
		return nil
	}
	return fmt.Errorf("read after probe write: %w", err)
}

// probeTrojan additionally wraps the connection in a uTLS ClientHello
// (Chrome fingerprint) before writing a frame incorporating
// SHA-224(password), matching trojan's wire format closely enough to
// get past naive deep packet inspection on the peer (spec §4.6).
func probeTrojan(ctx context.Context, n node.Node) error {
	addr := net.JoinHostPort(n.Server, fmt.Sprint(n.Port))
	d := net.Dialer{Timeout: dialTimeout}
	raw, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("dial %s: %w", addr, err)
	}
	defer raw.Close()

	sni := n.TLS.SNI
	if sni == "" {
		sni = n.Server
	}
	uconn := utls.UClient(raw, &utls.Config{ServerName: sni, InsecureSkipVerify: true}, utls.HelloChrome_Auto)
	_ = uconn.SetDeadline(time.Now().Add(dialTimeout))
	if err := uconn.Handshake(); err != nil {
		return fmt.Errorf("utls handshake: %w", err)
	}

	hash := sha256.Sum224([]byte(n.Password))
	frame := append(hash[:], []byte("\r\n")...)
	if _, err := uconn.Write(frame); err != nil {
		return fmt.Errorf("write trojan probe frame: %w", err)
	}

	_ = uconn.SetReadDeadline(time.Now().Add(readTimeout))
	buf := make([]byte, 64)
	_, err = uconn.Read(buf)
	if err == nil || isTimeout(err) {
		return nil
	}
	return fmt.Errorf("read after trojan probe: %w", err)
}

func isTimeout(err error) bool {
	ne, ok := err.(net.Error)
	return ok && ne.Timeout()
}
