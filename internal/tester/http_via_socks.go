package tester

import (
	"context"
	"net"
	"net/http"
	"time"

	"subscheck/internal/socks5"
)

// httpClientViaSOCKS builds an http.Client whose every dial tunnels
// through the engine's SOCKS5 listener at proxyAddr, used by both the
// Stage A HTTP fallback and Stage B's IP-classification calls.
func httpClientViaSOCKS(proxyAddr string, dialTimeout time.Duration) *http.Client {
	dial := func(ctx context.Context, network, addr string) (net.Conn, error) {
		return socks5.Dial(proxyAddr, addr, dialTimeout)
	}
	return &http.Client{
		Timeout: dialTimeout * 2,
		Transport: &http.Transport{
			DialContext: dial,
		},
	}
}
