package probe

import (
	"time"

	"subscheck/internal/socks5"
)

// SOCKS5Reachable runs the three-byte no-auth handshake against a
// local engine's SOCKS5 inbound (spec §4.6): success iff the reply is
// two bytes starting with 0x05. Used both as a probe in its own right
// and as Stage C's bandwidth gate (spec §4.8).
func SOCKS5Reachable(proxyAddr string, timeout time.Duration) bool {
	return socks5.Handshake(proxyAddr, timeout) == nil
}
