package probe

import (
	"context"
	"net"
	"strconv"
	"testing"
	"time"

	"subscheck/internal/node"
)

func echoServer(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(c net.Conn) {
				defer c.Close()
				buf := make([]byte, 64)
				c.Read(buf)
				c.Write([]byte("ok"))
			}(conn)
		}
	}()
	t.Cleanup(func() { ln.Close() })
	return ln.Addr().String()
}

func TestProbeTCPReachableOnReply(t *testing.T) {
	addr := echoServer(t)
	host, portStr, _ := net.SplitHostPort(addr)
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatalf("parse port: %v", err)
	}

	n := node.Node{Type: node.Shadowsocks, Server: host, Port: port, Method: "aes-256-gcm", Password: "pw"}
	res := Probe(context.Background(), n)
	if !res.Alive {
		t.Fatalf("expected reachable, got err=%v", res.Err)
	}
}

func TestProbeTCPFailsOnUnreachable(t *testing.T) {
	n := node.Node{Type: node.Shadowsocks, Server: "127.0.0.1", Port: 1, Method: "aes-256-gcm", Password: "pw"}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	res := Probe(ctx, n)
	if res.Alive {
		t.Fatalf("expected unreachable node to fail")
	}
}
