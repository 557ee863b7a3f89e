// Package engine translates a Node into the external engine's wire
// configuration and owns the subprocess that implements it, per spec
// §3 (EngineConfig), §4.5 (Engine runner), and §6 (wire shape).
package engine

import (
	"log"

	"subscheck/internal/node"
)

// Config is the JSON document spawned engines read. The shape matches
// spec §6 exactly: one socks inbound, one outbound synthesized from a
// Node.
type Config struct {
	Log       LogConfig  `json:"log"`
	Inbounds  []Inbound  `json:"inbounds"`
	Outbounds []Outbound `json:"outbounds"`
}

type LogConfig struct {
	Level string `json:"level"`
}

type Inbound struct {
	Type       string `json:"type"`
	Listen     string `json:"listen"`
	ListenPort int    `json:"listen_port"`
	Sniff      bool   `json:"sniff"`
}

type Outbound struct {
	Type       string `json:"type"`
	Tag        string `json:"tag"`
	Server     string `json:"server"`
	ServerPort int    `json:"server_port"`

	// shadowsocks
	Method   string `json:"method,omitempty"`
	Password string `json:"password,omitempty"`

	// vmess/vless
	UUID     string `json:"uuid,omitempty"`
	AlterID  *int   `json:"alter_id,omitempty"`
	Security string `json:"security,omitempty"`
	Flow     string `json:"flow,omitempty"`

	Transport *Transport `json:"transport,omitempty"`
	TLS       *TLS       `json:"tls,omitempty"`
}

type Transport struct {
	Type        string            `json:"type"`
	Path        string            `json:"path,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"`
	ServiceName string            `json:"service_name,omitempty"`
}

type TLS struct {
	Enabled    bool     `json:"enabled"`
	ServerName string   `json:"server_name,omitempty"`
	ALPN       []string `json:"alpn,omitempty"`
	Insecure   bool     `json:"insecure"`
	Reality    *Reality `json:"reality,omitempty"`
	UTLS       *UTLS    `json:"utls,omitempty"`
}

type Reality struct {
	Enabled   bool   `json:"enabled"`
	PublicKey string `json:"public_key,omitempty"`
	ShortID   string `json:"short_id,omitempty"`
}

type UTLS struct {
	Enabled     bool   `json:"enabled"`
	Fingerprint string `json:"fingerprint,omitempty"`
}

// downgradedNetworks are transport hints spec §4.5 says to silently
// fall back to plain TCP for.
var downgradedNetworks = map[string]bool{
	"xhttp": true, "httpupgrade": true, "splithttp": true,
}

// BuildConfig synthesizes an EngineConfig for n, listening on
// 127.0.0.1:socksPort.
func BuildConfig(n node.Node, socksPort int) Config {
	cfg := Config{
		Log: LogConfig{Level: "error"},
		Inbounds: []Inbound{{
			Type: "socks", Listen: "127.0.0.1", ListenPort: socksPort, Sniff: true,
		}},
	}

	ob := Outbound{
		Type:       string(n.Type),
		Tag:        "proxy",
		Server:     n.Server,
		ServerPort: n.Port,
	}

	switch n.Type {
	case node.Shadowsocks:
		ob.Method = n.Method
		ob.Password = n.Password
	case node.VMess:
		ob.UUID = n.UUID
		alterID := n.AlterID
		ob.AlterID = &alterID
		ob.Security = defaultStr(n.Security, "auto")
		ob.Transport = buildTransport(n)
		ob.TLS = buildTLS(n)
	case node.VLess:
		ob.UUID = n.UUID
		ob.Transport = buildTransport(n)
		ob.TLS = buildTLS(n)
	case node.Trojan:
		ob.Password = n.Password
		ob.TLS = buildTLS(n)
		if ob.TLS == nil {
			ob.TLS = &TLS{Enabled: true, ServerName: n.Server, Insecure: true}
		}
	}

	cfg.Outbounds = []Outbound{ob}
	return cfg
}

func buildTransport(n node.Node) *Transport {
	network := n.Network
	if network == "" {
		network = "tcp"
	}
	if downgradedNetworks[network] {
		log.Printf("🔍 [engine] downgrading unsupported network %q to tcp for %s:%d", network, n.Server, n.Port)
		return nil
	}

	switch network {
	case "ws", "websocket":
		headers := map[string]string{}
		if n.Host != "" {
			headers["Host"] = n.Host
		}
		return &Transport{Type: "ws", Path: defaultStr(n.Path, "/"), Headers: headers}
	case "grpc":
		return &Transport{Type: "grpc", ServiceName: n.ServiceName}
	case "h2", "http":
		headers := map[string]string{}
		if n.Host != "" {
			headers["Host"] = n.Host
		}
		return &Transport{Type: "http", Path: defaultStr(n.Path, "/"), Headers: headers}
	default:
		return nil
	}
}

func buildTLS(n node.Node) *TLS {
	if !n.TLS.Enabled {
		return nil
	}
	sni := n.TLS.SNI
	if sni == "" {
		sni = n.Server
	}
	tls := &TLS{Enabled: true, ServerName: sni, Insecure: true, ALPN: n.TLS.ALPN}

	if n.TLS.RealityPBK != "" {
		tls.Insecure = false
		tls.Reality = &Reality{Enabled: true, PublicKey: n.TLS.RealityPBK, ShortID: n.TLS.RealitySID}
		tls.UTLS = &UTLS{Enabled: true, Fingerprint: defaultStr(n.TLS.Fingerprint, "chrome")}
	}
	return tls
}

func defaultStr(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
