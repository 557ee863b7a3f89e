package node

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log"
	"net/url"
	"strconv"
	"strings"
)

// skippedSchemes are recognized proxy-link prefixes this pipeline does
// not implement (spec §4.1 — rejected families, plus bare http(s) links
// which aren't subscription entries at all).
var skippedSchemes = []string{
	"ssr://", "hysteria://", "hysteria2://", "tuic://", "wireguard://",
	"http://", "https://",
}

// ParseLine dispatches a single subscription line to the matching
// scheme parser. It never aborts a subscription: callers are expected
// to log and discard on error, per spec §4.1.
func ParseLine(line string) (Node, error) {
	line = strings.TrimSpace(line)
	switch {
	case line == "", strings.HasPrefix(line, "#"), strings.HasPrefix(line, "//"):
		return Node{}, fmt.Errorf("%w: blank or comment line", ErrUnsupported)
	case strings.HasPrefix(line, "vmess://"):
		return parseVMess(line)
	case strings.HasPrefix(line, "vless://"):
		return parseVLess(line)
	case strings.HasPrefix(line, "trojan://"):
		return parseTrojan(line)
	case strings.HasPrefix(line, "ss://"):
		return parseShadowsocks(line)
	}
	for _, s := range skippedSchemes {
		if strings.HasPrefix(line, s) {
			return Node{}, fmt.Errorf("%w: scheme %q", ErrUnsupported, s)
		}
	}
	return Node{}, fmt.Errorf("%w: no recognized scheme", ErrUnsupported)
}

// ParseLines parses a subscription body line by line. Bad lines are
// logged at debug and discarded; the subscription as a whole never
// fails because of one bad entry (spec §4.1).
func ParseLines(body string) []Node {
	var out []Node
	for _, line := range strings.Split(body, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		n, err := ParseLine(line)
		if err != nil {
			log.Printf("🔍 [node] skip line: %v", err)
			continue
		}
		out = append(out, n)
	}
	return out
}

type vmessBody struct {
	Add  string `json:"add"`
	Port any    `json:"port"`
	ID   string `json:"id"`
	Aid  any    `json:"aid"`
	Scy  string `json:"scy"`
	Net  string `json:"net"`
	TLS  string `json:"tls"`
	SNI  string `json:"sni"`
	Host string `json:"host"`
	Path string `json:"path"`
	PS   string `json:"ps"`
}

func parseVMess(link string) (Node, error) {
	raw := strings.TrimPrefix(link, "vmess://")
	decoded, err := decodeB64Lenient(raw)
	if err != nil {
		return Node{}, fmt.Errorf("%w: vmess base64: %v", ErrMalformed, err)
	}

	var b vmessBody
	if err := json.Unmarshal(decoded, &b); err != nil {
		return Node{}, fmt.Errorf("%w: vmess json: %v", ErrMalformed, err)
	}

	port, err := anyToInt(b.Port)
	if err != nil || port <= 0 || port > 65535 {
		return Node{}, fmt.Errorf("%w: vmess port %q", ErrMalformed, b.Port)
	}
	if b.ID == "" {
		return Node{}, fmt.Errorf("%w: vmess missing id", ErrMalformed)
	}

	aid, _ := anyToInt(b.Aid)
	network := b.Net
	if network == "" {
		network = "tcp"
	}
	sni := b.SNI
	if sni == "" {
		sni = b.Host
	}
	if sni == "" {
		sni = b.Add
	}

	return Node{
		Name:     b.PS,
		Type:     VMess,
		Server:   b.Add,
		Port:     port,
		UUID:     b.ID,
		AlterID:  aid,
		Security: defaultStr(b.Scy, "auto"),
		Network:  network,
		Path:     b.Path,
		Host:     b.Host,
		TLS: TLS{
			Enabled: b.TLS == "tls",
			SNI:     sni,
		},
		OriginURI: link,
	}, nil
}

func parseVLess(link string) (Node, error) {
	u, err := url.Parse(link)
	if err != nil {
		return Node{}, fmt.Errorf("%w: vless url: %v", ErrMalformed, err)
	}
	uuid := u.User.Username()
	if uuid == "" {
		return Node{}, fmt.Errorf("%w: vless missing uuid", ErrMalformed)
	}
	port, err := strconv.Atoi(u.Port())
	if err != nil || port <= 0 || port > 65535 {
		return Node{}, fmt.Errorf("%w: vless port %q", ErrMalformed, u.Port())
	}

	q := u.Query()
	network := defaultStr(q.Get("type"), "tcp")
	security := q.Get("security")
	sni := defaultStr(q.Get("sni"), u.Hostname())

	name, _ := url.QueryUnescape(u.Fragment)

	return Node{
		Name:        name,
		Type:        VLess,
		Server:      u.Hostname(),
		Port:        port,
		UUID:        uuid,
		Network:     network,
		Path:        q.Get("path"),
		Host:        q.Get("host"),
		ServiceName: q.Get("serviceName"),
		TLS: TLS{
			Enabled:     security == "tls" || security == "reality",
			SNI:         sni,
			Fingerprint: defaultStr(q.Get("fp"), "chrome"),
			RealityPBK:  q.Get("pbk"),
			RealitySID:  q.Get("sid"),
		},
		OriginURI: link,
	}, nil
}

func parseTrojan(link string) (Node, error) {
	u, err := url.Parse(link)
	if err != nil {
		return Node{}, fmt.Errorf("%w: trojan url: %v", ErrMalformed, err)
	}
	password := u.User.Username()
	if password == "" {
		return Node{}, fmt.Errorf("%w: trojan missing password", ErrMalformed)
	}
	port, err := strconv.Atoi(u.Port())
	if err != nil || port <= 0 || port > 65535 {
		return Node{}, fmt.Errorf("%w: trojan port %q", ErrMalformed, u.Port())
	}

	q := u.Query()
	sni := defaultStr(q.Get("sni"), u.Hostname())
	name, _ := url.QueryUnescape(u.Fragment)

	return Node{
		Name:     name,
		Type:     Trojan,
		Server:   u.Hostname(),
		Port:     port,
		Password: password,
		Host:     q.Get("host"),
		TLS: TLS{
			Enabled: true,
			SNI:     sni,
		},
		OriginURI: link,
	}, nil
}

// parseShadowsocks handles the three accepted shapes of spec §4.1:
//
//	(i)   ss://<b64(method:password)>@host:port#name
//	(ii)  ss://<b64(method:password@host:port)>#name
//	(iii) ss://method:password@host:port#name
func parseShadowsocks(link string) (Node, error) {
	body := strings.TrimPrefix(link, "ss://")

	name := ""
	if idx := strings.Index(body, "#"); idx != -1 {
		name, _ = url.QueryUnescape(body[idx+1:])
		body = body[:idx]
	}

	if at := strings.LastIndex(body, "@"); at != -1 {
		userinfo, hostport := body[:at], body[at+1:]
		method, password, ok := splitMethodPassword(userinfo)
		if !ok {
			return Node{}, fmt.Errorf("%w: ss userinfo", ErrMalformed)
		}
		host, port, err := splitHostPort(hostport)
		if err != nil {
			return Node{}, fmt.Errorf("%w: ss hostport: %v", ErrMalformed, err)
		}
		return Node{
			Name: name, Type: Shadowsocks,
			Server: host, Port: port,
			Method: method, Password: password,
			OriginURI: link,
		}, nil
	}

	// shape (ii): whole thing is base64(method:password@host:port)
	decoded, err := decodeB64Lenient(body)
	if err != nil {
		return Node{}, fmt.Errorf("%w: ss base64: %v", ErrMalformed, err)
	}
	full := string(decoded)
	at := strings.LastIndex(full, "@")
	if at == -1 {
		return Node{}, fmt.Errorf("%w: ss decoded body missing '@'", ErrMalformed)
	}
	method, password, ok := splitMethodPassword(full[:at])
	if !ok {
		return Node{}, fmt.Errorf("%w: ss decoded userinfo", ErrMalformed)
	}
	host, port, err := splitHostPort(full[at+1:])
	if err != nil {
		return Node{}, fmt.Errorf("%w: ss decoded hostport: %v", ErrMalformed, err)
	}
	return Node{
		Name: name, Type: Shadowsocks,
		Server: host, Port: port,
		Method: method, Password: password,
		OriginURI: link,
	}, nil
}

func splitMethodPassword(userinfo string) (method, password string, ok bool) {
	if decoded, err := decodeB64Lenient(userinfo); err == nil {
		userinfo = string(decoded)
	}
	parts := strings.SplitN(userinfo, ":", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}

// splitHostPort handles "host:port" and IPv6 "[addr]:port" forms.
func splitHostPort(hostport string) (string, int, error) {
	if strings.HasPrefix(hostport, "[") {
		end := strings.Index(hostport, "]")
		if end == -1 {
			return "", 0, fmt.Errorf("unterminated ipv6 literal")
		}
		host := hostport[1:end]
		rest := strings.TrimPrefix(hostport[end+1:], ":")
		port, err := strconv.Atoi(rest)
		if err != nil || port <= 0 || port > 65535 {
			return "", 0, fmt.Errorf("bad port %q", rest)
		}
		return host, port, nil
	}
	idx := strings.LastIndex(hostport, ":")
	if idx == -1 {
		return "", 0, fmt.Errorf("missing port")
	}
	port, err := strconv.Atoi(hostport[idx+1:])
	if err != nil || port <= 0 || port > 65535 {
		return "", 0, fmt.Errorf("bad port %q", hostport[idx+1:])
	}
	return hostport[:idx], port, nil
}

// decodeB64Lenient tolerates missing padding and both standard/URL
// alphabets, as spec §4.1 requires ("padding-tolerant").
func decodeB64Lenient(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if m := len(s) % 4; m != 0 {
		s += strings.Repeat("=", 4-m)
	}
	if b, err := base64.StdEncoding.DecodeString(s); err == nil {
		return b, nil
	}
	if b, err := base64.URLEncoding.DecodeString(s); err == nil {
		return b, nil
	}
	return base64.RawStdEncoding.DecodeString(strings.TrimRight(s, "="))
}

func anyToInt(v any) (int, error) {
	switch t := v.(type) {
	case float64:
		return int(t), nil
	case string:
		return strconv.Atoi(t)
	case nil:
		return 0, fmt.Errorf("missing")
	default:
		return 0, fmt.Errorf("unsupported type %T", v)
	}
}

func defaultStr(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
