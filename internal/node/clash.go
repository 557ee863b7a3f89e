package node

import (
	"fmt"
	"strconv"

	"gopkg.in/yaml.v3"
)

// lenientScalar accepts a YAML scalar or a one-element sequence holding
// a scalar, collapsing the list-or-scalar ambiguity spec §9's design
// notes call out ("the source parser paths accept values that may
// arrive as scalars or as single-element lists"). This is the one place
// in the package that tolerates that ambiguity — Node itself never
// carries it.
type lenientScalar struct {
	set   bool
	value string
}

func (s *lenientScalar) UnmarshalYAML(v *yaml.Node) error {
	switch v.Kind {
	case yaml.ScalarNode:
		s.set = true
		s.value = v.Value
	case yaml.SequenceNode:
		if len(v.Content) == 0 {
			return nil
		}
		return s.UnmarshalYAML(v.Content[0])
	default:
		return fmt.Errorf("node: lenient scalar: unsupported yaml kind %v", v.Kind)
	}
	return nil
}

func (s lenientScalar) str() string {
	return s.value
}

func (s lenientScalar) int(def int) int {
	if !s.set {
		return def
	}
	n, err := strconv.Atoi(s.value)
	if err != nil {
		return def
	}
	return n
}

func (s lenientScalar) bool() bool {
	return s.set && (s.value == "true" || s.value == "tls" || s.value == "1")
}

// clashProxy is the field-name mapping for one entry of a Clash config's
// top-level `proxies:` sequence, covering vmess/vless/trojan (spec
// §4.1's "Clash-YAML structured entries").
type clashProxy struct {
	Name     string        `yaml:"name"`
	Type     string        `yaml:"type"`
	Server   lenientScalar `yaml:"server"`
	Port     lenientScalar `yaml:"port"`
	UUID     lenientScalar `yaml:"uuid"`
	AlterID  lenientScalar `yaml:"alterId"`
	Cipher   lenientScalar `yaml:"cipher"`
	Password lenientScalar `yaml:"password"`
	Network  lenientScalar `yaml:"network"`
	TLS      lenientScalar `yaml:"tls"`
	SNI      lenientScalar `yaml:"sni"`
	Servername lenientScalar `yaml:"servername"`
	WSPath   lenientScalar `yaml:"ws-path"`
	WSHost   lenientScalar `yaml:"ws-host"`
	GRPCServiceName lenientScalar `yaml:"grpc-service-name"`
}

// ParseClashProxies decodes a Clash-style `proxies:` sequence into
// Nodes. Entries with an unsupported type or missing required fields
// are skipped, not errored, matching the rest of spec §4.1.
func ParseClashProxies(body []byte) ([]Node, error) {
	var doc struct {
		Proxies []clashProxy `yaml:"proxies"`
	}
	if err := yaml.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("%w: clash yaml: %v", ErrMalformed, err)
	}

	var out []Node
	for _, p := range doc.Proxies {
		n, err := clashToNode(p)
		if err != nil {
			continue
		}
		out = append(out, n)
	}
	return out, nil
}

func clashToNode(p clashProxy) (Node, error) {
	sni := p.SNI.str()
	if sni == "" {
		sni = p.Servername.str()
	}
	if sni == "" {
		sni = p.Server.str()
	}

	base := Node{
		Name:    p.Name,
		Server:  p.Server.str(),
		Port:    p.Port.int(0),
		Network: defaultStr(p.Network.str(), "tcp"),
		Path:    p.WSPath.str(),
		Host:    p.WSHost.str(),
		TLS: TLS{
			Enabled: p.TLS.bool(),
			SNI:     sni,
		},
	}

	switch p.Type {
	case "vmess":
		base.Type = VMess
		base.UUID = p.UUID.str()
		base.AlterID = p.AlterID.int(0)
		base.Security = defaultStr(p.Cipher.str(), "auto")
	case "vless":
		base.Type = VLess
		base.UUID = p.UUID.str()
		base.ServiceName = p.GRPCServiceName.str()
	case "trojan":
		base.Type = Trojan
		base.Password = p.Password.str()
		base.TLS.Enabled = true
	default:
		return Node{}, fmt.Errorf("%w: clash type %q", ErrUnsupported, p.Type)
	}

	if err := base.Validate(); err != nil {
		return Node{}, err
	}
	return base, nil
}
