// Package scope implements the deterministic, synchronous scope validator:
// the hard gate that decides whether a target/command is in-scope for an
// engagement. It holds no mutable state beyond its construction-time
// configuration and performs no network I/O.
package scope

import (
	"fmt"
	"net"
	"os"
	"strings"

	"cyberredd/internal/cerr"

	"gopkg.in/yaml.v3"
)

// PortRange is either a single port (Low==High) or an inclusive range.
type PortRange struct {
	Low  int
	High int
}

func (p PortRange) Contains(port int) bool { return port >= p.Low && port <= p.High }

// Config is the immutable, semantic scope configuration bound to an
// engagement. Its content hash is recorded in every checkpoint.
type Config struct {
	Networks      []*net.IPNet
	Hostnames     []string // lower-cased; entries starting with "*." are suffix rules
	Ports         []PortRange
	Protocols     []string // lower-cased; empty means unrestricted
	AllowPrivate  bool
	AllowLoopback bool
}

type rawPort struct {
	single int
	lowHi  [2]int
	isPair bool
}

// yamlConfig mirrors the on-disk document shape, accepting mixed int/pair
// port entries the way the Python original's factory does.
type yamlConfig struct {
	AllowedTargets []string      `yaml:"allowed_targets"`
	AllowedPorts   []interface{} `yaml:"allowed_ports"`
	AllowedProto   []string      `yaml:"allowed_protocols"`
	AllowPrivate   bool          `yaml:"allow_private"`
	AllowLoopback  bool          `yaml:"allow_loopback"`
}

// NewConfig builds a Config from already-parsed fields, used both by the
// YAML factory and directly by tests.
func NewConfig(targets []string, ports []PortRange, protocols []string, allowPrivate, allowLoopback bool) (*Config, error) {
	if len(targets) == 0 {
		return nil, &cerr.ConfigurationError{Field: "allowed_targets", Message: "must be a non-empty list"}
	}
	cfg := &Config{
		Ports:         ports,
		AllowPrivate:  allowPrivate,
		AllowLoopback: allowLoopback,
	}
	for _, p := range protocols {
		cfg.Protocols = append(cfg.Protocols, strings.ToLower(strings.TrimSpace(p)))
	}
	for _, raw := range targets {
		t := strings.TrimSpace(raw)
		if t == "" {
			return nil, &cerr.ConfigurationError{Field: "allowed_targets", Message: "entries must be non-empty strings"}
		}
		if ip, network, err := net.ParseCIDR(t); err == nil {
			cfg.Networks = append(cfg.Networks, network)
			_ = ip
			continue
		}
		if ip := net.ParseIP(t); ip != nil {
			cfg.Networks = append(cfg.Networks, singleHostNet(ip))
			continue
		}
		cfg.Hostnames = append(cfg.Hostnames, strings.ToLower(t))
	}
	return cfg, nil
}

func singleHostNet(ip net.IP) *net.IPNet {
	if v4 := ip.To4(); v4 != nil {
		return &net.IPNet{IP: v4, Mask: net.CIDRMask(32, 32)}
	}
	return &net.IPNet{IP: ip, Mask: net.CIDRMask(128, 128)}
}

// LoadConfig loads a scope configuration from a YAML file path, matching
// the factory's contract: an absent file is a FileNotFoundError, a
// malformed document is a ConfigurationError.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &cerr.FileNotFoundError{Path: path}
		}
		return nil, fmt.Errorf("reading scope config %s: %w", path, err)
	}
	var doc yamlConfig
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, &cerr.ConfigurationError{Field: "", Message: fmt.Sprintf("invalid yaml in %s: %v", path, err)}
	}
	ports, err := parsePorts(doc.AllowedPorts)
	if err != nil {
		return nil, err
	}
	return NewConfig(doc.AllowedTargets, ports, doc.AllowedProto, doc.AllowPrivate, doc.AllowLoopback)
}

func parsePorts(raw []interface{}) ([]PortRange, error) {
	if raw == nil {
		return nil, nil
	}
	out := make([]PortRange, 0, len(raw))
	for _, entry := range raw {
		switch v := entry.(type) {
		case int:
			out = append(out, PortRange{Low: v, High: v})
		case []interface{}:
			if len(v) != 2 {
				return nil, &cerr.ConfigurationError{Field: "allowed_ports", Message: "range entries must be [low, high]"}
			}
			lo, loOK := toInt(v[0])
			hi, hiOK := toInt(v[1])
			if !loOK || !hiOK || lo > hi {
				return nil, &cerr.ConfigurationError{Field: "allowed_ports", Message: "malformed port range"}
			}
			out = append(out, PortRange{Low: lo, High: hi})
		default:
			return nil, &cerr.ConfigurationError{Field: "allowed_ports", Message: "entries must be int or [low, high]"}
		}
	}
	return out, nil
}

func toInt(v interface{}) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}
