package scope

import (
	"net"
	"os"
	"strings"

	"cyberredd/internal/cerr"

	"gopkg.in/yaml.v3"
)

// roeDocument is the rules-of-engagement superset document: additional
// allow-listed targets/ports/protocols layered on top of a base scope
// config, plus a free-text authorization reference, which is parsed but
// not used by LoadROE or the validator.
type roeDocument struct {
	AuthorizationRef string        `yaml:"authorization_ref"`
	AdditionalTargets []string     `yaml:"additional_targets"`
	AdditionalPorts   []interface{} `yaml:"additional_ports"`
	AdditionalProto   []string     `yaml:"additional_protocols"`
}

// LoadROE reads an optional rules-of-engagement document and merges it
// into base, returning a new Config (base is left unmodified). A missing
// roePath is not an error: ROE documents are optional, unlike the base
// scope config.
func LoadROE(base *Config, roePath string) (*Config, error) {
	if roePath == "" {
		return base, nil
	}
	data, err := os.ReadFile(roePath)
	if err != nil {
		if os.IsNotExist(err) {
			return base, nil
		}
		return nil, &cerr.ConfigurationError{Field: "rules_of_engagement", Message: err.Error()}
	}
	var doc roeDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, &cerr.ConfigurationError{Field: "rules_of_engagement", Message: "invalid yaml: " + err.Error()}
	}
	additionalPorts, err := parsePorts(doc.AdditionalPorts)
	if err != nil {
		return nil, err
	}
	targets := append([]string{}, doc.AdditionalTargets...)
	merged, err := NewConfig(targets, additionalPorts, doc.AdditionalProto, base.AllowPrivate, base.AllowLoopback)
	if err != nil {
		if len(targets) == 0 {
			// No additional targets is the common case: fall back to a
			// config carrying only the ROE's extra ports/protocols, which
			// are appended to base's lists below.
			merged = &Config{Ports: additionalPorts, AllowPrivate: base.AllowPrivate, AllowLoopback: base.AllowLoopback}
			for _, p := range doc.AdditionalProto {
				merged.Protocols = append(merged.Protocols, strings.ToLower(strings.TrimSpace(p)))
			}
		} else {
			return nil, err
		}
	}
	networks := make([]*net.IPNet, 0, len(base.Networks)+len(merged.Networks))
	networks = append(networks, base.Networks...)
	networks = append(networks, merged.Networks...)
	out := &Config{
		Networks:      networks,
		Hostnames:     append(append([]string{}, base.Hostnames...), merged.Hostnames...),
		Ports:         append(append([]PortRange{}, base.Ports...), merged.Ports...),
		Protocols:     append(append([]string{}, base.Protocols...), merged.Protocols...),
		AllowPrivate:  base.AllowPrivate || merged.AllowPrivate,
		AllowLoopback: base.AllowLoopback || merged.AllowLoopback,
	}
	return out, nil
}
