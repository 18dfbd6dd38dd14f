package scope

import (
	"cyberredd/internal/cerr"
	"testing"
)

type recordingSink struct {
	events []map[string]any
}

func (r *recordingSink) Log(event map[string]any) {
	r.events = append(r.events, event)
}

func mustConfig(t *testing.T, targets []string, allowPrivate, allowLoopback bool) *Config {
	t.Helper()
	cfg, err := NewConfig(targets, nil, nil, allowPrivate, allowLoopback)
	if err != nil {
		t.Fatalf("NewConfig: %v", err)
	}
	return cfg
}

func TestValidateAllowThenDeny(t *testing.T) {
	cfg := mustConfig(t, []string{"192.168.1.0/24"}, true, false)
	sink := &recordingSink{}
	v := New(cfg, sink)

	if err := v.Validate(Input{Target: "192.168.1.100", Port: 80, HasPort: true}); err != nil {
		t.Fatalf("expected allow, got %v", err)
	}

	err := v.Validate(Input{Target: "10.0.0.5"})
	if err == nil {
		t.Fatalf("expected ScopeViolation")
	}
	violation, ok := err.(*cerr.ScopeViolation)
	if !ok {
		t.Fatalf("expected *cerr.ScopeViolation, got %T", err)
	}
	if violation.Rule != "ip_out_of_scope" {
		t.Fatalf("expected rule ip_out_of_scope, got %s", violation.Rule)
	}

	if len(sink.events) != 2 {
		t.Fatalf("expected exactly 2 audit events, got %d", len(sink.events))
	}
	if sink.events[0]["decision"] != "ALLOW" || sink.events[1]["decision"] != "DENY" {
		t.Fatalf("unexpected decisions: %v", sink.events)
	}
}

func TestValidateLoopbackRejectedByDefault(t *testing.T) {
	cfg := mustConfig(t, []string{"0.0.0.0/0"}, true, false)
	v := New(cfg, nil)
	if err := v.Validate(Input{Target: "127.0.0.1"}); err == nil {
		t.Fatalf("expected loopback to be rejected even under 0.0.0.0/0")
	}
}

func TestValidateHostnameWildcardMatchesRoot(t *testing.T) {
	cfg, err := NewConfig([]string{"*.example.com"}, nil, nil, false, false)
	if err != nil {
		t.Fatalf("NewConfig: %v", err)
	}
	v := New(cfg, nil)
	if err := v.Validate(Input{Target: "example.com"}); err != nil {
		t.Fatalf("expected root match for *.example.com, got %v", err)
	}
	if err := v.Validate(Input{Target: "api.example.com"}); err != nil {
		t.Fatalf("expected subdomain match, got %v", err)
	}
}

func TestValidateCommandInjection(t *testing.T) {
	cfg := mustConfig(t, []string{"192.168.1.0/24"}, true, false)
	v := New(cfg, nil)

	err := v.Validate(Input{Command: "nmap 192.168.1.1; rm -rf /"})
	if err == nil {
		t.Fatalf("expected injection violation")
	}
	violation := err.(*cerr.ScopeViolation)
	if violation.Rule != "injection_unquoted_;" {
		t.Fatalf("expected injection_unquoted_;, got %s", violation.Rule)
	}

	if err := v.Validate(Input{Command: `echo "safe;semicolon" 192.168.1.1`}); err != nil {
		t.Fatalf("expected quoted semicolon to be safe, got %v", err)
	}
}

func TestValidateNeverEmitsZeroOrTwoEvents(t *testing.T) {
	cfg := mustConfig(t, []string{"192.168.1.0/24"}, false, false)
	sink := &recordingSink{}
	v := New(cfg, sink)
	_ = v.Validate(Input{Target: ""})
	if len(sink.events) != 1 {
		t.Fatalf("expected exactly one audit event per call, got %d", len(sink.events))
	}
}
