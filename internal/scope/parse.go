package scope

import (
	"net"
	"net/url"
	"strconv"
	"strings"
	"unicode"
)

// parsed holds the up-to-one target/port/protocol extracted from a command
// line, via a flag-aware argument walker.
type parsed struct {
	target   string
	port     int
	hasPort  bool
	protocol string
}

// extractFromCommand understands "-p PORT", "-u URL", bare IP/CIDR tokens,
// bare host[:port] tokens, and scheme://host[:port]/ URLs. Only the first
// match of each kind is kept.
func extractFromCommand(cmd string) parsed {
	var out parsed
	tokens := strings.Fields(cmd)
	for i := 0; i < len(tokens); i++ {
		tok := tokens[i]
		switch tok {
		case "-p", "--port":
			if i+1 < len(tokens) {
				if p, err := strconv.Atoi(strings.TrimSpace(tokens[i+1])); err == nil && !out.hasPort {
					out.port = p
					out.hasPort = true
				}
				i++
			}
			continue
		case "-u", "--url":
			if i+1 < len(tokens) {
				consumeURLOrHost(tokens[i+1], &out)
				i++
			}
			continue
		}
		if strings.Contains(tok, "://") {
			consumeURLOrHost(tok, &out)
			continue
		}
		if out.target == "" && looksLikeTarget(tok) {
			consumeURLOrHost(tok, &out)
		}
	}
	return out
}

func consumeURLOrHost(raw string, out *parsed) {
	if strings.Contains(raw, "://") {
		u, err := url.Parse(raw)
		if err != nil || u.Hostname() == "" {
			return
		}
		if out.target == "" {
			out.target = u.Hostname()
		}
		if u.Port() != "" && !out.hasPort {
			if p, err := strconv.Atoi(u.Port()); err == nil {
				out.port = p
				out.hasPort = true
			}
		}
		if out.protocol == "" && u.Scheme != "" {
			out.protocol = u.Scheme
		}
		return
	}
	host, port, ok := splitHostPort(raw)
	if out.target == "" {
		out.target = host
	}
	if ok && !out.hasPort {
		if p, err := strconv.Atoi(port); err == nil {
			out.port = p
			out.hasPort = true
		}
	}
}

// splitHostPort splits "host:port" or a bare CIDR/IP/host, tolerating
// IPv6 literals (which contain colons of their own and are not split).
func splitHostPort(tok string) (host string, port string, ok bool) {
	if strings.Count(tok, ":") == 1 {
		parts := strings.SplitN(tok, ":", 2)
		return parts[0], parts[1], true
	}
	return tok, "", false
}

// looksLikeTarget is a coarse filter so option-looking tokens ("-v",
// "--verbose") and plain words (a program name, a quoted argument) are
// never mistaken for targets. It accepts IP and CIDR tokens, and host[:port]
// tokens whose host contains a dot and only letters, digits, '.' and '-'.
func looksLikeTarget(tok string) bool {
	if tok == "" || strings.HasPrefix(tok, "-") {
		return false
	}
	if net.ParseIP(tok) != nil {
		return true
	}
	if _, _, err := net.ParseCIDR(tok); err == nil {
		return true
	}
	host, _, _ := splitHostPort(tok)
	if !strings.Contains(host, ".") {
		return false
	}
	for _, r := range host {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '.' && r != '-' {
			return false
		}
	}
	return true
}
