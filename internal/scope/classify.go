package scope

import (
	"net"
	"strings"
)

type targetKind int

const (
	kindIP targetKind = iota
	kindCIDR
	kindHostname
)

// classify decides whether a normalized target string is an IP/CIDR or a
// hostname, trying IP parsing first as the spec requires.
func classify(target string) (kind targetKind, ip net.IP, network *net.IPNet) {
	if i, n, err := net.ParseCIDR(target); err == nil {
		return kindCIDR, i, n
	}
	if i := net.ParseIP(target); i != nil {
		return kindIP, i, nil
	}
	return kindHostname, nil, nil
}

// isReserved reports whether ip falls into a reserved range that is
// rejected regardless of scope configuration (unless explicitly allowed).
func isReserved(ip net.IP, allowPrivate, allowLoopback bool) (rejected bool, rule string) {
	if ip.IsLoopback() {
		if !allowLoopback {
			return true, "loopback_not_allowed"
		}
		return false, ""
	}
	if ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() {
		return true, "link_local_not_allowed"
	}
	if ip.IsMulticast() {
		return true, "multicast_not_allowed"
	}
	if ip.IsUnspecified() {
		return true, "unspecified_not_allowed"
	}
	if ip.IsPrivate() && !allowPrivate {
		return true, "private_not_allowed"
	}
	return false, ""
}

// hostnameMatches implements the exact/*.suffix matching rule: *.x.y
// matches any z.x.y and also x.y itself.
func hostnameMatches(entry, host string) bool {
	entry = strings.ToLower(entry)
	host = strings.ToLower(host)
	if !strings.HasPrefix(entry, "*.") {
		return entry == host
	}
	suffix := entry[1:] // ".x.y"
	root := entry[2:]   // "x.y"
	return host == root || strings.HasSuffix(host, suffix)
}

func ipInNetworks(ip net.IP, networks []*net.IPNet) bool {
	for _, n := range networks {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

func hostnameInScope(host string, hostnames []string) bool {
	for _, entry := range hostnames {
		if hostnameMatches(entry, host) {
			return true
		}
	}
	return false
}
