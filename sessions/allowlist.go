package sessions

import (
	"net/netip"
	"strings"
)

// ipAllowed reports whether clientIP matches one of the allow-list entries.
// Entries are single addresses or CIDR prefixes; unparsable entries never
// match.
func ipAllowed(clientIP string, allowed []string) bool {
	addr, err := netip.ParseAddr(stripPort(clientIP))
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, entry := range allowed {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if strings.Contains(entry, "/") {
			prefix, err := netip.ParsePrefix(entry)
			if err == nil && prefix.Contains(addr) {
				return true
			}
			continue
		}
		if a, err := netip.ParseAddr(entry); err == nil && a.Unmap() == addr {
			return true
		}
	}
	return false
}

// stripPort accepts "ip", "ip:port" and "[ipv6]:port".
func stripPort(s string) string {
	s = strings.TrimSpace(s)
	if ap, err := netip.ParseAddrPort(s); err == nil {
		return ap.Addr().String()
	}
	return strings.Trim(s, "[]")
}
