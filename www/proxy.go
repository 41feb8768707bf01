package www

import (
	"net/http"
	"net/netip"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// parseTrustedProxies turns web.trusted_proxies into prefixes. A bare
// address becomes a single-host prefix; unparsable entries are dropped.
func parseTrustedProxies(entries []string, log *zap.Logger) []netip.Prefix {
	var out []netip.Prefix
	for _, e := range entries {
		if p, err := netip.ParsePrefix(e); err == nil {
			out = append(out, p.Masked())
			continue
		}
		a, err := netip.ParseAddr(e)
		if err != nil {
			log.Warn("ignoring invalid trusted proxy", zap.String("entry", e))
			continue
		}
		a = a.Unmap()
		out = append(out, netip.PrefixFrom(a, a.BitLen()))
	}
	return out
}

// proxiedRealIP applies chi's RealIP only to requests whose TCP peer is in
// trusted. Everyone else keeps RemoteAddr, so forwarded headers cannot
// spoof the workstation allow-list.
func proxiedRealIP(trusted []netip.Prefix) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		forwarded := middleware.RealIP(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if peerTrusted(r.RemoteAddr, trusted) {
				forwarded.ServeHTTP(w, r)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func peerTrusted(remoteAddr string, trusted []netip.Prefix) bool {
	if len(trusted) == 0 {
		return false
	}
	ap, err := netip.ParseAddrPort(remoteAddr)
	if err != nil {
		return false
	}
	addr := ap.Addr().Unmap()
	for _, p := range trusted {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}
