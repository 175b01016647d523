package http

import (
	"net"
	"net/http"
	"net/netip"
	"strings"
)

// UnknownIP is returned when no client address can be resolved.
const UnknownIP = "unknown"

// IPConfig holds configuration for client IP resolution
type IPConfig struct {
	// TrustForwardedHeaders enables X-Forwarded-For and X-Real-IP.
	// Leave it off unless the service sits behind a proxy that overwrites them.
	TrustForwardedHeaders bool
	// TrustedProxies restricts header trust to peers inside these CIDR ranges.
	// Empty means headers are honoured from any peer once trust is enabled.
	TrustedProxies []string
}

// IPResolver extracts one canonical client IP per request.
type IPResolver struct {
	trustHeaders bool
	restricted   bool
	proxies      []netip.Prefix
}

// NewIPResolver parses the proxy ranges once. Invalid CIDRs are skipped, and a
// list with no valid entry trusts no peer.
func NewIPResolver(config *IPConfig) *IPResolver {
	r := &IPResolver{}
	if config == nil {
		return r
	}

	r.trustHeaders = config.TrustForwardedHeaders
	r.restricted = len(config.TrustedProxies) > 0
	for _, cidr := range config.TrustedProxies {
		prefix, err := netip.ParsePrefix(strings.TrimSpace(cidr))
		if err != nil {
			continue
		}
		r.proxies = append(r.proxies, prefix.Masked())
	}
	return r
}

// ClientIP resolves the client address. It never fails.
//
// Order, first non-empty wins:
// 1. first entry of X-Forwarded-For (trusted peers only)
// 2. X-Real-IP (trusted peers only)
// 3. transport peer address
// 4. "unknown"
func (res *IPResolver) ClientIP(r *http.Request) string {
	peer := peerAddr(r)

	if res.trusts(peer) {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			if ip := strings.TrimSpace(first); ip != "" {
				return CanonicalIP(ip)
			}
		}

		if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
			return CanonicalIP(xri)
		}
	}

	if peer != "" {
		return CanonicalIP(peer)
	}
	return UnknownIP
}

func (res *IPResolver) trusts(peer string) bool {
	if !res.trustHeaders {
		return false
	}
	if !res.restricted {
		return true
	}

	addr, err := netip.ParseAddr(peer)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, prefix := range res.proxies {
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}

// peerAddr strips the port from RemoteAddr if present
func peerAddr(r *http.Request) string {
	addr := strings.TrimSpace(r.RemoteAddr)
	if addr == "" {
		return ""
	}
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}

// CanonicalIP normalises a parseable address, so an IPv4-mapped IPv6 form
// and its IPv4 form name the same client. Anything else is returned as sent.
func CanonicalIP(ip string) string {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return ip
	}
	return addr.Unmap().String()
}
