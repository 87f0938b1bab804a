package security

import (
	"net"
	"net/http"
	"strings"
)

// GetClientIP returns the address of the client that sent r. The result keys
// the per-IP rate limiters and the registration limiter and is recorded in
// the audit log.
//
// SECURITY CONSIDERATIONS:
//   - trustProxy must only be set when every request passes through a reverse
//     proxy we operate. Otherwise any caller can pick its own rate-limit bucket
//     by sending X-Forwarded-For.
//   - X-Forwarded-For reads "client, proxy1, proxy2". Each proxy appends the
//     address it received the request from, so only the rightmost entries are
//     written by infrastructure we control.
//   - trustedProxyCount is the number of those rightmost entries to skip. The
//     client is the entry just left of them. A value of 0 means one proxy.
//   - Values that do not parse as IP addresses are ignored, and the TCP peer
//     address is used instead.
//
// X-Real-IP is consulted only when X-Forwarded-For yields nothing.
func GetClientIP(r *http.Request, trustProxy bool, trustedProxyCount int) string {
	if trustProxy {
		if ip := clientFromForwardedFor(r.Header.Get("X-Forwarded-For"), trustedProxyCount); ip != "" {
			return ip
		}
		if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); net.ParseIP(ip) != nil {
			return ip
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// clientFromForwardedFor picks the client entry out of an X-Forwarded-For
// value.
//
// With trustedProxyCount=2:
//
//	Client (203.0.113.1) -> ProxyB (10.0.0.2) -> ProxyA (10.0.0.3) -> us
//	X-Forwarded-For: "6.6.6.6, 203.0.113.1, 10.0.0.2, 10.0.0.3"
//	result: hops[len(hops)-2-1] = "203.0.113.1"
//
// The spoofed leftmost "6.6.6.6" was supplied by the client and is never read.
func clientFromForwardedFor(xff string, trustedProxyCount int) string {
	if xff == "" {
		return ""
	}
	hops := strings.Split(xff, ",")

	proxies := trustedProxyCount
	if proxies <= 0 {
		proxies = 1
	}
	idx := len(hops) - proxies - 1
	if idx < 0 {
		idx = 0
	}

	ip := strings.TrimSpace(hops[idx])
	if net.ParseIP(ip) == nil {
		return ""
	}
	return ip
}
