package httputil

import (
	"net"
	"net/http"
	"net/netip"
	"strings"
)

// GetClientIP returns the caller's address for logging and per-client
// throttling. X-Forwarded-For and X-Real-IP are only honored when the direct
// peer is a loopback or private address, i.e. a proxy in front of us; a
// public peer could otherwise pick its own limiter key.
func GetClientIP(r *http.Request) string {
	peer := remoteHost(r.RemoteAddr)

	addr, err := netip.ParseAddr(peer)
	if err != nil || !(addr.IsLoopback() || addr.IsPrivate()) {
		return peer
	}

	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip, ok := parseHeaderIP(first); ok {
			return ip
		}
	}
	if ip, ok := parseHeaderIP(r.Header.Get("X-Real-IP")); ok {
		return ip
	}
	return peer
}

func remoteHost(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}

// parseHeaderIP accepts a bare or bracketed address, with or without a port
func parseHeaderIP(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false
	}
	if ap, err := netip.ParseAddrPort(raw); err == nil {
		return ap.Addr().String(), true
	}
	addr, err := netip.ParseAddr(strings.Trim(raw, "[]"))
	if err != nil {
		return "", false
	}
	return addr.String(), true
}
