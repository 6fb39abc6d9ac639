package logger

import (
	"net"
	"strings"
)

// RedactIP masks the host part of an address for safe logging.
// "203.0.113.42" → "203.0.113.x"
// "2001:db8::1" → "2001:db8:x"
// Values that are not IP addresses are fully masked.
func RedactIP(addr string) string {
	host := addr
	if h, _, err := net.SplitHostPort(addr); err == nil {
		host = h
	}
	ip := net.ParseIP(strings.TrimSpace(host))
	if ip == nil {
		return "x"
	}
	if v4 := ip.To4(); v4 != nil {
		parts := strings.Split(v4.String(), ".")
		return strings.Join(parts[:3], ".") + ".x"
	}
	parts := strings.Split(ip.String(), ":")
	if len(parts) > 2 {
		parts = parts[:2]
	}
	return strings.Join(parts, ":") + ":x"
}
