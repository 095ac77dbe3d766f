package middleware

import (
	"context"
	"net"
	"net/http"
	"strings"
)

// ClientIP returns the host part of r.RemoteAddr, or "unknown". Forwarded headers are
// not read here; the router rewrites RemoteAddr from them only behind a trusted proxy.
func ClientIP(r *http.Request) string {
	addr := strings.TrimSpace(r.RemoteAddr)
	if addr == "" {
		return "unknown"
	}
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}

var clientIPKey = contextKey{"client_ip"}

// StoreClientIP puts ClientIP(r) in the request context for ClientIPFromContext.
func StoreClientIP(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := context.WithValue(r.Context(), clientIPKey, ClientIP(r))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// ClientIPFromContext returns the IP stored by StoreClientIP, or "".
func ClientIPFromContext(ctx context.Context) string {
	ip, _ := ctx.Value(clientIPKey).(string)
	return ip
}
