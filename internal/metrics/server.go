package metrics

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// allowlist restricts scrape access to a set of source networks. An empty
// allowlist admits everyone.
type allowlist []*net.IPNet

// newAllowlist parses a mix of single IPs and CIDR ranges. Entries that do
// not parse are logged and skipped rather than failing startup.
func newAllowlist(entries []string, logger *slog.Logger) allowlist {
	var al allowlist
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}

		if strings.Contains(entry, "/") {
			_, ipNet, err := net.ParseCIDR(entry)
			if err != nil {
				logger.Warn("invalid CIDR in allowed_ips", "cidr", entry, "error", err)
				continue
			}
			al = append(al, ipNet)
			continue
		}

		ip := net.ParseIP(entry)
		if ip == nil {
			logger.Warn("invalid IP in allowed_ips", "ip", entry)
			continue
		}
		bits := 128
		if ip.To4() != nil {
			bits = 32
		}
		al = append(al, &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)})
	}
	return al
}

func (al allowlist) allows(ip net.IP) bool {
	if len(al) == 0 {
		return true
	}
	for _, ipNet := range al {
		if ipNet.Contains(ip) {
			return true
		}
	}
	return false
}

// Server exposes the Prometheus registry on its own listener so scrape
// access can be locked down independently of the management API.
type Server struct {
	httpServer *http.Server
	metrics    *Metrics
	addr       string
	path       string
	allow      allowlist
	logger     *slog.Logger
}

// NewServer creates a metrics HTTP server open to any scraper
func NewServer(m *Metrics, addr, path string, logger *slog.Logger) *Server {
	return NewServerWithAllowedIPs(m, addr, path, nil, logger)
}

// NewServerWithAllowedIPs creates a metrics HTTP server that only serves
// scrapes from the given IPs and CIDR ranges
func NewServerWithAllowedIPs(m *Metrics, addr, path string, allowedIPs []string, logger *slog.Logger) *Server {
	if addr == "" {
		addr = ":9090"
	}
	if path == "" {
		path = "/metrics"
	}

	s := &Server{
		metrics: m,
		addr:    addr,
		path:    path,
		allow:   newAllowlist(allowedIPs, logger),
		logger:  logger,
	}
	if len(s.allow) > 0 {
		logger.Info("metrics IP filtering enabled", "allowed_networks", len(s.allow))
	}
	return s
}

// ListenAndServe starts the metrics HTTP server
func (s *Server) ListenAndServe() error {
	scrape := promhttp.HandlerFor(s.metrics.Registry(), promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})

	mux := http.NewServeMux()
	mux.Handle(s.path, s.guard(scrape))
	// Liveness probe, never filtered
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	s.httpServer = &http.Server{Addr: s.addr, Handler: mux}

	s.logger.Info("starting metrics server", "addr", s.addr, "path", s.path)
	return s.httpServer.ListenAndServe()
}

// guard rejects requests whose source is not on the allowlist
func (s *Server) guard(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(s.allow) == 0 {
			next.ServeHTTP(w, r)
			return
		}
		ip := clientIP(r)
		if ip == nil {
			s.logger.Warn("could not parse client IP", "remote_addr", r.RemoteAddr)
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}
		if !s.allow.allows(ip) {
			s.logger.Warn("metrics access denied", "ip", ip.String())
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// clientIP resolves the original client address, trusting proxy headers
// before RemoteAddr.
func clientIP(r *http.Request) net.IP {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := net.ParseIP(strings.TrimSpace(first)); ip != nil {
			return ip
		}
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		if ip := net.ParseIP(strings.TrimSpace(xri)); ip != nil {
			return ip
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return net.ParseIP(r.RemoteAddr)
	}
	return net.ParseIP(host)
}

// Shutdown gracefully shuts down the metrics server
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	s.logger.Info("shutting down metrics server")
	return s.httpServer.Shutdown(ctx)
}
