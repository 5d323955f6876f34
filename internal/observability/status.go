package observability

import (
	"encoding/json"
	"net"
	"net/http"

	"github.com/omnidma/adamap-engine/internal/dma"
)

// ACL controls HTTP access by IP/CIDR, deny-by-default: only remote
// addresses contained in at least one configured CIDR are allowed.
type ACL struct {
	nets []*net.IPNet
}

// NewACL creates an ACL from already-parsed CIDRs.
func NewACL(cidrs []*net.IPNet) *ACL {
	return &ACL{nets: cidrs}
}

// Middleware wraps next, rejecting disallowed remote addresses with 403.
func (a *ACL) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.Allowed(r.RemoteAddr) {
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Allowed reports whether remoteAddr (host:port or bare host) is
// permitted.
func (a *ACL) Allowed(remoteAddr string) bool {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return false
	}
	for _, cidr := range a.nets {
		if cidr.Contains(ip) {
			return true
		}
	}
	return false
}

// StatusDTO is the JSON payload served at GET /status: a point-in-time
// view of the shared DMA scheduler plus recent trace events.
type StatusDTO struct {
	DMA    dma.Stats `json:"dma"`
	Events []Entry   `json:"events"`
}

// StatusHandler serves StatusDTO snapshots built from scheduler and
// ring at request time.
func StatusHandler(scheduler *dma.Scheduler, ring *Ring) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		dto := StatusDTO{
			DMA:    scheduler.Stats(),
			Events: ring.Recent(200),
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(dto)
	})
}
