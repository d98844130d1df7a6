package handlers

import (
	"encoding/json"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/AstarVienna/irdb/internal/model"
	"github.com/AstarVienna/irdb/internal/usagelog"
)

// PackageParam is the query parameter naming the downloaded package
const PackageParam = "package_name"

// checker is implemented by sinks that can report whether they are writable
type checker interface {
	Check() error
}

// Handler holds dependencies for HTTP handlers
type Handler struct {
	sink usagelog.Sink
	loc  *time.Location
	now  func() time.Time
}

// New creates a new Handler. Records are rendered in loc (UTC if nil).
func New(sink usagelog.Sink, loc *time.Location) *Handler {
	if loc == nil {
		loc = time.UTC
	}
	return &Handler{
		sink: sink,
		loc:  loc,
		now:  time.Now,
	}
}

// LogPackageUse records a package download and echoes the record.
// Without a package_name parameter nothing is written and the body is empty.
func (h *Handler) LogPackageUse(w http.ResponseWriter, r *http.Request) {
	values, ok := r.URL.Query()[PackageParam]
	if !ok {
		return
	}
	// Repeated parameters resolve to the last value
	packageName := values[len(values)-1]

	rec := model.NewUsageRecord(h.now(), h.loc, clientIP(r), packageName)

	body, err := usagelog.Encode(rec)
	if err != nil {
		log.Printf("Failed to encode usage record: %v", err)
		h.jsonError(w, "Failed to encode record", http.StatusInternalServerError)
		return
	}

	if err := h.sink.Append(rec); err != nil {
		log.Printf("Failed to log package use of %q: %v", packageName, err)
		h.jsonError(w, "Failed to write usage log", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Write(body)
}

// Health handles the health check endpoint
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if c, ok := h.sink.(checker); ok {
		if err := c.Check(); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			json.NewEncoder(w).Encode(map[string]string{"status": "unhealthy", "error": "usage log unavailable"})
			return
		}
	}

	json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
}

func (h *Handler) jsonError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// clientIP returns the direct peer address of the request, ignoring any
// forwarding headers
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
