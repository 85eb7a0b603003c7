// Package observability exposes the driver's ok/bad RX counters over HTTP,
// the supplemented always-on counterpart to original_source/ebusd-light.cpp's
// one-time statistics printf at RESTART. The single route is registered
// directly on a chi router, as the teacher's generichttp/motion handlers do.
package observability

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// Counters is whatever the link driver can report right now.
type Counters interface {
	Counters() (ok, bad int)
}

// statsPayload is the JSON body of GET /stats.
type statsPayload struct {
	Ok  int `json:"ok"`
	Bad int `json:"bad"`
}

// NewRouter builds the observability HTTP surface: GET /stats reports the
// driver's plausible/bad RX counts, matching §6's "Observability" contract.
func NewRouter(c Counters) http.Handler {
	r := chi.NewRouter()
	r.Get("/stats", func(w http.ResponseWriter, req *http.Request) {
		ok, bad := c.Counters()
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(statsPayload{Ok: ok, Bad: bad})
	})
	return r
}
