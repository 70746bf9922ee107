package handler

import (
	"encoding/json"
	"net/http"

	"github.com/angeloszaimis/reverse-proxy/internal/healthcheck"
	"github.com/angeloszaimis/reverse-proxy/internal/resolver"
)

type backendHealth struct {
	resolver.BackendStatus
	Healthy *bool `json:"healthy,omitempty"`
}

type healthResponse struct {
	Status   string                   `json:"status"`
	Backends map[string]backendHealth `json:"backends"`
}

// Health reports dispatcher-level status plus the current resolution
// state of every backend. It reads the resolver's cache as-is and never
// triggers a resolution. When active probing is enabled, the last probe
// result is included per backend.
func Health(res *resolver.Resolver, monitor *healthcheck.Monitor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var probed map[string]bool
		if monitor != nil {
			probed = monitor.Statuses()
		}

		response := healthResponse{
			Status:   "ok",
			Backends: make(map[string]backendHealth),
		}
		for name, status := range res.Snapshot() {
			bh := backendHealth{BackendStatus: status}
			if healthy, ok := probed[name]; ok {
				h := healthy
				bh.Healthy = &h
			}
			response.Backends[name] = bh
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(response); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
	}
}
