package server

import (
	"encoding/json"
	"net/http"

	"github.com/joshp123/gohome-electra/internal/core"
)

// HealthHandler returns a simple OK for liveness checks.
func HealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

type pluginHealth struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// PluginHealthHandler reports per-plugin health as JSON. Any plugin in
// ERROR makes the response 503.
func PluginHealthHandler(plugins []core.Plugin) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		out := make(map[string]pluginHealth, len(plugins))
		code := http.StatusOK
		for _, p := range plugins {
			health := p.Health()
			if health == core.HealthError {
				code = http.StatusServiceUnavailable
			}
			out[p.ID()] = pluginHealth{Status: string(health), Message: p.HealthMessage()}
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(out)
	})
}
