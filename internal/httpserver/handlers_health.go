package httpserver

import (
	"context"
	"net/http"
	"time"

	"github.com/lucidlens/server/internal/circuitbreaker"
)

// health reports store reachability and breaker states.
func (h *handlers) health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	now := time.Now()
	status := "ok"
	statusCode := http.StatusOK

	storeHealthy := h.entitlements != nil && h.entitlements.Ping(ctx) == nil
	if !storeHealthy {
		status = "degraded"
		statusCode = http.StatusServiceUnavailable
	}

	response := map[string]any{
		"status":       status,
		"uptime":       now.Sub(serverStartTime).Round(time.Second).String(),
		"timestamp":    now.UTC(),
		"storeHealthy": storeHealthy,
		"circuitBreakers": map[string]string{
			"gateway":     h.breakers.State(circuitbreaker.ServiceGateway),
			"text_model":  h.breakers.State(circuitbreaker.ServiceTextModel),
			"image_model": h.breakers.State(circuitbreaker.ServiceImageModel),
			"webhook":     h.breakers.State(circuitbreaker.ServiceWebhook),
		},
	}
	if h.cfg.Server.RoutePrefix != "" {
		response["routePrefix"] = h.cfg.Server.RoutePrefix
	}

	features := []string{}
	if h.cfg.Server.CallableEnabled {
		features = append(features, "callable")
	}
	if h.dreams != nil {
		features = append(features, "dreams")
	}
	if devBypassMounted(h.cfg) {
		features = append(features, "dev-bypass")
	}
	response["features"] = features

	writeJSON(w, statusCode, response)
}
