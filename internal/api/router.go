package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Group(func(r chi.Router) {
			r.Use(s.tokenMiddleware)

			r.Get("/metrics", s.handleMetrics)
			r.Get("/events", s.handleListEvents)

			r.Route("/peers", func(r chi.Router) {
				r.Get("/", s.handleListPeers)
				r.Route("/{address}", func(r chi.Router) {
					r.Get("/attributes", s.handleListAttributes)
					r.Post("/attributes/{handle}", s.handleWriteAttribute)
					r.Delete("/attributes/{handle}/subscription", s.handleUnsubscribe)
				})
			})

			r.Route("/bonds", func(r chi.Router) {
				r.Get("/", s.handleListBonds)
				r.Post("/", s.handleAddBond)
				r.Delete("/{address}", s.handleRemoveBond)
			})

			r.Get("/ws", s.handleWebSocket)
		})
	})

	return r
}

// handleHealth reports liveness and the MQTT session state.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	status := "ok"
	mqttConnected := s.mqtt != nil && s.mqtt.IsConnected()
	if !mqttConnected {
		status = "degraded"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         status,
		"version":        s.version,
		"mqtt_connected": mqttConnected,
	})
}
