package api

import (
	"context"
	"delivery-navigation-service/internal/api/handlers"
	"delivery-navigation-service/internal/services"
	"net/http"
)

// NewRouter wires HTTP handlers with their dependencies and returns an http.Handler.
// ws serves the snapshot stream and ping checks the session store; both may be nil.
func NewRouter(
	svc *services.TrackingService,
	ws http.Handler,
	acceptRadiusMeters float64,
	ping func(ctx context.Context) error,
) http.Handler {
	mux := http.NewServeMux()

	sessions := &handlers.SessionHandler{Service: svc}
	eligibility := &handlers.EligibilityHandler{RadiusMeters: acceptRadiusMeters}
	health := &handlers.HealthHandler{Ping: ping}

	mux.HandleFunc("/health", health.Check)

	mux.HandleFunc("POST /sessions", sessions.Create)
	mux.HandleFunc("GET /sessions/{id}", sessions.Get)
	mux.HandleFunc("POST /sessions/{id}/target", sessions.Target)
	mux.HandleFunc("POST /sessions/{id}/route", sessions.Route)
	mux.HandleFunc("POST /sessions/{id}/collected", sessions.Collected)
	mux.HandleFunc("POST /sessions/{id}/complete", sessions.Complete)
	mux.HandleFunc("POST /sessions/{id}/cancel", sessions.Cancel)
	mux.HandleFunc("POST /sessions/{id}/tracking/foreground", sessions.StartForeground)

	mux.HandleFunc("GET /eligibility", eligibility.Check)

	if ws != nil {
		mux.Handle("GET /ws", ws)
	}

	return loggingMiddleware(mux)
}
