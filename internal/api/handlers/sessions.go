package handlers

import (
	"delivery-navigation-service/internal/api/dto"
	"delivery-navigation-service/internal/domain"
	"delivery-navigation-service/internal/services"
	"net/http"
)

type SessionHandler struct {
	Service *services.TrackingService
}

func (h *SessionHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req dto.CreateSessionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	snap, err := h.Service.StartSession(r.Context(), services.SessionOrder{
		DriverID:    req.DriverID,
		OrderID:     req.OrderID,
		OrderNumber: req.OrderNumber,
		CustomerID:  req.CustomerID,
	})
	writeSessionResult(w, r, http.StatusCreated, snap, err)
}

func (h *SessionHandler) Get(w http.ResponseWriter, r *http.Request) {
	session, err := h.Service.Session(r.PathValue("id"))
	if err != nil {
		writeSessionResult(w, r, http.StatusOK, domain.TrackingSession{}, err)
		return
	}
	writeJSON(w, r, http.StatusOK, dto.FromSession(session.Snapshot()))
}

// Target resolves a pickup or drop-off target and assigns it, fetching the
// initial route on the way.
func (h *SessionHandler) Target(w http.ResponseWriter, r *http.Request) {
	var req dto.TargetRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	snap, err := h.Service.SetTarget(r.Context(), r.PathValue("id"), services.TargetRequest{
		Address:      req.Address,
		Coordinate:   req.Coordinate,
		RadiusMeters: req.RadiusMeters,
		Phase:        req.Phase,
		Origin:       req.Origin,
	})
	writeSessionResult(w, r, http.StatusOK, snap, err)
}

func (h *SessionHandler) Route(w http.ResponseWriter, r *http.Request) {
	var req dto.RouteRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	// Caller-supplied routes are checked up front so a bad request body never
	// reaches the session's malformed-route handling.
	route := domain.Route{Polyline: req.Polyline, Maneuvers: req.Maneuvers}
	if err := route.Validate(); err != nil {
		writeSessionResult(w, r, http.StatusOK, domain.TrackingSession{}, err)
		return
	}

	snap, err := h.Service.SetRoute(r.PathValue("id"), route)
	writeSessionResult(w, r, http.StatusOK, snap, err)
}

func (h *SessionHandler) Collected(w http.ResponseWriter, r *http.Request) {
	snap, err := h.Service.MarkCollected(r.Context(), r.PathValue("id"))
	writeSessionResult(w, r, http.StatusOK, snap, err)
}

func (h *SessionHandler) Complete(w http.ResponseWriter, r *http.Request) {
	snap, err := h.Service.Complete(r.Context(), r.PathValue("id"))
	writeSessionResult(w, r, http.StatusOK, snap, err)
}

func (h *SessionHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	snap, err := h.Service.Cancel(r.Context(), r.PathValue("id"))
	writeSessionResult(w, r, http.StatusOK, snap, err)
}

func (h *SessionHandler) StartForeground(w http.ResponseWriter, r *http.Request) {
	snap, err := h.Service.StartForeground(r.Context(), r.PathValue("id"))
	writeSessionResult(w, r, http.StatusOK, snap, err)
}
