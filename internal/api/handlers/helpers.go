package handlers

import (
	"delivery-navigation-service/internal/api/dto"
	"delivery-navigation-service/internal/domain"
	"delivery-navigation-service/internal/platform/obs"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("encode failed: method=%s path=%s err=%v", r.Method, r.URL.Path, err)
	}
}

func writeError(w http.ResponseWriter, r *http.Request, status int, msg string) {
	writeJSON(w, r, status, map[string]string{"error": msg})
}

// decodeJSON reads exactly one JSON object into v and validates it.
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	defer r.Body.Close()
	dec.DisallowUnknownFields()

	if err := dec.Decode(v); err != nil {
		return errors.New("invalid json body")
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return errors.New("body must contain only one JSON object")
	}
	if err := validate.Struct(v); err != nil {
		return fmt.Errorf("invalid request: %v", err)
	}
	return nil
}

// statusFor maps engine error kinds to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrPermissionDenied),
		errors.Is(err, domain.ErrBackgroundPermissionDenied):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrSessionActive),
		errors.Is(err, domain.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, domain.ErrGeocodeFailure),
		errors.Is(err, domain.ErrInvalidRoute),
		errors.Is(err, domain.ErrInvalidCoordinate):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrProviderUnavailable):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

type sessionErrorResponse struct {
	Error   string               `json:"error"`
	Session *dto.SessionResponse `json:"session,omitempty"`
}

// writeSessionResult writes the snapshot on success. Some failures leave the
// session transitioned (a denied background permission still starts
// routing), so the snapshot rides along with the error when there is one.
func writeSessionResult(w http.ResponseWriter, r *http.Request, okStatus int, snap domain.TrackingSession, err error) {
	if err == nil {
		writeJSON(w, r, okStatus, dto.FromSession(snap))
		return
	}

	status := statusFor(err)
	if status == http.StatusInternalServerError {
		log.Printf("req_id=%s method=%s path=%s err=%v", obs.RequestID(r.Context()), r.Method, r.URL.Path, err)
	}

	res := sessionErrorResponse{Error: err.Error()}
	if snap.SessionID != "" {
		s := dto.FromSession(snap)
		res.Session = &s
	}
	writeJSON(w, r, status, res)
}
