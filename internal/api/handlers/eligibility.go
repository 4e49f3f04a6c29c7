package handlers

import (
	"delivery-navigation-service/internal/api/dto"
	"delivery-navigation-service/internal/domain"
	"delivery-navigation-service/internal/geo"
	"delivery-navigation-service/internal/services"
	"fmt"
	"net/http"
	"strconv"
)

type EligibilityHandler struct {
	RadiusMeters float64
}

// Check reports whether a driver may accept a job at the target.
func (h *EligibilityHandler) Check(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	driver, err := coordinateParam(q.Get("driver_lat"), q.Get("driver_lon"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "driver: "+err.Error())
		return
	}
	target, err := coordinateParam(q.Get("target_lat"), q.Get("target_lon"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "target: "+err.Error())
		return
	}

	radius := h.RadiusMeters
	if radius <= 0 {
		radius = services.DefaultAcceptRadiusMeters
	}

	writeJSON(w, r, http.StatusOK, dto.EligibilityResponse{
		Eligible:       services.WithinAcceptRadius(driver, target, radius),
		DistanceMeters: geo.DistanceMeters(driver, target),
		RadiusMeters:   radius,
	})
}

func coordinateParam(lat, lon string) (domain.Coordinate, error) {
	la, err := strconv.ParseFloat(lat, 64)
	if err != nil {
		return domain.Coordinate{}, fmt.Errorf("invalid latitude %q", lat)
	}
	lo, err := strconv.ParseFloat(lon, 64)
	if err != nil {
		return domain.Coordinate{}, fmt.Errorf("invalid longitude %q", lon)
	}

	c := domain.Coordinate{Lat: la, Lon: lo}
	if err := c.Validate(); err != nil {
		return domain.Coordinate{}, err
	}
	return c, nil
}
