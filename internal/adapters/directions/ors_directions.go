package directions

import (
	"bytes"
	"context"
	"delivery-navigation-service/internal/domain"
	"delivery-navigation-service/internal/platform/obs"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strings"
	"time"
)

const defaultORSBaseURL = "https://api.openrouteservice.org"

// GeocodeCache persists address -> coordinate lookups. Keys are normalized
// by the provider before they reach the cache.
type GeocodeCache interface {
	GetMany(ctx context.Context, addresses []string) (map[string]domain.Coordinate, error)
	PutMany(ctx context.Context, results map[string]domain.Coordinate) error
}

// ORSDirectionsProvider implements DirectionsProvider and Geocoder using
// OpenRouteService.
//
// Transport faults are reported as ErrProviderUnavailable for directions and
// ErrGeocodeFailure for geocoding. The provider is safe for concurrent use.
type ORSDirectionsProvider struct {
	client       httpClient
	baseURL      string
	profile      string
	country      string
	geocodeCache GeocodeCache
}

// NewORSDirectionsProvider builds a provider. An empty baseURL selects the
// public ORS endpoint; country optionally restricts geocoding (ISO alpha-2).
func NewORSDirectionsProvider(
	apiKey string,
	baseURL string,
	country string,
	geocodeCache GeocodeCache,
) (*ORSDirectionsProvider, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("ORS api key is empty")
	}
	if baseURL == "" {
		baseURL = defaultORSBaseURL
	}

	provider := &ORSDirectionsProvider{
		client:       newHTTPClient(apiKey, 10*time.Second),
		baseURL:      strings.TrimRight(baseURL, "/"),
		profile:      "driving-car",
		country:      country,
		geocodeCache: geocodeCache,
	}

	return provider, nil
}

type directionsRequest struct {
	Coordinates  [][]float64 `json:"coordinates"`
	Instructions bool        `json:"instructions"`
	Units        string      `json:"units"`
}

type directionsResponse struct {
	Features []struct {
		Geometry struct {
			Coordinates [][]float64 `json:"coordinates"`
		} `json:"geometry"`
		Properties struct {
			Segments []struct {
				Steps []struct {
					Distance    float64 `json:"distance"`
					Instruction string  `json:"instruction"`
					WayPoints   []int   `json:"way_points"`
				} `json:"steps"`
			} `json:"segments"`
		} `json:"properties"`
	} `json:"features"`
}

// GetRoute requests a driving route with turn-by-turn steps.
func (o *ORSDirectionsProvider) GetRoute(
	ctx context.Context,
	origin domain.Coordinate,
	destination domain.Coordinate,
) (_ domain.Route, err error) {
	defer obs.Time(ctx, "ors.GetRoute")(&err)

	endpoint := fmt.Sprintf("%s/v2/directions/%s/geojson", o.baseURL, o.profile)

	payload, err := json.Marshal(directionsRequest{
		Coordinates:  [][]float64{origin.CoordsToList(), destination.CoordsToList()},
		Instructions: true,
		Units:        "m",
	})
	if err != nil {
		return domain.Route{}, fmt.Errorf("marshal directions request: %w", err)
	}

	resp, err := o.client.doWithRetry(ctx, func() (*http.Request, error) {
		return o.client.newRequest(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	})
	if err != nil {
		return domain.Route{}, fmt.Errorf("%w: directions request: %v", domain.ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	var dr directionsResponse
	if err := json.NewDecoder(resp.Body).Decode(&dr); err != nil {
		return domain.Route{}, fmt.Errorf("%w: decode directions response: %v", domain.ErrProviderUnavailable, err)
	}

	if len(dr.Features) == 0 {
		return domain.Route{}, fmt.Errorf("%w: directions returned no route", domain.ErrProviderUnavailable)
	}

	route, err := parseRoute(dr)
	if err != nil {
		return domain.Route{}, err
	}
	if err := route.Validate(); err != nil {
		return domain.Route{}, fmt.Errorf("%w: directions returned an unusable route: %v", domain.ErrProviderUnavailable, err)
	}
	return route, nil
}

// parseRoute maps the first GeoJSON feature onto a Route. Each step anchors
// its maneuver at the first polyline point it covers.
func parseRoute(dr directionsResponse) (domain.Route, error) {
	feature := dr.Features[0]

	polyline := make([]domain.Coordinate, 0, len(feature.Geometry.Coordinates))
	for i, pair := range feature.Geometry.Coordinates {
		if len(pair) < 2 {
			return domain.Route{}, fmt.Errorf("%w: invalid coordinate format at point %d", domain.ErrProviderUnavailable, i)
		}
		polyline = append(polyline, domain.Coordinate{Lon: pair[0], Lat: pair[1]})
	}

	maneuvers := make([]domain.Maneuver, 0)
	for _, seg := range feature.Properties.Segments {
		for _, step := range seg.Steps {
			if len(step.WayPoints) == 0 {
				continue
			}
			idx := step.WayPoints[0]
			if idx < 0 || idx >= len(polyline) {
				continue
			}

			maneuvers = append(maneuvers, domain.Maneuver{
				InstructionText: step.Instruction,
				DistanceText:    formatDistance(step.Distance),
				Coordinate:      polyline[idx],
			})
		}
	}

	return domain.Route{Polyline: polyline, Maneuvers: maneuvers}, nil
}

// formatDistance renders a step length the way the turn card shows it.
func formatDistance(meters float64) string {
	if meters < 1000 {
		return fmt.Sprintf("%d m", int(math.Round(meters/10)*10))
	}
	return fmt.Sprintf("%.1f km", meters/1000)
}
