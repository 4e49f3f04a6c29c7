package directions

import (
	"context"
	"delivery-navigation-service/internal/domain"
	"delivery-navigation-service/internal/platform/obs"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
)

type geocodeResponse struct {
	Features []struct {
		Geometry struct {
			Coordinates []float64 `json:"coordinates"`
		} `json:"geometry"`
	} `json:"features"`
}

// normalize ensures consistent cache keys by collapsing whitespace.
func normalize(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// Geocode resolves an address using the persistent cache first and
// OpenRouteService (/geocode/search) on a miss.
func (o *ORSDirectionsProvider) Geocode(ctx context.Context, address string) (_ domain.Coordinate, err error) {
	defer obs.Time(ctx, "ors.Geocode")(&err)

	norm := normalize(address)
	if norm == "" {
		return domain.Coordinate{}, fmt.Errorf("%w: address must be non-empty", domain.ErrGeocodeFailure)
	}

	// Check persistent geocode cache before issuing external API calls.
	if o.geocodeCache != nil {
		hits, err := o.geocodeCache.GetMany(ctx, []string{norm})
		if err != nil {
			log.Printf("geocode cache read failed address=%q err=%v", norm, err)
		} else if c, ok := hits[norm]; ok {
			return c, nil
		}
	}

	endpoint := o.baseURL + "/geocode/search"

	resp, err := o.client.doWithRetry(ctx, func() (*http.Request, error) {
		req, err := o.client.newRequest(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, err
		}
		q := req.URL.Query()
		q.Set("text", norm)
		if o.country != "" {
			q.Set("boundary.country", o.country)
		}
		q.Set("size", "1")
		req.URL.RawQuery = q.Encode()
		return req, nil
	})
	if err != nil {
		return domain.Coordinate{}, fmt.Errorf("%w: execute request: %v", domain.ErrGeocodeFailure, err)
	}
	defer resp.Body.Close()

	var decoded geocodeResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return domain.Coordinate{}, fmt.Errorf("%w: decode geocode response: %v", domain.ErrGeocodeFailure, err)
	}

	if len(decoded.Features) == 0 {
		return domain.Coordinate{}, fmt.Errorf("%w: no geocode results for %q", domain.ErrGeocodeFailure, norm)
	}

	coords := decoded.Features[0].Geometry.Coordinates
	if len(coords) != 2 {
		return domain.Coordinate{}, fmt.Errorf("%w: invalid coordinate format for %q", domain.ErrGeocodeFailure, norm)
	}

	out := domain.Coordinate{Lon: coords[0], Lat: coords[1]}
	if err := out.Validate(); err != nil {
		return domain.Coordinate{}, fmt.Errorf("%w: %v", domain.ErrGeocodeFailure, err)
	}

	if o.geocodeCache != nil {
		if err := o.geocodeCache.PutMany(ctx, map[string]domain.Coordinate{norm: out}); err != nil {
			log.Printf("geocode cache write failed: %v", err)
		}
	}

	return out, nil
}
