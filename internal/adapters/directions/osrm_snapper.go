package directions

import (
	"context"
	"delivery-navigation-service/internal/domain"
	"delivery-navigation-service/internal/platform/obs"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// OSRMRoadSnapper snaps short traces onto the road network with the OSRM
// match service. It only stabilizes the displayed marker.
type OSRMRoadSnapper struct {
	client  httpClient
	baseURL string
}

func NewOSRMRoadSnapper(baseURL string) (*OSRMRoadSnapper, error) {
	if strings.TrimSpace(baseURL) == "" {
		return nil, errors.New("OSRM base url is empty")
	}
	return &OSRMRoadSnapper{
		client:  newHTTPClient("", 5*time.Second),
		baseURL: strings.TrimRight(baseURL, "/"),
	}, nil
}

// OSRM response format
type matchResponse struct {
	Code        string `json:"code"`
	Tracepoints []*struct {
		Location []float64 `json:"location"`
	} `json:"tracepoints"`
}

// Snap returns the matched coordinates of the trace. Points OSRM could not
// match are omitted.
func (o *OSRMRoadSnapper) Snap(ctx context.Context, coords []domain.Coordinate) (_ []domain.Coordinate, err error) {
	defer obs.Time(ctx, "osrm.Snap")(&err)

	if len(coords) < 2 {
		return nil, errors.New("snap: need at least 2 coordinates")
	}

	parts := make([]string, 0, len(coords))
	for _, c := range coords {
		parts = append(parts, fmt.Sprintf("%.6f,%.6f", c.Lon, c.Lat))
	}
	endpoint := fmt.Sprintf("%s/match/v1/driving/%s?overview=false&geometries=geojson",
		o.baseURL, strings.Join(parts, ";"))

	resp, err := o.client.doWithRetry(ctx, func() (*http.Request, error) {
		return o.client.newRequest(ctx, http.MethodGet, endpoint, nil)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: match request: %v", domain.ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	var parsed matchResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("%w: decode match response: %v", domain.ErrProviderUnavailable, err)
	}
	if parsed.Code != "Ok" {
		return nil, fmt.Errorf("%w: OSRM returned code %q", domain.ErrProviderUnavailable, parsed.Code)
	}

	out := make([]domain.Coordinate, 0, len(parsed.Tracepoints))
	for _, tp := range parsed.Tracepoints {
		if tp == nil || len(tp.Location) != 2 {
			continue
		}
		out = append(out, domain.Coordinate{Lon: tp.Location[0], Lat: tp.Location[1]})
	}

	return out, nil
}
