package directions

import (
	"context"
	"delivery-navigation-service/internal/domain"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

type memoryGeocodeCache struct {
	m    map[string]domain.Coordinate
	puts int
}

func (c *memoryGeocodeCache) GetMany(ctx context.Context, addresses []string) (map[string]domain.Coordinate, error) {
	out := make(map[string]domain.Coordinate)
	for _, a := range addresses {
		if v, ok := c.m[a]; ok {
			out[a] = v
		}
	}
	return out, nil
}

func (c *memoryGeocodeCache) PutMany(ctx context.Context, results map[string]domain.Coordinate) error {
	c.puts++
	for k, v := range results {
		c.m[k] = v
	}
	return nil
}

func TestORSGeocodeUsesCache(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		if got := r.URL.Query().Get("text"); got != "12 Main Rd, Pretoria" {
			t.Errorf("text = %q, want normalized address", got)
		}
		if got := r.URL.Query().Get("size"); got != "1" {
			t.Errorf("size = %q, want 1", got)
		}
		w.Write([]byte(`{"features":[{"geometry":{"coordinates":[28.19, -25.74]}}]}`))
	}))
	defer srv.Close()

	cache := &memoryGeocodeCache{m: map[string]domain.Coordinate{}}
	p := newTestProvider(t, srv.URL, cache)
	ctx := context.Background()

	got, err := p.Geocode(ctx, "  12 Main Rd,   Pretoria ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := domain.Coordinate{Lat: -25.74, Lon: 28.19}
	if got != want {
		t.Fatalf("coordinate = %+v, want %+v", got, want)
	}
	if cache.puts != 1 {
		t.Fatalf("cache puts = %d, want 1", cache.puts)
	}

	if _, err := p.Geocode(ctx, "12 Main Rd, Pretoria"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Fatalf("ORS calls = %d, want 1", n)
	}
}

func TestORSGeocodeNoResults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"features":[]}`))
	}))
	defer srv.Close()

	p := newTestProvider(t, srv.URL, nil)

	_, err := p.Geocode(context.Background(), "nowhere at all")
	if !errors.Is(err, domain.ErrGeocodeFailure) {
		t.Fatalf("err = %v, want ErrGeocodeFailure", err)
	}
}

func TestORSGeocodeEmptyAddress(t *testing.T) {
	p := newTestProvider(t, "http://127.0.0.1:0", nil)

	_, err := p.Geocode(context.Background(), "   ")
	if !errors.Is(err, domain.ErrGeocodeFailure) {
		t.Fatalf("err = %v, want ErrGeocodeFailure", err)
	}
}
