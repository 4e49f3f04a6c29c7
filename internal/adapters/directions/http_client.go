package directions

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"
)

// httpClient is the JSON transport behind every adapter in this package.
// ORS (directions and geocoding) authenticates with apiKey; OSRM is keyless
// and leaves it empty.
type httpClient struct {
	http     *http.Client
	apiKey   string
	attempts int
	// Base delay between attempts; doubled after each retry.
	backoff time.Duration
}

func newHTTPClient(apiKey string, timeout time.Duration) httpClient {
	return httpClient{
		http:     &http.Client{Timeout: timeout},
		apiKey:   apiKey,
		attempts: 4,
		backoff:  200 * time.Millisecond,
	}
}

// statusError carries a non-2xx reply. The body is trimmed and capped.
type statusError struct {
	Code int
	Body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("status %d: %s", e.Code, e.Body)
}

// maxErrorBody bounds how much of a failed reply is kept for the log.
const maxErrorBody = 4 << 10

func (c httpClient) newRequest(ctx context.Context, method, url string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Accept", "application/json, application/geo+json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", c.apiKey)
	}
	return req, nil
}

// send performs one round trip. Any status >= 400 becomes a *statusError
// and the body is closed.
func (c httpClient) send(req *http.Request) (*http.Response, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < http.StatusBadRequest {
		return resp, nil
	}

	defer resp.Body.Close()
	b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return nil, &statusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(b))}
}

// retryable reports whether another attempt could succeed: throttling,
// gateway trouble, or a transport-level failure.
func retryable(err error) bool {
	var se *statusError
	if errors.As(err, &se) {
		switch se.Code {
		case http.StatusTooManyRequests,
			http.StatusInternalServerError,
			http.StatusBadGateway,
			http.StatusServiceUnavailable,
			http.StatusGatewayTimeout:
			return true
		}
		return false
	}

	var netErr net.Error
	return errors.As(err, &netErr)
}

// doWithRetry rebuilds the request through makeReq on every attempt so that
// bodies are replayed, backing off exponentially until ctx is done.
func (c httpClient) doWithRetry(ctx context.Context, makeReq func() (*http.Request, error)) (*http.Response, error) {
	attempts := c.attempts
	if attempts < 1 {
		attempts = 1
	}
	wait := c.backoff

	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		req, err := makeReq()
		if err != nil {
			return nil, fmt.Errorf("make request: %w", err)
		}

		resp, err := c.send(req)
		if err == nil {
			return resp, nil
		}
		if attempt >= attempts || !retryable(err) {
			return nil, err
		}

		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, ctx.Err()
		case <-t.C:
		}
		wait *= 2
	}
}
