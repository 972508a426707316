// Package fetch performs the raw network download for the scheduler.
package fetch

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/rotisserie/eris"

	"github.com/anatolia-labs/dizin/internal/resilience"
)

const maxBodyBytes = 4 * 1024 * 1024

// Response is a downloaded page. EffectiveURL reflects redirects.
type Response struct {
	Body         []byte
	EffectiveURL string
	StatusCode   int
}

// SanitizeURL masks the geocoder API key in a URL destined for logs or
// storage. URLs without a key parameter pass through unchanged, keeping
// ordinary page links byte-identical.
func SanitizeURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	q := u.Query()
	if _, ok := q["key"]; !ok {
		return raw
	}
	q.Set("key", "REDACTED")
	u.RawQuery = q.Encode()
	return u.String()
}

// Fetcher downloads one absolute URL. Timeouts surface as transient errors;
// every other transport failure is fatal for the task.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (*Response, error)
}

// HTTPFetcher is the production Fetcher on net/http.
type HTTPFetcher struct {
	client  *http.Client
	timeout time.Duration
}

// NewHTTP creates an HTTPFetcher with the given per-request timeout.
func NewHTTP(timeout time.Duration) *HTTPFetcher {
	return &HTTPFetcher{
		client: &http.Client{
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout: 30 * time.Second,
				}).DialContext,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		},
		timeout: timeout,
	}
}

// Fetch downloads targetURL.
func (f *HTTPFetcher) Fetch(ctx context.Context, targetURL string) (*Response, error) {
	safe := SanitizeURL(targetURL)
	reqCtx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, targetURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "fetch: create request")
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; DizinBot/1.0)")

	resp, err := f.client.Do(req)
	if err != nil {
		if resilience.IsTransient(err) {
			return nil, resilience.NewTransientError(eris.Wrapf(err, "fetch: %s timed out", safe))
		}
		return nil, eris.Wrapf(err, "fetch: %s", safe)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		if resilience.IsTransient(err) {
			return nil, resilience.NewTransientError(eris.Wrapf(err, "fetch: %s read timed out", safe))
		}
		return nil, eris.Wrapf(err, "fetch: read body %s", safe)
	}

	if resp.StatusCode >= 400 {
		return nil, eris.Errorf("fetch: %s returned status %d", safe, resp.StatusCode)
	}

	return &Response{
		Body:         body,
		EffectiveURL: resp.Request.URL.String(),
		StatusCode:   resp.StatusCode,
	}, nil
}
