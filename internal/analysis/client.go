package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/nitesh/factoura_service/internal/logging"
	"github.com/nitesh/factoura_service/internal/metrics"
)

// ErrUnavailable wraps every failure to reach the analysis service or get a
// 2xx answer from it.
var ErrUnavailable = errors.New("content analysis service unavailable")

// Client talks to the content analysis microservice.
type Client struct {
	url       string
	hc        *http.Client
	available atomic.Bool
}

// NewClient creates a new client. If httpClient is nil, a default with timeout is used.
func NewClient(url string, timeout time.Duration, httpClient *http.Client) *Client {
	if httpClient == nil {
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	c := &Client{url: strings.TrimRight(url, "/"), hc: httpClient}
	c.available.Store(true)
	return c
}

// URL returns the base URL of the analysis service.
func (c *Client) URL() string { return c.url }

// Probe checks the root endpoint and records the advisory availability flag.
// The flag is informational; calls are never skipped because of it.
func (c *Client) Probe(ctx context.Context) bool {
	err := c.do(ctx, http.MethodGet, "/", nil, nil)
	ok := err == nil
	c.available.Store(ok)
	log := logging.With("analysis")
	if ok {
		log.Info().Str("url", c.url).Msg("content analysis service is available")
	} else {
		log.Warn().Err(err).Str("url", c.url).Msg("content analysis service is unavailable")
	}
	return ok
}

// Available returns the result of the last probe. It can be stale.
func (c *Client) Available() bool { return c.available.Load() }

// CheckHealth reports status "available" with the upstream payload, or
// "unavailable" with the error. It never returns an error itself.
func (c *Client) CheckHealth(ctx context.Context) Health {
	var body json.RawMessage
	if err := c.do(ctx, http.MethodGet, "/health", nil, &body); err != nil {
		return Health{Status: StatusUnavailable, Error: err.Error(), ServiceURL: c.url}
	}
	return Health{Status: StatusAvailable, Service: body, ServiceURL: c.url}
}

func (c *Client) AnalyzeSentiment(ctx context.Context, text, title string) (*Sentiment, error) {
	req := sentimentRequest{Text: text, Options: map[string]any{}}
	if title != "" {
		req.Title = &title
	}

	var raw json.RawMessage
	err := c.do(ctx, http.MethodPost, "/analyze/sentiment", req, &raw)
	metrics.ObserveAnalysis("sentiment", err)
	if err != nil {
		return nil, err
	}

	var s Sentiment
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("decode sentiment: %w", err)
	}
	s.Raw = raw
	return &s, nil
}

func (c *Client) GenerateTags(ctx context.Context, text, title string, existing []string, maxTags int) (*Tags, error) {
	if existing == nil {
		existing = []string{}
	}
	if maxTags <= 0 {
		maxTags = 10
	}
	req := tagsRequest{Text: text, ExistingTags: existing, MaxTags: maxTags}
	if title != "" {
		req.Title = &title
	}

	var raw json.RawMessage
	err := c.do(ctx, http.MethodPost, "/generate-tags", req, &raw)
	metrics.ObserveAnalysis("tags", err)
	if err != nil {
		return nil, err
	}

	var t Tags
	if err := json.Unmarshal(raw, &t); err != nil {
		return nil, fmt.Errorf("decode tags: %w", err)
	}
	t.Raw = raw
	return &t, nil
}

func (c *Client) do(ctx context.Context, method, path string, in any, out *json.RawMessage) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("analysis marshal request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.url+path, body)
	if err != nil {
		return fmt.Errorf("analysis new request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.hc.Do(req)
	logging.Ctx(ctx).Debug().
		Str("method", method).
		Str("path", path).
		Dur("latency", time.Since(start)).
		AnErr("transport_err", err).
		Msg("analysis request")
	if err != nil {
		return fmt.Errorf("%w: %s %s: %v", ErrUnavailable, method, path, err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: %s %s: status=%d body=%s", ErrUnavailable, method, path, resp.StatusCode, truncate(respBody, 512))
	}

	if out != nil {
		if !json.Valid(respBody) {
			return fmt.Errorf("analysis %s: response is not json", path)
		}
		*out = json.RawMessage(respBody)
	}
	return nil
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		return string(b[:n]) + "..."
	}
	return string(b)
}
