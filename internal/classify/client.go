package classify

import (
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"math"
	"math/rand"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"dresscode/internal/config"
)

// Result is the clothing description for one person crop.
type Result struct {
	TopClothing    string `json:"top_clothing"`
	BottomClothing string `json:"bottom_clothing"`
	Description    string `json:"description"`
}

// Placeholder builds the degraded result used when classification cannot
// produce a real answer. It is cache-safe in the sense that it is never
// written to the cache.
func Placeholder(reason string) Result {
	return Result{
		TopClothing:    "unknown",
		BottomClothing: "unknown",
		Description:    "Classification unavailable: " + reason,
	}
}

// errQuotaExhausted signals that the daily request quota is spent. Once seen
// the client stops calling the service for the rest of the run.
var errQuotaExhausted = errors.New("daily request quota exhausted")

// Classifier produces a clothing description for a JPEG crop. Implementations
// must degrade instead of failing: a crop always gets some Result.
type Classifier interface {
	Classify(ctx context.Context, image []byte) Result
	Close() error
}

const classificationPrompt = `Analyze the person in this image and describe their clothing. ` +
	`Respond with JSON only, no other text: ` +
	`{"top_clothing": "<type of upper body clothing>", ` +
	`"bottom_clothing": "<type of lower body clothing>", ` +
	`"description": "<one sentence describing the full outfit>"}`

// Client calls the external classification service over HTTP with a durable
// content-hash cache in front, a sliding-window request throttle, and
// quota-aware retries.
type Client struct {
	endpoint   string
	apiKey     string
	maxRetries int
	httpClient *http.Client
	cache      *Cache

	rateMu     sync.Mutex
	rateLimit  int
	timestamps []time.Time

	quotaExhausted atomic.Bool

	statsMu sync.Mutex
	stats   Stats
}

// Stats counts client activity over a run.
type Stats struct {
	Requests     int
	CacheHits    int
	QuotaSkipped int
	Failures     int
}

// NewClient builds a classification client backed by the given cache. The
// cache may be nil, in which case every crop hits the service.
func NewClient(cfg config.RunConfig, cache *Cache) *Client {
	return &Client{
		endpoint:   cfg.ClassifierEndpoint,
		apiKey:     cfg.ClassifierAPIKey,
		maxRetries: cfg.MaxRetries,
		rateLimit:  cfg.RequestsPerMinute,
		cache:      cache,
		httpClient: &http.Client{Timeout: cfg.RequestTimeout},
	}
}

var _ Classifier = (*Client)(nil)

// Classify returns the clothing description for a crop. It never fails the
// caller: service errors, quota exhaustion and malformed responses all
// degrade to a placeholder result.
func (c *Client) Classify(ctx context.Context, image []byte) Result {
	hash := contentHash(image)

	if c.cache != nil {
		if result, ok, err := c.cache.Get(hash); err != nil {
			log.Printf("[Classifier] Cache lookup error: %v", err)
		} else if ok {
			c.count(func(s *Stats) { s.CacheHits++ })
			return result
		}
	}

	if c.quotaExhausted.Load() {
		c.count(func(s *Stats) { s.QuotaSkipped++ })
		return Placeholder("daily quota exhausted")
	}

	body, err := c.postWithRetries(ctx, image)
	if err != nil {
		if errors.Is(err, errQuotaExhausted) {
			c.count(func(s *Stats) { s.QuotaSkipped++ })
			return Placeholder("daily quota exhausted")
		}
		log.Printf("[Classifier] Request failed: %v", err)
		c.count(func(s *Stats) { s.Failures++ })
		return Placeholder(err.Error())
	}

	result, err := parseResponse(body)
	if err != nil {
		log.Printf("[Classifier] Malformed response: %v", err)
		c.count(func(s *Stats) { s.Failures++ })
		return Placeholder("malformed service response")
	}

	if c.cache != nil {
		if err := c.cache.Put(hash, result); err != nil {
			log.Printf("[Classifier] Cache store error: %v", err)
		}
	}
	return result
}

// Close is a no-op; the cache is owned and closed by the caller.
func (c *Client) Close() error {
	return nil
}

// Stats returns a copy of the client counters.
func (c *Client) Stats() Stats {
	c.statsMu.Lock()
	defer c.statsMu.Unlock()
	return c.stats
}

func contentHash(image []byte) string {
	sum := sha1.Sum(image)
	return hex.EncodeToString(sum[:])
}

// postWithRetries sends the classification request, retrying on rate-limit
// responses. Quota exhaustion latches and aborts immediately.
func (c *Client) postWithRetries(ctx context.Context, image []byte) ([]byte, error) {
	payload, err := buildRequest(image)
	if err != nil {
		return nil, err
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if err := c.throttle(ctx); err != nil {
			return nil, err
		}

		body, retryAfter, err := c.post(ctx, payload)
		if err == nil {
			return body, nil
		}
		if errors.Is(err, errQuotaExhausted) {
			c.quotaExhausted.Store(true)
			log.Printf("[Classifier] Daily quota exhausted, skipping remaining crops")
			return nil, err
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		lastErr = err

		if retryAfter <= 0 {
			// Exponential backoff capped at a minute.
			retryAfter = time.Duration(math.Min(60, math.Pow(2, float64(attempt)))) * time.Second
		}
		retryAfter += time.Duration(rand.Intn(500)) * time.Millisecond

		log.Printf("[Classifier] Attempt %d failed (%v), retrying in %s", attempt+1, err, retryAfter)
		if err := sleepCtx(ctx, retryAfter); err != nil {
			return nil, err
		}
	}
	return nil, fmt.Errorf("exhausted %d retries: %w", c.maxRetries, lastErr)
}

// throttle blocks until a request slot is free inside the sliding one-minute
// window. No lock is held while sleeping.
func (c *Client) throttle(ctx context.Context) error {
	for {
		c.rateMu.Lock()
		now := time.Now()
		cutoff := now.Add(-time.Minute)
		kept := c.timestamps[:0]
		for _, ts := range c.timestamps {
			if ts.After(cutoff) {
				kept = append(kept, ts)
			}
		}
		c.timestamps = kept

		if c.rateLimit <= 0 || len(c.timestamps) < c.rateLimit {
			c.timestamps = append(c.timestamps, now)
			c.rateMu.Unlock()
			return nil
		}
		wait := time.Minute - now.Sub(c.timestamps[0])
		c.rateMu.Unlock()

		wait += time.Duration(rand.Intn(500)) * time.Millisecond
		log.Printf("[Classifier] Rate limit reached, waiting %s", wait.Round(time.Millisecond))
		if err := sleepCtx(ctx, wait); err != nil {
			return err
		}
	}
}

// post performs one HTTP round trip. On a 429 it reports the retry delay the
// service asked for, or errQuotaExhausted when the daily quota is gone.
func (c *Client) post(ctx context.Context, payload []byte) ([]byte, time.Duration, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, 0, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("x-goog-api-key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 10*1024*1024))
	if err != nil {
		return nil, 0, fmt.Errorf("failed to read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		c.count(func(s *Stats) { s.Requests++ })
		return body, 0, nil
	case resp.StatusCode == http.StatusTooManyRequests:
		if isDailyQuotaError(body) {
			return nil, 0, errQuotaExhausted
		}
		return nil, retryDelay(body, resp.Header), fmt.Errorf("rate limited (status 429)")
	default:
		return nil, 0, fmt.Errorf("service returned status %d: %s", resp.StatusCode, truncate(body, 200))
	}
}

// buildRequest assembles the generateContent payload with the crop inlined as
// base64 JPEG.
func buildRequest(image []byte) ([]byte, error) {
	type inlineData struct {
		MimeType string `json:"mime_type"`
		Data     string `json:"data"`
	}
	type part struct {
		Text       string      `json:"text,omitempty"`
		InlineData *inlineData `json:"inline_data,omitempty"`
	}
	type content struct {
		Parts []part `json:"parts"`
	}
	payload := struct {
		Contents []content `json:"contents"`
	}{
		Contents: []content{{
			Parts: []part{
				{Text: classificationPrompt},
				{InlineData: &inlineData{
					MimeType: "image/jpeg",
					Data:     base64.StdEncoding.EncodeToString(image),
				}},
			},
		}},
	}
	return json.Marshal(payload)
}

// parseResponse digs the model text out of the generateContent envelope and
// unmarshals the JSON inside, tolerating markdown code fences.
func parseResponse(body []byte) (Result, error) {
	var envelope struct {
		Candidates []struct {
			Content struct {
				Parts []struct {
					Text string `json:"text"`
				} `json:"parts"`
			} `json:"content"`
		} `json:"candidates"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return Result{}, fmt.Errorf("failed to parse envelope: %w", err)
	}
	if len(envelope.Candidates) == 0 || len(envelope.Candidates[0].Content.Parts) == 0 {
		return Result{}, fmt.Errorf("response has no candidates")
	}

	text := stripCodeFences(envelope.Candidates[0].Content.Parts[0].Text)

	var result Result
	if err := json.Unmarshal([]byte(text), &result); err != nil {
		return Result{}, fmt.Errorf("failed to parse result text: %w", err)
	}
	if result.TopClothing == "" {
		result.TopClothing = "unknown"
	}
	if result.BottomClothing == "" {
		result.BottomClothing = "unknown"
	}
	return result, nil
}

// stripCodeFences removes a surrounding ```json ... ``` block if present.
func stripCodeFences(text string) string {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```")
		text = strings.TrimSuffix(strings.TrimSpace(text), "```")
	}
	return strings.TrimSpace(text)
}

// errorDetails is the google.rpc error detail shape carried in 429 bodies.
type errorDetails struct {
	Error struct {
		Details []json.RawMessage `json:"details"`
	} `json:"error"`
}

// isDailyQuotaError reports whether a 429 body carries a QuotaFailure naming
// the per-day request quota.
func isDailyQuotaError(body []byte) bool {
	var env errorDetails
	if err := json.Unmarshal(body, &env); err != nil {
		return false
	}
	for _, raw := range env.Error.Details {
		var detail struct {
			Type       string `json:"@type"`
			Violations []struct {
				QuotaID string `json:"quotaId"`
			} `json:"violations"`
		}
		if err := json.Unmarshal(raw, &detail); err != nil {
			continue
		}
		if !strings.HasSuffix(detail.Type, "QuotaFailure") {
			continue
		}
		for _, v := range detail.Violations {
			if strings.Contains(v.QuotaID, "GenerateRequestsPerDay") {
				return true
			}
		}
	}
	return false
}

// retryDelay extracts the service-requested delay from a RetryInfo detail
// ("35s" style) or the Retry-After header. Zero means none given.
func retryDelay(body []byte, header http.Header) time.Duration {
	var env errorDetails
	if err := json.Unmarshal(body, &env); err == nil {
		for _, raw := range env.Error.Details {
			var detail struct {
				Type       string `json:"@type"`
				RetryDelay string `json:"retryDelay"`
			}
			if err := json.Unmarshal(raw, &detail); err != nil {
				continue
			}
			if strings.HasSuffix(detail.Type, "RetryInfo") && detail.RetryDelay != "" {
				if d, err := time.ParseDuration(detail.RetryDelay); err == nil {
					return d
				}
			}
		}
	}

	if after := header.Get("Retry-After"); after != "" {
		if secs, err := strconv.Atoi(after); err == nil {
			return time.Duration(secs) * time.Second
		}
	}
	return 0
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}

func (c *Client) count(fn func(*Stats)) {
	c.statsMu.Lock()
	fn(&c.stats)
	c.statsMu.Unlock()
}
