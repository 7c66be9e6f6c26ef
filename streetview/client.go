package streetview

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultMetadataURL is the Street View Static API metadata endpoint. The
// endpoint is free of charge: it returns panorama metadata without serving
// imagery.
const DefaultMetadataURL = "https://maps.googleapis.com/maps/api/streetview/metadata"

const cacheSize = 4096

// Outcome is the closed set of lookup results. Every metadata response
// decodes into exactly one of these; callers switch on it rather than
// inspecting raw status strings.
type Outcome int

const (
	// OutcomeFound means a panorama exists within the search radius. The
	// zero Outcome value is deliberately invalid so a zero Result can never
	// pass for a successful lookup.
	OutcomeFound Outcome = iota + 1
	// OutcomeNotFound means the endpoint answered definitively that no
	// panorama covers the location.
	OutcomeNotFound
)

func (o Outcome) String() string {
	switch o {
	case OutcomeFound:
		return "found"
	case OutcomeNotFound:
		return "not_found"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Result is a decoded metadata response.
type Result struct {
	Outcome   Outcome
	Status    string
	PanoID    string
	Lat       float64
	Lon       float64
	Date      string
	Copyright string
}

// ClientOptions configures a metadata client.
type ClientOptions struct {
	// BaseURL overrides the metadata endpoint, used by tests.
	BaseURL string
	// APIKey is the credential sent with every request.
	APIKey string
	// SearchRadiusMeters bounds how far from the query point a panorama may
	// be and still count as coverage.
	SearchRadiusMeters int
	// Timeout bounds each HTTP request.
	Timeout time.Duration
	// DefaultRetryAfter is the backoff used when a rate-limit response
	// carries no Retry-After header.
	DefaultRetryAfter time.Duration
	// Limiter spaces request starts; required.
	Limiter *Limiter
	// Metrics is optional.
	Metrics *Metrics
}

// Client queries the metadata endpoint with rate limiting and an in-process
// response cache. Safe for concurrent use.
type Client struct {
	httpClient        *http.Client
	baseURL           string
	apiKey            string
	radius            int
	defaultRetryAfter time.Duration
	limiter           *Limiter
	metrics           *Metrics
	cache             *lru.Cache[string, Result]

	requestCount int64
}

// NewClient builds a metadata client from opts.
func NewClient(opts ClientOptions) (*Client, error) {
	if opts.Limiter == nil {
		return nil, fmt.Errorf("limiter is required")
	}
	baseURL := opts.BaseURL
	if baseURL == "" {
		baseURL = DefaultMetadataURL
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("parse metadata url: %w", err)
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	retryAfter := opts.DefaultRetryAfter
	if retryAfter <= 0 {
		retryAfter = time.Minute
	}

	cache, err := lru.New[string, Result](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("create response cache: %w", err)
	}

	return &Client{
		httpClient:        &http.Client{Timeout: timeout},
		baseURL:           baseURL,
		apiKey:            opts.APIKey,
		radius:            opts.SearchRadiusMeters,
		defaultRetryAfter: retryAfter,
		limiter:           opts.Limiter,
		metrics:           opts.Metrics,
		cache:             cache,
	}, nil
}

// HTTPClient exposes the underlying client so tests can install a mock
// transport.
func (c *Client) HTTPClient() *http.Client {
	return c.httpClient
}

// RequestCount reports how many HTTP requests have actually been issued.
// Cache hits do not count.
func (c *Client) RequestCount() int64 {
	return atomic.LoadInt64(&c.requestCount)
}

// metadataResponse mirrors the endpoint's JSON body. Fields beyond status
// are only present when status is OK.
type metadataResponse struct {
	Status   string `json:"status"`
	PanoID   string `json:"pano_id"`
	Location struct {
		Lat float64 `json:"lat"`
		Lng float64 `json:"lng"`
	} `json:"location"`
	Date         string `json:"date"`
	Copyright    string `json:"copyright"`
	ErrorMessage string `json:"error_message"`
}

// Lookup queries metadata for a coordinate. Nearby lookups that round to the
// same cache key are served from the cache without consuming a rate-limit
// slot. Rate-limit responses surface as ErrRateLimited with the server's
// Retry-After delay; the caller decides whether to retry.
func (c *Client) Lookup(ctx context.Context, lat, lon float64) (Result, error) {
	key := cacheKey(lat, lon, c.radius)
	if cached, ok := c.cache.Get(key); ok {
		c.metrics.IncCacheHit()
		return cached, nil
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return Result{}, err
	}

	res, err := c.fetch(ctx, lat, lon)
	if err != nil {
		return Result{}, err
	}
	c.cache.Add(key, res)
	return res, nil
}

func (c *Client) fetch(ctx context.Context, lat, lon float64) (Result, error) {
	q := url.Values{}
	q.Set("location", fmt.Sprintf("%.7f,%.7f", lat, lon))
	q.Set("radius", strconv.Itoa(c.radius))
	if c.apiKey != "" {
		q.Set("key", c.apiKey)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return Result{}, fmt.Errorf("build metadata request: %w", err)
	}

	atomic.AddInt64(&c.requestCount, 1)
	c.metrics.IncRequest()

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	c.metrics.ObserveDuration(time.Since(start))
	if err != nil {
		return Result{}, classifyError(err, 0)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		io.Copy(io.Discard, resp.Body)
		return Result{}, ErrRateLimited{
			RetryAfter: c.retryAfter(resp),
			Err:        fmt.Errorf("http status %d", resp.StatusCode),
		}
	}
	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return Result{}, classifyError(nil, resp.StatusCode)
	}

	var body metadataResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return Result{}, fmt.Errorf("decode metadata response: %w", err)
	}
	return decodeResult(body, c.defaultRetryAfter)
}

// decodeResult maps the endpoint status string onto the closed outcome set.
// Unrecognized statuses are errors, never silently treated as no-coverage.
func decodeResult(body metadataResponse, defaultRetryAfter time.Duration) (Result, error) {
	switch body.Status {
	case "OK":
		if body.PanoID == "" {
			return Result{}, fmt.Errorf("metadata status OK without pano_id")
		}
		return Result{
			Outcome:   OutcomeFound,
			Status:    body.Status,
			PanoID:    body.PanoID,
			Lat:       body.Location.Lat,
			Lon:       body.Location.Lng,
			Date:      body.Date,
			Copyright: body.Copyright,
		}, nil
	case "ZERO_RESULTS", "NOT_FOUND":
		return Result{Outcome: OutcomeNotFound, Status: body.Status}, nil
	case "OVER_QUERY_LIMIT":
		return Result{}, ErrRateLimited{
			RetryAfter: defaultRetryAfter,
			Err:        fmt.Errorf("metadata status %s: %s", body.Status, body.ErrorMessage),
		}
	case "REQUEST_DENIED":
		return Result{}, ErrDenied{Err: fmt.Errorf("metadata status %s: %s", body.Status, body.ErrorMessage)}
	case "INVALID_REQUEST":
		return Result{}, ErrBadRequest{Err: fmt.Errorf("metadata status %s: %s", body.Status, body.ErrorMessage)}
	default:
		return Result{}, fmt.Errorf("unexpected metadata status %q: %s", body.Status, body.ErrorMessage)
	}
}

func (c *Client) retryAfter(resp *http.Response) time.Duration {
	header := resp.Header.Get("Retry-After")
	if header == "" {
		return c.defaultRetryAfter
	}
	if secs, err := strconv.Atoi(header); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(header); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
		return 0
	}
	return c.defaultRetryAfter
}

// cacheKey rounds coordinates to ~1cm so repeated lookups of the same
// densified point hit the cache while distinct points never collide.
func cacheKey(lat, lon float64, radius int) string {
	return fmt.Sprintf("%.7f,%.7f,%d", lat, lon, radius)
}
