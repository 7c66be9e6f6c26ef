package streetview

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
)

func TestDecodeResult(t *testing.T) {
	tests := []struct {
		name    string
		body    metadataResponse
		outcome Outcome
		wantErr string
	}{
		{
			name:    "found",
			body:    metadataResponse{Status: "OK", PanoID: "abc123", Date: "2024-05"},
			outcome: OutcomeFound,
		},
		{
			name:    "ok without pano id",
			body:    metadataResponse{Status: "OK"},
			wantErr: "other",
		},
		{
			name:    "zero results",
			body:    metadataResponse{Status: "ZERO_RESULTS"},
			outcome: OutcomeNotFound,
		},
		{
			name:    "not found",
			body:    metadataResponse{Status: "NOT_FOUND"},
			outcome: OutcomeNotFound,
		},
		{
			name:    "over query limit",
			body:    metadataResponse{Status: "OVER_QUERY_LIMIT"},
			wantErr: "rate_limited",
		},
		{
			name:    "request denied",
			body:    metadataResponse{Status: "REQUEST_DENIED", ErrorMessage: "bad key"},
			wantErr: "denied",
		},
		{
			name:    "invalid request",
			body:    metadataResponse{Status: "INVALID_REQUEST"},
			wantErr: "bad_request",
		},
		{
			name:    "unknown status",
			body:    metadataResponse{Status: "UNKNOWN_ERROR"},
			wantErr: "other",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := decodeResult(tt.body, time.Minute)
			if tt.wantErr != "" {
				if err == nil {
					t.Fatalf("decodeResult(%q) error = nil, want %s", tt.body.Status, tt.wantErr)
				}
				if got := errorTypeLabel(err); got != tt.wantErr {
					t.Fatalf("error label = %q, want %q", got, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("decodeResult(%q) error = %v", tt.body.Status, err)
			}
			if res.Outcome != tt.outcome {
				t.Fatalf("outcome = %v, want %v", res.Outcome, tt.outcome)
			}
		})
	}
}

func TestDecodeResultRateLimitedCarriesDefault(t *testing.T) {
	_, err := decodeResult(metadataResponse{Status: "OVER_QUERY_LIMIT"}, 45*time.Second)
	var rateLimited ErrRateLimited
	if !errors.As(err, &rateLimited) {
		t.Fatalf("error = %v, want ErrRateLimited", err)
	}
	if rateLimited.RetryAfter != 45*time.Second {
		t.Fatalf("retry after = %v, want 45s", rateLimited.RetryAfter)
	}
}

func TestRetryAfterParsing(t *testing.T) {
	client := &Client{defaultRetryAfter: time.Minute}

	tests := []struct {
		name   string
		header string
		want   time.Duration
	}{
		{name: "missing falls back to default", header: "", want: time.Minute},
		{name: "seconds", header: "30", want: 30 * time.Second},
		{name: "zero seconds", header: "0", want: 0},
		{name: "garbage falls back to default", header: "soon", want: time.Minute},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := &http.Response{Header: http.Header{}}
			if tt.header != "" {
				resp.Header.Set("Retry-After", tt.header)
			}
			if got := client.retryAfter(resp); got != tt.want {
				t.Fatalf("retryAfter(%q) = %v, want %v", tt.header, got, tt.want)
			}
		})
	}
}

func TestRetryAfterHTTPDate(t *testing.T) {
	client := &Client{defaultRetryAfter: time.Minute}
	resp := &http.Response{Header: http.Header{}}
	resp.Header.Set("Retry-After", time.Now().Add(10*time.Second).UTC().Format(http.TimeFormat))

	got := client.retryAfter(resp)
	if got <= 0 || got > 10*time.Second {
		t.Fatalf("retryAfter(date) = %v, want within (0, 10s]", got)
	}
}

func TestCacheKeyDistinguishesNearbyPoints(t *testing.T) {
	a := cacheKey(43.6532000, -79.3832000, 30)
	b := cacheKey(43.6532001, -79.3832000, 30)
	c := cacheKey(43.6532000, -79.3832000, 50)
	if a == b {
		t.Fatalf("keys for distinct coordinates collide: %q", a)
	}
	if a == c {
		t.Fatalf("keys for distinct radii collide: %q", a)
	}
	if a != cacheKey(43.6532000, -79.3832000, 30) {
		t.Fatalf("key not deterministic: %q", a)
	}
}

func TestClassifyErrorLabels(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		statusCode int
		expected   string
	}{
		{name: "context timeout", err: context.DeadlineExceeded, statusCode: 0, expected: "timeout"},
		{name: "net timeout", err: &net.DNSError{IsTimeout: true}, statusCode: 0, expected: "timeout"},
		{name: "connection", err: &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}, statusCode: 0, expected: "connection"},
		{name: "forbidden", err: nil, statusCode: http.StatusForbidden, expected: "denied"},
		{name: "bad request", err: nil, statusCode: http.StatusBadRequest, expected: "bad_request"},
		{name: "other", err: errors.New("some other error"), statusCode: 0, expected: "other"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := errorTypeLabel(classifyError(tt.err, tt.statusCode)); got != tt.expected {
				t.Fatalf("classifyError(%v, %d) = %q, want %q", tt.err, tt.statusCode, got, tt.expected)
			}
		})
	}
}

func TestLookupClassifiesHTTPStatuses(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		wantLabel string
	}{
		{name: "internal server error", status: http.StatusInternalServerError, wantLabel: "other"},
		{name: "bad gateway", status: http.StatusBadGateway, wantLabel: "other"},
		{name: "unauthorized", status: http.StatusUnauthorized, wantLabel: "denied"},
		{name: "forbidden", status: http.StatusForbidden, wantLabel: "denied"},
		{name: "not found", status: http.StatusNotFound, wantLabel: "other"},
		{name: "bad request", status: http.StatusBadRequest, wantLabel: "bad_request"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			transport := httpmock.NewMockTransport()
			transport.RegisterResponder("GET", testMetadataURL,
				httpmock.NewStringResponder(tt.status, "upstream error"))

			limiter, err := NewLimiter(100, newFakeClock())
			if err != nil {
				t.Fatalf("new limiter: %v", err)
			}
			client, err := NewClient(ClientOptions{
				BaseURL:            testMetadataURL,
				SearchRadiusMeters: 30,
				Limiter:            limiter,
			})
			if err != nil {
				t.Fatalf("new client: %v", err)
			}
			client.HTTPClient().Transport = transport

			res, err := client.Lookup(context.Background(), 43.6532, -79.3832)
			if err == nil {
				t.Fatalf("Lookup with status %d = %+v, want error", tt.status, res)
			}
			if got := errorTypeLabel(err); got != tt.wantLabel {
				t.Fatalf("error label = %q, want %q", got, tt.wantLabel)
			}
			if !strings.Contains(err.Error(), fmt.Sprintf("http status %d", tt.status)) {
				t.Fatalf("error = %v, want http status %d cause", err, tt.status)
			}
		})
	}
}

func TestNewClientRequiresLimiter(t *testing.T) {
	if _, err := NewClient(ClientOptions{}); err == nil {
		t.Fatalf("NewClient without limiter error = nil, want error")
	}
}
