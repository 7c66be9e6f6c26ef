package streetview

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alexwolson/toronto-streetview-count/models"
	"github.com/alexwolson/toronto-streetview-count/store"
)

// CrawlerOptions configures a crawl run.
type CrawlerOptions struct {
	// BatchSize is how many pending points are taken per batch.
	BatchSize int
	// BatchPause is the idle gap between batches.
	BatchPause time.Duration
	// Concurrency bounds in-flight lookups. The shared limiter still caps
	// aggregate request rate regardless of this value.
	Concurrency int
	// MaxRateLimitRetries bounds how many rate-limit backoffs a single point
	// absorbs before it is marked failed.
	MaxRateLimitRetries int
	// Clock drives backoff sleeps; nil means the wall clock.
	Clock Clock
	// Metrics is optional.
	Metrics *Metrics
}

// Crawler drains pending sample points through the metadata client and
// records every outcome in the store. Progress is durable per point: an
// interrupted run leaves unprocessed points pending and a later run with the
// same database picks up where it stopped.
type Crawler struct {
	client  *Client
	store   *store.Store
	opts    CrawlerOptions
	clock   Clock
	metrics *Metrics

	queried   int64
	failed    int64
	panoramas int64
}

// NewCrawler builds a crawler over client and st.
func NewCrawler(client *Client, st *store.Store, opts CrawlerOptions) (*Crawler, error) {
	if client == nil {
		return nil, fmt.Errorf("client is required")
	}
	if st == nil {
		return nil, fmt.Errorf("store is required")
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 100
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	if opts.MaxRateLimitRetries < 0 {
		opts.MaxRateLimitRetries = 0
	}
	clock := opts.Clock
	if clock == nil {
		clock = RealClock{}
	}
	return &Crawler{
		client:  client,
		store:   st,
		opts:    opts,
		clock:   clock,
		metrics: opts.Metrics,
	}, nil
}

// Run processes every pending point and returns aggregate statistics. A
// context cancellation stops between points; already-recorded outcomes stay
// recorded and the rest remain pending. The returned stats are valid in both
// cases.
func (c *Crawler) Run(ctx context.Context) (models.ProcessingStats, error) {
	start := time.Now().UTC()

	pending, err := c.store.GetPending(ctx, 0)
	if err != nil {
		return models.ProcessingStats{}, err
	}
	slog.Info("crawl starting",
		slog.Int("pending", len(pending)),
		slog.Int("batch_size", c.opts.BatchSize),
		slog.Int("concurrency", c.opts.Concurrency),
	)

	var runErr error
	for offset := 0; offset < len(pending); offset += c.opts.BatchSize {
		if err := ctx.Err(); err != nil {
			runErr = err
			break
		}

		end := offset + c.opts.BatchSize
		if end > len(pending) {
			end = len(pending)
		}
		c.processBatch(ctx, pending[offset:end])

		slog.Info("batch complete",
			slog.Int("processed", end),
			slog.Int("total", len(pending)),
			slog.Int64("queried", atomic.LoadInt64(&c.queried)),
			slog.Int64("failed", atomic.LoadInt64(&c.failed)),
		)

		if end < len(pending) && c.opts.BatchPause > 0 {
			if err := c.clock.Sleep(ctx, c.opts.BatchPause); err != nil {
				runErr = err
				break
			}
		}
	}

	// Stats stay readable after cancellation, so do not reuse ctx here.
	stats, statsErr := c.store.Stats(context.Background())
	if statsErr != nil && runErr == nil {
		runErr = statsErr
	}
	stats.StartTime = start
	stats.EndTime = time.Now().UTC()
	stats.TotalRequests = c.client.RequestCount()
	return stats, runErr
}

func (c *Crawler) processBatch(ctx context.Context, batch []models.SamplePoint) {
	sem := make(chan struct{}, c.opts.Concurrency)
	var wg sync.WaitGroup

	for _, point := range batch {
		if ctx.Err() != nil {
			break
		}
		sem <- struct{}{}
		wg.Add(1)
		go func(pt models.SamplePoint) {
			defer wg.Done()
			defer func() { <-sem }()
			if err := c.processPoint(ctx, pt); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
				slog.Error("record outcome",
					slog.Int64("sample_id", pt.ID),
					slog.Any("error", err),
				)
			}
		}(point)
	}
	wg.Wait()
}

// processPoint performs one lookup with bounded rate-limit retries and
// persists the outcome. Context cancellation leaves the point pending.
func (c *Crawler) processPoint(ctx context.Context, pt models.SamplePoint) error {
	retries := 0
	for {
		res, err := c.client.Lookup(ctx, pt.Lat, pt.Lon)
		if err == nil {
			return c.recordSuccess(ctx, pt, res)
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}

		var rateLimited ErrRateLimited
		if errors.As(err, &rateLimited) {
			c.metrics.IncError(errorTypeLabel(err))
			if retries >= c.opts.MaxRateLimitRetries {
				return c.recordFailure(ctx, pt, err)
			}
			retries++
			c.metrics.IncRateLimitWait()
			slog.Warn("rate limited, backing off",
				slog.Int64("sample_id", pt.ID),
				slog.Duration("retry_after", rateLimited.RetryAfter),
				slog.Int("retry", retries),
				slog.Int("max_retries", c.opts.MaxRateLimitRetries),
			)
			if err := c.clock.Sleep(ctx, rateLimited.RetryAfter); err != nil {
				return err
			}
			continue
		}

		c.metrics.IncError(errorTypeLabel(err))
		return c.recordFailure(ctx, pt, err)
	}
}

func (c *Crawler) recordSuccess(ctx context.Context, pt models.SamplePoint, res Result) error {
	resp := models.MetadataResponse{
		SampleID:  pt.ID,
		Status:    res.Status,
		QueriedAt: time.Now().UTC(),
	}
	if res.Outcome == OutcomeFound {
		resp.PanoID = res.PanoID
		resp.Lat = res.Lat
		resp.Lon = res.Lon
		resp.Date = res.Date
		resp.Copyright = res.Copyright
	}

	if err := c.store.AppendResponse(ctx, resp); err != nil {
		return err
	}
	if err := c.store.MarkStatus(ctx, pt.ID, models.StatusQueried); err != nil {
		return err
	}
	atomic.AddInt64(&c.queried, 1)
	c.metrics.IncPoint("queried")

	if res.Outcome == OutcomeFound {
		inserted, err := c.store.RecordSighting(ctx, resp)
		if err != nil {
			return err
		}
		if inserted {
			atomic.AddInt64(&c.panoramas, 1)
			c.metrics.IncPanorama()
		}
	}
	return nil
}

func (c *Crawler) recordFailure(ctx context.Context, pt models.SamplePoint, cause error) error {
	slog.Error("lookup failed",
		slog.Int64("sample_id", pt.ID),
		slog.String("category", errorTypeLabel(cause)),
		slog.Any("error", cause),
	)

	resp := models.MetadataResponse{
		SampleID:     pt.ID,
		Status:       "error",
		ErrorMessage: cause.Error(),
		QueriedAt:    time.Now().UTC(),
	}
	if err := c.store.AppendResponse(ctx, resp); err != nil {
		return err
	}
	if err := c.store.MarkStatus(ctx, pt.ID, models.StatusFailed); err != nil {
		return err
	}
	atomic.AddInt64(&c.failed, 1)
	c.metrics.IncPoint("failed")
	return nil
}
