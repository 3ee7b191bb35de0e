// Package atcoder reads submissions, the problem catalog and ratings from
// kenkoooo's AtCoder Problems API and atcoder.jp.
package atcoder

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/ac-hub/atcoder-ranking-hub/internal/domain/problem"
	"github.com/ac-hub/atcoder-ranking-hub/internal/domain/shared"
	"github.com/ac-hub/atcoder-ranking-hub/internal/domain/submission"
	"github.com/ac-hub/atcoder-ranking-hub/pkg/circuitbreaker"
	"github.com/ac-hub/atcoder-ranking-hub/pkg/logger"
	"github.com/ac-hub/atcoder-ranking-hub/pkg/retry"
	"github.com/ac-hub/atcoder-ranking-hub/pkg/tracing"
)

// pageSize is the v3 submissions page limit.
const pageSize = 500

// maxBody guards against a runaway response. problems.json is a few MB.
const maxBody = 64 << 20

// ══════════════════════════════════════════════════════════════════════════════
// CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// ClientConfig contains configuration for the AtCoder data client.
type ClientConfig struct {
	SubmissionsURL string
	ProblemsURL    string
	ModelsURL      string
	// HistoryURL has one %s for the handle.
	HistoryURL string
	UserAgent  string

	// Timeout is the per-request HTTP timeout
	Timeout time.Duration

	RateLimiter RateLimiterConfig

	MaxRetries     int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration

	BreakerThreshold int
	BreakerTimeout   time.Duration

	Logger     *logger.Logger
	HTTPClient *http.Client
}

// DefaultClientConfig returns the public endpoints with polite limits.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		SubmissionsURL:   "https://kenkoooo.com/atcoder/atcoder-api/v3/user/submissions",
		ProblemsURL:      "https://kenkoooo.com/atcoder/resources/problems.json",
		ModelsURL:        "https://kenkoooo.com/atcoder/resources/problem-models.json",
		HistoryURL:       "https://atcoder.jp/users/%s/history/json",
		UserAgent:        "atcoder-ranking-hub",
		Timeout:          20 * time.Second,
		RateLimiter:      DefaultRateLimiterConfig(),
		MaxRetries:       3,
		RetryBaseDelay:   time.Second,
		RetryMaxDelay:    30 * time.Second,
		BreakerThreshold: 5,
		BreakerTimeout:   2 * time.Minute,
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// CLIENT
// ══════════════════════════════════════════════════════════════════════════════

// Client implements the feed, catalog and rating readers.
type Client struct {
	config     ClientConfig
	httpClient *http.Client
	log        *logger.Logger
	limiter    *RateLimiter

	// один предохранитель на каждый хост
	kenkoooo *circuitbreaker.CircuitBreaker
	atcoder  *circuitbreaker.CircuitBreaker

	catalog   singleflight.Group
	retryOpts []retry.Option
}

// NewClient creates a new AtCoder data client.
func NewClient(config ClientConfig) *Client {
	if config.Logger == nil {
		config.Logger = logger.Nop()
	}
	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: config.Timeout}
	}
	log := config.Logger.With(logger.Component("atcoder_client"))

	onStateChange := func(name string, from, to circuitbreaker.State) {
		log.Warn("circuit breaker state changed",
			logger.String("breaker", name),
			logger.String("from", from.String()),
			logger.String("to", to.String()),
		)
	}
	breaker := func(name string) *circuitbreaker.CircuitBreaker {
		return circuitbreaker.AtCoderBreaker(name,
			circuitbreaker.WithFailureThreshold(config.BreakerThreshold),
			circuitbreaker.WithTimeout(config.BreakerTimeout),
			circuitbreaker.WithOnStateChange(onStateChange),
			circuitbreaker.WithIsFailure(retry.IsRetryable),
		)
	}

	attempts := config.MaxRetries
	if attempts <= 0 {
		attempts = 1
	}
	retryOpts := append(retry.AtCoderOptions(),
		retry.WithMaxAttempts(attempts),
		retry.WithInitialDelay(config.RetryBaseDelay),
		retry.WithMaxDelay(config.RetryMaxDelay),
		retry.WithOnRetry(func(attempt int, err error, delay time.Duration) {
			log.Warn("transient AtCoder error, retrying",
				logger.Int("attempt", attempt),
				logger.Duration("delay", delay),
				logger.Err(err),
			)
		}),
	)

	return &Client{
		config:     config,
		httpClient: httpClient,
		log:        log,
		limiter:    NewRateLimiter(config.RateLimiter),
		kenkoooo:   breaker("kenkoooo"),
		atcoder:    breaker("atcoder"),
		retryOpts:  retryOpts,
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// SUBMISSION FEED
// ══════════════════════════════════════════════════════════════════════════════

// Submissions returns every submission of handle with epoch >= fromSecond,
// following the v3 pagination. Rows of all verdicts are returned.
func (c *Client) Submissions(ctx context.Context, handle shared.Handle, fromSecond int64) ([]submission.Candidate, error) {
	if fromSecond < 0 {
		fromSecond = 0
	}

	seen := make(map[int64]struct{})
	var out []submission.Candidate
	from := fromSecond
	for {
		u, err := url.Parse(c.config.SubmissionsURL)
		if err != nil {
			return nil, fmt.Errorf("failed to parse submissions url: %w", err)
		}
		q := u.Query()
		q.Set("user", handle.String())
		q.Set("from_second", strconv.FormatInt(from, 10))
		u.RawQuery = q.Encode()

		var page []SubmissionDTO
		if err := c.getJSON(ctx, c.kenkoooo, "submissions", u.String(), &page); err != nil {
			return nil, err
		}

		last := from
		for _, dto := range page {
			if _, dup := seen[dto.ID]; dup {
				continue
			}
			seen[dto.ID] = struct{}{}
			out = append(out, CandidateFromDTO(dto))
			if dto.EpochSecond > last {
				last = dto.EpochSecond
			}
		}

		// страница неполная или не сдвинула курсор
		if len(page) < pageSize || last <= from {
			break
		}
		from = last
	}

	c.log.Debug("fetched submissions",
		logger.Handle(handle.String()),
		logger.Int64("from_second", fromSecond),
		logger.Int("count", len(out)),
	)
	return out, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// PROBLEM CATALOG
// ══════════════════════════════════════════════════════════════════════════════

// Problems downloads the catalog and the difficulty models and joins them.
// Concurrent callers share one download.
func (c *Client) Problems(ctx context.Context) ([]problem.Problem, error) {
	v, err, _ := c.catalog.Do("catalog", func() (interface{}, error) {
		var (
			problems []ProblemDTO
			models   map[string]ProblemModelDTO
		)
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			return c.getJSON(gctx, c.kenkoooo, "problems", c.config.ProblemsURL, &problems)
		})
		g.Go(func() error {
			return c.getJSON(gctx, c.kenkoooo, "models", c.config.ModelsURL, &models)
		})
		if err := g.Wait(); err != nil {
			return nil, err
		}
		return ProblemsFromDTO(problems, models, time.Now().UTC()), nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]problem.Problem), nil
}

// ══════════════════════════════════════════════════════════════════════════════
// RATING
// ══════════════════════════════════════════════════════════════════════════════

// Rating returns the rating after the user's last contest, 0 if unrated.
func (c *Client) Rating(ctx context.Context, handle shared.Handle) (int, error) {
	rawURL := fmt.Sprintf(c.config.HistoryURL, url.PathEscape(handle.String()))

	var history []ContestResultDTO
	if err := c.getJSON(ctx, c.atcoder, "history", rawURL, &history); err != nil {
		return 0, err
	}
	return RatingFromHistory(history), nil
}

// ══════════════════════════════════════════════════════════════════════════════
// HTTP REQUEST HELPERS
// ══════════════════════════════════════════════════════════════════════════════

// getJSON performs a GET with rate limiting, circuit breaking and retries,
// and maps the final error onto the shared error kinds.
func (c *Client) getJSON(ctx context.Context, breaker *circuitbreaker.CircuitBreaker, endpoint, rawURL string, out interface{}) error {
	ctx, span := tracing.Start(ctx, "atcoder."+endpoint,
		attribute.String("http.url", rawURL),
		attribute.String("atcoder.breaker", breaker.Name()),
	)

	start := time.Now()
	err := retry.Do(ctx, func(ctx context.Context) error {
		if err := c.limiter.Wait(ctx); err != nil {
			return retry.Permanent(err)
		}
		err := breaker.Execute(ctx, func(ctx context.Context) error {
			return c.fetch(ctx, endpoint, rawURL, out)
		})
		if errors.Is(err, circuitbreaker.ErrCircuitOpen) || errors.Is(err, circuitbreaker.ErrTooManyRequests) {
			return retry.Permanent(err)
		}
		return err
	}, c.retryOpts...)

	err = classify(endpoint, err)
	tracing.End(span, err)

	if err != nil && ctx.Err() == nil {
		c.log.Warn("AtCoder request failed",
			logger.String("endpoint", endpoint),
			logger.Latency(time.Since(start)),
			logger.Err(err),
		)
	}
	return err
}

// fetch performs a single request. Transient failures come back marked
// with retry.Retryable or retry.After.
func (c *Client) fetch(ctx context.Context, endpoint, rawURL string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return retry.Permanent(fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Accept", "application/json")
	if c.config.UserAgent != "" {
		req.Header.Set("User-Agent", c.config.UserAgent)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return retry.Permanent(ctx.Err())
		}
		return retry.Retryable(fmt.Errorf("%s: http request: %w", endpoint, err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
		statusErr := &StatusError{
			Endpoint:   endpoint,
			StatusCode: resp.StatusCode,
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"), time.Now()),
		}
		if !statusErr.Transient() {
			return retry.Permanent(statusErr)
		}
		if statusErr.StatusCode == http.StatusTooManyRequests {
			c.limiter.RecordRateLimitHit(statusErr.RetryAfter)
		}
		if statusErr.RetryAfter > 0 {
			return retry.After(statusErr, statusErr.RetryAfter)
		}
		return retry.Retryable(statusErr)
	}

	body, err := readBody(resp)
	if err != nil {
		return retry.Retryable(fmt.Errorf("%s: read response: %w", endpoint, err))
	}
	if err := json.Unmarshal(body, out); err != nil {
		return retry.Permanent(shared.WrapError("atcoder", endpoint, shared.ErrInvalidFormat,
			"invalid response from AtCoder data source", err))
	}
	return nil
}

func readBody(resp *http.Response) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody+1))
	if err != nil {
		return nil, err
	}
	if len(body) > maxBody {
		return nil, fmt.Errorf("response exceeds %d bytes", maxBody)
	}
	return body, nil
}

// parseRetryAfter understands both delta-seconds and HTTP-date.
func parseRetryAfter(v string, now time.Time) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.ParseFloat(v, 64); err == nil {
		if secs <= 0 {
			return 0
		}
		return time.Duration(secs * float64(time.Second))
	}
	if at, err := http.ParseTime(v); err == nil {
		if d := at.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}

// classify maps a transport-level error onto the shared error kinds.
func classify(endpoint string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return err
	}

	var de *shared.DomainError
	if errors.As(err, &de) {
		return err
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return shared.WrapError("atcoder", endpoint, shared.ErrTimeout, "AtCoder data source request timeout", err)
	case errors.Is(err, circuitbreaker.ErrCircuitOpen), errors.Is(err, circuitbreaker.ErrTooManyRequests):
		return shared.WrapError("atcoder", endpoint, shared.ErrServiceUnavailable, "AtCoder data source is unavailable", err)
	}

	var se *StatusError
	if errors.As(err, &se) {
		switch {
		case se.StatusCode == http.StatusNotFound:
			return shared.WrapError("atcoder", endpoint, shared.ErrNotFound, "AtCoder resource not found", err)
		case se.StatusCode == http.StatusTooManyRequests:
			return shared.WrapError("atcoder", endpoint, shared.ErrRateLimited, "AtCoder data source rate limit exceeded", err)
		case se.Transient():
			return shared.WrapError("atcoder", endpoint, shared.ErrServiceUnavailable, "AtCoder data source is unavailable", err)
		}
		return shared.WrapError("atcoder", endpoint, shared.ErrExternalService, "unexpected response from AtCoder data source", err)
	}

	return shared.WrapError("atcoder", endpoint, shared.ErrServiceUnavailable, "AtCoder data source is unavailable", err)
}

// ══════════════════════════════════════════════════════════════════════════════
// STATUS
// ══════════════════════════════════════════════════════════════════════════════

// ClientStatus is a point-in-time view of the client's guards.
type ClientStatus struct {
	RateLimiter RateLimiterStatus
	Breakers    map[string]string
}

// Status returns the current status of the client.
func (c *Client) Status() ClientStatus {
	return ClientStatus{
		RateLimiter: c.limiter.Status(),
		Breakers: map[string]string{
			c.kenkoooo.Name(): c.kenkoooo.State().String(),
			c.atcoder.Name():  c.atcoder.State().String(),
		},
	}
}
