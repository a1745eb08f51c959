package geoguessr

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/Amund211/duelhistory/internal/domain"
	"github.com/Amund211/duelhistory/internal/logging"
	"github.com/Amund211/duelhistory/internal/ratelimiting"
	"github.com/Amund211/duelhistory/internal/reporting"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const USER_AGENT = "duelhistory/0.1.0 (+https://github.com/Amund211/duelhistory)"

const authCookieName = "_ncfa"

// The minimum wait after being rate limited, before the penalty is added
const minRateLimitedRetryDelay = 3 * time.Second

type HttpClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Executor performs GET requests against the GeoGuessr API one at a time
type Executor interface {
	Execute(ctx context.Context, url string) ([]byte, error)
}

type ExecutorOptions struct {
	// Slept before every attempt, in addition to the shared penalty
	BaseDelay         time.Duration
	MaxAttempts       int
	InitialRetryDelay time.Duration
	AttemptTimeout    time.Duration
}

func DefaultExecutorOptions(baseDelay time.Duration) ExecutorOptions {
	return ExecutorOptions{
		BaseDelay:         baseDelay,
		MaxAttempts:       3,
		InitialRetryDelay: 1 * time.Second,
		AttemptTimeout:    20 * time.Second,
	}
}

type outcome string

const (
	outcomeSuccess     outcome = "success"
	outcomeRateLimited outcome = "rate_limited"
	outcomeTransient   outcome = "transient"
	outcomeNoData      outcome = "no_data"
	outcomeMalformed   outcome = "malformed"
)

func (o outcome) retryable() bool {
	return o == outcomeRateLimited || o == outcomeTransient
}

// Classify a completed response
func classifyResponse(statusCode int, data []byte) outcome {
	switch {
	case statusCode >= 200 && statusCode < 300:
		if !json.Valid(data) {
			return outcomeMalformed
		}
		return outcomeSuccess
	case statusCode == http.StatusTooManyRequests:
		return outcomeRateLimited
	case statusCode >= 500 && statusCode < 600:
		return outcomeTransient
	}
	return outcomeNoData
}

type executorMetricsCollection struct {
	attemptCount metric.Int64Counter
}

func setupExecutorMetrics(meter metric.Meter) (executorMetricsCollection, error) {
	attemptCount, err := meter.Int64Counter("geoguessr/executor/attempt_count")
	if err != nil {
		return executorMetricsCollection{}, fmt.Errorf("failed to create attempt count metric: %w", err)
	}

	return executorMetricsCollection{
		attemptCount: attemptCount,
	}, nil
}

type executor struct {
	httpClient HttpClient
	scheduler  *ratelimiting.RequestScheduler
	authCookie string
	opts       ExecutorOptions
	afterFunc  func(time.Duration) <-chan time.Time

	metrics executorMetricsCollection
	tracer  trace.Tracer
}

func NewExecutor(
	httpClient HttpClient,
	scheduler *ratelimiting.RequestScheduler,
	authCookie string,
	opts ExecutorOptions,
	afterFunc func(time.Duration) <-chan time.Time,
) (*executor, error) {
	const name = "duelhistory/geoguessr/executor"

	if opts.MaxAttempts < 1 {
		return nil, fmt.Errorf("max attempts must be at least 1, got %d", opts.MaxAttempts)
	}

	metrics, err := setupExecutorMetrics(otel.Meter(name))
	if err != nil {
		return nil, fmt.Errorf("failed to set up metrics: %w", err)
	}

	return &executor{
		httpClient: httpClient,
		scheduler:  scheduler,
		authCookie: authCookie,
		opts:       opts,
		afterFunc:  afterFunc,

		metrics: metrics,
		tracer:  otel.Tracer(name),
	}, nil
}

// Execute GETs url through the request queue, retrying transient failures.
//
// The returned error wraps domain.ErrNoData for permanent absences, domain.ErrMalformedResponse for
// invalid bodies and domain.ErrTemporarilyUnavailable once retries are exhausted.
func (e *executor) Execute(ctx context.Context, url string) ([]byte, error) {
	ctx, span := e.tracer.Start(ctx, "Executor.Execute", trace.WithAttributes(attribute.String("url", url)))
	defer span.End()

	data, err := ratelimiting.Submit(ctx, e.scheduler.Queue(), func(ctx context.Context) ([]byte, error) {
		return e.executeWithRetries(ctx, url)
	})
	if err != nil {
		return nil, err
	}
	return data, nil
}

func (e *executor) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-e.afterFunc(d):
		return nil
	}
}

func (e *executor) executeWithRetries(ctx context.Context, url string) ([]byte, error) {
	logger := logging.FromContext(ctx).With(slog.String("url", url))
	penalty := e.scheduler.Penalty()

	retryDelay := e.opts.InitialRetryDelay
	var lastErr error
	for attempt := 1; attempt <= e.opts.MaxAttempts; attempt++ {
		err := e.sleep(ctx, e.opts.BaseDelay+penalty.Current())
		if err != nil {
			return nil, fmt.Errorf("cancelled while waiting to send request: %w", err)
		}

		statusCode, data, err := e.attempt(ctx, url)
		if err != nil && ctx.Err() != nil {
			return nil, fmt.Errorf("cancelled while sending request: %w", err)
		}

		var result outcome
		if err != nil {
			result = outcomeTransient
			lastErr = err
		} else {
			result = classifyResponse(statusCode, data)
			lastErr = fmt.Errorf("got status %d", statusCode)
		}

		e.metrics.attemptCount.Add(ctx, 1, metric.WithAttributes(
			attribute.String("outcome", string(result)),
			attribute.Int("attempt", attempt),
		))

		switch result {
		case outcomeSuccess:
			return data, nil
		case outcomeNoData:
			return nil, fmt.Errorf("%w: got status %d for %s", domain.ErrNoData, statusCode, url)
		case outcomeMalformed:
			err := fmt.Errorf("%w: invalid json for %s", domain.ErrMalformedResponse, url)
			reporting.Report(ctx, err, map[string]string{
				"status": strconv.Itoa(statusCode),
				"data":   string(data),
			})
			return nil, err
		}

		// Every 429 raises the shared penalty, including one on the final attempt
		var newPenalty time.Duration
		if result == outcomeRateLimited {
			newPenalty = penalty.RegisterRateLimited()
		}

		if attempt == e.opts.MaxAttempts {
			break
		}

		wait := retryDelay
		if result == outcomeRateLimited {
			wait = max(retryDelay, minRateLimitedRetryDelay) + newPenalty
		}

		logger.WarnContext(
			ctx,
			"Request failed, retrying",
			slog.String("outcome", string(result)),
			slog.Int("attempt", attempt),
			slog.String("wait", wait.String()),
			slog.String("error", lastErr.Error()),
		)

		err = e.sleep(ctx, wait)
		if err != nil {
			return nil, fmt.Errorf("cancelled while waiting to retry: %w", err)
		}
		retryDelay *= 2
	}

	err := fmt.Errorf("%w: giving up on %s after %d attempts: %w", domain.ErrTemporarilyUnavailable, url, e.opts.MaxAttempts, lastErr)
	reporting.Report(ctx, err)
	return nil, err
}

// Perform a single request. Returns an error only when no response was received.
func (e *executor) attempt(ctx context.Context, url string) (int, []byte, error) {
	ctx, span := e.tracer.Start(ctx, "Executor.attempt")
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, e.opts.AttemptTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return -1, nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("User-Agent", USER_AGENT)
	req.Header.Set("Accept", "application/json")
	if e.authCookie != "" {
		req.AddCookie(&http.Cookie{Name: authCookieName, Value: e.authCookie})
	}

	start := time.Now()
	resp, err := e.httpClient.Do(req)
	if err != nil {
		return -1, nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return -1, nil, fmt.Errorf("failed to read response body: %w", err)
	}

	logging.FromContext(ctx).InfoContext(
		ctx,
		"geoguessr request completed",
		slog.String("url", url),
		slog.Int("status", resp.StatusCode),
		slog.String("duration", time.Since(start).String()),
	)

	return resp.StatusCode, data, nil
}
