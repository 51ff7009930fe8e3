// Package external adapts outbound mail providers to the EmailProvider
// contract. HTTP providers go through BaseClient, which adds circuit
// breaking, bounded retries on 429/5xx and error mapping to AppError.
package external

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand/v2"
	"net/http"
	"strconv"
	"time"

	"github.com/sony/gobreaker/v2"

	"forwardgate/internal/types"
)

// RetryPolicy bounds how often and how long BaseClient retries.
type RetryPolicy struct {
	MaxRetries int
	MinWait    time.Duration
	MaxWait    time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries: 2,
		MinWait:    500 * time.Millisecond,
		MaxWait:    5 * time.Second,
	}
}

// BaseClientConfig configures a BaseClient. Breaker, when set, replaces the
// breaker NewBaseClient would otherwise build from Name.
type BaseClientConfig struct {
	HTTPClient *http.Client
	Name       string
	Retry      RetryPolicy
	UserAgent  string
	Breaker    *gobreaker.CircuitBreaker[*http.Response]
	Sleep      func(time.Duration)
}

type BaseClient struct {
	http      *http.Client
	breaker   *gobreaker.CircuitBreaker[*http.Response]
	retry     RetryPolicy
	userAgent string
	sleep     func(time.Duration)
}

func NewBaseClient(cfg BaseClientConfig) *BaseClient {
	c := &BaseClient{
		http:      cfg.HTTPClient,
		breaker:   cfg.Breaker,
		retry:     cfg.Retry,
		userAgent: cfg.UserAgent,
		sleep:     cfg.Sleep,
	}
	if c.http == nil {
		c.http = &http.Client{Timeout: 10 * time.Second}
	}
	if c.breaker == nil {
		c.breaker = NewBreaker(cfg.Name)
	}
	if c.sleep == nil {
		c.sleep = time.Sleep
	}
	return c
}

// NewBreaker trips after more than five consecutive failures and probes
// again after 30 seconds.
func NewBreaker(name string) *gobreaker.CircuitBreaker[*http.Response] {
	return gobreaker.NewCircuitBreaker[*http.Response](gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
	})
}

// Do sends req through the breaker, retrying 429 and 5xx responses. Any
// other response is returned unchanged and the caller closes its body.
// Exhausted retries, an open breaker and transport failures come back as
// AppError.
func (c *BaseClient) Do(req *http.Request) (*http.Response, error) {
	if id := types.GetRequestID(req.Context()); id != "" {
		req.Header.Set("X-Request-Id", id)
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	// The body is buffered so every attempt can replay it.
	var body []byte
	if req.Body != nil {
		var err error
		body, err = io.ReadAll(req.Body)
		req.Body.Close()
		if err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to buffer request body", err)
		}
	}

	var (
		lastResp *http.Response
		lastErr  error
	)
	attempts := 1 + c.retry.MaxRetries
	for attempt := 0; attempt < attempts; attempt++ {
		if body != nil {
			req.Body = io.NopCloser(bytes.NewReader(body))
			req.ContentLength = int64(len(body))
		}

		resp, err := c.breaker.Execute(func() (*http.Response, error) {
			r, err := c.http.Do(req)
			if err != nil {
				return nil, err
			}
			if retryable(r.StatusCode) {
				return r, fmt.Errorf("upstream returned %d", r.StatusCode)
			}
			return r, nil
		})
		if err == nil {
			return resp, nil
		}

		if lastResp != nil {
			lastResp.Body.Close()
		}
		lastResp, lastErr = resp, err

		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			break
		}
		if attempt < attempts-1 {
			c.sleep(c.backoff(attempt, resp))
		}
	}

	if lastResp != nil {
		lastResp.Body.Close()
	}
	return nil, mapTransportError(lastResp, lastErr)
}

func retryable(status int) bool {
	return status == http.StatusTooManyRequests || status >= 500
}

// backoff honours Retry-After (seconds or HTTP date) and otherwise uses
// exponential backoff with jitter, both clamped to [MinWait, MaxWait].
func (c *BaseClient) backoff(attempt int, resp *http.Response) time.Duration {
	if resp != nil {
		if v := resp.Header.Get("Retry-After"); v != "" {
			if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
				return c.clamp(time.Duration(secs) * time.Second)
			}
			if at, err := http.ParseTime(v); err == nil {
				return c.clamp(time.Until(at))
			}
		}
	}

	ceiling := float64(c.retry.MinWait) * math.Pow(2, float64(attempt))
	floor := float64(c.retry.MinWait)
	if ceiling <= floor {
		return c.clamp(c.retry.MinWait)
	}
	return c.clamp(time.Duration(floor + rand.Float64()*(ceiling-floor)))
}

func (c *BaseClient) clamp(d time.Duration) time.Duration {
	if d < c.retry.MinWait {
		return c.retry.MinWait
	}
	if c.retry.MaxWait > 0 && d > c.retry.MaxWait {
		return c.retry.MaxWait
	}
	return d
}

func mapTransportError(resp *http.Response, err error) *types.AppError {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return types.NewAppError(types.ErrCodeUpstreamUnavailable, "circuit breaker open", err)
	}
	if resp != nil {
		if resp.StatusCode == http.StatusTooManyRequests {
			return types.NewAppError(types.ErrCodeUpstreamRateLimited, "upstream rate limit exceeded", err)
		}
		return types.NewAppError(types.ErrCodeUpstreamUnavailable,
			fmt.Sprintf("upstream returned %d after retries", resp.StatusCode), err)
	}
	return types.NewAppError(types.ErrCodeUpstreamEmailProvider, "upstream request failed", err)
}
