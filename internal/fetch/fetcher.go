// Package fetch performs HTTP GET requests with a per-attempt timeout and
// bounded exponential backoff, classifying every result as a success, a
// retryable failure or a fatal failure.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/blockclass/marketview/internal/domain"
)

// maxBodyBytes caps how much of a response body is read into memory.
const maxBodyBytes = 8 << 20

// Policy configures retries. It is always passed explicitly; there are no
// package-level defaults consulted at fetch time.
type Policy struct {
	MaxAttempts int
	Timeout     time.Duration
	BackoffBase time.Duration
	// Jitter adds up to Jitter*delay of random extra wait. Must be in [0, 1)
	// so consecutive delays stay strictly increasing.
	Jitter float64
}

// DefaultPolicy mirrors the public CoinGecko tier: three attempts of nine
// seconds each with a 600ms backoff base.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		Timeout:     9 * time.Second,
		BackoffBase: 600 * time.Millisecond,
	}
}

// Validate reports policy values that would make Fetch misbehave.
func (p Policy) Validate() error {
	if p.MaxAttempts < 1 {
		return fmt.Errorf("fetch: max_attempts must be >= 1, got %d", p.MaxAttempts)
	}
	if p.Timeout <= 0 {
		return fmt.Errorf("fetch: timeout must be > 0, got %s", p.Timeout)
	}
	if p.BackoffBase < 0 {
		return fmt.Errorf("fetch: backoff_base must be >= 0, got %s", p.BackoffBase)
	}
	if p.Jitter < 0 || p.Jitter >= 1 {
		return fmt.Errorf("fetch: jitter must be in [0, 1), got %v", p.Jitter)
	}
	return nil
}

// Backoff returns the delay after the given 1-based attempt:
// base * 2^(attempt-1).
func Backoff(base time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 30 {
		attempt = 30
	}
	return base * time.Duration(1<<(attempt-1))
}

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Fetcher executes resilient GET requests. It holds no per-request state and
// is safe for concurrent use.
type Fetcher struct {
	client    *http.Client
	policy    Policy
	limiter   *rate.Limiter
	shared    domain.RateLimiter
	sharedKey string
	sleep     SleepFunc
	userAgent string
	logger    *slog.Logger
}

// Option customises a Fetcher.
type Option func(*Fetcher)

// WithHTTPClient replaces the underlying HTTP client. Per-attempt timeouts are
// applied through the request context, so the client needs no Timeout.
func WithHTTPClient(c *http.Client) Option {
	return func(f *Fetcher) { f.client = c }
}

// WithLimiter paces every attempt through a token bucket.
func WithLimiter(l *rate.Limiter) Option {
	return func(f *Fetcher) { f.limiter = l }
}

// WithSharedLimiter paces every attempt through a limiter shared with other
// processes, under key. An unreachable limiter is logged and skipped.
func WithSharedLimiter(l domain.RateLimiter, key string) Option {
	return func(f *Fetcher) {
		f.shared = l
		f.sharedKey = key
	}
}

// WithSleep replaces the backoff sleeper.
func WithSleep(s SleepFunc) Option {
	return func(f *Fetcher) { f.sleep = s }
}

// WithUserAgent sets the User-Agent header on every request.
func WithUserAgent(ua string) Option {
	return func(f *Fetcher) { f.userAgent = ua }
}

// WithLogger sets the logger used for attempt-level debug output.
func WithLogger(l *slog.Logger) Option {
	return func(f *Fetcher) { f.logger = l }
}

// New creates a Fetcher for the given policy.
func New(policy Policy, opts ...Option) *Fetcher {
	f := &Fetcher{
		client: &http.Client{},
		policy: policy,
		sleep:  sleepCtx,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Policy returns the retry policy the Fetcher was built with.
func (f *Fetcher) Policy() Policy { return f.policy }

// Fetch GETs url until it succeeds, hits a fatal failure, or the attempt
// budget is spent. A retryable failure on the last attempt is reported as a
// FatalFailure wrapping ErrExhausted and the last error. Cancelling ctx stops
// immediately with a FatalFailure.
func (f *Fetcher) Fetch(ctx context.Context, url string) Outcome {
	attempts := f.policy.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var last Outcome
	for k := 1; k <= attempts; k++ {
		last = f.attempt(ctx, url)
		last.Attempts = k

		switch last.Kind {
		case Success, FatalFailure:
			return last
		}

		f.logger.DebugContext(ctx, "fetch: retryable failure",
			slog.String("url", url),
			slog.Int("attempt", k),
			slog.Int("status", last.Status),
			slog.String("error", last.Err.Error()),
		)

		if k == attempts {
			break
		}

		if err := f.sleep(ctx, f.delay(k)); err != nil {
			out := fatal(last.Status, fmt.Errorf("fetch: %w during backoff: %w", domain.ErrCancelled, err))
			out.Attempts = k
			return out
		}
	}

	out := fatal(last.Status, fmt.Errorf("%w after %d attempts: %w", ErrExhausted, last.Attempts, last.Err))
	out.Attempts = last.Attempts
	return out
}

func (f *Fetcher) delay(attempt int) time.Duration {
	d := Backoff(f.policy.BackoffBase, attempt)
	if f.policy.Jitter > 0 && d > 0 {
		d += time.Duration(rand.Float64() * f.policy.Jitter * float64(d))
	}
	return d
}

// attempt performs exactly one bounded request.
func (f *Fetcher) attempt(ctx context.Context, url string) Outcome {
	if err := ctx.Err(); err != nil {
		return fatal(0, fmt.Errorf("fetch: %w: %w", domain.ErrCancelled, err))
	}

	if f.shared != nil {
		if err := f.shared.Wait(ctx, f.sharedKey); err != nil {
			if ctx.Err() != nil {
				return fatal(0, fmt.Errorf("fetch: %w: %w", domain.ErrCancelled, err))
			}
			f.logger.WarnContext(ctx, "fetch: shared rate limiter unavailable",
				slog.String("key", f.sharedKey),
				slog.String("error", err.Error()),
			)
		}
	}

	if f.limiter != nil {
		if err := f.limiter.Wait(ctx); err != nil {
			if ctx.Err() != nil {
				return fatal(0, fmt.Errorf("fetch: %w: %w", domain.ErrCancelled, err))
			}
			return retryable(0, fmt.Errorf("fetch: rate limiter: %w", err))
		}
	}

	attemptCtx, cancel := context.WithTimeout(ctx, f.policy.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodGet, url, nil)
	if err != nil {
		return fatal(0, fmt.Errorf("fetch: build request: %w", err))
	}
	req.Header.Set("Accept", "application/json")
	if f.userAgent != "" {
		req.Header.Set("User-Agent", f.userAgent)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return f.transportFailure(ctx, attemptCtx, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return f.transportFailure(ctx, attemptCtx, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return classifyStatus(resp.StatusCode, body)
	}
	return succeeded(resp.StatusCode, body)
}

// transportFailure classifies an error that happened before a complete
// response was read. The caller's cancellation is fatal; everything else,
// including the per-attempt timeout, is retryable.
func (f *Fetcher) transportFailure(parent, attemptCtx context.Context, err error) Outcome {
	if parent.Err() != nil {
		return fatal(0, fmt.Errorf("fetch: %w: %w", domain.ErrCancelled, err))
	}
	if errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
		return retryable(0, fmt.Errorf("%w: timeout after %s: %w", domain.ErrTransient, f.policy.Timeout, err))
	}
	return retryable(0, fmt.Errorf("%w: %w", domain.ErrTransient, err))
}
