package connector

import (
	"context"
	"errors"
	"math"
	"net/http"
	"time"

	"github.com/spectra-red/sentinel/internal/domain"
	"golang.org/x/time/rate"
)

// HTTPError carries a status code so Classify can apply the
// spec's 4xx/429/5xx rules without re-parsing transport errors. Concrete
// HTTP-based connectors (Azure/Entra ID/Okta) and the enrichment clients
// (C6) wrap non-2xx responses in this type.
type HTTPError struct {
	StatusCode int
	RetryAfter time.Duration // zero if the response carried none
	Err        error
}

func (e *HTTPError) Error() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return http.StatusText(e.StatusCode)
}

func (e *HTTPError) Unwrap() error { return e.Err }

// Classify maps a raw error onto the connector framework's retry policy
// (spec §4.4: "only transient errors (network, 5xx, 429) are retried.
// 4xx other than 429 are terminal. Rate-limit responses respect
// server-provided Retry-After."). Network-transport errors (no
// HTTPError wrapping) are treated as transient, matching the teacher's
// NVDClient/TeamCymruClient convention of retrying bare connection
// failures.
func Classify(err error) *domain.EngineError {
	if err == nil {
		return nil
	}
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		switch {
		case httpErr.StatusCode == http.StatusTooManyRequests:
			return domain.NewError(domain.KindTransient, "rate limited", err)
		case httpErr.StatusCode >= 500:
			return domain.NewError(domain.KindTransient, "server error", err)
		case httpErr.StatusCode >= 400:
			return domain.NewError(domain.KindCredential, "client error", err)
		default:
			return domain.NewError(domain.KindTransient, "unexpected status", err)
		}
	}
	// No HTTP status to inspect: a bare network/transport failure, the
	// same "assume transient" stance the teacher's enrichment clients
	// take for dial/timeout errors.
	return domain.NewError(domain.KindTransient, "transport error", err)
}

// RetryAfterOf extracts the server-provided Retry-After duration, if
// err wraps an HTTPError carrying one.
func RetryAfterOf(err error) (time.Duration, bool) {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) && httpErr.RetryAfter > 0 {
		return httpErr.RetryAfter, true
	}
	return 0, false
}

// WithRetry runs fn under cfg's exponential backoff policy, honoring any
// Retry-After the callee's error carries and stopping immediately on a
// terminal classification (spec §4.4 retries).
func WithRetry(ctx context.Context, cfg RetryConfig, fn func() error) error {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	var lastErr error
	for attempt := 0; attempt < cfg.MaxAttempts; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		classified := Classify(lastErr)
		if classified == nil || !domain.IsRetryable(classified) {
			return lastErr
		}
		if attempt == cfg.MaxAttempts-1 {
			break
		}
		delay := backoffDelay(cfg, attempt)
		if ra, ok := RetryAfterOf(lastErr); ok && ra > delay {
			delay = ra
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return lastErr
}

func backoffDelay(cfg RetryConfig, attempt int) time.Duration {
	base := cfg.BaseDelay
	if base <= 0 {
		base = 250 * time.Millisecond
	}
	cap := cfg.CapDelay
	if cap <= 0 {
		cap = 30 * time.Second
	}
	d := time.Duration(float64(base) * math.Pow(2, float64(attempt)))
	if d > cap {
		d = cap
	}
	return d
}

// NewLimiter builds a token-bucket limiter from a connector's
// client-side rate_limit configuration. golang.org/x/time/rate replaces
// the teacher's hand-rolled token bucket in
// internal/enrichment/asn.go:rateLimiter — the same concern, the
// ecosystem-standard library instead of a bespoke implementation.
func NewLimiter(cfg RateLimitConfig) *rate.Limiter {
	rps := cfg.RPS
	if rps <= 0 {
		rps = 10
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = int(rps)
		if burst < 1 {
			burst = 1
		}
	}
	return rate.NewLimiter(rate.Limit(rps), burst)
}
