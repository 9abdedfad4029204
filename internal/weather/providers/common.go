package providers

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"math"
	"net"
	"net/http"
	"syscall"
	"time"

	"github.com/sony/gobreaker"

	"github.com/i474232898/station-dashboard/internal/common"
)

const userAgent = "station-dashboard/1.0"

// maxBody caps how much of an upstream response we read.
const maxBody = 4 << 20

// BackoffConfig controls exponential backoff behaviour.
type BackoffConfig struct {
	MaxRetries      int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// HTTPClientConfig bundles HTTP client and resilience settings.
type HTTPClientConfig struct {
	Client  *http.Client
	Backoff BackoffConfig
	// Timeouts holds the per-attempt timeout; the last value is reused for
	// further attempts.
	Timeouts []time.Duration
	// Retryable decides whether a failed attempt is retried. Nil means never.
	Retryable func(error) bool
}

func (c HTTPClientConfig) attemptTimeout(attempt int) time.Duration {
	if len(c.Timeouts) == 0 {
		return 0
	}
	if attempt >= len(c.Timeouts) {
		return c.Timeouts[len(c.Timeouts)-1]
	}
	return c.Timeouts[attempt]
}

var (
	errRateLimited   = errors.New("rate limited")
	errServerError   = errors.New("server error")
	errUnexpected    = errors.New("unexpected status code")
	errCircuitOpen   = errors.New("circuit breaker open")
	errNoHTTPClient  = errors.New("http client not configured")
	errInvalidConfig = errors.New("invalid backoff configuration")
)

// StatusError reports a non-2xx upstream answer.
type StatusError struct {
	Code int
	kind error
}

func (e *StatusError) Error() string { return fmt.Sprintf("%v: %d", e.kind, e.Code) }
func (e *StatusError) Unwrap() error { return e.kind }

func statusError(code int) error {
	switch {
	case code == http.StatusTooManyRequests:
		return &StatusError{Code: code, kind: errRateLimited}
	case code >= 500:
		return &StatusError{Code: code, kind: errServerError}
	default:
		return &StatusError{Code: code, kind: errUnexpected}
	}
}

// FetchError tags a fetcher failure with its family and stage for logging.
type FetchError struct {
	Family string
	Stage  string
	Err    error
}

func (e *FetchError) Error() string {
	if e.Stage == "" {
		return fmt.Sprintf("%s: %v", e.Family, e.Err)
	}
	return fmt.Sprintf("%s/%s: %v", e.Family, e.Stage, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

func newBreaker(name string) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    5 * time.Minute,
		Timeout:     2 * time.Minute,
		// 4xx answers are the caller's fault; only network and 5xx trip it.
		IsSuccessful: func(err error) bool {
			var se *StatusError
			return err == nil || (errors.As(err, &se) && se.Code < 500 && se.Code != http.StatusTooManyRequests)
		},
	})
}

// IsTransient reports whether err is a network-level failure worth retrying:
// connection refused or reset, timeouts, DNS and TLS errors. HTTP status
// errors are never transient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var (
		recErr   tls.RecordHeaderError
		alertErr tls.AlertError
		certErr  *tls.CertificateVerificationError
		unkAuth  x509.UnknownAuthorityError
	)
	if errors.As(err, &recErr) || errors.As(err, &alertErr) || errors.As(err, &certErr) || errors.As(err, &unkAuth) {
		return true
	}
	return common.ContainsAnyFold(err.Error(), "connection refused", "connection reset", "no such host", "i/o timeout", "tls: ", "handshake")
}

// fetchBody executes the request with per-attempt timeouts, optional retries
// with exponential backoff and a circuit breaker, and returns the body of
// the first 2xx answer.
func fetchBody(
	ctx context.Context,
	cfg HTTPClientConfig,
	cb *gobreaker.CircuitBreaker,
	buildRequest func(ctx context.Context) (*http.Request, error),
) ([]byte, error) {
	if cfg.Client == nil {
		return nil, errNoHTTPClient
	}
	if cfg.Backoff.MaxRetries < 0 || (cfg.Backoff.MaxRetries > 0 && cfg.Backoff.InitialInterval <= 0) {
		return nil, errInvalidConfig
	}

	var attempt int
	for {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		body, err := fetchOnce(ctx, cfg, cb, attempt, buildRequest)
		if err == nil {
			return body, nil
		}

		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%w: %v", errCircuitOpen, err)
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if attempt >= cfg.Backoff.MaxRetries || cfg.Retryable == nil || !cfg.Retryable(err) {
			return nil, err
		}

		delay := cfg.Backoff.InitialInterval * time.Duration(math.Pow(2, float64(attempt)))
		if delay > cfg.Backoff.MaxInterval && cfg.Backoff.MaxInterval > 0 {
			delay = cfg.Backoff.MaxInterval
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}

		attempt++
	}
}

func fetchOnce(
	ctx context.Context,
	cfg HTTPClientConfig,
	cb *gobreaker.CircuitBreaker,
	attempt int,
	buildRequest func(ctx context.Context) (*http.Request, error),
) ([]byte, error) {
	if d := cfg.attemptTimeout(attempt); d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}

	req, err := buildRequest(ctx)
	if err != nil {
		return nil, err
	}
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", userAgent)
	}

	result, err := cb.Execute(func() (interface{}, error) {
		resp, execErr := cfg.Client.Do(req)
		if execErr != nil {
			return nil, execErr
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			io.Copy(io.Discard, io.LimitReader(resp.Body, maxBody))
			return nil, statusError(resp.StatusCode)
		}
		return io.ReadAll(io.LimitReader(resp.Body, maxBody))
	})
	if err != nil {
		return nil, err
	}
	body, ok := result.([]byte)
	if !ok {
		return nil, fmt.Errorf("unexpected result type from circuit breaker")
	}
	return body, nil
}
