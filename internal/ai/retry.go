package ai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// RetryConfig holds retry configuration for API calls
type RetryConfig struct {
	MaxRetries        int           // Maximum number of retries (default: 3)
	InitialBackoff    time.Duration // Initial backoff duration (default: 1s)
	MaxBackoff        time.Duration // Maximum backoff duration (default: 30s)
	BackoffMultiplier float64       // Backoff multiplier (default: 2.0)
	Timeout           time.Duration // Per-request timeout (default: 60s)

	// Circuit breaker settings
	CircuitBreakerEnabled bool          // Enable circuit breaker (default: true)
	FailureThreshold      int           // Failures before opening circuit (default: 5)
	SuccessThreshold      int           // Successes in half-open before closing (default: 2)
	OpenTimeout           time.Duration // How long to keep circuit open (default: 30s)

	MaxConcurrentCalls int // Maximum concurrent generation calls (default: 3, 0 = unlimited)
}

// DefaultRetryConfig returns the default retry configuration
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:            3,
		InitialBackoff:        1 * time.Second,
		MaxBackoff:            30 * time.Second,
		BackoffMultiplier:     2.0,
		Timeout:               60 * time.Second,
		CircuitBreakerEnabled: true,
		FailureThreshold:      5,
		SuccessThreshold:      2,
		OpenTimeout:           30 * time.Second,
		MaxConcurrentCalls:    3,
	}
}

// Validate checks the retry configuration for out-of-range values
func (c RetryConfig) Validate() error {
	if c.MaxRetries < 0 || c.MaxRetries > 10 {
		return fmt.Errorf("max_retries must be between 0 and 10 (got %d)", c.MaxRetries)
	}
	if c.InitialBackoff <= 0 {
		return fmt.Errorf("initial_backoff must be positive (got %v)", c.InitialBackoff)
	}
	if c.MaxBackoff < c.InitialBackoff {
		return fmt.Errorf("max_backoff (%v) must be >= initial_backoff (%v)", c.MaxBackoff, c.InitialBackoff)
	}
	if c.BackoffMultiplier < 1 {
		return fmt.Errorf("backoff_multiplier must be >= 1 (got %v)", c.BackoffMultiplier)
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive (got %v)", c.Timeout)
	}
	if c.CircuitBreakerEnabled && (c.FailureThreshold < 1 || c.SuccessThreshold < 1) {
		return fmt.Errorf("circuit breaker thresholds must be >= 1")
	}
	if c.MaxConcurrentCalls < 0 {
		return fmt.Errorf("max_concurrent_calls cannot be negative (got %d)", c.MaxConcurrentCalls)
	}
	return nil
}

// CircuitState represents the state of a circuit breaker
type CircuitState int

const (
	CircuitClosed   CircuitState = iota // Normal operation, requests pass through
	CircuitOpen                         // Too many failures, block requests (fail fast)
	CircuitHalfOpen                     // Testing recovery, allow limited requests
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "CLOSED"
	case CircuitOpen:
		return "OPEN"
	case CircuitHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// CircuitBreaker fails generation calls fast after repeated upstream failures
type CircuitBreaker struct {
	mu sync.Mutex

	state            CircuitState
	failureCount     int
	successCount     int
	lastFailureTime  time.Time
	failureThreshold int
	successThreshold int
	openTimeout      time.Duration
	now              func() time.Time
	log              *zap.SugaredLogger
}

// ErrCircuitOpen is returned when the circuit breaker is open
var ErrCircuitOpen = errors.New("circuit breaker is open")

// NewCircuitBreaker creates a new circuit breaker with the given configuration
func NewCircuitBreaker(failureThreshold, successThreshold int, openTimeout time.Duration, log *zap.SugaredLogger) *CircuitBreaker {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &CircuitBreaker{
		state:            CircuitClosed,
		failureThreshold: failureThreshold,
		successThreshold: successThreshold,
		openTimeout:      openTimeout,
		now:              time.Now,
		log:              log,
	}
}

// Allow checks if a request should be allowed through the circuit breaker.
// Returns ErrCircuitOpen if the circuit is open and hasn't timed out yet.
func (cb *CircuitBreaker) Allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitClosed, CircuitHalfOpen:
		return nil
	case CircuitOpen:
		if cb.now().Sub(cb.lastFailureTime) > cb.openTimeout {
			cb.transition(CircuitHalfOpen)
			return nil
		}
		return ErrCircuitOpen
	default:
		return ErrCircuitOpen
	}
}

// RecordSuccess records a successful request
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitClosed:
		cb.failureCount = 0
	case CircuitHalfOpen:
		cb.successCount++
		if cb.successCount >= cb.successThreshold {
			cb.transition(CircuitClosed)
		}
	}
}

// RecordFailure records a failed request
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.lastFailureTime = cb.now()

	switch cb.state {
	case CircuitClosed:
		cb.failureCount++
		if cb.failureCount >= cb.failureThreshold {
			cb.transition(CircuitOpen)
		}
	case CircuitHalfOpen:
		// Any failure while probing reopens immediately
		cb.transition(CircuitOpen)
	}
}

// GetState returns the current state
func (cb *CircuitBreaker) GetState() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// transition must be called with the lock held
func (cb *CircuitBreaker) transition(to CircuitState) {
	from := cb.state
	cb.state = to
	cb.successCount = 0
	if to == CircuitClosed {
		cb.failureCount = 0
	}
	cb.log.Infow("circuit breaker state transition",
		"from", from.String(), "to", to.String(), "failures", cb.failureCount)
}

// ErrorType classifies generation failures
type ErrorType int

const (
	ErrorUnknown   ErrorType = iota
	ErrorTransient           // 5xx, timeouts, connection failures
	ErrorQuota               // 429
	ErrorAuth                // 401, 403
	ErrorInvalid             // other 4xx
)

func (t ErrorType) String() string {
	switch t {
	case ErrorTransient:
		return "transient"
	case ErrorQuota:
		return "quota"
	case ErrorAuth:
		return "auth"
	case ErrorInvalid:
		return "invalid"
	default:
		return "unknown"
	}
}

// defaultQuotaWait applies to a 429 that carries no Retry-After header
const defaultQuotaWait = time.Hour

// classifyError maps an error to an ErrorType and, for quota errors, how
// long the provider asked us to wait
func classifyError(err error) (ErrorType, time.Duration) {
	if err == nil {
		return ErrorUnknown, 0
	}

	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == http.StatusTooManyRequests:
			wait := defaultQuotaWait
			if apiErr.Response != nil {
				if d, ok := parseRetryAfter(apiErr.Response.Header.Get("Retry-After")); ok {
					wait = d
				}
			}
			return ErrorQuota, wait
		case apiErr.StatusCode >= 500:
			return ErrorTransient, 0
		case apiErr.StatusCode == http.StatusUnauthorized || apiErr.StatusCode == http.StatusForbidden:
			return ErrorAuth, 0
		case apiErr.StatusCode >= 400:
			return ErrorInvalid, 0
		}
	}

	if isRetriableError(err) {
		if strings.Contains(strings.ToLower(err.Error()), "rate limit") || strings.Contains(err.Error(), "429") {
			return ErrorQuota, defaultQuotaWait
		}
		return ErrorTransient, 0
	}
	return ErrorUnknown, 0
}

// parseRetryAfter reads a Retry-After header in delta-seconds or HTTP-date form
func parseRetryAfter(value string) (time.Duration, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, false
	}
	if secs, err := strconv.Atoi(value); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second, true
	}
	if at, err := http.ParseTime(value); err == nil {
		if d := time.Until(at); d > 0 {
			return d, true
		}
		return 0, true
	}
	return 0, false
}

// retrier runs operations with backoff, a circuit breaker and a concurrency cap
type retrier struct {
	cfg     RetryConfig
	breaker *CircuitBreaker
	sem     *semaphore.Weighted
	log     *zap.SugaredLogger
	sleep   func(ctx context.Context, d time.Duration) error
}

func newRetrier(cfg RetryConfig, log *zap.SugaredLogger) *retrier {
	r := &retrier{cfg: cfg, log: log, sleep: sleepContext}
	if cfg.CircuitBreakerEnabled {
		r.breaker = NewCircuitBreaker(cfg.FailureThreshold, cfg.SuccessThreshold, cfg.OpenTimeout, log)
	}
	if cfg.MaxConcurrentCalls > 0 {
		r.sem = semaphore.NewWeighted(int64(cfg.MaxConcurrentCalls))
	}
	return r
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// do executes fn with retry and exponential backoff
func (r *retrier) do(ctx context.Context, operation string, fn func(context.Context) error) error {
	if r.sem != nil {
		if err := r.sem.Acquire(ctx, 1); err != nil {
			return fmt.Errorf("failed to acquire concurrency slot for %s: %w", operation, err)
		}
		defer r.sem.Release(1)
	}

	var lastErr error
	backoff := r.cfg.InitialBackoff

	for attempt := 0; attempt <= r.cfg.MaxRetries; attempt++ {
		if r.breaker != nil {
			if err := r.breaker.Allow(); err != nil {
				r.log.Warnw("generation blocked by circuit breaker", "operation", operation)
				return fmt.Errorf("%s failed: %w", operation, err)
			}
		}

		attemptCtx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
		err := fn(attemptCtx)
		cancel()

		if err == nil {
			if r.breaker != nil {
				r.breaker.RecordSuccess()
			}
			if attempt > 0 {
				r.log.Infow("generation succeeded after retries", "operation", operation, "retries", attempt)
			}
			return nil
		}

		lastErr = err
		errType, wait := classifyError(err)
		retriable := errType == ErrorTransient || errType == ErrorQuota

		// Auth and bad-request failures say nothing about upstream health
		if r.breaker != nil && retriable {
			r.breaker.RecordFailure()
		}

		if !retriable {
			r.log.Warnw("generation failed with non-retriable error",
				"operation", operation, "type", errType.String(), "error", err)
			return err
		}

		if attempt == r.cfg.MaxRetries {
			break
		}

		delay := backoff
		if errType == ErrorQuota {
			if wait > r.cfg.MaxBackoff {
				// Leave long quota waits to the job layer's retry
				return fmt.Errorf("%s failed: quota exhausted, retry after %v: %w", operation, wait, err)
			}
			if wait > delay {
				delay = wait
			}
		}

		r.log.Infow("generation failed, retrying",
			"operation", operation, "attempt", attempt+1, "max_attempts", r.cfg.MaxRetries+1,
			"delay", delay, "error", err)

		if err := r.sleep(ctx, delay); err != nil {
			return fmt.Errorf("%s failed: context canceled during backoff: %w", operation, err)
		}
		backoff = time.Duration(float64(backoff) * r.cfg.BackoffMultiplier)
		if backoff > r.cfg.MaxBackoff {
			backoff = r.cfg.MaxBackoff
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operation, r.cfg.MaxRetries+1, lastErr)
}

// isRetriableError determines if an error is retriable (transient)
func isRetriableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == http.StatusTooManyRequests || apiErr.StatusCode >= 500
	}

	errStr := strings.ToLower(err.Error())

	if strings.Contains(errStr, "429") || strings.Contains(errStr, "rate limit") {
		return true
	}

	for _, marker := range []string{
		"500", "502", "503", "504", "529",
		"internal server error", "bad gateway", "service unavailable", "gateway timeout", "overloaded",
		"connection refused", "connection reset", "timeout", "temporary failure",
	} {
		if strings.Contains(errStr, marker) {
			return true
		}
	}

	return false
}

// IsRetriable reports whether a generation error is worth retrying later
func IsRetriable(err error) bool {
	t, _ := classifyError(err)
	return t == ErrorTransient || t == ErrorQuota
}
