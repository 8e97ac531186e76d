// Package errors classifies failures from storage, cache and event backends
// so callers can decide whether to retry, degrade or surface them. It also
// provides the retry loop and circuit breaker used around those backends.
package errors

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/johnayoung/go-health-series/internal/config"
	"github.com/johnayoung/go-health-series/internal/models"
)

// ErrorType represents the classification of an error
type ErrorType string

const (
	// Retryable error types
	ErrorTypeNetwork     ErrorType = "network"      // Connectivity to a database, cache or broker
	ErrorTypeTimeout     ErrorType = "timeout"      // Deadline exceeded
	ErrorTypeStorage     ErrorType = "storage"      // Transient database failures (locks, bad connections)
	ErrorTypeRateLimit   ErrorType = "rate_limit"   // Caller exceeded a rate limit
	ErrorTypeTemporary   ErrorType = "temporary"    // Other transient failures
	ErrorTypeCircuitOpen ErrorType = "circuit_open" // Circuit breaker is open

	// Non-retryable error types
	ErrorTypeValidation    ErrorType = "validation"    // Bad request parameters or data
	ErrorTypeNotFound      ErrorType = "not_found"     // Requested entity does not exist
	ErrorTypeConflict      ErrorType = "conflict"      // Entity already exists
	ErrorTypeConfiguration ErrorType = "configuration" // Misconfiguration
	ErrorTypeCanceled      ErrorType = "canceled"      // Caller gave up
	ErrorTypePanic         ErrorType = "panic"         // Recovered panic
	ErrorTypeInternal      ErrorType = "internal"      // Internal application errors

	ErrorTypeUnknown ErrorType = "unknown"
)

// Severity represents the severity level of an error
type Severity int

const (
	SeverityLow Severity = iota
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

// String returns the string representation of the severity
func (s Severity) String() string {
	switch s {
	case SeverityLow:
		return "low"
	case SeverityMedium:
		return "medium"
	case SeverityHigh:
		return "high"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// Sentinels that callers can wrap to force a classification.
var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("already exists")
)

// ClassifiedError represents an error with metadata for handling decisions
type ClassifiedError struct {
	Err         error                  `json:"error"`
	Type        ErrorType              `json:"type"`
	Severity    Severity               `json:"severity"`
	Retryable   bool                   `json:"retryable"`
	Component   string                 `json:"component"`
	Operation   string                 `json:"operation"`
	Context     map[string]interface{} `json:"context"`
	Timestamp   time.Time              `json:"timestamp"`
	Attempts    int                    `json:"attempts"`
	LastAttempt time.Time              `json:"last_attempt"`
}

// Error implements the error interface
func (ce *ClassifiedError) Error() string {
	return fmt.Sprintf("[%s/%s] %s: %v", ce.Component, ce.Type, ce.Operation, ce.Err)
}

// Unwrap returns the underlying error
func (ce *ClassifiedError) Unwrap() error {
	return ce.Err
}

// Is matches another ClassifiedError by type, otherwise defers to the cause.
func (ce *ClassifiedError) Is(target error) bool {
	if t, ok := target.(*ClassifiedError); ok {
		return ce.Type == t.Type
	}
	return errors.Is(ce.Err, target)
}

// WithContext attaches a key/value pair and returns the receiver.
func (ce *ClassifiedError) WithContext(key string, value interface{}) *ClassifiedError {
	if ce.Context == nil {
		ce.Context = make(map[string]interface{})
	}
	ce.Context[key] = value
	return ce
}

// ErrorStats tracks error statistics for monitoring
type ErrorStats struct {
	Count     int64     `json:"count"`
	LastSeen  time.Time `json:"last_seen"`
	FirstSeen time.Time `json:"first_seen"`
	Retries   int64     `json:"retries"`
}

// ErrorClassifier handles error classification and retry logic
type ErrorClassifier struct {
	config config.ErrorHandlingConfig
	logger *slog.Logger

	mu        sync.RWMutex
	stats     map[ErrorType]ErrorStats
	successes int64
	breakers  map[string]*CircuitBreaker
}

// NewErrorClassifier creates a new error classifier with the given configuration
func NewErrorClassifier(cfg config.ErrorHandlingConfig, logger *slog.Logger) *ErrorClassifier {
	if logger == nil {
		logger = slog.Default()
	}

	return &ErrorClassifier{
		config:   cfg,
		logger:   logger,
		stats:    make(map[ErrorType]ErrorStats),
		breakers: make(map[string]*CircuitBreaker),
	}
}

// Classify analyzes an error and returns a ClassifiedError with retry metadata
func (ec *ErrorClassifier) Classify(err error, component, operation string) *ClassifiedError {
	if err == nil {
		return nil
	}

	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce
	}

	errorType := classifyErrorType(err)
	severity := determineSeverity(errorType)
	retryable := ec.isRetryable(errorType)

	classified := &ClassifiedError{
		Err:       err,
		Type:      errorType,
		Severity:  severity,
		Retryable: retryable,
		Component: component,
		Operation: operation,
		Context:   make(map[string]interface{}),
		Timestamp: time.Now(),
	}

	ec.updateStats(errorType, false)

	ec.logger.Debug("error classified",
		"type", errorType,
		"severity", severity.String(),
		"retryable", retryable,
		"component", component,
		"operation", operation,
		"error", err.Error())

	return classified
}

// classifyErrorType determines the error type from sentinels first, then
// from well known driver messages.
func classifyErrorType(err error) ErrorType {
	switch {
	case models.IsValidationError(err):
		return ErrorTypeValidation
	case errors.Is(err, ErrNotFound):
		return ErrorTypeNotFound
	case errors.Is(err, ErrConflict):
		return ErrorTypeConflict
	case errors.Is(err, context.Canceled):
		return ErrorTypeCanceled
	case errors.Is(err, context.DeadlineExceeded):
		return ErrorTypeTimeout
	case errors.Is(err, driver.ErrBadConn):
		return ErrorTypeStorage
	}

	if isTimeoutError(err) {
		return ErrorTypeTimeout
	}
	if isNetworkError(err) {
		return ErrorTypeNetwork
	}

	errStr := strings.ToLower(err.Error())
	switch {
	case containsAny(errStr, "database is locked", "could not set lock", "conflict on tuple",
		"too many connections", "deadlock detected", "serialization failure"):
		return ErrorTypeStorage
	case containsAny(errStr, "rate limit", "too many requests"):
		return ErrorTypeRateLimit
	case containsAny(errStr, "not found", "does not exist"):
		return ErrorTypeNotFound
	case containsAny(errStr, "already exists", "already enrolled", "duplicate key"):
		return ErrorTypeConflict
	case containsAny(errStr, "validation", "invalid", "malformed", "parse"):
		return ErrorTypeValidation
	case containsAny(errStr, "config", "not configured", "missing required"):
		return ErrorTypeConfiguration
	case containsAny(errStr, "panic", "runtime error"):
		return ErrorTypePanic
	case containsAny(errStr, "temporarily unavailable", "try again"):
		return ErrorTypeTemporary
	}

	return ErrorTypeUnknown
}

func containsAny(s string, patterns ...string) bool {
	for _, p := range patterns {
		if strings.Contains(s, p) {
			return true
		}
	}
	return false
}

// isNetworkError checks if the error is network-related
func isNetworkError(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	return containsAny(strings.ToLower(err.Error()),
		"connection refused",
		"connection reset",
		"broken pipe",
		"no route to host",
		"host unreachable",
		"network unreachable",
		"no such host",
	)
}

// isTimeoutError checks if the error is timeout-related
func isTimeoutError(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	return containsAny(strings.ToLower(err.Error()), "timeout", "deadline exceeded", "timed out")
}

// determineSeverity assigns a severity level based on error type
func determineSeverity(errorType ErrorType) Severity {
	switch errorType {
	case ErrorTypePanic:
		return SeverityCritical
	case ErrorTypeConfiguration, ErrorTypeInternal:
		return SeverityHigh
	case ErrorTypeNetwork, ErrorTypeTimeout, ErrorTypeRateLimit, ErrorTypeCanceled,
		ErrorTypeValidation, ErrorTypeNotFound, ErrorTypeConflict:
		return SeverityLow
	default:
		return SeverityMedium
	}
}

// isRetryable determines if an error type should be retried
func (ec *ErrorClassifier) isRetryable(errorType ErrorType) bool {
	for _, retryableType := range ec.config.GlobalRetryPolicy.RetryableErrors {
		if string(errorType) == retryableType {
			return true
		}
	}

	switch errorType {
	case ErrorTypeNetwork, ErrorTypeTimeout, ErrorTypeStorage, ErrorTypeTemporary, ErrorTypeCircuitOpen:
		return true
	default:
		return false
	}
}

func (ec *ErrorClassifier) updateStats(errorType ErrorType, retried bool) {
	ec.mu.Lock()
	defer ec.mu.Unlock()

	stats := ec.stats[errorType]
	if retried {
		stats.Retries++
	} else {
		stats.Count++
		stats.LastSeen = time.Now()
		if stats.FirstSeen.IsZero() {
			stats.FirstSeen = stats.LastSeen
		}
	}
	ec.stats[errorType] = stats
}

// Retry executes fn until it succeeds, returns a non-retryable error, the
// component's retry policy is exhausted or ctx is done.
func (ec *ErrorClassifier) Retry(ctx context.Context, component, operation string, fn func() error) error {
	policy := ec.getRetryPolicy(component)
	strategy := ec.createBackoffStrategy(policy)

	var lastErr *ClassifiedError
	attempts := 0

	for {
		attempts++

		err := fn()
		if err == nil {
			ec.recordSuccess(component, operation, attempts)
			return nil
		}

		lastErr = ec.Classify(err, component, operation)
		lastErr.Attempts = attempts
		lastErr.LastAttempt = time.Now()

		ec.logger.Warn("operation failed",
			"component", component,
			"operation", operation,
			"attempt", attempts,
			"max_attempts", policy.MaxAttempts,
			"error_type", lastErr.Type,
			"retryable", lastErr.Retryable,
			"error", err.Error())

		if !lastErr.Retryable || attempts >= policy.MaxAttempts {
			break
		}
		if ctx.Err() != nil {
			return fmt.Errorf("context canceled during retry: %w", ctx.Err())
		}

		next := strategy.NextBackOff()
		if next == backoff.Stop {
			break
		}
		ec.updateStats(lastErr.Type, true)

		timer := time.NewTimer(next)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("context canceled during backoff: %w", ctx.Err())
		}
	}

	ec.logger.Error("operation failed after all retries",
		"component", component,
		"operation", operation,
		"attempts", attempts)
	return fmt.Errorf("operation failed after %d attempts: %w", attempts, lastErr)
}

// getRetryPolicy returns the component policy, falling back to the global one.
func (ec *ErrorClassifier) getRetryPolicy(component string) config.RetryPolicyConfig {
	policy := ec.config.GlobalRetryPolicy
	if p, exists := ec.config.ComponentPolicies[component]; exists {
		policy = p
	}
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = 1
	}
	return policy
}

// createBackoffStrategy creates a backoff strategy based on configuration
func (ec *ErrorClassifier) createBackoffStrategy(policy config.RetryPolicyConfig) backoff.BackOff {
	initialDelay := config.ParseDurationOr(policy.InitialDelay, 500*time.Millisecond)
	maxDelay := config.ParseDurationOr(policy.MaxDelay, 10*time.Second)

	var strategy backoff.BackOff
	switch policy.BackoffStrategy {
	case "fixed":
		strategy = backoff.NewConstantBackOff(initialDelay)
	case "linear":
		strategy = &LinearBackoff{interval: initialDelay, max: maxDelay}
	default:
		exponential := backoff.NewExponentialBackOff()
		exponential.InitialInterval = initialDelay
		exponential.MaxInterval = maxDelay
		exponential.MaxElapsedTime = 0
		exponential.RandomizationFactor = 0
		strategy = exponential
	}

	if policy.Jitter {
		strategy = &JitteredBackoff{BackOff: strategy}
	}

	strategy.Reset()
	return backoff.WithMaxRetries(strategy, uint64(policy.MaxAttempts-1))
}

func (ec *ErrorClassifier) recordSuccess(component, operation string, attempts int) {
	ec.mu.Lock()
	ec.successes++
	ec.mu.Unlock()

	ec.logger.Debug("operation succeeded",
		"component", component,
		"operation", operation,
		"attempts", attempts)
}

// GetStats returns a copy of the error statistics
func (ec *ErrorClassifier) GetStats() map[ErrorType]ErrorStats {
	ec.mu.RLock()
	defer ec.mu.RUnlock()

	stats := make(map[ErrorType]ErrorStats, len(ec.stats))
	for k, v := range ec.stats {
		stats[k] = v
	}
	return stats
}

// Successes returns how many Retry calls eventually succeeded.
func (ec *ErrorClassifier) Successes() int64 {
	ec.mu.RLock()
	defer ec.mu.RUnlock()
	return ec.successes
}

// CircuitBreaker returns the named breaker, creating it on first use. When
// circuit breaking is disabled the breaker never opens.
func (ec *ErrorClassifier) CircuitBreaker(name string) *CircuitBreaker {
	ec.mu.Lock()
	defer ec.mu.Unlock()

	if cb, ok := ec.breakers[name]; ok {
		return cb
	}
	cfg := ec.config.CircuitBreakerConfig
	if !ec.config.EnableCircuitBreaker {
		cfg.FailureThreshold = 0
	}
	cb := NewCircuitBreaker(name, cfg)
	ec.breakers[name] = cb
	return cb
}

// CircuitState represents the state of a circuit breaker
type CircuitState int

const (
	CircuitClosed CircuitState = iota
	CircuitOpen
	CircuitHalfOpen
)

// String returns the string representation of the circuit state
func (cs CircuitState) String() string {
	switch cs {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreaker stops calling a failing backend for RecoveryTimeout after
// FailureThreshold consecutive failures. A threshold of zero disables it.
type CircuitBreaker struct {
	name   string
	config config.CircuitBreakerConfig
	now    func() time.Time

	mu          sync.Mutex
	state       CircuitState
	failures    int
	nextRetry   time.Time
	inFlight    int
	halfOpenOKs int
}

// NewCircuitBreaker creates a new circuit breaker
func NewCircuitBreaker(name string, cfg config.CircuitBreakerConfig) *CircuitBreaker {
	if cfg.HalfOpenRequests <= 0 {
		cfg.HalfOpenRequests = 1
	}
	return &CircuitBreaker{
		name:   name,
		config: cfg,
		now:    time.Now,
		state:  CircuitClosed,
	}
}

// Call executes fn through the circuit breaker
func (cb *CircuitBreaker) Call(fn func() error) error {
	if !cb.allowRequest() {
		return &ClassifiedError{
			Err:       fmt.Errorf("circuit breaker is open for %s", cb.name),
			Type:      ErrorTypeCircuitOpen,
			Severity:  SeverityMedium,
			Retryable: true,
			Component: "circuit_breaker",
			Operation: cb.name,
			Timestamp: cb.now(),
		}
	}

	err := fn()
	cb.recordResult(err)
	return err
}

func (cb *CircuitBreaker) allowRequest() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitOpen:
		if cb.now().Before(cb.nextRetry) {
			return false
		}
		cb.state = CircuitHalfOpen
		cb.inFlight = 0
		cb.halfOpenOKs = 0
		fallthrough
	case CircuitHalfOpen:
		if cb.inFlight >= cb.config.HalfOpenRequests {
			return false
		}
		cb.inFlight++
		return true
	default:
		return true
	}
}

func (cb *CircuitBreaker) recordResult(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err == nil {
		cb.onSuccess()
	} else {
		cb.onFailure()
	}
}

func (cb *CircuitBreaker) onSuccess() {
	switch cb.state {
	case CircuitHalfOpen:
		cb.halfOpenOKs++
		if cb.halfOpenOKs >= cb.config.HalfOpenRequests {
			cb.state = CircuitClosed
			cb.failures = 0
		}
	case CircuitClosed:
		cb.failures = 0
	}
}

func (cb *CircuitBreaker) onFailure() {
	cb.failures++

	switch cb.state {
	case CircuitClosed:
		if cb.config.FailureThreshold > 0 && cb.failures >= cb.config.FailureThreshold {
			cb.open()
		}
	case CircuitHalfOpen:
		cb.open()
	}
}

func (cb *CircuitBreaker) open() {
	cb.state = CircuitOpen
	cb.nextRetry = cb.now().Add(config.ParseDurationOr(cb.config.RecoveryTimeout, 30*time.Second))
}

// GetState returns the current state of the circuit breaker
func (cb *CircuitBreaker) GetState() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// LinearBackoff grows the delay by a fixed interval up to max
type LinearBackoff struct {
	interval time.Duration
	max      time.Duration
	current  time.Duration
}

// NextBackOff returns the next backoff interval
func (lb *LinearBackoff) NextBackOff() time.Duration {
	lb.current += lb.interval
	if lb.current > lb.max {
		lb.current = lb.max
	}
	return lb.current
}

// Reset resets the backoff to its initial state
func (lb *LinearBackoff) Reset() {
	lb.current = 0
}

// JitteredBackoff adds ±10% jitter to another backoff strategy
type JitteredBackoff struct {
	backoff.BackOff
}

// NextBackOff returns the next backoff interval with jitter
func (jb *JitteredBackoff) NextBackOff() time.Duration {
	next := jb.BackOff.NextBackOff()
	if next == backoff.Stop {
		return next
	}

	jitter := float64(next) * 0.1
	return next + time.Duration((rand.Float64()*2-1)*jitter)
}

// WrapError wraps an error with additional context
func WrapError(err error, component, operation, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s in %s.%s: %w", message, component, operation, err)
}

// IsRetryable checks if an error is retryable
func IsRetryable(err error) bool {
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Retryable
	}
	return false
}

// GetErrorType returns the type of a classified error, classifying
// unclassified errors on the fly.
func GetErrorType(err error) ErrorType {
	if err == nil {
		return ErrorTypeUnknown
	}
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Type
	}
	return classifyErrorType(err)
}

// GetSeverity extracts the severity from a classified error
func GetSeverity(err error) Severity {
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Severity
	}
	return SeverityMedium
}

// HTTPStatus maps an error to the status code returned at the HTTP boundary.
func HTTPStatus(err error) int {
	switch GetErrorType(err) {
	case ErrorTypeValidation, ErrorTypeConflict:
		return http.StatusBadRequest
	case ErrorTypeNotFound:
		return http.StatusNotFound
	case ErrorTypeRateLimit:
		return http.StatusTooManyRequests
	case ErrorTypeTimeout:
		return http.StatusGatewayTimeout
	case ErrorTypeNetwork, ErrorTypeStorage, ErrorTypeCircuitOpen:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
