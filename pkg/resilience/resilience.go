// Package resilience guards calls to flaky dependencies with a circuit
// breaker and bounded retries.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"teamchat-backend/pkg/logger"
)

// ErrCircuitOpen is returned without calling the dependency while the
// breaker is open
var ErrCircuitOpen = errors.New("circuit breaker open")

// CircuitBreakerState represents the state of the circuit breaker
type CircuitBreakerState string

const (
	CircuitBreakerClosed   CircuitBreakerState = "closed"
	CircuitBreakerHalfOpen CircuitBreakerState = "half_open"
	CircuitBreakerOpen     CircuitBreakerState = "open"
)

const (
	defaultFailureThreshold = 3
	defaultCooldown         = 10 * time.Second
	initialBackoff          = 100 * time.Millisecond
	maxBackoff              = 2 * time.Second
)

type breakerMetrics struct {
	requestsTotal *prometheus.CounterVec
	errorsTotal   *prometheus.CounterVec
	state         prometheus.Gauge
}

// CircuitBreaker opens after consecutive failures and rejects calls until
// a cooldown passes. The first call after the cooldown is a probe: success
// closes the breaker, failure opens it again.
type CircuitBreaker struct {
	name      string
	threshold int
	cooldown  time.Duration
	now       func() time.Time
	metrics   *breakerMetrics

	mu       sync.Mutex
	state    CircuitBreakerState
	failures int
	openedAt time.Time
	probing  bool
}

// NewCircuitBreaker creates a closed breaker named after the dependency it
// guards. Metrics are registered on reg when it is not nil.
func NewCircuitBreaker(name string, reg prometheus.Registerer) *CircuitBreaker {
	factory := promauto.With(reg)
	labels := prometheus.Labels{"dependency": name}

	return &CircuitBreaker{
		name:      name,
		threshold: defaultFailureThreshold,
		cooldown:  defaultCooldown,
		now:       time.Now,
		state:     CircuitBreakerClosed,
		metrics: &breakerMetrics{
			requestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
				Name:        "dependency_requests_total",
				Help:        "Calls through a circuit breaker by operation and outcome",
				ConstLabels: labels,
			}, []string{"operation", "status"}),
			errorsTotal: factory.NewCounterVec(prometheus.CounterOpts{
				Name:        "dependency_errors_total",
				Help:        "Failed calls through a circuit breaker by error type",
				ConstLabels: labels,
			}, []string{"operation", "error_type"}),
			state: factory.NewGauge(prometheus.GaugeOpts{
				Name:        "dependency_circuit_breaker_state",
				Help:        "State of the circuit breaker (0=closed, 1=half_open, 2=open)",
				ConstLabels: labels,
			}),
		},
	}
}

// Execute runs fn once if the breaker allows it
func (b *CircuitBreaker) Execute(ctx context.Context, operation string, fn func(ctx context.Context) error) error {
	if !b.allow() {
		b.metrics.requestsTotal.WithLabelValues(operation, "rejected").Inc()
		return fmt.Errorf("%s %s: %w", b.name, operation, ErrCircuitOpen)
	}

	err := fn(ctx)
	b.record(operation, err)
	return err
}

// Retry runs an idempotent fn up to attempts times with linear backoff.
// It stops early when the breaker opens or ctx is done.
func (b *CircuitBreaker) Retry(ctx context.Context, operation string, attempts int, fn func(ctx context.Context) error) error {
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		err = b.Execute(ctx, operation, fn)
		if err == nil || errors.Is(err, ErrCircuitOpen) || attempt == attempts {
			return err
		}

		backoff := time.Duration(attempt) * initialBackoff
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
		logger.Warn("Dependency call failed, retrying",
			zap.String("dependency", b.name),
			zap.String("operation", operation),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", backoff),
			zap.Error(err))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}
	return err
}

// State returns the current circuit breaker state
func (b *CircuitBreaker) State() CircuitBreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *CircuitBreaker) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case CircuitBreakerOpen:
		if b.now().Sub(b.openedAt) < b.cooldown {
			return false
		}
		b.setState(CircuitBreakerHalfOpen)
		b.probing = true
		return true
	case CircuitBreakerHalfOpen:
		// one probe at a time
		if b.probing {
			return false
		}
		b.probing = true
		return true
	}
	return true
}

func (b *CircuitBreaker) record(operation string, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.probing = false
	if err == nil {
		b.metrics.requestsTotal.WithLabelValues(operation, "success").Inc()
		b.failures = 0
		if b.state != CircuitBreakerClosed {
			b.setState(CircuitBreakerClosed)
			logger.Info("Circuit breaker closed", zap.String("dependency", b.name))
		}
		return
	}

	b.metrics.requestsTotal.WithLabelValues(operation, "failure").Inc()
	b.metrics.errorsTotal.WithLabelValues(operation, classifyError(err)).Inc()
	b.failures++

	if b.state == CircuitBreakerHalfOpen || b.failures >= b.threshold {
		if b.state != CircuitBreakerOpen {
			logger.Error("Circuit breaker opened",
				zap.String("dependency", b.name),
				zap.String("operation", operation),
				zap.Int("consecutive_failures", b.failures),
				zap.Error(err))
		}
		b.openedAt = b.now()
		b.setState(CircuitBreakerOpen)
	}
}

func (b *CircuitBreaker) setState(state CircuitBreakerState) {
	b.state = state
	switch state {
	case CircuitBreakerClosed:
		b.metrics.state.Set(0)
	case CircuitBreakerHalfOpen:
		b.metrics.state.Set(1)
	case CircuitBreakerOpen:
		b.metrics.state.Set(2)
	}
}

// classifyError classifies errors for better metrics
func classifyError(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}

	errMsg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(errMsg, "timeout") || strings.Contains(errMsg, "deadline exceeded"):
		return "timeout"
	case strings.Contains(errMsg, "connection refused") || strings.Contains(errMsg, "network unreachable"):
		return "network"
	case strings.Contains(errMsg, "no such host") || strings.Contains(errMsg, "dns"):
		return "dns"
	case strings.Contains(errMsg, "not found") || strings.Contains(errMsg, "no such key"):
		return "not_found"
	case strings.Contains(errMsg, "permission denied") || strings.Contains(errMsg, "access denied"):
		return "permission"
	default:
		return "unknown"
	}
}
