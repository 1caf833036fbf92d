// Package recovery wraps broker order submission with the retry/backoff
// policy implied by the error taxonomy in internal/errors: a transient or
// network failure gets retried with exponential backoff, a rate limit waits
// longer, and a fatal or precondition failure is never retried.
package recovery

import (
	"context"
	"fmt"
	"time"

	tradingerrors "github.com/ducminhle1904/crypto-dca-bot/internal/errors"
)

// Logger is the subset of *logger.Logger the recovery handler needs.
type Logger interface {
	Info(format string, args ...interface{})
	Warning(format string, args ...interface{})
	Error(format string, args ...interface{})
	LogDebugOnly(format string, args ...interface{})
}

// NoopLogger discards everything, for tests and callers with no logger wired.
type NoopLogger struct{}

func (NoopLogger) Info(string, ...interface{})        {}
func (NoopLogger) Warning(string, ...interface{})     {}
func (NoopLogger) Error(string, ...interface{})       {}
func (NoopLogger) LogDebugOnly(string, ...interface{}) {}

// Handler retries an operation according to its error category, tracking
// recent-error statistics so a persistent failure pattern stops retrying
// instead of spinning forever.
type Handler struct {
	errorStats    *tradingerrors.ErrorStats
	retryConfig   RetryConfig
	backoffConfig BackoffConfig
	log           Logger
}

// RetryConfig caps retry attempts per error category.
type RetryConfig struct {
	MaxRetries map[tradingerrors.ErrorCategory]int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

// BackoffConfig controls how the delay grows between attempts.
type BackoffConfig struct {
	Strategy   BackoffStrategy
	Multiplier float64
	Jitter     bool
	MaxBackoff time.Duration
}

type BackoffStrategy string

const (
	BackoffExponential BackoffStrategy = "exponential"
	BackoffLinear      BackoffStrategy = "linear"
	BackoffFixed       BackoffStrategy = "fixed"
)

// Result is one recovery decision for a failed attempt.
type Result struct {
	Action     tradingerrors.RecoveryAction
	Delay      time.Duration
	ShouldStop bool
	Message    string
}

// NewHandler builds a recovery handler with the daemon's default retry and
// backoff policy: network/timeout/transient errors retry a handful of
// times, rate limits wait 30 seconds (the MaxDelay cap) between attempts, order and position
// errors get at most a couple of retries since they usually mean the
// request itself was wrong rather than the transport.
func NewHandler(log Logger) *Handler {
	return &Handler{
		errorStats: tradingerrors.NewErrorStats(50),
		retryConfig: RetryConfig{
			MaxRetries: map[tradingerrors.ErrorCategory]int{
				tradingerrors.CategoryNetwork:    5,
				tradingerrors.CategoryTimeout:    3,
				tradingerrors.CategoryTransient:  3,
				tradingerrors.CategoryRateLimit:  10,
				tradingerrors.CategoryOrder:      2,
				tradingerrors.CategoryPosition:   3,
				tradingerrors.CategoryPersistence: 3,
			},
			BaseDelay: 1 * time.Second,
			MaxDelay:  30 * time.Second,
		},
		backoffConfig: BackoffConfig{
			Strategy:   BackoffExponential,
			Multiplier: 1.5,
			Jitter:     true,
			MaxBackoff: 5 * time.Minute,
		},
		log: log,
	}
}

// HandleError classifies err and decides whether to retry, wait, skip, or stop.
func (h *Handler) HandleError(err error, component, operation string, attempt int) *Result {
	te := tradingerrors.CategorizeError(err, component, operation)
	h.errorStats.RecordError(te)
	h.logError(te, attempt)

	if h.shouldStop(te, attempt) {
		return &Result{Action: tradingerrors.RecoveryActionStop, ShouldStop: true, Message: h.stopReason(te, attempt)}
	}

	delay := h.calculateDelay(te.Category, attempt)
	return &Result{Action: te.GetRecoveryAction(), Delay: delay, Message: h.recoveryMessage(te.GetRecoveryAction(), te, attempt)}
}

func (h *Handler) shouldStop(te *tradingerrors.TradingError, attempt int) bool {
	if te.IsFatal() {
		return true
	}
	if max, ok := h.retryConfig.MaxRetries[te.Category]; ok && attempt > max {
		h.log.Error("recovery: max retries exceeded for %s (%d attempts)", te.Category, attempt)
		return true
	}
	if h.errorStats.HasRecentErrors(te.Category, 10) {
		h.log.Error("recovery: too many recent %s errors, stopping for safety", te.Category)
		return true
	}
	if h.errorStats.GetErrorRate(tradingerrors.CategoryCredentials) > 0.5 {
		h.log.Error("recovery: high credentials error rate, stopping")
		return true
	}
	return false
}

func (h *Handler) calculateDelay(category tradingerrors.ErrorCategory, attempt int) time.Duration {
	base := h.retryConfig.BaseDelay
	if category == tradingerrors.CategoryRateLimit {
		base = 30 * time.Second
	}

	var delay time.Duration
	switch h.backoffConfig.Strategy {
	case BackoffExponential:
		mult := 1.0
		for i := 0; i < attempt; i++ {
			mult *= h.backoffConfig.Multiplier
		}
		delay = time.Duration(float64(base) * mult)
	case BackoffLinear:
		delay = base * time.Duration(attempt+1)
	default:
		delay = base
	}

	if delay > h.retryConfig.MaxDelay {
		delay = h.retryConfig.MaxDelay
	}
	if delay > h.backoffConfig.MaxBackoff {
		delay = h.backoffConfig.MaxBackoff
	}
	if h.backoffConfig.Jitter && delay > 0 {
		delay = addJitter(delay)
	}
	return delay
}

func addJitter(delay time.Duration) time.Duration {
	jitter := time.Duration(float64(delay) * 0.1)
	if jitter <= 0 {
		return delay
	}
	return delay + time.Duration(time.Now().UnixNano()%int64(jitter))
}

func (h *Handler) logError(te *tradingerrors.TradingError, attempt int) {
	switch {
	case te.IsFatal():
		h.log.Error("recovery: fatal error: %s", te.Error())
	case attempt > 1:
		h.log.Warning("recovery: attempt %d - %s", attempt, te.Error())
	default:
		h.log.LogDebugOnly("recovery: %s", te.Error())
	}
}

func (h *Handler) recoveryMessage(action tradingerrors.RecoveryAction, te *tradingerrors.TradingError, attempt int) string {
	switch action {
	case tradingerrors.RecoveryActionRetry:
		return fmt.Sprintf("retrying %s (attempt %d) after %s error", te.Operation, attempt+1, te.Category)
	case tradingerrors.RecoveryActionWait:
		return fmt.Sprintf("waiting before retry due to %s", te.Category)
	case tradingerrors.RecoveryActionSkip:
		return fmt.Sprintf("skipping operation due to non-retryable %s error", te.Category)
	case tradingerrors.RecoveryActionStop:
		return fmt.Sprintf("stopping due to %s error", te.Category)
	default:
		return fmt.Sprintf("unhandled recovery action for %s error", te.Category)
	}
}

func (h *Handler) stopReason(te *tradingerrors.TradingError, attempt int) string {
	if te.IsFatal() {
		return fmt.Sprintf("fatal error in %s: %s", te.Component, te.Message)
	}
	if max, ok := h.retryConfig.MaxRetries[te.Category]; ok && attempt > max {
		return fmt.Sprintf("maximum retry attempts (%d) exceeded for %s errors", max, te.Category)
	}
	return "critical error pattern detected"
}

// maxAttempts hard-caps ExecuteWithRecovery regardless of per-category
// retry budgets, so a misconfigured RetryConfig can't loop forever.
const maxAttempts = 10

// ExecuteWithRecovery runs fn, retrying per the category-specific policy
// until it succeeds, a non-retryable category is hit, or maxAttempts is
// reached. Used to wrap broker order submission (orders.submitBuy and
// submitSell), the call sites that can see transient network failures
// against a live venue; market-data calls go through the monitor's circuit
// breaker instead.
func (h *Handler) ExecuteWithRecovery(ctx context.Context, component, operation string, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		if err := fn(); err == nil {
			if attempt > 0 {
				h.log.Info("recovery: %s.%s succeeded after %d attempts", component, operation, attempt+1)
			}
			return nil
		} else {
			lastErr = err
		}

		result := h.HandleError(lastErr, component, operation, attempt)
		if result.ShouldStop {
			h.log.Error("recovery: stopping %s.%s: %s", component, operation, result.Message)
			return lastErr
		}

		switch result.Action {
		case tradingerrors.RecoveryActionSkip:
			h.log.Warning("recovery: skipping %s.%s: %s", component, operation, result.Message)
			return lastErr
		case tradingerrors.RecoveryActionRetry, tradingerrors.RecoveryActionWait:
			if result.Delay > 0 {
				h.log.LogDebugOnly("recovery: waiting %v before retry: %s", result.Delay, result.Message)
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(result.Delay):
				}
			}
		default:
			h.log.Warning("recovery: unhandled action %s for %s.%s", result.Action, component, operation)
		}
	}
	return fmt.Errorf("%s.%s failed after %d attempts: %w", component, operation, maxAttempts, lastErr)
}

// Stats returns the handler's accumulated error statistics.
func (h *Handler) Stats() *tradingerrors.ErrorStats {
	return h.errorStats
}
