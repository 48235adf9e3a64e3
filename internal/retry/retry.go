// Package retry runs operations under a bounded exponential-backoff policy.
package retry

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/eddiefleurent/scranton_condor/internal/logging"
)

// Config bounds a retry loop.
type Config struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Timeout        time.Duration // overall budget across attempts, 0 for none
}

// DefaultConfig is used for unset or invalid fields.
var DefaultConfig = Config{
	MaxAttempts:    4,
	InitialBackoff: 1 * time.Second,
	MaxBackoff:     30 * time.Second,
	Timeout:        2 * time.Minute,
}

// Temporary is implemented by errors that know whether they are worth retrying.
type Temporary interface {
	Temporary() bool
}

// Policy retries transient failures.
type Policy struct {
	logger *logrus.Logger
	sleep  func(ctx context.Context, d time.Duration) error
	config Config
}

// NewPolicy creates a Policy, sanitizing config against DefaultConfig.
func NewPolicy(config Config, logger *logrus.Logger) *Policy {
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = DefaultConfig.MaxAttempts
	}
	if config.InitialBackoff <= 0 {
		config.InitialBackoff = DefaultConfig.InitialBackoff
	}
	if config.MaxBackoff <= 0 {
		config.MaxBackoff = DefaultConfig.MaxBackoff
	}
	if config.MaxBackoff < config.InitialBackoff {
		config.MaxBackoff = config.InitialBackoff
	}
	if config.Timeout < 0 {
		config.Timeout = 0
	}
	return &Policy{
		logger: logging.OrDiscard(logger),
		sleep:  sleepCtx,
		config: config,
	}
}

// Config returns the sanitized configuration
func (p *Policy) Config() Config {
	return p.config
}

// Do runs fn until it succeeds, returns a permanent error, or attempts run out.
func (p *Policy) Do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	_, err := Do(ctx, p, op, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// Do is the value-returning form of Policy.Do.
func Do[T any](ctx context.Context, p *Policy, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if p.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.config.Timeout)
		defer cancel()
	}

	var lastErr error
	backoff := p.config.InitialBackoff

	for attempt := 1; attempt <= p.config.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return zero, fmt.Errorf("%s canceled after %d attempts: %w", op, attempt-1, lastErr)
			}
			return zero, fmt.Errorf("%s canceled: %w", op, err)
		}

		v, err := fn(ctx)
		if err == nil {
			if attempt > 1 {
				p.logger.WithFields(logrus.Fields{"op": op, "attempt": attempt}).Info("Operation succeeded after retry")
			}
			return v, nil
		}
		lastErr = err

		if !IsTransient(err) {
			return zero, err
		}
		if attempt == p.config.MaxAttempts {
			break
		}

		p.logger.WithFields(logrus.Fields{
			"op":      op,
			"attempt": attempt,
			"backoff": backoff,
		}).WithError(err).Warn("Transient error, retrying")

		if err := p.sleep(ctx, backoff); err != nil {
			return zero, fmt.Errorf("%s canceled during backoff: %w", op, lastErr)
		}
		backoff = p.nextBackoff(backoff)
	}

	return zero, fmt.Errorf("%s failed after %d attempts: %w", op, p.config.MaxAttempts, lastErr)
}

func (p *Policy) nextBackoff(current time.Duration) time.Duration {
	backoff := time.Duration(float64(current) * 1.5)
	if backoff > p.config.MaxBackoff {
		backoff = p.config.MaxBackoff
	}

	maxJitter := int64(backoff / 4)
	if maxJitter > 0 {
		jitterVal, err := rand.Int(rand.Reader, big.NewInt(maxJitter))
		if err != nil {
			p.logger.WithError(err).Debug("Failed to generate jitter")
		} else {
			backoff += time.Duration(jitterVal.Int64())
		}
	}

	return backoff
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// IsTransient reports whether err is worth retrying. Errors implementing
// Temporary decide for themselves; otherwise common network failure text is
// matched.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var tmp Temporary
	if errors.As(err, &tmp) {
		return tmp.Temporary()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	errStr := strings.ToLower(err.Error())

	transientPatterns := []string{
		"timeout",
		"connection refused",
		"connection reset",
		"temporary failure",
		"server error",
		"rate limit",
		"429", // HTTP 429 Too Many Requests
		"502", // HTTP 502 Bad Gateway
		"503", // HTTP 503 Service Unavailable
		"504", // HTTP 504 Gateway Timeout
		"network",
		"dns",
		"tcp",
	}

	for _, pattern := range transientPatterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}

	return false
}
