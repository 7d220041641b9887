package oracle

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/danielpatrickdp/scenario-miner/internal/scenario"
)

// #region constants

// DefaultMaxRetries is 2 retries, 3 total attempts.
const DefaultMaxRetries = 2

// #endregion

// #region retry-oracle

// RetryOracle re-issues evaluations that failed with a transient transport
// error. ErrNoResults and every other error pass through on the first attempt.
type RetryOracle struct {
	next       Oracle
	maxRetries int
	backoff    time.Duration
	logger     *slog.Logger
}

// NewRetryOracle wraps next. backoff doubles after every failed attempt.
func NewRetryOracle(next Oracle, maxRetries int, backoff time.Duration, logger *slog.Logger) *RetryOracle {
	if logger == nil {
		logger = slog.Default()
	}
	return &RetryOracle{next: next, maxRetries: max(maxRetries, 0), backoff: backoff, logger: logger}
}

// Evaluate implements Oracle.
func (r *RetryOracle) Evaluate(ctx context.Context, batch scenario.Batch) (float64, error) {
	wait := r.backoff
	for attempt := 1; ; attempt++ {
		f, err := r.next.Evaluate(ctx, batch)
		if !r.ShouldRetry(attempt, err) {
			return f, err
		}
		r.logger.Warn("transient oracle error, retrying", "attempt", attempt, "wait", wait, "error", err)
		select {
		case <-ctx.Done():
			return 0, errors.Join(err, ctx.Err())
		case <-time.After(wait):
		}
		wait *= 2
	}
}

// #endregion

// #region should-retry

// ShouldRetry reports whether the attempt-th call (1-based), which returned
// err, should be repeated.
func (r *RetryOracle) ShouldRetry(attempt int, err error) bool {
	if err == nil || attempt > r.maxRetries {
		return false
	}
	return Transient(err)
}

// Transient reports whether err is a gRPC status worth retrying.
func Transient(err error) bool {
	if errors.Is(err, ErrNoResults) || errors.Is(err, context.Canceled) {
		return false
	}
	st, ok := status.FromError(err)
	if !ok {
		return false
	}
	switch st.Code() {
	case codes.Unavailable, codes.ResourceExhausted, codes.Aborted:
		return true
	}
	return false
}

// #endregion
