package oracle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/danielpatrickdp/scenario-miner/internal/scenario"
)

func flakyOracle(failures int, err error) (Oracle, *int) {
	calls := 0
	return Func(func(context.Context, scenario.Batch) (float64, error) {
		calls++
		if calls <= failures {
			return 0, err
		}
		return 0.75, nil
	}), &calls
}

func TestRetryOracleRecoversFromUnavailable(t *testing.T) {
	next, calls := flakyOracle(2, status.Error(codes.Unavailable, "connection refused"))
	r := NewRetryOracle(next, DefaultMaxRetries, time.Millisecond, slog.New(slog.DiscardHandler))

	f, err := r.Evaluate(context.Background(), scenario.Batch{})
	require.NoError(t, err)
	require.Equal(t, 0.75, f)
	require.Equal(t, 3, *calls)
}

func TestRetryOracleGivesUpAfterMaxRetries(t *testing.T) {
	next, calls := flakyOracle(5, status.Error(codes.Unavailable, "down"))
	r := NewRetryOracle(next, DefaultMaxRetries, time.Millisecond, slog.New(slog.DiscardHandler))

	_, err := r.Evaluate(context.Background(), scenario.Batch{})
	require.Equal(t, codes.Unavailable, status.Code(err))
	require.Equal(t, 3, *calls)
}

func TestRetryOracleDoesNotRetryPermanentErrors(t *testing.T) {
	for _, err := range []error{
		ErrNoResults,
		fmt.Errorf("wrapped: %w", ErrNoResults),
		status.Error(codes.Internal, "simulator crashed"),
		errors.New("plain failure"),
	} {
		next, calls := flakyOracle(1, err)
		r := NewRetryOracle(next, DefaultMaxRetries, time.Millisecond, slog.New(slog.DiscardHandler))

		_, got := r.Evaluate(context.Background(), scenario.Batch{})
		require.ErrorIs(t, got, err)
		require.Equal(t, 1, *calls, "error %v", err)
	}
}

func TestRetryOracleStopsOnCancel(t *testing.T) {
	next, calls := flakyOracle(5, status.Error(codes.Unavailable, "down"))
	r := NewRetryOracle(next, DefaultMaxRetries, time.Hour, slog.New(slog.DiscardHandler))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	_, err := r.Evaluate(ctx, scenario.Batch{})
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 1, *calls)
}

func TestTransient(t *testing.T) {
	require.True(t, Transient(status.Error(codes.Unavailable, "")))
	require.True(t, Transient(status.Error(codes.ResourceExhausted, "")))
	require.False(t, Transient(status.Error(codes.NotFound, "")))
	require.False(t, Transient(errors.New("x")))
	require.False(t, Transient(nil))
}
