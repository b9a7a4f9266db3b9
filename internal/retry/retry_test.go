package retry

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

var (
	errRecoverable = errors.New("recoverable")
	errFatal       = errors.New("fatal")
	errRepair      = errors.New("repair failed")
)

func isRecoverable(err error) bool { return errors.Is(err, errRecoverable) }

func TestRepairOnceSuccessFirstTry(t *testing.T) {
	calls, repairs := 0, 0
	got, err := RepairOnce(context.Background(),
		func(context.Context) (string, error) { calls++; return "ok", nil },
		isRecoverable,
		func(context.Context, error) error { repairs++; return nil },
	)
	require.NoError(t, err)
	require.Equal(t, "ok", got)
	require.Equal(t, 1, calls)
	require.Zero(t, repairs)
}

func TestRepairOnceRepairsAndRetries(t *testing.T) {
	calls, repairs := 0, 0
	got, err := RepairOnce(context.Background(),
		func(context.Context) (int, error) {
			calls++
			if calls == 1 {
				return 0, errRecoverable
			}
			return 42, nil
		},
		isRecoverable,
		func(_ context.Context, cause error) error {
			repairs++
			require.ErrorIs(t, cause, errRecoverable)
			return nil
		},
	)
	require.NoError(t, err)
	require.Equal(t, 42, got)
	require.Equal(t, 2, calls)
	require.Equal(t, 1, repairs)
}

func TestRepairOnceRetryFailureReturnedAsIs(t *testing.T) {
	calls, repairs := 0, 0
	_, err := RepairOnce(context.Background(),
		func(context.Context) (int, error) { calls++; return 0, errRecoverable },
		isRecoverable,
		func(context.Context, error) error { repairs++; return nil },
	)
	require.ErrorIs(t, err, errRecoverable)
	require.Equal(t, 2, calls, "never more than two attempts")
	require.Equal(t, 1, repairs, "never more than one repair")
}

func TestRepairOnceRepairFailure(t *testing.T) {
	calls := 0
	_, err := RepairOnce(context.Background(),
		func(context.Context) (int, error) { calls++; return 0, errRecoverable },
		isRecoverable,
		func(context.Context, error) error { return errRepair },
	)
	require.ErrorIs(t, err, errRepair)
	require.Equal(t, 1, calls)
}

func TestRepairOnceNonRecoverablePropagates(t *testing.T) {
	calls, repairs := 0, 0
	_, err := RepairOnce(context.Background(),
		func(context.Context) (int, error) { calls++; return 0, errFatal },
		isRecoverable,
		func(context.Context, error) error { repairs++; return nil },
	)
	require.ErrorIs(t, err, errFatal)
	require.Equal(t, 1, calls)
	require.Zero(t, repairs)
}

func TestRepairOnceCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	calls := 0
	_, err := RepairOnce(ctx,
		func(context.Context) (int, error) { calls++; return 1, nil },
		isRecoverable,
		func(context.Context, error) error { return nil },
	)
	require.ErrorIs(t, err, context.Canceled)
	require.Zero(t, calls)
}
