package retry

import (
	"context"
	"errors"
	"log"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/colmturner/sonos-fleet-go/internal/apperrors"
)

func noSleep(context.Context, time.Duration) error { return nil }

func quiet() *log.Logger {
	return log.New(discard{}, "", 0)
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

func TestDo_SucceedsAfterFailures(t *testing.T) {
	calls := 0
	err := Do(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	}, Options{Retries: 3, Logger: quiet(), sleep: noSleep})

	require.NoError(t, err)
	require.Equal(t, 3, calls)
}

func TestDo_ExhaustsExactlyRetries(t *testing.T) {
	calls := 0
	boom := errors.New("boom")
	err := Do(context.Background(), func(context.Context) error {
		calls++
		return boom
	}, Options{Retries: 3, Logger: quiet(), sleep: noSleep})

	require.ErrorIs(t, err, boom)
	require.Equal(t, 3, calls)
}

func TestDo_ProgrammerErrorNotRetried(t *testing.T) {
	calls := 0
	err := Do(context.Background(), func(context.Context) error {
		calls++
		return apperrors.Assert(false, "bad precondition")
	}, Options{Retries: 5, Logger: quiet(), sleep: noSleep})

	require.True(t, apperrors.IsProgrammer(err))
	require.Equal(t, 1, calls)
}

func TestDo_SafeSwallowsError(t *testing.T) {
	err := Do(context.Background(), func(context.Context) error {
		return errors.New("boom")
	}, Options{Retries: 2, OnExhausted: Safe, Logger: quiet(), sleep: noSleep})

	require.NoError(t, err)
}

func TestDo_FatalInvokesHandler(t *testing.T) {
	orig := FatalHandler
	defer func() { FatalHandler = orig }()

	var got error
	FatalHandler = func(err error) { got = err }

	boom := errors.New("boom")
	_ = Do(context.Background(), func(context.Context) error {
		return boom
	}, Options{Retries: 2, OnExhausted: Fatal, Logger: quiet(), sleep: noSleep})

	require.ErrorIs(t, got, boom)
}

func TestDo_ReturnsFirstError(t *testing.T) {
	first := errors.New("first")
	later := errors.New("later")
	calls := 0
	err := Do(context.Background(), func(context.Context) error {
		calls++
		if calls == 1 {
			return first
		}
		return later
	}, Options{Retries: 3, Logger: quiet(), sleep: noSleep})

	require.ErrorIs(t, err, first)
}

func TestDoValue_ReturnsValue(t *testing.T) {
	calls := 0
	got, err := DoValue(context.Background(), func(context.Context) (int, error) {
		calls++
		if calls < 2 {
			return 0, errors.New("transient")
		}
		return 42, nil
	}, Options{Retries: 3, Logger: quiet(), sleep: noSleep})

	require.NoError(t, err)
	require.Equal(t, 42, got)
}

func TestVerify_SucceedsOnNthPoll(t *testing.T) {
	polls := 0
	err := Verify(context.Background(), "thing ready", func() bool {
		polls++
		return polls == 4
	}, VerifyOptions{Retries: 10, sleep: noSleep})

	require.NoError(t, err)
	require.Equal(t, 4, polls)
}

func TestVerify_ExhaustsWithDescriptiveError(t *testing.T) {
	polls := 0
	err := Verify(context.Background(), "volume == 30", func() bool {
		polls++
		return false
	}, VerifyOptions{Retries: 5, sleep: noSleep})

	require.Equal(t, 5, polls)
	require.True(t, apperrors.IsVerify(err))
	require.Contains(t, err.Error(), "volume == 30")
}

func TestVerify_SleepBetweenPolls(t *testing.T) {
	var sleeps int
	countSleep := func(context.Context, time.Duration) error {
		sleeps++
		return nil
	}
	polls := 0
	_ = Verify(context.Background(), "never", func() bool {
		polls++
		return false
	}, VerifyOptions{Retries: 3, sleep: countSleep})

	// no trailing sleep after the final poll
	require.Equal(t, 3, polls)
	require.Equal(t, 2, sleeps)
}
