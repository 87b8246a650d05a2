package monitor

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type countingRefresher struct {
	calls atomic.Int32
	err   error
}

func (r *countingRefresher) RefreshStale(context.Context) ([]Result, error) {
	r.calls.Add(1)
	if r.err != nil {
		return nil, r.err
	}
	return []Result{{ID: "a", Outcome: OutcomeSuccess}, {ID: "b", Outcome: OutcomeNoRoutine}}, nil
}

func TestSchedulerDisabled(t *testing.T) {
	t.Parallel()

	refresher := &countingRefresher{}
	s := NewScheduler(refresher, 0, nil)
	require.False(t, s.Enabled())

	done := make(chan struct{})
	go func() {
		s.Run(context.Background())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("disabled scheduler should return immediately")
	}
	require.Zero(t, refresher.calls.Load())
}

func TestSchedulerRunsUntilCanceled(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.InfoLevel)
	refresher := &countingRefresher{}
	s := NewScheduler(refresher, 10*time.Millisecond, zap.New(core))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()
	require.Eventually(t, func() bool { return refresher.calls.Load() >= 2 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	<-done

	entries := logs.FilterMessage("scheduled refresh finished").All()
	require.NotEmpty(t, entries)
	fields := entries[0].ContextMap()
	require.EqualValues(t, 2, fields["items"])
	require.EqualValues(t, 1, fields["no_routine"])
}

func TestSchedulerLogsErrors(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.InfoLevel)
	s := NewScheduler(&countingRefresher{err: errors.New("db down")}, time.Hour, zap.New(core))
	s.runOnce(context.Background())
	require.Equal(t, 1, logs.FilterMessage("scheduled refresh failed").Len())
}
