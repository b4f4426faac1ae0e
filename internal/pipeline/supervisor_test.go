package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	shardwelllog "github.com/shardwell/shardwell/internal/telemetry/log"
)

func fastSupervisorConfig(maxAttempts int) SupervisorConfig {
	return SupervisorConfig{
		MaxRestartAttempts: maxAttempts,
		InitialBackoff:     time.Millisecond,
		MaxBackoff:         5 * time.Millisecond,
	}
}

func TestSupervisor_noRestartOnSuccess(t *testing.T) {
	sup := NewSupervisor(fastSupervisorConfig(3), shardwelllog.Nop(), nil)
	calls := 0
	result := sup.Run(context.Background(), func(ctx context.Context, abort *AbortSignal) Result {
		calls++
		return Result{Status: Success}
	})
	assert.Equal(t, Success, result.Status)
	assert.Equal(t, 1, calls)
	assert.Equal(t, int64(0), sup.Stats().NumRestarts.Load())
}

func TestSupervisor_restartsOnFailureUntilSuccess(t *testing.T) {
	sup := NewSupervisor(fastSupervisorConfig(5), shardwelllog.Nop(), nil)
	calls := 0
	result := sup.Run(context.Background(), func(ctx context.Context, abort *AbortSignal) Result {
		calls++
		if calls < 3 {
			return Result{Status: Failure, Err: errors.New("transient")}
		}
		return Result{Status: Success}
	})
	assert.Equal(t, Success, result.Status)
	assert.Equal(t, 3, calls)
	assert.Equal(t, int64(2), sup.Stats().NumRestarts.Load())
}

func TestSupervisor_givesUpAtMaxRestartAttempts(t *testing.T) {
	sup := NewSupervisor(fastSupervisorConfig(2), shardwelllog.Nop(), nil)
	calls := 0
	result := sup.Run(context.Background(), func(ctx context.Context, abort *AbortSignal) Result {
		calls++
		return Result{Status: Failure, Err: errors.New("always fails")}
	})
	assert.Equal(t, Failure, result.Status)
	assert.Equal(t, 3, calls) // initial + 2 restarts
}

func TestSupervisor_neverRestartsAbortedOrFatal(t *testing.T) {
	for _, status := range []ExitStatus{Aborted, Fatal, DownstreamClosed} {
		sup := NewSupervisor(fastSupervisorConfig(5), shardwelllog.Nop(), nil)
		calls := 0
		result := sup.Run(context.Background(), func(ctx context.Context, abort *AbortSignal) Result {
			calls++
			return Result{Status: status}
		})
		assert.Equal(t, status, result.Status)
		assert.Equal(t, 1, calls)
	}
}

func TestSupervisor_ctxCancelStopsWithoutFurtherRestart(t *testing.T) {
	sup := NewSupervisor(SupervisorConfig{
		MaxRestartAttempts: 100,
		InitialBackoff:     time.Hour,
		MaxBackoff:         time.Hour,
	}, shardwelllog.Nop(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	resultCh := make(chan Result, 1)
	go func() {
		resultCh <- sup.Run(ctx, func(ctx context.Context, abort *AbortSignal) Result {
			calls++
			return Result{Status: Failure, Err: errors.New("fails")}
		})
	}()

	require.Eventually(t, func() bool { return calls >= 1 }, time.Second, time.Millisecond)
	cancel()

	select {
	case result := <-resultCh:
		assert.Equal(t, Aborted, result.Status)
	case <-time.After(2 * time.Second):
		t.Fatal("Supervisor.Run should stop promptly on ctx cancel")
	}
}
