package pipeline

import (
	"context"
	"time"

	"github.com/joeycumines/go-catrate"

	shardwelllog "github.com/shardwell/shardwell/internal/telemetry/log"
)

// Runnable is a restartable unit of work: one full pipeline run, returning
// its terminal Result.
type Runnable func(ctx context.Context, abort *AbortSignal) Result

// SupervisorConfig bounds restart behavior.
type SupervisorConfig struct {
	MaxRestartAttempts int
	InitialBackoff     time.Duration
	MaxBackoff         time.Duration
	// RestartRateLimits caps restarts per rolling window, smoothing bursts
	// on top of MaxRestartAttempts' hard cap (e.g. 5 per minute).
	RestartRateLimits map[time.Duration]int
}

// DefaultSupervisorConfig matches the configuration surface's
// max_restart_attempts default plus a conservative burst-smoothing window.
func DefaultSupervisorConfig() SupervisorConfig {
	return SupervisorConfig{
		MaxRestartAttempts: 8,
		InitialBackoff:     500 * time.Millisecond,
		MaxBackoff:         30 * time.Second,
		RestartRateLimits: map[time.Duration]int{
			time.Minute: 5,
		},
	}
}

// Supervisor owns a pipeline's AbortController, restarts a terminated
// pipeline when its exit status is classified Failure (never Success,
// Aborted, or DownstreamClosed), and exposes aggregated counters.
//
// The supervisor holds the stage/pipeline handle; stages only ever see the
// AbortSignal, never a reference back to the Supervisor — restart requests
// flow through the Result each run returns, not a callback, so there is no
// referential cycle to manage.
type Supervisor struct {
	cfg     SupervisorConfig
	log     shardwelllog.Logger
	limiter *catrate.Limiter
	stats   *IndexingStatistics
}

// NewSupervisor constructs a Supervisor. stats may be nil, in which case a
// fresh IndexingStatistics is allocated.
func NewSupervisor(cfg SupervisorConfig, log shardwelllog.Logger, stats *IndexingStatistics) *Supervisor {
	if stats == nil {
		stats = &IndexingStatistics{}
	}
	var limiter *catrate.Limiter
	if len(cfg.RestartRateLimits) > 0 {
		limiter = catrate.NewLimiter(cfg.RestartRateLimits)
	}
	return &Supervisor{cfg: cfg, log: log, limiter: limiter, stats: stats}
}

// Stats returns the supervisor's aggregated counters.
func (s *Supervisor) Stats() *IndexingStatistics { return s.stats }

// Run drives run to completion, restarting on Failure per the configured
// cap and backoff, until a terminal non-Failure status or the attempt cap
// is reached. ctx cancellation stops the supervisor without further
// restarts (the in-flight run still observes its own abort signal).
func (s *Supervisor) Run(ctx context.Context, run Runnable) Result {
	backoffDelay := s.cfg.InitialBackoff

	for attempt := 0; ; attempt++ {
		controller := NewAbortController()
		result := run(ctx, controller.Signal())

		if !result.Status.Restartable() {
			return result
		}

		if s.cfg.MaxRestartAttempts > 0 && attempt >= s.cfg.MaxRestartAttempts {
			s.log.Warning().Int("attempt", attempt).Log("restart cap reached, giving up")
			return result
		}

		if s.limiter != nil {
			if _, ok := s.limiter.Allow("restart"); !ok {
				s.log.Warning().Log("restart rate limit exceeded, giving up")
				return result
			}
		}

		s.stats.NumRestarts.Add(1)
		s.stats.Generation.Add(1)

		s.log.Warning().
			Int("attempt", attempt).
			Dur("backoff", backoffDelay).
			Err(result.Err).
			Log("pipeline failed, restarting")

		select {
		case <-ctx.Done():
			return Result{Status: Aborted, Err: ctx.Err()}
		case <-time.After(backoffDelay):
		}

		backoffDelay *= 2
		if backoffDelay > s.cfg.MaxBackoff {
			backoffDelay = s.cfg.MaxBackoff
		}
	}
}
