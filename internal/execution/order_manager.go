// Package execution wraps trade commitment: a hard-timeout order manager and
// a simulated order placer for dry-run trading.
package execution

import (
	"context"
	"log/slog"
	"time"
)

// Status is the tri-state outcome of a managed commit. A timed-out action is
// left to finish on its own, so "timeout" means outcome unknown, not failed.
type Status string

const (
	StatusCompleted Status = "completed"
	StatusTimedOut  Status = "timeout"
)

// Result reports how a managed commit ended.
type Result struct {
	Status  Status
	Err     error // action error when Status is completed; nil on timeout
	Elapsed time.Duration
}

// Completed reports a clean, in-deadline finish with no error.
func (r Result) Completed() bool { return r.Status == StatusCompleted && r.Err == nil }

// Failed reports an in-deadline finish with an error.
func (r Result) Failed() bool { return r.Status == StatusCompleted && r.Err != nil }

// TimedOut reports an ambiguous outcome: the deadline passed with the action
// still running.
func (r Result) TimedOut() bool { return r.Status == StatusTimedOut }

// OrderManager runs commit actions under a hard deadline, converting a hang
// into an explicit, observable failure instead of blocking the engine.
type OrderManager struct {
	timeout time.Duration
	logger  *slog.Logger
}

// NewOrderManager creates an OrderManager with the given commit deadline.
func NewOrderManager(timeout time.Duration, logger *slog.Logger) *OrderManager {
	return &OrderManager{
		timeout: timeout,
		logger:  logger.With(slog.String("component", "order_manager")),
	}
}

// ExecuteWithTimeout runs action and waits at most the configured deadline.
// On timeout the action keeps running detached, since two venues cannot be
// rolled back once a leg may have filled, and the caller must treat the
// outcome as unknown rather than failed. The late result is logged when it
// arrives.
func (m *OrderManager) ExecuteWithTimeout(ctx context.Context, action func(ctx context.Context) error, correlationID string) Result {
	start := time.Now()
	done := make(chan error, 1)

	// Detach the action from the caller's cancellation: a timed-out commit
	// must be allowed to finish.
	actionCtx := context.WithoutCancel(ctx)
	go func() { done <- action(actionCtx) }()

	timer := time.NewTimer(m.timeout)
	defer timer.Stop()

	select {
	case err := <-done:
		return Result{Status: StatusCompleted, Err: err, Elapsed: time.Since(start)}
	case <-timer.C:
		elapsed := time.Since(start)
		m.logger.Warn("commit deadline passed, outcome unknown",
			slog.String("correlation_id", correlationID),
			slog.Duration("timeout", m.timeout),
		)
		go func() {
			err := <-done
			if err != nil {
				m.logger.Warn("late commit finished with error",
					slog.String("correlation_id", correlationID),
					slog.String("error", err.Error()),
				)
			} else {
				m.logger.Warn("late commit finished successfully after deadline",
					slog.String("correlation_id", correlationID),
				)
			}
		}()
		return Result{Status: StatusTimedOut, Elapsed: elapsed}
	}
}
