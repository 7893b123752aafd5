// Package supervisor owns process lifecycle for the core's long-running
// loops: one IMAP Source poll loop per active account, and N Dispatcher
// consumers. It restarts a loop that exits unexpectedly with exponential
// backoff, and drives graceful shutdown on cancellation.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/relaywire/eventcore/telemetry"
)

// Status mirrors the original worker manager's status enum, generalized
// from per-process states to per-goroutine ones.
type Status string

const (
	StatusStarting Status = "starting"
	StatusRunning  Status = "running"
	StatusStopped  Status = "stopped"
	StatusCrashed  Status = "crashed"
)

const (
	defaultInitialBackoff      = 1 * time.Second
	defaultMaxBackoff          = 30 * time.Second
	defaultSustainedUptime     = 60 * time.Second
	defaultShutdownGracePeriod = 30 * time.Second
)

// Worker is one restartable unit of long-running work. Run must block
// until ctx is canceled or a fatal condition is reached, returning
// promptly once ctx is done; any other return (including nil) is treated
// as an unexpected exit and triggers a restart.
type Worker struct {
	Name string
	Run  func(ctx context.Context) error
}

// StatusMap is the operator-visibility seam a Supervisor publishes
// per-worker status to — satisfied by *rmap.Map (goa.design/pulse), the
// same replicated map the teacher's registry uses for cross-node health
// and toolset state. A nil StatusMap disables publishing entirely, which
// is the right default for single-replica deployments and tests.
type StatusMap interface {
	Set(ctx context.Context, key, value string) (string, error)
}

// Options configures a Supervisor. Zero values fall back to the spec's
// defaults (1s->30s backoff, reset after 60s sustained uptime, 30s
// shutdown grace).
type Options struct {
	StatusMap     StatusMap
	ReplicaID     string
	Logger        telemetry.Logger
	ShutdownGrace time.Duration

	InitialBackoff  time.Duration
	MaxBackoff      time.Duration
	SustainedUptime time.Duration
}

// Supervisor spawns, monitors, restarts, and stops a fixed set of
// Workers.
type Supervisor struct {
	workers []Worker

	statusMap     StatusMap
	replicaID     string
	logger        telemetry.Logger
	shutdownGrace time.Duration

	initialBackoff  time.Duration
	maxBackoff      time.Duration
	sustainedUptime time.Duration
}

// New builds a Supervisor over workers. Worker names must be unique;
// duplicates are not rejected (the status map simply loses the ability
// to distinguish them), so callers should ensure uniqueness themselves.
func New(opts Options, workers ...Worker) *Supervisor {
	logger := opts.Logger
	if logger == nil {
		logger = telemetry.NoopLogger{}
	}
	grace := opts.ShutdownGrace
	if grace <= 0 {
		grace = defaultShutdownGracePeriod
	}
	initial := opts.InitialBackoff
	if initial <= 0 {
		initial = defaultInitialBackoff
	}
	max := opts.MaxBackoff
	if max <= 0 {
		max = defaultMaxBackoff
	}
	sustained := opts.SustainedUptime
	if sustained <= 0 {
		sustained = defaultSustainedUptime
	}
	return &Supervisor{
		workers:         workers,
		statusMap:       opts.StatusMap,
		replicaID:       opts.ReplicaID,
		logger:          logger,
		shutdownGrace:   grace,
		initialBackoff:  initial,
		maxBackoff:      max,
		sustainedUptime: sustained,
	}
}

// Run starts every worker and blocks until ctx is canceled. On
// cancellation it waits up to the configured shutdown grace period for
// all workers to return, then gives up and returns an error rather than
// blocking forever — Go offers no way to force-kill a goroutine that
// ignores its context, so "force-terminate" here means the caller's
// process exits around it instead of Run continuing to wait.
func (s *Supervisor) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for _, w := range s.workers {
		wg.Add(1)
		go func(w Worker) {
			defer wg.Done()
			s.supervise(ctx, w)
		}(w)
	}

	<-ctx.Done()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(s.shutdownGrace):
		return fmt.Errorf("supervisor: workers did not stop within %s grace period", s.shutdownGrace)
	}
}

// supervise runs one worker, restarting it with exponential backoff
// (capped, reset after sustained uptime) until ctx is canceled.
func (s *Supervisor) supervise(ctx context.Context, w Worker) {
	backoff := s.initialBackoff
	for {
		if ctx.Err() != nil {
			s.publish(ctx, w.Name, StatusStopped, "")
			return
		}

		s.publish(ctx, w.Name, StatusStarting, "")
		startedAt := time.Now()
		s.publish(ctx, w.Name, StatusRunning, "")

		err := w.Run(ctx)
		uptime := time.Since(startedAt)

		if ctx.Err() != nil {
			s.publish(ctx, w.Name, StatusStopped, "")
			return
		}
		if err == nil {
			err = errors.New("worker returned before shutdown was requested")
		}

		s.publish(ctx, w.Name, StatusCrashed, err.Error())
		s.logger.Error(ctx, "supervisor: worker exited, restarting",
			"worker", w.Name, "error", err.Error(), "uptime", uptime.String(), "backoff", backoff.String())

		if uptime >= s.sustainedUptime {
			backoff = s.initialBackoff
		}

		select {
		case <-ctx.Done():
			s.publish(ctx, w.Name, StatusStopped, "")
			return
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > s.maxBackoff {
			backoff = s.maxBackoff
		}
	}
}

func (s *Supervisor) publish(ctx context.Context, name string, status Status, errMsg string) {
	if s.statusMap == nil {
		return
	}
	key := s.replicaID + ":" + name
	value := string(status)
	if errMsg != "" {
		value += "|" + errMsg
	}
	if _, err := s.statusMap.Set(ctx, key, value); err != nil {
		s.logger.Warn(ctx, "supervisor: failed to publish worker status", "worker", name, "error", err.Error())
	}
}
