// Package workflowengine abstracts durable workflow execution so the
// dispatcher and approval workflow can target Temporal, an in-memory
// adapter for tests, or a future custom engine without changing call sites.
package workflowengine

import (
	"context"
	"errors"
	"time"

	"github.com/relaywire/eventcore/telemetry"
)

// ErrWorkflowNotFound is returned by Engine.QueryRunStatus when no run
// exists for the given ID.
var ErrWorkflowNotFound = errors.New("workflowengine: workflow not found")

// RunStatus describes the lifecycle state of a workflow execution.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCanceled  RunStatus = "canceled"
)

type (
	// Engine registers workflow and activity definitions and starts executions.
	// Adapters (Temporal, in-memory) translate these into backend-specific
	// primitives; callers never depend on a concrete backend.
	Engine interface {
		RegisterWorkflow(ctx context.Context, def WorkflowDefinition) error
		RegisterActivity(ctx context.Context, def ActivityDefinition) error
		StartWorkflow(ctx context.Context, req WorkflowStartRequest) (WorkflowHandle, error)
		// QueryRunStatus reports the lifecycle status of a previously started
		// workflow. Returns ErrWorkflowNotFound if runID is unknown to the engine.
		QueryRunStatus(ctx context.Context, runID string) (RunStatus, error)
	}

	// WorkflowDefinition binds a workflow handler to a logical name and
	// default task queue.
	WorkflowDefinition struct {
		Name      string
		TaskQueue string
		Handler   WorkflowFunc
	}

	// WorkflowFunc is the entry point invoked by the engine when a workflow
	// executes. It must be deterministic under replay-capable engines: no
	// direct I/O, randomness, or wall-clock reads outside WorkflowContext.
	WorkflowFunc func(ctx WorkflowContext, input any) (any, error)

	// WorkflowContext exposes engine operations to a running workflow.
	// Implementations wrap engine-specific contexts (Temporal workflow.Context,
	// the in-memory adapter's own bookkeeping) behind a uniform API.
	//
	// WorkflowContext is bound to a single execution and must not be shared
	// across goroutines outside what the engine itself schedules.
	WorkflowContext interface {
		Context() context.Context
		WorkflowID() string
		RunID() string

		ExecuteActivity(ctx context.Context, req ActivityRequest, result any) error
		ExecuteActivityAsync(ctx context.Context, req ActivityRequest) (Future, error)

		// SignalChannel returns the channel for the named signal. Approval
		// workflows use this to listen for "approve" and "reject" signals.
		SignalChannel(name string) SignalChannel

		// SetQueryHandler registers a query handler callable by name while
		// the workflow is running (e.g. "get_details" on an approval run).
		// handler must be a func(args ...any) (any, error)-shaped value;
		// adapters are responsible for validating and invoking it.
		SetQueryHandler(name string, handler any) error

		// NewTimer returns a Future that resolves once d has elapsed. d<=0
		// resolves immediately. Used for approval timeout countdowns.
		NewTimer(ctx context.Context, d time.Duration) (Future, error)

		// Await blocks until cond returns true, re-evaluating cond whenever
		// workflow state changes (signal arrival, timer fire).
		Await(ctx context.Context, cond func() bool) error

		StartChildWorkflow(ctx context.Context, req ChildWorkflowRequest) (ChildWorkflowHandle, error)

		Logger() telemetry.Logger
		Metrics() telemetry.Metrics
		Tracer() telemetry.Tracer

		// Now returns the current workflow time. Replay-safe under Temporal.
		Now() time.Time
	}

	// Future represents a pending result — an async activity call or a timer.
	// Get may be called more than once and returns the same result each time.
	Future interface {
		Get(ctx context.Context, result any) error
		IsReady() bool
	}

	// ActivityDefinition registers an activity handler with default options.
	ActivityDefinition struct {
		Name    string
		Handler ActivityFunc
		Options ActivityOptions
	}

	// ActivityFunc performs the side-effecting work behind an activity. Unlike
	// workflow handlers, activities may freely do I/O.
	ActivityFunc func(ctx context.Context, input any) (any, error)

	// ActivityOptions configures retry and timeout behavior for an activity.
	ActivityOptions struct {
		Queue       string
		RetryPolicy RetryPolicy
		Timeout     time.Duration
	}

	// WorkflowStartRequest describes how to launch a workflow execution.
	WorkflowStartRequest struct {
		ID               string
		Workflow         string
		TaskQueue        string
		Input            any
		Memo             map[string]any
		SearchAttributes map[string]any
		RetryPolicy      RetryPolicy
		// RunTimeout bounds total execution time. Zero means engine default.
		RunTimeout time.Duration
	}

	// ActivityRequest carries the info needed to schedule an activity call.
	ActivityRequest struct {
		Name        string
		Input       any
		Queue       string
		RetryPolicy RetryPolicy
		Timeout     time.Duration
	}

	// WorkflowHandle lets callers outside the workflow interact with a run.
	WorkflowHandle interface {
		Wait(ctx context.Context, result any) error
		Signal(ctx context.Context, name string, payload any) error
		// Query invokes a named query handler on the running (or completed,
		// where the engine retains state) workflow and decodes its result.
		Query(ctx context.Context, name string, result any, args ...any) error
		Cancel(ctx context.Context) error
	}

	// ChildWorkflowRequest starts a workflow nested under the caller's run.
	ChildWorkflowRequest struct {
		ID          string
		Workflow    string
		TaskQueue   string
		Input       any
		RunTimeout  time.Duration
		RetryPolicy RetryPolicy
	}

	// ChildWorkflowHandle allows a parent workflow to await or cancel a child.
	ChildWorkflowHandle interface {
		Get(ctx context.Context, result any) error
		Cancel(ctx context.Context) error
		RunID() string
	}

	// RetryPolicy defines retry semantics shared by workflows and activities.
	// Zero-valued fields mean the engine applies its own defaults.
	RetryPolicy struct {
		MaxAttempts        int
		InitialInterval    time.Duration
		BackoffCoefficient float64
	}

	// SignalChannel exposes signal delivery independent of the backend.
	SignalChannel interface {
		Receive(ctx context.Context, dest any) error
		ReceiveAsync(dest any) bool
	}
)
