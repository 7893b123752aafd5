// Package inmem provides an in-memory workflowengine.Engine for unit tests
// and local development. It is not deterministic or replay-safe and must
// never back a production deployment.
package inmem

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"time"

	"github.com/relaywire/eventcore/telemetry"
	"github.com/relaywire/eventcore/workflowengine"
)

type (
	eng struct {
		mu         sync.RWMutex
		workflows  map[string]workflowengine.WorkflowDefinition
		activities map[string]activity
		statuses   map[string]workflowengine.RunStatus
		handles    map[string]*handle
	}

	childHandle struct {
		h workflowengine.WorkflowHandle
	}

	handle struct {
		mu      sync.Mutex
		done    chan struct{}
		result  any
		err     error
		wfCtx   *wfCtx
		queries map[string]func(args ...any) (any, error)
	}

	wfCtx struct {
		ctx     context.Context
		id      string
		runID   string
		logger  telemetry.Logger
		metrics telemetry.Metrics
		tracer  telemetry.Tracer
		eng     *eng
		h       *handle

		sigMu sync.Mutex
		sigs  map[string]*signalChan

		qMu sync.Mutex
	}

	future struct {
		mu     sync.Mutex
		ready  chan struct{}
		result any
		err    error
	}

	signalChan struct{ ch chan any }

	activity struct {
		handler func(context.Context, any) (any, error)
		opts    workflowengine.ActivityOptions
	}
)

// SignalerEngine is the in-memory Engine plus direct signal-by-workflow-id
// delivery, for callers (e.g. the suggestion store) that only ever persist
// a workflow id and never keep the WorkflowHandle returned by StartWorkflow.
type SignalerEngine interface {
	workflowengine.Engine
	SignalByID(ctx context.Context, workflowID, name string, payload any) error
}

// New returns an in-memory Engine suitable for tests and local development.
func New() SignalerEngine {
	return &eng{
		statuses: make(map[string]workflowengine.RunStatus),
		handles:  make(map[string]*handle),
	}
}

// SignalByID delivers a signal to a previously started workflow by id
// without requiring the caller to have retained its WorkflowHandle.
func (e *eng) SignalByID(ctx context.Context, workflowID, name string, payload any) error {
	e.mu.RLock()
	h, ok := e.handles[workflowID]
	e.mu.RUnlock()
	if !ok {
		return fmt.Errorf("workflow %q not found", workflowID)
	}
	return h.Signal(ctx, name, payload)
}

func (e *eng) RegisterWorkflow(_ context.Context, def workflowengine.WorkflowDefinition) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.workflows == nil {
		e.workflows = make(map[string]workflowengine.WorkflowDefinition)
	}
	if def.Handler == nil || def.Name == "" {
		return errors.New("invalid workflow definition")
	}
	if _, dup := e.workflows[def.Name]; dup {
		return fmt.Errorf("workflow %q already registered", def.Name)
	}
	e.workflows[def.Name] = def
	return nil
}

func (e *eng) RegisterActivity(_ context.Context, def workflowengine.ActivityDefinition) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.activities == nil {
		e.activities = make(map[string]activity)
	}
	if def.Handler == nil || def.Name == "" {
		return errors.New("invalid activity definition")
	}
	if _, dup := e.activities[def.Name]; dup {
		return fmt.Errorf("activity %q already registered", def.Name)
	}
	e.activities[def.Name] = activity{handler: def.Handler, opts: def.Options}
	return nil
}

func (e *eng) StartWorkflow(ctx context.Context, req workflowengine.WorkflowStartRequest) (workflowengine.WorkflowHandle, error) {
	e.mu.RLock()
	def, ok := e.workflows[req.Workflow]
	e.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("workflow %q not registered", req.Workflow)
	}
	if req.ID == "" {
		return nil, errors.New("workflow id is required")
	}

	h := &handle{done: make(chan struct{}), queries: make(map[string]func(args ...any) (any, error))}
	wctx := &wfCtx{
		ctx:     ctx,
		id:      req.ID,
		runID:   req.ID,
		logger:  telemetry.NoopLogger{},
		metrics: telemetry.NoopMetrics{},
		tracer:  telemetry.NoopTracer{},
		eng:     e,
		h:       h,
		sigs:    make(map[string]*signalChan),
	}
	h.wfCtx = wctx

	e.mu.Lock()
	if e.statuses == nil {
		e.statuses = make(map[string]workflowengine.RunStatus)
	}
	e.statuses[req.ID] = workflowengine.RunStatusRunning
	e.handles[req.ID] = h
	e.mu.Unlock()

	go func() {
		defer close(h.done)
		res, err := def.Handler(wctx, req.Input)
		h.mu.Lock()
		h.result = res
		h.err = err
		h.mu.Unlock()

		e.mu.Lock()
		switch {
		case err != nil && errors.Is(err, context.Canceled):
			e.statuses[req.ID] = workflowengine.RunStatusCanceled
		case err != nil:
			e.statuses[req.ID] = workflowengine.RunStatusFailed
		default:
			e.statuses[req.ID] = workflowengine.RunStatusCompleted
		}
		e.mu.Unlock()
	}()

	return h, nil
}

func (e *eng) QueryRunStatus(_ context.Context, runID string) (workflowengine.RunStatus, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	status, ok := e.statuses[runID]
	if !ok {
		return "", workflowengine.ErrWorkflowNotFound
	}
	return status, nil
}

func (w *wfCtx) StartChildWorkflow(ctx context.Context, req workflowengine.ChildWorkflowRequest) (workflowengine.ChildWorkflowHandle, error) {
	h, err := w.eng.StartWorkflow(ctx, workflowengine.WorkflowStartRequest{
		ID:          req.ID,
		Workflow:    req.Workflow,
		TaskQueue:   req.TaskQueue,
		Input:       req.Input,
		RunTimeout:  req.RunTimeout,
		RetryPolicy: req.RetryPolicy,
	})
	if err != nil {
		return nil, err
	}
	return &childHandle{h: h}, nil
}

func (c *childHandle) Get(ctx context.Context, result any) error { return c.h.Wait(ctx, result) }
func (c *childHandle) Cancel(ctx context.Context) error          { return c.h.Cancel(ctx) }
func (c *childHandle) RunID() string                             { return "" }

func (h *handle) Wait(ctx context.Context, result any) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-h.done:
		h.mu.Lock()
		defer h.mu.Unlock()
		assignResult(result, h.result)
		return h.err
	}
}

func (h *handle) Signal(ctx context.Context, name string, payload any) error {
	select {
	case <-h.done:
		return errors.New("workflow completed")
	default:
	}
	ch := h.wfCtx.SignalChannel(name).(*signalChan)
	select {
	case ch.ch <- payload:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-h.done:
		return errors.New("workflow completed")
	}
}

func (h *handle) Query(_ context.Context, name string, result any, args ...any) error {
	h.mu.Lock()
	fn, ok := h.queries[name]
	h.mu.Unlock()
	if !ok {
		return fmt.Errorf("query %q not registered", name)
	}
	res, err := fn(args...)
	if err != nil {
		return err
	}
	assignResult(result, res)
	return nil
}

func (h *handle) Cancel(context.Context) error {
	// Best-effort: the in-memory adapter does not propagate cancellation
	// into the running handler goroutine.
	return nil
}

func (w *wfCtx) Context() context.Context   { return w.ctx }
func (w *wfCtx) WorkflowID() string         { return w.id }
func (w *wfCtx) RunID() string              { return w.runID }
func (w *wfCtx) Logger() telemetry.Logger   { return w.logger }
func (w *wfCtx) Metrics() telemetry.Metrics { return w.metrics }
func (w *wfCtx) Tracer() telemetry.Tracer   { return w.tracer }
func (w *wfCtx) Now() time.Time             { return time.Now() }

func (w *wfCtx) SetQueryHandler(name string, handler any) error {
	fn, ok := handler.(func(args ...any) (any, error))
	if !ok {
		return fmt.Errorf("query handler %q must be func(args ...any) (any, error)", name)
	}
	w.h.mu.Lock()
	defer w.h.mu.Unlock()
	w.h.queries[name] = fn
	return nil
}

func (w *wfCtx) NewTimer(ctx context.Context, d time.Duration) (workflowengine.Future, error) {
	f := &future{ready: make(chan struct{})}
	if d <= 0 {
		close(f.ready)
		return f, nil
	}
	t := time.NewTimer(d)
	go func() {
		defer close(f.ready)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			f.mu.Lock()
			f.err = ctx.Err()
			f.mu.Unlock()
		}
	}()
	return f, nil
}

func (w *wfCtx) Await(ctx context.Context, cond func() bool) error {
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()
	for {
		if cond() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (w *wfCtx) ExecuteActivity(ctx context.Context, req workflowengine.ActivityRequest, result any) error {
	fut, err := w.ExecuteActivityAsync(ctx, req)
	if err != nil {
		return err
	}
	return fut.Get(ctx, result)
}

func (w *wfCtx) ExecuteActivityAsync(ctx context.Context, req workflowengine.ActivityRequest) (workflowengine.Future, error) {
	w.eng.mu.RLock()
	def, ok := w.eng.activities[req.Name]
	w.eng.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("activity %q not registered", req.Name)
	}
	f := &future{ready: make(chan struct{})}
	go func() {
		defer close(f.ready)
		res, err := def.handler(ctx, req.Input)
		f.mu.Lock()
		f.result = res
		f.err = err
		f.mu.Unlock()
	}()
	return f, nil
}

func (f *future) Get(ctx context.Context, result any) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-f.ready:
		f.mu.Lock()
		defer f.mu.Unlock()
		assignResult(result, f.result)
		return f.err
	}
}

func (f *future) IsReady() bool {
	select {
	case <-f.ready:
		return true
	default:
		return false
	}
}

func (s *signalChan) Receive(ctx context.Context, dest any) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case v := <-s.ch:
		assignResult(dest, v)
		return nil
	}
}

func (s *signalChan) ReceiveAsync(dest any) bool {
	select {
	case v := <-s.ch:
		assignResult(dest, v)
		return true
	default:
		return false
	}
}

func (w *wfCtx) SignalChannel(name string) workflowengine.SignalChannel {
	w.sigMu.Lock()
	defer w.sigMu.Unlock()
	ch, ok := w.sigs[name]
	if !ok {
		ch = &signalChan{ch: make(chan any, 1)}
		w.sigs[name] = ch
	}
	return ch
}

// assignResult copies src into *dst when dst is a non-nil pointer whose
// pointee type is assignable from, or implemented by, src's type.
func assignResult(dst, src any) {
	if dst == nil || src == nil {
		return
	}
	dv := reflect.ValueOf(dst)
	if dv.Kind() != reflect.Ptr || dv.IsNil() {
		return
	}
	sv := reflect.ValueOf(src)
	if sv.IsValid() && sv.Type().AssignableTo(dv.Elem().Type()) {
		dv.Elem().Set(sv)
		return
	}
	if dv.Elem().Kind() == reflect.Interface && sv.Type().Implements(dv.Elem().Type()) {
		dv.Elem().Set(sv)
	}
}
