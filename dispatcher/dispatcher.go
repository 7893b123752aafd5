// Package dispatcher implements the Dispatcher: the event-stream consumer
// that turns each UnifiedEvent into an idempotent EventRow, classifies it,
// evaluates escalation, and either starts a handler workflow or hands the
// event to an out-of-scope agent runner.
package dispatcher

import (
	"context"
	"fmt"
	"time"

	"github.com/relaywire/eventcore/classifier"
	"github.com/relaywire/eventcore/eventmodel"
	"github.com/relaywire/eventcore/eventstream"
	"github.com/relaywire/eventcore/intent"
	"github.com/relaywire/eventcore/suggestion"
	"github.com/relaywire/eventcore/telemetry"
	"github.com/relaywire/eventcore/workflowengine"
)

const (
	defaultBatchSize       = 10
	defaultBlockInterval   = 5 * time.Second
	defaultClassifyTimeout = 30 * time.Second
)

// EventRows is the EventRow persistence port the dispatcher depends on.
type EventRows interface {
	FindByIdempotencyKey(ctx context.Context, key string) (eventmodel.EventRow, bool, error)
	Insert(ctx context.Context, row eventmodel.EventRow) error
	TransitionStatus(ctx context.Context, eventID string, from, to eventmodel.EventStatus, fields map[string]any, now time.Time) error
}

// StreamConsumer is the subset of eventstream.Stream the dispatcher reads
// from and acknowledges against.
type StreamConsumer interface {
	Read(ctx context.Context, group, consumer string, count int64, block time.Duration) ([]eventstream.Message, error)
	Ack(ctx context.Context, group, id string) error
}

// Suggestions is the subset of suggestion.Store the dispatcher needs: to
// propose a new intent the classifier surfaced, and to see already-pending
// proposals so it doesn't ask the classifier to repeat itself.
type Suggestions interface {
	Create(ctx context.Context, kind suggestion.Kind, naturalKey string, payload map[string]string, workflowID string) (suggestion.Record, error)
	List(ctx context.Context, kind *suggestion.Kind, status *suggestion.Status, page, size int) ([]suggestion.Record, int, error)
}

// WorkflowStarter is the subset of workflowengine.Engine the dispatcher
// needs to hand an event off to a handler or escalation workflow.
type WorkflowStarter interface {
	StartWorkflow(ctx context.Context, req workflowengine.WorkflowStartRequest) (workflowengine.WorkflowHandle, error)
}

// Options configures a Dispatcher.
type Options struct {
	Group           string
	Consumer        string
	BatchSize       int64
	BlockInterval   time.Duration
	ClassifyTimeout time.Duration
}

// Dispatcher consumes the event stream's consumer group and runs the
// classify-escalate-dispatch algorithm against each entry.
type Dispatcher struct {
	stream      StreamConsumer
	events      EventRows
	catalog     intent.Catalog
	classifier  classifier.Port
	suggestions Suggestions
	workflows   WorkflowStarter
	logger      telemetry.Logger

	group           string
	consumer        string
	batchSize       int64
	blockInterval   time.Duration
	classifyTimeout time.Duration

	now func() time.Time
}

// New builds a Dispatcher. suggestions and workflows may be nil: a
// deployment with no LLM classifier configured never proposes new
// intents, and a deployment where every catalog entry's handler is
// "agent" never starts a workflow.
func New(stream StreamConsumer, events EventRows, catalog intent.Catalog, port classifier.Port, suggestions Suggestions, workflows WorkflowStarter, logger telemetry.Logger, opts Options) *Dispatcher {
	if logger == nil {
		logger = telemetry.NoopLogger{}
	}
	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	blockInterval := opts.BlockInterval
	if blockInterval <= 0 {
		blockInterval = defaultBlockInterval
	}
	classifyTimeout := opts.ClassifyTimeout
	if classifyTimeout <= 0 {
		classifyTimeout = defaultClassifyTimeout
	}
	group := opts.Group
	if group == "" {
		group = eventstream.DefaultGroupName
	}
	return &Dispatcher{
		stream:          stream,
		events:          events,
		catalog:         catalog,
		classifier:      port,
		suggestions:     suggestions,
		workflows:       workflows,
		logger:          logger,
		group:           group,
		consumer:        opts.Consumer,
		batchSize:       batchSize,
		blockInterval:   blockInterval,
		classifyTimeout: classifyTimeout,
		now:             time.Now,
	}
}

// Run reads and processes stream entries until ctx is canceled. It is the
// Worker Supervisor's unit of liveness: a single Dispatcher consumer loop.
func (d *Dispatcher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		messages, err := d.stream.Read(ctx, d.group, d.consumer, d.batchSize, d.blockInterval)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			d.logger.Error(ctx, "dispatcher: read from stream failed", "error", err.Error())
			continue
		}
		for _, msg := range messages {
			d.processEntry(ctx, msg)
		}
	}
}

// processEntry runs steps 2-10 of the dispatch algorithm against one
// stream entry. Step 1 (parse failure) is handled inside eventstream.Read
// itself: a poison entry never reaches here.
func (d *Dispatcher) processEntry(ctx context.Context, msg eventstream.Message) {
	event := msg.Event

	if existing, found, err := d.events.FindByIdempotencyKey(ctx, event.IdempotencyKey); err != nil {
		d.logger.Error(ctx, "dispatcher: idempotency lookup failed, leaving entry for redelivery",
			"event_id", event.EventID, "error", err.Error())
		return
	} else if found {
		d.logger.Info(ctx, "dispatcher: duplicate event, already owned", "event_id", event.EventID, "existing_status", string(existing.Status))
		d.ack(ctx, msg.ID)
		return
	}

	row := eventmodel.NewEventRow(event, d.now())
	if err := d.events.Insert(ctx, row); err != nil {
		// A concurrent dispatcher may have won the race on the same
		// idempotency_key between our lookup and our insert. Re-check
		// before treating this as a real failure.
		if _, found, findErr := d.events.FindByIdempotencyKey(ctx, event.IdempotencyKey); findErr == nil && found {
			d.ack(ctx, msg.ID)
			return
		}
		d.logger.Error(ctx, "dispatcher: insert event row failed, leaving entry for redelivery",
			"event_id", event.EventID, "error", err.Error())
		return
	}

	if err := d.events.TransitionStatus(ctx, row.EventID, eventmodel.EventStatusPending, eventmodel.EventStatusProcessing, nil, d.now()); err != nil {
		d.logger.Error(ctx, "dispatcher: transition to processing failed, leaving entry for redelivery",
			"event_id", event.EventID, "error", err.Error())
		return
	}

	if err := d.process(ctx, event, row.EventID); err != nil {
		d.failRow(ctx, row.EventID, err)
	}

	d.ack(ctx, msg.ID)
}

// process runs steps 5-8: classify, suggest, escalate, dispatch. It
// assumes the row is already in the processing status and, on success,
// transitions it to completed.
func (d *Dispatcher) process(ctx context.Context, event eventmodel.UnifiedEvent, eventID string) error {
	catalogEntries, err := d.catalog.Active(ctx)
	if err != nil {
		return fmt.Errorf("dispatcher: load active catalog: %w", err)
	}

	result := d.classify(ctx, event, catalogEntries)

	entry, matchedName, err := d.resolveEntry(ctx, result.MatchedIntent)
	if err != nil {
		return err
	}

	if result.NewSuggestion != nil && d.suggestions != nil {
		if _, serr := d.suggestions.Create(ctx, suggestion.KindNewIntent, result.NewSuggestion.Name, map[string]string{
			"label":        result.NewSuggestion.Label,
			"description":  result.NewSuggestion.Description,
			"handler_hint": result.NewSuggestion.HandlerHint,
		}, ""); serr != nil {
			d.logger.Warn(ctx, "dispatcher: failed to record new-intent suggestion",
				"event_id", eventID, "suggested_name", result.NewSuggestion.Name, "error", serr.Error())
		}
		entry, matchedName, err = d.resolveEntry(ctx, intent.FallbackName)
		if err != nil {
			return err
		}
	}

	escalationFires := intent.Evaluate(entry.Escalation, event.Content)

	workflowID, err := d.dispatchOutcome(ctx, entry, escalationFires, event, eventID)
	if err != nil {
		return err
	}

	fields := map[string]any{"intent": matchedName}
	if workflowID != "" {
		fields["workflow_id"] = workflowID
	}
	return d.events.TransitionStatus(ctx, eventID, eventmodel.EventStatusProcessing, eventmodel.EventStatusCompleted, fields, d.now())
}

func (d *Dispatcher) classify(ctx context.Context, event eventmodel.UnifiedEvent, catalogEntries []intent.Entry) classifier.Result {
	classifyCtx, cancel := context.WithTimeout(ctx, d.classifyTimeout)
	defer cancel()

	result, err := d.classifier.Classify(classifyCtx, event, catalogEntries, d.pendingSuggestionNames(ctx))
	if err != nil {
		d.logger.Warn(ctx, "dispatcher: classifier failed, substituting fallback", "event_id", event.EventID, "error", err.Error())
		return classifier.Failed(err)
	}
	return result
}

// pendingSuggestionNames returns the names of currently pending new-intent
// suggestions, so the classifier is told not to propose the same name
// twice. Failure to list is non-fatal: classification proceeds with an
// empty list rather than blocking dispatch.
func (d *Dispatcher) pendingSuggestionNames(ctx context.Context) []string {
	if d.suggestions == nil {
		return nil
	}
	kind := suggestion.KindNewIntent
	status := suggestion.StatusPending
	records, _, err := d.suggestions.List(ctx, &kind, &status, 1, 100)
	if err != nil {
		d.logger.Warn(ctx, "dispatcher: failed to list pending suggestions", "error", err.Error())
		return nil
	}
	names := make([]string, 0, len(records))
	for _, r := range records {
		names = append(names, r.NaturalKey)
	}
	return names
}

// resolveEntry looks up a classifier's matched intent name, falling back
// to the catalog's "other" entry if the name is empty, stale, or no
// longer in the active catalog.
func (d *Dispatcher) resolveEntry(ctx context.Context, name string) (intent.Entry, string, error) {
	if name != "" {
		if entry, found, err := d.catalog.FindByName(ctx, name); err != nil {
			return intent.Entry{}, "", fmt.Errorf("dispatcher: lookup intent %q: %w", name, err)
		} else if found && entry.Active {
			return entry, name, nil
		}
	}
	entry, found, err := d.catalog.FindByName(ctx, intent.FallbackName)
	if err != nil {
		return intent.Entry{}, "", fmt.Errorf("dispatcher: lookup fallback intent: %w", err)
	}
	if !found {
		return intent.Entry{}, "", fmt.Errorf("dispatcher: catalog has no %q fallback entry", intent.FallbackName)
	}
	return entry, intent.FallbackName, nil
}

// dispatchOutcome implements algorithm step 8: escalation workflow takes
// priority over the entry's own default handler.
func (d *Dispatcher) dispatchOutcome(ctx context.Context, entry intent.Entry, escalationFires bool, event eventmodel.UnifiedEvent, eventID string) (string, error) {
	switch {
	case escalationFires && entry.EscalationWorkflow != "":
		return d.startWorkflow(ctx, entry.EscalationWorkflow, event, eventID)
	case entry.HandlerKind == intent.HandlerWorkflow:
		return d.startWorkflow(ctx, entry.HandlerConfig, event, eventID)
	default:
		// HandlerAgent: the core takes no further action; an external agent
		// runner attaches later by event_id.
		return "", nil
	}
}

func (d *Dispatcher) startWorkflow(ctx context.Context, workflowType string, event eventmodel.UnifiedEvent, eventID string) (string, error) {
	if d.workflows == nil {
		return "", fmt.Errorf("dispatcher: no workflow engine configured but intent requires workflow %q", workflowType)
	}
	if workflowType == "" {
		return "", fmt.Errorf("dispatcher: no workflow type configured for this handler")
	}
	// A workflow id derived from the event id keeps workflow starts
	// idempotent across redelivery of the same stream entry.
	workflowID := "event-" + eventID
	if _, err := d.workflows.StartWorkflow(ctx, workflowengine.WorkflowStartRequest{
		ID:       workflowID,
		Workflow: workflowType,
		Input:    event,
	}); err != nil {
		return "", fmt.Errorf("dispatcher: start workflow %q: %w", workflowType, err)
	}
	return workflowID, nil
}

func (d *Dispatcher) failRow(ctx context.Context, eventID string, cause error) {
	fields := map[string]any{"error_message": cause.Error()}
	if err := d.events.TransitionStatus(ctx, eventID, eventmodel.EventStatusProcessing, eventmodel.EventStatusFailed, fields, d.now()); err != nil {
		d.logger.Error(ctx, "dispatcher: failed to stamp event row failed", "event_id", eventID, "cause", cause.Error(), "error", err.Error())
	}
}

func (d *Dispatcher) ack(ctx context.Context, id string) {
	if err := d.stream.Ack(ctx, d.group, id); err != nil {
		d.logger.Error(ctx, "dispatcher: ack failed", "stream_id", id, "error", err.Error())
	}
}
