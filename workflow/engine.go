package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/oramind/gatekit"
	"github.com/oramind/gatekit/id"
)

// Emitter emits workflow lifecycle events. The ext registry satisfies
// this interface; it is defined locally to break the import cycle.
type Emitter interface {
	EmitWorkflowCreated(ctx context.Context, inst *Instance)
	EmitWorkflowTransitioned(ctx context.Context, inst *Instance, event Event)
	EmitWorkflowCompleted(ctx context.Context, inst *Instance, elapsed time.Duration)
	EmitWorkflowFailed(ctx context.Context, inst *Instance, errMsg string)
}

// Meta carries optional transition context. Only error events read it.
type Meta struct {
	// Error is the failure message recorded on error events.
	Error string
}

// Engine owns all workflow instance mutation. Every state change goes
// through Transition; nothing else writes instances after creation.
type Engine struct {
	store   Store
	emitter Emitter
	logger  *slog.Logger
}

// NewEngine creates a workflow engine.
func NewEngine(store Store, emitter Emitter, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{store: store, emitter: emitter, logger: logger}
}

// Create persists a new instance in triggered state and returns it.
func (e *Engine) Create(ctx context.Context, mode Mode, triggerRef string) (*Instance, error) {
	inst := &Instance{
		Entity:     gatekit.NewEntity(),
		ID:         id.NewInstanceID(),
		Mode:       mode,
		Status:     StatusTriggered,
		TriggerRef: triggerRef,
		StartedAt:  time.Now().UTC(),
	}
	if err := e.store.CreateInstance(ctx, inst); err != nil {
		return nil, fmt.Errorf("create workflow instance: %w", err)
	}

	if e.emitter != nil {
		e.emitter.EmitWorkflowCreated(ctx, inst)
	}
	return inst, nil
}

// Transition applies event to the instance. It returns true when the
// transition was applied, false when the event is invalid for the current
// state or another writer changed the state concurrently. Invalid
// transitions are expected under concurrent retries and are logged, not
// raised. A non-nil error means the store itself failed.
func (e *Engine) Transition(ctx context.Context, instanceID id.InstanceID, event Event, meta Meta) (bool, error) {
	inst, err := e.store.GetInstance(ctx, instanceID)
	if err != nil {
		return false, err
	}

	if inst.Terminal() {
		e.logger.Info("transition rejected: instance is terminal",
			slog.String("instance_id", instanceID.String()),
			slog.String("status", string(inst.Status)),
			slog.String("event", string(event)),
		)
		return false, nil
	}

	to, ok := Next(inst.Status, event)
	if !ok || !eventAllowedForMode(event, inst.Mode) {
		e.logger.Warn("invalid workflow transition",
			slog.String("instance_id", instanceID.String()),
			slog.String("from", string(inst.Status)),
			slog.String("event", string(event)),
			slog.String("mode", string(inst.Mode)),
		)
		return false, nil
	}

	from := inst.Status
	now := time.Now().UTC()

	inst.Status = to
	if event == EventError {
		inst.ErrorCount++
		inst.ErrorMessage = meta.Error
	}
	if event == EventRetry {
		inst.ErrorMessage = ""
	}
	if terminalEvent(event) {
		inst.CompletedAt = &now
	}

	if err := e.store.UpdateInstanceIf(ctx, inst, from); err != nil {
		if errors.Is(err, gatekit.ErrStaleState) {
			e.logger.Info("transition lost the race, caller must re-read",
				slog.String("instance_id", instanceID.String()),
				slog.String("from", string(from)),
				slog.String("event", string(event)),
			)
			return false, nil
		}
		return false, fmt.Errorf("transition %s on %s: %w", event, instanceID, err)
	}

	e.logger.Info("workflow transitioned",
		slog.String("instance_id", instanceID.String()),
		slog.String("from", string(from)),
		slog.String("to", string(to)),
		slog.String("event", string(event)),
	)

	e.emit(ctx, inst, event, now)
	return true, nil
}

// emit fans the applied transition out to the lifecycle hooks.
func (e *Engine) emit(ctx context.Context, inst *Instance, event Event, now time.Time) {
	if e.emitter == nil {
		return
	}
	e.emitter.EmitWorkflowTransitioned(ctx, inst, event)

	switch {
	case inst.Status == StatusCompleted:
		e.emitter.EmitWorkflowCompleted(ctx, inst, now.Sub(inst.StartedAt))
	case event == EventError:
		e.emitter.EmitWorkflowFailed(ctx, inst, inst.ErrorMessage)
	}
}

// GetState returns the instance's current status.
func (e *Engine) GetState(ctx context.Context, instanceID id.InstanceID) (Status, error) {
	inst, err := e.store.GetInstance(ctx, instanceID)
	if err != nil {
		return "", err
	}
	return inst.Status, nil
}

// Get returns the full instance.
func (e *Engine) Get(ctx context.Context, instanceID id.InstanceID) (*Instance, error) {
	return e.store.GetInstance(ctx, instanceID)
}

// FindFailedEligibleForRetry returns FAILED, non-aborted instances whose
// error count is still under maxRetries, newest-first.
func (e *Engine) FindFailedEligibleForRetry(ctx context.Context, maxRetries, limit int) ([]*Instance, error) {
	return e.store.FindFailedRetryable(ctx, maxRetries, limit)
}

// FindStuck returns PROCESSING instances that started before cutoff,
// oldest-first.
func (e *Engine) FindStuck(ctx context.Context, cutoff time.Time, limit int) ([]*Instance, error) {
	return e.store.FindStuckInstances(ctx, cutoff, limit)
}
