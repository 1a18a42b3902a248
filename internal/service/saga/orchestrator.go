package saga

import (
	"context"
	"fmt"
	"time"

	"checkout/internal/model"
	"checkout/internal/monitor"
	"checkout/internal/repository"
	"checkout/pkg/log"
)

// ExecutionError reports how a saga run ended short of completion.
// Compensated true means every completed step was rolled back and the
// saga is FAILED (retriable); false means compensation itself broke
// and the saga is STUCK awaiting manual intervention.
type ExecutionError struct {
	SagaID      string
	FailedStep  model.SagaStep
	Compensated bool
	Cause       error
}

func (e *ExecutionError) Error() string {
	if e.Compensated {
		return fmt.Sprintf("saga %s failed at %s (compensated): %v", e.SagaID, e.FailedStep, e.Cause)
	}
	return fmt.Sprintf("saga %s stuck compensating after %s: %v", e.SagaID, e.FailedStep, e.Cause)
}

func (e *ExecutionError) Unwrap() error {
	return e.Cause
}

// Orchestrator drives the checkout saga: forward through the step
// pipeline, and on failure back through completedSteps in reverse.
type Orchestrator struct {
	repo    repository.SagaRepository
	steps   []Step
	metrics *monitor.MetricsCollector
	tracer  *monitor.Tracer
}

// NewOrchestrator creates a saga orchestrator
func NewOrchestrator(
	repo repository.SagaRepository,
	steps []Step,
	metrics *monitor.MetricsCollector,
	tracer *monitor.Tracer,
) *Orchestrator {
	return &Orchestrator{
		repo:    repo,
		steps:   steps,
		metrics: metrics,
		tracer:  tracer,
	}
}

// Execute drives the saga forward. Steps already in completedSteps are
// skipped, so a re-driven saga resumes where state says it should.
func (o *Orchestrator) Execute(ctx context.Context, saga *model.SagaInstance, sc *StepContext) error {
	ctx, span := o.tracer.StartSagaSpan(ctx, saga.SagaID, saga.OrderNo)
	defer span.End()

	start := time.Now()
	saga.Status = model.SagaStatusRunning
	if err := o.repo.Update(ctx, saga); err != nil {
		return fmt.Errorf("failed to mark saga running: %w", err)
	}

	for _, step := range o.steps {
		if !step.Applies(sc) {
			continue
		}
		if saga.CompletedSteps.Contains(step.Name()) {
			continue
		}

		if err := saga.EnterStep(step.Name()); err != nil {
			return o.failAndCompensate(ctx, saga, sc, step.Name(), err, start)
		}
		if err := o.repo.Update(ctx, saga); err != nil {
			return fmt.Errorf("failed to persist step entry: %w", err)
		}

		if err := step.Execute(ctx, sc); err != nil {
			o.metrics.RecordStepFailed(string(step.Name()))
			return o.failAndCompensate(ctx, saga, sc, step.Name(), err, start)
		}

		if err := saga.CompleteStep(step.Name()); err != nil {
			return o.failAndCompensate(ctx, saga, sc, step.Name(), err, start)
		}
		if err := o.repo.Update(ctx, saga); err != nil {
			return fmt.Errorf("failed to persist step completion: %w", err)
		}
	}

	now := time.Now()
	saga.Status = model.SagaStatusCompleted
	saga.CompletedAt = &now
	saga.ErrorMessage = ""
	if err := o.repo.Update(ctx, saga); err != nil {
		return fmt.Errorf("failed to mark saga completed: %w", err)
	}

	o.metrics.RecordSagaCompleted(time.Since(start))
	log.WithFields(map[string]interface{}{
		"saga_id":  saga.SagaID,
		"order_no": saga.OrderNo,
		"duration": time.Since(start).String(),
	}).Info("Saga completed")
	return nil
}

// failAndCompensate walks completedSteps in reverse. Compensation
// failures are never retried automatically: partial rollback state
// needs an operator, so the saga parks as STUCK.
func (o *Orchestrator) failAndCompensate(
	ctx context.Context,
	saga *model.SagaInstance,
	sc *StepContext,
	failedStep model.SagaStep,
	cause error,
	start time.Time,
) error {
	log.WithFields(map[string]interface{}{
		"saga_id":     saga.SagaID,
		"order_no":    saga.OrderNo,
		"failed_step": failedStep,
	}).WithError(cause).Warn("Saga step failed, compensating")

	saga.Status = model.SagaStatusCompensating
	saga.ErrorMessage = truncateError(cause)
	if err := o.repo.Update(ctx, saga); err != nil {
		log.WithError(err).Error("Failed to persist compensating status")
	}

	byName := make(map[model.SagaStep]Step, len(o.steps))
	for _, step := range o.steps {
		byName[step.Name()] = step
	}

	for i := len(saga.CompletedSteps) - 1; i >= 0; i-- {
		name := saga.CompletedSteps[i]
		step, ok := byName[name]
		if !ok {
			return o.markStuck(ctx, saga, failedStep, fmt.Errorf("no step registered for %s", name))
		}
		if err := step.Compensate(ctx, sc); err != nil {
			return o.markStuck(ctx, saga, failedStep, fmt.Errorf("compensate %s: %w", name, err))
		}
		log.WithFields(map[string]interface{}{
			"saga_id": saga.SagaID,
			"step":    name,
		}).Info("Step compensated")
	}

	saga.Status = model.SagaStatusFailed
	if err := o.repo.Update(ctx, saga); err != nil {
		log.WithError(err).Error("Failed to persist failed status")
	}

	o.metrics.RecordSagaFailed(string(failedStep), time.Since(start))
	return &ExecutionError{
		SagaID:      saga.SagaID,
		FailedStep:  failedStep,
		Compensated: true,
		Cause:       cause,
	}
}

// markStuck parks the saga for manual intervention
func (o *Orchestrator) markStuck(ctx context.Context, saga *model.SagaInstance, failedStep model.SagaStep, cause error) error {
	saga.Status = model.SagaStatusStuck
	saga.ErrorMessage = truncateError(cause)
	if err := o.repo.Update(ctx, saga); err != nil {
		log.WithError(err).Error("Failed to persist stuck status")
	}

	o.metrics.RecordSagaStuck()
	log.WithFields(map[string]interface{}{
		"saga_id":  saga.SagaID,
		"order_no": saga.OrderNo,
	}).WithError(cause).Error("Saga stuck, manual intervention required")

	return &ExecutionError{
		SagaID:      saga.SagaID,
		FailedStep:  failedStep,
		Compensated: false,
		Cause:       cause,
	}
}

// truncateError fits an error into the saga's error_message column
func truncateError(err error) string {
	msg := err.Error()
	if len(msg) > 500 {
		return msg[:500]
	}
	return msg
}
