package saga

import (
	"context"
	"errors"
	"fmt"
	"time"

	"checkout/internal/model"
	"checkout/internal/service/order"
	"checkout/pkg/log"
	"checkout/pkg/utils"
)

// RecoveryReport outcome of one recovery pass
type RecoveryReport struct {
	Retried   int `json:"retried"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}

// SagaProgress read model for the progress endpoint
type SagaProgress struct {
	SagaID         string           `json:"saga_id"`
	OrderNo        string           `json:"order_no"`
	Status         model.SagaStatus `json:"status"`
	CurrentStep    model.SagaStep   `json:"current_step,omitempty"`
	CompletedSteps model.StepList   `json:"completed_steps"`
	RetryCount     int              `json:"retry_count"`
	MaxRetryCount  int              `json:"max_retry_count"`
	ErrorMessage   string           `json:"error_message,omitempty"`
	UpdatedAt      time.Time        `json:"updated_at"`
}

// Recovery re-drives FAILED sagas whose cool-down elapsed. STUCK sagas
// are never picked up: compensation already broke once and repeating
// it blind would make the ledger worse.
type Recovery struct {
	svc       *Service
	orders    order.OrderService
	cooldown  time.Duration
	batchSize int
	retention time.Duration
}

// NewRecovery creates the saga recovery driver
func NewRecovery(svc *Service, orders order.OrderService, cooldown time.Duration, batchSize int, retention time.Duration) *Recovery {
	return &Recovery{
		svc:       svc,
		orders:    orders,
		cooldown:  cooldown,
		batchSize: batchSize,
		retention: retention,
	}
}

// RecoverFailedSagas runs one recovery pass
func (r *Recovery) RecoverFailedSagas(ctx context.Context) (*RecoveryReport, error) {
	sagas, err := r.svc.sagaRepo.ListRecoverable(ctx, r.cooldown, r.batchSize)
	if err != nil {
		return nil, fmt.Errorf("failed to list recoverable sagas: %w", err)
	}

	report := &RecoveryReport{}
	for _, saga := range sagas {
		report.Retried++
		if err := r.retry(ctx, saga); err != nil {
			report.Failed++
			r.svc.metrics.RecordSagaRecovered("failed")
			log.WithFields(map[string]interface{}{
				"saga_id":     saga.SagaID,
				"retry_count": saga.RetryCount,
			}).WithError(err).Warn("Saga recovery attempt failed")
			r.exhaust(ctx, saga)
		} else {
			report.Succeeded++
			r.svc.metrics.RecordSagaRecovered("succeeded")
		}
	}

	if report.Retried > 0 {
		log.WithFields(map[string]interface{}{
			"retried":   report.Retried,
			"succeeded": report.Succeeded,
			"failed":    report.Failed,
		}).Info("Saga recovery pass finished")
	}
	return report, nil
}

// retry re-drives one failed saga from scratch. Compensation undid all
// completed steps, so completedSteps resets and fresh stock holds are
// taken before the pipeline runs again.
func (r *Recovery) retry(ctx context.Context, saga *model.SagaInstance) error {
	saga.RetryCount++
	saga.CompletedSteps = model.StepList{}
	saga.CurrentStep = ""
	if err := r.svc.sagaRepo.Update(ctx, saga); err != nil {
		return fmt.Errorf("failed to persist retry count: %w", err)
	}

	sc, err := r.rebuildContext(ctx, saga)
	if err != nil {
		if errors.Is(err, utils.ErrOrderNotFound) {
			// The first attempt died before creating the order; the
			// request data is gone, so retrying is pointless.
			saga.RetryCount = saga.MaxRetryCount
			saga.ErrorMessage = "order never created, not recoverable"
			if updateErr := r.svc.sagaRepo.Update(ctx, saga); updateErr != nil {
				log.WithError(updateErr).Error("Failed to exhaust unrecoverable saga")
			}
		}
		return err
	}

	if err := r.svc.orchestrator.Execute(ctx, saga, sc); err != nil {
		var execErr *ExecutionError
		if errors.As(err, &execErr) && execErr.Compensated {
			r.svc.releaseHolds(ctx, sc.ReservationNos)
		}
		return err
	}
	return nil
}

// exhaust parks a FAILED saga that is out of retries as STUCK so it
// surfaces in the manual-intervention queue instead of vanishing from
// the recoverable set silently
func (r *Recovery) exhaust(ctx context.Context, saga *model.SagaInstance) {
	if saga.Status != model.SagaStatusFailed || saga.CanRetry() {
		return
	}
	saga.Status = model.SagaStatusStuck
	if err := r.svc.sagaRepo.Update(ctx, saga); err != nil {
		log.WithField("saga_id", saga.SagaID).WithError(err).Error("Failed to park exhausted saga")
	}
}

// rebuildContext reconstructs the step context from the order row and
// takes fresh reservations for its items
func (r *Recovery) rebuildContext(ctx context.Context, saga *model.SagaInstance) (*StepContext, error) {
	ord, err := r.orders.Get(ctx, saga.OrderNo)
	if err != nil {
		return nil, err
	}

	reservationNos, err := r.svc.reserveAll(ctx, saga.OrderNo, ord.Items)
	if err != nil {
		return nil, fmt.Errorf("failed to re-reserve stock: %w", err)
	}

	return &StepContext{
		SagaID:         saga.SagaID,
		OrderNo:        saga.OrderNo,
		UserID:         saga.UserID,
		Items:          ord.Items,
		CouponID:       ord.CouponID,
		DiscountAmount: ord.DiscountAmount,
		PaymentAmount:  ord.PaymentAmount,
		ReservationNos: reservationNos,
	}, nil
}

// GetSagaProgress returns the saga state for an order
func (s *Service) GetSagaProgress(ctx context.Context, orderNo string) (*SagaProgress, error) {
	saga, err := s.sagaRepo.GetByOrderNo(ctx, orderNo)
	if err != nil {
		return nil, err
	}
	if saga == nil {
		return nil, utils.ErrOrderNotFound
	}

	return &SagaProgress{
		SagaID:         saga.SagaID,
		OrderNo:        saga.OrderNo,
		Status:         saga.Status,
		CurrentStep:    saga.CurrentStep,
		CompletedSteps: saga.CompletedSteps,
		RetryCount:     saga.RetryCount,
		MaxRetryCount:  saga.MaxRetryCount,
		ErrorMessage:   saga.ErrorMessage,
		UpdatedAt:      saga.UpdatedAt,
	}, nil
}

// GetStuckSagas lists sagas parked for manual intervention
func (s *Service) GetStuckSagas(ctx context.Context, limit int) ([]*model.SagaInstance, error) {
	return s.sagaRepo.ListByStatus(ctx, model.SagaStatusStuck, limit)
}

// PurgeTerminal deletes terminal sagas older than the retention window
func (r *Recovery) PurgeTerminal(ctx context.Context) (int64, error) {
	cutoff := time.Now().Add(-r.retention)
	deleted, err := r.svc.sagaRepo.PurgeTerminal(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to purge terminal sagas: %w", err)
	}
	if deleted > 0 {
		log.WithField("count", deleted).Info("Purged terminal sagas")
	}
	return deleted, nil
}

// StartRecoveryLoop runs RecoverFailedSagas on a ticker until ctx is done
func (r *Recovery) StartRecoveryLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log.WithField("interval", interval.String()).Info("Saga recovery loop started")

	for {
		select {
		case <-ctx.Done():
			log.Info("Saga recovery loop stopped")
			return
		case <-ticker.C:
			if _, err := r.RecoverFailedSagas(ctx); err != nil {
				log.WithError(err).Error("Saga recovery pass failed")
			}
		}
	}
}

// StartPurgeLoop runs PurgeTerminal on a ticker until ctx is done
func (r *Recovery) StartPurgeLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log.WithField("interval", interval.String()).Info("Saga purge task started")

	for {
		select {
		case <-ctx.Done():
			log.Info("Saga purge task stopped")
			return
		case <-ticker.C:
			if _, err := r.PurgeTerminal(ctx); err != nil {
				log.WithError(err).Error("Saga purge pass failed")
			}
		}
	}
}
