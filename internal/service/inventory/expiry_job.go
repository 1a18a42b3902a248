package inventory

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"checkout/pkg/log"
)

// ExpireReservations runs one expiry pass: flip every overdue ACTIVE
// reservation to EXPIRED in bulk, then credit stock back with one
// aggregated statement per batch. The row locks taken by ListExpired
// make a concurrent confirm on the same reservation wait until this
// transaction commits, at which point the confirm sees EXPIRED and
// rejects.
func (s *inventoryService) ExpireReservations(ctx context.Context) (int, error) {
	expired := 0

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		reservations, err := s.reservationRepo.ListExpired(tx, time.Now(), s.expiryBatch)
		if err != nil {
			return fmt.Errorf("failed to list expired reservations: %w", err)
		}
		if len(reservations) == 0 {
			return nil
		}

		ids := make([]uint64, 0, len(reservations))
		credits := make(map[string]int, len(reservations))
		for _, reservation := range reservations {
			ids = append(ids, reservation.ID)
			credits[reservation.SKU] += reservation.Quantity
		}

		affected, err := s.reservationRepo.BulkExpire(tx, ids)
		if err != nil {
			return fmt.Errorf("failed to expire reservations: %w", err)
		}
		if affected != int64(len(ids)) {
			// Rows were locked, so this only happens on replay after a
			// partial failure. Roll back and let the next pass retry.
			return fmt.Errorf("expected to expire %d reservations, expired %d", len(ids), affected)
		}

		if err := s.inventoryRepo.BulkCredit(tx, credits); err != nil {
			return fmt.Errorf("failed to credit expired stock: %w", err)
		}

		expired = len(reservations)
		return nil
	})
	if err != nil {
		return 0, err
	}

	if expired > 0 {
		s.metrics.RecordReservationsExpired(int64(expired))
		log.WithField("count", expired).Info("Expired overdue reservations")
	}
	return expired, nil
}

// StartExpiryJob runs ExpireReservations on a ticker until ctx is done
func (s *inventoryService) StartExpiryJob(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log.WithField("interval", interval.String()).Info("Reservation expiry job started")

	for {
		select {
		case <-ctx.Done():
			log.Info("Reservation expiry job stopped")
			return
		case <-ticker.C:
			if _, err := s.ExpireReservations(ctx); err != nil {
				log.WithError(err).Error("Reservation expiry pass failed")
			}
		}
	}
}
