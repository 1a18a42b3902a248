package inventory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"checkout/internal/model"
	"checkout/internal/monitor"
	"checkout/internal/repository"
	"checkout/pkg/log"
	"checkout/pkg/snowflake"
	"checkout/pkg/utils"
)

// InventoryService inventory ledger service interface.
// Reserve decrements physical stock immediately, so confirm only flips
// reservation state and cancel/expire/restore are pure credit-backs.
type InventoryService interface {
	// Reserve places a TTL-bound hold for one (order, SKU) pair
	Reserve(ctx context.Context, orderNo, sku string, quantity int) (*model.Reservation, error)

	// ConfirmReservation finalizes an ACTIVE reservation
	ConfirmReservation(ctx context.Context, reservationNo string) error

	// ConfirmReservations finalizes a set of holds in one transaction;
	// one bad hold rolls the whole batch back
	ConfirmReservations(ctx context.Context, reservationNos []string) error

	// CancelReservation releases an ACTIVE reservation and credits stock back
	CancelReservation(ctx context.Context, reservationNo string) error

	// RestoreStock credits confirmed stock back, used by order cancellation
	RestoreStock(ctx context.Context, orderNo string) error

	// GetStock returns the current ledger row for a SKU
	GetStock(ctx context.Context, sku string) (*model.InventoryRecord, error)

	// ExpireReservations runs one expiry pass, returns reservations expired
	ExpireReservations(ctx context.Context) (int, error)

	// StartExpiryJob runs ExpireReservations on a ticker until ctx is done
	StartExpiryJob(ctx context.Context, interval time.Duration)
}

// inventoryService inventory service implementation
type inventoryService struct {
	db              *gorm.DB
	inventoryRepo   repository.InventoryRepository
	reservationRepo repository.ReservationRepository
	idGen           *snowflake.IDGenerator
	metrics         *monitor.MetricsCollector
	reservationTTL  time.Duration
	expiryBatch     int
}

// NewInventoryService creates an inventory service
func NewInventoryService(
	db *gorm.DB,
	inventoryRepo repository.InventoryRepository,
	reservationRepo repository.ReservationRepository,
	idGen *snowflake.IDGenerator,
	metrics *monitor.MetricsCollector,
	reservationTTL time.Duration,
	expiryBatch int,
) InventoryService {
	return &inventoryService{
		db:              db,
		inventoryRepo:   inventoryRepo,
		reservationRepo: reservationRepo,
		idGen:           idGen,
		metrics:         metrics,
		reservationTTL:  reservationTTL,
		expiryBatch:     expiryBatch,
	}
}

// Reserve places a TTL-bound hold and decrements physical stock in the
// same transaction, under the SKU row lock
func (s *inventoryService) Reserve(ctx context.Context, orderNo, sku string, quantity int) (*model.Reservation, error) {
	if quantity <= 0 {
		return nil, utils.ErrInvalidParam
	}

	var reservation *model.Reservation
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		record, err := s.inventoryRepo.GetBySKUForUpdate(tx, sku)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return utils.ErrSKUNotFound
			}
			return fmt.Errorf("failed to lock inventory for %s: %w", sku, err)
		}

		if !record.CanReserve(quantity) {
			return utils.ErrInsufficientStock
		}

		record.PhysicalStock -= quantity
		record.ReservedStock += quantity
		if err := s.inventoryRepo.Save(tx, record); err != nil {
			return fmt.Errorf("failed to update inventory for %s: %w", sku, err)
		}

		reservation = &model.Reservation{
			ReservationNo: fmt.Sprintf("RSV%d", s.idGen.NextID()),
			OrderNo:       orderNo,
			SKU:           sku,
			Quantity:      quantity,
			Status:        model.ReservationStatusActive,
			ExpiresAt:     time.Now().Add(s.reservationTTL),
		}
		if err := s.reservationRepo.Create(tx, reservation); err != nil {
			return fmt.Errorf("failed to create reservation: %w", err)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.RecordReservation("reserve")
	log.WithFields(map[string]interface{}{
		"reservation_no": reservation.ReservationNo,
		"order_no":       orderNo,
		"sku":            sku,
		"quantity":       quantity,
	}).Info("Stock reserved")

	return reservation, nil
}

// ConfirmReservation finalizes an ACTIVE reservation. Stock was already
// decremented at reserve time, so only counters and state change here.
func (s *inventoryService) ConfirmReservation(ctx context.Context, reservationNo string) error {
	return s.ConfirmReservations(ctx, []string{reservationNo})
}

// ConfirmReservations finalizes a set of holds in one transaction.
// Every hold is locked and checked before anything is written, so a
// hold that expired or was cancelled mid-flight leaves its siblings
// untouched instead of half the order confirmed.
func (s *inventoryService) ConfirmReservations(ctx context.Context, reservationNos []string) error {
	if len(reservationNos) == 0 {
		return nil
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		reservations := make([]*model.Reservation, 0, len(reservationNos))
		for _, reservationNo := range reservationNos {
			reservation, err := s.reservationRepo.GetForUpdate(tx, reservationNo)
			if err != nil {
				return fmt.Errorf("failed to lock reservation %s: %w", reservationNo, err)
			}
			if !reservation.IsActive() {
				return fmt.Errorf("reservation %s is %s, cannot confirm", reservationNo, reservation.Status)
			}
			reservations = append(reservations, reservation)
		}

		for _, reservation := range reservations {
			if err := reservation.Confirm(); err != nil {
				return err
			}
			if err := s.reservationRepo.Save(tx, reservation); err != nil {
				return fmt.Errorf("failed to update reservation: %w", err)
			}

			record, err := s.inventoryRepo.GetBySKUForUpdate(tx, reservation.SKU)
			if err != nil {
				return fmt.Errorf("failed to lock inventory for %s: %w", reservation.SKU, err)
			}
			record.ReservedStock -= reservation.Quantity
			if record.ReservedStock < 0 {
				record.ReservedStock = 0
			}
			if err := s.inventoryRepo.Save(tx, record); err != nil {
				return fmt.Errorf("failed to update inventory for %s: %w", reservation.SKU, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	for _, reservationNo := range reservationNos {
		s.metrics.RecordReservation("confirm")
		log.WithField("reservation_no", reservationNo).Info("Reservation confirmed")
	}
	return nil
}

// CancelReservation releases an ACTIVE reservation and credits stock back
func (s *inventoryService) CancelReservation(ctx context.Context, reservationNo string) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		reservation, err := s.reservationRepo.GetForUpdate(tx, reservationNo)
		if err != nil {
			return fmt.Errorf("failed to lock reservation %s: %w", reservationNo, err)
		}

		if err := reservation.Cancel(); err != nil {
			return err
		}
		if err := s.reservationRepo.Save(tx, reservation); err != nil {
			return fmt.Errorf("failed to update reservation: %w", err)
		}

		return s.creditBack(tx, reservation.SKU, reservation.Quantity)
	})
	if err != nil {
		return err
	}

	s.metrics.RecordReservation("cancel")
	log.WithField("reservation_no", reservationNo).Info("Reservation cancelled")
	return nil
}

// RestoreStock credits confirmed stock back for every confirmed
// reservation of the order. Confirmed holds no longer carry reserved
// stock, so only physical stock moves.
func (s *inventoryService) RestoreStock(ctx context.Context, orderNo string) error {
	reservations, err := s.reservationRepo.ListByOrderNo(ctx, orderNo)
	if err != nil {
		return fmt.Errorf("failed to list reservations for %s: %w", orderNo, err)
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, reservation := range reservations {
			if reservation.Status != model.ReservationStatusConfirmed {
				continue
			}

			// Flip the hold out of CONFIRMED first: a repeated
			// compensation pass must not credit the same hold twice.
			if err := reservation.Release(); err != nil {
				return err
			}
			if err := s.reservationRepo.Save(tx, reservation); err != nil {
				return fmt.Errorf("failed to update reservation: %w", err)
			}

			record, err := s.inventoryRepo.GetBySKUForUpdate(tx, reservation.SKU)
			if err != nil {
				return fmt.Errorf("failed to lock inventory for %s: %w", reservation.SKU, err)
			}
			record.PhysicalStock += reservation.Quantity
			if err := s.inventoryRepo.Save(tx, record); err != nil {
				return fmt.Errorf("failed to restore stock for %s: %w", reservation.SKU, err)
			}

			s.metrics.RecordReservation("restore")
			log.WithFields(map[string]interface{}{
				"order_no": orderNo,
				"sku":      reservation.SKU,
				"quantity": reservation.Quantity,
			}).Info("Confirmed stock restored")
		}
		return nil
	})
}

// GetStock returns the current ledger row for a SKU
func (s *inventoryService) GetStock(ctx context.Context, sku string) (*model.InventoryRecord, error) {
	record, err := s.inventoryRepo.GetBySKU(ctx, sku)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrSKUNotFound
		}
		return nil, err
	}
	return record, nil
}

// creditBack returns quantity to both stock counters under the SKU lock
func (s *inventoryService) creditBack(tx *gorm.DB, sku string, quantity int) error {
	record, err := s.inventoryRepo.GetBySKUForUpdate(tx, sku)
	if err != nil {
		return fmt.Errorf("failed to lock inventory for %s: %w", sku, err)
	}
	record.PhysicalStock += quantity
	record.ReservedStock -= quantity
	if record.ReservedStock < 0 {
		record.ReservedStock = 0
	}
	return s.inventoryRepo.Save(tx, record)
}
