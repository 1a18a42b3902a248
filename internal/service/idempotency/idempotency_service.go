package idempotency

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/allegro/bigcache/v3"
	"github.com/bits-and-blooms/bloom/v3"
	"gorm.io/gorm"

	"checkout/internal/model"
	"checkout/internal/monitor"
	"checkout/internal/repository"
	"checkout/pkg/log"
)

// Acquire outcome const
type Outcome int

const (
	// OutcomeNew the caller owns the key and must run the request
	OutcomeNew Outcome = iota
	// OutcomeCompleted a previous attempt succeeded, replay the response
	OutcomeCompleted
	// OutcomeInFlight another attempt holds the key right now
	OutcomeInFlight
	// OutcomeFailed a previous attempt failed; the caller decides
	// whether to surface the stored error or retake the key
	OutcomeFailed
)

// AcquireResult result of an acquire attempt
type AcquireResult struct {
	Outcome      Outcome
	ResponseData string
	ErrorMessage string
}

const (
	bloomEstimatedKeys      = 1_000_000
	bloomFalsePositiveRate  = 0.01
	maxAcquireInsertRetries = 3
)

// Service idempotency registry service.
// The bloom filter short-circuits the DB read for keys that were
// definitely never seen; the hot cache replays COMPLETED responses
// without touching the DB at all.
type Service struct {
	repo          repository.IdempotencyRepository
	metrics       *monitor.MetricsCollector
	cache         *bigcache.BigCache
	zombieTimeout time.Duration
	keyTTL        time.Duration

	mu     sync.Mutex
	filter *bloom.BloomFilter
}

// NewService creates the idempotency service
func NewService(
	repo repository.IdempotencyRepository,
	metrics *monitor.MetricsCollector,
	zombieTimeout, keyTTL, cacheTTL time.Duration,
) (*Service, error) {
	cache, err := bigcache.New(context.Background(), bigcache.DefaultConfig(cacheTTL))
	if err != nil {
		return nil, fmt.Errorf("failed to create response cache: %w", err)
	}

	return &Service{
		repo:          repo,
		metrics:       metrics,
		cache:         cache,
		zombieTimeout: zombieTimeout,
		keyTTL:        keyTTL,
		filter:        bloom.NewWithEstimates(bloomEstimatedKeys, bloomFalsePositiveRate),
	}, nil
}

// Acquire atomically claims the key for this attempt. Exactly one of
// concurrent callers with the same key gets OutcomeNew; the rest see
// the in-flight or terminal state.
func (s *Service) Acquire(ctx context.Context, key, requestType string, userID uint64, entityID string) (*AcquireResult, error) {
	if cached, err := s.cache.Get(key); err == nil {
		s.metrics.RecordIdempotencyHit("cache")
		return &AcquireResult{Outcome: OutcomeCompleted, ResponseData: string(cached)}, nil
	}

	if s.definitelyNew(key) {
		result, err := s.tryInsert(ctx, key, requestType, userID, entityID)
		if err == nil {
			return result, nil
		}
		if !errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, err
		}
		// False "definitely new": another instance inserted between the
		// filter check and ours. Fall through to the row read.
	}

	for attempt := 0; attempt < maxAcquireInsertRetries; attempt++ {
		row, err := s.repo.GetByKey(ctx, key)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				// Row purged or never inserted, claim it fresh.
				result, err := s.tryInsert(ctx, key, requestType, userID, entityID)
				if err == nil {
					return result, nil
				}
				if errors.Is(err, gorm.ErrDuplicatedKey) {
					continue
				}
				return nil, err
			}
			return nil, fmt.Errorf("failed to read idempotency key: %w", err)
		}

		switch row.Status {
		case model.IdempotencyStatusCompleted:
			s.metrics.RecordIdempotencyHit("completed")
			s.cacheResponse(key, row.ResponseData)
			return &AcquireResult{Outcome: OutcomeCompleted, ResponseData: row.ResponseData}, nil

		case model.IdempotencyStatusProcessing:
			s.metrics.RecordIdempotencyHit("in_flight")
			return &AcquireResult{Outcome: OutcomeInFlight}, nil

		case model.IdempotencyStatusFailed:
			s.metrics.RecordIdempotencyHit("failed")
			return &AcquireResult{Outcome: OutcomeFailed, ErrorMessage: row.ErrorMessage}, nil

		default:
			return nil, fmt.Errorf("unknown idempotency status %q for key %s", row.Status, key)
		}
	}

	// Only reachable under sustained contention on one key.
	return &AcquireResult{Outcome: OutcomeInFlight}, nil
}

// Retake moves a FAILED key back to PROCESSING for a fresh attempt.
// Returns false when a competing caller retook it first; whoever wins
// owns the key, everyone else treats the request as in flight.
func (s *Service) Retake(ctx context.Context, key string) (bool, error) {
	affected, err := s.repo.Retake(ctx, key)
	if err != nil {
		return false, fmt.Errorf("failed to retake idempotency key: %w", err)
	}
	if affected == 1 {
		s.metrics.RecordIdempotencyHit("retake")
		return true, nil
	}
	return false, nil
}

// Complete records the successful response for replay
func (s *Service) Complete(ctx context.Context, key, responseData string) error {
	affected, err := s.repo.MarkCompleted(ctx, key, responseData)
	if err != nil {
		return fmt.Errorf("failed to complete idempotency key: %w", err)
	}
	if affected == 0 {
		// A zombie sweep or competing writer reached a terminal state
		// first. The first terminal writer wins; log and move on.
		log.WithField("key", key).Warn("Idempotency completion lost terminal-write race")
		return nil
	}

	s.cacheResponse(key, responseData)
	return nil
}

// Fail records a failed attempt so a later retry can retake the key
func (s *Service) Fail(ctx context.Context, key, errorMessage string) error {
	affected, err := s.repo.MarkFailed(ctx, key, errorMessage)
	if err != nil {
		return fmt.Errorf("failed to fail idempotency key: %w", err)
	}
	if affected == 0 {
		log.WithField("key", key).Warn("Idempotency failure lost terminal-write race")
	}
	return nil
}

// SweepZombies forces PROCESSING keys older than the zombie timeout to
// FAILED so their requests become retriable
func (s *Service) SweepZombies(ctx context.Context) (int64, error) {
	cutoff := time.Now().Add(-s.zombieTimeout)
	affected, err := s.repo.FailZombies(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to sweep zombie keys: %w", err)
	}
	if affected > 0 {
		s.metrics.RecordZombiesFailed(affected)
		log.WithField("count", affected).Warn("Zombie idempotency keys forced to FAILED")
	}
	return affected, nil
}

// Purge deletes keys older than the retention TTL
func (s *Service) Purge(ctx context.Context) (int64, error) {
	cutoff := time.Now().Add(-s.keyTTL)
	deleted, err := s.repo.DeleteExpired(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to purge idempotency keys: %w", err)
	}
	if deleted > 0 {
		log.WithField("count", deleted).Info("Purged expired idempotency keys")
	}
	return deleted, nil
}

// StartZombieSweep runs SweepZombies on a ticker until ctx is done
func (s *Service) StartZombieSweep(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log.WithField("interval", interval.String()).Info("Idempotency zombie sweep started")

	for {
		select {
		case <-ctx.Done():
			log.Info("Idempotency zombie sweep stopped")
			return
		case <-ticker.C:
			if _, err := s.SweepZombies(ctx); err != nil {
				log.WithError(err).Error("Zombie sweep pass failed")
			}
		}
	}
}

// StartPurge runs Purge on a ticker until ctx is done
func (s *Service) StartPurge(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log.WithField("interval", interval.String()).Info("Idempotency purge task started")

	for {
		select {
		case <-ctx.Done():
			log.Info("Idempotency purge task stopped")
			return
		case <-ticker.C:
			if _, err := s.Purge(ctx); err != nil {
				log.WithError(err).Error("Idempotency purge pass failed")
			}
		}
	}
}

// tryInsert claims the key with a fresh PROCESSING row
func (s *Service) tryInsert(ctx context.Context, key, requestType string, userID uint64, entityID string) (*AcquireResult, error) {
	row := &model.IdempotencyKey{
		Key:         key,
		RequestType: requestType,
		UserID:      userID,
		EntityID:    entityID,
		Status:      model.IdempotencyStatusProcessing,
	}
	if err := s.repo.Create(ctx, row); err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to insert idempotency key: %w", err)
	}

	s.metrics.RecordIdempotencyHit("new")
	return &AcquireResult{Outcome: OutcomeNew}, nil
}

// definitelyNew reports whether the key has never been seen by this
// instance. Marks the key as seen, so a false return may still be a
// bloom false positive.
func (s *Service) definitelyNew(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := s.filter.TestString(key)
	s.filter.AddString(key)
	return !seen
}

func (s *Service) cacheResponse(key, responseData string) {
	if responseData == "" {
		return
	}
	if err := s.cache.Set(key, []byte(responseData)); err != nil {
		log.WithError(err).Debug("Failed to cache idempotent response")
	}
}
