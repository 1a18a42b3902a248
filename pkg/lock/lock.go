package lock

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrLockTimeout lock not acquired within the wait window; retriable
	ErrLockTimeout = errors.New("lock acquisition timed out")
	// ErrLockNotHeld lock is not held by this owner
	ErrLockNotHeld = errors.New("lock not held")
)

const retryDelay = 50 * time.Millisecond

// unlock only deletes the key when the owner token matches, so an expired
// lock re-acquired by someone else is never released by the old owner
const unlockScript = `
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("del", KEYS[1])
	else
		return 0
	end
`

// Service distributed mutual exclusion over a shared key space, backed by
// Redis SETNX with per-acquisition owner tokens
type Service struct {
	client *redis.Client
	prefix string

	mu    sync.Mutex
	owned map[string]string // key -> owner token held by this process
}

// NewService creates a distributed lock service
func NewService(client *redis.Client, prefix string) *Service {
	return &Service{
		client: client,
		prefix: prefix,
		owned:  make(map[string]string),
	}
}

// TryLock acquires the lock for key, retrying until waitTime elapses.
// The lock auto-expires after holdTime. Returns ErrLockTimeout when the
// wait window closes without acquisition.
func (s *Service) TryLock(ctx context.Context, key string, waitTime, holdTime time.Duration) error {
	token, err := newToken()
	if err != nil {
		return err
	}

	deadline := time.Now().Add(waitTime)
	redisKey := s.prefix + key

	for {
		ok, err := s.client.SetNX(ctx, redisKey, token, holdTime).Result()
		if err != nil {
			return err
		}
		if ok {
			s.mu.Lock()
			s.owned[key] = token
			s.mu.Unlock()
			return nil
		}

		if time.Now().After(deadline) {
			return ErrLockTimeout
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retryDelay):
		}
	}
}

// Unlock releases the lock for key if this process still owns it
func (s *Service) Unlock(ctx context.Context, key string) error {
	s.mu.Lock()
	token, ok := s.owned[key]
	delete(s.owned, key)
	s.mu.Unlock()

	if !ok {
		return ErrLockNotHeld
	}

	result, err := s.client.Eval(ctx, unlockScript, []string{s.prefix + key}, token).Int()
	if err != nil {
		return err
	}
	if result == 0 {
		return ErrLockNotHeld
	}
	return nil
}

// IsHeldByCurrentOwner reports whether this process holds the lock for key
// and the hold has not expired in Redis
func (s *Service) IsHeldByCurrentOwner(ctx context.Context, key string) (bool, error) {
	s.mu.Lock()
	token, ok := s.owned[key]
	s.mu.Unlock()
	if !ok {
		return false, nil
	}

	value, err := s.client.Get(ctx, s.prefix+key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, err
	}
	return value == token, nil
}

// Extend pushes out the expiry of a held lock
func (s *Service) Extend(ctx context.Context, key string, holdTime time.Duration) error {
	s.mu.Lock()
	token, ok := s.owned[key]
	s.mu.Unlock()
	if !ok {
		return ErrLockNotHeld
	}

	script := `
		if redis.call("get", KEYS[1]) == ARGV[1] then
			return redis.call("pexpire", KEYS[1], ARGV[2])
		else
			return 0
		end
	`
	result, err := s.client.Eval(ctx, script, []string{s.prefix + key}, token, int(holdTime.Milliseconds())).Int()
	if err != nil {
		return err
	}
	if result == 0 {
		return ErrLockNotHeld
	}
	return nil
}

func newToken() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
