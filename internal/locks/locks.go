package locks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"github.com/adlaunch/backend/internal/logger"
)

var (
	ErrLockNotAcquired = errors.New("could not acquire lock")
	ErrLockExpired     = errors.New("lock expired")
	ErrLockNotOwned    = errors.New("lock not owned by this holder")
)

// ResourceType names a family of lockable resources
type ResourceType string

const (
	// ResourceInsightsSync guards the insights cycle across replicas
	ResourceInsightsSync ResourceType = "insights_sync"
)

// compare-and-delete so a holder never removes a lock it lost to expiry
var releaseScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("del", KEYS[1])
	else
		return 0
	end
`)

var extendScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("pexpire", KEYS[1], ARGV[2])
	else
		return 0
	end
`)

// DistributedLock is one held lock
type DistributedLock struct {
	client    *redis.Client
	key       string
	token     string
	expiresAt time.Time
}

// LockManager hands out Redis backed locks
type LockManager struct {
	redis     *redis.Client
	keyPrefix string
}

func NewLockManager(redisClient *redis.Client) *LockManager {
	return &LockManager{
		redis:     redisClient,
		keyPrefix: "adlaunch:lock:",
	}
}

func (m *LockManager) lockKey(resourceType ResourceType, resourceID string) string {
	return fmt.Sprintf("%s%s:%s", m.keyPrefix, resourceType, resourceID)
}

// Acquire takes the lock with SET NX or fails with ErrLockNotAcquired.
func (m *LockManager) Acquire(ctx context.Context, resourceType ResourceType, resourceID string, ttl time.Duration) (*DistributedLock, error) {
	key := m.lockKey(resourceType, resourceID)
	token := uuid.New().String()

	ok, err := m.redis.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis error: %w", err)
	}
	if !ok {
		return nil, ErrLockNotAcquired
	}

	return &DistributedLock{
		client:    m.redis,
		key:       key,
		token:     token,
		expiresAt: time.Now().Add(ttl),
	}, nil
}

func (m *LockManager) IsLocked(ctx context.Context, resourceType ResourceType, resourceID string) (bool, error) {
	exists, err := m.redis.Exists(ctx, m.lockKey(resourceType, resourceID)).Result()
	if err != nil {
		return false, err
	}
	return exists > 0, nil
}

// Release drops the lock if this holder still owns it.
func (l *DistributedLock) Release(ctx context.Context) error {
	result, err := releaseScript.Run(ctx, l.client, []string{l.key}, l.token).Int64()
	if err != nil {
		return err
	}
	if result == 0 {
		return ErrLockNotOwned
	}
	return nil
}

// Extend pushes the expiry out while the holder is still working.
func (l *DistributedLock) Extend(ctx context.Context, ttl time.Duration) error {
	result, err := extendScript.Run(ctx, l.client, []string{l.key}, l.token, ttl.Milliseconds()).Int64()
	if err != nil {
		return err
	}
	if result == 0 {
		return ErrLockExpired
	}
	l.expiresAt = time.Now().Add(ttl)
	return nil
}

func (l *DistributedLock) ExpiresAt() time.Time {
	return l.expiresAt
}

// WithLock runs fn while holding the lock. The lock is extended every ttl/3
// until fn returns, so a slow fn keeps ownership past the initial ttl.
func WithLock(ctx context.Context, manager *LockManager, resourceType ResourceType, resourceID string, ttl time.Duration, fn func() error) error {
	lock, err := manager.Acquire(ctx, resourceType, resourceID, ttl)
	if err != nil {
		return err
	}
	defer lock.Release(context.WithoutCancel(ctx))

	stop := make(chan struct{})
	stopped := make(chan struct{})
	go lock.keepAlive(ctx, ttl, stop, stopped)
	defer func() {
		close(stop)
		<-stopped
	}()

	return fn()
}

func (l *DistributedLock) keepAlive(ctx context.Context, ttl time.Duration, stop <-chan struct{}, stopped chan<- struct{}) {
	defer close(stopped)

	ticker := time.NewTicker(ttl / 3)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			err := l.Extend(context.WithoutCancel(ctx), ttl)
			if errors.Is(err, ErrLockExpired) {
				logger.Warn().Str("lock", l.key).Msg("Lock lost before work finished")
				return
			}
			if err != nil {
				logger.Warn().Err(err).Str("lock", l.key).Msg("Failed to extend lock")
			}
		}
	}
}
