package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/robfig/cron/v3"

	"github.com/adlaunch/backend/internal/locks"
	"github.com/adlaunch/backend/internal/logger"
	"github.com/adlaunch/backend/internal/metrics"
	"github.com/adlaunch/backend/internal/services"
)

// ErrCycleRunning is returned when another insights cycle holds the guard,
// in this process or on another replica.
var ErrCycleRunning = errors.New("insights cycle already running")

const lockResourceID = "global"

// InsightsSyncer runs one pass over all tenants
type InsightsSyncer interface {
	SyncAll(ctx context.Context) (*services.SyncSummary, error)
}

// StatePruner drops abandoned OAuth states
type StatePruner interface {
	PruneStates(ctx context.Context) (int64, error)
}

// Scheduler owns the periodic insights cycle
type Scheduler struct {
	cron     *cron.Cron
	insights InsightsSyncer
	pruner   StatePruner
	locks    *locks.LockManager
	interval time.Duration

	running atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
	mu      sync.Mutex
	started bool
}

// NewScheduler builds a scheduler that runs every interval. redisClient may be
// nil, in which case only the in-process guard applies.
func NewScheduler(insights InsightsSyncer, pruner StatePruner, redisClient *redis.Client, interval time.Duration) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		cron:     cron.New(cron.WithLogger(cronLogger{}), cron.WithChain(cron.Recover(cronLogger{}))),
		insights: insights,
		pruner:   pruner,
		interval: interval,
		ctx:      ctx,
		cancel:   cancel,
	}
	if redisClient != nil {
		s.locks = locks.NewLockManager(redisClient)
	}
	return s
}

// Spec is the cron expression the cycle is registered with.
func (s *Scheduler) Spec() string {
	return fmt.Sprintf("@every %s", s.interval)
}

func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return nil
	}

	if _, err := s.cron.AddFunc(s.Spec(), s.tick); err != nil {
		return fmt.Errorf("schedule insights sync: %w", err)
	}
	s.cron.Start()
	s.started = true

	logger.Info().Str("schedule", s.Spec()).Msg("Insights scheduler started")
	return nil
}

// Stop cancels a running cycle and waits for it to return or ctx to expire.
func (s *Scheduler) Stop(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return
	}
	s.started = false

	s.cancel()
	done := s.cron.Stop()
	select {
	case <-done.Done():
		logger.Info().Msg("Insights scheduler stopped")
	case <-ctx.Done():
		logger.Warn().Msg("Insights scheduler stop timed out")
	}
}

func (s *Scheduler) tick() {
	_, err := s.RunOnce(s.ctx)
	if errors.Is(err, ErrCycleRunning) {
		logger.Info().Msg("Previous insights cycle still running, skipping")
	}
}

// RunOnce runs one guarded cycle: prune states, then sync every tenant.
func (s *Scheduler) RunOnce(ctx context.Context) (*services.SyncSummary, error) {
	if !s.running.CompareAndSwap(false, true) {
		metrics.InsightsSyncCyclesTotal.WithLabelValues("skipped").Inc()
		return nil, ErrCycleRunning
	}
	defer s.running.Store(false)

	if s.locks == nil {
		return s.cycle(ctx)
	}

	var summary *services.SyncSummary
	err := locks.WithLock(ctx, s.locks, locks.ResourceInsightsSync, lockResourceID, s.lockTTL(), func() error {
		var err error
		summary, err = s.cycle(ctx)
		return err
	})
	if errors.Is(err, locks.ErrLockNotAcquired) {
		metrics.InsightsSyncCyclesTotal.WithLabelValues("skipped").Inc()
		return nil, ErrCycleRunning
	}
	return summary, err
}

// a crashed holder must not block the next interval
func (s *Scheduler) lockTTL() time.Duration {
	if s.interval < time.Minute {
		return time.Minute
	}
	return s.interval
}

func (s *Scheduler) cycle(ctx context.Context) (*services.SyncSummary, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.InsightsSyncDuration)
	log := logger.FromContext(ctx)

	if s.pruner != nil {
		if n, err := s.pruner.PruneStates(ctx); err != nil {
			log.Warn().Err(err).Msg("Failed to prune OAuth states")
		} else if n > 0 {
			log.Debug().Int64("pruned", n).Msg("Pruned expired OAuth states")
		}
	}

	summary, err := s.insights.SyncAll(ctx)
	if err != nil {
		metrics.InsightsSyncCyclesTotal.WithLabelValues("failed").Inc()
		log.Error().Err(err).Msg("Insights cycle failed")
		return summary, err
	}

	metrics.InsightsSyncCyclesTotal.WithLabelValues("success").Inc()
	log.Info().
		Int("clients", summary.Clients).
		Int("skipped", summary.Skipped).
		Int("failed", summary.Failed).
		Int("upserted", summary.Upserted).
		Dur("duration", timer.Duration()).
		Msg("Insights cycle finished")
	return summary, nil
}

// cronLogger routes cron's own messages into zerolog
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	logger.Debug().Fields(keysAndValues).Msg("cron: " + msg)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	logger.Error().Err(err).Fields(keysAndValues).Msg("cron: " + msg)
}
