package processor

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/nimasrn/transaction-guard/pkg/logger"
	"github.com/nimasrn/transaction-guard/pkg/redis"
)

var (
	ErrAlreadyProcessed  = errors.New("job already processed")
	ErrLockHeld          = errors.New("job is being processed by another worker")
	ErrLockAcquireFailed = errors.New("failed to acquire processing lock")
)

type IdempotencyConfig struct {
	// LockTTL must outlive the longest attempt, otherwise a slow attempt
	// and its redelivery can run side by side.
	LockTTL time.Duration

	ProcessedTTL time.Duration

	LockKeyPrefix string

	ProcessedKeyPrefix string
}

func DefaultIdempotencyConfig() IdempotencyConfig {
	return IdempotencyConfig{
		LockTTL:            2 * time.Minute,
		ProcessedTTL:       24 * time.Hour,
		LockKeyPrefix:      "job:lock:",
		ProcessedKeyPrefix: "job:processed:",
	}
}

type IdempotencyService struct {
	redis  redis.RedisAdapter
	config IdempotencyConfig
}

func NewIdempotencyService(redisAdapter redis.RedisAdapter, config IdempotencyConfig) *IdempotencyService {
	return &IdempotencyService{
		redis:  redisAdapter,
		config: config,
	}
}

type ProcessingContext struct {
	JobID        string
	Attempt      int
	lockAcquired bool
}

func (s *IdempotencyService) AcquireProcessingLock(ctx context.Context, jobID string, attempt int) (*ProcessingContext, error) {
	processed, err := s.IsProcessed(ctx, jobID)
	if err != nil {
		// a duplicate insert is harmless, a blocked job is not
		logger.Warn("Failed to check processed status", "job_id", jobID, "error", err)
	} else if processed {
		return nil, ErrAlreadyProcessed
	}

	lockKey := s.config.LockKeyPrefix + jobID
	lockValue := []byte(strconv.FormatInt(time.Now().UnixNano(), 10))

	acquired, err := s.redis.SetNX(ctx, lockKey, lockValue, s.config.LockTTL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLockAcquireFailed, err)
	}
	if !acquired {
		return nil, ErrLockHeld
	}

	logger.Debug("Processing lock acquired", "job_id", jobID, "attempt", attempt, "lock_ttl", s.config.LockTTL)

	return &ProcessingContext{
		JobID:        jobID,
		Attempt:      attempt,
		lockAcquired: true,
	}, nil
}

// MarkSuccess records the job as done for ProcessedTTL and drops the lock.
func (s *IdempotencyService) MarkSuccess(ctx context.Context, pc *ProcessingContext) error {
	processedKey := s.config.ProcessedKeyPrefix + pc.JobID
	if err := s.redis.Set(ctx, processedKey, []byte(strconv.Itoa(pc.Attempt)), s.config.ProcessedTTL); err != nil {
		return fmt.Errorf("failed to mark as processed: %w", err)
	}

	return s.ReleaseLock(ctx, pc)
}

func (s *IdempotencyService) ReleaseLock(ctx context.Context, pc *ProcessingContext) error {
	if pc == nil || !pc.lockAcquired {
		return nil
	}

	lockKey := s.config.LockKeyPrefix + pc.JobID
	if err := s.redis.Del(ctx, lockKey); err != nil {
		logger.Warn("Failed to release lock", "job_id", pc.JobID, "error", err)
		return err
	}

	pc.lockAcquired = false
	return nil
}

func (s *IdempotencyService) IsProcessed(ctx context.Context, jobID string) (bool, error) {
	exists, err := s.redis.Exist(ctx, s.config.ProcessedKeyPrefix+jobID)
	if err != nil {
		return false, err
	}
	return exists > 0, nil
}
