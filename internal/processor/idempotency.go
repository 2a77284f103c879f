package processor

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/nimasrn/sms-forwarder/pkg/logger"
	"github.com/nimasrn/sms-forwarder/pkg/redis"
	"github.com/pkg/errors"
)

var (
	ErrAlreadyProcessed  = errors.New("message already forwarded")
	ErrLockAcquireFailed = errors.New("failed to acquire forwarding lock")
)

type IdempotencyConfig struct {
	// LockTTL bounds how long a crashed worker can hold a message.
	LockTTL time.Duration
	// ProcessedTTL is how long a finished message is remembered.
	ProcessedTTL       time.Duration
	LockKeyPrefix      string
	ProcessedKeyPrefix string
}

func DefaultIdempotencyConfig() IdempotencyConfig {
	return IdempotencyConfig{
		LockTTL:            30 * time.Second,
		ProcessedTTL:       24 * time.Hour,
		LockKeyPrefix:      "fwd:lock:",
		ProcessedKeyPrefix: "fwd:done:",
	}
}

// IdempotencyService keeps concurrent consumers from relaying the same
// message twice: a short SETNX lock while a worker handles it and a long
// lived marker once it is settled.
type IdempotencyService struct {
	redis  redis.RedisAdapter
	config IdempotencyConfig
	log    logger.Logger
}

func NewIdempotencyService(adapter redis.RedisAdapter, config IdempotencyConfig, l logger.Logger) *IdempotencyService {
	return &IdempotencyService{redis: adapter, config: config, log: l}
}

// Lease is a held forwarding lock. holder is the value stored under the lock
// key; a lease only removes the lock while the key still carries it.
type Lease struct {
	MessageID string
	holder    string
	released  bool
}

func (s *IdempotencyService) Acquire(ctx context.Context, messageID string) (*Lease, error) {
	done, err := s.redis.Exist(ctx, s.config.ProcessedKeyPrefix+messageID)
	if err != nil {
		// a redis blip risks a duplicate relay rather than a stuck message
		s.log.Warn("[idempotency] processed check failed", "message_id", messageID, "error", err)
	} else if done > 0 {
		return nil, ErrAlreadyProcessed
	}

	holder := uuid.NewString()
	ok, err := s.redis.SetNX(ctx, s.config.LockKeyPrefix+messageID, []byte(holder), s.config.LockTTL)
	if err != nil {
		return nil, errors.Wrap(ErrLockAcquireFailed, err.Error())
	}
	if !ok {
		return nil, ErrLockAcquireFailed
	}
	return &Lease{MessageID: messageID, holder: holder}, nil
}

// Settle records the message as finished and drops the lock. Skipped and
// forwarded messages are settled; failed ones are only released.
func (s *IdempotencyService) Settle(ctx context.Context, l *Lease) error {
	if err := s.redis.Set(ctx, s.config.ProcessedKeyPrefix+l.MessageID, []byte("1"), s.config.ProcessedTTL); err != nil {
		return errors.Wrap(err, "idempotency.Settle")
	}
	return s.Release(ctx, l)
}

// Release drops the lock if this lease still owns it. After LockTTL the key
// may belong to another worker and is left alone.
func (s *IdempotencyService) Release(ctx context.Context, l *Lease) error {
	if l == nil || l.released {
		return nil
	}
	owned, err := s.redis.DelIfEqual(ctx, s.config.LockKeyPrefix+l.MessageID, []byte(l.holder))
	if err != nil {
		return errors.Wrap(err, "idempotency.Release")
	}
	l.released = true
	if !owned {
		s.log.Warn("[idempotency] lock expired before release", "message_id", l.MessageID)
	}
	return nil
}

func (s *IdempotencyService) IsProcessed(ctx context.Context, messageID string) (bool, error) {
	n, err := s.redis.Exist(ctx, s.config.ProcessedKeyPrefix+messageID)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
