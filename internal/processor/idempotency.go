package processor

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"

	"github.com/sahelsms/orange-gateway/pkg/logger"
	"github.com/sahelsms/orange-gateway/pkg/redis"
)

var (
	ErrAlreadySubmitted  = errors.New("message already submitted")
	ErrLockAcquireFailed = errors.New("failed to acquire submit lock")
)

// SubmitGuardConfig tunes the idempotency keys protecting carrier
// submissions from at-least-once redelivery.
type SubmitGuardConfig struct {
	LockTTL      time.Duration
	SubmittedTTL time.Duration
}

func DefaultSubmitGuardConfig() SubmitGuardConfig {
	return SubmitGuardConfig{
		LockTTL:      30 * time.Second,
		SubmittedTTL: 24 * time.Hour,
	}
}

// SubmitGuard makes sure each pending message reaches the carrier at most
// once even when the stream redelivers its job. A short lock serializes
// concurrent consumers; a long-lived marker remembers settled submissions.
type SubmitGuard struct {
	redis  redis.RedisAdapter
	config SubmitGuardConfig
}

func NewSubmitGuard(adapter redis.RedisAdapter, config SubmitGuardConfig) *SubmitGuard {
	return &SubmitGuard{redis: adapter, config: config}
}

func (g *SubmitGuard) lockKey(id string) string      { return "submit-lock:" + id }
func (g *SubmitGuard) submittedKey(id string) string { return "submitted:" + id }

// Acquire takes the submit lock for a message. ErrAlreadySubmitted means a
// previous delivery settled this message; ErrLockAcquireFailed means another
// consumer holds it right now.
func (g *SubmitGuard) Acquire(ctx context.Context, messageID string) error {
	exists, err := g.redis.Exist(g.submittedKey(messageID))
	if err != nil {
		// A failed check must not block submission.
		logger.Warn("checking submitted marker", "message_id", messageID, "error", err)
	} else if exists > 0 {
		return ErrAlreadySubmitted
	}

	lockValue := []byte(fmt.Sprintf("%d", time.Now().UnixNano()))
	acquired, err := g.redis.SetNX(g.lockKey(messageID), lockValue, g.config.LockTTL)
	if err != nil {
		return errors.Wrap(ErrLockAcquireFailed, err.Error())
	}
	if !acquired {
		return ErrLockAcquireFailed
	}
	return nil
}

// MarkSettled records that the submission reached a final status, then
// releases the lock.
func (g *SubmitGuard) MarkSettled(ctx context.Context, messageID string) {
	if err := g.redis.Set(g.submittedKey(messageID), []byte("1"), g.config.SubmittedTTL); err != nil {
		logger.Error("marking message as submitted", "message_id", messageID, "error", err)
	}
	g.Release(ctx, messageID)
}

// Release frees the submit lock without a settled marker; the job may be
// delivered again.
func (g *SubmitGuard) Release(ctx context.Context, messageID string) {
	if err := g.redis.Del(g.lockKey(messageID)); err != nil {
		logger.Warn("releasing submit lock", "message_id", messageID, "error", err)
	}
}
