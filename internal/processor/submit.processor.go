package processor

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"

	"github.com/sahelsms/orange-gateway/internal/model"
	"github.com/sahelsms/orange-gateway/internal/queue"
	"github.com/sahelsms/orange-gateway/internal/services"
	"github.com/sahelsms/orange-gateway/pkg/logger"
)

type MessageLoader interface {
	GetByID(ctx context.Context, id string) (*model.Message, error)
}

type Submitter interface {
	Submit(ctx context.Context, msg *model.Message) error
}

// SubmitProcessor drains the submit stream: it resolves each job to its
// pending ledger row and performs the carrier submission. The ledger write
// inside Submit settles the message either way, so carrier failures are
// final and never requeued; only infrastructure errors before the
// submission leave the job pending for retry.
type SubmitProcessor struct {
	messages  MessageLoader
	submitter Submitter
	guard     *SubmitGuard
}

func NewSubmitProcessor(messages MessageLoader, submitter Submitter, guard *SubmitGuard) *SubmitProcessor {
	return &SubmitProcessor{messages: messages, submitter: submitter, guard: guard}
}

func (p *SubmitProcessor) GetType() string { return "mt-submit" }

func (p *SubmitProcessor) Process(ctx context.Context, job *queue.Job) error {
	var payload services.SubmitJob
	if err := json.Unmarshal(job.Data, &payload); err != nil {
		logger.Error("discarding malformed submit job", "job_id", job.ID, "error", err)
		return nil
	}

	msg, err := p.messages.GetByID(ctx, payload.MessageID)
	if err != nil {
		return errors.Wrap(err, "loading message for submission")
	}
	if msg.Status != model.StatusPending {
		logger.Info("skipping already settled message", "message_id", msg.ID, "status", msg.Status)
		return nil
	}

	if err := p.guard.Acquire(ctx, msg.ID); err != nil {
		if errors.Is(err, ErrAlreadySubmitted) {
			logger.Info("message already submitted, skipping", "message_id", msg.ID)
			return nil
		}
		return err
	}

	if err := p.submitter.Submit(ctx, msg); err != nil {
		var hookErr *services.HookError
		if errors.As(err, &hookErr) {
			// The submission and its ledger write succeeded.
			p.guard.MarkSettled(ctx, msg.ID)
			return nil
		}
		logger.Error("carrier submission failed", "message_id", msg.ID, "error", err)
		p.guard.MarkSettled(ctx, msg.ID)
		return nil
	}

	p.guard.MarkSettled(ctx, msg.ID)
	logger.Info("message submitted", "message_id", msg.ID, "reference_code", msg.ReferenceCode)
	return nil
}
