package services

import (
	"context"

	"github.com/sahelsms/orange-gateway/internal/model"
)

// Dispatcher decides what happens to an outgoing message after it has been
// written to the ledger as pending.
type Dispatcher interface {
	Dispatch(ctx context.Context, msg *model.Message) error
}

// Submitter is the slice of MessageService the inline dispatcher needs.
type Submitter interface {
	Submit(ctx context.Context, msg *model.Message) error
}

// InlineDispatcher submits to the carrier on the caller's goroutine; the
// caller observes the final sent/failed_to_send status synchronously.
type InlineDispatcher struct {
	submitter Submitter
}

func NewInlineDispatcher(s Submitter) *InlineDispatcher {
	return &InlineDispatcher{submitter: s}
}

func (d *InlineDispatcher) Dispatch(ctx context.Context, msg *model.Message) error {
	return d.submitter.Submit(ctx, msg)
}

// Publisher hands a message off to the submit queue.
type Publisher interface {
	PublishJSON(ctx context.Context, v interface{}) (string, error)
}

// EnqueuedDispatcher publishes the message id to the submit stream and
// returns immediately; a processor picks it up and the message stays pending
// until that worker runs.
type EnqueuedDispatcher struct {
	publisher Publisher
}

func NewEnqueuedDispatcher(p Publisher) *EnqueuedDispatcher {
	return &EnqueuedDispatcher{publisher: p}
}

// SubmitJob is the payload published for each enqueued message.
type SubmitJob struct {
	MessageID string `json:"message_id"`
}

func (d *EnqueuedDispatcher) Dispatch(ctx context.Context, msg *model.Message) error {
	_, err := d.publisher.PublishJSON(ctx, SubmitJob{MessageID: msg.ID})
	return err
}
