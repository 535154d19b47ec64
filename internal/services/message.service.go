package services

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/sahelsms/orange-gateway/internal/model"
	"github.com/sahelsms/orange-gateway/internal/msisdn"
	"github.com/sahelsms/orange-gateway/internal/orange"
	"github.com/sahelsms/orange-gateway/internal/repository"
	"github.com/sahelsms/orange-gateway/pkg/logger"
	"github.com/sahelsms/orange-gateway/pkg/prom"
)

var (
	// ErrUnknownReference is returned when a delivery receipt references a
	// message the ledger never recorded. The receipt is dropped.
	ErrUnknownReference = errors.New("delivery receipt references unknown message")

	// ErrNotIncoming guards Reply against being pointed at an outgoing message.
	ErrNotIncoming = errors.New("reply target is not an incoming message")
)

// MessageRepository is the ledger surface the service writes through. Both
// the postgres and the in-memory implementations satisfy it.
type MessageRepository interface {
	Create(ctx context.Context, msg *model.Message) (*model.Message, error)
	Update(ctx context.Context, msg *model.Message) error
	GetByID(ctx context.Context, id string) (*model.Message, error)
	GetByReferenceCode(ctx context.Context, ref string) (*model.Message, error)
	List(ctx context.Context, f model.MessageFilter) ([]*model.Message, int64, error)
}

// CarrierClient is the slice of the carrier API the service depends on.
type CarrierClient interface {
	SubmitMT(ctx context.Context, msg *model.Message) (string, error)
	GetBalance(ctx context.Context) (orange.Balance, error)
}

// MessageService orchestrates the message lifecycle: every carrier
// interaction is bracketed by ledger writes, and handler hooks fire only
// after the write they report is durable.
type MessageService struct {
	repo    MessageRepository
	carrier CarrierClient
	hooks   Handler
	norm    msisdn.Normalizer

	defaultSenderName string
	dispatcher        Dispatcher

	now func() time.Time
}

type MessageServiceConfig struct {
	Normalizer        msisdn.Normalizer
	DefaultSenderName string
}

func NewMessageService(repo MessageRepository, carrier CarrierClient, hooks Handler, cfg MessageServiceConfig) *MessageService {
	if hooks == nil {
		hooks = NoopHandler{}
	}
	return &MessageService{
		repo:              repo,
		carrier:           carrier,
		hooks:             hooks,
		norm:              cfg.Normalizer,
		defaultSenderName: cfg.DefaultSenderName,
		now:               time.Now,
	}
}

// SetDispatcher wires the dispatch strategy. Without one Send submits inline.
func (s *MessageService) SetDispatcher(d Dispatcher) { s.dispatcher = d }

// Send validates and records an outgoing message as pending, then hands it to
// the dispatcher. With the inline dispatcher the returned message carries the
// final sent or failed_to_send status and the carrier error, if any, comes
// back alongside it; the pending row always outlives a failed submission.
func (s *MessageService) Send(ctx context.Context, req model.SendRequest) (*model.Message, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	senderName := req.SenderName
	if senderName == "" {
		senderName = s.defaultSenderName
	}

	msg := &model.Message{
		ID:                 uuid.NewString(),
		Direction:          model.DirectionOutgoing,
		SMSType:            model.TypeMT,
		CreatedAt:          s.now().UTC(),
		SenderAddress:      senderName,
		DestinationAddress: s.norm.Normalize(req.Destination),
		Content:            req.Content,
		Status:             model.StatusPending,
	}

	created, err := s.repo.Create(ctx, msg)
	if err != nil {
		return nil, errors.Wrap(err, "recording outgoing message")
	}

	if s.dispatcher != nil {
		if err := s.dispatcher.Dispatch(ctx, created); err != nil {
			return created, err
		}
		return created, nil
	}
	return created, s.Submit(ctx, created)
}

// Submit performs the carrier submission for a pending message and settles
// its ledger row. On success the reference code and sent status are written
// before the HandleSentMT hook fires; on failure the failed_to_send write
// lands before the carrier error propagates.
func (s *MessageService) Submit(ctx context.Context, msg *model.Message) error {
	ref, err := s.carrier.SubmitMT(ctx, msg)
	if err != nil {
		msg.Status = model.StatusFailedToSend
		if uerr := s.repo.Update(ctx, msg); uerr != nil {
			logger.Error("recording failed submission", "message_id", msg.ID, "error", uerr)
		}
		prom.IncMTFailed()
		return err
	}

	msg.ReferenceCode = ref
	msg.Status = model.StatusSent
	if err := s.repo.Update(ctx, msg); err != nil {
		return errors.Wrap(err, "recording sent message")
	}
	prom.IncMTSent()

	if hookErr := runHook("HandleSentMT", msg.ID, func() { s.hooks.HandleSentMT(msg) }); hookErr != nil {
		return hookErr
	}
	return nil
}

// ProcessInbound routes a raw webhook body to the SMS-MO or SMS-DR path. The
// returned message is non-nil whenever the ledger was written, even when the
// accompanying error is a hook failure.
func (s *MessageService) ProcessInbound(ctx context.Context, body []byte) (*model.Message, error) {
	kind, err := orange.DetectInbound(body)
	if err != nil {
		return nil, err
	}

	switch kind {
	case orange.InboundMO:
		fields, err := orange.DecodeMONotification(body)
		if err != nil {
			return nil, err
		}
		return s.RecordIncoming(ctx, fields)
	default:
		fields, err := orange.DecodeDRNotification(body)
		if err != nil {
			return nil, err
		}
		return s.RecordDeliveryReceipt(ctx, fields)
	}
}

// RecordIncoming writes an SMS-MO to the ledger as received and fires the
// incoming hook.
func (s *MessageService) RecordIncoming(ctx context.Context, fields *orange.MOFields) (*model.Message, error) {
	msg := &model.Message{
		ID:                 uuid.NewString(),
		Direction:          model.DirectionIncoming,
		SMSType:            model.TypeMO,
		CreatedAt:          fields.ReceivedAt.UTC(),
		SenderAddress:      s.norm.Normalize(fields.SenderAddress),
		DestinationAddress: s.norm.Normalize(fields.DestinationAddress),
		CarrierMessageID:   fields.CarrierMessageID,
		Content:            fields.Content,
		Status:             model.StatusReceived,
	}

	created, err := s.repo.Create(ctx, msg)
	if err != nil {
		return nil, errors.Wrap(err, "recording incoming message")
	}
	prom.IncMOReceived()

	if hookErr := runHook("HandleIncomingMO", created.ID, func() { s.hooks.HandleIncomingMO(created) }); hookErr != nil {
		return created, hookErr
	}
	return created, nil
}

// RecordDeliveryReceipt resolves the carrier reference to the original MT,
// applies the mapped delivery status and fires the receipt hook. A reference
// the ledger does not know fails the whole operation.
func (s *MessageService) RecordDeliveryReceipt(ctx context.Context, fields *orange.DRFields) (*model.Message, error) {
	msg, err := s.repo.GetByReferenceCode(ctx, fields.ReferenceCode)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, errors.Wrap(ErrUnknownReference, fields.ReferenceCode)
		}
		return nil, errors.Wrap(err, "resolving delivery receipt reference")
	}

	deliveredAt := fields.DeliveredAt.UTC()
	msg.SMSType = model.TypeMTDR
	msg.Status = fields.Status
	msg.DeliveryStatusAt = &deliveredAt
	if err := s.repo.Update(ctx, msg); err != nil {
		return nil, errors.Wrap(err, "recording delivery receipt")
	}
	prom.IncDRRecorded(string(fields.Status))

	if hookErr := runHook("HandleDeliveryReceipt", msg.ID, func() { s.hooks.HandleDeliveryReceipt(msg) }); hookErr != nil {
		return msg, hookErr
	}
	return msg, nil
}

// Reply sends an outgoing message back to the originator of an incoming one.
func (s *MessageService) Reply(ctx context.Context, incomingID, content, senderName string) (*model.Message, error) {
	origin, err := s.repo.GetByID(ctx, incomingID)
	if err != nil {
		return nil, err
	}
	if origin.Direction != model.DirectionIncoming {
		return nil, ErrNotIncoming
	}
	return s.Send(ctx, model.SendRequest{
		Destination: origin.SenderAddress,
		Content:     content,
		SenderName:  senderName,
	})
}

// Get fetches a single ledger entry by id.
func (s *MessageService) Get(ctx context.Context, id string) (*model.Message, error) {
	return s.repo.GetByID(ctx, id)
}

// List queries the ledger.
func (s *MessageService) List(ctx context.Context, f model.MessageFilter) ([]*model.Message, int64, error) {
	return s.repo.List(ctx, f)
}

// Balance asks the carrier for remaining SMS units on the contract.
func (s *MessageService) Balance(ctx context.Context) (orange.Balance, error) {
	return s.carrier.GetBalance(ctx)
}
