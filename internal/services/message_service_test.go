package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sahelsms/orange-gateway/internal/model"
	"github.com/sahelsms/orange-gateway/internal/msisdn"
	"github.com/sahelsms/orange-gateway/internal/orange"
	"github.com/sahelsms/orange-gateway/internal/repository"
)

type MockMessageRepository struct {
	mock.Mock
}

func (m *MockMessageRepository) Create(ctx context.Context, msg *model.Message) (*model.Message, error) {
	args := m.Called(ctx, msg)
	if args.Error(1) != nil {
		return nil, args.Error(1)
	}
	return msg, nil
}

func (m *MockMessageRepository) Update(ctx context.Context, msg *model.Message) error {
	args := m.Called(ctx, msg)
	return args.Error(0)
}

func (m *MockMessageRepository) GetByID(ctx context.Context, id string) (*model.Message, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Message), args.Error(1)
}

func (m *MockMessageRepository) GetByReferenceCode(ctx context.Context, ref string) (*model.Message, error) {
	args := m.Called(ctx, ref)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Message), args.Error(1)
}

func (m *MockMessageRepository) List(ctx context.Context, f model.MessageFilter) ([]*model.Message, int64, error) {
	args := m.Called(ctx, f)
	if args.Get(0) == nil {
		return nil, args.Get(1).(int64), args.Error(2)
	}
	return args.Get(0).([]*model.Message), args.Get(1).(int64), args.Error(2)
}

type MockCarrierClient struct {
	mock.Mock
}

func (m *MockCarrierClient) SubmitMT(ctx context.Context, msg *model.Message) (string, error) {
	args := m.Called(ctx, msg)
	return args.String(0), args.Error(1)
}

func (m *MockCarrierClient) GetBalance(ctx context.Context) (orange.Balance, error) {
	args := m.Called(ctx)
	return args.Get(0).(orange.Balance), args.Error(1)
}

// recordingHandler captures the order in which hooks fire and the status the
// message carried at that moment.
type recordingHandler struct {
	mu       sync.Mutex
	calls    []string
	statuses []model.Status
}

func (h *recordingHandler) record(name string, msg *model.Message) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls = append(h.calls, name)
	h.statuses = append(h.statuses, msg.Status)
}

func (h *recordingHandler) HandleIncomingMO(msg *model.Message)      { h.record("mo", msg) }
func (h *recordingHandler) HandleDeliveryReceipt(msg *model.Message) { h.record("dr", msg) }
func (h *recordingHandler) HandleSentMT(msg *model.Message)          { h.record("sent", msg) }

type panickingHandler struct{ NoopHandler }

func (panickingHandler) HandleIncomingMO(*model.Message) { panic("host handler blew up") }

func newTestService(repo MessageRepository, carrier CarrierClient, hooks Handler) *MessageService {
	return NewMessageService(repo, carrier, hooks, MessageServiceConfig{
		Normalizer:        msisdn.Normalizer{CountryPrefix: "223", Enabled: true},
		DefaultSenderName: "SAHEL",
	})
}

func TestMessageService_Send_Inline_Success(t *testing.T) {
	repo := new(MockMessageRepository)
	carrier := new(MockCarrierClient)
	hooks := &recordingHandler{}
	ctx := context.Background()

	svc := newTestService(repo, carrier, hooks)

	repo.On("Create", ctx, mock.AnythingOfType("*model.Message")).Return(nil, nil)
	carrier.On("SubmitMT", ctx, mock.AnythingOfType("*model.Message")).Return("42", nil)
	repo.On("Update", ctx, mock.MatchedBy(func(m *model.Message) bool {
		return m.Status == model.StatusSent && m.ReferenceCode == "42"
	})).Return(nil)

	msg, err := svc.Send(ctx, model.SendRequest{Destination: "76 33 30 05", Content: "hello"})
	require.NoError(t, err)
	require.NotNil(t, msg)

	assert.Equal(t, model.StatusSent, msg.Status)
	assert.Equal(t, "42", msg.ReferenceCode)
	assert.Equal(t, "+22376333005", msg.DestinationAddress)
	assert.Equal(t, "SAHEL", msg.SenderAddress)
	assert.Equal(t, model.DirectionOutgoing, msg.Direction)
	assert.Equal(t, model.TypeMT, msg.SMSType)

	// the hook observed the already settled row
	require.Equal(t, []string{"sent"}, hooks.calls)
	assert.Equal(t, model.StatusSent, hooks.statuses[0])

	repo.AssertExpectations(t)
	carrier.AssertExpectations(t)
}

func TestMessageService_Send_ValidationFailure(t *testing.T) {
	repo := new(MockMessageRepository)
	carrier := new(MockCarrierClient)

	svc := newTestService(repo, carrier, NoopHandler{})

	_, err := svc.Send(context.Background(), model.SendRequest{Content: "hello"})
	assert.ErrorIs(t, err, model.ErrDestinationRequired)

	_, err = svc.Send(context.Background(), model.SendRequest{Destination: "76333005"})
	assert.ErrorIs(t, err, model.ErrContentRequired)

	repo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestMessageService_Send_CarrierFailure_SettlesLedgerFirst(t *testing.T) {
	repo := new(MockMessageRepository)
	carrier := new(MockCarrierClient)
	hooks := &recordingHandler{}
	ctx := context.Background()

	svc := newTestService(repo, carrier, hooks)

	carrierErr := orange.NewAPIError(403, []byte(`{"code":60,"message":"Policy error","description":"quota exceeded"}`))
	repo.On("Create", ctx, mock.AnythingOfType("*model.Message")).Return(nil, nil)
	carrier.On("SubmitMT", ctx, mock.AnythingOfType("*model.Message")).Return("", carrierErr)
	repo.On("Update", ctx, mock.MatchedBy(func(m *model.Message) bool {
		return m.Status == model.StatusFailedToSend
	})).Return(nil)

	msg, err := svc.Send(ctx, model.SendRequest{Destination: "76333005", Content: "hello"})
	require.Error(t, err)
	require.NotNil(t, msg)

	var apiErr *orange.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 403, apiErr.HTTPCode)

	assert.Equal(t, model.StatusFailedToSend, msg.Status)
	assert.Empty(t, msg.ReferenceCode)
	assert.Empty(t, hooks.calls)

	repo.AssertExpectations(t)
}

func TestMessageService_Send_Enqueued_LeavesPending(t *testing.T) {
	repo := new(MockMessageRepository)
	carrier := new(MockCarrierClient)
	ctx := context.Background()

	svc := newTestService(repo, carrier, NoopHandler{})

	var dispatched *model.Message
	svc.SetDispatcher(dispatcherFunc(func(_ context.Context, msg *model.Message) error {
		dispatched = msg
		return nil
	}))

	repo.On("Create", ctx, mock.AnythingOfType("*model.Message")).Return(nil, nil)

	msg, err := svc.Send(ctx, model.SendRequest{Destination: "76333005", Content: "hello"})
	require.NoError(t, err)

	assert.Equal(t, model.StatusPending, msg.Status)
	require.NotNil(t, dispatched)
	assert.Equal(t, msg.ID, dispatched.ID)

	carrier.AssertNotCalled(t, "SubmitMT", mock.Anything, mock.Anything)
}

type dispatcherFunc func(ctx context.Context, msg *model.Message) error

func (f dispatcherFunc) Dispatch(ctx context.Context, msg *model.Message) error { return f(ctx, msg) }

func TestMessageService_ProcessInbound_MO(t *testing.T) {
	repo := new(MockMessageRepository)
	carrier := new(MockCarrierClient)
	hooks := &recordingHandler{}
	ctx := context.Background()

	svc := newTestService(repo, carrier, hooks)

	repo.On("Create", ctx, mock.MatchedBy(func(m *model.Message) bool {
		return m.Direction == model.DirectionIncoming &&
			m.SMSType == model.TypeMO &&
			m.Status == model.StatusReceived &&
			m.SenderAddress == "+22376333005" &&
			m.CarrierMessageID == "mo-77"
	})).Return(nil, nil)

	body := []byte(`{
		"inboundSMSMessageNotification": {
			"inboundSMSMessage": {
				"senderAddress": "tel:+22376333005",
				"destinationAddress": "tel:+22370001",
				"messageId": "mo-77",
				"message": "STOP",
				"dateTime": "2024-03-01T10:15:00Z"
			}
		}
	}`)

	msg, err := svc.ProcessInbound(ctx, body)
	require.NoError(t, err)
	assert.Equal(t, "STOP", msg.Content)
	assert.Equal(t, []string{"mo"}, hooks.calls)

	repo.AssertExpectations(t)
}

func TestMessageService_ProcessInbound_DR(t *testing.T) {
	repo := new(MockMessageRepository)
	carrier := new(MockCarrierClient)
	hooks := &recordingHandler{}
	ctx := context.Background()

	svc := newTestService(repo, carrier, hooks)

	original := &model.Message{
		ID:            "msg-1",
		Direction:     model.DirectionOutgoing,
		SMSType:       model.TypeMT,
		ReferenceCode: "42",
		Status:        model.StatusSent,
	}
	repo.On("GetByReferenceCode", ctx, "42").Return(original, nil)
	repo.On("Update", ctx, mock.MatchedBy(func(m *model.Message) bool {
		return m.SMSType == model.TypeMTDR &&
			m.Status == model.StatusDelivered &&
			m.DeliveryStatusAt != nil
	})).Return(nil)

	body := []byte(`{
		"deliveryInfoNotification": {
			"callbackData": "42",
			"deliveryTime": "2024-03-01T10:20:00Z",
			"deliveryInfo": {"deliveryStatus": "DeliveredToTerminal"}
		}
	}`)

	msg, err := svc.ProcessInbound(ctx, body)
	require.NoError(t, err)
	assert.Equal(t, "msg-1", msg.ID)
	assert.Equal(t, []string{"dr"}, hooks.calls)
	assert.Equal(t, time.Date(2024, 3, 1, 10, 20, 0, 0, time.UTC), msg.DeliveryStatusAt.UTC())

	repo.AssertExpectations(t)
}

func TestMessageService_RecordDeliveryReceipt_UnknownReference(t *testing.T) {
	repo := new(MockMessageRepository)
	carrier := new(MockCarrierClient)
	ctx := context.Background()

	svc := newTestService(repo, carrier, NoopHandler{})

	repo.On("GetByReferenceCode", ctx, "no-such-ref").Return(nil, repository.ErrNotFound)

	msg, err := svc.RecordDeliveryReceipt(ctx, &orange.DRFields{
		ReferenceCode: "no-such-ref",
		DeliveredAt:   time.Now(),
		Status:        model.StatusDelivered,
	})
	assert.ErrorIs(t, err, ErrUnknownReference)
	assert.Nil(t, msg)

	repo.AssertNotCalled(t, "Update", mock.Anything, mock.Anything)
}

func TestMessageService_RecordIncoming_HookPanicKeepsLedger(t *testing.T) {
	repo := new(MockMessageRepository)
	carrier := new(MockCarrierClient)
	ctx := context.Background()

	svc := newTestService(repo, carrier, panickingHandler{})

	repo.On("Create", ctx, mock.AnythingOfType("*model.Message")).Return(nil, nil)

	msg, err := svc.RecordIncoming(ctx, &orange.MOFields{
		SenderAddress:      "+22376333005",
		DestinationAddress: "+22370001",
		Content:            "hello",
		ReceivedAt:         time.Now(),
	})

	var hookErr *HookError
	require.ErrorAs(t, err, &hookErr)
	assert.Equal(t, "HandleIncomingMO", hookErr.Hook)

	// the ledger write survived the panic
	require.NotNil(t, msg)
	assert.Equal(t, model.StatusReceived, msg.Status)
	repo.AssertExpectations(t)
}

func TestMessageService_Reply(t *testing.T) {
	ctx := context.Background()

	t.Run("replies to the originator", func(t *testing.T) {
		repo := new(MockMessageRepository)
		carrier := new(MockCarrierClient)

		svc := newTestService(repo, carrier, NoopHandler{})

		origin := &model.Message{
			ID:            "in-1",
			Direction:     model.DirectionIncoming,
			SMSType:       model.TypeMO,
			SenderAddress: "+22376333005",
			Status:        model.StatusReceived,
		}
		repo.On("GetByID", ctx, "in-1").Return(origin, nil)
		repo.On("Create", ctx, mock.AnythingOfType("*model.Message")).Return(nil, nil)
		carrier.On("SubmitMT", ctx, mock.AnythingOfType("*model.Message")).Return("43", nil)
		repo.On("Update", ctx, mock.AnythingOfType("*model.Message")).Return(nil)

		msg, err := svc.Reply(ctx, "in-1", "we got you", "")
		require.NoError(t, err)
		assert.Equal(t, "+22376333005", msg.DestinationAddress)
		assert.Equal(t, "SAHEL", msg.SenderAddress)
	})

	t.Run("rejects outgoing target", func(t *testing.T) {
		repo := new(MockMessageRepository)
		carrier := new(MockCarrierClient)

		svc := newTestService(repo, carrier, NoopHandler{})

		repo.On("GetByID", ctx, "out-1").Return(&model.Message{
			ID:        "out-1",
			Direction: model.DirectionOutgoing,
		}, nil)

		_, err := svc.Reply(ctx, "out-1", "nope", "")
		assert.ErrorIs(t, err, ErrNotIncoming)
		carrier.AssertNotCalled(t, "SubmitMT", mock.Anything, mock.Anything)
	})
}

func TestMessageService_Submit_UpdateFailureAfterCarrierSuccess(t *testing.T) {
	repo := new(MockMessageRepository)
	carrier := new(MockCarrierClient)
	ctx := context.Background()

	svc := newTestService(repo, carrier, NoopHandler{})

	msg := &model.Message{ID: "m-1", Status: model.StatusPending}
	carrier.On("SubmitMT", ctx, msg).Return("42", nil)
	repo.On("Update", ctx, msg).Return(errors.New("db down"))

	err := svc.Submit(ctx, msg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "recording sent message")
}
