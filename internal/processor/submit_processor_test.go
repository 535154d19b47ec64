package processor

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sahelsms/orange-gateway/internal/model"
	"github.com/sahelsms/orange-gateway/internal/queue"
	"github.com/sahelsms/orange-gateway/internal/services"
	"github.com/sahelsms/orange-gateway/pkg/redis"
)

type MockMessageLoader struct {
	mock.Mock
}

func (m *MockMessageLoader) GetByID(ctx context.Context, id string) (*model.Message, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Message), args.Error(1)
}

type MockSubmitter struct {
	mock.Mock
}

func (m *MockSubmitter) Submit(ctx context.Context, msg *model.Message) error {
	args := m.Called(ctx, msg)
	return args.Error(0)
}

func setupTestGuard(t *testing.T) (*miniredis.Miniredis, *SubmitGuard) {
	mr, err := miniredis.Run()
	require.NoError(t, err)

	connName := t.Name() + "-" + mr.Addr()
	adapter, err := redis.NewRedisAdapter(connName, "", &goredis.UniversalOptions{
		Addrs: []string{mr.Addr()},
	})
	require.NoError(t, err)

	return mr, NewSubmitGuard(adapter, DefaultSubmitGuardConfig())
}

func newSubmitJob(t *testing.T, messageID string) *queue.Job {
	data, err := json.Marshal(services.SubmitJob{MessageID: messageID})
	require.NoError(t, err)
	return &queue.Job{ID: "1-0", Data: data, Timestamp: time.Now()}
}

func TestSubmitGuard(t *testing.T) {
	mr, guard := setupTestGuard(t)
	defer mr.Close()
	ctx := context.Background()

	t.Run("acquire then release", func(t *testing.T) {
		require.NoError(t, guard.Acquire(ctx, "msg-1"))

		// a second consumer cannot take the held lock
		err := guard.Acquire(ctx, "msg-1")
		assert.ErrorIs(t, err, ErrLockAcquireFailed)

		guard.Release(ctx, "msg-1")
		assert.NoError(t, guard.Acquire(ctx, "msg-1"))
	})

	t.Run("settled marker blocks redelivery", func(t *testing.T) {
		require.NoError(t, guard.Acquire(ctx, "msg-2"))
		guard.MarkSettled(ctx, "msg-2")

		err := guard.Acquire(ctx, "msg-2")
		assert.ErrorIs(t, err, ErrAlreadySubmitted)
	})
}

func TestSubmitProcessor_Process(t *testing.T) {
	ctx := context.Background()

	t.Run("submits a pending message", func(t *testing.T) {
		mr, guard := setupTestGuard(t)
		defer mr.Close()

		loader := new(MockMessageLoader)
		submitter := new(MockSubmitter)
		p := NewSubmitProcessor(loader, submitter, guard)

		msg := &model.Message{ID: "msg-1", Status: model.StatusPending}
		loader.On("GetByID", mock.Anything, "msg-1").Return(msg, nil)
		submitter.On("Submit", mock.Anything, msg).Return(nil)

		err := p.Process(ctx, newSubmitJob(t, "msg-1"))
		require.NoError(t, err)

		// the settled marker short-circuits a redelivery of the same job
		err = p.Process(ctx, newSubmitJob(t, "msg-1"))
		require.NoError(t, err)

		loader.AssertNumberOfCalls(t, "GetByID", 2)
		submitter.AssertNumberOfCalls(t, "Submit", 1)
	})

	t.Run("malformed payload is discarded", func(t *testing.T) {
		mr, guard := setupTestGuard(t)
		defer mr.Close()

		loader := new(MockMessageLoader)
		submitter := new(MockSubmitter)
		p := NewSubmitProcessor(loader, submitter, guard)

		err := p.Process(ctx, &queue.Job{ID: "1-0", Data: []byte("not json")})
		assert.NoError(t, err)
		loader.AssertNotCalled(t, "GetByID", mock.Anything, mock.Anything)
	})

	t.Run("load failure leaves the job pending", func(t *testing.T) {
		mr, guard := setupTestGuard(t)
		defer mr.Close()

		loader := new(MockMessageLoader)
		submitter := new(MockSubmitter)
		p := NewSubmitProcessor(loader, submitter, guard)

		loader.On("GetByID", mock.Anything, "msg-1").Return(nil, assert.AnError)

		err := p.Process(ctx, newSubmitJob(t, "msg-1"))
		assert.Error(t, err)
		submitter.AssertNotCalled(t, "Submit", mock.Anything, mock.Anything)
	})

	t.Run("settled message is skipped", func(t *testing.T) {
		mr, guard := setupTestGuard(t)
		defer mr.Close()

		loader := new(MockMessageLoader)
		submitter := new(MockSubmitter)
		p := NewSubmitProcessor(loader, submitter, guard)

		loader.On("GetByID", mock.Anything, "msg-1").
			Return(&model.Message{ID: "msg-1", Status: model.StatusSent}, nil)

		err := p.Process(ctx, newSubmitJob(t, "msg-1"))
		assert.NoError(t, err)
		submitter.AssertNotCalled(t, "Submit", mock.Anything, mock.Anything)
	})

	t.Run("carrier failure is final", func(t *testing.T) {
		mr, guard := setupTestGuard(t)
		defer mr.Close()

		loader := new(MockMessageLoader)
		submitter := new(MockSubmitter)
		p := NewSubmitProcessor(loader, submitter, guard)

		msg := &model.Message{ID: "msg-1", Status: model.StatusPending}
		loader.On("GetByID", mock.Anything, "msg-1").Return(msg, nil)
		submitter.On("Submit", mock.Anything, msg).Return(assert.AnError)

		// the ledger row settled failed_to_send inside Submit, so the job acks
		err := p.Process(ctx, newSubmitJob(t, "msg-1"))
		assert.NoError(t, err)

		err = guard.Acquire(ctx, "msg-1")
		assert.ErrorIs(t, err, ErrAlreadySubmitted)
	})

	t.Run("hook failure after submission acks", func(t *testing.T) {
		mr, guard := setupTestGuard(t)
		defer mr.Close()

		loader := new(MockMessageLoader)
		submitter := new(MockSubmitter)
		p := NewSubmitProcessor(loader, submitter, guard)

		msg := &model.Message{ID: "msg-1", Status: model.StatusPending}
		loader.On("GetByID", mock.Anything, "msg-1").Return(msg, nil)
		submitter.On("Submit", mock.Anything, msg).
			Return(&services.HookError{Hook: "HandleSentMT", Err: assert.AnError})

		err := p.Process(ctx, newSubmitJob(t, "msg-1"))
		assert.NoError(t, err)
	})
}
