package repository

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sahelsms/orange-gateway/internal/model"
)

func newOutgoing(content string) *model.Message {
	return &model.Message{
		ID:                 uuid.NewString(),
		Direction:          model.DirectionOutgoing,
		SMSType:            model.TypeMT,
		CreatedAt:          time.Now().UTC(),
		SenderAddress:      "ACME",
		DestinationAddress: "+22376333005",
		Content:            content,
		Status:             model.StatusPending,
	}
}

func TestMessageRepository_CreateAndGet(t *testing.T) {
	db := setupTestDB(t)
	repo := NewMessageRepository(db.DB)
	ctx := context.Background()

	msg := newOutgoing("hello")
	created, err := repo.Create(ctx, msg)
	require.NoError(t, err)
	assert.Equal(t, msg.ID, created.ID)

	got, err := repo.GetByID(ctx, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, got.Status)
	assert.Equal(t, "hello", got.Content)
	assert.Equal(t, "+22376333005", got.DestinationAddress)
}

func TestMessageRepository_GetByID_NotFound(t *testing.T) {
	db := setupTestDB(t)
	repo := NewMessageRepository(db.DB)

	_, err := repo.GetByID(context.Background(), uuid.NewString())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMessageRepository_LifecycleTransitions(t *testing.T) {
	db := setupTestDB(t)
	repo := NewMessageRepository(db.DB)
	ctx := context.Background()

	msg := newOutgoing("hello")
	_, err := repo.Create(ctx, msg)
	require.NoError(t, err)

	// pending -> sent with reference
	msg.Status = model.StatusSent
	msg.ReferenceCode = "42"
	require.NoError(t, repo.Update(ctx, msg))

	got, err := repo.GetByID(ctx, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusSent, got.Status)
	assert.Equal(t, "42", got.ReferenceCode)

	// sent -> delivered via receipt
	deliveredAt := time.Now().UTC()
	msg.SMSType = model.TypeMTDR
	msg.Status = model.StatusDelivered
	msg.DeliveryStatusAt = &deliveredAt
	require.NoError(t, repo.Update(ctx, msg))

	got, err = repo.GetByID(ctx, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TypeMTDR, got.SMSType)
	assert.Equal(t, model.StatusDelivered, got.Status)
	require.NotNil(t, got.DeliveryStatusAt)
}

func TestMessageRepository_Update_NotFound(t *testing.T) {
	db := setupTestDB(t)
	repo := NewMessageRepository(db.DB)

	msg := newOutgoing("hello")
	err := repo.Update(context.Background(), msg)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMessageRepository_GetByReferenceCode(t *testing.T) {
	db := setupTestDB(t)
	repo := NewMessageRepository(db.DB)
	ctx := context.Background()

	msg := newOutgoing("hello")
	msg.Status = model.StatusSent
	msg.ReferenceCode = "42"
	_, err := repo.Create(ctx, msg)
	require.NoError(t, err)

	// an incoming message with the same reference must not match
	incoming := &model.Message{
		ID:            uuid.NewString(),
		Direction:     model.DirectionIncoming,
		SMSType:       model.TypeMO,
		CreatedAt:     time.Now().UTC(),
		ReferenceCode: "42",
		Content:       "ignore me",
		Status:        model.StatusReceived,
	}
	_, err = repo.Create(ctx, incoming)
	require.NoError(t, err)

	got, err := repo.GetByReferenceCode(ctx, "42")
	require.NoError(t, err)
	assert.Equal(t, msg.ID, got.ID)

	_, err = repo.GetByReferenceCode(ctx, "no-such-ref")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMessageRepository_List(t *testing.T) {
	db := setupTestDB(t)
	repo := NewMessageRepository(db.DB)
	ctx := context.Background()

	base := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		m := newOutgoing("msg")
		m.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		if i%2 == 0 {
			m.Status = model.StatusSent
		}
		_, err := repo.Create(ctx, m)
		require.NoError(t, err)
	}

	sent := model.StatusSent
	items, total, err := repo.List(ctx, model.MessageFilter{Statuses: []model.Status{sent}})
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	assert.Len(t, items, 3)

	// pagination with descending order
	items, total, err = repo.List(ctx, model.MessageFilter{Limit: 2, Desc: true})
	require.NoError(t, err)
	assert.Equal(t, int64(5), total)
	require.Len(t, items, 2)
	assert.True(t, items[0].CreatedAt.After(items[1].CreatedAt))

	dir := model.DirectionIncoming
	_, total, err = repo.List(ctx, model.MessageFilter{Direction: &dir})
	require.NoError(t, err)
	assert.Equal(t, int64(0), total)
}

func TestMemoryMessageRepository_MatchesPersistentContract(t *testing.T) {
	repo := NewMemoryMessageRepository()
	ctx := context.Background()

	msg := newOutgoing("hello")
	_, err := repo.Create(ctx, msg)
	require.NoError(t, err)

	msg.Status = model.StatusSent
	msg.ReferenceCode = "42"
	require.NoError(t, repo.Update(ctx, msg))

	got, err := repo.GetByReferenceCode(ctx, "42")
	require.NoError(t, err)
	assert.Equal(t, msg.ID, got.ID)
	assert.Equal(t, model.StatusSent, got.Status)

	_, err = repo.GetByReferenceCode(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	err = repo.Update(ctx, newOutgoing("ghost"))
	assert.ErrorIs(t, err, ErrNotFound)

	items, total, err := repo.List(ctx, model.MessageFilter{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	assert.Len(t, items, 1)
}

func TestTokenRepository_SaveAndLoad(t *testing.T) {
	db := setupTestDB(t)
	repo := NewTokenRepository(db.DB)
	ctx := context.Background()

	expires := time.Now().Add(time.Hour).UTC().Truncate(time.Second)
	require.NoError(t, repo.SaveToken(ctx, "token-1", expires))

	token, got, err := repo.LoadToken(ctx)
	require.NoError(t, err)
	assert.Equal(t, "token-1", token)
	assert.Equal(t, expires, got.UTC().Truncate(time.Second))

	// save again overwrites the single row
	require.NoError(t, repo.SaveToken(ctx, "token-2", expires))
	token, _, err = repo.LoadToken(ctx)
	require.NoError(t, err)
	assert.Equal(t, "token-2", token)
}
