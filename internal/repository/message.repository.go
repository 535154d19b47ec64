package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/sahelsms/orange-gateway/internal/model"
	"github.com/sahelsms/orange-gateway/pkg/pg"
)

var (
	// ErrNotFound is returned when a message does not exist.
	ErrNotFound = errors.New("message not found")
)

type MessageRepository struct {
	*pg.DB
}

func NewMessageRepository(db *pg.DB) *MessageRepository {
	return &MessageRepository{db}
}

func (r *MessageRepository) Create(ctx context.Context, msg *model.Message) (*model.Message, error) {
	entity := toMessageEntity(msg)

	if err := r.Write(ctx).WithContext(ctx).Create(entity).Error; err != nil {
		return nil, err
	}
	return toMessageModel(entity), nil
}

// Update persists the mutable lifecycle fields of an existing message.
func (r *MessageRepository) Update(ctx context.Context, msg *model.Message) error {
	entity := toMessageEntity(msg)

	res := r.Write(ctx).WithContext(ctx).
		Model(&MessageEntity{}).
		Where("id = ?", entity.ID).
		Updates(map[string]interface{}{
			"sms_type":           entity.SMSType,
			"status":             entity.Status,
			"reference_code":     entity.ReferenceCode,
			"delivery_status_at": entity.DeliveryStatusAt,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *MessageRepository) GetByID(ctx context.Context, id string) (*model.Message, error) {
	var entity MessageEntity
	err := r.Read(ctx).WithContext(ctx).First(&entity, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return toMessageModel(&entity), nil
}

// GetByReferenceCode looks up the outgoing message a delivery receipt refers
// to. A receipt for an unknown reference must fail, never create.
func (r *MessageRepository) GetByReferenceCode(ctx context.Context, ref string) (*model.Message, error) {
	var entity MessageEntity
	err := r.Read(ctx).WithContext(ctx).
		First(&entity, "reference_code = ? AND direction = ?", ref, string(model.DirectionOutgoing)).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return toMessageModel(&entity), nil
}

func (r *MessageRepository) List(ctx context.Context, f model.MessageFilter) ([]*model.Message, int64, error) {
	q := r.Read(ctx).WithContext(ctx).Model(&MessageEntity{})

	if f.Direction != nil {
		q = q.Where("direction = ?", string(*f.Direction))
	}
	if len(f.Statuses) > 0 {
		statuses := make([]string, len(f.Statuses))
		for i, s := range f.Statuses {
			statuses[i] = string(s)
		}
		q = q.Where("status IN ?", statuses)
	}
	if f.Identity != nil && *f.Identity != "" {
		q = q.Where("sender_address = ? OR destination_address = ?", *f.Identity, *f.Identity)
	}
	if f.From != nil {
		q = q.Where("created_at >= ?", *f.From)
	}
	if f.To != nil {
		q = q.Where("created_at < ?", *f.To)
	}

	// Count before pagination
	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	order := "created_at"
	if f.Desc {
		order += " DESC"
	} else {
		order += " ASC"
	}

	limit := f.Limit
	if limit <= 0 || limit > 1000 {
		limit = 50
	}
	offset := f.Offset
	if offset < 0 {
		offset = 0
	}

	var entities []*MessageEntity
	if err := q.Order(order).Limit(limit).Offset(offset).Find(&entities).Error; err != nil {
		return nil, 0, err
	}
	return toMessageModels(entities), total, nil
}
