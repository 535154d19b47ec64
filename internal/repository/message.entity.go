package repository

import (
	"time"

	"github.com/sahelsms/orange-gateway/internal/model"
)

type MessageEntity struct {
	ID                 string     `db:"id"                  gorm:"primaryKey;column:id"`
	Direction          string     `db:"direction"           gorm:"column:direction;not null;index"`
	SMSType            string     `db:"sms_type"            gorm:"column:sms_type;not null"`
	CreatedAt          time.Time  `db:"created_at"          gorm:"column:created_at;index"`
	DeliveryStatusAt   *time.Time `db:"delivery_status_at"  gorm:"column:delivery_status_at"`
	SenderAddress      string     `db:"sender_address"      gorm:"column:sender_address"`
	DestinationAddress string     `db:"destination_address" gorm:"column:destination_address"`
	CarrierMessageID   string     `db:"carrier_message_id"  gorm:"column:carrier_message_id"`
	ReferenceCode      string     `db:"reference_code"      gorm:"column:reference_code;index"`
	Content            string     `db:"content"             gorm:"column:content;not null"`
	Status             string     `db:"status"              gorm:"column:status;not null;index"`
}

func (MessageEntity) TableName() string { return "messages" }

func toMessageEntity(m *model.Message) *MessageEntity {
	if m == nil {
		return nil
	}
	return &MessageEntity{
		ID:                 m.ID,
		Direction:          string(m.Direction),
		SMSType:            string(m.SMSType),
		CreatedAt:          m.CreatedAt,
		DeliveryStatusAt:   m.DeliveryStatusAt,
		SenderAddress:      m.SenderAddress,
		DestinationAddress: m.DestinationAddress,
		CarrierMessageID:   m.CarrierMessageID,
		ReferenceCode:      m.ReferenceCode,
		Content:            m.Content,
		Status:             string(m.Status),
	}
}

func toMessageModel(e *MessageEntity) *model.Message {
	if e == nil {
		return nil
	}
	return &model.Message{
		ID:                 e.ID,
		Direction:          model.Direction(e.Direction),
		SMSType:            model.SMSType(e.SMSType),
		CreatedAt:          e.CreatedAt,
		DeliveryStatusAt:   e.DeliveryStatusAt,
		SenderAddress:      e.SenderAddress,
		DestinationAddress: e.DestinationAddress,
		CarrierMessageID:   e.CarrierMessageID,
		ReferenceCode:      e.ReferenceCode,
		Content:            e.Content,
		Status:             model.Status(e.Status),
	}
}

func toMessageModels(entities []*MessageEntity) []*model.Message {
	if entities == nil {
		return nil
	}
	models := make([]*model.Message, len(entities))
	for i, e := range entities {
		models[i] = toMessageModel(e)
	}
	return models
}
