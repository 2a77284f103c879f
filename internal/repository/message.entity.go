package repository

import (
	"time"

	"github.com/nimasrn/sms-forwarder/internal/model"
	"github.com/nimasrn/sms-forwarder/pkg/pg"
)

type MessageEntity struct {
	pg.Model
	Sender      string     `gorm:"column:sender;not null;index"`
	Content     string     `gorm:"column:content;not null"`
	Timestamp   time.Time  `gorm:"column:timestamp;not null;index"`
	DeviceID    string     `gorm:"column:device_id;not null;index"`
	Status      string     `gorm:"column:status;not null;size:16"`
	ForwardedAt *time.Time `gorm:"column:forwarded_at"`
	Error       *string    `gorm:"column:error"`
}

func (MessageEntity) TableName() string {
	return "messages"
}

func toMessageEntity(m *model.Message) *MessageEntity {
	if m == nil {
		return nil
	}
	return &MessageEntity{
		Model:       pg.Model{ID: m.ID, CreatedAt: m.CreatedAt, UpdatedAt: m.UpdatedAt},
		Sender:      m.Sender,
		Content:     m.Content,
		Timestamp:   m.Timestamp.UTC(),
		DeviceID:    m.DeviceID,
		Status:      string(m.Status),
		ForwardedAt: utcPtr(m.ForwardedAt),
		Error:       m.Error,
	}
}

func toMessageModel(e *MessageEntity) *model.Message {
	if e == nil {
		return nil
	}
	return &model.Message{
		ID:          e.ID,
		Sender:      e.Sender,
		Content:     e.Content,
		Timestamp:   e.Timestamp,
		DeviceID:    e.DeviceID,
		Status:      model.MessageStatus(e.Status),
		ForwardedAt: e.ForwardedAt,
		Error:       e.Error,
		CreatedAt:   e.CreatedAt,
		UpdatedAt:   e.UpdatedAt,
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

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
