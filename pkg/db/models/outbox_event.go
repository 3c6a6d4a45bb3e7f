package models

import (
	"time"

	"github.com/angelmondragon/inventory-service/pkg/enums"
)

// OutboxEvent represents an append-only event emitted via the outbox pattern.
type OutboxEvent struct {
	ID        int64                 `gorm:"column:id;primaryKey;autoIncrement"`
	EventType enums.OutboxEventType `gorm:"column:event_type;not null"`
	Payload   string                `gorm:"column:payload;type:text;not null"`
	Status    enums.OutboxStatus    `gorm:"column:status;not null;default:pending"`
	CreatedAt time.Time             `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time             `gorm:"column:updated_at;autoUpdateTime"`
}

func (OutboxEvent) TableName() string {
	return "outbox"
}
