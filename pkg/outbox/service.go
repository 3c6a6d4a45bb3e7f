package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/angelmondragon/inventory-service/pkg/db/models"
	"github.com/angelmondragon/inventory-service/pkg/enums"
	"github.com/angelmondragon/inventory-service/pkg/logger"
)

// DomainEvent is an event queued for the relay. Data is serialized as the row payload.
type DomainEvent struct {
	EventType enums.OutboxEventType
	OrderID   int64
	Data      interface{}
}

type Service struct {
	repo *Repository
	logg *logger.Logger
}

func NewService(repo *Repository, logg *logger.Logger) *Service {
	return &Service{repo: repo, logg: logg}
}

// Emit appends event inside tx. The row only becomes visible if tx commits.
func (s *Service) Emit(ctx context.Context, tx *gorm.DB, event DomainEvent) (int64, error) {
	if tx == nil {
		return 0, errors.New("transaction required")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if !event.EventType.IsValid() {
		return 0, fmt.Errorf("unknown outbox event type %q", event.EventType)
	}
	payload, err := json.Marshal(event.Data)
	if err != nil {
		return 0, fmt.Errorf("encode %s payload: %w", event.EventType, err)
	}
	row := models.OutboxEvent{
		EventType: event.EventType,
		Payload:   string(payload),
		Status:    enums.OutboxStatusPending,
	}
	id, err := s.repo.Insert(tx, row)
	if err != nil {
		return 0, err
	}
	if s.logg != nil {
		fields := map[string]any{
			"outbox_id":  id,
			"event_type": event.EventType,
			"order_id":   event.OrderID,
		}
		logCtx := s.logg.WithFields(ctx, fields)
		s.logg.Debug(logCtx, "outbox event queued")
	}
	return id, nil
}
