package outbox

import (
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/angelmondragon/inventory-service/pkg/db/models"
)

type Repository struct{}

func NewRepository() *Repository {
	return &Repository{}
}

// Insert appends a row using the caller's transaction and returns the assigned id.
func (r *Repository) Insert(tx *gorm.DB, event models.OutboxEvent) (int64, error) {
	if tx == nil {
		return 0, errors.New("transaction required")
	}
	if !event.Status.IsValid() {
		return 0, fmt.Errorf("invalid outbox status %q", event.Status)
	}
	if err := tx.Create(&event).Error; err != nil {
		return 0, err
	}
	return event.ID, nil
}
