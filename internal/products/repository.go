package product

import (
	"context"

	"gorm.io/gorm"

	"github.com/angelmondragon/inventory-service/pkg/db/models"
)

// Repository reads catalog and ledger rows. It never writes.
type Repository struct {
	db *gorm.DB
}

// NewRepository builds a repository tied to the provided GORM DB.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// ListProducts returns up to limit products with id > afterID, ordered by id.
// An empty ids slice means every product.
func (r *Repository) ListProducts(ctx context.Context, ids []int64, afterID int64, limit int) ([]models.Product, error) {
	query := r.db.WithContext(ctx).Model(&models.Product{}).Where("id > ?", afterID)
	if len(ids) > 0 {
		query = query.Where("id IN ?", ids)
	}

	var rows []models.Product
	if err := query.Order("id ASC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// GetInventory loads the ledger row for one product.
func (r *Repository) GetInventory(ctx context.Context, productID int64) (*models.InventoryRecord, error) {
	var rec models.InventoryRecord
	if err := r.db.WithContext(ctx).First(&rec, "product_id = ?", productID).Error; err != nil {
		return nil, err
	}
	return &rec, nil
}
