package product

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/angelmondragon/inventory-service/pkg/db/models"
	pkgerrors "github.com/angelmondragon/inventory-service/pkg/errors"
	"github.com/angelmondragon/inventory-service/pkg/pagination"
)

// Service exposes read-only catalog and stock queries.
type Service interface {
	ListProducts(ctx context.Context, input ListProductsInput) (*ProductListResult, error)
	GetInventory(ctx context.Context, productID int64) (*InventoryDTO, error)
}

type repository interface {
	ListProducts(ctx context.Context, ids []int64, afterID int64, limit int) ([]models.Product, error)
	GetInventory(ctx context.Context, productID int64) (*models.InventoryRecord, error)
}

type service struct {
	repo repository
}

// NewService builds the product read service.
func NewService(repo repository) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("product repository required")
	}
	return &service{repo: repo}, nil
}

func (s *service) ListProducts(ctx context.Context, input ListProductsInput) (*ProductListResult, error) {
	cursor, err := pagination.ParseCursor(input.Pagination.Cursor)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	var afterID int64
	if cursor != nil {
		afterID = cursor.ID
	}

	limit := pagination.NormalizeLimit(input.Pagination.Limit)
	rows, err := s.repo.ListProducts(ctx, input.IDs, afterID, pagination.LimitWithBuffer(limit))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list products")
	}

	result := &ProductListResult{Products: make([]ProductDTO, 0, len(rows))}
	if len(rows) > limit {
		rows = rows[:limit]
		result.NextCursor = pagination.EncodeCursor(pagination.Cursor{ID: rows[len(rows)-1].ID})
	}
	for _, row := range rows {
		result.Products = append(result.Products, mapProductDTO(row))
	}
	return result, nil
}

func (s *service) GetInventory(ctx context.Context, productID int64) (*InventoryDTO, error) {
	if productID <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "product id must be positive")
	}
	rec, err := s.repo.GetInventory(ctx, productID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, fmt.Sprintf("no inventory for product %d", productID))
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load inventory")
	}
	return mapInventoryDTO(*rec), nil
}
