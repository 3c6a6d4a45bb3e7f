package product

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/inventory-service/pkg/db/models"
)

// ProductDTO represents the catalog payload returned to clients.
type ProductDTO struct {
	ID        int64           `json:"id"`
	ENName    string          `json:"en_name"`
	THName    string          `json:"th_name"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	ImagePath *string         `json:"image_path,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// InventoryDTO exposes ledger counts plus the derived available quantity.
type InventoryDTO struct {
	ProductID        int64     `json:"product_id"`
	TotalQuantity    int       `json:"total_quantity"`
	ReservedQuantity int       `json:"reserved_quantity"`
	SoldQuantity     int       `json:"sold_quantity"`
	Available        int       `json:"available"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// ProductListResult is one keyset page.
type ProductListResult struct {
	Products   []ProductDTO `json:"products"`
	NextCursor string       `json:"next_cursor,omitempty"`
}

func mapProductDTO(p models.Product) ProductDTO {
	return ProductDTO{
		ID:        p.ID,
		ENName:    p.ENName,
		THName:    p.THName,
		UnitPrice: p.UnitPrice,
		ImagePath: p.ImagePath,
		CreatedAt: p.CreatedAt,
		UpdatedAt: p.UpdatedAt,
	}
}

func mapInventoryDTO(r models.InventoryRecord) *InventoryDTO {
	return &InventoryDTO{
		ProductID:        r.ProductID,
		TotalQuantity:    r.TotalQuantity,
		ReservedQuantity: r.ReservedQuantity,
		SoldQuantity:     r.SoldQuantity,
		Available:        r.Available(),
		UpdatedAt:        r.UpdatedAt,
	}
}
