package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Product is the catalog row the inventory ledger hangs off.
type Product struct {
	ID        int64            `gorm:"column:id;primaryKey;autoIncrement"`
	THName    string           `gorm:"column:th_name;not null"`
	ENName    string           `gorm:"column:en_name;not null"`
	UnitPrice decimal.Decimal  `gorm:"column:unit_price;type:numeric(12,2);not null"`
	ImagePath *string          `gorm:"column:image_path;size:255"`
	Inventory *InventoryRecord `gorm:"foreignKey:ProductID"`
	CreatedAt time.Time        `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time        `gorm:"column:updated_at;autoUpdateTime"`
}

func (Product) TableName() string {
	return "products"
}
