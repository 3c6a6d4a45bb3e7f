package models

import "time"

// InventoryRecord is the per-product stock ledger row.
// Invariant: 0 <= ReservedQuantity <= TotalQuantity - SoldQuantity.
type InventoryRecord struct {
	ProductID        int64     `gorm:"column:product_id;primaryKey;autoIncrement:false" json:"product_id"`
	TotalQuantity    int       `gorm:"column:total_quantity;not null;default:0;check:chk_inventory_total_non_negative,total_quantity >= 0" json:"total_quantity"`
	ReservedQuantity int       `gorm:"column:reserved_quantity;not null;default:0;check:chk_inventory_reserved_non_negative,reserved_quantity >= 0" json:"reserved_quantity"`
	SoldQuantity     int       `gorm:"column:sold_quantity;not null;default:0;check:chk_inventory_no_oversell,reserved_quantity <= total_quantity - sold_quantity" json:"sold_quantity"`
	CreatedAt        time.Time `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

func (InventoryRecord) TableName() string {
	return "inventory"
}

// Available is derived and never stored.
func (r InventoryRecord) Available() int {
	return r.TotalQuantity - r.ReservedQuantity - r.SoldQuantity
}
