package models

import (
	"time"

	"github.com/google/uuid"
)

// ProductVariant is the local cache of a commerce platform variant and its stock.
type ProductVariant struct {
	ID                uuid.UUID `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	ProductID         string    `gorm:"column:product_id;not null;index"`
	VariantID         string    `gorm:"column:variant_id;not null;uniqueIndex"`
	Title             string    `gorm:"column:title"`
	InventoryQuantity int       `gorm:"column:inventory_quantity;not null;default:0"`
	AvailableForSale  bool      `gorm:"column:available_for_sale;not null;default:false"`
	UpdatedAt         time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (ProductVariant) TableName() string { return "product_variants" }
