package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/storefront-payments/pkg/enums"
	"github.com/angelmondragon/storefront-payments/pkg/types"
)

// Order is the storefront order created at checkout initiation and keyed by its
// payment reference.
type Order struct {
	ID               uuid.UUID            `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	Reference        string               `gorm:"column:reference;not null;uniqueIndex"`
	UserID           *uuid.UUID           `gorm:"column:user_id;type:uuid"`
	CheckoutID       *string              `gorm:"column:checkout_id"`
	Email            string               `gorm:"column:email;not null"`
	TotalPrice       decimal.Decimal      `gorm:"column:total_price;type:numeric(12,2);not null"`
	Currency         string               `gorm:"column:currency;not null;default:NGN"`
	ShippingAddress  types.Address        `gorm:"column:shipping_address;type:jsonb"`
	ShippingEstimate *string              `gorm:"column:shipping_estimate"`
	PaymentStatus    enums.PaymentStatus  `gorm:"column:payment_status;type:text;not null;default:unpaid"`
	Status           enums.OrderStatus    `gorm:"column:status;type:text;not null;default:pending"`
	PaymentDetails   types.PaymentDetails `gorm:"column:payment_details;type:jsonb"`
	PaidAt           *time.Time           `gorm:"column:paid_at"`
	RemoteOrderID    *string              `gorm:"column:remote_order_id"`
	// SideEffectsAttemptedAt is the last time the retry sweep picked the order.
	SideEffectsAttemptedAt *time.Time  `gorm:"column:side_effects_attempted_at"`
	Items                  []OrderItem `gorm:"foreignKey:OrderID"`
	CreatedAt              time.Time   `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt              time.Time   `gorm:"column:updated_at;autoUpdateTime"`
}

func (Order) TableName() string { return "orders" }

// IsPaid reports whether the paid transition already happened.
func (o Order) IsPaid() bool {
	return o.PaymentStatus == enums.PaymentStatusPaid
}

// TotalMinor converts the order total into minor currency units.
func (o Order) TotalMinor() int64 {
	return ToMinorUnits(o.TotalPrice)
}

// ToMinorUnits converts a major-unit amount (e.g. naira) into kobo/cents.
func ToMinorUnits(amount decimal.Decimal) int64 {
	return amount.Shift(2).Round(0).IntPart()
}
