package dbtest

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/storefront-payments/pkg/db/models"
	"github.com/angelmondragon/storefront-payments/pkg/enums"
	"github.com/angelmondragon/storefront-payments/pkg/types"
)

// Item describes one order line for OrderFixture.
type Item struct {
	VariantID string
	Quantity  int
	UnitPrice string
	Title     string
}

// OrderFixture builds an unpaid order with explicit ids, since sqlite has no uuid defaults.
func OrderFixture(reference string, items ...Item) models.Order {
	orderID := uuid.New()
	order := models.Order{
		ID:            orderID,
		Reference:     reference,
		Email:         "ada@example.com",
		Currency:      "NGN",
		PaymentStatus: enums.PaymentStatusUnpaid,
		Status:        enums.OrderStatusPending,
		ShippingAddress: types.Address{
			Name:    "Ada Obi",
			Line1:   "12 Marina Rd",
			City:    "Lagos",
			State:   "LA",
			Country: "NG",
		},
	}
	total := decimal.Zero
	for i, spec := range items {
		price := decimal.RequireFromString(orDefault(spec.UnitPrice, "1000.00"))
		title := orDefault(spec.Title, "Item "+spec.VariantID)
		order.Items = append(order.Items, models.OrderItem{
			ID:        uuid.New(),
			OrderID:   orderID,
			Position:  i,
			VariantID: spec.VariantID,
			Title:     title,
			Quantity:  spec.Quantity,
			UnitPrice: price,
		})
		total = total.Add(price.Mul(decimal.NewFromInt(int64(spec.Quantity))))
	}
	order.TotalPrice = total
	return order
}

// CreateOrder inserts the order and its items.
func CreateOrder(t testing.TB, conn *gorm.DB, order *models.Order) {
	t.Helper()
	if err := conn.Create(order).Error; err != nil {
		t.Fatalf("create order %s: %v", order.Reference, err)
	}
}

// CreateVariant inserts a cached product variant with the given stock.
func CreateVariant(t testing.TB, conn *gorm.DB, variantID string, qty int) models.ProductVariant {
	t.Helper()
	variant := models.ProductVariant{
		ID:                uuid.New(),
		ProductID:         "prod-" + variantID,
		VariantID:         variantID,
		Title:             "Variant " + variantID,
		InventoryQuantity: qty,
		AvailableForSale:  qty > 0,
	}
	if err := conn.Create(&variant).Error; err != nil {
		t.Fatalf("create variant %s: %v", variantID, err)
	}
	return variant
}

// CreateCart inserts a cart for the user holding n items.
func CreateCart(t testing.TB, conn *gorm.DB, userID uuid.UUID, n int) models.Cart {
	t.Helper()
	cart := models.Cart{ID: uuid.New(), UserID: userID}
	for i := 0; i < n; i++ {
		cart.Items = append(cart.Items, models.CartItem{
			ID:        uuid.New(),
			CartID:    cart.ID,
			VariantID: "cart-variant",
			Title:     "Cart item",
			Quantity:  1,
			UnitPrice: decimal.NewFromInt(500),
		})
	}
	if err := conn.Create(&cart).Error; err != nil {
		t.Fatalf("create cart: %v", err)
	}
	return cart
}

// ReloadOrder reads the order back by reference, items included.
func ReloadOrder(t testing.TB, conn *gorm.DB, reference string) models.Order {
	t.Helper()
	var order models.Order
	err := conn.Preload("Items", func(db *gorm.DB) *gorm.DB { return db.Order("position ASC") }).
		Where("reference = ?", reference).
		First(&order).Error
	if err != nil {
		t.Fatalf("reload order %s: %v", reference, err)
	}
	return order
}

// ReloadVariant reads the cached variant back.
func ReloadVariant(t testing.TB, conn *gorm.DB, variantID string) models.ProductVariant {
	t.Helper()
	var variant models.ProductVariant
	if err := conn.Where("variant_id = ?", variantID).First(&variant).Error; err != nil {
		t.Fatalf("reload variant %s: %v", variantID, err)
	}
	return variant
}

// OutboxEventFixture builds an outbox row with explicit timestamps and attempts.
func OutboxEventFixture(eventType string, createdAt time.Time, publishedAt *time.Time, attempts int) models.OutboxEvent {
	return models.OutboxEvent{
		ID:            uuid.New(),
		EventType:     enums.OutboxEventType(eventType),
		AggregateType: enums.AggregateOrder,
		AggregateID:   uuid.New(),
		Payload:       json.RawMessage(`{}`),
		CreatedAt:     createdAt,
		PublishedAt:   publishedAt,
		AttemptCount:  attempts,
	}
}

func orDefault(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}
