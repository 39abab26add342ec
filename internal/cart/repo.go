package cart

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/storefront-payments/pkg/db/models"
)

// Repository clears purchaser carts once their order is paid.
type Repository struct {
	db  *gorm.DB
	now func() time.Time
}

// NewRepository constructs a cart repository bound to the provided DB.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// Clear removes every item from the user's cart and stamps cleared_at. The cart
// row is kept. It returns the number of items removed; a user without a cart is
// not an error.
func (r *Repository) Clear(ctx context.Context, userID uuid.UUID) (int64, error) {
	var removed int64
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var cart models.Cart
		res := tx.Where("user_id = ?", userID).Limit(1).Find(&cart)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}

		del := tx.Where("cart_id = ?", cart.ID).Delete(&models.CartItem{})
		if del.Error != nil {
			return del.Error
		}
		removed = del.RowsAffected

		now := r.now()
		return tx.Model(&models.Cart{}).
			Where("id = ?", cart.ID).
			Updates(map[string]any{"cleared_at": now, "updated_at": now}).Error
	})
	return removed, err
}
