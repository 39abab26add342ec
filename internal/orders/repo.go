package orders

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/storefront-payments/pkg/db/models"
	"github.com/angelmondragon/storefront-payments/pkg/enums"
	"github.com/angelmondragon/storefront-payments/pkg/types"
)

const defaultPendingLimit = 100

type repository struct {
	db *gorm.DB
}

// NewRepository builds an orders repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

// FindByReference loads the order with its items in checkout order. A missing
// order surfaces gorm.ErrRecordNotFound.
func (r *repository) FindByReference(ctx context.Context, reference string) (*models.Order, error) {
	var order models.Order
	err := r.db.WithContext(ctx).
		Preload("Items", func(db *gorm.DB) *gorm.DB {
			return db.Order("position ASC")
		}).
		Where("reference = ?", strings.TrimSpace(reference)).
		First(&order).Error
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// MarkPaidIfUnpaid performs the single conditional write that moves an order to
// paid. It reports true only for the caller whose update matched the unpaid row.
func (r *repository) MarkPaidIfUnpaid(ctx context.Context, reference string, details types.PaymentDetails, paidAt time.Time) (bool, error) {
	if details.IsZero() {
		return false, errors.New("payment details are required")
	}
	res := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("reference = ? AND payment_status = ?", reference, enums.PaymentStatusUnpaid).
		Updates(map[string]any{
			"payment_status":  enums.PaymentStatusPaid,
			"status":          enums.OrderStatusProcessing,
			"payment_details": details,
			"paid_at":         paidAt.UTC(),
			"updated_at":      time.Now().UTC(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// SetRemoteOrderIDIfUnset stores the commerce platform id unless one is already recorded.
func (r *repository) SetRemoteOrderIDIfUnset(ctx context.Context, orderID uuid.UUID, remoteOrderID string) (bool, error) {
	if strings.TrimSpace(remoteOrderID) == "" {
		return false, errors.New("remote order id is required")
	}
	res := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ? AND remote_order_id IS NULL", orderID).
		Updates(map[string]any{
			"remote_order_id": remoteOrderID,
			"updated_at":      time.Now().UTC(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// ListPendingSideEffects returns references of paid orders that still lack a
// remote order or have items whose inventory was never applied. Orders never
// swept come first, then the least recently attempted, so orders stuck on a
// permanent failure rotate to the back instead of filling every batch.
func (r *repository) ListPendingSideEffects(ctx context.Context, paidBefore time.Time, limit int) ([]string, error) {
	if limit <= 0 {
		limit = defaultPendingLimit
	}
	var refs []string
	err := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("payment_status = ?", enums.PaymentStatusPaid).
		Where("paid_at <= ?", paidBefore.UTC()).
		Where("(remote_order_id IS NULL OR EXISTS (?))",
			r.db.Model(&models.OrderItem{}).
				Select("1").
				Where("order_items.order_id = orders.id AND order_items.inventory_applied_at IS NULL"),
		).
		Order("side_effects_attempted_at IS NOT NULL").
		Order("side_effects_attempted_at ASC").
		Order("paid_at ASC").
		Limit(limit).
		Pluck("reference", &refs).Error
	return refs, err
}

// MarkSideEffectsAttempted stamps the last sweep attempt for a paid order.
func (r *repository) MarkSideEffectsAttempted(ctx context.Context, reference string, at time.Time) error {
	return r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("reference = ? AND payment_status = ?", reference, enums.PaymentStatusPaid).
		Update("side_effects_attempted_at", at.UTC()).Error
}
