package orders

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/storefront-payments/pkg/db/models"
	"github.com/angelmondragon/storefront-payments/pkg/types"
)

// Repository defines persistence operations for orders and their payment state.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindByReference(ctx context.Context, reference string) (*models.Order, error)
	MarkPaidIfUnpaid(ctx context.Context, reference string, details types.PaymentDetails, paidAt time.Time) (bool, error)
	SetRemoteOrderIDIfUnset(ctx context.Context, orderID uuid.UUID, remoteOrderID string) (bool, error)
	ListPendingSideEffects(ctx context.Context, paidBefore time.Time, limit int) ([]string, error)
	MarkSideEffectsAttempted(ctx context.Context, reference string, at time.Time) error
}
