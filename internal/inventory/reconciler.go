package inventory

import (
	"context"
	stdErrors "errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/angelmondragon/storefront-payments/pkg/db/models"
	pkgerrors "github.com/angelmondragon/storefront-payments/pkg/errors"
	"github.com/angelmondragon/storefront-payments/pkg/logger"
	"github.com/angelmondragon/storefront-payments/pkg/types"
)

const defaultConcurrency = 4

// ItemStatus reports what happened to a single order item.
type ItemStatus string

const (
	ItemApplied ItemStatus = "applied"
	ItemSkipped ItemStatus = "skipped"
	ItemFailed  ItemStatus = "failed"
)

// ItemResult is the outcome of decrementing stock for one order item.
type ItemResult struct {
	ItemID    uuid.UUID
	VariantID string
	Quantity  int
	Status    ItemStatus
	Err       error
}

// Transactor runs fn inside a database transaction.
type Transactor interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

var errAlreadyApplied = stdErrors.New("inventory already applied")

// Reconciler decrements cached variant stock for paid orders. Each item is
// claimed and decremented in its own transaction, so one bad item never rolls
// back another.
type Reconciler struct {
	tx          Transactor
	logg        *logger.Logger
	concurrency int
	now         func() time.Time
}

type Option func(*Reconciler)

// WithConcurrency bounds how many items are processed at once.
func WithConcurrency(n int) Option {
	return func(r *Reconciler) {
		if n > 0 {
			r.concurrency = n
		}
	}
}

// WithClock overrides the time source used for inventory_applied_at.
func WithClock(now func() time.Time) Option {
	return func(r *Reconciler) {
		if now != nil {
			r.now = now
		}
	}
}

func NewReconciler(tx Transactor, logg *logger.Logger, opts ...Option) (*Reconciler, error) {
	if tx == nil {
		return nil, fmt.Errorf("transactor required")
	}
	if logg == nil {
		logg = logger.Nop()
	}
	r := &Reconciler{
		tx:          tx,
		logg:        logg,
		concurrency: defaultConcurrency,
		now:         func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Apply processes every item of the order and returns one result per item in
// item order. It never returns early on a failed item.
func (r *Reconciler) Apply(ctx context.Context, order *models.Order) []ItemResult {
	if order == nil {
		return nil
	}
	results := make([]ItemResult, len(order.Items))

	var g errgroup.Group
	g.SetLimit(r.concurrency)
	for i := range order.Items {
		i, item := i, order.Items[i]
		g.Go(func() error {
			results[i] = r.applyItem(ctx, item)
			return nil
		})
	}
	_ = g.Wait()

	for _, res := range results {
		if res.Status != ItemFailed {
			continue
		}
		itemCtx := r.logg.WithFields(ctx, map[string]any{
			"order_id":   order.ID.String(),
			"item_id":    res.ItemID.String(),
			"variant_id": res.VariantID,
			"step":       "inventory",
		})
		r.logg.Error(itemCtx, "inventory decrement failed", res.Err)
	}
	return results
}

func (r *Reconciler) applyItem(ctx context.Context, item models.OrderItem) ItemResult {
	res := ItemResult{ItemID: item.ID, VariantID: item.VariantID, Quantity: item.Quantity}
	if item.InventoryAppliedAt != nil {
		res.Status = ItemSkipped
		return res
	}
	if item.Quantity <= 0 {
		res.Status = ItemFailed
		res.Err = pkgerrors.New(pkgerrors.CodeValidation, "item quantity must be positive")
		return res
	}
	variantID, err := types.ParseVariantID(item.VariantID)
	if err != nil {
		res.Status = ItemFailed
		res.Err = pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid variant id")
		return res
	}
	res.VariantID = variantID.String()

	err = r.tx.WithTx(ctx, func(tx *gorm.DB) error {
		return r.claimAndDecrement(ctx, tx, item, variantID)
	})
	switch {
	case err == nil:
		res.Status = ItemApplied
	case stdErrors.Is(err, errAlreadyApplied):
		res.Status = ItemSkipped
	default:
		res.Status = ItemFailed
		res.Err = err
	}
	return res
}

func (r *Reconciler) claimAndDecrement(ctx context.Context, tx *gorm.DB, item models.OrderItem, variantID types.VariantID) error {
	now := r.now()
	claim := tx.WithContext(ctx).
		Model(&models.OrderItem{}).
		Where("id = ? AND inventory_applied_at IS NULL", item.ID).
		Update("inventory_applied_at", now)
	if claim.Error != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, claim.Error, "claim order item")
	}
	if claim.RowsAffected == 0 {
		return errAlreadyApplied
	}

	key := variantID.String()
	dec, err := decrement(ctx, tx, key, item.Quantity, now)
	if err == nil && dec == 0 {
		// Catalog imports may have cached the namespaced form.
		if raw := strings.TrimSpace(item.VariantID); raw != key {
			dec, err = decrement(ctx, tx, raw, item.Quantity, now)
		}
	}
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decrement variant stock")
	}
	if dec == 0 {
		return pkgerrors.New(pkgerrors.CodeNotFound, fmt.Sprintf("variant %s is not cached", key))
	}
	return nil
}

func decrement(ctx context.Context, tx *gorm.DB, variantID string, qty int, now time.Time) (int64, error) {
	res := tx.WithContext(ctx).
		Model(&models.ProductVariant{}).
		Where("variant_id = ?", variantID).
		Updates(map[string]any{
			"inventory_quantity": gorm.Expr("CASE WHEN inventory_quantity > ? THEN inventory_quantity - ? ELSE 0 END", qty, qty),
			"available_for_sale": gorm.Expr("inventory_quantity > ?", qty),
			"updated_at":         now,
		})
	return res.RowsAffected, res.Error
}

// Failed returns the failed results.
func Failed(results []ItemResult) []ItemResult {
	var failed []ItemResult
	for _, res := range results {
		if res.Status == ItemFailed {
			failed = append(failed, res)
		}
	}
	return failed
}
