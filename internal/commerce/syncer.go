// Package commerce mirrors paid storefront orders into the commerce platform.
package commerce

import (
	"context"
	"fmt"
	"strings"

	sq "github.com/square/square-go-sdk"
	"gorm.io/gorm"

	"github.com/angelmondragon/storefront-payments/internal/orders"
	"github.com/angelmondragon/storefront-payments/pkg/db/models"
	"github.com/angelmondragon/storefront-payments/pkg/enums"
	pkgerrors "github.com/angelmondragon/storefront-payments/pkg/errors"
	"github.com/angelmondragon/storefront-payments/pkg/logger"
	"github.com/angelmondragon/storefront-payments/pkg/outbox"
	"github.com/angelmondragon/storefront-payments/pkg/outbox/payloads"
	"github.com/angelmondragon/storefront-payments/pkg/square"
	"github.com/angelmondragon/storefront-payments/pkg/types"
)

// OrderCreator is the commerce platform surface used by the syncer.
type OrderCreator interface {
	CreateOrder(ctx context.Context, params square.OrderCreateParams) (*sq.Order, error)
}

// EventEmitter queues domain events in the caller's transaction.
type EventEmitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type Transactor interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// SyncResult describes a completed sync.
type SyncResult struct {
	RemoteOrderID string
	// Skipped is true when the order already carried a remote id, either
	// before the call or because a concurrent sync stored one first.
	Skipped bool
}

type Syncer struct {
	tx       Transactor
	orders   orders.Repository
	creator  OrderCreator
	emitter  EventEmitter
	logg     *logger.Logger
	currency string
}

type SyncerParams struct {
	Transactor Transactor
	Orders     orders.Repository
	Creator    OrderCreator
	Emitter    EventEmitter
	Logger     *logger.Logger
	Currency   string
}

func NewSyncer(p SyncerParams) (*Syncer, error) {
	if p.Transactor == nil {
		return nil, fmt.Errorf("transactor required")
	}
	if p.Orders == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if p.Creator == nil {
		return nil, fmt.Errorf("order creator required")
	}
	if p.Logger == nil {
		p.Logger = logger.Nop()
	}
	return &Syncer{
		tx:       p.Transactor,
		orders:   p.Orders,
		creator:  p.Creator,
		emitter:  p.Emitter,
		logg:     p.Logger,
		currency: p.Currency,
	}, nil
}

// IdempotencyKey derives the commerce platform idempotency key for a reference,
// so replays of the same order return the order created first.
func IdempotencyKey(reference string) string {
	return "order-sync-" + strings.TrimSpace(reference)
}

// Sync creates the remote order unless one is already linked, then stores its
// id with a write that only succeeds while remote_order_id is still empty.
func (s *Syncer) Sync(ctx context.Context, order *models.Order) (SyncResult, error) {
	if order == nil {
		return SyncResult{}, pkgerrors.New(pkgerrors.CodeValidation, "order required")
	}
	if order.RemoteOrderID != nil && *order.RemoteOrderID != "" {
		return SyncResult{RemoteOrderID: *order.RemoteOrderID, Skipped: true}, nil
	}

	remote, err := s.creator.CreateOrder(ctx, s.buildParams(order))
	if err != nil {
		return SyncResult{}, err
	}
	remoteID := ""
	if remote != nil && remote.ID != nil {
		remoteID = *remote.ID
	}
	if remoteID == "" {
		return SyncResult{}, pkgerrors.New(pkgerrors.CodeDependency, "remote order id missing")
	}

	var linked bool
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		set, err := s.orders.WithTx(tx).SetRemoteOrderIDIfUnset(ctx, order.ID, remoteID)
		if err != nil {
			return err
		}
		linked = set
		if !set || s.emitter == nil {
			return nil
		}
		return s.emitter.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderRemoteOrderLinked,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			Data: payloads.OrderRemoteOrderLinkedEvent{
				OrderID:       order.ID,
				Reference:     order.Reference,
				RemoteOrderID: remoteID,
			},
		})
	})
	if err != nil {
		return SyncResult{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "persist remote order id")
	}

	logCtx := s.logg.WithFields(ctx, map[string]any{
		"order_id":        order.ID.String(),
		"remote_order_id": remoteID,
		"step":            "commerce_sync",
	})
	if !linked {
		s.logg.Info(logCtx, "remote order already linked by a concurrent sync")
		return SyncResult{RemoteOrderID: remoteID, Skipped: true}, nil
	}
	order.RemoteOrderID = &remoteID
	s.logg.Info(logCtx, "remote order linked")
	return SyncResult{RemoteOrderID: remoteID}, nil
}

func (s *Syncer) buildParams(order *models.Order) square.OrderCreateParams {
	currency := order.Currency
	if currency == "" {
		currency = s.currency
	}
	params := square.OrderCreateParams{
		ReferenceID:    order.Reference,
		IdempotencyKey: IdempotencyKey(order.Reference),
		Currency:       currency,
		LineItems:      make([]square.OrderLineItemParams, 0, len(order.Items)),
		Shipment:       shipmentFor(order),
	}
	for _, item := range order.Items {
		params.LineItems = append(params.LineItems, lineItemFor(item))
	}
	return params
}

// lineItemFor links catalog variants by id. Items whose variant id cannot be
// parsed still reach the remote order as ad-hoc lines priced from the order.
func lineItemFor(item models.OrderItem) square.OrderLineItemParams {
	line := square.OrderLineItemParams{
		Name:     item.Title,
		Quantity: item.Quantity,
	}
	variantID, err := types.ParseVariantID(item.VariantID)
	if err != nil {
		line.BasePriceMinor = models.ToMinorUnits(item.UnitPrice)
		line.Note = "unlinked variant " + strings.TrimSpace(item.VariantID)
		return line
	}
	line.CatalogObjectID = variantID.String()
	return line
}

func shipmentFor(order *models.Order) *square.ShipmentParams {
	addr := order.ShippingAddress
	name := addr.Name
	if name == "" {
		name = order.Email
	}
	shipment := &square.ShipmentParams{
		RecipientName:  name,
		RecipientEmail: order.Email,
		RecipientPhone: addr.Phone,
		AddressLine1:   addr.Line1,
		City:           addr.City,
		State:          addr.State,
		PostalCode:     addr.PostalCode,
		Note:           shippingNote(order),
	}
	if addr.Line2 != nil {
		shipment.AddressLine2 = *addr.Line2
	}
	if !addr.IsZero() {
		shipment.Country = addr.CountryCode()
	}
	return shipment
}

func shippingNote(order *models.Order) string {
	parts := []string{"order " + order.ID.String()}
	if txn := order.PaymentDetails.TransactionID; txn != "" {
		parts = append(parts, "txn "+txn)
	}
	if order.ShippingEstimate != nil && *order.ShippingEstimate != "" {
		parts = append(parts, "estimate "+*order.ShippingEstimate)
	}
	return strings.Join(parts, " | ")
}
