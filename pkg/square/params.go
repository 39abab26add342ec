package square

import (
	"strconv"
	"strings"

	sq "github.com/square/square-go-sdk"
)

// OrderCreateParams describes the Square order mirrored from a paid storefront order.
type OrderCreateParams struct {
	LocationID     string
	ReferenceID    string
	IdempotencyKey string
	Currency       string
	LineItems      []OrderLineItemParams
	Shipment       *ShipmentParams
}

// OrderLineItemParams is one line. Items with a CatalogObjectID are priced by
// the catalog; ad-hoc items carry Name and BasePriceMinor instead.
type OrderLineItemParams struct {
	CatalogObjectID string
	Name            string
	Quantity        int
	Note            string
	BasePriceMinor  int64
}

// ShipmentParams fills the shipment fulfillment.
type ShipmentParams struct {
	RecipientName  string
	RecipientEmail string
	RecipientPhone string
	AddressLine1   string
	AddressLine2   string
	City           string
	State          string
	PostalCode     string
	Country        string
	Note           string
}

func (p OrderCreateParams) toSquareRequest(idempotencyKey string) *sq.CreateOrderRequest {
	order := &sq.Order{
		LocationID:  p.LocationID,
		ReferenceID: ptrString(p.ReferenceID),
	}
	for _, item := range p.LineItems {
		order.LineItems = append(order.LineItems, item.toSquare(p.Currency))
	}
	if p.Shipment != nil {
		order.Fulfillments = []*sq.Fulfillment{p.Shipment.toSquare()}
	}
	return &sq.CreateOrderRequest{
		Order:          order,
		IdempotencyKey: ptrString(idempotencyKey),
	}
}

func (i OrderLineItemParams) toSquare(currency string) *sq.OrderLineItem {
	qty := i.Quantity
	if qty <= 0 {
		qty = 1
	}
	line := &sq.OrderLineItem{
		Quantity: strconv.Itoa(qty),
		Note:     ptrString(i.Note),
	}
	if catalogID := strings.TrimSpace(i.CatalogObjectID); catalogID != "" {
		line.CatalogObjectID = ptrString(catalogID)
		return line
	}
	line.Name = ptrString(i.Name)
	line.BasePriceMoney = moneyPtr(i.BasePriceMinor, currency)
	return line
}

func (s ShipmentParams) toSquare() *sq.Fulfillment {
	fulfillmentType := sq.FulfillmentTypeShipment
	state := sq.FulfillmentStateProposed
	recipient := &sq.FulfillmentRecipient{
		DisplayName:  ptrString(s.RecipientName),
		EmailAddress: ptrString(s.RecipientEmail),
		PhoneNumber:  ptrString(s.RecipientPhone),
	}
	if strings.TrimSpace(s.AddressLine1) != "" {
		recipient.Address = &sq.Address{
			AddressLine1:                 ptrString(s.AddressLine1),
			AddressLine2:                 ptrString(s.AddressLine2),
			Locality:                     ptrString(s.City),
			AdministrativeDistrictLevel1: ptrString(s.State),
			PostalCode:                   ptrString(s.PostalCode),
			Country:                      countryPtr(s.Country),
		}
	}
	return &sq.Fulfillment{
		Type:  &fulfillmentType,
		State: &state,
		ShipmentDetails: &sq.FulfillmentShipmentDetails{
			Recipient:    recipient,
			ShippingNote: ptrString(s.Note),
		},
	}
}

func ptrString(value string) *string {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	return &value
}

func int64Ptr(value int64) *int64 {
	return &value
}

func currencyPtr(code string) *sq.Currency {
	trimmed := strings.ToUpper(strings.TrimSpace(code))
	if trimmed == "" {
		trimmed = "NGN"
	}
	c := sq.Currency(trimmed)
	return &c
}

func countryPtr(code string) *sq.Country {
	trimmed := strings.ToUpper(strings.TrimSpace(code))
	if trimmed == "" {
		return nil
	}
	c := sq.Country(trimmed)
	return &c
}

func moneyPtr(amount int64, currency string) *sq.Money {
	if amount == 0 {
		return nil
	}
	return &sq.Money{
		Amount:   int64Ptr(amount),
		Currency: currencyPtr(currency),
	}
}
