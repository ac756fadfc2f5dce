package integration

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/erp/woosync/internal/domain/integration"
)

// OrderMapper resolves order references and builds order payloads.
type OrderMapper struct {
	resolver *EntityResolver
	logger   *zap.Logger
}

// NewOrderMapper creates an OrderMapper
func NewOrderMapper(resolver *EntityResolver, logger *zap.Logger) *OrderMapper {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OrderMapper{resolver: resolver, logger: logger}
}

// Map builds the payload for o. Unresolvable line items are dropped with a
// warning; the order itself is still mapped.
func (m *OrderMapper) Map(ctx context.Context, o *integration.SalesOrder) (*OrderPayload, error) {
	id, err := orderID(o)
	if err != nil {
		return nil, err
	}

	payload := &OrderPayload{ID: id}

	if o.Fulfilled != nil && *o.Fulfilled {
		payload.Status = "completed"
	}
	if o.Status != "" {
		payload.Status = o.Status
	}
	payload.SetPaid = payload.Status == "completed" || o.Paid

	first, last := splitName(o.CustomerName)
	email := o.CustomerEmail
	if o.BillingAddress != nil && o.BillingAddress.CustomerEmail != "" {
		email = o.BillingAddress.CustomerEmail
	}
	if o.BillingAddress != nil || email != "" {
		payload.Billing = addressPayload(o.BillingAddress, first, last)
		payload.Billing.Email = email
	}
	if o.ShippingAddress != nil {
		payload.Shipping = addressPayload(o.ShippingAddress, first, last)
		if total := o.ShippingAddress.TotalShipping; total != nil && !total.IsZero() {
			payload.ShippingLines = []ShippingLine{{Total: total.String()}}
		}
	}

	customerID, err := recordID(o.CustomerID, "customer_id")
	if err != nil {
		return nil, err
	}
	if customerID == 0 && o.CustomerEmail != "" {
		if found, ok := m.resolver.Customer(ctx, o.CustomerEmail); ok {
			customerID = found
		}
	}
	if customerID != 0 {
		payload.CustomerID = &customerID
	}

	for _, line := range o.LineItems {
		item, ok, err := m.lineItem(ctx, line)
		if err != nil {
			return nil, err
		}
		if !ok {
			m.logger.Warn("Product not found for line item, dropping it",
				zap.String("order", o.ID.String()),
				zap.String("sku", line.SKU),
				zap.String("product_name", line.ProductName),
			)
			continue
		}
		payload.LineItems = append(payload.LineItems, item)
	}

	return payload, nil
}

// lineItem resolves a line by explicit product id, else by sku (first
// match). A failed lookup is an error; an empty one is no match.
func (m *OrderMapper) lineItem(ctx context.Context, line integration.LineItem) (LineItemPayload, bool, error) {
	productID, err := recordID(line.ProductID, "line item product_id")
	if err != nil {
		return LineItemPayload{}, false, err
	}
	if productID != 0 {
		return LineItemPayload{ProductID: productID, Quantity: line.Quantity}, true, nil
	}
	if line.SKU == "" {
		return LineItemPayload{}, false, nil
	}

	hit, found, err := m.resolver.ProductBySKU(ctx, line.SKU)
	if err != nil || !found {
		return LineItemPayload{}, false, err
	}
	if hit.IsVariation() {
		return LineItemPayload{ProductID: hit.ParentID, VariationID: hit.ID, Quantity: line.Quantity}, true, nil
	}
	return LineItemPayload{ProductID: hit.ID, Quantity: line.Quantity}, true, nil
}

// orderID is the record id, else its order number without "#".
func orderID(o *integration.SalesOrder) (int64, error) {
	raw := o.ID
	if raw.IsZero() {
		raw = o.OrderNumber
	}
	raw = integration.ExternalID(strings.ReplaceAll(raw.String(), "#", ""))
	return recordID(raw, "order id")
}

// splitName splits a display name at the first space.
func splitName(name string) (string, string) {
	first, last, _ := strings.Cut(strings.TrimSpace(name), " ")
	return first, strings.TrimSpace(last)
}

func addressPayload(a *integration.Address, first, last string) *AddressPayload {
	out := &AddressPayload{FirstName: first, LastName: last}
	if a == nil {
		return out
	}
	out.Address1 = a.Line1
	out.Address2 = a.Line2
	out.City = a.City
	out.State = a.State
	out.Postcode = a.PostalCode
	out.Country = a.Country
	return out
}

// OrderSink creates or updates orders.
type OrderSink struct {
	sinkDeps
	mapper *OrderMapper
}

// Stream implements Sink
func (s *OrderSink) Stream() integration.StreamKind { return integration.StreamOrders }

// Prepare implements Sink
func (s *OrderSink) Prepare(ctx context.Context, rec integration.UnifiedRecord) (*Plan, error) {
	order, ok := rec.(*integration.SalesOrder)
	if !ok {
		return nil, fmt.Errorf("%w: expected a sales order, got %T", integration.ErrInvalidRecord, rec)
	}

	payload, err := s.mapper.Map(ctx, order)
	if err != nil {
		return nil, err
	}

	return &Plan{
		Payload: payload,
		Apply: func(ctx context.Context) (Applied, error) {
			_, applied, err := write(ctx, s.api, payload.ID, fmt.Sprintf("orders/%d", payload.ID), "orders", payload)
			if err != nil {
				return Applied{}, err
			}
			if applied.Updated {
				s.logger.Info("Order updated", zap.Int64("id", applied.RemoteID))
			} else {
				s.logger.Info("Order created", zap.Int64("id", applied.RemoteID))
			}
			return applied, nil
		},
	}, nil
}
