package integration

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

var recordValidator = validator.New(validator.WithRequiredStructEnabled())

// ---------------------------------------------------------------------------
// UnifiedRecord
// ---------------------------------------------------------------------------

// UnifiedRecord is a normalized inbound record. The concrete type is fixed by
// the stream it arrived on: *Product, *Variant, *InventoryAdjustment,
// *SalesOrder or *OrderNote.
type UnifiedRecord interface {
	StreamKind() StreamKind
}

// InboundRecord is a raw record as delivered by a source, tagged with the
// stream name it arrived on.
type InboundRecord struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"record"`
}

// DecodeRecord decodes and validates a raw record for the given stream.
func DecodeRecord(kind StreamKind, raw json.RawMessage) (UnifiedRecord, error) {
	var rec interface {
		UnifiedRecord
		normalize() error
	}
	switch kind {
	case StreamProducts:
		rec = &Product{}
	case StreamVariants:
		rec = &Variant{}
	case StreamInventory:
		rec = &InventoryAdjustment{}
	case StreamOrders:
		rec = &SalesOrder{}
	case StreamOrderNotes:
		rec = &OrderNote{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownStream, kind)
	}

	if err := json.Unmarshal(raw, rec); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}
	if err := rec.normalize(); err != nil {
		return nil, err
	}
	if err := recordValidator.Struct(rec); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}
	return rec, nil
}

// ---------------------------------------------------------------------------
// Scalar helpers
// ---------------------------------------------------------------------------

// ExternalID is an identifier that may arrive as a JSON string or number.
type ExternalID string

// UnmarshalJSON accepts strings, numbers and null.
func (id *ExternalID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		*id = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = ExternalID(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("id must be a string or number: %w", err)
	}
	*id = ExternalID(n.String())
	return nil
}

// IsZero returns true if no id was supplied
func (id ExternalID) IsZero() bool {
	return id == ""
}

// Int64 parses the id as a platform integer id
func (id ExternalID) Int64() (int64, bool) {
	n, err := strconv.ParseInt(string(id), 10, 64)
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

// String returns the id as given
func (id ExternalID) String() string {
	return string(id)
}

// timestampLayouts are tried in order when decoding a Timestamp.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// PlatformTimeLayout is the timestamp layout the platform accepts in payloads.
const PlatformTimeLayout = "2006-01-02T15:04:05-07:00"

// Timestamp decodes the loose date formats seen in unified records and
// encodes in PlatformTimeLayout.
type Timestamp struct {
	time.Time
}

// UnmarshalJSON implements json.Unmarshaler
func (t *Timestamp) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("timestamp must be a string: %w", err)
	}
	if s == "" {
		t.Time = time.Time{}
		return nil
	}
	for _, layout := range timestampLayouts {
		if parsed, err := time.Parse(layout, s); err == nil {
			t.Time = parsed
			return nil
		}
	}
	return fmt.Errorf("unrecognised timestamp %q", s)
}

// MarshalJSON implements json.Marshaler
func (t Timestamp) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.Format(PlatformTimeLayout))
}

// ---------------------------------------------------------------------------
// Catalog records
// ---------------------------------------------------------------------------

// CategoryRef names a category either by platform id or by exact name.
type CategoryRef struct {
	ID   ExternalID `json:"id"`
	Name string     `json:"name"`
}

// OptionValue is one option name/value pair carried by a variant, e.g. Size=Large.
type OptionValue struct {
	Name  string `json:"name" validate:"required"`
	Value string `json:"value"`
}

// Product is a unified catalog product. Options lists the option names a
// variable product varies on; each Variant carries concrete values for them.
type Product struct {
	ID               ExternalID       `json:"id"`
	Name             string           `json:"name" validate:"required"`
	SKU              string           `json:"sku"`
	Type             string           `json:"type" validate:"omitempty,oneof=simple variable"`
	Description      string           `json:"description"`
	ShortDescription string           `json:"short_description"`
	Price            *decimal.Decimal `json:"price"`
	ImageURLs        []string         `json:"image_urls"`
	Category         *CategoryRef     `json:"category"`
	Categories       []CategoryRef    `json:"categories"`
	Options          []string         `json:"options"`
	Variants         []Variant        `json:"variants" validate:"dive"`
}

// StreamKind implements UnifiedRecord
func (p *Product) StreamKind() StreamKind { return StreamProducts }

// IsVariable returns true if the input itself describes a variable product
func (p *Product) IsVariable() bool {
	if p.Type != "" {
		return p.Type == "variable"
	}
	return len(p.Options) > 0
}

func (p *Product) normalize() error {
	p.Name = strings.TrimSpace(p.Name)
	return nil
}

// Variant is a sellable variation. Inside a Product it describes one child;
// on the Variants stream it names its parent by ProductID or ParentSKU.
type Variant struct {
	ID                ExternalID       `json:"id"`
	ProductID         ExternalID       `json:"product_id"`
	ParentSKU         string           `json:"parent_sku"`
	SKU               string           `json:"sku"`
	Name              string           `json:"name"`
	Description       string           `json:"description"`
	Price             *decimal.Decimal `json:"price"`
	SalePrice         *decimal.Decimal `json:"sale_price"`
	AvailableQuantity *int             `json:"available_quantity"`
	Weight            *decimal.Decimal `json:"weight"`
	Width             *decimal.Decimal `json:"width"`
	Length            *decimal.Decimal `json:"length"`
	Depth             *decimal.Decimal `json:"depth"`
	Options           []OptionValue    `json:"options" validate:"dive"`
}

// StreamKind implements UnifiedRecord
func (v *Variant) StreamKind() StreamKind { return StreamVariants }

func (v *Variant) normalize() error {
	return nil
}

// ---------------------------------------------------------------------------
// Inventory records
// ---------------------------------------------------------------------------

// InventoryAdjustment changes the stock of one product or variation found by
// id, sku or name. A variation's parent comes from the reference data.
type InventoryAdjustment struct {
	ID          ExternalID     `json:"id"`
	SKU         string         `json:"sku"`
	Name        string         `json:"name"`
	ProductName string         `json:"product_name"`
	Operation   StockOperation `json:"operation" validate:"omitempty,oneof=add subtract set"`
	Quantity    int            `json:"quantity" validate:"gte=0"`
}

// StreamKind implements UnifiedRecord
func (a *InventoryAdjustment) StreamKind() StreamKind { return StreamInventory }

func (a *InventoryAdjustment) normalize() error {
	if a.ProductName != "" {
		a.Name = a.ProductName
	}
	if a.Operation == "" {
		a.Operation = StockOperationAdd
	}
	a.Operation = StockOperation(strings.ToLower(string(a.Operation)))
	if a.ID.IsZero() && a.SKU == "" && a.Name == "" {
		return fmt.Errorf("%w: inventory adjustment needs an id, sku or name", ErrInvalidRecord)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Order records
// ---------------------------------------------------------------------------

// Address is a postal address in unified form.
type Address struct {
	Line1         string           `json:"line1"`
	Line2         string           `json:"line2"`
	City          string           `json:"city"`
	State         string           `json:"state"`
	PostalCode    string           `json:"postal_code"`
	Country       string           `json:"country"`
	CustomerEmail string           `json:"customer_email"`
	TotalShipping *decimal.Decimal `json:"total_shipping"`
}

// LineItem is one order line; it resolves by ProductID, else by SKU.
type LineItem struct {
	ProductID   ExternalID `json:"product_id"`
	SKU         string     `json:"sku"`
	ProductName string     `json:"product_name"`
	Quantity    int        `json:"quantity" validate:"gte=0"`
}

// SalesOrder is a unified order.
type SalesOrder struct {
	ID              ExternalID `json:"id"`
	OrderNumber     ExternalID `json:"order_number"`
	Status          string     `json:"status"`
	Fulfilled       *bool      `json:"fulfilled"`
	Paid            bool       `json:"paid"`
	CustomerID      ExternalID `json:"customer_id"`
	CustomerEmail   string     `json:"customer_email" validate:"omitempty,email"`
	CustomerName    string     `json:"customer_name"`
	BillingAddress  *Address   `json:"billing_address"`
	ShippingAddress *Address   `json:"shipping_address"`
	LineItems       []LineItem `json:"line_items" validate:"dive"`
}

// StreamKind implements UnifiedRecord
func (o *SalesOrder) StreamKind() StreamKind { return StreamOrders }

func (o *SalesOrder) normalize() error {
	o.CustomerEmail = strings.TrimSpace(o.CustomerEmail)
	return nil
}

// OrderNote is a note appended to an existing order. Notes cannot be updated.
type OrderNote struct {
	ID           ExternalID `json:"id"`
	OrderID      ExternalID `json:"order_id"`
	AuthorName   string     `json:"author_name"`
	Note         string     `json:"note" validate:"required"`
	CreatedAt    *Timestamp `json:"created_at"`
	CustomerNote *bool      `json:"customer_note"`
}

// StreamKind implements UnifiedRecord
func (n *OrderNote) StreamKind() StreamKind { return StreamOrderNotes }

func (n *OrderNote) normalize() error {
	return nil
}
