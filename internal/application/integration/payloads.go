package integration

import (
	"github.com/shopspring/decimal"
)

// Platform request bodies. Empty values are omitted so a payload never
// blanks a remote field the record did not carry.

// Dimensions is the product/variation dimensions object
type Dimensions struct {
	Width  string `json:"width,omitempty"`
	Length string `json:"length,omitempty"`
	Height string `json:"height,omitempty"`
}

// ImagePayload references an image by url
type ImagePayload struct {
	Src string `json:"src"`
}

// CategoryPayload references a category by id
type CategoryPayload struct {
	ID int64 `json:"id"`
}

// AttributePayload declares an attribute on a variable product
type AttributePayload struct {
	ID        int64    `json:"id,omitempty"`
	Name      string   `json:"name,omitempty"`
	Position  int      `json:"position"`
	Visible   bool     `json:"visible"`
	Variation bool     `json:"variation"`
	Options   []string `json:"options"`
}

// DefaultAttributePayload selects the default option of an attribute
type DefaultAttributePayload struct {
	ID     int64  `json:"id,omitempty"`
	Name   string `json:"name,omitempty"`
	Option string `json:"option"`
}

// VariationAttribute is one attribute value of a variation
type VariationAttribute struct {
	ID     int64  `json:"id,omitempty"`
	Name   string `json:"name,omitempty"`
	Option string `json:"option"`
}

// VariationPayload is the body of a variation create/update
type VariationPayload struct {
	ID            int64                `json:"id,omitempty"`
	SKU           string               `json:"sku,omitempty"`
	RegularPrice  string               `json:"regular_price,omitempty"`
	SalePrice     string               `json:"sale_price,omitempty"`
	ManageStock   bool                 `json:"manage_stock"`
	StockQuantity *int                 `json:"stock_quantity,omitempty"`
	Weight        string               `json:"weight,omitempty"`
	Description   string               `json:"description,omitempty"`
	Dimensions    *Dimensions          `json:"dimensions,omitempty"`
	Attributes    []VariationAttribute `json:"attributes"`
}

// ProductPayload is the body of a product create/update. Variations are sent
// separately after the parent is written.
type ProductPayload struct {
	ID                int64                     `json:"id,omitempty"`
	Name              string                    `json:"name"`
	SKU               string                    `json:"sku,omitempty"`
	Type              string                    `json:"type"`
	Description       string                    `json:"description,omitempty"`
	ShortDescription  string                    `json:"short_description,omitempty"`
	RegularPrice      string                    `json:"regular_price,omitempty"`
	ManageStock       bool                      `json:"manage_stock,omitempty"`
	StockQuantity     *int                      `json:"stock_quantity,omitempty"`
	Weight            string                    `json:"weight,omitempty"`
	Dimensions        *Dimensions               `json:"dimensions,omitempty"`
	Images            []ImagePayload            `json:"images,omitempty"`
	Categories        []CategoryPayload         `json:"categories,omitempty"`
	Attributes        []AttributePayload        `json:"attributes,omitempty"`
	DefaultAttributes []DefaultAttributePayload `json:"default_attributes,omitempty"`
	Variations        []VariationPayload        `json:"-"`
}

// productFingerprint is what a product record is fingerprinted over: the
// product body and every variation body.
type productFingerprint struct {
	Product    ProductPayload     `json:"product"`
	Variations []VariationPayload `json:"variations,omitempty"`
}

// StockPayload is the body of an inventory update
type StockPayload struct {
	StockQuantity int  `json:"stock_quantity"`
	ManageStock   bool `json:"manage_stock"`
	InStock       bool `json:"in_stock"`
}

// stockFingerprint is what an inventory record is fingerprinted over: the
// target and the absolute stock it is set to.
type stockFingerprint struct {
	Path  string       `json:"path"`
	Stock StockPayload `json:"stock"`
}

// AddressPayload is a billing or shipping address
type AddressPayload struct {
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
	Address1  string `json:"address_1,omitempty"`
	Address2  string `json:"address_2,omitempty"`
	City      string `json:"city,omitempty"`
	State     string `json:"state,omitempty"`
	Postcode  string `json:"postcode,omitempty"`
	Country   string `json:"country,omitempty"`
	Email     string `json:"email,omitempty"`
}

// ShippingLine carries the shipping total of an order
type ShippingLine struct {
	Total string `json:"total"`
}

// LineItemPayload is one resolved order line
type LineItemPayload struct {
	ProductID   int64 `json:"product_id"`
	VariationID int64 `json:"variation_id,omitempty"`
	Quantity    int   `json:"quantity"`
}

// OrderPayload is the body of an order create/update
type OrderPayload struct {
	ID            int64             `json:"id,omitempty"`
	Status        string            `json:"status,omitempty"`
	SetPaid       bool              `json:"set_paid"`
	CustomerID    *int64            `json:"customer_id,omitempty"`
	Billing       *AddressPayload   `json:"billing,omitempty"`
	Shipping      *AddressPayload   `json:"shipping,omitempty"`
	ShippingLines []ShippingLine    `json:"shipping_lines,omitempty"`
	LineItems     []LineItemPayload `json:"line_items,omitempty"`
}

// NotePayload is the body of an order note
type NotePayload struct {
	OrderID      int64  `json:"order_id"`
	Author       string `json:"author,omitempty"`
	Note         string `json:"note"`
	DateCreated  string `json:"date_created,omitempty"`
	CustomerNote *bool  `json:"customer_note,omitempty"`
}

// variationFingerprint is what a standalone variant record is fingerprinted over
type variationFingerprint struct {
	ParentID  int64            `json:"parent_id"`
	Variation VariationPayload `json:"variation"`
}

func decimalString(d *decimal.Decimal) string {
	if d == nil {
		return ""
	}
	return d.String()
}

func dimensionsOf(width, length, depth *decimal.Decimal) *Dimensions {
	dims := &Dimensions{
		Width:  decimalString(width),
		Length: decimalString(length),
		Height: decimalString(depth),
	}
	if *dims == (Dimensions{}) {
		return nil
	}
	return dims
}
