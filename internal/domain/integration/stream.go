package integration

import (
	"fmt"
	"strings"
)

// ---------------------------------------------------------------------------
// StreamKind represents one inbound record stream
// ---------------------------------------------------------------------------

// StreamKind represents one inbound record stream
type StreamKind string

const (
	// StreamProducts carries products, optionally with variants and options
	StreamProducts StreamKind = "Products"
	// StreamVariants carries standalone variants of an existing product
	StreamVariants StreamKind = "Variants"
	// StreamInventory carries stock adjustments
	StreamInventory StreamKind = "UpdateInventory"
	// StreamOrders carries sales orders with line items
	StreamOrders StreamKind = "SalesOrders"
	// StreamOrderNotes carries notes attached to existing orders
	StreamOrderNotes StreamKind = "OrderNotes"
)

// AllStreamKinds lists every stream in dispatch and reporting order.
var AllStreamKinds = []StreamKind{
	StreamProducts,
	StreamVariants,
	StreamInventory,
	StreamOrders,
	StreamOrderNotes,
}

var streamAliases = map[string]StreamKind{
	"products":        StreamProducts,
	"product":         StreamProducts,
	"variants":        StreamVariants,
	"variant":         StreamVariants,
	"updateinventory": StreamInventory,
	"inventory":       StreamInventory,
	"salesorders":     StreamOrders,
	"salesorder":      StreamOrders,
	"orders":          StreamOrders,
	"ordernotes":      StreamOrderNotes,
	"ordernote":       StreamOrderNotes,
}

// ParseStreamKind maps an inbound stream name onto a StreamKind.
// Matching ignores case, underscores and dashes.
func ParseStreamKind(name string) (StreamKind, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	key = strings.NewReplacer("_", "", "-", "", " ", "").Replace(key)
	if kind, ok := streamAliases[key]; ok {
		return kind, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownStream, name)
}

// IsValid returns true if the stream kind is one of the known streams
func (k StreamKind) IsValid() bool {
	switch k {
	case StreamProducts, StreamVariants, StreamInventory, StreamOrders, StreamOrderNotes:
		return true
	default:
		return false
	}
}

// String returns the string representation of StreamKind
func (k StreamKind) String() string {
	return string(k)
}

// Priority returns the position of the stream in AllStreamKinds
func (k StreamKind) Priority() int {
	for i, kind := range AllStreamKinds {
		if kind == k {
			return i
		}
	}
	return len(AllStreamKinds)
}
