package integration

import (
	"fmt"
)

// StockOperation is how an adjustment combines with the current stock
type StockOperation string

const (
	StockOperationAdd      StockOperation = "add"
	StockOperationSubtract StockOperation = "subtract"
	StockOperationSet      StockOperation = "set"
)

// IsValid returns true if the operation is add, subtract or set
func (o StockOperation) IsValid() bool {
	switch o {
	case StockOperationAdd, StockOperationSubtract, StockOperationSet:
		return true
	default:
		return false
	}
}

// StockLevel is the outcome of a stock operation.
type StockLevel struct {
	Quantity int
	InStock  bool
}

// ApplyStockOperation computes the new stock level. A nil current quantity
// counts as zero. The result is not clamped: subtracting past zero yields a
// negative quantity that is out of stock.
func ApplyStockOperation(current *int, op StockOperation, delta int) (StockLevel, error) {
	if delta < 0 {
		return StockLevel{}, fmt.Errorf("%w: quantity must not be negative, got %d", ErrInvalidRecord, delta)
	}

	base := 0
	if current != nil {
		base = *current
	}

	var quantity int
	switch op {
	case StockOperationAdd:
		quantity = base + delta
	case StockOperationSubtract:
		quantity = base - delta
	case StockOperationSet:
		quantity = delta
	default:
		return StockLevel{}, fmt.Errorf("%w: %q", ErrUnsupportedOperation, op)
	}

	return StockLevel{Quantity: quantity, InStock: quantity > 0}, nil
}

// Clamped returns the level with a negative quantity raised to zero
func (l StockLevel) Clamped() StockLevel {
	if l.Quantity < 0 {
		l.Quantity = 0
	}
	return l
}
