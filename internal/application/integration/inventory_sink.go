package integration

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"go.uber.org/zap"

	"github.com/erp/woosync/internal/domain/integration"
)

// InventorySink applies stock adjustments to products and variations.
type InventorySink struct {
	sinkDeps

	mu sync.Mutex
	// known holds quantities written during this run, keyed by target path;
	// they supersede the reference snapshot
	known map[string]int
}

// Stream implements Sink
func (s *InventorySink) Stream() integration.StreamKind { return integration.StreamInventory }

// Prepare implements Sink
func (s *InventorySink) Prepare(ctx context.Context, rec integration.UnifiedRecord) (*Plan, error) {
	adj, ok := rec.(*integration.InventoryAdjustment)
	if !ok {
		return nil, fmt.Errorf("%w: expected an inventory adjustment, got %T", integration.ErrInvalidRecord, rec)
	}

	target, err := s.resolver.Resolve(ctx, Lookup{ID: adj.ID, SKU: adj.SKU, Name: adj.Name})
	if err != nil {
		s.logger.Error("Could not find product with id, sku or name",
			zap.String("id", adj.ID.String()),
			zap.String("sku", adj.SKU),
			zap.String("name", adj.Name),
		)
		return nil, err
	}

	path := stockPath(target)
	current := s.current(target, path)
	level, err := integration.ApplyStockOperation(current, adj.Operation, adj.Quantity)
	if err != nil {
		return nil, err
	}
	if s.policy.ClampNegativeStock {
		level = level.Clamped()
	}
	payload := StockPayload{
		StockQuantity: level.Quantity,
		ManageStock:   true,
		InStock:       level.InStock,
	}

	s.logger.Debug("Computed stock level",
		zap.String("path", path),
		zap.String("sku", target.SKU),
		zap.Intp("current", current),
		zap.String("operation", string(adj.Operation)),
		zap.Int("quantity", adj.Quantity),
		zap.Int("new", level.Quantity),
	)

	return &Plan{
		Payload: stockFingerprint{Path: path, Stock: payload},
		Apply: func(ctx context.Context) (Applied, error) {
			return s.apply(ctx, target, path, payload)
		},
	}, nil
}

// apply writes the absolute quantity computed in Prepare
func (s *InventorySink) apply(ctx context.Context, target integration.RemoteEntity, path string, payload StockPayload) (Applied, error) {
	s.logger.Info("Adjusting stock",
		zap.String("path", path),
		zap.String("sku", target.SKU),
		zap.Int("new", payload.StockQuantity),
	)
	resp, err := s.api.Execute(ctx, integration.APIRequest{
		Method: http.MethodPut,
		Path:   path,
		Body:   payload,
	})
	if err != nil {
		return Applied{}, err
	}
	var updated integration.RemoteEntity
	if err := resp.Decode(&updated); err != nil {
		return Applied{}, err
	}

	written := payload.StockQuantity
	if updated.StockQuantity != nil {
		written = *updated.StockQuantity
	}
	s.mu.Lock()
	s.known[path] = written
	s.mu.Unlock()

	return Applied{RemoteID: target.ID, Updated: true}, nil
}

func (s *InventorySink) current(target integration.RemoteEntity, path string) *int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if q, ok := s.known[path]; ok {
		return &q
	}
	return target.StockQuantity
}

// stockPath is the update endpoint of a product or variation
func stockPath(e integration.RemoteEntity) string {
	if e.IsVariation() {
		return fmt.Sprintf("products/%d/variations/%d", e.ParentID, e.ID)
	}
	return fmt.Sprintf("products/%d", e.ID)
}
