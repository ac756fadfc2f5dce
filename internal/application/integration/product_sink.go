package integration

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/erp/woosync/internal/domain/integration"
)

// ProductSink upserts products and, for variable products, their variations.
type ProductSink struct {
	sinkDeps
	mapper *CatalogMapper
}

// Stream implements Sink
func (s *ProductSink) Stream() integration.StreamKind { return integration.StreamProducts }

// Prepare implements Sink
func (s *ProductSink) Prepare(ctx context.Context, rec integration.UnifiedRecord) (*Plan, error) {
	product, ok := rec.(*integration.Product)
	if !ok {
		return nil, fmt.Errorf("%w: expected a product, got %T", integration.ErrInvalidRecord, rec)
	}

	payload, err := s.mapper.Map(ctx, product)
	if err != nil {
		return nil, err
	}

	return &Plan{
		Payload: productFingerprint{Product: *payload, Variations: payload.Variations},
		Apply: func(ctx context.Context) (Applied, error) {
			return s.apply(ctx, payload)
		},
	}, nil
}

// apply writes the parent, then each variation in order. A failed variation
// does not stop its siblings but fails the record as a whole.
func (s *ProductSink) apply(ctx context.Context, payload *ProductPayload) (Applied, error) {
	parent, applied, err := write(ctx, s.api, payload.ID,
		fmt.Sprintf("products/%d", payload.ID), "products", payload)
	if err != nil {
		return Applied{}, err
	}
	if applied.Updated {
		s.logger.Info("Product updated", zap.Int64("id", applied.RemoteID))
	} else {
		s.logger.Info("Product created", zap.Int64("id", applied.RemoteID))
	}

	if payload.Type != productTypeVariable {
		return applied, nil
	}

	var failures []error
	for _, variation := range payload.Variations {
		if err := s.applyVariation(ctx, parent, variation); err != nil {
			s.logger.Error("Failed to process variation",
				zap.Int64("parent_id", parent.ID),
				zap.String("sku", variation.SKU),
				zap.Error(err),
			)
			failures = append(failures, err)
		}
	}
	if len(failures) > 0 {
		return applied, fmt.Errorf("%w: %d of %d variation(s) of product %d: %w",
			integration.ErrVariationFailed, len(failures), len(payload.Variations), parent.ID, errors.Join(failures...))
	}
	return applied, nil
}

func (s *ProductSink) applyVariation(ctx context.Context, parent integration.RemoteEntity, variation VariationPayload) error {
	base := fmt.Sprintf("products/%d/variations", parent.ID)
	if variation.ID == 0 {
		attrs, err := bindAttributeIDs(variation.Attributes, parent.Attributes)
		if err != nil {
			return err
		}
		variation.Attributes = attrs
	}

	created, applied, err := write(ctx, s.api, variation.ID,
		fmt.Sprintf("%s/%d", base, variation.ID), base, variation)
	if err != nil {
		return err
	}
	if applied.Updated {
		s.logger.Info("Variation updated", zap.Int64("id", created.ID), zap.Int64("parent_id", parent.ID))
	} else {
		s.logger.Info("Variation created", zap.Int64("id", created.ID), zap.Int64("parent_id", parent.ID))
	}
	return nil
}
