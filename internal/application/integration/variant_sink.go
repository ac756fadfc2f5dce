package integration

import (
	"context"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/erp/woosync/internal/domain/integration"
)

// VariantSink upserts standalone variants as variations of an existing
// variable product.
type VariantSink struct {
	sinkDeps
}

// Stream implements Sink
func (s *VariantSink) Stream() integration.StreamKind { return integration.StreamVariants }

// Prepare implements Sink
func (s *VariantSink) Prepare(ctx context.Context, rec integration.UnifiedRecord) (*Plan, error) {
	variant, ok := rec.(*integration.Variant)
	if !ok {
		return nil, fmt.Errorf("%w: expected a variant, got %T", integration.ErrInvalidRecord, rec)
	}

	parentID, err := s.parentID(ctx, variant)
	if err != nil {
		return nil, err
	}

	payload := variationPayload(*variant)
	existing, err := s.resolver.LookupExisting(ctx, variant.ID, variant.SKU)
	if err != nil {
		return nil, err
	}
	if existing != nil && existing.ParentID == parentID {
		payload.ID = existing.ID
	}

	return &Plan{
		Payload: variationFingerprint{ParentID: parentID, Variation: payload},
		Apply: func(ctx context.Context) (Applied, error) {
			return s.apply(ctx, parentID, payload)
		},
	}, nil
}

// parentID resolves the parent by explicit product id, else by parent sku.
func (s *VariantSink) parentID(ctx context.Context, v *integration.Variant) (int64, error) {
	id, err := recordID(v.ProductID, "product_id")
	if err != nil || id != 0 {
		return id, err
	}
	if v.ParentSKU == "" {
		return 0, fmt.Errorf("%w: variant needs a product_id or parent_sku", integration.ErrMissingReference)
	}
	hit, err := s.resolver.LookupExisting(ctx, "", v.ParentSKU)
	if err != nil {
		return 0, err
	}
	if hit == nil {
		return 0, fmt.Errorf("%w: parent sku %q", integration.ErrMissingReference, v.ParentSKU)
	}
	if hit.IsVariation() {
		return hit.ParentID, nil
	}
	return hit.ID, nil
}

func (s *VariantSink) apply(ctx context.Context, parentID int64, payload VariationPayload) (Applied, error) {
	base := fmt.Sprintf("products/%d/variations", parentID)

	if payload.ID == 0 {
		resp, err := s.api.Execute(ctx, integration.APIRequest{
			Method: http.MethodGet,
			Path:   fmt.Sprintf("products/%d", parentID),
		})
		if err != nil {
			return Applied{}, err
		}
		var parent integration.RemoteEntity
		if err := resp.Decode(&parent); err != nil {
			return Applied{}, err
		}
		attrs, err := bindAttributeIDs(payload.Attributes, parent.Attributes)
		if err != nil {
			return Applied{}, err
		}
		payload.Attributes = attrs
	}

	_, applied, err := write(ctx, s.api, payload.ID, fmt.Sprintf("%s/%d", base, payload.ID), base, payload)
	if err != nil {
		return Applied{}, err
	}
	s.logger.Info("Variant written",
		zap.Int64("id", applied.RemoteID),
		zap.Int64("parent_id", parentID),
		zap.Bool("updated", applied.Updated),
	)
	return applied, nil
}
