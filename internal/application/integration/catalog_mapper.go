package integration

import (
	"context"
	"fmt"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/erp/woosync/internal/domain/integration"
)

const (
	productTypeSimple   = "simple"
	productTypeVariable = "variable"
)

// CatalogMapper turns unified products into platform product payloads.
type CatalogMapper struct {
	resolver *EntityResolver
	policy   SyncPolicy
	logger   *zap.Logger
}

// NewCatalogMapper creates a CatalogMapper
func NewCatalogMapper(resolver *EntityResolver, policy SyncPolicy, logger *zap.Logger) *CatalogMapper {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CatalogMapper{resolver: resolver, policy: policy, logger: logger}
}

// Map builds the payload for p. Existing remote products and variations are
// looked up per variant; their shape overrides the type inferred from p.
func (m *CatalogMapper) Map(ctx context.Context, p *integration.Product) (*ProductPayload, error) {
	productID, err := recordID(p.ID, "id")
	if err != nil {
		return nil, err
	}

	productType := ""
	variationIDs := make([]int64, len(p.Variants))
	for i, variant := range p.Variants {
		hit, err := m.resolver.LookupExisting(ctx, variant.ID, variant.SKU)
		if err != nil {
			return nil, err
		}
		if hit == nil {
			continue
		}
		if hit.IsVariation() {
			variationIDs[i] = hit.ID
			productID = hit.ParentID
			productType = productTypeVariable
		} else {
			productID = hit.ID
			productType = productTypeSimple
			if hit.IsVariable() {
				productType = productTypeVariable
			}
		}
	}
	if productType == "" {
		productType = productTypeSimple
		if p.IsVariable() {
			productType = productTypeVariable
		}
	}

	payload := &ProductPayload{
		ID:               productID,
		Name:             p.Name,
		SKU:              p.SKU,
		Type:             productType,
		Description:      p.Description,
		ShortDescription: p.ShortDescription,
		RegularPrice:     decimalString(p.Price),
		Images: lo.Map(p.ImageURLs, func(src string, _ int) ImagePayload {
			return ImagePayload{Src: src}
		}),
	}

	categories, err := m.categories(ctx, p)
	if err != nil {
		return nil, err
	}
	payload.Categories = categories

	if productType == productTypeVariable {
		for i, variant := range p.Variants {
			v := variationPayload(variant)
			v.ID = variationIDs[i]
			payload.Variations = append(payload.Variations, v)
		}
		payload.Attributes, payload.DefaultAttributes = m.attributes(ctx, p)
		return payload, nil
	}

	if len(p.Variants) > 0 {
		first := p.Variants[0]
		if first.SKU != "" {
			payload.SKU = first.SKU
		}
		if first.Price != nil {
			payload.RegularPrice = first.Price.String()
		}
		payload.ManageStock = true
		payload.StockQuantity = first.AvailableQuantity
		payload.Weight = decimalString(first.Weight)
		payload.Dimensions = dimensionsOf(first.Width, first.Length, first.Depth)
	}
	return payload, nil
}

// categories resolves the record's category references. Names with no
// remote match are dropped or created according to the policy.
func (m *CatalogMapper) categories(ctx context.Context, p *integration.Product) ([]CategoryPayload, error) {
	refs := p.Categories
	if p.Category != nil {
		refs = []integration.CategoryRef{*p.Category}
	}

	var out []CategoryPayload
	for _, ref := range refs {
		if !ref.ID.IsZero() {
			id, err := recordID(ref.ID, "category id")
			if err != nil {
				return nil, err
			}
			out = append(out, CategoryPayload{ID: id})
			continue
		}
		if ref.Name == "" {
			continue
		}
		if id, ok := m.resolver.Category(ctx, ref.Name); ok {
			out = append(out, CategoryPayload{ID: id})
			continue
		}
		if m.policy.CategoryPolicy != CategoryPolicyCreate {
			m.logger.Info("Dropping unmatched category", zap.String("category", ref.Name))
			continue
		}
		id, err := m.resolver.CreateCategory(ctx, ref.Name)
		if err != nil {
			return nil, err
		}
		out = append(out, CategoryPayload{ID: id})
	}
	return out, nil
}

// attributes declares one attribute per option name, carrying every value
// observed across the variants. The first value becomes the default.
func (m *CatalogMapper) attributes(ctx context.Context, p *integration.Product) ([]AttributePayload, []DefaultAttributePayload) {
	observed := lo.FlatMap(p.Variants, func(v integration.Variant, _ int) []integration.OptionValue {
		return v.Options
	})
	if len(observed) == 0 {
		return nil, nil
	}

	names := p.Options
	if len(names) == 0 {
		names = lo.Uniq(lo.Map(observed, func(o integration.OptionValue, _ int) string { return o.Name }))
	}

	var attrs []AttributePayload
	var defaults []DefaultAttributePayload
	for _, name := range names {
		values := lo.Uniq(lo.FilterMap(observed, func(o integration.OptionValue, _ int) (string, bool) {
			return o.Value, o.Name == name
		}))
		if len(values) == 0 {
			continue
		}
		attr := AttributePayload{Position: 0, Visible: false, Variation: true, Options: values}
		def := DefaultAttributePayload{Option: values[0]}
		if id, ok := m.resolver.Attribute(ctx, name); ok {
			attr.ID, def.ID = id, id
		} else {
			attr.Name, def.Name = name, name
		}
		attrs = append(attrs, attr)
		defaults = append(defaults, def)
	}
	return attrs, defaults
}

// variationPayload maps one unified variant
func variationPayload(v integration.Variant) VariationPayload {
	return VariationPayload{
		SKU:           v.SKU,
		RegularPrice:  decimalString(v.Price),
		SalePrice:     decimalString(v.SalePrice),
		ManageStock:   true,
		StockQuantity: v.AvailableQuantity,
		Weight:        decimalString(v.Weight),
		Description:   v.Description,
		Dimensions:    dimensionsOf(v.Width, v.Length, v.Depth),
		Attributes: lo.Map(v.Options, func(o integration.OptionValue, _ int) VariationAttribute {
			return VariationAttribute{Name: o.Name, Option: o.Value}
		}),
	}
}

// bindAttributeIDs replaces attribute names with the ids the parent product
// reports. An unknown name fails the variation.
func bindAttributeIDs(attrs []VariationAttribute, parent []integration.RemoteAttribute) ([]VariationAttribute, error) {
	bound := make([]VariationAttribute, 0, len(attrs))
	for _, attr := range attrs {
		match, ok := lo.Find(parent, func(a integration.RemoteAttribute) bool { return a.Name == attr.Name })
		if !ok {
			return nil, fmt.Errorf("%w: %q", integration.ErrAttributeNotFound, attr.Name)
		}
		bound = append(bound, VariationAttribute{ID: match.ID, Name: attr.Name, Option: attr.Option})
	}
	return bound, nil
}
