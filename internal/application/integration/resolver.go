package integration

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strconv"

	"github.com/samber/lo"
	"go.uber.org/zap"
	"golang.org/x/text/unicode/norm"

	"github.com/erp/woosync/internal/domain/integration"
)

// Reference collections the resolver reads.
var (
	productsQuery = integration.CollectionQuery{
		Resource: "products",
		Kind:     integration.RemoteKindProduct,
		Fields:   []string{"id", "name", "sku", "stock_quantity", "type"},
	}
	categoriesQuery = integration.CollectionQuery{
		Resource: "products/categories",
		Kind:     integration.RemoteKindCategory,
		Fields:   []string{"id", "name", "slug"},
	}
	attributesQuery = integration.CollectionQuery{
		Resource: "products/attributes",
		Kind:     integration.RemoteKindAttribute,
		Fields:   []string{"id", "name", "slug"},
	}
)

func variationsQuery(parentID int64) integration.CollectionQuery {
	return integration.CollectionQuery{
		Resource:           fmt.Sprintf("products/%d/variations", parentID),
		Kind:               integration.RemoteKindVariation,
		Fields:             []string{"id", "name", "sku", "stock_quantity"},
		FallbackDetailPath: "products/",
	}
}

// Lookup is the partial identifier set of an inbound record
type Lookup struct {
	ID   integration.ExternalID
	SKU  string
	Name string
}

// EntityResolver matches inbound identifiers against a run's reference data.
type EntityResolver struct {
	refs   integration.ReferenceData
	api    integration.RemoteAPI
	logger *zap.Logger
}

// NewEntityResolver creates a resolver over one sink's reference data
func NewEntityResolver(refs integration.ReferenceData, api integration.RemoteAPI, logger *zap.Logger) *EntityResolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EntityResolver{refs: refs, api: api, logger: logger}
}

// Products returns the main product collection
func (r *EntityResolver) Products(ctx context.Context) []integration.RemoteEntity {
	return r.items(ctx, productsQuery)
}

// Variants returns the variations of every variable product, each annotated
// with its parent id.
func (r *EntityResolver) Variants(ctx context.Context) []integration.RemoteEntity {
	var variants []integration.RemoteEntity
	for _, product := range r.Products(ctx) {
		if !product.IsVariable() {
			continue
		}
		for _, v := range r.items(ctx, variationsQuery(product.ID)) {
			v.ParentID = product.ID
			variants = append(variants, v)
		}
	}
	return variants
}

// Resolve finds the remote product or variation for lookup. Candidates are
// tried by id, then sku (disambiguated by name), then exact name, then
// sanitized name; main products are searched before variants at each step.
func (r *EntityResolver) Resolve(ctx context.Context, lookup Lookup) (integration.RemoteEntity, error) {
	products := r.Products(ctx)

	var variants []integration.RemoteEntity
	loaded := false
	variantsOf := func() []integration.RemoteEntity {
		if !loaded {
			variants = r.Variants(ctx)
			loaded = true
		}
		return variants
	}

	if id, ok := lookup.ID.Int64(); ok {
		if e, found := lo.Find(products, func(e integration.RemoteEntity) bool { return e.ID == id }); found {
			return e, nil
		}
		if e, found := lo.Find(variantsOf(), func(e integration.RemoteEntity) bool { return e.ID == id }); found {
			return e, nil
		}
		r.logger.Debug("Id not found in reference data", zap.Int64("id", id))
	}

	if lookup.SKU != "" {
		if e, found := matchSKU(products, lookup.SKU, lookup.Name); found {
			return e, nil
		}
		if e, found := matchSKU(variantsOf(), lookup.SKU, lookup.Name); found {
			return e, nil
		}
	}

	if lookup.Name != "" {
		byName := func(e integration.RemoteEntity) bool { return e.Name == lookup.Name }
		if e, found := lo.Find(products, byName); found {
			return e, nil
		}
		if e, found := lo.Find(variantsOf(), byName); found {
			return e, nil
		}
		want := SanitizeName(lookup.Name)
		if want != "" {
			if e, found := lo.Find(variantsOf(), func(e integration.RemoteEntity) bool {
				return SanitizeName(e.Name) == want
			}); found {
				return e, nil
			}
		}
	}

	return integration.RemoteEntity{}, fmt.Errorf("%w: id=%q sku=%q name=%q",
		integration.ErrEntityNotFound, lookup.ID, lookup.SKU, lookup.Name)
}

// matchSKU returns the single entity carrying sku. Several candidates are
// narrowed by exact name; an unresolved tie is no match.
func matchSKU(entities []integration.RemoteEntity, sku, name string) (integration.RemoteEntity, bool) {
	candidates := lo.Filter(entities, func(e integration.RemoteEntity, _ int) bool { return e.SKU == sku })
	switch len(candidates) {
	case 0:
		return integration.RemoteEntity{}, false
	case 1:
		return candidates[0], true
	default:
		return lo.Find(candidates, func(e integration.RemoteEntity) bool { return e.Name == name })
	}
}

var nonWordChars = regexp.MustCompile(`[^\p{L}\p{N}_]+`)

// SanitizeName strips every non-alphanumeric character after NFKC
// normalization, so "Blue - Large" and "Blue Large" compare equal.
func SanitizeName(name string) string {
	return nonWordChars.ReplaceAllString(norm.NFKC.String(name), "")
}

// Category returns the id of the category named name
func (r *EntityResolver) Category(ctx context.Context, name string) (int64, bool) {
	e, found := lo.Find(r.items(ctx, categoriesQuery), func(e integration.RemoteEntity) bool { return e.Name == name })
	return e.ID, found
}

// CreateCategory creates a category and drops the cached category list so
// later records see it.
func (r *EntityResolver) CreateCategory(ctx context.Context, name string) (int64, error) {
	resp, err := r.api.Execute(ctx, integration.APIRequest{
		Method: http.MethodPost,
		Path:   categoriesQuery.Resource,
		Body:   map[string]string{"name": name},
	})
	if err != nil {
		return 0, fmt.Errorf("create category %q: %w", name, err)
	}
	var created integration.RemoteEntity
	if err := resp.Decode(&created); err != nil {
		return 0, err
	}
	r.refs.Invalidate(categoriesQuery.Resource)
	r.logger.Info("Category created", zap.String("name", name), zap.Int64("id", created.ID))
	return created.ID, nil
}

// Attribute returns the id of the global attribute named name
func (r *EntityResolver) Attribute(ctx context.Context, name string) (int64, bool) {
	e, found := lo.Find(r.items(ctx, attributesQuery), func(e integration.RemoteEntity) bool { return e.Name == name })
	return e.ID, found
}

// Customer returns the id of the first customer with email
func (r *EntityResolver) Customer(ctx context.Context, email string) (int64, bool) {
	customers := r.items(ctx, integration.CollectionQuery{
		Resource: "customers",
		Kind:     integration.RemoteKindCustomer,
		Fields:   []string{"id", "email"},
		Filter:   url.Values{"email": {email}},
	})
	if len(customers) == 0 {
		return 0, false
	}
	return customers[0].ID, true
}

// ProductBySKU returns the first product or variation the platform lists for
// sku. The error is set only when the lookup itself failed.
func (r *EntityResolver) ProductBySKU(ctx context.Context, sku string) (integration.RemoteEntity, bool, error) {
	coll := r.refs.Collection(ctx, integration.CollectionQuery{
		Resource: "products",
		Kind:     integration.RemoteKindProduct,
		Fields:   []string{"id", "name", "sku", "type", "parent_id"},
		Filter:   url.Values{"sku": {sku}},
	})
	if len(coll.Items) > 0 {
		return coll.Items[0], true, nil
	}
	if coll.Truncated {
		return integration.RemoteEntity{}, false, coll.Err
	}
	return integration.RemoteEntity{}, false, nil
}

// LookupExisting asks the platform directly whether a product or variation
// with id, else sku, exists. It bypasses the cache so entities created earlier
// in the run are found.
func (r *EntityResolver) LookupExisting(ctx context.Context, id integration.ExternalID, sku string) (*integration.RemoteEntity, error) {
	if n, ok := id.Int64(); ok {
		hit, err := r.firstProduct(ctx, url.Values{"include": {strconv.FormatInt(n, 10)}})
		if err != nil || hit != nil {
			return hit, err
		}
	}
	if sku != "" {
		return r.firstProduct(ctx, url.Values{"sku": {sku}})
	}
	return nil, nil
}

func (r *EntityResolver) firstProduct(ctx context.Context, query url.Values) (*integration.RemoteEntity, error) {
	resp, err := r.api.Execute(ctx, integration.APIRequest{
		Method: http.MethodGet,
		Path:   "products",
		Query:  query,
	})
	if err != nil {
		return nil, fmt.Errorf("existing product lookup: %w", err)
	}
	var hits []integration.RemoteEntity
	if err := resp.Decode(&hits); err != nil {
		return nil, err
	}
	if len(hits) == 0 {
		return nil, nil
	}
	hit := hits[0]
	hit.Kind = integration.RemoteKindProduct
	if hit.IsVariation() {
		hit.Kind = integration.RemoteKindVariation
	}
	return &hit, nil
}

func (r *EntityResolver) items(ctx context.Context, query integration.CollectionQuery) []integration.RemoteEntity {
	coll := r.refs.Collection(ctx, query)
	if coll.Truncated {
		r.logger.Warn("Resolving against truncated reference data",
			zap.String("resource", query.CacheKey()),
			zap.Int("items", len(coll.Items)),
		)
	}
	return coll.Items
}
