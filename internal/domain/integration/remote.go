package integration

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// ---------------------------------------------------------------------------
// RemoteKind represents the type of a platform entity
// ---------------------------------------------------------------------------

// RemoteKind represents the type of a platform entity
type RemoteKind string

const (
	RemoteKindProduct   RemoteKind = "PRODUCT"
	RemoteKindVariation RemoteKind = "PRODUCT_VARIATION"
	RemoteKindCategory  RemoteKind = "CATEGORY"
	RemoteKindAttribute RemoteKind = "ATTRIBUTE"
	RemoteKindCustomer  RemoteKind = "CUSTOMER"
	RemoteKindOrder     RemoteKind = "ORDER"
)

// String returns the string representation of RemoteKind
func (k RemoteKind) String() string {
	return string(k)
}

// ---------------------------------------------------------------------------
// RemoteEntity
// ---------------------------------------------------------------------------

// RemoteEntity is a (possibly projected) platform object. Only the fields the
// engine reasons about are kept.
type RemoteEntity struct {
	Kind          RemoteKind        `json:"-"`
	ID            int64             `json:"id"`
	ParentID      int64             `json:"parent_id,omitempty"`
	Name          string            `json:"name,omitempty"`
	SKU           string            `json:"sku,omitempty"`
	Slug          string            `json:"slug,omitempty"`
	Type          string            `json:"type,omitempty"`
	Email         string            `json:"email,omitempty"`
	StockQuantity *int              `json:"stock_quantity,omitempty"`
	Attributes    []RemoteAttribute `json:"attributes,omitempty"`
}

// IsVariation returns true if the entity is a child of a variable product
func (e RemoteEntity) IsVariation() bool {
	return e.ParentID != 0
}

// IsVariable returns true for variable (variant-bearing) products
func (e RemoteEntity) IsVariable() bool {
	return e.Type == "variable"
}

// RemoteAttribute is an attribute descriptor as returned on a product or variation.
type RemoteAttribute struct {
	ID      int64    `json:"id"`
	Name    string   `json:"name"`
	Option  string   `json:"option,omitempty"`
	Options []string `json:"options,omitempty"`
}

// ---------------------------------------------------------------------------
// RemoteAPI port
// ---------------------------------------------------------------------------

// APIRequest is one call against the platform REST API. Path is relative to
// the API base, e.g. "products/12/variations".
type APIRequest struct {
	Method string
	Path   string
	Query  url.Values
	Body   any
}

// String renders the request for logs
func (r APIRequest) String() string {
	if len(r.Query) == 0 {
		return fmt.Sprintf("%s %s", r.Method, r.Path)
	}
	return fmt.Sprintf("%s %s?%s", r.Method, r.Path, r.Query.Encode())
}

// APIResponse is a successful (2xx) platform response.
type APIResponse struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Decode unmarshals the response body into v
func (r *APIResponse) Decode(v any) error {
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("%w: %v", ErrPlatformInvalidResponse, err)
	}
	return nil
}

// RemoteAPI executes authenticated requests against the platform. Retriable
// failures are retried inside Execute; the returned error is final.
type RemoteAPI interface {
	Execute(ctx context.Context, req APIRequest) (*APIResponse, error)
}

// ---------------------------------------------------------------------------
// ReferenceData port
// ---------------------------------------------------------------------------

// CollectionQuery describes a paginated reference collection.
type CollectionQuery struct {
	// Resource is the collection path, e.g. "products/categories"
	Resource string
	// Kind is stamped on every returned entity
	Kind RemoteKind
	// Fields projects each object to these keys; empty keeps everything
	Fields []string
	// Filter is merged into the paging query
	Filter url.Values
	// FallbackDetailPath is prefixed to an object id to fetch its full detail
	// when a projected object misses one of Fields
	FallbackDetailPath string
}

// CacheKey identifies the query within one cache
func (q CollectionQuery) CacheKey() string {
	if len(q.Filter) == 0 {
		return q.Resource
	}
	return q.Resource + "?" + q.Filter.Encode()
}

// MatchesResource returns true if key belongs to resource, filtered or not
func MatchesResource(key, resource string) bool {
	return key == resource || strings.HasPrefix(key, resource+"?")
}

// Collection is the result of paging through a resource.
type Collection struct {
	Resource string
	Items    []RemoteEntity
	Pages    int
	// Truncated is set when a page failed and Items holds only earlier pages
	Truncated bool
	// Err is the page failure behind Truncated
	Err error
}

// ReferenceData serves run-scoped snapshots of remote collections.
type ReferenceData interface {
	// Collection returns the cached collection, fetching it on first use
	Collection(ctx context.Context, query CollectionQuery) *Collection
	// Invalidate drops every cached query of the resource
	Invalidate(resource string)
}
