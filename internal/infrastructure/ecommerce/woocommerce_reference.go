package ecommerce

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"

	"go.uber.org/zap"

	"github.com/erp/woosync/internal/domain/integration"
	"github.com/erp/woosync/internal/infrastructure/telemetry"
)

const (
	referencePageSize     = 100
	referenceProgressStep = 10
	totalPagesHeader      = "X-WP-TotalPages"
)

// ReferenceCache pages through WooCommerce collections once per run and
// serves the snapshot to every later lookup. It is not shared across runs.
type ReferenceCache struct {
	api      integration.RemoteAPI
	logger   *zap.Logger
	metrics  *telemetry.SyncMetrics
	pageSize int

	mu      sync.Mutex
	entries map[string]*integration.Collection
}

// Ensure ReferenceCache implements the ReferenceData port
var _ integration.ReferenceData = (*ReferenceCache)(nil)

// NewReferenceCache creates an empty cache over api
func NewReferenceCache(api integration.RemoteAPI, logger *zap.Logger, metrics *telemetry.SyncMetrics) *ReferenceCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReferenceCache{
		api:      api,
		logger:   logger,
		metrics:  metrics,
		pageSize: referencePageSize,
		entries:  make(map[string]*integration.Collection),
	}
}

// Collection returns the cached collection for query, fetching every page on
// first use. A page failure yields a truncated collection holding the pages
// read so far; it is cached like a complete one.
func (c *ReferenceCache) Collection(ctx context.Context, query integration.CollectionQuery) *integration.Collection {
	key := query.CacheKey()

	c.mu.Lock()
	defer c.mu.Unlock()

	if coll, ok := c.entries[key]; ok {
		return coll
	}

	coll := c.fetch(ctx, query)
	if ctx.Err() == nil {
		c.entries[key] = coll
	}
	return coll
}

// Invalidate drops every cached query of resource
func (c *ReferenceCache) Invalidate(resource string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key := range c.entries {
		if integration.MatchesResource(key, resource) {
			delete(c.entries, key)
		}
	}
}

func (c *ReferenceCache) fetch(ctx context.Context, query integration.CollectionQuery) *integration.Collection {
	coll := &integration.Collection{Resource: query.Resource, Items: []integration.RemoteEntity{}}

	totalPages := 1
	for page := 1; page <= totalPages; page++ {
		params := url.Values{}
		for k, vs := range query.Filter {
			params[k] = append([]string(nil), vs...)
		}
		params.Set("per_page", strconv.Itoa(c.pageSize))
		params.Set("order", "asc")
		params.Set("page", strconv.Itoa(page))

		resp, err := c.api.Execute(ctx, integration.APIRequest{
			Method: http.MethodGet,
			Path:   query.Resource,
			Query:  params,
		})
		if err != nil {
			return c.truncate(coll, query, page, err)
		}
		c.metrics.ObserveReferencePage(query.Resource)

		var objects []map[string]json.RawMessage
		if err := resp.Decode(&objects); err != nil {
			return c.truncate(coll, query, page, err)
		}

		if page == 1 {
			if n, err := strconv.Atoi(resp.Header.Get(totalPagesHeader)); err == nil && n > 0 {
				totalPages = n
			}
		}
		coll.Pages = page

		if len(objects) == 0 {
			break
		}
		for _, obj := range objects {
			entity, err := c.project(ctx, query, obj)
			if err != nil {
				c.logger.Warn("Skipping undecodable reference object",
					zap.String("resource", query.Resource),
					zap.Error(err),
				)
				continue
			}
			coll.Items = append(coll.Items, entity)
		}

		if page%referenceProgressStep == 0 {
			c.logger.Info("Fetching reference collection",
				zap.String("resource", query.Resource),
				zap.Int("page", page),
				zap.Int("total_pages", totalPages),
			)
		}
	}

	c.logger.Debug("Reference collection loaded",
		zap.String("resource", query.CacheKey()),
		zap.Int("pages", coll.Pages),
		zap.Int("items", len(coll.Items)),
	)
	return coll
}

func (c *ReferenceCache) truncate(coll *integration.Collection, query integration.CollectionQuery, page int, err error) *integration.Collection {
	coll.Truncated = true
	coll.Err = fmt.Errorf("%w: %s page %d: %w", integration.ErrReferenceTruncated, query.Resource, page, err)
	if !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		c.logger.Warn("Reference collection truncated",
			zap.String("resource", query.CacheKey()),
			zap.Int("failed_page", page),
			zap.Int("items", len(coll.Items)),
			zap.Error(err),
		)
	}
	return coll
}

// project keeps only query.Fields of obj. Objects missing a requested field
// are refetched from the detail endpoint when one is configured.
func (c *ReferenceCache) project(ctx context.Context, query integration.CollectionQuery, obj map[string]json.RawMessage) (integration.RemoteEntity, error) {
	if len(query.Fields) > 0 {
		if query.FallbackDetailPath != "" && missingAny(obj, query.Fields) {
			obj = c.detail(ctx, query, obj)
		}
		projected := make(map[string]json.RawMessage, len(query.Fields))
		for _, field := range query.Fields {
			if v, ok := obj[field]; ok {
				projected[field] = v
			}
		}
		obj = projected
	}

	data, err := json.Marshal(obj)
	if err != nil {
		return integration.RemoteEntity{}, err
	}
	var entity integration.RemoteEntity
	if err := json.Unmarshal(data, &entity); err != nil {
		return integration.RemoteEntity{}, err
	}
	entity.Kind = query.Kind
	return entity, nil
}

func (c *ReferenceCache) detail(ctx context.Context, query integration.CollectionQuery, obj map[string]json.RawMessage) map[string]json.RawMessage {
	var id int64
	if raw, ok := obj["id"]; !ok || json.Unmarshal(raw, &id) != nil || id == 0 {
		return obj
	}

	resp, err := c.api.Execute(ctx, integration.APIRequest{
		Method: http.MethodGet,
		Path:   query.FallbackDetailPath + strconv.FormatInt(id, 10),
	})
	if err == nil {
		var full map[string]json.RawMessage
		if err = resp.Decode(&full); err == nil {
			for k, v := range obj {
				if _, ok := full[k]; !ok {
					full[k] = v
				}
			}
			return full
		}
	}

	c.logger.Warn("Detail fetch failed, keeping partial object",
		zap.String("resource", query.Resource),
		zap.Int64("id", id),
		zap.Error(err),
	)
	return obj
}

func missingAny(obj map[string]json.RawMessage, fields []string) bool {
	for _, f := range fields {
		if _, ok := obj[f]; !ok {
			return true
		}
	}
	return false
}
