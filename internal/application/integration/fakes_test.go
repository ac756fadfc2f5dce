package integration

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/erp/woosync/internal/domain/integration"
)

// ---------------------------------------------------------------------------
// fakePlatform is an in-memory RemoteAPI routed by "METHOD path"
// ---------------------------------------------------------------------------

type routeHandler func(req integration.APIRequest) (*integration.APIResponse, error)

type fakePlatform struct {
	t      *testing.T
	mu     sync.Mutex
	routes map[string]routeHandler
	calls  []integration.APIRequest
}

func newFakePlatform(t *testing.T) *fakePlatform {
	return &fakePlatform{t: t, routes: make(map[string]routeHandler)}
}

func (f *fakePlatform) on(method, path string, h routeHandler) {
	f.routes[method+" "+path] = h
}

func (f *fakePlatform) onJSON(method, path string, body any) {
	f.on(method, path, func(integration.APIRequest) (*integration.APIResponse, error) {
		return jsonResponse(f.t, body), nil
	})
}

func (f *fakePlatform) Execute(_ context.Context, req integration.APIRequest) (*integration.APIResponse, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	h, ok := f.routes[req.Method+" "+req.Path]
	f.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: no route for %s", integration.ErrPlatformRequestFailed, req)
	}
	return h(req)
}

func (f *fakePlatform) requests(method, path string) []integration.APIRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []integration.APIRequest
	for _, c := range f.calls {
		if c.Method == method && c.Path == path {
			out = append(out, c)
		}
	}
	return out
}

func (f *fakePlatform) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func jsonResponse(t *testing.T, body any) *integration.APIResponse {
	data, err := json.Marshal(body)
	require.NoError(t, err)
	return &integration.APIResponse{StatusCode: http.StatusOK, Header: http.Header{}, Body: data}
}

// bodyJSON re-encodes a request body for comparison with assert.JSONEq
func bodyJSON(t *testing.T, req integration.APIRequest) string {
	data, err := json.Marshal(req.Body)
	require.NoError(t, err)
	return string(data)
}

// echoID answers writes with the given id and the request body merged in
func echoID(t *testing.T, id int64) routeHandler {
	return func(req integration.APIRequest) (*integration.APIResponse, error) {
		out := map[string]any{}
		data, err := json.Marshal(req.Body)
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(data, &out))
		out["id"] = id
		return jsonResponse(t, out), nil
	}
}

// ---------------------------------------------------------------------------
// staticRefs is an in-memory ReferenceData keyed by CacheKey
// ---------------------------------------------------------------------------

type staticRefs struct {
	mu          sync.Mutex
	collections map[string][]integration.RemoteEntity
	reads       map[string]int
	invalidated []string
}

func newStaticRefs() *staticRefs {
	return &staticRefs{
		collections: make(map[string][]integration.RemoteEntity),
		reads:       make(map[string]int),
	}
}

func (s *staticRefs) set(key string, items ...integration.RemoteEntity) *staticRefs {
	s.collections[key] = items
	return s
}

func (s *staticRefs) Collection(_ context.Context, q integration.CollectionQuery) *integration.Collection {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := q.CacheKey()
	s.reads[key]++
	return &integration.Collection{Resource: q.Resource, Items: append([]integration.RemoteEntity(nil), s.collections[key]...), Pages: 1}
}

func (s *staticRefs) Invalidate(resource string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.invalidated = append(s.invalidated, resource)
}

// ---------------------------------------------------------------------------
// MockReferenceData
// ---------------------------------------------------------------------------

// MockReferenceData is a mock implementation of ReferenceData
type MockReferenceData struct {
	mock.Mock
}

func (m *MockReferenceData) Collection(ctx context.Context, q integration.CollectionQuery) *integration.Collection {
	args := m.Called(ctx, q)
	return args.Get(0).(*integration.Collection)
}

func (m *MockReferenceData) Invalidate(resource string) {
	m.Called(resource)
}

func forResource(name string) any {
	return mock.MatchedBy(func(q integration.CollectionQuery) bool {
		return q.Resource == name && len(q.Filter) == 0
	})
}

// ---------------------------------------------------------------------------
// Entity builders
// ---------------------------------------------------------------------------

var zapNop = zap.NewNop()

func intPtr(n int) *int { return &n }

func product(id int64, sku, name, typ string, stock *int) integration.RemoteEntity {
	return integration.RemoteEntity{Kind: integration.RemoteKindProduct, ID: id, SKU: sku, Name: name, Type: typ, StockQuantity: stock}
}

func variation(id int64, sku, name string, stock *int) integration.RemoteEntity {
	return integration.RemoteEntity{Kind: integration.RemoteKindVariation, ID: id, SKU: sku, Name: name, StockQuantity: stock}
}

func testDeps(api integration.RemoteAPI, refs integration.ReferenceData, policy SyncPolicy) sinkDeps {
	return sinkDeps{
		api:      api,
		resolver: NewEntityResolver(refs, api, nil),
		policy:   policy.withDefaults(),
		logger:   zapNop,
	}
}

// decode builds a unified record from JSON the way the engine does
func decode(t *testing.T, kind integration.StreamKind, raw string) integration.UnifiedRecord {
	t.Helper()
	rec, err := integration.DecodeRecord(kind, json.RawMessage(raw))
	require.NoError(t, err)
	return rec
}

// prepare maps rec with a fresh sink of its stream
func prepare(t *testing.T, deps sinkDeps, rec integration.UnifiedRecord) (Sink, *Plan) {
	t.Helper()
	sink, err := newSink(rec.StreamKind(), deps)
	require.NoError(t, err)
	plan, err := sink.Prepare(context.Background(), rec)
	require.NoError(t, err)
	return sink, plan
}
