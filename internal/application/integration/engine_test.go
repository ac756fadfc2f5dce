package integration

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/erp/woosync/internal/domain/integration"
)

const orderRecord = `{"customer_id": 3, "line_items": [{"product_id": 8, "quantity": 1}]}`

func inbound(stream, raw string) integration.InboundRecord {
	return integration.InboundRecord{Stream: stream, Data: json.RawMessage(raw)}
}

func newTestEngine(api integration.RemoteAPI, refs integration.ReferenceData, policy SyncPolicy) *Engine {
	return NewEngine(api, func() integration.ReferenceData { return refs }, policy, WithLogger(zapNop))
}

func TestEngine_RedeliveryIsExisting(t *testing.T) {
	api := newFakePlatform(t)
	api.on(http.MethodPost, "orders", echoID(t, 900))
	engine := newTestEngine(api, newStaticRefs(), DefaultSyncPolicy())

	first := engine.NewRun(nil)
	outcomes := first.ProcessBatch(context.Background(), []integration.InboundRecord{inbound("SalesOrders", orderRecord)})
	require.Len(t, outcomes, 1)
	assert.Equal(t, integration.OutcomeCreated, outcomes[0].Status)
	require.NotNil(t, outcomes[0].RemoteID)
	assert.Equal(t, int64(900), *outcomes[0].RemoteID)
	require.Equal(t, 1, api.callCount())

	second := engine.NewRun(first.State())
	outcomes = second.ProcessBatch(context.Background(), []integration.InboundRecord{
		inbound("salesorders", orderRecord),
		inbound("SalesOrders", `{"line_items": [{"product_id": 8, "quantity": 1}], "customer_id": "3"}`),
	})

	for _, o := range outcomes {
		assert.Equal(t, integration.OutcomeExisting, o.Status)
		require.NotNil(t, o.RemoteID)
		assert.Equal(t, int64(900), *o.RemoteID)
	}
	assert.Equal(t, 1, api.callCount(), "no remote call for an applied payload")

	state := second.State()
	assert.Len(t, state.Bookmarks[integration.StreamOrders], 1)
	assert.Equal(t, 1, state.Summary[integration.StreamOrders].Success)
	assert.Equal(t, 2, state.Summary[integration.StreamOrders].Existing)
}

func TestEngine_DuplicateWithinBatch(t *testing.T) {
	api := newFakePlatform(t)
	api.on(http.MethodPost, "orders", echoID(t, 900))
	run := newTestEngine(api, newStaticRefs(), DefaultSyncPolicy()).NewRun(nil)

	outcomes := run.ProcessBatch(context.Background(), []integration.InboundRecord{
		inbound("SalesOrders", orderRecord),
		inbound("SalesOrders", orderRecord),
	})

	assert.Equal(t, integration.OutcomeCreated, outcomes[0].Status)
	assert.Equal(t, integration.OutcomeExisting, outcomes[1].Status)
	assert.Equal(t, outcomes[0].Fingerprint, outcomes[1].Fingerprint)
	assert.Len(t, api.requests(http.MethodPost, "orders"), 1)
}

func TestEngine_RepeatedStockMovementsAllApply(t *testing.T) {
	api := newFakePlatform(t)
	api.on(http.MethodPut, "products/1", echoID(t, 1))
	refs := newStaticRefs().set("products", product(1, "SKU-1", "Widget", "simple", intPtr(10)))
	run := newTestEngine(api, refs, DefaultSyncPolicy()).NewRun(nil)

	sale := `{"sku": "SKU-1", "operation": "subtract", "quantity": 1}`
	outcomes := run.ProcessBatch(context.Background(), []integration.InboundRecord{
		inbound("UpdateInventory", sale),
		inbound("UpdateInventory", sale),
	})

	for _, o := range outcomes {
		assert.Equal(t, integration.OutcomeUpdated, o.Status)
	}
	assert.NotEqual(t, outcomes[0].Fingerprint, outcomes[1].Fingerprint)

	calls := api.requests(http.MethodPut, "products/1")
	require.Len(t, calls, 2)
	assert.JSONEq(t, `{"stock_quantity": 9, "manage_stock": true, "in_stock": true}`, bodyJSON(t, calls[0]))
	assert.JSONEq(t, `{"stock_quantity": 8, "manage_stock": true, "in_stock": true}`, bodyJSON(t, calls[1]))
	assert.Equal(t, 2, run.State().Summary[integration.StreamInventory].Updated)
}

func TestEngine_FailureDoesNotBlockRetry(t *testing.T) {
	api := newFakePlatform(t)
	api.on(http.MethodPost, "orders", func(integration.APIRequest) (*integration.APIResponse, error) {
		return nil, fmt.Errorf("%w: status 503", integration.ErrPlatformUnavailable)
	})
	engine := newTestEngine(api, newStaticRefs(), DefaultSyncPolicy())

	first := engine.NewRun(nil)
	outcomes := first.ProcessBatch(context.Background(), []integration.InboundRecord{inbound("SalesOrders", orderRecord)})
	require.Equal(t, integration.OutcomeFailed, outcomes[0].Status)
	assert.Equal(t, integration.ErrorClassRetriable, integration.ClassifyError(outcomes[0].Err))

	api.on(http.MethodPost, "orders", echoID(t, 901))
	second := engine.NewRun(first.State())
	outcomes = second.ProcessBatch(context.Background(), []integration.InboundRecord{inbound("SalesOrders", orderRecord)})
	require.Equal(t, integration.OutcomeCreated, outcomes[0].Status)

	marks := second.State().Bookmarks[integration.StreamOrders]
	require.Len(t, marks, 2)
	assert.False(t, marks[0].Success)
	assert.True(t, marks[1].Success)
	assert.Equal(t, marks[0].Fingerprint, marks[1].Fingerprint)
}

func TestEngine_RecordsThatNeverMap(t *testing.T) {
	run := newTestEngine(newFakePlatform(t), newStaticRefs(), DefaultSyncPolicy()).NewRun(nil)

	badNote := `{"order_id": 1,   "author_name": "x"}`
	outcomes := run.ProcessBatch(context.Background(), []integration.InboundRecord{
		inbound("Widgets", `{"id": 1}`),
		inbound("OrderNotes", badNote),
		inbound("UpdateInventory", `{"quantity": 1}`),
	})

	require.Len(t, outcomes, 3)
	assert.Equal(t, integration.StreamKind("Widgets"), outcomes[0].Stream)
	assert.ErrorIs(t, outcomes[0].Err, integration.ErrUnknownStream)

	assert.Equal(t, integration.StreamOrderNotes, outcomes[1].Stream)
	assert.ErrorIs(t, outcomes[1].Err, integration.ErrInvalidRecord)
	assert.Equal(t, integration.RawFingerprint(integration.StreamOrderNotes, []byte(`{"order_id":1,"author_name":"x"}`)), outcomes[1].Fingerprint)

	assert.ErrorIs(t, outcomes[2].Err, integration.ErrInvalidRecord)

	state := run.State()
	for _, o := range outcomes {
		assert.Equal(t, integration.OutcomeFailed, o.Status)
		assert.NotEmpty(t, o.Fingerprint)
		assert.Len(t, state.Bookmarks[o.Stream], 1, "every failed record leaves one bookmark")
		assert.Equal(t, 1, state.Summary[o.Stream].Fail)
	}
}

func TestEngine_OutcomesKeepInputOrder(t *testing.T) {
	api := newFakePlatform(t)
	api.on(http.MethodPost, "orders", echoID(t, 900))
	api.on(http.MethodPost, "orders/900/notes", echoID(t, 1))
	api.on(http.MethodPut, "products/1", echoID(t, 1))
	refs := newStaticRefs().set("products", product(1, "SKU-1", "Widget", "simple", intPtr(1)))
	run := newTestEngine(api, refs, SyncPolicy{MaxParallelStreams: 2}).NewRun(nil)

	records := []integration.InboundRecord{
		inbound("OrderNotes", `{"order_id": 900, "note": "first"}`),
		inbound("SalesOrders", orderRecord),
		inbound("UpdateInventory", `{"sku": "SKU-1", "quantity": 1}`),
		inbound("OrderNotes", `{"order_id": 900, "note": "second"}`),
		inbound("UpdateInventory", `{"sku": "SKU-1", "operation": "set", "quantity": 4}`),
	}
	outcomes := run.ProcessBatch(context.Background(), records)

	require.Len(t, outcomes, len(records))
	want := []integration.StreamKind{
		integration.StreamOrderNotes,
		integration.StreamOrders,
		integration.StreamInventory,
		integration.StreamOrderNotes,
		integration.StreamInventory,
	}
	for i, o := range outcomes {
		assert.Equal(t, want[i], o.Stream)
		assert.True(t, o.Succeeded(), "record %d: %v", i, o.Err)
	}

	notes := api.requests(http.MethodPost, "orders/900/notes")
	require.Len(t, notes, 2)
	assert.Contains(t, bodyJSON(t, notes[0]), "first", "records of one stream keep arrival order")
	assert.Contains(t, bodyJSON(t, notes[1]), "second")
}

func TestEngine_ErrorSampleIsCapped(t *testing.T) {
	run := newTestEngine(newFakePlatform(t), newStaticRefs(), SyncPolicy{ErrorSampleSize: 2}).NewRun(nil)

	var records []integration.InboundRecord
	for i := range 3 {
		records = append(records, inbound("OrderNotes", fmt.Sprintf(`{"note": "note %d"}`, i)))
	}
	run.ProcessBatch(context.Background(), records)

	summary := run.State().Summary[integration.StreamOrderNotes]
	assert.Equal(t, 3, summary.Fail)
	assert.Len(t, summary.Errors, 2)
	assert.Len(t, run.State().Bookmarks[integration.StreamOrderNotes], 3)
}

func TestEngine_VariationFailureFailsRecord(t *testing.T) {
	api := newFakePlatform(t)
	noExisting(api)
	api.on(http.MethodPost, "products", echoID(t, 10))

	run := newTestEngine(api, newStaticRefs(), DefaultSyncPolicy()).NewRun(nil)
	outcomes := run.ProcessBatch(context.Background(), []integration.InboundRecord{inbound("Products", `{
		"name": "Mug",
		"options": ["Color"],
		"variants": [{"sku": "MUG-S", "options": [{"name": "Size", "value": "S"}]}]
	}`)})

	require.Len(t, outcomes, 1)
	assert.Equal(t, integration.OutcomeFailed, outcomes[0].Status)
	assert.ErrorIs(t, outcomes[0].Err, integration.ErrVariationFailed)
	require.NotNil(t, outcomes[0].RemoteID)
	assert.Equal(t, int64(10), *outcomes[0].RemoteID)

	_, applied := run.tracker.AlreadyApplied(integration.StreamProducts, outcomes[0].Fingerprint)
	assert.False(t, applied, "the record is retried by the next run")
}

func TestEngine_CanceledContext(t *testing.T) {
	api := newFakePlatform(t)
	run := newTestEngine(api, newStaticRefs(), DefaultSyncPolicy()).NewRun(nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	outcomes := run.ProcessBatch(ctx, []integration.InboundRecord{inbound("SalesOrders", orderRecord)})

	assert.Equal(t, integration.OutcomeFailed, outcomes[0].Status)
	assert.ErrorIs(t, outcomes[0].Err, context.Canceled)
	assert.Zero(t, api.callCount())
}

func TestEngine_SinksOwnTheirReferences(t *testing.T) {
	var created int
	engine := NewEngine(newFakePlatform(t), func() integration.ReferenceData {
		created++
		return newStaticRefs()
	}, DefaultSyncPolicy())
	run := engine.NewRun(nil)

	run.ProcessBatch(context.Background(), []integration.InboundRecord{
		inbound("OrderNotes", `{"note": "a"}`),
		inbound("OrderNotes", `{"note": "b"}`),
	})
	run.ProcessBatch(context.Background(), []integration.InboundRecord{
		inbound("UpdateInventory", `{"sku": "X", "quantity": 1}`),
	})

	assert.Equal(t, 2, created, "one reference cache per stream per run")
}

func TestEngine_LogsCarryRunAndStream(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	api := newFakePlatform(t)
	api.on(http.MethodPost, "orders", echoID(t, 900))
	engine := NewEngine(api, func() integration.ReferenceData { return newStaticRefs() }, DefaultSyncPolicy(), WithLogger(zap.New(core)))
	run := engine.NewRun(nil)

	run.ProcessBatch(context.Background(), []integration.InboundRecord{
		inbound("SalesOrders", orderRecord),
		inbound("Widgets", `{}`),
	})

	processed := logs.FilterMessage("Record processed").All()
	require.Len(t, processed, 1)
	fields := processed[0].ContextMap()
	assert.Equal(t, run.ID.String(), fields["run_id"])
	assert.Equal(t, "SalesOrders", fields["stream"])
	assert.Equal(t, "created", fields["status"])
	assert.Equal(t, int64(900), fields["remote_id"])

	failures := logs.FilterMessage("Failed to process record").All()
	require.Len(t, failures, 1)
	assert.Equal(t, zapcore.ErrorLevel, failures[0].Level)
	assert.Equal(t, "Widgets", failures[0].ContextMap()["stream"])
	assert.Equal(t, "FATAL_INPUT", failures[0].ContextMap()["class"])
}
