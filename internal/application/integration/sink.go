package integration

import (
	"context"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/erp/woosync/internal/domain/integration"
)

// Applied is the result of a successful write.
type Applied struct {
	RemoteID int64
	// Updated is true when the write targeted an existing entity
	Updated bool
}

// Plan is a mapped record ready to be written.
type Plan struct {
	// Payload is what the record is fingerprinted over
	Payload any
	// Apply performs the write
	Apply func(ctx context.Context) (Applied, error)
}

// Sink maps and writes the records of one stream. A sink lives for a whole
// run and owns that stream's reference data.
type Sink interface {
	Stream() integration.StreamKind
	Prepare(ctx context.Context, rec integration.UnifiedRecord) (*Plan, error)
}

// sinkDeps are shared by every sink of a run
type sinkDeps struct {
	api      integration.RemoteAPI
	resolver *EntityResolver
	policy   SyncPolicy
	logger   *zap.Logger
}

// newSink builds the sink for kind
func newSink(kind integration.StreamKind, deps sinkDeps) (Sink, error) {
	switch kind {
	case integration.StreamProducts:
		return &ProductSink{sinkDeps: deps, mapper: NewCatalogMapper(deps.resolver, deps.policy, deps.logger)}, nil
	case integration.StreamVariants:
		return &VariantSink{sinkDeps: deps}, nil
	case integration.StreamInventory:
		return &InventorySink{sinkDeps: deps, known: make(map[string]int)}, nil
	case integration.StreamOrders:
		return &OrderSink{sinkDeps: deps, mapper: NewOrderMapper(deps.resolver, deps.logger)}, nil
	case integration.StreamOrderNotes:
		return &OrderNoteSink{sinkDeps: deps}, nil
	default:
		return nil, fmt.Errorf("%w: %q", integration.ErrUnknownStream, kind)
	}
}

// write sends body with PUT to updatePath when id is set, otherwise with
// POST to createPath, and decodes the returned entity.
func write(ctx context.Context, api integration.RemoteAPI, id int64, updatePath, createPath string, body any) (integration.RemoteEntity, Applied, error) {
	req := integration.APIRequest{Method: http.MethodPost, Path: createPath, Body: body}
	if id != 0 {
		req = integration.APIRequest{Method: http.MethodPut, Path: updatePath, Body: body}
	}

	resp, err := api.Execute(ctx, req)
	if err != nil {
		return integration.RemoteEntity{}, Applied{}, err
	}
	var entity integration.RemoteEntity
	if err := resp.Decode(&entity); err != nil {
		return integration.RemoteEntity{}, Applied{}, err
	}
	if entity.ID == 0 {
		entity.ID = id
	}
	return entity, Applied{RemoteID: entity.ID, Updated: id != 0}, nil
}

// recordID parses an optional platform id carried by a record
func recordID(id integration.ExternalID, field string) (int64, error) {
	if id.IsZero() {
		return 0, nil
	}
	n, ok := id.Int64()
	if !ok {
		return 0, fmt.Errorf("%w: %s %q is not a platform id", integration.ErrInvalidRecord, field, id)
	}
	return n, nil
}
