package integration

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/erp/woosync/internal/domain/integration"
)

// OrderNoteSink appends notes to existing orders. Notes have no update path.
type OrderNoteSink struct {
	sinkDeps
}

// Stream implements Sink
func (s *OrderNoteSink) Stream() integration.StreamKind { return integration.StreamOrderNotes }

// Prepare implements Sink
func (s *OrderNoteSink) Prepare(_ context.Context, rec integration.UnifiedRecord) (*Plan, error) {
	note, ok := rec.(*integration.OrderNote)
	if !ok {
		return nil, fmt.Errorf("%w: expected an order note, got %T", integration.ErrInvalidRecord, rec)
	}

	orderID, err := recordID(note.OrderID, "order_id")
	if err != nil {
		return nil, err
	}
	if orderID == 0 {
		return nil, fmt.Errorf("%w: no order_id provided", integration.ErrMissingReference)
	}

	payload := NotePayload{
		OrderID:      orderID,
		Author:       note.AuthorName,
		Note:         note.Note,
		CustomerNote: note.CustomerNote,
	}
	if note.CreatedAt != nil && !note.CreatedAt.IsZero() {
		payload.DateCreated = note.CreatedAt.Format(integration.PlatformTimeLayout)
	}

	return &Plan{
		Payload: payload,
		Apply: func(ctx context.Context) (Applied, error) {
			path := fmt.Sprintf("orders/%d/notes", orderID)
			created, applied, err := write(ctx, s.api, 0, "", path, payload)
			if err != nil {
				return Applied{}, err
			}
			s.logger.Info("Order note added", zap.Int64("id", created.ID), zap.Int64("order_id", orderID))
			return applied, nil
		},
	}, nil
}
