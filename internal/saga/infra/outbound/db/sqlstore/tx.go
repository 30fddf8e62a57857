package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	orderDomain "github.com/davicafu/fulfillment/internal/order/domain"
	sagaDomain "github.com/davicafu/fulfillment/internal/saga/domain"
	sharedDomain "github.com/davicafu/fulfillment/internal/shared/domain"
	sharedEvents "github.com/davicafu/fulfillment/internal/shared/events"
)

// sqlTx implementa sagaDomain.Tx sobre una *sql.Tx abierta.
type sqlTx struct {
	tx    *sql.Tx
	store *Store
}

func (t *sqlTx) TryMarkProcessed(ctx context.Context, messageID string) (bool, error) {
	res, err := t.tx.ExecContext(ctx, t.store.bind(queryInsertInbox), messageID, time.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("insert inbox record %s: %w", messageID, err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get RowsAffected for inbox record %s: %w", messageID, err)
	}
	return rows == 1, nil
}

func (t *sqlTx) AppendOutbox(ctx context.Context, msgs ...sharedDomain.OutboxMessage) error {
	for _, m := range msgs {
		if _, err := t.tx.ExecContext(ctx, t.store.bind(queryInsertOutbox),
			m.ID.String(), m.AggregateID, m.EventType, string(m.Payload), m.CreatedAt.UTC(),
		); err != nil {
			return fmt.Errorf("failed to insert outbox message %s: %w", m.EventType, err)
		}
	}
	return nil
}

// SupersedePending marca como publicados, sin enviarlos, los mensajes pendientes
// del agregado con alguno de esos tipos.
func (t *sqlTx) SupersedePending(ctx context.Context, aggregateID string, eventTypes ...string) (int64, error) {
	if len(eventTypes) == 0 {
		return 0, nil
	}
	args := []interface{}{time.Now().UTC(), true, aggregateID}
	for _, et := range eventTypes {
		args = append(args, et)
	}
	res, err := t.tx.ExecContext(ctx, t.store.bind(supersedePendingQuery(len(eventTypes))), args...)
	if err != nil {
		return 0, fmt.Errorf("supersede pending outbox for %s: %w", aggregateID, err)
	}
	return res.RowsAffected()
}

func supersedePendingQuery(n int) string {
	return fmt.Sprintf(querySupersedePending, strings.TrimSuffix(strings.Repeat("?, ", n), ", "))
}

// ------------------ Pedidos ------------------

func (t *sqlTx) CreateOrder(ctx context.Context, o *orderDomain.Order) error {
	lines, err := json.Marshal(o.Lines)
	if err != nil {
		return fmt.Errorf("marshal order lines: %w", err)
	}
	if _, err := t.tx.ExecContext(ctx, t.store.bind(queryInsertOrder),
		o.ID.String(), o.CustomerID, string(o.Status), o.Total.String(), string(lines),
		o.TrackingRef, o.CancelReason, o.CreatedAt.UTC(), o.UpdatedAt.UTC(),
	); err != nil {
		return fmt.Errorf("insert order %s: %w", o.ID, err)
	}
	return t.flushEvents(ctx, o)
}

func (t *sqlTx) GetOrder(ctx context.Context, id uuid.UUID) (*orderDomain.Order, error) {
	return t.store.selectOrder(ctx, t.tx, id)
}

func (t *sqlTx) UpdateOrder(ctx context.Context, o *orderDomain.Order) error {
	lines, err := json.Marshal(o.Lines)
	if err != nil {
		return fmt.Errorf("marshal order lines: %w", err)
	}
	res, err := t.tx.ExecContext(ctx, t.store.bind(queryUpdateOrder),
		string(o.Status), o.Total.String(), string(lines), o.TrackingRef, o.CancelReason, o.UpdatedAt.UTC(), o.ID.String(),
	)
	if err != nil {
		return fmt.Errorf("update order %s: %w", o.ID, err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return fmt.Errorf("%w: %s", orderDomain.ErrOrderNotFound, o.ID)
	}
	return t.flushEvents(ctx, o)
}

// flushEvents vuelca los eventos pendientes del pedido al outbox en la misma transacción.
func (t *sqlTx) flushEvents(ctx context.Context, o *orderDomain.Order) error {
	pending := o.PendingEvents()
	if len(pending) == 0 {
		return nil
	}
	msgs := make([]sharedDomain.OutboxMessage, 0, len(pending))
	for _, evt := range pending {
		env, err := sharedEvents.NewEnvelope(o.ID.String(), evt.Type, evt.Data, evt.OccurredAt)
		if err != nil {
			return err
		}
		msg, err := sharedEvents.ToOutboxMessage(env)
		if err != nil {
			return err
		}
		msgs = append(msgs, msg)
	}
	if err := t.AppendOutbox(ctx, msgs...); err != nil {
		return err
	}
	o.ClearEvents()
	return nil
}

// ------------------ Sagas ------------------

func (t *sqlTx) CreateSaga(ctx context.Context, s *sagaDomain.Saga) error {
	steps, err := json.Marshal(s.Steps)
	if err != nil {
		return fmt.Errorf("marshal saga steps: %w", err)
	}
	if _, err := t.tx.ExecContext(ctx, t.store.bind(queryInsertSaga),
		s.CorrelationID.String(), string(s.State), string(steps), s.FailureReason,
		s.CreatedAt.UTC(), s.UpdatedAt.UTC(), s.DeadlineAt.UnixMilli(), s.Version,
	); err != nil {
		return fmt.Errorf("insert saga %s: %w", s.CorrelationID, err)
	}
	return nil
}

func (t *sqlTx) GetSagaForUpdate(ctx context.Context, id uuid.UUID) (*sagaDomain.Saga, error) {
	return t.store.selectSaga(ctx, t.tx, id, true)
}

func (t *sqlTx) UpdateSaga(ctx context.Context, s *sagaDomain.Saga) error {
	steps, err := json.Marshal(s.Steps)
	if err != nil {
		return fmt.Errorf("marshal saga steps: %w", err)
	}
	res, err := t.tx.ExecContext(ctx, t.store.bind(queryUpdateSaga),
		string(s.State), string(steps), s.FailureReason, s.UpdatedAt.UTC(), s.CorrelationID.String(), s.Version,
	)
	if err != nil {
		return fmt.Errorf("update saga %s: %w", s.CorrelationID, err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get RowsAffected for saga %s: %w", s.CorrelationID, err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: %s at version %d", sagaDomain.ErrVersionConflict, s.CorrelationID, s.Version)
	}
	s.Version++
	return nil
}

var _ sagaDomain.Tx = (*sqlTx)(nil)
