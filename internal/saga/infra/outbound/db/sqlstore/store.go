package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	orderDomain "github.com/davicafu/fulfillment/internal/order/domain"
	sagaDomain "github.com/davicafu/fulfillment/internal/saga/domain"
	sharedDomain "github.com/davicafu/fulfillment/internal/shared/domain"
	sharedUtils "github.com/davicafu/fulfillment/internal/shared/infra/utils"
)

type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

// Store implementa sagaDomain.Store y sharedDomain.OutboxRepository sobre database/sql.
type Store struct {
	db      *sql.DB
	dialect Dialect
}

func New(db *sql.DB, dialect Dialect) *Store {
	return &Store{db: db, dialect: dialect}
}

// querier lo cumplen *sql.DB y *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// bind adapta los placeholders '?' al dialecto ($1, $2... en Postgres).
func (s *Store) bind(query string) string {
	if s.dialect != DialectPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// WithinTx abre una transacción, ejecuta fn y confirma; cualquier error hace rollback.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx sagaDomain.Tx) error) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = fn(ctx, &sqlTx{tx: tx, store: s}); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// ------------------ Lecturas fuera de transacción ------------------

func (s *Store) GetSaga(ctx context.Context, id uuid.UUID) (*sagaDomain.Saga, error) {
	return s.selectSaga(ctx, s.db, id, false)
}

func (s *Store) GetOrder(ctx context.Context, id uuid.UUID) (*orderDomain.Order, error) {
	return s.selectOrder(ctx, s.db, id)
}

func (s *Store) ListExpired(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error) {
	rows, err := s.db.QueryContext(ctx, s.bind(queryListExpired),
		string(sagaDomain.StateCompleted), string(sagaDomain.StateFailed), now.UnixMilli(), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list expired sagas: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		id, err := uuid.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid UUID in saga row: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ------------------ Outbox ------------------

func (s *Store) FetchPendingOutbox(ctx context.Context, limit int) ([]sharedDomain.OutboxMessage, error) {
	rows, err := s.db.QueryContext(ctx, s.bind(queryFetchPendingOutbox), time.Now().UnixMilli(), limit)
	if err != nil {
		return nil, fmt.Errorf("fetch pending outbox: %w", err)
	}
	defer rows.Close()

	var msgs []sharedDomain.OutboxMessage
	for rows.Next() {
		var (
			m       sharedDomain.OutboxMessage
			idStr   string
			payload []byte
		)
		if err := rows.Scan(&m.Seq, &idStr, &m.AggregateID, &m.EventType, &payload, &m.CreatedAt, &m.Attempts); err != nil {
			return nil, err
		}
		if m.ID, err = uuid.Parse(idStr); err != nil {
			return nil, fmt.Errorf("invalid UUID in outbox row: %w", err)
		}
		m.Payload = payload
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

func (s *Store) MarkOutboxPublished(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, s.bind(queryMarkOutboxPublished), time.Now().UTC(), id.String())
	if err != nil {
		return fmt.Errorf("failed to mark outbox message %s as published: %w", id, err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get RowsAffected for outbox message %s: %w", id, err)
	}
	if rows == 0 {
		// Retirado por una saga fallida mientras se publicaba: ya no hay nada que marcar
		var superseded bool
		err := s.db.QueryRowContext(ctx, s.bind(querySelectSuperseded), id.String()).Scan(&superseded)
		if err == nil && superseded {
			return nil
		}
		return fmt.Errorf("no pending outbox message with id %s", id)
	}
	return nil
}

// DeferOutbox aplaza el mensaje (y con él el resto de su agregado) hasta 'until'.
func (s *Store) DeferOutbox(ctx context.Context, id uuid.UUID, until time.Time) error {
	res, err := s.db.ExecContext(ctx, s.bind(queryDeferOutbox), until.UnixMilli(), id.String())
	if err != nil {
		return fmt.Errorf("failed to defer outbox message %s: %w", id, err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get RowsAffected for outbox message %s: %w", id, err)
	}
	if rows == 0 {
		return fmt.Errorf("no pending outbox message with id %s", id)
	}
	return nil
}

func (s *Store) DeletePublishedBefore(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, s.bind(queryDeletePublished), before.UTC())
	if err != nil {
		return 0, fmt.Errorf("delete published outbox: %w", err)
	}
	return res.RowsAffected()
}

// ------------------ Helpers de lectura ------------------

func (s *Store) selectSaga(ctx context.Context, q querier, id uuid.UUID, forUpdate bool) (*sagaDomain.Saga, error) {
	query := querySelectSaga + sharedUtils.Ternary(forUpdate && s.dialect == DialectPostgres, " FOR UPDATE", "")

	var (
		sg         sagaDomain.Saga
		idStr      string
		state      string
		steps      []byte
		deadlineMs int64
	)
	err := q.QueryRowContext(ctx, s.bind(query), id.String()).Scan(
		&idStr, &state, &steps, &sg.FailureReason, &sg.CreatedAt, &sg.UpdatedAt, &deadlineMs, &sg.Version,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", sagaDomain.ErrSagaNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("select saga %s: %w", id, err)
	}

	if sg.CorrelationID, err = uuid.Parse(idStr); err != nil {
		return nil, fmt.Errorf("invalid UUID in saga row: %w", err)
	}
	if err := json.Unmarshal(steps, &sg.Steps); err != nil {
		return nil, fmt.Errorf("invalid steps JSON in saga %s: %w", id, err)
	}
	sg.State = sagaDomain.State(state)
	sg.DeadlineAt = time.UnixMilli(deadlineMs).UTC()
	sg.CreatedAt = sg.CreatedAt.UTC()
	sg.UpdatedAt = sg.UpdatedAt.UTC()
	return &sg, nil
}

func (s *Store) selectOrder(ctx context.Context, q querier, id uuid.UUID) (*orderDomain.Order, error) {
	var (
		o      orderDomain.Order
		idStr  string
		status string
		lines  []byte
	)
	err := q.QueryRowContext(ctx, s.bind(querySelectOrder), id.String()).Scan(
		&idStr, &o.CustomerID, &status, &o.Total, &lines, &o.TrackingRef, &o.CancelReason, &o.CreatedAt, &o.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", orderDomain.ErrOrderNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("select order %s: %w", id, err)
	}

	if o.ID, err = uuid.Parse(idStr); err != nil {
		return nil, fmt.Errorf("invalid UUID in order row: %w", err)
	}
	if err := json.Unmarshal(lines, &o.Lines); err != nil {
		return nil, fmt.Errorf("invalid lines JSON in order %s: %w", id, err)
	}
	o.Status = orderDomain.OrderStatus(status)
	o.CreatedAt = o.CreatedAt.UTC()
	o.UpdatedAt = o.UpdatedAt.UTC()
	return &o, nil
}

// Verificación en tiempo de compilación.
var (
	_ sagaDomain.Store              = (*Store)(nil)
	_ sharedDomain.OutboxRepository = (*Store)(nil)
)
