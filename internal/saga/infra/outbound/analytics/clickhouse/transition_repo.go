package clickhouse

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"

	sagaDomain "github.com/davicafu/fulfillment/internal/saga/domain"
)

const insertTransition = "INSERT INTO saga_transitions (correlation_id, from_state, to_state, trig, message_id, reason, occurred_at)"

// TransitionLogRepo guarda el histórico de transiciones de saga en ClickHouse.
type TransitionLogRepo struct {
	db *sql.DB
}

func NewTransitionLogRepo(addr string, dbName string) (*TransitionLogRepo, error) {
	conn := clickhouse.OpenDB(&clickhouse.Options{
		Addr: []string{addr},
		Auth: clickhouse.Auth{
			Database: dbName,
		},
		Settings: clickhouse.Settings{
			"max_execution_time": 60,
		},
		DialTimeout: 5 * time.Second,
	})

	if err := conn.Ping(); err != nil {
		return nil, fmt.Errorf("could not ping clickhouse: %w", err)
	}
	return &TransitionLogRepo{db: conn}, nil
}

// NewTransitionLogRepoFromDB reutiliza una conexión ya abierta.
func NewTransitionLogRepoFromDB(db *sql.DB) *TransitionLogRepo {
	return &TransitionLogRepo{db: db}
}

// LogBatch inserta el lote completo en una sola transacción.
func (r *TransitionLogRepo) LogBatch(ctx context.Context, records []sagaDomain.TransitionRecord) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx, insertTransition)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, rec := range records {
		if _, err := stmt.ExecContext(ctx,
			rec.CorrelationID.String(),
			string(rec.From),
			string(rec.To),
			string(rec.Trigger),
			rec.MessageID,
			rec.Reason,
			rec.OccurredAt,
		); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to exec statement for saga %s: %w", rec.CorrelationID, err)
		}
	}
	return tx.Commit()
}

// FailuresByReason agrupa las sagas fallidas desde 'since' por motivo.
func (r *TransitionLogRepo) FailuresByReason(ctx context.Context, since time.Time) ([]sagaDomain.FailureCount, error) {
	query := `
		SELECT reason, count() AS total
		FROM saga_transitions
		WHERE to_state = 'failed' AND occurred_at >= ?
		GROUP BY reason
		ORDER BY total DESC
	`
	rows, err := r.db.QueryContext(ctx, query, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []sagaDomain.FailureCount
	for rows.Next() {
		var fc sagaDomain.FailureCount
		if err := rows.Scan(&fc.Reason, &fc.Total); err != nil {
			return nil, err
		}
		out = append(out, fc)
	}
	return out, rows.Err()
}

// InitSchema crea la tabla si no existe. Particionada por mes, ordenada por saga.
func (r *TransitionLogRepo) InitSchema(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS saga_transitions (
			correlation_id UUID,
			from_state     LowCardinality(String),
			to_state       LowCardinality(String),
			trig           LowCardinality(String),
			message_id     String,
			reason         String,
			occurred_at    DateTime64(3)
		) ENGINE = MergeTree()
		PARTITION BY toYYYYMM(occurred_at)
		ORDER BY (correlation_id, occurred_at)
	`
	_, err := r.db.ExecContext(ctx, query)
	return err
}

func (r *TransitionLogRepo) Close() error {
	return r.db.Close()
}

// Verificación estática de la interfaz.
var _ sagaDomain.TransitionRecorder = (*TransitionLogRepo)(nil)
