package sqlstore

const (
	queryInsertInbox = `INSERT INTO inbox_records (message_id, processed_at) VALUES (?, ?)
		ON CONFLICT (message_id) DO NOTHING`

	queryInsertOutbox = `INSERT INTO outbox_messages (id, aggregate_id, event_type, payload, created_at)
		VALUES (?, ?, ?, ?, ?)`

	// Un agregado cuya cabeza está aplazada no aporta ninguna fila: ni la cabeza
	// ni las posteriores, para no adelantarlas.
	queryFetchPendingOutbox = `SELECT o.seq, o.id, o.aggregate_id, o.event_type, o.payload, o.created_at, o.attempts
		FROM outbox_messages o
		WHERE o.published_at IS NULL
		AND NOT EXISTS (
			SELECT 1 FROM outbox_messages p
			WHERE p.aggregate_id = o.aggregate_id
			AND p.published_at IS NULL
			AND p.seq <= o.seq
			AND p.next_attempt_ms > ?
		)
		ORDER BY o.seq
		LIMIT ?`

	queryMarkOutboxPublished = `UPDATE outbox_messages SET published_at = ? WHERE id = ? AND published_at IS NULL`

	querySelectSuperseded = `SELECT superseded FROM outbox_messages WHERE id = ?`

	queryDeferOutbox = `UPDATE outbox_messages SET attempts = attempts + 1, next_attempt_ms = ?
		WHERE id = ? AND published_at IS NULL`

	// El IN (...) se completa con un marcador por tipo en supersedePendingQuery.
	querySupersedePending = `UPDATE outbox_messages SET published_at = ?, superseded = ?
		WHERE aggregate_id = ? AND published_at IS NULL AND event_type IN (%s)`

	queryDeletePublished = `DELETE FROM outbox_messages WHERE published_at IS NOT NULL AND published_at < ?`

	queryInsertOrder = `INSERT INTO orders (id, customer_id, status, total, lines, tracking_ref, cancel_reason, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	queryUpdateOrder = `UPDATE orders SET status = ?, total = ?, lines = ?, tracking_ref = ?, cancel_reason = ?, updated_at = ?
		WHERE id = ?`

	querySelectOrder = `SELECT id, customer_id, status, total, lines, tracking_ref, cancel_reason, created_at, updated_at
		FROM orders WHERE id = ?`

	queryInsertSaga = `INSERT INTO saga_instances (correlation_id, state, steps, failure_reason, created_at, updated_at, deadline_ms, version)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	queryUpdateSaga = `UPDATE saga_instances SET state = ?, steps = ?, failure_reason = ?, updated_at = ?, version = version + 1
		WHERE correlation_id = ? AND version = ?`

	querySelectSaga = `SELECT correlation_id, state, steps, failure_reason, created_at, updated_at, deadline_ms, version
		FROM saga_instances WHERE correlation_id = ?`

	queryListExpired = `SELECT correlation_id FROM saga_instances
		WHERE state NOT IN (?, ?) AND deadline_ms <= ?
		ORDER BY deadline_ms
		LIMIT ?`
)
