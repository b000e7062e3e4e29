// Package persistence owns the Postgres event log and snapshot store: the
// batch writer drained from the engine's persist channel, the hash chain
// over the log, and the snapshot round-trip used for restarts.
package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// EventRow is one row of tickvault.events.
type EventRow struct {
	Sequence  int64
	Kind      int32
	KindName  string
	Payload   []byte // JSON-encoded envelope payload
	StateHash []byte
	PrevHash  []byte
	Timestamp int64
}

// EventWriter batch-inserts event rows. Inserts are idempotent on the
// sequence column so a replayed batch after a crash is harmless.
type EventWriter struct {
	db *sql.DB
}

func NewEventWriter(db *sql.DB) *EventWriter {
	return &EventWriter{db: db}
}

// WriteBatch writes rows with a single multi-row INSERT inside the given
// transaction.
func (w *EventWriter) WriteBatch(ctx context.Context, tx *sql.Tx, rows []EventRow) error {
	if len(rows) == 0 {
		return nil
	}

	query := `INSERT INTO tickvault.events
		(sequence, kind, kind_name, payload, state_hash, prev_hash, timestamp)
		VALUES `

	values := make([]string, 0, len(rows))
	args := make([]interface{}, 0, len(rows)*7)

	for i, r := range rows {
		base := i * 7
		values = append(values, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7,
		))
		args = append(args,
			r.Sequence, r.Kind, r.KindName, r.Payload,
			r.StateHash, r.PrevHash, r.Timestamp,
		)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (sequence) DO NOTHING"

	_, err := tx.ExecContext(ctx, query, args...)
	return err
}

// LatestSequence returns the highest sequence in the event log, or -1 when
// the log is empty.
func (w *EventWriter) LatestSequence(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	err := w.db.QueryRowContext(ctx,
		`SELECT MAX(sequence) FROM tickvault.events`,
	).Scan(&seq)
	if err != nil {
		return 0, err
	}
	if !seq.Valid {
		return -1, nil
	}
	return seq.Int64, nil
}

// LatestHash returns the chain tip: the state_hash of the highest-sequence
// event. Nil when the log is empty.
func (w *EventWriter) LatestHash(ctx context.Context) ([]byte, error) {
	var hash []byte
	err := w.db.QueryRowContext(ctx, `
		SELECT state_hash FROM tickvault.events
		ORDER BY sequence DESC
		LIMIT 1
	`).Scan(&hash)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return hash, nil
}

// LoadEventsFrom reads events at or after a sequence, in order. Used by
// restart verification and by consumers rebuilding a projection.
func (w *EventWriter) LoadEventsFrom(ctx context.Context, fromSequence int64, limit int) ([]EventRow, error) {
	rows, err := w.db.QueryContext(ctx, `
		SELECT sequence, kind, kind_name, payload, state_hash, prev_hash, timestamp
		FROM tickvault.events
		WHERE sequence >= $1
		ORDER BY sequence ASC
		LIMIT $2
	`, fromSequence, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []EventRow
	for rows.Next() {
		var r EventRow
		if err := rows.Scan(
			&r.Sequence, &r.Kind, &r.KindName, &r.Payload,
			&r.StateHash, &r.PrevHash, &r.Timestamp,
		); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
