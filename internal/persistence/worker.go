package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"TickVault/internal/core"
	"TickVault/internal/observability"

	"github.com/rs/zerolog"
)

// Worker drains the engine's persist channel and batch-writes the event
// log. The engine sends blocking, so when the worker falls behind the
// engine stalls rather than losing events.
type Worker struct {
	db     *sql.DB
	writer *EventWriter
	hasher *StateHasher
	input  <-chan core.Output

	batchSize    int
	flushTimeout time.Duration

	logger  zerolog.Logger
	metrics *observability.Metrics
}

func NewWorker(
	db *sql.DB,
	input <-chan core.Output,
	hasher *StateHasher,
	batchSize int,
	flushTimeout time.Duration,
	metrics *observability.Metrics,
) *Worker {
	return &Worker{
		db:           db,
		writer:       NewEventWriter(db),
		hasher:       hasher,
		input:        input,
		batchSize:    batchSize,
		flushTimeout: flushTimeout,
		logger:       observability.NewLogger("persistence"),
		metrics:      metrics,
	}
}

// ChainTip returns the current hash-chain tip (for snapshots).
func (w *Worker) ChainTip() [32]byte {
	return w.hasher.PrevHash()
}

// Run batches incoming outputs and flushes when the batch fills or the
// flush timeout fires. Blocks until ctx is cancelled or the channel closes;
// both paths flush what remains first.
func (w *Worker) Run(ctx context.Context) error {
	batch := make([]EventRow, 0, w.batchSize)

	timer := time.NewTimer(w.flushTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			if len(batch) > 0 {
				if err := w.flush(context.Background(), batch); err != nil {
					w.logger.Error().Err(err).Int("events", len(batch)).Msg("final flush failed")
				}
			}
			return ctx.Err()

		case out, ok := <-w.input:
			if !ok {
				if len(batch) > 0 {
					if err := w.flush(context.Background(), batch); err != nil {
						w.logger.Error().Err(err).Int("events", len(batch)).Msg("final flush failed")
					}
				}
				return nil
			}

			row, err := w.toRow(out)
			if err != nil {
				// A payload that cannot be marshalled is a programming
				// error; the row is written with an empty payload so the
				// sequence stays gap-free.
				w.logger.Error().Err(err).Int64("sequence", out.Envelope.Sequence).Msg("marshal event payload")
				if w.metrics != nil {
					w.metrics.PersistErrors.WithLabelValues("marshal").Inc()
				}
			}
			batch = append(batch, row)

			if len(batch) >= w.batchSize {
				w.flushWithRetry(ctx, batch)
				batch = batch[:0]
				timer.Reset(w.flushTimeout)
			}

		case <-timer.C:
			if len(batch) > 0 {
				w.flushWithRetry(ctx, batch)
				batch = batch[:0]
			}
			timer.Reset(w.flushTimeout)
		}
	}
}

func (w *Worker) toRow(out core.Output) (EventRow, error) {
	env := out.Envelope

	payload, err := json.Marshal(env.Payload)
	if err != nil {
		payload = []byte("{}")
	}

	prev := w.hasher.PrevHash()
	hash := w.hasher.ComputeHash(env.Sequence, payload)

	return EventRow{
		Sequence:  env.Sequence,
		Kind:      int32(env.Kind),
		KindName:  env.KindName,
		Payload:   payload,
		StateHash: hash[:],
		PrevHash:  prev[:],
		Timestamp: env.Timestamp,
	}, err
}

// flushWithRetry retries with exponential backoff until the write succeeds
// or the context is cancelled. The worker never drops a batch: on
// cancellation it makes one last attempt with a background context.
func (w *Worker) flushWithRetry(ctx context.Context, batch []EventRow) {
	backoff := 100 * time.Millisecond
	const maxBackoff = 30 * time.Second

	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			w.logger.Warn().
				Int("attempt", attempt).
				Dur("backoff", backoff).
				Int("events", len(batch)).
				Msg("persistence retry")
			select {
			case <-ctx.Done():
				if err := w.flush(context.Background(), batch); err != nil {
					w.logger.Error().Err(err).Msg("final flush on shutdown failed")
				}
				return
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		}

		if err := w.flush(ctx, batch); err == nil {
			if attempt > 0 {
				w.logger.Info().Int("attempts", attempt).Msg("persistence flush recovered")
			}
			return
		} else if w.metrics != nil {
			w.metrics.PersistErrors.WithLabelValues("retry").Inc()
		}
	}
}

func (w *Worker) flush(ctx context.Context, batch []EventRow) error {
	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		if w.metrics != nil {
			w.metrics.PersistErrors.WithLabelValues("tx_begin").Inc()
		}
		return err
	}
	defer tx.Rollback()

	if err := w.writer.WriteBatch(ctx, tx, batch); err != nil {
		if w.metrics != nil {
			w.metrics.PersistErrors.WithLabelValues("write_events").Inc()
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		if w.metrics != nil {
			w.metrics.PersistErrors.WithLabelValues("tx_commit").Inc()
		}
		return err
	}

	if w.metrics != nil {
		w.metrics.PersistEventsWritten.Add(float64(len(batch)))
		w.metrics.PersistLastSequence.Set(float64(batch[len(batch)-1].Sequence))
	}
	return nil
}
