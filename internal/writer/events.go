package writer

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/statusdeck/streamgate/internal/model"
)

// EventWriter consumes routed events from its queue and writes them to the
// events table in batches.
type EventWriter struct {
	cfg    WriterConfig
	logger *slog.Logger

	// Input from the gateway dispatch path
	queue *Buffer[model.Event]

	// Database
	db *pgxpool.Pool

	// Batching
	batch       []eventRow
	batchMu     sync.Mutex
	flushTicker *time.Ticker

	// Lifecycle
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// Metrics
	metrics WriterMetrics
}

// NewEventWriter creates a new EventWriter.
func NewEventWriter(cfg WriterConfig, db *pgxpool.Pool, logger *slog.Logger) *EventWriter {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventWriter{
		cfg:    cfg,
		db:     db,
		logger: logger,
		queue:  NewBuffer[model.Event](cfg.QueueCapacity, cfg.QueueMaxCapacity),
		batch:  make([]eventRow, 0, cfg.BatchSize),
	}
}

// Enqueue queues an event for persistence without blocking. Returns false
// when the event was dropped because the queue is full or the writer has
// stopped.
func (w *EventWriter) Enqueue(ev model.Event) bool {
	err := w.queue.Send(ev)

	w.batchMu.Lock()
	if err != nil {
		w.metrics.Dropped++
	} else {
		w.metrics.Received++
	}
	w.batchMu.Unlock()

	return err == nil
}

// Start begins consuming queued events and writing to the database.
func (w *EventWriter) Start(ctx context.Context) error {
	w.ctx, w.cancel = context.WithCancel(ctx)
	w.flushTicker = time.NewTicker(w.cfg.FlushInterval)

	// Consumer goroutine
	w.wg.Add(1)
	go w.consumeLoop()

	// Flush ticker goroutine
	w.wg.Add(1)
	go w.flushLoop()

	w.logger.Info("event writer started",
		"batch_size", w.cfg.BatchSize,
		"flush_interval", w.cfg.FlushInterval,
	)
	return nil
}

// Stop gracefully shuts down the writer, draining the queue and flushing
// the final batch.
func (w *EventWriter) Stop(ctx context.Context) error {
	w.logger.Info("stopping event writer")

	if w.cancel != nil {
		w.cancel()
	}

	if w.flushTicker != nil {
		w.flushTicker.Stop()
	}

	// Wait for goroutines
	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		w.logger.Warn("event writer stop timed out")
	}

	// Drain whatever is still queued, then flush.
	w.queue.Close()
	if rest := w.queue.DrainTo(0); len(rest) > 0 {
		w.appendBatch(rest)
	}
	w.flush()

	w.logger.Info("event writer stopped")
	return nil
}

// Stats returns current metrics.
func (w *EventWriter) Stats() WriterMetrics {
	w.batchMu.Lock()
	defer w.batchMu.Unlock()
	return w.metrics
}

// QueueStats returns statistics for the inbound event queue.
func (w *EventWriter) QueueStats() BufferStats {
	return w.queue.Stats()
}

// consumeLoop drains the queue and accumulates batches.
func (w *EventWriter) consumeLoop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.ctx.Done():
			return
		default:
			events := w.queue.DrainTo(w.cfg.BatchSize)
			if len(events) == 0 {
				// Queue empty, wait a bit before trying again
				select {
				case <-w.ctx.Done():
					return
				case <-time.After(10 * time.Millisecond):
				}
				continue
			}

			w.appendBatch(events)
		}
	}
}

// flushLoop periodically flushes the batch.
func (w *EventWriter) flushLoop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-w.flushTicker.C:
			w.flush()
		}
	}
}

// appendBatch transforms events onto the batch and flushes at the size
// threshold.
func (w *EventWriter) appendBatch(events []model.Event) {
	w.batchMu.Lock()
	for _, ev := range events {
		w.batch = append(w.batch, w.transform(ev))
	}
	shouldFlush := len(w.batch) >= w.cfg.BatchSize
	w.batchMu.Unlock()

	if shouldFlush {
		w.flush()
	}
}

// transform converts an Event to an eventRow.
func (w *EventWriter) transform(ev model.Event) eventRow {
	var payload []byte
	if len(ev.Payload) > 0 {
		payload = []byte(ev.Payload)
	}
	return eventRow{
		MessageID:  ev.MessageID,
		Endpoint:   ev.Endpoint,
		EventType:  ev.Type,
		Payload:    payload,
		ReceivedAt: ev.ReceivedAt.UTC(),
	}
}

// flush writes the current batch to the database.
func (w *EventWriter) flush() {
	w.batchMu.Lock()
	if len(w.batch) == 0 {
		w.batchMu.Unlock()
		return
	}

	// Take ownership of current batch
	batch := w.batch
	w.batch = make([]eventRow, 0, w.cfg.BatchSize)
	w.batchMu.Unlock()

	start := time.Now()

	conflicts, err := w.batchInsert(batch)
	if err != nil {
		w.logger.Error("batch insert failed", "error", err, "count", len(batch))
		w.batchMu.Lock()
		w.metrics.Errors++
		w.batchMu.Unlock()
		return
	}

	w.batchMu.Lock()
	w.metrics.Written += int64(len(batch) - conflicts)
	w.metrics.Conflicts += int64(conflicts)
	w.metrics.Flushes++
	w.batchMu.Unlock()

	w.logger.Debug("flushed events",
		"count", len(batch),
		"conflicts", conflicts,
		"duration", time.Since(start),
	)
}

// batchInsert inserts rows using pgx.Batch with ON CONFLICT DO NOTHING.
func (w *EventWriter) batchInsert(rows []eventRow) (conflicts int, err error) {
	// Not tied to the run context: the final flush during Stop happens
	// after that context is canceled.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	batch := &pgx.Batch{}
	for _, r := range rows {
		batch.Queue(`
			INSERT INTO events (message_id, endpoint, event_type, payload, received_at)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (message_id) DO NOTHING
		`, r.MessageID, r.Endpoint, r.EventType, r.Payload, r.ReceivedAt)
	}

	results := w.db.SendBatch(ctx, batch)
	defer results.Close()

	for range rows {
		ct, err := results.Exec()
		if err != nil {
			return 0, err
		}
		if ct.RowsAffected() == 0 {
			conflicts++
		}
	}

	return conflicts, nil
}
