// Package writer implements the batched Postgres event writer.
//
// Pipeline:
//   - Enqueue never blocks: a growable ring buffer absorbs bursts
//   - A consumer goroutine drains the queue into insert batches
//   - A flush ticker bounds write latency when traffic is sparse
//
// Writes are append-only (never update, only insert). Duplicate message
// ids are ignored with ON CONFLICT DO NOTHING, so events redelivered
// after a reconnect de-duplicate at the database.
package writer
