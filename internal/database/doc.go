// Package database provides the PostgreSQL connection pool for event
// persistence.
//
// The gateway keeps a single pgx pool. The event writer owns the only
// write path (append-only inserts into the events table); the pool is
// also pinged by the health endpoint.
package database
