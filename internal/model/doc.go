// Package model defines the shared data types of the streamgate pipeline.
//
// Conventions:
//   - Timestamps: time.Time in UTC, serialized as RFC 3339
//   - Message ids: "msg-{base36 millis}-{random}" assigned at ingest
//   - Payloads: raw JSON, passed through without re-encoding
package model
