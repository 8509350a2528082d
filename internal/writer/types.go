package writer

import (
	"time"
)

// WriterConfig contains configuration for the event writer.
type WriterConfig struct {
	// BatchSize is the number of rows to accumulate before flushing.
	BatchSize int

	// FlushInterval is the maximum time between flushes.
	FlushInterval time.Duration

	// QueueCapacity is the initial capacity of the inbound event queue.
	QueueCapacity int

	// QueueMaxCapacity bounds queue growth. Events enqueued beyond it
	// are dropped rather than buffered without limit. 0 means unbounded.
	QueueMaxCapacity int
}

// DefaultWriterConfig returns sensible defaults.
func DefaultWriterConfig() WriterConfig {
	return WriterConfig{
		BatchSize:        500,
		FlushInterval:    2 * time.Second,
		QueueCapacity:    1024,
		QueueMaxCapacity: 65536,
	}
}

// eventRow represents a row to be inserted into the events table.
type eventRow struct {
	MessageID  string
	Endpoint   string
	EventType  string
	Payload    []byte // JSONB, nil when the event carried no payload
	ReceivedAt time.Time
}

// WriterMetrics holds metrics for the event writer.
type WriterMetrics struct {
	Received  int64
	Written   int64
	Conflicts int64
	Errors    int64
	Dropped   int64
	Flushes   int64
}
