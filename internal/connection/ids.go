package connection

import (
	"math/rand"
	"strconv"
	"sync/atomic"
	"time"
)

// ID formats follow the wire conventions of the upstream dashboards:
// subscriber ids are "ws-sub-{seq}-{rand}", connection ids are
// "ws-{ms}-{rand}" and message ids are "msg-{ms}-{rand}", where {ms} is the
// unix millisecond timestamp in base36 and {rand} is 6 base36 characters.

const base36Digits = "0123456789abcdefghijklmnopqrstuvwxyz"

var subscriberSeq atomic.Int64

func randBase36(n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = base36Digits[rand.Intn(len(base36Digits))]
	}
	return string(b)
}

func msBase36(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 36)
}

// newSubscriberID returns a process-unique subscriber id.
func newSubscriberID() string {
	return "ws-sub-" + strconv.FormatInt(subscriberSeq.Add(1), 10) + "-" + randBase36(6)
}

// newConnectionID returns a fresh id for one successful dial. A connection
// that reconnects gets a new id each time it reaches Open.
func newConnectionID(now time.Time) string {
	return "ws-" + msBase36(now) + "-" + randBase36(6)
}

// NewMessageID returns an id suitable for tagging an event as it enters the
// pipeline.
func NewMessageID(now time.Time) string {
	return "msg-" + msBase36(now) + "-" + randBase36(6)
}
