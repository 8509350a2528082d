// Package metrics exposes gateway statistics in Prometheus text format.
//
// Components register named Source functions; the collector snapshots
// them on each scrape and encodes one gauge family per stat, labeled
// with the gateway instance id. Key metrics:
//   - connection registry: open connections, messages, reconnects
//   - router: bindings, routed and unmatched events
//   - writer: inserts, conflicts, queue depth
//   - bridge: published events, errors, drops
package metrics
