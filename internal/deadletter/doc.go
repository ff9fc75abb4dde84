// Package deadletter persists batches whose delivery attempt failed.
//
// The store implements the dispatch failure-sink contract: instead of
// dropping a failed batch it writes the records to a local Pebble database,
// keyed by a sortable identifier so listing returns batches in failure
// order. The CLI can later inspect, resend or purge them.
package deadletter
