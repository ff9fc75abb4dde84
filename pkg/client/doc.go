// Package client reports hierarchical test-execution events to a remote
// reporting service: launches, nested test items, log records and
// attachments.
//
// The hard part is not the HTTP calls but the delivery pipeline. Producers
// on any number of goroutines submit log records; a size- and count-bounded
// accumulator coalesces them into batches, and a single background worker
// delivers the batches in the order they were sealed. Submission never
// blocks on the network. Every mutating operation returns a deferred handle
// that callers can await, chain or ignore.
//
// Item identifiers may still be pending when records referencing them are
// submitted; substitution happens at send time without disturbing record
// order. The per-context LIFO stack supplies the implicit "current item"
// for records submitted without an explicit target.
package client
