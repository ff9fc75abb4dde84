// Package report defines the data model shared by the client, the batching
// pipeline and transports: log records, sealed batches, item references and
// the vocabulary of item types, statuses and log levels understood by the
// reporting service.
package report
