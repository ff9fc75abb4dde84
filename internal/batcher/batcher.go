// Package batcher coalesces log records into count- and byte-bounded
// batches.
//
// One Batcher owns one open batch guarded by a single mutex; that critical
// section is the pipeline's sole serialization point, so records are sealed
// in the order Offer calls complete even under concurrent producers.
package batcher

import (
	"sync"

	"github.com/rzbill/relay/pkg/report"
)

// Defaults match the reporting service's batch limits: at most 20 records
// per call and just under the 64 MiB multipart request cap.
const (
	DefaultMaxEntries      = 20
	DefaultMaxPayloadBytes = 64*1024*1024*98/100 - report.BatchOverheadBytes
)

// Options bound the open batch.
type Options struct {
	// MaxEntries caps records per batch. Zero means DefaultMaxEntries.
	MaxEntries int
	// MaxPayloadBytes caps the estimated serialized size per batch. Zero
	// means DefaultMaxPayloadBytes.
	MaxPayloadBytes int
}

func (o Options) withDefaults() Options {
	if o.MaxEntries <= 0 {
		o.MaxEntries = DefaultMaxEntries
	}
	if o.MaxPayloadBytes <= 0 {
		o.MaxPayloadBytes = DefaultMaxPayloadBytes
	}
	return o
}

// Batcher accumulates records and emits sealed batches through the onSeal
// callback. onSeal runs while the accumulator lock is held, which is what
// guarantees batches enter the dispatch queue in seal order; it must not
// call back into the Batcher.
type Batcher struct {
	opts   Options
	onSeal func(report.Batch)

	mu   sync.Mutex
	open []report.LogRecord
	size int
	seq  uint64
}

// New returns a Batcher delivering sealed batches to onSeal.
func New(opts Options, onSeal func(report.Batch)) *Batcher {
	return &Batcher{
		opts:   opts.withDefaults(),
		onSeal: onSeal,
		size:   report.BatchOverheadBytes,
	}
}

// Offer adds rec to the open batch, sealing first when the record would
// push the batch past its byte bound, and sealing after when the record
// fills the batch to its entry cap. A record larger than the byte bound on
// its own is never dropped; it ends up alone in a single-record batch.
func (b *Batcher) Offer(rec report.LogRecord) {
	recSize := rec.SizeEstimate()
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.size+recSize >= b.opts.MaxPayloadBytes && len(b.open) > 0 {
		b.sealLocked()
	}
	b.open = append(b.open, rec)
	b.size += recSize
	if len(b.open) >= b.opts.MaxEntries {
		b.sealLocked()
	}
}

// Flush seals the open batch regardless of thresholds. A no-op when the
// batch is empty.
func (b *Batcher) Flush() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.open) > 0 {
		b.sealLocked()
	}
}

// Pending returns the number of records in the open batch.
func (b *Batcher) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.open)
}

func (b *Batcher) sealLocked() {
	b.seq++
	batch := report.Batch{Seq: b.seq, Records: b.open, SizeBytes: b.size}
	b.open = nil
	b.size = report.BatchOverheadBytes
	b.onSeal(batch)
}
